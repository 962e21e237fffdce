package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Favorite is one pinned device.
type Favorite struct {
	Address string `yaml:"address"`
	Name    string `yaml:"name,omitempty"`
}

// Favorites is a YAML-backed store of pinned devices. Mutations persist
// immediately. Addresses compare case-insensitively; the stored form is
// whatever was first added.
type Favorites struct {
	mu      sync.Mutex
	path    string
	entries []Favorite
}

// OpenFavorites loads the store at path, which may not exist yet.
func OpenFavorites(path string) (*Favorites, error) {
	f := &Favorites{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return f, nil
		}
		return nil, fmt.Errorf("reading favorites: %w", err)
	}
	if err := yaml.Unmarshal(data, &f.entries); err != nil {
		return nil, fmt.Errorf("parsing favorites: %w", err)
	}
	return f, nil
}

// Add pins a device. Re-adding an existing address updates its name.
func (f *Favorites) Add(address, name string) error {
	if address == "" {
		return fmt.Errorf("address is empty")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.entries {
		if strings.EqualFold(f.entries[i].Address, address) {
			f.entries[i].Name = name
			return f.save()
		}
	}
	f.entries = append(f.entries, Favorite{Address: address, Name: name})
	return f.save()
}

// Remove unpins a device and reports whether it was present.
func (f *Favorites) Remove(address string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.entries {
		if strings.EqualFold(f.entries[i].Address, address) {
			f.entries = append(f.entries[:i], f.entries[i+1:]...)
			return true, f.save()
		}
	}
	return false, nil
}

// Contains reports whether the address is pinned.
func (f *Favorites) Contains(address string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.entries {
		if strings.EqualFold(f.entries[i].Address, address) {
			return true
		}
	}
	return false
}

// List returns a snapshot of the pinned devices in pin order.
func (f *Favorites) List() []Favorite {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Favorite, len(f.entries))
	copy(out, f.entries)
	return out
}

// save persists the entries. Callers hold f.mu.
func (f *Favorites) save() error {
	data, err := yaml.Marshal(f.entries)
	if err != nil {
		return fmt.Errorf("encoding favorites: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(f.path, data, 0o644); err != nil {
		return fmt.Errorf("writing favorites: %w", err)
	}
	return nil
}
