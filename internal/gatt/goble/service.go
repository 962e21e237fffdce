package goble

import (
	"sort"

	"github.com/srg/bluart/internal/gatt"
)

// ----------------------------
// BLE Service
// ----------------------------

// BLEService is a discovered GATT service and its characteristics.
type BLEService struct {
	uuid      string
	knownName string
	primary   bool
	chars     map[string]*BLECharacteristic
}

func (s *BLEService) UUID() string {
	return s.uuid
}

func (s *BLEService) KnownName() string {
	return s.knownName
}

func (s *BLEService) Primary() bool {
	return s.primary
}

func (s *BLEService) Characteristics() []gatt.Characteristic {
	result := make([]gatt.Characteristic, 0, len(s.chars))
	for _, char := range s.chars {
		result = append(result, char)
	}
	// Sort by UUID for consistent ordering
	sort.Slice(result, func(i, j int) bool {
		return result[i].UUID() < result[j].UUID()
	})
	return result
}
