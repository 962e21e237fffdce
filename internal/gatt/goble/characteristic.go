package goble

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/srg/bluart/internal/gatt"
	"github.com/srg/bluart/internal/uartdb"
)

// ----------------------------
// BLE Characteristic
// ----------------------------

// BLECharacteristic is a live characteristic handle. Instances belong to
// the link that discovered them and are not reused across connections.
type BLECharacteristic struct {
	uuid      string
	knownName string
	props     gatt.Properties
	bleChar   *ble.Characteristic
	link      *BLELink

	mu        sync.RWMutex
	value     []byte
	handler   gatt.NotifyHandler
	notifying bool
	indicate  bool
}

func newCharacteristic(c *ble.Characteristic, link *BLELink) *BLECharacteristic {
	rawUUID := c.UUID.String()

	return &BLECharacteristic{
		uuid:      gatt.NormalizeUUID(rawUUID), // store normalized
		knownName: uartdb.CharacteristicName(rawUUID),
		props:     NewProperties(c.Property),
		bleChar:   c,
		link:      link,
	}
}

func (c *BLECharacteristic) UUID() string {
	return c.uuid
}

func (c *BLECharacteristic) KnownName() string {
	return c.knownName
}

func (c *BLECharacteristic) Properties() gatt.Properties {
	return c.props
}

// Value returns the last value seen for this characteristic, nil if none.
// The returned slice must not be modified.
func (c *BLECharacteristic) Value() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

func (c *BLECharacteristic) setValue(data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)
	c.mu.Lock()
	c.value = buf
	c.mu.Unlock()
}

// handleNotification caches the payload and hands it to the installed
// handler. The slice passed on is the transport's own buffer, valid only
// for the duration of the call.
func (c *BLECharacteristic) handleNotification(data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)

	c.mu.Lock()
	c.value = buf
	h := c.handler
	c.mu.Unlock()

	if h != nil {
		h(data)
	}
}

// Read reads the current value from the peripheral. A timeout at or below
// zero falls back to DefaultReadTimeout so an unresponsive peripheral
// cannot block the caller indefinitely.
func (c *BLECharacteristic) Read(timeout time.Duration) ([]byte, error) {
	if c.bleChar == nil {
		return nil, fmt.Errorf("characteristic %s not initialized", c.uuid)
	}
	if c.props.Read() == nil {
		return nil, fmt.Errorf("characteristic %s does not support read operations: %w", c.uuid, gatt.ErrUnsupported)
	}

	client, err := c.link.clientSnapshot()
	if err != nil {
		return nil, fmt.Errorf("not connected to peripheral (characteristic %s): %w", c.uuid, err)
	}

	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}

	type readResult struct {
		data []byte
		err  error
	}
	resultCh := make(chan readResult, 1)

	go func() {
		data, err := client.ReadCharacteristic(c.bleChar)
		resultCh <- readResult{data: data, err: err}
	}()

	select {
	case result := <-resultCh:
		if result.err != nil {
			return nil, fmt.Errorf("failed to read characteristic %s: %w", c.uuid, gatt.NormalizeError(result.err))
		}
		c.setValue(result.data)
		return result.data, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("timeout reading characteristic %s after %v: %w", c.uuid, timeout, gatt.ErrTimeout)
	}
}

// Write sends data in a single ATT write. Payloads have to fit the link's
// negotiated transfer unit; fragmenting belongs to the layer above. When
// the requested write mode is not in the characteristic's capability set
// but the other one is, the write degrades to the supported mode.
func (c *BLECharacteristic) Write(data []byte, withResponse bool, timeout time.Duration) error {
	if c.bleChar == nil {
		return fmt.Errorf("characteristic %s not initialized", c.uuid)
	}

	acked := c.props.Write() != nil
	unacked := c.props.WriteWithoutResponse() != nil
	if !acked && !unacked {
		return fmt.Errorf("characteristic %s does not support write operations: %w", c.uuid, gatt.ErrUnsupported)
	}
	if withResponse && !acked {
		withResponse = false
	} else if !withResponse && !unacked {
		withResponse = true
	}

	client, err := c.link.clientSnapshot()
	if err != nil {
		return fmt.Errorf("not connected to peripheral (characteristic %s): %w", c.uuid, err)
	}

	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}

	done := make(chan error, 1)
	go func() {
		// Serialize writes across the whole link
		c.link.writeMu.Lock()
		defer c.link.writeMu.Unlock()
		done <- client.WriteCharacteristic(c.bleChar, data, !withResponse)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to write characteristic %s: %w", c.uuid, gatt.NormalizeError(err))
		}
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout writing characteristic %s after %v: %w", c.uuid, timeout, gatt.ErrTimeout)
	}
}

// Subscribe enables notifications (indicate selects the acknowledged mode)
// and installs the handler. One handler is active per characteristic. A
// requested mode the characteristic does not advertise degrades to the
// one it does.
func (c *BLECharacteristic) Subscribe(indicate bool, h gatt.NotifyHandler) error {
	if h == nil {
		return fmt.Errorf("no handler specified for characteristic %s subscription", c.uuid)
	}
	if c.bleChar == nil {
		return fmt.Errorf("characteristic %s not initialized", c.uuid)
	}

	canNotify := c.props.Notify() != nil
	canIndicate := c.props.Indicate() != nil
	if !canNotify && !canIndicate {
		return fmt.Errorf("characteristic %s does not support notifications: %w", c.uuid, gatt.ErrUnsupported)
	}
	if indicate && !canIndicate {
		indicate = false
	} else if !indicate && !canNotify {
		indicate = true
	}

	client, err := c.link.clientSnapshot()
	if err != nil {
		return fmt.Errorf("not connected to peripheral (characteristic %s): %w", c.uuid, err)
	}

	c.mu.Lock()
	if c.notifying {
		c.mu.Unlock()
		return fmt.Errorf("characteristic %s already subscribed", c.uuid)
	}
	// Install before the transport call: backends may deliver the first
	// notification from inside Subscribe.
	c.handler = h
	c.indicate = indicate
	c.mu.Unlock()

	if err := gatt.NormalizeError(client.Subscribe(c.bleChar, indicate, c.handleNotification)); err != nil {
		c.mu.Lock()
		c.handler = nil
		c.mu.Unlock()
		return fmt.Errorf("failed to subscribe to characteristic %s: %w", c.uuid, err)
	}

	c.mu.Lock()
	c.notifying = true
	c.mu.Unlock()
	return nil
}

// Unsubscribe disables notifications and removes the handler. Trying the
// opposite mode on failure covers peripherals that track the subscription
// under the other configuration bit.
func (c *BLECharacteristic) Unsubscribe() error {
	if c.bleChar == nil {
		return fmt.Errorf("characteristic %s not initialized", c.uuid)
	}

	c.mu.Lock()
	if !c.notifying {
		c.mu.Unlock()
		return nil
	}
	indicate := c.indicate
	c.notifying = false
	c.handler = nil
	c.mu.Unlock()

	client, err := c.link.clientSnapshot()
	if err != nil {
		// Link already gone, local bookkeeping is all that is left
		return nil
	}

	err1 := gatt.NormalizeError(client.Unsubscribe(c.bleChar, indicate))
	if err1 == nil {
		return nil
	}
	err2 := gatt.NormalizeError(client.Unsubscribe(c.bleChar, !indicate))
	if err2 == nil {
		return nil
	}
	return fmt.Errorf("failed to unsubscribe from characteristic %s: %v, %v", c.uuid, err1, err2)
}

func (c *BLECharacteristic) Notifying() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.notifying
}

// clearSubscription drops local subscription state without touching the
// remote side. Used by link teardown, which unsubscribes in bulk.
func (c *BLECharacteristic) clearSubscription() {
	c.mu.Lock()
	c.handler = nil
	c.notifying = false
	c.mu.Unlock()
}
