package goble

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/bluart/internal/gatt"
	"github.com/srg/bluart/internal/groutine"
	"github.com/srg/bluart/internal/uartdb"
)

// ----------------------------
// Configuration Constants
// ----------------------------

const (
	// DefaultReadTimeout bounds characteristic reads when the caller does
	// not supply its own limit.
	DefaultReadTimeout = 5 * time.Second

	// DefaultWriteTimeout bounds characteristic writes when the caller
	// does not supply its own limit.
	DefaultWriteTimeout = 5 * time.Second
)

// mtuExchanger is implemented by clients that support ATT MTU exchange.
// Not every platform backend does, so the capability is probed at runtime.
type mtuExchanger interface {
	ExchangeMTU(rxMTU int) (txMTU int, err error)
}

// linkLossReporter is implemented by clients that surface transport-level
// disconnects (CoreBluetooth does, some backends do not).
type linkLossReporter interface {
	Disconnected() <-chan struct{}
}

// ----------------------------
// BLE Link
// ----------------------------

// BLELink is a live GATT connection: discovery results, the negotiated
// transfer unit, notifications and writes.
type BLELink struct {
	client     ble.Client
	logger     *logrus.Logger
	writeMu    sync.Mutex
	linkMu     sync.RWMutex
	connected  bool
	connecting bool
	mtu        int

	services map[string]*BLEService

	ctx    context.Context
	cancel context.CancelCauseFunc
}

func NewLink(logger *logrus.Logger) *BLELink {
	return &BLELink{
		services: make(map[string]*BLEService),
		mtu:      gatt.MinMTU,
		ctx:      context.Background(),
		logger:   logger,
	}
}

// Connect dials the peripheral and populates live services and
// characteristics from profile discovery.
func (l *BLELink) Connect(ctx context.Context, address string, opts *gatt.ConnectOptions) error {
	if strings.TrimSpace(address) == "" {
		l.logger.Error("Connection attempt with empty address")
		return fmt.Errorf("peripheral address is empty")
	}

	// Reserve the link, then release the lock for the slow part: dial and
	// discovery can run up to the connect timeout, and status queries
	// (IsConnected, Services, Disconnected) must stay responsive meanwhile.
	l.linkMu.Lock()
	if l.isConnectedInternal() || l.connecting {
		l.linkMu.Unlock()
		l.logger.WithField("address", address).Warn("Connection attempt while already connected")
		return gatt.ErrAlreadyConnected
	}
	l.connecting = true
	l.linkMu.Unlock()
	defer func() {
		l.linkMu.Lock()
		l.connecting = false
		l.linkMu.Unlock()
	}()

	l.logger.WithFields(logrus.Fields{
		"address": address,
		"timeout": opts.ConnectTimeout,
	}).Info("Connecting to peripheral...")

	// Create a BLE device using the factory (allows for mocking in tests)
	dev, err := DeviceFactory()
	if err != nil {
		l.logger.WithField("error", err).Error("Failed to create BLE device")
		return fmt.Errorf("failed to create BLE device: %w", err)
	}
	ble.SetDefaultDevice(dev)

	connCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	l.logger.WithField("address", address).Debug("Dialing peripheral...")
	client, err := ble.Dial(connCtx, ble.NewAddr(address))
	if err != nil {
		l.logger.WithFields(logrus.Fields{
			"address": address,
			"error":   err,
		}).Error("Failed to dial peripheral")
		return fmt.Errorf("failed to connect to peripheral with address %q: %w", address, err)
	}

	l.logger.WithField("address", address).Debug("Discovering services and characteristics...")
	profile, err := client.DiscoverProfile(true)
	if err != nil {
		l.logger.WithFields(logrus.Fields{
			"address": address,
			"error":   err,
		}).Error("Failed to discover profile")
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			l.logger.WithField("cancel_error", cancelErr).Warn("Failed to cancel connection during profile discovery failure")
		}
		return fmt.Errorf("failed to discover profile: %w", err)
	}

	l.logger.WithFields(logrus.Fields{
		"address":  address,
		"services": len(profile.Services),
	}).Debug("Profile discovered successfully")

	services := make(map[string]*BLEService, len(profile.Services))
	for _, bleSvc := range profile.Services {
		svcRawUUID := bleSvc.UUID.String()
		svcUUID := gatt.NormalizeUUID(svcRawUUID)
		l.logger.WithField("service_uuid", svcRawUUID).Debug("Found service UUID")
		svc, ok := services[svcUUID]
		if !ok {
			svc = &BLEService{
				uuid:      svcUUID, // store normalized
				knownName: uartdb.ServiceName(svcRawUUID),
				primary:   true,
				chars:     make(map[string]*BLECharacteristic),
			}
			services[svcUUID] = svc
		}

		for _, bleChar := range bleSvc.Characteristics {
			charRawUUID := bleChar.UUID.String()
			charUUID := gatt.NormalizeUUID(charRawUUID)
			l.logger.WithFields(logrus.Fields{
				"service_uuid": svcUUID,
				"char_uuid":    charRawUUID,
			}).Debug("Found characteristic UUID")
			if _, ok := svc.chars[charUUID]; !ok {
				svc.chars[charUUID] = newCharacteristic(bleChar, l)
			}
		}
	}

	// Commit under the lock. The connecting guard kept competing Connect
	// calls out, so nothing established a link in the meantime.
	l.linkMu.Lock()
	l.client = client
	l.connected = true
	l.services = services

	// Derive the link context from the caller's to tie lifecycles together.
	// WithCancelCause propagates the teardown reason to watchers.
	linkCtx, cancelCause := context.WithCancelCause(ctx)
	l.ctx, l.cancel = linkCtx, cancelCause
	l.linkMu.Unlock()

	// Watch the transport's own disconnect signal where the backend has one
	// and fold it into the link context so watchers see out-of-band loss.
	if reporter, ok := client.(linkLossReporter); ok {
		groutine.Go(context.Background(), "ble-link-monitor", func(context.Context) {
			select {
			case <-reporter.Disconnected():
				if l.logger != nil {
					l.logger.Warn("Transport reported link loss, cancelling link context")
				}
				cancelCause(gatt.ErrNotConnected)
			case <-linkCtx.Done():
			}
		})
	} else if l.logger != nil {
		l.logger.Debug("Transport does not report link loss")
	}

	totalChars := 0
	for _, svc := range services {
		totalChars += len(svc.chars)
	}

	l.logger.WithFields(logrus.Fields{
		"address":         address,
		"services":        len(services),
		"characteristics": totalChars,
	}).Info("Peripheral connected successfully")
	return nil
}

// Disconnect tears the link down: cancels the link context, clears remote
// subscriptions best-effort and drops the transport connection.
func (l *BLELink) Disconnect() error {
	l.linkMu.Lock()
	if l.client == nil || !l.connected {
		l.linkMu.Unlock()
		if l.logger != nil {
			l.logger.Debug("Disconnect called but already disconnected")
		}
		return nil
	}

	if l.logger != nil {
		l.logger.WithFields(logrus.Fields{
			"link_ptr": fmt.Sprintf("%p", l),
			"services": len(l.services),
		}).Info("Disconnecting peripheral...")
	}

	// Grab client and cancel func to release the lock before network calls
	client := l.client
	cancel := l.cancel

	servicesCopy := make(map[string]*BLEService, len(l.services))
	for k, v := range l.services {
		servicesCopy[k] = v
	}

	l.client = nil
	l.cancel = nil
	l.connected = false
	l.linkMu.Unlock()

	if l.logger != nil {
		l.logger.Debug("Link state transitioned to disconnected")
	}

	if cancel != nil {
		cancel(nil) // normal teardown, no error cause
	}

	if l.logger != nil {
		l.logger.Debug("Unsubscribing from remote notifications...")
	}
	unsubscribeErrors := l.unsubscribeAll(client, servicesCopy)
	if len(unsubscribeErrors) > 0 && l.logger != nil {
		l.logger.WithField("errors", strings.Join(unsubscribeErrors, "; ")).Warn("Failed to unsubscribe from some characteristics during disconnect")
	}

	var disconnectErr error
	if client != nil {
		disconnectErr = client.CancelConnection()
	}

	if l.logger != nil {
		if disconnectErr != nil {
			l.logger.WithField("error", disconnectErr).Warn("Peripheral disconnected with errors")
		} else {
			l.logger.Info("Peripheral disconnected successfully")
		}
	}

	return disconnectErr
}

// isConnectedInternal checks the link status without acquiring locks.
// Should only be called when the caller already holds linkMu.
func (l *BLELink) isConnectedInternal() bool {
	return l.client != nil && l.connected
}

func (l *BLELink) IsConnected() bool {
	l.linkMu.RLock()
	defer l.linkMu.RUnlock()
	return l.isConnectedInternal()
}

// clientSnapshot returns the live client or an error when the link is down.
func (l *BLELink) clientSnapshot() (ble.Client, error) {
	l.linkMu.RLock()
	defer l.linkMu.RUnlock()
	if !l.isConnectedInternal() {
		return nil, gatt.ErrNotConnected
	}
	return l.client, nil
}

// Disconnected is closed when the link context ends, either by local
// teardown or because the transport reported loss out of band.
func (l *BLELink) Disconnected() <-chan struct{} {
	l.linkMu.RLock()
	defer l.linkMu.RUnlock()
	return l.ctx.Done()
}

// NegotiateMTU requests the ATT transfer unit toward target. The returned
// value is the unit actually in effect: on failure the link keeps what it
// had and reports the cause, callers work with the returned unit either way.
func (l *BLELink) NegotiateMTU(target int) (int, error) {
	l.linkMu.RLock()
	if !l.isConnectedInternal() {
		mtu := l.mtu
		l.linkMu.RUnlock()
		return mtu, gatt.ErrNotConnected
	}
	client := l.client
	l.linkMu.RUnlock()

	if target <= 0 {
		target = gatt.MaxMTU
	}
	target = gatt.ClampMTU(target)

	ex, ok := client.(mtuExchanger)
	if !ok {
		if l.logger != nil {
			l.logger.Debug("Transport does not support MTU exchange, keeping current unit")
		}
		return l.MTU(), fmt.Errorf("mtu exchange: %w", gatt.ErrUnsupported)
	}

	txMTU, err := ex.ExchangeMTU(target)
	if err != nil {
		if l.logger != nil {
			l.logger.WithFields(logrus.Fields{
				"target": target,
				"error":  err,
			}).Warn("MTU exchange failed, keeping current unit")
		}
		return l.MTU(), gatt.NormalizeError(err)
	}

	l.linkMu.Lock()
	l.mtu = gatt.ClampMTU(txMTU)
	mtu := l.mtu
	l.linkMu.Unlock()

	if l.logger != nil {
		l.logger.WithFields(logrus.Fields{
			"target": target,
			"mtu":    mtu,
		}).Debug("MTU negotiated")
	}
	return mtu, nil
}

func (l *BLELink) MTU() int {
	l.linkMu.RLock()
	defer l.linkMu.RUnlock()
	return l.mtu
}

// Services returns all discovered services sorted by UUID.
func (l *BLELink) Services() []gatt.Service {
	l.linkMu.RLock()
	defer l.linkMu.RUnlock()

	result := make([]gatt.Service, 0, len(l.services))
	for _, v := range l.services {
		result = append(result, v)
	}
	// Sort by UUID for consistent ordering
	sort.Slice(result, func(i, j int) bool {
		return result[i].UUID() < result[j].UUID()
	})
	return result
}

// Service retrieves a service by UUID, normalized for consistent lookup.
// Returns a NotFoundError if the service is not found.
func (l *BLELink) Service(uuid string) (gatt.Service, error) {
	l.linkMu.RLock()
	defer l.linkMu.RUnlock()

	svc, ok := l.services[gatt.NormalizeUUID(uuid)]
	if !ok {
		return nil, &gatt.NotFoundError{Resource: "service", UUIDs: []string{uuid}}
	}
	return svc, nil
}

// Characteristic retrieves a characteristic by service and characteristic
// UUID. Both UUIDs are normalized for consistent lookup.
func (l *BLELink) Characteristic(serviceUUID, charUUID string) (gatt.Characteristic, error) {
	l.linkMu.RLock()
	defer l.linkMu.RUnlock()

	svc, ok := l.services[gatt.NormalizeUUID(serviceUUID)]
	if !ok {
		return nil, &gatt.NotFoundError{Resource: "service", UUIDs: []string{serviceUUID}}
	}

	char, ok := svc.chars[gatt.NormalizeUUID(charUUID)]
	if !ok {
		return nil, &gatt.NotFoundError{Resource: "characteristic", UUIDs: []string{serviceUUID, charUUID}}
	}
	return char, nil
}

// tryUnsubscribe tears down a characteristic subscription using both notify
// and indicate modes. Returns an error only when both fail.
func (l *BLELink) tryUnsubscribe(client ble.Client, char *BLECharacteristic, serviceUUID, charUUID string) error {
	if char.bleChar == nil {
		return nil
	}

	err1 := gatt.NormalizeError(client.Unsubscribe(char.bleChar, false)) // notify
	err2 := gatt.NormalizeError(client.Unsubscribe(char.bleChar, true))  // indicate

	if err1 != nil && err2 != nil {
		if l.logger != nil {
			l.logger.WithFields(logrus.Fields{
				"serviceUUID": serviceUUID,
				"charUUID":    charUUID,
				"notifyErr":   err1,
				"indicateErr": err2,
			}).Error("Failed to unsubscribe from characteristic notifications")
		}
		return fmt.Errorf("%s: notify=%v, indicate=%v", charUUID, err1, err2)
	}

	if l.logger != nil {
		l.logger.WithFields(logrus.Fields{
			"serviceUUID": serviceUUID,
			"charUUID":    charUUID,
		}).Debug("Unsubscribed from characteristic notifications")
	}
	return nil
}

// unsubscribeAll clears remote subscriptions for every characteristic that
// is still notifying. Returns messages for the ones that failed.
// Should be called without holding locks.
func (l *BLELink) unsubscribeAll(client ble.Client, services map[string]*BLEService) []string {
	var errs []string

	if client == nil {
		return errs
	}

	for serviceUUID, service := range services {
		for charUUID, char := range service.chars {
			if !char.Notifying() {
				continue
			}
			char.clearSubscription()
			if err := l.tryUnsubscribe(client, char, serviceUUID, charUUID); err != nil {
				errs = append(errs, fmt.Sprintf("%s (in service %s): %v", charUUID, serviceUUID, err))
			}
		}
	}

	return errs
}
