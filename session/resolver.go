package session

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/srg/bluart/internal/gatt"
	"github.com/srg/bluart/internal/uartdb"
)

// Channels is the outcome of capability negotiation: the characteristics
// the session will use for each direction, and the negotiated transfer
// unit. Either direction may be missing on a degraded session; Write and
// Notify may be the same characteristic on single-pipe services such as
// the HM-10.
type Channels struct {
	Write  gatt.Characteristic
	Notify gatt.Characteristic
	// MTU is the transfer unit in effect after negotiation, which is the
	// pre-existing one when the exchange fails.
	MTU int
	// WriteNoRsp records that outbound traffic uses unacknowledged writes.
	WriteNoRsp bool
	// SubscribeErr is set when the notify channel was resolved but the
	// subscription failed, leaving the session send-only.
	SubscribeErr error
}

// Directions reports which ways data can flow. Safe on a nil receiver.
func (ch *Channels) Directions() (send, receive bool) {
	if ch == nil {
		return false, false
	}
	return ch.Write != nil, ch.Notify != nil
}

// resolveChannels inspects the discovered services and picks the UART
// channels. Characteristics from known serial services win over plain
// capability matches, so a device that also exposes, say, a writable DFU
// characteristic still talks over its Nordic UART pair.
//
// A failed transfer-unit exchange is not fatal: the link keeps whatever
// unit it already had. Finding neither a writable nor a notifiable
// characteristic is.
func resolveChannels(link gatt.Link, mtuTarget int, logger *logrus.Entry) (*Channels, error) {
	services := link.Services()

	mtu, err := link.NegotiateMTU(mtuTarget)
	if err != nil {
		logger.WithError(err).WithField("mtu", mtu).Warn("Transfer unit negotiation failed, keeping current")
	}

	write := firstKnown(services, uartdb.RoleWrite)
	if write == nil {
		write = firstWritable(services)
	}
	notify := firstKnown(services, uartdb.RoleNotify)
	if notify == nil {
		notify = firstNotifying(services)
	}

	if write == nil && notify == nil {
		return nil, gatt.SessionFailure(gatt.FailNoUsableChannel,
			fmt.Errorf("no writable or notifiable characteristic among %d services", len(services)))
	}

	ch := &Channels{Write: write, Notify: notify, MTU: mtu}
	if write != nil {
		// Prefer unacknowledged writes when the characteristic offers
		// them; serial traffic values throughput over per-frame acks.
		ch.WriteNoRsp = write.Properties().WriteWithoutResponse() != nil
		logger.WithFields(logrus.Fields{
			"characteristic": write.UUID(),
			"name":           write.KnownName(),
			"withResponse":   !ch.WriteNoRsp,
		}).Debug("Resolved write channel")
	}
	if notify != nil {
		logger.WithFields(logrus.Fields{
			"characteristic": notify.UUID(),
			"name":           notify.KnownName(),
		}).Debug("Resolved notify channel")
	}
	return ch, nil
}

// firstKnown returns the first characteristic registered in the serial
// service database with the given role. Services arrive sorted by UUID,
// so the choice is deterministic.
func firstKnown(services []gatt.Service, role uartdb.Role) gatt.Characteristic {
	for _, svc := range services {
		for _, char := range svc.Characteristics() {
			if uartdb.CharacteristicRole(char.UUID())&role != 0 {
				return char
			}
		}
	}
	return nil
}

func firstWritable(services []gatt.Service) gatt.Characteristic {
	for _, svc := range services {
		for _, char := range svc.Characteristics() {
			props := char.Properties()
			if props.Write() != nil || props.WriteWithoutResponse() != nil {
				return char
			}
		}
	}
	return nil
}

func firstNotifying(services []gatt.Service) gatt.Characteristic {
	for _, svc := range services {
		for _, char := range svc.Characteristics() {
			props := char.Properties()
			if props.Notify() != nil || props.Indicate() != nil {
				return char
			}
		}
	}
	return nil
}
