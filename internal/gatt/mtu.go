package gatt

// ATT transfer unit bounds (Bluetooth core spec Vol 3, Part F).
const (
	// MinMTU is the default ATT_MTU every link starts at.
	MinMTU = 23

	// MaxMTU is the largest ATT_MTU the protocol can express.
	MaxMTU = 517

	// attHeader is the opcode plus handle overhead of a single write PDU.
	attHeader = 3
)

// ClampMTU bounds a negotiated transfer unit to what ATT can express.
func ClampMTU(mtu int) int {
	if mtu < MinMTU {
		return MinMTU
	}
	if mtu > MaxMTU {
		return MaxMTU
	}
	return mtu
}

// WriteCapacity returns the payload bytes a single write carries at the
// given transfer unit.
func WriteCapacity(mtu int) int {
	return ClampMTU(mtu) - attHeader
}
