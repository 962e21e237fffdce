// Package uartdb is the registry of UART-over-GATT conventions. Serial
// bridges over BLE are vendor folklore rather than a SIG standard, so the
// tables here are curated by hand: each entry names a service family and
// assigns transport roles to its characteristics from the central's point
// of view (write = commands out, notify = device traffic in). A small
// table of core SIG services rides along so discovery output can name the
// plumbing every peripheral carries.
package uartdb

import "strings"

// Role describes how a characteristic participates in a UART convention.
// Some modules (HM-10 style) use a single characteristic for both sides.
type Role uint8

const (
	RoleNone   Role = 0
	RoleWrite  Role = 1 << 0
	RoleNotify Role = 1 << 1
)

func (r Role) CanWrite() bool  { return r&RoleWrite != 0 }
func (r Role) CanNotify() bool { return r&RoleNotify != 0 }

func (r Role) String() string {
	switch {
	case r.CanWrite() && r.CanNotify():
		return "write+notify"
	case r.CanWrite():
		return "write"
	case r.CanNotify():
		return "notify"
	default:
		return "none"
	}
}

// sigBaseSuffix is the tail of the Bluetooth SIG base UUID
// 0000xxxx-0000-1000-8000-00805f9b34fb in normalized (dashless) form.
const sigBaseSuffix = "00001000800000805f9b34fb"

// NormalizeUUID lowercases a UUID, strips dashes, and collapses UUIDs built
// on the SIG base into their 16-bit short form ("0000ffe0-..." -> "ffe0").
func NormalizeUUID(uuid string) string {
	u := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(uuid), "-", ""))
	if len(u) == 32 && strings.HasPrefix(u, "0000") && strings.HasSuffix(u, sigBaseSuffix) {
		return u[4:8]
	}
	return u
}

// NormalizeUUIDs normalizes a slice in place-order, returning a new slice.
func NormalizeUUIDs(uuids []string) []string {
	if uuids == nil {
		return nil
	}
	out := make([]string, len(uuids))
	for i, u := range uuids {
		out[i] = NormalizeUUID(u)
	}
	return out
}

type serviceEntry struct {
	name  string
	chars map[string]charEntry
}

type charEntry struct {
	name string
	role Role
}

// services maps normalized service UUIDs to their UART convention.
var services = map[string]serviceEntry{
	// Nordic UART Service (NUS), also cloned by most ESP32 firmwares.
	"6e400001b5a3f393e0a9e50e24dcca9e": {
		name: "Nordic UART Service",
		chars: map[string]charEntry{
			"6e400002b5a3f393e0a9e50e24dcca9e": {"Nordic UART RX", RoleWrite},
			"6e400003b5a3f393e0a9e50e24dcca9e": {"Nordic UART TX", RoleNotify},
		},
	},
	// HM-10 / TI CC254x family: one characteristic carries both directions.
	"ffe0": {
		name: "HM-10 Serial Service",
		chars: map[string]charEntry{
			"ffe1": {"HM-10 Serial", RoleWrite | RoleNotify},
		},
	},
	// Microchip RN4870/BM70 Transparent UART.
	"49535343fe7d4ae58fa99fafd205e455": {
		name: "Microchip Transparent UART",
		chars: map[string]charEntry{
			"49535343884143f4a8d4ecbe34729bb3": {"Transparent UART RX", RoleWrite},
			"495353431e4d4bd9ba6123c647249616": {"Transparent UART TX", RoleNotify},
		},
	},
	// u-blox Serial Port Service: a single FIFO characteristic.
	"2456e1b926e28f83e744f34f01e9d701": {
		name: "u-blox Serial Port Service",
		chars: map[string]charEntry{
			"2456e1b926e28f83e744f34f01e9d703": {"SPS FIFO", RoleWrite | RoleNotify},
		},
	},
}

// core names the SIG-assigned services every peripheral tends to expose.
// These carry no UART roles; they exist so discovery output is readable.
var core = map[string]serviceEntry{
	"1800": {
		name: "Generic Access",
		chars: map[string]charEntry{
			"2a00": {name: "Device Name"},
			"2a01": {name: "Appearance"},
		},
	},
	"1801": {
		name: "Generic Attribute",
		chars: map[string]charEntry{
			"2a05": {name: "Service Changed"},
		},
	},
	"180a": {
		name: "Device Information",
		chars: map[string]charEntry{
			"2a24": {name: "Model Number String"},
			"2a26": {name: "Firmware Revision String"},
			"2a29": {name: "Manufacturer Name String"},
		},
	},
	"180f": {
		name: "Battery Service",
		chars: map[string]charEntry{
			"2a19": {name: "Battery Level"},
		},
	},
}

// chars is the flat characteristic index, built from both tables at init.
var chars = func() map[string]charEntry {
	m := make(map[string]charEntry)
	for _, svc := range services {
		for uuid, c := range svc.chars {
			m[uuid] = c
		}
	}
	for _, svc := range core {
		for uuid, c := range svc.chars {
			m[uuid] = c
		}
	}
	return m
}()

// IsUARTService reports whether the UUID belongs to a known UART convention.
func IsUARTService(uuid string) bool {
	_, ok := services[NormalizeUUID(uuid)]
	return ok
}

// ServiceName returns the known name for a service UUID, "" otherwise.
func ServiceName(uuid string) string {
	u := NormalizeUUID(uuid)
	if svc, ok := services[u]; ok {
		return svc.name
	}
	return core[u].name
}

// CharacteristicName returns the known name for a characteristic UUID,
// "" otherwise.
func CharacteristicName(uuid string) string {
	return chars[NormalizeUUID(uuid)].name
}

// CharacteristicRole returns the transport role a known UART characteristic
// plays, RoleNone for characteristics outside the tables.
func CharacteristicRole(uuid string) Role {
	return chars[NormalizeUUID(uuid)].role
}
