package gatt

import (
	"fmt"

	"github.com/srg/bluart/internal/uartdb"
)

// NormalizeUUID brings a UUID into canonical form, see uartdb.NormalizeUUID.
func NormalizeUUID(uuid string) string {
	return uartdb.NormalizeUUID(uuid)
}

// NormalizeUUIDs normalizes a list of UUIDs.
func NormalizeUUIDs(uuids []string) []string {
	return uartdb.NormalizeUUIDs(uuids)
}

// ShortenUUID trims long UUIDs to their leading 8 hex digits for display.
func ShortenUUID(uuid string) string {
	if len(uuid) > 8 {
		return uuid[:8]
	}
	return uuid
}

// ValidateUUID normalizes the given UUIDs and rejects anything that is not
// a 16-, 32- or 128-bit hex identifier.
func ValidateUUID(uuids ...string) ([]string, error) {
	out := make([]string, 0, len(uuids))
	for _, raw := range uuids {
		u := uartdb.NormalizeUUID(raw)
		switch len(u) {
		case 4, 8, 32:
		default:
			return nil, fmt.Errorf("invalid UUID %q", raw)
		}
		for _, c := range u {
			if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
				return nil, fmt.Errorf("invalid UUID %q", raw)
			}
		}
		out = append(out, u)
	}
	return out, nil
}
