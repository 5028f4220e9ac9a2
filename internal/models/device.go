package models

import (
	"fmt"
	"strings"
	"time"
)

// DeviceState proximity of a beacon or phone.
type DeviceState string

const (
	DeviceUnknown    DeviceState = "unknown"
	DeviceInRange    DeviceState = "in_range"
	DeviceOutOfRange DeviceState = "out_of_range"
)

// DefaultRSSIThreshold used when a device is registered without one.
const DefaultRSSIThreshold = -70

// Device a tracked short-range radio device.
type Device struct {
	ID            string `json:"id" validate:"required"`
	UserID        string `json:"user_id" validate:"required"`
	Name          string `json:"name"`
	MACAddress    string `json:"mac_address" validate:"required"`
	RSSIThreshold int    `json:"rssi_threshold" validate:"lte=0"`
	Enabled       bool   `json:"enabled"`

	// runtime state, written only by the processor
	CurrentState DeviceState `json:"current_state"`
	LastSeen     *time.Time  `json:"last_seen,omitempty"`
	LastRSSI     *int        `json:"last_rssi,omitempty"`
}

// DeviceRuntime the mutable part of a device, persisted in state snapshots.
type DeviceRuntime struct {
	CurrentState DeviceState `json:"current_state"`
	LastSeen     *time.Time  `json:"last_seen,omitempty"`
	LastRSSI     *int        `json:"last_rssi,omitempty"`
}

// Runtime extracts the runtime state.
func (d Device) Runtime() DeviceRuntime {
	return DeviceRuntime{CurrentState: d.CurrentState, LastSeen: d.LastSeen, LastRSSI: d.LastRSSI}
}

// ApplyRuntime overwrites the runtime fields.
func (d *Device) ApplyRuntime(r DeviceRuntime) {
	d.CurrentState = r.CurrentState
	d.LastSeen = r.LastSeen
	d.LastRSSI = r.LastRSSI
}

// NormalizeMAC lowercases a MAC address and rewrites it as colon separated octets.
// Accepts ':', '-' or '.' separators, or none.
func NormalizeMAC(mac string) (string, error) {
	var hex strings.Builder
	for _, r := range strings.TrimSpace(mac) {
		switch {
		case r == ':' || r == '-' || r == '.':
			continue
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f':
			hex.WriteRune(r)
		case r >= 'A' && r <= 'F':
			hex.WriteRune(r + ('a' - 'A'))
		default:
			return "", fmt.Errorf("invalid mac address %q", mac)
		}
	}
	digits := hex.String()
	if len(digits) != 12 {
		return "", fmt.Errorf("invalid mac address %q", mac)
	}
	parts := make([]string, 0, 6)
	for i := 0; i < 12; i += 2 {
		parts = append(parts, digits[i:i+2])
	}
	return strings.Join(parts, ":"), nil
}
