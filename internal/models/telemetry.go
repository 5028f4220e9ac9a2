package models

import "time"

// LocationUpdate a position fix reported for a user.
type LocationUpdate struct {
	UserID      string    `json:"user_id" validate:"required"`
	Coordinates GeoPoint  `json:"coordinates"`
	Accuracy    *float64  `json:"accuracy,omitempty" validate:"omitempty,gte=0"`
	Timestamp   time.Time `json:"timestamp"`
}

// SampleKind what a proximity sample reports.
type SampleKind string

const (
	SampleDetected   SampleKind = "detected"
	SampleLost       SampleKind = "lost"
	SampleRSSIUpdate SampleKind = "rssi_update"
)

// ProximitySample one radio observation of a MAC address.
type ProximitySample struct {
	UserID     string     `json:"user_id,omitempty"`
	MACAddress string     `json:"mac_address" validate:"required"`
	RSSI       *int       `json:"rssi,omitempty" validate:"omitempty,gte=-127,lte=20"`
	Timestamp  time.Time  `json:"timestamp"`
	Kind       SampleKind `json:"type" validate:"required,oneof=detected lost rssi_update"`
}
