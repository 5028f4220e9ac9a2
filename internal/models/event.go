package models

import "time"

// GeofenceEvent a zone transition.
type GeofenceEvent struct {
	ID               string     `json:"id"`
	GeofenceID       string     `json:"geofence_id"`
	UserID           string     `json:"user_id"`
	ZoneName         string     `json:"zone_name"`
	Transition       Transition `json:"transition"`
	Location         *GeoPoint  `json:"location,omitempty"`
	DwellTimeMinutes *float64   `json:"dwell_time_minutes,omitempty"`
	ObservedAt       time.Time  `json:"observed_at"`
	OccurredAt       time.Time  `json:"occurred_at"`
}

// ProximityEvent a device range change.
type ProximityEvent struct {
	ID            string      `json:"id"`
	DeviceID      string      `json:"device_id"`
	UserID        string      `json:"user_id"`
	DeviceName    string      `json:"device_name"`
	PreviousState DeviceState `json:"previous_state"`
	NewState      DeviceState `json:"new_state"`
	RSSI          *int        `json:"rssi,omitempty"`
	Distance      *float64    `json:"distance,omitempty"`
	OccurredAt    time.Time   `json:"occurred_at"`
}

// Transition maps a range change onto the trigger vocabulary.
func (e ProximityEvent) Transition() Transition {
	if e.NewState == DeviceInRange {
		return TransitionEnter
	}
	return TransitionExit
}

// Actionable reports whether the change may fire triggers. A device first
// seen out of range never left anything, so it fires no exit triggers.
func (e ProximityEvent) Actionable() bool {
	return !(e.PreviousState == DeviceUnknown && e.NewState == DeviceOutOfRange)
}

// FireContext what a dispatched action knows about the event that fired it.
type FireContext struct {
	EntityKind   EntityKind
	EntityID     string
	EntityName   string
	UserID       string
	Transition   Transition
	Location     *GeoPoint
	DwellMinutes *float64
	RSSI         *int
	Distance     *float64
	OccurredAt   time.Time
}

// FireContextFromGeofence builds the dispatch context of a zone event.
func FireContextFromGeofence(ev GeofenceEvent) FireContext {
	return FireContext{
		EntityKind:   EntityZone,
		EntityID:     ev.GeofenceID,
		EntityName:   ev.ZoneName,
		UserID:       ev.UserID,
		Transition:   ev.Transition,
		Location:     ev.Location,
		DwellMinutes: ev.DwellTimeMinutes,
		OccurredAt:   ev.OccurredAt,
	}
}

// FireContextFromProximity builds the dispatch context of a device event.
func FireContextFromProximity(ev ProximityEvent) FireContext {
	return FireContext{
		EntityKind: EntityDevice,
		EntityID:   ev.DeviceID,
		EntityName: ev.DeviceName,
		UserID:     ev.UserID,
		Transition: ev.Transition(),
		RSSI:       ev.RSSI,
		Distance:   ev.Distance,
		OccurredAt: ev.OccurredAt,
	}
}
