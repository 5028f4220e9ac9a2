package dispatch

import (
	"time"

	"github.com/dsiemon2/OpenSentinel-sub008/internal/models"
)

// Envelope the JSON body POSTed by webhook actions.
type Envelope struct {
	Event      string            `json:"event"`
	TriggerID  string            `json:"trigger_id"`
	Trigger    string            `json:"trigger_name"`
	UserID     string            `json:"user_id"`
	Entity     EnvelopeEntity    `json:"entity"`
	Transition models.Transition `json:"transition"`
	Location   *models.GeoPoint  `json:"location,omitempty"`
	DwellMin   *float64          `json:"dwell_minutes,omitempty"`
	RSSI       *int              `json:"rssi,omitempty"`
	Distance   *float64          `json:"distance,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// EnvelopeEntity the zone or device summary in an Envelope.
type EnvelopeEntity struct {
	Kind models.EntityKind `json:"kind"`
	ID   string            `json:"id"`
	Name string            `json:"name"`
}

// NewEnvelope builds the webhook body for a fire.
func NewEnvelope(t models.Trigger, fc models.FireContext) Envelope {
	event := "geofence"
	if fc.EntityKind == models.EntityDevice {
		event = "proximity"
	}
	return Envelope{
		Event:      event,
		TriggerID:  t.ID,
		Trigger:    t.Name,
		UserID:     fc.UserID,
		Entity:     EnvelopeEntity{Kind: fc.EntityKind, ID: fc.EntityID, Name: fc.EntityName},
		Transition: fc.Transition,
		Location:   fc.Location,
		DwellMin:   fc.DwellMinutes,
		RSSI:       fc.RSSI,
		Distance:   fc.Distance,
		Timestamp:  fc.OccurredAt.UTC(),
	}
}
