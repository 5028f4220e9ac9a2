package models

import "time"

// ZoneState geofence occupancy as last observed.
type ZoneState string

const (
	ZoneUnknown ZoneState = "unknown"
	ZoneInside  ZoneState = "inside"
	ZoneOutside ZoneState = "outside"
)

// Zone a user-owned geofence and its runtime occupancy state.
type Zone struct {
	ID       string   `json:"id" validate:"required"`
	UserID   string   `json:"user_id" validate:"required"`
	Name     string   `json:"name"`
	Geometry Geometry `json:"geometry"`
	Enabled  bool     `json:"enabled"`

	// runtime state, written only by the processor
	CurrentState      ZoneState  `json:"current_state"`
	EnteredAt         *time.Time `json:"entered_at,omitempty"`
	ExitedAt          *time.Time `json:"exited_at,omitempty"`
	VisitCount        int        `json:"visit_count"`
	TotalDwellMinutes float64    `json:"total_dwell_minutes"`
}

// ZoneRuntime the mutable part of a zone, persisted in state snapshots.
type ZoneRuntime struct {
	CurrentState      ZoneState  `json:"current_state"`
	EnteredAt         *time.Time `json:"entered_at,omitempty"`
	ExitedAt          *time.Time `json:"exited_at,omitempty"`
	VisitCount        int        `json:"visit_count"`
	TotalDwellMinutes float64    `json:"total_dwell_minutes"`
}

// Runtime extracts the runtime state.
func (z Zone) Runtime() ZoneRuntime {
	return ZoneRuntime{
		CurrentState:      z.CurrentState,
		EnteredAt:         z.EnteredAt,
		ExitedAt:          z.ExitedAt,
		VisitCount:        z.VisitCount,
		TotalDwellMinutes: z.TotalDwellMinutes,
	}
}

// ApplyRuntime overwrites the runtime fields.
func (z *Zone) ApplyRuntime(r ZoneRuntime) {
	z.CurrentState = r.CurrentState
	z.EnteredAt = r.EnteredAt
	z.ExitedAt = r.ExitedAt
	z.VisitCount = r.VisitCount
	z.TotalDwellMinutes = r.TotalDwellMinutes
}
