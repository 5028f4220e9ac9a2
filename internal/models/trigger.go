package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// TriggerOn which transitions a trigger reacts to.
type TriggerOn string

const (
	TriggerOnEnter TriggerOn = "enter"
	TriggerOnExit  TriggerOn = "exit"
	TriggerOnDwell TriggerOn = "dwell"
	TriggerOnBoth  TriggerOn = "both"
)

// Transition an observed change that may fire triggers.
type Transition string

const (
	TransitionEnter Transition = "enter"
	TransitionExit  Transition = "exit"
	TransitionDwell Transition = "dwell"
)

// Matches reports whether a trigger configured with t reacts to transition tr.
func (t TriggerOn) Matches(tr Transition) bool {
	switch t {
	case TriggerOnEnter:
		return tr == TransitionEnter
	case TriggerOnExit:
		return tr == TransitionExit
	case TriggerOnDwell:
		return tr == TransitionDwell
	case TriggerOnBoth:
		return tr == TransitionEnter || tr == TransitionExit
	}
	return false
}

// EntityKind what a trigger is attached to.
type EntityKind string

const (
	EntityZone   EntityKind = "zone"
	EntityDevice EntityKind = "device"
)

// EntityRef points at exactly one zone or device.
type EntityRef struct {
	Kind EntityKind `json:"kind"`
	ID   string     `json:"id"`
}

func (r EntityRef) String() string {
	return string(r.Kind) + ":" + r.ID
}

// TimeRestriction limits when a trigger may fire. Hours are "HH:MM" in the engine's local zone.
type TimeRestriction struct {
	ActiveDays       []time.Weekday `json:"active_days,omitempty"`
	ActiveHoursStart string         `json:"active_hours_start,omitempty"`
	ActiveHoursEnd   string         `json:"active_hours_end,omitempty"`
}

// Trigger binds a transition on a zone or device to an action.
type Trigger struct {
	ID              string           `json:"id" validate:"required"`
	UserID          string           `json:"user_id" validate:"required"`
	Name            string           `json:"name"`
	Entity          EntityRef        `json:"entity"`
	TriggerOn       TriggerOn        `json:"trigger_on" validate:"oneof=enter exit dwell both"`
	CooldownMinutes int              `json:"cooldown_minutes" validate:"gte=0"`
	DwellMinutes    *int             `json:"dwell_minutes,omitempty"`
	TimeRestriction *TimeRestriction `json:"time_restriction,omitempty"`
	Action          Action           `json:"-"`
	Enabled         bool             `json:"enabled"`

	// runtime state, written only through the cooldown gate
	LastFiredAt *time.Time `json:"last_fired_at,omitempty"`
	FireCount   int        `json:"fire_count"`
}

// Validate checks the cross-field rules that struct tags cannot express.
func (t Trigger) Validate() error {
	if t.Entity.ID == "" {
		return fmt.Errorf("trigger %s: entity id is required", t.ID)
	}
	if t.Entity.Kind != EntityZone && t.Entity.Kind != EntityDevice {
		return fmt.Errorf("trigger %s: unknown entity kind %q", t.ID, t.Entity.Kind)
	}
	if t.TriggerOn == TriggerOnDwell {
		if t.DwellMinutes == nil || *t.DwellMinutes <= 0 {
			return fmt.Errorf("trigger %s: dwell_minutes is required for dwell triggers", t.ID)
		}
		if t.Entity.Kind != EntityZone {
			return fmt.Errorf("trigger %s: dwell triggers require a zone", t.ID)
		}
	} else if t.DwellMinutes != nil {
		return fmt.Errorf("trigger %s: dwell_minutes is only valid for dwell triggers", t.ID)
	}
	if t.Action == nil {
		return fmt.Errorf("trigger %s: action is required", t.ID)
	}
	if err := t.Action.Validate(); err != nil {
		return fmt.Errorf("trigger %s: %w", t.ID, err)
	}
	if r := t.TimeRestriction; r != nil {
		if (r.ActiveHoursStart == "") != (r.ActiveHoursEnd == "") {
			return fmt.Errorf("trigger %s: active hours need both start and end", t.ID)
		}
		for _, hm := range []string{r.ActiveHoursStart, r.ActiveHoursEnd} {
			if hm == "" {
				continue
			}
			if _, err := ParseClock(hm); err != nil {
				return fmt.Errorf("trigger %s: %w", t.ID, err)
			}
		}
		for _, d := range r.ActiveDays {
			if d < time.Sunday || d > time.Saturday {
				return fmt.Errorf("trigger %s: invalid active day %d", t.ID, d)
			}
		}
	}
	return nil
}

// ParseClock parses "HH:MM" into minutes after midnight.
func ParseClock(hm string) (int, error) {
	var h, m int
	if n, err := fmt.Sscanf(hm, "%d:%d", &h, &m); err != nil || n != 2 {
		return 0, fmt.Errorf("invalid time of day %q", hm)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid time of day %q", hm)
	}
	return h*60 + m, nil
}

type triggerAlias Trigger

type triggerJSON struct {
	triggerAlias
	Action json.RawMessage `json:"action"`
}

// MarshalJSON writes the action in its tagged {"kind","payload"} form.
func (t Trigger) MarshalJSON() ([]byte, error) {
	out := triggerJSON{triggerAlias: triggerAlias(t)}
	if t.Action != nil {
		raw, err := MarshalAction(t.Action)
		if err != nil {
			return nil, err
		}
		out.Action = raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads a trigger including its tagged action.
func (t *Trigger) UnmarshalJSON(data []byte) error {
	var in triggerJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*t = Trigger(in.triggerAlias)
	if len(in.Action) > 0 && string(in.Action) != "null" {
		a, err := UnmarshalAction(in.Action)
		if err != nil {
			return err
		}
		t.Action = a
	}
	return nil
}
