// Package gate decides whether a trigger may fire for a transition at a given time.
package gate

import (
	"fmt"
	"slices"
	"time"

	"github.com/dsiemon2/OpenSentinel-sub008/internal/models"
)

// Reasons reported when a trigger is held back.
const (
	ReasonDisabled       = "trigger disabled"
	ReasonTransition     = "transition does not match"
	ReasonOutsideDays    = "outside active days"
	ReasonOutsideHours   = "outside active hours"
	ReasonCoolingDown    = "cooldown active"
	ReasonFiredThisVisit = "already fired this visit"
	ReasonBadRestriction = "invalid time restriction"
)

// Decision result of Allow.
type Decision struct {
	Allowed bool
	Reason  string
}

// Gate evaluates time restrictions in a fixed location.
type Gate struct {
	loc *time.Location
}

// New creates a gate; nil loc means UTC.
func New(loc *time.Location) *Gate {
	if loc == nil {
		loc = time.UTC
	}
	return &Gate{loc: loc}
}

// Location the zone time restrictions are evaluated in.
func (g *Gate) Location() *time.Location { return g.loc }

// Allow checks, in order: enabled, transition match, time restriction, cooldown.
func (g *Gate) Allow(t models.Trigger, tr models.Transition, now time.Time) Decision {
	if !t.Enabled {
		return Decision{Reason: ReasonDisabled}
	}
	if !t.TriggerOn.Matches(tr) {
		return Decision{Reason: ReasonTransition}
	}
	if r := t.TimeRestriction; r != nil {
		if reason := g.checkRestriction(*r, now); reason != "" {
			return Decision{Reason: reason}
		}
	}
	if t.LastFiredAt != nil && t.CooldownMinutes > 0 {
		if now.Sub(*t.LastFiredAt) < time.Duration(t.CooldownMinutes)*time.Minute {
			return Decision{Reason: ReasonCoolingDown}
		}
	}
	return Decision{Allowed: true}
}

// AllowFunc adapts Allow to the registry's atomic fire callback.
func (g *Gate) AllowFunc(tr models.Transition, now time.Time, out *Decision) func(models.Trigger) bool {
	return func(t models.Trigger) bool {
		d := g.Allow(t, tr, now)
		if out != nil {
			*out = d
		}
		return d.Allowed
	}
}

// AllowDwell applies Allow for a dwell transition of the visit that began at
// visitStart. A trigger that already fired during the visit repeats only once
// its non-zero cooldown has elapsed.
func (g *Gate) AllowDwell(t models.Trigger, visitStart, now time.Time) Decision {
	d := g.Allow(t, models.TransitionDwell, now)
	if !d.Allowed {
		return d
	}
	if t.CooldownMinutes == 0 && t.LastFiredAt != nil && !t.LastFiredAt.Before(visitStart) {
		return Decision{Reason: ReasonFiredThisVisit}
	}
	return d
}

// DwellAllowFunc adapts AllowDwell to the registry's atomic fire callback.
func (g *Gate) DwellAllowFunc(visitStart, now time.Time, out *Decision) func(models.Trigger) bool {
	return func(t models.Trigger) bool {
		d := g.AllowDwell(t, visitStart, now)
		if out != nil {
			*out = d
		}
		return d.Allowed
	}
}

func (g *Gate) checkRestriction(r models.TimeRestriction, now time.Time) string {
	local := now.In(g.loc)

	if len(r.ActiveDays) > 0 && !slices.Contains(r.ActiveDays, local.Weekday()) {
		return ReasonOutsideDays
	}

	if r.ActiveHoursStart == "" || r.ActiveHoursEnd == "" {
		return ""
	}
	start, err := models.ParseClock(r.ActiveHoursStart)
	if err != nil {
		return ReasonBadRestriction
	}
	end, err := models.ParseClock(r.ActiveHoursEnd)
	if err != nil {
		return ReasonBadRestriction
	}
	if !inWindow(local.Hour()*60+local.Minute(), start, end) {
		return ReasonOutsideHours
	}
	return ""
}

// inWindow inclusive on both ends; start > end wraps past midnight.
func inWindow(minute, start, end int) bool {
	if start <= end {
		return minute >= start && minute <= end
	}
	return minute >= start || minute <= end
}

func (d Decision) String() string {
	if d.Allowed {
		return "allowed"
	}
	return fmt.Sprintf("denied: %s", d.Reason)
}
