package dispatch

import (
	"strconv"
	"strings"
	"time"

	"github.com/dsiemon2/OpenSentinel-sub008/internal/models"
)

// TemplateVars placeholder values for a fire context.
func TemplateVars(t models.Trigger, fc models.FireContext, loc *time.Location) map[string]string {
	if loc == nil {
		loc = time.UTC
	}
	vars := map[string]string{
		"name":          fc.EntityName,
		"trigger":       t.Name,
		"zone":          "",
		"device":        "",
		"event":         string(fc.Transition),
		"dwell_minutes": "",
		"time":          fc.OccurredAt.In(loc).Format("15:04"),
		"rssi":          "",
		"distance":      "",
	}
	switch fc.EntityKind {
	case models.EntityZone:
		vars["zone"] = fc.EntityName
	case models.EntityDevice:
		vars["device"] = fc.EntityName
	}
	if fc.DwellMinutes != nil {
		vars["dwell_minutes"] = strconv.FormatFloat(*fc.DwellMinutes, 'f', 0, 64)
	}
	if fc.RSSI != nil {
		vars["rssi"] = strconv.Itoa(*fc.RSSI)
	}
	if fc.Distance != nil {
		vars["distance"] = strconv.FormatFloat(*fc.Distance, 'f', 2, 64)
	}
	return vars
}

// Render replaces {key} placeholders; unknown placeholders are left as is.
func Render(template string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// DefaultMessage used when a message action has no template.
func DefaultMessage(fc models.FireContext) string {
	switch fc.Transition {
	case models.TransitionEnter:
		if fc.EntityKind == models.EntityDevice {
			return "{device} is in range"
		}
		return "Arrived at {zone} at {time}"
	case models.TransitionExit:
		if fc.EntityKind == models.EntityDevice {
			return "{device} is out of range"
		}
		return "Left {zone} at {time} after {dwell_minutes} minutes"
	default:
		return "Spent {dwell_minutes} minutes at {zone}"
	}
}
