package processor

import (
	"context"
	"math"
	"time"

	"github.com/dsiemon2/OpenSentinel-sub008/internal/apperror"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/models"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/spatial"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type timerOp int

const (
	timerNone timerOp = iota
	timerStart
	timerStop
)

// ProcessLocation runs the zone state machine of every enabled zone owned by
// the update's user and returns the emitted events.
func (p *Processor) ProcessLocation(ctx context.Context, u models.LocationUpdate) ([]models.GeofenceEvent, error) {
	const op = "processor.ProcessLocation"
	if err := p.validate.Struct(u); err != nil {
		return nil, apperror.FromValidator(op, err)
	}

	now := p.clock.Now()
	point := u.Coordinates
	var events []models.GeofenceEvent

	for _, zoneID := range p.registry.ZoneIDsForUser(u.UserID) {
		var (
			ev      *models.GeofenceEvent
			changed bool
		)
		// the timer follows the state change under the zone lock so that
		// concurrent samples cannot reorder Start and Stop
		zone, err := p.registry.UpdateZone(zoneID, func(z *models.Zone) error {
			if !z.Enabled {
				return nil
			}
			prev := z.CurrentState
			var timer timerOp
			ev, timer = applyLocation(z, spatial.Contains(point, z.Geometry), now)
			changed = z.CurrentState != prev
			p.applyTimer(zoneID, timer, now)
			return nil
		})
		if err != nil {
			if apperror.IsState(err) {
				continue
			}
			p.logger.Error("Failed to update zone", zap.String("zone_id", zoneID), zap.Error(err))
			continue
		}

		if changed {
			p.saveZone(ctx, zone)
		}

		if ev != nil {
			ev.ID = uuid.New().String()
			ev.Location = &point
			ev.ObservedAt = u.Timestamp
			events = append(events, *ev)
			p.logger.Info("Zone transition",
				zap.String("zone_id", zoneID),
				zap.String("user_id", u.UserID),
				zap.String("transition", string(ev.Transition)),
			)
		}
	}

	p.emitGeofence(ctx, events)
	return events, nil
}

// applyLocation mutates z for one observation and reports the event to emit
// and what to do with the zone's dwell timer.
func applyLocation(z *models.Zone, inside bool, now time.Time) (*models.GeofenceEvent, timerOp) {
	switch {
	case z.CurrentState == models.ZoneUnknown && inside:
		z.CurrentState = models.ZoneInside
		z.EnteredAt = &now
		return nil, timerStart

	case z.CurrentState != models.ZoneInside && inside:
		z.CurrentState = models.ZoneInside
		z.EnteredAt = &now
		z.VisitCount++
		return &models.GeofenceEvent{
			GeofenceID: z.ID,
			UserID:     z.UserID,
			ZoneName:   z.Name,
			Transition: models.TransitionEnter,
			OccurredAt: now,
		}, timerStart

	case z.CurrentState == models.ZoneInside && !inside:
		dwell := 0.0
		if z.EnteredAt != nil {
			dwell = math.Max(0, now.Sub(*z.EnteredAt).Minutes())
		}
		z.CurrentState = models.ZoneOutside
		z.ExitedAt = &now
		z.EnteredAt = nil
		z.TotalDwellMinutes += dwell
		return &models.GeofenceEvent{
			GeofenceID:       z.ID,
			UserID:           z.UserID,
			ZoneName:         z.Name,
			Transition:       models.TransitionExit,
			DwellTimeMinutes: &dwell,
			OccurredAt:       now,
		}, timerStop

	case z.CurrentState == models.ZoneUnknown && !inside:
		z.CurrentState = models.ZoneOutside
		return nil, timerNone
	}
	return nil, timerNone
}

func (p *Processor) applyTimer(zoneID string, op timerOp, enteredAt time.Time) {
	if p.timers == nil {
		return
	}
	switch op {
	case timerStart:
		p.timers.Start(zoneID, enteredAt)
	case timerStop:
		p.timers.Stop(zoneID)
	}
}

func (p *Processor) saveZone(ctx context.Context, z models.Zone) {
	if p.state == nil {
		return
	}
	if err := p.state.SaveZone(ctx, z.ID, z.Runtime()); err != nil {
		p.logger.Warn("Failed to save zone state", zap.String("zone_id", z.ID), zap.Error(err))
	}
}
