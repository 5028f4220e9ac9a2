package processor

import (
	"context"

	"github.com/dsiemon2/OpenSentinel-sub008/internal/apperror"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/models"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/signal"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ProcessProximity runs the device state machine for every device registered
// under the sample's MAC (restricted to the sample's user when given).
func (p *Processor) ProcessProximity(ctx context.Context, s models.ProximitySample) ([]models.ProximityEvent, error) {
	const op = "processor.ProcessProximity"
	if err := p.validate.Struct(s); err != nil {
		return nil, apperror.FromValidator(op, err)
	}
	if s.Kind == models.SampleRSSIUpdate && s.RSSI == nil {
		return nil, apperror.Validationf(op, "rssi_update sample for %s carries no rssi", s.MACAddress)
	}

	ids, err := p.registry.DeviceIDsByMAC(s.UserID, s.MACAddress)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, apperror.Validationf(op, "no device registered for mac %s", s.MACAddress)
	}

	now := p.clock.Now()
	var events []models.ProximityEvent

	for _, id := range ids {
		var ev *models.ProximityEvent
		device, err := p.registry.UpdateDevice(id, func(d *models.Device) error {
			if !d.Enabled {
				return nil
			}
			ev = p.applySample(d, s)
			if ev != nil {
				d.LastSeen = &now
				ev.OccurredAt = now
			}
			return nil
		})
		if err != nil {
			if apperror.IsState(err) {
				continue
			}
			p.logger.Error("Failed to update device", zap.String("device_id", id), zap.Error(err))
			continue
		}
		if ev == nil {
			continue
		}

		ev.ID = uuid.New().String()
		events = append(events, *ev)
		p.saveDevice(ctx, device)
		p.logger.Info("Device transition",
			zap.String("device_id", id),
			zap.String("previous_state", string(ev.PreviousState)),
			zap.String("new_state", string(ev.NewState)),
		)
	}

	p.emitProximity(ctx, events)
	return events, nil
}

// applySample runs under the device lock. LastRSSI tracks the smoothed value
// of every sample; the event is returned only on a state change.
func (p *Processor) applySample(d *models.Device, s models.ProximitySample) *models.ProximityEvent {
	var (
		next     models.DeviceState
		rssi     *int
		distance *float64
	)

	switch {
	case s.Kind == models.SampleLost:
		next = models.DeviceOutOfRange
		p.tracker.Reset(d.ID)
	case s.RSSI != nil:
		smoothed := p.tracker.Push(d.ID, *s.RSSI)
		dist := signal.EstimateDistance(smoothed, p.txPower, p.pathLoss)
		rssi, distance = &smoothed, &dist
		d.LastRSSI = &smoothed
		if smoothed >= d.RSSIThreshold {
			next = models.DeviceInRange
		} else {
			next = models.DeviceOutOfRange
		}
	default:
		next = models.DeviceInRange
	}

	if next == d.CurrentState {
		return nil
	}
	prev := d.CurrentState
	d.CurrentState = next
	return &models.ProximityEvent{
		DeviceID:      d.ID,
		UserID:        d.UserID,
		DeviceName:    d.Name,
		PreviousState: prev,
		NewState:      next,
		RSSI:          rssi,
		Distance:      distance,
	}
}

func (p *Processor) saveDevice(ctx context.Context, d models.Device) {
	if p.state == nil {
		return
	}
	if err := p.state.SaveDevice(ctx, d.ID, d.Runtime()); err != nil {
		p.logger.Warn("Failed to save device state", zap.String("device_id", d.ID), zap.Error(err))
	}
}
