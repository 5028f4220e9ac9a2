// Package evaluator matches domain events against triggers and dispatches the
// ones that pass the cooldown gate.
package evaluator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dsiemon2/OpenSentinel-sub008/internal/apperror"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/dispatch"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/gate"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/models"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/registry"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/timeutil"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Dispatcher runs a fired trigger's action.
type Dispatcher interface {
	Dispatch(ctx context.Context, t models.Trigger, fc models.FireContext) dispatch.Result
}

// GeofencePublisher receives the dwell events produced by dwell evaluation.
type GeofencePublisher interface {
	OnGeofenceEvent(ctx context.Context, ev models.GeofenceEvent)
}

// FireRecorder persists the cooldown state of a fired trigger.
type FireRecorder interface {
	RecordFire(ctx context.Context, triggerID string, firedAt time.Time, fireCount int) error
}

// DefaultMaxInFlight bounds concurrently running background dispatches.
const DefaultMaxInFlight = 32

// Outcome what happened to one candidate trigger. Result is empty for
// dispatches that run in the background.
type Outcome struct {
	TriggerID string
	Fired     bool
	Reason    string
	Result    dispatch.Result
}

// Evaluator is safe for concurrent use.
type Evaluator struct {
	registry   *registry.Registry
	gate       *gate.Gate
	dispatcher Dispatcher
	clock      timeutil.Clock
	logger     *zap.Logger

	mu         sync.RWMutex
	publishers []GeofencePublisher
	recorder   FireRecorder

	slots    chan struct{}
	inflight sync.WaitGroup
}

// NewEvaluator creates an evaluator.
func NewEvaluator(reg *registry.Registry, g *gate.Gate, d Dispatcher, clock timeutil.Clock, logger *zap.Logger) *Evaluator {
	return &Evaluator{
		registry:   reg,
		gate:       g,
		dispatcher: d,
		clock:      clock,
		logger:     logger,
		slots:      make(chan struct{}, DefaultMaxInFlight),
	}
}

// AddPublisher registers a receiver for dwell events.
func (e *Evaluator) AddPublisher(p GeofencePublisher) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.publishers = append(e.publishers, p)
}

// SetFireRecorder sets where fired triggers are persisted.
func (e *Evaluator) SetFireRecorder(r FireRecorder) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recorder = r
}

// OnGeofenceEvent evaluates a zone transition. Fired actions run in the
// background; the call returns once the triggers are marked fired.
func (e *Evaluator) OnGeofenceEvent(ctx context.Context, ev models.GeofenceEvent) {
	ref := models.EntityRef{Kind: models.EntityZone, ID: ev.GeofenceID}
	e.evaluate(ctx, ref, models.FireContextFromGeofence(ev), e.clock.Now(), nil, nil, false)
}

// OnProximityEvent evaluates a device transition in the background like OnGeofenceEvent.
func (e *Evaluator) OnProximityEvent(ctx context.Context, ev models.ProximityEvent) {
	if !ev.Actionable() {
		e.logger.Debug("First sighting out of range, triggers skipped", zap.String("device_id", ev.DeviceID))
		return
	}
	ref := models.EntityRef{Kind: models.EntityDevice, ID: ev.DeviceID}
	e.evaluate(ctx, ref, models.FireContextFromProximity(ev), e.clock.Now(), nil, nil, false)
}

// EvaluateGeofence fires the zone's matching triggers and waits for their dispatch.
func (e *Evaluator) EvaluateGeofence(ctx context.Context, ev models.GeofenceEvent) []Outcome {
	ref := models.EntityRef{Kind: models.EntityZone, ID: ev.GeofenceID}
	return e.evaluate(ctx, ref, models.FireContextFromGeofence(ev), e.clock.Now(), nil, nil, true)
}

// EvaluateProximity fires the device's matching triggers and waits for their
// dispatch. A device first seen out of range fires nothing.
func (e *Evaluator) EvaluateProximity(ctx context.Context, ev models.ProximityEvent) []Outcome {
	if !ev.Actionable() {
		return nil
	}
	ref := models.EntityRef{Kind: models.EntityDevice, ID: ev.DeviceID}
	return e.evaluate(ctx, ref, models.FireContextFromProximity(ev), e.clock.Now(), nil, nil, true)
}

// OnDwell is called by the dwell scheduler on every tick of an occupied zone.
func (e *Evaluator) OnDwell(ctx context.Context, zone models.Zone, elapsedMinutes float64, now time.Time) {
	e.evaluateDwell(ctx, zone, elapsedMinutes, now, false)
}

// Drain waits for every background dispatch to finish.
func (e *Evaluator) Drain() {
	e.inflight.Wait()
}

// EvaluateDwell fires dwell triggers whose threshold has been reached, at most
// once per visit unless the trigger's cooldown allows a repeat. When at least
// one fires a dwell GeofenceEvent is published.
func (e *Evaluator) EvaluateDwell(ctx context.Context, zone models.Zone, elapsedMinutes float64, now time.Time) []Outcome {
	return e.evaluateDwell(ctx, zone, elapsedMinutes, now, true)
}

func (e *Evaluator) evaluateDwell(ctx context.Context, zone models.Zone, elapsedMinutes float64, now time.Time, wait bool) []Outcome {
	ref := models.EntityRef{Kind: models.EntityZone, ID: zone.ID}
	dwell := elapsedMinutes
	ev := models.GeofenceEvent{
		ID:               uuid.New().String(),
		GeofenceID:       zone.ID,
		UserID:           zone.UserID,
		ZoneName:         zone.Name,
		Transition:       models.TransitionDwell,
		DwellTimeMinutes: &dwell,
		ObservedAt:       now,
		OccurredAt:       now,
	}

	visit := now.Add(-time.Duration(elapsedMinutes * float64(time.Minute)))
	if zone.EnteredAt != nil {
		visit = *zone.EnteredAt
	}
	reached := func(t models.Trigger) bool {
		return t.DwellMinutes != nil && float64(*t.DwellMinutes) <= elapsedMinutes
	}
	outcomes := e.evaluate(ctx, ref, models.FireContextFromGeofence(ev), now, reached, &visit, wait)

	for _, o := range outcomes {
		if o.Fired {
			e.publish(ctx, ev)
			break
		}
	}
	return outcomes
}

func (e *Evaluator) publish(ctx context.Context, ev models.GeofenceEvent) {
	e.mu.RLock()
	publishers := append([]GeofencePublisher(nil), e.publishers...)
	e.mu.RUnlock()

	for _, p := range publishers {
		p.OnGeofenceEvent(ctx, ev)
	}
}

type firedTrigger struct {
	index   int
	trigger models.Trigger
}

// evaluate gates every trigger of ref atomically, then dispatches the fired
// ones concurrently. No registry lock is held while dispatching. With wait
// unset the dispatches are handed to the background pool. A non-nil visit
// applies the once-per-visit dwell rule.
func (e *Evaluator) evaluate(ctx context.Context, ref models.EntityRef, fc models.FireContext, now time.Time, extra func(models.Trigger) bool, visit *time.Time, wait bool) []Outcome {
	candidates := e.registry.TriggersFor(ref)
	outcomes := make([]Outcome, 0, len(candidates))
	var fired []firedTrigger

	for _, cand := range candidates {
		if extra != nil && !extra(cand) {
			continue
		}
		var (
			decision gate.Decision
			allow    func(models.Trigger) bool
		)
		if visit != nil {
			allow = e.gate.DwellAllowFunc(*visit, now, &decision)
		} else {
			allow = e.gate.AllowFunc(fc.Transition, now, &decision)
		}

		t, ok, err := e.registry.FireTrigger(cand.ID, now, allow)
		if err != nil {
			if apperror.IsState(err) {
				e.logger.Debug("Trigger vanished before firing", zap.String("trigger_id", cand.ID))
				continue
			}
			e.logger.Error("Failed to fire trigger", zap.String("trigger_id", cand.ID), zap.Error(err))
			continue
		}

		outcomes = append(outcomes, Outcome{TriggerID: cand.ID, Fired: ok, Reason: decision.Reason})
		if !ok {
			e.logger.Debug("Trigger held back",
				zap.String("trigger_id", cand.ID),
				zap.String("reason", decision.Reason),
			)
			continue
		}
		fired = append(fired, firedTrigger{index: len(outcomes) - 1, trigger: t})
	}

	if len(fired) == 0 {
		return outcomes
	}

	e.mu.RLock()
	recorder := e.recorder
	e.mu.RUnlock()

	if wait {
		var wg sync.WaitGroup
		for _, f := range fired {
			wg.Add(1)
			go func(f firedTrigger) {
				defer wg.Done()
				outcomes[f.index].Result = e.run(ctx, recorder, f.trigger, fc)
			}(f)
		}
		wg.Wait()
	} else {
		bg := context.WithoutCancel(ctx)
		for _, f := range fired {
			e.inflight.Add(1)
			go func(t models.Trigger) {
				defer e.inflight.Done()
				e.slots <- struct{}{}
				defer func() { <-e.slots }()
				e.run(bg, recorder, t, fc)
			}(f.trigger)
		}
	}

	e.logger.Info("Triggers fired",
		zap.String("entity", ref.String()),
		zap.String("transition", string(fc.Transition)),
		zap.Int("candidates", len(candidates)),
		zap.Int("fired", len(fired)),
	)
	return outcomes
}

// run persists the fire and then dispatches it.
func (e *Evaluator) run(ctx context.Context, recorder FireRecorder, t models.Trigger, fc models.FireContext) dispatch.Result {
	if recorder != nil && t.LastFiredAt != nil {
		if err := recorder.RecordFire(ctx, t.ID, *t.LastFiredAt, t.FireCount); err != nil {
			e.logger.Warn("Failed to persist trigger fire", zap.String("trigger_id", t.ID), zap.Error(err))
		}
	}
	return e.dispatchSafely(ctx, t, fc)
}

func (e *Evaluator) dispatchSafely(ctx context.Context, t models.Trigger, fc models.FireContext) (res dispatch.Result) {
	defer func() {
		if r := recover(); r != nil {
			err := apperror.Dispatch("evaluator.dispatch", fmt.Errorf("panic: %v", r))
			e.logger.Error("Dispatch panicked", zap.String("trigger_id", t.ID), zap.Error(err))
			res = dispatch.Result{Code: dispatch.CodePanic, Error: err.Error()}
		}
	}()
	return e.dispatcher.Dispatch(ctx, t, fc)
}
