// Package processor turns location updates and proximity samples into zone and
// device transitions and hands the resulting events to its sinks.
package processor

import (
	"context"
	"sync"
	"time"

	"github.com/dsiemon2/OpenSentinel-sub008/internal/models"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/registry"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/signal"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/timeutil"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Sink receives domain events after all entity locks are released.
type Sink interface {
	OnGeofenceEvent(ctx context.Context, ev models.GeofenceEvent)
	OnProximityEvent(ctx context.Context, ev models.ProximityEvent)
}

// DwellTimers starts and stops the per-zone dwell ticker. Calls are made while
// the zone is locked, so implementations must not call back into the registry.
type DwellTimers interface {
	Start(zoneID string, enteredAt time.Time)
	Stop(zoneID string)
}

// StateStore persists runtime state so a restart resumes where it left off.
type StateStore interface {
	SaveZone(ctx context.Context, zoneID string, rt models.ZoneRuntime) error
	SaveDevice(ctx context.Context, deviceID string, rt models.DeviceRuntime) error
}

// Options optional collaborators and signal settings.
type Options struct {
	Timers           DwellTimers
	State            StateStore
	Clock            timeutil.Clock
	SmoothingWindow  int
	SmoothingAlpha   float64
	TxPower          int
	PathLossExponent float64
}

// Processor is safe for concurrent use; per-entity serialization is provided by the registry.
type Processor struct {
	registry *registry.Registry
	tracker  *signal.Tracker
	timers   DwellTimers
	state    StateStore
	clock    timeutil.Clock
	validate *validator.Validate
	logger   *zap.Logger

	txPower  int
	pathLoss float64

	mu    sync.RWMutex
	sinks []Sink
}

// NewProcessor creates a processor and subscribes it to registry removals so
// that a deleted zone loses its dwell timer and a deleted device its signal
// history. A zone disabled while occupied loses its timer too.
func NewProcessor(reg *registry.Registry, opts Options, logger *zap.Logger) *Processor {
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.TxPower == 0 {
		opts.TxPower = signal.DefaultTxPower
	}
	if opts.PathLossExponent <= 0 {
		opts.PathLossExponent = signal.DefaultPathLossExponent
	}

	p := &Processor{
		registry: reg,
		tracker:  signal.NewTracker(opts.SmoothingWindow, opts.SmoothingAlpha),
		timers:   opts.Timers,
		state:    opts.State,
		clock:    opts.Clock,
		validate: validator.New(),
		logger:   logger,
		txPower:  opts.TxPower,
		pathLoss: opts.PathLossExponent,
	}
	reg.OnRemove(p.onEntityRemoved)
	reg.OnDisable(p.onZoneDisabled)
	return p
}

// AddSink registers an event receiver.
func (p *Processor) AddSink(s Sink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sinks = append(p.sinks, s)
}

func (p *Processor) currentSinks() []Sink {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Sink(nil), p.sinks...)
}

func (p *Processor) onEntityRemoved(ref models.EntityRef) {
	switch ref.Kind {
	case models.EntityZone:
		if p.timers != nil {
			p.timers.Stop(ref.ID)
		}
	case models.EntityDevice:
		p.tracker.Reset(ref.ID)
	}
	p.logger.Debug("Released runtime resources", zap.String("entity", ref.String()))
}

func (p *Processor) onZoneDisabled(z models.Zone) {
	if p.timers != nil {
		p.timers.Stop(z.ID)
	}
	p.saveZone(context.Background(), z)
	p.logger.Debug("Zone disabled while occupied", zap.String("zone_id", z.ID))
}

func (p *Processor) emitGeofence(ctx context.Context, events []models.GeofenceEvent) {
	if len(events) == 0 {
		return
	}
	sinks := p.currentSinks()
	for _, ev := range events {
		for _, s := range sinks {
			s.OnGeofenceEvent(ctx, ev)
		}
	}
}

func (p *Processor) emitProximity(ctx context.Context, events []models.ProximityEvent) {
	if len(events) == 0 {
		return
	}
	sinks := p.currentSinks()
	for _, ev := range events {
		for _, s := range sinks {
			s.OnProximityEvent(ctx, ev)
		}
	}
}
