package service

import (
	"context"
	"fmt"

	"github.com/dsiemon2/OpenSentinel-sub008/internal/config"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/dispatch"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/evaluator"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/gate"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/models"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/processor"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/registry"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/scheduler"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/timeutil"
	"go.uber.org/zap"
)

// EntityLoader supplies the configured zones, devices and triggers at boot.
type EntityLoader interface {
	LoadZones(ctx context.Context) ([]models.Zone, error)
	LoadDevices(ctx context.Context) ([]models.Device, error)
	LoadTriggers(ctx context.Context) ([]models.Trigger, error)
}

// EngineOptions the collaborators of the engine. Everything but Config is optional.
type EngineOptions struct {
	Config       *config.Config
	Clock        timeutil.Clock
	Dispatch     dispatch.Options
	State        processor.StateStore
	Publishers   []processor.Sink
	FireRecorder evaluator.FireRecorder
}

// Engine the in-memory trigger pipeline: registry, processor, dwell scheduler,
// evaluator and dispatcher, wired together.
type Engine struct {
	Registry   *registry.Registry
	Processor  *processor.Processor
	Scheduler  *scheduler.Scheduler
	Evaluator  *evaluator.Evaluator
	Dispatcher *dispatch.Dispatcher

	logger *zap.Logger
}

// NewEngine wires the pipeline. Publishers see every event before triggers are evaluated.
func NewEngine(opts EngineOptions, logger *zap.Logger) *Engine {
	cfg := opts.Config
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	loc := cfg.Location()

	dopts := opts.Dispatch
	if dopts.Location == nil {
		dopts.Location = loc
	}
	if dopts.SystemPrompt == "" {
		dopts.SystemPrompt = cfg.Assistant.SystemPrompt
	}
	if dopts.WebhookTimeout == 0 {
		dopts.WebhookTimeout = cfg.Webhook.Timeout
	}
	if dopts.AllowedTools == nil {
		dopts.AllowedTools = cfg.Tools.Allowed
	}

	reg := registry.NewRegistry(logger.Named("registry"))
	disp := dispatch.New(dopts, logger.Named("dispatch"))
	eval := evaluator.NewEvaluator(reg, gate.New(loc), disp, clock, logger.Named("evaluator"))
	if opts.FireRecorder != nil {
		eval.SetFireRecorder(opts.FireRecorder)
	}
	sched := scheduler.NewScheduler(reg, eval, clock, cfg.Proximity.DwellInterval, logger.Named("scheduler"))

	proc := processor.NewProcessor(reg, processor.Options{
		Timers:           sched,
		State:            opts.State,
		Clock:            clock,
		SmoothingWindow:  cfg.Proximity.SmoothingWindow,
		SmoothingAlpha:   cfg.Proximity.SmoothingAlpha,
		TxPower:          cfg.Proximity.TxPower,
		PathLossExponent: cfg.Proximity.PathLossExponent,
	}, logger.Named("processor"))

	for _, p := range opts.Publishers {
		proc.AddSink(p)
		eval.AddPublisher(p)
	}
	proc.AddSink(eval)

	return &Engine{
		Registry:   reg,
		Processor:  proc,
		Scheduler:  sched,
		Evaluator:  eval,
		Dispatcher: disp,
		logger:     logger,
	}
}

// Load registers every entity from loader. Invalid entities are skipped and
// logged; a loader failure aborts.
func (e *Engine) Load(ctx context.Context, loader EntityLoader) error {
	zones, err := loader.LoadZones(ctx)
	if err != nil {
		return fmt.Errorf("failed to load zones: %w", err)
	}
	devices, err := loader.LoadDevices(ctx)
	if err != nil {
		return fmt.Errorf("failed to load devices: %w", err)
	}
	triggers, err := loader.LoadTriggers(ctx)
	if err != nil {
		return fmt.Errorf("failed to load triggers: %w", err)
	}

	skipped := 0
	for _, z := range zones {
		if err := e.Registry.PutZone(z); err != nil {
			e.logger.Warn("Skipping zone", zap.String("zone_id", z.ID), zap.Error(err))
			skipped++
		}
	}
	for _, d := range devices {
		if err := e.Registry.PutDevice(d); err != nil {
			e.logger.Warn("Skipping device", zap.String("device_id", d.ID), zap.Error(err))
			skipped++
		}
	}
	for _, t := range triggers {
		if err := e.Registry.PutTrigger(t); err != nil {
			e.logger.Warn("Skipping trigger", zap.String("trigger_id", t.ID), zap.Error(err))
			skipped++
			continue
		}
		if t.LastFiredAt != nil || t.FireCount > 0 {
			_ = e.Registry.RestoreFireHistory(t.ID, t.LastFiredAt, t.FireCount)
		}
	}

	stats := e.Registry.Stats()
	e.logger.Info("Entities loaded",
		zap.Int("zones", stats.Zones),
		zap.Int("devices", stats.Devices),
		zap.Int("triggers", stats.Triggers),
		zap.Int("skipped", skipped),
	)
	return nil
}

// ResumeDwell restarts the dwell timers of zones that were occupied before a restart.
func (e *Engine) ResumeDwell(zones []models.Zone) {
	for _, z := range zones {
		if z.CurrentState == models.ZoneInside && z.EnteredAt != nil {
			e.Scheduler.Start(z.ID, *z.EnteredAt)
		}
	}
}

// Close stops every dwell timer, waits for running ticks and then for the
// actions still being dispatched.
func (e *Engine) Close() {
	e.Scheduler.Shutdown()
	e.Evaluator.Drain()
}
