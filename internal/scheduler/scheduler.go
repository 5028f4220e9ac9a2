// Package scheduler runs one dwell ticker per occupied zone.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dsiemon2/OpenSentinel-sub008/internal/apperror"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/models"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/timeutil"
	"go.uber.org/zap"
)

// DefaultInterval between dwell checks.
const DefaultInterval = time.Minute

// ZoneSource looks zones up by id.
type ZoneSource interface {
	GetZone(id string) (models.Zone, bool)
}

// DwellHandler is invoked on every tick of a zone that is still occupied.
type DwellHandler interface {
	OnDwell(ctx context.Context, zone models.Zone, elapsedMinutes float64, now time.Time)
}

type dwellTimer struct {
	enteredAt time.Time
	cancel    context.CancelFunc
}

// Scheduler holds at most one timer per zone.
type Scheduler struct {
	zones    ZoneSource
	handler  DwellHandler
	clock    timeutil.Clock
	interval time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	timers map[string]*dwellTimer
	closed bool
	wg     sync.WaitGroup

	baseCtx    context.Context
	baseCancel context.CancelFunc
}

// NewScheduler creates a scheduler; interval <= 0 uses DefaultInterval.
func NewScheduler(zones ZoneSource, handler DwellHandler, clock timeutil.Clock, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		zones:      zones,
		handler:    handler,
		clock:      clock,
		interval:   interval,
		logger:     logger,
		timers:     make(map[string]*dwellTimer),
		baseCtx:    ctx,
		baseCancel: cancel,
	}
}

// Start begins ticking for a visit that started at enteredAt, replacing any
// live timer of the zone. A start for a visit older than the live one is ignored.
func (s *Scheduler) Start(zoneID string, enteredAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if old, ok := s.timers[zoneID]; ok {
		if enteredAt.Before(old.enteredAt) {
			s.logger.Debug("Stale dwell start ignored", zap.String("zone_id", zoneID), zap.Time("entered_at", enteredAt))
			return
		}
		old.cancel()
	}

	ctx, cancel := context.WithCancel(s.baseCtx)
	timer := &dwellTimer{enteredAt: enteredAt, cancel: cancel}
	s.timers[zoneID] = timer
	ticker := s.clock.NewTicker(s.interval)

	s.wg.Add(1)
	go s.run(ctx, zoneID, timer, ticker)

	s.logger.Debug("Dwell timer started", zap.String("zone_id", zoneID), zap.Time("entered_at", enteredAt))
}

// Stop cancels the zone's timer. It does not wait for an in-flight tick; a
// tick that already started re-checks the zone and sees the new state.
func (s *Scheduler) Stop(zoneID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[zoneID]; ok {
		t.cancel()
		delete(s.timers, zoneID)
		s.logger.Debug("Dwell timer stopped", zap.String("zone_id", zoneID))
	}
}

// Active reports whether the zone has a live timer.
func (s *Scheduler) Active(zoneID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[zoneID]
	return ok
}

// Len number of live timers.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Shutdown cancels every timer and waits for their goroutines to exit.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	s.closed = true
	s.timers = make(map[string]*dwellTimer)
	s.mu.Unlock()

	s.baseCancel()
	s.wg.Wait()
	s.logger.Info("Dwell scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context, zoneID string, timer *dwellTimer, ticker timeutil.Ticker) {
	defer s.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C():
			if ctx.Err() != nil {
				return
			}
			if !s.tick(ctx, zoneID, timer.enteredAt, now) {
				s.release(zoneID, timer)
				return
			}
		}
	}
}

// release drops the table entry only if it still belongs to timer.
func (s *Scheduler) release(zoneID string, timer *dwellTimer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.timers[zoneID]; ok && cur == timer {
		delete(s.timers, zoneID)
	}
	timer.cancel()
}

// RunTick performs one dwell check for the visit that began at enteredAt. It
// returns false when the timer should cancel itself.
func (s *Scheduler) RunTick(ctx context.Context, zoneID string, enteredAt, now time.Time) bool {
	return s.tick(ctx, zoneID, enteredAt, now)
}

func (s *Scheduler) tick(ctx context.Context, zoneID string, enteredAt, now time.Time) (keep bool) {
	defer func() {
		if r := recover(); r != nil {
			err := apperror.Timer("scheduler.tick", fmt.Errorf("panic: %v", r))
			s.logger.Error("Dwell tick failed", zap.String("zone_id", zoneID), zap.Error(err))
			keep = true
		}
	}()

	zone, ok := s.zones.GetZone(zoneID)
	switch {
	case !ok:
		s.logger.Debug("Dwell timer cancelled, zone gone", zap.String("zone_id", zoneID))
		return false
	case !zone.Enabled:
		s.logger.Debug("Dwell timer cancelled, zone disabled", zap.String("zone_id", zoneID))
		return false
	case zone.CurrentState != models.ZoneInside || zone.EnteredAt == nil:
		return false
	case !zone.EnteredAt.Equal(enteredAt):
		// a newer visit owns its own timer
		return false
	}

	elapsed := now.Sub(*zone.EnteredAt).Minutes()
	if elapsed < 0 {
		elapsed = 0
	}
	s.handler.OnDwell(ctx, zone, elapsed, now)
	return true
}
