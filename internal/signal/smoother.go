// Package signal smooths raw RSSI readings and estimates distance from them.
package signal

import (
	"math"
	"sync"
)

const (
	// DefaultWindow readings retained per device.
	DefaultWindow = 5
	// DefaultAlpha EMA weight of the newest reading.
	DefaultAlpha = 0.3
	// DefaultTxPower measured RSSI at one meter.
	DefaultTxPower = -59
	// DefaultPathLossExponent indoor path-loss exponent.
	DefaultPathLossExponent = 2.5
)

// Smoother keeps the last N readings of one device.
type Smoother struct {
	window  int
	alpha   float64
	history []int
}

// NewSmoother window <= 0 or alpha outside (0,1] fall back to the defaults.
func NewSmoother(window int, alpha float64) *Smoother {
	if window <= 0 {
		window = DefaultWindow
	}
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultAlpha
	}
	return &Smoother{window: window, alpha: alpha, history: make([]int, 0, window)}
}

// Push appends a reading, evicts beyond the window and returns the smoothed value.
func (s *Smoother) Push(rssi int) int {
	s.history = append(s.history, rssi)
	if len(s.history) > s.window {
		s.history = append(s.history[:0], s.history[len(s.history)-s.window:]...)
	}
	return s.Value()
}

// Value the EMA over the retained history, seeded with the oldest reading,
// rounded to the nearest integer. Zero when empty.
func (s *Smoother) Value() int {
	if len(s.history) == 0 {
		return 0
	}
	ema := float64(s.history[0])
	for _, x := range s.history[1:] {
		ema = s.alpha*float64(x) + (1-s.alpha)*ema
	}
	return int(math.Round(ema))
}

// Len readings currently retained.
func (s *Smoother) Len() int { return len(s.history) }

// Reset drops the history.
func (s *Smoother) Reset() { s.history = s.history[:0] }

// EstimateDistance log-distance path-loss model, meters rounded to 2 decimals.
func EstimateDistance(rssi int, txPower int, n float64) float64 {
	if n <= 0 {
		n = DefaultPathLossExponent
	}
	d := math.Pow(10, float64(txPower-rssi)/(10*n))
	return math.Round(d*100) / 100
}

// Tracker one smoother per device id.
type Tracker struct {
	mu        sync.Mutex
	window    int
	alpha     float64
	smoothers map[string]*Smoother
}

// NewTracker creates a tracker whose smoothers use window and alpha.
func NewTracker(window int, alpha float64) *Tracker {
	return &Tracker{window: window, alpha: alpha, smoothers: make(map[string]*Smoother)}
}

// Push records a reading for deviceID and returns the smoothed RSSI.
func (t *Tracker) Push(deviceID string, rssi int) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.smoothers[deviceID]
	if !ok {
		s = NewSmoother(t.window, t.alpha)
		t.smoothers[deviceID] = s
	}
	return s.Push(rssi)
}

// Reset forgets the history of deviceID.
func (t *Tracker) Reset(deviceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.smoothers, deviceID)
}

// Len devices with history.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.smoothers)
}
