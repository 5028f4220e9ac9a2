package processor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dsiemon2/OpenSentinel-sub008/internal/apperror"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/models"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/registry"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeTimers struct {
	mu      sync.Mutex
	started map[string]time.Time
	stopped []string
}

func newFakeTimers() *fakeTimers { return &fakeTimers{started: map[string]time.Time{}} }

func (f *fakeTimers) Start(zoneID string, enteredAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started[zoneID] = enteredAt
}

func (f *fakeTimers) Stop(zoneID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.started, zoneID)
	f.stopped = append(f.stopped, zoneID)
}

type captureSink struct {
	mu        sync.Mutex
	geofence  []models.GeofenceEvent
	proximity []models.ProximityEvent
}

func (c *captureSink) OnGeofenceEvent(_ context.Context, ev models.GeofenceEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.geofence = append(c.geofence, ev)
}

func (c *captureSink) OnProximityEvent(_ context.Context, ev models.ProximityEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.proximity = append(c.proximity, ev)
}

type memoryState struct {
	zones   map[string]models.ZoneRuntime
	devices map[string]models.DeviceRuntime
}

func (m *memoryState) SaveZone(_ context.Context, id string, rt models.ZoneRuntime) error {
	m.zones[id] = rt
	return nil
}

func (m *memoryState) SaveDevice(_ context.Context, id string, rt models.DeviceRuntime) error {
	m.devices[id] = rt
	return nil
}

var (
	home    = models.GeoPoint{Lat: 37.7749, Lon: -122.4194}
	nearby  = models.GeoPoint{Lat: 37.7752, Lon: -122.4194}
	faraway = models.GeoPoint{Lat: 37.7800, Lon: -122.4194}
	t0      = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
)

type fixture struct {
	reg    *registry.Registry
	clock  *timeutil.MockClock
	timers *fakeTimers
	sink   *captureSink
	state  *memoryState
	proc   *Processor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := registry.NewRegistry(zap.NewNop())
	require.NoError(t, reg.PutZone(models.Zone{
		ID: "z1", UserID: "u1", Name: "Home", Enabled: true,
		Geometry: models.NewCircleGeometry(home, 100),
	}))
	require.NoError(t, reg.PutDevice(models.Device{
		ID: "d1", UserID: "u1", Name: "Keys", MACAddress: "AA:BB:CC:DD:EE:FF", RSSIThreshold: -70, Enabled: true,
	}))

	f := &fixture{
		reg:    reg,
		clock:  timeutil.NewMockClock(t0),
		timers: newFakeTimers(),
		sink:   &captureSink{},
		state:  &memoryState{zones: map[string]models.ZoneRuntime{}, devices: map[string]models.DeviceRuntime{}},
	}
	f.proc = NewProcessor(reg, Options{Timers: f.timers, State: f.state, Clock: f.clock}, zap.NewNop())
	f.proc.AddSink(f.sink)
	return f
}

func (f *fixture) locate(t *testing.T, p models.GeoPoint) []models.GeofenceEvent {
	t.Helper()
	evs, err := f.proc.ProcessLocation(context.Background(), models.LocationUpdate{UserID: "u1", Coordinates: p, Timestamp: f.clock.Now()})
	require.NoError(t, err)
	return evs
}

func (f *fixture) sample(t *testing.T, kind models.SampleKind, rssi *int) []models.ProximityEvent {
	t.Helper()
	evs, err := f.proc.ProcessProximity(context.Background(), models.ProximitySample{
		MACAddress: "aa-bb-cc-dd-ee-ff", Kind: kind, RSSI: rssi, Timestamp: f.clock.Now(),
	})
	require.NoError(t, err)
	return evs
}

func intPtr(v int) *int { return &v }

func TestZone_EnterThenExit(t *testing.T) {
	f := newFixture(t)

	assert.Empty(t, f.locate(t, faraway))
	z, _ := f.reg.GetZone("z1")
	assert.Equal(t, models.ZoneOutside, z.CurrentState)

	evs := f.locate(t, nearby)
	require.Len(t, evs, 1)
	assert.Equal(t, models.TransitionEnter, evs[0].Transition)
	assert.Equal(t, "Home", evs[0].ZoneName)
	assert.NotEmpty(t, evs[0].ID)
	assert.Contains(t, f.timers.started, "z1")

	z, _ = f.reg.GetZone("z1")
	assert.Equal(t, models.ZoneInside, z.CurrentState)
	assert.Equal(t, 1, z.VisitCount)
	require.NotNil(t, z.EnteredAt)

	// idempotent while inside
	assert.Empty(t, f.locate(t, home))

	f.clock.Advance(12 * time.Minute)
	evs = f.locate(t, faraway)
	require.Len(t, evs, 1)
	assert.Equal(t, models.TransitionExit, evs[0].Transition)
	require.NotNil(t, evs[0].DwellTimeMinutes)
	assert.InDelta(t, 12.0, *evs[0].DwellTimeMinutes, 1e-9)
	assert.NotContains(t, f.timers.started, "z1")

	z, _ = f.reg.GetZone("z1")
	assert.Equal(t, models.ZoneOutside, z.CurrentState)
	assert.Nil(t, z.EnteredAt)
	assert.InDelta(t, 12.0, z.TotalDwellMinutes, 1e-9)
	assert.True(t, t0.Add(12*time.Minute).Equal(*z.ExitedAt))

	assert.Len(t, f.sink.geofence, 2)
	assert.Equal(t, models.ZoneOutside, f.state.zones["z1"].CurrentState)
}

func TestZone_FirstObservationInsideIsSilent(t *testing.T) {
	f := newFixture(t)

	assert.Empty(t, f.locate(t, home))
	z, _ := f.reg.GetZone("z1")
	assert.Equal(t, models.ZoneInside, z.CurrentState)
	assert.Equal(t, 0, z.VisitCount)
	require.NotNil(t, z.EnteredAt)
	assert.Contains(t, f.timers.started, "z1")
	assert.Empty(t, f.sink.geofence)

	f.clock.Advance(time.Minute)
	evs := f.locate(t, faraway)
	require.Len(t, evs, 1)
	assert.Equal(t, models.TransitionExit, evs[0].Transition)
}

func TestZone_DisabledIsIgnored(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.reg.PutZone(models.Zone{
		ID: "z1", UserID: "u1", Name: "Home", Enabled: false,
		Geometry: models.NewCircleGeometry(home, 100),
	}))
	assert.Empty(t, f.locate(t, home))
	z, _ := f.reg.GetZone("z1")
	assert.Equal(t, models.ZoneUnknown, z.CurrentState)
}

func TestZone_OtherUsersUnaffected(t *testing.T) {
	f := newFixture(t)
	evs, err := f.proc.ProcessLocation(context.Background(), models.LocationUpdate{UserID: "u2", Coordinates: home})
	require.NoError(t, err)
	assert.Empty(t, evs)
	z, _ := f.reg.GetZone("z1")
	assert.Equal(t, models.ZoneUnknown, z.CurrentState)
}

func TestZone_InvalidCoordinates(t *testing.T) {
	f := newFixture(t)
	_, err := f.proc.ProcessLocation(context.Background(), models.LocationUpdate{UserID: "u1", Coordinates: models.GeoPoint{Lat: 123}})
	assert.True(t, apperror.IsValidation(err))
	z, _ := f.reg.GetZone("z1")
	assert.Equal(t, models.ZoneUnknown, z.CurrentState)
}

func TestZone_DeleteStopsTimer(t *testing.T) {
	f := newFixture(t)
	f.locate(t, home)
	require.Contains(t, f.timers.started, "z1")

	require.NoError(t, f.reg.DeleteZone("z1"))
	assert.NotContains(t, f.timers.started, "z1")
	assert.Empty(t, f.locate(t, faraway))
}

func TestZone_DisableWhileInsideStopsTimer(t *testing.T) {
	f := newFixture(t)
	f.locate(t, home)
	require.Contains(t, f.timers.started, "z1")

	require.NoError(t, f.reg.PutZone(models.Zone{
		ID: "z1", UserID: "u1", Name: "Home", Enabled: false,
		Geometry: models.NewCircleGeometry(home, 100),
	}))
	assert.NotContains(t, f.timers.started, "z1")
	assert.Equal(t, models.ZoneUnknown, f.state.zones["z1"].CurrentState)
	assert.Empty(t, f.locate(t, faraway))
}

func TestZone_TimerFollowsVisitUnderContention(t *testing.T) {
	reg := registry.NewRegistry(zap.NewNop())
	require.NoError(t, reg.PutZone(models.Zone{
		ID: "z1", UserID: "u1", Name: "Home", Enabled: true,
		Geometry: models.NewCircleGeometry(home, 100),
	}))
	clock := timeutil.NewMockClock(t0)
	timers := newFakeTimers()
	proc := NewProcessor(reg, Options{Timers: timers, Clock: clock}, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 60; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := home
			if i%2 == 1 {
				p = faraway
			}
			clock.Advance(time.Second)
			_, _ = proc.ProcessLocation(context.Background(), models.LocationUpdate{UserID: "u1", Coordinates: p})
		}(i)
	}
	wg.Wait()

	z, _ := reg.GetZone("z1")
	timers.mu.Lock()
	defer timers.mu.Unlock()
	if z.CurrentState == models.ZoneInside {
		require.Contains(t, timers.started, "z1")
		assert.True(t, z.EnteredAt.Equal(timers.started["z1"]), "timer belongs to the current visit")
	} else {
		assert.NotContains(t, timers.started, "z1")
	}
}

func TestDevice_LiteralFiveSamplesStayOutOfRange(t *testing.T) {
	f := newFixture(t)

	for _, v := range []int{-90, -65, -65, -65, -65} {
		for _, ev := range f.sample(t, models.SampleRSSIUpdate, intPtr(v)) {
			assert.NotEqual(t, models.DeviceInRange, ev.NewState)
		}
	}
	d, _ := f.reg.GetDevice("d1")
	assert.Equal(t, models.DeviceOutOfRange, d.CurrentState)
	assert.Equal(t, -71, *d.LastRSSI)
}

func TestDevice_SmoothedCrossingEmitsOnce(t *testing.T) {
	f := newFixture(t)

	var inRange []models.ProximityEvent
	for i, v := range []int{-90, -65, -65, -65, -65, -65} {
		for _, ev := range f.sample(t, models.SampleRSSIUpdate, intPtr(v)) {
			if ev.NewState == models.DeviceInRange {
				inRange = append(inRange, ev)
				assert.Equal(t, 5, i, "crossing happens once -90 leaves the window")
			}
		}
	}
	require.Len(t, inRange, 1)
	assert.Equal(t, models.DeviceOutOfRange, inRange[0].PreviousState)
	assert.Equal(t, -65, *inRange[0].RSSI)
	assert.NotNil(t, inRange[0].Distance)

	d, _ := f.reg.GetDevice("d1")
	assert.Equal(t, models.DeviceInRange, d.CurrentState)
	assert.Equal(t, -65, *d.LastRSSI)
	assert.True(t, t0.Equal(*d.LastSeen))
	assert.Equal(t, models.DeviceInRange, f.state.devices["d1"].CurrentState)
}

func TestDevice_LostAndDetected(t *testing.T) {
	f := newFixture(t)

	evs := f.sample(t, models.SampleDetected, nil)
	require.Len(t, evs, 1)
	assert.Equal(t, models.DeviceUnknown, evs[0].PreviousState)
	assert.Equal(t, models.DeviceInRange, evs[0].NewState)
	assert.Nil(t, evs[0].RSSI)

	assert.Empty(t, f.sample(t, models.SampleDetected, nil))

	evs = f.sample(t, models.SampleLost, nil)
	require.Len(t, evs, 1)
	assert.Equal(t, models.DeviceOutOfRange, evs[0].NewState)
	assert.Len(t, f.sink.proximity, 2)
}

func TestDevice_LostResetsSmoothing(t *testing.T) {
	f := newFixture(t)
	f.sample(t, models.SampleRSSIUpdate, intPtr(-95))
	f.sample(t, models.SampleLost, nil)

	// without the reset the old -95 would drag this below the threshold
	evs := f.sample(t, models.SampleRSSIUpdate, intPtr(-60))
	require.Len(t, evs, 1)
	assert.Equal(t, models.DeviceInRange, evs[0].NewState)
}

func TestDevice_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.proc.ProcessProximity(ctx, models.ProximitySample{MACAddress: "11:22:33:44:55:66", Kind: models.SampleDetected})
	assert.True(t, apperror.IsValidation(err))

	_, err = f.proc.ProcessProximity(ctx, models.ProximitySample{MACAddress: "aa:bb:cc:dd:ee:ff", Kind: models.SampleRSSIUpdate})
	assert.True(t, apperror.IsValidation(err))

	_, err = f.proc.ProcessProximity(ctx, models.ProximitySample{MACAddress: "aa:bb:cc:dd:ee:ff", Kind: "ping"})
	assert.True(t, apperror.IsValidation(err))

	_, err = f.proc.ProcessProximity(ctx, models.ProximitySample{MACAddress: "aa:bb:cc:dd:ee:ff", Kind: models.SampleDetected, UserID: "u2"})
	assert.True(t, apperror.IsValidation(err))

	d, _ := f.reg.GetDevice("d1")
	assert.Equal(t, models.DeviceUnknown, d.CurrentState)
	assert.Empty(t, f.sink.proximity)
}

func TestDevice_ConcurrentSamplesSerialized(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.proc.ProcessProximity(context.Background(), models.ProximitySample{
				MACAddress: "aa:bb:cc:dd:ee:ff", Kind: models.SampleRSSIUpdate, RSSI: intPtr(-50),
			})
		}()
	}
	wg.Wait()

	// every sample is above the threshold: exactly one transition
	assert.Len(t, f.sink.proximity, 1)
}
