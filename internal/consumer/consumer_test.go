package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/config"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/dispatch"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/models"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/mqttx"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/redisx"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/registry"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/timeutil"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var start = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakeBroker struct {
	mu        sync.Mutex
	handlers  map[string]mqttx.MessageHandler
	published map[string][][]byte
	failTopic string
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{handlers: map[string]mqttx.MessageHandler{}, published: map[string][][]byte{}}
}

func (b *fakeBroker) Subscribe(topic string, _ byte, h mqttx.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = h
	return nil
}

func (b *fakeBroker) Unsubscribe(topics ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range topics {
		delete(b.handlers, t)
	}
	return nil
}

func (b *fakeBroker) Publish(topic string, _ byte, _ bool, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if topic == b.failTopic {
		return errors.New("broker unavailable")
	}
	b.published[topic] = append(b.published[topic], payload)
	return nil
}

func (b *fakeBroker) handler(topic string) mqttx.MessageHandler {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handlers[topic]
}

type fakeProcessor struct {
	mu        sync.Mutex
	locations []models.LocationUpdate
	samples   []models.ProximitySample
	err       error
}

func (p *fakeProcessor) ProcessLocation(_ context.Context, u models.LocationUpdate) ([]models.GeofenceEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.locations = append(p.locations, u)
	return nil, p.err
}

func (p *fakeProcessor) ProcessProximity(_ context.Context, s models.ProximitySample) ([]models.ProximityEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.samples = append(p.samples, s)
	return nil, p.err
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.MQTT.QoS = 1
	cfg.Proximity.LocationTopic = "sentinel/location/+"
	cfg.Proximity.ProximityTopic = "sentinel/proximity/+"
	return cfg
}

func TestMQTTConsumer_Subscriptions(t *testing.T) {
	broker := newFakeBroker()
	proc := &fakeProcessor{}
	c := NewMQTTConsumer(testConfig(), broker, proc, timeutil.NewMockClock(start), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	require.Eventually(t, func() bool {
		return broker.handler("sentinel/location/+") != nil && broker.handler("sentinel/proximity/+") != nil
	}, time.Second, 5*time.Millisecond)

	h := broker.handler("sentinel/location/+")
	require.NoError(t, h("sentinel/location/u1", []byte(`{"coordinates":{"lat":37.7749,"lon":-122.4194}}`)))

	cancel()
	require.NoError(t, <-done)
	c.Stop()
	assert.Nil(t, broker.handler("sentinel/location/+"))

	require.Len(t, proc.locations, 1)
	assert.Equal(t, "u1", proc.locations[0].UserID)
	assert.True(t, start.Equal(proc.locations[0].Timestamp))
}

func TestMQTTConsumer_HandleProximity(t *testing.T) {
	proc := &fakeProcessor{}
	c := NewMQTTConsumer(testConfig(), newFakeBroker(), proc, timeutil.NewMockClock(start), zap.NewNop())

	ts := start.Add(-time.Minute)
	payload := `{"user_id":"u2","mac_address":"AA:BB:CC:DD:EE:FF","rssi":-60,"type":"rssi_update","timestamp":"` + ts.Format(time.RFC3339) + `"}`
	require.NoError(t, c.HandleProximity(context.Background(), "sentinel/proximity/u1", []byte(payload)))

	require.Len(t, proc.samples, 1)
	s := proc.samples[0]
	assert.Equal(t, "u2", s.UserID)
	assert.Equal(t, models.SampleRSSIUpdate, s.Kind)
	require.NotNil(t, s.RSSI)
	assert.Equal(t, -60, *s.RSSI)
	assert.True(t, ts.Equal(s.Timestamp))
}

func TestMQTTConsumer_Errors(t *testing.T) {
	proc := &fakeProcessor{err: errors.New("rejected")}
	c := NewMQTTConsumer(testConfig(), newFakeBroker(), proc, nil, zap.NewNop())

	assert.Error(t, c.HandleLocation(context.Background(), "sentinel/location/u1", []byte(`not json`)))
	assert.Empty(t, proc.locations)
	assert.EqualError(t, c.HandleLocation(context.Background(), "sentinel/location/u1", []byte(`{}`)), "rejected")
}

func TestUserFromTopic(t *testing.T) {
	assert.Equal(t, "u1", userFromTopic("sentinel/location/u1"))
	assert.Equal(t, "u1", userFromTopic("sentinel/location/u1/"))
	assert.Equal(t, "", userFromTopic("sentinel/location/+"))
	assert.Equal(t, "", userFromTopic("location"))
}

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestEventPublisher(t *testing.T) {
	rdb := setupRedis(t)
	broker := newFakeBroker()
	pub := NewEventPublisher(rdb, broker, "events", "sentinel/events/", 1, zap.NewNop())
	ctx := context.Background()

	pub.OnGeofenceEvent(ctx, models.GeofenceEvent{ID: "e1", GeofenceID: "z1", UserID: "u1", Transition: models.TransitionEnter})
	pub.OnProximityEvent(ctx, models.ProximityEvent{ID: "e2", DeviceID: "d1", UserID: "u1", NewState: models.DeviceInRange})

	msgs, err := redisx.ReadRecent(ctx, rdb, "events", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	var latest StreamEvent
	require.NoError(t, json.Unmarshal(msgs[0].Data(), &latest))
	assert.Equal(t, EventProximity, latest.Kind)
	require.NotNil(t, latest.Proximity)
	assert.Equal(t, "d1", latest.Proximity.DeviceID)

	require.Len(t, broker.published["sentinel/events/u1"], 2)
	var first StreamEvent
	require.NoError(t, json.Unmarshal(broker.published["sentinel/events/u1"][0], &first))
	assert.Equal(t, EventGeofence, first.Kind)
	assert.Equal(t, "z1", first.Geofence.GeofenceID)
}

func TestEventPublisher_FailuresAreLogged(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	broker := newFakeBroker()
	broker.failTopic = "sentinel/events/u1"
	pub := NewEventPublisher(nil, broker, "events", "sentinel/events/", 0, zap.New(core))

	pub.OnGeofenceEvent(context.Background(), models.GeofenceEvent{UserID: "u1"})

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "Failed to publish event to MQTT", entry.Message)
	assert.Equal(t, "sentinel/events/u1", entry.ContextMap()["topic"])
}

func TestStateManager_SaveAndRestore(t *testing.T) {
	rdb := setupRedis(t)
	sm := NewStateManager(rdb, "state:", time.Hour, zap.NewNop())
	ctx := context.Background()

	reg := registry.NewRegistry(zap.NewNop())
	require.NoError(t, reg.PutZone(models.Zone{
		ID: "z1", UserID: "u1", Name: "Home", Enabled: true,
		Geometry: models.NewCircleGeometry(models.GeoPoint{Lat: 1, Lon: 1}, 50),
	}))
	require.NoError(t, reg.PutZone(models.Zone{
		ID: "z2", UserID: "u1", Name: "Gym", Enabled: true,
		Geometry: models.NewCircleGeometry(models.GeoPoint{Lat: 2, Lon: 2}, 50),
	}))
	require.NoError(t, reg.PutDevice(models.Device{ID: "d1", UserID: "u1", MACAddress: "aa:bb:cc:dd:ee:ff", Enabled: true}))

	entered := start.Add(-10 * time.Minute)
	require.NoError(t, sm.SaveZone(ctx, "z1", models.ZoneRuntime{CurrentState: models.ZoneInside, EnteredAt: &entered, VisitCount: 3}))
	rssi := -55
	require.NoError(t, sm.SaveDevice(ctx, "d1", models.DeviceRuntime{CurrentState: models.DeviceInRange, LastSeen: &entered, LastRSSI: &rssi}))

	inside, err := sm.Restore(ctx, reg)
	require.NoError(t, err)
	require.Len(t, inside, 1)
	assert.Equal(t, "z1", inside[0].ID)
	assert.True(t, entered.Equal(*inside[0].EnteredAt))

	z2, _ := reg.GetZone("z2")
	assert.Equal(t, models.ZoneUnknown, z2.CurrentState)

	d1, _ := reg.GetDevice("d1")
	assert.Equal(t, models.DeviceInRange, d1.CurrentState)
	assert.Equal(t, -55, *d1.LastRSSI)

	ttl := rdb.TTL(ctx, "state:zone:z1").Val()
	assert.True(t, ttl > 0 && ttl <= time.Hour)

	require.NoError(t, sm.Forget(ctx, models.EntityRef{Kind: models.EntityZone, ID: "z1"}))
	assert.Equal(t, int64(0), rdb.Exists(ctx, "state:zone:z1").Val())
}

type fakeQueue struct {
	tasks []dispatch.ReminderTask
	err   error
}

func (q *fakeQueue) PopDue(_ context.Context, now time.Time, _ int64) ([]dispatch.ReminderTask, error) {
	var due, rest []dispatch.ReminderTask
	for _, task := range q.tasks {
		if !task.DueAt.After(now) {
			due = append(due, task)
		} else {
			rest = append(rest, task)
		}
	}
	q.tasks = rest
	return due, q.err
}

func TestReminderRelay_Flush(t *testing.T) {
	broker := newFakeBroker()
	broker.failTopic = "sentinel/reminders/u2"
	queue := &fakeQueue{tasks: []dispatch.ReminderTask{
		{ID: "r1", UserID: "u1", Message: "water plants", DueAt: start},
		{ID: "r2", UserID: "u2", Message: "lock door", DueAt: start},
		{ID: "r3", UserID: "u1", Message: "later", DueAt: start.Add(time.Hour)},
	}}
	relay := NewReminderRelay(queue, broker, "sentinel/reminders/", 1, time.Second, nil, zap.NewNop())

	assert.Equal(t, 1, relay.Flush(context.Background(), start))
	require.Len(t, broker.published["sentinel/reminders/u1"], 1)

	var got dispatch.ReminderTask
	require.NoError(t, json.Unmarshal(broker.published["sentinel/reminders/u1"][0], &got))
	assert.Equal(t, "water plants", got.Message)
	assert.Len(t, queue.tasks, 1)
}

func TestReminderRelay_RunTicks(t *testing.T) {
	broker := newFakeBroker()
	clock := timeutil.NewMockClock(start)
	queue := &fakeQueue{tasks: []dispatch.ReminderTask{{ID: "r1", UserID: "u1", DueAt: start.Add(3 * time.Second)}}}
	relay := NewReminderRelay(queue, broker, "sentinel/reminders/", 0, time.Second, clock, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	require.Eventually(t, func() bool { return clock.ActiveTickers() == 1 }, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		clock.Advance(time.Second)
		broker.mu.Lock()
		defer broker.mu.Unlock()
		return len(broker.published["sentinel/reminders/u1"]) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
