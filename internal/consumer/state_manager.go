package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dsiemon2/OpenSentinel-sub008/internal/models"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/registry"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// StateManager snapshots zone and device runtime state in Redis so a restart
// neither re-emits enter events nor loses an open visit.
type StateManager struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewStateManager stores snapshots under prefix with ttl (0 keeps them forever).
func NewStateManager(client *redis.Client, prefix string, ttl time.Duration, logger *zap.Logger) *StateManager {
	return &StateManager{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger,
	}
}

func (m *StateManager) zoneKey(id string) string   { return m.prefix + "zone:" + id }
func (m *StateManager) deviceKey(id string) string { return m.prefix + "device:" + id }

// SaveZone stores a zone snapshot.
func (m *StateManager) SaveZone(ctx context.Context, zoneID string, rt models.ZoneRuntime) error {
	return m.save(ctx, m.zoneKey(zoneID), rt)
}

// SaveDevice stores a device snapshot.
func (m *StateManager) SaveDevice(ctx context.Context, deviceID string, rt models.DeviceRuntime) error {
	return m.save(ctx, m.deviceKey(deviceID), rt)
}

func (m *StateManager) save(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := m.client.Set(ctx, key, data, m.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save state %s: %w", key, err)
	}
	return nil
}

func (m *StateManager) load(ctx context.Context, key string, v interface{}) (bool, error) {
	data, err := m.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load state %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to unmarshal state %s: %w", key, err)
	}
	return true, nil
}

// Forget removes the snapshot of a deleted entity.
func (m *StateManager) Forget(ctx context.Context, ref models.EntityRef) error {
	key := m.zoneKey(ref.ID)
	if ref.Kind == models.EntityDevice {
		key = m.deviceKey(ref.ID)
	}
	return m.client.Del(ctx, key).Err()
}

// Restore applies stored snapshots to the registry and returns the zones that
// were occupied, so their dwell timers can be resumed.
func (m *StateManager) Restore(ctx context.Context, reg *registry.Registry) ([]models.Zone, error) {
	var inside []models.Zone
	restored := 0

	for _, z := range reg.Zones() {
		var rt models.ZoneRuntime
		ok, err := m.load(ctx, m.zoneKey(z.ID), &rt)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if rt.CurrentState == models.ZoneInside && rt.EnteredAt == nil {
			m.logger.Warn("Discarding inconsistent zone snapshot", zap.String("zone_id", z.ID))
			continue
		}
		updated, err := reg.UpdateZone(z.ID, func(zz *models.Zone) error {
			zz.ApplyRuntime(rt)
			return nil
		})
		if err != nil {
			continue
		}
		restored++
		if updated.CurrentState == models.ZoneInside {
			inside = append(inside, updated)
		}
	}

	for _, d := range reg.Devices() {
		var rt models.DeviceRuntime
		ok, err := m.load(ctx, m.deviceKey(d.ID), &rt)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if _, err := reg.UpdateDevice(d.ID, func(dd *models.Device) error {
			dd.ApplyRuntime(rt)
			return nil
		}); err != nil {
			continue
		}
		restored++
	}

	m.logger.Info("Restored runtime state",
		zap.Int("entities", restored),
		zap.Int("occupied_zones", len(inside)),
	)
	return inside, nil
}
