package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dsiemon2/OpenSentinel-sub008/internal/models"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// EntityRepository reads zones, devices and triggers and persists trigger fire history.
type EntityRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewEntityRepository creates an entity repository.
func NewEntityRepository(db *sql.DB, logger *zap.Logger) *EntityRepository {
	return &EntityRepository{
		db:     db,
		logger: logger,
	}
}

// LoadZones returns every zone. Rows with a malformed geometry are skipped and logged.
func (r *EntityRepository) LoadZones(ctx context.Context) ([]models.Zone, error) {
	query := `
		SELECT id, user_id, name, geometry, enabled
		FROM proximity_zones
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query zones: %w", err)
	}
	defer rows.Close()

	var zones []models.Zone
	for rows.Next() {
		var z models.Zone
		var geometry []byte
		if err := rows.Scan(&z.ID, &z.UserID, &z.Name, &geometry, &z.Enabled); err != nil {
			return nil, fmt.Errorf("failed to scan zone: %w", err)
		}
		g, err := models.ParseGeometry(geometry)
		if err != nil {
			r.logger.Warn("Skipping zone with invalid geometry", zap.String("zone_id", z.ID), zap.Error(err))
			continue
		}
		z.Geometry = g
		z.CurrentState = models.ZoneUnknown
		zones = append(zones, z)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate zones: %w", err)
	}
	return zones, nil
}

// LoadDevices returns every device.
func (r *EntityRepository) LoadDevices(ctx context.Context) ([]models.Device, error) {
	query := `
		SELECT id, user_id, name, mac_address, rssi_threshold, enabled
		FROM proximity_devices
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}
	defer rows.Close()

	var devices []models.Device
	for rows.Next() {
		var d models.Device
		if err := rows.Scan(&d.ID, &d.UserID, &d.Name, &d.MACAddress, &d.RSSIThreshold, &d.Enabled); err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		d.CurrentState = models.DeviceUnknown
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate devices: %w", err)
	}
	return devices, nil
}

// LoadTriggers returns every trigger with its fire history. Rows whose action
// cannot be decoded are skipped and logged.
func (r *EntityRepository) LoadTriggers(ctx context.Context) ([]models.Trigger, error) {
	query := `
		SELECT
			id, user_id, name, entity_kind, entity_id, trigger_on,
			cooldown_minutes, dwell_minutes, active_days,
			active_hours_start, active_hours_end, action, enabled,
			last_fired_at, fire_count
		FROM proximity_triggers
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query triggers: %w", err)
	}
	defer rows.Close()

	var triggers []models.Trigger
	for rows.Next() {
		var t models.Trigger
		var dwell sql.NullInt64
		var days pq.Int64Array
		var hoursStart, hoursEnd sql.NullString
		var action []byte
		var lastFired sql.NullTime

		err := rows.Scan(
			&t.ID, &t.UserID, &t.Name, &t.Entity.Kind, &t.Entity.ID, &t.TriggerOn,
			&t.CooldownMinutes, &dwell, &days,
			&hoursStart, &hoursEnd, &action, &t.Enabled,
			&lastFired, &t.FireCount,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trigger: %w", err)
		}

		if dwell.Valid {
			v := int(dwell.Int64)
			t.DwellMinutes = &v
		}
		if len(days) > 0 || hoursStart.Valid || hoursEnd.Valid {
			tr := &models.TimeRestriction{
				ActiveHoursStart: hoursStart.String,
				ActiveHoursEnd:   hoursEnd.String,
			}
			for _, d := range days {
				tr.ActiveDays = append(tr.ActiveDays, time.Weekday(d))
			}
			t.TimeRestriction = tr
		}
		if lastFired.Valid {
			v := lastFired.Time
			t.LastFiredAt = &v
		}

		a, err := models.UnmarshalAction(action)
		if err != nil {
			r.logger.Warn("Skipping trigger with invalid action", zap.String("trigger_id", t.ID), zap.Error(err))
			continue
		}
		t.Action = a
		triggers = append(triggers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate triggers: %w", err)
	}
	return triggers, nil
}

// RecordFire persists a trigger's cooldown state.
func (r *EntityRepository) RecordFire(ctx context.Context, triggerID string, firedAt time.Time, fireCount int) error {
	query := `
		UPDATE proximity_triggers
		SET last_fired_at = $2, fire_count = $3
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, triggerID, firedAt, fireCount)
	if err != nil {
		return fmt.Errorf("failed to record trigger fire: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("trigger not found: %s", triggerID)
	}
	return nil
}
