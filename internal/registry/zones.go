package registry

import (
	"github.com/dsiemon2/OpenSentinel-sub008/internal/apperror"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/models"
	"go.uber.org/zap"
)

func cloneZone(z models.Zone) models.Zone {
	if z.Geometry.Circle != nil {
		c := *z.Geometry.Circle
		z.Geometry.Circle = &c
	}
	if z.Geometry.Polygon != nil {
		p := models.Polygon{Vertices: append([]models.GeoPoint(nil), z.Geometry.Polygon.Vertices...)}
		z.Geometry.Polygon = &p
	}
	return z
}

// PutZone creates or replaces a zone's configuration. Runtime state of an
// existing zone is kept, except that disabling an occupied zone forgets the
// visit and notifies disable listeners.
func (r *Registry) PutZone(z models.Zone) error {
	vacated, err := r.putZone(z)
	if err != nil {
		return err
	}
	if vacated != nil {
		r.notifyDisabled(*vacated)
	}
	return nil
}

func (r *Registry) putZone(z models.Zone) (*models.Zone, error) {
	const op = "registry.PutZone"
	if err := r.validate.Struct(z); err != nil {
		return nil, apperror.FromValidator(op, err)
	}
	if err := z.Geometry.Validate(); err != nil {
		return nil, apperror.Validation(op, err)
	}
	z = cloneZone(z)

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.zones[z.ID]; ok {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.zone.UserID != z.UserID {
			return nil, apperror.Validationf(op, "zone %s belongs to another user", z.ID)
		}
		rt := e.zone.Runtime()
		var vacated *models.Zone
		if !z.Enabled && rt.CurrentState == models.ZoneInside {
			rt.CurrentState = models.ZoneUnknown
			rt.EnteredAt = nil
		}
		z.ApplyRuntime(rt)
		if e.zone.CurrentState == models.ZoneInside && z.CurrentState != models.ZoneInside {
			c := cloneZone(z)
			vacated = &c
		}
		e.zone = z
		r.logger.Debug("Zone updated", zap.String("zone_id", z.ID), zap.Bool("enabled", z.Enabled))
		return vacated, nil
	}

	if z.CurrentState == "" {
		z.CurrentState = models.ZoneUnknown
	}
	r.zones[z.ID] = &zoneEntry{zone: z}
	addIndex(r.zonesByUser, z.UserID, z.ID)
	r.logger.Debug("Zone created", zap.String("zone_id", z.ID), zap.String("user_id", z.UserID))
	return nil, nil
}

func (r *Registry) zoneEntry(id string) (*zoneEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.zones[id]
	return e, ok
}

// GetZone returns a snapshot of the zone.
func (r *Registry) GetZone(id string) (models.Zone, bool) {
	e, ok := r.zoneEntry(id)
	if !ok {
		return models.Zone{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return models.Zone{}, false
	}
	return cloneZone(e.zone), true
}

// ZoneIDsForUser ids of the user's zones in id order.
func (r *Registry) ZoneIDsForUser(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.zonesByUser[userID])
}

// ZonesForUser snapshots of the user's zones in id order.
func (r *Registry) ZonesForUser(userID string) []models.Zone {
	ids := r.ZoneIDsForUser(userID)
	zones := make([]models.Zone, 0, len(ids))
	for _, id := range ids {
		if z, ok := r.GetZone(id); ok {
			zones = append(zones, z)
		}
	}
	return zones
}

// Zones snapshots of every zone.
func (r *Registry) Zones() []models.Zone {
	r.mu.RLock()
	ids := make([]string, 0, len(r.zones))
	for id := range r.zones {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	zones := make([]models.Zone, 0, len(ids))
	for _, id := range ids {
		if z, ok := r.GetZone(id); ok {
			zones = append(zones, z)
		}
	}
	return zones
}

// UpdateZone runs fn on a copy of the zone under the zone's lock and stores
// its runtime fields. Configuration changes made by fn are discarded. An
// error from fn aborts the update.
func (r *Registry) UpdateZone(id string, fn func(z *models.Zone) error) (models.Zone, error) {
	const op = "registry.UpdateZone"
	e, ok := r.zoneEntry(id)
	if !ok {
		return models.Zone{}, apperror.State(op, ErrNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return models.Zone{}, apperror.State(op, ErrNotFound)
	}

	work := cloneZone(e.zone)
	if err := fn(&work); err != nil {
		return cloneZone(e.zone), err
	}
	e.zone.ApplyRuntime(work.Runtime())
	return cloneZone(e.zone), nil
}

// DeleteZone removes the zone and its triggers, then notifies removal listeners.
func (r *Registry) DeleteZone(id string) error {
	const op = "registry.DeleteZone"
	ref := models.EntityRef{Kind: models.EntityZone, ID: id}

	r.mu.Lock()
	e, ok := r.zones[id]
	if !ok {
		r.mu.Unlock()
		return apperror.State(op, ErrNotFound)
	}
	delete(r.zones, id)
	e.mu.Lock()
	e.deleted = true
	userID := e.zone.UserID
	e.mu.Unlock()
	removeIndex(r.zonesByUser, userID, id)
	removed := r.removeTriggersLocked(ref)
	r.mu.Unlock()

	r.logger.Info("Zone deleted",
		zap.String("zone_id", id),
		zap.Int("triggers_removed", removed),
	)
	r.notifyRemoved(ref)
	return nil
}
