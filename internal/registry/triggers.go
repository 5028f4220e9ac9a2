package registry

import (
	"time"

	"github.com/dsiemon2/OpenSentinel-sub008/internal/apperror"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/models"
	"go.uber.org/zap"
)

// PutTrigger creates or replaces a trigger. The referenced zone or device must
// exist and belong to the same user. Fire history of an existing trigger is kept.
func (r *Registry) PutTrigger(t models.Trigger) error {
	const op = "registry.PutTrigger"
	if err := r.validate.Struct(t); err != nil {
		return apperror.FromValidator(op, err)
	}
	if err := t.Validate(); err != nil {
		return apperror.Validation(op, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	owner, ok := r.ownerLocked(t.Entity)
	if !ok {
		return apperror.Validationf(op, "trigger %s references missing %s", t.ID, t.Entity)
	}
	if owner != t.UserID {
		return apperror.Validationf(op, "trigger %s references %s of another user", t.ID, t.Entity)
	}

	if e, ok := r.triggers[t.ID]; ok {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.trigger.Entity != t.Entity {
			removeIndex(r.byEntity, e.trigger.Entity, t.ID)
			addIndex(r.byEntity, t.Entity, t.ID)
		}
		t.LastFiredAt = e.trigger.LastFiredAt
		t.FireCount = e.trigger.FireCount
		e.trigger = t
		r.logger.Debug("Trigger updated", zap.String("trigger_id", t.ID))
		return nil
	}

	t.LastFiredAt = nil
	t.FireCount = 0
	r.triggers[t.ID] = &triggerEntry{trigger: t}
	addIndex(r.byEntity, t.Entity, t.ID)
	r.logger.Debug("Trigger created",
		zap.String("trigger_id", t.ID),
		zap.String("entity", t.Entity.String()),
		zap.String("trigger_on", string(t.TriggerOn)),
	)
	return nil
}

func (r *Registry) ownerLocked(ref models.EntityRef) (string, bool) {
	switch ref.Kind {
	case models.EntityZone:
		if e, ok := r.zones[ref.ID]; ok {
			e.mu.Lock()
			defer e.mu.Unlock()
			return e.zone.UserID, true
		}
	case models.EntityDevice:
		if e, ok := r.devices[ref.ID]; ok {
			e.mu.Lock()
			defer e.mu.Unlock()
			return e.device.UserID, true
		}
	}
	return "", false
}

func (r *Registry) triggerEntry(id string) (*triggerEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.triggers[id]
	return e, ok
}

// GetTrigger returns a snapshot of the trigger.
func (r *Registry) GetTrigger(id string) (models.Trigger, bool) {
	e, ok := r.triggerEntry(id)
	if !ok {
		return models.Trigger{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return models.Trigger{}, false
	}
	return e.trigger, true
}

// TriggersFor snapshots of the triggers attached to ref, in id order.
func (r *Registry) TriggersFor(ref models.EntityRef) []models.Trigger {
	r.mu.RLock()
	ids := sortedKeys(r.byEntity[ref])
	r.mu.RUnlock()

	out := make([]models.Trigger, 0, len(ids))
	for _, id := range ids {
		if t, ok := r.GetTrigger(id); ok {
			out = append(out, t)
		}
	}
	return out
}

// DeleteTrigger removes one trigger.
func (r *Registry) DeleteTrigger(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.triggers[id]
	if !ok {
		return apperror.State("registry.DeleteTrigger", ErrNotFound)
	}
	r.dropTriggerLocked(id, e)
	return nil
}

func (r *Registry) dropTriggerLocked(id string, e *triggerEntry) {
	e.mu.Lock()
	e.deleted = true
	ref := e.trigger.Entity
	e.mu.Unlock()
	delete(r.triggers, id)
	removeIndex(r.byEntity, ref, id)
}

func (r *Registry) removeTriggersLocked(ref models.EntityRef) int {
	ids := sortedKeys(r.byEntity[ref])
	for _, id := range ids {
		if e, ok := r.triggers[id]; ok {
			r.dropTriggerLocked(id, e)
		}
	}
	delete(r.byEntity, ref)
	return len(ids)
}

// FireTrigger atomically asks allow whether the trigger may fire and, if so,
// records LastFiredAt = now and increments FireCount. The returned trigger is
// the state after the decision. A deleted trigger yields a state error.
func (r *Registry) FireTrigger(id string, now time.Time, allow func(t models.Trigger) bool) (models.Trigger, bool, error) {
	const op = "registry.FireTrigger"
	e, ok := r.triggerEntry(id)
	if !ok {
		return models.Trigger{}, false, apperror.State(op, ErrNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return models.Trigger{}, false, apperror.State(op, ErrNotFound)
	}
	if !allow(e.trigger) {
		return e.trigger, false, nil
	}
	e.trigger.LastFiredAt = timePtr(now)
	e.trigger.FireCount++
	return e.trigger, true, nil
}

// RestoreFireHistory sets the persisted cooldown state of a loaded trigger.
func (r *Registry) RestoreFireHistory(id string, lastFiredAt *time.Time, fireCount int) error {
	e, ok := r.triggerEntry(id)
	if !ok {
		return apperror.State("registry.RestoreFireHistory", ErrNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if lastFiredAt != nil {
		e.trigger.LastFiredAt = timePtr(*lastFiredAt)
	} else {
		e.trigger.LastFiredAt = nil
	}
	e.trigger.FireCount = fireCount
	return nil
}
