package registry

import (
	"github.com/dsiemon2/OpenSentinel-sub008/internal/apperror"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/models"
	"go.uber.org/zap"
)

func cloneDevice(d models.Device) models.Device {
	if d.LastRSSI != nil {
		v := *d.LastRSSI
		d.LastRSSI = &v
	}
	return d
}

// PutDevice creates or replaces a device's configuration. The MAC address is
// normalized and must be unique per owner. Runtime state of an existing
// device is kept.
func (r *Registry) PutDevice(d models.Device) error {
	const op = "registry.PutDevice"
	mac, err := models.NormalizeMAC(d.MACAddress)
	if err != nil {
		return apperror.Validation(op, err)
	}
	d.MACAddress = mac
	if d.RSSIThreshold == 0 {
		d.RSSIThreshold = models.DefaultRSSIThreshold
	}
	if err := r.validate.Struct(d); err != nil {
		return apperror.FromValidator(op, err)
	}
	d = cloneDevice(d)

	r.mu.Lock()
	defer r.mu.Unlock()

	for otherID := range r.devicesByMAC[mac] {
		if otherID == d.ID {
			continue
		}
		other := r.devices[otherID]
		other.mu.Lock()
		sameOwner := other.device.UserID == d.UserID
		other.mu.Unlock()
		if sameOwner {
			return apperror.Validationf(op, "mac %s already registered as device %s", mac, otherID)
		}
	}

	if e, ok := r.devices[d.ID]; ok {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.device.UserID != d.UserID {
			return apperror.Validationf(op, "device %s belongs to another user", d.ID)
		}
		removeIndex(r.devicesByMAC, e.device.MACAddress, d.ID)
		addIndex(r.devicesByMAC, mac, d.ID)
		d.ApplyRuntime(e.device.Runtime())
		e.device = d
		r.logger.Debug("Device updated", zap.String("device_id", d.ID))
		return nil
	}

	if d.CurrentState == "" {
		d.CurrentState = models.DeviceUnknown
	}
	r.devices[d.ID] = &deviceEntry{device: d}
	addIndex(r.devicesByMAC, mac, d.ID)
	r.logger.Debug("Device created", zap.String("device_id", d.ID), zap.String("mac", mac))
	return nil
}

func (r *Registry) deviceEntry(id string) (*deviceEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.devices[id]
	return e, ok
}

// GetDevice returns a snapshot of the device.
func (r *Registry) GetDevice(id string) (models.Device, bool) {
	e, ok := r.deviceEntry(id)
	if !ok {
		return models.Device{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return models.Device{}, false
	}
	return cloneDevice(e.device), true
}

// DeviceIDsByMAC ids of devices with the given MAC, restricted to userID when
// it is not empty. The MAC is normalized first.
func (r *Registry) DeviceIDsByMAC(userID, mac string) ([]string, error) {
	norm, err := models.NormalizeMAC(mac)
	if err != nil {
		return nil, apperror.Validation("registry.DeviceIDsByMAC", err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, 1)
	for _, id := range sortedKeys(r.devicesByMAC[norm]) {
		if userID != "" {
			e := r.devices[id]
			e.mu.Lock()
			owner := e.device.UserID
			e.mu.Unlock()
			if owner != userID {
				continue
			}
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Devices snapshots of every device.
func (r *Registry) Devices() []models.Device {
	r.mu.RLock()
	ids := make([]string, 0, len(r.devices))
	for id := range r.devices {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	devices := make([]models.Device, 0, len(ids))
	for _, id := range ids {
		if d, ok := r.GetDevice(id); ok {
			devices = append(devices, d)
		}
	}
	return devices
}

// UpdateDevice runs fn on a copy of the device under the device's lock and
// stores its runtime fields. Configuration changes made by fn are discarded.
func (r *Registry) UpdateDevice(id string, fn func(d *models.Device) error) (models.Device, error) {
	const op = "registry.UpdateDevice"
	e, ok := r.deviceEntry(id)
	if !ok {
		return models.Device{}, apperror.State(op, ErrNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return models.Device{}, apperror.State(op, ErrNotFound)
	}

	work := cloneDevice(e.device)
	if err := fn(&work); err != nil {
		return cloneDevice(e.device), err
	}
	e.device.ApplyRuntime(cloneDevice(work).Runtime())
	return cloneDevice(e.device), nil
}

// DeleteDevice removes the device and its triggers, then notifies removal listeners.
func (r *Registry) DeleteDevice(id string) error {
	const op = "registry.DeleteDevice"
	ref := models.EntityRef{Kind: models.EntityDevice, ID: id}

	r.mu.Lock()
	e, ok := r.devices[id]
	if !ok {
		r.mu.Unlock()
		return apperror.State(op, ErrNotFound)
	}
	delete(r.devices, id)
	e.mu.Lock()
	e.deleted = true
	mac := e.device.MACAddress
	e.mu.Unlock()
	removeIndex(r.devicesByMAC, mac, id)
	removed := r.removeTriggersLocked(ref)
	r.mu.Unlock()

	r.logger.Info("Device deleted",
		zap.String("device_id", id),
		zap.Int("triggers_removed", removed),
	)
	r.notifyRemoved(ref)
	return nil
}
