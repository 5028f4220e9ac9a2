// Package registry owns zones, devices and triggers. Each entity has its own
// lock so that mutations of one entity are serialized while different
// entities proceed in parallel.
package registry

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/dsiemon2/OpenSentinel-sub008/internal/models"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// ErrNotFound the entity does not exist or was deleted.
var ErrNotFound = errors.New("entity not found")

// RemovalListener is called after a zone or device has been deleted, outside any registry lock.
type RemovalListener func(ref models.EntityRef)

// DisableListener is called, outside any registry lock, with the zone after
// disabling it ended an ongoing visit.
type DisableListener func(zone models.Zone)

type zoneEntry struct {
	mu      sync.Mutex
	zone    models.Zone
	deleted bool
}

type deviceEntry struct {
	mu      sync.Mutex
	device  models.Device
	deleted bool
}

type triggerEntry struct {
	mu      sync.Mutex
	trigger models.Trigger
	deleted bool
}

// Stats entity counts.
type Stats struct {
	Zones    int `json:"zones"`
	Devices  int `json:"devices"`
	Triggers int `json:"triggers"`
}

// Registry is safe for concurrent use. Lock order is map lock, then entity lock.
type Registry struct {
	mu       sync.RWMutex
	zones    map[string]*zoneEntry
	devices  map[string]*deviceEntry
	triggers map[string]*triggerEntry

	zonesByUser  map[string]map[string]struct{}
	devicesByMAC map[string]map[string]struct{}
	byEntity     map[models.EntityRef]map[string]struct{}

	listenersMu sync.RWMutex
	listeners   []RemovalListener
	disabled    []DisableListener

	validate *validator.Validate
	logger   *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		zones:        make(map[string]*zoneEntry),
		devices:      make(map[string]*deviceEntry),
		triggers:     make(map[string]*triggerEntry),
		zonesByUser:  make(map[string]map[string]struct{}),
		devicesByMAC: make(map[string]map[string]struct{}),
		byEntity:     make(map[models.EntityRef]map[string]struct{}),
		validate:     validator.New(),
		logger:       logger,
	}
}

// OnRemove registers a listener for zone and device deletions.
func (r *Registry) OnRemove(l RemovalListener) {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	r.listeners = append(r.listeners, l)
}

func (r *Registry) notifyRemoved(ref models.EntityRef) {
	r.listenersMu.RLock()
	listeners := append([]RemovalListener(nil), r.listeners...)
	r.listenersMu.RUnlock()

	for _, l := range listeners {
		l(ref)
	}
}

// OnDisable registers a listener for zones disabled while occupied.
func (r *Registry) OnDisable(l DisableListener) {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	r.disabled = append(r.disabled, l)
}

func (r *Registry) notifyDisabled(z models.Zone) {
	r.listenersMu.RLock()
	listeners := append([]DisableListener(nil), r.disabled...)
	r.listenersMu.RUnlock()

	for _, l := range listeners {
		l(z)
	}
}

// Stats returns current entity counts.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{Zones: len(r.zones), Devices: len(r.devices), Triggers: len(r.triggers)}
}

func addIndex[K comparable](idx map[K]map[string]struct{}, key K, id string) {
	set, ok := idx[key]
	if !ok {
		set = make(map[string]struct{})
		idx[key] = set
	}
	set[id] = struct{}{}
}

func removeIndex[K comparable](idx map[K]map[string]struct{}, key K, id string) {
	set, ok := idx[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(idx, key)
	}
}

func sortedKeys(set map[string]struct{}) []string {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func timePtr(t time.Time) *time.Time { return &t }
