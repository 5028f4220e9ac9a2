// Package httpapi serves the ops endpoints: health, readiness, registry stats,
// recent events and the audit trail.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/dsiemon2/OpenSentinel-sub008/internal/models"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/redisx"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/registry"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/repository"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// StatsSource reports registry sizes.
type StatsSource interface {
	Stats() registry.Stats
}

// EventReader returns the newest published events.
type EventReader interface {
	ReadRecent(ctx context.Context, count int64) ([]redisx.StreamMessage, error)
}

// AuditReader lists audit entries.
type AuditReader interface {
	ListAudit(ctx context.Context, filters repository.AuditFilters) ([]models.AuditEntry, error)
}

// AuditExporter renders audit entries as a workbook.
type AuditExporter func(entries []models.AuditEntry) ([]byte, error)

// Check one readiness probe.
type Check struct {
	Name  string
	Check func(ctx context.Context) error
}

// Deps everything the handlers read from. Nil readers disable their routes.
type Deps struct {
	Stats   StatsSource
	Events  EventReader
	Audit   AuditReader
	Export  AuditExporter
	Checks  []Check
	Timeout time.Duration
}

type handler struct {
	deps   Deps
	logger *zap.Logger
}

// NewRouter builds the ops router.
func NewRouter(deps Deps, logger *zap.Logger) http.Handler {
	if deps.Timeout <= 0 {
		deps.Timeout = 3 * time.Second
	}
	h := &handler{deps: deps, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
	r.Route("/api/v1", func(r chi.Router) {
		if deps.Stats != nil {
			r.Get("/registry/stats", h.RegistryStats)
		}
		if deps.Events != nil {
			r.Get("/events/recent", h.RecentEvents)
		}
		if deps.Audit != nil {
			r.Get("/audit", h.ListAudit)
			if deps.Export != nil {
				r.Get("/audit/export", h.ExportAudit)
			}
		}
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}
