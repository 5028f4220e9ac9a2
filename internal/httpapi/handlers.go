package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/dsiemon2/OpenSentinel-sub008/internal/repository"
	"go.uber.org/zap"
)

const maxListLimit = 1000

func (h *handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Ok(map[string]string{"status": "ok"}))
}

// Readyz runs every check; any failure answers 503 with the failing names.
func (h *handler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.deps.Timeout)
	defer cancel()

	status := map[string]string{}
	ready := true
	for _, c := range h.deps.Checks {
		if err := c.Check(ctx); err != nil {
			h.logger.Warn("Readiness check failed", zap.String("check", c.Name), zap.Error(err))
			status[c.Name] = err.Error()
			ready = false
			continue
		}
		status[c.Name] = "ok"
	}

	if !ready {
		res := Fail("not ready")
		res.Result = status
		writeJSON(w, http.StatusServiceUnavailable, res)
		return
	}
	writeJSON(w, http.StatusOK, Ok(status))
}

func (h *handler) RegistryStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Ok(h.deps.Stats.Stats()))
}

type eventItem struct {
	ID    string          `json:"id"`
	Event json.RawMessage `json:"event"`
}

func (h *handler) RecentEvents(w http.ResponseWriter, r *http.Request) {
	limit := clampLimit(parseInt(r.URL.Query().Get("limit"), 50))
	msgs, err := h.deps.Events.ReadRecent(r.Context(), int64(limit))
	if err != nil {
		h.logger.Error("Failed to read recent events", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to read events"))
		return
	}

	items := make([]eventItem, 0, len(msgs))
	for _, m := range msgs {
		items = append(items, eventItem{ID: m.ID, Event: m.Data()})
	}
	writeJSON(w, http.StatusOK, Ok(items))
}

func (h *handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	filters, err := auditFilters(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
		return
	}
	entries, err := h.deps.Audit.ListAudit(r.Context(), filters)
	if err != nil {
		h.logger.Error("Failed to list audit log", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to list audit log"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(entries))
}

func (h *handler) ExportAudit(w http.ResponseWriter, r *http.Request) {
	filters, err := auditFilters(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
		return
	}
	entries, err := h.deps.Audit.ListAudit(r.Context(), filters)
	if err != nil {
		h.logger.Error("Failed to list audit log", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to list audit log"))
		return
	}
	data, err := h.deps.Export(entries)
	if err != nil {
		h.logger.Error("Failed to export audit log", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to export audit log"))
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="audit.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

type badRequest string

func (e badRequest) Error() string { return string(e) }

// auditFilters reads user_id, success, since, until (RFC3339) and limit.
func auditFilters(r *http.Request) (repository.AuditFilters, error) {
	q := r.URL.Query()
	f := repository.AuditFilters{Limit: clampLimit(parseInt(q.Get("limit"), 100))}

	if v := q.Get("user_id"); v != "" {
		f.UserID = &v
	}
	if v := q.Get("success"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, badRequest("invalid success: " + v)
		}
		f.Success = &b
	}
	for _, p := range []struct {
		key string
		dst **time.Time
	}{{"since", &f.Since}, {"until", &f.Until}} {
		v := q.Get(p.key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, badRequest("invalid " + p.key + ": " + v)
		}
		*p.dst = &t
	}
	return f, nil
}

func clampLimit(n int) int {
	if n <= 0 {
		return 1
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}
