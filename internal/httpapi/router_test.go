package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dsiemon2/OpenSentinel-sub008/internal/models"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/redisx"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/registry"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticStats registry.Stats

func (s staticStats) Stats() registry.Stats { return registry.Stats(s) }

type fakeEvents struct {
	msgs []redisx.StreamMessage
	err  error
}

func (f fakeEvents) ReadRecent(_ context.Context, count int64) ([]redisx.StreamMessage, error) {
	if int64(len(f.msgs)) > count {
		return f.msgs[:count], f.err
	}
	return f.msgs, f.err
}

type fakeAudit struct {
	got     repository.AuditFilters
	entries []models.AuditEntry
}

func (f *fakeAudit) ListAudit(_ context.Context, filters repository.AuditFilters) ([]models.AuditEntry, error) {
	f.got = filters
	return f.entries, nil
}

func do(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) Result[T] {
	t.Helper()
	var res Result[T]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res
}

func TestHealthz(t *testing.T) {
	rec := do(t, NewRouter(Deps{}, zap.NewNop()), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	res := decode[map[string]string](t, rec)
	assert.Equal(t, ResultSuccess, res.Code)
	assert.Equal(t, "ok", res.Result["status"])
}

func TestReadyz(t *testing.T) {
	healthy := Check{Name: "redis", Check: func(context.Context) error { return nil }}
	broken := Check{Name: "postgres", Check: func(context.Context) error { return errors.New("connection refused") }}

	rec := do(t, NewRouter(Deps{Checks: []Check{healthy}}, zap.NewNop()), "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, NewRouter(Deps{Checks: []Check{healthy, broken}}, zap.NewNop()), "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	res := decode[map[string]string](t, rec)
	assert.Equal(t, ResultError, res.Code)
	assert.Equal(t, "ok", res.Result["redis"])
	assert.Equal(t, "connection refused", res.Result["postgres"])
}

func TestRegistryStats(t *testing.T) {
	h := NewRouter(Deps{Stats: staticStats{Zones: 2, Devices: 1, Triggers: 5}}, zap.NewNop())
	rec := do(t, h, "/api/v1/registry/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[registry.Stats](t, rec)
	assert.Equal(t, registry.Stats{Zones: 2, Devices: 1, Triggers: 5}, res.Result)
}

func TestRecentEvents(t *testing.T) {
	events := fakeEvents{msgs: []redisx.StreamMessage{
		{ID: "2-0", Values: map[string]interface{}{"data": `{"kind":"proximity"}`}},
		{ID: "1-0", Values: map[string]interface{}{"data": `{"kind":"geofence"}`}},
	}}
	h := NewRouter(Deps{Events: events}, zap.NewNop())

	rec := do(t, h, "/api/v1/events/recent?limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[[]eventItem](t, rec)
	require.Len(t, res.Result, 1)
	assert.Equal(t, "2-0", res.Result[0].ID)
	assert.JSONEq(t, `{"kind":"proximity"}`, string(res.Result[0].Event))

	h = NewRouter(Deps{Events: fakeEvents{err: errors.New("down")}}, zap.NewNop())
	assert.Equal(t, http.StatusInternalServerError, do(t, h, "/api/v1/events/recent").Code)
}

func TestListAudit(t *testing.T) {
	audit := &fakeAudit{entries: []models.AuditEntry{{ID: "a1", UserID: "u1"}}}
	h := NewRouter(Deps{Audit: audit}, zap.NewNop())

	rec := do(t, h, "/api/v1/audit?user_id=u1&success=false&since=2026-03-01T00:00:00Z&limit=5000")
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[[]models.AuditEntry](t, rec)
	require.Len(t, res.Result, 1)

	require.NotNil(t, audit.got.UserID)
	assert.Equal(t, "u1", *audit.got.UserID)
	require.NotNil(t, audit.got.Success)
	assert.False(t, *audit.got.Success)
	require.NotNil(t, audit.got.Since)
	assert.True(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC).Equal(*audit.got.Since))
	assert.Nil(t, audit.got.Until)
	assert.Equal(t, maxListLimit, audit.got.Limit)

	assert.Equal(t, http.StatusBadRequest, do(t, h, "/api/v1/audit?since=yesterday").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, "/api/v1/audit/export").Code)
}

func TestExportAudit(t *testing.T) {
	audit := &fakeAudit{entries: []models.AuditEntry{{ID: "a1"}}}
	var exported int
	export := func(entries []models.AuditEntry) ([]byte, error) {
		exported = len(entries)
		return []byte("xlsx"), nil
	}
	h := NewRouter(Deps{Audit: audit, Export: export}, zap.NewNop())

	rec := do(t, h, "/api/v1/audit/export")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, exported)
	assert.Equal(t, "xlsx", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "audit.xlsx")
}

func TestDisabledRoutes(t *testing.T) {
	h := NewRouter(Deps{}, zap.NewNop())
	assert.Equal(t, http.StatusNotFound, do(t, h, "/api/v1/registry/stats").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, "/api/v1/audit").Code)
}
