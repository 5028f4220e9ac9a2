package report

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/dsiemon2/OpenSentinel-sub008/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestGenerateAuditExport(t *testing.T) {
	details, err := json.Marshal(models.AuditDetails{
		TriggerName: "Arrive home",
		EntityKind:  models.EntityZone,
		EntityID:    "z1",
		EntityName:  "Home",
		Transition:  models.TransitionEnter,
		ActionKind:  models.ActionWebhook,
		Code:        "WEBHOOK_STATUS",
		Error:       "webhook returned 500",
	})
	require.NoError(t, err)

	entries := []models.AuditEntry{
		{
			ID:         "a1",
			UserID:     "u1",
			Action:     "trigger.fire",
			Resource:   "trigger",
			ResourceID: "t1",
			Details:    details,
			CreatedAt:  time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC),
		},
		{
			ID:         "a2",
			UserID:     "u1",
			ResourceID: "t2",
			Details:    json.RawMessage(`not json`),
			Success:    true,
			CreatedAt:  time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		},
	}

	data, err := GenerateAuditExport(entries, time.UTC)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(auditSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, AuditHeader, rows[0])
	assert.Equal(t, []string{
		"2026-03-02 09:30:00", "u1", "t1", "Arrive home", "zone", "Home",
		"enter", "webhook", "no", "WEBHOOK_STATUS", "webhook returned 500",
	}, rows[1])
	assert.Equal(t, "t2", rows[2][2])
	assert.Equal(t, "yes", rows[2][8])
}

func TestGenerateAuditExport_Empty(t *testing.T) {
	data, err := GenerateAuditExport(nil, nil)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(auditSheet)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, []string{auditSheet}, f.GetSheetList())
}
