// Package report renders the audit trail as an Excel workbook.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dsiemon2/OpenSentinel-sub008/internal/models"
	"github.com/xuri/excelize/v2"
)

const auditSheet = "Audit"

// AuditHeader export column titles.
var AuditHeader = []string{
	"Time",
	"User",
	"Trigger",
	"Trigger Name",
	"Entity Kind",
	"Entity",
	"Transition",
	"Action",
	"Success",
	"Code",
	"Error",
}

var auditColumnWidths = []float64{22, 20, 38, 24, 12, 24, 12, 12, 10, 22, 48}

// GenerateAuditExport renders entries, one row each, with times in loc.
func GenerateAuditExport(entries []models.AuditEntry, loc *time.Location) ([]byte, error) {
	if loc == nil {
		loc = time.UTC
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(auditSheet)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	header := make([]interface{}, len(AuditHeader))
	for i, h := range AuditHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(auditSheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	last, err := excelize.CoordinatesToCellName(len(AuditHeader), 1)
	if err != nil {
		return nil, fmt.Errorf("failed to convert coordinates: %w", err)
	}
	if err := f.SetCellStyle(auditSheet, "A1", last, headerStyle); err != nil {
		return nil, fmt.Errorf("failed to set header style: %w", err)
	}

	for i, width := range auditColumnWidths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return nil, fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(auditSheet, col, col, width); err != nil {
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	for i, e := range entries {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		row := auditRow(e, loc)
		if err := f.SetSheetRow(auditSheet, cell, &row); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	if err := f.SetPanes(auditSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, fmt.Errorf("failed to freeze header: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func auditRow(e models.AuditEntry, loc *time.Location) []interface{} {
	var d models.AuditDetails
	if len(e.Details) > 0 {
		// unparseable details leave the detail columns blank
		_ = json.Unmarshal(e.Details, &d)
	}
	entity := d.EntityName
	if entity == "" {
		entity = d.EntityID
	}
	success := "no"
	if e.Success {
		success = "yes"
	}
	return []interface{}{
		e.CreatedAt.In(loc).Format("2006-01-02 15:04:05"),
		e.UserID,
		e.ResourceID,
		d.TriggerName,
		string(d.EntityKind),
		entity,
		string(d.Transition),
		string(d.ActionKind),
		success,
		d.Code,
		d.Error,
	}
}
