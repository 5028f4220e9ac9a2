package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dsiemon2/OpenSentinel-sub008/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AuditRepository writes and reads the audit_log table.
type AuditRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAuditRepository creates an audit repository.
func NewAuditRepository(db *sql.DB, logger *zap.Logger) *AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

// AuditFilters narrows ListAudit. Nil fields do not filter.
type AuditFilters struct {
	UserID  *string
	Action  *string
	Success *bool
	Since   *time.Time // created_at >= Since
	Until   *time.Time // created_at < Until
	Limit   int        // defaults to 100
}

// Record inserts entry. A missing id or timestamp is filled in.
func (r *AuditRepository) Record(ctx context.Context, entry models.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO audit_log (
			id, user_id, action, resource, resource_id, details, success, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	var details interface{}
	if len(entry.Details) > 0 {
		details = string(entry.Details)
	}

	_, err := r.db.ExecContext(ctx, query,
		entry.ID,
		entry.UserID,
		entry.Action,
		entry.Resource,
		entry.ResourceID,
		details,
		entry.Success,
		entry.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to write audit entry",
			zap.String("resource_id", entry.ResourceID),
			zap.Error(err),
		)
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// ListAudit returns entries newest first.
func (r *AuditRepository) ListAudit(ctx context.Context, filters AuditFilters) ([]models.AuditEntry, error) {
	var conditions []string
	var args []interface{}
	argN := 1

	add := func(cond string, v interface{}) {
		conditions = append(conditions, fmt.Sprintf(cond, argN))
		args = append(args, v)
		argN++
	}
	if filters.UserID != nil {
		add("user_id = $%d", *filters.UserID)
	}
	if filters.Action != nil {
		add("action = $%d", *filters.Action)
	}
	if filters.Success != nil {
		add("success = $%d", *filters.Success)
	}
	if filters.Since != nil {
		add("created_at >= $%d", *filters.Since)
	}
	if filters.Until != nil {
		add("created_at < $%d", *filters.Until)
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, user_id, action, resource, resource_id, details, success, created_at
		FROM audit_log
	`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", argN)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	entries := []models.AuditEntry{}
	for rows.Next() {
		var e models.AuditEntry
		var details []byte
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &e.Resource, &e.ResourceID, &details, &e.Success, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if len(details) > 0 {
			e.Details = details
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit log: %w", err)
	}
	return entries, nil
}
