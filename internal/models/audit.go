package models

import (
	"encoding/json"
	"time"
)

// AuditEntry one recorded action attempt.
type AuditEntry struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	Action     string          `json:"action"`
	Resource   string          `json:"resource"`
	ResourceID string          `json:"resource_id"`
	Details    json.RawMessage `json:"details,omitempty"`
	Success    bool            `json:"success"`
	CreatedAt  time.Time       `json:"created_at"`
}

// AuditDetails the structured payload of a trigger.fire audit entry.
type AuditDetails struct {
	TriggerName string     `json:"trigger_name"`
	EntityKind  EntityKind `json:"entity_kind"`
	EntityID    string     `json:"entity_id"`
	EntityName  string     `json:"entity_name"`
	Transition  Transition `json:"transition"`
	ActionKind  ActionKind `json:"action_kind"`
	Code        string     `json:"code,omitempty"`
	Error       string     `json:"error,omitempty"`
}
