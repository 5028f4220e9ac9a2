package dispatch

import (
	"context"
	"time"

	"github.com/dsiemon2/OpenSentinel-sub008/internal/models"
)

// Memory a note handed to the memory store.
type Memory struct {
	UserID     string         `json:"userId"`
	Content    string         `json:"content"`
	Type       string         `json:"type"`
	Importance int            `json:"importance"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// MemoryStore persists memories for the assistant.
type MemoryStore interface {
	Store(ctx context.Context, m Memory) (string, error)
}

// ChatAssistant answers a prompt on behalf of a user.
type ChatAssistant interface {
	Converse(ctx context.Context, userID, message, systemPrompt string) (string, error)
}

// AuditLog records every dispatch attempt.
type AuditLog interface {
	Record(ctx context.Context, entry models.AuditEntry) error
}

// ReminderTask a reminder scheduled for later delivery.
type ReminderTask struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	TriggerID string    `json:"trigger_id"`
	Message   string    `json:"message"`
	DueAt     time.Time `json:"due_at"`
}

// TaskScheduler runs a reminder after delay and returns a job id.
type TaskScheduler interface {
	Schedule(ctx context.Context, task ReminderTask, delay time.Duration) (string, error)
}

// ToolRunner executes a named tool.
type ToolRunner interface {
	Execute(ctx context.Context, tool string, input map[string]any) (string, error)
}
