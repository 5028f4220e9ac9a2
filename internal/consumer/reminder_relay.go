package consumer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dsiemon2/OpenSentinel-sub008/internal/dispatch"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/timeutil"
	"go.uber.org/zap"
)

// DueReminders yields reminders whose time has come.
type DueReminders interface {
	PopDue(ctx context.Context, now time.Time, limit int64) ([]dispatch.ReminderTask, error)
}

const reminderBatch = 100

// ReminderRelay polls the reminder queue and publishes due reminders to the
// owner's MQTT topic. A reminder that fails to publish is dropped and logged.
type ReminderRelay struct {
	queue       DueReminders
	publisher   Publisher
	topicPrefix string
	qos         byte
	interval    time.Duration
	clock       timeutil.Clock
	logger      *zap.Logger
}

// NewReminderRelay creates a relay polling every interval.
func NewReminderRelay(queue DueReminders, pub Publisher, topicPrefix string, qos byte, interval time.Duration, clock timeutil.Clock, logger *zap.Logger) *ReminderRelay {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &ReminderRelay{
		queue:       queue,
		publisher:   pub,
		topicPrefix: topicPrefix,
		qos:         qos,
		interval:    interval,
		clock:       clock,
		logger:      logger,
	}
}

// Run polls until ctx is cancelled.
func (r *ReminderRelay) Run(ctx context.Context) error {
	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("Reminder relay started", zap.Duration("interval", r.interval))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Reminder relay stopped")
			return nil
		case now := <-ticker.C():
			r.Flush(ctx, now)
		}
	}
}

// Flush publishes every reminder due at now and returns how many were delivered.
func (r *ReminderRelay) Flush(ctx context.Context, now time.Time) int {
	tasks, err := r.queue.PopDue(ctx, now, reminderBatch)
	if err != nil {
		r.logger.Error("Failed to read due reminders", zap.Error(err))
	}

	delivered := 0
	for _, task := range tasks {
		payload, err := json.Marshal(task)
		if err != nil {
			r.logger.Error("Failed to marshal reminder", zap.String("job_id", task.ID), zap.Error(err))
			continue
		}
		topic := r.topicPrefix + task.UserID
		if err := r.publisher.Publish(topic, r.qos, false, payload); err != nil {
			r.logger.Error("Failed to deliver reminder",
				zap.String("job_id", task.ID),
				zap.String("topic", topic),
				zap.Error(err),
			)
			continue
		}
		delivered++
	}

	if delivered > 0 {
		r.logger.Info("Delivered reminders", zap.Int("count", delivered))
	}
	return delivered
}
