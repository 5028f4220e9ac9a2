package collaborator

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/dsiemon2/OpenSentinel-sub008/internal/dispatch"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/timeutil"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReminderQueue a delayed reminder queue backed by a Redis sorted set scored by
// due time in unix milliseconds.
type ReminderQueue struct {
	client *redis.Client
	key    string
	clock  timeutil.Clock
	logger *zap.Logger
}

var _ dispatch.TaskScheduler = (*ReminderQueue)(nil)

// NewReminderQueue stores reminders under key.
func NewReminderQueue(client *redis.Client, key string, clock timeutil.Clock, logger *zap.Logger) *ReminderQueue {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &ReminderQueue{client: client, key: key, clock: clock, logger: logger}
}

// Schedule enqueues task to become due after delay and returns its job id.
func (q *ReminderQueue) Schedule(ctx context.Context, task dispatch.ReminderTask, delay time.Duration) (string, error) {
	if delay < 0 {
		delay = 0
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	task.DueAt = q.clock.Now().Add(delay).UTC()

	data, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("failed to marshal reminder: %w", err)
	}

	err = q.client.ZAdd(ctx, q.key, &redis.Z{
		Score:  float64(task.DueAt.UnixMilli()),
		Member: string(data),
	}).Err()
	if err != nil {
		return "", fmt.Errorf("failed to enqueue reminder: %w", err)
	}

	q.logger.Debug("Reminder scheduled",
		zap.String("job_id", task.ID),
		zap.String("user_id", task.UserID),
		zap.Time("due_at", task.DueAt),
	)
	return task.ID, nil
}

// PopDue removes and returns reminders due at or before now, oldest first. A
// reminder claimed by another consumer is skipped.
func (q *ReminderQueue) PopDue(ctx context.Context, now time.Time, limit int64) ([]dispatch.ReminderTask, error) {
	members, err := q.client.ZRangeByScore(ctx, q.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read due reminders: %w", err)
	}

	tasks := make([]dispatch.ReminderTask, 0, len(members))
	for _, member := range members {
		removed, err := q.client.ZRem(ctx, q.key, member).Result()
		if err != nil {
			return tasks, fmt.Errorf("failed to claim reminder: %w", err)
		}
		if removed == 0 {
			continue
		}

		var task dispatch.ReminderTask
		if err := json.Unmarshal([]byte(member), &task); err != nil {
			q.logger.Warn("Dropping malformed reminder", zap.Error(err))
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// Pending the number of queued reminders.
func (q *ReminderQueue) Pending(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.key).Result()
}
