package collaborator

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/dispatch"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/timeutil"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestReminderQueue(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	clock := timeutil.NewMockClock(start)
	q := NewReminderQueue(client, "reminders", clock, zap.NewNop())
	ctx := context.Background()

	soon, err := q.Schedule(ctx, dispatch.ReminderTask{UserID: "u1", Message: "water plants"}, 10*time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, soon)

	_, err = q.Schedule(ctx, dispatch.ReminderTask{ID: "later", UserID: "u1", Message: "lock door"}, time.Hour)
	require.NoError(t, err)

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pending)

	due, err := q.PopDue(ctx, start.Add(5*time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = q.PopDue(ctx, start.Add(10*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, soon, due[0].ID)
	assert.Equal(t, "water plants", due[0].Message)
	assert.True(t, due[0].DueAt.Equal(start.Add(10*time.Minute)))

	due, err = q.PopDue(ctx, start.Add(10*time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, due, "a popped reminder is not delivered twice")

	due, err = q.PopDue(ctx, start.Add(2*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "later", due[0].ID)
}
