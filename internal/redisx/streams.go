package redisx

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// StreamMessage one stream entry.
type StreamMessage struct {
	Stream string
	ID     string
	Values map[string]interface{}
}

// Data the JSON payload stored under "data".
func (m StreamMessage) Data() json.RawMessage {
	if s, ok := m.Values["data"].(string); ok {
		return json.RawMessage(s)
	}
	return nil
}

// PublishJSONToStream appends data as JSON with a unix timestamp. maxLen > 0
// trims the stream approximately.
func PublishJSONToStream(ctx context.Context, client *redis.Client, stream string, data interface{}, maxLen int64) (string, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal stream payload: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			"data":      string(payload),
			"timestamp": strconv.FormatInt(time.Now().Unix(), 10),
		},
	}
	if maxLen > 0 {
		args.MaxLen = maxLen
		args.Approx = true
	}
	id, err := client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("failed to append to stream %s: %w", stream, err)
	}
	return id, nil
}

// ReadRecent newest first, at most count entries.
func ReadRecent(ctx context.Context, client *redis.Client, stream string, count int64) ([]StreamMessage, error) {
	msgs, err := client.XRevRangeN(ctx, stream, "+", "-", count).Result()
	if err != nil {
		if err == redis.Nil {
			return []StreamMessage{}, nil
		}
		return nil, fmt.Errorf("failed to read stream %s: %w", stream, err)
	}

	out := make([]StreamMessage, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, StreamMessage{Stream: stream, ID: msg.ID, Values: msg.Values})
	}
	return out, nil
}

// StreamReader reads one stream.
type StreamReader struct {
	client *redis.Client
	stream string
}

// NewStreamReader binds client to stream.
func NewStreamReader(client *redis.Client, stream string) *StreamReader {
	return &StreamReader{client: client, stream: stream}
}

// ReadRecent newest first, at most count entries.
func (r *StreamReader) ReadRecent(ctx context.Context, count int64) ([]StreamMessage, error) {
	return ReadRecent(ctx, r.client, r.stream, count)
}
