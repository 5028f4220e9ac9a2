package consumer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dsiemon2/OpenSentinel-sub008/internal/models"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/redisx"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// EventKind the stream discriminator of a published event.
type EventKind string

const (
	EventGeofence  EventKind = "geofence"
	EventProximity EventKind = "proximity"
)

// StreamEvent the record written to the stream and the per-user topic.
type StreamEvent struct {
	Kind      EventKind              `json:"kind"`
	UserID    string                 `json:"user_id"`
	Geofence  *models.GeofenceEvent  `json:"geofence,omitempty"`
	Proximity *models.ProximityEvent `json:"proximity,omitempty"`
}

// EventPublisher fans domain events out to a Redis stream and an MQTT topic per
// user. Publishing failures are logged and never reach the processor.
type EventPublisher struct {
	redis       *redis.Client
	mqtt        Publisher
	stream      string
	streamLen   int64
	topicPrefix string
	qos         byte
	timeout     time.Duration
	logger      *zap.Logger
}

// NewEventPublisher creates a publisher. Either transport may be nil.
func NewEventPublisher(rdb *redis.Client, pub Publisher, stream, topicPrefix string, qos byte, logger *zap.Logger) *EventPublisher {
	return &EventPublisher{
		redis:       rdb,
		mqtt:        pub,
		stream:      stream,
		streamLen:   10000,
		topicPrefix: topicPrefix,
		qos:         qos,
		timeout:     5 * time.Second,
		logger:      logger,
	}
}

// OnGeofenceEvent publishes a zone transition.
func (p *EventPublisher) OnGeofenceEvent(ctx context.Context, ev models.GeofenceEvent) {
	p.publish(ctx, StreamEvent{Kind: EventGeofence, UserID: ev.UserID, Geofence: &ev})
}

// OnProximityEvent publishes a device transition.
func (p *EventPublisher) OnProximityEvent(ctx context.Context, ev models.ProximityEvent) {
	p.publish(ctx, StreamEvent{Kind: EventProximity, UserID: ev.UserID, Proximity: &ev})
}

func (p *EventPublisher) publish(ctx context.Context, ev StreamEvent) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if p.redis != nil {
		id, err := redisx.PublishJSONToStream(ctx, p.redis, p.stream, ev, p.streamLen)
		if err != nil {
			p.logger.Error("Failed to publish event to stream",
				zap.String("stream", p.stream),
				zap.String("kind", string(ev.Kind)),
				zap.Error(err),
			)
		} else {
			p.logger.Debug("Published event to stream",
				zap.String("stream", p.stream),
				zap.String("stream_id", id),
			)
		}
	}

	if p.mqtt != nil && ev.UserID != "" {
		payload, err := json.Marshal(ev)
		if err != nil {
			p.logger.Error("Failed to marshal event", zap.Error(err))
			return
		}
		topic := p.topicPrefix + ev.UserID
		if err := p.mqtt.Publish(topic, p.qos, false, payload); err != nil {
			p.logger.Error("Failed to publish event to MQTT",
				zap.String("topic", topic),
				zap.Error(err),
			)
		}
	}
}
