// Package consumer connects the engine to its transports: MQTT telemetry
// ingress, event fan-out, runtime state snapshots and the reminder relay.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dsiemon2/OpenSentinel-sub008/internal/config"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/models"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/mqttx"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/timeutil"
	"go.uber.org/zap"
)

// Subscriber the subscribing half of an MQTT client.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqttx.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// Publisher the publishing half of an MQTT client.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// Processor consumes validated telemetry.
type Processor interface {
	ProcessLocation(ctx context.Context, u models.LocationUpdate) ([]models.GeofenceEvent, error)
	ProcessProximity(ctx context.Context, s models.ProximitySample) ([]models.ProximityEvent, error)
}

// MQTTConsumer subscribes to the location and proximity topics. The last topic
// segment is the user id, used when the payload carries none.
type MQTTConsumer struct {
	subscriber Subscriber
	processor  Processor
	clock      timeutil.Clock
	qos        byte
	topics     config.ProximityConfig
	logger     *zap.Logger
}

// NewMQTTConsumer creates the telemetry consumer.
func NewMQTTConsumer(cfg *config.Config, sub Subscriber, proc Processor, clock timeutil.Clock, logger *zap.Logger) *MQTTConsumer {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &MQTTConsumer{
		subscriber: sub,
		processor:  proc,
		clock:      clock,
		qos:        cfg.MQTT.QoS,
		topics:     cfg.Proximity,
		logger:     logger,
	}
}

// Start subscribes and blocks until ctx is cancelled.
func (c *MQTTConsumer) Start(ctx context.Context) error {
	if err := c.subscriber.Subscribe(c.topics.LocationTopic, c.qos, c.bind(ctx, c.HandleLocation)); err != nil {
		return fmt.Errorf("failed to subscribe to location topic: %w", err)
	}
	if err := c.subscriber.Subscribe(c.topics.ProximityTopic, c.qos, c.bind(ctx, c.HandleProximity)); err != nil {
		return fmt.Errorf("failed to subscribe to proximity topic: %w", err)
	}

	c.logger.Info("MQTT consumer started",
		zap.String("location_topic", c.topics.LocationTopic),
		zap.String("proximity_topic", c.topics.ProximityTopic),
	)

	<-ctx.Done()
	return nil
}

// Stop unsubscribes from both topics.
func (c *MQTTConsumer) Stop() {
	if err := c.subscriber.Unsubscribe(c.topics.LocationTopic, c.topics.ProximityTopic); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
	}
	c.logger.Info("MQTT consumer stopped")
}

func (c *MQTTConsumer) bind(ctx context.Context, h func(context.Context, string, []byte) error) mqttx.MessageHandler {
	return func(topic string, payload []byte) error {
		return h(ctx, topic, payload)
	}
}

// HandleLocation decodes a LocationUpdate and feeds it to the processor.
func (c *MQTTConsumer) HandleLocation(ctx context.Context, topic string, payload []byte) error {
	var u models.LocationUpdate
	if err := json.Unmarshal(payload, &u); err != nil {
		return fmt.Errorf("failed to unmarshal location update: %w", err)
	}
	if u.UserID == "" {
		u.UserID = userFromTopic(topic)
	}
	if u.Timestamp.IsZero() {
		u.Timestamp = c.clock.Now()
	}

	events, err := c.processor.ProcessLocation(ctx, u)
	if err != nil {
		return err
	}
	if len(events) > 0 {
		c.logger.Debug("Location update produced events",
			zap.String("user_id", u.UserID),
			zap.Int("events", len(events)),
		)
	}
	return nil
}

// HandleProximity decodes a ProximitySample and feeds it to the processor.
func (c *MQTTConsumer) HandleProximity(ctx context.Context, topic string, payload []byte) error {
	var s models.ProximitySample
	if err := json.Unmarshal(payload, &s); err != nil {
		return fmt.Errorf("failed to unmarshal proximity sample: %w", err)
	}
	if s.UserID == "" {
		s.UserID = userFromTopic(topic)
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = c.clock.Now()
	}

	events, err := c.processor.ProcessProximity(ctx, s)
	if err != nil {
		return err
	}
	if len(events) > 0 {
		c.logger.Debug("Proximity sample produced events",
			zap.String("mac_address", s.MACAddress),
			zap.Int("events", len(events)),
		)
	}
	return nil
}

// userFromTopic returns the last non-wildcard segment of topic.
func userFromTopic(topic string) string {
	parts := strings.Split(strings.TrimRight(topic, "/"), "/")
	if len(parts) < 2 {
		return ""
	}
	last := parts[len(parts)-1]
	if last == "+" || last == "#" {
		return ""
	}
	return last
}
