// Package service assembles the proximity engine with its infrastructure and
// runs it.
package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dsiemon2/OpenSentinel-sub008/internal/collaborator"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/config"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/consumer"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/database"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/dispatch"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/httpapi"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/models"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/mqttx"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/processor"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/redisx"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/report"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/repository"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ProximityService the running service.
type ProximityService struct {
	config     *config.Config
	logger     *zap.Logger
	db         *sql.DB
	redis      *redis.Client
	mqttClient *mqttx.Client
	engine     *Engine
	consumer   *consumer.MQTTConsumer
	relay      *consumer.ReminderRelay
	server     *http.Server
}

// NewProximityService connects Postgres, Redis and MQTT, loads the configured
// entities and restores runtime state.
func NewProximityService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*ProximityService, error) {
	db, err := database.NewPostgresDB(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := repository.EnsureSchema(ctx, db); err != nil {
		database.Close(db)
		return nil, err
	}

	redisClient := redisx.NewClient(&cfg.Redis)
	if err := redisx.Ping(ctx, redisClient); err != nil {
		database.Close(db)
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	mqttClient, err := mqttx.NewClient(&cfg.MQTT, logger.Named("mqtt"))
	if err != nil {
		redisx.Close(redisClient)
		database.Close(db)
		return nil, fmt.Errorf("failed to connect to MQTT: %w", err)
	}

	s := &ProximityService{
		config:     cfg,
		logger:     logger,
		db:         db,
		redis:      redisClient,
		mqttClient: mqttClient,
	}
	if err := s.build(ctx); err != nil {
		s.Stop()
		return nil, err
	}
	return s, nil
}

func (s *ProximityService) build(ctx context.Context) error {
	cfg := s.config
	p := cfg.Proximity

	entityRepo := repository.NewEntityRepository(s.db, s.logger)
	auditRepo := repository.NewAuditRepository(s.db, s.logger)
	assistant := collaborator.NewAssistantClient(&cfg.Assistant, s.logger.Named("assistant"))
	reminders := collaborator.NewReminderQueue(s.redis, p.ReminderQueue, nil, s.logger)
	state := consumer.NewStateManager(s.redis, p.StateKeyPrefix, p.StateTTL, s.logger)
	publisher := consumer.NewEventPublisher(s.redis, s.mqttClient, p.EventStream, p.EventTopic, cfg.MQTT.QoS, s.logger)

	s.engine = NewEngine(EngineOptions{
		Config: cfg,
		Dispatch: dispatch.Options{
			Memory: assistant,
			Chat:   assistant,
			Audit:  auditRepo,
			Tasks:  reminders,
			Tools:  assistant,
		},
		State:        state,
		Publishers:   []processor.Sink{publisher},
		FireRecorder: entityRepo,
	}, s.logger)

	if err := s.engine.Load(ctx, entityRepo); err != nil {
		return err
	}
	inside, err := state.Restore(ctx, s.engine.Registry)
	if err != nil {
		return fmt.Errorf("failed to restore state: %w", err)
	}
	s.engine.ResumeDwell(inside)
	s.engine.Registry.OnRemove(func(ref models.EntityRef) {
		if err := state.Forget(context.Background(), ref); err != nil {
			s.logger.Warn("Failed to drop state snapshot", zap.String("entity", ref.String()), zap.Error(err))
		}
	})

	s.consumer = consumer.NewMQTTConsumer(cfg, s.mqttClient, s.engine.Processor, nil, s.logger)
	s.relay = consumer.NewReminderRelay(reminders, s.mqttClient, p.ReminderTopic, cfg.MQTT.QoS, p.ReminderPoll, nil, s.logger)

	loc := cfg.Location()
	router := httpapi.NewRouter(httpapi.Deps{
		Stats:  s.engine.Registry,
		Events: redisx.NewStreamReader(s.redis, p.EventStream),
		Audit:  auditRepo,
		Export: func(entries []models.AuditEntry) ([]byte, error) {
			return report.GenerateAuditExport(entries, loc)
		},
		Checks: []httpapi.Check{
			{Name: "postgres", Check: s.db.PingContext},
			{Name: "redis", Check: func(ctx context.Context) error { return redisx.Ping(ctx, s.redis) }},
			{Name: "mqtt", Check: func(context.Context) error {
				if !s.mqttClient.IsConnected() {
					return errors.New("disconnected")
				}
				return nil
			}},
		},
	}, s.logger.Named("http"))

	s.server = &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return nil
}

// Start runs the MQTT consumer, the reminder relay and the ops server until
// ctx is cancelled or one of them fails.
func (s *ProximityService) Start(ctx context.Context) error {
	s.logger.Info("Starting proximity service components")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.consumer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start MQTT consumer: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return s.relay.Run(ctx)
	})
	g.Go(func() error {
		s.logger.Info("Ops server listening", zap.String("addr", s.server.Addr))
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Stop releases every resource. It is safe to call after a failed build.
func (s *ProximityService) Stop() {
	s.logger.Info("Stopping proximity service")

	if s.consumer != nil {
		s.consumer.Stop()
	}
	if s.engine != nil {
		s.engine.Close()
	}
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	if s.redis != nil {
		redisx.Close(s.redis)
	}
	if s.db != nil {
		database.Close(s.db)
	}

	s.logger.Info("Proximity service stopped")
}
