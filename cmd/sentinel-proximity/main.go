package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/dsiemon2/OpenSentinel-sub008/internal/config"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/logger"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/service"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zl, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "sentinel-proximity")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zl.Sync()

	zl.Info("Starting sentinel-proximity service",
		zap.String("mqtt_broker", cfg.MQTT.Broker),
		zap.String("timezone", cfg.Proximity.Timezone),
		zap.Duration("dwell_interval", cfg.Proximity.DwellInterval),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := service.NewProximityService(ctx, cfg, zl)
	if err != nil {
		zl.Fatal("Failed to create proximity service", zap.Error(err))
	}

	if err := svc.Start(ctx); err != nil {
		zl.Error("Proximity service failed", zap.Error(err))
		svc.Stop()
		os.Exit(1)
	}

	zl.Info("Received signal, shutting down")
	svc.Stop()
	zl.Info("Service stopped")
}
