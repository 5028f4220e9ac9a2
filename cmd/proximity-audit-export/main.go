// Command proximity-audit-export writes the trigger audit trail to an xlsx file.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/dsiemon2/OpenSentinel-sub008/internal/config"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/database"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/logger"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/report"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/repository"
	"go.uber.org/zap"
)

func main() {
	var (
		out    = flag.String("out", "audit.xlsx", "output file")
		userID = flag.String("user", "", "only entries of this user")
		days   = flag.Int("days", 7, "how many days back to export")
		limit  = flag.Int("limit", 10000, "maximum number of rows")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	zl, err := logger.NewLogger(cfg.Log.Level, "console", "proximity-audit-export")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zl.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := database.NewPostgresDB(ctx, &cfg.Database)
	if err != nil {
		zl.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)

	since := time.Now().AddDate(0, 0, -*days)
	filters := repository.AuditFilters{Since: &since, Limit: *limit}
	if *userID != "" {
		filters.UserID = userID
	}

	entries, err := repository.NewAuditRepository(db, zl).ListAudit(ctx, filters)
	if err != nil {
		zl.Fatal("Failed to read audit log", zap.Error(err))
	}

	data, err := report.GenerateAuditExport(entries, cfg.Location())
	if err != nil {
		zl.Fatal("Failed to render workbook", zap.Error(err))
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		zl.Fatal("Failed to write output", zap.String("path", *out), zap.Error(err))
	}

	zl.Info("Audit exported", zap.String("path", *out), zap.Int("rows", len(entries)))
}
