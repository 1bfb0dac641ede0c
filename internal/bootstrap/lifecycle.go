package bootstrap

import (
	"context"
	"time"

	chclient "delphi/internal/adapters/clickhouse"
	pgclient "delphi/internal/adapters/postgres"
	redisclient "delphi/internal/adapters/redis"
	"delphi/pkg/errors"
	"delphi/pkg/logger"
)

// Lifecycle manages graceful shutdown of components.
type Lifecycle struct {
	shutdownTimeout time.Duration
}

// NewLifecycle creates a new lifecycle manager.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{
		shutdownTimeout: 60 * time.Second,
	}
}

// Shutdown performs coordinated cleanup in order:
// 1. Stop the HTTP server so no new turns start
// 2. Close the Kafka producer after in-flight turns finish
// 3. Flush the error tracker and sync logs
// 4. Close database connections last
func (l *Lifecycle) Shutdown(c *Container) {
	log := c.Log
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), l.shutdownTimeout)
	defer shutdownCancel()

	log.Info("[1/4] Stopping HTTP server...")
	if c.Server != nil {
		// Turn handling may be mid retry loop, give it room to finish.
		httpCtx, httpCancel := context.WithTimeout(shutdownCtx, 30*time.Second)
		if err := c.Server.Shutdown(httpCtx); err != nil {
			log.Errorf("HTTP server shutdown failed: %v", err)
		} else {
			log.Info("✓ HTTP server stopped")
		}
		httpCancel()
	}

	log.Info("[2/4] Closing Kafka producer...")
	if c.Producer != nil {
		if err := c.Producer.Close(); err != nil {
			log.Errorf("Kafka producer close failed: %v", err)
		} else {
			log.Info("✓ Kafka producer closed")
		}
	}

	log.Info("[3/4] Flushing error tracker and logs...")
	l.flushErrorTracker(shutdownCtx, c.ErrorTracker, log)
	if err := logger.Sync(); err != nil {
		log.Warn("Log sync completed with warnings")
	}

	log.Info("[4/4] Closing database connections...")
	l.closeDatabases(c.PG, c.CH, c.Redis, log)

	log.Info("✅ Graceful shutdown complete")
}

func (l *Lifecycle) flushErrorTracker(ctx context.Context, tracker errors.Tracker, log *logger.Logger) {
	if tracker == nil {
		return
	}

	flushCtx, flushCancel := context.WithTimeout(ctx, 3*time.Second)
	defer flushCancel()

	if err := tracker.Flush(flushCtx); err != nil {
		log.Errorf("Error tracker flush failed: %v", err)
	}
}

func (l *Lifecycle) closeDatabases(
	pgClient *pgclient.Client,
	chClient *chclient.Client,
	redisClient *redisclient.Client,
	log *logger.Logger,
) {
	var dbErrors []error

	if pgClient != nil {
		if err := pgClient.Close(); err != nil {
			dbErrors = append(dbErrors, errors.Wrap(err, "postgres"))
		}
	}

	if chClient != nil {
		if err := chClient.Close(); err != nil {
			dbErrors = append(dbErrors, errors.Wrap(err, "clickhouse"))
		}
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			dbErrors = append(dbErrors, errors.Wrap(err, "redis"))
		}
	}

	if len(dbErrors) > 0 {
		log.Errorf("Database close errors: %v", dbErrors)
	} else {
		log.Info("✓ Database connections closed")
	}
}
