package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"faceattend/internal/config"
	"faceattend/internal/logger"
	"faceattend/internal/queue"
	"faceattend/internal/store"
)

// Worker consumes committed-attendance events and maintains the per-day
// rollup counters behind the dashboard summary. Records themselves are
// never touched; the log stays append-only.
func main() {
	cfg := config.Load()

	zlog, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		zlog.Info("shutdown signal received")
		cancel()
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		// In-memory queues do not cross processes: this mode only makes
		// sense for local smoke runs with nothing publishing.
		q = queue.NewInMemory(64)
		zlog.Warn("memory queue backend selected, no events will arrive from the api")
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "faceattend:events")
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		zlog.Fatal("queue consume init failed", zap.Error(err))
	}

	zlog.Info("worker started")
	for msg := range messages {
		if msg.Type != queue.TypeAttendanceCommitted {
			continue
		}

		var ev queue.CommittedEvent
		if err := json.Unmarshal(msg.Body, &ev); err != nil {
			zlog.Warn("malformed event body", zap.Error(err))
			continue
		}

		if err := redisClient.IncrDailyRollup(ctx, ev.Date); err != nil {
			zlog.Warn("rollup increment failed",
				zap.String("record_id", ev.RecordID),
				zap.String("date", ev.Date),
				zap.Error(err),
			)
			continue
		}
		zlog.Info("rollup updated",
			zap.String("record_id", ev.RecordID),
			zap.String("date", ev.Date),
		)
	}

	zlog.Info("worker stopped")
}
