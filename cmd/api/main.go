package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"faceattend/internal/attendance"
	"faceattend/internal/capture"
	"faceattend/internal/config"
	"faceattend/internal/faceclient"
	"faceattend/internal/identity"
	"faceattend/internal/localstore"
	"faceattend/internal/logger"
	"faceattend/internal/queue"
	"faceattend/internal/recorder"
	"faceattend/internal/seed"
	"faceattend/internal/store"
	"faceattend/internal/timetable"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	zlog, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	if err := run(cfg, zlog); err != nil {
		zlog.Fatal("server failed", zap.Error(err))
	}
}

// app bundles everything the routes need.
type app struct {
	cfg       config.App
	log       *zap.Logger
	gate      *identity.Gate
	users     identity.Store
	records   attendance.Store
	slots     timetable.Store
	flows     *recorder.Registry
	face      *faceclient.Client
	redis     *store.Redis
	db        *store.DB
	newFlow   func(user identity.PublicUser) *recorder.Recorder
	startedAt time.Time
}

func run(cfg config.App, zlog *zap.Logger) error {
	a := &app{cfg: cfg, log: zlog, startedAt: time.Now()}

	// Backing stores. The memory backend keeps every collection in one
	// in-process store, handy for demos and tests.
	if cfg.StoreBackend == "memory" {
		mem := localstore.New()
		a.users = mem.Users()
		a.records = mem.Attendance()
		a.slots = mem.Timetable()
	} else {
		db, err := store.NewDB(cfg.DatabaseURL)
		if db == nil {
			return err
		}
		if err != nil {
			zlog.Warn("database not reachable at startup", zap.Error(err))
		}
		a.db = db
		defer func() { _ = db.Close() }()
		a.users = identity.NewRepository(db.Client)
		a.records = attendance.NewRepository(db.Client)
		a.slots = timetable.NewRepository(db.Client)
	}

	var sessions identity.SessionStore
	var q queue.Queue
	if cfg.StoreBackend == "memory" && cfg.QueueBackend == "memory" {
		sessions = identity.NewMemorySessions()
		q = queue.NewInMemory(64)
	} else {
		a.redis = store.NewRedis(cfg.RedisAddr)
		sessions = identity.NewRedisSessions(a.redis.Client)
		if cfg.QueueBackend == "memory" {
			q = queue.NewInMemory(64)
		} else {
			q = queue.NewRedisQueue(a.redis.Client, "faceattend:events")
		}
	}

	a.gate = identity.NewGate(a.users, sessions, zlog, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.SessionTTL)

	a.face = faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip)
	loadCtx, cancelLoad := context.WithTimeout(context.Background(), 30*time.Second)
	if err := a.face.LoadModels(loadCtx, cfg.FaceModelPath); err != nil {
		zlog.Warn("face model load failed, recognition degraded", zap.Error(err))
	}
	cancelLoad()

	recCfg := recorder.Config{
		SampleInterval: cfg.SampleInterval,
		CountdownTicks: cfg.CountdownTicks,
	}
	a.flows = recorder.NewRegistry()
	a.newFlow = func(user identity.PublicUser) *recorder.Recorder {
		return recorder.New(user, capture.PushSource{}, a.face, a.records, q, zlog, recCfg)
	}

	if cfg.SeedDemoData {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		users, err := seed.Users(ctx, a.users, zlog)
		if err == nil {
			err = seed.Attendance(ctx, a.records, users, time.Now().UTC(), zlog)
		}
		cancel()
		if err != nil {
			zlog.Warn("demo seed failed", zap.Error(err))
		}
	}

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      a.router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		zlog.Info("server listening", zap.String("port", cfg.HTTPPort), zap.String("store", cfg.StoreBackend))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal("listen failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info("shutting down")

	// Tear down live capture flows before refusing requests so every
	// acquired stream gets its release.
	a.flows.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Warn("forced shutdown", zap.Error(err))
	}
	zlog.Info("server exited")
	return nil
}
