// Package main runs the campus events HTTP server with the projector WebSocket and
// graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/campus-events/backend/config"
	"github.com/campus-events/backend/internal/auth"
	"github.com/campus-events/backend/internal/credentials"
	"github.com/campus-events/backend/internal/realtime"
	"github.com/campus-events/backend/internal/server"
	"github.com/campus-events/backend/internal/store/memory"
	"github.com/campus-events/backend/pkg/database"
	"github.com/campus-events/backend/pkg/queue"
	"github.com/campus-events/backend/pkg/redis"
	"github.com/campus-events/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	deps := server.Deps{
		Config: cfg,
		Logger: logger,
		JWT:    auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours),
	}

	switch cfg.Database.Driver {
	case config.DriverMemory:
		logger.Warn("using in-memory store; data is lost on restart")
		deps.Stores = server.MemoryStores(memory.New())
	default:
		pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.PoolOptions(), logger)
		if err != nil {
			logger.Fatal("database", zap.Error(err))
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool, logger); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
		deps.Stores = server.PostgresStores(pool)
	}

	if cfg.Redis.Addr != "" {
		rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer rdb.Close()
		pubsub := realtime.NewRedisPubSub(rdb.Client, logger)
		deps.Hub = realtime.NewHub(logger, pubsub, pubsub)
		deps.Guard = credentials.NewRedisGuard(rdb.Client)
		if cfg.Database.Driver == config.DriverPostgres {
			deps.Scheduler = queue.NewQueue(rdb.Client, logger)
		}
	} else {
		logger.Warn("REDIS_ADDR not set; projector fan-out and certificate batches run in-process")
	}

	if cfg.AWS.ReportsBucket != "" {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			ReportsBucket:        cfg.AWS.ReportsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		} else {
			deps.Reports = s3Client
		}
	}

	app := server.New(deps)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      app.Engine,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port), zap.String("driver", cfg.Database.Driver))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	app.Rotators.StopAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
