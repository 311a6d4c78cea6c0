// Package main runs the background worker that issues certificates for closed events.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/campus-events/backend/config"
	"github.com/campus-events/backend/internal/certificates"
	"github.com/campus-events/backend/internal/worker"
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
	if cfg.Database.Driver != config.DriverPostgres {
		logger.Fatal("worker requires DATABASE_DRIVER=postgres")
	}
	if cfg.Redis.Addr == "" {
		logger.Fatal("worker requires REDIS_ADDR")
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.PoolOptions(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var reports certificates.ReportSink
	if cfg.AWS.ReportsBucket != "" {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			ReportsBucket:        cfg.AWS.ReportsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Fatal("s3", zap.Error(err))
		}
		reports = s3Client
	}

	aggregator := certificates.NewAggregator(certificates.NewRepository(pool), reports, cfg.Certificates.CodeRetries, logger.Named("certificates"))
	jobQueue := queue.NewQueue(rdb.Client, logger)
	processor := worker.NewCertificateProcessor(aggregator, jobQueue, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		processor.Run(workerCtx)
	}()
	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logger.Warn("worker did not stop in time")
	}
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
