package main

import (
	"context"
	"errors"
	"time"

	"github.com/fiapx/fiapx-ocr-service/internal/infra/cleanup"
	"github.com/fiapx/fiapx-ocr-service/internal/infra/email"
	"github.com/fiapx/fiapx-ocr-service/internal/infra/ffmpeg"
	"github.com/fiapx/fiapx-ocr-service/internal/infra/metrics"
	miniostorage "github.com/fiapx/fiapx-ocr-service/internal/infra/minio"
	"github.com/fiapx/fiapx-ocr-service/internal/infra/postgres"
	"github.com/fiapx/fiapx-ocr-service/internal/infra/rabbitmq"
	"github.com/fiapx/fiapx-ocr-service/internal/infra/tracing"
	"github.com/fiapx/fiapx-ocr-service/internal/usecase"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Consume OCR tasks from RabbitMQ",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync()

	log.Info("starting fiapx-ocr-service")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Tracing (non-fatal if Jaeger unavailable)
	tp, err := tracing.InitTracer(ctx, cfg.JaegerEndpoint, cfg.TracingSampleRatio)
	if err != nil {
		log.Warn("tracing init failed, continuing without tracing", zap.Error(err))
	} else {
		defer tp.Shutdown(context.WithoutCancel(ctx))
	}

	// Database
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	fatalOnErr(err, "connect to postgres")
	defer pool.Close()

	fatalOnErr(postgres.RunMigrations(ctx, pool, log), "run migrations")

	// MinIO
	storage, err := miniostorage.NewStorage(miniostorage.StorageConfig{
		Endpoint:      cfg.MinIOEndpoint,
		AccessKey:     cfg.MinIOAccessKey,
		SecretKey:     cfg.MinIOSecretKey,
		UseSSL:        cfg.MinIOUseSSL,
		VideoBucket:   cfg.MinIOVideoBucket,
		MaxVideoBytes: cfg.MinIOMaxVideoBytes,
	})
	fatalOnErr(err, "create minio storage")
	fatalOnErr(storage.EnsureBucket(ctx), "ensure minio bucket")

	// RabbitMQ publisher connection
	rmqConn, err := amqp.Dial(cfg.RabbitMQURL)
	fatalOnErr(err, "connect to rabbitmq for publisher")
	defer rmqConn.Close()

	pub, err := rabbitmq.NewPublisher(rmqConn, cfg.RabbitMQExchange)
	fatalOnErr(err, "create rabbitmq publisher")
	defer pub.Close()

	statusPub := rabbitmq.NewStatusPublisher(pub, cfg.RabbitMQStatusKey)
	dlqPub := rabbitmq.NewDLQPublisher(pub, cfg.RabbitMQDLQ)

	// Infra adapters
	store := postgres.NewTaskRepository(pool)
	source := ffmpeg.NewSource(cfg.FFmpegPath, cfg.FFprobePath, log)
	recognizer := newRecognizer(cfg, log)
	notifier := email.NewSMTPNotifier(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom, log)

	// Use cases
	processor := usecase.NewTaskProcessor(store, source, recognizer, cfg.OCRParams(), log)
	uc := usecase.NewProcessTaskUseCase(
		store, storage, processor,
		statusPub, dlqPub, notifier,
		log,
		usecase.ProcessTaskConfig{
			TempDir:     cfg.TempDir,
			InFlightTTL: cfg.InFlightTTL,
		},
	)

	// Maintenance
	janitor := cleanup.NewJanitor(store, cleanup.Config{
		Schedule:   cfg.CleanupSchedule,
		TempDir:    cfg.TempDir,
		StaleAfter: cfg.StaleTaskAfter,
		TempMaxAge: cfg.TempDirMaxAge,
	}, log)
	fatalOnErr(janitor.Start(), "start maintenance")

	// Consumer (worker pool)
	consumer, err := rabbitmq.NewConsumer(rabbitmq.ConsumerConfig{
		URL:           cfg.RabbitMQURL,
		Queue:         cfg.RabbitMQProcessingQueue,
		Exchange:      cfg.RabbitMQExchange,
		ProcessingKey: cfg.RabbitMQProcessingKey,
		DLQ:           cfg.RabbitMQDLQ,
		StatusQueue:   cfg.RabbitMQStatusQueue,
		StatusKey:     cfg.RabbitMQStatusKey,
		Prefetch:      cfg.RabbitMQPrefetch,
		WorkerCount:   cfg.WorkerCount,
		MaxAttempts:   cfg.MaxRetries,
		BaseDelayMs:   cfg.RetryBaseDelayMs,
	}, uc.Execute, log)
	fatalOnErr(err, "create consumer")

	// Metrics server
	metricsSrv := metrics.StartMetricsServer(cfg.MetricsPort, func(ctx context.Context) error {
		return errors.Join(pool.Ping(ctx), storage.Ping(ctx), consumer.Ping(ctx))
	}, log)

	log.Info("fiapx-ocr-service started, consuming messages")

	if err := consumer.Start(ctx); err != nil {
		log.Error("consumer error", zap.Error(err))
	}

	// Shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Shutdown(shutdownCtx)
	janitor.Stop(shutdownCtx)

	consumer.Close()
	log.Info("fiapx-ocr-service stopped")
	return nil
}
