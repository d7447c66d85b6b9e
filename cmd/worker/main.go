package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fiapx/fiapx-flowscore-service/internal/bootstrap"
	"github.com/fiapx/fiapx-flowscore-service/internal/infra/archive"
	"github.com/fiapx/fiapx-flowscore-service/internal/infra/config"
	"github.com/fiapx/fiapx-flowscore-service/internal/infra/email"
	"github.com/fiapx/fiapx-flowscore-service/internal/infra/metrics"
	miniostorage "github.com/fiapx/fiapx-flowscore-service/internal/infra/minio"
	"github.com/fiapx/fiapx-flowscore-service/internal/infra/model"
	"github.com/fiapx/fiapx-flowscore-service/internal/infra/postgres"
	"github.com/fiapx/fiapx-flowscore-service/internal/infra/rabbitmq"
	"github.com/fiapx/fiapx-flowscore-service/internal/infra/tracing"
	"github.com/fiapx/fiapx-flowscore-service/internal/usecase"
	"github.com/fiapx/fiapx-flowscore-service/pkg/logger"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	fatalOnErr(err, "load config")

	log, err := logger.New(cfg.LogLevel)
	fatalOnErr(err, "init logger")
	defer log.Sync()

	log.Info("starting fiapx-flowscore-service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing (non-fatal if Jaeger unavailable)
	tp, err := tracing.InitTracer(ctx, cfg.JaegerEndpoint)
	if err != nil {
		log.Warn("tracing init failed, continuing without tracing", zap.Error(err))
	} else {
		defer tp.Shutdown(context.Background())
	}

	// Database
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	fatalOnErr(err, "connect to postgres")
	defer pool.Close()

	fatalOnErr(postgres.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir), "run migrations")

	// MinIO
	storage, err := miniostorage.NewStorage(miniostorage.StorageConfig{
		Endpoint:       cfg.MinIOEndpoint,
		AccessKey:      cfg.MinIOAccessKey,
		SecretKey:      cfg.MinIOSecretKey,
		UseSSL:         cfg.MinIOUseSSL,
		VideoBucket:    cfg.MinIOVideoBucket,
		ArtifactBucket: cfg.MinIOArtifactBucket,
	})
	fatalOnErr(err, "create minio storage")
	fatalOnErr(storage.EnsureBuckets(ctx), "ensure minio buckets")

	// RabbitMQ publisher connection
	rmqConn, err := amqp.Dial(cfg.RabbitMQURL)
	fatalOnErr(err, "connect to rabbitmq for publisher")
	defer rmqConn.Close()

	pub, err := rabbitmq.NewPublisher(rmqConn, cfg.RabbitMQExchange)
	fatalOnErr(err, "create rabbitmq publisher")
	defer pub.Close()

	statusPub := rabbitmq.NewStatusPublisher(pub, cfg.RabbitMQStatusQueue)
	dlqPub := rabbitmq.NewDLQPublisher(pub, cfg.RabbitMQDLQ)

	// Models are loaded once and shared by every job.
	session, err := model.NewSession(bootstrap.SessionConfig(cfg), log.Named("model"))
	fatalOnErr(err, "load models")
	defer session.Close()

	scorer, err := bootstrap.NewScorer(cfg, session, log)
	fatalOnErr(err, "build scorer")

	repo := postgres.NewJobRepository(pool)
	zipper := archive.NewZipCreator()
	notifier := email.NewSMTPNotifier(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom, log)

	uc := usecase.NewScoreVideoUseCase(
		repo, storage, scorer, zipper,
		statusPub, dlqPub, notifier,
		log,
		usecase.ScoreVideoConfig{WorkDir: cfg.WorkDir},
	)

	// Consumer (worker pool)
	consumer, err := rabbitmq.NewConsumer(rabbitmq.ConsumerConfig{
		URL:         cfg.RabbitMQURL,
		Queue:       cfg.RabbitMQScoringQueue,
		Exchange:    cfg.RabbitMQExchange,
		DLQ:         cfg.RabbitMQDLQ,
		StatusQueue: cfg.RabbitMQStatusQueue,
		Prefetch:    cfg.RabbitMQPrefetch,
		WorkerCount: cfg.WorkerCount,
	}, uc.Execute, log)
	fatalOnErr(err, "create consumer")

	metricsSrv := metrics.StartMetricsServer(cfg.MetricsPort, func() error {
		return errors.Join(consumer.Healthy(), session.Healthy(), pool.Ping(ctx), storage.Ping(ctx))
	}, log)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	log.Info("fiapx-flowscore-service started, consuming messages")

	if err := consumer.Start(ctx); err != nil {
		log.Error("consumer error", zap.Error(err))
	}

	// Shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Shutdown(shutdownCtx)

	consumer.Close()
	log.Info("fiapx-flowscore-service stopped")
}

func fatalOnErr(err error, msg string) {
	if err != nil {
		panic(msg + ": " + err.Error())
	}
}
