package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joseph-ayodele/archive-transcriber/internal/common"
	"github.com/joseph-ayodele/archive-transcriber/internal/core/async"
	"github.com/joseph-ayodele/archive-transcriber/internal/export"
	"github.com/joseph-ayodele/archive-transcriber/internal/ocr"
	repo "github.com/joseph-ayodele/archive-transcriber/internal/repository"
	svc "github.com/joseph-ayodele/archive-transcriber/internal/server"
	"github.com/joseph-ayodele/archive-transcriber/internal/storage"
	"github.com/joseph-ayodele/archive-transcriber/internal/transcribe"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env", "error", err)
	}
	cfg := common.LoadConfig()
	logger := cfg.Log.NewLogger()
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := svc.ConnectDB(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer repo.Close(db, logger)
	if err := svc.PingDB(ctx, db, logger, 5*time.Second); err != nil {
		os.Exit(1)
	}

	images := repo.NewImageRepository(db, logger)
	transcriptions := repo.NewTranscriptionRepository(db, logger)
	jobs := repo.NewTranscriptionJobRepository(db, logger)
	credits := repo.NewCreditRepository(db, logger)

	blobs, err := storage.New(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Error("failed to init image storage", "backend", cfg.Storage.Backend, "error", err)
		os.Exit(1)
	}

	ocrClient := ocr.NewClient(ocr.Config{
		BaseURL:    cfg.OCR.BaseURL,
		APIKey:     cfg.OCR.APIKey,
		Timeout:    cfg.OCR.Timeout,
		MaxRetries: cfg.OCR.MaxRetries,
		Backoff:    cfg.OCR.RetryBackoff,
	}, logger)

	var monitorOpts []transcribe.MonitorOption
	var rdb *redis.Client
	if cfg.Queue.Backend == "redis" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Error("failed to connect to redis", "addr", cfg.Redis.Addr, "error", err)
			os.Exit(1)
		}
		monitorOpts = append(monitorOpts, transcribe.WithCheckpoints(transcribe.NewRedisCheckpoints(rdb)))
	}

	monitor := transcribe.NewMonitor(jobs, transcriptions, credits, ocrClient, transcribe.MonitorConfig{
		UnitCost:        cfg.Billing.UnitCost,
		PollInterval:    cfg.Monitor.PollInterval,
		MaxPollAttempts: cfg.Monitor.MaxPollAttempts,
		MaxPollsPerTask: cfg.Monitor.MaxPollsPerTask,
		MaxPollsGlobal:  cfg.Monitor.MaxPollsGlobal,
		CheckpointEvery: cfg.Monitor.CheckpointEvery,
	}, logger, monitorOpts...)

	queueOpts := []async.Option{
		async.WithWorkers(cfg.Monitor.Workers),
		async.WithRetryPolicy(async.RetryPolicy{
			MaxAttempts: cfg.Queue.MaxAttempts,
			Backoff:     cfg.Queue.RetryBackoff,
		}),
	}
	var queue async.Queue
	if rdb != nil {
		rq := async.NewRedisQueue(rdb, cfg.Queue.Name, logger, queueOpts...)
		if err := rq.Start(ctx, monitor.Process); err != nil {
			logger.Error("failed to start monitor queue", "error", err)
			os.Exit(1)
		}
		queue = rq
	} else {
		logger.Warn("using in-memory monitor queue; tasks do not survive a restart")
		queue = async.NewMemoryQueue(monitor.Process, logger, queueOpts...)
	}

	coordinator := transcribe.NewCoordinator(images, transcriptions, jobs, credits, blobs, ocrClient, queue,
		transcribe.CoordinatorConfig{
			UnitCost:          cfg.Billing.UnitCost,
			SubmitConcurrency: cfg.Monitor.SubmitConcurrency,
		}, logger)
	exporter := export.NewService(jobs, cfg.Billing.UnitCost, logger)

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		logger.Error("failed to listen on address", "addr", cfg.Server.GRPCAddr, "error", err)
		os.Exit(1)
	}
	grpcServer, healthServer := svc.NewGRPCServer(svc.NewTranscriptionService(coordinator, jobs, exporter, logger), logger)

	logger.Info("archive-transcriber listening", "addr", cfg.Server.GRPCAddr, "queue", cfg.Queue.Backend)
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC serve error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	grpcServer.GracefulStop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	queue.Shutdown(shutdownCtx)
}
