package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/joseph-ayodele/archive-transcriber/internal/common"
	"github.com/joseph-ayodele/archive-transcriber/internal/core/async"
	"github.com/joseph-ayodele/archive-transcriber/internal/entity"
	"github.com/joseph-ayodele/archive-transcriber/internal/export"
	repo "github.com/joseph-ayodele/archive-transcriber/internal/repository"
	svc "github.com/joseph-ayodele/archive-transcriber/internal/server"
	"github.com/joseph-ayodele/archive-transcriber/internal/utils"
)

func main() {
	var (
		user = flag.String("user", "", "user id (UUID) whose jobs are reported")
		from = flag.String("from", "", "first day, YYYY-MM-DD (optional)")
		to   = flag.String("to", "", "last day, YYYY-MM-DD, inclusive (optional)")
		out  = flag.String("out", "jobs.xlsx", "output file")
		dead = flag.Int64("dead-letters", 0, "print up to N dead-lettered monitor tasks from the redis queue and exit")
	)
	flag.Parse()

	_ = godotenv.Load()
	cfg := common.LoadConfig()
	logger := cfg.Log.NewLogger()

	if *dead > 0 {
		if err := printDeadLetters(cfg, *dead, logger); err != nil {
			logger.Error("failed to list dead letters", "queue", cfg.Queue.Name, "error", err)
			os.Exit(1)
		}
		return
	}

	userID, err := uuid.Parse(*user)
	if err != nil {
		fmt.Fprintln(os.Stderr, "usage: jobreport -user <uuid> [-from YYYY-MM-DD] [-to YYYY-MM-DD] [-out jobs.xlsx]")
		os.Exit(2)
	}
	fromT, toT, err := utils.DateWindow(*from, *to, time.Now())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	db, err := svc.ConnectDB(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer repo.Close(db, logger)

	exporter := export.NewService(repo.NewTranscriptionJobRepository(db, logger), cfg.Billing.UnitCost, logger)
	data, err := exporter.JobsXLSX(ctx, userID, fromT, toT)
	if err != nil {
		logger.Error("export failed", "user_id", userID, "error", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		logger.Error("failed to write report", "path", *out, "error", err)
		os.Exit(1)
	}
	logger.Info("report written", "path", *out, "bytes", len(data))
}

type deadLetterLister interface {
	DeadLetters(ctx context.Context, limit int64) ([]entity.MonitorTask, error)
}

func printDeadLetters(cfg *common.Config, limit int64, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	n, err := writeDeadLetters(ctx, os.Stdout, async.NewRedisQueue(rdb, cfg.Queue.Name, logger), limit)
	if err != nil {
		return err
	}
	logger.Info("dead letters listed", "queue", cfg.Queue.Name, "count", n)
	return nil
}

// writeDeadLetters writes one JSON object per dead-lettered task, newest first.
func writeDeadLetters(ctx context.Context, w io.Writer, q deadLetterLister, limit int64) (int, error) {
	tasks, err := q.DeadLetters(ctx, limit)
	if err != nil {
		return 0, err
	}
	enc := json.NewEncoder(w)
	for _, task := range tasks {
		if err := enc.Encode(task); err != nil {
			return 0, err
		}
	}
	return len(tasks), nil
}
