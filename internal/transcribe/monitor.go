package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/joseph-ayodele/archive-transcriber/constants"
	"github.com/joseph-ayodele/archive-transcriber/internal/common"
	"github.com/joseph-ayodele/archive-transcriber/internal/entity"
	"github.com/joseph-ayodele/archive-transcriber/internal/ocr"
	"github.com/joseph-ayodele/archive-transcriber/internal/repository"
)

type MonitorConfig struct {
	UnitCost        int64
	PollInterval    time.Duration
	MaxPollAttempts int
	// MaxPollsPerTask bounds concurrent poll loops within one task; 0 means one loop per job.
	MaxPollsPerTask int
	// MaxPollsGlobal bounds in-flight status calls across all tasks; 0 disables the bound.
	MaxPollsGlobal  int
	CheckpointEvery int
}

// DefaultMonitorConfig polls every 2s for at most 43 200 attempts (about 24h).
var DefaultMonitorConfig = MonitorConfig{
	UnitCost:        1,
	PollInterval:    2 * time.Second,
	MaxPollAttempts: 43200,
	MaxPollsPerTask: 32,
	CheckpointEvery: 30,
}

// Monitor polls every job of a MonitorTask to a terminal state, records the results and
// settles credits for the completed ones. Process is the queue handler.
type Monitor struct {
	jobs           repository.TranscriptionJobRepository
	transcriptions repository.TranscriptionRepository
	credits        repository.CreditRepository
	ocr            StatusChecker
	checkpoints    CheckpointStore
	global         *semaphore.Weighted
	cfg            MonitorConfig
	logger         *slog.Logger
	sleep          func(ctx context.Context, d time.Duration) error
}

type MonitorOption func(*Monitor)

// WithPollSleep replaces the wait between polls; tests use it to run loops instantly.
func WithPollSleep(fn func(ctx context.Context, d time.Duration) error) MonitorOption {
	return func(m *Monitor) {
		if fn != nil {
			m.sleep = fn
		}
	}
}

func WithCheckpoints(store CheckpointStore) MonitorOption {
	return func(m *Monitor) {
		if store != nil {
			m.checkpoints = store
		}
	}
}

func NewMonitor(
	jobs repository.TranscriptionJobRepository,
	transcriptions repository.TranscriptionRepository,
	credits repository.CreditRepository,
	ocr StatusChecker,
	cfg MonitorConfig,
	logger *slog.Logger,
	opts ...MonitorOption,
) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.UnitCost <= 0 {
		cfg.UnitCost = DefaultMonitorConfig.UnitCost
	}
	if cfg.MaxPollAttempts <= 0 {
		cfg.MaxPollAttempts = DefaultMonitorConfig.MaxPollAttempts
	}
	if cfg.PollInterval < 0 {
		cfg.PollInterval = 0
	}
	m := &Monitor{
		jobs:           jobs,
		transcriptions: transcriptions,
		credits:        credits,
		ocr:            ocr,
		checkpoints:    NewMemoryCheckpoints(),
		cfg:            cfg,
		logger:         logger,
		sleep:          sleepCtx,
	}
	if cfg.MaxPollsGlobal > 0 {
		m.global = semaphore.NewWeighted(int64(cfg.MaxPollsGlobal))
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// TaskOutcome summarises one processed task.
type TaskOutcome struct {
	Completed  int
	Failed     int
	Settlement *entity.Settlement // nil when nothing completed
}

// Process is the queue handler. An error means the task should be redelivered; jobs that
// already reached a terminal state are not polled again and settlement is keyed so it
// applies at most once.
func (m *Monitor) Process(ctx context.Context, task entity.MonitorTask) error {
	_, err := m.Run(ctx, task)
	return err
}

func (m *Monitor) Run(ctx context.Context, task entity.MonitorTask) (*TaskOutcome, error) {
	ctx = common.WithTaskID(ctx, task.TaskID.String())
	log := common.LoggerWith(ctx, m.logger).With("user_id", task.UserID)
	log.Info("monitor task started", "jobs", len(task.Jobs))
	start := time.Now()

	phases := make([]PollPhase, len(task.Jobs))
	g, gctx := errgroup.WithContext(ctx)
	if m.cfg.MaxPollsPerTask > 0 {
		g.SetLimit(m.cfg.MaxPollsPerTask)
	}
	for i, job := range task.Jobs {
		g.Go(func() error {
			phase, err := m.pollJob(gctx, log, task, job)
			if err != nil {
				return fmt.Errorf("job %s: %w", job.TranscriptionJobID, err)
			}
			phases[i] = phase
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Error("monitor task failed", "error", err)
		return nil, err
	}

	out := &TaskOutcome{}
	for _, p := range phases {
		if p == PhaseCompleted {
			out.Completed++
		} else {
			out.Failed++
		}
	}

	if out.Completed > 0 {
		s, err := m.credits.Deduct(ctx, task.UserID, task.TaskID, int64(out.Completed)*m.cfg.UnitCost, task.SettlementKey())
		if err != nil {
			log.Error("settlement failed", "completed", out.Completed, "error", err)
			return nil, fmt.Errorf("settle task: %w", err)
		}
		out.Settlement = s
	}
	if err := m.checkpoints.Delete(ctx, task.TaskID); err != nil {
		log.Warn("failed to drop checkpoints", "error", err)
	}

	log.Info("monitor task finished",
		"completed", out.Completed,
		"failed", out.Failed,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

// pollJob drives one job to a terminal phase. The ledger is the source of truth: a job that
// is already terminal is reported as such without polling.
func (m *Monitor) pollJob(ctx context.Context, log *slog.Logger, task entity.MonitorTask, job entity.MonitorTaskJob) (PollPhase, error) {
	log = log.With("job_id", job.TranscriptionJobID, "external_job_id", job.ExternalJobID)

	row, err := m.jobs.GetByID(ctx, job.TranscriptionJobID)
	if err != nil {
		return "", err
	}
	if row.Status.IsTerminal() {
		log.Debug("job already terminal; not polling", "status", row.Status)
		return phaseOf(row.Status), nil
	}

	state := newPollState(job.TranscriptionJobID, job.ExternalJobID)
	if saved, ok, err := m.checkpoints.Load(ctx, task.TaskID, job.TranscriptionJobID); err != nil {
		log.Warn("failed to load checkpoint; starting fresh", "error", err)
	} else if ok && !saved.Done() {
		state = saved
		log.Info("resuming poll loop from checkpoint", "attempts", state.Attempts)
	}

	for !state.Done() {
		if state.Exhausted(m.cfg.MaxPollAttempts) {
			state = state.TimedOut()
			break
		}
		if err := m.sleep(ctx, m.cfg.PollInterval); err != nil {
			m.checkpoint(ctx, log, task, state)
			return "", err
		}
		res, err := m.status(ctx, job.ExternalJobID)
		if err != nil {
			if ctx.Err() != nil {
				m.checkpoint(ctx, log, task, state)
				return "", ctx.Err()
			}
			log.Debug("poll failed; retrying next tick", "attempt", state.Attempts+1, "error", err)
		}
		state = state.Next(res, err)
		if !state.Done() && m.cfg.CheckpointEvery > 0 && state.Attempts%m.cfg.CheckpointEvery == 0 {
			m.checkpoint(ctx, log, task, state)
		}
	}

	return m.finish(ctx, log, job, state)
}

func (m *Monitor) status(ctx context.Context, externalJobID string) (ocr.StatusResult, error) {
	if m.global != nil {
		if err := m.global.Acquire(ctx, 1); err != nil {
			return ocr.StatusResult{}, err
		}
		defer m.global.Release(1)
	}
	return m.ocr.Status(ctx, externalJobID)
}

// finish persists a terminal state. The transcription is written before the job is marked
// completed so a crash in between is repaired by the redelivery.
func (m *Monitor) finish(ctx context.Context, log *slog.Logger, job entity.MonitorTaskJob, state PollState) (PollPhase, error) {
	var err error
	switch state.Phase {
	case PhaseCompleted:
		if _, err := m.transcriptions.UpsertAIResult(ctx, job.ImageID, state.Transcript); err != nil {
			return "", err
		}
		err = m.jobs.MarkCompleted(ctx, job.TranscriptionJobID, state.Transcript)
	case PhaseFailed:
		err = m.jobs.MarkFailed(ctx, job.TranscriptionJobID, state.FailureReason)
	}
	if errors.Is(err, repository.ErrJobNotInProgress) {
		// Someone else settled the row first; report what the ledger says.
		row, gerr := m.jobs.GetByID(ctx, job.TranscriptionJobID)
		if gerr != nil {
			return "", gerr
		}
		return phaseOf(row.Status), nil
	}
	if err != nil {
		return "", err
	}
	log.Info("job reached terminal state",
		"phase", state.Phase,
		"attempts", state.Attempts,
		"remote_status", state.LastStatus,
		"reason", state.FailureReason,
	)
	return state.Phase, nil
}

func (m *Monitor) checkpoint(ctx context.Context, log *slog.Logger, task entity.MonitorTask, state PollState) {
	// The caller's ctx may already be cancelled at shutdown.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := m.checkpoints.Save(saveCtx, task.TaskID, state); err != nil {
		log.Warn("failed to save checkpoint", "attempts", state.Attempts, "error", err)
	}
}

func phaseOf(s constants.JobStatus) PollPhase {
	switch s {
	case constants.JobStatusCompleted:
		return PhaseCompleted
	case constants.JobStatusFailed:
		return PhaseFailed
	}
	return PhasePolling
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
