package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/archive-transcriber/internal/entity"
	"github.com/joseph-ayodele/archive-transcriber/internal/ocr"
	"github.com/joseph-ayodele/archive-transcriber/internal/repository"
	"github.com/joseph-ayodele/archive-transcriber/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// env wires real repositories over an in-memory SQLite database.
type env struct {
	images         repository.ImageRepository
	transcriptions repository.TranscriptionRepository
	jobs           repository.TranscriptionJobRepository
	credits        *countingCredits
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	dsn := fmt.Sprintf("file:%s?mode=memory&_pragma=foreign_keys(1)&_time_format=sqlite", uuid.NewString())
	db, err := repository.OpenSQLite(ctx, dsn, testLogger())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { repository.Close(db, testLogger()) })
	if err := repository.Migrate(ctx, db, testLogger()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return &env{
		images:         repository.NewImageRepository(db, testLogger()),
		transcriptions: repository.NewTranscriptionRepository(db, testLogger()),
		jobs:           repository.NewTranscriptionJobRepository(db, testLogger()),
		credits:        &countingCredits{CreditRepository: repository.NewCreditRepository(db, testLogger())},
	}
}

func (e *env) fund(t *testing.T, user uuid.UUID, monthly, lifetime int64) {
	t.Helper()
	if err := e.credits.Upsert(context.Background(), entity.CreditBalance{UserID: user, MonthlyCredits: monthly, LifetimeCredits: lifetime}); err != nil {
		t.Fatalf("fund: %v", err)
	}
}

func (e *env) balance(t *testing.T, user uuid.UUID) *entity.CreditBalance {
	t.Helper()
	b, err := e.credits.GetBalance(context.Background(), user)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	return b
}

func (e *env) image(t *testing.T, user uuid.UUID, doc *uuid.UUID, pos int) *entity.Image {
	t.Helper()
	img, err := e.images.CreateImage(context.Background(), user, doc, fmt.Sprintf("%s/%d.png", user, pos), pos)
	if err != nil {
		t.Fatalf("CreateImage: %v", err)
	}
	return img
}

// countingCredits records how often the ledger was read or debited.
type countingCredits struct {
	repository.CreditRepository
	reads   atomic.Int32
	deducts atomic.Int32
	// deductErr, when set, fails the next Deduct calls.
	deductErr error
}

func (c *countingCredits) GetBalance(ctx context.Context, userID uuid.UUID) (*entity.CreditBalance, error) {
	c.reads.Add(1)
	return c.CreditRepository.GetBalance(ctx, userID)
}

func (c *countingCredits) Deduct(ctx context.Context, userID, taskID uuid.UUID, amount int64, key string) (*entity.Settlement, error) {
	c.deducts.Add(1)
	if c.deductErr != nil {
		return nil, c.deductErr
	}
	return c.CreditRepository.Deduct(ctx, userID, taskID, amount, key)
}

// fakeBlobs serves every path unless it is listed in missing.
type fakeBlobs struct {
	missing map[string]bool
}

func (f *fakeBlobs) FetchBytes(_ context.Context, path string) ([]byte, error) {
	if f.missing[path] {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, path)
	}
	return []byte("img:" + path), nil
}

// fakeOCR implements Submitter and StatusChecker with func fields.
type fakeOCR struct {
	submits  atomic.Int32
	polls    atomic.Int32
	SubmitFn func(ctx context.Context, imageBase64 string) (string, error)
	StatusFn func(ctx context.Context, externalJobID string, attempt int) (ocr.StatusResult, error)

	mu       sync.Mutex
	attempts map[string]int
}

func (f *fakeOCR) Submit(ctx context.Context, imageBase64 string) (string, error) {
	f.submits.Add(1)
	if f.SubmitFn != nil {
		return f.SubmitFn(ctx, imageBase64)
	}
	return "ext-" + uuid.NewString(), nil
}

func (f *fakeOCR) Status(ctx context.Context, externalJobID string) (ocr.StatusResult, error) {
	f.polls.Add(1)
	f.mu.Lock()
	if f.attempts == nil {
		f.attempts = make(map[string]int)
	}
	f.attempts[externalJobID]++
	n := f.attempts[externalJobID]
	f.mu.Unlock()
	if f.StatusFn != nil {
		return f.StatusFn(ctx, externalJobID, n)
	}
	return ocr.StatusResult{Status: "COMPLETED", Transcript: "text"}, nil
}

// fakeQueue captures enqueued tasks.
type fakeQueue struct {
	mu    sync.Mutex
	tasks []entity.MonitorTask
	err   error
}

func (q *fakeQueue) Enqueue(_ context.Context, task entity.MonitorTask) error {
	if q.err != nil {
		return q.err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *fakeQueue) enqueued() []entity.MonitorTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]entity.MonitorTask(nil), q.tasks...)
}

func noSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

var errNetwork = errors.New("dial tcp: connection refused")
