package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/archive-transcriber/constants"
	"github.com/joseph-ayodele/archive-transcriber/internal/common"
	"github.com/joseph-ayodele/archive-transcriber/internal/entity"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestDB opens a migrated in-memory SQLite database private to the test.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()
	dsn := fmt.Sprintf("file:%s?mode=memory&_pragma=foreign_keys(1)&_time_format=sqlite", uuid.NewString())
	db, err := OpenSQLite(ctx, dsn, testLogger())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { Close(db, testLogger()) })
	if err := Migrate(ctx, db, testLogger()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestTranscriptionJob_TransitionsAreMonotone(t *testing.T) {
	ctx := context.Background()
	repo := NewTranscriptionJobRepository(newTestDB(t), testLogger())

	job, err := repo.Create(ctx, uuid.New(), "ext-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if job.Status != constants.JobStatusInProgress {
		t.Fatalf("new job status = %s, want IN_PROGRESS", job.Status)
	}

	if err := repo.MarkCompleted(ctx, job.ID, "Hello"); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	if err := repo.MarkFailed(ctx, job.ID, constants.FailureRemoteFailed); !errors.Is(err, ErrJobNotInProgress) {
		t.Fatalf("MarkFailed on completed job: got %v, want ErrJobNotInProgress", err)
	}
	if err := repo.MarkCompleted(ctx, job.ID, "other"); !errors.Is(err, common.ErrConflict) {
		t.Fatalf("second MarkCompleted: got %v, want conflict", err)
	}

	got, err := repo.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != constants.JobStatusCompleted {
		t.Errorf("status = %s, want COMPLETED", got.Status)
	}
	if got.TranscriptText == nil || *got.TranscriptText != "Hello" {
		t.Errorf("transcript = %v, want Hello", got.TranscriptText)
	}
	if got.FailureReason != nil {
		t.Errorf("failure reason = %v, want nil", *got.FailureReason)
	}
}

func TestTranscriptionJob_MarkFailed(t *testing.T) {
	ctx := context.Background()
	repo := NewTranscriptionJobRepository(newTestDB(t), testLogger())

	job, err := repo.Create(ctx, uuid.New(), "ext-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.MarkFailed(ctx, job.ID, constants.FailureLocalTimeout); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	got, err := repo.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != constants.JobStatusFailed {
		t.Errorf("status = %s, want FAILED", got.Status)
	}
	if got.FailureReason == nil || *got.FailureReason != constants.FailureLocalTimeout {
		t.Errorf("failure reason = %v, want local_timeout", got.FailureReason)
	}
	if got.TranscriptText != nil {
		t.Errorf("transcript = %q, want nil", *got.TranscriptText)
	}
}

func TestTranscriptionJob_MissingJob(t *testing.T) {
	ctx := context.Background()
	repo := NewTranscriptionJobRepository(newTestDB(t), testLogger())

	if _, err := repo.GetByID(ctx, uuid.New()); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("GetByID: got %v, want ErrNotFound", err)
	}
	if err := repo.MarkCompleted(ctx, uuid.New(), "x"); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("MarkCompleted: got %v, want ErrNotFound", err)
	}
}

func TestTranscriptionJob_ListForUser(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	jobs := NewTranscriptionJobRepository(db, testLogger())
	images := NewImageRepository(db, testLogger())

	alice, bob := uuid.New(), uuid.New()
	a1, err := images.CreateImage(ctx, alice, nil, "a/1.png", 0)
	if err != nil {
		t.Fatalf("CreateImage: %v", err)
	}
	b1, err := images.CreateImage(ctx, bob, nil, "b/1.png", 0)
	if err != nil {
		t.Fatalf("CreateImage: %v", err)
	}
	for _, img := range []*entity.Image{a1, a1, b1} {
		if _, err := jobs.Create(ctx, img.ID, "ext"); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	got, err := jobs.ListForUser(ctx, alice, nil, nil)
	if err != nil {
		t.Fatalf("ListForUser: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListForUser(alice) = %d jobs, want 2", len(got))
	}
	for _, j := range got {
		if j.ImageID != a1.ID {
			t.Errorf("job %s belongs to image %s, want %s", j.ID, j.ImageID, a1.ID)
		}
	}

	future := time.Now().Add(time.Hour)
	got, err = jobs.ListForUser(ctx, alice, &future, nil)
	if err != nil {
		t.Fatalf("ListForUser(from=future): %v", err)
	}
	if len(got) != 0 {
		t.Errorf("ListForUser(from=future) = %d jobs, want 0", len(got))
	}

	byImage, err := jobs.ListByImageIDs(ctx, alice, []uuid.UUID{a1.ID, b1.ID}, nil, nil)
	if err != nil {
		t.Fatalf("ListByImageIDs: %v", err)
	}
	if len(byImage) != 2 {
		t.Errorf("ListByImageIDs(alice) = %d jobs, want 2", len(byImage))
	}
	for _, j := range byImage {
		if j.ImageID != a1.ID {
			t.Errorf("ListByImageIDs(alice) leaked job for image %s", j.ImageID)
		}
	}
	foreign, err := jobs.ListByImageIDs(ctx, alice, []uuid.UUID{b1.ID}, nil, nil)
	if err != nil {
		t.Fatalf("ListByImageIDs(foreign): %v", err)
	}
	if len(foreign) != 0 {
		t.Errorf("ListByImageIDs(foreign) = %d jobs, want 0", len(foreign))
	}
	if got, _ := jobs.ListByImageIDs(ctx, alice, []uuid.UUID{a1.ID}, &future, nil); len(got) != 0 {
		t.Errorf("ListByImageIDs(from=future) = %d jobs, want 0", len(got))
	}
}

func TestTranscription_UpsertAIResult(t *testing.T) {
	ctx := context.Background()
	repo := NewTranscriptionRepository(newTestDB(t), testLogger())
	imageID := uuid.New()

	first, err := repo.UpsertAIResult(ctx, imageID, "first")
	if err != nil {
		t.Fatalf("UpsertAIResult: %v", err)
	}
	second, err := repo.UpsertAIResult(ctx, imageID, "second")
	if err != nil {
		t.Fatalf("UpsertAIResult: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("upsert created a second record: %s != %s", first.ID, second.ID)
	}
	if second.CurrentTranscriptionText != "second" || second.AITranscriptionText != "second" {
		t.Errorf("texts = %q/%q, want second/second", second.CurrentTranscriptionText, second.AITranscriptionText)
	}
	if second.Status != constants.TranscriptionTranscribed {
		t.Errorf("status = %s, want transcribed", second.Status)
	}

	other := uuid.New()
	done, err := repo.TranscribedImageIDs(ctx, []uuid.UUID{imageID, other})
	if err != nil {
		t.Fatalf("TranscribedImageIDs: %v", err)
	}
	if _, ok := done[imageID]; !ok {
		t.Errorf("image %s should be reported as transcribed", imageID)
	}
	if _, ok := done[other]; ok {
		t.Errorf("image %s has no record and should not be reported", other)
	}
}

func TestImages_ForDocumentsOrderedByPosition(t *testing.T) {
	ctx := context.Background()
	repo := NewImageRepository(newTestDB(t), testLogger())
	user := uuid.New()

	doc, err := repo.CreateDocument(ctx, user, "letters")
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	for _, pos := range []int{2, 0, 1} {
		if _, err := repo.CreateImage(ctx, user, &doc.ID, fmt.Sprintf("p%d.png", pos), pos); err != nil {
			t.Fatalf("CreateImage: %v", err)
		}
	}
	if _, err := repo.CreateImage(ctx, user, nil, "loose.png", 0); err != nil {
		t.Fatalf("CreateImage: %v", err)
	}

	got, err := repo.ImagesForDocuments(ctx, []uuid.UUID{doc.ID})
	if err != nil {
		t.Fatalf("ImagesForDocuments: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d images, want 3", len(got))
	}
	for i, img := range got {
		if img.Position != i {
			t.Errorf("image %d has position %d", i, img.Position)
		}
		if img.DocumentID == nil || *img.DocumentID != doc.ID {
			t.Errorf("image %d document = %v, want %s", i, img.DocumentID, doc.ID)
		}
	}

	docs, err := repo.GetDocuments(ctx, []uuid.UUID{doc.ID, uuid.New()})
	if err != nil {
		t.Fatalf("GetDocuments: %v", err)
	}
	if len(docs) != 1 || docs[0].UserID != user {
		t.Errorf("GetDocuments = %+v, want the one document owned by %s", docs, user)
	}
}

func TestCredit_DeductMonthlyFirstThenLifetime(t *testing.T) {
	ctx := context.Background()
	repo := NewCreditRepository(newTestDB(t), testLogger())
	user := uuid.New()
	if err := repo.Upsert(ctx, entity.CreditBalance{UserID: user, MonthlyCredits: 3, LifetimeCredits: 10}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	s, err := repo.Deduct(ctx, user, uuid.New(), 5, "k1")
	if err != nil {
		t.Fatalf("Deduct: %v", err)
	}
	if s.Deducted != 5 || s.AlreadyApplied {
		t.Errorf("settlement = %+v, want 5 deducted", s)
	}
	b, err := repo.GetBalance(ctx, user)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if b.MonthlyCredits != 0 || b.LifetimeCredits != 8 {
		t.Errorf("balance = %d/%d, want 0/8", b.MonthlyCredits, b.LifetimeCredits)
	}
}

func TestCredit_DeductFloorsAtZero(t *testing.T) {
	ctx := context.Background()
	repo := NewCreditRepository(newTestDB(t), testLogger())
	user := uuid.New()
	if err := repo.Upsert(ctx, entity.CreditBalance{UserID: user, MonthlyCredits: 1, LifetimeCredits: 1}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	s, err := repo.Deduct(ctx, user, uuid.New(), 5, "k1")
	if err != nil {
		t.Fatalf("Deduct: %v", err)
	}
	if s.Requested != 5 || s.Deducted != 2 {
		t.Errorf("settlement = %+v, want requested 5 deducted 2", s)
	}
	b, err := repo.GetBalance(ctx, user)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if b.Total() != 0 || b.MonthlyCredits < 0 || b.LifetimeCredits < 0 {
		t.Errorf("balance = %d/%d, want 0/0", b.MonthlyCredits, b.LifetimeCredits)
	}
}

func TestCredit_DeductIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := NewCreditRepository(newTestDB(t), testLogger())
	user, task := uuid.New(), uuid.New()
	if err := repo.Upsert(ctx, entity.CreditBalance{UserID: user, MonthlyCredits: 10}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if _, err := repo.Deduct(ctx, user, task, 3, "task:abc"); err != nil {
		t.Fatalf("Deduct: %v", err)
	}
	again, err := repo.Deduct(ctx, user, task, 3, "task:abc")
	if err != nil {
		t.Fatalf("second Deduct: %v", err)
	}
	if !again.AlreadyApplied || again.Deducted != 3 {
		t.Errorf("second settlement = %+v, want AlreadyApplied with the original 3", again)
	}
	b, err := repo.GetBalance(ctx, user)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if b.MonthlyCredits != 7 {
		t.Errorf("monthly = %d, want 7 (one deduction)", b.MonthlyCredits)
	}
}

func TestCredit_ConcurrentDeductsNeverGoNegative(t *testing.T) {
	ctx := context.Background()
	repo := NewCreditRepository(newTestDB(t), testLogger())
	user := uuid.New()
	if err := repo.Upsert(ctx, entity.CreditBalance{UserID: user, MonthlyCredits: 4, LifetimeCredits: 2}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int64
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := repo.Deduct(ctx, user, uuid.New(), 1, fmt.Sprintf("k%d", i))
			if err != nil {
				t.Errorf("Deduct %d: %v", i, err)
				return
			}
			mu.Lock()
			total += s.Deducted
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	if total != 6 {
		t.Errorf("total deducted = %d, want 6", total)
	}
	b, err := repo.GetBalance(ctx, user)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if b.MonthlyCredits != 0 || b.LifetimeCredits != 0 {
		t.Errorf("balance = %d/%d, want 0/0", b.MonthlyCredits, b.LifetimeCredits)
	}
}

func TestCredit_DeductValidatesInput(t *testing.T) {
	ctx := context.Background()
	repo := NewCreditRepository(newTestDB(t), testLogger())

	tests := []struct {
		name   string
		amount int64
		key    string
	}{
		{"zero amount", 0, "k"},
		{"negative amount", -1, "k"},
		{"empty key", 1, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := repo.Deduct(ctx, uuid.New(), uuid.New(), tt.amount, tt.key); !errors.Is(err, common.ErrInvalidInput) {
				t.Errorf("got %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestCredit_MissingBalance(t *testing.T) {
	ctx := context.Background()
	repo := NewCreditRepository(newTestDB(t), testLogger())
	if _, err := repo.GetBalance(ctx, uuid.New()); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestCredit_DeductWithoutBalanceRecordsZero(t *testing.T) {
	ctx := context.Background()
	repo := NewCreditRepository(newTestDB(t), testLogger())
	user, task := uuid.New(), uuid.New()

	s, err := repo.Deduct(ctx, user, task, 4, "task:nobalance")
	if err != nil {
		t.Fatalf("Deduct: %v", err)
	}
	if !s.MissingBalance || s.Deducted != 0 || s.Requested != 4 {
		t.Errorf("settlement = %+v, want missing balance with 0 of 4 deducted", s)
	}

	again, err := repo.Deduct(ctx, user, task, 4, "task:nobalance")
	if err != nil {
		t.Fatalf("second Deduct: %v", err)
	}
	if !again.AlreadyApplied || again.Deducted != 0 {
		t.Errorf("second settlement = %+v, want already applied with 0 deducted", again)
	}
	if _, err := repo.GetBalance(ctx, user); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("GetBalance: got %v, want ErrNotFound", err)
	}
}
