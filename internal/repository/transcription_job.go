package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/archive-transcriber/constants"
	"github.com/joseph-ayodele/archive-transcriber/internal/common"
	"github.com/joseph-ayodele/archive-transcriber/internal/entity"
)

// ErrJobNotInProgress is returned when a transition targets a job that is already terminal.
var ErrJobNotInProgress = fmt.Errorf("%w: job is not in progress", common.ErrConflict)

type TranscriptionJobRepository interface {
	Create(ctx context.Context, imageID uuid.UUID, externalJobID string) (*entity.TranscriptionJob, error)
	GetByID(ctx context.Context, id uuid.UUID) (*entity.TranscriptionJob, error)
	MarkCompleted(ctx context.Context, id uuid.UUID, transcript string) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason constants.FailureReason) error
	ListByImageIDs(ctx context.Context, userID uuid.UUID, imageIDs []uuid.UUID, from, to *time.Time) ([]*entity.TranscriptionJob, error)
	ListForUser(ctx context.Context, userID uuid.UUID, from, to *time.Time) ([]*entity.TranscriptionJob, error)
}

var jobColumns = []string{
	"id", "image_id", "external_job_id", "status",
	"transcript_text", "failure_reason", "created_at", "updated_at",
}

type transcriptionJobRepo struct {
	db  *DB
	log *slog.Logger
	now func() time.Time
}

func NewTranscriptionJobRepository(db *DB, log *slog.Logger) TranscriptionJobRepository {
	return &transcriptionJobRepo{db: db, log: log, now: time.Now}
}

func (r *transcriptionJobRepo) Create(ctx context.Context, imageID uuid.UUID, externalJobID string) (*entity.TranscriptionJob, error) {
	now := r.now().UTC()
	job := &entity.TranscriptionJob{
		ID:            uuid.New(),
		ImageID:       imageID,
		ExternalJobID: externalJobID,
		Status:        constants.JobStatusInProgress,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	q, args := r.db.builder().
		Insert(TableTranscriptionJobs).
		Columns("id", "image_id", "external_job_id", "status", "created_at", "updated_at").
		Values(job.ID, job.ImageID, job.ExternalJobID, string(job.Status), job.CreatedAt, job.UpdatedAt).
		Query()
	if _, err := r.db.sql.ExecContext(ctx, q, args...); err != nil {
		r.log.Error("transcription_job create failed", "image_id", imageID, "err", err)
		return nil, fmt.Errorf("%w: create transcription job: %v", common.ErrDatabase, err)
	}
	r.log.Info("transcription_job created", "job_id", job.ID, "image_id", imageID, "external_job_id", externalJobID)
	return job, nil
}

func (r *transcriptionJobRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.TranscriptionJob, error) {
	q, args := r.db.builder().
		Select(jobColumns...).
		From(entsql.Table(TableTranscriptionJobs)).
		Where(entsql.EQ("id", id)).
		Query()
	job, err := scanJob(r.db.sql.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: transcription job %s", common.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get transcription job: %v", common.ErrDatabase, err)
	}
	return job, nil
}

// MarkCompleted moves an IN_PROGRESS job to COMPLETED with its transcript.
func (r *transcriptionJobRepo) MarkCompleted(ctx context.Context, id uuid.UUID, transcript string) error {
	q, args := r.db.builder().
		Update(TableTranscriptionJobs).
		Set("status", string(constants.JobStatusCompleted)).
		Set("transcript_text", transcript).
		Set("updated_at", r.now().UTC()).
		Where(entsql.And(
			entsql.EQ("id", id),
			entsql.EQ("status", string(constants.JobStatusInProgress)),
		)).
		Query()
	if err := r.transition(ctx, id, q, args); err != nil {
		r.log.Error("transcription_job finish(COMPLETED) failed", "job_id", id, "err", err)
		return err
	}
	r.log.Info("transcription_job finished (COMPLETED)", "job_id", id, "transcript_len", len(transcript))
	return nil
}

// MarkFailed moves an IN_PROGRESS job to FAILED.
func (r *transcriptionJobRepo) MarkFailed(ctx context.Context, id uuid.UUID, reason constants.FailureReason) error {
	q, args := r.db.builder().
		Update(TableTranscriptionJobs).
		Set("status", string(constants.JobStatusFailed)).
		Set("failure_reason", string(reason)).
		Set("updated_at", r.now().UTC()).
		Where(entsql.And(
			entsql.EQ("id", id),
			entsql.EQ("status", string(constants.JobStatusInProgress)),
		)).
		Query()
	if err := r.transition(ctx, id, q, args); err != nil {
		r.log.Error("transcription_job finish(FAILED) failed", "job_id", id, "err", err)
		return err
	}
	r.log.Warn("transcription_job finished (FAILED)", "job_id", id, "reason", reason)
	return nil
}

// transition executes a guarded status update and tells "already terminal" apart from "missing".
func (r *transcriptionJobRepo) transition(ctx context.Context, id uuid.UUID, q string, args []any) error {
	res, err := r.db.sql.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("%w: update transcription job: %v", common.ErrDatabase, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %v", common.ErrDatabase, err)
	}
	if n == 1 {
		return nil
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return ErrJobNotInProgress
}

// ListByImageIDs returns the jobs for the given images, keeping only images owned by userID.
func (r *transcriptionJobRepo) ListByImageIDs(ctx context.Context, userID uuid.UUID, imageIDs []uuid.UUID, from, to *time.Time) ([]*entity.TranscriptionJob, error) {
	if len(imageIDs) == 0 {
		return nil, nil
	}
	return r.listOwned(ctx, userID, imageIDs, from, to)
}

// ListForUser returns the jobs for all images owned by userID, optionally bounded by creation time.
func (r *transcriptionJobRepo) ListForUser(ctx context.Context, userID uuid.UUID, from, to *time.Time) ([]*entity.TranscriptionJob, error) {
	return r.listOwned(ctx, userID, nil, from, to)
}

func (r *transcriptionJobRepo) listOwned(ctx context.Context, userID uuid.UUID, imageIDs []uuid.UUID, from, to *time.Time) ([]*entity.TranscriptionJob, error) {
	j := entsql.Table(TableTranscriptionJobs).As("j")
	i := entsql.Table(TableImages).As("i")
	cols := make([]string, len(jobColumns))
	for k, c := range jobColumns {
		cols[k] = j.C(c)
	}
	preds := []*entsql.Predicate{entsql.EQ(i.C("user_id"), userID)}
	if len(imageIDs) > 0 {
		preds = append(preds, entsql.In(j.C("image_id"), uuidArgs(imageIDs)...))
	}
	if from != nil {
		preds = append(preds, entsql.GTE(j.C("created_at"), from.UTC()))
	}
	if to != nil {
		preds = append(preds, entsql.LT(j.C("created_at"), to.UTC()))
	}
	q, args := r.db.builder().
		Select(cols...).
		From(j).
		Join(i).On(j.C("image_id"), i.C("id")).
		Where(entsql.And(preds...)).
		OrderBy(j.C("created_at")).
		Query()
	return r.list(ctx, q, args)
}

func (r *transcriptionJobRepo) list(ctx context.Context, q string, args []any) ([]*entity.TranscriptionJob, error) {
	rows, err := r.db.sql.QueryContext(ctx, q, args...)
	if err != nil {
		r.log.Error("failed to list transcription jobs", "error", err)
		return nil, fmt.Errorf("%w: list transcription jobs: %v", common.ErrDatabase, err)
	}
	defer rows.Close()

	var out []*entity.TranscriptionJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan transcription job: %v", common.ErrDatabase, err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate transcription jobs: %v", common.ErrDatabase, err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*entity.TranscriptionJob, error) {
	var (
		job     entity.TranscriptionJob
		status  string
		text    sql.NullString
		failure sql.NullString
	)
	if err := row.Scan(&job.ID, &job.ImageID, &job.ExternalJobID, &status, &text, &failure, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return nil, err
	}
	job.Status = constants.JobStatus(status)
	if text.Valid {
		job.TranscriptText = &text.String
	}
	if failure.Valid {
		reason := constants.FailureReason(failure.String)
		job.FailureReason = &reason
	}
	return &job, nil
}

func uuidArgs(ids []uuid.UUID) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
