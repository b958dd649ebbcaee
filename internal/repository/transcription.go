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

type TranscriptionRepository interface {
	GetByImageID(ctx context.Context, imageID uuid.UUID) (*entity.Transcription, error)
	// UpsertAIResult stores an OCR result: both text fields are overwritten and the status
	// becomes transcribed, creating the record if the image has none.
	UpsertAIResult(ctx context.Context, imageID uuid.UUID, text string) (*entity.Transcription, error)
	// TranscribedImageIDs returns the subset of imageIDs whose record is transcribed or finalised.
	TranscribedImageIDs(ctx context.Context, imageIDs []uuid.UUID) (map[uuid.UUID]struct{}, error)
}

var transcriptionColumns = []string{
	"id", "image_id", "current_transcription_text", "ai_transcription_text",
	"transcription_status", "created_at", "updated_at",
}

type transcriptionRepo struct {
	db     *DB
	logger *slog.Logger
	now    func() time.Time
}

func NewTranscriptionRepository(db *DB, logger *slog.Logger) TranscriptionRepository {
	return &transcriptionRepo{db: db, logger: logger, now: time.Now}
}

func (r *transcriptionRepo) GetByImageID(ctx context.Context, imageID uuid.UUID) (*entity.Transcription, error) {
	q, args := r.db.builder().
		Select(transcriptionColumns...).
		From(entsql.Table(TableTranscriptions)).
		Where(entsql.EQ("image_id", imageID)).
		Query()
	var (
		t      entity.Transcription
		status string
	)
	err := r.db.sql.QueryRowContext(ctx, q, args...).
		Scan(&t.ID, &t.ImageID, &t.CurrentTranscriptionText, &t.AITranscriptionText, &status, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: transcription for image %s", common.ErrNotFound, imageID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get transcription: %v", common.ErrDatabase, err)
	}
	t.Status = constants.TranscriptionStatus(status)
	return &t, nil
}

func (r *transcriptionRepo) UpsertAIResult(ctx context.Context, imageID uuid.UUID, text string) (*entity.Transcription, error) {
	now := r.now().UTC()
	q, args := r.db.builder().
		Insert(TableTranscriptions).
		Columns(transcriptionColumns...).
		Values(uuid.New(), imageID, text, text, string(constants.TranscriptionTranscribed), now, now).
		OnConflict(
			entsql.ConflictColumns("image_id"),
			entsql.ResolveWith(func(s *entsql.UpdateSet) {
				s.SetExcluded("current_transcription_text")
				s.SetExcluded("ai_transcription_text")
				s.SetExcluded("transcription_status")
				s.SetExcluded("updated_at")
			}),
		).
		Query()
	if _, err := r.db.sql.ExecContext(ctx, q, args...); err != nil {
		r.logger.Error("failed to upsert transcription", "image_id", imageID, "error", err)
		return nil, fmt.Errorf("%w: upsert transcription: %v", common.ErrDatabase, err)
	}
	r.logger.Info("transcription stored", "image_id", imageID, "text_len", len(text))
	return r.GetByImageID(ctx, imageID)
}

func (r *transcriptionRepo) TranscribedImageIDs(ctx context.Context, imageIDs []uuid.UUID) (map[uuid.UUID]struct{}, error) {
	out := make(map[uuid.UUID]struct{})
	if len(imageIDs) == 0 {
		return out, nil
	}
	q, args := r.db.builder().
		Select("image_id").
		From(entsql.Table(TableTranscriptions)).
		Where(entsql.And(
			entsql.In("image_id", uuidArgs(imageIDs)...),
			entsql.In("transcription_status",
				string(constants.TranscriptionTranscribed),
				string(constants.TranscriptionFinalised),
			),
		)).
		Query()
	rows, err := r.db.sql.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list transcribed images: %v", common.ErrDatabase, err)
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: scan image id: %v", common.ErrDatabase, err)
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}
