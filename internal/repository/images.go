package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/archive-transcriber/internal/common"
	"github.com/joseph-ayodele/archive-transcriber/internal/entity"
)

// ImageRepository reads the archive's images and documents. The archive CRUD layer owns
// these tables; Create* exist for onboarding tooling and tests.
type ImageRepository interface {
	GetImages(ctx context.Context, ids []uuid.UUID) ([]*entity.Image, error)
	GetDocuments(ctx context.Context, ids []uuid.UUID) ([]*entity.Document, error)
	// ImagesForDocuments returns every image of the given documents ordered by document then position.
	ImagesForDocuments(ctx context.Context, documentIDs []uuid.UUID) ([]*entity.Image, error)
	CreateDocument(ctx context.Context, userID uuid.UUID, title string) (*entity.Document, error)
	CreateImage(ctx context.Context, userID uuid.UUID, documentID *uuid.UUID, storagePath string, position int) (*entity.Image, error)
}

var imageColumns = []string{"id", "user_id", "document_id", "storage_path", "position", "created_at"}

type imageRepo struct {
	db     *DB
	logger *slog.Logger
}

func NewImageRepository(db *DB, logger *slog.Logger) ImageRepository {
	return &imageRepo{db: db, logger: logger}
}

func (r *imageRepo) GetImages(ctx context.Context, ids []uuid.UUID) ([]*entity.Image, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q, args := r.db.builder().
		Select(imageColumns...).
		From(entsql.Table(TableImages)).
		Where(entsql.In("id", uuidArgs(ids)...)).
		Query()
	return r.listImages(ctx, q, args)
}

func (r *imageRepo) ImagesForDocuments(ctx context.Context, documentIDs []uuid.UUID) ([]*entity.Image, error) {
	if len(documentIDs) == 0 {
		return nil, nil
	}
	q, args := r.db.builder().
		Select(imageColumns...).
		From(entsql.Table(TableImages)).
		Where(entsql.In("document_id", uuidArgs(documentIDs)...)).
		OrderBy("document_id", "position", "created_at").
		Query()
	return r.listImages(ctx, q, args)
}

func (r *imageRepo) GetDocuments(ctx context.Context, ids []uuid.UUID) ([]*entity.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q, args := r.db.builder().
		Select("id", "user_id", "title", "created_at").
		From(entsql.Table(TableDocuments)).
		Where(entsql.In("id", uuidArgs(ids)...)).
		Query()
	rows, err := r.db.sql.QueryContext(ctx, q, args...)
	if err != nil {
		r.logger.Error("failed to get documents", "count", len(ids), "error", err)
		return nil, fmt.Errorf("%w: get documents: %v", common.ErrDatabase, err)
	}
	defer rows.Close()
	var out []*entity.Document
	for rows.Next() {
		var d entity.Document
		if err := rows.Scan(&d.ID, &d.UserID, &d.Title, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan document: %v", common.ErrDatabase, err)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

func (r *imageRepo) CreateDocument(ctx context.Context, userID uuid.UUID, title string) (*entity.Document, error) {
	d := &entity.Document{ID: uuid.New(), UserID: userID, Title: title, CreatedAt: time.Now().UTC()}
	q, args := r.db.builder().
		Insert(TableDocuments).
		Columns("id", "user_id", "title", "created_at").
		Values(d.ID, d.UserID, d.Title, d.CreatedAt).
		Query()
	if _, err := r.db.sql.ExecContext(ctx, q, args...); err != nil {
		r.logger.Error("failed to create document", "user_id", userID, "error", err)
		return nil, fmt.Errorf("%w: create document: %v", common.ErrDatabase, err)
	}
	return d, nil
}

func (r *imageRepo) CreateImage(ctx context.Context, userID uuid.UUID, documentID *uuid.UUID, storagePath string, position int) (*entity.Image, error) {
	img := &entity.Image{
		ID:          uuid.New(),
		UserID:      userID,
		DocumentID:  documentID,
		StoragePath: storagePath,
		Position:    position,
		CreatedAt:   time.Now().UTC(),
	}
	var doc uuid.NullUUID
	if documentID != nil {
		doc = uuid.NullUUID{UUID: *documentID, Valid: true}
	}
	q, args := r.db.builder().
		Insert(TableImages).
		Columns(imageColumns...).
		Values(img.ID, img.UserID, doc, img.StoragePath, img.Position, img.CreatedAt).
		Query()
	if _, err := r.db.sql.ExecContext(ctx, q, args...); err != nil {
		r.logger.Error("failed to create image", "user_id", userID, "storage_path", storagePath, "error", err)
		return nil, fmt.Errorf("%w: create image: %v", common.ErrDatabase, err)
	}
	return img, nil
}

func (r *imageRepo) listImages(ctx context.Context, q string, args []any) ([]*entity.Image, error) {
	rows, err := r.db.sql.QueryContext(ctx, q, args...)
	if err != nil {
		r.logger.Error("failed to list images", "error", err)
		return nil, fmt.Errorf("%w: list images: %v", common.ErrDatabase, err)
	}
	defer rows.Close()
	var out []*entity.Image
	for rows.Next() {
		var (
			img entity.Image
			doc uuid.NullUUID
		)
		if err := rows.Scan(&img.ID, &img.UserID, &doc, &img.StoragePath, &img.Position, &img.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan image: %v", common.ErrDatabase, err)
		}
		if doc.Valid {
			id := doc.UUID
			img.DocumentID = &id
		}
		out = append(out, &img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate images: %v", common.ErrDatabase, err)
	}
	return out, nil
}
