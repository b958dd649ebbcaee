package transcribe

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/archive-transcriber/internal/common"
	"github.com/joseph-ayodele/archive-transcriber/internal/entity"
	"github.com/joseph-ayodele/archive-transcriber/internal/repository"
	"github.com/joseph-ayodele/archive-transcriber/internal/storage"
)

// SubmitRequest asks for a set of images and/or whole documents to be transcribed.
type SubmitRequest struct {
	UserID      uuid.UUID
	ImageIDs    []uuid.UUID
	DocumentIDs []uuid.UUID
}

// ImageOutcome tells whether one resolved image reached the remote service.
type ImageOutcome struct {
	ImageID   uuid.UUID
	Submitted bool
	JobID     uuid.UUID // zero unless Submitted
	Error     string    // set when the image was dropped

	externalJobID string
}

// SubmitResult lists every resolved image id, including ones whose submission was dropped.
// Outcomes is index-aligned with ResolvedImageIDs.
type SubmitResult struct {
	ResolvedImageIDs []uuid.UUID
	Outcomes         []ImageOutcome
	TaskID           *uuid.UUID // nil when no job was created
}

type CoordinatorConfig struct {
	UnitCost          int64
	SubmitConcurrency int
}

// Coordinator validates a submission, fans it out to the OCR service and enqueues one
// MonitorTask for the jobs that were created.
type Coordinator struct {
	images         repository.ImageRepository
	transcriptions repository.TranscriptionRepository
	jobs           repository.TranscriptionJobRepository
	credits        repository.CreditRepository
	blobs          storage.BlobFetcher
	ocr            Submitter
	queue          Enqueuer
	cfg            CoordinatorConfig
	logger         *slog.Logger
	now            func() time.Time
}

func NewCoordinator(
	images repository.ImageRepository,
	transcriptions repository.TranscriptionRepository,
	jobs repository.TranscriptionJobRepository,
	credits repository.CreditRepository,
	blobs storage.BlobFetcher,
	ocr Submitter,
	queue Enqueuer,
	cfg CoordinatorConfig,
	logger *slog.Logger,
) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.UnitCost <= 0 {
		cfg.UnitCost = 1
	}
	if cfg.SubmitConcurrency <= 0 {
		cfg.SubmitConcurrency = 16
	}
	return &Coordinator{
		images:         images,
		transcriptions: transcriptions,
		jobs:           jobs,
		credits:        credits,
		blobs:          blobs,
		ocr:            ocr,
		queue:          queue,
		cfg:            cfg,
		logger:         logger,
		now:            time.Now,
	}
}

func (c *Coordinator) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	log := common.LoggerWith(ctx, c.logger).With("user_id", req.UserID)
	if len(req.ImageIDs) == 0 && len(req.DocumentIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one image or document id is required", common.ErrInvalidInput)
	}

	explicit, err := c.authorize(ctx, req)
	if err != nil {
		log.Warn("submission rejected", "error", err)
		return nil, err
	}

	resolved, err := c.resolve(ctx, req, explicit)
	if err != nil {
		return nil, err
	}
	if len(resolved) == 0 {
		log.Info("nothing to transcribe")
		return &SubmitResult{}, nil
	}

	cost := int64(len(resolved)) * c.cfg.UnitCost
	bal, err := c.credits.GetBalance(ctx, req.UserID)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}
	var available int64
	if bal != nil {
		available = bal.Total()
	}
	if available < cost {
		log.Warn("insufficient credits", "cost", cost, "available", available)
		return nil, fmt.Errorf("%w: need %d, have %d", common.ErrInsufficientCredits, cost, available)
	}

	outcomes := c.submitAll(ctx, log, resolved)

	result := &SubmitResult{
		ResolvedImageIDs: make([]uuid.UUID, len(resolved)),
		Outcomes:         outcomes,
	}
	task := entity.MonitorTask{TaskID: uuid.New(), UserID: req.UserID, EnqueuedAt: c.now().UTC()}
	for i, img := range resolved {
		result.ResolvedImageIDs[i] = img.ID
		if o := outcomes[i]; o.Submitted {
			task.Jobs = append(task.Jobs, entity.MonitorTaskJob{
				ImageID:            img.ID,
				ExternalJobID:      o.externalJobID,
				TranscriptionJobID: o.JobID,
				DocumentID:         img.DocumentID,
			})
		}
	}
	if len(task.Jobs) == 0 {
		log.Warn("no image reached the transcription service", "resolved", len(resolved))
		return result, nil
	}
	if err := c.queue.Enqueue(ctx, task); err != nil {
		// Jobs exist but nobody will poll them; surface it so the caller can retry.
		log.Error("failed to enqueue monitor task", "task_id", task.TaskID, "error", err)
		return nil, fmt.Errorf("%w: enqueue monitor task: %v", common.ErrInternal, err)
	}
	result.TaskID = &task.TaskID
	log.Info("transcription submitted", "task_id", task.TaskID, "resolved", len(resolved), "submitted", len(task.Jobs))
	return result, nil
}

// authorize checks that every referenced image and document exists and belongs to the caller.
// It returns the explicitly requested images in request order.
func (c *Coordinator) authorize(ctx context.Context, req SubmitRequest) ([]*entity.Image, error) {
	imgs, err := c.images.GetImages(ctx, req.ImageIDs)
	if err != nil {
		return nil, err
	}
	docs, err := c.images.GetDocuments(ctx, req.DocumentIDs)
	if err != nil {
		return nil, err
	}

	owners := make(map[uuid.UUID]struct{})
	byID := make(map[uuid.UUID]*entity.Image, len(imgs))
	for _, img := range imgs {
		byID[img.ID] = img
		owners[img.UserID] = struct{}{}
	}
	docOwner := make(map[uuid.UUID]uuid.UUID, len(docs))
	for _, d := range docs {
		docOwner[d.ID] = d.UserID
		owners[d.UserID] = struct{}{}
	}

	explicit := make([]*entity.Image, 0, len(req.ImageIDs))
	for _, id := range req.ImageIDs {
		img, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: image %s", common.ErrForbidden, id)
		}
		explicit = append(explicit, img)
	}
	for _, id := range req.DocumentIDs {
		if _, ok := docOwner[id]; !ok {
			return nil, fmt.Errorf("%w: document %s", common.ErrForbidden, id)
		}
	}
	if _, mine := owners[req.UserID]; len(owners) != 1 || !mine {
		return nil, fmt.Errorf("%w: resources are not owned by the caller", common.ErrForbidden)
	}
	return explicit, nil
}

// resolve expands documents to their untranscribed images (document order, then position)
// and appends the explicit images. Duplicates are kept.
func (c *Coordinator) resolve(ctx context.Context, req SubmitRequest, explicit []*entity.Image) ([]*entity.Image, error) {
	var out []*entity.Image
	if len(req.DocumentIDs) > 0 {
		docImages, err := c.images.ImagesForDocuments(ctx, req.DocumentIDs)
		if err != nil {
			return nil, err
		}
		ids := make([]uuid.UUID, len(docImages))
		for i, img := range docImages {
			ids[i] = img.ID
		}
		done, err := c.transcriptions.TranscribedImageIDs(ctx, ids)
		if err != nil {
			return nil, err
		}
		perDoc := make(map[uuid.UUID][]*entity.Image)
		for _, img := range docImages {
			if _, skip := done[img.ID]; skip || img.DocumentID == nil {
				continue
			}
			perDoc[*img.DocumentID] = append(perDoc[*img.DocumentID], img)
		}
		for _, docID := range req.DocumentIDs {
			out = append(out, perDoc[docID]...)
		}
	}
	return append(out, explicit...), nil
}

func (c *Coordinator) submitAll(ctx context.Context, log *slog.Logger, images []*entity.Image) []ImageOutcome {
	outcomes := make([]ImageOutcome, len(images))

	g := new(errgroup.Group)
	g.SetLimit(c.cfg.SubmitConcurrency)
	for i, img := range images {
		g.Go(func() error {
			o := c.submitOne(ctx, img)
			if !o.Submitted {
				log.Warn("image dropped from batch", "image_id", img.ID, "error", o.Error)
			}
			outcomes[i] = o
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (c *Coordinator) submitOne(ctx context.Context, img *entity.Image) ImageOutcome {
	o := ImageOutcome{ImageID: img.ID}
	data, err := c.blobs.FetchBytes(ctx, img.StoragePath)
	if err != nil {
		o.Error = fmt.Sprintf("fetch image: %v", err)
		return o
	}
	extID, err := c.ocr.Submit(ctx, base64.StdEncoding.EncodeToString(data))
	if err != nil {
		o.Error = fmt.Sprintf("submit: %v", err)
		return o
	}
	job, err := c.jobs.Create(ctx, img.ID, extID)
	if err != nil {
		o.Error = fmt.Sprintf("record job: %v", err)
		return o
	}
	o.Submitted = true
	o.JobID = job.ID
	o.externalJobID = extID
	return o
}
