package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/archive-transcriber/internal/common"
	"github.com/joseph-ayodele/archive-transcriber/internal/entity"
	"github.com/joseph-ayodele/archive-transcriber/internal/transcribe"
	"github.com/joseph-ayodele/archive-transcriber/internal/utils"
)

// BatchSubmitter is implemented by *transcribe.Coordinator.
type BatchSubmitter interface {
	Submit(ctx context.Context, req transcribe.SubmitRequest) (*transcribe.SubmitResult, error)
}

// JobLister reads the job ledger. Both calls only return jobs for images the user owns.
type JobLister interface {
	ListForUser(ctx context.Context, userID uuid.UUID, from, to *time.Time) ([]*entity.TranscriptionJob, error)
	ListByImageIDs(ctx context.Context, userID uuid.UUID, imageIDs []uuid.UUID, from, to *time.Time) ([]*entity.TranscriptionJob, error)
}

type TranscriptionService struct {
	coordinator BatchSubmitter
	jobs        JobLister
	exporter    JobExporter
	logger      *slog.Logger
	now         func() time.Time
}

var _ TranscriptionServer = (*TranscriptionService)(nil)

func NewTranscriptionService(coordinator BatchSubmitter, jobs JobLister, exporter JobExporter, logger *slog.Logger) *TranscriptionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TranscriptionService{
		coordinator: coordinator,
		jobs:        jobs,
		exporter:    exporter,
		logger:      logger,
		now:         time.Now,
	}
}

func (s *TranscriptionService) Submit(ctx context.Context, req *SubmitRequest) (*SubmitResponse, error) {
	userID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	v := common.NewValidator().
		Field("image_ids", req.ImageIDs, common.UUIDList).
		Field("document_ids", req.DocumentIDs, common.UUIDList)
	if err := common.ValidateAndReturnError(v); err != nil {
		return nil, err
	}
	imageIDs, _ := common.ParseUUIDs(req.ImageIDs)
	documentIDs, _ := common.ParseUUIDs(req.DocumentIDs)

	log := common.LoggerWith(ctx, s.logger)
	log.Info("transcription submission received", "user_id", userID, "images", len(imageIDs), "documents", len(documentIDs))
	res, err := s.coordinator.Submit(ctx, transcribe.SubmitRequest{
		UserID:      userID,
		ImageIDs:    imageIDs,
		DocumentIDs: documentIDs,
	})
	if err != nil {
		return nil, err
	}

	out := &SubmitResponse{
		ResolvedImageIDs: make([]string, len(res.ResolvedImageIDs)),
		Outcomes:         make([]ImageOutcome, len(res.Outcomes)),
	}
	for i, id := range res.ResolvedImageIDs {
		out.ResolvedImageIDs[i] = id.String()
	}
	for i, o := range res.Outcomes {
		item := ImageOutcome{ImageID: o.ImageID.String(), Submitted: o.Submitted, Error: o.Error}
		if o.Submitted {
			item.JobID = o.JobID.String()
		}
		out.Outcomes[i] = item
	}
	if res.TaskID != nil {
		out.TaskID = res.TaskID.String()
	}
	return out, nil
}

func (s *TranscriptionService) ListJobs(ctx context.Context, req *ListJobsRequest) (*ListJobsResponse, error) {
	userID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	from, to, err := utils.DateWindow(req.FromDate, req.ToDate, s.now())
	if err != nil {
		return nil, common.InvalidArgumentError(err.Error())
	}
	if err := common.ValidateAndReturnError(common.NewValidator().Field("image_ids", req.ImageIDs, common.UUIDList)); err != nil {
		return nil, err
	}
	imageIDs, _ := common.ParseUUIDs(req.ImageIDs)

	var jobs []*entity.TranscriptionJob
	if len(imageIDs) > 0 {
		// Foreign image ids match nothing rather than failing the call.
		jobs, err = s.jobs.ListByImageIDs(ctx, userID, imageIDs, from, to)
	} else {
		jobs, err = s.jobs.ListForUser(ctx, userID, from, to)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	out := &ListJobsResponse{Jobs: make([]Job, 0, len(jobs))}
	for _, j := range jobs {
		out.Jobs = append(out.Jobs, toJob(j))
	}
	common.LoggerWith(ctx, s.logger).Info("jobs listed", "user_id", userID, "count", len(out.Jobs))
	return out, nil
}

func toJob(j *entity.TranscriptionJob) Job {
	out := Job{
		ID:             j.ID.String(),
		ImageID:        j.ImageID.String(),
		ExternalJobID:  j.ExternalJobID,
		Status:         string(j.Status),
		TranscriptText: utils.StrOrEmpty(j.TranscriptText),
		CreatedAt:      j.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:      j.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if j.FailureReason != nil {
		out.FailureReason = string(*j.FailureReason)
	}
	return out
}
