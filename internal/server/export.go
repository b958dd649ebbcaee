package server

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/archive-transcriber/internal/common"
	"github.com/joseph-ayodele/archive-transcriber/internal/utils"
)

// JobExporter is implemented by *export.Service.
type JobExporter interface {
	JobsXLSX(ctx context.Context, userID uuid.UUID, from, to *time.Time) ([]byte, error)
}

func (s *TranscriptionService) ExportJobs(ctx context.Context, req *ExportJobsRequest) (*ExportJobsResponse, error) {
	userID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	if s.exporter == nil {
		return nil, common.NewAppError("EXPORT_DISABLED", "job export is not configured", common.ErrInternal)
	}

	// Only from -> from..today; only to -> beginning..to; none -> everything.
	from, to, err := utils.DateWindow(req.FromDate, req.ToDate, s.now())
	if err != nil {
		return nil, common.InvalidArgumentError(err.Error())
	}

	xlsx, err := s.exporter.JobsXLSX(ctx, userID, from, to)
	if err != nil {
		common.LoggerWith(ctx, s.logger).Error("export.xlsx.failed", "user_id", userID, "err", err)
		return nil, fmt.Errorf("export jobs: %w", err)
	}
	return &ExportJobsResponse{Xlsx: xlsx}, nil
}
