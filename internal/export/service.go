package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/archive-transcriber/constants"
	"github.com/joseph-ayodele/archive-transcriber/internal/entity"
)

// JobSource lists a user's transcription jobs within an optional [from, to) window.
type JobSource interface {
	ListForUser(ctx context.Context, userID uuid.UUID, from, to *time.Time) ([]*entity.TranscriptionJob, error)
}

// Service is a tiny façade over the job ledger that produces XLSX usage reports.
type Service struct {
	jobs     JobSource
	unitCost int64
	logger   *slog.Logger
}

func NewService(jobs JobSource, unitCost int64, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if unitCost <= 0 {
		unitCost = 1
	}
	return &Service{jobs: jobs, unitCost: unitCost, logger: logger}
}

const (
	sheetJobs    = "Jobs"
	sheetSummary = "Summary"
)

// JobsXLSX returns a workbook with one row per job and a summary sheet. Billed credits are
// the completed jobs times the unit cost; failed jobs are listed but never billed.
func (s *Service) JobsXLSX(ctx context.Context, userID uuid.UUID, from, to *time.Time) ([]byte, error) {
	start := time.Now()

	jobs, err := s.jobs.ListForUser(ctx, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", sheetJobs); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(sheetSummary); err != nil {
		return nil, err
	}

	headers := []string{
		"Created At",
		"Job ID",
		"Image ID",
		"External Job ID",
		"Status",
		"Failure Reason",
		"Transcript",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetJobs, cell, h)
	}

	counts := map[constants.JobStatus]int{}
	row := 2
	for _, j := range jobs {
		counts[j.Status]++
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheetJobs, cell, v)
		}
		write(1, j.CreatedAt.UTC().Format(time.RFC3339))
		write(2, j.ID.String())
		write(3, j.ImageID.String())
		write(4, j.ExternalJobID)
		write(5, string(j.Status))
		if j.FailureReason != nil {
			write(6, string(*j.FailureReason))
		}
		if j.TranscriptText != nil {
			write(7, truncate(normalizeTranscript(*j.TranscriptText), 140))
		}
		row++
	}

	_ = f.SetColWidth(sheetJobs, "A", "A", 22) // created
	_ = f.SetColWidth(sheetJobs, "B", "D", 38) // ids
	_ = f.SetColWidth(sheetJobs, "E", "F", 16)
	_ = f.SetColWidth(sheetJobs, "G", "G", 60) // transcript

	summary := [][]any{
		{"Jobs", len(jobs)},
		{"Completed", counts[constants.JobStatusCompleted]},
		{"Failed", counts[constants.JobStatusFailed]},
		{"In Progress", counts[constants.JobStatusInProgress]},
		{"Credits Billed", int64(counts[constants.JobStatusCompleted]) * s.unitCost},
	}
	for i, r := range summary {
		_ = f.SetSheetRow(sheetSummary, fmt.Sprintf("A%d", i+1), &r)
	}
	_ = f.SetColWidth(sheetSummary, "A", "A", 18)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"user_id", userID.String(),
		"rows", len(jobs),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
