package transcribe

import (
	"context"

	"github.com/joseph-ayodele/archive-transcriber/internal/entity"
	"github.com/joseph-ayodele/archive-transcriber/internal/ocr"
)

// Submitter is the submission half of the remote OCR client.
type Submitter interface {
	Submit(ctx context.Context, imageBase64 string) (string, error)
}

// StatusChecker is the polling half of the remote OCR client.
type StatusChecker interface {
	Status(ctx context.Context, externalJobID string) (ocr.StatusResult, error)
}

// Enqueuer hands a MonitorTask to the durable queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, task entity.MonitorTask) error
}

var (
	_ Submitter     = (*ocr.Client)(nil)
	_ StatusChecker = (*ocr.Client)(nil)
)
