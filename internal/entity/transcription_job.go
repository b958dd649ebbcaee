package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/archive-transcriber/constants"
)

// TranscriptionJob represents one attempt to transcribe a single image.
type TranscriptionJob struct {
	ID             uuid.UUID                `json:"id"`
	ImageID        uuid.UUID                `json:"image_id"`
	ExternalJobID  string                   `json:"external_job_id"`
	Status         constants.JobStatus      `json:"status"`
	TranscriptText *string                  `json:"transcript_text,omitempty"`
	FailureReason  *constants.FailureReason `json:"failure_reason,omitempty"`
	CreatedAt      time.Time                `json:"created_at"`
	UpdatedAt      time.Time                `json:"updated_at"`
}
