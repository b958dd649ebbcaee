package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/archive-transcriber/constants"
)

// Transcription is the user-visible text of an image, independent of job attempts.
type Transcription struct {
	ID                       uuid.UUID                     `json:"id"`
	ImageID                  uuid.UUID                     `json:"image_id"`
	CurrentTranscriptionText string                        `json:"current_transcription_text"`
	AITranscriptionText      string                        `json:"ai_transcription_text"`
	Status                   constants.TranscriptionStatus `json:"transcription_status"`
	CreatedAt                time.Time                     `json:"created_at"`
	UpdatedAt                time.Time                     `json:"updated_at"`
}
