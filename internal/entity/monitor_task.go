package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"

	"github.com/google/uuid"
)

// MonitorTask is the queue payload for one submitted batch.
type MonitorTask struct {
	TaskID     uuid.UUID        `json:"task_id"`
	UserID     uuid.UUID        `json:"user_id"`
	Jobs       []MonitorTaskJob `json:"jobs"`
	EnqueuedAt time.Time        `json:"enqueued_at"`
}

// MonitorTaskJob references a single job created for the batch.
type MonitorTaskJob struct {
	ImageID            uuid.UUID  `json:"image_id"`
	ExternalJobID      string     `json:"external_job_id"`
	TranscriptionJobID uuid.UUID  `json:"transcription_job_id"`
	DocumentID         *uuid.UUID `json:"document_id,omitempty"`
}

// SettlementKey is stable across redeliveries of the same task: the task id plus a
// checksum of its job ids (order-independent).
func (t MonitorTask) SettlementKey() string {
	ids := make([]string, 0, len(t.Jobs))
	for _, j := range t.Jobs {
		ids = append(ids, j.TranscriptionJobID.String())
	}
	sort.Strings(ids)
	h := sha256.New()
	for _, id := range ids {
		h.Write([]byte(id))
		h.Write([]byte{'\n'})
	}
	return t.TaskID.String() + ":" + hex.EncodeToString(h.Sum(nil))
}
