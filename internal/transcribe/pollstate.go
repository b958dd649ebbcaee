package transcribe

import (
	"github.com/google/uuid"

	"github.com/joseph-ayodele/archive-transcriber/constants"
	"github.com/joseph-ayodele/archive-transcriber/internal/ocr"
)

// PollPhase is where a job's poll loop stands.
type PollPhase string

const (
	PhasePolling   PollPhase = "polling"
	PhaseCompleted PollPhase = "completed"
	PhaseFailed    PollPhase = "failed"
)

// PollState is the whole state of one job's poll loop. It is a plain value so it can be
// checkpointed and resumed on a later delivery of the same task.
type PollState struct {
	JobID         uuid.UUID               `json:"job_id"`
	ExternalJobID string                  `json:"external_job_id"`
	Attempts      int                     `json:"attempts"`
	Phase         PollPhase               `json:"phase"`
	LastStatus    constants.RemoteStatus  `json:"last_status,omitempty"`
	Transcript    string                  `json:"-"`
	FailureReason constants.FailureReason `json:"failure_reason,omitempty"`
}

func newPollState(jobID uuid.UUID, externalJobID string) PollState {
	return PollState{JobID: jobID, ExternalJobID: externalJobID, Phase: PhasePolling}
}

// Done reports whether the loop reached a terminal phase.
func (s PollState) Done() bool {
	return s.Phase != PhasePolling
}

// Exhausted reports whether no poll attempts are left under maxAttempts.
func (s PollState) Exhausted(maxAttempts int) bool {
	return s.Attempts >= maxAttempts
}

// Next folds one poll result into the state. Errors leave the phase unchanged; the attempt
// still counts toward the ceiling.
func (s PollState) Next(res ocr.StatusResult, err error) PollState {
	s.Attempts++
	if err != nil {
		return s
	}
	s.LastStatus = res.Status
	if res.Status == constants.RemoteCompleted {
		s.Phase = PhaseCompleted
		s.Transcript = res.Transcript
		return s
	}
	if reason, failed := res.Status.FailureReason(); failed {
		s.Phase = PhaseFailed
		s.FailureReason = reason
	}
	return s
}

// TimedOut moves a polling state to failed with the local timeout reason.
func (s PollState) TimedOut() PollState {
	s.Phase = PhaseFailed
	s.FailureReason = constants.FailureLocalTimeout
	return s
}
