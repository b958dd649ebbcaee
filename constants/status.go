package constants

// JobStatus is the canonical status for rows in transcription_jobs.
type JobStatus string

// Stable values (store these exact strings in DB).
const (
	JobStatusInProgress JobStatus = "IN_PROGRESS" // submitted, waiting on the remote service
	JobStatusCompleted  JobStatus = "COMPLETED"   // terminal, transcript stored
	JobStatusFailed     JobStatus = "FAILED"      // terminal failure (remote or local timeout)
)

// IsTerminal reports whether no further transitions are allowed from s.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// FailureReason records why a job ended up FAILED.
type FailureReason string

const (
	FailureRemoteFailed    FailureReason = "remote_failed"
	FailureRemoteCancelled FailureReason = "remote_cancelled"
	FailureRemoteTimedOut  FailureReason = "remote_timed_out"
	FailureLocalTimeout    FailureReason = "local_timeout"
)

// TranscriptionStatus is the user-visible state of a transcription record.
type TranscriptionStatus string

const (
	TranscriptionDraft       TranscriptionStatus = "draft"
	TranscriptionTranscribed TranscriptionStatus = "transcribed"
	TranscriptionFinalised   TranscriptionStatus = "finalised"
)

// RemoteStatus is what the OCR service reports for a job.
type RemoteStatus string

const (
	RemoteInProgress RemoteStatus = "InProgress"
	RemoteCompleted  RemoteStatus = "COMPLETED"
	RemoteFailed     RemoteStatus = "FAILED"
	RemoteCancelled  RemoteStatus = "CANCELLED"
	RemoteTimedOut   RemoteStatus = "TIME_OUT"

	// Older workers report queue and run states in upper snake case.
	RemoteInQueue         RemoteStatus = "IN_QUEUE"
	RemoteInProgressSnake RemoteStatus = "IN_PROGRESS"
)

// FailureReason maps a remote terminal failure onto the stored reason.
// ok is false for statuses that are not terminal failures.
func (s RemoteStatus) FailureReason() (FailureReason, bool) {
	switch s {
	case RemoteFailed:
		return FailureRemoteFailed, true
	case RemoteCancelled:
		return FailureRemoteCancelled, true
	case RemoteTimedOut:
		return FailureRemoteTimedOut, true
	}
	return "", false
}
