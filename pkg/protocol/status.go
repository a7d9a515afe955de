package protocol

// Lifecycle state of a submitted job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobInFlight  JobStatus = "in_flight"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobTimedOut  JobStatus = "timed_out"
	JobAborted   JobStatus = "aborted"
)

// Should return true if the job is no longer in progress
func (status JobStatus) IsTerminal() bool {
	switch status {
	case JobQueued, JobInFlight:
		return false
	default:
		return true
	}
}
