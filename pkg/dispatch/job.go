package dispatch

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/runbeam/relay/pkg/log"
	"github.com/runbeam/relay/pkg/protocol"
)

// A submitted test bundle tracked from admission to terminal outcome.
// Owned by the registry; the submitting caller only holds a reference
// used to await resolution.
type Job struct {
	sync.RWMutex

	// Identity minted at admission time.
	id string

	// The raw bundle payload.
	payload []byte

	// Time of submission.
	submittedAt time.Time

	// Current lifecycle state.
	status protocol.JobStatus

	// Terminal outcome, nil until resolved.
	outcome *protocol.Outcome

	// Closed exactly once, when the job reaches a terminal state.
	done chan struct{}

	// Set while the event stream is down during this job's flight.
	interrupted bool
}

func NewJob(payload []byte) *Job {
	uid, _ := uuid.NewRandom()

	return &Job{
		id:          uid.String(),
		payload:     payload,
		submittedAt: time.Now(),
		status:      protocol.JobQueued,
		done:        make(chan struct{}),
	}
}

func (j *Job) Id() string {
	return j.id
}

func (j *Job) Payload() []byte {
	return j.payload
}

func (j *Job) SubmittedAt() time.Time {
	return j.submittedAt
}

func (j *Job) Status() protocol.JobStatus {
	j.RLock()
	defer j.RUnlock()
	return j.status
}

func (j *Job) Outcome() *protocol.Outcome {
	j.RLock()
	defer j.RUnlock()
	return j.outcome
}

func (j *Job) IsTerminal() bool {
	j.RLock()
	defer j.RUnlock()
	return j.status.IsTerminal()
}

// Channel closed when the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Marks the job in flight. Returns false if the job is no longer
// queued, e.g. because it expired while waiting for the worker slot.
func (j *Job) setInFlight() bool {
	j.Lock()
	defer j.Unlock()

	if j.status != protocol.JobQueued {
		return false
	}

	j.status = protocol.JobInFlight
	return true
}

// Resolves the job with a terminal outcome.
// A job transitions to a terminal state exactly once; later
// resolution attempts are rejected.
func (j *Job) resolve(outcome *protocol.Outcome) bool {
	j.Lock()
	defer j.Unlock()

	if j.status.IsTerminal() {
		log.Debugf("Resolution of job %s rejected, status already %v", j.id, j.status)
		return false
	}

	j.status = outcome.Status()
	j.outcome = outcome
	close(j.done)
	return true
}

func (j *Job) setInterrupted(interrupted bool) {
	j.Lock()
	defer j.Unlock()
	j.interrupted = interrupted
}

func (j *Job) isInterrupted() bool {
	j.RLock()
	defer j.RUnlock()
	return j.interrupted
}
