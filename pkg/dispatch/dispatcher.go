package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/runbeam/relay/pkg/log"
	"github.com/runbeam/relay/pkg/protocol"
)

// Accepts bundle submissions and blocks each caller until its job
// reaches a terminal outcome. Many callers may submit concurrently;
// jobs queue FIFO and execute one at a time.
type Dispatcher struct {
	registry *Registry

	// Default job deadline, used when the caller does not provide one.
	timeout time.Duration

	// Maximum accepted payload size in bytes, 0 for unlimited.
	maxSize int64
}

func NewDispatcher(registry *Registry, timeout time.Duration, maxSize int64) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		timeout:  timeout,
		maxSize:  maxSize,
	}
}

func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Submits a bundle payload and waits for its terminal outcome.
// Returns the job identifier and the outcome. Validation failures
// produce no job and an empty identifier.
//
// Exactly one terminal outcome is returned per admitted job: a
// result reported in time, or a timeout/worker-disconnect failure
// once the deadline elapses. A result arriving after that is
// discarded by the registry.
func (d *Dispatcher) Submit(ctx context.Context, payload []byte, deadline time.Duration) (string, *protocol.Outcome) {
	if deadline <= 0 {
		deadline = d.timeout
	}

	if len(payload) == 0 {
		return "", protocol.NewFailureOutcome(protocol.OutcomeValidation, "empty bundle payload")
	}

	if d.maxSize > 0 && int64(len(payload)) > d.maxSize {
		return "", protocol.NewFailureOutcome(protocol.OutcomeValidation,
			fmt.Sprintf("bundle payload of %d bytes exceeds the maximum of %d bytes", len(payload), d.maxSize))
	}

	job := NewJob(payload)
	log.Infof("new - job - id: %s, size: %d bytes, deadline: %s", job.Id(), len(payload), deadline)

	d.registry.Admit(job)

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case <-job.Done():
	case <-timer.C:
		d.registry.Expire(job, deadline)
	case <-ctx.Done():
		// The caller went away. There is no cancellation channel to
		// the worker, so the job is expired the same way a deadline is.
		d.registry.Expire(job, deadline)
	}

	<-job.Done()

	outcome := job.Outcome()
	log.Infof("end - job - id: %s, status: %s", job.Id(), job.Status())
	return job.Id(), outcome
}
