package dispatch

import (
	"fmt"
	"sync"
	"time"

	"github.com/runbeam/relay/pkg/chunk"
	"github.com/runbeam/relay/pkg/log"
	"github.com/runbeam/relay/pkg/protocol"
	"github.com/runbeam/relay/pkg/utils"
)

// Dispatcher-side job state. Jobs are admitted in FIFO order into a
// single in-flight slot; the slot frees when the in-flight job
// resolves. Job lifecycle events are fanned out to the connected
// event stream.
type Registry struct {
	mu sync.Mutex

	// Maximum chunk size on the event stream.
	chunkSize int

	// Pause between chunk events, to avoid starving the stream
	// consumer's event loop.
	chunkInterval time.Duration

	// Event fan-out to connected stream consumers.
	events *utils.Broadcast[protocol.Event]

	// Jobs waiting for the worker slot, in admission order.
	queue []*Job

	// The single in-flight job, nil when the slot is free.
	active *Job

	// Number of connected event stream consumers.
	connected int

	// Results discarded because no matching job was in flight.
	discarded int64

	// Liveness bookkeeping, fed by worker heartbeats.
	workerId      string
	lastHeartbeat time.Time
}

func NewRegistry(chunkSize int, chunkInterval time.Duration) *Registry {
	return &Registry{
		chunkSize:     chunkSize,
		chunkInterval: chunkInterval,
		events:        utils.NewBroadcast[protocol.Event](),
	}
}

// Admits a job into the queue. The job is promoted into the
// in-flight slot once the slot is free and a worker is connected.
func (r *Registry) Admit(job *Job) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.queue = append(r.queue, job)
	r.promote()
}

// Registers an event stream consumer.
// If a job was interrupted by a disconnect, a reconnection before
// its deadline lets it complete normally.
func (r *Registry) Subscribe() *utils.BroadcastConsumer[protocol.Event] {
	r.mu.Lock()
	defer r.mu.Unlock()

	consumer := r.events.NewConsumer()
	r.connected++

	if r.active != nil {
		r.active.setInterrupted(false)
	}

	r.promote()
	return consumer
}

// Unregisters an event stream consumer. An in-flight job left
// without any connected consumer is marked interrupted; it resolves
// worker-disconnect if its deadline elapses first.
func (r *Registry) Unsubscribe(consumer *utils.BroadcastConsumer[protocol.Event]) {
	consumer.Close()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.connected--
	if r.connected == 0 && r.active != nil {
		r.active.setInterrupted(true)
	}
}

// Resolves the in-flight job with a reported outcome.
// Results for any other job identifier are discarded: the job is
// already terminal, still queued, or unknown.
func (r *Registry) Resolve(jobId string, outcome *protocol.Outcome) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil && r.active.Id() == jobId {
		job := r.active
		r.active = nil
		job.resolve(outcome)
		r.promote()
		return true
	}

	r.discarded++
	log.Warnf("Discarding result for job %s: not in flight", jobId)
	return false
}

// Expires a job whose deadline has elapsed without a result.
// An in-flight job interrupted by a disconnect resolves
// worker-disconnect, otherwise the job times out. No-op if the job
// resolved concurrently.
func (r *Registry) Expire(job *Job, deadline time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if job.IsTerminal() {
		return
	}

	if job == r.active {
		r.active = nil

		var outcome *protocol.Outcome
		if job.isInterrupted() && r.connected == 0 {
			outcome = protocol.NewFailureOutcome(protocol.OutcomeDisconnect,
				"worker disconnected and did not reconnect before the deadline")
		} else {
			outcome = protocol.NewFailureOutcome(protocol.OutcomeTimeout,
				fmt.Sprintf("no result within %s", deadline))
		}

		job.resolve(outcome)
		r.promote()
		return
	}

	// Still queued, never made it to the worker slot.
	for i, queued := range r.queue {
		if queued == job {
			r.queue = append(r.queue[:i], r.queue[i+1:]...)
			break
		}
	}

	job.resolve(protocol.NewFailureOutcome(protocol.OutcomeTimeout,
		fmt.Sprintf("no result within %s", deadline)))
}

// Moves queued jobs into the in-flight slot, FIFO.
// Requires the registry lock. Jobs that expired while queued are
// skipped. Nothing is promoted while no worker is connected: events
// are not replayed, so streaming into the void would only burn the
// job's deadline.
func (r *Registry) promote() {
	for r.active == nil && r.connected > 0 && len(r.queue) > 0 {
		job := r.queue[0]
		r.queue = r.queue[1:]

		if !job.setInFlight() {
			continue
		}

		r.active = job
		go r.stream(job)
	}
}

// Streams a job's payload over the event stream as a start event,
// zero or more chunk events and an end event. Only ever runs for the
// job occupying the in-flight slot, so chunks of two jobs never
// interleave.
func (r *Registry) stream(job *Job) {
	chunks, err := chunk.Split(job.Payload(), r.chunkSize)
	if err != nil {
		r.Resolve(job.Id(), protocol.NewFailureOutcome(protocol.OutcomeExecution, err.Error()))
		return
	}

	log.Infof("run - job - id: %s, size: %d bytes, chunks: %d", job.Id(), len(job.Payload()), len(chunks))

	r.events.Send(protocol.JobStart{JobID: job.Id(), TotalSize: len(job.Payload())})

	for _, data := range chunks {
		if job.IsTerminal() {
			log.Debugf("Job %s terminal mid-stream, not sending remaining chunks", job.Id())
			return
		}

		r.events.Send(protocol.JobChunk{JobID: job.Id(), Data: data})

		if r.chunkInterval > 0 {
			time.Sleep(r.chunkInterval)
		}
	}

	if job.IsTerminal() {
		log.Debugf("Job %s terminal mid-stream, not sending job end", job.Id())
		return
	}

	r.events.Send(protocol.JobEnd{JobID: job.Id()})
}

// Sends a shutdown event instructing the worker to disconnect and
// stop reconnecting.
func (r *Registry) Shutdown() {
	r.events.Send(protocol.Shutdown{})
}

// Records a worker liveness heartbeat.
func (r *Registry) RecordHeartbeat(workerId string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workerId = workerId
	r.lastHeartbeat = time.Now()
}

// Returns true if a heartbeat was received within the given window.
func (r *Registry) WorkerAlive(within time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.lastHeartbeat.IsZero() && time.Since(r.lastHeartbeat) < within
}

func (r *Registry) WorkerId() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.workerId
}

// Returns true if an event stream consumer is connected.
func (r *Registry) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected > 0
}

// Number of jobs waiting for the worker slot.
func (r *Registry) QueueDepth() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// Number of admitted jobs not yet terminal.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	pending := len(r.queue)
	if r.active != nil {
		pending++
	}
	return pending
}

// Number of results discarded because no matching job was in flight.
func (r *Registry) DiscardedResults() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.discarded
}
