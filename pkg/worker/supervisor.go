package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/denisbrodbeck/machineid"
	"github.com/google/uuid"
	"github.com/runbeam/relay/pkg/chunk"
	"github.com/runbeam/relay/pkg/log"
	"github.com/runbeam/relay/pkg/protocol"
	"github.com/runbeam/relay/pkg/utils"
)

// Maintains the one connection to the dispatcher's event stream,
// reassembles job payloads, hands them to the executor and reports
// outcomes back. Reassembly, execution and reporting for a job run
// sequentially on the event loop; the protocol guarantees no new job
// starts before the previous one ended.
type Supervisor struct {
	config   *Config
	executor *Executor
	client   *http.Client
	workerId string

	// Distinguishes deliberate shutdown from unexpected disconnects.
	active atomic.Bool

	// Consecutive failed connection attempts. Reset to zero on every
	// successful (re)connection.
	attempts int

	// Reassembly buffers keyed by job id. Created on job start,
	// filled by chunks, consumed and removed on job end.
	assemblers map[string]*chunk.Assembler
}

func NewSupervisor(config *Config, executor *Executor) *Supervisor {
	id, err := machineid.ProtectedID("relay-worker")
	if err != nil {
		uid, _ := uuid.NewRandom()
		id = uid.String()
		log.Debug("No machine id available, using a random worker id:", err)
	}

	return &Supervisor{
		config:     config,
		executor:   executor,
		client:     &http.Client{},
		workerId:   id,
		assemblers: map[string]*chunk.Assembler{},
	}
}

func (s *Supervisor) WorkerId() string {
	return s.workerId
}

// Returns true while the session has not been deliberately closed or
// given up on.
func (s *Supervisor) Active() bool {
	return s.active.Load()
}

// Runs the worker session until a deliberate shutdown, reconnecting
// after unexpected disconnects with bounded exponential backoff.
// Returns ErrSessionClosed once the attempt limit is exhausted; the
// session then requires an external restart.
func (s *Supervisor) Run(ctx context.Context) error {
	log.Info("Starting")
	s.active.Store(true)

	go s.heartbeatLoop(ctx)

	for {
		err := s.session(ctx)
		if err == nil || ctx.Err() != nil {
			s.active.Store(false)
			log.Info("Terminating")
			return nil
		}

		log.Debug("Event stream lost:", err)

		s.attempts++
		if s.attempts > s.config.MaxReconnectAttempts {
			s.active.Store(false)
			log.Errorf("Giving up after %d reconnect attempts", s.config.MaxReconnectAttempts)
			return utils.ErrSessionClosed
		}

		delay := ReconnectDelay(s.attempts, s.config.MaxReconnectDelay)
		if delay > 0 {
			log.Infof("Reconnecting in %s (attempt %d of %d)", delay, s.attempts, s.config.MaxReconnectAttempts)
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			s.active.Store(false)
			log.Info("Terminating")
			return nil
		}
	}
}

// Backoff before reconnect attempt n: no delay on the first attempt,
// then 2^(n-1) seconds capped at max.
func ReconnectDelay(attempt int, max time.Duration) time.Duration {
	if attempt <= 1 {
		return 0
	}

	delay := time.Duration(1<<(attempt-1)) * time.Second
	if delay > max {
		return max
	}
	return delay
}

// Connects to the event stream and processes events until the stream
// breaks or a shutdown is requested. Returns nil only on deliberate
// shutdown.
func (s *Supervisor) session(ctx context.Context) error {
	// Events are not replayed on a fresh connection, so a buffer
	// whose stream broke before job end can never be completed.
	defer func() {
		if len(s.assemblers) > 0 {
			log.Warnf("Discarding %d partial bundle(s)", len(s.assemblers))
			s.assemblers = map[string]*chunk.Assembler{}
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.ServerUri+"/_events", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+s.config.SessionToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("event stream rejected: %s", resp.Status)
	}

	log.Info("Connected to dispatcher")
	s.attempts = 0

	var idle *time.Timer
	if s.config.IdleTimeout > 0 {
		idle = time.AfterFunc(s.config.IdleTimeout, func() {
			log.Warn("Event stream idle, closing connection")
			resp.Body.Close()
		})
		defer idle.Stop()
	}

	reader := newEventReader(resp.Body)

	for {
		event, err := reader.Next()
		if err == io.EOF {
			return fmt.Errorf("event stream closed by dispatcher")
		}
		if err != nil {
			return err
		}

		if idle != nil {
			idle.Reset(s.config.IdleTimeout)
		}

		switch event := event.(type) {
		case protocol.KeepAlive:
			// idle detection reset only

		case protocol.JobStart:
			s.handleStart(event)

		case protocol.JobChunk:
			s.handleChunk(event)

		case protocol.JobEnd:
			s.handleEnd(ctx, event)

		case protocol.Shutdown:
			log.Info("Shutdown requested by dispatcher")
			return nil
		}
	}
}

func (s *Supervisor) handleStart(event protocol.JobStart) {
	if event.TotalSize < 0 {
		log.Errorf("Job %s announces a negative size: %d", event.JobID, event.TotalSize)
		s.report(event.JobID, protocol.NewFailureOutcome(protocol.OutcomeExecution,
			"protocol error: negative total size"))
		return
	}

	if _, ok := s.assemblers[event.JobID]; ok {
		log.Errorf("Duplicate start event for job %s, discarding buffer", event.JobID)
		delete(s.assemblers, event.JobID)
		s.report(event.JobID, protocol.NewFailureOutcome(protocol.OutcomeExecution,
			"protocol error: duplicate job start"))
		return
	}

	log.Infof("new - job - id: %s, size: %d bytes", event.JobID, event.TotalSize)
	s.assemblers[event.JobID] = chunk.NewAssembler(event.JobID, event.TotalSize)
}

func (s *Supervisor) handleChunk(event protocol.JobChunk) {
	assembler, ok := s.assemblers[event.JobID]
	if !ok {
		log.Errorf("Chunk event for unknown job %s", event.JobID)
		s.report(event.JobID, protocol.NewFailureOutcome(protocol.OutcomeExecution,
			"protocol error: chunk before job start"))
		return
	}

	if err := assembler.Write(event.Data); err != nil {
		log.Errorf("Reassembly of job %s failed: %v", event.JobID, err)
		delete(s.assemblers, event.JobID)
		s.report(event.JobID, protocol.NewFailureOutcome(protocol.OutcomeExecution,
			fmt.Sprintf("protocol error: %v", err)))
	}
}

func (s *Supervisor) handleEnd(ctx context.Context, event protocol.JobEnd) {
	assembler, ok := s.assemblers[event.JobID]
	if !ok {
		log.Errorf("End event for unknown job %s", event.JobID)
		s.report(event.JobID, protocol.NewFailureOutcome(protocol.OutcomeExecution,
			"protocol error: job end before job start"))
		return
	}

	// The buffer is discarded whatever happens next.
	delete(s.assemblers, event.JobID)

	payload, err := assembler.Bytes()
	if err != nil {
		log.Errorf("Reassembly of job %s failed: %v", event.JobID, err)
		s.report(event.JobID, protocol.NewFailureOutcome(protocol.OutcomeExecution,
			fmt.Sprintf("protocol error: %v", err)))
		return
	}

	log.Infof("run - job - id: %s", event.JobID)
	outcome := s.executor.Execute(ctx, payload)
	log.Infof("end - job - id: %s, success: %v", event.JobID, outcome.Success)

	s.report(event.JobID, outcome)
}

// Reports a job outcome to the dispatcher. A failed report is logged
// and not retried; the dispatcher times the job out on its own.
func (s *Supervisor) report(jobId string, outcome *protocol.Outcome) {
	body, err := json.Marshal(&protocol.ResultReport{
		JobID:    jobId,
		WorkerID: s.workerId,
		Outcome:  outcome,
	})
	if err != nil {
		log.Error("Failed to encode result report:", err)
		return
	}

	req, err := http.NewRequest(http.MethodPost, s.config.ServerUri+"/_results", bytes.NewReader(body))
	if err != nil {
		log.Error("Failed to report result for job", jobId, ":", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.config.SessionToken)

	resp, err := s.client.Do(req)
	if err != nil {
		log.Error("Failed to report result for job", jobId, ":", err)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		log.Warnf("Result for job %s discarded by dispatcher", jobId)
	case resp.StatusCode >= 400:
		log.Errorf("Result report for job %s rejected: %s", jobId, resp.Status)
	}
}

// Sends liveness heartbeats on a fixed interval, independent of job
// activity. Heartbeat failures are logged but never trigger a
// reconnect; only a broken event stream does.
func (s *Supervisor) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.sendHeartbeat(ctx); err != nil {
				log.Debug("Heartbeat failed:", err)
			}
		}
	}
}

func (s *Supervisor) sendHeartbeat(ctx context.Context) error {
	body, err := json.Marshal(&protocol.Heartbeat{WorkerID: s.workerId})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.ServerUri+"/_heartbeat", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.config.SessionToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("heartbeat rejected: %s", resp.Status)
	}

	return nil
}
