package protocol

import (
	"encoding/json"
	"fmt"
)

// Kind tag of an event on the dispatcher-to-worker stream.
type EventKind string

const (
	EventKeepAlive EventKind = "keep_alive"
	EventJobStart  EventKind = "job_start"
	EventJobChunk  EventKind = "job_chunk"
	EventJobEnd    EventKind = "job_end"
	EventShutdown  EventKind = "shutdown"
)

var ErrUnknownEvent = fmt.Errorf("Unknown event kind")

// A job lifecycle event. The set of implementations is closed:
// KeepAlive, JobStart, JobChunk, JobEnd and Shutdown.
type Event interface {
	Kind() EventKind
}

// Sent periodically while the stream is idle. Carries no job
// semantics; consumers only use it to reset idle detection.
type KeepAlive struct{}

func (KeepAlive) Kind() EventKind { return EventKeepAlive }

// Announces a new job. The receiver must allocate a reassembly
// buffer of exactly TotalSize bytes before any chunk arrives.
type JobStart struct {
	JobID     string `json:"job_id"`
	TotalSize int    `json:"total_size"`
}

func (JobStart) Kind() EventKind { return EventJobStart }

// One slice of the job payload. Data is base64 on the wire.
// Chunks are applied in arrival order; there are no sequence numbers.
type JobChunk struct {
	JobID string `json:"job_id"`
	Data  []byte `json:"data"`
}

func (JobChunk) Kind() EventKind { return EventJobChunk }

// Signals that all chunks of the job have been sent.
type JobEnd struct {
	JobID string `json:"job_id"`
}

func (JobEnd) Kind() EventKind { return EventJobEnd }

// Instructs the worker to close its connection and stop reconnecting.
type Shutdown struct{}

func (Shutdown) Kind() EventKind { return EventShutdown }

// Serializes an event into its kind tag and JSON body.
func EncodeEvent(event Event) (EventKind, []byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return "", nil, err
	}
	return event.Kind(), data, nil
}

// Parses an event body for the given kind tag.
// Tags outside the closed set are an error, not silently skipped.
func DecodeEvent(kind EventKind, data []byte) (Event, error) {
	switch kind {
	case EventKeepAlive:
		return KeepAlive{}, nil

	case EventJobStart:
		var event JobStart
		if err := json.Unmarshal(data, &event); err != nil {
			return nil, err
		}
		return event, nil

	case EventJobChunk:
		var event JobChunk
		if err := json.Unmarshal(data, &event); err != nil {
			return nil, err
		}
		return event, nil

	case EventJobEnd:
		var event JobEnd
		if err := json.Unmarshal(data, &event); err != nil {
			return nil, err
		}
		return event, nil

	case EventShutdown:
		return Shutdown{}, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, kind)
	}
}
