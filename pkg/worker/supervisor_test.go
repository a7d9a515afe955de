package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/runbeam/relay/pkg/protocol"
	"github.com/runbeam/relay/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconnectDelay(t *testing.T) {
	testData := []struct {
		attempt int
		max     time.Duration
		delay   time.Duration
	}{
		{1, 16 * time.Second, 0},
		{2, 16 * time.Second, 2 * time.Second},
		{3, 16 * time.Second, 4 * time.Second},
		{4, 16 * time.Second, 8 * time.Second},
		{5, 16 * time.Second, 16 * time.Second},
		{6, 16 * time.Second, 16 * time.Second},
		{10, 16 * time.Second, 16 * time.Second},
		{6, 60 * time.Second, 32 * time.Second},
		{7, 60 * time.Second, 60 * time.Second},
	}

	for _, data := range testData {
		assert.Equal(t, data.delay, ReconnectDelay(data.attempt, data.max), "attempt %d", data.attempt)
	}
}

// A dispatcher stand-in serving a scripted event stream and
// collecting result reports.
type fakeDispatcher struct {
	events    []protocol.Event
	reports   chan protocol.ResultReport
	connected atomic.Bool
}

func newFakeDispatcher(events ...protocol.Event) *fakeDispatcher {
	return &fakeDispatcher{
		events:  events,
		reports: make(chan protocol.ResultReport, 10),
	}
}

func (f *fakeDispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/_events":
		// Serve the scripted stream once; reconnect attempts are
		// rejected so a broken stream stays broken.
		if !f.connected.CompareAndSwap(false, true) {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		for _, event := range f.events {
			kind, data, _ := protocol.EncodeEvent(event)
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", kind, data)
			w.(http.Flusher).Flush()
		}

	case "/_results":
		var report protocol.ResultReport
		json.NewDecoder(r.Body).Decode(&report)
		f.reports <- report
		w.WriteHeader(http.StatusOK)

	case "/_heartbeat":
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func testConfig(serverUri string) *Config {
	return &Config{
		ServerUri:            serverUri,
		EngineCmd:            []string{"cat", "{bundle}"},
		EngineTimeout:        5 * time.Second,
		HeartbeatInterval:    10 * time.Millisecond,
		IdleTimeout:          time.Minute,
		MaxReconnectAttempts: 1,
		MaxReconnectDelay:    16 * time.Second,
	}
}

func TestSupervisorSession(t *testing.T) {
	payload := []byte(`{"passed": 3}`)
	dispatcher := newFakeDispatcher(
		protocol.KeepAlive{},
		protocol.JobStart{JobID: "job-1", TotalSize: len(payload)},
		protocol.JobChunk{JobID: "job-1", Data: payload[:5]},
		protocol.JobChunk{JobID: "job-1", Data: payload[5:]},
		protocol.JobEnd{JobID: "job-1"},
		protocol.Shutdown{},
	)
	server := httptest.NewServer(dispatcher)
	defer server.Close()

	config := testConfig(server.URL)
	supervisor := NewSupervisor(config, NewExecutor(config))

	require.NoError(t, supervisor.Run(context.Background()))
	assert.False(t, supervisor.Active())

	report := <-dispatcher.reports
	assert.Equal(t, "job-1", report.JobID)
	assert.Equal(t, supervisor.WorkerId(), report.WorkerID)
	assert.True(t, report.Outcome.Success)
	assert.Equal(t, map[string]any{"passed": 3.0}, report.Outcome.Results)
}

func TestSupervisorProtocolErrors(t *testing.T) {
	dispatcher := newFakeDispatcher(
		// End without a start.
		protocol.JobEnd{JobID: "job-1"},
		// Chunk without a start.
		protocol.JobChunk{JobID: "job-2", Data: []byte("data")},
		// More chunk bytes than announced.
		protocol.JobStart{JobID: "job-3", TotalSize: 2},
		protocol.JobChunk{JobID: "job-3", Data: []byte("data")},
		// Fewer chunk bytes than announced.
		protocol.JobStart{JobID: "job-4", TotalSize: 100},
		protocol.JobEnd{JobID: "job-4"},
		// Negative declared size.
		protocol.JobStart{JobID: "job-5", TotalSize: -1},
		protocol.Shutdown{},
	)
	server := httptest.NewServer(dispatcher)
	defer server.Close()

	config := testConfig(server.URL)
	supervisor := NewSupervisor(config, NewExecutor(config))
	require.NoError(t, supervisor.Run(context.Background()))

	for _, jobId := range []string{"job-1", "job-2", "job-3", "job-4", "job-5"} {
		report := <-dispatcher.reports
		assert.Equal(t, jobId, report.JobID)
		assert.False(t, report.Outcome.Success)
		assert.Equal(t, protocol.OutcomeExecution, report.Outcome.Kind)
		assert.Contains(t, report.Outcome.Error, "protocol error")
	}
}

func TestSupervisorDiscardsPartialBuffers(t *testing.T) {
	// The stream breaks after a start and one chunk; the partial
	// buffer must not outlive the session that created it.
	dispatcher := newFakeDispatcher(
		protocol.JobStart{JobID: "job-1", TotalSize: 1 << 20},
		protocol.JobChunk{JobID: "job-1", Data: []byte("partial")},
	)
	server := httptest.NewServer(dispatcher)
	defer server.Close()

	config := testConfig(server.URL)
	supervisor := NewSupervisor(config, NewExecutor(config))

	err := supervisor.Run(context.Background())
	assert.ErrorIs(t, err, utils.ErrSessionClosed)
	assert.Empty(t, supervisor.assemblers)
}

func TestSupervisorGivesUp(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	config := testConfig(server.URL)
	supervisor := NewSupervisor(config, NewExecutor(config))

	err := supervisor.Run(context.Background())
	assert.ErrorIs(t, err, utils.ErrSessionClosed)
	assert.False(t, supervisor.Active())
}

func TestSupervisorCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	config := testConfig(server.URL)
	supervisor := NewSupervisor(config, NewExecutor(config))
	assert.NoError(t, supervisor.Run(ctx))
}
