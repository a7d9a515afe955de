package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/labstack/echo/v4"
	"github.com/runbeam/relay/pkg/auth"
	"github.com/runbeam/relay/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

func TestHttpHandler(t *testing.T) {
	suite.Run(t, &HttpHandlerTest{})
}

type HttpHandlerTest struct {
	suite.Suite
	registry *Registry
	handler  *HttpHandler
	echo     *echo.Echo
}

func (suite *HttpHandlerTest) SetupTest() {
	suite.registry = NewRegistry(4, 0)
	dispatcher := NewDispatcher(suite.registry, 100*time.Millisecond, 1024)
	suite.handler = NewHttpHandler(dispatcher, auth.NewGate(false, nil), time.Minute, time.Minute)
	suite.echo = echo.New()
}

func (s *HttpHandlerTest) request(method, target string, body []byte, headers map[string]string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	for name, value := range headers {
		req.Header.Set(name, value)
	}
	rec := httptest.NewRecorder()
	return s.echo.NewContext(req, rec), rec
}

func statusCode(rec *httptest.ResponseRecorder, err error) int {
	if httpErr, ok := err.(*echo.HTTPError); ok {
		return httpErr.Code
	}
	return rec.Code
}

func (s *HttpHandlerTest) TestSubmitEmpty() {
	c, rec := s.request(http.MethodPost, "/test", nil, nil)
	err := s.handler.submit(c)
	assert.Equal(s.T(), http.StatusBadRequest, statusCode(rec, err))
}

func (s *HttpHandlerTest) TestSubmitBadGzip() {
	c, rec := s.request(http.MethodPost, "/test", []byte("not gzip"), map[string]string{
		"Content-Encoding": "gzip",
	})
	err := s.handler.submit(c)
	assert.Equal(s.T(), http.StatusBadRequest, statusCode(rec, err))
}

func (s *HttpHandlerTest) TestSubmitBadTimeout() {
	c, rec := s.request(http.MethodPost, "/test?timeout=soon", []byte("payload"), nil)
	err := s.handler.submit(c)
	assert.Equal(s.T(), http.StatusBadRequest, statusCode(rec, err))
}

func (s *HttpHandlerTest) TestSubmitTimesOut() {
	// No worker connected, the job expires on the requested deadline.
	c, rec := s.request(http.MethodPost, "/test?timeout=50ms", []byte("payload"), nil)
	assert.NoError(s.T(), s.handler.submit(c))
	assert.Equal(s.T(), http.StatusOK, rec.Code)

	var response protocol.SubmitResponse
	assert.NoError(s.T(), json.Unmarshal(rec.Body.Bytes(), &response))
	assert.NotEmpty(s.T(), response.JobID)
	assert.Equal(s.T(), protocol.JobTimedOut, response.Status)
}

func (s *HttpHandlerTest) TestSubmitGzipRoundTrip() {
	consumer := s.registry.Subscribe()
	defer s.registry.Unsubscribe(consumer)

	buf := bytes.Buffer{}
	writer := gzip.NewWriter(&buf)
	_, err := writer.Write([]byte("0123456789"))
	s.Require().NoError(err)
	s.Require().NoError(writer.Close())

	c, rec := s.request(http.MethodPost, "/test?timeout=1s", buf.Bytes(), map[string]string{
		"Content-Encoding": "gzip",
	})

	done := make(chan error, 1)
	go func() {
		done <- s.handler.submit(c)
	}()

	// Reassemble the streamed payload and report success for it.
	var jobId string
	payload := []byte{}
stream:
	for event := range consumer.Chan {
		switch event := event.(type) {
		case protocol.JobStart:
			jobId = event.JobID
		case protocol.JobChunk:
			payload = append(payload, event.Data...)
		case protocol.JobEnd:
			s.registry.Resolve(jobId, protocol.NewSuccessOutcome(map[string]any{"passed": 10.0}))
			break stream
		}
	}
	assert.Equal(s.T(), []byte("0123456789"), payload)

	assert.NoError(s.T(), <-done)
	assert.Equal(s.T(), http.StatusOK, rec.Code)

	var response protocol.SubmitResponse
	assert.NoError(s.T(), json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(s.T(), protocol.JobCompleted, response.Status)
	assert.Equal(s.T(), map[string]any{"passed": 10.0}, response.Results)
}

func (s *HttpHandlerTest) TestResults() {
	c, rec := s.request(http.MethodPost, "/_results", []byte("not json"), map[string]string{
		echo.HeaderContentType: echo.MIMEApplicationJSON,
	})
	err := s.handler.results(c)
	assert.Equal(s.T(), http.StatusBadRequest, statusCode(rec, err))

	report, _ := json.Marshal(&protocol.ResultReport{
		JobID:   "no-such-job",
		Outcome: protocol.NewSuccessOutcome(nil),
	})
	c, rec = s.request(http.MethodPost, "/_results", report, map[string]string{
		echo.HeaderContentType: echo.MIMEApplicationJSON,
	})
	err = s.handler.results(c)
	assert.Equal(s.T(), http.StatusNotFound, statusCode(rec, err))
	assert.Equal(s.T(), int64(1), s.registry.DiscardedResults())
}

func (s *HttpHandlerTest) TestResultsMissingOutcome() {
	c, rec := s.request(http.MethodPost, "/_results", []byte(`{"job_id": "job"}`), map[string]string{
		echo.HeaderContentType: echo.MIMEApplicationJSON,
	})
	err := s.handler.results(c)
	assert.Equal(s.T(), http.StatusBadRequest, statusCode(rec, err))
}

func (s *HttpHandlerTest) TestHeartbeat() {
	beat, _ := json.Marshal(&protocol.Heartbeat{WorkerID: "worker-1"})
	c, rec := s.request(http.MethodPost, "/_heartbeat", beat, map[string]string{
		echo.HeaderContentType: echo.MIMEApplicationJSON,
	})
	assert.NoError(s.T(), s.handler.heartbeat(c))
	assert.Equal(s.T(), http.StatusNoContent, rec.Code)
	assert.True(s.T(), s.registry.WorkerAlive(time.Minute))
	assert.Equal(s.T(), "worker-1", s.registry.WorkerId())
}

func (s *HttpHandlerTest) TestHealth() {
	c, rec := s.request(http.MethodGet, "/health", nil, nil)
	assert.NoError(s.T(), s.handler.health(c))
	assert.Equal(s.T(), http.StatusOK, rec.Code)

	var health protocol.HealthResponse
	assert.NoError(s.T(), json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(s.T(), "degraded", health.Status)
	assert.False(s.T(), health.WorkerAlive)
	assert.True(s.T(), health.Accepting)

	s.registry.RecordHeartbeat("worker-1")
	c, rec = s.request(http.MethodGet, "/health", nil, nil)
	assert.NoError(s.T(), s.handler.health(c))
	assert.NoError(s.T(), json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(s.T(), "healthy", health.Status)
	assert.True(s.T(), health.WorkerAlive)
}

func (s *HttpHandlerTest) TestDrainRejectsSubmissions() {
	s.handler.Drain(time.Second)

	c, rec := s.request(http.MethodPost, "/test", []byte("payload"), nil)
	err := s.handler.submit(c)
	assert.Equal(s.T(), http.StatusServiceUnavailable, statusCode(rec, err))
}

func (s *HttpHandlerTest) TestDrainWaitsBeforeShutdown() {
	consumer := s.registry.Subscribe()
	defer s.registry.Unsubscribe(consumer)

	job := NewJob([]byte("payload"))
	s.registry.Admit(job)

	// Record whether the job had already resolved when the shutdown
	// event went out.
	terminalAtShutdown := make(chan bool, 1)
	go func() {
		for event := range consumer.Chan {
			if _, ok := event.(protocol.Shutdown); ok {
				terminalAtShutdown <- job.IsTerminal()
				return
			}
		}
	}()

	go func() {
		time.Sleep(100 * time.Millisecond)
		s.registry.Resolve(job.Id(), protocol.NewSuccessOutcome(nil))
	}()

	s.handler.Drain(5 * time.Second)

	select {
	case terminal := <-terminalAtShutdown:
		assert.True(s.T(), terminal)
	case <-time.After(time.Second):
		s.FailNow("No shutdown event observed")
	}
}

func (s *HttpHandlerTest) TestEventStream() {
	c, rec := s.request(http.MethodGet, "/_events", nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.SetRequest(c.Request().WithContext(ctx))

	done := make(chan error, 1)
	go func() {
		done <- s.handler.events(c)
	}()

	for i := 0; !s.registry.Connected() && i < 100; i++ {
		time.Sleep(10 * time.Millisecond)
	}
	s.Require().True(s.registry.Connected())

	job := NewJob([]byte("0123456789"))
	s.registry.Admit(job)

	for i := 0; job.Status() != protocol.JobInFlight && i < 100; i++ {
		time.Sleep(10 * time.Millisecond)
	}

	// Let the chunk stream and an idle gap pass, then shut down.
	// The handler returns after writing the shutdown event.
	time.Sleep(50 * time.Millisecond)
	s.registry.Shutdown()
	assert.NoError(s.T(), <-done)

	body := rec.Body.String()
	events := []string{}
	for _, line := range strings.Split(body, "\n") {
		if name, ok := strings.CutPrefix(line, "event: "); ok {
			events = append(events, name)
		}
	}
	assert.Equal(s.T(), []string{"job_start", "job_chunk", "job_chunk", "job_chunk", "job_end", "shutdown"}, events)
	assert.Contains(s.T(), body, `"total_size":10`)
}

func (s *HttpHandlerTest) TestRegisterRoutes() {
	s.handler.Register(s.echo)

	routes := map[string]bool{}
	for _, route := range s.echo.Routes() {
		routes[route.Method+" "+route.Path] = true
	}

	assert.True(s.T(), routes["POST /test"])
	assert.True(s.T(), routes["GET /_events"])
	assert.True(s.T(), routes["POST /_results"])
	assert.True(s.T(), routes["POST /_heartbeat"])
	assert.True(s.T(), routes["GET /health"])
}
