package dispatch

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/labstack/echo/v4"
	"github.com/runbeam/relay/pkg/auth"
	"github.com/runbeam/relay/pkg/log"
	"github.com/runbeam/relay/pkg/protocol"
)

// HTTP surface of the dispatcher:
//
//	POST /test       - submit a bundle, blocks until a terminal outcome
//	GET  /_events    - the worker's event stream (server-sent events)
//	POST /_results   - result ingestion from the worker
//	POST /_heartbeat - worker liveness signal
//	GET  /health     - health probe
type HttpHandler struct {
	dispatcher *Dispatcher
	registry   *Registry
	gate       *auth.Gate

	// Interval between keep-alive events on an idle stream.
	keepAlive time.Duration

	// Heartbeat recency window for the health probe.
	heartbeatTimeout time.Duration

	// Cleared during graceful shutdown.
	accepting atomic.Bool
}

func NewHttpHandler(dispatcher *Dispatcher, gate *auth.Gate, keepAlive, heartbeatTimeout time.Duration) *HttpHandler {
	h := &HttpHandler{
		dispatcher:       dispatcher,
		registry:         dispatcher.Registry(),
		gate:             gate,
		keepAlive:        keepAlive,
		heartbeatTimeout: heartbeatTimeout,
	}
	h.accepting.Store(true)
	return h
}

// Registers the routes on an echo instance.
func (h *HttpHandler) Register(r *echo.Echo) {
	r.POST("/test", h.submit, h.gate.RequireAPIKey)
	r.GET("/_events", h.events, h.gate.RequireSessionToken)
	r.POST("/_results", h.results, h.gate.RequireSessionToken)
	r.POST("/_heartbeat", h.heartbeat, h.gate.RequireSessionToken)
	r.GET("/health", h.health)
}

func (h *HttpHandler) submit(c echo.Context) error {
	if !h.accepting.Load() {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Shutting down, not accepting new submissions")
	}

	var body io.Reader = c.Request().Body
	if strings.EqualFold(c.Request().Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(body)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "Malformed gzip body")
		}
		defer gz.Close()
		body = gz
	}

	payload, err := io.ReadAll(body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	var deadline time.Duration
	if param := c.QueryParam("timeout"); param != "" {
		deadline, err = time.ParseDuration(param)
		if err != nil || deadline <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "Invalid timeout parameter")
		}
	}

	jobId, outcome := h.dispatcher.Submit(c.Request().Context(), payload, deadline)
	if jobId == "" {
		return echo.NewHTTPError(http.StatusBadRequest, outcome.Error)
	}

	return c.JSON(http.StatusOK, &protocol.SubmitResponse{
		JobID:   jobId,
		Status:  outcome.Status(),
		Results: outcome.Results,
		Error:   outcome.Error,
	})
}

func (h *HttpHandler) events(c echo.Context) error {
	log.Info("Worker connected to event stream")

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	resp.Flush()

	consumer := h.registry.Subscribe()
	defer h.registry.Unsubscribe(consumer)

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	ctx := c.Request().Context()

	for {
		select {
		case <-ctx.Done():
			log.Info("Worker disconnected from event stream")
			return nil

		case event, ok := <-consumer.Chan:
			if !ok {
				return nil
			}

			if err := writeEvent(resp, event); err != nil {
				log.Debug("Event stream write error:", err)
				return nil
			}

			if event.Kind() == protocol.EventShutdown {
				log.Info("Shutdown event sent, closing event stream")
				return nil
			}

		case <-ticker.C:
			if err := writeEvent(resp, protocol.KeepAlive{}); err != nil {
				log.Debug("Event stream write error:", err)
				return nil
			}
		}
	}
}

func writeEvent(resp *echo.Response, event protocol.Event) error {
	kind, data, err := protocol.EncodeEvent(event)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(resp, "event: %s\ndata: %s\n\n", kind, data); err != nil {
		return err
	}

	resp.Flush()
	return nil
}

func (h *HttpHandler) results(c echo.Context) error {
	var report protocol.ResultReport
	if err := c.Bind(&report); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Malformed result report")
	}

	if report.JobID == "" || report.Outcome == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Result report requires a job id and an outcome")
	}

	if !h.registry.Resolve(report.JobID, report.Outcome) {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("Job %s not in flight", report.JobID))
	}

	return c.JSON(http.StatusOK, map[string]string{
		"status": "accepted",
		"job_id": report.JobID,
	})
}

func (h *HttpHandler) heartbeat(c echo.Context) error {
	var beat protocol.Heartbeat
	if err := c.Bind(&beat); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Malformed heartbeat")
	}

	h.registry.RecordHeartbeat(beat.WorkerID)
	return c.NoContent(http.StatusNoContent)
}

func (h *HttpHandler) health(c echo.Context) error {
	alive := h.registry.WorkerAlive(h.heartbeatTimeout)

	status := "healthy"
	if !alive {
		status = "degraded"
	}

	return c.JSON(http.StatusOK, &protocol.HealthResponse{
		Status:           status,
		WorkerAlive:      alive,
		WorkerID:         h.registry.WorkerId(),
		StreamConnected:  h.registry.Connected(),
		QueueDepth:       h.registry.QueueDepth(),
		Accepting:        h.accepting.Load(),
		DiscardedResults: h.registry.DiscardedResults(),
	})
}

// Stops accepting submissions, waits for admitted jobs to resolve,
// up to the given timeout, then tells the worker to shut down.
func (h *HttpHandler) Drain(timeout time.Duration) {
	h.accepting.Store(false)
	log.Info("Stopped accepting new submissions")

	deadline := time.Now().Add(timeout)
	for h.registry.Pending() > 0 && time.Now().Before(deadline) {
		log.Infof("Waiting for %d active job(s) to finish", h.registry.Pending())
		time.Sleep(500 * time.Millisecond)
	}

	if pending := h.registry.Pending(); pending > 0 {
		log.Warnf("Force stopping with %d job(s) still active", pending)
	}

	h.registry.Shutdown()
}
