package protocol

// Posted by the worker to the result-ingestion endpoint
// once the test engine has finished, successfully or not.
type ResultReport struct {
	JobID    string   `json:"job_id"`
	WorkerID string   `json:"worker_id,omitempty"`
	Outcome  *Outcome `json:"outcome"`
}

// Posted by the worker on a fixed interval, independent of job
// activity, purely as a liveness signal.
type Heartbeat struct {
	WorkerID string `json:"worker_id"`
}

// Response to a bundle submission.
type SubmitResponse struct {
	JobID   string         `json:"job_id"`
	Status  JobStatus      `json:"status"`
	Results map[string]any `json:"results,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Response to a health probe.
type HealthResponse struct {
	Status           string `json:"status"`
	WorkerAlive      bool   `json:"worker_alive"`
	WorkerID         string `json:"worker_id,omitempty"`
	StreamConnected  bool   `json:"stream_connected"`
	QueueDepth       int    `json:"queue_depth"`
	Accepting        bool   `json:"accepting"`
	DiscardedResults int64  `json:"discarded_results"`
}
