package protocol

// Classification of a failure outcome.
type OutcomeKind string

const (
	OutcomeValidation OutcomeKind = "validation"
	OutcomeExecution  OutcomeKind = "execution"
	OutcomeTimeout    OutcomeKind = "timeout"
	OutcomeDisconnect OutcomeKind = "worker_disconnect"
)

// The terminal result of a job. Either a success carrying the opaque
// results payload produced by the test engine, or a failure carrying
// a classification and a human-readable cause.
// Treated as immutable once constructed.
type Outcome struct {
	Success bool           `json:"success"`
	Results map[string]any `json:"results,omitempty"`
	Kind    OutcomeKind    `json:"kind,omitempty"`
	Error   string         `json:"error,omitempty"`
}

func NewSuccessOutcome(results map[string]any) *Outcome {
	return &Outcome{
		Success: true,
		Results: results,
	}
}

func NewFailureOutcome(kind OutcomeKind, cause string) *Outcome {
	return &Outcome{
		Success: false,
		Kind:    kind,
		Error:   cause,
	}
}

// Maps an outcome to the terminal job status it implies.
func (o *Outcome) Status() JobStatus {
	if o.Success {
		return JobCompleted
	}

	switch o.Kind {
	case OutcomeTimeout:
		return JobTimedOut
	case OutcomeDisconnect:
		return JobAborted
	default:
		return JobFailed
	}
}
