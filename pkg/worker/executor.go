package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/runbeam/relay/pkg/protocol"
	"github.com/runbeam/relay/pkg/utils"
)

// Runs the external test engine on reassembled bundles.
type Executor struct {
	config *Config
}

func NewExecutor(config *Config) *Executor {
	return &Executor{
		config: config,
	}
}

// Executes the engine on a bundle payload and classifies the result.
// Every failure, from staging to malformed engine output, becomes a
// failure outcome; nothing propagates.
//
// The engine is expected to print its structured results as JSON on
// stdout. An empty stdout counts as a success with empty results.
func (e *Executor) Execute(ctx context.Context, payload []byte) *protocol.Outcome {
	file, err := e.writeBundle(payload)
	if err != nil {
		return protocol.NewFailureOutcome(protocol.OutcomeExecution,
			fmt.Sprintf("failed to stage bundle: %v", err))
	}
	defer os.Remove(file)

	ctx, cancel := context.WithTimeout(ctx, e.config.EngineTimeout)
	defer cancel()

	args := make([]string, 0, len(e.config.EngineCmd))
	for _, arg := range e.config.EngineCmd {
		args = append(args, strings.ReplaceAll(arg, "{bundle}", file))
	}

	stdout, err := utils.RunOutput(ctx, e.config.WorkDir, args...)
	if err != nil {
		if detailed, ok := err.(utils.DetailedError); ok && detailed.Details() != "" {
			return protocol.NewFailureOutcome(protocol.OutcomeExecution,
				fmt.Sprintf("%s: %s", detailed.Error(), detailed.Details()))
		}
		return protocol.NewFailureOutcome(protocol.OutcomeExecution, err.Error())
	}

	results := map[string]any{}
	if len(bytes.TrimSpace(stdout)) > 0 {
		if err := json.Unmarshal(stdout, &results); err != nil {
			return protocol.NewFailureOutcome(protocol.OutcomeExecution,
				fmt.Sprintf("engine produced malformed results: %v", err))
		}
	}

	return protocol.NewSuccessOutcome(results)
}

// Serialize the bundle to a temporary file so that the engine can read it
func (e *Executor) writeBundle(payload []byte) (string, error) {
	file, err := os.CreateTemp("", "relay-bundle-")
	if err != nil {
		return "", err
	}

	if _, err := file.Write(payload); err != nil {
		file.Close()
		os.Remove(file.Name())
		return "", err
	}

	file.Close()
	return file.Name(), nil
}
