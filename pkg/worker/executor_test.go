package worker

import (
	"context"
	"testing"
	"time"

	"github.com/runbeam/relay/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

func TestExecutor(t *testing.T) {
	suite.Run(t, &ExecutorTest{})
}

type ExecutorTest struct {
	suite.Suite
	config *Config
}

func (suite *ExecutorTest) SetupTest() {
	suite.config = &Config{
		EngineCmd:     []string{"cat", "{bundle}"},
		EngineTimeout: 5 * time.Second,
	}
}

func (s *ExecutorTest) execute(payload string) *protocol.Outcome {
	return NewExecutor(s.config).Execute(context.Background(), []byte(payload))
}

func (s *ExecutorTest) TestSuccess() {
	outcome := s.execute(`{"passed": 3, "failed": 0}`)
	assert.True(s.T(), outcome.Success)
	assert.Equal(s.T(), map[string]any{"passed": 3.0, "failed": 0.0}, outcome.Results)
}

func (s *ExecutorTest) TestEmptyOutput() {
	s.config.EngineCmd = []string{"true"}

	outcome := s.execute("payload")
	assert.True(s.T(), outcome.Success)
	assert.Empty(s.T(), outcome.Results)
}

func (s *ExecutorTest) TestMalformedOutput() {
	outcome := s.execute("not json")
	assert.False(s.T(), outcome.Success)
	assert.Equal(s.T(), protocol.OutcomeExecution, outcome.Kind)
	assert.Contains(s.T(), outcome.Error, "malformed results")
}

func (s *ExecutorTest) TestEngineFailure() {
	s.config.EngineCmd = []string{"false"}

	outcome := s.execute("payload")
	assert.False(s.T(), outcome.Success)
	assert.Equal(s.T(), protocol.OutcomeExecution, outcome.Kind)
}

func (s *ExecutorTest) TestEngineTimeout() {
	s.config.EngineCmd = []string{"sleep", "10"}
	s.config.EngineTimeout = 50 * time.Millisecond

	start := time.Now()
	outcome := s.execute("payload")
	assert.False(s.T(), outcome.Success)
	assert.Less(s.T(), time.Since(start), 5*time.Second)
}
