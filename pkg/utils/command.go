package utils

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"syscall"

	"github.com/runbeam/relay/pkg/log"
)

type commandError struct {
	message string
	details string
}

func NewCmdError(message, details string) error {
	return &commandError{
		message: message,
		details: details,
	}
}

func (c *commandError) Details() string {
	return c.details
}

func (c *commandError) Error() string {
	return c.message
}

// Runs a command to completion and returns its stdout.
// The command is placed in its own process group so that the whole
// group can be killed when the context deadline expires.
// Stderr is captured and returned as error details on failure.
func RunOutput(ctx context.Context, cwd string, args ...string) ([]byte, error) {
	stdout := bytes.Buffer{}
	stderr := bytes.Buffer{}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = io.MultiWriter(log.NewLogWriter(log.DebugLevel), &stderr)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true, Pgid: 0}
	if cwd != "" {
		cmd.Dir = cwd
	}

	log.Debug("Running", strings.Join(cmd.Args, " "))

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			message := fmt.Sprintf("Command failed: %s (%v)", strings.Join(args, " "), err)
			return nil, NewCmdError(message, stderr.String())
		}
		return stdout.Bytes(), nil

	case <-ctx.Done():
		syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-done
		message := fmt.Sprintf("Command timed out: %s", strings.Join(args, " "))
		return nil, NewCmdError(message, stderr.String())
	}
}
