// Package remote is the single side-effecting boundary to the host
// fleet. Every container, file and proxy-reload operation is issued as
// a shell command through an Executor.
package remote

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Result holds the output of one remote command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Executor runs a shell command on a target host with a bounded timeout.
type Executor interface {
	Run(ctx context.Context, command string, timeout time.Duration) (Result, error)
}

// CommandError wraps a non-zero exit with its captured output.
type CommandError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = "no output"
	}
	return fmt.Sprintf("remote command exited %d: %s", e.ExitCode, msg)
}

// RunChecked executes a command and converts a non-zero exit into an error.
func RunChecked(ctx context.Context, exec Executor, command string, timeout time.Duration) (Result, error) {
	res, err := exec.Run(ctx, command, timeout)
	if err != nil {
		return res, err
	}
	if res.ExitCode != 0 {
		return res, &CommandError{Command: command, ExitCode: res.ExitCode, Stderr: res.Stderr}
	}
	return res, nil
}

// Quote wraps a value in single quotes for safe shell interpolation.
func Quote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}
