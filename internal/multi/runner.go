package multi

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
)

// Exit codes of a diagnostic command.
const (
	CodeSucceeded = 0
	CodeFailed    = 1
	CodeErrored   = 2
)

// Result is the outcome of one external command against one host.
type Result struct {
	Host   string
	Code   int
	Stdout string
	Stderr string
}

// Runner runs external processes. Run waits for the process, Start
// detaches from it.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) Result
	Start(name string, args ...string) error
}

// ExecRunner runs processes with os/exec.
type ExecRunner struct{}

// Run implements Runner. A process that cannot be started is reported
// with CodeErrored and the start error on Stderr.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) Result {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.Code = exitErr.ExitCode()
	default:
		res.Code = CodeErrored
		res.Stderr = err.Error()
	}
	return res
}

// Start implements Runner.
func (ExecRunner) Start(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	// Reap in the background; daemons fork and the parent exits at once.
	go func() { _ = cmd.Wait() }()
	return nil
}
