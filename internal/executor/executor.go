package executor

import (
	"bytes"
	"context"
	"errors"
	"os/exec"

	"github.com/modelguard/modelguard/pkg/types"
)

// RealCommandExecutor is a struct that implements the CommandExecutor interface.
type RealCommandExecutor struct{}

// ExecuteCommand executes a command and returns the stdout, stderr, and error.
// The child process is killed when the context is canceled or its deadline
// elapses; in that case err is the context error.
func (r *RealCommandExecutor) ExecuteCommand(ctx context.Context, name string, args []string,
	env []string, dir string) (stdout string, stderr string, err error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = env
	cmd.Dir = dir
	var outb, errb bytes.Buffer
	cmd.Stdout = &outb
	cmd.Stderr = &errb
	err = cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	}
	return outb.String(), errb.String(), err
}

// NewCommandExecutor creates a new instance of the RealCommandExecutor.
func NewCommandExecutor() types.CommandExecutor {
	return &RealCommandExecutor{}
}

// ExitCode extracts the process exit code from an ExecuteCommand error.
// It returns 0 for a nil error and -1 when the error does not carry an
// exit status (e.g. the binary was not found or the process was killed).
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
