package types

import "context"

// CommandExecutor runs external scanner processes.
//
// The context bounds the lifetime of the child process: when the context is
// done the process is killed. Dir is the working directory for the child
// process; an empty Dir runs the command in the caller's working directory.
type CommandExecutor interface {
	// ExecuteCommand executes a command with the given name, arguments,
	// environment variables, and working directory. It returns the standard
	// output, standard error, and any error that occurred during execution.
	ExecuteCommand(ctx context.Context, name string, args []string, env []string, dir string) (stdout string, stderr string, err error)
}
