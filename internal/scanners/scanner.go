// Package scanners wraps the external and in-process security scanners
// behind a uniform invocation contract. Adding a scanner means adding an
// implementation of Scanner, not branching on type tags elsewhere.
package scanners

import (
	"context"
	"fmt"
	"time"

	"github.com/modelguard/modelguard/internal/validate"
)

// FaultKind classifies adapter execution faults.
type FaultKind string

const (
	// FaultTimeout means the child process was killed at the deadline.
	FaultTimeout FaultKind = "timeout"
	// FaultNonZeroExit means the tool exited with an unexpected code.
	FaultNonZeroExit FaultKind = "non-zero-exit"
	// FaultFilesystemPermission means the tool could not write its cache or
	// working directories. This is environment misconfiguration, not an
	// artifact-driven failure, and is retried once.
	FaultFilesystemPermission FaultKind = "filesystem-permission"
	// FaultParse means the report payload was unreadable.
	FaultParse FaultKind = "parse"
	// FaultInternal covers everything else.
	FaultInternal FaultKind = "internal"
)

// ExecutionError is a per-adapter fault. It is recorded on the scan as an
// annotation and never aborts sibling scanners.
type ExecutionError struct {
	Scanner string
	Kind    FaultKind
	Stderr  string
	Err     error
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Scanner, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Scanner, e.Kind)
}

// Unwrap returns the underlying cause.
func (e *ExecutionError) Unwrap() error { return e.Err }

// Annotation renders the fault as scan metadata.
func (e *ExecutionError) Annotation() string {
	return fmt.Sprintf("%s:%s", e.Scanner, e.Kind)
}

// Options configure one adapter invocation.
type Options struct {
	// GenerateManifest asks the adapter to include component records the
	// manifest emitter can consume.
	GenerateManifest bool
	// Strict makes the external tool treat unknown formats as findings.
	Strict bool
	// Timeout bounds the invocation; the child process is killed after it.
	Timeout time.Duration
	// WritableDir is a provisioned writable directory for the child
	// process's home, cache, and scratch space.
	WritableDir string
}

// Report is the raw output of one adapter invocation. It is ephemeral:
// consumed by the normalizer within the orchestration run and discarded.
type Report struct {
	// Scanner is the adapter or sub-scanner that produced the report.
	Scanner string
	// Payload is the native report document, typically JSON.
	Payload []byte
	// ExitCode is the tool's exit status; in-process scanners report 0 or 1.
	ExitCode int
}

// Scanner is the capability interface implemented once per scanner family.
type Scanner interface {
	// Name returns the scanner's identifier as recorded on findings.
	Name() string
	// Scan runs the scanner against validated targets. Both a partial
	// report and an error may be returned: a tool can emit findings and
	// still fail.
	Scan(ctx context.Context, targets []validate.SafeTarget, opts Options) (*Report, error)
}
