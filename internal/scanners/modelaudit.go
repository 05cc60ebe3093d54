package scanners

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/modelguard/modelguard/internal/executor"
	"github.com/modelguard/modelguard/internal/validate"
	"github.com/modelguard/modelguard/pkg/types"
)

// ModelAuditScannerName tags findings from the model-artifact auditor.
const ModelAuditScannerName = "modelaudit"

// reportFileName is the fallback report the tool may write alongside stdout.
const reportFileName = "report.json"

// permissionPatterns mark stderr output caused by an unwritable cache/home
// rather than by the artifact itself.
var permissionPatterns = []string{
	"permission denied",
	"read-only file system",
	"operation not permitted",
}

// ModelAuditScanner invokes the external model auditing tool as an isolated
// child process per scan. The tool may itself fetch allowlisted remote
// artifacts and cache them, so the child's home, cache, and tmp directories
// are pointed at the provisioned writable directory; on a host whose
// filesystem is read-only elsewhere, skipping that step surfaces as
// spurious failures that would otherwise masquerade as clean scans.
type ModelAuditScanner struct {
	logger          types.Logger
	commandExecutor types.CommandExecutor
	binary          string
	minVersion      string
}

// NewModelAuditScanner creates a ModelAuditScanner.
func NewModelAuditScanner(logger types.Logger, commandExecutor types.CommandExecutor, binary, minVersion string) (*ModelAuditScanner, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if commandExecutor == nil {
		return nil, fmt.Errorf("commandExecutor cannot be nil")
	}
	if binary == "" {
		return nil, fmt.Errorf("binary cannot be empty")
	}
	return &ModelAuditScanner{
		logger:          logger,
		commandExecutor: commandExecutor,
		binary:          binary,
		minVersion:      minVersion,
	}, nil
}

// Name returns the scanner's identifier.
func (s *ModelAuditScanner) Name() string { return ModelAuditScannerName }

// Scan audits the validated targets. Exit code 0 means no issues, exit code
// 1 means issues were found (normal, not an error); anything else is an
// ExecutionError with the report still returned when one was produced.
func (s *ModelAuditScanner) Scan(ctx context.Context, targets []validate.SafeTarget, opts Options) (*Report, error) {
	if err := s.checkVersion(ctx); err != nil {
		return nil, &ExecutionError{Scanner: s.Name(), Kind: FaultInternal, Err: err}
	}

	report, err := s.runOnce(ctx, targets, opts)

	// A filesystem-permission fault is environment misconfiguration, not an
	// artifact failure; re-provision the writable directories and retry once.
	var execErr *ExecutionError
	if errors.As(err, &execErr) && execErr.Kind == FaultFilesystemPermission {
		s.logger.Warn("model audit hit a filesystem-permission fault, retrying once",
			zap.String("writable_dir", opts.WritableDir))
		report, err = s.runOnce(ctx, targets, opts)
	}
	return report, err
}

func (s *ModelAuditScanner) runOnce(ctx context.Context, targets []validate.SafeTarget, opts Options) (*Report, error) {
	env, workDir, err := s.provisionEnv(opts)
	if err != nil {
		return nil, &ExecutionError{Scanner: s.Name(), Kind: FaultFilesystemPermission, Err: err}
	}

	args := []string{"scan", "--format", "json"}
	if opts.Strict {
		args = append(args, "--strict")
	}
	if opts.GenerateManifest {
		args = append(args, "--list-components")
	}
	for _, target := range targets {
		args = append(args, target.Resolved)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout, stderr, runErr := s.commandExecutor.ExecuteCommand(runCtx, s.binary, args, env, workDir)

	// The structured report is captured from stdout because file-based
	// capture is less reliable across process and sandbox boundaries; the
	// report file is only a fallback when the stream is empty.
	payload := []byte(stdout)
	if len(strings.TrimSpace(stdout)) == 0 {
		if fileData, readErr := os.ReadFile(filepath.Join(workDir, reportFileName)); readErr == nil {
			payload = fileData
		}
	}
	report := &Report{Scanner: s.Name(), Payload: payload, ExitCode: executor.ExitCode(runErr)}

	if runErr == nil {
		return report, nil
	}
	if errors.Is(runErr, context.DeadlineExceeded) {
		return report, &ExecutionError{Scanner: s.Name(), Kind: FaultTimeout, Stderr: stderr, Err: runErr}
	}
	if isPermissionFault(stderr) {
		return report, &ExecutionError{Scanner: s.Name(), Kind: FaultFilesystemPermission, Stderr: stderr, Err: runErr}
	}
	if report.ExitCode == 1 {
		// Issues found: the normal outcome for a dirty artifact.
		return report, nil
	}
	return report, &ExecutionError{Scanner: s.Name(), Kind: FaultNonZeroExit, Stderr: stderr, Err: runErr}
}

// provisionEnv creates the child's home, cache, and tmp directories under
// the provisioned writable directory and returns the environment and
// working directory for the invocation.
func (s *ModelAuditScanner) provisionEnv(opts Options) ([]string, string, error) {
	writable := opts.WritableDir
	if writable == "" {
		writable = os.TempDir()
	}

	homeDir := filepath.Join(writable, "home")
	cacheDir := filepath.Join(writable, "cache")
	tmpDir := filepath.Join(writable, "tmp")
	for _, dir := range []string{homeDir, cacheDir, tmpDir} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, "", fmt.Errorf("failed to provision writable dir %s: %w", dir, err)
		}
	}

	env := append(os.Environ(),
		"HOME="+homeDir,
		"XDG_CACHE_HOME="+cacheDir,
		"TMPDIR="+tmpDir,
	)
	return env, writable, nil
}

func (s *ModelAuditScanner) checkVersion(ctx context.Context) error {
	if s.minVersion == "" {
		return nil
	}
	stdout, stderr, err := s.commandExecutor.ExecuteCommand(ctx, s.binary, []string{"--version"}, os.Environ(), "")
	if err != nil {
		return fmt.Errorf("failed to query tool version: %w", err)
	}
	return CheckToolVersion(stdout+stderr, s.minVersion)
}

func isPermissionFault(stderr string) bool {
	lowered := strings.ToLower(stderr)
	for _, pattern := range permissionPatterns {
		if strings.Contains(lowered, pattern) {
			return true
		}
	}
	return false
}
