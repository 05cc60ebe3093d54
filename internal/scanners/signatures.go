package scanners

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/modelguard/modelguard/internal/validate"
	"github.com/modelguard/modelguard/pkg/types"
)

// SignaturesScannerName tags findings from the signature-matching sub-scanner.
const SignaturesScannerName = "signatures"

// Signature is one compiled content signature.
type Signature struct {
	ID          string
	Title       string
	Pattern     *regexp.Regexp
	Description string
	Severity    string
	Remediation string
}

// DefaultSignatures returns the built-in signature table. The signatures
// target executable content smuggled into configuration bundles: shell
// download-and-run chains, dynamic code evaluation, and host tampering.
func DefaultSignatures() []Signature {
	return []Signature{
		{
			ID:          "curl-pipe-shell",
			Title:       "Download piped to shell",
			Pattern:     regexp.MustCompile(`(?i)\b(curl|wget)\b[^|;&]*\|\s*(sudo\s+)?(ba|z|da)?sh\b`),
			Description: "Remote content is downloaded and executed in one step",
			Severity:    "critical",
			Remediation: "Vendor the script and execute a reviewed, pinned copy",
		},
		{
			ID:          "python-eval-exec",
			Title:       "Dynamic code evaluation",
			Pattern:     regexp.MustCompile(`\b(eval|exec)\s*\(`),
			Description: "Code is built and evaluated at runtime",
			Severity:    "high",
			Remediation: "Replace dynamic evaluation with explicit dispatch",
		},
		{
			ID:          "os-system-call",
			Title:       "Shell command from code",
			Pattern:     regexp.MustCompile(`\b(os\.system|subprocess\.(call|run|Popen)|child_process)\b`),
			Description: "The bundle shells out to arbitrary host commands",
			Severity:    "high",
			Remediation: "Restrict the invoked binary and argument set",
		},
		{
			ID:          "pickle-load",
			Title:       "Unsafe deserialization",
			Pattern:     regexp.MustCompile(`\b(pickle|cPickle)\.(load|loads)\b|\btorch\.load\b`),
			Description: "Deserializing untrusted data can execute embedded code",
			Severity:    "critical",
			Remediation: "Use a safetensors or JSON representation instead",
		},
		{
			ID:          "reverse-shell",
			Title:       "Reverse shell construct",
			Pattern:     regexp.MustCompile(`(?i)/dev/tcp/|\bnc\s+(-[a-z]+\s+)*\d{1,3}(\.\d{1,3}){3}\s+\d+`),
			Description: "A network connection is wired to an interactive shell",
			Severity:    "critical",
			Remediation: "Remove the construct; this is rarely legitimate",
		},
		{
			ID:          "base64-decode-exec",
			Title:       "Decoded payload execution",
			Pattern:     regexp.MustCompile(`(?i)base64\s+(-d|--decode)[^|;&]*\|\s*(ba|z|da)?sh\b`),
			Description: "An encoded payload is decoded and executed",
			Severity:    "critical",
			Remediation: "Remove the obfuscated payload",
		},
		{
			ID:          "rm-rf-root",
			Title:       "Destructive filesystem command",
			Pattern:     regexp.MustCompile(`\brm\s+(-[a-zA-Z]*[rf][a-zA-Z]*\s+)+(/|\$HOME|~)(\s|$|")`),
			Description: "A recursive delete targets the filesystem root or home",
			Severity:    "high",
			Remediation: "Scope the delete to the bundle's own working directory",
		},
		{
			ID:          "chmod-world-writable",
			Title:       "World-writable permission change",
			Pattern:     regexp.MustCompile(`\bchmod\s+(-[a-zA-Z]+\s+)*[0-7]?77[0-7]?\b`),
			Description: "Files are made writable by every user on the host",
			Severity:    "medium",
			Remediation: "Grant the narrowest permission set that works",
		},
	}
}

// SignaturesScanner matches bundle file contents against a compiled
// signature table, line by line.
type SignaturesScanner struct {
	logger     types.Logger
	signatures []Signature
}

// NewSignaturesScanner creates a SignaturesScanner. A nil signature slice
// selects the built-in table.
func NewSignaturesScanner(logger types.Logger, signatures []Signature) (*SignaturesScanner, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if signatures == nil {
		signatures = DefaultSignatures()
	}
	return &SignaturesScanner{logger: logger, signatures: signatures}, nil
}

// Name returns the scanner's identifier.
func (s *SignaturesScanner) Name() string { return SignaturesScannerName }

// Scan matches every text file in the bundle against the signature table.
func (s *SignaturesScanner) Scan(ctx context.Context, targets []validate.SafeTarget, _ Options) (*Report, error) {
	var issues []nativeIssue
	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			return nil, &ExecutionError{Scanner: s.Name(), Kind: FaultTimeout, Err: err}
		}
		err := walkBundleFiles(target.Resolved, func(path, relPath string) error {
			if isBinaryExt(path) {
				return nil
			}
			content, readErr := os.ReadFile(path)
			if readErr != nil || !isTextContent(content) {
				return nil
			}
			issues = append(issues, s.scanContent(relPath, content)...)
			return nil
		})
		if err != nil {
			return nil, &ExecutionError{Scanner: s.Name(), Kind: FaultInternal, Err: err}
		}
	}
	return issuesReport(s.Name(), issues)
}

func (s *SignaturesScanner) scanContent(relPath string, content []byte) []nativeIssue {
	var issues []nativeIssue
	lineScanner := bufio.NewScanner(bytes.NewReader(content))
	lineScanner.Buffer(make([]byte, 0, 64*1024), maxScanFileSize)
	lineNum := 0
	for lineScanner.Scan() {
		lineNum++
		line := lineScanner.Text()
		for _, sig := range s.signatures {
			match := sig.Pattern.FindString(line)
			if match == "" {
				continue
			}
			issues = append(issues, nativeIssue{
				Severity:    sig.Severity,
				Title:       sig.Title,
				Message:     sig.Description,
				Category:    "signature",
				Location:    fmt.Sprintf("%s:%d", relPath, lineNum),
				Remediation: sig.Remediation,
				Evidence: map[string]interface{}{
					"signature_id": sig.ID,
					"match":        strings.TrimSpace(match),
				},
			})
		}
	}
	return issues
}
