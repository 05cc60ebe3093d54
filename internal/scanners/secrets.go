package scanners

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/modelguard/modelguard/internal/validate"
	"github.com/modelguard/modelguard/pkg/types"
)

// SecretsScannerName tags findings from the secret-detection sub-scanner.
const SecretsScannerName = "secrets"

// SecretPattern is one compiled detection rule.
type SecretPattern struct {
	ID          string
	Name        string
	Pattern     *regexp.Regexp
	Description string
	Severity    string
	Remediation string
}

// DefaultSecretPatterns returns the built-in secret detection patterns.
func DefaultSecretPatterns() []SecretPattern {
	return []SecretPattern{
		{
			ID:          "aws-access-key-id",
			Name:        "AWS Access Key ID",
			Pattern:     regexp.MustCompile(`\b(A3T[A-Z0-9]|AKIA|AGPA|AIDA|AROA|AIPA|ANPA|ANVA|ASIA)[A-Z0-9]{16}\b`),
			Description: "AWS Access Key ID used for programmatic access to AWS services",
			Severity:    "critical",
			Remediation: "Rotate the key and move it to a secret manager",
		},
		{
			ID:          "aws-secret-access-key",
			Name:        "AWS Secret Access Key",
			Pattern:     regexp.MustCompile(`(?i)aws[_\-\.]?secret[_\-\.]?access[_\-\.]?key[\s]*[=:]["']?\s*([A-Za-z0-9/+=]{40})`),
			Description: "AWS Secret Access Key provides full access to AWS resources",
			Severity:    "critical",
			Remediation: "Rotate the key and move it to a secret manager",
		},
		{
			ID:          "github-token",
			Name:        "GitHub Token",
			Pattern:     regexp.MustCompile(`\b(ghp|gho|ghu|ghs|ghr)_[A-Za-z0-9]{36,}\b`),
			Description: "GitHub personal access token or OAuth token",
			Severity:    "critical",
			Remediation: "Revoke the token and issue a scoped replacement",
		},
		{
			ID:          "gitlab-token",
			Name:        "GitLab Token",
			Pattern:     regexp.MustCompile(`\bglpat-[A-Za-z0-9\-]{20,}\b`),
			Description: "GitLab personal access token",
			Severity:    "critical",
			Remediation: "Revoke the token and issue a scoped replacement",
		},
		{
			ID:          "slack-token",
			Name:        "Slack Token",
			Pattern:     regexp.MustCompile(`\bxox[baprs]-[0-9]{10,13}-[0-9]{10,13}[a-zA-Z0-9-]*\b`),
			Description: "Slack API token for bot or user access",
			Severity:    "high",
			Remediation: "Revoke the token in the Slack admin console",
		},
		{
			ID:          "huggingface-token",
			Name:        "Hugging Face Token",
			Pattern:     regexp.MustCompile(`\bhf_[A-Za-z0-9]{30,}\b`),
			Description: "Hugging Face Hub access token",
			Severity:    "critical",
			Remediation: "Revoke the token on the hub and re-issue a read-only one",
		},
		{
			ID:          "openai-api-key",
			Name:        "OpenAI API Key",
			Pattern:     regexp.MustCompile(`\bsk-(proj-)?[A-Za-z0-9_-]{32,}\b`),
			Description: "OpenAI API key",
			Severity:    "critical",
			Remediation: "Rotate the key and move it to a secret manager",
		},
		{
			ID:          "anthropic-api-key",
			Name:        "Anthropic API Key",
			Pattern:     regexp.MustCompile(`\bsk-ant-[A-Za-z0-9_-]{32,}\b`),
			Description: "Anthropic API key",
			Severity:    "critical",
			Remediation: "Rotate the key and move it to a secret manager",
		},
		{
			ID:          "google-api-key",
			Name:        "Google API Key",
			Pattern:     regexp.MustCompile(`\bAIza[A-Za-z0-9_-]{35}\b`),
			Description: "Google Cloud API key",
			Severity:    "high",
			Remediation: "Restrict or rotate the key in the Cloud console",
		},
		{
			ID:          "private-key",
			Name:        "Private Key",
			Pattern:     regexp.MustCompile(`-----BEGIN\s+(RSA|DSA|EC|OPENSSH|PGP)\s+PRIVATE\s+KEY-----`),
			Description: "Private cryptographic key material",
			Severity:    "critical",
			Remediation: "Remove the key from the bundle and rotate it",
		},
		{
			ID:          "jwt-token",
			Name:        "JSON Web Token",
			Pattern:     regexp.MustCompile(`\beyJ[A-Za-z0-9_-]*\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*\b`),
			Description: "JSON Web Token which may carry sensitive claims",
			Severity:    "medium",
			Remediation: "Remove the token and shorten its expiry on re-issue",
		},
		{
			ID:          "bearer-token",
			Name:        "Bearer Token",
			Pattern:     regexp.MustCompile(`(?i)authorization[\s]*[=:]["']?\s*bearer\s+[A-Za-z0-9_\-.]{16,}`),
			Description: "HTTP Bearer token in an authorization header",
			Severity:    "high",
			Remediation: "Remove the header value and inject it at deploy time",
		},
		{
			ID:          "database-url",
			Name:        "Database Connection URL",
			Pattern:     regexp.MustCompile(`(?i)(mysql|postgres|postgresql|mongodb|redis|amqp)://[^:\s]+:[^@\s]+@[^\s"']+`),
			Description: "Database connection URL with embedded credentials",
			Severity:    "critical",
			Remediation: "Use a credential-less DSN and supply credentials via environment",
		},
		{
			ID:          "generic-api-key",
			Name:        "Generic API Key",
			Pattern:     regexp.MustCompile(`(?i)(api[_\-\.]?key|apikey|api[_\-\.]?secret)[\s]*[=:]["']?\s*([A-Za-z0-9_\-]{20,})`),
			Description: "Generic API key assignment",
			Severity:    "medium",
			Remediation: "Move the value to a secret manager",
		},
	}
}

// SecretsScanner detects credential material left inside configuration
// bundles. It runs in-process over the validated bundle location.
type SecretsScanner struct {
	logger   types.Logger
	patterns []SecretPattern
}

// NewSecretsScanner creates a SecretsScanner with the default patterns.
func NewSecretsScanner(logger types.Logger) (*SecretsScanner, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	return &SecretsScanner{logger: logger, patterns: DefaultSecretPatterns()}, nil
}

// Name returns the scanner's identifier.
func (s *SecretsScanner) Name() string { return SecretsScannerName }

// Scan walks the bundle and matches every line against the pattern table.
// Matched values are masked before they are written into evidence so the
// report never re-leaks the secret it found.
func (s *SecretsScanner) Scan(ctx context.Context, targets []validate.SafeTarget, _ Options) (*Report, error) {
	var issues []nativeIssue
	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			return nil, &ExecutionError{Scanner: s.Name(), Kind: FaultTimeout, Err: err}
		}
		err := walkBundleFiles(target.Resolved, func(path, relPath string) error {
			content, readErr := os.ReadFile(path)
			if readErr != nil {
				s.logger.Warn("skipping unreadable bundle file",
					zap.String("path", relPath), zap.Error(readErr))
				return nil
			}
			if !isTextContent(content) || isBinaryExt(path) {
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

func (s *SecretsScanner) scanContent(relPath string, content []byte) []nativeIssue {
	var issues []nativeIssue
	lineScanner := bufio.NewScanner(bytes.NewReader(content))
	lineScanner.Buffer(make([]byte, 0, 64*1024), maxScanFileSize)
	lineNum := 0
	for lineScanner.Scan() {
		lineNum++
		line := lineScanner.Text()
		for _, pattern := range s.patterns {
			loc := pattern.Pattern.FindStringIndex(line)
			if loc == nil {
				continue
			}
			issues = append(issues, nativeIssue{
				Severity:    pattern.Severity,
				Title:       pattern.Name,
				Message:     pattern.Description,
				Category:    "secret",
				Location:    fmt.Sprintf("%s:%d", relPath, lineNum),
				Remediation: pattern.Remediation,
				Evidence: map[string]interface{}{
					"rule_id": pattern.ID,
					"match":   maskSecret(line[loc[0]:loc[1]]),
				},
			})
		}
	}
	return issues
}

// maskSecret keeps at most the first and last four characters of a match.
func maskSecret(match string) string {
	if len(match) <= 8 {
		return strings.Repeat("*", len(match))
	}
	return match[:4] + strings.Repeat("*", len(match)-8) + match[len(match)-4:]
}

var binaryExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".ico": true,
	".pdf": true, ".zip": true, ".tar": true, ".gz": true, ".zst": true,
	".exe": true, ".dll": true, ".so": true, ".dylib": true,
	".pyc": true, ".class": true, ".o": true,
	".bin": true, ".safetensors": true, ".onnx": true, ".pt": true, ".pth": true,
}

func isBinaryExt(path string) bool {
	return binaryExts[strings.ToLower(filepath.Ext(path))]
}
