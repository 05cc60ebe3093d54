package scanners

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/modelguard/modelguard/internal/validate"
	"github.com/modelguard/modelguard/pkg/types"
)

// ToolProbeScannerName tags findings from the tool-definition sub-scanner.
const ToolProbeScannerName = "toolprobe"

// toolManifest is the document shape of a tool-definition file. Manifests
// in the wild either carry a top-level tools array or are a single tool.
type toolManifest struct {
	Tools []toolDefinition `json:"tools"`
}

type toolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Command     json.RawMessage `json:"command"`
	Permissions []string        `json:"permissions"`
}

// dangerousCommandPattern matches commands that hand the tool arbitrary
// execution on the host.
var dangerousCommandPattern = regexp.MustCompile(`(?i)\b(bash|sh|zsh|eval|curl|wget|nc|python\d?\s+-c|rm\s+-rf)\b|[;|&$` + "`" + `]`)

// injectionPhrases are description fragments that try to steer the model
// consuming the manifest rather than describe the tool.
var injectionPhrases = []string{
	"ignore previous instructions",
	"ignore all previous",
	"disregard the above",
	"do not tell the user",
	"without telling the user",
	"without asking",
	"hide this from",
	"you must always",
	"system prompt",
}

// broadPermissions grant far more than a single tool should hold.
var broadPermissions = map[string]bool{
	"*":          true,
	"all":        true,
	"admin":      true,
	"root":       true,
	"filesystem": true,
	"network":    true,
	"exec":       true,
}

// ToolProbeScanner statically probes tool-definition manifests inside a
// configuration bundle. It never executes anything: the checks are on the
// declared command, the declared permissions, and the natural-language
// description the manifest ships to its consumer.
type ToolProbeScanner struct {
	logger types.Logger
}

// NewToolProbeScanner creates a ToolProbeScanner.
func NewToolProbeScanner(logger types.Logger) (*ToolProbeScanner, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	return &ToolProbeScanner{logger: logger}, nil
}

// Name returns the scanner's identifier.
func (s *ToolProbeScanner) Name() string { return ToolProbeScannerName }

// Scan probes every JSON document in the bundle that looks like a tool
// manifest. Files that are not valid JSON or carry no tools are skipped,
// not errors: manifest discovery is best-effort.
func (s *ToolProbeScanner) Scan(ctx context.Context, targets []validate.SafeTarget, _ Options) (*Report, error) {
	var issues []nativeIssue
	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			return nil, &ExecutionError{Scanner: s.Name(), Kind: FaultTimeout, Err: err}
		}
		err := walkBundleFiles(target.Resolved, func(path, relPath string) error {
			if strings.ToLower(filepath.Ext(path)) != ".json" {
				return nil
			}
			content, readErr := os.ReadFile(path)
			if readErr != nil {
				return nil
			}
			tools, ok := parseToolManifest(content)
			if !ok {
				return nil
			}
			for _, tool := range tools {
				issues = append(issues, s.probeTool(relPath, tool)...)
			}
			return nil
		})
		if err != nil {
			return nil, &ExecutionError{Scanner: s.Name(), Kind: FaultInternal, Err: err}
		}
	}
	return issuesReport(s.Name(), issues)
}

// parseToolManifest accepts either a tools array document or a single
// tool object.
func parseToolManifest(content []byte) ([]toolDefinition, bool) {
	var manifest toolManifest
	if err := json.Unmarshal(content, &manifest); err == nil && len(manifest.Tools) > 0 {
		return manifest.Tools, true
	}
	var single toolDefinition
	if err := json.Unmarshal(content, &single); err == nil && single.Name != "" && single.Description != "" {
		return []toolDefinition{single}, true
	}
	return nil, false
}

func (s *ToolProbeScanner) probeTool(relPath string, tool toolDefinition) []nativeIssue {
	var issues []nativeIssue

	if cmd := commandString(tool.Command); cmd != "" && dangerousCommandPattern.MatchString(cmd) {
		issues = append(issues, nativeIssue{
			Severity:    "critical",
			Title:       "Dangerous tool command",
			Message:     fmt.Sprintf("tool %q declares a command with shell execution or download capability", tool.Name),
			Category:    "tool-definition",
			Location:    relPath,
			Remediation: "Pin the command to a single vetted binary with fixed arguments",
			Evidence: map[string]interface{}{
				"tool":    tool.Name,
				"command": cmd,
			},
		})
	}

	loweredDesc := strings.ToLower(tool.Description)
	for _, phrase := range injectionPhrases {
		if strings.Contains(loweredDesc, phrase) {
			issues = append(issues, nativeIssue{
				Severity:    "high",
				Title:       "Prompt injection in tool description",
				Message:     fmt.Sprintf("tool %q carries instructions aimed at its consumer rather than a description", tool.Name),
				Category:    "tool-definition",
				Location:    relPath,
				Remediation: "Rewrite the description to describe only what the tool does",
				Evidence: map[string]interface{}{
					"tool":   tool.Name,
					"phrase": phrase,
				},
			})
			break
		}
	}

	for _, perm := range tool.Permissions {
		normalized := strings.ToLower(strings.TrimSuffix(perm, ":*"))
		if broadPermissions[normalized] || strings.HasSuffix(perm, ":*") {
			issues = append(issues, nativeIssue{
				Severity:    "high",
				Title:       "Over-broad tool permission",
				Message:     fmt.Sprintf("tool %q requests the %q permission", tool.Name, perm),
				Category:    "tool-definition",
				Location:    relPath,
				Remediation: "Scope the permission to the specific resource the tool touches",
				Evidence: map[string]interface{}{
					"tool":       tool.Name,
					"permission": perm,
				},
			})
		}
	}
	return issues
}

// commandString flattens a command declared as either a string or an
// argv-style array.
func commandString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	var argv []string
	if err := json.Unmarshal(raw, &argv); err == nil {
		return strings.Join(argv, " ")
	}
	return string(raw)
}
