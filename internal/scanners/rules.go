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

	"gopkg.in/yaml.v3"

	"github.com/modelguard/modelguard/internal/validate"
	"github.com/modelguard/modelguard/pkg/types"
)

// RulesScannerName tags findings from the static rule-matching sub-scanner.
const RulesScannerName = "rules"

// StaticRule declares one configuration check. Rules are data so operators
// can extend the built-in set from a YAML file without a rebuild.
type StaticRule struct {
	ID          string `yaml:"id"`
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Severity    string `yaml:"severity"`
	Category    string `yaml:"category"`
	Remediation string `yaml:"remediation"`

	// FileGlob restricts the rule to matching file names; empty means all.
	FileGlob string `yaml:"file_glob"`
	// Contains matches when the line contains this substring.
	Contains string `yaml:"contains"`
	// Flag matches a boolean key set truthy, e.g. `auto_approve: true`.
	Flag string `yaml:"flag"`
}

// ruleFile is the on-disk document shape for operator-supplied rules.
type ruleFile struct {
	Rules []StaticRule `yaml:"rules"`
}

// DefaultStaticRules returns the built-in configuration checks.
func DefaultStaticRules() []StaticRule {
	return []StaticRule{
		{
			ID:          "auto-approve-enabled",
			Title:       "Automatic approval enabled",
			Description: "Tool invocations are auto-approved without operator review",
			Severity:    "high",
			Category:    "configuration",
			Remediation: "Disable auto-approval or restrict it to a reviewed allowlist",
			Flag:        "auto_approve",
		},
		{
			ID:          "allow-all-tools",
			Title:       "All tools allowed",
			Description: "The bundle grants blanket access to every available tool",
			Severity:    "high",
			Category:    "configuration",
			Remediation: "Enumerate the tools the workload actually needs",
			Flag:        "allow_all_tools",
		},
		{
			ID:          "tls-verification-disabled",
			Title:       "TLS verification disabled",
			Description: "Certificate verification is turned off for outbound requests",
			Severity:    "high",
			Category:    "configuration",
			Remediation: "Re-enable verification and pin a CA bundle if needed",
			Flag:        "insecure_skip_verify",
		},
		{
			ID:          "trust-remote-code",
			Title:       "Remote code trusted",
			Description: "Model loading is configured to execute repository-supplied code",
			Severity:    "critical",
			Category:    "configuration",
			Remediation: "Set trust_remote_code to false and vendor the loader code",
			Flag:        "trust_remote_code",
		},
		{
			ID:          "privileged-container",
			Title:       "Privileged container",
			Description: "A container in the bundle runs with full host privileges",
			Severity:    "critical",
			Category:    "configuration",
			Remediation: "Drop privileged mode and grant only the capabilities required",
			FileGlob:    "*.y*ml",
			Flag:        "privileged",
		},
		{
			ID:          "plaintext-registry",
			Title:       "Plaintext registry endpoint",
			Description: "An artifact registry is referenced over unencrypted HTTP",
			Severity:    "medium",
			Category:    "configuration",
			Remediation: "Switch the registry endpoint to HTTPS",
			Contains:    "http://registry",
		},
		{
			ID:          "debug-mode-enabled",
			Title:       "Debug mode enabled",
			Description: "Debug mode widens logging and may expose internal state",
			Severity:    "low",
			Category:    "configuration",
			Remediation: "Disable debug mode outside development environments",
			Flag:        "debug",
		},
	}
}

// LoadStaticRules reads operator-supplied rules from a YAML file.
func LoadStaticRules(path string) ([]StaticRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule file %s: %w", path, err)
	}
	var doc ruleFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse rule file %s: %w", path, err)
	}
	for i, rule := range doc.Rules {
		if rule.ID == "" {
			return nil, fmt.Errorf("rule %d in %s has no id", i, path)
		}
		if rule.Contains == "" && rule.Flag == "" {
			return nil, fmt.Errorf("rule %q in %s has no condition", rule.ID, path)
		}
	}
	return doc.Rules, nil
}

// configExts are the bundle file types the rule scanner inspects.
var configExts = map[string]bool{
	".json": true, ".yaml": true, ".yml": true, ".toml": true,
	".ini": true, ".env": true, ".conf": true, ".cfg": true,
}

// compiledRule pairs a rule with its precompiled flag matcher.
type compiledRule struct {
	StaticRule
	flagRe *regexp.Regexp
}

// RulesScanner applies declarative configuration checks to bundle files.
type RulesScanner struct {
	logger types.Logger
	rules  []compiledRule
}

// NewRulesScanner creates a RulesScanner. A nil rule slice selects the
// built-in set.
func NewRulesScanner(logger types.Logger, rules []StaticRule) (*RulesScanner, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if rules == nil {
		rules = DefaultStaticRules()
	}
	compiled := make([]compiledRule, 0, len(rules))
	for _, rule := range rules {
		c := compiledRule{StaticRule: rule}
		if rule.Flag != "" {
			// Matches `name: true`, `name = 1`, `"name": "yes"` and the
			// JSON equivalents, case-insensitively.
			c.flagRe = regexp.MustCompile(`(?i)"?` + regexp.QuoteMeta(rule.Flag) + `"?\s*[:=]\s*"?(true|1|yes|on)"?`)
		}
		compiled = append(compiled, c)
	}
	return &RulesScanner{logger: logger, rules: compiled}, nil
}

// Name returns the scanner's identifier.
func (s *RulesScanner) Name() string { return RulesScannerName }

// Scan matches every configuration file in the bundle against the rule set.
func (s *RulesScanner) Scan(ctx context.Context, targets []validate.SafeTarget, _ Options) (*Report, error) {
	var issues []nativeIssue
	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			return nil, &ExecutionError{Scanner: s.Name(), Kind: FaultTimeout, Err: err}
		}
		err := walkBundleFiles(target.Resolved, func(path, relPath string) error {
			if !configExts[strings.ToLower(filepath.Ext(path))] && filepath.Base(path) != ".env" {
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

func (s *RulesScanner) scanContent(relPath string, content []byte) []nativeIssue {
	var issues []nativeIssue
	lineScanner := bufio.NewScanner(bytes.NewReader(content))
	lineScanner.Buffer(make([]byte, 0, 64*1024), maxScanFileSize)
	lineNum := 0
	for lineScanner.Scan() {
		lineNum++
		line := lineScanner.Text()
		for _, rule := range s.rules {
			if !rule.appliesTo(relPath) || !rule.matchesLine(line) {
				continue
			}
			issues = append(issues, nativeIssue{
				Severity:    rule.Severity,
				Title:       rule.Title,
				Message:     rule.Description,
				Category:    rule.Category,
				Location:    fmt.Sprintf("%s:%d", relPath, lineNum),
				Remediation: rule.Remediation,
				Evidence: map[string]interface{}{
					"rule_id": rule.ID,
					"line":    strings.TrimSpace(line),
				},
			})
		}
	}
	return issues
}

func (r compiledRule) appliesTo(relPath string) bool {
	if r.FileGlob == "" {
		return true
	}
	ok, err := filepath.Match(r.FileGlob, filepath.Base(relPath))
	return err == nil && ok
}

func (r compiledRule) matchesLine(line string) bool {
	if r.Contains != "" {
		return strings.Contains(line, r.Contains)
	}
	if r.flagRe != nil {
		return r.flagRe.MatchString(line)
	}
	return false
}
