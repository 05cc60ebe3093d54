package scanners

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/modelguard/modelguard/pkg/types"
)

// TestRulesScannerFlagRule tests a truthy flag match in YAML.
func TestRulesScannerFlagRule(t *testing.T) {
	targets := writeBundle(t, map[string]string{
		"agent.yaml": "name: helper\nauto_approve: true\n",
	})
	s, err := NewRulesScanner(types.NewMockLogger(), nil)
	require.NoError(t, err)

	report, err := s.Scan(context.Background(), targets, Options{})
	require.NoError(t, err)

	issues := decodeIssues(t, report)
	require.Len(t, issues, 1)
	require.Equal(t, "high", issues[0].Severity)
	require.Equal(t, "agent.yaml:2", issues[0].Location)
	require.Equal(t, "auto-approve-enabled", issues[0].Evidence["rule_id"])
}

// TestRulesScannerFlagRuleJSON tests the same flag in JSON syntax.
func TestRulesScannerFlagRuleJSON(t *testing.T) {
	targets := writeBundle(t, map[string]string{
		"agent.json": "{\n  \"trust_remote_code\": true\n}\n",
	})
	s, err := NewRulesScanner(types.NewMockLogger(), nil)
	require.NoError(t, err)

	report, err := s.Scan(context.Background(), targets, Options{})
	require.NoError(t, err)

	issues := decodeIssues(t, report)
	require.Len(t, issues, 1)
	require.Equal(t, "critical", issues[0].Severity)
	require.Equal(t, "trust-remote-code", issues[0].Evidence["rule_id"])
}

// TestRulesScannerFalseFlagIgnored tests that a disabled flag is clean.
func TestRulesScannerFalseFlagIgnored(t *testing.T) {
	targets := writeBundle(t, map[string]string{
		"agent.yaml": "auto_approve: false\ndebug: off\n",
	})
	s, err := NewRulesScanner(types.NewMockLogger(), nil)
	require.NoError(t, err)

	report, err := s.Scan(context.Background(), targets, Options{})
	require.NoError(t, err)
	require.Empty(t, decodeIssues(t, report))
}

// TestRulesScannerFileGlob tests that glob-scoped rules skip other files.
func TestRulesScannerFileGlob(t *testing.T) {
	targets := writeBundle(t, map[string]string{
		"notes.conf": "privileged: true\n",
	})
	s, err := NewRulesScanner(types.NewMockLogger(), nil)
	require.NoError(t, err)

	report, err := s.Scan(context.Background(), targets, Options{})
	require.NoError(t, err)
	// privileged-container is scoped to *.y*ml and must not fire here.
	for _, issue := range decodeIssues(t, report) {
		require.NotEqual(t, "privileged-container", issue.Evidence["rule_id"])
	}
}

// TestRulesScannerIgnoresNonConfigFiles tests the extension filter.
func TestRulesScannerIgnoresNonConfigFiles(t *testing.T) {
	targets := writeBundle(t, map[string]string{
		"train.py": "auto_approve = True\n",
	})
	s, err := NewRulesScanner(types.NewMockLogger(), nil)
	require.NoError(t, err)

	report, err := s.Scan(context.Background(), targets, Options{})
	require.NoError(t, err)
	require.Empty(t, decodeIssues(t, report))
}

// TestLoadStaticRules tests operator-supplied rule files.
func TestLoadStaticRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rules:
  - id: no-wildcard-host
    title: Wildcard host binding
    description: The service binds every interface
    severity: medium
    category: configuration
    contains: "0.0.0.0"
`), 0o600))

	rules, err := LoadStaticRules(path)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	require.Equal(t, "no-wildcard-host", rules[0].ID)

	targets := writeBundle(t, map[string]string{
		"server.yaml": "listen: 0.0.0.0:8080\n",
	})
	s, err := NewRulesScanner(types.NewMockLogger(), rules)
	require.NoError(t, err)
	report, err := s.Scan(context.Background(), targets, Options{})
	require.NoError(t, err)
	require.Len(t, decodeIssues(t, report), 1)
}

// TestLoadStaticRulesRejectsConditionless tests rule file validation.
func TestLoadStaticRulesRejectsConditionless(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - id: empty-rule\n    title: nothing\n"), 0o600))

	_, err := LoadStaticRules(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no condition")
}
