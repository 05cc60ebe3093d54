// Package normalize turns the heterogeneous native reports produced by
// scanner adapters into canonical findings.
package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/modelguard/modelguard/internal/data/model"
	"github.com/modelguard/modelguard/internal/scanners"
	"github.com/modelguard/modelguard/internal/severity"
)

// ErrParse marks a report whose document could not be decoded at all.
// The caller records it as a fault so an unreadable report is never
// mistaken for a clean scan.
var ErrParse = errors.New("failed to parse scanner report")

// issueListKeys are the document keys checked, in order, for the native
// issue list. Different tool families name the list differently.
var issueListKeys = []string{"issues", "findings", "results", "problems"}

// nativeIssue is the loosely-typed record shape shared by the supported
// tool families. Unknown fields are ignored; missing fields degrade to
// zero values rather than dropping the issue.
type nativeIssue struct {
	Severity    string          `json:"severity"`
	Level       string          `json:"level"` // some tools say level, not severity
	Message     string          `json:"message"`
	Description string          `json:"description"`
	Title       string          `json:"title"`
	RuleID      string          `json:"rule_id"`
	Category    string          `json:"category"`
	Type        string          `json:"type"`
	Location    json.RawMessage `json:"location"`
	File        string          `json:"file"`
	Remediation string          `json:"remediation"`
	Evidence    json.RawMessage `json:"evidence"`
	Details     json.RawMessage `json:"details"`
}

// Normalize parses one adapter report into canonical findings for the
// given scan. Malformed individual issues still yield best-effort
// findings; only a document that cannot be decoded at all is an error.
func Normalize(report *scanners.Report, scanID, tenantID string) ([]model.Finding, error) {
	if report == nil {
		return nil, fmt.Errorf("%w: no report", ErrParse)
	}

	rawIssues, err := extractIssueList(report.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w from %s: %v", ErrParse, report.Scanner, err)
	}

	now := time.Now().UTC()
	findings := make([]model.Finding, 0, len(rawIssues))
	for _, raw := range rawIssues {
		var issue nativeIssue
		// A malformed issue record still becomes a finding carrying the
		// raw document as evidence; an issue a tool reported is never
		// silently dropped.
		_ = json.Unmarshal(raw, &issue)
		findings = append(findings, toFinding(issue, raw, report.Scanner, scanID, tenantID, now))
	}
	return findings, nil
}

// extractIssueList locates the native issue array in the report document.
func extractIssueList(payload []byte) ([]json.RawMessage, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(payload, &doc); err != nil {
		// Some tools emit a bare array.
		var list []json.RawMessage
		if listErr := json.Unmarshal(payload, &list); listErr == nil {
			return list, nil
		}
		return nil, err
	}
	for _, key := range issueListKeys {
		raw, ok := doc[key]
		if !ok {
			continue
		}
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("key %q is not an issue list: %w", key, err)
		}
		return list, nil
	}
	// A document with none of the known keys is an empty report, not a
	// parse failure: clean runs from several tools omit the list entirely.
	return nil, nil
}

func toFinding(issue nativeIssue, raw json.RawMessage, scanner, scanID, tenantID string, now time.Time) model.Finding {
	severityToken := issue.Severity
	if severityToken == "" {
		severityToken = issue.Level
	}

	message := issue.Message
	if message == "" {
		message = issue.Description
	}
	if message == "" {
		message = string(raw)
	}

	category := issue.Category
	if category == "" {
		category = issue.Type
	}

	evidence := issue.Evidence
	if evidence == nil {
		evidence = issue.Details
	}
	if evidence == nil {
		evidence = raw
	}

	return model.Finding{
		ID:          uuid.NewString(),
		ScanID:      scanID,
		TenantID:    tenantID,
		Scanner:     scanner,
		Severity:    severity.FromNative(severityToken),
		Category:    category,
		Title:       issue.Title,
		Message:     message,
		Location:    locationString(issue),
		Remediation: issue.Remediation,
		Evidence:    string(evidence),
		CreatedAt:   now,
	}
}

// locationString flattens the location field, which tools emit as either
// a plain string or a structured object.
func locationString(issue nativeIssue) string {
	if len(issue.Location) == 0 {
		return issue.File
	}
	var str string
	if err := json.Unmarshal(issue.Location, &str); err == nil {
		return str
	}
	var obj struct {
		Path string `json:"path"`
		File string `json:"file"`
		Line int    `json:"line"`
	}
	if err := json.Unmarshal(issue.Location, &obj); err == nil {
		path := obj.Path
		if path == "" {
			path = obj.File
		}
		if path != "" && obj.Line > 0 {
			return fmt.Sprintf("%s:%d", path, obj.Line)
		}
		if path != "" {
			return path
		}
	}
	return string(issue.Location)
}
