package normalize

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/modelguard/modelguard/internal/scanners"
	"github.com/modelguard/modelguard/internal/severity"
)

func report(payload string) *scanners.Report {
	return &scanners.Report{Scanner: "modelaudit", Payload: []byte(payload)}
}

// TestNormalizeSeverityMapping tests the native vocabulary mapping,
// including that unknown tokens land on INFO rather than being dropped.
func TestNormalizeSeverityMapping(t *testing.T) {
	payload := `{"issues":[
		{"severity":"critical","message":"unsafe pickle opcode"},
		{"severity":"error","message":"suspicious layer"},
		{"severity":"warning","message":"odd metadata"},
		{"severity":"low","message":"minor"},
		{"severity":"note","message":"fyi"},
		{"severity":"bananas","message":"unmapped"}
	]}`

	findings, err := Normalize(report(payload), "scan-1", "tenant-a")
	require.NoError(t, err)
	require.Len(t, findings, 6)
	require.Equal(t, severity.Critical, findings[0].Severity)
	require.Equal(t, severity.High, findings[1].Severity)
	require.Equal(t, severity.Medium, findings[2].Severity)
	require.Equal(t, severity.Low, findings[3].Severity)
	require.Equal(t, severity.Info, findings[4].Severity)
	require.Equal(t, severity.Info, findings[5].Severity)
}

// TestNormalizeAlternateListKeys tests the key fallback order.
func TestNormalizeAlternateListKeys(t *testing.T) {
	for _, payload := range []string{
		`{"findings":[{"severity":"high","message":"x"}]}`,
		`{"results":[{"severity":"high","message":"x"}]}`,
		`{"problems":[{"severity":"high","message":"x"}]}`,
		`[{"severity":"high","message":"x"}]`,
	} {
		findings, err := Normalize(report(payload), "scan-1", "tenant-a")
		require.NoError(t, err, payload)
		require.Len(t, findings, 1, payload)
	}
}

// TestNormalizeFieldFallbacks tests per-field degradation.
func TestNormalizeFieldFallbacks(t *testing.T) {
	payload := `{"issues":[{
		"level":"high",
		"description":"described not messaged",
		"type":"weights",
		"location":{"path":"model/weights.bin","line":3},
		"details":{"op":"REDUCE"}
	}]}`

	findings, err := Normalize(report(payload), "scan-1", "tenant-a")
	require.NoError(t, err)
	require.Len(t, findings, 1)

	f := findings[0]
	require.Equal(t, severity.High, f.Severity)
	require.Equal(t, "described not messaged", f.Message)
	require.Equal(t, "weights", f.Category)
	require.Equal(t, "model/weights.bin:3", f.Location)
	require.JSONEq(t, `{"op":"REDUCE"}`, f.Evidence)
}

// TestNormalizeMalformedIssueKept tests that a junk issue record still
// yields a finding carrying the raw record.
func TestNormalizeMalformedIssueKept(t *testing.T) {
	payload := `{"issues":[{"severity":42,"message":["not","a","string"]}]}`

	findings, err := Normalize(report(payload), "scan-1", "tenant-a")
	require.NoError(t, err)
	require.Len(t, findings, 1)
	require.Equal(t, severity.Info, findings[0].Severity)
	require.NotEmpty(t, findings[0].Message)
	require.NotEmpty(t, findings[0].Evidence)
}

// TestNormalizeUnparseableReport tests the total-failure path.
func TestNormalizeUnparseableReport(t *testing.T) {
	findings, err := Normalize(report("Traceback (most recent call last):"), "scan-1", "tenant-a")
	require.Empty(t, findings)
	require.True(t, errors.Is(err, ErrParse))
}

// TestNormalizeEmptyDocument tests that a document without a known issue
// list is an empty report, not a failure.
func TestNormalizeEmptyDocument(t *testing.T) {
	findings, err := Normalize(report(`{"tool":"modelaudit","version":"1.0"}`), "scan-1", "tenant-a")
	require.NoError(t, err)
	require.Empty(t, findings)
}

// TestNormalizeStampsIdentity tests scan/tenant attribution and IDs.
func TestNormalizeStampsIdentity(t *testing.T) {
	findings, err := Normalize(report(`{"issues":[{"severity":"low","message":"a"},{"severity":"low","message":"b"}]}`),
		"scan-9", "tenant-z")
	require.NoError(t, err)
	require.Len(t, findings, 2)
	require.NotEqual(t, findings[0].ID, findings[1].ID)
	for _, f := range findings {
		require.NotEmpty(t, f.ID)
		require.Equal(t, "scan-9", f.ScanID)
		require.Equal(t, "tenant-z", f.TenantID)
		require.Equal(t, "modelaudit", f.Scanner)
	}
}
