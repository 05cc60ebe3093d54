// Package severity defines the canonical severity taxonomy and the mapping
// from native scanner vocabularies.
package severity

import "strings"

// Severity is a canonical severity level.
type Severity string

const (
	Critical Severity = "CRITICAL"
	High     Severity = "HIGH"
	Medium   Severity = "MEDIUM"
	Low      Severity = "LOW"
	Info     Severity = "INFO"
)

// Levels lists the canonical levels from most to least severe.
func Levels() []Severity {
	return []Severity{Critical, High, Medium, Low, Info}
}

// nativeMap maps native severity tokens to canonical levels. The map is
// intentionally explicit and centralized: adding a scanner vocabulary is a
// one-line change. "warning" maps to MEDIUM because the scanners in this
// family reserve it for significant but not exploit-grade issues, and "info"
// stays INFO rather than collapsing into LOW.
var nativeMap = map[string]Severity{
	"critical":    Critical,
	"high":        High,
	"error":       High,
	"medium":      Medium,
	"moderate":    Medium,
	"warning":     Medium,
	"warn":        Medium,
	"low":         Low,
	"info":        Info,
	"information": Info,
	"note":        Info,
	"unknown":     Info,
}

// FromNative maps a native severity token to its canonical level. Tokens not
// covered by the map default to INFO so no issue is silently lost.
func FromNative(token string) Severity {
	if s, ok := nativeMap[strings.ToLower(strings.TrimSpace(token))]; ok {
		return s
	}
	return Info
}

// Valid reports whether s is one of the canonical levels.
func Valid(s Severity) bool {
	switch s {
	case Critical, High, Medium, Low, Info:
		return true
	}
	return false
}
