// Package policy aggregates severity counts and evaluates pass/fail gates.
package policy

import (
	"github.com/modelguard/modelguard/internal/severity"
)

// Unlimited disables the gate for a severity level.
const Unlimited = -1

// Thresholds are the per-tenant gate limits. A level fails the gate when its
// finding count exceeds the limit; Unlimited never gates. Critical findings
// always fail regardless of configuration.
type Thresholds struct {
	MaxHigh   int `json:"max_high"   yaml:"max_high"`
	MaxMedium int `json:"max_medium" yaml:"max_medium"`
	MaxLow    int `json:"max_low"    yaml:"max_low"`
}

// DefaultThresholds requires zero critical and zero high findings to pass.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxHigh:   0,
		MaxMedium: Unlimited,
		MaxLow:    Unlimited,
	}
}

// Counts holds the number of findings per canonical severity level.
type Counts struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Info     int `json:"info"`
}

// Total returns the sum across all levels.
func (c Counts) Total() int {
	return c.Critical + c.High + c.Medium + c.Low + c.Info
}

// Outcome is the result of a policy evaluation.
type Outcome struct {
	Counts Counts `json:"severity_counts"`
	Passed bool   `json:"passed"`
}

// Evaluate counts findings per severity level and applies the thresholds.
// It is deterministic and side-effect-free: the same severities and
// thresholds always yield the same outcome.
func Evaluate(severities []severity.Severity, thresholds Thresholds) Outcome {
	var counts Counts
	for _, s := range severities {
		switch s {
		case severity.Critical:
			counts.Critical++
		case severity.High:
			counts.High++
		case severity.Medium:
			counts.Medium++
		case severity.Low:
			counts.Low++
		default:
			counts.Info++
		}
	}

	passed := counts.Critical == 0 &&
		withinLimit(counts.High, thresholds.MaxHigh) &&
		withinLimit(counts.Medium, thresholds.MaxMedium) &&
		withinLimit(counts.Low, thresholds.MaxLow)

	return Outcome{Counts: counts, Passed: passed}
}

func withinLimit(count, limit int) bool {
	if limit == Unlimited {
		return true
	}
	return count <= limit
}
