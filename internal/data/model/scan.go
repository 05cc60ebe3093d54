package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelguard/modelguard/internal/policy"
)

// ScanStatus is the lifecycle state of a scan.
type ScanStatus string

const (
	StatusPending   ScanStatus = "pending"
	StatusRunning   ScanStatus = "running"
	StatusCompleted ScanStatus = "completed"
	StatusFailed    ScanStatus = "failed"
)

// ScanKind is the artifact class of a scan.
type ScanKind string

const (
	KindModel  ScanKind = "model"
	KindBundle ScanKind = "configuration-bundle"
)

// Scan represents one orchestration run. Once a scan reaches completed it is
// append-only: corrections require a new scan.
type Scan struct {
	ID        string     `json:"id"        gorm:"primaryKey"`
	TenantID  string     `json:"tenant_id" gorm:"index;not null"`
	Kind      ScanKind   `json:"scan_kind"`
	Targets   StringList `json:"targets"   gorm:"type:text"`
	Status    ScanStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time  `json:"updated_at" gorm:"autoUpdateTime"`

	// Counts mirror the persisted findings; their sum always equals the
	// number of finding rows for this scan.
	Counts policy.Counts `json:"severity_counts" gorm:"embedded;embeddedPrefix:severity_"`
	Passed bool          `json:"passed"`

	// FaultAnnotations record per-adapter execution faults (timeouts,
	// non-zero exits, unparseable reports) that did not fail the scan. A
	// clean scan has none; a scan with zero findings and annotations is not
	// a clean scan.
	FaultAnnotations StringList `json:"fault_annotations" gorm:"type:text"`

	// ManifestRef is the object-store key of the emitted component
	// manifest, when one was requested and produced.
	ManifestRef string `json:"manifest_ref,omitempty"`

	Findings []Finding `json:"findings,omitempty" gorm:"foreignKey:ScanID"`
}

// StringList is a custom type for handling JSON serialization of string slices.
type StringList []string

// Value implements the driver.Valuer interface for database serialization.
func (l StringList) Value() (driver.Value, error) {
	if len(l) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal string list: %w", err)
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("StringList Scan error: expected []byte or string, got %T", value)
	}
}
