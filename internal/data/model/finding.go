package model

import (
	"time"

	"github.com/modelguard/modelguard/internal/severity"
)

// Finding is one normalized issue produced by a single scanner. Findings are
// immutable once created; TenantID is denormalized from the owning scan for
// fast tenant-scoped queries and must always equal the scan's tenant.
type Finding struct {
	ID       string            `json:"id"        gorm:"primaryKey"`
	ScanID   string            `json:"scan_id"   gorm:"index;not null"`
	TenantID string            `json:"tenant_id" gorm:"index;not null"`
	Scanner  string            `json:"scanner"`
	Severity severity.Severity `json:"severity"`
	Category string            `json:"category"`
	Title    string            `json:"title"`

	// Message and Evidence are sensitive: the persistence layer seals them
	// with the tenant's key before writing and opens them transparently for
	// readers presenting the correct tenant context.
	Message  string `json:"message"  gorm:"type:text"`
	Evidence string `json:"evidence" gorm:"type:text"`

	// Location is an artifact-relative locator: file offset, opcode name,
	// line, or key path, depending on the scanner.
	Location    string    `json:"location"`
	Remediation string    `json:"remediation,omitempty"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`
}
