package models

import (
	"regexp"
	"strings"
	"time"
)

var filenameSanitizer = regexp.MustCompile(`[^\w\-.]+`)

// CheckReport is the persisted outcome of one CT check, written by the CLI
// through the report store. It carries enough to reconstruct the verdict
// without re-running the handshake.
type CheckReport struct {
	Target      string           `json:"target"`
	CheckedAt   time.Time        `json:"checked_at"`
	ToolVersion string           `json:"tool_version,omitempty"`
	Leaf        CertificateInfo  `json:"leaf"`
	ChainLength int              `json:"chain_length"`
	Compliance  PolicyCompliance `json:"compliance"`
	StoreState  StoreState       `json:"store_state"`
	ValidSCTs   []SCTRecord      `json:"valid_scts"`
	InvalidSCTs []SCTRecord      `json:"invalid_scts"`
}

// CertificateInfo is the leaf summary embedded in a report.
type CertificateInfo struct {
	Subject      string    `json:"subject"`
	Issuer       string    `json:"issuer"`
	SerialNumber string    `json:"serial_number"`
	NotBefore    time.Time `json:"not_before"`
	NotAfter     time.Time `json:"not_after"`
	SHA256       string    `json:"sha256"`
}

// SCTRecord is the report view of one verified SCT.
type SCTRecord struct {
	LogID       string    `json:"log_id"`
	Origin      Origin    `json:"origin"`
	Status      SCTStatus `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Operator    string    `json:"operator,omitempty"`
	Description string    `json:"description,omitempty"`
}

// NewSCTRecord flattens a VerifiedSCT for reporting.
func NewSCTRecord(v VerifiedSCT) SCTRecord {
	rec := SCTRecord{
		LogID:     v.SCT.LogIDHex(),
		Origin:    v.SCT.Origin,
		Status:    v.Status,
		Timestamp: v.SCT.Time(),
	}
	if v.Log != nil {
		rec.Operator = v.Log.Operator
		rec.Description = v.Log.Description
	}
	return rec
}

// Filename derives a filesystem-safe name for the report.
func (r *CheckReport) Filename() string {
	target := filenameSanitizer.ReplaceAllString(strings.ToLower(r.Target), "_")
	if target == "" {
		target = "report"
	}
	return target + "_" + r.CheckedAt.UTC().Format("20060102T150405Z") + ".json"
}
