package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Finding is a normalized security issue. Severity is fixed when the finding
// is created; Status is the only field with a lifecycle.
type Finding struct {
	ID          string    `json:"id"`
	RuleID      string    `json:"rule_id,omitempty"`
	Category    Category  `json:"category"`
	Severity    Severity  `json:"severity"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Resource    string    `json:"resource"`
	FirstSeen   time.Time `json:"first_seen"`
	Status      Status    `json:"status"`
	Remediation string    `json:"remediation,omitempty"`
	Controls    []string  `json:"controls,omitempty"`
	Fingerprint string    `json:"fingerprint"`
}

// Open reports whether the finding is still open.
func (f Finding) Open() bool {
	return f.Status == StatusOpen
}

// Resolve returns a copy of f with status resolved.
func (f Finding) Resolve() Finding {
	f.Status = StatusResolved
	return f
}

// NormalizeTitle lower-cases a title and collapses runs of whitespace so that
// cosmetic differences between collector runs do not change identity.
func NormalizeTitle(title string) string {
	return strings.Join(strings.Fields(strings.ToLower(title)), " ")
}

// Fingerprint returns the content identity of a finding: a hex SHA-256 over
// category, affected resource and normalized title. Upstream ids are not
// stable across runs, so comparisons key on this instead.
func Fingerprint(category Category, resource, title string) string {
	sum := sha256.Sum256([]byte(string(category) + "|" + strings.TrimSpace(resource) + "|" + NormalizeTitle(title)))
	return hex.EncodeToString(sum[:])
}

// WithFingerprint returns f with its Fingerprint populated.
func (f Finding) WithFingerprint() Finding {
	f.Fingerprint = Fingerprint(f.Category, f.Resource, f.Title)
	return f
}

// Clone returns a deep copy of f.
func (f Finding) Clone() Finding {
	if f.Controls != nil {
		f.Controls = append([]string(nil), f.Controls...)
	}
	return f
}
