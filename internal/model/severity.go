package model

import (
	"fmt"
	"strings"
)

// Severity is the closed set of finding severities. Higher values are more
// severe, so severities sort naturally with >.
type Severity int

const (
	Informational Severity = iota
	Low
	Medium
	High
	Critical
)

// Severities lists every severity, most severe first.
func Severities() []Severity {
	return []Severity{Critical, High, Medium, Low, Informational}
}

// String returns the lower-case wire name.
func (s Severity) String() string {
	switch s {
	case Informational:
		return "informational"
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	case Critical:
		return "critical"
	default:
		return fmt.Sprintf("Severity(%d)", int(s))
	}
}

// Valid reports whether s is one of the defined severities.
func (s Severity) Valid() bool {
	return s >= Informational && s <= Critical
}

// ParseSeverity converts a wire name into a Severity. Matching is
// case-insensitive; anything outside the closed set is an error.
func ParseSeverity(v string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "critical":
		return Critical, nil
	case "high":
		return High, nil
	case "medium":
		return Medium, nil
	case "low":
		return Low, nil
	case "informational", "info":
		return Informational, nil
	default:
		return 0, fmt.Errorf("unknown severity %q", v)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid severity %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(b []byte) error {
	v, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Status is the lifecycle state of a finding.
type Status string

const (
	StatusOpen     Status = "open"
	StatusResolved Status = "resolved"
)

// ParseStatus validates a wire status. An empty value means open.
func ParseStatus(v string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "open", "active":
		return StatusOpen, nil
	case "resolved":
		return StatusResolved, nil
	default:
		return "", fmt.Errorf("unknown status %q", v)
	}
}

// SeverityCounts tallies findings per severity.
type SeverityCounts struct {
	Critical      int `json:"critical"`
	High          int `json:"high"`
	Medium        int `json:"medium"`
	Low           int `json:"low"`
	Informational int `json:"informational"`
}

// Add increments the bucket for s.
func (c *SeverityCounts) Add(s Severity) {
	switch s {
	case Critical:
		c.Critical++
	case High:
		c.High++
	case Medium:
		c.Medium++
	case Low:
		c.Low++
	case Informational:
		c.Informational++
	}
}

// Get returns the count for s.
func (c SeverityCounts) Get(s Severity) int {
	switch s {
	case Critical:
		return c.Critical
	case High:
		return c.High
	case Medium:
		return c.Medium
	case Low:
		return c.Low
	case Informational:
		return c.Informational
	}
	return 0
}

// Total returns the sum over all severities.
func (c SeverityCounts) Total() int {
	return c.Critical + c.High + c.Medium + c.Low + c.Informational
}
