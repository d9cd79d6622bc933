package collector

import (
	"context"
	"time"

	"github.com/darkace1998/PostureLens/internal/model"
)

// Request carries everything one collector call needs. It is built per call
// and never shared between tenants, so concurrent runs cannot see each
// other's credentials.
type Request struct {
	TenantID string
	// Token is the bearer credential for the upstream API. How it was
	// obtained is outside this package.
	Token string
	// Since is an optional incremental cursor; empty means a full pull.
	Since string
}

// RecordKind discriminates the payload carried by a RawRecord.
type RecordKind string

const (
	// KindScore is a direct 0-100 sub-score for the record's category.
	KindScore RecordKind = "score"
	// KindMetric is a named measurement the normalizer turns into a score.
	KindMetric RecordKind = "metric"
	// KindControl is one baseline control with an achieved and maximum score.
	KindControl RecordKind = "control"
	// KindFinding is an issue reported directly by the upstream source.
	KindFinding RecordKind = "finding"
)

// RawRecord is one item of collector output. Every record tags its category;
// string-typed fields are validated by the normalizer, not here.
type RawRecord struct {
	Category string     `json:"category"`
	Kind     RecordKind `json:"kind"`

	// score, metric and control
	Name     string   `json:"name,omitempty"`
	Value    *float64 `json:"value,omitempty"`
	Text     string   `json:"text,omitempty"`
	MaxValue *float64 `json:"max_value,omitempty"`

	// finding
	ID          string    `json:"id,omitempty"`
	Severity    string    `json:"severity,omitempty"`
	Status      string    `json:"status,omitempty"`
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
	Resource    string    `json:"resource,omitempty"`
	FirstSeen   time.Time `json:"first_seen,omitempty"`
	Remediation string    `json:"remediation,omitempty"`
}

// Collector fetches raw records for one domain.
//
// Implementations return *AuthorizationError when the upstream API denies
// access, *TransientError for timeouts and network failures, and
// *DataIntegrityError when the payload cannot be decoded.
type Collector interface {
	Domain() model.Domain
	Collect(ctx context.Context, req Request) ([]RawRecord, error)
}

// Func adapts an ordinary function into a Collector.
type Func struct {
	D  model.Domain
	Fn func(ctx context.Context, req Request) ([]RawRecord, error)
}

// Domain implements Collector.
func (f Func) Domain() model.Domain { return f.D }

// Collect implements Collector.
func (f Func) Collect(ctx context.Context, req Request) ([]RawRecord, error) {
	return f.Fn(ctx, req)
}

// Metric builds a KindMetric record.
func Metric(category model.Category, name string, v float64) RawRecord {
	return RawRecord{Category: string(category), Kind: KindMetric, Name: name, Value: model.Float(v)}
}

// TextMetric builds a KindMetric record carrying a string value.
func TextMetric(category model.Category, name, text string) RawRecord {
	return RawRecord{Category: string(category), Kind: KindMetric, Name: name, Text: text}
}

// Score builds a KindScore record.
func Score(category model.Category, v float64) RawRecord {
	return RawRecord{Category: string(category), Kind: KindScore, Value: model.Float(v)}
}

// Control builds a KindControl record.
func Control(name string, score, max float64) RawRecord {
	return RawRecord{
		Category: string(model.CategorySecureScore),
		Kind:     KindControl,
		Name:     name,
		Value:    model.Float(score),
		MaxValue: model.Float(max),
	}
}
