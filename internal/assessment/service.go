// Package assessment ties one tenant's pipeline together: collect, grade,
// map to compliance frameworks, compare with the previous manifest and
// persist the result.
package assessment

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/darkace1998/PostureLens/internal/aggregate"
	"github.com/darkace1998/PostureLens/internal/collector"
	"github.com/darkace1998/PostureLens/internal/compare"
	"github.com/darkace1998/PostureLens/internal/compliance"
	"github.com/darkace1998/PostureLens/internal/grading"
	"github.com/darkace1998/PostureLens/internal/logging"
	"github.com/darkace1998/PostureLens/internal/manifest"
	"github.com/darkace1998/PostureLens/internal/model"
)

// ErrUnknownTenant is returned for a tenant id that is not configured.
var ErrUnknownTenant = errors.New("unknown tenant")

// Runner produces posture snapshots. *aggregate.Orchestrator satisfies it.
type Runner interface {
	Run(ctx context.Context, req collector.Request) (*model.PostureSnapshot, error)
	RunAll(ctx context.Context, reqs []collector.Request) []aggregate.Outcome
}

// Options configures a Service.
type Options struct {
	Assessor string
	Logger   *logging.Logger
	// Token returns the upstream credential for a tenant. The default reads
	// the environment variable named by Tenant.TokenEnv.
	Token func(model.Tenant) string
}

// Service runs assessments and answers queries over stored manifests.
type Service struct {
	runner  Runner
	store   manifest.Store
	builder *manifest.Builder
	tenants []model.Tenant
	byID    map[string]model.Tenant
	opts    Options
	log     *logging.Logger
}

// New creates a Service for the given tenants.
func New(runner Runner, store manifest.Store, tenants []model.Tenant, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Token == nil {
		opts.Token = envToken
	}
	s := &Service{
		runner:  runner,
		store:   store,
		builder: manifest.NewBuilder(store, opts.Logger),
		tenants: append([]model.Tenant(nil), tenants...),
		byID:    make(map[string]model.Tenant, len(tenants)),
		opts:    opts,
		log:     opts.Logger.Named("assessment"),
	}
	for _, t := range tenants {
		s.byID[t.ID] = t
	}
	return s
}

func envToken(t model.Tenant) string {
	if t.TokenEnv == "" {
		return ""
	}
	return os.Getenv(t.TokenEnv)
}

// Tenants returns the configured tenants in configuration order.
func (s *Service) Tenants() []model.Tenant {
	return append([]model.Tenant(nil), s.tenants...)
}

// Tenant looks up a configured tenant.
func (s *Service) Tenant(id string) (model.Tenant, error) {
	t, ok := s.byID[id]
	if !ok {
		return model.Tenant{}, fmt.Errorf("%w: %q", ErrUnknownTenant, id)
	}
	return t, nil
}

func (s *Service) request(t model.Tenant) collector.Request {
	return collector.Request{TenantID: t.ID, Token: s.opts.Token(t)}
}

// Assess runs a full assessment of one tenant and returns the stored
// manifest.
func (s *Service) Assess(ctx context.Context, tenantID string) (*model.Manifest, error) {
	t, err := s.Tenant(tenantID)
	if err != nil {
		return nil, err
	}
	snap, err := s.runner.Run(ctx, s.request(t))
	if err != nil {
		return nil, err
	}
	return s.record(ctx, t, snap)
}

// Outcome is the result of one tenant inside AssessAll.
type Outcome struct {
	TenantID string
	Manifest *model.Manifest
	Err      error
}

// AssessAll assesses every configured tenant. Collection runs concurrently
// under the orchestrator's limit; a failing tenant does not affect the
// others.
func (s *Service) AssessAll(ctx context.Context) []Outcome {
	reqs := make([]collector.Request, len(s.tenants))
	for i, t := range s.tenants {
		reqs[i] = s.request(t)
	}

	runs := s.runner.RunAll(ctx, reqs)
	out := make([]Outcome, len(runs))
	for i, r := range runs {
		out[i] = Outcome{TenantID: r.TenantID, Err: r.Err}
		if r.Err != nil {
			s.log.Warn("tenant %s: assessment failed: %v", r.TenantID, r.Err)
			continue
		}
		out[i].Manifest, out[i].Err = s.record(ctx, s.tenants[i], r.Snapshot)
		if out[i].Err != nil {
			s.log.Warn("tenant %s: recording manifest failed: %v", r.TenantID, out[i].Err)
		}
	}
	return out
}

// record grades snap, compares it with the tenant's latest manifest and
// persists the new manifest. The comparison runs under the builder's tenant
// lock, so it is always made against the version directly before.
func (s *Service) record(ctx context.Context, t model.Tenant, snap *model.PostureSnapshot) (*model.Manifest, error) {
	draft := &model.Manifest{
		TenantID:   t.ID,
		CapturedAt: snap.CapturedAt,
		Assessor:   s.opts.Assessor,
	}
	return s.builder.BuildWith(ctx, draft, func(prev, m *model.Manifest) error {
		s.assemble(t, snap, prev, m)
		return nil
	})
}

// assemble fills m from snap. prev may be nil.
func (s *Service) assemble(t model.Tenant, snap *model.PostureSnapshot, prev, m *model.Manifest) {
	work := snap.Clone()
	if prev != nil {
		carryFirstSeen(work.Findings, prev.Snapshot.Findings)
	}
	work.Findings = compliance.Annotate(work.Findings)

	g := grading.Grade(&work)
	rep := compliance.Evaluate(t.Frameworks, work.Findings)
	if len(rep.Unknown) > 0 {
		s.log.Warn("tenant %s: ignoring unknown frameworks %v", t.ID, rep.Unknown)
	}

	m.Scores = model.Scores{
		OverallGrade: g.Letter,
		OverallScore: g.Composite,
		Categories:   make(map[model.Category]*float64, len(g.Categories)),
		Availability: make(map[model.Category]model.Availability, len(g.Categories)),
		Compliance:   rep.Scores(),
	}
	m.Findings = g.Findings
	m.Snapshot = work
	m.Frameworks = nil
	for _, r := range rep.Results {
		m.Frameworks = append(m.Frameworks, string(r.Framework))
	}
	for _, c := range g.Categories {
		m.Scores.Categories[c.Category] = c.Score
		m.Scores.Availability[c.Category] = c.State
	}

	m.Comparison = nil
	if prev != nil {
		cmp, err := compare.Compare(prev, m)
		if err != nil {
			s.log.Warn("tenant %s: comparison with %s skipped: %v", t.ID, prev.AssessmentID, err)
		} else {
			m.Comparison = cmp.Summarize()
		}
	}
}

// carryFirstSeen keeps the original first-seen time of findings that were
// already present in the previous manifest.
func carryFirstSeen(cur, prev []model.Finding) {
	seen := make(map[string]model.Finding, len(prev))
	for _, f := range prev {
		seen[f.Fingerprint] = f
	}
	for i, f := range cur {
		p, ok := seen[f.Fingerprint]
		if !ok || p.FirstSeen.IsZero() {
			continue
		}
		if f.FirstSeen.IsZero() || p.FirstSeen.Before(f.FirstSeen) {
			cur[i].FirstSeen = p.FirstSeen
		}
	}
}

// Latest returns the tenant's most recent manifest.
func (s *Service) Latest(ctx context.Context, tenantID string) (*model.Manifest, error) {
	if _, err := s.Tenant(tenantID); err != nil {
		return nil, err
	}
	return s.store.Latest(ctx, tenantID)
}

// History lists the tenant's manifests oldest first.
func (s *Service) History(ctx context.Context, tenantID string) ([]model.ManifestRef, error) {
	if _, err := s.Tenant(tenantID); err != nil {
		return nil, err
	}
	return s.store.List(ctx, tenantID)
}

// Get returns one manifest of the tenant.
func (s *Service) Get(ctx context.Context, tenantID, assessmentID string) (*model.Manifest, error) {
	if _, err := s.Tenant(tenantID); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, tenantID, assessmentID)
}

// Compare diffs two stored manifests of the tenant.
func (s *Service) Compare(ctx context.Context, tenantID, previousID, currentID string) (*model.ComparisonResult, error) {
	a, err := s.Get(ctx, tenantID, previousID)
	if err != nil {
		return nil, err
	}
	b, err := s.Get(ctx, tenantID, currentID)
	if err != nil {
		return nil, err
	}
	return compare.Compare(a, b)
}
