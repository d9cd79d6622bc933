package assessment

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/darkace1998/PostureLens/internal/aggregate"
	"github.com/darkace1998/PostureLens/internal/cache"
	"github.com/darkace1998/PostureLens/internal/collector"
	"github.com/darkace1998/PostureLens/internal/compare"
	"github.com/darkace1998/PostureLens/internal/fallback"
	"github.com/darkace1998/PostureLens/internal/logging"
	"github.com/darkace1998/PostureLens/internal/manifest"
	"github.com/darkace1998/PostureLens/internal/model"
	"github.com/darkace1998/PostureLens/internal/normalize"
)

var quiet = logging.New(io.Discard, logging.ERROR)

var tenants = []model.Tenant{
	{ID: "contoso", Name: "Contoso", TokenEnv: "PL_TEST_TOKEN_CONTOSO", Frameworks: []string{"cis", "soc2"}},
	{ID: "fabrikam", Name: "Fabrikam"},
}

// tokens records the credential each collector call received.
type tokens struct {
	mu   sync.Mutex
	seen map[string]map[string]bool
}

func (tk *tokens) add(tenant, token string) {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	if tk.seen == nil {
		tk.seen = map[string]map[string]bool{}
	}
	if tk.seen[tenant] == nil {
		tk.seen[tenant] = map[string]bool{}
	}
	tk.seen[tenant][token] = true
}

func demoCollectors(tk *tokens, override map[model.Domain]error) []collector.Collector {
	var out []collector.Collector
	for _, d := range model.Domains() {
		out = append(out, collector.Func{D: d, Fn: func(_ context.Context, req collector.Request) ([]collector.RawRecord, error) {
			if tk != nil {
				tk.add(req.TenantID, req.Token)
			}
			if err := override[d]; err != nil {
				return nil, err
			}
			return collector.DemoRecords(d), nil
		}})
	}
	return out
}

func newService(t *testing.T, cols []collector.Collector, store manifest.Store) *Service {
	t.Helper()
	chain := fallback.New(cache.NewMemory(), cols, fallback.Options{
		Default: fallback.Policy{TTL: time.Hour, StaleFactor: 4, Timeout: time.Second},
		Logger:  quiet,
	})
	orch := aggregate.New(chain, normalize.New(quiet), aggregate.Options{TenantDeadline: 5 * time.Second, Logger: quiet})
	return New(orch, store, tenants, Options{Assessor: "unit-test", Logger: quiet})
}

func TestAssess_FirstAndSecondRun(t *testing.T) {
	ctx := context.Background()
	store := manifest.NewMemory()
	svc := newService(t, demoCollectors(nil, nil), store)

	first, err := svc.Assess(ctx, "contoso")
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if first.Version != 1 || first.AssessmentID == "" || first.Comparison != nil {
		t.Errorf("first = v%d id=%q comparison=%v", first.Version, first.AssessmentID, first.Comparison)
	}
	if first.Assessor != "unit-test" {
		t.Errorf("Assessor = %q", first.Assessor)
	}
	if first.Scores.OverallScore == nil || first.Scores.OverallGrade == "" {
		t.Fatalf("no composite: %+v", first.Scores)
	}
	if len(first.Scores.Categories) != len(model.GradedCategories()) {
		t.Errorf("categories = %v", first.Scores.Categories)
	}
	for c, a := range first.Scores.Availability {
		if a != model.Live {
			t.Errorf("%s availability = %s", c, a)
		}
	}
	if len(first.Scores.Compliance) != 2 || len(first.Frameworks) != 2 {
		t.Errorf("compliance = %v frameworks = %v, want cis and soc2", first.Scores.Compliance, first.Frameworks)
	}
	if first.Findings != first.Snapshot.SeverityCounts() {
		t.Errorf("finding counts %+v do not match snapshot", first.Findings)
	}
	annotated := false
	for _, f := range first.Snapshot.Findings {
		if len(f.Controls) > 0 {
			annotated = true
		}
	}
	if !annotated {
		t.Error("no finding carries framework controls")
	}

	second, err := svc.Assess(ctx, "contoso")
	if err != nil {
		t.Fatalf("second Assess: %v", err)
	}
	if second.Version != 2 {
		t.Errorf("second version = %d", second.Version)
	}
	c := second.Comparison
	if c == nil {
		t.Fatal("second manifest has no comparison")
	}
	if c.PreviousAssessment != first.AssessmentID || c.FindingsResolved != 0 || c.NewFindings != 0 {
		t.Errorf("comparison = %+v", c)
	}
	if c.ScoreChange == nil || *c.ScoreChange != 0 || c.Trend != compare.TrendStable {
		t.Errorf("comparison = %+v, want stable with zero change", c)
	}

	firstSeen := map[string]time.Time{}
	for _, f := range first.Snapshot.Findings {
		firstSeen[f.Fingerprint] = f.FirstSeen
	}
	for _, f := range second.Snapshot.Findings {
		if want, ok := firstSeen[f.Fingerprint]; ok && !want.IsZero() && !f.FirstSeen.Equal(want) {
			t.Errorf("%s first seen %v, want carried %v", f.Title, f.FirstSeen, want)
		}
	}

	refs, err := svc.History(ctx, "contoso")
	if err != nil || len(refs) != 2 {
		t.Fatalf("History = %v, %v", refs, err)
	}
	latest, err := svc.Latest(ctx, "contoso")
	if err != nil || latest.AssessmentID != second.AssessmentID {
		t.Errorf("Latest = %v, %v", latest, err)
	}
}

// slowLatest delays Latest to widen the window between reading the previous
// manifest and storing the next one.
type slowLatest struct {
	manifest.Store
	delay time.Duration
}

func (s slowLatest) Latest(ctx context.Context, tenantID string) (*model.Manifest, error) {
	time.Sleep(s.delay)
	return s.Store.Latest(ctx, tenantID)
}

func TestAssess_ConcurrentRunsCompareWithDirectPredecessor(t *testing.T) {
	ctx := context.Background()
	store := slowLatest{Store: manifest.NewMemory(), delay: 20 * time.Millisecond}
	svc := newService(t, demoCollectors(nil, nil), store)

	v1, err := svc.Assess(ctx, "contoso")
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	out := make([]*model.Manifest, 2)
	errs := make([]error, 2)
	for i := range out {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out[i], errs[i] = svc.Assess(ctx, "contoso")
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}

	v2, v3 := out[0], out[1]
	if v2.Version > v3.Version {
		v2, v3 = v3, v2
	}
	if v2.Version != 2 || v3.Version != 3 {
		t.Fatalf("versions = %d, %d", v2.Version, v3.Version)
	}
	if got := v2.Comparison.PreviousAssessment; got != v1.AssessmentID {
		t.Errorf("v2 compared with %s, want v1 %s", got, v1.AssessmentID)
	}
	if got := v3.Comparison.PreviousAssessment; got != v2.AssessmentID {
		t.Errorf("v3 compared with %s, want v2 %s", got, v2.AssessmentID)
	}
}

func TestAssess_IdentityNotAuthorized(t *testing.T) {
	cols := demoCollectors(nil, map[model.Domain]error{
		model.DomainIdentity: &collector.AuthorizationError{Domain: model.DomainIdentity, Reason: "consent missing"},
	})
	svc := newService(t, cols, manifest.NewMemory())

	m, err := svc.Assess(context.Background(), "fabrikam")
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := m.Scores.Categories[model.CategoryIdentity]; !ok || v != nil {
		t.Errorf("identity score = %v, want present and nil", v)
	}
	if got := m.Scores.Availability[model.CategoryIdentity]; got != model.UnavailableNoPermission {
		t.Errorf("identity availability = %s", got)
	}
	if m.Scores.OverallScore == nil {
		t.Error("composite missing although other categories are available")
	}
	if len(m.Scores.Compliance) != 4 {
		t.Errorf("tenant without frameworks should get all four, got %v", m.Scores.Compliance)
	}

	// The stored snapshot must not report the missing category as 0 either.
	b, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	var raw struct {
		Snapshot struct {
			Categories []struct {
				Category model.Category `json:"category"`
				Score    *float64       `json:"score"`
			} `json:"categories"`
		} `json:"snapshot"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatal(err)
	}
	for _, c := range raw.Snapshot.Categories {
		if c.Category == model.CategoryIdentity && c.Score != nil {
			t.Errorf("snapshot identity score = %v, want null", *c.Score)
		}
		if c.Category == model.CategoryDevices && c.Score == nil {
			t.Error("snapshot devices score is null")
		}
	}
}

func TestAssess_TokenFromEnvironment(t *testing.T) {
	t.Setenv("PL_TEST_TOKEN_CONTOSO", "secret-contoso")
	tk := &tokens{}
	svc := newService(t, demoCollectors(tk, nil), manifest.NewMemory())

	if _, err := svc.Assess(context.Background(), "contoso"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Assess(context.Background(), "fabrikam"); err != nil {
		t.Fatal(err)
	}
	if got := tk.seen["contoso"]; len(got) != 1 || !got["secret-contoso"] {
		t.Errorf("contoso tokens = %v", got)
	}
	if got := tk.seen["fabrikam"]; len(got) != 1 || !got[""] {
		t.Errorf("fabrikam tokens = %v, want only the empty token", got)
	}
}

func TestAssess_UnknownTenant(t *testing.T) {
	svc := newService(t, demoCollectors(nil, nil), manifest.NewMemory())
	ctx := context.Background()

	if _, err := svc.Assess(ctx, "nobody"); !errors.Is(err, ErrUnknownTenant) {
		t.Errorf("Assess = %v", err)
	}
	if _, err := svc.Latest(ctx, "nobody"); !errors.Is(err, ErrUnknownTenant) {
		t.Errorf("Latest = %v", err)
	}
	if _, err := svc.History(ctx, "nobody"); !errors.Is(err, ErrUnknownTenant) {
		t.Errorf("History = %v", err)
	}
	if _, err := svc.Compare(ctx, "nobody", "a", "b"); !errors.Is(err, ErrUnknownTenant) {
		t.Errorf("Compare = %v", err)
	}
}

func TestAssess_CancelledStoresNothing(t *testing.T) {
	store := manifest.NewMemory()
	svc := newService(t, demoCollectors(nil, nil), store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := svc.Assess(ctx, "contoso"); !errors.Is(err, context.Canceled) {
		t.Fatalf("Assess = %v, want context.Canceled", err)
	}
	if refs, _ := store.List(context.Background(), "contoso"); len(refs) != 0 {
		t.Errorf("stored %d manifests after a cancelled run", len(refs))
	}
}

func TestCompare(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, demoCollectors(nil, nil), manifest.NewMemory())

	a, err := svc.Assess(ctx, "contoso")
	if err != nil {
		t.Fatal(err)
	}
	b, err := svc.Assess(ctx, "contoso")
	if err != nil {
		t.Fatal(err)
	}

	res, err := svc.Compare(ctx, "contoso", b.AssessmentID, a.AssessmentID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Previous.AssessmentID != a.AssessmentID || res.Current.AssessmentID != b.AssessmentID {
		t.Errorf("pair not ordered by capture time: %s -> %s", res.Previous.AssessmentID, res.Current.AssessmentID)
	}
	if len(res.FindingsUnchanged) != res.PreviousOpen {
		t.Errorf("unchanged %d, previously open %d", len(res.FindingsUnchanged), res.PreviousOpen)
	}

	if _, err := svc.Compare(ctx, "contoso", a.AssessmentID, "missing"); !errors.Is(err, manifest.ErrNotFound) {
		t.Errorf("Compare with missing id = %v", err)
	}
	if _, err := svc.Compare(ctx, "fabrikam", a.AssessmentID, b.AssessmentID); !errors.Is(err, manifest.ErrNotFound) {
		t.Errorf("cross-tenant Compare = %v", err)
	}
}

// stubRunner fails chosen tenants and returns an empty snapshot otherwise.
type stubRunner struct {
	fail map[string]error
}

func (s stubRunner) Run(_ context.Context, req collector.Request) (*model.PostureSnapshot, error) {
	if err := s.fail[req.TenantID]; err != nil {
		return nil, err
	}
	return &model.PostureSnapshot{TenantID: req.TenantID, CapturedAt: time.Now()}, nil
}

func (s stubRunner) RunAll(ctx context.Context, reqs []collector.Request) []aggregate.Outcome {
	out := make([]aggregate.Outcome, len(reqs))
	for i, r := range reqs {
		snap, err := s.Run(ctx, r)
		out[i] = aggregate.Outcome{TenantID: r.TenantID, Snapshot: snap, Err: err}
	}
	return out
}

func TestAssessAll_IsolatesFailures(t *testing.T) {
	store := manifest.NewMemory()
	boom := errors.New("boom")
	svc := New(stubRunner{fail: map[string]error{"contoso": boom}}, store, tenants, Options{Logger: quiet})

	out := svc.AssessAll(context.Background())
	if len(out) != 2 {
		t.Fatalf("got %d outcomes", len(out))
	}
	if out[0].TenantID != "contoso" || !errors.Is(out[0].Err, boom) || out[0].Manifest != nil {
		t.Errorf("contoso = %+v", out[0])
	}
	if out[1].TenantID != "fabrikam" || out[1].Err != nil || out[1].Manifest == nil {
		t.Fatalf("fabrikam = %+v", out[1])
	}
	// An empty snapshot grades to nothing rather than to zero.
	if out[1].Manifest.Scores.OverallScore != nil || out[1].Manifest.Scores.OverallGrade != "" {
		t.Errorf("empty snapshot graded as %+v", out[1].Manifest.Scores)
	}
}

func TestCarryFirstSeen(t *testing.T) {
	early := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	late := early.Add(72 * time.Hour)

	prev := []model.Finding{
		{Fingerprint: "a", FirstSeen: early},
		{Fingerprint: "b"},
	}
	cur := []model.Finding{
		{Fingerprint: "a", FirstSeen: late},
		{Fingerprint: "b", FirstSeen: late},
		{Fingerprint: "c", FirstSeen: late},
	}
	carryFirstSeen(cur, prev)

	if !cur[0].FirstSeen.Equal(early) {
		t.Errorf("a first seen = %v, want %v", cur[0].FirstSeen, early)
	}
	if !cur[1].FirstSeen.Equal(late) || !cur[2].FirstSeen.Equal(late) {
		t.Errorf("unrelated findings changed: %v %v", cur[1].FirstSeen, cur[2].FirstSeen)
	}
}
