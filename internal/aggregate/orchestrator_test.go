package aggregate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/darkace1998/PostureLens/internal/cache"
	"github.com/darkace1998/PostureLens/internal/collector"
	"github.com/darkace1998/PostureLens/internal/fallback"
	"github.com/darkace1998/PostureLens/internal/grading"
	"github.com/darkace1998/PostureLens/internal/logging"
	"github.com/darkace1998/PostureLens/internal/model"
	"github.com/darkace1998/PostureLens/internal/normalize"
)

var quiet = logging.New(io.Discard, logging.ERROR)

// demoCollectors serves the canned payload of every domain as live data.
func demoCollectors() []collector.Collector {
	var out []collector.Collector
	for _, d := range model.Domains() {
		out = append(out, collector.Func{D: d, Fn: func(context.Context, collector.Request) ([]collector.RawRecord, error) {
			return collector.DemoRecords(d), nil
		}})
	}
	return out
}

func replace(cols []collector.Collector, c collector.Collector) []collector.Collector {
	out := make([]collector.Collector, len(cols))
	for i, x := range cols {
		if x.Domain() == c.Domain() {
			out[i] = c
		} else {
			out[i] = x
		}
	}
	return out
}

func newOrchestrator(c cache.Cache, cols []collector.Collector, opts Options) *Orchestrator {
	chain := fallback.New(c, cols, fallback.Options{
		Default: fallback.Policy{TTL: time.Hour, StaleFactor: 4, Timeout: time.Second},
		Logger:  quiet,
	})
	opts.Logger = quiet
	return New(chain, normalize.New(quiet), opts)
}

var req = collector.Request{TenantID: "contoso", Token: "token-contoso"}

func TestRun_AllDomainsLive(t *testing.T) {
	o := newOrchestrator(cache.NewMemory(), demoCollectors(), Options{TenantDeadline: 5 * time.Second})
	snap, err := o.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if snap.TenantID != "contoso" {
		t.Errorf("TenantID = %q", snap.TenantID)
	}
	if len(snap.Domains) != len(model.Domains()) {
		t.Fatalf("got %d domain statuses, want %d", len(snap.Domains), len(model.Domains()))
	}
	for _, ds := range snap.Domains {
		if ds.State != model.Live {
			t.Errorf("%s = %s, want LIVE", ds.Domain, ds.State)
		}
	}
	for _, cs := range snap.Categories {
		if !cs.Available {
			t.Errorf("%s unavailable: %s", cs.Category, cs.Reason)
		}
	}
}

// The identity collector is denied: identity is Not Configured and the
// composite is taken over the other five categories.
func TestRun_IdentityNotAuthorized(t *testing.T) {
	denied := collector.Func{D: model.DomainIdentity, Fn: func(context.Context, collector.Request) ([]collector.RawRecord, error) {
		return nil, &collector.AuthorizationError{Domain: model.DomainIdentity, Reason: "403 Forbidden"}
	}}
	o := newOrchestrator(cache.NewMemory(), replace(demoCollectors(), denied), Options{})

	snap, err := o.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	cs, _ := snap.Category(model.CategoryIdentity)
	if cs.State != model.UnavailableNoPermission || cs.Available {
		t.Fatalf("identity = %+v, want UNAVAILABLE_NO_PERMISSION", cs)
	}

	res := grading.Grade(snap)
	var sum float64
	used := 0
	for _, cr := range res.Categories {
		if cr.NormalizedWeight > 0 {
			used++
			sum += cr.NormalizedWeight
		}
		if cr.Category == model.CategoryIdentity && cr.Score != nil {
			t.Errorf("identity scored as %v", *cr.Score)
		}
	}
	if used != 5 {
		t.Errorf("composite used %d categories, want 5", used)
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Errorf("normalized weights sum to %v", sum)
	}
}

func blocking(d model.Domain, started chan<- struct{}) collector.Collector {
	return collector.Func{D: d, Fn: func(ctx context.Context, _ collector.Request) ([]collector.RawRecord, error) {
		if started != nil {
			started <- struct{}{}
		}
		<-ctx.Done()
		return nil, &collector.TransientError{Domain: d, Err: ctx.Err()}
	}}
}

func TestRun_TenantDeadlineResolvesPendingDomains(t *testing.T) {
	mem := cache.NewMemory()
	o := newOrchestrator(mem, demoCollectors(), Options{TenantDeadline: time.Second})
	if _, err := o.Run(context.Background(), req); err != nil {
		t.Fatalf("priming run: %v", err)
	}

	cols := replace(demoCollectors(), blocking(model.DomainThreats, nil))
	cols = replace(cols, blocking(model.DomainBackup, nil))
	o = newOrchestrator(mem, cols, Options{TenantDeadline: 50 * time.Millisecond})

	start := time.Now()
	snap, err := o.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 900*time.Millisecond {
		t.Errorf("run took %s; the per-call timeout should not outlast the tenant deadline", elapsed)
	}

	threats, _ := snap.Domain(model.DomainThreats)
	if threats.State != model.Cached {
		t.Errorf("threats = %s, want CACHED from the priming run", threats.State)
	}
	if threats.Error == "" {
		t.Error("threats status lost the absorbed error")
	}
	if ds, _ := snap.Domain(model.DomainDevices); ds.State != model.Live {
		t.Errorf("devices = %s, want LIVE", ds.State)
	}
}

func TestRun_TimeoutWithoutCacheIsUnavailable(t *testing.T) {
	cols := replace(demoCollectors(), blocking(model.DomainBackup, nil))
	o := newOrchestrator(cache.NewMemory(), cols, Options{TenantDeadline: 50 * time.Millisecond})

	snap, err := o.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	cs, _ := snap.Category(model.CategoryBackup)
	if cs.Available || cs.State != model.UnavailableError {
		t.Errorf("backup = %+v, want UNAVAILABLE_ERROR", cs)
	}
	if cs.Value() != nil {
		t.Error("unavailable backup exposes a numeric value")
	}
}

func TestRun_CancelAbortsRun(t *testing.T) {
	started := make(chan struct{}, len(model.Domains()))
	var cols []collector.Collector
	for _, d := range model.Domains() {
		cols = append(cols, blocking(d, started))
	}
	o := newOrchestrator(cache.NewMemory(), cols, Options{TenantDeadline: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	var snap *model.PostureSnapshot
	go func() {
		var err error
		snap, err = o.Run(ctx, req)
		done <- err
	}()

	for range model.Domains() {
		<-started
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
		if snap != nil {
			t.Error("cancelled run returned a snapshot")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// stubborn never looks at its context.
func stubborn(d model.Domain, hold <-chan struct{}) collector.Collector {
	return collector.Func{D: d, Fn: func(context.Context, collector.Request) ([]collector.RawRecord, error) {
		<-hold
		return collector.DemoRecords(d), nil
	}}
}

func TestRun_DeadlineHoldsAgainstCollectorIgnoringContext(t *testing.T) {
	mem := cache.NewMemory()
	o := newOrchestrator(mem, demoCollectors(), Options{TenantDeadline: time.Second})
	if _, err := o.Run(context.Background(), req); err != nil {
		t.Fatalf("priming run: %v", err)
	}

	hold := make(chan struct{})
	defer close(hold)
	o = newOrchestrator(mem, replace(demoCollectors(), stubborn(model.DomainThreats, hold)), Options{TenantDeadline: 100 * time.Millisecond})

	start := time.Now()
	snap, err := o.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("run took %s, want it bounded by the tenant deadline", elapsed)
	}
	threats, _ := snap.Domain(model.DomainThreats)
	if threats.State != model.Cached || threats.Error == "" {
		t.Errorf("threats = %+v, want CACHED with the timeout recorded", threats)
	}
}

func TestRun_CancelHoldsAgainstCollectorIgnoringContext(t *testing.T) {
	hold := make(chan struct{})
	defer close(hold)
	o := newOrchestrator(cache.NewMemory(), replace(demoCollectors(), stubborn(model.DomainThreats, hold)), Options{TenantDeadline: time.Minute})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := o.Run(ctx, req)
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("err = %v, want context.DeadlineExceeded", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the caller's deadline")
	}
}

func TestRun_NoDomains(t *testing.T) {
	o := newOrchestrator(cache.NewMemory(), nil, Options{})
	if _, err := o.Run(context.Background(), req); !errors.Is(err, ErrNoDomains) {
		t.Errorf("err = %v, want ErrNoDomains", err)
	}
}

// Two concurrent runs for one tenant share the cache inside one TTL window.
// Every snapshot must be built from a whole payload.
func TestRun_ConcurrentSameTenant(t *testing.T) {
	var mu sync.Mutex
	flip := 0
	flaky := collector.Func{D: model.DomainDevices, Fn: func(context.Context, collector.Request) ([]collector.RawRecord, error) {
		mu.Lock()
		flip++
		n := flip
		mu.Unlock()
		if n%2 == 0 {
			return nil, &collector.TransientError{Domain: model.DomainDevices, Err: errors.New("reset")}
		}
		return []collector.RawRecord{
			collector.Metric(model.CategoryDevices, collector.MetricCompliancePercent, float64(50+n%40)),
			collector.Metric(model.CategoryDevices, collector.MetricNonCompliant, float64(n%40)),
		}, nil
	}}
	mem := cache.NewMemory()
	o := newOrchestrator(mem, replace(demoCollectors(), flaky), Options{TenantDeadline: 5 * time.Second})

	// Seed so that failing calls always have a fallback.
	if _, err := o.Run(context.Background(), req); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap, err := o.Run(context.Background(), req)
			if err != nil {
				errs <- err
				return
			}
			ds, _ := snap.Domain(model.DomainDevices)
			if ds.State != model.Live && ds.State != model.Cached {
				errs <- fmt.Errorf("devices = %s", ds.State)
				return
			}
			if ds.Records != 2 || ds.Quarantined != 0 {
				errs <- fmt.Errorf("torn devices payload: %+v", ds)
				return
			}
			cs, _ := snap.Category(model.CategoryDevices)
			if !cs.Available || cs.Score < 50 || cs.Score >= 90 {
				errs <- fmt.Errorf("devices score %v outside the written range", cs.Score)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestRunAll_TenantsAreIsolated(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]string{}
	echo := collector.Func{D: model.DomainDevices, Fn: func(_ context.Context, r collector.Request) ([]collector.RawRecord, error) {
		mu.Lock()
		seen[r.TenantID] = r.Token
		mu.Unlock()
		if r.TenantID == "fabrikam" {
			return nil, &collector.AuthorizationError{Domain: model.DomainDevices, Reason: "denied"}
		}
		return []collector.RawRecord{collector.Metric(model.CategoryDevices, collector.MetricCompliancePercent, 99)}, nil
	}}
	o := newOrchestrator(cache.NewMemory(), replace(demoCollectors(), echo), Options{MaxConcurrency: 2})

	reqs := []collector.Request{
		{TenantID: "contoso", Token: "token-contoso"},
		{TenantID: "fabrikam", Token: "token-fabrikam"},
		{TenantID: "northwind", Token: "token-northwind"},
	}
	outs := o.RunAll(context.Background(), reqs)
	if len(outs) != len(reqs) {
		t.Fatalf("got %d outcomes", len(outs))
	}
	for i, out := range outs {
		if out.TenantID != reqs[i].TenantID {
			t.Errorf("outcome %d is for %s, want %s", i, out.TenantID, reqs[i].TenantID)
		}
		if out.Err != nil {
			t.Errorf("%s: %v", out.TenantID, out.Err)
			continue
		}
		if out.Snapshot.TenantID != out.TenantID {
			t.Errorf("%s got snapshot of %s", out.TenantID, out.Snapshot.TenantID)
		}
		ds, _ := out.Snapshot.Domain(model.DomainDevices)
		want := model.Live
		if out.TenantID == "fabrikam" {
			want = model.UnavailableNoPermission
		}
		if ds.State != want {
			t.Errorf("%s devices = %s, want %s", out.TenantID, ds.State, want)
		}
	}
	for tenant, token := range seen {
		if token != "token-"+tenant {
			t.Errorf("tenant %s called with token %q", tenant, token)
		}
	}
}

func TestRunAll_CancelledContext(t *testing.T) {
	o := newOrchestrator(cache.NewMemory(), demoCollectors(), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, out := range o.RunAll(ctx, []collector.Request{req}) {
		if !errors.Is(out.Err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", out.Err)
		}
	}
}
