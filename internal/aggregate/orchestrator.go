package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/darkace1998/PostureLens/internal/collector"
	"github.com/darkace1998/PostureLens/internal/fallback"
	"github.com/darkace1998/PostureLens/internal/logging"
	"github.com/darkace1998/PostureLens/internal/model"
	"github.com/darkace1998/PostureLens/internal/normalize"
)

// ErrNoDomains is returned when there is nothing to collect.
var ErrNoDomains = errors.New("no domains registered")

// Resolver fetches one domain for one tenant and always produces a result.
// *fallback.Chain is the production implementation.
type Resolver interface {
	Domains() []model.Domain
	Fetch(ctx context.Context, req collector.Request, domain model.Domain) fallback.Result
}

// Options configures an Orchestrator.
type Options struct {
	// TenantDeadline bounds one tenant run. Domains still pending when it
	// expires resolve through the cache fallback.
	TenantDeadline time.Duration
	// MaxConcurrency limits how many tenants RunAll processes at once;
	// 0 means no limit.
	MaxConcurrency int
	Logger         *logging.Logger
}

// Orchestrator fans a tenant run out across every domain and assembles the
// results into a snapshot once all of them have resolved.
type Orchestrator struct {
	resolver Resolver
	norm     *normalize.Normalizer
	opts     Options
	log      *logging.Logger
	now      func() time.Time
}

// New creates an Orchestrator.
func New(r Resolver, norm *normalize.Normalizer, opts Options) *Orchestrator {
	log := opts.Logger
	if log == nil {
		log = logging.Default()
	}
	return &Orchestrator{
		resolver: r,
		norm:     norm,
		opts:     opts,
		log:      log.Named("aggregate"),
		now:      time.Now,
	}
}

// Run collects every domain for one tenant concurrently and returns the
// merged snapshot. A failing domain never fails the run. Cancelling ctx
// aborts all in-flight fetches and returns ctx's error without a snapshot.
func (o *Orchestrator) Run(ctx context.Context, req collector.Request) (*model.PostureSnapshot, error) {
	domains := o.resolver.Domains()
	if len(domains) == 0 {
		return nil, ErrNoDomains
	}

	capturedAt := o.now()
	runCtx := ctx
	if o.opts.TenantDeadline > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.opts.TenantDeadline)
		defer cancel()
	}

	// Each goroutine owns one slot, so results needs no lock.
	results := make([]fallback.Result, len(domains))
	var wg sync.WaitGroup
	for i, d := range domains {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = o.resolver.Fetch(runCtx, req, d)
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("tenant %s: run aborted: %w", req.TenantID, err)
	}

	snap := o.norm.Snapshot(req.TenantID, capturedAt, results)
	live := 0
	for _, ds := range snap.Domains {
		if ds.State.Usable() {
			live++
		}
	}
	o.log.Info("tenant %s: %d/%d domains usable in %s", req.TenantID, live, len(domains), o.now().Sub(capturedAt).Round(time.Millisecond))
	return snap, nil
}

// Outcome is the result of one tenant inside RunAll.
type Outcome struct {
	TenantID string
	Snapshot *model.PostureSnapshot
	Err      error
}

// RunAll runs every request concurrently, at most MaxConcurrency at a time,
// and returns one outcome per request in input order. A failing tenant does
// not affect the others.
func (o *Orchestrator) RunAll(ctx context.Context, reqs []collector.Request) []Outcome {
	out := make([]Outcome, len(reqs))
	var g errgroup.Group
	if o.opts.MaxConcurrency > 0 {
		g.SetLimit(o.opts.MaxConcurrency)
	}
	for i, req := range reqs {
		g.Go(func() error {
			snap, err := o.Run(ctx, req)
			out[i] = Outcome{TenantID: req.TenantID, Snapshot: snap, Err: err}
			return nil
		})
	}
	// Failures are reported per tenant in out, never through the group.
	g.Wait()
	return out
}
