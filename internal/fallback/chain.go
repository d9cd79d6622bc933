package fallback

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/darkace1998/PostureLens/internal/cache"
	"github.com/darkace1998/PostureLens/internal/collector"
	"github.com/darkace1998/PostureLens/internal/config"
	"github.com/darkace1998/PostureLens/internal/logging"
	"github.com/darkace1998/PostureLens/internal/model"
)

// cacheTimeout bounds cache traffic that runs after the caller's deadline
// has already expired.
const cacheTimeout = 2 * time.Second

// Policy holds the freshness rules for one domain.
type Policy struct {
	TTL         time.Duration // entries older than this are served as stale
	StaleFactor int           // entries older than TTL × StaleFactor are not served
	Timeout     time.Duration // bound on a single live fetch; 0 means none
}

// MaxAge is the oldest cache entry the chain will serve.
func (p Policy) MaxAge() time.Duration {
	f := p.StaleFactor
	if f < 1 {
		f = 1
	}
	return p.TTL * time.Duration(f)
}

// Options configures a Chain.
type Options struct {
	Policies map[model.Domain]Policy
	Default  Policy // used for domains missing from Policies
	Demo     bool
	Logger   *logging.Logger
}

// OptionsFromConfig derives per-domain policies from the sources section.
func OptionsFromConfig(cfg config.SourcesConfig, demo bool) Options {
	opts := Options{
		Policies: make(map[model.Domain]Policy, len(cfg.TTL)),
		Default:  Policy{TTL: time.Hour, StaleFactor: cfg.StaleFactor, Timeout: cfg.CallTimeout},
		Demo:     demo,
	}
	for d, ttl := range cfg.TTL {
		opts.Policies[d] = Policy{TTL: ttl, StaleFactor: cfg.StaleFactor, Timeout: cfg.CallTimeout}
	}
	return opts
}

// Result is the tagged outcome of fetching one domain. Exactly one is
// produced per domain per run, whatever happened upstream.
type Result struct {
	Domain    model.Domain
	Records   []collector.RawRecord
	State     model.Availability
	Stale     bool
	FetchedAt time.Time     // when the payload was obtained from upstream
	Age       time.Duration // zero for LIVE and MOCK
	Err       string        // absorbed error text, empty on success
}

// Status converts the result into the snapshot's per-domain record.
func (r Result) Status() model.DomainStatus {
	return model.DomainStatus{
		Domain:     r.Domain,
		State:      r.State,
		Stale:      r.Stale,
		FetchedAt:  r.FetchedAt,
		AgeSeconds: r.Age.Seconds(),
		Records:    len(r.Records),
		Error:      r.Err,
	}
}

// Chain resolves a domain fetch through live collection, then the cache,
// then an explicit unavailable marker. It is safe for concurrent use by any
// number of tenants.
type Chain struct {
	cache      cache.Cache
	collectors map[model.Domain]collector.Collector
	opts       Options
	log        *logging.Logger
	now        func() time.Time
}

// New creates a Chain over the given cache and collectors. A nil cache
// disables the fallback tier.
func New(c cache.Cache, collectors []collector.Collector, opts Options) *Chain {
	log := opts.Logger
	if log == nil {
		log = logging.Default()
	}
	ch := &Chain{
		cache:      c,
		collectors: make(map[model.Domain]collector.Collector, len(collectors)),
		opts:       opts,
		log:        log.Named("fallback"),
		now:        time.Now,
	}
	for _, col := range collectors {
		ch.collectors[col.Domain()] = col
	}
	return ch
}

// Domains returns the domains this chain can resolve, in canonical order.
// In demo mode that is every domain.
func (c *Chain) Domains() []model.Domain {
	if c.opts.Demo {
		return model.Domains()
	}
	var out []model.Domain
	for _, d := range model.Domains() {
		if _, ok := c.collectors[d]; ok {
			out = append(out, d)
		}
	}
	return out
}

// Demo reports whether the chain serves canned payloads.
func (c *Chain) Demo() bool { return c.opts.Demo }

// Policy returns the freshness rules applied to domain.
func (c *Chain) Policy(domain model.Domain) Policy {
	if p, ok := c.opts.Policies[domain]; ok {
		return p
	}
	return c.opts.Default
}

// Fetch resolves one domain for one tenant. It never returns an error;
// failures are reported through Result.State and Result.Err.
func (c *Chain) Fetch(ctx context.Context, req collector.Request, domain model.Domain) Result {
	now := c.now()

	if c.opts.Demo {
		return Result{
			Domain:    domain,
			Records:   collector.DemoRecords(domain),
			State:     model.Mock,
			FetchedAt: now,
		}
	}

	col, ok := c.collectors[domain]
	if !ok {
		return Result{
			Domain:    domain,
			State:     model.UnavailableError,
			FetchedAt: now,
			Err:       fmt.Sprintf("no collector registered for %s", domain),
		}
	}

	pol := c.Policy(domain)
	records, err := c.collect(ctx, col, req, pol.Timeout)

	if err == nil {
		c.store(ctx, req.TenantID, domain, records, now, pol)
		return Result{
			Domain:    domain,
			Records:   records,
			State:     model.Live,
			FetchedAt: now,
		}
	}

	switch {
	case collector.IsAuthorization(err):
		c.log.Info("tenant %s: %s not configured: %v", req.TenantID, domain, err)
		return Result{
			Domain:    domain,
			State:     model.UnavailableNoPermission,
			FetchedAt: now,
			Err:       err.Error(),
		}
	case collector.IsDataIntegrity(err):
		c.log.Error("tenant %s: discarding %s payload: %v", req.TenantID, domain, err)
		return Result{
			Domain:    domain,
			State:     model.UnavailableError,
			FetchedAt: now,
			Err:       err.Error(),
		}
	}

	c.log.Warn("tenant %s: live fetch of %s failed: %v", req.TenantID, domain, err)
	if res, ok := c.load(ctx, req.TenantID, domain, pol, now); ok {
		res.Err = err.Error()
		return res
	}
	return Result{
		Domain:    domain,
		State:     model.UnavailableError,
		FetchedAt: now,
		Err:       err.Error(),
	}
}

type collected struct {
	records []collector.RawRecord
	err     error
}

// collect runs one live fetch bounded by timeout and by ctx. A collector
// that does not return in time is abandoned and reported as transient; its
// goroutine finishes in the background and the late result is dropped.
func (c *Chain) collect(ctx context.Context, col collector.Collector, req collector.Request, timeout time.Duration) ([]collector.RawRecord, error) {
	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	done := make(chan collected, 1)
	go func() {
		records, err := col.Collect(callCtx, req)
		done <- collected{records, err}
	}()

	select {
	case r := <-done:
		return r.records, r.err
	case <-callCtx.Done():
		return nil, &collector.TransientError{Domain: col.Domain(), Err: callCtx.Err()}
	}
}

// store writes a live payload through to the cache. Failures are logged.
func (c *Chain) store(ctx context.Context, tenantID string, domain model.Domain, records []collector.RawRecord, at time.Time, pol Policy) {
	if c.cache == nil {
		return
	}
	payload, err := json.Marshal(records)
	if err != nil {
		c.log.Warn("tenant %s: encoding %s for cache: %v", tenantID, domain, err)
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheTimeout)
	defer cancel()
	if err := c.cache.Set(cctx, cache.Key(tenantID, domain), cache.Entry{Payload: payload, StoredAt: at}, pol.MaxAge()); err != nil {
		c.log.Warn("tenant %s: caching %s: %v", tenantID, domain, err)
	}
}

// load returns a cached payload no older than the policy's MaxAge.
func (c *Chain) load(ctx context.Context, tenantID string, domain model.Domain, pol Policy, now time.Time) (Result, bool) {
	if c.cache == nil {
		return Result{}, false
	}
	// The tenant deadline may already have expired; the cache read still
	// gets its own short window.
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheTimeout)
	defer cancel()

	e, ok, err := c.cache.Get(cctx, cache.Key(tenantID, domain))
	if err != nil {
		c.log.Warn("tenant %s: reading cached %s: %v", tenantID, domain, err)
		return Result{}, false
	}
	if !ok {
		return Result{}, false
	}

	age := now.Sub(e.StoredAt)
	if age < 0 {
		age = 0
	}
	if age >= pol.MaxAge() {
		return Result{}, false
	}

	var records []collector.RawRecord
	if err := json.Unmarshal(e.Payload, &records); err != nil {
		c.log.Warn("tenant %s: cached %s is unreadable: %v", tenantID, domain, err)
		return Result{}, false
	}

	return Result{
		Domain:    domain,
		Records:   records,
		State:     model.Cached,
		Stale:     age > pol.TTL,
		FetchedAt: e.StoredAt,
		Age:       age,
	}, true
}
