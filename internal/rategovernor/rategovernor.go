// Package rategovernor is the single process-wide regulator for all outbound
// calls made by the scraper/verifier/writer adapters: per-service token
// buckets, a per-domain minimum-delay throttle, and a failing-domain
// blocklist.
package rategovernor

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// ServiceConfig parameterises one named service's token bucket.
type ServiceConfig struct {
	RefillPerSecond float64
	Capacity        int
}

// DomainBlockedError is returned by WaitForDomain once a domain has crossed
// its consecutive-failure threshold. The governor never retries internally;
// the caller decides whether to skip the item or escalate.
type DomainBlockedError struct {
	Domain string
}

func (e *DomainBlockedError) Error() string {
	return "rategovernor: domain " + e.Domain + " is blocked"
}

type domainEntry struct {
	mu               sync.Mutex
	lastRequest      time.Time
	consecutiveFails int
	blocked          bool
}

// Governor is the RateGovernor described by the component design: it holds
// one rate.Limiter per named service and one entry per domain, each guarded
// by its own mutex so no suspension happens under a shared lock.
type Governor struct {
	minDelay           time.Duration
	failureThreshold   int

	bucketsMu sync.Mutex
	buckets   map[string]*rate.Limiter

	statsMu sync.Mutex
	stats   map[string]*Stats

	domainsMu sync.Mutex
	domains   map[string]*domainEntry
}

// Stats are read-only, per-service observability counters: total calls made
// through WaitForService and how many of those had to sleep for a token.
type Stats struct {
	Calls   int64
	Limited int64
}

// Option configures a Governor at construction time.
type Option func(*Governor)

// WithDomainMinDelay overrides the default 2s minimum gap between
// consecutive requests to the same hostname.
func WithDomainMinDelay(d time.Duration) Option {
	return func(g *Governor) { g.minDelay = d }
}

// WithDomainFailureThreshold overrides the default of 3 consecutive
// failures before a domain is blocklisted.
func WithDomainFailureThreshold(n int) Option {
	return func(g *Governor) { g.failureThreshold = n }
}

// New builds a Governor with one token bucket per entry in services.
func New(services map[string]ServiceConfig, opts ...Option) *Governor {
	g := &Governor{
		minDelay:         2 * time.Second,
		failureThreshold: 3,
		buckets:          make(map[string]*rate.Limiter, len(services)),
		stats:            make(map[string]*Stats, len(services)),
		domains:          make(map[string]*domainEntry),
	}
	for name, cfg := range services {
		g.buckets[name] = rate.NewLimiter(rate.Limit(cfg.RefillPerSecond), cfg.Capacity)
		g.stats[name] = &Stats{}
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// WaitForService blocks until a token is available for the named service.
// Unconfigured services get an unlimited limiter lazily, so a typo in a
// service name fails open rather than panicking mid-campaign.
func (g *Governor) WaitForService(ctx context.Context, service string) error {
	limiter := g.limiterFor(service)

	reservation := limiter.Reserve()
	if !reservation.OK() {
		return eris.Errorf("rategovernor: service %s: burst exceeds capacity", service)
	}
	delay := reservation.Delay()

	g.statsMu.Lock()
	g.stats[service].Calls++
	if delay > 0 {
		g.stats[service].Limited++
	}
	g.statsMu.Unlock()

	if delay <= 0 {
		return nil
	}

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		reservation.Cancel()
		return ctx.Err()
	}
}

func (g *Governor) limiterFor(service string) *rate.Limiter {
	g.bucketsMu.Lock()
	defer g.bucketsMu.Unlock()
	l, ok := g.buckets[service]
	if !ok {
		l = rate.NewLimiter(rate.Inf, 1)
		g.buckets[service] = l
		g.stats[service] = &Stats{}
	}
	return l
}

// Stats returns a snapshot of the named service's call/limited counters.
func (g *Governor) Stats(service string) Stats {
	g.statsMu.Lock()
	defer g.statsMu.Unlock()
	if s, ok := g.stats[service]; ok {
		return *s
	}
	return Stats{}
}

func (g *Governor) domainEntryFor(domain string) *domainEntry {
	g.domainsMu.Lock()
	defer g.domainsMu.Unlock()
	e, ok := g.domains[domain]
	if !ok {
		e = &domainEntry{}
		g.domains[domain] = e
	}
	return e
}

// WaitForDomain enforces the minimum gap between consecutive requests to the
// same hostname. Returns a *DomainBlockedError immediately, without waiting,
// once the domain has been blocklisted.
func (g *Governor) WaitForDomain(ctx context.Context, domain string) error {
	e := g.domainEntryFor(domain)

	e.mu.Lock()
	if e.blocked {
		e.mu.Unlock()
		return &DomainBlockedError{Domain: domain}
	}
	var wait time.Duration
	if !e.lastRequest.IsZero() {
		elapsed := time.Since(e.lastRequest)
		if elapsed < g.minDelay {
			wait = g.minDelay - elapsed
		}
	}
	e.mu.Unlock()

	if wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	e.mu.Lock()
	e.lastRequest = time.Now()
	e.mu.Unlock()
	return nil
}

// MarkDomainFailed records a failed request against a domain; once
// consecutive failures reach the configured threshold the domain moves into
// the blocklist and every subsequent WaitForDomain fails fast.
func (g *Governor) MarkDomainFailed(domain string) {
	e := g.domainEntryFor(domain)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.consecutiveFails++
	if e.consecutiveFails >= g.failureThreshold {
		e.blocked = true
	}
}

// MarkDomainSucceeded resets a domain's consecutive-failure counter.
func (g *Governor) MarkDomainSucceeded(domain string) {
	e := g.domainEntryFor(domain)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.consecutiveFails = 0
}

// IsDomainBlocked reports whether a domain is currently blocklisted.
func (g *Governor) IsDomainBlocked(domain string) bool {
	e := g.domainEntryFor(domain)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.blocked
}

// DomainOf extracts the hostname to key WaitForDomain/MarkDomainFailed by,
// from a full URL.
func DomainOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", eris.Wrapf(err, "rategovernor: parse url %s", rawURL)
	}
	if u.Hostname() == "" {
		return "", eris.Errorf("rategovernor: url %s has no hostname", rawURL)
	}
	return u.Hostname(), nil
}
