package breaker

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// State 熔断器状态
type State byte

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	}
	return "unknown"
}

var (
	// ErrOpen is returned when the breaker rejects a call without invoking
	// the downstream and neither cache nor fallback could serve it.
	ErrOpen = errors.New("circuit breaker open")
)

// Config tunes a single breaker instance.
type Config struct {
	Name string

	// Failures within Window that trip the breaker.
	FailureThreshold int
	// Consecutive half-open successes that close it again.
	SuccessThreshold int
	// Time in Open before a probe call is allowed through.
	Timeout time.Duration
	// Sliding window over which failures are counted.
	Window time.Duration

	// Retries per call, with exponential backoff starting at RetryBackoff.
	// Zero means the default; negative disables retries.
	MaxRetries   int
	RetryBackoff time.Duration

	// Ignore marks errors that are not dependency failures (a key miss,
	// say). They return to the caller as-is: no retries, no degraded
	// serving, no effect on the breaker state.
	Ignore func(error) bool

	// Last-known-good cache.
	CacheSize int
	CacheTTL  time.Duration
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 3
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.Window <= 0 {
		c.Window = 300 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	} else if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 50 * time.Millisecond
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 1000
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 300 * time.Second
	}
	return c
}

// Fn is one attempt against the wrapped dependency.
type Fn[T any] func(ctx context.Context) (T, error)

// Result carries the value and whether it was served from the breaker's
// last-known-good cache instead of the live dependency.
type Result[T any] struct {
	Value     T
	FromCache bool
}

// Breaker wraps a single downstream dependency. Safe for concurrent use.
type Breaker[T any] struct {
	cfg   Config
	cache *expirable.LRU[string, T]

	mu            sync.Mutex
	state         State
	failures      []time.Time
	lastFailureAt time.Time
	halfOpenOK    int

	metrics Metrics
}

func New[T any](cfg Config) *Breaker[T] {
	cfg = cfg.withDefaults()
	return &Breaker[T]{
		cfg:   cfg,
		cache: expirable.NewLRU[string, T](cfg.CacheSize, nil, cfg.CacheTTL),
		state: StateClosed,
	}
}

// State reports the current state, applying the Open→HalfOpen timeout.
func (b *Breaker[T]) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked(time.Now())
}

func (b *Breaker[T]) stateLocked(now time.Time) State {
	if b.state == StateOpen && now.Sub(b.lastFailureAt) >= b.cfg.Timeout {
		b.state = StateHalfOpen
		b.halfOpenOK = 0
		log.Printf("[Breaker] %s: open -> half_open", b.cfg.Name)
	}
	return b.state
}

// Call runs fn through the breaker. cacheKey may be empty to skip caching;
// fallback may be nil. While Open, calls fail fast: a cache hit is returned
// with FromCache set, otherwise fallback runs, otherwise ErrOpen.
func (b *Breaker[T]) Call(ctx context.Context, cacheKey string, fn Fn[T], fallback Fn[T]) (Result[T], error) {
	b.metrics.Calls.Add(1)

	b.mu.Lock()
	st := b.stateLocked(time.Now())
	b.mu.Unlock()

	if st == StateOpen {
		return b.serveDegraded(ctx, cacheKey, fallback, ErrOpen)
	}

	start := time.Now()
	val, err := b.attempt(ctx, fn)
	b.metrics.observeLatency(time.Since(start))

	if err != nil {
		if b.cfg.Ignore != nil && b.cfg.Ignore(err) {
			b.recordSuccess()
			return Result[T]{}, err
		}
		b.recordFailure()
		b.metrics.Failures.Add(1)
		return b.serveDegraded(ctx, cacheKey, fallback, err)
	}

	b.recordSuccess()
	if cacheKey != "" {
		b.cache.Add(cacheKey, val)
	}
	return Result[T]{Value: val}, nil
}

// attempt runs fn with exponential-backoff retries.
func (b *Breaker[T]) attempt(ctx context.Context, fn Fn[T]) (T, error) {
	var (
		val T
		err error
	)
	backoff := b.cfg.RetryBackoff
	for i := 0; i <= b.cfg.MaxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return val, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		val, err = fn(ctx)
		if err == nil {
			return val, nil
		}
		if ctx.Err() != nil {
			return val, err
		}
		if b.cfg.Ignore != nil && b.cfg.Ignore(err) {
			return val, err
		}
	}
	return val, err
}

func (b *Breaker[T]) serveDegraded(ctx context.Context, cacheKey string, fallback Fn[T], cause error) (Result[T], error) {
	if cacheKey != "" {
		if val, ok := b.cache.Get(cacheKey); ok {
			b.metrics.CacheHits.Add(1)
			return Result[T]{Value: val, FromCache: true}, nil
		}
	}
	if fallback != nil {
		b.metrics.FallbackUses.Add(1)
		val, err := fallback(ctx)
		if err != nil {
			var zero T
			return Result[T]{Value: zero}, err
		}
		return Result[T]{Value: val}, nil
	}
	var zero T
	return Result[T]{Value: zero}, cause
}

func (b *Breaker[T]) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.lastFailureAt = now

	if b.state == StateHalfOpen {
		b.state = StateOpen
		b.metrics.Opens.Add(1)
		log.Printf("[Breaker] %s: half_open -> open", b.cfg.Name)
		return
	}

	// Prune the sliding window, then count this failure.
	cutoff := now.Add(-b.cfg.Window)
	kept := b.failures[:0]
	for _, t := range b.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.failures = append(kept, now)

	if b.state == StateClosed && len(b.failures) >= b.cfg.FailureThreshold {
		b.state = StateOpen
		b.metrics.Opens.Add(1)
		log.Printf("[Breaker] %s: closed -> open (%d failures in window)", b.cfg.Name, len(b.failures))
	}
}

func (b *Breaker[T]) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.halfOpenOK++
		if b.halfOpenOK >= b.cfg.SuccessThreshold {
			b.state = StateClosed
			b.failures = nil
			b.halfOpenOK = 0
			b.metrics.Closes.Add(1)
			log.Printf("[Breaker] %s: half_open -> closed", b.cfg.Name)
		}
	}
}

// Metrics returns a point-in-time copy of the breaker's counters.
func (b *Breaker[T]) Metrics() MetricsSnapshot {
	return b.metrics.snapshot()
}
