// Package ratelimit throttles the endpoints that start model work, using a
// token bucket per client and rule.
package ratelimit

import (
	"path"
	"sync"
	"time"
)

// tokenBucket allows capacity requests in a burst and refills steadily.
type tokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	refillRate float64 // tokens per second
	tokens     float64
	lastRefill time.Time
}

func newTokenBucket(capacity int, refillRate float64, now time.Time) *tokenBucket {
	return &tokenBucket{
		capacity:   float64(capacity),
		refillRate: refillRate,
		tokens:     float64(capacity),
		lastRefill: now,
	}
}

// take refills the bucket up to now and consumes a token if one is available.
func (b *tokenBucket) take(now time.Time) (allowed bool, remaining int, retryAfter time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens = min(b.capacity, b.tokens+elapsed*b.refillRate)
		b.lastRefill = now
	}
	if b.tokens >= 1 {
		b.tokens--
		return true, int(b.tokens), 0
	}
	wait := (1 - b.tokens) / b.refillRate
	return false, 0, time.Duration(wait * float64(time.Second))
}

// Rule limits requests whose method matches and whose path matches Pattern
// (path.Match syntax, so "*" stands for one path segment).
type Rule struct {
	Method  string
	Pattern string
	Limit   int
	Window  time.Duration
	// Burst defaults to Limit
	Burst int
}

// Config holds rate limiting configuration.
type Config struct {
	Enabled         bool
	Rules           []Rule
	CleanupInterval time.Duration
	// IdleTTL is how long an unused bucket is kept
	IdleTTL time.Duration
}

// PipelineRules limits run starts and resumes to perHour per client
func PipelineRules(perHour int) []Rule {
	burst := max(1, perHour/5)
	return []Rule{
		{Method: "POST", Pattern: "/pipeline/start", Limit: perHour, Window: time.Hour, Burst: burst},
		{Method: "POST", Pattern: "/pipeline/*/resume", Limit: perHour, Window: time.Hour, Burst: burst},
	}
}

// Info describes the outcome of a check
type Info struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

type entry struct {
	bucket   *tokenBucket
	lastUsed time.Time
}

// Limiter manages token buckets for many clients.
type Limiter struct {
	config Config
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*entry

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewLimiter creates a limiter. When cleanup is configured a background
// goroutine evicts idle buckets until Stop is called.
func NewLimiter(cfg Config) *Limiter {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = time.Hour
	}
	l := &Limiter{
		config:  cfg,
		now:     time.Now,
		buckets: make(map[string]*entry),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if cfg.Enabled && cfg.CleanupInterval > 0 {
		go l.cleanup(cfg.CleanupInterval)
	} else {
		close(l.done)
	}
	return l
}

// Allow checks a request from clientID. Requests no rule matches are always allowed.
func (l *Limiter) Allow(clientID, method, requestPath string) Info {
	if !l.config.Enabled {
		return Info{Allowed: true}
	}
	rule, ok := l.match(method, requestPath)
	if !ok || rule.Limit <= 0 {
		return Info{Allowed: true}
	}

	now := l.now()
	key := clientID + " " + rule.Method + " " + rule.Pattern

	l.mu.Lock()
	e, exists := l.buckets[key]
	if !exists {
		burst := rule.Burst
		if burst <= 0 {
			burst = rule.Limit
		}
		e = &entry{bucket: newTokenBucket(burst, float64(rule.Limit)/rule.Window.Seconds(), now)}
		l.buckets[key] = e
	}
	e.lastUsed = now
	l.mu.Unlock()

	allowed, remaining, retry := e.bucket.take(now)
	return Info{Allowed: allowed, Limit: rule.Limit, Remaining: remaining, RetryAfter: retry}
}

func (l *Limiter) match(method, requestPath string) (Rule, bool) {
	for _, r := range l.config.Rules {
		if r.Method != method {
			continue
		}
		if ok, _ := path.Match(r.Pattern, requestPath); ok {
			return r, true
		}
	}
	return Rule{}, false
}

func (l *Limiter) cleanup(interval time.Duration) {
	defer close(l.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.evictIdle()
		case <-l.stop:
			return
		}
	}
}

// evictIdle removes buckets unused for longer than IdleTTL
func (l *Limiter) evictIdle() {
	cutoff := l.now().Add(-l.config.IdleTTL)
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, e := range l.buckets {
		if e.lastUsed.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
}

// Stop ends the cleanup goroutine and waits for it to exit. Safe to call twice.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
	<-l.done
}
