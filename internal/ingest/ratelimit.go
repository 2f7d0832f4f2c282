package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

const (
	projectRateKeyPrefix = "csp:rl:" // Window counter per project: csp:rl:{project_id}

	visitorTTL    = 10 * time.Minute
	sweepInterval = time.Minute
)

// SourceLimiter throttles report sources (client IPs) in-process. One
// token bucket per source, swept opportunistically so the map cannot
// grow without bound.
type SourceLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	perSecond rate.Limit
	burst     int
	lastSweep time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewSourceLimiter(perSecond float64, burst int) *SourceLimiter {
	if perSecond <= 0 {
		perSecond = 5
	}
	if burst <= 0 {
		burst = 20
	}
	return &SourceLimiter{
		visitors:  make(map[string]*visitor),
		perSecond: rate.Limit(perSecond),
		burst:     burst,
		lastSweep: time.Now(),
	}
}

// Allow reports whether the source may deliver another report now.
func (l *SourceLimiter) Allow(source string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.lastSweep) > sweepInterval {
		l.sweep(now)
	}

	v, ok := l.visitors[source]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.perSecond, l.burst)}
		l.visitors[source] = v
	}
	v.lastSeen = now

	return v.limiter.Allow()
}

// sweep drops sources that went quiet. Caller holds the lock.
func (l *SourceLimiter) sweep(now time.Time) {
	for source, v := range l.visitors {
		if now.Sub(v.lastSeen) > visitorTTL {
			delete(l.visitors, source)
		}
	}
	l.lastSweep = now
}

// ProjectLimiter caps each project's total report volume per window,
// shared across instances through Redis.
type ProjectLimiter struct {
	client *redis.Client
	max    int64
	window time.Duration
}

func NewProjectLimiter(client *redis.Client, max int64, window time.Duration) *ProjectLimiter {
	if max <= 0 {
		max = 6000
	}
	if window <= 0 {
		window = time.Minute
	}
	return &ProjectLimiter{client: client, max: max, window: window}
}

// Allow counts one delivery against the project's window. Redis being
// unreachable fails open: reports are worth more than the cap, so the
// error is returned for logging and the delivery passes.
func (l *ProjectLimiter) Allow(ctx context.Context, projectID string) (bool, error) {
	key := projectRateKeyPrefix + projectID

	pipe := l.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, fmt.Errorf("project rate limit: %w", err)
	}

	return incr.Val() <= l.max, nil
}
