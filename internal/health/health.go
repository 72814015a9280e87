// Package health provides a registry of named dependency checks used by the
// readiness endpoint.
package health

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/fashun/riskguard/internal/circuitbreaker"
)

// Status represents the health of a single dependency.
type Status struct {
	Name     string `json:"name"`
	Healthy  bool   `json:"healthy"`
	Critical bool   `json:"critical"`
	Detail   string `json:"detail,omitempty"`
	Latency  string `json:"latency,omitempty"`
}

// Checker checks one dependency.
type Checker func(ctx context.Context) Status

// Registry holds named checkers and runs them on demand.
type Registry struct {
	mu       sync.RWMutex
	checkers []namedChecker
	timeout  time.Duration
}

type namedChecker struct {
	name     string
	critical bool
	check    Checker
}

// NewRegistry creates a registry whose checks are each bounded by timeout
// (2s when zero).
func NewRegistry(timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Registry{timeout: timeout}
}

// Register adds a critical checker. A failing critical check makes the
// service not ready.
func (r *Registry) Register(name string, check Checker) {
	r.add(name, true, check)
}

// RegisterOptional adds a checker that is reported but never fails
// readiness. Fail-open analyzers belong here.
func (r *Registry) RegisterOptional(name string, check Checker) {
	r.add(name, false, check)
}

func (r *Registry) add(name string, critical bool, check Checker) {
	r.mu.Lock()
	r.checkers = append(r.checkers, namedChecker{name: name, critical: critical, check: check})
	r.mu.Unlock()
}

// CheckAll runs every checker concurrently. healthy is false only if a
// critical checker failed.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	checkers := make([]namedChecker, len(r.checkers))
	copy(checkers, r.checkers)
	r.mu.RUnlock()

	statuses = make([]Status, len(checkers))
	g, gctx := errgroup.WithContext(ctx)
	for i, nc := range checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, r.timeout)
			defer cancel()
			start := time.Now()
			st := nc.check(cctx)
			st.Name = nc.name
			st.Critical = nc.critical
			st.Latency = time.Since(start).Round(time.Microsecond).String()
			statuses[i] = st
			return nil
		})
	}
	_ = g.Wait()

	healthy = true
	for _, st := range statuses {
		if st.Critical && !st.Healthy {
			healthy = false
		}
	}
	return healthy, statuses
}

// DBCheck pings a database.
func DBCheck(db *sql.DB) Checker {
	return func(ctx context.Context) Status {
		if err := db.PingContext(ctx); err != nil {
			return Status{Healthy: false, Detail: err.Error()}
		}
		return Status{Healthy: true}
	}
}

// RedisCheck pings a Redis client.
func RedisCheck(client redis.Cmdable) Checker {
	return func(ctx context.Context) Status {
		if err := client.Ping(ctx).Err(); err != nil {
			return Status{Healthy: false, Detail: err.Error()}
		}
		return Status{Healthy: true}
	}
}

// BreakerCheck reports the circuit state for key. Only a closed circuit
// counts as healthy.
func BreakerCheck(b *circuitbreaker.Breaker, key string) Checker {
	return func(context.Context) Status {
		st := b.State(key)
		return Status{Healthy: st == circuitbreaker.StateClosed, Detail: "circuit " + st.String()}
	}
}
