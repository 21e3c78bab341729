// Package health runs named dependency checks for the health endpoints.
package health

import (
	"context"
	"database/sql"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/remoteprojobs/wallet/internal/circuitbreaker"
)

// Status is the result of one check.
type Status struct {
	Name     string `json:"name"`
	Healthy  bool   `json:"healthy"`
	Critical bool   `json:"critical"`
	Detail   string `json:"detail,omitempty"`
}

// Checker returns nil when the dependency is usable.
type Checker func(ctx context.Context) error

type check struct {
	name     string
	critical bool
	fn       Checker
}

// Registry holds named checks. A failing critical check makes the service
// not ready; a failing non-critical one only degrades the report.
type Registry struct {
	mu      sync.RWMutex
	checks  []check
	timeout time.Duration
}

// NewRegistry creates a registry whose checks each get timeout to answer.
func NewRegistry(timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Registry{timeout: timeout}
}

// Register adds a check.
func (r *Registry) Register(name string, critical bool, fn Checker) {
	r.mu.Lock()
	r.checks = append(r.checks, check{name: name, critical: critical, fn: fn})
	r.mu.Unlock()
}

// CheckAll runs every check concurrently. ready is false if any critical
// check failed.
func (r *Registry) CheckAll(ctx context.Context) (ready bool, statuses []Status) {
	r.mu.RLock()
	checks := append([]check(nil), r.checks...)
	r.mu.RUnlock()

	statuses = make([]Status, len(checks))
	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Add(1)
		go func(i int, c check) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, r.timeout)
			defer cancel()

			st := Status{Name: c.name, Critical: c.critical, Healthy: true}
			if err := c.fn(cctx); err != nil {
				st.Healthy = false
				st.Detail = err.Error()
			}
			statuses[i] = st
		}(i, c)
	}
	wg.Wait()

	ready = true
	for _, st := range statuses {
		if st.Critical && !st.Healthy {
			ready = false
		}
	}
	return ready, statuses
}

// Database checks a SQL connection pool.
func Database(db *sql.DB) Checker {
	return func(ctx context.Context) error {
		return db.PingContext(ctx)
	}
}

// Pinger is anything with a context-aware Ping, such as the redis locker.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping wraps a Pinger.
func Ping(p Pinger) Checker {
	return p.Ping
}

// Breaker reports an open circuit as unhealthy.
func Breaker(b *circuitbreaker.Breaker, key string) Checker {
	return func(context.Context) error {
		if b.State(key) == circuitbreaker.StateOpen {
			return circuitbreaker.ErrOpen
		}
		return nil
	}
}

// Handler serves the aggregated report: 200 when ready, 503 otherwise.
func (r *Registry) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ready, statuses := r.CheckAll(c.Request.Context())
		status := "healthy"
		code := http.StatusOK
		switch {
		case !ready:
			status = "unhealthy"
			code = http.StatusServiceUnavailable
		case degraded(statuses):
			status = "degraded"
		}
		c.JSON(code, gin.H{"status": status, "checks": statuses})
	}
}

// ReadyHandler answers 200 or 503 without the per-check breakdown.
func (r *Registry) ReadyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if ready, _ := r.CheckAll(c.Request.Context()); !ready {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}

// LiveHandler always answers 200 while the process serves requests.
func LiveHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func degraded(statuses []Status) bool {
	for _, st := range statuses {
		if !st.Healthy {
			return true
		}
	}
	return false
}
