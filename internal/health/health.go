package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/loykin/warden/internal/config"
)

// Status is the outcome class of one health probe.
type Status string

const (
	// StatusHealthy: the endpoint answered with a 2xx.
	StatusHealthy Status = "healthy"
	// StatusUnhealthy: the endpoint answered with a non-2xx.
	StatusUnhealthy Status = "unhealthy"
	// StatusUnreachable: no HTTP response arrived (refused, reset, timeout).
	StatusUnreachable Status = "unreachable"
)

// Result is one probe outcome. Code is only set when a response arrived.
type Result struct {
	Status    Status
	Code      int
	Latency   time.Duration
	CheckedAt time.Time
	Err       error
}

// Failed reports whether the probe counts toward the failure streak.
func (r Result) Failed() bool { return r.Status != StatusHealthy }

// Checker issues bounded-timeout HTTP probes against service health
// endpoints on the local host.
type Checker struct {
	client *http.Client
}

// NewChecker builds a checker with the given per-probe timeout.
func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = config.DefaultHealthTimeout
	}
	return &Checker{client: &http.Client{Timeout: timeout}}
}

// Check probes http://127.0.0.1:<port><health_path>. A timed-out or refused
// connection is an unreachable result, never an error to the caller.
func (c *Checker) Check(ctx context.Context, svc config.Service) Result {
	path := svc.HealthPath
	if path == "" {
		path = config.DefaultHealthPath
	}
	url := fmt.Sprintf("http://127.0.0.1:%d%s", svc.Port, path)

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{Status: StatusUnreachable, CheckedAt: time.Now().UTC(), Err: err}
	}
	resp, err := c.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return Result{Status: StatusUnreachable, Latency: latency, CheckedAt: time.Now().UTC(), Err: err}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	st := StatusUnhealthy
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		st = StatusHealthy
	}
	return Result{Status: st, Code: resp.StatusCode, Latency: latency, CheckedAt: time.Now().UTC()}
}

// StatusForAll probes every given service concurrently and returns results
// keyed by name.
func (c *Checker) StatusForAll(ctx context.Context, svcs []config.Service) map[string]Result {
	out := make(map[string]Result, len(svcs))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, svc := range svcs {
		wg.Add(1)
		go func(svc config.Service) {
			defer wg.Done()
			res := c.Check(ctx, svc)
			mu.Lock()
			out[svc.Name] = res
			mu.Unlock()
		}(svc)
	}
	wg.Wait()
	return out
}
