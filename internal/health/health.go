package health

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

const defaultDependencyTimeout = 1500 * time.Millisecond

const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusError    = "error"
)

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// Check is the outcome of one dependency probe.
type Check struct {
	Status    string        `json:"status"`
	Detail    string        `json:"detail,omitempty"`
	Error     string        `json:"error,omitempty"`
	Latency   time.Duration `json:"-"`
	CheckedAt time.Time     `json:"checkedAt"`
}

// Report aggregates every dependency probe.
type Report struct {
	Status      string
	Checks      map[string]Check
	GeneratedAt time.Time
}

// Details lists "<name>: <error>" for every failing check in name order.
func (r Report) Details() []string {
	names := make([]string, 0, len(r.Checks))
	for name := range r.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	var out []string
	for _, name := range names {
		check := r.Checks[name]
		if check.Status == StatusOK {
			continue
		}
		msg := check.Error
		if msg == "" {
			msg = check.Detail
		}
		out = append(out, fmt.Sprintf("%s: %s", name, msg))
	}
	return out
}

// DependencyCheck describes a dependency probe executed during readiness checks.
type DependencyCheck struct {
	Name    string
	Timeout time.Duration
	Check   func(context.Context) error
}

// Option customises the behaviour of the checker.
type Option func(*Checker)

// WithDependencyTimeout overrides the default timeout applied when a check omits its own timeout.
func WithDependencyTimeout(timeout time.Duration) Option {
	return func(c *Checker) {
		if timeout > 0 {
			c.defaultTimeout = timeout
		}
	}
}

// WithClock injects a custom clock primarily for tests.
func WithClock(clock func() time.Time) Option {
	return func(c *Checker) {
		if clock != nil {
			c.now = clock
		}
	}
}

// Checker runs every dependency probe concurrently, each under its own timeout.
type Checker struct {
	checks         []DependencyCheck
	defaultTimeout time.Duration
	now            func() time.Time
}

// NewChecker validates and stores the check set.
func NewChecker(checks []DependencyCheck, opts ...Option) (*Checker, error) {
	if len(checks) == 0 {
		return nil, errors.New("health: at least one dependency check is required")
	}
	for _, check := range checks {
		if strings.TrimSpace(check.Name) == "" {
			return nil, errors.New("health: dependency check missing name")
		}
		if check.Check == nil {
			return nil, fmt.Errorf("health: dependency %s missing check function", check.Name)
		}
	}

	c := &Checker{
		checks:         make([]DependencyCheck, len(checks)),
		defaultTimeout: defaultDependencyTimeout,
		now:            time.Now,
	}
	copy(c.checks, checks)

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Collect runs the probes and folds them into a report. Any error makes the report "error";
// otherwise any failing probe makes it "degraded".
func (c *Checker) Collect(ctx context.Context) Report {
	results := make(map[string]Check, len(c.checks))
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	wg.Add(len(c.checks))
	for _, check := range c.checks {
		go func() {
			defer wg.Done()
			result := c.run(ctx, check)
			mu.Lock()
			results[check.Name] = result
			mu.Unlock()
		}()
	}
	wg.Wait()

	status := StatusOK
	for _, result := range results {
		if result.Status != StatusOK {
			if result.Status == StatusError {
				status = StatusError
				break
			}
			status = StatusDegraded
		}
	}

	return Report{
		Status:      status,
		Checks:      results,
		GeneratedAt: c.now(),
	}
}

func (c *Checker) run(ctx context.Context, check DependencyCheck) Check {
	timeout := check.Timeout
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := c.now()
	err := check.Check(checkCtx)
	end := c.now()

	result := Check{
		Status:    StatusOK,
		Detail:    "ok",
		Latency:   end.Sub(start),
		CheckedAt: end,
	}
	switch {
	case err == nil && checkCtx.Err() != nil:
		// timed out without returning an error
		result.Status = StatusError
		result.Detail = checkCtx.Err().Error()
		result.Error = checkCtx.Err().Error()
	case err == nil:
	case errors.Is(err, context.Canceled):
		result.Status = StatusError
		result.Detail = "cancelled"
		result.Error = err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		result.Status = StatusError
		result.Detail = "timeout"
		result.Error = err.Error()
	default:
		result.Status = StatusDegraded
		result.Detail = err.Error()
		result.Error = err.Error()
	}
	return result
}
