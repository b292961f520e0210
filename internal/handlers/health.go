package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/anonymous-cmd-os/palmistry/internal/health"
	"github.com/anonymous-cmd-os/palmistry/internal/platform/httpx"
)

// ReadinessReporter produces the dependency report served by /readyz.
type ReadinessReporter interface {
	Collect(ctx context.Context) health.Report
}

// HealthHandlers serves liveness and readiness probes.
type HealthHandlers struct {
	build    health.BuildInfo
	reporter ReadinessReporter
	clock    func() time.Time
}

// HealthOption customises HealthHandlers.
type HealthOption func(*HealthHandlers)

// WithHealthBuildInfo sets the build metadata echoed by both probes.
func WithHealthBuildInfo(info health.BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = info
	}
}

// WithHealthReporter wires the dependency checks used by /readyz.
func WithHealthReporter(reporter ReadinessReporter) HealthOption {
	return func(h *HealthHandlers) {
		h.reporter = reporter
	}
}

// WithHealthClock injects a custom clock primarily for tests.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewHealthHandlers constructs probe handlers. Without a reporter /readyz only reflects liveness.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{clock: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.clock()
	}
	return h
}

// Healthz reports that the process is serving.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.clock().UTC()
	payload := h.basePayload(now)
	payload["status"] = health.StatusOK
	httpx.WriteJSON(w, http.StatusOK, payload)
}

// Readyz runs the dependency checks and answers 503 unless every check is ok.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	now := h.clock().UTC()
	payload := h.basePayload(now)

	if h.reporter == nil {
		payload["status"] = health.StatusOK
		payload["checks"] = map[string]health.Check{}
		httpx.WriteJSON(w, http.StatusOK, payload)
		return
	}

	report := h.reporter.Collect(r.Context())
	payload["status"] = report.Status
	payload["checks"] = report.Checks
	if details := report.Details(); len(details) > 0 {
		payload["details"] = details
	}

	status := http.StatusOK
	if report.Status != health.StatusOK {
		status = http.StatusServiceUnavailable
	}
	httpx.WriteJSON(w, status, payload)
}

func (h *HealthHandlers) basePayload(now time.Time) map[string]any {
	payload := map[string]any{
		"uptime":    now.Sub(h.build.StartedAt).Round(time.Second).String(),
		"timestamp": now.Format(time.RFC3339),
	}
	if h.build.Version != "" {
		payload["version"] = h.build.Version
	}
	if h.build.CommitSHA != "" {
		payload["commitSha"] = h.build.CommitSHA
	}
	if h.build.Environment != "" {
		payload["environment"] = h.build.Environment
	}
	return payload
}
