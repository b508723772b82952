package handlers

import (
	"net/http"
	"strings"

	domain "github.com/campus-brew/api/internal/domain"
	"github.com/campus-brew/api/internal/platform/httpx"
	"github.com/campus-brew/api/internal/services"
)

// HealthHandlers serves liveness and readiness probes.
type HealthHandlers struct {
	system services.SystemService
}

// NewHealthHandlers constructs probe handlers; system may be nil for bare liveness.
func NewHealthHandlers(system services.SystemService) *HealthHandlers {
	return &HealthHandlers{system: system}
}

// Healthz reports process liveness without touching dependencies.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(r.Context(), w, http.StatusOK, map[string]any{"status": domain.HealthStatusOK})
}

// Readyz collects dependency probes; anything short of ok returns 503 so the
// platform stops routing traffic here.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h == nil || h.system == nil {
		httpx.WriteError(ctx, w, httpx.NewError("not_ready", "health service unavailable", http.StatusServiceUnavailable))
		return
	}

	report, err := h.system.Health(ctx)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("not_ready", "health collection failed", http.StatusServiceUnavailable))
		return
	}

	status := http.StatusOK
	if report.Status != domain.HealthStatusOK {
		status = http.StatusServiceUnavailable
	}

	checks := make(map[string]healthCheckPayload, len(report.Checks))
	for name, check := range report.Checks {
		checks[name] = healthCheckPayload{
			Status:  check.Status,
			Detail:  strings.TrimSpace(check.Detail),
			Error:   strings.TrimSpace(check.Error),
			Latency: check.Latency.String(),
		}
	}

	httpx.WriteJSON(ctx, w, status, healthReportPayload{
		Status:      report.Status,
		Version:     report.Version,
		CommitSHA:   report.CommitSHA,
		Environment: report.Environment,
		Uptime:      report.Uptime.String(),
		GeneratedAt: formatTime(report.GeneratedAt),
		Checks:      checks,
	})
}

type healthReportPayload struct {
	Status      string                        `json:"status"`
	Version     string                        `json:"version,omitempty"`
	CommitSHA   string                        `json:"commit_sha,omitempty"`
	Environment string                        `json:"environment,omitempty"`
	Uptime      string                        `json:"uptime,omitempty"`
	GeneratedAt string                        `json:"generated_at,omitempty"`
	Checks      map[string]healthCheckPayload `json:"checks"`
}

type healthCheckPayload struct {
	Status  string `json:"status"`
	Detail  string `json:"detail,omitempty"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency,omitempty"`
}
