package api

import (
	"context"
	"net/http"
	"time"

	"github.com/okian/resultportal/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthSource is what the health handler inspects.
type HealthSource interface {
	Backend() string
	Ping(ctx context.Context) error
	Uptime() time.Duration
}

type healthResponse struct {
	Status        string  `json:"status"`
	Storage       string  `json:"storage"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Error         string  `json:"error,omitempty"`
}

// HealthHandler handles health and metrics requests.
type HealthHandler struct {
	src     HealthSource
	metrics http.Handler
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(src HealthSource) *HealthHandler {
	return &HealthHandler{
		src:     src,
		metrics: promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}),
	}
}

// HandleHealth handles GET /healthz. A failing store ping answers 503.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:        "ok",
		Storage:       h.src.Backend(),
		UptimeSeconds: h.src.Uptime().Seconds(),
	}
	if err := h.src.Ping(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.Error = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleMetrics serves the Prometheus exposition from the portal registry.
func (h *HealthHandler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	h.metrics.ServeHTTP(w, r)
}
