package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/zsiec/lookout/pkg/version"
)

const checkTimeout = 10 * time.Second

// Response is the body served on /health.
type Response struct {
	Status    Status            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
	Checks    map[string]*Check `json:"checks,omitempty"`
}

type statusResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Handler serves the /health, /ready and /live probes for the control API.
type Handler struct {
	manager *Manager
	started time.Time
}

func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager, started: time.Now()}
}

// HandleHealth runs every registered check and reports the aggregate.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	checks := h.manager.RunChecks(ctx)
	status := h.manager.GetOverallStatus()

	h.writeJSON(w, httpStatus(status), Response{
		Status:    status,
		Timestamp: time.Now(),
		Version:   version.Version,
		Uptime:    formatUptime(time.Since(h.started)),
		Checks:    checks,
	})
}

// HandleReady answers from the last check run. Before any run the
// session counts as down.
func (h *Handler) HandleReady(w http.ResponseWriter, r *http.Request) {
	status := h.manager.GetOverallStatus()
	h.writeJSON(w, httpStatus(status), statusResponse{Status: string(status), Timestamp: time.Now()})
}

func (h *Handler) HandleLive(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, statusResponse{Status: "alive", Timestamp: time.Now()})
}

// httpStatus maps an aggregate status onto a probe response code.
// Degraded stays 200 so a buffering session is not restarted.
func httpStatus(s Status) int {
	if s == StatusDown {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

func formatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return d.Truncate(time.Second).String()
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.manager.logger.WithError(err).Error("Failed to encode health response")
	}
}
