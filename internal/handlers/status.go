package handlers

import (
	"net/http"
	"sort"

	"github.com/mpreston/gatekeeper/internal/services"
	pkghttp "github.com/mpreston/gatekeeper/pkg/http"
)

// StatsProvider exposes admission counters for the status endpoint.
type StatsProvider interface {
	Snapshot() services.Stats
}

// IgnoreListManager manages the addresses exempt from admission checks.
type IgnoreListManager interface {
	AddIgnored(ip string) bool
	Ignored() []string
}

// StatusHandler handles operator API HTTP requests.
type StatusHandler struct {
	stats   StatsProvider
	ignores IgnoreListManager
}

// NewStatusHandler creates a new StatusHandler.
func NewStatusHandler(stats StatsProvider, ignores IgnoreListManager) *StatusHandler {
	return &StatusHandler{stats: stats, ignores: ignores}
}

// HealthCheck handles GET /health
func (h *StatusHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetStats handles GET /v1/stats
func (h *StatusHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	pkghttp.WriteJSON(w, http.StatusOK, h.stats.Snapshot())
}

// IgnoredListResponse is the body of GET /v1/ignored.
type IgnoredListResponse struct {
	Addresses []string `json:"addresses"`
}

// ListIgnored handles GET /v1/ignored
func (h *StatusHandler) ListIgnored(w http.ResponseWriter, r *http.Request) {
	addrs := h.ignores.Ignored()
	sort.Strings(addrs)
	if addrs == nil {
		addrs = []string{}
	}
	pkghttp.WriteJSON(w, http.StatusOK, IgnoredListResponse{Addresses: addrs})
}

// AddIgnoredRequest is the body of POST /v1/ignored.
type AddIgnoredRequest struct {
	Address string `json:"address" validate:"required,ip"`
}

// AddIgnored handles POST /v1/ignored
func (h *StatusHandler) AddIgnored(w http.ResponseWriter, r *http.Request) {
	var req AddIgnoredRequest
	if err := pkghttp.DecodeJSON(r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if !h.ignores.AddIgnored(req.Address) {
		pkghttp.WriteConflict(w, "Address is already ignored")
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, map[string]string{"address": req.Address})
}
