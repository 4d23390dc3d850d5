package api

import "net/http"

// GetStatus handles GET /api/status
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status := h.stats.Snapshot()
	status.KnownServers = h.directory.Len()

	h.respondJSON(w, http.StatusOK, status)
}

// ListServers handles GET /api/servers
func (h *Handler) ListServers(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.directory.Snapshot())
}
