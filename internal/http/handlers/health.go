package handlers

import (
	"net/http"

	"github.com/iago/outreach-dashboard-back/internal/service"
)

func (api *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"processes": len(api.processes.List(service.ProcessFilter{})),
	})
}
