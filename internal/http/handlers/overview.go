package handlers

import (
	"net/http"

	"github.com/iago/outreach-dashboard-back/internal/domain"
	"github.com/iago/outreach-dashboard-back/internal/service"
)

type overviewResponse struct {
	Metrics service.Metrics `json:"metrics"`
	Board   struct {
		NotStarted []processResponse `json:"not_started"`
		InProgress []processResponse `json:"in_progress"`
		Completed  []processResponse `json:"completed"`
	} `json:"board"`
	Clients []domain.PrioritizedClient `json:"prioritized_clients"`
}

func (api *API) Overview(w http.ResponseWriter, r *http.Request) {
	overview, err := api.overview.Overview(r.Context())
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}

	var response overviewResponse
	response.Metrics = overview.Metrics
	response.Board.NotStarted = toProcessResponses(overview.Board.NotStarted)
	response.Board.InProgress = toProcessResponses(overview.Board.InProgress)
	response.Board.Completed = toProcessResponses(overview.Board.Completed)
	response.Clients = overview.Clients
	writeJSON(w, http.StatusOK, response)
}

func (api *API) PrioritizedClients(w http.ResponseWriter, r *http.Request) {
	clients, err := api.clients.Prioritized(r.Context())
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"clients": clients})
}

func (api *API) GetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.settings.Get())
}

func (api *API) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var patch service.SettingsPatch
	if err := decodeJSON(r, &patch); err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	settings, err := api.settings.Update(patch)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}
