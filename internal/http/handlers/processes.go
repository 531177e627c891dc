package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/iago/outreach-dashboard-back/internal/domain"
	"github.com/iago/outreach-dashboard-back/internal/service"
)

type createProcessRequest struct {
	Name       string `json:"name"`
	TotalItems *int   `json:"total_items,omitempty"`
	TargetDate string `json:"target_date,omitempty"`
}

type updateProcessRequest struct {
	Name *string `json:"name"`
}

func (api *API) ListProcesses(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	sortKey, err := service.ParseSortKey(query.Get("sort"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	status := domain.ProcessStatus(strings.TrimSpace(query.Get("status")))
	if status != "" && status != "all" && !status.Valid() {
		api.writeServiceError(w, r, domain.NewValidationError("status", "unknown status"))
		return
	}
	if status == "all" {
		status = ""
	}

	processes := api.processes.List(service.ProcessFilter{
		Search: query.Get("q"),
		Status: status,
		Sort:   sortKey,
	})
	writeJSON(w, http.StatusOK, map[string]any{"processes": toProcessResponses(processes)})
}

// CreateProcess honours an optional Idempotency-Key: a replay with the same
// payload returns the process created the first time.
func (api *API) CreateProcess(w http.ResponseWriter, r *http.Request) {
	var request createProcessRequest
	if err := decodeJSON(r, &request); err != nil {
		api.writeServiceError(w, r, err)
		return
	}

	draft := domain.ProcessDraft{Name: request.Name, TotalItems: request.TotalItems}
	if strings.TrimSpace(request.TargetDate) != "" {
		targetDate, err := time.Parse(time.RFC3339, request.TargetDate)
		if err != nil {
			api.writeServiceError(w, r, domain.NewValidationError("target_date", "must be RFC3339"))
			return
		}
		draft.TargetDate = &targetDate
	}

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	payloadHash := hashPayload(request)
	if idempotencyKey != "" {
		if entry, ok := api.idempotency.Get(idempotencyKey); ok {
			if entry.PayloadHash != payloadHash {
				writeError(w, r, http.StatusConflict, "idempotency_conflict", "idempotency key reused with a different payload")
				return
			}
			process, err := api.processes.Get(entry.ProcessID)
			if err != nil {
				api.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, toProcessResponse(process))
			return
		}
	}

	process, err := api.processes.Create(r.Context(), draft)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	if idempotencyKey != "" {
		api.idempotency.Put(idempotencyKey, payloadHash, process.ID)
	}
	writeJSON(w, http.StatusCreated, toProcessResponse(process))
}

func (api *API) GetProcess(w http.ResponseWriter, r *http.Request) {
	process, err := api.processes.Get(r.PathValue("id"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProcessResponse(process))
}

func (api *API) UpdateProcess(w http.ResponseWriter, r *http.Request) {
	var request updateProcessRequest
	if err := decodeJSON(r, &request); err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	if request.Name == nil {
		api.writeServiceError(w, r, domain.NewValidationError("name", "name is required"))
		return
	}

	process, err := api.processes.Rename(r.Context(), r.PathValue("id"), *request.Name)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProcessResponse(process))
}

func (api *API) DeleteProcess(w http.ResponseWriter, r *http.Request) {
	if err := api.processes.Delete(r.Context(), r.PathValue("id")); err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (api *API) StartProcess(w http.ResponseWriter, r *http.Request) {
	api.transition(w, r, api.processes.Start)
}

func (api *API) PauseProcess(w http.ResponseWriter, r *http.Request) {
	api.transition(w, r, api.processes.Pause)
}

func (api *API) ResumeProcess(w http.ResponseWriter, r *http.Request) {
	api.transition(w, r, api.processes.Resume)
}

func (api *API) CompleteProcess(w http.ResponseWriter, r *http.Request) {
	api.transition(w, r, api.processes.Complete)
}

func (api *API) transition(
	w http.ResponseWriter,
	r *http.Request,
	apply func(ctx context.Context, id string) (*domain.Process, error),
) {
	process, err := apply(r.Context(), r.PathValue("id"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProcessResponse(process))
}

func (api *API) ProcessMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	messages, err := api.processes.Messages(id)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"process_id": id, "messages": messages})
}

func (api *API) Conversations(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	scope := service.ConversationScope(strings.ToLower(strings.TrimSpace(query.Get("scope"))))
	switch scope {
	case "":
		scope = service.ConversationScopeAll
	case service.ConversationScopeAll, service.ConversationScopeActive, service.ConversationScopeCompleted:
	default:
		api.writeServiceError(w, r, domain.NewValidationError("scope", "must be one of all, active, completed"))
		return
	}

	conversations := api.processes.Conversations(service.ConversationFilter{
		Search: query.Get("q"),
		Scope:  scope,
	})
	writeJSON(w, http.StatusOK, map[string]any{"conversations": conversations})
}
