package handlers

import (
	"encoding/json"
	"errors"
	"hash/fnv"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/iago/outreach-dashboard-back/internal/dataset"
	"github.com/iago/outreach-dashboard-back/internal/domain"
	"github.com/iago/outreach-dashboard-back/internal/http/middleware"
	"github.com/iago/outreach-dashboard-back/internal/lifecycle"
	"github.com/iago/outreach-dashboard-back/internal/repository"
	"github.com/iago/outreach-dashboard-back/internal/service"
	"github.com/iago/outreach-dashboard-back/internal/upload"
)

var errInvalidPayload = errors.New("invalid payload")

const idempotencyTTL = 24 * time.Hour

type Dependencies struct {
	Processes *service.ProcessService
	Clients   *service.ClientsService
	Overview  *service.OverviewService
	Settings  *service.SettingsService
	Logger    *log.Logger
}

type API struct {
	processes   *service.ProcessService
	clients     *service.ClientsService
	overview    *service.OverviewService
	settings    *service.SettingsService
	logger      *log.Logger
	idempotency *idempotencyStore
}

func NewAPI(deps Dependencies) *API {
	return &API{
		processes:   deps.Processes,
		clients:     deps.Clients,
		overview:    deps.Overview,
		settings:    deps.Settings,
		logger:      deps.Logger,
		idempotency: newIdempotencyStore(),
	}
}

type errorPayload struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	payload := errorPayload{RequestID: middleware.GetRequestID(r.Context())}
	payload.Error.Code = code
	payload.Error.Message = message
	writeJSON(w, statusCode, payload)
}

// writeServiceError maps domain errors onto the error envelope.
func (api *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *domain.ValidationError
	var transportErr *domain.TransportError
	switch {
	case errors.Is(err, errInvalidPayload):
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid payload")
	case errors.As(err, &validationErr):
		writeError(w, r, http.StatusUnprocessableEntity, "validation_failed", validationErr.Error())
	case errors.Is(err, dataset.ErrRowNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", "row not found")
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", "process not found")
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		writeError(w, r, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, upload.ErrUploadUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, "upload_unavailable", upload.UserMessage)
	case errors.As(err, &transportErr):
		api.logf("transport failure request_id=%s op=%s err=%v", middleware.GetRequestID(r.Context()), transportErr.Op, err)
		message := "persistence service unavailable"
		if transportErr.Op == "upload" {
			message = upload.UserMessage
		}
		writeError(w, r, http.StatusBadGateway, "transport_error", message)
	default:
		api.logf("internal error request_id=%s err=%v", middleware.GetRequestID(r.Context()), err)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func (api *API) logf(format string, args ...any) {
	if api.logger != nil {
		api.logger.Printf(format, args...)
	}
}

func decodeJSON(r *http.Request, value any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(value); err != nil {
		return errInvalidPayload
	}
	return nil
}

type processResponse struct {
	*domain.Process
	ProgressPercent int `json:"progress_percent"`
}

func toProcessResponse(process *domain.Process) processResponse {
	return processResponse{
		Process:         process,
		ProgressPercent: lifecycle.ProgressPercent(process.Progress, process.TotalItems),
	}
}

func toProcessResponses(processes []*domain.Process) []processResponse {
	items := make([]processResponse, 0, len(processes))
	for _, process := range processes {
		items = append(items, toProcessResponse(process))
	}
	return items
}

type idempotencyEntry struct {
	PayloadHash uint64
	ProcessID   string
	CreatedAt   time.Time
}

// idempotencyStore remembers which process an Idempotency-Key created.
type idempotencyStore struct {
	mu      sync.Mutex
	entries map[string]idempotencyEntry
}

func newIdempotencyStore() *idempotencyStore {
	return &idempotencyStore{
		entries: make(map[string]idempotencyEntry),
	}
}

func (s *idempotencyStore) Get(key string) (idempotencyEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if ok && time.Since(entry.CreatedAt) > idempotencyTTL {
		delete(s.entries, key)
		return idempotencyEntry{}, false
	}
	return entry, ok
}

func (s *idempotencyStore) Put(key string, payloadHash uint64, processID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = idempotencyEntry{
		PayloadHash: payloadHash,
		ProcessID:   processID,
		CreatedAt:   time.Now().UTC(),
	}
}

func hashPayload(value any) uint64 {
	payload, _ := json.Marshal(value)
	hasher := fnv.New64a()
	_, _ = hasher.Write(payload)
	return hasher.Sum64()
}
