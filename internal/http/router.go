package httpserver

import (
	"log"
	"net/http"
	"sort"

	"github.com/iago/outreach-dashboard-back/internal/http/handlers"
	"github.com/iago/outreach-dashboard-back/internal/http/middleware"
)

type RouterDependencies struct {
	API         *handlers.API
	Logger      *log.Logger
	AuthToken   string
	CORSOrigins []string
	RateLimit   middleware.RateLimitConfig
}

type route struct {
	method  string
	path    string
	handler http.HandlerFunc
}

func routes(api *handlers.API) []route {
	return []route{
		{http.MethodGet, "/healthz", api.Health},
		{http.MethodGet, "/v1/overview", api.Overview},

		{http.MethodGet, "/v1/processes", api.ListProcesses},
		{http.MethodPost, "/v1/processes", api.CreateProcess},
		{http.MethodGet, "/v1/processes/{id}", api.GetProcess},
		{http.MethodPatch, "/v1/processes/{id}", api.UpdateProcess},
		{http.MethodDelete, "/v1/processes/{id}", api.DeleteProcess},
		{http.MethodPost, "/v1/processes/{id}/start", api.StartProcess},
		{http.MethodPost, "/v1/processes/{id}/pause", api.PauseProcess},
		{http.MethodPost, "/v1/processes/{id}/resume", api.ResumeProcess},
		{http.MethodPost, "/v1/processes/{id}/complete", api.CompleteProcess},
		{http.MethodGet, "/v1/processes/{id}/messages", api.ProcessMessages},
		{http.MethodGet, "/v1/conversations", api.Conversations},

		{http.MethodGet, "/v1/processes/{id}/dataset", api.GetDataset},
		{http.MethodPost, "/v1/processes/{id}/dataset/rows", api.AddDatasetRow},
		{http.MethodPatch, "/v1/processes/{id}/dataset/rows/{rowID}", api.UpdateDatasetRow},
		{http.MethodDelete, "/v1/processes/{id}/dataset/rows/{rowID}", api.DeleteDatasetRow},
		{http.MethodPost, "/v1/processes/{id}/dataset/commit", api.CommitDataset},
		{http.MethodPost, "/v1/processes/{id}/dataset/discard", api.DiscardDataset},
		{http.MethodGet, "/v1/processes/{id}/dataset/changes", api.DatasetChanges},
		{http.MethodPost, "/v1/processes/{id}/upload", api.UploadDataset},

		{http.MethodGet, "/v1/clients/prioritized", api.PrioritizedClients},
		{http.MethodGet, "/v1/settings", api.GetSettings},
		{http.MethodPut, "/v1/settings", api.UpdateSettings},
	}
}

// routeMethods is the sorted method set of table.
func routeMethods(table []route) []string {
	seen := make(map[string]struct{}, len(table))
	methods := make([]string, 0, 5)
	for _, entry := range table {
		if _, ok := seen[entry.method]; ok {
			continue
		}
		seen[entry.method] = struct{}{}
		methods = append(methods, entry.method)
	}
	sort.Strings(methods)
	return methods
}

func NewRouter(deps RouterDependencies) http.Handler {
	table := routes(deps.API)
	mux := http.NewServeMux()
	for _, entry := range table {
		mux.HandleFunc(entry.method+" "+entry.path, entry.handler)
	}

	handler := http.Handler(mux)
	handler = middleware.Auth(middleware.AuthConfig{Token: deps.AuthToken})(handler)
	handler = middleware.RateLimit(deps.RateLimit)(handler)
	handler = middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: deps.CORSOrigins,
		AllowedMethods: routeMethods(table),
	})(handler)
	handler = middleware.Trace(deps.Logger)(handler)
	handler = middleware.RequestID(handler)

	return handler
}
