package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iago/outreach-dashboard-back/internal/cache"
	"github.com/iago/outreach-dashboard-back/internal/domain"
	httpserver "github.com/iago/outreach-dashboard-back/internal/http"
	"github.com/iago/outreach-dashboard-back/internal/http/handlers"
	"github.com/iago/outreach-dashboard-back/internal/http/middleware"
	"github.com/iago/outreach-dashboard-back/internal/queue"
	"github.com/iago/outreach-dashboard-back/internal/repository"
	"github.com/iago/outreach-dashboard-back/internal/service"
	"github.com/iago/outreach-dashboard-back/internal/worker"
)

type scenarioResult struct {
	Name          string   `json:"name"`
	Total         int      `json:"total"`
	Success       int      `json:"success"`
	Errors        int      `json:"errors"`
	P50MS         float64  `json:"p50_ms"`
	P95MS         float64  `json:"p95_ms"`
	P99MS         float64  `json:"p99_ms"`
	MaxMS         float64  `json:"max_ms"`
	ThroughputRPS float64  `json:"throughput_rps"`
	ErrorSamples  []string `json:"error_samples,omitempty"`
}

type runResult struct {
	GeneratedAtUTC string           `json:"generated_at_utc"`
	Environment    string           `json:"environment"`
	RepoLatencyMS  int              `json:"repo_latency_ms"`
	Results        []scenarioResult `json:"results"`
	SLOEvaluation  map[string]bool  `json:"slo_evaluation"`
}

type benchmarkEnv struct {
	server *httptest.Server
	cancel func()
}

func main() {
	listTotal := flag.Int("list-total", 400, "total process list requests")
	listConcurrency := flag.Int("list-concurrency", 24, "concurrency for process list requests")
	overviewTotal := flag.Int("overview-total", 200, "total overview requests")
	overviewConcurrency := flag.Int("overview-concurrency", 16, "concurrency for overview requests")
	createTotal := flag.Int("create-total", 120, "total process create requests")
	createConcurrency := flag.Int("create-concurrency", 12, "concurrency for process create requests")
	editTotal := flag.Int("edit-total", 300, "total dataset edit requests")
	editConcurrency := flag.Int("edit-concurrency", 8, "concurrency for dataset edit requests")
	repoLatencyMS := flag.Int("repo-latency-ms", 0, "simulated persistence latency")
	outputPath := flag.String("output", "", "optional path to persist benchmark results JSON")
	flag.Parse()

	env, err := startBenchmarkEnvironment(time.Duration(*repoLatencyMS) * time.Millisecond)
	if err != nil {
		log.Fatalf("failed to start local benchmark environment: %v", err)
	}
	defer env.cancel()

	client := &http.Client{Timeout: 10 * time.Second}
	baseURL := env.server.URL
	var idCounter int64

	listScenario := runScenario("processes_list", *listTotal, *listConcurrency, func(index int) error {
		sorts := []string{"date", "name", "status", "progress"}
		return doRequest(client, http.MethodGet, fmt.Sprintf("%s/v1/processes?sort=%s", baseURL, sorts[index%len(sorts)]), nil, nil, http.StatusOK)
	})

	overviewScenario := runScenario("overview", *overviewTotal, *overviewConcurrency, func(index int) error {
		return doRequest(client, http.MethodGet, baseURL+"/v1/overview", nil, nil, http.StatusOK)
	})

	createScenario := runScenario("processes_create", *createTotal, *createConcurrency, func(index int) error {
		requestID := atomic.AddInt64(&idCounter, 1)
		payload := map[string]any{"name": fmt.Sprintf("Lastlauf %d", index), "total_items": 1 + index%9}
		headers := map[string]string{
			"Idempotency-Key": fmt.Sprintf("create-%d-%d", requestID, time.Now().UnixNano()),
		}
		return doRequest(client, http.MethodPost, baseURL+"/v1/processes", payload, headers, http.StatusCreated)
	})

	rowIDs, err := fixtureRowIDs(client, baseURL, "process-1")
	if err != nil {
		log.Fatalf("failed to read dataset rows: %v", err)
	}
	editScenario := runScenario("dataset_edit", *editTotal, *editConcurrency, func(index int) error {
		rowID := rowIDs[index%len(rowIDs)]
		payload := map[string]any{"field": "amount", "value": fmt.Sprintf("%d,%02d", 10+index%90, index%100)}
		return doRequest(client, http.MethodPatch, baseURL+"/v1/processes/process-1/dataset/rows/"+rowID, payload, nil, http.StatusOK)
	})

	results := []scenarioResult{listScenario, overviewScenario, createScenario, editScenario}
	slo := map[string]bool{
		"list_p95_le_200ms":     listScenario.P95MS <= 200,
		"overview_p95_le_300ms": overviewScenario.P95MS <= 300,
		"edit_p95_le_100ms":     editScenario.P95MS <= 100,
	}

	report := runResult{
		GeneratedAtUTC: time.Now().UTC().Format(time.RFC3339Nano),
		Environment:    "local-httptest",
		RepoLatencyMS:  *repoLatencyMS,
		Results:        results,
		SLOEvaluation:  slo,
	}

	encoded, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Fatalf("failed to marshal benchmark report: %v", err)
	}

	if *outputPath != "" {
		if err := os.WriteFile(*outputPath, encoded, 0o644); err != nil {
			log.Fatalf("failed to write output file: %v", err)
		}
	}

	_, _ = fmt.Fprintln(os.Stdout, string(encoded))
}

func startBenchmarkEnvironment(latency time.Duration) (*benchmarkEnv, error) {
	ctx, cancel := context.WithCancel(context.Background())
	logger := log.New(io.Discard, "", 0)

	fixtures, err := repository.LoadFixtures("", time.Now().UTC())
	if err != nil {
		cancel()
		return nil, err
	}
	repo := repository.NewMemoryProcessRepository(fixtures, latency)
	localQueue := queue.NewLocalQueue(4096, 1, logger)
	producer := queue.NewBatchingProducer(ctx, localQueue, queue.BatchingConfig{})

	processes := service.NewProcessService(service.ProcessServiceConfig{
		Repo:        repo,
		Producer:    producer,
		UploadCache: cache.NewUploadCache(cache.Config{}),
		Logger:      logger,
	})
	if err := processes.Load(ctx); err != nil {
		cancel()
		return nil, err
	}
	settings := service.NewSettingsService(domain.DefaultSettings())
	clients := service.NewClientsService(repo)
	api := handlers.NewAPI(handlers.Dependencies{
		Processes: processes,
		Clients:   clients,
		Overview:  service.NewOverviewService(processes, clients, settings),
		Settings:  settings,
		Logger:    logger,
	})
	router := httpserver.NewRouter(httpserver.RouterDependencies{
		API:       api,
		Logger:    logger,
		AuthToken: "",
		RateLimit: middleware.RateLimitConfig{
			ReadRPS:    20000,
			ReadBurst:  20000,
			WriteRPS:   20000,
			WriteBurst: 20000,
		},
	})

	replicator := worker.NewReplicator(localQueue, repo, logger)
	go replicator.Start(ctx)

	server := httptest.NewServer(router)
	return &benchmarkEnv{
		server: server,
		cancel: func() {
			server.Close()
			producer.Close()
			cancel()
			processes.Wait()
		},
	}, nil
}

func fixtureRowIDs(client *http.Client, baseURL, processID string) ([]string, error) {
	response, err := client.Get(baseURL + "/v1/processes/" + processID + "/dataset")
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", response.StatusCode)
	}

	var view struct {
		Rows []struct {
			Record struct {
				ID string `json:"id"`
			} `json:"record"`
		} `json:"rows"`
	}
	if err := json.NewDecoder(response.Body).Decode(&view); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(view.Rows))
	for _, row := range view.Rows {
		ids = append(ids, row.Record.ID)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("process %s has no dataset rows", processID)
	}
	return ids, nil
}

func runScenario(
	name string,
	total int,
	concurrency int,
	requestFn func(index int) error,
) scenarioResult {
	if total <= 0 {
		return scenarioResult{Name: name}
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	startedAt := time.Now()
	type sample struct {
		durationMS float64
		err        string
	}

	jobs := make(chan int, total)
	results := make(chan sample, total)
	for i := 0; i < total; i++ {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range jobs {
				requestStart := time.Now()
				err := requestFn(index)
				s := sample{
					durationMS: float64(time.Since(requestStart).Microseconds()) / 1000.0,
				}
				if err != nil {
					s.err = err.Error()
				}
				results <- s
			}
		}()
	}
	wg.Wait()
	close(results)

	durations := make([]float64, 0, total)
	errorSamples := make([]string, 0, 5)
	success := 0
	errorsCount := 0
	for item := range results {
		durations = append(durations, item.durationMS)
		if item.err == "" {
			success++
			continue
		}
		errorsCount++
		if len(errorSamples) < 5 {
			errorSamples = append(errorSamples, item.err)
		}
	}

	sort.Float64s(durations)
	elapsedSeconds := time.Since(startedAt).Seconds()
	throughput := 0.0
	if elapsedSeconds > 0 {
		throughput = float64(total) / elapsedSeconds
	}

	return scenarioResult{
		Name:          name,
		Total:         total,
		Success:       success,
		Errors:        errorsCount,
		P50MS:         percentile(durations, 0.50),
		P95MS:         percentile(durations, 0.95),
		P99MS:         percentile(durations, 0.99),
		MaxMS:         percentile(durations, 1.00),
		ThroughputRPS: round2(throughput),
		ErrorSamples:  errorSamples,
	}
}

func doRequest(
	client *http.Client,
	method string,
	url string,
	payload any,
	headers map[string]string,
	expectedStatus int,
) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	request, err := http.NewRequest(method, url, body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")
	for key, value := range headers {
		request.Header.Set(key, value)
	}

	response, err := client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != expectedStatus {
		raw, _ := io.ReadAll(io.LimitReader(response.Body, 1024))
		return fmt.Errorf("unexpected status %d (expected %d): %s", response.StatusCode, expectedStatus, string(raw))
	}
	_, _ = io.Copy(io.Discard, response.Body)
	return nil
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if p <= 0 {
		return round2(values[0])
	}
	if p >= 1 {
		return round2(values[len(values)-1])
	}
	rank := int(math.Ceil(float64(len(values))*p)) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(values) {
		rank = len(values) - 1
	}
	return round2(values[rank])
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
