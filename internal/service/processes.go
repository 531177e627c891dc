package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/iago/outreach-dashboard-back/internal/cache"
	"github.com/iago/outreach-dashboard-back/internal/dataset"
	"github.com/iago/outreach-dashboard-back/internal/domain"
	"github.com/iago/outreach-dashboard-back/internal/lifecycle"
	"github.com/iago/outreach-dashboard-back/internal/queue"
	"github.com/iago/outreach-dashboard-back/internal/repository"
	"github.com/iago/outreach-dashboard-back/internal/upload"
)

const (
	DefaultProcessName  = "Neuer Prozess"
	DefaultTotalItems   = 5
	defaultTargetWindow = 7 * 24 * time.Hour
	syncEnqueueTimeout  = 5 * time.Second
)

type SortKey string

const (
	SortByDate     SortKey = "date"
	SortByName     SortKey = "name"
	SortByStatus   SortKey = "status"
	SortByProgress SortKey = "progress"
)

type ProcessFilter struct {
	Search string
	Status domain.ProcessStatus
	Sort   SortKey
}

type ConversationScope string

const (
	ConversationScopeAll       ConversationScope = "all"
	ConversationScopeActive    ConversationScope = "active"
	ConversationScopeCompleted ConversationScope = "completed"
)

type ConversationFilter struct {
	Search string
	Scope  ConversationScope
}

type Conversation struct {
	ProcessID    string               `json:"process_id"`
	Name         string               `json:"name"`
	Status       domain.ProcessStatus `json:"status"`
	MessageCount int                  `json:"message_count"`
	LastMessage  *domain.Message      `json:"last_message,omitempty"`
}

type Metrics struct {
	Active        int `json:"active"`
	NotStarted    int `json:"not_started"`
	Completed     int `json:"completed"`
	MessagesToday int `json:"messages_today"`
}

type ProcessServiceConfig struct {
	Repo        repository.ProcessRepository
	Producer    queue.Producer
	Uploader    upload.Uploader
	UploadCache *cache.UploadCache
	Logger      *log.Logger
	Now         func() time.Time
}

// ProcessService owns the local process state. Reads are served from it;
// mutations go to the repository first and replace the local copy only on
// success. Optimistic total updates are applied locally and replicated
// through the sync queue.
type ProcessService struct {
	repo      repository.ProcessRepository
	producer  queue.Producer
	uploader  upload.Uploader
	cache     *cache.UploadCache
	lifecycle *lifecycle.Controller
	logger    *log.Logger
	now       func() time.Time

	// writeMu serializes repository mutations; mu guards the state below.
	writeMu   sync.Mutex
	mu        sync.Mutex
	processes map[string]*domain.Process
	order     []string
	datasets  map[string]*dataset.Controller
	// versions is the highest totals version handed out per process,
	// including reservations whose write has not landed yet.
	versions map[string]int64

	inflight sync.WaitGroup
}

func NewProcessService(config ProcessServiceConfig) *ProcessService {
	now := config.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &ProcessService{
		repo:      config.Repo,
		producer:  config.Producer,
		uploader:  config.Uploader,
		cache:     config.UploadCache,
		lifecycle: lifecycle.NewController(now),
		logger:    config.Logger,
		now:       now,
		processes: make(map[string]*domain.Process),
		order:     make([]string, 0),
		datasets:  make(map[string]*dataset.Controller),
		versions:  make(map[string]int64),
	}
}

// Load replaces the local state with the repository contents.
func (s *ProcessService) Load(ctx context.Context) error {
	items, err := s.repo.FetchAll(ctx)
	if err != nil {
		return &domain.TransportError{Op: "fetch processes", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.processes = make(map[string]*domain.Process, len(items))
	s.order = make([]string, 0, len(items))
	s.datasets = make(map[string]*dataset.Controller)
	for _, process := range items {
		s.processes[process.ID] = process
		s.order = append(s.order, process.ID)
	}
	if s.logger != nil {
		s.logger.Printf("processes loaded count=%d", len(items))
	}
	return nil
}

func (s *ProcessService) List(filter ProcessFilter) []*domain.Process {
	search := strings.ToLower(strings.TrimSpace(filter.Search))

	s.mu.Lock()
	items := make([]*domain.Process, 0, len(s.order))
	for _, id := range s.order {
		process := s.processes[id]
		if search != "" && !strings.Contains(strings.ToLower(process.Name), search) {
			continue
		}
		if filter.Status != "" && process.Status != filter.Status {
			continue
		}
		items = append(items, process.Clone())
	}
	s.mu.Unlock()

	sortProcesses(items, filter.Sort)
	return items
}

func (s *ProcessService) Get(id string) (*domain.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	process, ok := s.processes[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return process.Clone(), nil
}

func (s *ProcessService) Create(ctx context.Context, draft domain.ProcessDraft) (*domain.Process, error) {
	name := strings.TrimSpace(draft.Name)
	if name == "" {
		name = DefaultProcessName
	}
	totalItems := DefaultTotalItems
	if draft.TotalItems != nil {
		if *draft.TotalItems < 0 {
			return nil, domain.NewValidationError("total_items", "must not be negative")
		}
		if *draft.TotalItems > 0 {
			totalItems = *draft.TotalItems
		}
	}

	now := s.now()
	targetDate := now.Add(defaultTargetWindow)
	if draft.TargetDate != nil && !draft.TargetDate.IsZero() {
		targetDate = draft.TargetDate.UTC()
	}

	process := &domain.Process{
		ID:         "process-" + uuid.NewString(),
		Name:       name,
		Status:     domain.ProcessStatusNotStarted,
		TotalItems: totalItems,
		Messages:   []domain.Message{},
		CreatedAt:  now,
		TargetDate: targetDate,
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	created, err := s.repo.Create(ctx, process)
	if err != nil {
		return nil, &domain.TransportError{Op: "create process", Err: err}
	}

	s.mu.Lock()
	result := s.mergeLocked(created)
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Printf("process created process_id=%s total_items=%d", result.ID, result.TotalItems)
	}
	return result, nil
}

func (s *ProcessService) Rename(ctx context.Context, id, name string) (*domain.Process, error) {
	return s.mutate(ctx, id, "rename process", func(process *domain.Process) (domain.ProcessPatch, error) {
		return s.lifecycle.Rename(process, name)
	})
}

// Start commits a dirty dataset first and then starts the process with the
// dataset rows. Without a dataset the stored invoice data is used. Pending
// edits stay pending when the process cannot be started.
func (s *ProcessService) Start(ctx context.Context, id string) (*domain.Process, error) {
	current, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if err := lifecycle.Check(current, lifecycle.ActionStart); err != nil {
		return nil, err
	}
	controller, err := s.existingDataset(id)
	if err != nil {
		return nil, err
	}

	var rows []domain.InvoiceRecord
	if controller != nil {
		if controller.IsDirty() {
			if err := controller.Commit(ctx); err != nil {
				return nil, err
			}
		}
		rows = controller.Records()
	} else {
		rows = current.InvoiceData
	}

	return s.mutate(ctx, id, "start process", func(process *domain.Process) (domain.ProcessPatch, error) {
		return s.lifecycle.Start(process, rows)
	})
}

func (s *ProcessService) Pause(ctx context.Context, id string) (*domain.Process, error) {
	return s.mutate(ctx, id, "pause process", s.lifecycle.Pause)
}

func (s *ProcessService) Resume(ctx context.Context, id string) (*domain.Process, error) {
	return s.mutate(ctx, id, "resume process", s.lifecycle.Resume)
}

func (s *ProcessService) Complete(ctx context.Context, id string) (*domain.Process, error) {
	return s.mutate(ctx, id, "complete process", s.lifecycle.Complete)
}

// Delete removes the process regardless of its status.
func (s *ProcessService) Delete(ctx context.Context, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return &domain.TransportError{Op: "delete process", Err: err}
	}

	s.mu.Lock()
	_, known := s.processes[id]
	delete(s.processes, id)
	delete(s.datasets, id)
	delete(s.versions, id)
	for index, candidate := range s.order {
		if candidate == id {
			s.order = append(s.order[:index], s.order[index+1:]...)
			break
		}
	}
	s.mu.Unlock()

	if s.cache != nil {
		s.cache.Invalidate(id)
	}
	if !deleted && !known {
		return repository.ErrNotFound
	}
	if s.logger != nil {
		s.logger.Printf("process deleted process_id=%s", id)
	}
	return nil
}

// SaveInvoiceData persists committed dataset rows and the matching total.
// Completed processes keep their invoice data.
func (s *ProcessService) SaveInvoiceData(ctx context.Context, id string, records []domain.InvoiceRecord) (*domain.Process, error) {
	cloned := domain.CloneInvoiceRecords(records)
	if cloned == nil {
		cloned = []domain.InvoiceRecord{}
	}
	total := len(cloned)
	updated, err := s.mutate(ctx, id, "save invoice data", func(process *domain.Process) (domain.ProcessPatch, error) {
		if err := lifecycle.Check(process, lifecycle.ActionEditDataset); err != nil {
			return domain.ProcessPatch{}, err
		}
		return domain.ProcessPatch{InvoiceData: &cloned, TotalItems: &total}, nil
	})
	if err != nil {
		if s.logger != nil {
			s.logger.Printf("invoice data save failed process_id=%s rows=%d err=%v", id, total, err)
		}
		return nil, err
	}
	if s.logger != nil {
		s.logger.Printf("invoice data saved process_id=%s rows=%d", id, total)
	}
	return updated, nil
}

// UpdateTotalFromDataset applies a new total locally right away and
// replicates it in the background. It reports whether anything changed.
// The total of a completed process is final.
func (s *ProcessService) UpdateTotalFromDataset(id string, totalItems int) bool {
	s.mu.Lock()
	process, ok := s.processes[id]
	if !ok || process.TotalItems == totalItems || process.Status == domain.ProcessStatusCompleted {
		s.mu.Unlock()
		return false
	}
	process.TotalItems = totalItems
	process.TotalsVersion = s.nextTotalsVersionLocked(process)
	message := domain.SyncMessage{
		ProcessID:   id,
		TotalItems:  totalItems,
		Version:     process.TotalsVersion,
		RequestedAt: s.now(),
	}
	s.mu.Unlock()

	s.replicate(message)
	return true
}

// Wait blocks until background replication enqueues have finished.
func (s *ProcessService) Wait() {
	s.inflight.Wait()
}

func (s *ProcessService) Messages(id string) ([]domain.Message, error) {
	process, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	return process.Messages, nil
}

func (s *ProcessService) Conversations(filter ConversationFilter) []Conversation {
	search := strings.ToLower(strings.TrimSpace(filter.Search))

	s.mu.Lock()
	conversations := make([]Conversation, 0)
	for _, id := range s.order {
		process := s.processes[id]
		if len(process.Messages) == 0 {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(process.Name), search) {
			continue
		}
		switch filter.Scope {
		case ConversationScopeActive:
			if process.Status != domain.ProcessStatusInProgress {
				continue
			}
		case ConversationScopeCompleted:
			if process.Status != domain.ProcessStatusCompleted {
				continue
			}
		}
		last := process.Messages[len(process.Messages)-1]
		conversations = append(conversations, Conversation{
			ProcessID:    process.ID,
			Name:         process.Name,
			Status:       process.Status,
			MessageCount: len(process.Messages),
			LastMessage:  &last,
		})
	}
	s.mu.Unlock()

	sort.SliceStable(conversations, func(i, j int) bool {
		return conversations[i].LastMessage.Timestamp.After(conversations[j].LastMessage.Timestamp)
	})
	return conversations
}

// Metrics counts processes per status and the messages sent today in loc.
func (s *ProcessService) Metrics(loc *time.Location) Metrics {
	if loc == nil {
		loc = time.UTC
	}
	todayYear, todayMonth, todayDay := s.now().In(loc).Date()

	s.mu.Lock()
	defer s.mu.Unlock()

	var metrics Metrics
	for _, process := range s.processes {
		switch process.Status {
		case domain.ProcessStatusInProgress:
			metrics.Active++
		case domain.ProcessStatusNotStarted:
			metrics.NotStarted++
		case domain.ProcessStatusCompleted:
			metrics.Completed++
		}
		for _, message := range process.Messages {
			year, month, day := message.Timestamp.In(loc).Date()
			if year == todayYear && month == todayMonth && day == todayDay {
				metrics.MessagesToday++
			}
		}
	}
	return metrics
}

// mutate computes a patch on a copy of the local process, persists it and
// merges the stored result. Local state is untouched when persisting fails.
func (s *ProcessService) mutate(
	ctx context.Context,
	id string,
	op string,
	compute func(*domain.Process) (domain.ProcessPatch, error),
) (*domain.Process, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	patch, err := compute(current)
	if err != nil {
		return nil, err
	}
	if patch.Empty() {
		return current, nil
	}
	if patch.TotalItems != nil && patch.TotalsVersion == nil {
		version, err := s.reserveTotalsVersion(id)
		if err != nil {
			return nil, err
		}
		patch.TotalsVersion = &version
	}

	updated, err := s.repo.Update(ctx, id, patch)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s %s: %w", op, id, err)
		}
		return nil, &domain.TransportError{Op: op, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.processes[id]; !ok {
		return nil, repository.ErrNotFound
	}
	return s.mergeLocked(updated), nil
}

// reserveTotalsVersion hands out the next version without touching the
// local process. The local total only moves once the write succeeds.
func (s *ProcessService) reserveTotalsVersion(id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	process, ok := s.processes[id]
	if !ok {
		return 0, repository.ErrNotFound
	}
	return s.nextTotalsVersionLocked(process), nil
}

func (s *ProcessService) nextTotalsVersionLocked(process *domain.Process) int64 {
	next := s.versions[process.ID]
	if process.TotalsVersion > next {
		next = process.TotalsVersion
	}
	next++
	s.versions[process.ID] = next
	return next
}

// mergeLocked stores a repository result. A local total stamped with a
// newer version than the result survives the merge.
func (s *ProcessService) mergeLocked(updated *domain.Process) *domain.Process {
	stored := updated.Clone()
	if local, ok := s.processes[stored.ID]; ok {
		if local.TotalsVersion > stored.TotalsVersion {
			stored.TotalItems = local.TotalItems
			stored.TotalsVersion = local.TotalsVersion
		}
	} else {
		s.order = append(s.order, stored.ID)
	}
	if stored.Messages == nil {
		stored.Messages = []domain.Message{}
	}
	s.processes[stored.ID] = stored
	return stored.Clone()
}

func (s *ProcessService) replicate(message domain.SyncMessage) {
	if s.producer == nil {
		return
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), syncEnqueueTimeout)
		defer cancel()
		if err := s.producer.Enqueue(ctx, message); err != nil && s.logger != nil {
			s.logger.Printf("totals sync enqueue failed process_id=%s version=%d err=%v", message.ProcessID, message.Version, err)
		}
	}()
}

func sortProcesses(items []*domain.Process, key SortKey) {
	switch key {
	case SortByName:
		sort.SliceStable(items, func(i, j int) bool {
			return strings.ToLower(items[i].Name) < strings.ToLower(items[j].Name)
		})
	case SortByStatus:
		sort.SliceStable(items, func(i, j int) bool {
			return items[i].Status < items[j].Status
		})
	case SortByProgress:
		sort.SliceStable(items, func(i, j int) bool {
			return lifecycle.ProgressPercent(items[i].Progress, items[i].TotalItems) >
				lifecycle.ProgressPercent(items[j].Progress, items[j].TotalItems)
		})
	default:
		sort.SliceStable(items, func(i, j int) bool {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		})
	}
}

// ParseSortKey maps a query value to a sort key, defaulting to date.
func ParseSortKey(value string) (SortKey, error) {
	switch SortKey(strings.ToLower(strings.TrimSpace(value))) {
	case "", SortByDate:
		return SortByDate, nil
	case SortByName:
		return SortByName, nil
	case SortByStatus:
		return SortByStatus, nil
	case SortByProgress:
		return SortByProgress, nil
	}
	return "", domain.NewValidationError("sort", "must be one of date, name, status, progress")
}
