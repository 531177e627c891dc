package repository

import (
	"context"
	"sync"
	"time"

	"github.com/iago/outreach-dashboard-back/internal/domain"
)

// MemoryProcessRepository keeps processes in memory for local development.
// An optional latency simulates a remote collaborator.
type MemoryProcessRepository struct {
	mu        sync.RWMutex
	processes map[string]*domain.Process
	order     []string
	clients   []domain.PrioritizedClient
	latency   time.Duration
}

func NewMemoryProcessRepository(fixtures Fixtures, latency time.Duration) *MemoryProcessRepository {
	repo := &MemoryProcessRepository{
		processes: make(map[string]*domain.Process, len(fixtures.Processes)),
		order:     make([]string, 0, len(fixtures.Processes)),
		clients:   append([]domain.PrioritizedClient(nil), fixtures.Clients...),
		latency:   latency,
	}
	for _, process := range fixtures.Processes {
		repo.processes[process.ID] = process.Clone()
		repo.order = append(repo.order, process.ID)
	}
	return repo
}

func (r *MemoryProcessRepository) FetchAll(ctx context.Context) ([]*domain.Process, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]*domain.Process, 0, len(r.order))
	for _, id := range r.order {
		items = append(items, r.processes[id].Clone())
	}
	return items, nil
}

func (r *MemoryProcessRepository) FetchOne(ctx context.Context, id string) (*domain.Process, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	process, ok := r.processes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return process.Clone(), nil
}

func (r *MemoryProcessRepository) Create(ctx context.Context, process *domain.Process) (*domain.Process, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.processes[process.ID]; !exists {
		r.order = append(r.order, process.ID)
	}
	r.processes[process.ID] = process.Clone()
	return process.Clone(), nil
}

func (r *MemoryProcessRepository) Update(ctx context.Context, id string, patch domain.ProcessPatch) (*domain.Process, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	process, ok := r.processes[id]
	if !ok {
		return nil, ErrNotFound
	}
	updated := process.Clone()
	patch.WithoutStaleTotals(process.TotalsVersion).Apply(updated)
	r.processes[id] = updated
	return updated.Clone(), nil
}

func (r *MemoryProcessRepository) Delete(ctx context.Context, id string) (bool, error) {
	if err := r.wait(ctx); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.processes[id]; !ok {
		return false, nil
	}
	delete(r.processes, id)
	for index, candidate := range r.order {
		if candidate == id {
			r.order = append(r.order[:index], r.order[index+1:]...)
			break
		}
	}
	return true, nil
}

func (r *MemoryProcessRepository) UpdateTotals(ctx context.Context, id string, totalItems int, version int64) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	process, ok := r.processes[id]
	if !ok {
		return ErrNotFound
	}
	if version <= process.TotalsVersion {
		return ErrStaleVersion
	}
	process.TotalItems = totalItems
	process.TotalsVersion = version
	return nil
}

func (r *MemoryProcessRepository) ListClients(ctx context.Context) ([]domain.PrioritizedClient, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	r.mu.RLock()
	clients := append([]domain.PrioritizedClient(nil), r.clients...)
	r.mu.RUnlock()

	SortClients(clients)
	return clients, nil
}

func (r *MemoryProcessRepository) wait(ctx context.Context) error {
	if r.latency <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(r.latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
