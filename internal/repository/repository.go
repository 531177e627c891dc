package repository

import (
	"context"
	"errors"

	"github.com/iago/outreach-dashboard-back/internal/domain"
)

var (
	ErrNotFound     = errors.New("resource not found")
	ErrStaleVersion = errors.New("stale totals version")
)

// ProcessRepository is the persistence collaborator for processes. Every
// returned process is a copy owned by the caller.
type ProcessRepository interface {
	FetchAll(ctx context.Context) ([]*domain.Process, error)
	FetchOne(ctx context.Context, id string) (*domain.Process, error)
	Create(ctx context.Context, process *domain.Process) (*domain.Process, error)
	Update(ctx context.Context, id string, patch domain.ProcessPatch) (*domain.Process, error)
	Delete(ctx context.Context, id string) (bool, error)
	// UpdateTotals applies a replicated total only when version is newer
	// than the stored one; otherwise it returns ErrStaleVersion.
	UpdateTotals(ctx context.Context, id string, totalItems int, version int64) error
}

type ClientRepository interface {
	ListClients(ctx context.Context) ([]domain.PrioritizedClient, error)
}
