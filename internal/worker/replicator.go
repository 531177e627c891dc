package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/iago/outreach-dashboard-back/internal/domain"
	"github.com/iago/outreach-dashboard-back/internal/queue"
	"github.com/iago/outreach-dashboard-back/internal/repository"
)

// Replicator consumes total sync messages and applies them to the
// persistence collaborator.
type Replicator struct {
	consumer queue.Consumer
	repo     repository.ProcessRepository
	logger   *log.Logger
}

func NewReplicator(
	consumer queue.Consumer,
	repo repository.ProcessRepository,
	logger *log.Logger,
) *Replicator {
	return &Replicator{
		consumer: consumer,
		repo:     repo,
		logger:   logger,
	}
}

func (r *Replicator) Start(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		err := r.consumer.Consume(ctx, r.Apply)
		if err == nil || ctx.Err() != nil {
			return
		}
		if r.logger != nil {
			r.logger.Printf("replicator consume loop error: %v", err)
		}

		timer := time.NewTimer(2 * time.Second)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Apply writes one sync message. Stale versions and deleted processes are
// dropped without error so they are never retried.
func (r *Replicator) Apply(ctx context.Context, message domain.SyncMessage) error {
	err := r.repo.UpdateTotals(ctx, message.ProcessID, message.TotalItems, message.Version)
	switch {
	case err == nil:
		if r.logger != nil {
			r.logger.Printf("totals replicated process_id=%s total_items=%d version=%d", message.ProcessID, message.TotalItems, message.Version)
		}
		return nil
	case errors.Is(err, repository.ErrStaleVersion):
		if r.logger != nil {
			r.logger.Printf("stale totals discarded process_id=%s version=%d", message.ProcessID, message.Version)
		}
		return nil
	case errors.Is(err, repository.ErrNotFound):
		if r.logger != nil {
			r.logger.Printf("totals dropped for unknown process process_id=%s version=%d", message.ProcessID, message.Version)
		}
		return nil
	default:
		if r.logger != nil {
			r.logger.Printf("totals replication failed process_id=%s version=%d attempt=%d err=%v", message.ProcessID, message.Version, message.Attempt, err)
		}
		return fmt.Errorf("replicate totals %s: %w", message.ProcessID, err)
	}
}
