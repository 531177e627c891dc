package main

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/iago/outreach-dashboard-back/internal/domain"
	"github.com/iago/outreach-dashboard-back/internal/repository"
	"golang.org/x/sync/errgroup"
)

type seeder interface {
	SeedProcess(ctx context.Context, process *domain.Process) error
	SeedClient(ctx context.Context, client domain.PrioritizedClient) error
}

type seedSummary struct {
	Processes int
	Clients   int
}

// seedAll writes every fixture with bounded parallelism and stops at the
// first failure.
func seedAll(ctx context.Context, target seeder, fixtures repository.Fixtures, concurrency int) (seedSummary, error) {
	if concurrency <= 0 {
		concurrency = 1
	}

	var processes, clients int64
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(concurrency)

	for _, process := range fixtures.Processes {
		group.Go(func() error {
			if err := target.SeedProcess(groupCtx, process); err != nil {
				return fmt.Errorf("seed process %s: %w", process.ID, err)
			}
			atomic.AddInt64(&processes, 1)
			return nil
		})
	}
	for _, client := range fixtures.Clients {
		group.Go(func() error {
			if err := target.SeedClient(groupCtx, client); err != nil {
				return fmt.Errorf("seed client %s: %w", client.ID, err)
			}
			atomic.AddInt64(&clients, 1)
			return nil
		})
	}

	err := group.Wait()
	return seedSummary{Processes: int(processes), Clients: int(clients)}, err
}
