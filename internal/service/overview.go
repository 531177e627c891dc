package service

import (
	"context"
	"fmt"

	"github.com/iago/outreach-dashboard-back/internal/domain"
	"github.com/iago/outreach-dashboard-back/internal/repository"
	"golang.org/x/sync/errgroup"
)

type ClientsService struct {
	repo repository.ClientRepository
}

func NewClientsService(repo repository.ClientRepository) *ClientsService {
	return &ClientsService{repo: repo}
}

// Prioritized lists clients with pending items, most urgent first.
func (s *ClientsService) Prioritized(ctx context.Context) ([]domain.PrioritizedClient, error) {
	clients, err := s.repo.ListClients(ctx)
	if err != nil {
		return nil, &domain.TransportError{Op: "list clients", Err: err}
	}
	return clients, nil
}

type Board struct {
	NotStarted []*domain.Process `json:"not_started"`
	InProgress []*domain.Process `json:"in_progress"`
	Completed  []*domain.Process `json:"completed"`
}

type Overview struct {
	Metrics Metrics                    `json:"metrics"`
	Board   Board                      `json:"board"`
	Clients []domain.PrioritizedClient `json:"prioritized_clients"`
}

type OverviewService struct {
	processes *ProcessService
	clients   *ClientsService
	settings  *SettingsService
}

func NewOverviewService(processes *ProcessService, clients *ClientsService, settings *SettingsService) *OverviewService {
	return &OverviewService{processes: processes, clients: clients, settings: settings}
}

// Overview gathers the dashboard landing data concurrently.
func (s *OverviewService) Overview(ctx context.Context) (Overview, error) {
	var overview Overview
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(3)

	group.Go(func() error {
		overview.Metrics = s.processes.Metrics(s.settings.Location())
		return nil
	})
	group.Go(func() error {
		overview.Board = s.board()
		return nil
	})
	group.Go(func() error {
		clients, err := s.clients.Prioritized(groupCtx)
		if err != nil {
			return fmt.Errorf("overview clients: %w", err)
		}
		overview.Clients = clients
		return nil
	})

	if err := group.Wait(); err != nil {
		return Overview{}, err
	}
	return overview, nil
}

func (s *OverviewService) board() Board {
	board := Board{
		NotStarted: []*domain.Process{},
		InProgress: []*domain.Process{},
		Completed:  []*domain.Process{},
	}
	for _, process := range s.processes.List(ProcessFilter{Sort: SortByDate}) {
		switch process.Status {
		case domain.ProcessStatusNotStarted:
			board.NotStarted = append(board.NotStarted, process)
		case domain.ProcessStatusInProgress:
			board.InProgress = append(board.InProgress, process)
		case domain.ProcessStatusCompleted:
			board.Completed = append(board.Completed, process)
		}
	}
	return board
}
