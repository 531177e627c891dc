package repository

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/iago/outreach-dashboard-back/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed fixtures/processes.yaml
var defaultFixtures []byte

// Fixtures is the stand-in dataset served by the memory backend and used to
// seed durable backends.
type Fixtures struct {
	Processes []*domain.Process
	Clients   []domain.PrioritizedClient
}

type fixtureFile struct {
	Processes []fixtureProcess `yaml:"processes"`
	Clients   []fixtureClient  `yaml:"clients"`
}

type fixtureProcess struct {
	ID                   string                 `yaml:"id"`
	Name                 string                 `yaml:"name"`
	Status               string                 `yaml:"status"`
	TotalItems           int                    `yaml:"total_items"`
	Progress             int                    `yaml:"progress"`
	Paused               bool                   `yaml:"paused"`
	CreatedOffsetDays    int                    `yaml:"created_offset_days"`
	StartOffsetDays      *int                   `yaml:"start_offset_days"`
	CompletionOffsetDays *int                   `yaml:"completion_offset_days"`
	TargetOffsetDays     int                    `yaml:"target_offset_days"`
	Messages             []fixtureMessage       `yaml:"messages"`
	InvoiceData          []domain.InvoiceRecord `yaml:"invoice_data"`
}

type fixtureMessage struct {
	Sender        string `yaml:"sender"`
	Content       string `yaml:"content"`
	OffsetMinutes int    `yaml:"offset_minutes"`
}

type fixtureClient struct {
	ID                 string `yaml:"id"`
	Name               string `yaml:"name"`
	ContactPerson      string `yaml:"contact_person"`
	PendingItems       int    `yaml:"pending_items"`
	DeadlineOffsetDays int    `yaml:"deadline_offset_days"`
}

// LoadFixtures reads fixtures from path, or the embedded set when path is
// empty. Offsets are resolved against now.
func LoadFixtures(path string, now time.Time) (Fixtures, error) {
	data := defaultFixtures
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Fixtures{}, fmt.Errorf("read fixtures: %w", err)
		}
		data = raw
	}
	return ParseFixtures(data, now)
}

func ParseFixtures(data []byte, now time.Time) (Fixtures, error) {
	var file fixtureFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Fixtures{}, fmt.Errorf("decode fixtures: %w", err)
	}

	now = now.UTC()
	day := 24 * time.Hour
	fixtures := Fixtures{
		Processes: make([]*domain.Process, 0, len(file.Processes)),
		Clients:   make([]domain.PrioritizedClient, 0, len(file.Clients)),
	}

	seen := make(map[string]struct{}, len(file.Processes))
	for _, item := range file.Processes {
		if item.ID == "" {
			return Fixtures{}, fmt.Errorf("fixture process without id")
		}
		if _, duplicate := seen[item.ID]; duplicate {
			return Fixtures{}, fmt.Errorf("duplicate fixture process %q", item.ID)
		}
		seen[item.ID] = struct{}{}

		status := domain.ProcessStatus(item.Status)
		if status == "" {
			status = domain.ProcessStatusNotStarted
		}
		if !status.Valid() {
			return Fixtures{}, fmt.Errorf("fixture process %q: unknown status %q", item.ID, item.Status)
		}

		process := &domain.Process{
			ID:          item.ID,
			Name:        item.Name,
			Status:      status,
			TotalItems:  item.TotalItems,
			Progress:    item.Progress,
			Paused:      item.Paused,
			Messages:    make([]domain.Message, 0, len(item.Messages)),
			CreatedAt:   now.Add(time.Duration(item.CreatedOffsetDays) * day),
			TargetDate:  now.Add(time.Duration(item.TargetOffsetDays) * day),
			InvoiceData: domain.CloneInvoiceRecords(item.InvoiceData),
		}
		if item.StartOffsetDays != nil {
			value := now.Add(time.Duration(*item.StartOffsetDays) * day)
			process.StartDate = &value
		}
		if item.CompletionOffsetDays != nil {
			value := now.Add(time.Duration(*item.CompletionOffsetDays) * day)
			process.CompletionDate = &value
		}
		for _, message := range item.Messages {
			process.Messages = append(process.Messages, domain.Message{
				Sender:    domain.MessageSender(message.Sender),
				Content:   message.Content,
				Timestamp: now.Add(time.Duration(message.OffsetMinutes) * time.Minute),
			})
		}
		sort.SliceStable(process.Messages, func(i, j int) bool {
			return process.Messages[i].Timestamp.Before(process.Messages[j].Timestamp)
		})
		fixtures.Processes = append(fixtures.Processes, process)
	}

	for _, item := range file.Clients {
		fixtures.Clients = append(fixtures.Clients, domain.PrioritizedClient{
			ID:            item.ID,
			Name:          item.Name,
			ContactPerson: item.ContactPerson,
			PendingItems:  item.PendingItems,
			NextDeadline:  now.Add(time.Duration(item.DeadlineOffsetDays) * day),
			Urgency:       domain.UrgencyFor(item.PendingItems),
		})
	}

	return fixtures, nil
}

// SortClients orders clients by urgency, then by nearest deadline.
func SortClients(clients []domain.PrioritizedClient) {
	rank := map[domain.ClientUrgency]int{
		domain.ClientUrgencyHigh:   0,
		domain.ClientUrgencyMedium: 1,
		domain.ClientUrgencyLow:    2,
	}
	sort.SliceStable(clients, func(i, j int) bool {
		if rank[clients[i].Urgency] != rank[clients[j].Urgency] {
			return rank[clients[i].Urgency] < rank[clients[j].Urgency]
		}
		return clients[i].NextDeadline.Before(clients[j].NextDeadline)
	})
}
