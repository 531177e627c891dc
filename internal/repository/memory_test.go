package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/iago/outreach-dashboard-back/internal/domain"
)

func newFixtureRepository(t *testing.T) *MemoryProcessRepository {
	t.Helper()
	fixtures, err := LoadFixtures("", time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("load fixtures: %v", err)
	}
	return NewMemoryProcessRepository(fixtures, 0)
}

func TestEmbeddedFixturesResolveOffsets(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	fixtures, err := LoadFixtures("", now)
	if err != nil {
		t.Fatalf("load fixtures: %v", err)
	}
	if len(fixtures.Processes) != 4 {
		t.Fatalf("expected 4 fixture processes, got %d", len(fixtures.Processes))
	}

	first := fixtures.Processes[0]
	if first.Status != domain.ProcessStatusNotStarted || len(first.InvoiceData) != 3 {
		t.Fatalf("unexpected first fixture: %+v", first)
	}
	if !first.TargetDate.Equal(now.Add(7 * 24 * time.Hour)) {
		t.Fatalf("expected target in 7 days, got %s", first.TargetDate)
	}

	second := fixtures.Processes[1]
	if second.StartDate == nil || len(second.Messages) != 4 {
		t.Fatalf("expected started fixture with 4 messages, got %+v", second)
	}
	for i := 1; i < len(second.Messages); i++ {
		if second.Messages[i].Timestamp.Before(second.Messages[i-1].Timestamp) {
			t.Fatalf("expected messages in chronological order")
		}
	}

	if len(fixtures.Clients) != 3 {
		t.Fatalf("expected 3 clients, got %d", len(fixtures.Clients))
	}
}

func TestParseFixturesRejectsUnknownStatus(t *testing.T) {
	_, err := ParseFixtures([]byte("processes:\n  - id: p1\n    status: archived\n"), time.Now())
	if err == nil {
		t.Fatalf("expected unknown status to fail")
	}
	_, err = ParseFixtures([]byte("processes:\n  - id: p1\n  - id: p1\n"), time.Now())
	if err == nil {
		t.Fatalf("expected duplicate id to fail")
	}
}

func TestMemoryRepositoryReturnsCopies(t *testing.T) {
	repo := newFixtureRepository(t)
	ctx := context.Background()

	process, err := repo.FetchOne(ctx, "process-1")
	if err != nil {
		t.Fatalf("fetch one: %v", err)
	}
	process.Name = "mutated"
	process.InvoiceData[0].Amount = 0

	again, _ := repo.FetchOne(ctx, "process-1")
	if again.Name == "mutated" || again.InvoiceData[0].Amount == 0 {
		t.Fatalf("expected stored process to be isolated from caller mutations")
	}

	if _, err := repo.FetchOne(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryRepositoryCreateUpdateDelete(t *testing.T) {
	repo := newFixtureRepository(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, &domain.Process{ID: "process-new", Name: "Neu", Status: domain.ProcessStatusNotStarted, TotalItems: 5})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID != "process-new" {
		t.Fatalf("unexpected created process: %+v", created)
	}

	all, _ := repo.FetchAll(ctx)
	if len(all) != 5 || all[4].ID != "process-new" {
		t.Fatalf("expected new process appended, got %d items", len(all))
	}

	name := "Umbenannt"
	updated, err := repo.Update(ctx, "process-new", domain.ProcessPatch{Name: &name})
	if err != nil || updated.Name != name {
		t.Fatalf("expected rename, got %+v err=%v", updated, err)
	}
	if _, err := repo.Update(ctx, "missing", domain.ProcessPatch{Name: &name}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found on update, got %v", err)
	}

	deleted, err := repo.Delete(ctx, "process-new")
	if err != nil || !deleted {
		t.Fatalf("expected delete to succeed, got %v err=%v", deleted, err)
	}
	deleted, err = repo.Delete(ctx, "process-new")
	if err != nil || deleted {
		t.Fatalf("expected second delete to report false, got %v err=%v", deleted, err)
	}
}

func TestMemoryRepositoryUpdateTotalsRejectsStaleVersions(t *testing.T) {
	repo := newFixtureRepository(t)
	ctx := context.Background()

	if err := repo.UpdateTotals(ctx, "process-1", 9, 2); err != nil {
		t.Fatalf("expected newer version to apply, got %v", err)
	}
	if err := repo.UpdateTotals(ctx, "process-1", 7, 1); !errors.Is(err, ErrStaleVersion) {
		t.Fatalf("expected stale version, got %v", err)
	}
	if err := repo.UpdateTotals(ctx, "process-1", 7, 2); !errors.Is(err, ErrStaleVersion) {
		t.Fatalf("expected equal version to be stale, got %v", err)
	}
	if err := repo.UpdateTotals(ctx, "missing", 1, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	process, _ := repo.FetchOne(ctx, "process-1")
	if process.TotalItems != 9 || process.TotalsVersion != 2 {
		t.Fatalf("expected total 9 at version 2, got %d at %d", process.TotalItems, process.TotalsVersion)
	}
}

func TestMemoryRepositoryLatencyHonoursContext(t *testing.T) {
	repo := NewMemoryProcessRepository(Fixtures{}, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := repo.FetchAll(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled context, got %v", err)
	}
}

func TestListClientsOrdersByUrgency(t *testing.T) {
	repo := newFixtureRepository(t)
	clients, err := repo.ListClients(context.Background())
	if err != nil {
		t.Fatalf("list clients: %v", err)
	}
	if clients[0].ID != "client-3" || clients[0].Urgency != domain.ClientUrgencyHigh {
		t.Fatalf("expected most urgent client first, got %+v", clients[0])
	}
	if clients[1].ID != "client-2" || clients[2].ID != "client-1" {
		t.Fatalf("expected medium clients ordered by deadline, got %s then %s", clients[1].ID, clients[2].ID)
	}
}

func TestBuildProcessUpdate(t *testing.T) {
	name := "Neu"
	total := 3
	query, args, err := buildProcessUpdate("process-1", domain.ProcessPatch{Name: &name, TotalItems: &total})
	if err != nil {
		t.Fatalf("build update: %v", err)
	}
	expected := "UPDATE processes SET name = $2, total_items = $3 WHERE id = $1"
	if query != expected {
		t.Fatalf("expected %q, got %q", expected, query)
	}
	if len(args) != 3 || args[0] != "process-1" || args[1] != "Neu" || args[2] != 3 {
		t.Fatalf("unexpected args: %v", args)
	}
}

func TestFirestoreEncodingKeepsRecords(t *testing.T) {
	process := &domain.Process{
		ID:          "process-1",
		Name:        "Mahnlauf",
		Status:      domain.ProcessStatusInProgress,
		InvoiceData: []domain.InvoiceRecord{{ID: "r1", MandantPhone: "+49", InvoiceNumber: "A", Amount: 2}},
		Messages:    []domain.Message{{Sender: domain.MessageSenderSystem, Content: "hi"}},
	}
	stored := encodeFirestoreProcess(process)
	if stored.Status != "in-progress" || len(stored.InvoiceData) != 1 || stored.InvoiceData[0].Amount != 2 {
		t.Fatalf("unexpected encoded process: %+v", stored)
	}
	if len(stored.Messages) != 1 || stored.Messages[0].Sender != "system" {
		t.Fatalf("unexpected encoded messages: %+v", stored.Messages)
	}
}

func TestMemoryRepositoryUpdateKeepsNewerStoredTotal(t *testing.T) {
	repo := newFixtureRepository(t)
	ctx := context.Background()

	if err := repo.UpdateTotals(ctx, "process-1", 2, 2); err != nil {
		t.Fatalf("update totals: %v", err)
	}

	records := []domain.InvoiceRecord{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	total := 3
	version := int64(1)
	updated, err := repo.Update(ctx, "process-1", domain.ProcessPatch{
		InvoiceData:   &records,
		TotalItems:    &total,
		TotalsVersion: &version,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.TotalItems != 2 || updated.TotalsVersion != 2 {
		t.Fatalf("expected stored total 2 at version 2 to survive, got %d at %d", updated.TotalItems, updated.TotalsVersion)
	}
	if len(updated.InvoiceData) != 3 {
		t.Fatalf("expected invoice data to apply, got %d rows", len(updated.InvoiceData))
	}

	version = 3
	updated, err = repo.Update(ctx, "process-1", domain.ProcessPatch{TotalItems: &total, TotalsVersion: &version})
	if err != nil || updated.TotalItems != 3 || updated.TotalsVersion != 3 {
		t.Fatalf("expected newer total to apply, got %+v err=%v", updated, err)
	}
}

func TestBuildProcessUpdateGuardsVersionedTotals(t *testing.T) {
	total := 3
	version := int64(4)
	query, args, err := buildProcessUpdate("process-1", domain.ProcessPatch{TotalItems: &total, TotalsVersion: &version})
	if err != nil {
		t.Fatalf("build update: %v", err)
	}
	expected := "UPDATE processes SET total_items = CASE WHEN totals_version < $2 THEN $3 ELSE total_items END, " +
		"totals_version = GREATEST(totals_version, $2) WHERE id = $1"
	if query != expected {
		t.Fatalf("expected %q, got %q", expected, query)
	}
	if len(args) != 3 || args[1] != int64(4) || args[2] != 3 {
		t.Fatalf("unexpected args: %v", args)
	}
}
