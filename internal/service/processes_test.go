package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/iago/outreach-dashboard-back/internal/cache"
	"github.com/iago/outreach-dashboard-back/internal/dataset"
	"github.com/iago/outreach-dashboard-back/internal/domain"
	"github.com/iago/outreach-dashboard-back/internal/lifecycle"
	"github.com/iago/outreach-dashboard-back/internal/repository"
	"github.com/iago/outreach-dashboard-back/internal/upload"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type recordingProducer struct {
	mu       sync.Mutex
	messages []domain.SyncMessage
}

func (p *recordingProducer) Enqueue(_ context.Context, message domain.SyncMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, message)
	return nil
}

func (p *recordingProducer) sent() []domain.SyncMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.SyncMessage(nil), p.messages...)
}

// flakyRepo fails every mutation while failing is set.
type flakyRepo struct {
	*repository.MemoryProcessRepository
	mu      sync.Mutex
	failing bool
}

func (r *flakyRepo) setFailing(value bool) {
	r.mu.Lock()
	r.failing = value
	r.mu.Unlock()
}

func (r *flakyRepo) Update(ctx context.Context, id string, patch domain.ProcessPatch) (*domain.Process, error) {
	r.mu.Lock()
	failing := r.failing
	r.mu.Unlock()
	if failing {
		return nil, errors.New("collaborator unavailable")
	}
	return r.MemoryProcessRepository.Update(ctx, id, patch)
}

// gatedRepo holds every Update until release is closed.
type gatedRepo struct {
	*repository.MemoryProcessRepository
	entered chan struct{}
	release chan struct{}
}

func (r *gatedRepo) Update(ctx context.Context, id string, patch domain.ProcessPatch) (*domain.Process, error) {
	r.entered <- struct{}{}
	<-r.release
	return r.MemoryProcessRepository.Update(ctx, id, patch)
}

type stubUploader struct {
	mu     sync.Mutex
	calls  int
	result upload.Result
	err    error
}

func (u *stubUploader) Available() bool { return true }

func (u *stubUploader) Upload(_ context.Context, _ string, _ upload.File) (upload.Result, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls++
	return u.result, u.err
}

type harness struct {
	service  *ProcessService
	repo     *flakyRepo
	producer *recordingProducer
	uploader *stubUploader
}

func newHarness(t *testing.T) harness {
	t.Helper()
	fixtures, err := repository.LoadFixtures("", fixedNow)
	if err != nil {
		t.Fatalf("load fixtures: %v", err)
	}
	repo := &flakyRepo{MemoryProcessRepository: repository.NewMemoryProcessRepository(fixtures, 0)}
	producer := &recordingProducer{}
	uploader := &stubUploader{}
	svc := NewProcessService(ProcessServiceConfig{
		Repo:        repo,
		Producer:    producer,
		Uploader:    uploader,
		UploadCache: cache.NewUploadCache(cache.Config{}),
		Now:         func() time.Time { return fixedNow },
	})
	if err := svc.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	return harness{service: svc, repo: repo, producer: producer, uploader: uploader}
}

func fiveRecords() []domain.InvoiceRecord {
	records := make([]domain.InvoiceRecord, 0, 5)
	for _, number := range []string{"A-1", "A-2", "A-3", "A-4", "A-5"} {
		records = append(records, domain.InvoiceRecord{MandantPhone: "+49151000000", InvoiceNumber: number, Amount: 10})
	}
	return records
}

func TestCreateAppliesDefaults(t *testing.T) {
	h := newHarness(t)

	created, err := h.service.Create(context.Background(), domain.ProcessDraft{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Name != DefaultProcessName || created.TotalItems != DefaultTotalItems {
		t.Fatalf("unexpected defaults: %+v", created)
	}
	if created.Status != domain.ProcessStatusNotStarted || created.Progress != 0 || created.Paused {
		t.Fatalf("unexpected initial state: %+v", created)
	}
	if !created.TargetDate.Equal(fixedNow.Add(7 * 24 * time.Hour)) {
		t.Fatalf("expected target in 7 days, got %s", created.TargetDate)
	}

	negative := -1
	if _, err := h.service.Create(context.Background(), domain.ProcessDraft{TotalItems: &negative}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestStartWithUploadedDatasetThenRestartAndComplete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.uploader.result = upload.Result{RowsUploaded: 5, Rows: fiveRecords()}

	if _, err := h.service.Upload(ctx, "process-1", upload.File{Name: "rechnungen.csv", ContentType: "text/csv", Content: []byte("x")}); err != nil {
		t.Fatalf("upload: %v", err)
	}

	started, err := h.service.Start(ctx, "process-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if started.TotalItems != 5 || started.Status != domain.ProcessStatusInProgress {
		t.Fatalf("expected 5 items in progress, got %d %s", started.TotalItems, started.Status)
	}
	if started.StartDate == nil || len(started.InvoiceData) != 5 {
		t.Fatalf("expected start date and invoice data, got %+v", started)
	}

	if _, err := h.service.Start(ctx, "process-1"); !errors.Is(err, lifecycle.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition on second start, got %v", err)
	}

	completed, err := h.service.Complete(ctx, "process-1")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.Progress != completed.TotalItems || completed.Status != domain.ProcessStatusCompleted {
		t.Fatalf("expected completed with full progress, got %+v", completed)
	}
	if _, err := h.service.Pause(ctx, "process-1"); !errors.Is(err, lifecycle.ErrInvalidTransition) {
		t.Fatalf("expected pause on completed to be rejected, got %v", err)
	}
}

func TestStartCommitsDirtyDatasetFirst(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	view, err := h.service.Dataset("process-1")
	if err != nil {
		t.Fatalf("dataset: %v", err)
	}
	if len(view.Rows) != 3 {
		t.Fatalf("expected fixture rows, got %d", len(view.Rows))
	}
	if _, err := h.service.DeleteDatasetRow("process-1", view.Rows[0].Record.ID); err != nil {
		t.Fatalf("delete row: %v", err)
	}

	started, err := h.service.Start(ctx, "process-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if started.TotalItems != 2 || len(started.InvoiceData) != 2 {
		t.Fatalf("expected committed rows to drive the start, got %d/%d", started.TotalItems, len(started.InvoiceData))
	}

	after, _ := h.service.Dataset("process-1")
	if after.Dirty {
		t.Fatalf("expected dataset to be clean after save and start")
	}
	stored, _ := h.repo.FetchOne(ctx, "process-1")
	if len(stored.InvoiceData) != 2 {
		t.Fatalf("expected invoice data persisted, got %d rows", len(stored.InvoiceData))
	}
}

func TestPauseResumeFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	paused, err := h.service.Pause(ctx, "process-2")
	if err != nil || !paused.Paused {
		t.Fatalf("expected paused, got %+v err=%v", paused, err)
	}
	again, err := h.service.Pause(ctx, "process-2")
	if err != nil || !again.Paused {
		t.Fatalf("expected repeated pause to be a no-op, got %+v err=%v", again, err)
	}
	resumed, err := h.service.Resume(ctx, "process-2")
	if err != nil || resumed.Paused {
		t.Fatalf("expected resumed, got %+v err=%v", resumed, err)
	}
	if _, err := h.service.Pause(ctx, "process-1"); !errors.Is(err, lifecycle.ErrInvalidTransition) {
		t.Fatalf("expected pause on not-started to fail, got %v", err)
	}
}

func TestFailedPersistenceKeepsLocalState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.repo.setFailing(true)

	_, err := h.service.Start(ctx, "process-1")
	if !errors.Is(err, domain.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	process, _ := h.service.Get("process-1")
	if process.Status != domain.ProcessStatusNotStarted || process.StartDate != nil {
		t.Fatalf("expected local state untouched, got %+v", process)
	}

	if _, err := h.service.Rename(ctx, "process-1", "Neu"); !errors.Is(err, domain.ErrTransport) {
		t.Fatalf("expected transport error on rename, got %v", err)
	}
	process, _ = h.service.Get("process-1")
	if process.Name != "Mahnlauf Q1 Handwerk" {
		t.Fatalf("expected name untouched, got %q", process.Name)
	}
}

func TestUpdateTotalFromDatasetIsOptimisticAndVersioned(t *testing.T) {
	h := newHarness(t)

	if h.service.UpdateTotalFromDataset("process-1", 5) {
		t.Fatalf("expected unchanged total to be ignored")
	}
	h.repo.setFailing(true)
	if !h.service.UpdateTotalFromDataset("process-1", 7) {
		t.Fatalf("expected changed total to apply")
	}
	if !h.service.UpdateTotalFromDataset("process-1", 9) {
		t.Fatalf("expected second change to apply")
	}
	h.service.Wait()

	process, _ := h.service.Get("process-1")
	if process.TotalItems != 9 || process.TotalsVersion != 2 {
		t.Fatalf("expected local total 9 at version 2, got %d at %d", process.TotalItems, process.TotalsVersion)
	}

	sent := h.producer.sent()
	if len(sent) != 2 {
		t.Fatalf("expected 2 sync messages, got %d", len(sent))
	}
	versions := map[int64]int{}
	for _, message := range sent {
		versions[message.Version] = message.TotalItems
	}
	if versions[1] != 7 || versions[2] != 9 {
		t.Fatalf("unexpected sync messages: %+v", sent)
	}
	if h.service.UpdateTotalFromDataset("missing", 1) {
		t.Fatalf("expected unknown process to be ignored")
	}
}

func TestMergeKeepsNewerLocalTotal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.service.UpdateTotalFromDataset("process-1", 11)
	h.service.Wait()

	renamed, err := h.service.Rename(ctx, "process-1", "Mahnlauf Q2")
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if renamed.TotalItems != 11 || renamed.TotalsVersion != 1 {
		t.Fatalf("expected newer local total to survive merge, got %d at %d", renamed.TotalItems, renamed.TotalsVersion)
	}
	if renamed.Name != "Mahnlauf Q2" {
		t.Fatalf("expected rename to apply, got %q", renamed.Name)
	}
}

func TestDatasetEditsUpdateTotals(t *testing.T) {
	h := newHarness(t)

	view, _ := h.service.Dataset("process-1")
	row, err := h.service.AddDatasetRow("process-1")
	if err != nil {
		t.Fatalf("add row: %v", err)
	}
	process, _ := h.service.Get("process-1")
	if process.TotalItems != 5 {
		t.Fatalf("expected add row not to notify, total %d", process.TotalItems)
	}

	if _, err := h.service.SetDatasetField("process-1", row.Record.ID, dataset.FieldMandantPhone, "+49 170 1234567"); err != nil {
		t.Fatalf("set field: %v", err)
	}
	process, _ = h.service.Get("process-1")
	if process.TotalItems != len(view.Rows)+1 {
		t.Fatalf("expected total to follow dataset size, got %d", process.TotalItems)
	}

	if _, err := h.service.DeleteDatasetRow("process-1", "missing"); !errors.Is(err, dataset.ErrRowNotFound) {
		t.Fatalf("expected row not found, got %v", err)
	}

	discarded, err := h.service.DiscardDataset("process-1")
	if err != nil || discarded.Dirty || len(discarded.Rows) != len(view.Rows) {
		t.Fatalf("expected discard to restore %d rows, got %+v err=%v", len(view.Rows), discarded, err)
	}
}

func TestCommitDatasetReportsSaveFailureButKeepsCommit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	view, _ := h.service.Dataset("process-1")
	if _, err := h.service.DeleteDatasetRow("process-1", view.Rows[0].Record.ID); err != nil {
		t.Fatalf("delete row: %v", err)
	}
	changes, _ := h.service.DatasetChanges("process-1")
	if len(changes.Removed) != 1 {
		t.Fatalf("expected one removed row in changes, got %+v", changes)
	}

	h.repo.setFailing(true)
	committed, err := h.service.CommitDataset(ctx, "process-1")
	if !errors.Is(err, domain.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if committed.Dirty || len(committed.Rows) != 2 {
		t.Fatalf("expected local commit to stand, got %+v", committed)
	}
}

func TestUploadUsesCacheForIdenticalFiles(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.uploader.result = upload.Result{RowsUploaded: 2, Rows: fiveRecords()[:2]}
	file := upload.File{Name: "rechnungen.xlsx", ContentType: "application/octet-stream", Content: []byte("same")}

	first, err := h.service.Upload(ctx, "process-2", file)
	if err != nil || first.Cached {
		t.Fatalf("expected fresh upload, got %+v err=%v", first, err)
	}
	second, err := h.service.Upload(ctx, "process-2", file)
	if err != nil || !second.Cached {
		t.Fatalf("expected cached upload, got %+v err=%v", second, err)
	}
	if h.uploader.calls != 1 {
		t.Fatalf("expected one endpoint call, got %d", h.uploader.calls)
	}
	if len(second.Dataset.Rows) != 2 || second.Dataset.Dirty {
		t.Fatalf("expected clean dataset of 2 rows, got %+v", second.Dataset)
	}
	process, _ := h.service.Get("process-2")
	if process.TotalItems != 2 {
		t.Fatalf("expected total to follow upload, got %d", process.TotalItems)
	}
}

func TestUploadRejectsOversizedFileBeforeEndpoint(t *testing.T) {
	h := newHarness(t)

	_, err := h.service.Upload(context.Background(), "process-1", upload.File{
		Name:        "big.csv",
		ContentType: "text/csv",
		Content:     make([]byte, 6_500_000),
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if h.uploader.calls != 0 {
		t.Fatalf("expected no endpoint call, got %d", h.uploader.calls)
	}
}

func TestDeleteRemovesProcessAndDataset(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.service.Dataset("process-3"); err != nil {
		t.Fatalf("dataset: %v", err)
	}
	if err := h.service.Delete(ctx, "process-3"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := h.service.Get("process-3"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected process to be gone, got %v", err)
	}
	if _, err := h.service.Dataset("process-3"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected dataset to be gone, got %v", err)
	}
	if err := h.service.Delete(ctx, "process-3"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestListFiltersAndSorts(t *testing.T) {
	h := newHarness(t)

	byDate := h.service.List(ProcessFilter{})
	if len(byDate) != 4 || byDate[0].ID != "process-1" || byDate[3].ID != "process-4" {
		t.Fatalf("expected newest first, got %s..%s", byDate[0].ID, byDate[len(byDate)-1].ID)
	}

	inProgress := h.service.List(ProcessFilter{Status: domain.ProcessStatusInProgress})
	if len(inProgress) != 2 {
		t.Fatalf("expected 2 in-progress processes, got %d", len(inProgress))
	}

	search := h.service.List(ProcessFilter{Search: "kanzlei"})
	if len(search) != 1 || search[0].ID != "process-3" {
		t.Fatalf("expected case-insensitive search hit, got %+v", search)
	}

	byProgress := h.service.List(ProcessFilter{Sort: SortByProgress})
	if byProgress[0].ID != "process-4" || byProgress[len(byProgress)-1].ID != "process-1" {
		t.Fatalf("expected highest progress first, got %s..%s", byProgress[0].ID, byProgress[len(byProgress)-1].ID)
	}

	if _, err := ParseSortKey("size"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected unknown sort key to fail, got %v", err)
	}
}

func TestConversationsAndMetrics(t *testing.T) {
	h := newHarness(t)

	all := h.service.Conversations(ConversationFilter{Scope: ConversationScopeAll})
	if len(all) != 3 {
		t.Fatalf("expected 3 processes with messages, got %d", len(all))
	}
	if all[0].ProcessID != "process-2" {
		t.Fatalf("expected most recent conversation first, got %s", all[0].ProcessID)
	}
	active := h.service.Conversations(ConversationFilter{Scope: ConversationScopeActive})
	if len(active) != 2 {
		t.Fatalf("expected 2 active conversations, got %d", len(active))
	}
	completed := h.service.Conversations(ConversationFilter{Scope: ConversationScopeCompleted, Search: "jahres"})
	if len(completed) != 1 || completed[0].ProcessID != "process-4" {
		t.Fatalf("unexpected completed conversations: %+v", completed)
	}

	metrics := h.service.Metrics(time.UTC)
	if metrics.Active != 2 || metrics.NotStarted != 1 || metrics.Completed != 1 {
		t.Fatalf("unexpected status counts: %+v", metrics)
	}
	if metrics.MessagesToday != 2 {
		t.Fatalf("expected 2 messages today, got %d", metrics.MessagesToday)
	}

	messages, err := h.service.Messages("process-2")
	if err != nil || len(messages) != 4 {
		t.Fatalf("expected 4 messages, got %d err=%v", len(messages), err)
	}
	if _, err := h.service.Messages("missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStartOnStartedProcessKeepsPendingEdits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	before, _ := h.repo.FetchOne(ctx, "process-2")
	if _, err := h.service.AddDatasetRow("process-2"); err != nil {
		t.Fatalf("add row: %v", err)
	}

	if _, err := h.service.Start(ctx, "process-2"); !errors.Is(err, lifecycle.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	view, _ := h.service.Dataset("process-2")
	if !view.Dirty {
		t.Fatalf("expected pending edits to stay uncommitted")
	}
	after, _ := h.repo.FetchOne(ctx, "process-2")
	if len(after.InvoiceData) != len(before.InvoiceData) {
		t.Fatalf("expected stored invoice data untouched, got %d rows want %d", len(after.InvoiceData), len(before.InvoiceData))
	}
}

func TestCompletedProcessDatasetIsReadOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	view, err := h.service.Dataset("process-1")
	if err != nil {
		t.Fatalf("dataset: %v", err)
	}
	if _, err := h.service.Start(ctx, "process-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := h.service.Complete(ctx, "process-1"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if _, err := h.service.AddDatasetRow("process-1"); !errors.Is(err, lifecycle.ErrInvalidTransition) {
		t.Fatalf("expected add row to be rejected, got %v", err)
	}
	rowID := view.Rows[0].Record.ID
	if _, err := h.service.SetDatasetField("process-1", rowID, dataset.FieldAmount, "1"); !errors.Is(err, lifecycle.ErrInvalidTransition) {
		t.Fatalf("expected field edit to be rejected, got %v", err)
	}
	if _, err := h.service.DeleteDatasetRow("process-1", rowID); !errors.Is(err, lifecycle.ErrInvalidTransition) {
		t.Fatalf("expected row delete to be rejected, got %v", err)
	}
	if _, err := h.service.CommitDataset(ctx, "process-1"); !errors.Is(err, lifecycle.ErrInvalidTransition) {
		t.Fatalf("expected commit to be rejected, got %v", err)
	}
	file := upload.File{Name: "rechnungen.csv", ContentType: "text/csv", Content: []byte("x")}
	if _, err := h.service.Upload(ctx, "process-1", file); !errors.Is(err, lifecycle.ErrInvalidTransition) {
		t.Fatalf("expected upload to be rejected, got %v", err)
	}
	if h.uploader.calls != 0 {
		t.Fatalf("expected no endpoint call, got %d", h.uploader.calls)
	}
	if _, err := h.service.SaveInvoiceData(ctx, "process-1", fiveRecords()); !errors.Is(err, lifecycle.ErrInvalidTransition) {
		t.Fatalf("expected save to be rejected, got %v", err)
	}
	if h.service.UpdateTotalFromDataset("process-1", 9) {
		t.Fatalf("expected total of completed process to stay final")
	}

	process, _ := h.service.Get("process-1")
	if process.Progress != process.TotalItems || lifecycle.ProgressPercent(process.Progress, process.TotalItems) != 100 {
		t.Fatalf("expected full progress, got %d of %d", process.Progress, process.TotalItems)
	}
	if readOnly, err := h.service.Dataset("process-1"); err != nil || readOnly.Dirty {
		t.Fatalf("expected dataset to stay readable and clean, got %+v err=%v", readOnly, err)
	}
}

func TestFailedSaveKeepsLocalTotalsVersion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.repo.setFailing(true)

	if _, err := h.service.SaveInvoiceData(ctx, "process-1", fiveRecords()[:2]); !errors.Is(err, domain.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	process, _ := h.service.Get("process-1")
	if process.TotalItems != 5 || process.TotalsVersion != 0 {
		t.Fatalf("expected local total 5 at version 0, got %d at %d", process.TotalItems, process.TotalsVersion)
	}

	h.repo.setFailing(false)
	if !h.service.UpdateTotalFromDataset("process-1", 7) {
		t.Fatalf("expected changed total to apply")
	}
	h.service.Wait()
	sent := h.producer.sent()
	if len(sent) != 1 || sent[0].Version != 2 {
		t.Fatalf("expected reserved version to be skipped, got %+v", sent)
	}
}

func TestSlowSaveDoesNotOverwriteNewerReplicatedTotal(t *testing.T) {
	fixtures, err := repository.LoadFixtures("", fixedNow)
	if err != nil {
		t.Fatalf("load fixtures: %v", err)
	}
	store := repository.NewMemoryProcessRepository(fixtures, 0)
	repo := &gatedRepo{MemoryProcessRepository: store, entered: make(chan struct{}), release: make(chan struct{})}
	producer := &recordingProducer{}
	svc := NewProcessService(ProcessServiceConfig{
		Repo:     repo,
		Producer: producer,
		Now:      func() time.Time { return fixedNow },
	})
	ctx := context.Background()
	if err := svc.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := svc.SaveInvoiceData(ctx, "process-1", fiveRecords()[:3])
		done <- err
	}()
	<-repo.entered

	if !svc.UpdateTotalFromDataset("process-1", 2) {
		t.Fatalf("expected optimistic total to apply")
	}
	svc.Wait()
	sent := producer.sent()
	if len(sent) != 1 {
		t.Fatalf("expected one sync message, got %d", len(sent))
	}
	if err := store.UpdateTotals(ctx, "process-1", sent[0].TotalItems, sent[0].Version); err != nil {
		t.Fatalf("replicate totals: %v", err)
	}

	close(repo.release)
	if err := <-done; err != nil {
		t.Fatalf("save: %v", err)
	}

	stored, _ := store.FetchOne(ctx, "process-1")
	local, _ := svc.Get("process-1")
	if stored.TotalItems != 2 || stored.TotalsVersion != 2 {
		t.Fatalf("expected stored total 2 at version 2, got %d at %d", stored.TotalItems, stored.TotalsVersion)
	}
	if local.TotalItems != stored.TotalItems || local.TotalsVersion != stored.TotalsVersion {
		t.Fatalf("expected local and stored totals to agree, local %d at %d", local.TotalItems, local.TotalsVersion)
	}
	if len(stored.InvoiceData) != 3 {
		t.Fatalf("expected invoice data saved, got %d rows", len(stored.InvoiceData))
	}
}
