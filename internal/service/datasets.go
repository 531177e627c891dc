package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/iago/outreach-dashboard-back/internal/cache"
	"github.com/iago/outreach-dashboard-back/internal/dataset"
	"github.com/iago/outreach-dashboard-back/internal/domain"
	"github.com/iago/outreach-dashboard-back/internal/lifecycle"
	"github.com/iago/outreach-dashboard-back/internal/policy"
	"github.com/iago/outreach-dashboard-back/internal/quality"
	"github.com/iago/outreach-dashboard-back/internal/repository"
	"github.com/iago/outreach-dashboard-back/internal/upload"
)

type DatasetView struct {
	ProcessID string            `json:"process_id"`
	Rows      []dataset.Row     `json:"rows"`
	Dirty     bool              `json:"dirty"`
	Findings  []quality.Finding `json:"findings"`
	Score     float64           `json:"quality_score"`
}

type UploadOutcome struct {
	RowsUploaded int         `json:"rows_uploaded"`
	Cached       bool        `json:"cached"`
	Dataset      DatasetView `json:"dataset"`
}

func (s *ProcessService) Dataset(id string) (DatasetView, error) {
	controller, err := s.datasetFor(id)
	if err != nil {
		return DatasetView{}, err
	}
	return viewOf(id, controller), nil
}

func (s *ProcessService) AddDatasetRow(id string) (dataset.Row, error) {
	controller, err := s.editableDataset(id)
	if err != nil {
		return dataset.Row{}, err
	}
	return controller.AddRow(), nil
}

func (s *ProcessService) SetDatasetField(id, rowID string, field dataset.Field, value string) (DatasetView, error) {
	controller, err := s.editableDataset(id)
	if err != nil {
		return DatasetView{}, err
	}
	if err := controller.SetField(rowID, field, value); err != nil {
		return DatasetView{}, err
	}
	if s.logger != nil {
		s.logger.Printf("dataset field updated process_id=%s row_id=%s field=%s value=%s", id, rowID, field, policy.MaskPIIString(value))
	}
	return viewOf(id, controller), nil
}

func (s *ProcessService) DeleteDatasetRow(id, rowID string) (DatasetView, error) {
	controller, err := s.editableDataset(id)
	if err != nil {
		return DatasetView{}, err
	}
	if !controller.DeleteRow(rowID) {
		return DatasetView{}, fmt.Errorf("delete row %s: %w", rowID, dataset.ErrRowNotFound)
	}
	return viewOf(id, controller), nil
}

// CommitDataset makes the working copy the new save point and persists it.
// The local commit stands even when persisting fails.
func (s *ProcessService) CommitDataset(ctx context.Context, id string) (DatasetView, error) {
	controller, err := s.editableDataset(id)
	if err != nil {
		return DatasetView{}, err
	}
	if err := controller.Commit(ctx); err != nil {
		return viewOf(id, controller), err
	}
	return viewOf(id, controller), nil
}

func (s *ProcessService) DiscardDataset(id string) (DatasetView, error) {
	controller, err := s.datasetFor(id)
	if err != nil {
		return DatasetView{}, err
	}
	controller.Discard()
	return viewOf(id, controller), nil
}

func (s *ProcessService) DatasetChanges(id string) (dataset.Changes, error) {
	controller, err := s.datasetFor(id)
	if err != nil {
		return dataset.Changes{}, err
	}
	return controller.PendingChanges(), nil
}

// Upload validates the file, sends it to the parser endpoint (or serves an
// identical earlier upload from the cache) and initializes the dataset with
// the parsed rows.
func (s *ProcessService) Upload(ctx context.Context, id string, file upload.File) (UploadOutcome, error) {
	if err := upload.Validate(file.Name, file.ContentType, int64(len(file.Content))); err != nil {
		return UploadOutcome{}, err
	}
	controller, err := s.editableDataset(id)
	if err != nil {
		return UploadOutcome{}, err
	}

	signature := cache.Signature(id, file.Content)
	rows, rowsUploaded, cached, err := s.cachedUpload(signature)
	if err != nil {
		return UploadOutcome{}, err
	}
	if !cached {
		if s.uploader == nil || !s.uploader.Available() {
			return UploadOutcome{}, upload.ErrUploadUnavailable
		}
		result, err := s.uploader.Upload(ctx, id, file)
		if err != nil {
			if s.logger != nil {
				s.logger.Printf("upload failed process_id=%s file=%s err=%v", id, file.Name, err)
			}
			return UploadOutcome{}, err
		}
		rows = result.Rows
		rowsUploaded = result.RowsUploaded
		s.storeUpload(signature, id, rows, rowsUploaded)
	}

	controller.Initialize(rows)
	s.UpdateTotalFromDataset(id, controller.Len())

	if s.logger != nil {
		s.logger.Printf("upload imported process_id=%s rows=%d cached=%t", id, controller.Len(), cached)
	}
	return UploadOutcome{
		RowsUploaded: rowsUploaded,
		Cached:       cached,
		Dataset:      viewOf(id, controller),
	}, nil
}

func (s *ProcessService) cachedUpload(signature string) ([]domain.InvoiceRecord, int, bool, error) {
	if s.cache == nil {
		return nil, 0, false, nil
	}
	entry, ok := s.cache.Get(signature)
	if !ok {
		return nil, 0, false, nil
	}
	var rows []domain.InvoiceRecord
	if err := json.Unmarshal(entry.Value, &rows); err != nil {
		return nil, 0, false, fmt.Errorf("decode cached upload: %w", err)
	}
	return rows, entry.RowCount, true, nil
}

func (s *ProcessService) storeUpload(signature, id string, rows []domain.InvoiceRecord, rowsUploaded int) {
	if s.cache == nil {
		return
	}
	encoded, err := json.Marshal(rows)
	if err != nil {
		return
	}
	s.cache.Set(signature, cache.Entry{Value: encoded, ProcessID: id, RowCount: rowsUploaded})
}

// datasetFor returns the process dataset, creating it from the stored
// invoice data on first use.
func (s *ProcessService) datasetFor(id string) (*dataset.Controller, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	process, ok := s.processes[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if controller, ok := s.datasets[id]; ok {
		return controller, nil
	}

	controller := dataset.NewController(dataset.Observers{
		OnChange: func(records []domain.InvoiceRecord) {
			s.UpdateTotalFromDataset(id, len(records))
		},
		OnSave: func(ctx context.Context, records []domain.InvoiceRecord) error {
			_, err := s.SaveInvoiceData(ctx, id, records)
			return err
		},
	})
	controller.Initialize(process.InvoiceData)
	s.datasets[id] = controller
	return controller, nil
}

// editableDataset is datasetFor for callers that change rows. Completed
// processes have a read-only dataset.
func (s *ProcessService) editableDataset(id string) (*dataset.Controller, error) {
	s.mu.Lock()
	process, ok := s.processes[id]
	if !ok {
		s.mu.Unlock()
		return nil, repository.ErrNotFound
	}
	err := lifecycle.Check(process, lifecycle.ActionEditDataset)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.datasetFor(id)
}

func (s *ProcessService) existingDataset(id string) (*dataset.Controller, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.processes[id]; !ok {
		return nil, repository.ErrNotFound
	}
	return s.datasets[id], nil
}

func viewOf(id string, controller *dataset.Controller) DatasetView {
	records := controller.Records()
	findings := quality.Inspect(records)
	rows := controller.Rows()
	if rows == nil {
		rows = []dataset.Row{}
	}
	return DatasetView{
		ProcessID: id,
		Rows:      rows,
		Dirty:     controller.IsDirty(),
		Findings:  findings,
		Score:     quality.Score(records, findings),
	}
}
