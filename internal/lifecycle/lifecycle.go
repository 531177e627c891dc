// Package lifecycle enforces the one-directional process status machine:
// not-started -> in-progress -> completed. Pause only applies while a
// process is in progress and completed is terminal.
package lifecycle

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/iago/outreach-dashboard-back/internal/domain"
)

var ErrInvalidTransition = errors.New("invalid process transition")

type Action string

const (
	ActionStart    Action = "start"
	ActionPause    Action = "pause"
	ActionResume   Action = "resume"
	ActionComplete Action = "complete"
	ActionRename   Action = "rename"
)

// ActionEditDataset covers row edits, commits and uploads.
const ActionEditDataset Action = "edit dataset of"

type TransitionError struct {
	ProcessID string
	From      domain.ProcessStatus
	Action    Action
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s process %s in status %s", e.Action, e.ProcessID, e.From)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

type Controller struct {
	now func() time.Time
}

func NewController(now func() time.Time) *Controller {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Controller{now: now}
}

// Start moves a not-started process to in-progress. A non-empty dataset
// replaces the invoice data and defines the total item count.
func (c *Controller) Start(process *domain.Process, dataset []domain.InvoiceRecord) (domain.ProcessPatch, error) {
	if err := Check(process, ActionStart); err != nil {
		return domain.ProcessPatch{}, err
	}

	now := c.now()
	status := domain.ProcessStatusInProgress
	patch := domain.ProcessPatch{
		Status:    &status,
		StartDate: &now,
	}
	if len(dataset) > 0 {
		total := len(dataset)
		records := domain.CloneInvoiceRecords(dataset)
		patch.TotalItems = &total
		patch.InvoiceData = &records
	}
	patch.Apply(process)
	return patch, nil
}

// Pause sets the paused flag. Pausing a paused process is a no-op.
func (c *Controller) Pause(process *domain.Process) (domain.ProcessPatch, error) {
	return c.setPaused(process, true, ActionPause)
}

// Resume clears the paused flag. Resuming an active process is a no-op.
func (c *Controller) Resume(process *domain.Process) (domain.ProcessPatch, error) {
	return c.setPaused(process, false, ActionResume)
}

func (c *Controller) setPaused(process *domain.Process, paused bool, action Action) (domain.ProcessPatch, error) {
	if err := Check(process, action); err != nil {
		return domain.ProcessPatch{}, err
	}
	if process.Paused == paused {
		return domain.ProcessPatch{}, nil
	}
	patch := domain.ProcessPatch{Paused: &paused}
	patch.Apply(process)
	return patch, nil
}

// Complete finishes an in-progress process and forces progress to 100%.
func (c *Controller) Complete(process *domain.Process) (domain.ProcessPatch, error) {
	if err := Check(process, ActionComplete); err != nil {
		return domain.ProcessPatch{}, err
	}

	now := c.now()
	status := domain.ProcessStatusCompleted
	progress := process.TotalItems
	paused := false
	patch := domain.ProcessPatch{
		Status:         &status,
		CompletionDate: &now,
		Progress:       &progress,
		Paused:         &paused,
	}
	patch.Apply(process)
	return patch, nil
}

func (c *Controller) Rename(process *domain.Process, name string) (domain.ProcessPatch, error) {
	if err := Check(process, ActionRename); err != nil {
		return domain.ProcessPatch{}, err
	}
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return domain.ProcessPatch{}, domain.NewValidationError("name", "name must not be empty")
	}
	if trimmed == process.Name {
		return domain.ProcessPatch{}, nil
	}
	patch := domain.ProcessPatch{Name: &trimmed}
	patch.Apply(process)
	return patch, nil
}

// Check reports whether action is allowed in the current status. It never
// changes the process.
func Check(process *domain.Process, action Action) error {
	allowed := false
	switch action {
	case ActionStart:
		allowed = process.Status == domain.ProcessStatusNotStarted
	case ActionPause, ActionResume, ActionComplete:
		allowed = process.Status == domain.ProcessStatusInProgress
	case ActionRename, ActionEditDataset:
		allowed = process.Status != domain.ProcessStatusCompleted
	}
	if !allowed {
		return transitionError(process, action)
	}
	return nil
}

// ProgressPercent never divides by zero and stays within [0,100].
func ProgressPercent(progress, totalItems int) int {
	if totalItems <= 0 || progress <= 0 {
		return 0
	}
	percent := int(math.Round(100 * float64(progress) / float64(totalItems)))
	if percent > 100 {
		return 100
	}
	return percent
}

func transitionError(process *domain.Process, action Action) error {
	return &TransitionError{ProcessID: process.ID, From: process.Status, Action: action}
}
