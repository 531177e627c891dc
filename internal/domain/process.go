package domain

import "time"

type ProcessStatus string

const (
	ProcessStatusNotStarted ProcessStatus = "not-started"
	ProcessStatusInProgress ProcessStatus = "in-progress"
	ProcessStatusCompleted  ProcessStatus = "completed"
)

func (s ProcessStatus) Valid() bool {
	switch s {
	case ProcessStatusNotStarted, ProcessStatusInProgress, ProcessStatusCompleted:
		return true
	}
	return false
}

// Process is one outreach batch tracked from not-started to completed.
// It exclusively owns its message log and invoice data.
type Process struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Status         ProcessStatus   `json:"status"`
	TotalItems     int             `json:"total_items"`
	Progress       int             `json:"progress"`
	Paused         bool            `json:"paused"`
	Messages       []Message       `json:"messages"`
	CreatedAt      time.Time       `json:"created_at"`
	StartDate      *time.Time      `json:"start_date,omitempty"`
	CompletionDate *time.Time      `json:"completion_date,omitempty"`
	TargetDate     time.Time       `json:"target_date"`
	InvoiceData    []InvoiceRecord `json:"invoice_data,omitempty"`
	TotalsVersion  int64           `json:"totals_version"`
}

// ProcessDraft carries the user supplied fields of a new process.
type ProcessDraft struct {
	Name       string
	TotalItems *int
	TargetDate *time.Time
}

// ProcessPatch is a partial update. Nil fields are left untouched.
type ProcessPatch struct {
	Name           *string
	Status         *ProcessStatus
	TotalItems     *int
	Progress       *int
	Paused         *bool
	StartDate      *time.Time
	CompletionDate *time.Time
	TargetDate     *time.Time
	InvoiceData    *[]InvoiceRecord
	TotalsVersion  *int64
}

func (p ProcessPatch) Empty() bool {
	return p.Name == nil &&
		p.Status == nil &&
		p.TotalItems == nil &&
		p.Progress == nil &&
		p.Paused == nil &&
		p.StartDate == nil &&
		p.CompletionDate == nil &&
		p.TargetDate == nil &&
		p.InvoiceData == nil &&
		p.TotalsVersion == nil
}

// WithoutStaleTotals drops the total and its version when the version is
// not newer than stored. The other fields still apply.
func (p ProcessPatch) WithoutStaleTotals(stored int64) ProcessPatch {
	if p.TotalsVersion != nil && *p.TotalsVersion <= stored {
		p.TotalItems = nil
		p.TotalsVersion = nil
	}
	return p
}

// Apply merges the patch into process in place.
func (p ProcessPatch) Apply(process *Process) {
	if p.Name != nil {
		process.Name = *p.Name
	}
	if p.Status != nil {
		process.Status = *p.Status
	}
	if p.TotalItems != nil {
		process.TotalItems = *p.TotalItems
	}
	if p.Progress != nil {
		process.Progress = *p.Progress
	}
	if p.Paused != nil {
		process.Paused = *p.Paused
	}
	if p.StartDate != nil {
		value := *p.StartDate
		process.StartDate = &value
	}
	if p.CompletionDate != nil {
		value := *p.CompletionDate
		process.CompletionDate = &value
	}
	if p.TargetDate != nil {
		process.TargetDate = *p.TargetDate
	}
	if p.InvoiceData != nil {
		process.InvoiceData = CloneInvoiceRecords(*p.InvoiceData)
	}
	if p.TotalsVersion != nil {
		process.TotalsVersion = *p.TotalsVersion
	}
}

// Clone returns a deep copy so callers can never alias stored collections.
func (p *Process) Clone() *Process {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Messages = append([]Message(nil), p.Messages...)
	clone.InvoiceData = CloneInvoiceRecords(p.InvoiceData)
	if p.StartDate != nil {
		value := *p.StartDate
		clone.StartDate = &value
	}
	if p.CompletionDate != nil {
		value := *p.CompletionDate
		clone.CompletionDate = &value
	}
	return &clone
}

// SyncMessage replicates an optimistic total update to the persistence
// collaborator. Version is monotonic per process.
type SyncMessage struct {
	ProcessID   string    `json:"process_id"`
	TotalItems  int       `json:"total_items"`
	Version     int64     `json:"version"`
	Attempt     int       `json:"attempt"`
	RequestedAt time.Time `json:"requested_at"`
}
