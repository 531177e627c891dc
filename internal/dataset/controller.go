// Package dataset keeps an editable working copy of invoice records with
// explicit commit and discard against a save-point snapshot.
package dataset

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/iago/outreach-dashboard-back/internal/domain"
)

var ErrRowNotFound = errors.New("row not found")

type Field string

const (
	FieldMandantPhone  Field = "mandant_phone"
	FieldInvoiceNumber Field = "invoice_number"
	FieldAmount        Field = "amount"
)

// Row wraps a record with view-only flags. The flags never reach the
// observers or the persistence collaborator.
type Row struct {
	Record    domain.InvoiceRecord `json:"record"`
	IsNew     bool                 `json:"is_new,omitempty"`
	IsEditing bool                 `json:"is_editing,omitempty"`
}

// ChangeFunc receives the full working collection after a mutation.
type ChangeFunc func(records []domain.InvoiceRecord)

// SaveFunc persists a committed collection.
type SaveFunc func(ctx context.Context, records []domain.InvoiceRecord) error

type Observers struct {
	OnChange ChangeFunc
	OnSave   SaveFunc
}

type Controller struct {
	mu       sync.Mutex
	rows     []Row
	snapshot []Row
	dirty    bool

	observers Observers
}

func NewController(observers Observers) *Controller {
	return &Controller{observers: observers}
}

// Initialize replaces the working copy and the snapshot wholesale.
func (c *Controller) Initialize(records []domain.InvoiceRecord) {
	rows := make([]Row, 0, len(records))
	for _, record := range records {
		if strings.TrimSpace(record.ID) == "" {
			record.ID = newRowID()
		}
		rows = append(rows, Row{Record: record})
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows = rows
	c.snapshot = cloneRows(rows)
	c.dirty = false
}

func (c *Controller) SetField(rowID string, field Field, value string) error {
	c.mu.Lock()
	index := c.indexOf(rowID)
	if index < 0 {
		c.mu.Unlock()
		return ErrRowNotFound
	}

	record := &c.rows[index].Record
	switch field {
	case FieldMandantPhone:
		record.MandantPhone = value
	case FieldInvoiceNumber:
		record.InvoiceNumber = value
	case FieldAmount:
		record.Amount = ParseAmount(value)
	default:
		c.mu.Unlock()
		return domain.NewValidationError("field", "unknown field "+strconv.Quote(string(field)))
	}
	c.dirty = true
	records := recordsOf(c.rows)
	c.mu.Unlock()

	c.notifyChange(records)
	return nil
}

// AddRow appends an empty pending row. It stays unsaved until Commit and
// does not notify the change observer.
func (c *Controller) AddRow() Row {
	row := Row{
		Record:    domain.InvoiceRecord{ID: newRowID()},
		IsNew:     true,
		IsEditing: true,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows = append(c.rows, row)
	c.dirty = true
	return row
}

// DeleteRow removes a row and reports whether it existed.
func (c *Controller) DeleteRow(rowID string) bool {
	c.mu.Lock()
	index := c.indexOf(rowID)
	if index < 0 {
		c.mu.Unlock()
		return false
	}
	c.rows = append(c.rows[:index:index], c.rows[index+1:]...)
	c.dirty = true
	records := recordsOf(c.rows)
	c.mu.Unlock()

	c.notifyChange(records)
	return true
}

// Commit promotes the working copy to the new save point and then fires
// the save observer. A failed save is reported but the commit stands.
func (c *Controller) Commit(ctx context.Context) error {
	c.mu.Lock()
	for i := range c.rows {
		c.rows[i].IsNew = false
		c.rows[i].IsEditing = false
	}
	c.snapshot = cloneRows(c.rows)
	c.dirty = false
	records := recordsOf(c.rows)
	c.mu.Unlock()

	if c.observers.OnSave == nil {
		return nil
	}
	return c.observers.OnSave(ctx, records)
}

// Discard drops every add, edit and delete since the last save point.
func (c *Controller) Discard() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows = cloneRows(c.snapshot)
	c.dirty = false
}

func (c *Controller) IsDirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty
}

func (c *Controller) Rows() []Row {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneRows(c.rows)
}

func (c *Controller) Records() []domain.InvoiceRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return recordsOf(c.rows)
}

func (c *Controller) Snapshot() []domain.InvoiceRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return recordsOf(c.snapshot)
}

func (c *Controller) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.rows)
}

// ParseAmount reads a cell value as a non-negative amount. Both "1234.56"
// and the German "1.234,56" are accepted: when both separators occur, the
// last one is the decimal mark and the other groups thousands. Anything
// that does not parse, or parses negative, becomes 0.
func ParseAmount(value string) float64 {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0
	}
	comma := strings.LastIndex(trimmed, ",")
	dot := strings.LastIndex(trimmed, ".")
	switch {
	case comma > dot && dot >= 0:
		trimmed = strings.ReplaceAll(trimmed, ".", "")
		trimmed = strings.Replace(trimmed, ",", ".", 1)
	case comma > dot:
		trimmed = strings.Replace(trimmed, ",", ".", 1)
	case comma >= 0:
		trimmed = strings.ReplaceAll(trimmed, ",", "")
	}
	parsed, err := strconv.ParseFloat(trimmed, 64)
	if err != nil || parsed < 0 || math.IsNaN(parsed) || math.IsInf(parsed, 0) {
		return 0
	}
	return parsed
}

func (c *Controller) indexOf(rowID string) int {
	for i := range c.rows {
		if c.rows[i].Record.ID == rowID {
			return i
		}
	}
	return -1
}

func (c *Controller) notifyChange(records []domain.InvoiceRecord) {
	if c.observers.OnChange != nil {
		c.observers.OnChange(records)
	}
}

func newRowID() string {
	return "row-" + uuid.NewString()
}

func cloneRows(rows []Row) []Row {
	return append(make([]Row, 0, len(rows)), rows...)
}

func recordsOf(rows []Row) []domain.InvoiceRecord {
	records := make([]domain.InvoiceRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.Record)
	}
	return records
}
