package dataset

import (
	"fmt"
	"strings"

	"github.com/iago/outreach-dashboard-back/internal/domain"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// Changes summarizes the pending edits of a dirty dataset.
type Changes struct {
	Dirty         bool     `json:"dirty"`
	Added         []string `json:"added"`
	Removed       []string `json:"removed"`
	Modified      []string `json:"modified"`
	LinesInserted int      `json:"lines_inserted"`
	LinesDeleted  int      `json:"lines_deleted"`
	Patch         string   `json:"patch"`
}

// PendingChanges compares the working copy against the save point.
func (c *Controller) PendingChanges() Changes {
	c.mu.Lock()
	before := recordsOf(c.snapshot)
	after := recordsOf(c.rows)
	dirty := c.dirty
	c.mu.Unlock()

	changes := Changes{
		Dirty:    dirty,
		Added:    []string{},
		Removed:  []string{},
		Modified: []string{},
	}

	previous := make(map[string]domain.InvoiceRecord, len(before))
	for _, record := range before {
		previous[record.ID] = record
	}
	current := make(map[string]struct{}, len(after))
	for _, record := range after {
		current[record.ID] = struct{}{}
		old, ok := previous[record.ID]
		switch {
		case !ok:
			changes.Added = append(changes.Added, record.ID)
		case old != record:
			changes.Modified = append(changes.Modified, record.ID)
		}
	}
	for _, record := range before {
		if _, ok := current[record.ID]; !ok {
			changes.Removed = append(changes.Removed, record.ID)
		}
	}

	beforeText := renderLines(before)
	afterText := renderLines(after)
	if beforeText == afterText {
		return changes
	}

	dmp := diffmatchpatch.New()
	beforeChars, afterChars, lines := dmp.DiffLinesToChars(beforeText, afterText)
	diffs := dmp.DiffMain(beforeChars, afterChars, false)
	diffs = dmp.DiffCharsToLines(diffs, lines)
	for _, diff := range diffs {
		switch diff.Type {
		case diffmatchpatch.DiffInsert:
			changes.LinesInserted += strings.Count(diff.Text, "\n")
		case diffmatchpatch.DiffDelete:
			changes.LinesDeleted += strings.Count(diff.Text, "\n")
		}
	}
	changes.Patch = dmp.PatchToText(dmp.PatchMake(beforeText, diffs))
	return changes
}

func renderLines(records []domain.InvoiceRecord) string {
	var builder strings.Builder
	for _, record := range records {
		fmt.Fprintf(&builder, "%s\t%s\t%s\t%.2f\n",
			record.ID,
			record.MandantPhone,
			record.InvoiceNumber,
			record.Amount,
		)
	}
	return builder.String()
}
