// Package quality inspects invoice datasets for rows that would make an
// outreach run fail or contact the wrong person.
package quality

import (
	"math"
	"strings"
	"unicode"

	"github.com/iago/outreach-dashboard-back/internal/domain"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

type Code string

const (
	CodeMissingPhone     Code = "missing_phone"
	CodeInvalidPhone     Code = "invalid_phone"
	CodeMissingInvoice   Code = "missing_invoice_number"
	CodeDuplicateInvoice Code = "duplicate_invoice_number"
	CodeZeroAmount       Code = "zero_amount"
)

type Finding struct {
	RowID    string   `json:"row_id"`
	Field    string   `json:"field"`
	Code     Code     `json:"code"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

const minPhoneDigits = 6

// Inspect returns findings in row order. An empty dataset has none.
func Inspect(records []domain.InvoiceRecord) []Finding {
	findings := make([]Finding, 0)

	invoiceCounts := make(map[string]int, len(records))
	for _, record := range records {
		if number := normalizeInvoice(record.InvoiceNumber); number != "" {
			invoiceCounts[number]++
		}
	}

	for _, record := range records {
		phone := strings.TrimSpace(record.MandantPhone)
		switch {
		case phone == "":
			findings = append(findings, Finding{
				RowID:    record.ID,
				Field:    "mandant_phone",
				Code:     CodeMissingPhone,
				Severity: SeverityError,
				Message:  "phone number is missing",
			})
		case !plausiblePhone(phone):
			findings = append(findings, Finding{
				RowID:    record.ID,
				Field:    "mandant_phone",
				Code:     CodeInvalidPhone,
				Severity: SeverityError,
				Message:  "phone number is not dialable",
			})
		}

		number := normalizeInvoice(record.InvoiceNumber)
		if number == "" {
			findings = append(findings, Finding{
				RowID:    record.ID,
				Field:    "invoice_number",
				Code:     CodeMissingInvoice,
				Severity: SeverityError,
				Message:  "invoice number is missing",
			})
		} else if invoiceCounts[number] > 1 {
			findings = append(findings, Finding{
				RowID:    record.ID,
				Field:    "invoice_number",
				Code:     CodeDuplicateInvoice,
				Severity: SeverityWarning,
				Message:  "invoice number appears more than once",
			})
		}

		if record.Amount == 0 {
			findings = append(findings, Finding{
				RowID:    record.ID,
				Field:    "amount",
				Code:     CodeZeroAmount,
				Severity: SeverityWarning,
				Message:  "amount is zero",
			})
		}
	}
	return findings
}

// Score is the share of rows without error findings, rounded to two
// decimals. An empty dataset scores 1.
func Score(records []domain.InvoiceRecord, findings []Finding) float64 {
	if len(records) == 0 {
		return 1
	}
	failing := make(map[string]struct{})
	for _, finding := range findings {
		if finding.Severity == SeverityError {
			failing[finding.RowID] = struct{}{}
		}
	}
	clean := float64(len(records)-len(failing)) / float64(len(records))
	return math.Round(clean*100) / 100
}

func plausiblePhone(phone string) bool {
	digits := 0
	for index, char := range phone {
		switch {
		case unicode.IsDigit(char):
			digits++
		case char == '+' && index == 0:
		case char == ' ' || char == '-' || char == '/' || char == '(' || char == ')' || char == '.':
		default:
			return false
		}
	}
	return digits >= minPhoneDigits
}

func normalizeInvoice(value string) string {
	return strings.ToUpper(strings.TrimSpace(value))
}
