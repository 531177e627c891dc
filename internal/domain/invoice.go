package domain

// InvoiceRecord is one line of a process dataset.
type InvoiceRecord struct {
	ID            string  `json:"id" yaml:"id"`
	MandantPhone  string  `json:"mandant_phone" yaml:"mandant_phone"`
	InvoiceNumber string  `json:"invoice_number" yaml:"invoice_number"`
	Amount        float64 `json:"amount" yaml:"amount"`
}

func CloneInvoiceRecords(records []InvoiceRecord) []InvoiceRecord {
	if records == nil {
		return nil
	}
	return append([]InvoiceRecord(nil), records...)
}
