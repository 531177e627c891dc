package domain

import "time"

type ClientUrgency string

const (
	ClientUrgencyHigh   ClientUrgency = "high"
	ClientUrgencyMedium ClientUrgency = "medium"
	ClientUrgencyLow    ClientUrgency = "low"
)

// PrioritizedClient is a client with outstanding invoices, ranked for follow up.
type PrioritizedClient struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	ContactPerson string        `json:"contact_person"`
	PendingItems  int           `json:"pending_items"`
	NextDeadline  time.Time     `json:"next_deadline"`
	Urgency       ClientUrgency `json:"urgency"`
}

func UrgencyFor(pendingItems int) ClientUrgency {
	switch {
	case pendingItems > 5:
		return ClientUrgencyHigh
	case pendingItems > 2:
		return ClientUrgencyMedium
	default:
		return ClientUrgencyLow
	}
}
