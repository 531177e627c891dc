package queue

import (
	"context"

	"github.com/iago/outreach-dashboard-back/internal/domain"
)

// Producer sends total sync messages to a queue backend.
type Producer interface {
	Enqueue(ctx context.Context, message domain.SyncMessage) error
}

// Consumer receives sync messages and executes handlers.
type Consumer interface {
	Consume(ctx context.Context, handler func(context.Context, domain.SyncMessage) error) error
}
