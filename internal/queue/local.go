package queue

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/iago/outreach-dashboard-back/internal/domain"
)

const localRetryStep = 500 * time.Millisecond

// LocalQueue is the in-process fallback when Redis is not configured.
//
// A failed message is retried only while it still carries the newest
// totals version seen for its process; once a newer version has been
// enqueued the old one is dropped, since applying it could only be
// rejected as stale. The dead-letter set keeps the newest failed message
// per process and forgets it when a later version for that process is
// applied.
type LocalQueue struct {
	ch          chan domain.SyncMessage
	maxAttempts int
	logger      *log.Logger

	mu     sync.Mutex
	latest map[string]int64
	dlq    map[string]domain.SyncMessage
}

func NewLocalQueue(bufferSize, maxAttempts int, logger *log.Logger) *LocalQueue {
	if bufferSize <= 0 {
		bufferSize = 512
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &LocalQueue{
		ch:          make(chan domain.SyncMessage, bufferSize),
		maxAttempts: maxAttempts,
		logger:      logger,
		latest:      make(map[string]int64),
		dlq:         make(map[string]domain.SyncMessage),
	}
}

func (q *LocalQueue) Enqueue(ctx context.Context, message domain.SyncMessage) error {
	q.observe(message)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- message:
		return nil
	}
}

func (q *LocalQueue) EnqueueBatch(ctx context.Context, messages []domain.SyncMessage) error {
	for _, message := range messages {
		if err := q.Enqueue(ctx, message); err != nil {
			return err
		}
	}
	return nil
}

func (q *LocalQueue) observe(message domain.SyncMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if message.Version > q.latest[message.ProcessID] {
		q.latest[message.ProcessID] = message.Version
	}
}

// superseded reports whether a newer version for the same process has been
// enqueued since message.
func (q *LocalQueue) superseded(message domain.SyncMessage) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.latest[message.ProcessID] > message.Version
}

func (q *LocalQueue) applied(message domain.SyncMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if dead, ok := q.dlq[message.ProcessID]; ok && dead.Version <= message.Version {
		delete(q.dlq, message.ProcessID)
	}
}

func (q *LocalQueue) deadLetter(message domain.SyncMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if dead, ok := q.dlq[message.ProcessID]; ok && dead.Version > message.Version {
		return
	}
	q.dlq[message.ProcessID] = message
}

func (q *LocalQueue) Consume(ctx context.Context, handler func(context.Context, domain.SyncMessage) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case message := <-q.ch:
			err := handler(ctx, message)
			if err == nil {
				q.applied(message)
				continue
			}

			if q.superseded(message) {
				q.logf("local queue dropped superseded message process_id=%s version=%d err=%v", message.ProcessID, message.Version, err)
				continue
			}

			message.Attempt++
			if message.Attempt >= q.maxAttempts {
				q.deadLetter(message)
				q.logf("local queue moved message to DLQ process_id=%s version=%d err=%v", message.ProcessID, message.Version, err)
				continue
			}

			delay := time.Duration(message.Attempt) * localRetryStep
			go func(retryMessage domain.SyncMessage) {
				timer := time.NewTimer(delay)
				defer timer.Stop()
				select {
				case <-ctx.Done():
					return
				case <-timer.C:
				}
				select {
				case <-ctx.Done():
				case q.ch <- retryMessage:
				}
			}(message)
		}
	}
}

func (q *LocalQueue) logf(format string, args ...any) {
	if q.logger != nil {
		q.logger.Printf(format, args...)
	}
}

func (q *LocalQueue) DLQSize() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.dlq)
}

// DLQ returns the dead-lettered messages ordered by process ID.
func (q *LocalQueue) DLQ() []domain.SyncMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	messages := make([]domain.SyncMessage, 0, len(q.dlq))
	for _, message := range q.dlq {
		messages = append(messages, message)
	}
	sort.Slice(messages, func(i, j int) bool {
		return messages[i].ProcessID < messages[j].ProcessID
	})
	return messages
}

// DLQFor returns the dead-lettered message for processID, if any.
func (q *LocalQueue) DLQFor(processID string) (domain.SyncMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	message, ok := q.dlq[processID]
	return message, ok
}
