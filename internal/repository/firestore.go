package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/iago/outreach-dashboard-back/internal/domain"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const clientsCollection = "clients"

// FirestoreRepository stores one document per process. Messages and invoice
// data are embedded arrays of the process document.
type FirestoreRepository struct {
	client     *firestore.Client
	collection string
}

type firestoreProcess struct {
	Name           string             `firestore:"name"`
	Status         string             `firestore:"status"`
	TotalItems     int                `firestore:"total_items"`
	Progress       int                `firestore:"progress"`
	Paused         bool               `firestore:"paused"`
	CreatedAt      time.Time          `firestore:"created_at"`
	StartDate      *time.Time         `firestore:"start_date"`
	CompletionDate *time.Time         `firestore:"completion_date"`
	TargetDate     time.Time          `firestore:"target_date"`
	InvoiceData    []firestoreRecord  `firestore:"invoice_data"`
	Messages       []firestoreMessage `firestore:"messages"`
	TotalsVersion  int64              `firestore:"totals_version"`
}

type firestoreRecord struct {
	ID            string  `firestore:"id"`
	MandantPhone  string  `firestore:"mandant_phone"`
	InvoiceNumber string  `firestore:"invoice_number"`
	Amount        float64 `firestore:"amount"`
}

type firestoreMessage struct {
	Sender    string    `firestore:"sender"`
	Content   string    `firestore:"content"`
	Timestamp time.Time `firestore:"timestamp"`
}

type firestoreClient struct {
	Name          string    `firestore:"name"`
	ContactPerson string    `firestore:"contact_person"`
	PendingItems  int       `firestore:"pending_items"`
	NextDeadline  time.Time `firestore:"next_deadline"`
}

// NewFirestoreClient centralizes client creation for the API and the CLI.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create firestore client: %w", err)
	}
	return client, nil
}

func NewFirestoreRepository(client *firestore.Client, collection string) *FirestoreRepository {
	if strings.TrimSpace(collection) == "" {
		collection = "processes"
	}
	return &FirestoreRepository{client: client, collection: collection}
}

func (r *FirestoreRepository) Close() error {
	return r.client.Close()
}

func (r *FirestoreRepository) FetchAll(ctx context.Context) ([]*domain.Process, error) {
	iter := r.client.Collection(r.collection).OrderBy("created_at", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	items := make([]*domain.Process, 0)
	for {
		snapshot, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list processes: %w", err)
		}
		process, err := decodeProcessSnapshot(snapshot)
		if err != nil {
			return nil, err
		}
		items = append(items, process)
	}
	return items, nil
}

func (r *FirestoreRepository) FetchOne(ctx context.Context, id string) (*domain.Process, error) {
	snapshot, err := r.doc(id).Get(ctx)
	if err != nil {
		return nil, mapFirestoreError("get process", err)
	}
	return decodeProcessSnapshot(snapshot)
}

func (r *FirestoreRepository) Create(ctx context.Context, process *domain.Process) (*domain.Process, error) {
	if _, err := r.doc(process.ID).Create(ctx, encodeFirestoreProcess(process)); err != nil {
		return nil, fmt.Errorf("create process: %w", err)
	}
	return process.Clone(), nil
}

// SeedProcess overwrites the process document.
func (r *FirestoreRepository) SeedProcess(ctx context.Context, process *domain.Process) error {
	if _, err := r.doc(process.ID).Set(ctx, encodeFirestoreProcess(process)); err != nil {
		return fmt.Errorf("seed process: %w", err)
	}
	return nil
}

func (r *FirestoreRepository) SeedClient(ctx context.Context, client domain.PrioritizedClient) error {
	_, err := r.client.Collection(clientsCollection).Doc(client.ID).Set(ctx, firestoreClient{
		Name:          client.Name,
		ContactPerson: client.ContactPerson,
		PendingItems:  client.PendingItems,
		NextDeadline:  client.NextDeadline,
	})
	if err != nil {
		return fmt.Errorf("seed client: %w", err)
	}
	return nil
}

func (r *FirestoreRepository) Update(ctx context.Context, id string, patch domain.ProcessPatch) (*domain.Process, error) {
	ref := r.doc(id)
	var updated *domain.Process
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snapshot, err := tx.Get(ref)
		if err != nil {
			return mapFirestoreError("get process", err)
		}
		process, err := decodeProcessSnapshot(snapshot)
		if err != nil {
			return err
		}
		patch.WithoutStaleTotals(process.TotalsVersion).Apply(process)
		updated = process
		return tx.Set(ref, encodeFirestoreProcess(process))
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update process: %w", err)
	}
	return updated, nil
}

func (r *FirestoreRepository) Delete(ctx context.Context, id string) (bool, error) {
	ref := r.doc(id)
	deleted := false
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		deleted = false
		if _, err := tx.Get(ref); err != nil {
			if status.Code(err) == codes.NotFound {
				return nil
			}
			return err
		}
		deleted = true
		return tx.Delete(ref)
	})
	if err != nil {
		return false, fmt.Errorf("delete process: %w", err)
	}
	return deleted, nil
}

func (r *FirestoreRepository) UpdateTotals(ctx context.Context, id string, totalItems int, version int64) error {
	ref := r.doc(id)
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snapshot, err := tx.Get(ref)
		if err != nil {
			return mapFirestoreError("get process", err)
		}
		var stored firestoreProcess
		if err := snapshot.DataTo(&stored); err != nil {
			return fmt.Errorf("decode process: %w", err)
		}
		if version <= stored.TotalsVersion {
			return ErrStaleVersion
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "total_items", Value: totalItems},
			{Path: "totals_version", Value: version},
		})
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrStaleVersion):
		return err
	default:
		return fmt.Errorf("update totals: %w", err)
	}
}

func (r *FirestoreRepository) ListClients(ctx context.Context) ([]domain.PrioritizedClient, error) {
	iter := r.client.Collection(clientsCollection).Where("pending_items", ">", 0).Documents(ctx)
	defer iter.Stop()

	clients := make([]domain.PrioritizedClient, 0)
	for {
		snapshot, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list clients: %w", err)
		}
		var stored firestoreClient
		if err := snapshot.DataTo(&stored); err != nil {
			return nil, fmt.Errorf("decode client %s: %w", snapshot.Ref.ID, err)
		}
		clients = append(clients, domain.PrioritizedClient{
			ID:            snapshot.Ref.ID,
			Name:          stored.Name,
			ContactPerson: stored.ContactPerson,
			PendingItems:  stored.PendingItems,
			NextDeadline:  stored.NextDeadline,
			Urgency:       domain.UrgencyFor(stored.PendingItems),
		})
	}

	SortClients(clients)
	return clients, nil
}

func (r *FirestoreRepository) doc(id string) *firestore.DocumentRef {
	return r.client.Collection(r.collection).Doc(id)
}

func mapFirestoreError(op string, err error) error {
	if status.Code(err) == codes.NotFound {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

func decodeProcessSnapshot(snapshot *firestore.DocumentSnapshot) (*domain.Process, error) {
	var stored firestoreProcess
	if err := snapshot.DataTo(&stored); err != nil {
		return nil, fmt.Errorf("decode process %s: %w", snapshot.Ref.ID, err)
	}

	process := &domain.Process{
		ID:             snapshot.Ref.ID,
		Name:           stored.Name,
		Status:         domain.ProcessStatus(stored.Status),
		TotalItems:     stored.TotalItems,
		Progress:       stored.Progress,
		Paused:         stored.Paused,
		Messages:       make([]domain.Message, 0, len(stored.Messages)),
		CreatedAt:      stored.CreatedAt,
		StartDate:      stored.StartDate,
		CompletionDate: stored.CompletionDate,
		TargetDate:     stored.TargetDate,
		TotalsVersion:  stored.TotalsVersion,
	}
	for _, message := range stored.Messages {
		process.Messages = append(process.Messages, domain.Message{
			Sender:    domain.MessageSender(message.Sender),
			Content:   message.Content,
			Timestamp: message.Timestamp,
		})
	}
	if stored.InvoiceData != nil {
		process.InvoiceData = make([]domain.InvoiceRecord, 0, len(stored.InvoiceData))
		for _, record := range stored.InvoiceData {
			process.InvoiceData = append(process.InvoiceData, domain.InvoiceRecord(record))
		}
	}
	return process, nil
}

func encodeFirestoreProcess(process *domain.Process) firestoreProcess {
	stored := firestoreProcess{
		Name:           process.Name,
		Status:         string(process.Status),
		TotalItems:     process.TotalItems,
		Progress:       process.Progress,
		Paused:         process.Paused,
		CreatedAt:      process.CreatedAt,
		StartDate:      process.StartDate,
		CompletionDate: process.CompletionDate,
		TargetDate:     process.TargetDate,
		Messages:       make([]firestoreMessage, 0, len(process.Messages)),
		TotalsVersion:  process.TotalsVersion,
	}
	for _, message := range process.Messages {
		stored.Messages = append(stored.Messages, firestoreMessage{
			Sender:    string(message.Sender),
			Content:   message.Content,
			Timestamp: message.Timestamp,
		})
	}
	if process.InvoiceData != nil {
		stored.InvoiceData = make([]firestoreRecord, 0, len(process.InvoiceData))
		for _, record := range process.InvoiceData {
			stored.InvoiceData = append(stored.InvoiceData, firestoreRecord(record))
		}
	}
	return stored
}
