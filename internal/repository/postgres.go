package repository

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/iago/outreach-dashboard-back/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

const processColumns = `id, name, status, total_items, progress, paused, created_at,
	start_date, completion_date, target_date, invoice_data, totals_version`

type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(ctx context.Context, databaseURL string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	return &PostgresRepository{pool: pool}, nil
}

func (r *PostgresRepository) Close() {
	r.pool.Close()
}

// Migrate applies the embedded schema. It is idempotent.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// SeedProcess upserts a process and replaces its message log.
func (r *PostgresRepository) SeedProcess(ctx context.Context, process *domain.Process) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		invoiceData, err := encodeInvoiceData(process.InvoiceData)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO processes (`+processColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				status = EXCLUDED.status,
				total_items = EXCLUDED.total_items,
				progress = EXCLUDED.progress,
				paused = EXCLUDED.paused,
				created_at = EXCLUDED.created_at,
				start_date = EXCLUDED.start_date,
				completion_date = EXCLUDED.completion_date,
				target_date = EXCLUDED.target_date,
				invoice_data = EXCLUDED.invoice_data,
				totals_version = EXCLUDED.totals_version
		`, processArgs(process, invoiceData)...)
		if err != nil {
			return fmt.Errorf("upsert process: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM messages WHERE process_id = $1`, process.ID); err != nil {
			return fmt.Errorf("clear messages: %w", err)
		}
		return insertMessages(ctx, tx, process.ID, process.Messages)
	})
}

func (r *PostgresRepository) SeedClient(ctx context.Context, client domain.PrioritizedClient) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO clients (id, name, contact_person, pending_items, next_deadline)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			contact_person = EXCLUDED.contact_person,
			pending_items = EXCLUDED.pending_items,
			next_deadline = EXCLUDED.next_deadline
	`, client.ID, client.Name, client.ContactPerson, client.PendingItems, client.NextDeadline)
	if err != nil {
		return fmt.Errorf("upsert client: %w", err)
	}
	return nil
}

func (r *PostgresRepository) FetchAll(ctx context.Context) ([]*domain.Process, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+processColumns+` FROM processes ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	defer rows.Close()

	items := make([]*domain.Process, 0)
	byID := make(map[string]*domain.Process)
	for rows.Next() {
		process, err := scanProcess(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, process)
		byID[process.ID] = process
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate processes: %w", rows.Err())
	}

	messageRows, err := r.pool.Query(ctx, `
		SELECT process_id, sender, content, sent_at
		FROM messages
		ORDER BY process_id, sent_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer messageRows.Close()

	for messageRows.Next() {
		var (
			processID string
			sender    string
			message   domain.Message
		)
		if err := messageRows.Scan(&processID, &sender, &message.Content, &message.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		message.Sender = domain.MessageSender(sender)
		if process, ok := byID[processID]; ok {
			process.Messages = append(process.Messages, message)
		}
	}
	if messageRows.Err() != nil {
		return nil, fmt.Errorf("iterate messages: %w", messageRows.Err())
	}

	return items, nil
}

func (r *PostgresRepository) FetchOne(ctx context.Context, id string) (*domain.Process, error) {
	return fetchOne(ctx, r.pool, id)
}

func (r *PostgresRepository) Create(ctx context.Context, process *domain.Process) (*domain.Process, error) {
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		invoiceData, err := encodeInvoiceData(process.InvoiceData)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO processes (`+processColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		`, processArgs(process, invoiceData)...)
		if err != nil {
			return fmt.Errorf("insert process: %w", err)
		}
		return insertMessages(ctx, tx, process.ID, process.Messages)
	})
	if err != nil {
		return nil, err
	}
	return process.Clone(), nil
}

func (r *PostgresRepository) Update(ctx context.Context, id string, patch domain.ProcessPatch) (*domain.Process, error) {
	var updated *domain.Process
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		if !patch.Empty() {
			query, args, err := buildProcessUpdate(id, patch)
			if err != nil {
				return err
			}
			command, err := tx.Exec(ctx, query, args...)
			if err != nil {
				return fmt.Errorf("update process: %w", err)
			}
			if command.RowsAffected() == 0 {
				return ErrNotFound
			}
		}

		process, err := fetchOne(ctx, tx, id)
		if err != nil {
			return err
		}
		updated = process
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) (bool, error) {
	command, err := r.pool.Exec(ctx, `DELETE FROM processes WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete process: %w", err)
	}
	return command.RowsAffected() > 0, nil
}

func (r *PostgresRepository) UpdateTotals(ctx context.Context, id string, totalItems int, version int64) error {
	command, err := r.pool.Exec(ctx, `
		UPDATE processes
		SET total_items = $2,
			totals_version = $3
		WHERE id = $1 AND totals_version < $3
	`, id, totalItems, version)
	if err != nil {
		return fmt.Errorf("update totals: %w", err)
	}
	if command.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM processes WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check process: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrStaleVersion
}

func (r *PostgresRepository) ListClients(ctx context.Context) ([]domain.PrioritizedClient, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, contact_person, pending_items, next_deadline
		FROM clients
		WHERE pending_items > 0
	`)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	clients := make([]domain.PrioritizedClient, 0)
	for rows.Next() {
		var client domain.PrioritizedClient
		if err := rows.Scan(&client.ID, &client.Name, &client.ContactPerson, &client.PendingItems, &client.NextDeadline); err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		client.Urgency = domain.UrgencyFor(client.PendingItems)
		clients = append(clients, client)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate clients: %w", rows.Err())
	}

	SortClients(clients)
	return clients, nil
}

func (r *PostgresRepository) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func fetchOne(ctx context.Context, db querier, id string) (*domain.Process, error) {
	process, err := scanProcess(db.QueryRow(ctx, `SELECT `+processColumns+` FROM processes WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}

	rows, err := db.Query(ctx, `
		SELECT sender, content, sent_at
		FROM messages
		WHERE process_id = $1
		ORDER BY sent_at, id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			sender  string
			message domain.Message
		)
		if err := rows.Scan(&sender, &message.Content, &message.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		message.Sender = domain.MessageSender(sender)
		process.Messages = append(process.Messages, message)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate messages: %w", rows.Err())
	}
	return process, nil
}

func scanProcess(row pgx.Row) (*domain.Process, error) {
	var (
		process     domain.Process
		status      string
		invoiceData []byte
	)
	err := row.Scan(
		&process.ID,
		&process.Name,
		&status,
		&process.TotalItems,
		&process.Progress,
		&process.Paused,
		&process.CreatedAt,
		&process.StartDate,
		&process.CompletionDate,
		&process.TargetDate,
		&invoiceData,
		&process.TotalsVersion,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan process: %w", err)
	}

	process.Status = domain.ProcessStatus(status)
	process.Messages = []domain.Message{}
	if len(invoiceData) > 0 {
		if err := json.Unmarshal(invoiceData, &process.InvoiceData); err != nil {
			return nil, fmt.Errorf("decode invoice data: %w", err)
		}
	}
	return &process, nil
}

func insertMessages(ctx context.Context, tx pgx.Tx, processID string, messages []domain.Message) error {
	for _, message := range messages {
		_, err := tx.Exec(ctx, `
			INSERT INTO messages (process_id, sender, content, sent_at)
			VALUES ($1,$2,$3,$4)
		`, processID, string(message.Sender), message.Content, message.Timestamp)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}
	return nil
}

func processArgs(process *domain.Process, invoiceData any) []any {
	return []any{
		process.ID,
		process.Name,
		string(process.Status),
		process.TotalItems,
		process.Progress,
		process.Paused,
		process.CreatedAt,
		process.StartDate,
		process.CompletionDate,
		process.TargetDate,
		invoiceData,
		process.TotalsVersion,
	}
}

func encodeInvoiceData(records []domain.InvoiceRecord) (any, error) {
	if records == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("encode invoice data: %w", err)
	}
	return string(encoded), nil
}

func buildProcessUpdate(id string, patch domain.ProcessPatch) (string, []any, error) {
	sets := make([]string, 0, 10)
	args := []any{id}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Name != nil {
		add("name", *patch.Name)
	}
	if patch.Status != nil {
		add("status", string(*patch.Status))
	}
	if patch.TotalItems != nil && patch.TotalsVersion == nil {
		add("total_items", *patch.TotalItems)
	}
	if patch.Progress != nil {
		add("progress", *patch.Progress)
	}
	if patch.Paused != nil {
		add("paused", *patch.Paused)
	}
	if patch.StartDate != nil {
		add("start_date", *patch.StartDate)
	}
	if patch.CompletionDate != nil {
		add("completion_date", *patch.CompletionDate)
	}
	if patch.TargetDate != nil {
		add("target_date", *patch.TargetDate)
	}
	if patch.InvoiceData != nil {
		invoiceData, err := encodeInvoiceData(*patch.InvoiceData)
		if err != nil {
			return "", nil, err
		}
		add("invoice_data", invoiceData)
	}
	if patch.TotalsVersion != nil {
		// Both expressions read the pre-update row, so an older version
		// leaves the stored total alone.
		args = append(args, *patch.TotalsVersion)
		version := len(args)
		if patch.TotalItems != nil {
			args = append(args, *patch.TotalItems)
			sets = append(sets, fmt.Sprintf(
				"total_items = CASE WHEN totals_version < $%d THEN $%d ELSE total_items END", version, len(args)))
		}
		sets = append(sets, fmt.Sprintf("totals_version = GREATEST(totals_version, $%d)", version))
	}

	query := "UPDATE processes SET " + strings.Join(sets, ", ") + " WHERE id = $1"
	return query, args, nil
}
