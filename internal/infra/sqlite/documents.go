package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/agenda-it/agenda/internal/domain"
)

// ─── Document Operations ────────────────────────────────────────────────────

const upsertDocument = `
	INSERT INTO documents (key, body, updated_at)
	VALUES (?, ?, datetime('now'))
	ON CONFLICT(key) DO UPDATE SET
		body       = excluded.body,
		updated_at = datetime('now')
`

// PutDocument replaces the document stored under key.
func (db *DB) PutDocument(ctx context.Context, key string, body []byte) error {
	_, err := db.db.ExecContext(ctx, upsertDocument, key, string(body))
	return err
}

// GetDocument returns the document stored under key, or nil if absent.
func (db *DB) GetDocument(ctx context.Context, key string) ([]byte, error) {
	var body string
	err := db.db.QueryRowContext(ctx, `SELECT body FROM documents WHERE key = ?`, key).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(body), nil
}

// DocumentUpdatedAt returns when key was last written (zero if never).
func (db *DB) DocumentUpdatedAt(ctx context.Context, key string) (time.Time, error) {
	var ts string
	err := db.db.QueryRowContext(ctx, `SELECT updated_at FROM documents WHERE key = ?`, key).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	t, _ := time.Parse("2006-01-02 15:04:05", ts)
	return t, nil
}

// ─── domain.Persister ───────────────────────────────────────────────────────

// Save implements domain.Persister: v is encoded as JSON and replaces the
// collection document.
func (db *DB) Save(ctx context.Context, key domain.CollectionKey, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := db.PutDocument(ctx, string(key), body); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// SaveAll implements domain.BatchPersister: every document is written in one
// transaction, so either all of them change or none does.
func (db *DB) SaveAll(ctx context.Context, docs []domain.Document) error {
	bodies := make([][]byte, len(docs))
	for i, d := range docs {
		body, err := json.Marshal(d.Value)
		if err != nil {
			return fmt.Errorf("encode %s: %w", d.Key, err)
		}
		bodies[i] = body
	}

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	for i, d := range docs {
		if _, err := tx.ExecContext(ctx, upsertDocument, string(d.Key), string(bodies[i])); err != nil {
			return fmt.Errorf("save %s: %w", d.Key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

// Load implements domain.Persister. Missing documents load as empty collections.
func (db *DB) Load(ctx context.Context) (domain.Snapshot, error) {
	var snap domain.Snapshot
	targets := map[domain.CollectionKey]any{
		domain.CollectionClients:  &snap.Clients,
		domain.CollectionTickets:  &snap.Tickets,
		domain.CollectionInvoices: &snap.Invoices,
		domain.CollectionLogs:     &snap.Logs,
	}
	for _, key := range domain.Collections() {
		body, err := db.GetDocument(ctx, string(key))
		if err != nil {
			return domain.Snapshot{}, fmt.Errorf("load %s: %w", key, err)
		}
		if body == nil {
			continue
		}
		if err := json.Unmarshal(body, targets[key]); err != nil {
			return domain.Snapshot{}, fmt.Errorf("decode %s: %w", key, err)
		}
	}
	return snap, nil
}

var _ domain.BatchPersister = (*DB)(nil)
