package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/example/ride-session/internal/models"
)

// Schema creates the table PostgresStore expects.
const Schema = `CREATE TABLE IF NOT EXISTS session_documents (
	id         TEXT PRIMARY KEY,
	body       JSONB NOT NULL,
	version    BIGINT NOT NULL DEFAULT 1,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresStore keeps one row per session. The version column makes
// conditional replaces a single UPDATE ... WHERE version = $n.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an already opened handle.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, Schema)
	return err
}

func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) Create(ctx context.Context, doc models.Document) (string, error) {
	b, err := Encode(doc)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	if _, err := p.db.ExecContext(ctx, `INSERT INTO session_documents(id, body, version) VALUES($1, $2, 1)`, id, b); err != nil {
		return "", fmt.Errorf("postgres create: %w", err)
	}
	return id, nil
}

func (p *PostgresStore) Read(ctx context.Context, sessionID string) (models.Document, error) {
	doc, _, err := p.ReadVersion(ctx, sessionID)
	return doc, err
}

func (p *PostgresStore) ReadVersion(ctx context.Context, sessionID string) (models.Document, Version, error) {
	var (
		body    []byte
		version int64
	)
	err := p.db.QueryRowContext(ctx, `SELECT body, version FROM session_documents WHERE id = $1`, sessionID).Scan(&body, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Document{}, "", ErrNotFound
	}
	if err != nil {
		return models.Document{}, "", fmt.Errorf("postgres read: %w", err)
	}
	doc, err := Decode(body)
	if err != nil {
		return models.Document{}, "", err
	}
	return doc, Version(strconv.FormatInt(version, 10)), nil
}

func (p *PostgresStore) Replace(ctx context.Context, sessionID string, doc models.Document) error {
	b, err := Encode(doc)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx, `UPDATE session_documents SET body = $1, version = version + 1, updated_at = now() WHERE id = $2`, b, sessionID)
	if err != nil {
		return fmt.Errorf("postgres replace: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) ReplaceIf(ctx context.Context, sessionID string, doc models.Document, expected Version) error {
	want, err := strconv.ParseInt(string(expected), 10, 64)
	if err != nil {
		return ErrVersionMismatch
	}
	b, err := Encode(doc)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx, `UPDATE session_documents SET body = $1, version = version + 1, updated_at = now() WHERE id = $2 AND version = $3`, b, sessionID, want)
	if err != nil {
		return fmt.Errorf("postgres replace-if: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres replace-if: %w", err)
	}
	if n == 1 {
		return nil
	}
	var one int
	err = p.db.QueryRowContext(ctx, `SELECT 1 FROM session_documents WHERE id = $1`, sessionID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("postgres replace-if: %w", err)
	}
	return ErrVersionMismatch
}
