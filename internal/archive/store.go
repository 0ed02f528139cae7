// Package archive records the global chat log to Postgres. It is
// write-behind and write-only: the live history is always served from memory.
package archive

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/starapp/chat-server/internal/chat"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned by Get for an unknown message id.
var ErrNotFound = errors.New("archive: message not found")

// Record is one archived message row.
type Record struct {
	MessageID     int64          `db:"message_id"`
	Kind          string         `db:"kind"`
	SenderID      string         `db:"sender_id"`
	SenderName    string         `db:"sender_name"`
	BodyKind      string         `db:"body_kind"`
	Body          []byte         `db:"body"`
	ReplyTo       sql.NullInt64  `db:"reply_to"`
	CreatedAt     time.Time      `db:"created_at"`
	RemovedAt     sql.NullTime   `db:"removed_at"`
	RemovedReason sql.NullString `db:"removed_reason"`
}

// NewRecord converts a hub message into a row.
func NewRecord(msg chat.Message) (Record, error) {
	body, err := json.Marshal(chat.EncodeBody(msg.Body))
	if err != nil {
		return Record{}, fmt.Errorf("archive: encode body %d: %w", msg.ID, err)
	}
	r := Record{
		MessageID:  int64(msg.ID),
		Kind:       string(msg.Kind),
		SenderID:   msg.SenderID,
		SenderName: msg.SenderName,
		BodyKind:   string(msg.Body.Kind()),
		Body:       body,
		CreatedAt:  msg.CreatedAt,
	}
	if msg.ReplyTo != nil {
		r.ReplyTo = sql.NullInt64{Int64: int64(msg.ReplyTo.MessageID), Valid: true}
	}
	return r, nil
}

// Store is the Postgres side of the archive.
type Store struct {
	db *sqlx.DB
}

// Open connects to dsn and applies pending migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: connect: %w", err)
	}
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// NewStore wraps an existing connection. The schema must already exist.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Migrate brings the schema up to date using the embedded migrations.
func Migrate(db *sqlx.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("archive: migration source: %w", err)
	}
	driver, err := postgres.WithInstance(db.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("archive: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("archive: migrate: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("archive: migrate up: %w", err)
	}
	v, _, _ := m.Version()
	zap.L().Info("archive: schema ready", zap.Uint("version", v))
	return nil
}

// Insert stores r. Re-inserting an archived id is a no-op.
func (s *Store) Insert(ctx context.Context, r Record) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO messages (message_id, kind, sender_id, sender_name, body_kind, body, reply_to, created_at)
		VALUES (:message_id, :kind, :sender_id, :sender_name, :body_kind, :body, :reply_to, :created_at)
		ON CONFLICT (message_id) DO NOTHING`, r)
	if err != nil {
		return fmt.Errorf("archive: insert %d: %w", r.MessageID, err)
	}
	return nil
}

// MarkRemoved stamps the removal time and reason on an archived message.
func (s *Store) MarkRemoved(ctx context.Context, id int64, reason string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET removed_at = $2, removed_reason = $3 WHERE message_id = $1 AND removed_at IS NULL`,
		id, at, reason)
	if err != nil {
		return fmt.Errorf("archive: mark removed %d: %w", id, err)
	}
	return nil
}

// Get loads one archived message.
func (s *Store) Get(ctx context.Context, id int64) (Record, error) {
	var r Record
	err := s.db.GetContext(ctx, &r, `
		SELECT message_id, kind, sender_id, sender_name, body_kind, body, reply_to, created_at, removed_at, removed_reason
		FROM messages WHERE message_id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("archive: get %d: %w", id, err)
	}
	return r, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
