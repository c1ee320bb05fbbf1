package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/eric-w/dp3t-sdk-go/internal/client"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS handshakes (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	token     BLOB NOT NULL,
	rssi      REAL NOT NULL DEFAULT 0,
	timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_handshakes_token ON handshakes(token);

CREATE TABLE IF NOT EXISTS contacts (
	day     TEXT NOT NULL,
	token   BLOB NOT NULL,
	windows INTEGER NOT NULL,
	PRIMARY KEY (day, token)
);

CREATE TABLE IF NOT EXISTS descriptors (
	app_id           TEXT PRIMARY KEY,
	description      TEXT NOT NULL DEFAULT '',
	backend_base_url TEXT NOT NULL,
	bucket_base_url  TEXT NOT NULL DEFAULT '',
	contact          TEXT NOT NULL DEFAULT ''
);
`

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

// NewSQLiteStore opens (creating if needed) the database at path and
// ensures the schema. Use ":memory:" for an ephemeral store in tests.
func NewSQLiteStore(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// The sqlite driver serializes writes per connection; keep one so
	// concurrent best-effort refreshes never hit SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db, path: path, logger: logger.Named("storage")}, nil
}

func (s *SQLiteStore) AddHandshake(ctx context.Context, h Handshake) error {
	ts := h.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO handshakes (token, rssi, timestamp) VALUES (?, ?, ?)`,
		h.Token, h.RSSI, ts.UTC().Unix())
	if err != nil {
		return fmt.Errorf("failed to insert handshake: %w", err)
	}
	return nil
}

func (s *SQLiteStore) HandshakeCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM handshakes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count handshakes: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) ContactCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM contacts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count contacts: %w", err)
	}
	return n, nil
}

// RegenerateContactsFromHandshakes rebuilds contacts by grouping the
// recorded handshakes per token and UTC calendar day.
func (s *SQLiteStore) RegenerateContactsFromHandshakes(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM contacts`); err != nil {
		return fmt.Errorf("failed to clear contacts: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO contacts (day, token, windows)
		SELECT date(timestamp, 'unixepoch') AS day, token, COUNT(*)
		FROM handshakes
		GROUP BY day, token`)
	if err != nil {
		return fmt.Errorf("failed to regenerate contacts: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit contact regeneration: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Contacts(ctx context.Context, day string) ([]Contact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT day, token, windows FROM contacts WHERE day = ? ORDER BY token`, day)
	if err != nil {
		return nil, fmt.Errorf("failed to query contacts: %w", err)
	}
	defer rows.Close()

	var contacts []Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.Day, &c.Token, &c.Windows); err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		contacts = append(contacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate contacts: %w", err)
	}
	return contacts, nil
}

func (s *SQLiteStore) UpsertDescriptor(ctx context.Context, desc client.Descriptor) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO descriptors (app_id, description, backend_base_url, bucket_base_url, contact)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(app_id) DO UPDATE SET
			description = excluded.description,
			backend_base_url = excluded.backend_base_url,
			bucket_base_url = excluded.bucket_base_url,
			contact = excluded.contact`,
		desc.AppID, desc.Description, desc.BackendBaseURL, desc.BucketBaseURL, desc.Contact)
	if err != nil {
		return fmt.Errorf("failed to upsert descriptor: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ResolveDescriptor(ctx context.Context, appID string) (client.Descriptor, error) {
	var desc client.Descriptor
	err := s.db.QueryRowContext(ctx, `
		SELECT app_id, description, backend_base_url, bucket_base_url, contact
		FROM descriptors WHERE app_id = ?`, appID).
		Scan(&desc.AppID, &desc.Description, &desc.BackendBaseURL, &desc.BucketBaseURL, &desc.Contact)
	if err == sql.ErrNoRows {
		return client.Descriptor{}, fmt.Errorf("%w: %s", ErrDescriptorNotFound, appID)
	}
	if err != nil {
		return client.Descriptor{}, fmt.Errorf("failed to resolve descriptor: %w", err)
	}
	return desc, nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	for _, table := range []string{"handshakes", "contacts", "descriptors"} {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}

// Destroy closes the database and removes its file. An in-memory store
// only closes.
func (s *SQLiteStore) Destroy() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	if s.path == ":memory:" {
		return nil
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove database file: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
