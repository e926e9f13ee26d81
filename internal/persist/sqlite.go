package persist

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"delegation-cache/internal/cache"
)

// SQLite keeps a snapshot in a single table. Timestamps are stored as unix
// nanoseconds so ordering and expiry checks stay exact.
type SQLite struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

const createEntriesTable = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key TEXT PRIMARY KEY,
	value BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	last_access INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	size INTEGER NOT NULL
);
`

// NewSQLite opens (and if needed creates) the snapshot database at path.
func NewSQLite(path string, logger *zap.Logger) (*SQLite, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot db: %w", err)
	}
	// One writer at a time; sqlite serializes anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createEntriesTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate snapshot db: %w", err)
	}
	return &SQLite{db: db, logger: logger, now: time.Now}, nil
}

// Save replaces the table contents in one transaction.
func (s *SQLite) Save(ctx context.Context, records []cache.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("snapshot save: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries`); err != nil {
		return fmt.Errorf("snapshot save: truncate: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO cache_entries (key, value, created_at, last_access, expires_at, size)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("snapshot save: prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx,
			r.Key.String(), r.Value,
			r.CreatedAt.UnixNano(), r.LastAccess.UnixNano(), r.ExpiresAt.UnixNano(),
			r.Size,
		); err != nil {
			return fmt.Errorf("snapshot save: insert %s: %w", r.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("snapshot save: commit: %w", err)
	}
	s.logger.Debug("snapshot saved", zap.Int("records", len(records)))
	return nil
}

// Load returns unexpired rows, least recently used first. Rows with an
// unparseable key are skipped.
func (s *SQLite) Load(ctx context.Context) ([]cache.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value, created_at, last_access, expires_at, size
		 FROM cache_entries
		 WHERE expires_at > ?
		 ORDER BY last_access ASC`,
		s.now().UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("snapshot load: %w", err)
	}
	defer rows.Close()

	var records []cache.Record
	for rows.Next() {
		var (
			keyHex                          string
			value                           []byte
			createdAt, lastAccess, expireAt int64
			size                            int64
		)
		if err := rows.Scan(&keyHex, &value, &createdAt, &lastAccess, &expireAt, &size); err != nil {
			return nil, fmt.Errorf("snapshot load: scan: %w", err)
		}
		key, err := cache.ParseKey(keyHex)
		if err != nil {
			s.logger.Warn("skipping snapshot row with bad key", zap.String("key", keyHex), zap.Error(err))
			continue
		}
		records = append(records, cache.Record{
			Key:        key,
			Value:      value,
			CreatedAt:  time.Unix(0, createdAt),
			LastAccess: time.Unix(0, lastAccess),
			ExpiresAt:  time.Unix(0, expireAt),
			Size:       size,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("snapshot load: %w", err)
	}
	return records, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
