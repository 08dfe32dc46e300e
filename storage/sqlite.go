package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"autocapture/photo"
)

// MemoryPath opens a private in-memory database, used by tests.
const MemoryPath = ":memory:"

// pragmas are handed to the driver, which runs them on every new
// connection of the pool.
var pragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(10000)",
	"synchronous(NORMAL)",
}

// dsn appends the connection pragmas to a file path.
func dsn(path string) string {
	if path == MemoryPath {
		return path
	}
	q := url.Values{}
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	return path + "?" + q.Encode()
}

type SQLite struct {
	db  *sql.DB
	log *zap.Logger
}

// Open opens (or creates) the SQLite file at path and migrates it to
// SchemaVersion. Opening an already migrated file is a no-op migration.
// The caller must call Close() when the program shuts down.
func Open(ctx context.Context, path string, log *zap.Logger) (*SQLite, error) {
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if path == MemoryPath {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	s := &SQLite{db: db, log: log}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migration: %w", err)
	}
	log.Info("photo store initialised", zap.String("path", path), zap.Int("schema_version", SchemaVersion))
	return s, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	switch {
	case version == SchemaVersion:
		return nil
	case version > SchemaVersion:
		return fmt.Errorf("%w: file is at %d, want %d", ErrSchemaVersion, version, SchemaVersion)
	}

	// upgrade from 0: create the photos collection keyed by id
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	const stmt = `
CREATE TABLE IF NOT EXISTS photos (
    id         INTEGER PRIMARY KEY,
    photo_data TEXT NOT NULL
);
`
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create photos table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", SchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	s.log.Info("SQLite migration applied", zap.Int("from", version), zap.Int("to", SchemaVersion))
	return nil
}

// Add stores a photo. A second photo with the same id is rejected.
func (s *SQLite) Add(ctx context.Context, p photo.Photo) error {
	if err := p.Validate(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO photos (id, photo_data) VALUES (?, ?) ON CONFLICT(id) DO NOTHING`,
		p.ID, p.Data)
	if err != nil {
		return fmt.Errorf("insert photo %d: %w", p.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrDuplicateID, p.ID)
	}
	s.log.Debug("photo persisted", zap.Int64("id", p.ID), zap.Int("bytes", len(p.Data)))
	return nil
}

// All returns every photo in id order.
func (s *SQLite) All(ctx context.Context) ([]photo.Photo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, photo_data FROM photos ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query photos: %w", err)
	}
	defer rows.Close()

	var out []photo.Photo
	for rows.Next() {
		var p photo.Photo
		if err := rows.Scan(&p.ID, &p.Data); err != nil {
			return nil, fmt.Errorf("scan photo: %w", err)
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("stored photo %d: %w", p.ID, err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate photos: %w", err)
	}
	return out, nil
}

// Get returns the photo with the given id.
func (s *SQLite) Get(ctx context.Context, id int64) (photo.Photo, error) {
	p := photo.Photo{ID: id}
	err := s.db.QueryRowContext(ctx, `SELECT photo_data FROM photos WHERE id = ?`, id).Scan(&p.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return photo.Photo{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return photo.Photo{}, fmt.Errorf("query photo %d: %w", id, err)
	}
	if err := p.Validate(); err != nil {
		return photo.Photo{}, fmt.Errorf("stored photo %d: %w", id, err)
	}
	return p, nil
}

// Count returns the number of photos.
func (s *SQLite) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM photos`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count photos: %w", err)
	}
	return n, nil
}

// Close shuts down the database connection.
func (s *SQLite) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
