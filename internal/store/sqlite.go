package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite3 "modernc.org/sqlite"
)

const sqliteSchemaVersion = 1

const sqliteSchemaV1 = `
CREATE TABLE IF NOT EXISTS subscribers (
  uaid             TEXT PRIMARY KEY,
  router_type      TEXT NOT NULL,
  router_data_json TEXT NOT NULL DEFAULT '{}',
  current_month    TEXT NOT NULL DEFAULT '',
  updated_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_subscribers_router_type
  ON subscribers(router_type);
`

type SQLiteOption func(*SQLiteStore)

func WithSQLiteNowFunc(now func() time.Time) SQLiteOption {
	return func(s *SQLiteStore) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// SQLiteStore persists subscriber records in an embedded sqlite database.
// A single write connection with WAL keeps single-key upserts atomic.
type SQLiteStore struct {
	db    *sql.DB
	nowFn func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

func NewSQLiteStore(dbPath string, opts ...SQLiteOption) (*SQLiteStore, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, errors.New("empty db path")
	}

	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{
		db:    db,
		nowFn: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	ctx := context.Background()

	var journalMode string
	if err := s.db.QueryRowContext(ctx, "PRAGMA journal_mode=WAL;").Scan(&journalMode); err != nil {
		return fmt.Errorf("sqlite: set journal_mode=wal: %w", err)
	}
	if !strings.EqualFold(journalMode, "wal") {
		return fmt.Errorf("sqlite: journal_mode=%q, want wal", journalMode)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout=5000;"); err != nil {
		return fmt.Errorf("sqlite: set busy_timeout: %w", err)
	}

	var userVersion int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version;").Scan(&userVersion); err != nil {
		return fmt.Errorf("sqlite: read user_version: %w", err)
	}
	if userVersion > sqliteSchemaVersion {
		return fmt.Errorf("sqlite: db schema v%d is newer than supported v%d", userVersion, sqliteSchemaVersion)
	}
	if userVersion < 1 {
		if _, err := s.db.ExecContext(ctx, sqliteSchemaV1); err != nil {
			return fmt.Errorf("sqlite: apply schema v1: %w", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version=%d;", sqliteSchemaVersion)); err != nil {
		return fmt.Errorf("sqlite: set user_version: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(uaid string) (Record, error) {
	var (
		rec      Record
		dataJSON string
	)
	err := s.db.QueryRow(
		`SELECT uaid, router_type, router_data_json, current_month FROM subscribers WHERE uaid = ?`,
		uaid,
	).Scan(&rec.UAID, &rec.RouterType, &dataJSON, &rec.CurrentMonth)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, s.wrap(err)
	}
	if dataJSON != "" && dataJSON != "{}" {
		if err := json.Unmarshal([]byte(dataJSON), &rec.RouterData); err != nil {
			return Record{}, fmt.Errorf("sqlite: decode router_data for %s: %w", uaid, err)
		}
	}
	return rec, nil
}

func (s *SQLiteStore) Register(rec Record) error {
	if err := validate(rec); err != nil {
		return err
	}
	dataJSON, err := encodeRouterData(rec.RouterData)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO subscribers (uaid, router_type, router_data_json, current_month, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(uaid) DO UPDATE SET
		   router_type = excluded.router_type,
		   router_data_json = excluded.router_data_json,
		   current_month = excluded.current_month,
		   updated_at = excluded.updated_at`,
		rec.UAID, rec.RouterType, dataJSON, rec.CurrentMonth, s.nowFn().UTC().UnixMilli(),
	)
	return s.wrap(err)
}

func (s *SQLiteStore) Drop(uaid string) error {
	_, err := s.db.Exec(`DELETE FROM subscribers WHERE uaid = ?`, uaid)
	return s.wrap(err)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// wrap maps driver-level lock/busy conditions to ErrUnavailable so the
// coordinator sees a uniform store taxonomy.
func (s *SQLiteStore) wrap(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr *sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case 5, 6: // SQLITE_BUSY, SQLITE_LOCKED
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return err
}

func encodeRouterData(data map[string]any) (string, error) {
	if len(data) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("%w: router_data not serializable: %v", ErrInvalidRecord, err)
	}
	return string(b), nil
}
