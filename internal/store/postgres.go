package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS subscribers (
  uaid          TEXT PRIMARY KEY,
  router_type   TEXT NOT NULL,
  router_data   JSONB NOT NULL DEFAULT '{}'::jsonb,
  current_month TEXT NOT NULL DEFAULT '',
  updated_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_subscribers_router_type
  ON subscribers(router_type);
`

type PostgresOption func(*PostgresStore)

func WithPostgresNowFunc(now func() time.Time) PostgresOption {
	return func(s *PostgresStore) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// PostgresStore persists subscriber records in postgres via the pgx
// stdlib driver. Per-key atomicity comes from single-row upsert/delete.
type PostgresStore struct {
	db    *sql.DB
	nowFn func() time.Time
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(dsn string, opts ...PostgresOption) (*PostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty postgres dsn")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	s := &PostgresStore{
		db:    db,
		nowFn: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if _, err := db.Exec(postgresSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: apply schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) Get(uaid string) (Record, error) {
	var (
		rec      Record
		dataJSON []byte
	)
	err := s.db.QueryRow(
		`SELECT uaid, router_type, router_data, current_month FROM subscribers WHERE uaid = $1`,
		uaid,
	).Scan(&rec.UAID, &rec.RouterType, &dataJSON, &rec.CurrentMonth)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, s.wrap(err)
	}
	if len(dataJSON) > 0 && string(dataJSON) != "{}" {
		if err := json.Unmarshal(dataJSON, &rec.RouterData); err != nil {
			return Record{}, fmt.Errorf("postgres: decode router_data for %s: %w", uaid, err)
		}
	}
	return rec, nil
}

func (s *PostgresStore) Register(rec Record) error {
	if err := validate(rec); err != nil {
		return err
	}
	dataJSON, err := encodeRouterData(rec.RouterData)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO subscribers (uaid, router_type, router_data, current_month, updated_at)
		 VALUES ($1, $2, $3::jsonb, $4, $5)
		 ON CONFLICT (uaid) DO UPDATE SET
		   router_type = EXCLUDED.router_type,
		   router_data = EXCLUDED.router_data,
		   current_month = EXCLUDED.current_month,
		   updated_at = EXCLUDED.updated_at`,
		rec.UAID, rec.RouterType, dataJSON, rec.CurrentMonth, s.nowFn().UTC(),
	)
	return s.wrap(err)
}

func (s *PostgresStore) Drop(uaid string) error {
	_, err := s.db.Exec(`DELETE FROM subscribers WHERE uaid = $1`, uaid)
	return s.wrap(err)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// wrap maps connection-class failures (SQLSTATE 08xxx) and server
// shutdown (57xxx) to ErrUnavailable.
func (s *PostgresStore) wrap(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		code := pgErr.Code
		if strings.HasPrefix(code, "08") || strings.HasPrefix(code, "57") {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return err
	}
	// Driver-level failures with no SQLSTATE are connection trouble.
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}
