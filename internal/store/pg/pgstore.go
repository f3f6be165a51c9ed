package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const pgErrUniqueViolation = "23505"

// Store is the Postgres-backed persistence layer for the storefront.
type Store struct {
	db *sql.DB
}

// Open connects to Postgres via the pgx stdlib driver.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection, used by tests.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Catalog returns the product-facing view of the store.
func (s *Store) Catalog() *Catalog { return &Catalog{db: s.db} }

// Orders returns the order-facing view of the store.
func (s *Store) Orders() *Orders { return &Orders{db: s.db} }

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Probe runs the cheap admin-gate connectivity check: a single-row read
// against the products table. Any error means the backend is unusable
// for admin work right now.
func (s *Store) Probe(ctx context.Context) error {
	var id string
	err := s.db.QueryRowContext(ctx, `select id from products limit 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		// An empty catalog still proves the store answers.
		return nil
	}
	return err
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
