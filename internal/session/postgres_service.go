package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresService struct {
	pool *pgxpool.Pool
}

func NewPostgresService(ctx context.Context, dsn string) (*PostgresService, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres dsn is required")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	svc := &PostgresService{pool: pool}
	if err := svc.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return svc, nil
}

func (s *PostgresService) Close() {
	s.pool.Close()
}

func (s *PostgresService) Create(ctx context.Context, input CreateInput) (Session, error) {
	name, err := normalizeName(input.Name)
	if err != nil {
		return Session{}, err
	}

	row := s.pool.QueryRow(ctx, `
INSERT INTO lease_sessions (id, name, created_at)
VALUES ($1, $2, $3)
RETURNING id, name, created_at
`, newSessionID(), name, time.Now().UTC())
	return scanSession(row)
}

func (s *PostgresService) Get(ctx context.Context, id string) (Session, error) {
	trimmedID := strings.TrimSpace(id)
	if trimmedID == "" {
		return Session{}, ErrSessionNotFound
	}
	row := s.pool.QueryRow(ctx, `SELECT id, name, created_at FROM lease_sessions WHERE id = $1`, trimmedID)
	return scanSession(row)
}

func (s *PostgresService) Rename(ctx context.Context, id, name string) (Session, error) {
	normalized, err := normalizeName(name)
	if err != nil {
		return Session{}, err
	}
	trimmedID := strings.TrimSpace(id)
	if trimmedID == "" {
		return Session{}, ErrSessionNotFound
	}
	row := s.pool.QueryRow(ctx, `
UPDATE lease_sessions SET name = $2
WHERE id = $1
RETURNING id, name, created_at
`, trimmedID, normalized)
	return scanSession(row)
}

func (s *PostgresService) Delete(ctx context.Context, id string) error {
	trimmedID := strings.TrimSpace(id)
	if trimmedID == "" {
		return errors.New("session id is required")
	}
	result, err := s.pool.Exec(ctx, `DELETE FROM lease_sessions WHERE id = $1`, trimmedID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *PostgresService) initSchema(ctx context.Context) error {
	statements := []string{
		`
CREATE TABLE IF NOT EXISTS lease_sessions (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
`,
		`CREATE INDEX IF NOT EXISTS idx_lease_sessions_created_at ON lease_sessions (created_at DESC);`,
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("initialize sessions schema: %w", err)
		}
	}
	return nil
}

type sessionRowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row sessionRowScanner) (Session, error) {
	var out Session
	err := row.Scan(&out.ID, &out.Name, &out.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, err
	}
	out.CreatedAt = out.CreatedAt.UTC()
	return out, nil
}
