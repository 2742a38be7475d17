package resource

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const resourceColumns = `id, name, claimed_by, claim_expires_at, claim_message, created_at, updated_at`

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres dsn is required")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Read(ctx context.Context, id string) (Resource, error) {
	id, err := normalizeID(id)
	if err != nil {
		return Resource{}, err
	}
	row := s.pool.QueryRow(ctx, `SELECT `+resourceColumns+` FROM resources WHERE id = $1`, id)
	return scanResource(row)
}

// ConditionalWrite locks the row for the duration of the transaction so the
// check and the update observe the same version of the record.
func (s *PostgresStore) ConditionalWrite(ctx context.Context, id string, check Precondition, mutate Mutation) (Resource, error) {
	id, err := normalizeID(id)
	if err != nil {
		return Resource{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Resource{}, fmt.Errorf("begin resource transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(context.Background())
	}()

	current, err := scanResource(tx.QueryRow(ctx, `SELECT `+resourceColumns+` FROM resources WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return Resource{}, err
	}

	var dbNow time.Time
	if err := tx.QueryRow(ctx, `SELECT NOW()`).Scan(&dbNow); err != nil {
		return Resource{}, fmt.Errorf("read database clock: %w", err)
	}
	next, err := applyTransition(current, check, mutate, dbNow)
	if err != nil {
		return Resource{}, err
	}

	row := tx.QueryRow(ctx, `
UPDATE resources
SET
	claimed_by = $2,
	claim_expires_at = $3,
	claim_message = $4,
	updated_at = $5
WHERE id = $1
RETURNING `+resourceColumns,
		id,
		nullableString(next.ClaimedBy),
		next.ClaimExpiresAt,
		nullableString(next.ClaimMessage),
		next.UpdatedAt,
	)
	updated, err := scanResource(row)
	if err != nil {
		return Resource{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Resource{}, fmt.Errorf("commit resource transaction: %w", err)
	}
	return updated, nil
}

func (s *PostgresStore) Insert(ctx context.Context, id, name string) (Resource, error) {
	created, err := newRecord(id, name, time.Now())
	if err != nil {
		return Resource{}, err
	}

	row := s.pool.QueryRow(ctx, `
INSERT INTO resources (id, name, claimed_by, claim_expires_at, claim_message, created_at, updated_at)
VALUES ($1, $2, NULL, NULL, NULL, $3, $3)
ON CONFLICT (id) DO NOTHING
RETURNING `+resourceColumns, created.ID, created.Name, created.CreatedAt)

	inserted, err := scanResource(row)
	if errors.Is(err, ErrNotFound) {
		return Resource{}, ErrAlreadyExists
	}
	return inserted, err
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	statements := []string{
		`
CREATE TABLE IF NOT EXISTS resources (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	claimed_by TEXT NULL,
	claim_expires_at TIMESTAMPTZ NULL,
	claim_message TEXT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	CONSTRAINT resources_claim_pair CHECK ((claimed_by IS NULL) = (claim_expires_at IS NULL))
);
`,
		`CREATE INDEX IF NOT EXISTS idx_resources_claimed_by ON resources (claimed_by) WHERE claimed_by IS NOT NULL;`,
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("initialize resources schema: %w", err)
		}
	}
	return nil
}

type resourceRowScanner interface {
	Scan(dest ...any) error
}

func scanResource(row resourceRowScanner) (Resource, error) {
	var (
		out       Resource
		claimedBy *string
		expiresAt *time.Time
		message   *string
	)
	err := row.Scan(&out.ID, &out.Name, &claimedBy, &expiresAt, &message, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Resource{}, ErrNotFound
		}
		return Resource{}, err
	}
	if claimedBy != nil {
		out.ClaimedBy = *claimedBy
	}
	if expiresAt != nil {
		at := expiresAt.UTC()
		out.ClaimExpiresAt = &at
	}
	if message != nil {
		out.ClaimMessage = *message
	}
	out.CreatedAt = out.CreatedAt.UTC()
	out.UpdatedAt = out.UpdatedAt.UTC()
	return out, nil
}

func nullableString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
