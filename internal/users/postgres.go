package users

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const userColumns = `id, external_id, username, password_hash, plan, iterations_count, iterations_limit, byok_sealed_key, byok_tier, created_at, updated_at`

// PostgresRepository は Repository の PostgreSQL 実装です。
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository は PostgresRepository を作成します。
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Create(ctx context.Context, u *User) error {
	row := r.pool.QueryRow(ctx, `
INSERT INTO users (id, external_id, username, password_hash, plan, iterations_count, iterations_limit)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING created_at, updated_at;
`, u.ID, u.ExternalID, u.Username, u.PasswordHash, u.Plan, u.Iterations.Count, u.Iterations.Limit)
	return row.Scan(&u.CreatedAt, &u.UpdatedAt)
}

func (r *PostgresRepository) FindByID(ctx context.Context, id string) (*User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (r *PostgresRepository) FindByExternalID(ctx context.Context, externalID string) (*User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE external_id = $1`, externalID))
}

func (r *PostgresRepository) FindByUsername(ctx context.Context, username string) (*User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
}

// IncrementIteration は上限の比較と加算を1つの UPDATE で行います。
func (r *PostgresRepository) IncrementIteration(ctx context.Context, id string) (Iterations, error) {
	var it Iterations
	err := r.pool.QueryRow(ctx, `
UPDATE users
SET iterations_count = iterations_count + 1, updated_at = NOW()
WHERE id = $1 AND iterations_count < iterations_limit
RETURNING iterations_count, iterations_limit;
`, id).Scan(&it.Count, &it.Limit)
	if err == nil {
		return it, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return it, err
	}

	// 行が更新されなかった理由を区別する
	err = r.pool.QueryRow(ctx, `SELECT iterations_count, iterations_limit FROM users WHERE id = $1`, id).Scan(&it.Count, &it.Limit)
	if errors.Is(err, pgx.ErrNoRows) {
		return it, ErrNotFound
	}
	if err != nil {
		return it, err
	}
	return it, ErrQuotaExceeded
}

func (r *PostgresRepository) SetBYOK(ctx context.Context, id string, sealed []byte, tier string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET byok_sealed_key = $2, byok_tier = $3, updated_at = NOW() WHERE id = $1`, id, sealed, tier)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) ClearBYOK(ctx context.Context, id string) error {
	return r.SetBYOK(ctx, id, nil, "")
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.ExternalID, &u.Username, &u.PasswordHash, &u.Plan,
		&u.Iterations.Count, &u.Iterations.Limit, &u.SealedBYOK, &u.BYOKTier, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}
