package usage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository は ai_usage テーブルに記録を保存します。
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository は PostgresRepository を作成します。
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Insert(ctx context.Context, e Entry) error {
	var ttft, errText any
	if e.TTFT > 0 {
		ttft = e.TTFT.Milliseconds()
	}
	if e.Error != "" {
		errText = e.Error
	}
	_, err := r.pool.Exec(ctx, `
INSERT INTO ai_usage (user_id, interview_id, module, stream_id, model, byok,
    prompt_tokens, completion_tokens, total_tokens, latency_ms, ttft_ms, error, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13);
`, e.UserID, e.InterviewID, e.Module, e.StreamID, e.Model, e.BYOK,
		e.Usage.PromptTokens, e.Usage.CompletionTokens, e.Usage.TotalTokens,
		e.Latency.Milliseconds(), ttft, errText, e.CreatedAt)
	return err
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
SELECT user_id, interview_id, module, stream_id, model, byok,
       prompt_tokens, completion_tokens, total_tokens, latency_ms, ttft_ms, COALESCE(error, ''), created_at
FROM ai_usage
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var (
			e         Entry
			latencyMS int64
			ttftMS    *int64
		)
		err := row.Scan(&e.UserID, &e.InterviewID, &e.Module, &e.StreamID, &e.Model, &e.BYOK,
			&e.Usage.PromptTokens, &e.Usage.CompletionTokens, &e.Usage.TotalTokens,
			&latencyMS, &ttftMS, &e.Error, &e.CreatedAt)
		e.Latency = time.Duration(latencyMS) * time.Millisecond
		if ttftMS != nil {
			e.TTFT = time.Duration(*ttftMS) * time.Millisecond
		}
		return e, err
	})
}
