package interview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// moduleColumns はリスト型モジュールと JSONB 列の対応です。
var moduleColumns = map[ModuleKey]string{
	ModuleTopics:    "topics",
	ModuleMCQs:      "mcqs",
	ModuleRapidFire: "rapid_fire",
}

// PostgresRepository は Repository の PostgreSQL 実装です。モジュールは JSONB 列に保存します。
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository は PostgresRepository を作成します。
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Create(ctx context.Context, iv *Interview) error {
	if iv == nil || iv.ID == "" {
		return fmt.Errorf("interview id is required")
	}
	topics, mcqs, rapid, err := marshalModules(iv)
	if err != nil {
		return err
	}
	row := r.pool.QueryRow(ctx, `
INSERT INTO interviews (id, owner_id, role, company, job_description, resume, topics, mcqs, rapid_fire)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING created_at, updated_at;
`, iv.ID, iv.OwnerID, iv.Role, iv.Company, iv.JobDescription, iv.Resume, topics, mcqs, rapid)
	return row.Scan(&iv.CreatedAt, &iv.UpdatedAt)
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*Interview, error) {
	row := r.pool.QueryRow(ctx, `
SELECT id, owner_id, role, company, job_description, resume, topics, mcqs, rapid_fire, created_at, updated_at
FROM interviews WHERE id = $1`, id)

	var (
		iv                  Interview
		topics, mcqs, rapid []byte
	)
	if err := row.Scan(&iv.ID, &iv.OwnerID, &iv.Role, &iv.Company, &iv.JobDescription, &iv.Resume,
		&topics, &mcqs, &rapid, &iv.CreatedAt, &iv.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(topics, &iv.Topics); err != nil {
		return nil, fmt.Errorf("decode topics: %w", err)
	}
	if err := json.Unmarshal(mcqs, &iv.MCQs); err != nil {
		return nil, fmt.Errorf("decode mcqs: %w", err)
	}
	if err := json.Unmarshal(rapid, &iv.RapidFire); err != nil {
		return nil, fmt.Errorf("decode rapid_fire: %w", err)
	}
	return &iv, nil
}

func (r *PostgresRepository) AppendToModule(ctx context.Context, id string, module ModuleKey, items json.RawMessage) error {
	column, ok := moduleColumns[module]
	if !ok {
		return fmt.Errorf("%w: %q is not a list module", ErrUnknownModule, module)
	}
	query := fmt.Sprintf(`UPDATE interviews SET %[1]s = %[1]s || $2::jsonb, updated_at = NOW() WHERE id = $1`, column)
	tag, err := r.pool.Exec(ctx, query, id, string(items))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) UpdateTopicStyle(ctx context.Context, id, topicID, style, content string) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var raw []byte
		if err := tx.QueryRow(ctx, `SELECT topics FROM interviews WHERE id = $1 FOR UPDATE`, id).Scan(&raw); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		var topics []Topic
		if err := json.Unmarshal(raw, &topics); err != nil {
			return fmt.Errorf("decode topics: %w", err)
		}
		doc := Interview{Topics: topics}
		topic, ok := doc.FindTopic(topicID)
		if !ok {
			return ErrTopicNotFound
		}
		if topic.Styles == nil {
			topic.Styles = make(map[string]string)
		}
		topic.Styles[style] = content

		updated, err := json.Marshal(doc.Topics)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE interviews SET topics = $2::jsonb, updated_at = NOW() WHERE id = $1`, id, string(updated))
		return err
	})
}

func marshalModules(iv *Interview) (topics, mcqs, rapid string, err error) {
	encode := func(v any) (string, error) {
		data, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		if string(data) == "null" {
			return "[]", nil
		}
		return string(data), nil
	}
	if topics, err = encode(iv.Topics); err != nil {
		return
	}
	if mcqs, err = encode(iv.MCQs); err != nil {
		return
	}
	rapid, err = encode(iv.RapidFire)
	return
}
