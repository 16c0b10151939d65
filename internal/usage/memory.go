package usage

import (
	"context"
	"sync"
)

// MemoryRepository はインメモリの Repository です。
type MemoryRepository struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemoryRepository は空の MemoryRepository を作成します。
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Insert(ctx context.Context, e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

// ListByUser は新しい順に最大 limit 件を返します。
func (r *MemoryRepository) ListByUser(ctx context.Context, userID string, limit int) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Entry
	for i := len(r.entries) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if r.entries[i].UserID == userID {
			out = append(out, r.entries[i])
		}
	}
	return out, nil
}
