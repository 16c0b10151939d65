package users

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryRepository はインメモリの Repository です。
type MemoryRepository struct {
	mu    sync.Mutex
	users map[string]*User
}

// NewMemoryRepository は空の MemoryRepository を作成します。
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{users: make(map[string]*User)}
}

func (r *MemoryRepository) Create(ctx context.Context, u *User) error {
	if u == nil || u.ID == "" {
		return fmt.Errorf("user id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.ID == u.ID || existing.ExternalID == u.ExternalID || existing.Username == u.Username {
			return fmt.Errorf("user %s already exists", u.Username)
		}
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	stored := *u
	stored.SealedBYOK = append([]byte(nil), u.SealedBYOK...)
	r.users[u.ID] = &stored
	return nil
}

func (r *MemoryRepository) FindByID(ctx context.Context, id string) (*User, error) {
	return r.find(func(u *User) bool { return u.ID == id })
}

func (r *MemoryRepository) FindByExternalID(ctx context.Context, externalID string) (*User, error) {
	return r.find(func(u *User) bool { return u.ExternalID == externalID })
}

func (r *MemoryRepository) FindByUsername(ctx context.Context, username string) (*User, error) {
	return r.find(func(u *User) bool { return u.Username == username })
}

func (r *MemoryRepository) IncrementIteration(ctx context.Context, id string) (Iterations, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return Iterations{}, ErrNotFound
	}
	if u.Iterations.Count >= u.Iterations.Limit {
		return u.Iterations, ErrQuotaExceeded
	}
	u.Iterations.Count++
	u.UpdatedAt = time.Now().UTC()
	return u.Iterations, nil
}

func (r *MemoryRepository) SetBYOK(ctx context.Context, id string, sealed []byte, tier string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return ErrNotFound
	}
	u.SealedBYOK = append([]byte(nil), sealed...)
	u.BYOKTier = tier
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepository) ClearBYOK(ctx context.Context, id string) error {
	return r.SetBYOK(ctx, id, nil, "")
}

func (r *MemoryRepository) find(match func(*User) bool) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if match(u) {
			out := *u
			out.SealedBYOK = append([]byte(nil), u.SealedBYOK...)
			return &out, nil
		}
	}
	return nil, ErrNotFound
}
