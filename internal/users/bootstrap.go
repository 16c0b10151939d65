package users

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// EnsureUser は username のユーザーが無ければ作成します。
func EnsureUser(ctx context.Context, repo Repository, username, passwordHash string, iterationLimit int) (*User, error) {
	u, err := repo.FindByUsername(ctx, username)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	u = &User{
		ID:           uuid.NewString(),
		ExternalID:   "local|" + username,
		Username:     username,
		PasswordHash: passwordHash,
		Plan:         "free",
		Iterations:   Iterations{Limit: iterationLimit},
	}
	if err := repo.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}
