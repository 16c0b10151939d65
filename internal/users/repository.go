package users

import "context"

// Repository はユーザーの永続化を担います。
type Repository interface {
	Create(ctx context.Context, u *User) error
	FindByID(ctx context.Context, id string) (*User, error)
	FindByExternalID(ctx context.Context, externalID string) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	// IncrementIteration は上限未満のときだけ使用数を1増やします。上限に達していれば ErrQuotaExceeded を返します。
	IncrementIteration(ctx context.Context, id string) (Iterations, error)
	SetBYOK(ctx context.Context, id string, sealed []byte, tier string) error
	ClearBYOK(ctx context.Context, id string) error
}
