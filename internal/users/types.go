// Package users はユーザー、生成回数のクォータ、BYOK キーを扱います。
package users

import (
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("user not found")
	ErrQuotaExceeded = errors.New("iteration quota exceeded")
	ErrInvalidTier   = errors.New("invalid byok tier")
	ErrSealedKey     = errors.New("byok key cannot be opened")
)

// BYOK のティア
const (
	TierStandard = "standard"
	TierPremium  = "premium"
)

// Iterations は生成回数の使用数と上限です。
type Iterations struct {
	Count int `json:"count"`
	Limit int `json:"limit"`
}

// Remaining は残りの生成回数です。
func (i Iterations) Remaining() int {
	if i.Count >= i.Limit {
		return 0
	}
	return i.Limit - i.Count
}

// User はログイン可能な利用者です。ExternalID は外部 ID プロバイダの subject です。
type User struct {
	ID           string
	ExternalID   string
	Username     string
	PasswordHash string
	Plan         string
	Iterations   Iterations
	SealedBYOK   []byte
	BYOKTier     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasBYOK は利用者が自分の API キーを登録しているかを返します。
func (u *User) HasBYOK() bool {
	return u != nil && len(u.SealedBYOK) > 0
}

// ValidTier は BYOK ティア名を検証します。空文字は standard として扱います。
func ValidTier(tier string) (string, error) {
	switch tier {
	case "", TierStandard:
		return TierStandard, nil
	case TierPremium:
		return TierPremium, nil
	default:
		return "", ErrInvalidTier
	}
}
