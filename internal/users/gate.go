package users

import (
	"context"
	"fmt"

	"github.com/yourusername/prepstream/internal/generation"
)

// GateOptions はクォータゲートが払い出す認証情報の設定です。
type GateOptions struct {
	// Platform はサービス側のキーで生成するときの認証情報です。
	Platform          generation.Credentials
	BYOKModelStandard string
	BYOKModelPremium  string
}

// Gate は生成前にクォータを確認し、使用する認証情報を決めます。
type Gate struct {
	repo  Repository
	vault *KeyVault
	opts  GateOptions
}

// NewGate は Gate を作成します。
func NewGate(repo Repository, vault *KeyVault, opts GateOptions) *Gate {
	return &Gate{repo: repo, vault: vault, opts: opts}
}

// HasBYOK は利用者が BYOK キーを登録しているかを返します。
func (g *Gate) HasBYOK(ctx context.Context, userID string) (bool, error) {
	u, err := g.repo.FindByID(ctx, userID)
	if err != nil {
		return false, err
	}
	return u.HasBYOK(), nil
}

// Authorize は生成1回分の利用を確定させ、使う認証情報を返します。
// BYOK 利用者はクォータを消費しません。それ以外は上限未満なら使用数を1増やします。
func (g *Gate) Authorize(ctx context.Context, userID string) (generation.Credentials, error) {
	byok, err := g.HasBYOK(ctx, userID)
	if err != nil {
		return generation.Credentials{}, err
	}
	if !byok {
		if _, err := g.repo.IncrementIteration(ctx, userID); err != nil {
			return generation.Credentials{}, err
		}
	}
	return g.Credentials(ctx, userID)
}

// Credentials はクォータを消費せずに認証情報だけを返します。
// Authorize 済みの生成をバックグラウンドで実行するときに使います。
func (g *Gate) Credentials(ctx context.Context, userID string) (generation.Credentials, error) {
	u, err := g.repo.FindByID(ctx, userID)
	if err != nil {
		return generation.Credentials{}, err
	}
	return g.resolve(u)
}

func (g *Gate) resolve(u *User) (generation.Credentials, error) {
	if !u.HasBYOK() {
		creds := g.opts.Platform
		creds.Tier = u.Plan
		creds.BYOK = false
		return creds, nil
	}

	key, err := g.vault.Open(u.SealedBYOK)
	if err != nil {
		return generation.Credentials{}, fmt.Errorf("open byok key: %w", err)
	}
	tier, err := ValidTier(u.BYOKTier)
	if err != nil {
		return generation.Credentials{}, err
	}
	model := g.opts.BYOKModelStandard
	if tier == TierPremium {
		model = g.opts.BYOKModelPremium
	}
	return generation.Credentials{
		APIKey:  key,
		Model:   model,
		BaseURL: g.opts.Platform.BaseURL,
		Tier:    tier,
		BYOK:    true,
	}, nil
}
