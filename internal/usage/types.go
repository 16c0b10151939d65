// Package usage は生成リクエストの監査ログ（トークン数・レイテンシ・初回トークンまでの時間）を記録します。
package usage

import (
	"context"
	"time"

	"github.com/yourusername/prepstream/internal/generation"
)

// Entry は生成1回分の記録です。
type Entry struct {
	UserID      string
	InterviewID string
	Module      string
	StreamID    string
	Model       string
	BYOK        bool
	Usage       generation.Usage
	Latency     time.Duration
	// TTFT は最初の content イベントまでの時間です。送出前に終わった場合は0です。
	TTFT      time.Duration
	Error     string
	CreatedAt time.Time
}

// Failed は失敗として記録されたかを返します。
func (e Entry) Failed() bool {
	return e.Error != ""
}

// Repository は記録の保存先です。
type Repository interface {
	Insert(ctx context.Context, e Entry) error
	ListByUser(ctx context.Context, userID string, limit int) ([]Entry, error)
}
