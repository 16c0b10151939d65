package interview

import (
	"context"
	"encoding/json"
)

// Repository はドキュメントの永続化を担います。
type Repository interface {
	Create(ctx context.Context, iv *Interview) error
	Get(ctx context.Context, id string) (*Interview, error)
	// AppendToModule はリスト型モジュールの末尾に items（JSON配列）を追加します。
	AppendToModule(ctx context.Context, id string, module ModuleKey, items json.RawMessage) error
	UpdateTopicStyle(ctx context.Context, id, topicID, style, content string) error
}
