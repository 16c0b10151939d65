// Package generation は構造化出力を返す生成モデル呼び出しを、部分値の列と最終値に揃えて提供します。
package generation

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrNoFinalValue は部分値の列が最終値なしで終わったことを表します。
	ErrNoFinalValue = errors.New("generation ended without a final value")
	// ErrMalformedOutput はモデル出力が JSON として解釈できなかったことを表します。
	ErrMalformedOutput = errors.New("model output is not valid JSON")
)

// Context は生成に渡す入力一式です。リクエストごとに作られ、作成後は変更しません。
type Context struct {
	Resume             string
	JobDescription     string
	Role               string
	Company            string
	CustomInstructions string
	Plan               string

	existing []string
}

// NewContext は既存コンテンツの識別子をコピーして Context を作成します。
func NewContext(base Context, existing []string) Context {
	base.existing = append([]string(nil), existing...)
	return base
}

// Existing は既存コンテンツの識別子のコピーを返します。
func (c Context) Existing() []string {
	return append([]string(nil), c.existing...)
}

// Shape は出力の形です。
type Shape int

const (
	// ShapeList は {"items":[...]} 形式のリストです。
	ShapeList Shape = iota
	// ShapeObject は単一オブジェクトです。
	ShapeObject
)

// Prompt はモデルへ渡すメッセージです。
type Prompt struct {
	System string
	User   string
}

// Credentials はモデル呼び出しに使う認証情報とティアです。
type Credentials struct {
	APIKey  string
	Model   string
	BaseURL string
	Tier    string
	BYOK    bool
}

// Request は1回の生成呼び出しです。
type Request struct {
	Context     Context
	Prompt      Prompt
	Shape       Shape
	Count       int
	Credentials Credentials
}

// Usage はトークン使用量です。
type Usage struct {
	PromptTokens     int64 `json:"promptTokens"`
	CompletionTokens int64 `json:"completionTokens"`
	TotalTokens      int64 `json:"totalTokens"`
}

// Result は検証済みの最終値と使用量です。
type Result struct {
	Object json.RawMessage
	Usage  Usage
	Model  string
}

// Driver は生成を開始し、Stream を返します。呼び出し以外の副作用は持ちません。
type Driver interface {
	Stream(ctx context.Context, req Request) *Stream
}
