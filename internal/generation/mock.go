package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MockDriver は外部モデルを呼ばずに決まった形の出力を少しずつ返します。ローカル開発用です。
type MockDriver struct {
	Delay time.Duration
}

type mockItem struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Content       string   `json:"content"`
	Difficulty    string   `json:"difficulty"`
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer int      `json:"correctAnswer"`
	Explanation   string   `json:"explanation"`
	Answer        string   `json:"answer"`
}

// Stream は Count 件の項目（または単一オブジェクト）を1件ずつ組み立てて送出します。
func (m MockDriver) Stream(ctx context.Context, req Request) *Stream {
	return Run(ctx, func(ctx context.Context, emit Emit) (*Result, error) {
		if req.Shape == ShapeObject {
			obj := map[string]string{
				"content": fmt.Sprintf("Sample rewrite for %s (%s).", coalesce(req.Context.Role, "the role"), coalesce(req.Context.CustomInstructions, "default style")),
			}
			raw, err := json.Marshal(obj)
			if err != nil {
				return nil, err
			}
			if !emit(raw) {
				return nil, ctx.Err()
			}
			return &Result{Object: raw, Model: "mock"}, nil
		}

		count := req.Count
		if count <= 0 {
			count = 1
		}
		taken := make(map[string]bool)
		for _, id := range req.Context.Existing() {
			taken[strings.ToLower(id)] = true
		}

		items := make([]mockItem, 0, count)
		var raw []byte
		for n := 1; len(items) < count; n++ {
			id := fmt.Sprintf("mock-%d", n)
			if taken[id] {
				continue
			}
			items = append(items, mockItem{
				ID:            id,
				Title:         fmt.Sprintf("Topic %d", n),
				Content:       "Explain the concept with a concrete example.",
				Difficulty:    "medium",
				Question:      fmt.Sprintf("Question %d about %s?", n, coalesce(req.Context.Role, "the role")),
				Options:       []string{"A", "B", "C", "D"},
				CorrectAnswer: n % 4,
				Explanation:   "Because it is the most defensible option.",
				Answer:        "A short answer.",
			})

			var err error
			raw, err = json.Marshal(map[string]any{"items": items})
			if err != nil {
				return nil, err
			}
			if !emit(raw) {
				return nil, ctx.Err()
			}
			if m.Delay > 0 {
				select {
				case <-time.After(m.Delay):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
		}

		tokens := int64(len(raw) / 4)
		return &Result{
			Object: raw,
			Model:  "mock",
			Usage:  Usage{CompletionTokens: tokens, TotalTokens: tokens},
		}, nil
	})
}

func coalesce(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
