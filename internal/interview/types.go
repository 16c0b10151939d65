// Package interview は面接対策ドキュメントと、その中で生成されるモジュールを扱います。
package interview

import (
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("interview not found")
	ErrUnknownModule = errors.New("unknown module")
	ErrTopicNotFound = errors.New("topic not found")
)

// Interview は1件の面接対策ドキュメントです。
type Interview struct {
	ID             string          `json:"id"`
	OwnerID        string          `json:"ownerId"`
	Role           string          `json:"role"`
	Company        string          `json:"company"`
	JobDescription string          `json:"jobDescription"`
	Resume         string          `json:"resume"`
	Topics         []Topic         `json:"topics"`
	MCQs           []MCQ           `json:"mcqs"`
	RapidFire      []RapidFireItem `json:"rapidFire"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// Topic は学習トピックです。Styles はスタイル別の書き直し結果を保持します。
type Topic struct {
	ID         string            `json:"id"`
	Title      string            `json:"title"`
	Content    string            `json:"content"`
	Difficulty string            `json:"difficulty,omitempty"`
	Styles     map[string]string `json:"styles,omitempty"`
}

// MCQ は4択問題です。
type MCQ struct {
	ID            string   `json:"id"`
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer int      `json:"correctAnswer"`
	Explanation   string   `json:"explanation,omitempty"`
	Difficulty    string   `json:"difficulty,omitempty"`
}

// RapidFireItem は一問一答です。
type RapidFireItem struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// FindTopic は ID に一致するトピックを返します。
func (iv *Interview) FindTopic(id string) (*Topic, bool) {
	for i := range iv.Topics {
		if iv.Topics[i].ID == id {
			return &iv.Topics[i], true
		}
	}
	return nil, false
}
