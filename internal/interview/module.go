package interview

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yourusername/prepstream/internal/generation"
)

// ModuleKey はモジュールの識別子です。
type ModuleKey string

const (
	ModuleTopics     ModuleKey = "topics"
	ModuleMCQs       ModuleKey = "mcqs"
	ModuleRapidFire  ModuleKey = "rapidfire"
	ModuleTopicStyle ModuleKey = "topic-style"
)

const maxCount = 20

// Params はモジュール固有の生成パラメータです。
type Params struct {
	Count   int
	TopicID string
	Style   string
}

// Module は生成対象のモジュールです。実装はこのパッケージ内の4種類に限られます。
type Module interface {
	Key() ModuleKey
	Shape() generation.Shape
	// Prepare はドキュメントに対してパラメータを検証し、既定値を補います。
	Prepare(doc *Interview, p Params) (Params, error)
	// ExistingIDs は重複除外に使う既存項目の識別子です。
	ExistingIDs(doc *Interview) []string
	Prompt(doc *Interview, gctx generation.Context, p Params) generation.Prompt
	// ExtractPartial は部分値からクライアントへ送る部分を取り出します。
	ExtractPartial(raw json.RawMessage) (json.RawMessage, bool)
	// Finalize は最終値を検証・重複除外し、保存処理を束ねた結果を返します。
	Finalize(interviewID string, raw json.RawMessage, existing []string, p Params) (*Finalized, error)

	sealed()
}

// Finalized は保存前の確定結果です。Payload はリスト型なら項目の配列、topic-style ならオブジェクトです。
type Finalized struct {
	Payload json.RawMessage
	Items   int

	persist func(ctx context.Context, repo Repository) error
}

// Persist は確定結果をドキュメントに保存します。
func (f *Finalized) Persist(ctx context.Context, repo Repository) error {
	if f == nil || f.persist == nil {
		return nil
	}
	return f.persist(ctx, repo)
}

var (
	Topics     Module = listModule[Topic]{key: ModuleTopics, defaultCount: 5, identify: topicID, valid: validTopic, existing: topicIDs, prompt: topicsPrompt}
	MCQs       Module = listModule[MCQ]{key: ModuleMCQs, defaultCount: 5, identify: mcqID, valid: validMCQ, existing: mcqIDs, prompt: mcqsPrompt}
	RapidFire  Module = listModule[RapidFireItem]{key: ModuleRapidFire, defaultCount: 10, identify: rapidFireID, valid: validRapidFire, existing: rapidFireIDs, prompt: rapidFirePrompt}
	TopicStyle Module = topicStyleModule{}
)

// Modules は全モジュールです。
func Modules() []Module {
	return []Module{Topics, MCQs, RapidFire, TopicStyle}
}

// ModuleByKey はリクエストのパス要素からモジュールを引きます。
func ModuleByKey(key string) (Module, error) {
	switch ModuleKey(key) {
	case ModuleTopics:
		return Topics, nil
	case ModuleMCQs:
		return MCQs, nil
	case ModuleRapidFire:
		return RapidFire, nil
	case ModuleTopicStyle:
		return TopicStyle, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownModule, key)
	}
}

type listModule[T any] struct {
	key          ModuleKey
	defaultCount int
	identify     func(*T) string
	valid        func(T) bool
	existing     func(*Interview) []string
	prompt       func(doc *Interview, gctx generation.Context, p Params) generation.Prompt
}

type listPayload[T any] struct {
	Items []T `json:"items"`
}

func (m listModule[T]) Key() ModuleKey          { return m.key }
func (m listModule[T]) Shape() generation.Shape { return generation.ShapeList }
func (m listModule[T]) sealed()                 {}

func (m listModule[T]) Prepare(doc *Interview, p Params) (Params, error) {
	switch {
	case p.Count == 0:
		p.Count = m.defaultCount
	case p.Count < 0 || p.Count > maxCount:
		return p, fmt.Errorf("count must be between 1 and %d", maxCount)
	}
	return Params{Count: p.Count}, nil
}

func (m listModule[T]) ExistingIDs(doc *Interview) []string {
	if doc == nil {
		return nil
	}
	return m.existing(doc)
}

func (m listModule[T]) Prompt(doc *Interview, gctx generation.Context, p Params) generation.Prompt {
	return m.prompt(doc, gctx, p)
}

func (m listModule[T]) ExtractPartial(raw json.RawMessage) (json.RawMessage, bool) {
	var partial struct {
		Items json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(raw, &partial); err != nil {
		return nil, false
	}
	if len(partial.Items) == 0 {
		return json.RawMessage("[]"), true
	}
	return partial.Items, true
}

func (m listModule[T]) Finalize(interviewID string, raw json.RawMessage, existing []string, p Params) (*Finalized, error) {
	var decoded listPayload[T]
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode %s: %w", m.key, err)
	}

	candidates := make([]T, 0, len(decoded.Items))
	for i := range decoded.Items {
		if !m.valid(decoded.Items[i]) {
			continue
		}
		m.identify(&decoded.Items[i])
		candidates = append(candidates, decoded.Items[i])
	}
	kept := dedupe(candidates, existing, func(item T) string { return m.identify(&item) })
	if p.Count > 0 && len(kept) > p.Count {
		kept = kept[:p.Count]
	}

	payload, err := json.Marshal(kept)
	if err != nil {
		return nil, err
	}

	return &Finalized{
		Payload: payload,
		Items:   len(kept),
		persist: func(ctx context.Context, repo Repository) error {
			return m.persist(ctx, repo, interviewID, kept)
		},
	}, nil
}

// persist は保存直前のドキュメントに対してもう一度重複を除外してから追加します。
// 同じ既存集合で「さらに追加」が2回走っても、保存済みの項目と衝突しません。
func (m listModule[T]) persist(ctx context.Context, repo Repository, interviewID string, kept []T) error {
	if len(kept) == 0 {
		return nil
	}
	doc, err := repo.Get(ctx, interviewID)
	if err != nil {
		return err
	}
	fresh := dedupe(kept, m.existing(doc), func(item T) string { return m.identify(&item) })
	if len(fresh) == 0 {
		return nil
	}
	items, err := json.Marshal(fresh)
	if err != nil {
		return err
	}
	return repo.AppendToModule(ctx, interviewID, m.key, items)
}

type topicStyleModule struct{}

type topicStylePayload struct {
	Content string `json:"content"`
}

func (topicStyleModule) Key() ModuleKey          { return ModuleTopicStyle }
func (topicStyleModule) Shape() generation.Shape { return generation.ShapeObject }
func (topicStyleModule) sealed()                 {}

func (topicStyleModule) Prepare(doc *Interview, p Params) (Params, error) {
	style := NormalizeID(p.Style)
	if style == "" {
		return p, fmt.Errorf("style is required")
	}
	if strings.TrimSpace(p.TopicID) == "" {
		return p, fmt.Errorf("topicId is required")
	}
	if doc != nil {
		if _, ok := doc.FindTopic(p.TopicID); !ok {
			return p, ErrTopicNotFound
		}
	}
	return Params{TopicID: p.TopicID, Style: style}, nil
}

func (topicStyleModule) ExistingIDs(*Interview) []string { return nil }

func (topicStyleModule) Prompt(doc *Interview, gctx generation.Context, p Params) generation.Prompt {
	return topicStylePrompt(doc, gctx, p)
}

func (topicStyleModule) ExtractPartial(raw json.RawMessage) (json.RawMessage, bool) {
	if !json.Valid(raw) {
		return nil, false
	}
	return raw, true
}

func (topicStyleModule) Finalize(interviewID string, raw json.RawMessage, _ []string, p Params) (*Finalized, error) {
	var decoded topicStylePayload
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode %s: %w", ModuleTopicStyle, err)
	}
	content := strings.TrimSpace(decoded.Content)
	if content == "" {
		return nil, fmt.Errorf("decode %s: empty content", ModuleTopicStyle)
	}
	payload, err := json.Marshal(map[string]string{
		"topicId": p.TopicID,
		"style":   p.Style,
		"content": content,
	})
	if err != nil {
		return nil, err
	}
	return &Finalized{
		Payload: payload,
		Items:   1,
		persist: func(ctx context.Context, repo Repository) error {
			return repo.UpdateTopicStyle(ctx, interviewID, p.TopicID, p.Style, content)
		},
	}, nil
}

func topicID(t *Topic) string {
	t.ID = itemID(t.ID, t.Title)
	return t.ID
}

func mcqID(q *MCQ) string {
	q.ID = itemID(q.ID, q.Question)
	return q.ID
}

func rapidFireID(r *RapidFireItem) string {
	r.ID = itemID(r.ID, r.Question)
	return r.ID
}

func validTopic(t Topic) bool {
	return strings.TrimSpace(t.Title) != "" && strings.TrimSpace(t.Content) != ""
}

func validMCQ(q MCQ) bool {
	return strings.TrimSpace(q.Question) != "" && len(q.Options) >= 2 &&
		q.CorrectAnswer >= 0 && q.CorrectAnswer < len(q.Options)
}

func validRapidFire(r RapidFireItem) bool {
	return strings.TrimSpace(r.Question) != "" && strings.TrimSpace(r.Answer) != ""
}

func topicIDs(doc *Interview) []string {
	ids := make([]string, len(doc.Topics))
	for i, t := range doc.Topics {
		ids[i] = t.ID
	}
	return ids
}

func mcqIDs(doc *Interview) []string {
	ids := make([]string, len(doc.MCQs))
	for i, q := range doc.MCQs {
		ids[i] = q.ID
	}
	return ids
}

func rapidFireIDs(doc *Interview) []string {
	ids := make([]string, len(doc.RapidFire))
	for i, r := range doc.RapidFire {
		ids[i] = r.ID
	}
	return ids
}
