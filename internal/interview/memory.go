package interview

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MemoryRepository は DATABASE_URL 未設定時とテストで使うインメモリ実装です。
type MemoryRepository struct {
	mu   sync.Mutex
	docs map[string]*Interview
}

// NewMemoryRepository は空の MemoryRepository を作成します。
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{docs: make(map[string]*Interview)}
}

func (r *MemoryRepository) Create(ctx context.Context, iv *Interview) error {
	if iv == nil || iv.ID == "" {
		return fmt.Errorf("interview id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.docs[iv.ID]; exists {
		return fmt.Errorf("interview %s already exists", iv.ID)
	}
	now := time.Now().UTC()
	if iv.CreatedAt.IsZero() {
		iv.CreatedAt = now
	}
	iv.UpdatedAt = now
	stored, err := clone(iv)
	if err != nil {
		return err
	}
	r.docs[iv.ID] = stored
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (*Interview, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	iv, ok := r.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(iv)
}

func (r *MemoryRepository) AppendToModule(ctx context.Context, id string, module ModuleKey, items json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	iv, ok := r.docs[id]
	if !ok {
		return ErrNotFound
	}

	var err error
	switch module {
	case ModuleTopics:
		iv.Topics, err = appendDecoded(iv.Topics, items)
	case ModuleMCQs:
		iv.MCQs, err = appendDecoded(iv.MCQs, items)
	case ModuleRapidFire:
		iv.RapidFire, err = appendDecoded(iv.RapidFire, items)
	default:
		return fmt.Errorf("%w: %q is not a list module", ErrUnknownModule, module)
	}
	if err != nil {
		return err
	}
	iv.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepository) UpdateTopicStyle(ctx context.Context, id, topicID, style, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	iv, ok := r.docs[id]
	if !ok {
		return ErrNotFound
	}
	topic, ok := iv.FindTopic(topicID)
	if !ok {
		return ErrTopicNotFound
	}
	if topic.Styles == nil {
		topic.Styles = make(map[string]string)
	}
	topic.Styles[style] = content
	iv.UpdatedAt = time.Now().UTC()
	return nil
}

func appendDecoded[T any](dst []T, items json.RawMessage) ([]T, error) {
	var decoded []T
	if err := json.Unmarshal(items, &decoded); err != nil {
		return dst, fmt.Errorf("decode items: %w", err)
	}
	return append(dst, decoded...), nil
}

func clone(iv *Interview) (*Interview, error) {
	data, err := json.Marshal(iv)
	if err != nil {
		return nil, err
	}
	var out Interview
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
