package streams

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	streamKeyPrefix  = "stream:"
	contentKeySuffix = ":content"

	maxTxRetries = 5
)

// Tracker はストリームの状態とバッファを Redis に保存します。
// 同じキーに対して active な記録は常に1件のみで、StartJob は既存の記録を無条件に置き換えます。
type Tracker struct {
	rdb         *redis.Client
	activeTTL   time.Duration
	terminalTTL time.Duration
	now         func() time.Time
}

// NewTracker は Tracker を作成します。
func NewTracker(rdb *redis.Client, activeTTL, terminalTTL time.Duration) *Tracker {
	return &Tracker{
		rdb:         rdb,
		activeTTL:   activeTTL,
		terminalTTL: terminalTTL,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// StartJob は以前のバッファを破棄し、新しい active 記録を書き込みます。
func (t *Tracker) StartJob(ctx context.Context, streamID string, key Key, ownerID string) (*Job, error) {
	if streamID == "" {
		return nil, fmt.Errorf("streamID is required")
	}
	if err := key.Validate(); err != nil {
		return nil, err
	}

	now := t.now()
	job := &Job{
		StreamID:  streamID,
		ParentID:  key.ParentID,
		Module:    key.Module,
		OwnerID:   ownerID,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}

	_, err = t.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, contentKey(key))
		pipe.Set(ctx, jobKey(key), payload, t.activeTTL)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// MarkStatus は終了状態を書き込み、短い TTL に切り替えます。
// 記録が存在しない場合は何もしません。streamID が空でなければ、記録の所有者と一致する場合のみ更新します。
func (t *Tracker) MarkStatus(ctx context.Context, key Key, streamID string, status Status) error {
	if !status.Terminal() {
		return fmt.Errorf("mark status: %q is not a terminal status", status)
	}
	return t.watch(ctx, key, func(tx *redis.Tx, job *Job) error {
		if job == nil {
			return nil
		}
		if streamID != "" && job.StreamID != streamID {
			return ErrSuperseded
		}
		job.Status = status
		job.UpdatedAt = t.now()
		payload, err := json.Marshal(job)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, jobKey(key), payload, t.terminalTTL)
			pipe.Expire(ctx, contentKey(key), t.terminalTTL)
			return nil
		})
		return err
	})
}

// AppendContent はリプレイ用バッファに追記し、バッファと記録の TTL を延長します。
// 記録がない（期限切れ・未開始）場合は、記録より長生きするバッファを作らないよう何もしません。
func (t *Tracker) AppendContent(ctx context.Context, key Key, streamID string, chunk string) error {
	if chunk == "" {
		return nil
	}
	return t.watch(ctx, key, func(tx *redis.Tx, job *Job) error {
		if job == nil {
			return nil
		}
		if streamID != "" && job.StreamID != streamID {
			return ErrSuperseded
		}
		ttl := t.activeTTL
		if job.Status.Terminal() {
			ttl = t.terminalTTL
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Append(ctx, contentKey(key), chunk)
			pipe.Expire(ctx, contentKey(key), ttl)
			pipe.Expire(ctx, jobKey(key), ttl)
			return nil
		})
		return err
	})
}

// ReadContent はバッファの内容を返します。存在しない場合 ok は false です。
func (t *Tracker) ReadContent(ctx context.Context, key Key) (string, bool, error) {
	data, err := t.rdb.Get(ctx, contentKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return data, true, nil
}

// ReadJob は記録を取得します。存在しない場合は nil を返します。
func (t *Tracker) ReadJob(ctx context.Context, key Key) (*Job, error) {
	data, err := t.rdb.Get(ctx, jobKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Clear は記録とバッファを削除します。
func (t *Tracker) Clear(ctx context.Context, key Key) error {
	return t.rdb.Del(ctx, jobKey(key), contentKey(key)).Err()
}

func (t *Tracker) watch(ctx context.Context, key Key, fn func(tx *redis.Tx, job *Job) error) error {
	if err := key.Validate(); err != nil {
		return err
	}
	for i := 0; i < maxTxRetries; i++ {
		err := t.rdb.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, jobKey(key)).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return fn(tx, nil)
				}
				return err
			}
			var job Job
			if err := json.Unmarshal(data, &job); err != nil {
				return err
			}
			return fn(tx, &job)
		}, jobKey(key))
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("stream %s: too much contention", key)
}

func jobKey(key Key) string {
	return streamKeyPrefix + key.String()
}

func contentKey(key Key) string {
	return streamKeyPrefix + key.String() + contentKeySuffix
}
