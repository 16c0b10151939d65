package generation

import (
	"context"
	"encoding/json"
	"fmt"
)

// Emit は部分値を1件送出します。ctx が終了していれば false を返します。
type Emit func(partial json.RawMessage) bool

// Stream は一度だけ読める部分値の列と、列の終了後に確定する最終値を持ちます。
type Stream struct {
	partials chan json.RawMessage
	done     chan struct{}
	result   *Result
	err      error
}

// Run は fn をゴルーチンで実行し、その部分値と戻り値を Stream として公開します。
func Run(ctx context.Context, fn func(ctx context.Context, emit Emit) (*Result, error)) *Stream {
	s := &Stream{
		partials: make(chan json.RawMessage, 1),
		done:     make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		defer close(s.partials)
		defer func() {
			if r := recover(); r != nil {
				s.result = nil
				s.err = fmt.Errorf("generation panicked: %v", r)
			}
		}()

		emit := func(partial json.RawMessage) bool {
			select {
			case s.partials <- partial:
				return true
			case <-ctx.Done():
				return false
			}
		}
		s.result, s.err = fn(ctx, emit)
	}()
	return s
}

// Failed は即座に失敗する Stream を返します。
func Failed(err error) *Stream {
	return Run(context.Background(), func(context.Context, Emit) (*Result, error) {
		return nil, err
	})
}

// Partials は部分値のチャネルです。生成が終わると閉じられます。
func (s *Stream) Partials() <-chan json.RawMessage {
	return s.partials
}

// Done は最終値が確定すると閉じられます。
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Result は最終値を待って返します。最終値なしで終わった場合はエラーです。
func (s *Stream) Result(ctx context.Context) (*Result, error) {
	select {
	case <-s.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if s.err != nil {
		return nil, s.err
	}
	if s.result == nil || len(s.result.Object) == 0 {
		return nil, ErrNoFinalValue
	}
	return s.result, nil
}
