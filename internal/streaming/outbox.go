package streaming

import (
	"context"
	"io"
	"sync"
)

// Outbox はプロデューサーと HTTP 書き込みの間の有界キューです。
// クライアントが切断すると Detach され、以降の Push は書き込まれずに捨てられます。
type Outbox struct {
	frames   chan []byte
	detached chan struct{}
	once     sync.Once
}

// NewOutbox は容量 size の Outbox を作成します。
func NewOutbox(size int) *Outbox {
	if size <= 0 {
		size = 1
	}
	return &Outbox{
		frames:   make(chan []byte, size),
		detached: make(chan struct{}),
	}
}

// Push はフレームをキューに積みます。切断済みなら false を返し、ブロックしません。
func (o *Outbox) Push(frame []byte) bool {
	select {
	case <-o.detached:
		return false
	default:
	}
	select {
	case o.frames <- frame:
		return true
	case <-o.detached:
		return false
	}
}

// Close はこれ以上フレームが来ないことを書き込み側へ伝えます。プロデューサーだけが呼びます。
func (o *Outbox) Close() {
	close(o.frames)
}

// Detach は書き込み側が離脱したことを記録します。
func (o *Outbox) Detach() {
	o.once.Do(func() { close(o.detached) })
}

// Detached は Detach 後に閉じられます。
func (o *Outbox) Detached() <-chan struct{} {
	return o.detached
}

// Drain はキューが閉じられるか ctx が終わるまでフレームを w へ書き出します。
// ctx の終了と書き込みエラーはクライアントの離脱として扱います。
func (o *Outbox) Drain(ctx context.Context, w io.Writer, flush func()) error {
	for {
		select {
		case frame, ok := <-o.frames:
			if !ok {
				return nil
			}
			if _, err := w.Write(frame); err != nil {
				o.Detach()
				return err
			}
			if flush != nil {
				flush()
			}
		case <-ctx.Done():
			o.Detach()
			return ctx.Err()
		}
	}
}
