package streaming

import (
	"encoding/json"
	"time"

	"github.com/juju/clock"
)

// Gate は content イベントの送出間隔を interval 以上に保ちます。
// 間隔内に届いた部分値は保留され、後から届いた値で上書きされます。
type Gate struct {
	clock    clock.Clock
	interval time.Duration

	sent    bool
	last    time.Time
	pending json.RawMessage
	due     <-chan time.Time
}

// NewGate は Gate を作成します。
func NewGate(clk clock.Clock, interval time.Duration) *Gate {
	return &Gate{clock: clk, interval: interval}
}

// Offer は部分値を受け取り、今送出すべき値があれば返します。
func (g *Gate) Offer(v json.RawMessage) (json.RawMessage, bool) {
	now := g.clock.Now()
	if !g.sent || now.Sub(g.last) >= g.interval {
		g.mark(now)
		return v, true
	}
	g.pending = v
	if g.due == nil {
		g.due = g.clock.After(g.interval - now.Sub(g.last))
	}
	return nil, false
}

// Due は保留中の値を送出すべき時刻に発火します。保留が無ければ nil です。
func (g *Gate) Due() <-chan time.Time {
	return g.due
}

// Flush は保留中の値を間隔に関係なく取り出します。
func (g *Gate) Flush() (json.RawMessage, bool) {
	if g.pending == nil {
		g.due = nil
		return nil, false
	}
	v := g.pending
	g.mark(g.clock.Now())
	return v, true
}

func (g *Gate) mark(now time.Time) {
	g.sent = true
	g.last = now
	g.pending = nil
	g.due = nil
}
