package client

import (
	"context"
	"errors"
	"time"

	"github.com/juju/clock"

	"github.com/yourusername/prepstream/internal/streaming"
	"github.com/yourusername/prepstream/internal/streams"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultPollCeiling  = 5 * time.Minute
)

// ErrPollTimeout は上限時間内に終了状態にならなかったことを表します。
var ErrPollTimeout = errors.New("stream did not reach a terminal status before the poll ceiling")

// StatusFunc は状態を1回取得します。
type StatusFunc func(ctx context.Context) (streaming.StatusView, error)

// Poller は active の間、一定間隔で状態を取得し直します。
type Poller struct {
	Clock    clock.Clock
	Interval time.Duration
	Ceiling  time.Duration
}

// Wait は状態が active でなくなるまで待ち、最後に取得した状態を返します。
// completed / error / none のいずれかで終わります。
func (p Poller) Wait(ctx context.Context, fetch StatusFunc) (streaming.StatusView, error) {
	clk := p.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ceiling := p.Ceiling
	if ceiling <= 0 {
		ceiling = DefaultPollCeiling
	}

	deadline := clk.Now().Add(ceiling)
	for {
		view, err := fetch(ctx)
		if err != nil {
			return view, err
		}
		if view.Status != streams.StatusActive {
			return view, nil
		}
		if !clk.Now().Before(deadline) {
			return view, ErrPollTimeout
		}
		select {
		case <-clk.After(interval):
		case <-ctx.Done():
			return view, ctx.Err()
		}
	}
}
