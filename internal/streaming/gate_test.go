package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
)

func partialN(n int) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"items":[{"n":%d}]}`, n))
}

func TestGateForwardsFirstAndHoldsWithinInterval(t *testing.T) {
	clk := testclock.NewClock(time.Unix(0, 0))
	gate := NewGate(clk, 100*time.Millisecond)

	if gate.Due() != nil {
		t.Fatal("Due should be nil before anything is pending")
	}
	if _, ok := gate.Offer(partialN(1)); !ok {
		t.Fatal("first partial should be forwarded immediately")
	}

	clk.Advance(30 * time.Millisecond)
	if _, ok := gate.Offer(partialN(2)); ok {
		t.Fatal("partial within interval should be held")
	}
	clk.Advance(30 * time.Millisecond)
	if _, ok := gate.Offer(partialN(3)); ok {
		t.Fatal("partial within interval should be held")
	}
	if gate.Due() == nil {
		t.Fatal("Due should be armed while a partial is pending")
	}

	clk.Advance(40 * time.Millisecond)
	select {
	case <-gate.Due():
	default:
		t.Fatal("Due did not fire after the interval elapsed")
	}
	v, ok := gate.Flush()
	if !ok || string(v) != string(partialN(3)) {
		t.Fatalf("Flush = %s, %v; want latest pending partial", v, ok)
	}
	if _, ok := gate.Flush(); ok {
		t.Fatal("second Flush should have nothing pending")
	}
	if gate.Due() != nil {
		t.Fatal("Due should be cleared after Flush")
	}
}

func TestGateForwardsAfterIntervalWithoutTimer(t *testing.T) {
	clk := testclock.NewClock(time.Unix(0, 0))
	gate := NewGate(clk, 100*time.Millisecond)

	gate.Offer(partialN(1))
	clk.Advance(150 * time.Millisecond)
	if v, ok := gate.Offer(partialN(2)); !ok || string(v) != string(partialN(2)) {
		t.Fatalf("Offer after interval = %s, %v", v, ok)
	}
}

// 10ms ごとに1秒間部分値が届く場合、送出回数は ceil(D/T)+1 以下で、最後の送出は最後の部分値になる。
func TestGateCoalescingBound(t *testing.T) {
	const (
		interval = 120 * time.Millisecond
		step     = 10 * time.Millisecond
		total    = time.Second
	)
	clk := testclock.NewClock(time.Unix(0, 0))
	gate := NewGate(clk, interval)

	var (
		sent int
		last json.RawMessage
	)
	n := int(total / step)
	for i := 0; i < n; i++ {
		if i > 0 {
			clk.Advance(step)
		}
		select {
		case <-gate.Due():
			if v, ok := gate.Flush(); ok {
				sent++
				last = v
			}
		default:
		}
		if v, ok := gate.Offer(partialN(i)); ok {
			sent++
			last = v
		}
	}
	if v, ok := gate.Flush(); ok {
		sent++
		last = v
	}

	bound := int((total+interval-1)/interval) + 1
	if sent > bound {
		t.Fatalf("sent %d content events, want at most %d", sent, bound)
	}
	if sent < 2 {
		t.Fatalf("sent %d content events, expected throttled forwarding", sent)
	}
	if string(last) != string(partialN(n-1)) {
		t.Fatalf("last forwarded = %s, want %s", last, partialN(n-1))
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestOutboxDetachesOnWriteError(t *testing.T) {
	out := NewOutbox(2)
	out.Push([]byte("data:1\n\n"))

	if err := out.Drain(context.Background(), failingWriter{}, nil); err == nil {
		t.Fatal("expected write error")
	}
	select {
	case <-out.Detached():
	default:
		t.Fatal("outbox should be detached after write error")
	}
	for i := 0; i < 5; i++ {
		if out.Push([]byte("x")) {
			t.Fatal("Push after detach should be dropped")
		}
	}
	out.Close()
}

func TestOutboxDrainsUntilClosed(t *testing.T) {
	out := NewOutbox(4)
	out.Push([]byte("a"))
	out.Push([]byte("b"))
	out.Close()

	var flushed int
	pr, pw := io.Pipe()
	go func() {
		_ = out.Drain(context.Background(), pw, func() { flushed++ })
		_ = pw.Close()
	}()
	got, err := io.ReadAll(pr)
	if err != nil {
		t.Fatalf("read drained frames: %v", err)
	}
	if string(got) != "ab" || flushed != 2 {
		t.Fatalf("drained %q with %d flushes", got, flushed)
	}
}
