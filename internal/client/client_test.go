package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"

	"github.com/yourusername/prepstream/internal/streaming"
	"github.com/yourusername/prepstream/internal/streams"
)

func frames(t *testing.T, events ...streaming.Event) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, ev := range events {
		frame, err := ev.Frame()
		if err != nil {
			t.Fatalf("encode frame: %v", err)
		}
		buf.Write(frame)
	}
	return buf.Bytes()
}

var sampleEvents = []streaming.Event{
	{Type: streaming.EventContent, Module: "mcqs", Data: json.RawMessage(`[{"id":"a"}]`)},
	{Type: streaming.EventContent, Module: "mcqs", Data: json.RawMessage(`[{"id":"a"},{"id":"b"}]`)},
	{Type: streaming.EventComplete, Module: "mcqs", Data: json.RawMessage(`[{"id":"a"},{"id":"b"}]`)},
	{Type: streaming.EventDone, Module: "mcqs"},
}

func TestReadAllStopsAtDone(t *testing.T) {
	raw := frames(t, sampleEvents...)
	raw = append(raw, frames(t, streaming.Event{Type: streaming.EventContent, Module: "mcqs"})...)

	events, err := ReadAll(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("ReadAll returned error: %v", err)
	}
	if len(events) != len(sampleEvents) {
		t.Fatalf("got %d events, want %d", len(events), len(sampleEvents))
	}
	for i, ev := range events {
		if ev.Type != sampleEvents[i].Type || string(ev.Data) != string(sampleEvents[i].Data) {
			t.Fatalf("event %d = %#v, want %#v", i, ev, sampleEvents[i])
		}
	}
}

func TestEventReaderHandlesTruncatedStream(t *testing.T) {
	raw := frames(t, sampleEvents[:2]...)

	events, err := ReadAll(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("ReadAll returned error: %v", err)
	}
	if len(events) != 2 || events[1].Type != streaming.EventContent {
		t.Fatalf("unexpected events: %#v", events)
	}
}

func TestPollerWaitsForTerminalStatus(t *testing.T) {
	clk := testclock.NewClock(time.Unix(0, 0))
	statuses := []streams.Status{streams.StatusActive, streams.StatusActive, streams.StatusCompleted}
	var calls int
	fetch := func(context.Context) (streaming.StatusView, error) {
		s := statuses[calls]
		calls++
		return streaming.StatusView{Status: s, StreamID: "s1"}, nil
	}

	type result struct {
		view streaming.StatusView
		err  error
	}
	done := make(chan result, 1)
	go func() {
		view, err := Poller{Clock: clk}.Wait(context.Background(), fetch)
		done <- result{view, err}
	}()

	for i := 0; i < 2; i++ {
		if err := clk.WaitAdvance(DefaultPollInterval, time.Second, 1); err != nil {
			t.Fatalf("WaitAdvance: %v", err)
		}
	}
	res := <-done
	if res.err != nil || res.view.Status != streams.StatusCompleted {
		t.Fatalf("Wait = %#v, %v", res.view, res.err)
	}
	if calls != 3 {
		t.Fatalf("fetched %d times, want 3", calls)
	}
}

func TestPollerGivesUpAtCeiling(t *testing.T) {
	clk := testclock.NewClock(time.Unix(0, 0))
	fetch := func(context.Context) (streaming.StatusView, error) {
		return streaming.StatusView{Status: streams.StatusActive}, nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := Poller{Clock: clk, Interval: time.Second, Ceiling: 3 * time.Second}.Wait(context.Background(), fetch)
		done <- err
	}()
	for i := 0; i < 3; i++ {
		if err := clk.WaitAdvance(time.Second, time.Second, 1); err != nil {
			t.Fatalf("WaitAdvance: %v", err)
		}
	}
	if err := <-done; !errors.Is(err, ErrPollTimeout) {
		t.Fatalf("Wait returned %v, want ErrPollTimeout", err)
	}
}

func TestPollerStopsOnFetchError(t *testing.T) {
	boom := errors.New("boom")
	_, err := Poller{}.Wait(context.Background(), func(context.Context) (streaming.StatusView, error) {
		return streaming.StatusView{}, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Wait returned %v", err)
	}
}

// fakeAPI は状態が2回目の問い合わせで completed になるサーバーです。
type fakeAPI struct {
	mu       sync.Mutex
	polls    int
	buffered []byte
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/interviews/ivw1/modules/mcqs/stream", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Cookie") != "ps_session=abc" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"code":"UNAUTHORIZED","error":"ログインが必要です"}`))
			return
		}
		f.mu.Lock()
		f.polls++
		status := streams.StatusActive
		if f.polls > 2 {
			status = streams.StatusCompleted
		}
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(streaming.StatusView{Status: status, StreamID: "s1"})
	})
	mux.HandleFunc("/api/interviews/ivw1/modules/mcqs/stream/content", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set(streaming.StreamStatusHeader, "active")
		_, _ = w.Write(f.buffered)
	})
	mux.HandleFunc("/api/interviews/ivw1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"ivw1","mcqs":[{"id":"a"},{"id":"b"}]}`))
	})
	return mux
}

func TestResumeActiveStream(t *testing.T) {
	api := &fakeAPI{buffered: frames(t, sampleEvents[:2]...)}
	srv := httptest.NewServer(api.handler())
	defer srv.Close()

	c := &Client{
		BaseURL: srv.URL,
		Header:  http.Header{"Cookie": []string{"ps_session=abc"}},
		Poller:  Poller{Interval: time.Millisecond, Ceiling: time.Second},
	}
	resumed, err := c.Resume(context.Background(), "ivw1", "mcqs")
	if err != nil {
		t.Fatalf("Resume returned error: %v", err)
	}
	if resumed.Status.Status != streams.StatusCompleted {
		t.Fatalf("final status = %#v", resumed.Status)
	}
	if len(resumed.Events) != 2 {
		t.Fatalf("buffered events = %#v", resumed.Events)
	}
	if !strings.Contains(string(resumed.Interview), `"id":"b"`) {
		t.Fatalf("interview not re-fetched: %s", resumed.Interview)
	}
}

func TestClientReturnsAPIError(t *testing.T) {
	srv := httptest.NewServer((&fakeAPI{}).handler())
	defer srv.Close()

	c := &Client{BaseURL: srv.URL}
	_, err := c.Status(context.Background(), "ivw1", "mcqs")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized || apiErr.Code != "UNAUTHORIZED" {
		t.Fatalf("Status returned %v", err)
	}
}
