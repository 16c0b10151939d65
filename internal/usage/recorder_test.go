package usage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/yourusername/prepstream/internal/generation"
)

type failingRepo struct{}

func (failingRepo) Insert(context.Context, Entry) error { return errors.New("db down") }
func (failingRepo) ListByUser(context.Context, string, int) ([]Entry, error) {
	return nil, nil
}

func TestRecorderLogsAndPersists(t *testing.T) {
	var buf bytes.Buffer
	repo := NewMemoryRepository()
	metrics := NewCollector()
	rec := NewRecorder(repo, metrics, zerolog.New(&buf))

	ctx := context.Background()
	rec.LogRequest(ctx, Entry{
		UserID:      "u1",
		InterviewID: "ivw1",
		Module:      "mcqs",
		StreamID:    "s1",
		Model:       "gpt-4o-mini",
		Usage:       generation.Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
		Latency:     2 * time.Second,
		TTFT:        300 * time.Millisecond,
	})
	rec.LogError(ctx, Entry{UserID: "u1", InterviewID: "ivw1", Module: "mcqs", StreamID: "s2"}, errors.New("upstream timeout"))

	entries, err := repo.ListByUser(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("ListByUser returned error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].StreamID != "s2" || !entries[0].Failed() || entries[0].Error != "upstream timeout" {
		t.Fatalf("unexpected newest entry: %#v", entries[0])
	}
	if entries[1].Failed() || entries[1].CreatedAt.IsZero() {
		t.Fatalf("unexpected oldest entry: %#v", entries[1])
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %q", buf.String())
	}
	var first map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if first["message"] != "ai request" || first["streamId"] != "s1" || first["ttft"] == nil {
		t.Fatalf("unexpected log line: %v", first)
	}

	if got := testutil.ToFloat64(metrics.requests.WithLabelValues("mcqs", "completed")); got != 1 {
		t.Fatalf("completed requests = %v", got)
	}
	if got := testutil.ToFloat64(metrics.requests.WithLabelValues("mcqs", "error")); got != 1 {
		t.Fatalf("error requests = %v", got)
	}
	if got := testutil.ToFloat64(metrics.tokens.WithLabelValues("completion", "false")); got != 20 {
		t.Fatalf("completion tokens = %v", got)
	}
}

func TestRecorderSwallowsRepositoryErrors(t *testing.T) {
	var buf bytes.Buffer
	rec := NewRecorder(failingRepo{}, nil, zerolog.New(&buf))
	rec.LogRequest(context.Background(), Entry{StreamID: "s1"})
	if !strings.Contains(buf.String(), "persist usage entry") {
		t.Fatalf("expected persistence failure to be logged: %s", buf.String())
	}
}

func TestCollectorRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector()
	if err := reg.Register(c); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	c.StreamStarted()
	c.EventProduced("content")
	c.TimeToFirstToken("topics", 0.2)
	c.StreamFinished()

	if got := testutil.ToFloat64(c.activeStreams); got != 0 {
		t.Fatalf("active streams = %v", got)
	}
	if got := testutil.ToFloat64(c.events.WithLabelValues("content")); got != 1 {
		t.Fatalf("content events = %v", got)
	}
}
