package interview

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/yourusername/prepstream/internal/generation"
)

func TestModuleByKey(t *testing.T) {
	for _, m := range Modules() {
		got, err := ModuleByKey(string(m.Key()))
		if err != nil {
			t.Fatalf("ModuleByKey(%q) error: %v", m.Key(), err)
		}
		if got.Key() != m.Key() {
			t.Fatalf("ModuleByKey(%q) = %q", m.Key(), got.Key())
		}
	}
	if _, err := ModuleByKey("flashcards"); !errors.Is(err, ErrUnknownModule) {
		t.Fatalf("expected ErrUnknownModule, got %v", err)
	}
}

func TestListPrepareCount(t *testing.T) {
	cases := []struct {
		name    string
		module  Module
		count   int
		want    int
		wantErr bool
	}{
		{name: "default topics", module: Topics, count: 0, want: 5},
		{name: "default rapidfire", module: RapidFire, count: 0, want: 10},
		{name: "explicit", module: MCQs, count: 7, want: 7},
		{name: "upper bound", module: MCQs, count: 20, want: 20},
		{name: "too many", module: MCQs, count: 21, wantErr: true},
		{name: "negative", module: Topics, count: -1, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := tc.module.Prepare(&Interview{}, Params{Count: tc.count, TopicID: "ignored"})
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Prepare returned error: %v", err)
			}
			if p.Count != tc.want {
				t.Fatalf("Count = %d, want %d", p.Count, tc.want)
			}
			if p.TopicID != "" {
				t.Fatalf("list module kept TopicID %q", p.TopicID)
			}
		})
	}
}

func TestTopicStylePrepare(t *testing.T) {
	doc := &Interview{Topics: []Topic{{ID: "go-channels", Title: "Channels", Content: "..."}}}

	p, err := TopicStyle.Prepare(doc, Params{TopicID: "go-channels", Style: "Like I'm Five"})
	if err != nil {
		t.Fatalf("Prepare returned error: %v", err)
	}
	if p.Style != "like-i-m-five" {
		t.Fatalf("unexpected style: %q", p.Style)
	}

	if _, err := TopicStyle.Prepare(doc, Params{TopicID: "missing", Style: "concise"}); !errors.Is(err, ErrTopicNotFound) {
		t.Fatalf("expected ErrTopicNotFound, got %v", err)
	}
	if _, err := TopicStyle.Prepare(doc, Params{TopicID: "go-channels"}); err == nil {
		t.Fatal("expected error for missing style")
	}
}

func TestListExtractPartial(t *testing.T) {
	got, ok := MCQs.ExtractPartial(json.RawMessage(`{"items":[{"id":"a"}]}`))
	if !ok || string(got) != `[{"id":"a"}]` {
		t.Fatalf("unexpected partial: %s (%v)", got, ok)
	}
	got, ok = MCQs.ExtractPartial(json.RawMessage(`{}`))
	if !ok || string(got) != `[]` {
		t.Fatalf("unexpected empty partial: %s (%v)", got, ok)
	}
	if _, ok := MCQs.ExtractPartial(json.RawMessage(`{"items":`)); ok {
		t.Fatal("expected invalid partial to be rejected")
	}
}

func TestFinalizeDropsCollisions(t *testing.T) {
	raw := json.RawMessage(`{"items":[
		{"id":"MCQ A","question":"dup of existing","options":["x","y"],"correctAnswer":0},
		{"id":"mcq-c","question":"first c","options":["x","y"],"correctAnswer":1},
		{"id":"mcq-c","question":"second c","options":["x","y"],"correctAnswer":1},
		{"question":"What is a goroutine?","options":["x","y"],"correctAnswer":0},
		{"id":"bad","question":"","options":["x"],"correctAnswer":3}
	]}`)

	fin, err := MCQs.Finalize("ivw1", raw, []string{"mcq-a", "mcq-b"}, Params{Count: 10})
	if err != nil {
		t.Fatalf("Finalize returned error: %v", err)
	}

	var items []MCQ
	if err := json.Unmarshal(fin.Payload, &items); err != nil {
		t.Fatalf("payload decode: %v", err)
	}
	if len(items) != 2 || fin.Items != 2 {
		t.Fatalf("unexpected items: %#v", items)
	}
	if items[0].ID != "mcq-c" || items[0].Question != "first c" {
		t.Fatalf("unexpected first item: %#v", items[0])
	}
	if items[1].ID != "what-is-a-goroutine" {
		t.Fatalf("derived id = %q", items[1].ID)
	}
}

func TestFinalizeCapsToCount(t *testing.T) {
	raw := json.RawMessage(`{"items":[
		{"id":"a","question":"q","answer":"a"},
		{"id":"b","question":"q","answer":"a"},
		{"id":"c","question":"q","answer":"a"}
	]}`)
	fin, err := RapidFire.Finalize("ivw1", raw, nil, Params{Count: 2})
	if err != nil {
		t.Fatalf("Finalize returned error: %v", err)
	}
	if fin.Items != 2 {
		t.Fatalf("Items = %d, want 2", fin.Items)
	}
}

func TestFinalizeMalformed(t *testing.T) {
	if _, err := Topics.Finalize("ivw1", json.RawMessage(`{"items":"nope"}`), nil, Params{Count: 5}); err == nil {
		t.Fatal("expected decode error")
	}
	if _, err := TopicStyle.Finalize("ivw1", json.RawMessage(`{"content":"  "}`), nil, Params{TopicID: "t", Style: "s"}); err == nil {
		t.Fatal("expected error for empty content")
	}
}

func TestAddMoreTwiceNeverCollides(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	seed := &Interview{
		ID:      "ivw1",
		OwnerID: "u1",
		Topics: []Topic{
			{ID: "goroutines", Title: "Goroutines", Content: "..."},
			{ID: "channels", Title: "Channels", Content: "..."},
		},
	}
	if err := repo.Create(ctx, seed); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	doc, err := repo.Get(ctx, "ivw1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	existing := Topics.ExistingIDs(doc)

	// 同じ既存集合・同じモデル出力で2回実行する
	raw := json.RawMessage(`{"items":[
		{"id":"Channels","title":"Channels again","content":"..."},
		{"id":"select","title":"Select","content":"..."},
		{"id":"select","title":"Select twice","content":"..."},
		{"id":"mutexes","title":"Mutexes","content":"..."}
	]}`)
	for run := 0; run < 2; run++ {
		fin, err := Topics.Finalize("ivw1", raw, existing, Params{Count: 5})
		if err != nil {
			t.Fatalf("run %d Finalize returned error: %v", run, err)
		}
		if err := fin.Persist(ctx, repo); err != nil {
			t.Fatalf("run %d Persist returned error: %v", run, err)
		}
	}

	doc, err = repo.Get(ctx, "ivw1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	seen := make(map[string]bool)
	for _, topic := range doc.Topics {
		if seen[topic.ID] {
			t.Fatalf("duplicate topic id %q in %#v", topic.ID, doc.Topics)
		}
		seen[topic.ID] = true
	}
	if len(doc.Topics) != 4 {
		t.Fatalf("expected 4 topics, got %#v", doc.Topics)
	}
}

func TestTopicStylePersist(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	if err := repo.Create(ctx, &Interview{ID: "ivw1", Topics: []Topic{{ID: "t1", Title: "T", Content: "c"}}}); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	fin, err := TopicStyle.Finalize("ivw1", json.RawMessage(`{"content":"short version"}`), nil, Params{TopicID: "t1", Style: "concise"})
	if err != nil {
		t.Fatalf("Finalize returned error: %v", err)
	}
	if err := fin.Persist(ctx, repo); err != nil {
		t.Fatalf("Persist returned error: %v", err)
	}

	doc, _ := repo.Get(ctx, "ivw1")
	if got := doc.Topics[0].Styles["concise"]; got != "short version" {
		t.Fatalf("style content = %q", got)
	}

	var payload map[string]string
	if err := json.Unmarshal(fin.Payload, &payload); err != nil {
		t.Fatalf("payload decode: %v", err)
	}
	if payload["topicId"] != "t1" || payload["style"] != "concise" {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestPromptsMentionExisting(t *testing.T) {
	gctx := generation.NewContext(generation.Context{Role: "Backend Engineer"}, []string{"goroutines"})
	p := Topics.Prompt(&Interview{}, gctx, Params{Count: 3})
	if p.System == "" || p.User == "" {
		t.Fatalf("empty prompt: %#v", p)
	}
	if !strings.Contains(p.User, "goroutines") || !strings.Contains(p.User, "Backend Engineer") {
		t.Fatalf("prompt lacks context: %s", p.User)
	}
}

func TestNormalizeID(t *testing.T) {
	cases := map[string]string{
		"  Hello World ": "hello-world",
		"MCQ_01":         "mcq-01",
		"--a--b--":       "a-b",
		"":               "",
	}
	for in, want := range cases {
		if got := NormalizeID(in); got != want {
			t.Fatalf("NormalizeID(%q) = %q, want %q", in, got, want)
		}
	}
}
