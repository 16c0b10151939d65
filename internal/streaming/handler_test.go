package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/prepstream/internal/auth"
	"github.com/yourusername/prepstream/internal/generation"
	"github.com/yourusername/prepstream/internal/interview"
	"github.com/yourusername/prepstream/internal/streams"
	"github.com/yourusername/prepstream/internal/users"
)

type stubScheduler struct {
	mu    sync.Mutex
	tasks []BackgroundTask
	err   error
}

func (s *stubScheduler) Schedule(_ context.Context, task BackgroundTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.tasks = append(s.tasks, task)
	return nil
}

func newTestRouter(svc *Service, scheduler Scheduler, userID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(auth.ContextUserKey, userID)
		c.Next()
	})
	group := r.Group("/api/interviews/:id/modules/:module")
	group.POST("/generate", GenerateHandler(svc, HandlerOptions{Scheduler: scheduler}))
	group.GET("/stream", StatusHandler(svc))
	group.DELETE("/stream", DismissHandler(svc))
	group.GET("/stream/content", ContentHandler(svc))
	return r
}

func serve(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	r.ServeHTTP(rec, req)
	return rec
}

func decodeStatus(t *testing.T, rec *httptest.ResponseRecorder) StatusView {
	t.Helper()
	if rec.Code != http.StatusOK {
		t.Fatalf("status endpoint returned %d body=%s", rec.Code, rec.Body.String())
	}
	var view StatusView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	return view
}

func TestGenerateHandlerStreamsAndReplays(t *testing.T) {
	f := newFixture(t, generation.MockDriver{})
	router := newTestRouter(f.svc, nil, testOwner)

	rec := serve(router, http.MethodPost, "/api/interviews/ivw1/modules/mcqs/generate", `{"count":3}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("generate returned %d body=%s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("Content-Type = %q", ct)
	}
	streamID := rec.Header().Get(StreamIDHeader)
	if streamID == "" {
		t.Fatal("missing stream id header")
	}
	streamed := rec.Body.String()

	events, err := ParseEvents([]byte(streamed))
	if err != nil {
		t.Fatalf("parse events: %v", err)
	}
	if len(events) < 3 {
		t.Fatalf("got %d events: %#v", len(events), events)
	}
	for _, ev := range events[:len(events)-2] {
		if ev.Type != EventContent || ev.Module != "mcqs" {
			t.Fatalf("unexpected leading event %#v", ev)
		}
	}
	complete := events[len(events)-2]
	if complete.Type != EventComplete || events[len(events)-1].Type != EventDone {
		t.Fatalf("stream should end with complete, done: %#v", events)
	}
	var items []interview.MCQ
	if err := json.Unmarshal(complete.Data, &items); err != nil || len(items) != 3 {
		t.Fatalf("complete data = %s (err %v)", complete.Data, err)
	}

	view := decodeStatus(t, serve(router, http.MethodGet, "/api/interviews/ivw1/modules/mcqs/stream", ""))
	if view.Status != streams.StatusCompleted || view.StreamID != streamID || view.CreatedAt == 0 {
		t.Fatalf("unexpected status view: %#v", view)
	}

	rec = serve(router, http.MethodGet, "/api/interviews/ivw1/modules/mcqs/stream/content", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("content returned %d", rec.Code)
	}
	if got := rec.Header().Get(StreamStatusHeader); got != string(streams.StatusCompleted) {
		t.Fatalf("%s = %q", StreamStatusHeader, got)
	}
	if rec.Body.String() != streamed {
		t.Fatalf("replay differs from live stream:\nlive:   %q\nreplay: %q", streamed, rec.Body.String())
	}
}

func TestGenerateHandlerQuotaExceeded(t *testing.T) {
	f := newFixture(t, generation.MockDriver{})
	f.quota.err = users.ErrQuotaExceeded
	router := newTestRouter(f.svc, nil, testOwner)

	rec := serve(router, http.MethodPost, "/api/interviews/ivw1/modules/topics/generate", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body["code"] != "QUOTA_EXCEEDED" || body["error"] == "" {
		t.Fatalf("unexpected error body: %v", body)
	}

	view := decodeStatus(t, serve(router, http.MethodGet, "/api/interviews/ivw1/modules/topics/stream", ""))
	if view.Status != streams.StatusNone {
		t.Fatalf("rejected request left a stream record: %#v", view)
	}
}

func TestGenerateHandlerRejectsBeforeStreaming(t *testing.T) {
	tests := []struct {
		name   string
		userID string
		path   string
		body   string
		want   int
	}{
		{"other owner", "intruder", "/api/interviews/ivw1/modules/mcqs/generate", "", http.StatusForbidden},
		{"unknown module", testOwner, "/api/interviews/ivw1/modules/essays/generate", "", http.StatusBadRequest},
		{"missing interview", testOwner, "/api/interviews/missing/modules/mcqs/generate", "", http.StatusNotFound},
		{"bad body", testOwner, "/api/interviews/ivw1/modules/mcqs/generate", "{", http.StatusBadRequest},
		{"style required", testOwner, "/api/interviews/ivw1/modules/topic-style/generate", `{"topicId":"go-channels"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, generation.MockDriver{})
			router := newTestRouter(f.svc, nil, tt.userID)

			rec := serve(router, http.MethodPost, tt.path, tt.body)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d body=%s", rec.Code, tt.want, rec.Body.String())
			}
			if strings.HasPrefix(rec.Header().Get("Content-Type"), "text/event-stream") {
				t.Fatal("error response was sent as an event stream")
			}
		})
	}
}

func TestStatusHandler(t *testing.T) {
	f := newFixture(t, generation.MockDriver{})
	router := newTestRouter(f.svc, nil, testOwner)

	view := decodeStatus(t, serve(router, http.MethodGet, "/api/interviews/ivw1/modules/rapidfire/stream", ""))
	if view.Status != streams.StatusNone || view.StreamID != "" {
		t.Fatalf("unexpected status for idle module: %#v", view)
	}

	rec := serve(router, http.MethodGet, "/api/interviews/ivw1/modules/essays/stream", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown module status = %d", rec.Code)
	}

	rec = serve(router, http.MethodGet, "/api/interviews/ivw1/modules/rapidfire/stream/content", "")
	if rec.Code != http.StatusOK || rec.Body.Len() != 0 || rec.Header().Get(StreamStatusHeader) != "none" {
		t.Fatalf("content for idle module: %d %q %q", rec.Code, rec.Body.String(), rec.Header().Get(StreamStatusHeader))
	}
}

func TestGenerateHandlerBackgroundMode(t *testing.T) {
	f := newFixture(t, generation.MockDriver{})
	scheduler := &stubScheduler{}
	router := newTestRouter(f.svc, scheduler, testOwner)

	rec := serve(router, http.MethodPost, "/api/interviews/ivw1/modules/rapidfire/generate?mode=background", `{"count":2}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var accepted struct {
		StreamID string `json:"streamId"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &accepted); err != nil || accepted.StreamID == "" {
		t.Fatalf("decode accepted body: %s (err %v)", rec.Body.String(), err)
	}
	if len(scheduler.tasks) != 1 || scheduler.tasks[0].StreamID != accepted.StreamID {
		t.Fatalf("scheduled tasks = %#v", scheduler.tasks)
	}

	view := decodeStatus(t, serve(router, http.MethodGet, "/api/interviews/ivw1/modules/rapidfire/stream", ""))
	if view.Status != streams.StatusActive || view.StreamID != accepted.StreamID {
		t.Fatalf("status before worker ran = %#v", view)
	}

	if err := f.svc.RunBackground(context.Background(), scheduler.tasks[0]); err != nil {
		t.Fatalf("RunBackground returned error: %v", err)
	}
	view = decodeStatus(t, serve(router, http.MethodGet, "/api/interviews/ivw1/modules/rapidfire/stream", ""))
	if view.Status != streams.StatusCompleted {
		t.Fatalf("status after worker ran = %#v", view)
	}
	doc, _ := f.docs.Get(context.Background(), testInterview)
	if len(doc.RapidFire) != 2 {
		t.Fatalf("persisted %d rapid fire items, want 2", len(doc.RapidFire))
	}
}

func TestGenerateHandlerBackgroundScheduleFailure(t *testing.T) {
	f := newFixture(t, generation.MockDriver{})
	router := newTestRouter(f.svc, &stubScheduler{err: errors.New("redis unavailable")}, testOwner)

	rec := serve(router, http.MethodPost, "/api/interviews/ivw1/modules/mcqs/generate?mode=background", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	view := decodeStatus(t, serve(router, http.MethodGet, "/api/interviews/ivw1/modules/mcqs/stream", ""))
	if view.Status != streams.StatusError {
		t.Fatalf("status after failed schedule = %#v", view)
	}
}

func TestGenerateHandlerBackgroundUnavailable(t *testing.T) {
	f := newFixture(t, generation.MockDriver{})
	router := newTestRouter(f.svc, nil, testOwner)

	rec := serve(router, http.MethodPost, "/api/interviews/ivw1/modules/mcqs/generate?mode=background", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if f.quota.authorized != 0 {
		t.Fatal("quota consumed without a scheduler")
	}
}

func TestDismissHandler(t *testing.T) {
	f := newFixture(t, generation.MockDriver{})
	ctx := context.Background()
	key := streams.Key{ParentID: testInterview, Module: "mcqs"}
	path := "/api/interviews/ivw1/modules/mcqs/stream"

	if _, err := f.tracker.StartJob(ctx, "s1", key, testOwner); err != nil {
		t.Fatalf("StartJob returned error: %v", err)
	}
	if err := f.tracker.AppendContent(ctx, key, "s1", "data:{}\n\n"); err != nil {
		t.Fatalf("AppendContent returned error: %v", err)
	}

	owner := newTestRouter(f.svc, nil, testOwner)
	if rec := serve(owner, http.MethodDelete, path, ""); rec.Code != http.StatusConflict || !strings.Contains(rec.Body.String(), "STREAM_ACTIVE") {
		t.Fatalf("dismiss active stream = %d %s", rec.Code, rec.Body.String())
	}

	if err := f.tracker.MarkStatus(ctx, key, "s1", streams.StatusCompleted); err != nil {
		t.Fatalf("MarkStatus returned error: %v", err)
	}
	other := newTestRouter(f.svc, nil, "user-2")
	if rec := serve(other, http.MethodDelete, path, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("dismiss by another user = %d", rec.Code)
	}
	if view := decodeStatus(t, serve(owner, http.MethodGet, path, "")); view.Status != streams.StatusCompleted {
		t.Fatalf("another user's dismiss removed the record: %#v", view)
	}

	if rec := serve(owner, http.MethodDelete, path, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("dismiss completed stream = %d %s", rec.Code, rec.Body.String())
	}
	if view := decodeStatus(t, serve(owner, http.MethodGet, path, "")); view.Status != streams.StatusNone {
		t.Fatalf("status after dismiss = %#v", view)
	}
	if _, ok, err := f.tracker.ReadContent(ctx, key); err != nil || ok {
		t.Fatalf("buffer after dismiss: ok=%v err=%v", ok, err)
	}
	if rec := serve(owner, http.MethodDelete, path, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("dismiss with no record = %d", rec.Code)
	}
}
