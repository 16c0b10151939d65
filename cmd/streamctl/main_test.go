package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newStatusServer(t *testing.T, status string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/interviews/ivw1/modules/mcqs/stream", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Cookie") != "ps_session=tok" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"code":"UNAUTHORIZED","error":"ログインが必要です"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"` + status + `","streamId":"s1","createdAt":1}`))
	})
	mux.HandleFunc("/api/interviews/ivw1/modules/mcqs/stream/content", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Stream-Status", status)
		_, _ = w.Write([]byte("data:{\"type\":\"done\",\"module\":\"mcqs\"}\n\n"))
	})
	mux.HandleFunc("/api/interviews/ivw1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"ivw1"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRunCommands(t *testing.T) {
	tests := []struct {
		name     string
		status   string
		command  string
		session  string
		wantCode int
		wantOut  string
	}{
		{"status", "active", "status", "tok", 0, `"status":"active"`},
		{"content", "completed", "content", "tok", 0, `"type":"done"`},
		{"wait completed", "completed", "wait", "tok", 0, `"interview":{"id":"ivw1"}`},
		{"wait error", "error", "wait", "tok", 1, `"status":"error"`},
		{"unauthorized", "active", "status", "", 1, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newStatusServer(t, tt.status)
			var stdout, stderr bytes.Buffer
			args := []string{"--url", srv.URL, tt.command, "ivw1", "mcqs"}
			if tt.session != "" {
				args = append([]string{"--session", tt.session}, args...)
			}

			code := run(context.Background(), args, &stdout, &stderr)
			if code != tt.wantCode {
				t.Fatalf("exit code = %d, want %d (stderr=%s)", code, tt.wantCode, stderr.String())
			}
			if !strings.Contains(stdout.String(), tt.wantOut) {
				t.Fatalf("stdout = %s, want it to contain %s", stdout.String(), tt.wantOut)
			}
		})
	}
}

func TestRunUsageErrors(t *testing.T) {
	for _, args := range [][]string{
		{},
		{"status", "ivw1"},
		{"explode", "ivw1", "mcqs"},
	} {
		var stdout, stderr bytes.Buffer
		if code := run(context.Background(), args, &stdout, &stderr); code != 2 {
			t.Fatalf("run(%v) = %d, want 2", args, code)
		}
		if !strings.Contains(stderr.String(), "usage: streamctl") {
			t.Fatalf("usage not printed for %v: %s", args, stderr.String())
		}
	}
}
