package textshape

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func TestRules_Shape(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		age  float64
		want string
	}{
		{name: "child", text: "I went home. It rained.", age: 6, want: "Hi! I went home!  It rained!  I like talking. "},
		{name: "child boundary", text: "Yes.", age: 8, want: "Hi! Yes!  I like talking. "},
		{name: "adult", text: "I went home.", age: 35, want: "I went home."},
		{name: "just below elder", text: "Hello.", age: 69.9, want: "Hello."},
		{name: "elder", text: "Hello.", age: 70, want: "Hello. ... I have lived a long life."},
		{name: "empty child", text: "", age: 5, want: "Hi!  I like talking. "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Rules{}.Shape(context.Background(), tt.text, tt.age)
			if err != nil {
				t.Fatalf("Shape: %v", err)
			}
			if got != tt.want {
				t.Errorf("Shape(%q, %v) = %q, want %q", tt.text, tt.age, got, tt.want)
			}
		})
	}
}

// chatServer answers chat completion requests with reply, or with status
// when it is not 200.
func chatServer(t *testing.T, status int, reply string, seen *atomic.Value) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		if seen != nil {
			seen.Store(string(body))
		}
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"bad request","type":"invalid_request_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-test",
			"object":  "chat.completion",
			"created": 0,
			"model":   "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": reply},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewLLM_Validation(t *testing.T) {
	t.Parallel()
	if _, err := NewLLM("", "m"); err == nil {
		t.Error("empty api key accepted")
	}
	if _, err := NewLLM("k", ""); err == nil {
		t.Error("empty model accepted")
	}
}

func TestLLM_Shape(t *testing.T) {
	t.Parallel()

	var seen atomic.Value
	srv := chatServer(t, http.StatusOK, "  Hey! I went home, yay!  ", &seen)
	l, err := NewLLM("test-key", "test-model", WithBaseURL(srv.URL+"/v1/"))
	if err != nil {
		t.Fatalf("NewLLM: %v", err)
	}

	got, err := l.Shape(context.Background(), "I went home.", 6)
	if err != nil {
		t.Fatalf("Shape: %v", err)
	}
	if got != "Hey! I went home, yay!" {
		t.Errorf("Shape = %q", got)
	}
	body, _ := seen.Load().(string)
	if !strings.Contains(body, "Speaker age: 6") || !strings.Contains(body, "I went home.") {
		t.Errorf("request body missing age or text: %s", body)
	}
	if !strings.Contains(body, "test-model") {
		t.Errorf("request body missing model: %s", body)
	}
}

func TestLLM_FallsBackToRules(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		reply  string
	}{
		{name: "http error", status: http.StatusBadRequest},
		{name: "empty reply", status: http.StatusOK, reply: "   "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := chatServer(t, tt.status, tt.reply, nil)
			l, err := NewLLM("k", "m", WithBaseURL(srv.URL+"/v1/"))
			if err != nil {
				t.Fatalf("NewLLM: %v", err)
			}
			got, err := l.Shape(context.Background(), "Hello.", 75)
			if err != nil {
				t.Fatalf("Shape: %v", err)
			}
			if want := "Hello. ... I have lived a long life."; got != want {
				t.Errorf("Shape = %q, want rule fallback %q", got, want)
			}
		})
	}
}

func TestLLM_EmptyTextSkipsRequest(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	l, err := NewLLM("k", "m", WithBaseURL(srv.URL+"/v1/"))
	if err != nil {
		t.Fatalf("NewLLM: %v", err)
	}
	got, err := l.Shape(context.Background(), "  ", 40)
	if err != nil || got != "  " {
		t.Errorf("Shape = %q, %v", got, err)
	}
	if calls.Load() != 0 {
		t.Errorf("server called %d times for empty text", calls.Load())
	}
}
