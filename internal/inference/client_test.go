package inference

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestChatReturnsMessageContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(chatResponse{
			Message: struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			}{Role: "assistant", Content: "hello " + req.Model},
			Done: true,
		})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, nil)
	out, err := c.Chat(context.Background(), "test-model", []Message{{Role: "user", Content: "hi"}}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "hello test-model" {
		t.Fatalf("unexpected content: %q", out)
	}
}

func TestChatNonOKStatusYieldsInferenceBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("model not found"))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, nil)
	_, err := c.Chat(context.Background(), "test-model", nil, Options{})
	if err == nil {
		t.Fatalf("expected an error")
	}
	var backendErr *InferenceBackend
	if !asBackendError(err, &backendErr) {
		t.Fatalf("expected *InferenceBackend, got %T: %v", err, err)
	}
	if backendErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("unexpected status code: %d", backendErr.StatusCode)
	}
}

func TestChatUnreachableBackend(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:1"}, nil)
	_, err := c.Chat(context.Background(), "test-model", nil, Options{})
	if err == nil {
		t.Fatalf("expected an error connecting to a closed port")
	}
}

func TestChatStreamEmitsDeltasInOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		chunks := []string{"hel", "lo ", "world"}
		for _, c := range chunks {
			json.NewEncoder(w).Encode(chatResponse{
				Message: struct {
					Role    string `json:"role"`
					Content string `json:"content"`
				}{Content: c},
			})
			flusher.Flush()
		}
		json.NewEncoder(w).Encode(chatResponse{Done: true})
		flusher.Flush()
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, nil)
	out, errCh := c.ChatStream(context.Background(), "test-model", nil, Options{})

	var sb strings.Builder
	for delta := range out {
		sb.WriteString(delta)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("unexpected stream error: %v", err)
	}
	if sb.String() != "hello world" {
		t.Fatalf("unexpected streamed content: %q", sb.String())
	}
}

func TestResolveModelFallsBackWhenPreferredUnavailable(t *testing.T) {
	c := New(Config{BaseURL: "http://localhost:11434"}, nil)
	available := func(model string) bool { return model == "llama3.2:3b" }
	got := c.ResolveModel("code", available)
	if got != "llama3.2:3b" {
		t.Fatalf("expected fallback to an available model, got %s", got)
	}
}

func TestResolveModelUsesDefaultForUnknownClass(t *testing.T) {
	c := New(Config{BaseURL: "http://localhost:11434"}, nil)
	got := c.ResolveModel("unknown-class", nil)
	if got != "llama3.1:8b" {
		t.Fatalf("expected default model, got %s", got)
	}
}

func asBackendError(err error, target **InferenceBackend) bool {
	if be, ok := err.(*InferenceBackend); ok {
		*target = be
		return true
	}
	return false
}
