package ai

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"patient-buddy-backend/internal/config"
)

func newTestGroqClient(t *testing.T, handler http.Handler) *GroqClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewGroqClient(&config.Config{
		GroqAPIURL:     server.URL,
		GroqAPIKey:     "test-key",
		LLMMinInterval: 50,
		LLMMaxAttempts: 3,
		LLMBaseBackoff: 10,
		LLMMaxBackoff:  50,
		LLMTimeout:     5,
	})
}

func chatReq() ChatRequest {
	return ChatRequest{
		Model:    "test-model",
		Messages: []ChatMessage{{Role: "user", Content: "hello"}},
	}
}

func TestChatCompletionReturnsFirstChoice(t *testing.T) {
	client := newTestGroqClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", auth)
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"the answer"}}]}`))
	}))

	got, err := client.ChatCompletion(context.Background(), chatReq())
	if err != nil {
		t.Fatalf("ChatCompletion returned error: %v", err)
	}
	if got != "the answer" {
		t.Errorf("got %q, want %q", got, "the answer")
	}
}

func TestChatCompletionEnforcesMinInterval(t *testing.T) {
	var mu sync.Mutex
	var calls []time.Time
	client := newTestGroqClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls = append(calls, time.Now())
		mu.Unlock()
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))

	for i := 0; i < 3; i++ {
		if _, err := client.ChatCompletion(context.Background(), chatReq()); err != nil {
			t.Fatalf("call %d failed: %v", i, err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 3 {
		t.Fatalf("expected 3 upstream calls, got %d", len(calls))
	}
	minInterval := 50 * time.Millisecond
	for i := 1; i < len(calls); i++ {
		// Allow a small scheduling tolerance.
		if gap := calls[i].Sub(calls[i-1]); gap < minInterval-10*time.Millisecond {
			t.Errorf("calls %d and %d only %v apart, want at least %v", i-1, i, gap, minInterval)
		}
	}
}

func TestChatCompletionRetriesOn429(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	client := newTestGroqClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"finally"}}]}`))
	}))

	got, err := client.ChatCompletion(context.Background(), chatReq())
	if err != nil {
		t.Fatalf("ChatCompletion returned error: %v", err)
	}
	if got != "finally" {
		t.Errorf("got %q, want %q", got, "finally")
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestChatCompletionExhaustsRetryBudget(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	client := newTestGroqClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := client.ChatCompletion(context.Background(), chatReq())
	if !errors.Is(err, ErrMaxRetries) {
		t.Fatalf("got error %v, want ErrMaxRetries", err)
	}
	if attempts != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", attempts)
	}
}

func TestChatCompletionNoRetryOnOtherErrors(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	client := newTestGroqClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	}))

	if _, err := client.ChatCompletion(context.Background(), chatReq()); err == nil {
		t.Fatal("expected error for 500 response")
	}
	if attempts != 1 {
		t.Errorf("non-429 failures must not retry, got %d attempts", attempts)
	}
}

func TestChatCompletionNonJSONErrorBodyKeepsStatus(t *testing.T) {
	client := newTestGroqClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("<html><body>502 Bad Gateway</body></html>"))
	}))

	_, err := client.ChatCompletion(context.Background(), chatReq())
	if err == nil {
		t.Fatal("expected error for 502 response")
	}
	if !strings.Contains(err.Error(), "status 502") {
		t.Errorf("error %q should carry the upstream status code", err)
	}
	if strings.Contains(err.Error(), "unmarshal") {
		t.Errorf("error %q should not be reported as a decode failure", err)
	}
}

func TestChatCompletionContextCancelDuringBackoff(t *testing.T) {
	client := newTestGroqClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	// Make backoff long enough that cancellation lands inside it.
	client.baseBackoff = time.Second
	client.maxBackoff = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := client.ChatCompletion(ctx, chatReq())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got error %v, want context.DeadlineExceeded", err)
	}
}

func TestStreamChatCompletionEmitsTokens(t *testing.T) {
	client := newTestGroqClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n"))
		w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n"))
		w.Write([]byte("data: [DONE]\n\n"))
	}))

	var tokens []string
	done := false
	err := client.StreamChatCompletion(context.Background(), chatReq(), func(ev StreamEvent) error {
		if ev.Done {
			done = true
			return nil
		}
		tokens = append(tokens, ev.Token)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamChatCompletion returned error: %v", err)
	}
	if !done {
		t.Error("expected a terminal done event")
	}
	if len(tokens) != 2 || tokens[0] != "Hel" || tokens[1] != "lo" {
		t.Errorf("got tokens %v", tokens)
	}
}

func TestStreamChatCompletionExhaustsRetryBudget(t *testing.T) {
	client := newTestGroqClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	err := client.StreamChatCompletion(context.Background(), chatReq(), func(StreamEvent) error {
		t.Error("emit must not be called when the stream never opens")
		return nil
	})
	if !errors.Is(err, ErrMaxRetries) {
		t.Fatalf("got error %v, want ErrMaxRetries", err)
	}
}
