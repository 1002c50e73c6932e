package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"patient-buddy-backend/internal/config"
	"patient-buddy-backend/internal/logger"
)

// ErrMaxRetries is returned after the 429 retry budget is exhausted.
var ErrMaxRetries = errors.New("maximum retries exceeded")

// ChatMessage is one message in a chat-completion conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the OpenAI-compatible chat-completion payload.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatChoice struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Error   *apiError    `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// GroqClient is the process-wide rate-limited LLM client. All outbound
// chat-completion calls funnel through one instance: a mutex serializes
// calls strictly one-at-a-time, and a limiter enforces a minimum interval
// between consecutive HTTP attempts. This bounds throughput to one call
// per interval across the whole process, protecting the provider's shared
// quota from bursts of concurrent requests.
//
// HTTP 429 responses are retried with exponential backoff up to
// maxAttempts; any other error propagates immediately with no retry.
type GroqClient struct {
	apiURL     string
	apiKey     string
	httpClient *http.Client

	mu      sync.Mutex
	limiter *rate.Limiter

	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

func NewGroqClient(cfg *config.Config) *GroqClient {
	minInterval := time.Duration(cfg.LLMMinInterval) * time.Millisecond
	return &GroqClient{
		apiURL: cfg.GroqAPIURL,
		apiKey: cfg.GroqAPIKey,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.LLMTimeout) * time.Second,
		},
		limiter:     rate.NewLimiter(rate.Every(minInterval), 1),
		maxAttempts: cfg.LLMMaxAttempts,
		baseBackoff: time.Duration(cfg.LLMBaseBackoff) * time.Millisecond,
		maxBackoff:  time.Duration(cfg.LLMMaxBackoff) * time.Millisecond,
	}
}

// ChatCompletion sends a blocking chat-completion request and returns the
// first choice's content.
func (c *GroqClient) ChatCompletion(ctx context.Context, req ChatRequest) (string, error) {
	tracer := otel.Tracer("groq-client")
	ctx, span := tracer.Start(ctx, "groq.chat_completion")
	defer span.End()
	span.SetAttributes(attribute.String("groq.model", req.Model))

	c.mu.Lock()
	defer c.mu.Unlock()

	req.Stream = false

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}

		resp, err := c.send(ctx, req)
		if err != nil {
			span.SetAttributes(attribute.Bool("groq.error", true))
			return "", err
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			span.SetAttributes(attribute.Int("groq.rate_limited_attempt", attempt))
			if err := c.backoff(ctx, attempt); err != nil {
				return "", err
			}
			continue
		}

		answer, err := decodeChatResponse(resp)
		if err != nil {
			span.SetAttributes(attribute.Bool("groq.error", true))
			return "", err
		}
		return answer, nil
	}

	span.SetAttributes(attribute.Bool("groq.retries_exhausted", true))
	return "", ErrMaxRetries
}

// StreamChatCompletion sends a streaming chat-completion request and
// invokes emit for each event parsed off the provider's event stream.
// Establishing the stream goes through the same serialization, spacing
// and 429 retry policy as blocking calls; once the stream is open the
// queue is released so token forwarding does not block other callers.
// Cancelling ctx aborts the upstream request.
func (c *GroqClient) StreamChatCompletion(ctx context.Context, req ChatRequest, emit func(StreamEvent) error) error {
	req.Stream = true

	resp, err := c.openStream(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return ParseEventStream(resp.Body, emit)
}

func (c *GroqClient) openStream(ctx context.Context, req ChatRequest) (*http.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		resp, err := c.send(ctx, req)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			if err := c.backoff(ctx, attempt); err != nil {
				return nil, err
			}
			continue
		}

		if resp.StatusCode != http.StatusOK {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			return nil, fmt.Errorf("groq API status %d: %s", resp.StatusCode, string(raw))
		}

		return resp, nil
	}

	return nil, ErrMaxRetries
}

func (c *GroqClient) send(ctx context.Context, req ChatRequest) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("groq request failed: %w", err)
	}
	return resp, nil
}

// backoff sleeps min(base * 2^attempt, max) or returns early when ctx is
// cancelled.
func (c *GroqClient) backoff(ctx context.Context, attempt int) error {
	wait := c.baseBackoff << uint(attempt)
	if wait > c.maxBackoff {
		wait = c.maxBackoff
	}
	logger.Warn("Groq rate limited, backing off", "attempt", attempt, "wait", wait.String())

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func decodeChatResponse(resp *http.Response) (string, error) {
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		var chatResp chatResponse
		if err := json.Unmarshal(raw, &chatResp); err == nil && chatResp.Error != nil {
			return "", fmt.Errorf("groq API status %d: %s", resp.StatusCode, chatResp.Error.Message)
		}
		return "", fmt.Errorf("groq API status %d: %s", resp.StatusCode, string(raw))
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if chatResp.Error != nil {
		return "", fmt.Errorf("groq API error: %s", chatResp.Error.Message)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	return chatResp.Choices[0].Message.Content, nil
}
