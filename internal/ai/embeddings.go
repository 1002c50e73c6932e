package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"patient-buddy-backend/internal/config"
	"patient-buddy-backend/internal/logger"
)

// maxEmbedChars caps how much text goes to the hosted feature-extraction
// endpoint per request.
const maxEmbedChars = 512

// fallbackTokenLimit bounds how many tokens the local fallback considers.
const fallbackTokenLimit = 100

// EmbeddingService produces fixed-length embedding vectors. The primary
// path calls a hosted feature-extraction model; any failure there drops
// to a deterministic local bag-of-words vector, so Embed never blocks the
// pipeline on an external outage.
type EmbeddingService struct {
	apiURL     string
	apiKey     string
	dim        int
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

func NewEmbeddingService(cfg *config.Config) *EmbeddingService {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "EmbeddingAPI",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Embedding circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &EmbeddingService{
		apiURL: cfg.EmbeddingURL,
		apiKey: cfg.HuggingFaceAPIKey,
		dim:    cfg.EmbeddingDim,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.EmbeddingTimeout) * time.Second,
		},
		breaker: breaker,
	}
}

// Embed returns an embedding vector of exactly the configured dimension.
// It never returns an error from the hosted endpoint: on any failure the
// local fallback vector is returned instead.
func (s *EmbeddingService) Embed(ctx context.Context, text string) ([]float64, error) {
	result, err := s.breaker.Execute(func() (interface{}, error) {
		return s.embedRemote(ctx, text)
	})
	if err != nil {
		logger.Debug("Remote embedding failed, using local fallback", "error", err)
		return FallbackEmbedding(text, s.dim), nil
	}
	return result.([]float64), nil
}

func (s *EmbeddingService) embedRemote(ctx context.Context, text string) ([]float64, error) {
	if s.apiKey == "" {
		return nil, fmt.Errorf("missing HUGGINGFACE_API_KEY")
	}

	input := text
	if len(input) > maxEmbedChars {
		input = input[:maxEmbedChars]
	}

	body, err := json.Marshal(map[string]string{"inputs": input})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embedding API status %d: %s", resp.StatusCode, string(raw))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return normalizeEmbedding(raw, s.dim)
}

// normalizeEmbedding flattens the feature-extraction response down to a
// vector of exactly dim floats. The endpoint returns either a single
// vector or a token matrix; for a matrix the first column of each row is
// taken, matching the primary provider's pooling shape.
func normalizeEmbedding(raw []byte, dim int) ([]float64, error) {
	var outer []json.RawMessage
	if err := json.Unmarshal(raw, &outer); err != nil {
		return nil, fmt.Errorf("unexpected embedding response: %w", err)
	}
	if len(outer) == 0 {
		return nil, fmt.Errorf("empty embedding response")
	}

	// Flat vector shape: [f, f, ...]
	var flat []float64
	if err := json.Unmarshal(raw, &flat); err == nil {
		return clampVector(flat, dim), nil
	}

	// One row per input: [[...]] or token matrix [[[...], ...]]
	var vector []float64
	if err := json.Unmarshal(outer[0], &vector); err == nil {
		return clampVector(vector, dim), nil
	}

	var matrix [][]float64
	if err := json.Unmarshal(outer[0], &matrix); err == nil {
		cols := make([]float64, 0, len(matrix))
		for _, row := range matrix {
			if len(row) == 0 {
				continue
			}
			cols = append(cols, row[0])
		}
		return clampVector(cols, dim), nil
	}

	return nil, fmt.Errorf("unrecognized embedding response shape")
}

func clampVector(v []float64, dim int) []float64 {
	out := make([]float64, dim)
	copy(out, v)
	return out
}

// FallbackEmbedding builds a deterministic term-frequency vector from the
// text alone. The vocabulary-to-index mapping is local to this text, so
// vectors from different texts are only weakly comparable; this is an
// accepted degraded mode that keeps retrieval running when the hosted
// endpoint is down. Pure function, safe for concurrent use.
func FallbackEmbedding(text string, dim int) []float64 {
	embedding := make([]float64, dim)

	tokens := strings.Fields(strings.ToLower(text))
	if len(tokens) > fallbackTokenLimit {
		tokens = tokens[:fallbackTokenLimit]
	}

	freq := make(map[string]float64, len(tokens))
	vocab := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if _, seen := freq[tok]; !seen {
			if len(vocab) < dim {
				vocab = append(vocab, tok)
			}
		}
		freq[tok]++
	}

	for i, tok := range vocab {
		embedding[i] = freq[tok]
	}

	return embedding
}
