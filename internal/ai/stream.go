package ai

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// StreamEvent is the simplified event protocol re-emitted from the
// provider's event stream: a token, a terminal done marker, or an error
// delivered in-band because the response has already started.
type StreamEvent struct {
	Token string
	Done  bool
	Err   error
}

type streamDelta struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// ParseEventStream reads the provider's SSE-formatted chat-completion
// stream from r and re-emits simplified events through emit. It always
// emits a final Done event unless emit itself returns an error. Malformed
// data lines are skipped. Decoupled from any HTTP transport so stream
// handling is testable against a plain reader.
func ParseEventStream(r io.Reader, emit func(StreamEvent) error) error {
	const dataPrefix = "data: "
	const doneMarker = "[DONE]"

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || !strings.HasPrefix(line, dataPrefix) {
			continue
		}

		data := strings.TrimPrefix(line, dataPrefix)
		if data == doneMarker {
			return emit(StreamEvent{Done: true})
		}

		var delta streamDelta
		if err := json.Unmarshal([]byte(data), &delta); err != nil {
			continue
		}
		if len(delta.Choices) == 0 {
			continue
		}

		if token := delta.Choices[0].Delta.Content; token != "" {
			if err := emit(StreamEvent{Token: token}); err != nil {
				return fmt.Errorf("emit error: %w", err)
			}
		}

		if delta.Choices[0].FinishReason != "" {
			return emit(StreamEvent{Done: true})
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read stream: %w", err)
	}

	return emit(StreamEvent{Done: true})
}
