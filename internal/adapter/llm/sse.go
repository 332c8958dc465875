package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"llmcourier/internal/domain"
)

// maxLineSize bounds a single SSE data line. Chat completion chunks are
// small, but tool-call argument fragments can carry large JSON slices.
const maxLineSize = 1024 * 1024

var dataPrefix = []byte("data:")

// DecodeStream reads SSE data lines from body and emits decoded
// domain.StreamEvents in arrival order on the returned channel.
//
// The reader tolerates arbitrary chunk fragmentation: lines are reassembled
// internally, so a chunk boundary may fall mid-line or mid-JSON-object.
// A `data: [DONE]` sentinel (case-insensitive) produces a terminal EventDone
// and stops consumption. Clean EOF without a sentinel also produces a
// synthetic EventDone, since some compatible servers omit the marker. A
// malformed data line produces an inline EventError and decoding continues.
// The channel is closed when the stream ends, the body is closed, or ctx is
// cancelled.
func DecodeStream(ctx context.Context, body io.ReadCloser) <-chan domain.StreamEvent {
	ch := make(chan domain.StreamEvent, 16)
	go func() {
		defer close(ch)
		defer body.Close()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}

			line := scanner.Bytes()

			// Skip blank lines and comments.
			if len(line) == 0 || line[0] == ':' {
				continue
			}

			// Only "data: ..." lines carry payloads; "event:" and "id:"
			// lines are not used by chat completion streams.
			if !bytes.HasPrefix(line, dataPrefix) {
				continue
			}
			data := bytes.TrimLeft(line[len(dataPrefix):], " ")

			// Common termination signal.
			if bytes.EqualFold(data, []byte("[DONE]")) {
				select {
				case ch <- domain.StreamEvent{Kind: domain.EventDone}:
				case <-ctx.Done():
				}
				return
			}

			select {
			case ch <- decodeDataLine(data):
			case <-ctx.Done():
				return
			}
		}

		if err := scanner.Err(); err != nil {
			// The byte source died mid-stream. Surface the transport
			// failure and close without a Done.
			select {
			case ch <- domain.StreamEvent{
				Kind: domain.EventError,
				Err:  fmt.Errorf("%w: %v", domain.ErrTransport, err),
			}:
			case <-ctx.Done():
			}
			return
		}

		// Clean EOF with no sentinel: treat as completion.
		select {
		case ch <- domain.StreamEvent{Kind: domain.EventDone}:
		case <-ctx.Done():
		}
	}()
	return ch
}

// decodeDataLine parses one data payload into a StreamEvent. Every valid
// JSON line yields an EventDelta, even when all modeled fields are absent:
// upstream heartbeat and role-only chunks look like empty deltas.
func decodeDataLine(data []byte) domain.StreamEvent {
	raw := json.RawMessage(append([]byte(nil), data...))

	var chunk streamChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return domain.StreamEvent{
			Kind: domain.EventError,
			Raw:  raw,
			Err:  fmt.Errorf("%w: line %q: %v", domain.ErrDecode, string(raw), err),
		}
	}

	ev := domain.StreamEvent{Kind: domain.EventDelta, Raw: raw}
	if len(chunk.Choices) > 0 {
		c := chunk.Choices[0]
		ev.DeltaText = c.Delta.Content
		for _, tc := range c.Delta.ToolCalls {
			ev.ToolCalls = append(ev.ToolCalls, domain.ToolCallFragment{
				Index:     tc.Index,
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		if c.FinishReason != nil {
			ev.FinishReason = *c.FinishReason
		}
	}
	if chunk.Usage != nil {
		ev.Usage = &domain.Usage{
			PromptTokens:     chunk.Usage.PromptTokens,
			CompletionTokens: chunk.Usage.CompletionTokens,
			TotalTokens:      chunk.Usage.TotalTokens,
		}
	}
	return ev
}
