package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"llmcourier/internal/domain"
)

// chunkedReader yields at most n bytes per Read so chunk boundaries land
// mid-line and mid-JSON.
type chunkedReader struct {
	r io.Reader
	n int
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	if len(p) > c.n {
		p = p[:c.n]
	}
	return c.r.Read(p)
}

func (c *chunkedReader) Close() error { return nil }

func collectEvents(ch <-chan domain.StreamEvent) []domain.StreamEvent {
	var events []domain.StreamEvent
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func chunkLine(content string) string {
	return fmt.Sprintf("data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", content)
}

func TestDecodeStreamBasic(t *testing.T) {
	raw := chunkLine("Hel") + chunkLine("lo") + "data: [DONE]\n\n"
	body := io.NopCloser(strings.NewReader(raw))

	events := collectEvents(DecodeStream(context.Background(), body))

	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Kind != domain.EventDelta || events[0].DeltaText != "Hel" {
		t.Errorf("event[0] = %+v, want delta Hel", events[0])
	}
	if events[1].DeltaText != "lo" {
		t.Errorf("event[1] text = %q, want lo", events[1].DeltaText)
	}
	if events[2].Kind != domain.EventDone {
		t.Errorf("event[2] kind = %v, want Done", events[2].Kind)
	}
}

func TestDecodeStreamChunkBoundaryInvariance(t *testing.T) {
	raw := chunkLine("one ") + chunkLine("two ") + chunkLine("three") + "data: [DONE]\n\n"

	for _, size := range []int{1, 2, 3, 5, 7, 64, len(raw)} {
		body := &chunkedReader{r: strings.NewReader(raw), n: size}
		events := collectEvents(DecodeStream(context.Background(), body))

		var text strings.Builder
		var done bool
		for _, ev := range events {
			switch ev.Kind {
			case domain.EventDelta:
				text.WriteString(ev.DeltaText)
			case domain.EventDone:
				done = true
			case domain.EventError:
				t.Fatalf("chunk size %d: unexpected error event: %v", size, ev.Err)
			}
		}
		if text.String() != "one two three" {
			t.Errorf("chunk size %d: text = %q, want 'one two three'", size, text.String())
		}
		if !done {
			t.Errorf("chunk size %d: missing Done", size)
		}
	}
}

func TestDecodeStreamMalformedLine(t *testing.T) {
	raw := chunkLine("good") + "data: {not json\n\n" + chunkLine("more") + "data: [DONE]\n\n"
	body := io.NopCloser(strings.NewReader(raw))

	events := collectEvents(DecodeStream(context.Background(), body))

	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d: %+v", len(events), events)
	}
	if events[1].Kind != domain.EventError {
		t.Fatalf("event[1] kind = %v, want Error", events[1].Kind)
	}
	if !errors.Is(events[1].Err, domain.ErrDecode) {
		t.Errorf("event[1] err = %v, want ErrDecode", events[1].Err)
	}
	if string(events[1].Raw) != "{not json" {
		t.Errorf("event[1] raw = %q, want original line", events[1].Raw)
	}
	if events[2].DeltaText != "more" {
		t.Errorf("decoding did not continue past malformed line: %+v", events[2])
	}
	if events[3].Kind != domain.EventDone {
		t.Errorf("event[3] kind = %v, want Done", events[3].Kind)
	}
}

func TestDecodeStreamSyntheticDoneOnEOF(t *testing.T) {
	// No [DONE] sentinel; clean EOF still terminates the logical stream.
	body := io.NopCloser(strings.NewReader(chunkLine("hi")))

	events := collectEvents(DecodeStream(context.Background(), body))

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[1].Kind != domain.EventDone {
		t.Errorf("event[1] kind = %v, want synthetic Done", events[1].Kind)
	}
}

func TestDecodeStreamEmptyBodyIsDone(t *testing.T) {
	body := io.NopCloser(strings.NewReader(""))

	events := collectEvents(DecodeStream(context.Background(), body))

	if len(events) != 1 || events[0].Kind != domain.EventDone {
		t.Fatalf("expected single Done, got %+v", events)
	}
}

func TestDecodeStreamDoneCaseInsensitive(t *testing.T) {
	body := io.NopCloser(strings.NewReader("data: [done]\n\n" + chunkLine("never")))

	events := collectEvents(DecodeStream(context.Background(), body))

	if len(events) != 1 || events[0].Kind != domain.EventDone {
		t.Fatalf("expected single Done, got %+v", events)
	}
}

func TestDecodeStreamSkipsCommentsAndOtherFields(t *testing.T) {
	raw := ": keep-alive\n\nevent: message\nid: 42\n" + chunkLine("ok") + "data: [DONE]\n\n"
	body := io.NopCloser(strings.NewReader(raw))

	events := collectEvents(DecodeStream(context.Background(), body))

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d: %+v", len(events), events)
	}
	if events[0].DeltaText != "ok" {
		t.Errorf("event[0] text = %q, want ok", events[0].DeltaText)
	}
}

func TestDecodeStreamToolCallFragments(t *testing.T) {
	raw := `data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"get_weather","arguments":""}}]}}]}` + "\n\n" +
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"city\":"}}]}}]}` + "\n\n" +
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"Hanoi\"}"}}]},"finish_reason":"tool_calls"}]}` + "\n\n" +
		"data: [DONE]\n\n"
	body := io.NopCloser(strings.NewReader(raw))

	events := collectEvents(DecodeStream(context.Background(), body))

	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}
	first := events[0].ToolCalls
	if len(first) != 1 || first[0].ID != "call_1" || first[0].Name != "get_weather" {
		t.Fatalf("event[0] tool calls = %+v", first)
	}
	if events[2].FinishReason != "tool_calls" {
		t.Errorf("event[2] finish = %q, want tool_calls", events[2].FinishReason)
	}
}

func TestDecodeStreamUsageChunk(t *testing.T) {
	raw := chunkLine("x") +
		`data: {"choices":[],"usage":{"prompt_tokens":5,"completion_tokens":3,"total_tokens":8}}` + "\n\n" +
		"data: [DONE]\n\n"
	body := io.NopCloser(strings.NewReader(raw))

	events := collectEvents(DecodeStream(context.Background(), body))

	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[1].Usage == nil || events[1].Usage.TotalTokens != 8 {
		t.Errorf("event[1] usage = %+v, want total 8", events[1].Usage)
	}
}

func TestDecodeStreamReaderFailure(t *testing.T) {
	pr, pw := io.Pipe()
	go func() {
		pw.Write([]byte(chunkLine("partial")))
		pw.CloseWithError(fmt.Errorf("connection reset"))
	}()

	events := collectEvents(DecodeStream(context.Background(), pr))

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d: %+v", len(events), events)
	}
	last := events[len(events)-1]
	if last.Kind != domain.EventError {
		t.Fatalf("last event kind = %v, want Error", last.Kind)
	}
	if !errors.Is(last.Err, domain.ErrTransport) {
		t.Errorf("last err = %v, want ErrTransport", last.Err)
	}
	for _, ev := range events {
		if ev.Kind == domain.EventDone {
			t.Error("dead stream must not emit Done")
		}
	}
}

func TestDecodeStreamContextCancel(t *testing.T) {
	pr, pw := io.Pipe()
	go func() {
		for i := 0; i < 100; i++ {
			pw.Write([]byte(chunkLine("x")))
			time.Sleep(20 * time.Millisecond)
		}
		pw.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	count := len(collectEvents(DecodeStream(ctx, pr)))
	if count >= 100 {
		t.Fatalf("expected context cancel to stop early, got %d events", count)
	}
}
