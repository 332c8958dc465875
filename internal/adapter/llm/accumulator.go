package llm

import (
	"encoding/json"
	"sort"
	"strings"

	"llmcourier/internal/domain"
)

// StreamAccumulator reassembles a full response from a sequence of
// StreamEvents: assistant text, tool calls (whose argument fragments arrive
// spread across chunks), finish reason, and usage. Fragment concatenation is
// keyed by tool-call index so interleaved calls reassemble correctly.
//
// Not safe for concurrent use; feed it from the single goroutine draining
// the stream.
type StreamAccumulator struct {
	text   strings.Builder
	calls  map[int]*pendingCall
	finish string
	usage  *domain.Usage
	delta  bool
	done   bool
	errs   []error
}

type pendingCall struct {
	id   string
	name string
	args strings.Builder
}

// NewStreamAccumulator returns an empty accumulator.
func NewStreamAccumulator() *StreamAccumulator {
	return &StreamAccumulator{calls: make(map[int]*pendingCall)}
}

// Feed consumes one event. Events must be fed in arrival order.
func (a *StreamAccumulator) Feed(ev domain.StreamEvent) {
	switch ev.Kind {
	case domain.EventDone:
		a.done = true
	case domain.EventError:
		a.errs = append(a.errs, ev.Err)
	case domain.EventDelta:
		a.delta = true
		a.text.WriteString(ev.DeltaText)
		for _, frag := range ev.ToolCalls {
			pc := a.calls[frag.Index]
			if pc == nil {
				pc = &pendingCall{}
				a.calls[frag.Index] = pc
			}
			if frag.ID != "" {
				pc.id = frag.ID
			}
			if frag.Name != "" {
				pc.name = frag.Name
			}
			pc.args.WriteString(frag.Arguments)
		}
		if ev.FinishReason != "" {
			a.finish = ev.FinishReason
		}
		if ev.Usage != nil {
			a.usage = ev.Usage
		}
	}
}

// Text returns the concatenated assistant content so far.
func (a *StreamAccumulator) Text() string { return a.text.String() }

// Calls returns the reassembled tool calls in index order. The Arguments of
// each call is the fragment concatenation; it is returned as raw JSON text
// without validation, since a truncated stream can leave it incomplete.
func (a *StreamAccumulator) Calls() []domain.ToolCall {
	if len(a.calls) == 0 {
		return nil
	}
	indexes := make([]int, 0, len(a.calls))
	for idx := range a.calls {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	out := make([]domain.ToolCall, 0, len(indexes))
	for _, idx := range indexes {
		pc := a.calls[idx]
		out = append(out, domain.ToolCall{
			ID:        pc.id,
			Name:      pc.name,
			Arguments: json.RawMessage(pc.args.String()),
		})
	}
	return out
}

// FinishReason returns the finish reason of the terminal chunk, if seen.
func (a *StreamAccumulator) FinishReason() string { return a.finish }

// Usage returns token usage if the stream reported it.
func (a *StreamAccumulator) Usage() *domain.Usage { return a.usage }

// Done reports whether an EventDone has been fed.
func (a *StreamAccumulator) Done() bool { return a.done }

// SawDelta reports whether at least one EventDelta has been fed.
func (a *StreamAccumulator) SawDelta() bool { return a.delta }

// Errs returns the inline errors fed so far (decode and transport).
func (a *StreamAccumulator) Errs() []error { return a.errs }
