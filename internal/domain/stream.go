package domain

import (
	"context"
	"encoding/json"
	"io"
)

// StreamDecoder converts a raw SSE byte stream into an ordered sequence of
// StreamEvents. The decoder owns body and closes it when done; the returned
// channel is closed after the terminal event.
type StreamDecoder func(ctx context.Context, body io.ReadCloser) <-chan StreamEvent

// EventKind classifies a decoded stream event.
type EventKind int

const (
	// EventDelta carries an incremental chunk of assistant output.
	EventDelta EventKind = iota
	// EventDone terminates a successful stream. No events follow it.
	EventDone
	// EventError reports a malformed data line or a transport failure.
	// Decode errors are non-fatal; the stream continues after them.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventDelta:
		return "delta"
	case EventDone:
		return "done"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// ToolCallFragment is a partial tool call carried by one stream chunk.
// Fragments with the same Index must be concatenated in arrival order to
// reconstruct the full arguments string; the decoder never joins them.
type ToolCallFragment struct {
	Index     int    `json:"index"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// StreamEvent is one decoded unit from an SSE chat-completions stream.
// Events arrive in strict wire order; after an EventDone nothing follows.
type StreamEvent struct {
	Kind         EventKind
	DeltaText    string
	ToolCalls    []ToolCallFragment
	FinishReason string
	Usage        *Usage
	// Raw is the original data-line payload, retained so callers can read
	// fields the decoder does not model.
	Raw json.RawMessage
	// Err is set on EventError events.
	Err error
}
