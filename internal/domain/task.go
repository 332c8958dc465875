package domain

import (
	"encoding/json"
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// TaskState tracks a task through the dispatch state machine:
// Pending -> InFlight -> {Succeeded | RetryScheduled -> InFlight | Failed}.
type TaskState int

const (
	TaskPending TaskState = iota
	TaskInFlight
	TaskRetryScheduled
	TaskSucceeded
	TaskFailed
)

func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskInFlight:
		return "in_flight"
	case TaskRetryScheduled:
		return "retry_scheduled"
	case TaskSucceeded:
		return "succeeded"
	case TaskFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is Succeeded or Failed.
func (s TaskState) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailed
}

// RequestTask is one unit of dispatch work. The payload is opaque to the
// dispatcher; the llm.Client task builders fill in Method, URL, and Headers.
type RequestTask struct {
	ID        string
	Method    string
	URL       string
	Headers   map[string]string
	Payload   json.RawMessage
	Streaming bool

	// Attempt counts completed attempts, starting at 0. It is mutated only
	// by the single worker executing the task.
	Attempt int
	State   TaskState
}

// NewTaskID generates a lexicographically sortable task identifier.
func NewTaskID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// TaskResult is the terminal outcome of one RequestTask. Exactly one of
// Body/Events is populated on success (Events for streaming tasks); Err is
// set on failure and nil on success.
type TaskResult struct {
	ID           string
	State        TaskState
	Body         []byte
	Events       []StreamEvent
	AttemptsMade int
	// Status is the HTTP status of the last attempt, 0 when the transport
	// never produced a response.
	Status int
	Err    error
}

// Ok reports whether the task succeeded.
func (r TaskResult) Ok() bool { return r.State == TaskSucceeded }
