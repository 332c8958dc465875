package domain

import (
	"encoding/json"
	"time"
)

// Batch job statuses, as reported by the /batches endpoint.
const (
	BatchValidating = "validating"
	BatchInProgress = "in_progress"
	BatchFinalizing = "finalizing"
	BatchCompleted  = "completed"
	BatchFailed     = "failed"
	BatchExpired    = "expired"
	BatchCancelled  = "cancelled"
)

// BatchRequestItem is one line of a batch input JSONL file.
type BatchRequestItem struct {
	CustomID string          `json:"custom_id"`
	Method   string          `json:"method"`
	URL      string          `json:"url"`
	Body     json.RawMessage `json:"body"`
}

// BatchCounts summarizes request progress within a batch job.
type BatchCounts struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// BatchJob is a server-side batch of API requests.
type BatchJob struct {
	ID           string      `json:"id"`
	Status       string      `json:"status"`
	Endpoint     string      `json:"endpoint"`
	InputFileID  string      `json:"input_file_id"`
	OutputFileID string      `json:"output_file_id,omitempty"`
	ErrorFileID  string      `json:"error_file_id,omitempty"`
	Counts       BatchCounts `json:"request_counts"`
	CreatedAt    time.Time   `json:"created_at"`
	CompletedAt  time.Time   `json:"completed_at,omitempty"`
}

// Terminal reports whether the batch job reached a final status.
func (b *BatchJob) Terminal() bool {
	switch b.Status {
	case BatchCompleted, BatchFailed, BatchExpired, BatchCancelled:
		return true
	}
	return false
}

// BatchResultItem is one line of a batch output JSONL file.
type BatchResultItem struct {
	CustomID string `json:"custom_id"`
	Response struct {
		StatusCode int             `json:"status_code"`
		Body       json.RawMessage `json:"body"`
	} `json:"response"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}
