package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"time"

	"llmcourier/internal/domain"
)

const defaultCompletionWindow = "24h"

type wireFile struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Purpose  string `json:"purpose"`
	Bytes    int64  `json:"bytes"`
}

type wireBatch struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	Endpoint      string `json:"endpoint"`
	InputFileID   string `json:"input_file_id"`
	OutputFileID  string `json:"output_file_id"`
	ErrorFileID   string `json:"error_file_id"`
	CreatedAt     int64  `json:"created_at"`
	CompletedAt   int64  `json:"completed_at"`
	RequestCounts struct {
		Total     int `json:"total"`
		Completed int `json:"completed"`
		Failed    int `json:"failed"`
	} `json:"request_counts"`
}

func fromWireBatch(wb wireBatch) *domain.BatchJob {
	job := &domain.BatchJob{
		ID:           wb.ID,
		Status:       wb.Status,
		Endpoint:     wb.Endpoint,
		InputFileID:  wb.InputFileID,
		OutputFileID: wb.OutputFileID,
		ErrorFileID:  wb.ErrorFileID,
		Counts: domain.BatchCounts{
			Total:     wb.RequestCounts.Total,
			Completed: wb.RequestCounts.Completed,
			Failed:    wb.RequestCounts.Failed,
		},
	}
	if wb.CreatedAt > 0 {
		job.CreatedAt = time.Unix(wb.CreatedAt, 0)
	}
	if wb.CompletedAt > 0 {
		job.CompletedAt = time.Unix(wb.CompletedAt, 0)
	}
	return job
}

// UploadBatchInput writes items as a JSONL file and uploads it with
// purpose=batch. It returns the server-assigned file ID.
func (c *Client) UploadBatchInput(ctx context.Context, items []domain.BatchRequestItem, filename string) (string, error) {
	if len(items) == 0 {
		return "", domain.NewDomainError("Client.UploadBatchInput", domain.ErrInvalidInput, "empty batch")
	}
	if filename == "" {
		filename = "batch-input.jsonl"
	}

	var jsonl bytes.Buffer
	enc := json.NewEncoder(&jsonl)
	for _, item := range items {
		if item.Method == "" {
			item.Method = http.MethodPost
		}
		if err := enc.Encode(item); err != nil {
			return "", fmt.Errorf("encode batch item %q: %w", item.CustomID, err)
		}
	}

	var form bytes.Buffer
	mw := multipart.NewWriter(&form)
	if err := mw.WriteField("purpose", "batch"); err != nil {
		return "", fmt.Errorf("write purpose field: %w", err)
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(jsonl.Bytes()); err != nil {
		return "", fmt.Errorf("write form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close form: %w", err)
	}

	headers := c.headers()
	headers["Content-Type"] = mw.FormDataContentType()

	respBody, err := doJSONRequest(ctx, c.transport, http.MethodPost, c.baseURL+"/files", form.Bytes(), headers)
	if err != nil {
		return "", err
	}

	var file wireFile
	if err := json.Unmarshal(respBody, &file); err != nil {
		return "", fmt.Errorf("unmarshal file response: %w", err)
	}

	c.logger.Debug("batch input uploaded", "file_id", file.ID, "requests", len(items))
	return file.ID, nil
}

// CreateBatch starts a batch job over a previously uploaded input file.
// endpoint is the per-request target, e.g. "/v1/chat/completions".
func (c *Client) CreateBatch(ctx context.Context, inputFileID, endpoint string) (*domain.BatchJob, error) {
	body, err := json.Marshal(map[string]string{
		"input_file_id":     inputFileID,
		"endpoint":          endpoint,
		"completion_window": defaultCompletionWindow,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := doJSONRequest(ctx, c.transport, http.MethodPost, c.baseURL+"/batches", body, c.headers())
	if err != nil {
		return nil, err
	}

	var wb wireBatch
	if err := json.Unmarshal(respBody, &wb); err != nil {
		return nil, fmt.Errorf("unmarshal batch response: %w", err)
	}

	job := fromWireBatch(wb)
	c.logger.Info("batch created", "batch_id", job.ID, "status", job.Status)
	return job, nil
}

// GetBatch fetches the current state of a batch job.
func (c *Client) GetBatch(ctx context.Context, batchID string) (*domain.BatchJob, error) {
	respBody, err := doJSONRequest(ctx, c.transport, http.MethodGet, c.baseURL+"/batches/"+batchID, nil, c.headers())
	if err != nil {
		return nil, err
	}

	var wb wireBatch
	if err := json.Unmarshal(respBody, &wb); err != nil {
		return nil, fmt.Errorf("unmarshal batch response: %w", err)
	}
	return fromWireBatch(wb), nil
}

// WaitBatch polls a batch job until it reaches a terminal status or ctx is
// cancelled.
func (c *Client) WaitBatch(ctx context.Context, batchID string, pollInterval time.Duration) (*domain.BatchJob, error) {
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		job, err := c.GetBatch(ctx, batchID)
		if err != nil {
			return nil, err
		}
		if job.Terminal() {
			return job, nil
		}

		c.logger.Debug("batch in progress",
			"batch_id", batchID,
			"status", job.Status,
			"completed", job.Counts.Completed,
			"total", job.Counts.Total,
		)

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", domain.ErrCancelled, ctx.Err())
		}
	}
}

// BatchResults downloads and parses the output file of a completed batch.
// For failed jobs it returns ErrBatchFailed.
func (c *Client) BatchResults(ctx context.Context, job *domain.BatchJob) ([]domain.BatchResultItem, error) {
	if job.Status != domain.BatchCompleted {
		return nil, domain.NewDomainError("Client.BatchResults", domain.ErrBatchFailed,
			fmt.Sprintf("batch %s is %s", job.ID, job.Status))
	}
	if job.OutputFileID == "" {
		return nil, domain.NewDomainError("Client.BatchResults", domain.ErrBatchFailed,
			fmt.Sprintf("batch %s has no output file", job.ID))
	}

	respBody, err := doJSONRequest(ctx, c.transport, http.MethodGet, c.baseURL+"/files/"+job.OutputFileID+"/content", nil, c.headers())
	if err != nil {
		return nil, err
	}

	var items []domain.BatchResultItem
	scanner := bufio.NewScanner(bytes.NewReader(respBody))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var item domain.BatchResultItem
		if err := json.Unmarshal(line, &item); err != nil {
			return nil, fmt.Errorf("parse result line: %w", err)
		}
		items = append(items, item)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read results: %w", err)
	}

	return items, nil
}
