package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"llmcourier/internal/domain"
	"llmcourier/internal/infra/tracer"
)

// Transcribe uploads an audio file to /audio/transcriptions and returns the
// transcript. The audio is sent as multipart form data with the model name
// in a form field.
func (c *Client) Transcribe(ctx context.Context, req domain.TranscriptionRequest) (*domain.TranscriptionResponse, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.transcribe",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", c.name),
			tracer.StringAttr("llm.model", req.Model),
		),
	)
	defer span.End()

	if req.Audio == nil {
		err := domain.NewDomainError("Client.Transcribe", domain.ErrInvalidInput, "no audio reader")
		tracer.RecordError(span, err)
		return nil, err
	}
	if req.Filename == "" {
		req.Filename = "audio"
	}
	if req.Model == "" {
		req.Model = c.model
	}

	var form bytes.Buffer
	mw := multipart.NewWriter(&form)
	if err := mw.WriteField("model", req.Model); err != nil {
		return nil, fmt.Errorf("write model field: %w", err)
	}
	if req.Language != "" {
		if err := mw.WriteField("language", req.Language); err != nil {
			return nil, fmt.Errorf("write language field: %w", err)
		}
	}
	if req.Prompt != "" {
		if err := mw.WriteField("prompt", req.Prompt); err != nil {
			return nil, fmt.Errorf("write prompt field: %w", err)
		}
	}
	fw, err := mw.CreateFormFile("file", req.Filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(fw, req.Audio); err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("read audio: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close form: %w", err)
	}

	headers := c.headers()
	headers["Content-Type"] = mw.FormDataContentType()

	respBody, err := doJSONRequest(ctx, c.transport, http.MethodPost, c.baseURL+"/audio/transcriptions", form.Bytes(), headers)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	var result domain.TranscriptionResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	tracer.SetOK(span)
	c.logger.Debug("transcription completed",
		"provider", c.name,
		"model", req.Model,
		"chars", len(result.Text),
	)

	return &result, nil
}
