package llm

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"llmcourier/internal/domain"
	"llmcourier/internal/infra/tracer"
)

// maxResponseBody is the maximum response body size we read from LLM APIs.
const maxResponseBody = 10 * 1024 * 1024 // 10 MB

// doJSONRequest performs a buffered request through the transport and
// returns the response body. Non-2xx statuses are mapped to domain errors.
func doJSONRequest(ctx context.Context, t domain.Transport, method, url string, body []byte, headers map[string]string) ([]byte, error) {
	resp, err := t.Send(ctx, &domain.TransportRequest{
		Method:  method,
		URL:     url,
		Headers: headers,
		Body:    body,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.Status < 200 || resp.Status > 299 {
		return nil, mapHTTPError(resp.Status, respBody)
	}

	return respBody, nil
}

// doStreamRequest performs a request expecting an SSE response and returns
// the open response (caller must close Body). Non-2xx statuses are drained
// and mapped to domain errors.
func doStreamRequest(ctx context.Context, t domain.Transport, url string, body []byte, headers map[string]string) (*domain.TransportResponse, error) {
	resp, err := t.Send(ctx, &domain.TransportRequest{
		Method:  http.MethodPost,
		URL:     url,
		Headers: headers,
		Body:    body,
		Stream:  true,
	})
	if err != nil {
		return nil, err
	}

	if resp.Status < 200 || resp.Status > 299 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, mapHTTPError(resp.Status, respBody)
	}

	return resp, nil
}

// mapHTTPError classifies a non-2xx response as a domain error.
func mapHTTPError(statusCode int, body []byte) error {
	return domain.ErrorFromStatus(statusCode, body)
}

// logChatCompleted logs the standard debug message after a successful chat.
func logChatCompleted(logger *slog.Logger, providerName string, result *domain.ChatResponse) {
	logger.Debug("chat completed",
		"provider", providerName,
		"model", result.Model,
		"tokens", result.Usage.TotalTokens,
	)
}

// setUsageAttrs adds token usage attributes to a trace span.
func setUsageAttrs(span trace.Span, usage domain.Usage) {
	span.SetAttributes(
		tracer.IntAttr("llm.prompt_tokens", usage.PromptTokens),
		tracer.IntAttr("llm.completion_tokens", usage.CompletionTokens),
	)
}
