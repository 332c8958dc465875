package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"llmcourier/internal/domain"
	"llmcourier/internal/infra/tracer"
)

type wireEmbeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type wireEmbeddingResponse struct {
	Model string `json:"model"`
	Data  []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Usage wireUsage `json:"usage"`
}

// Embeddings generates embedding vectors for one or more inputs.
func (c *Client) Embeddings(ctx context.Context, req domain.EmbeddingRequest) (*domain.EmbeddingResponse, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.embeddings",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", c.name),
			tracer.StringAttr("llm.model", req.Model),
			tracer.IntAttr("llm.input_count", len(req.Input)),
		),
	)
	defer span.End()

	if len(req.Input) == 0 {
		err := domain.NewDomainError("Client.Embeddings", domain.ErrInvalidInput, "empty input")
		tracer.RecordError(span, err)
		return nil, err
	}
	if req.Model == "" {
		req.Model = c.model
	}

	body, err := json.Marshal(wireEmbeddingRequest{
		Model:      req.Model,
		Input:      req.Input,
		Dimensions: req.Dimensions,
	})
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := doJSONRequest(ctx, c.transport, http.MethodPost, c.baseURL+"/embeddings", body, c.headers())
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	var wireResp wireEmbeddingResponse
	if err := json.Unmarshal(respBody, &wireResp); err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	result := &domain.EmbeddingResponse{
		Model: wireResp.Model,
		Usage: domain.Usage{
			PromptTokens:     wireResp.Usage.PromptTokens,
			CompletionTokens: wireResp.Usage.CompletionTokens,
			TotalTokens:      wireResp.Usage.TotalTokens,
		},
	}
	for _, d := range wireResp.Data {
		result.Data = append(result.Data, domain.Embedding{Index: d.Index, Vector: d.Embedding})
	}

	tracer.SetOK(span)
	c.logger.Debug("embeddings completed",
		"provider", c.name,
		"model", result.Model,
		"vectors", len(result.Data),
	)

	return result, nil
}
