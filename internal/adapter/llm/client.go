package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"llmcourier/internal/domain"
	"llmcourier/internal/infra/config"
	"llmcourier/internal/infra/tracer"
)

// Client talks to any OpenAI-compatible API: chat completions (buffered and
// streaming), embeddings, and the batch endpoints.
type Client struct {
	name      string
	model     string
	apiKey    string
	baseURL   string
	transport domain.Transport
	logger    *slog.Logger
}

// New creates a client. When transport is nil a pooled HTTPTransport is
// built from cfg.
func New(cfg config.ProviderConfig, transport domain.Transport, logger *slog.Logger) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if transport == nil {
		transport = NewHTTPTransport(cfg)
	}

	return &Client{
		name:      cfg.Name,
		model:     cfg.Model,
		apiKey:    cfg.APIKey,
		baseURL:   baseURL,
		transport: transport,
		logger:    logger,
	}
}

// Name returns the configured provider name.
func (c *Client) Name() string { return c.name }

// Transport returns the transport the client was built with, for sharing
// with a dispatcher.
func (c *Client) Transport() domain.Transport { return c.transport }

func (c *Client) headers() map[string]string {
	h := map[string]string{}
	if c.apiKey != "" {
		h["Authorization"] = "Bearer " + c.apiKey
	}
	return h
}

// Chat sends a buffered chat completion request.
func (c *Client) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.chat",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", c.name),
			tracer.StringAttr("llm.model", req.Model),
		),
	)
	defer span.End()

	if req.Model == "" {
		req.Model = c.model
	}
	req.Stream = false

	body, err := json.Marshal(toWireRequest(req))
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := doJSONRequest(ctx, c.transport, http.MethodPost, c.baseURL+"/chat/completions", body, c.headers())
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	result, err := ParseChatResponse(respBody)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	setUsageAttrs(span, result.Usage)
	tracer.SetOK(span)
	logChatCompleted(c.logger, c.name, result)

	return result, nil
}

// ChatStream sends a streaming chat completion request and returns the
// decoded event channel. The channel is closed after the terminal event.
func (c *Client) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamEvent, error) {
	if req.Model == "" {
		req.Model = c.model
	}
	req.Stream = true

	body, err := json.Marshal(toWireRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	resp, err := doStreamRequest(ctx, c.transport, c.baseURL+"/chat/completions", body, c.headers())
	if err != nil {
		return nil, err
	}

	return DecodeStream(ctx, resp.Body), nil
}

// ChatTask builds a dispatchable RequestTask for req. The task payload is
// the fully-built wire body; the dispatcher never re-interprets it.
func (c *Client) ChatTask(req domain.ChatRequest) (domain.RequestTask, error) {
	if req.Model == "" {
		req.Model = c.model
	}

	body, err := json.Marshal(toWireRequest(req))
	if err != nil {
		return domain.RequestTask{}, fmt.Errorf("marshal request: %w", err)
	}

	return domain.RequestTask{
		ID:        domain.NewTaskID(),
		Method:    http.MethodPost,
		URL:       c.baseURL + "/chat/completions",
		Headers:   c.headers(),
		Payload:   body,
		Streaming: req.Stream,
	}, nil
}

// ParseChatResponse decodes a buffered chat completion body, e.g. the Body
// field of a successful TaskResult.
func ParseChatResponse(body []byte) (*domain.ChatResponse, error) {
	var resp wireResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return fromWireResponse(resp), nil
}
