package llm

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"llmcourier/internal/domain"
	"llmcourier/internal/infra/config"
)

// PooledTransportConfig configures HTTP connection pooling for the
// provider transport.
type PooledTransportConfig struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration
}

// Default connection pool settings optimized for LLM API usage patterns:
// few hosts, high concurrency, long-lived connections.
const (
	defaultMaxIdleConns        = 20
	defaultMaxIdleConnsPerHost = 10
	defaultMaxConnsPerHost     = 20
	defaultIdleConnTimeout     = 120 * time.Second
)

// Default transport timeouts.
const (
	defaultConnTimeout = 30 * time.Second
	defaultRespTimeout = 120 * time.Second
)

// NewPooledTransport creates an http.Transport with connection pooling
// suited to LLM API calls.
func NewPooledTransport(connTimeout, respTimeout time.Duration, pool PooledTransportConfig) *http.Transport {
	if connTimeout == 0 {
		connTimeout = defaultConnTimeout
	}
	if respTimeout == 0 {
		respTimeout = defaultRespTimeout
	}

	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = defaultMaxIdleConns
	}
	maxIdlePerHost := pool.MaxIdleConnsPerHost
	if maxIdlePerHost <= 0 {
		maxIdlePerHost = defaultMaxIdleConnsPerHost
	}
	maxConnsPerHost := pool.MaxConnsPerHost
	if maxConnsPerHost <= 0 {
		maxConnsPerHost = defaultMaxConnsPerHost
	}
	idleTimeout := pool.IdleConnTimeout
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleConnTimeout
	}

	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: respTimeout,
		MaxIdleConns:          maxIdle,
		MaxIdleConnsPerHost:   maxIdlePerHost,
		MaxConnsPerHost:       maxConnsPerHost,
		IdleConnTimeout:       idleTimeout,
		ForceAttemptHTTP2:     true,
	}
}

// HTTPTransport implements domain.Transport over net/http with a pooled
// connection transport. It never interprets status codes; callers classify
// non-2xx responses themselves.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport builds an HTTPTransport from provider settings.
// No overall client timeout is set: header and dial timeouts live on the
// pooled transport, and streaming bodies must be allowed to outlive any
// fixed deadline. Per-attempt deadlines come from the caller's context.
func NewHTTPTransport(cfg config.ProviderConfig) *HTTPTransport {
	return &HTTPTransport{
		client: &http.Client{
			Transport: NewPooledTransport(cfg.ConnTimeout, cfg.RespTimeout, PooledTransportConfig{
				MaxIdleConns:        cfg.Pool.MaxIdleConns,
				MaxIdleConnsPerHost: cfg.Pool.MaxIdleConnsPerHost,
				MaxConnsPerHost:     cfg.Pool.MaxConnsPerHost,
				IdleConnTimeout:     cfg.Pool.IdleConnTimeout,
			}),
		},
	}
}

// Send implements domain.Transport.
func (t *HTTPTransport) Send(ctx context.Context, req *domain.TransportRequest) (*domain.TransportResponse, error) {
	var body *bytes.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	} else {
		body = bytes.NewReader(nil)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if req.Body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}

	return &domain.TransportResponse{
		Status:  httpResp.StatusCode,
		Headers: httpResp.Header,
		Body:    httpResp.Body,
	}, nil
}

// Compile-time interface check.
var _ domain.Transport = (*HTTPTransport)(nil)
