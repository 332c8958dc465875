package domain

import (
	"context"
	"io"
	"net/http"
)

// TransportRequest is a single HTTP exchange to perform.
type TransportRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
	// Stream requests an unbuffered response body (SSE).
	Stream bool
}

// TransportResponse is the outcome of a TransportRequest. The caller owns
// Body and must close it; for buffered exchanges it is still a stream so
// that size limits apply at the read site.
type TransportResponse struct {
	Status  int
	Headers http.Header
	Body    io.ReadCloser
}

// Transport performs HTTP exchanges on behalf of the dispatcher and client.
// Implementations return an error only for transport-level failures
// (connection refused, DNS, timeout); non-2xx statuses are returned as a
// normal response for the caller to classify. Send must honor ctx
// cancellation by aborting the request and any in-flight body.
type Transport interface {
	Send(ctx context.Context, req *TransportRequest) (*TransportResponse, error)
}
