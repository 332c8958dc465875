package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"llmcourier/internal/domain"
	"llmcourier/internal/infra/tracer"
)

// Policy defaults, applied by New for zero-valued Config fields.
const (
	defaultConcurrencyCeiling = 10
	defaultMaxRetries         = 3
	defaultBaseBackoff        = 500 * time.Millisecond
	defaultBackoffMultiplier  = 2.0
)

// maxResponseBody bounds a buffered task response.
const maxResponseBody = 10 * 1024 * 1024 // 10 MB

var defaultRetryableStatuses = []int{429, 500, 502, 503, 504}

// Config holds the concurrency and retry policy for DispatchAll.
// Zero values take the defaults above; set MaxRetries to a negative value
// to disable retries entirely.
type Config struct {
	// MaxConcurrency caps simultaneous in-flight tasks. Zero means
	// min(task count, 10).
	MaxConcurrency int
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries        int
	BaseBackoff       time.Duration
	BackoffMultiplier float64
	// RetryableStatusCodes lists HTTP statuses that trigger a retry.
	RetryableStatusCodes []int
	// PerRequestTimeout bounds each individual attempt, not the whole
	// retry sequence. Exceeding it counts as a transient transport error.
	PerRequestTimeout time.Duration
	// RequestsPerMin enables client-side rate limiting across all workers
	// when > 0. Burst defaults to 1.
	RequestsPerMin float64
	Burst          int
	// OnEvent, when set, receives each decoded StreamEvent as streaming
	// tasks are drained. It is called from worker goroutines; events for
	// different tasks interleave.
	OnEvent func(taskID string, ev domain.StreamEvent)
}

// Dispatcher runs RequestTasks against a shared transport with bounded
// concurrency, uniform retry/backoff, and isolated failure handling.
type Dispatcher struct {
	transport domain.Transport
	decode    domain.StreamDecoder
	cfg       Config
	retryable map[int]struct{}
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// New creates a Dispatcher. decode handles streaming task bodies and may be
// nil when no task has Streaming set.
func New(transport domain.Transport, decode domain.StreamDecoder, cfg Config, logger *slog.Logger) *Dispatcher {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	} else if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = defaultBaseBackoff
	}
	if cfg.BackoffMultiplier < 1.0 {
		cfg.BackoffMultiplier = defaultBackoffMultiplier
	}
	codes := cfg.RetryableStatusCodes
	if len(codes) == 0 {
		codes = defaultRetryableStatuses
	}
	retryable := make(map[int]struct{}, len(codes))
	for _, code := range codes {
		retryable[code] = struct{}{}
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerMin > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerMin/60.0), burst)
	}

	return &Dispatcher{
		transport: transport,
		decode:    decode,
		cfg:       cfg,
		retryable: retryable,
		limiter:   limiter,
		logger:    logger,
	}
}

// DispatchAll runs every task to a terminal result. Results are returned in
// input order regardless of completion order, and one task's failure never
// cancels its siblings. An empty task list returns an empty result list.
//
// Cancelling ctx aborts in-flight attempts; tasks not yet terminal report a
// Cancelled failure while already-terminal results are preserved.
func (d *Dispatcher) DispatchAll(ctx context.Context, tasks []domain.RequestTask) []domain.TaskResult {
	results := make([]domain.TaskResult, len(tasks))
	if len(tasks) == 0 {
		return results
	}

	limit := d.cfg.MaxConcurrency
	if limit <= 0 {
		limit = len(tasks)
		if limit > defaultConcurrencyCeiling {
			limit = defaultConcurrencyCeiling
		}
	}

	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup

	for i := range tasks {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			task := &tasks[i]
			if task.ID == "" {
				task.ID = domain.NewTaskID()
			}

			// Acquire a worker slot.
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				task.State = domain.TaskFailed
				results[i] = domain.TaskResult{
					ID:    task.ID,
					State: domain.TaskFailed,
					Err:   fmt.Errorf("%w: %v", domain.ErrCancelled, ctx.Err()),
				}
				return
			}

			results[i] = d.runTask(ctx, task)
		}(i)
	}

	wg.Wait()
	return results
}

// runTask drives one task through its retry loop to a terminal result.
// The task's counters are mutated only here, by this single worker.
func (d *Dispatcher) runTask(ctx context.Context, task *domain.RequestTask) domain.TaskResult {
	ctx, span := tracer.StartSpan(ctx, "dispatch.task",
		trace.WithAttributes(
			tracer.StringAttr("task.id", task.ID),
		),
	)
	defer span.End()

	for {
		task.State = domain.TaskInFlight
		res, retryable, retryAfterHint := d.attempt(ctx, task)

		if !retryable || task.Attempt >= d.cfg.MaxRetries {
			task.State = res.State
			span.SetAttributes(tracer.IntAttr("task.attempts", res.AttemptsMade))
			if res.Err != nil {
				tracer.RecordError(span, res.Err)
				d.logger.Warn("task failed",
					"task", task.ID,
					"attempts", res.AttemptsMade,
					"status", res.Status,
					"code", domain.ErrorCodeOf(res.Err),
					"error", res.Err,
				)
			} else {
				tracer.SetOK(span)
				d.logger.Debug("task completed",
					"task", task.ID,
					"attempts", res.AttemptsMade,
					"status", res.Status,
				)
			}
			return res
		}

		task.State = domain.TaskRetryScheduled
		wait := backoffDelay(d.cfg.BaseBackoff, d.cfg.BackoffMultiplier, task.Attempt)
		if res.Status == http.StatusTooManyRequests && retryAfterHint > 0 {
			wait = retryAfterHint
		}

		d.logger.Debug("task retry scheduled",
			"task", task.ID,
			"attempt", task.Attempt+1,
			"status", res.Status,
			"backoff", wait,
		)

		if err := sleep(ctx, wait); err != nil {
			res.State = domain.TaskFailed
			res.Err = fmt.Errorf("%w: %v", domain.ErrCancelled, err)
			task.State = domain.TaskFailed
			tracer.RecordError(span, res.Err)
			return res
		}

		task.Attempt++
	}
}

// attempt performs one HTTP exchange for the task. It reports whether the
// outcome is retryable and, for 429 responses, any Retry-After hint.
func (d *Dispatcher) attempt(ctx context.Context, task *domain.RequestTask) (domain.TaskResult, bool, time.Duration) {
	res := domain.TaskResult{ID: task.ID, AttemptsMade: task.Attempt + 1}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			res.State = domain.TaskFailed
			res.Err = fmt.Errorf("%w: %v", domain.ErrCancelled, err)
			return res, false, 0
		}
	}

	attemptCtx := ctx
	if d.cfg.PerRequestTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, d.cfg.PerRequestTimeout)
		defer cancel()
	}

	resp, err := d.transport.Send(attemptCtx, &domain.TransportRequest{
		Method:  task.Method,
		URL:     task.URL,
		Headers: task.Headers,
		Body:    task.Payload,
		Stream:  task.Streaming,
	})
	if err != nil {
		res.State = domain.TaskFailed
		if ctx.Err() != nil {
			res.Err = fmt.Errorf("%w: %v", domain.ErrCancelled, ctx.Err())
			return res, false, 0
		}
		if !errors.Is(err, domain.ErrTransport) {
			err = fmt.Errorf("%w: %v", domain.ErrTransport, err)
		}
		res.Err = err
		return res, true, 0
	}

	res.Status = resp.Status
	if resp.Status < 200 || resp.Status > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		res.State = domain.TaskFailed
		res.Err = domain.ErrorFromStatus(resp.Status, body)
		_, retryable := d.retryable[resp.Status]
		var hint time.Duration
		if resp.Status == http.StatusTooManyRequests {
			hint = retryAfter(resp.Headers)
		}
		return res, retryable, hint
	}

	if task.Streaming {
		return d.drainStream(ctx, task, resp.Body, res)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	resp.Body.Close()
	if err != nil {
		res.State = domain.TaskFailed
		if ctx.Err() != nil {
			res.Err = fmt.Errorf("%w: %v", domain.ErrCancelled, ctx.Err())
			return res, false, 0
		}
		res.Err = fmt.Errorf("%w: read response: %v", domain.ErrTransport, err)
		return res, true, 0
	}

	res.State = domain.TaskSucceeded
	res.Body = body
	return res, false, 0
}

// drainStream consumes the decoded event stream to its end. Success means
// the stream reached a Done event; a stream that dies earlier is a terminal
// failure. The exchange already consumed server-side work, so it is not
// retried.
func (d *Dispatcher) drainStream(ctx context.Context, task *domain.RequestTask, body io.ReadCloser, res domain.TaskResult) (domain.TaskResult, bool, time.Duration) {
	var (
		sawDelta bool
		sawDone  bool
		lastErr  error
	)

	for ev := range d.decode(ctx, body) {
		res.Events = append(res.Events, ev)
		if d.cfg.OnEvent != nil {
			d.cfg.OnEvent(task.ID, ev)
		}
		switch ev.Kind {
		case domain.EventDelta:
			sawDelta = true
		case domain.EventDone:
			sawDone = true
		case domain.EventError:
			lastErr = ev.Err
		}
	}

	if sawDone {
		res.State = domain.TaskSucceeded
		return res, false, 0
	}

	res.State = domain.TaskFailed
	if ctx.Err() != nil {
		res.Err = fmt.Errorf("%w: %v", domain.ErrCancelled, ctx.Err())
		return res, false, 0
	}

	if !sawDelta {
		if lastErr != nil {
			res.Err = fmt.Errorf("%w: %v", domain.ErrStreamAborted, lastErr)
		} else {
			res.Err = domain.NewDomainError("Dispatcher.drainStream", domain.ErrStreamAborted, "stream closed before any event")
		}
		return res, false, 0
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("%w: stream interrupted", domain.ErrTransport)
	}
	res.Err = lastErr
	return res, false, 0
}
