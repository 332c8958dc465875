package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateProvider(cfg, ve)
	validateDispatch(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateProvider(cfg *Config, ve *ValidationError) {
	if cfg.Provider.BaseURL == "" {
		ve.Add("provider.base_url must be set")
		return
	}
	u, err := url.Parse(cfg.Provider.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		ve.Add("provider.base_url %q is not a valid URL", cfg.Provider.BaseURL)
	}
	if cfg.Provider.ConnTimeout < 0 {
		ve.Add("provider.conn_timeout must be >= 0")
	}
	if cfg.Provider.RespTimeout < 0 {
		ve.Add("provider.resp_timeout must be >= 0")
	}
}

func validateDispatch(cfg *Config, ve *ValidationError) {
	d := cfg.Dispatch
	if d.MaxConcurrency < 0 {
		ve.Add("dispatch.max_concurrency must be >= 0")
	}
	if d.MaxRetries < 0 {
		ve.Add("dispatch.max_retries must be >= 0")
	}
	if d.BaseBackoff < 0 {
		ve.Add("dispatch.base_backoff must be >= 0")
	}
	if d.BackoffMultiplier < 1.0 {
		ve.Add("dispatch.backoff_multiplier must be >= 1.0")
	}
	for _, code := range d.RetryableStatusCodes {
		if code < 100 || code > 599 {
			ve.Add("dispatch.retryable_status_codes contains invalid status %d", code)
		}
	}
	if d.RequestsPerMin < 0 {
		ve.Add("dispatch.requests_per_min must be >= 0")
	}
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		ve.Add("logger.level %q is not one of debug, info, warn, error", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json":
	default:
		ve.Add("logger.format %q is not one of text, json", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout":
	default:
		ve.Add("tracer.exporter %q is not one of noop, stdout", cfg.Tracer.Exporter)
	}
}
