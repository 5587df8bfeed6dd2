// Package apiclient builds the resty clients used to talk to the import
// backend and decodes its error bodies.
package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-importer/internal/importer"
	"github.com/JakeFAU/catalog-importer/internal/metrics"
)

// RequestIDHeader carries a per-request correlation ID.
const RequestIDHeader = "X-Request-ID"

// Config describes how to reach the backend.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	// IDs stamps each request with RequestIDHeader when set.
	IDs    importer.IDGenerator
	Logger *zap.Logger
}

// New returns a client for request/response calls. Every request is bounded
// by cfg.Timeout.
func New(cfg Config) *resty.Client {
	c := newClient(cfg)
	if cfg.Timeout > 0 {
		c.SetTimeout(cfg.Timeout)
	}
	return c
}

// NewStreaming returns a client for long-lived server-push responses. It has
// no overall timeout; callers bound the stream with a context.
func NewStreaming(cfg Config) *resty.Client {
	return newClient(cfg)
}

func newClient(cfg Config) *resty.Client {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("Accept", "application/json")
	if cfg.UserAgent != "" {
		c.SetHeader("User-Agent", cfg.UserAgent)
	}
	ids := cfg.IDs
	c.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		// Capture the route template before resty expands it into the final URL.
		req.SetContext(context.WithValue(req.Context(), routeKey{}, req.URL))
		if ids == nil || req.Header.Get(RequestIDHeader) != "" {
			return nil
		}
		id, err := ids.NewID()
		if err != nil {
			return fmt.Errorf("request id: %w", err)
		}
		req.SetHeader(RequestIDHeader, id)
		return nil
	})
	c.OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
		route := Route(resp.Request)
		metrics.ObserveHTTPRequest(resp.Request.Method, route, resp.StatusCode(), resp.Time())
		logger.Debug("api response",
			zap.String("method", resp.Request.Method),
			zap.String("route", route),
			zap.Int("status", resp.StatusCode()),
			zap.Duration("duration", resp.Time()),
		)
		return nil
	})
	return c
}

type routeKey struct{}

// Route returns the unexpanded route template of req (for example
// "/api/progress/{task_id}"), falling back to the request URL.
func Route(req *resty.Request) string {
	if req == nil {
		return ""
	}
	if route, ok := req.Context().Value(routeKey{}).(string); ok && route != "" {
		return route
	}
	return req.URL
}

// ErrorBody is the backend's error envelope.
type ErrorBody struct {
	Detail any `json:"detail"`
}

// Message flattens Detail, which is a string for handled errors and a list
// of field errors for validation failures.
func (b ErrorBody) Message() string {
	switch d := b.Detail.(type) {
	case nil:
		return ""
	case string:
		return d
	case []any:
		parts := make([]string, 0, len(d))
		for _, item := range d {
			if m, ok := item.(map[string]any); ok {
				if msg, ok := m["msg"].(string); ok {
					parts = append(parts, msg)
					continue
				}
			}
			parts = append(parts, fmt.Sprint(item))
		}
		return strings.Join(parts, "; ")
	default:
		return fmt.Sprint(d)
	}
}

// APIError is a non-2xx response from a request/response endpoint.
type APIError struct {
	Method     string
	Route      string
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Route, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Route, e.StatusCode)
}

// ErrNotFound matches any APIError with status 404.
var ErrNotFound = errors.New("not found")

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// CheckResponse converts a transport failure or a non-2xx response into an
// error. Requests should register &ErrorBody{} via SetError.
func CheckResponse(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if !resp.IsError() {
		return nil
	}
	return NewAPIError(resp)
}

// NewAPIError builds an APIError from a response.
func NewAPIError(resp *resty.Response) *APIError {
	apiErr := &APIError{
		Method:     resp.Request.Method,
		Route:      Route(resp.Request),
		StatusCode: resp.StatusCode(),
	}
	if body, ok := resp.Error().(*ErrorBody); ok && body != nil {
		apiErr.Detail = body.Message()
	}
	if apiErr.Detail == "" && resp.StatusCode() >= http.StatusInternalServerError {
		apiErr.Detail = http.StatusText(resp.StatusCode())
	}
	return apiErr
}
