// Package ragclient forwards questions to the RAG query backend and returns
// the text it answers with.
package ragclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	commonhttp "rag-workers/internal/common/http"
	"rag-workers/internal/common/logger"
	"rag-workers/internal/common/metrics"
)

const (
	DefaultQueryURL   = "http://20.168.112.204:8000/rag/query"
	DefaultTimeout    = 60 * time.Second
	DefaultNumResults = 5

	// ErrorPrefix starts every text CallBackend returns for a failed call.
	ErrorPrefix = "⚠️ Backend error: "
	// NoResultText is returned when the backend answers without a result field.
	NoResultText = "(no result field in response)"
)

type Config struct {
	QueryURL string
	Timeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueryURL == "" {
		c.QueryURL = DefaultQueryURL
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Client is safe for concurrent use; it holds no per-call state.
type Client struct {
	config Config
	http   *commonhttp.Client
	logger logger.Logger
	tracer trace.Tracer
}

func NewClient(cfg Config, log logger.Logger) *Client {
	cfg = cfg.withDefaults()
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Client{
		config: cfg,
		http:   commonhttp.NewClient(cfg.Timeout),
		logger: log.With(map[string]interface{}{"component": "ragclient"}),
		tracer: otel.Tracer("rag-workers/ragclient"),
	}
}

func (c *Client) QueryURL() string {
	return c.config.QueryURL
}

func (c *Client) Timeout() time.Duration {
	return c.config.Timeout
}

// CallBackend asks the backend and always returns text: the result field,
// NoResultText, or ErrorPrefix followed by the failure description.
// numAnswers defaults to DefaultNumResults; values past the first are ignored.
func (c *Client) CallBackend(ctx context.Context, question, langCode string, numAnswers ...int) string {
	numResults := DefaultNumResults
	if len(numAnswers) > 0 {
		numResults = numAnswers[0]
	}

	text, err := c.Query(ctx, question, langCode, numResults)
	if err != nil {
		return FormatError(err)
	}
	return text
}

// Query performs the backend call and returns failures as *BackendError.
// A response without a result field is not a failure.
func (c *Client) Query(ctx context.Context, question, langCode string, numResults int) (text string, err error) {
	ctx, span := c.tracer.Start(ctx, "rag.query", trace.WithAttributes(
		attribute.String("rag.lang", langCode),
		attribute.Int("rag.num_results", numResults),
	))
	defer span.End()

	started := time.Now()
	outcome := metrics.OutcomeSuccess
	defer func() {
		if err != nil {
			outcome = metrics.OutcomeError
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		metrics.ObserveRAGBackendCall(outcome, started)
	}()

	payload := NewQueryRequest(question, langCode, numResults)

	resp, err := c.http.PostJSON(ctx, c.config.QueryURL, payload)
	if err != nil {
		c.logFailure(err, question, started)
		return "", &BackendError{Err: err}
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if err := checkStatus(resp, c.config.QueryURL); err != nil {
		// drain so the connection can be reused
		_, _ = io.Copy(io.Discard, resp.Body)
		c.logFailure(err, question, started)
		return "", &BackendError{StatusCode: resp.StatusCode, Err: err}
	}

	body, err := decodeResponse(resp.Body)
	if err != nil {
		c.logFailure(err, question, started)
		return "", &BackendError{StatusCode: resp.StatusCode, Err: err}
	}

	text, ok := body.ResultText()
	if !ok {
		outcome = metrics.OutcomeNoResult
		text = NoResultText
	}

	c.logger.Debug("rag backend answered", map[string]interface{}{
		"statusCode": resp.StatusCode,
		"hasResult":  ok,
		"durationMs": time.Since(started).Milliseconds(),
	})

	return text, nil
}

// decodeResponse reads exactly one JSON value from r. Anything but
// whitespace after it makes the body malformed.
func decodeResponse(r io.Reader) (QueryResponse, error) {
	var body QueryResponse
	dec := json.NewDecoder(r)
	if err := dec.Decode(&body); err != nil {
		return body, fmt.Errorf("invalid JSON in response body: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return body, fmt.Errorf("invalid JSON in response body: extra data after value")
	}
	return body, nil
}

func (c *Client) logFailure(err error, question string, started time.Time) {
	c.logger.Warn("rag backend call failed", map[string]interface{}{
		"error":          err.Error(),
		"url":            c.config.QueryURL,
		"questionLength": len(question),
		"timeout":        IsTimeout(err),
		"durationMs":     time.Since(started).Milliseconds(),
	})
}

// checkStatus rejects any final status outside 2xx.
func checkStatus(resp *http.Response, url string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	kind := "Unexpected Status"
	switch {
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		kind = "Client Error"
	case resp.StatusCode >= 500 && resp.StatusCode < 600:
		kind = "Server Error"
	}
	return &StatusError{
		StatusCode: resp.StatusCode,
		Kind:       kind,
		Reason:     http.StatusText(resp.StatusCode),
		URL:        url,
	}
}

// FormatError renders err the way CallBackend returns failures.
func FormatError(err error) string {
	return ErrorPrefix + err.Error()
}

// IsBackendError reports whether text is a failure returned by CallBackend.
func IsBackendError(text string) bool {
	return strings.HasPrefix(text, ErrorPrefix)
}

// IsTimeout reports whether err comes from the request exceeding its deadline.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
