// Package api is the HTTP client for the session service: sessions, their
// message history and their citation metadata.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/campus-assistant/internal/model"
	"github.com/capitalize-ai/campus-assistant/pkg/logger"
	"github.com/capitalize-ai/campus-assistant/pkg/metrics"
	"github.com/capitalize-ai/campus-assistant/pkg/tracing"
)

// ErrNotFound is returned when the session service reports 404.
var ErrNotFound = errors.New("not found")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Operation, e.StatusCode)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Operation, e.StatusCode, e.Body)
}

// Is makes errors.Is(err, ErrNotFound) match 404 responses.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// IsPermanent reports whether retrying the request cannot succeed: any 4xx
// except 408 and 429.
func IsPermanent(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	if se.StatusCode == http.StatusRequestTimeout || se.StatusCode == http.StatusTooManyRequests {
		return false
	}
	return se.StatusCode >= 400 && se.StatusCode < 500
}

// Config configures the client.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client talks to the session service.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	tracer     trace.Tracer
	logger     *logger.Logger
}

// NewClient creates a client.
func NewClient(cfg Config, log *logger.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		tracer:     tracing.Tracer("campus-assistant/api"),
		logger:     logger.OrNop(log).Named("api"),
	}
}

// CreateSession creates a session titled by its first question.
func (c *Client) CreateSession(ctx context.Context, firstQuestion string) (string, error) {
	var resp model.CreateSessionResponse
	err := c.do(ctx, "create_session", http.MethodPost, "/sessions",
		model.CreateSessionRequest{FirstQuestion: firstQuestion}, &resp)
	if err != nil {
		return "", err
	}
	if resp.SessionID == "" {
		return "", errors.New("create_session: empty session id in response")
	}
	return resp.SessionID, nil
}

// ListSessions returns the user's sessions.
func (c *Client) ListSessions(ctx context.Context) ([]model.SessionSummary, error) {
	var resp []model.SessionSummary
	if err := c.do(ctx, "list_sessions", http.MethodGet, "/sessions", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// AddMessage appends one message to a session's history.
func (c *Client) AddMessage(ctx context.Context, sessionID string, role model.Role, content string) error {
	return c.do(ctx, "add_message", http.MethodPost, sessionPath(sessionID, "messages"),
		model.AddMessageRequest{Content: content, Role: role}, nil)
}

// GetMessages returns a session's history in order.
func (c *Client) GetMessages(ctx context.Context, sessionID string) ([]model.HistoryEntry, error) {
	var resp []model.HistoryEntry
	if err := c.do(ctx, "get_messages", http.MethodGet, sessionPath(sessionID, "messages"), nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetMetadata returns the citations stored for a session.
func (c *Client) GetMetadata(ctx context.Context, sessionID string) ([]model.Citation, error) {
	var resp model.MetadataResponse
	if err := c.do(ctx, "get_metadata", http.MethodGet, sessionPath(sessionID, "metadata"), nil, &resp); err != nil {
		return nil, err
	}
	return resp.MetaData, nil
}

// UpdateMetadata stores one citation record for a session.
func (c *Client) UpdateMetadata(ctx context.Context, sessionID string, citation model.Citation) error {
	return c.do(ctx, "update_metadata", http.MethodPut, sessionPath(sessionID, "metadata"),
		model.MetadataUpdateRequest{MetaData: citation}, nil)
}

func sessionPath(sessionID, sub string) string {
	return "/sessions/" + url.PathEscape(sessionID) + "/" + sub
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) (err error) {
	ctx, span := c.tracer.Start(ctx, "api."+op, trace.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.path", path),
	))
	start := time.Now()
	defer func() {
		metrics.RecordClientCall(op, err, time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		c.logger.Debug("session service error",
			zap.String("operation", op),
			zap.Int("status", resp.StatusCode),
		)
		return &StatusError{Operation: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}
