// Package backend implements the remote mutation actions against the
// productivity REST API. It is the reference action provider for the sync
// engine; deployments talking to a different remote supply their own
// registry instead.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"driftsync/internal/actions"
	"driftsync/internal/config"
	"driftsync/internal/models"

	"github.com/rs/zerolog"
)

// TokenProvider supplies the bearer token per request. Token retrieval is
// owned by the embedding application; a failure here fails the operation
// like any transient error.
type TokenProvider func(ctx context.Context) (string, error)

// StaticToken wraps a fixed token as a TokenProvider.
func StaticToken(token string) TokenProvider {
	return func(context.Context) (string, error) {
		return token, nil
	}
}

// Client calls the productivity backend. The HTTP client timeout is the
// transport-owned timeout the drain loop relies on: a hung request fails
// the operation instead of stalling the pass forever.
type Client struct {
	baseURL    string
	token      TokenProvider
	httpClient *http.Client
	logger     *zerolog.Logger
}

func NewClient(cfg config.BackendConfig, token TokenProvider, logger *zerolog.Logger) *Client {
	if token == nil {
		token = StaticToken(cfg.Token)
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		token:      token,
		httpClient: &http.Client{Timeout: config.Duration(cfg.Timeout, 10*time.Second)},
		logger:     logger,
	}
}

// Registry returns the dispatch table wiring every operation type to its
// remote call.
func (c *Client) Registry() actions.Registry {
	r := actions.NewRegistry()
	r.Register(models.OpCompleteTask, c.CompleteTask)
	r.Register(models.OpUncompleteTask, c.UncompleteTask)
	r.Register(models.OpCompleteRitual, c.CompleteRitual)
	r.Register(models.OpUncompleteRitual, c.UncompleteRitual)
	r.Register(models.OpCreateTask, c.CreateTask)
	r.Register(models.OpUpdateTask, c.UpdateTask)
	r.Register(models.OpDeleteTask, c.DeleteTask)
	return r
}

// ProbeURL returns the health endpoint used as the default connectivity
// probe target.
func (c *Client) ProbeURL() string {
	return c.baseURL + "/healthz"
}

func (c *Client) CompleteTask(ctx context.Context, op models.PendingOperation) error {
	return c.send(ctx, http.MethodPost, fmt.Sprintf("/api/v1/tasks/%s/complete", url.PathEscape(op.EntityID)), nil)
}

func (c *Client) UncompleteTask(ctx context.Context, op models.PendingOperation) error {
	return c.send(ctx, http.MethodPost, fmt.Sprintf("/api/v1/tasks/%s/uncomplete", url.PathEscape(op.EntityID)), nil)
}

func (c *Client) CompleteRitual(ctx context.Context, op models.PendingOperation) error {
	body, err := dateBody(op)
	if err != nil {
		return err
	}
	return c.send(ctx, http.MethodPost, fmt.Sprintf("/api/v1/rituals/%s/complete", url.PathEscape(op.EntityID)), body)
}

func (c *Client) UncompleteRitual(ctx context.Context, op models.PendingOperation) error {
	body, err := dateBody(op)
	if err != nil {
		return err
	}
	return c.send(ctx, http.MethodPost, fmt.Sprintf("/api/v1/rituals/%s/uncomplete", url.PathEscape(op.EntityID)), body)
}

func (c *Client) CreateTask(ctx context.Context, op models.PendingOperation) error {
	if len(op.Payload) == 0 {
		return actions.Permanent(fmt.Errorf("create task %s has no payload", op.EntityID))
	}
	return c.send(ctx, http.MethodPost, "/api/v1/tasks", op.Payload)
}

func (c *Client) UpdateTask(ctx context.Context, op models.PendingOperation) error {
	if len(op.Payload) == 0 {
		return actions.Permanent(fmt.Errorf("update task %s has no payload", op.EntityID))
	}
	return c.send(ctx, http.MethodPut, fmt.Sprintf("/api/v1/tasks/%s", url.PathEscape(op.EntityID)), op.Payload)
}

func (c *Client) DeleteTask(ctx context.Context, op models.PendingOperation) error {
	return c.send(ctx, http.MethodDelete, fmt.Sprintf("/api/v1/tasks/%s", url.PathEscape(op.EntityID)), nil)
}

// dateBody builds the JSON body for date-scoped ritual toggles.
func dateBody(op models.PendingOperation) ([]byte, error) {
	if op.Date == "" {
		return nil, actions.Permanent(fmt.Errorf("ritual operation %s has no date", op.EntityID))
	}
	body, err := json.Marshal(map[string]string{"date": op.Date})
	if err != nil {
		return nil, fmt.Errorf("encode ritual date: %w", err)
	}
	return body, nil
}

func (c *Client) send(ctx context.Context, method, path string, body []byte) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := c.addAuth(ctx, req); err != nil {
		return err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network errors and client timeouts are transient by definition.
		return fmt.Errorf("backend request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Backend request")

	return classifyStatus(resp.StatusCode)
}

func (c *Client) addAuth(ctx context.Context, req *http.Request) error {
	if c.token == nil {
		return nil
	}
	tok, err := c.token(ctx)
	if err != nil {
		return fmt.Errorf("resolve backend token: %w", err)
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return nil
}

// classifyStatus maps a response status to the engine's failure taxonomy.
// 2xx succeeds. Statuses proving the mutation itself is invalid (the entity
// no longer exists, conflicts, or fails validation) are permanent: a replay
// would hit the same wall. Everything else, including 408/429/5xx, is
// transient and worth retrying.
func classifyStatus(status int) error {
	if status < http.StatusMultipleChoices {
		return nil
	}

	err := fmt.Errorf("http %d", status)
	switch status {
	case http.StatusNotFound, http.StatusConflict, http.StatusGone, http.StatusUnprocessableEntity:
		return actions.Permanent(err)
	}
	return err
}
