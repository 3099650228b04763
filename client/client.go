// Package client talks to the board API over HTTP. *Client satisfies
// board.TaskStore so a board.Session can persist moves through it.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"prism-board/board"
	"prism-board/domain"
)

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 8 * 1024

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("board api: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("board api: %d: %s", e.StatusCode, e.Message)
}

// Client wraps http.Client with helpers for the board API.
type Client struct {
	BaseURL string
	Bearer  string
	HTTP    *http.Client
}

// New creates a Client for baseURL that authenticates with bearer.
func New(baseURL, bearer string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Bearer:  bearer,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

type tasksResponse struct {
	Tasks []domain.Task `json:"tasks"`
}

type createBody struct {
	Title  string `json:"title"`
	Notes  string `json:"notes,omitempty"`
	Status string `json:"status,omitempty"`
}

type moveBody struct {
	Status string `json:"status"`
	Index  int    `json:"index"`
}

// MoveResult is the server's answer to a move request.
type MoveResult struct {
	Task       domain.Task        `json:"task"`
	Rebalanced []board.Reposition `json:"rebalanced"`
}

type errorBody struct {
	Error string `json:"error"`
}

// ListTasks returns every task on the caller's board.
func (c *Client) ListTasks(ctx context.Context) ([]domain.Task, error) {
	var out tasksResponse
	if err := c.do(ctx, http.MethodGet, "/api/tasks", nil, &out); err != nil {
		return nil, err
	}
	return out.Tasks, nil
}

// UpdateTask writes patch to the task. Failures are reported as
// *domain.PersistenceError carrying the server's reason when it sent one.
func (c *Client) UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) error {
	return asPersistenceError(c.do(ctx, http.MethodPatch, "/api/tasks/"+url.PathEscape(id), patch, nil))
}

// CreateTask adds a task at the end of its column.
func (c *Client) CreateTask(ctx context.Context, title, notes, status string) (domain.Task, error) {
	var out domain.Task
	err := c.do(ctx, http.MethodPost, "/api/tasks", createBody{Title: title, Notes: notes, Status: status}, &out)
	return out, asPersistenceError(err)
}

// MoveTask asks the server to place the task. Positioning happens against
// the stored board rather than a local copy.
func (c *Client) MoveTask(ctx context.Context, id, status string, index int) (MoveResult, error) {
	var out MoveResult
	err := c.do(ctx, http.MethodPost, "/api/tasks/"+url.PathEscape(id)+"/move", moveBody{Status: status, Index: index}, &out)
	return out, asPersistenceError(err)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := sonic.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet {
		req.Header.Set("Idempotency-Key", uuid.NewString())
	}
	if c.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.Bearer)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readStatusError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return sonic.ConfigStd.NewDecoder(resp.Body).Decode(out)
}

func readStatusError(resp *http.Response) error {
	se := &StatusError{StatusCode: resp.StatusCode}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(data) == 0 {
		return se
	}
	var eb errorBody
	if sonic.Unmarshal(data, &eb) == nil && eb.Error != "" {
		se.Message = eb.Error
	}
	return se
}

// asPersistenceError keeps the server's message as the user-facing reason.
// Transport failures carry no reason.
func asPersistenceError(err error) error {
	if err == nil {
		return nil
	}
	pe := &domain.PersistenceError{Err: err}
	var se *StatusError
	if errors.As(err, &se) {
		pe.Reason = se.Message
	}
	return pe
}
