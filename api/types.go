package api

import (
	"context"

	"prism-board/domain"
)

// Storage abstracts persistence for handlers.
type Storage interface {
	ListTasks(ctx context.Context, userID string) ([]domain.Task, error)
	GetTask(ctx context.Context, userID, id string) (domain.Task, error)
	InsertTask(ctx context.Context, userID string, task domain.Task) (domain.Task, error)
	UpdateTask(ctx context.Context, userID, id string, patch domain.TaskPatch, version string) (string, error)
	UpdatePositions(ctx context.Context, userID string, tasks []domain.Task) error
	FetchSettings(ctx context.Context, userID string) (domain.Settings, error)
	SaveSettings(ctx context.Context, userID string, settings domain.Settings) error
	Ping(ctx context.Context) error
}

// EventSink receives task events once the corresponding write is stored.
type EventSink interface {
	PublishEvents(ctx context.Context, events []domain.TaskEvent) error
}

// ChangeNotifier tells stream subscribers that a user's board changed.
type ChangeNotifier interface {
	NotifyChanged(ctx context.Context, userID string) error
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deduper prevents processing of duplicate write requests.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when the write fails.
	Remove(ctx context.Context, userID, key string) error
}

type dispatcher interface {
	Dispatch(userID string, events []domain.TaskEvent)
}

// MaxRequestBodySize caps JSON request bodies after decompression.
const MaxRequestBodySize = 64 * 1024 // 64 KiB

type tasksResponse struct {
	Tasks []domain.Task `json:"tasks"`
}

type createTaskRequest struct {
	Title  string `json:"title"`
	Notes  string `json:"notes,omitempty"`
	Status string `json:"status,omitempty"`
}

type patchTaskRequest struct {
	Title    *string  `json:"title,omitempty"`
	Notes    *string  `json:"notes,omitempty"`
	Status   *string  `json:"status,omitempty"`
	Position *float64 `json:"position,omitempty"`
}

type moveTaskRequest struct {
	Status string `json:"status"`
	Index  *int   `json:"index"`
}

type errorResponse struct {
	Error string `json:"error"`
}
