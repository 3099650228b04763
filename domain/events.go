package domain

import (
	"github.com/bytedance/sonic"
	"github.com/google/uuid"
)

const (
	TaskCreated     = "task-created"
	TaskUpdated     = "task-updated"
	TaskMoved       = "task-moved"
	BoardRebalanced = "board-rebalanced"
)

// TaskEvent is published after a task write has been persisted.
type TaskEvent struct {
	ID         string                 `json:"id"`
	UserID     string                 `json:"userId"`
	EntityID   string                 `json:"entityId"`
	EntityType string                 `json:"entityType"`
	Type       string                 `json:"type"`
	Data       sonic.NoCopyRawMessage `json:"data,omitempty"`
	Timestamp  int64                  `json:"timestamp"`
}

// NewTaskEvent builds an event carrying the given payload.
func NewTaskEvent(userID, entityID, typ string, payload any, ts int64) (TaskEvent, error) {
	data, err := sonic.Marshal(payload)
	if err != nil {
		return TaskEvent{}, err
	}
	return TaskEvent{
		ID:         uuid.NewString(),
		UserID:     userID,
		EntityID:   entityID,
		EntityType: "task",
		Type:       typ,
		Data:       data,
		Timestamp:  ts,
	}, nil
}
