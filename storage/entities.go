package storage

import "prism-board/domain"

// Entity represents base table entity keys.
type Entity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

const (
	EdmInt32   = "Edm.Int32"
	EdmInt64   = "Edm.Int64"
	EdmDouble  = "Edm.Double"
	EdmBoolean = "Edm.Boolean"
)

// taskEntity is a task row. PartitionKey is the owning user, RowKey the task ID.
type taskEntity struct {
	Entity
	ETag          string  `json:"odata.etag,omitempty"`
	Title         string  `json:"Title"`
	Notes         string  `json:"Notes,omitempty"`
	Status        string  `json:"Status"`
	Position      float64 `json:"Position"`
	PositionType  string  `json:"Position@odata.type,omitempty"`
	UpdatedAt     int64   `json:"UpdatedAt,string"`
	UpdatedAtType string  `json:"UpdatedAt@odata.type,omitempty"`
}

// taskUpdate carries a merge update for a task row.
type taskUpdate struct {
	Entity
	Title         *string  `json:"Title,omitempty"`
	Notes         *string  `json:"Notes,omitempty"`
	Status        *string  `json:"Status,omitempty"`
	Position      *float64 `json:"Position,omitempty"`
	PositionType  *string  `json:"Position@odata.type,omitempty"`
	UpdatedAt     *int64   `json:"UpdatedAt,omitempty,string"`
	UpdatedAtType *string  `json:"UpdatedAt@odata.type,omitempty"`
}

type settingsEntity struct {
	Entity
	TasksPerColumn     int    `json:"TasksPerColumn"`
	TasksPerColumnType string `json:"TasksPerColumn@odata.type,omitempty"`
	ShowDoneTasks      bool   `json:"ShowDoneTasks"`
	ShowDoneTasksType  string `json:"ShowDoneTasks@odata.type,omitempty"`
}

func newTaskEntity(userID string, t domain.Task) taskEntity {
	return taskEntity{
		Entity:        Entity{PartitionKey: userID, RowKey: t.ID},
		Title:         t.Title,
		Notes:         t.Notes,
		Status:        string(t.Status),
		Position:      t.Position,
		PositionType:  EdmDouble,
		UpdatedAt:     t.UpdatedAt,
		UpdatedAtType: EdmInt64,
	}
}

func (e taskEntity) task() domain.Task {
	return domain.Task{
		ID:        e.RowKey,
		Title:     e.Title,
		Notes:     e.Notes,
		Status:    domain.NormalizeStatus(e.Status),
		Position:  e.Position,
		UpdatedAt: e.UpdatedAt,
		Version:   e.ETag,
	}
}

func newTaskUpdate(userID, id string, patch domain.TaskPatch, ts int64) taskUpdate {
	upd := taskUpdate{Entity: Entity{PartitionKey: userID, RowKey: id}}
	upd.Title = patch.Title
	upd.Notes = patch.Notes
	if patch.Status != nil {
		s := string(*patch.Status)
		upd.Status = &s
	}
	if patch.Position != nil {
		upd.Position = patch.Position
		t := EdmDouble
		upd.PositionType = &t
	}
	upd.UpdatedAt = &ts
	t := EdmInt64
	upd.UpdatedAtType = &t
	return upd
}
