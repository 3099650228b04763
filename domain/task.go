package domain

import (
	"regexp"
	"strings"
)

// Status is a board column key.
type Status string

const (
	StatusTodo       Status = "TODO"
	StatusInProgress Status = "IN_PROGRESS"
	StatusInReview   Status = "IN_REVIEW"
	StatusDone       Status = "DONE"
)

// Columns lists the board columns in display order.
var Columns = []Status{StatusTodo, StatusInProgress, StatusInReview, StatusDone}

var whitespaceRun = regexp.MustCompile(`\s+`)

// Task represents a single board item.
type Task struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Notes     string  `json:"notes,omitempty"`
	Status    Status  `json:"status"`
	Position  float64 `json:"position"`
	UpdatedAt int64   `json:"updatedAt,omitempty"`
	// Version is the storage ETag observed when the task was read.
	Version string `json:"-"`
}

// Valid reports whether s is one of the board columns.
func (s Status) Valid() bool {
	for _, c := range Columns {
		if s == c {
			return true
		}
	}
	return false
}

// NormalizeStatus maps free-form input onto a column key. Unknown values fall
// back to TODO.
func NormalizeStatus(raw string) Status {
	key := Status(whitespaceRun.ReplaceAllString(strings.ToUpper(raw), "_"))
	if key.Valid() {
		return key
	}
	switch key {
	case "TO_DO":
		return StatusTodo
	case "REVIEW":
		return StatusInReview
	}
	return StatusTodo
}

// ParseStatus accepts only exact column keys (case-insensitive, trimmed).
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", invalidArgument("unknown column %q", raw)
	}
	return s, nil
}

// TaskPatch carries a partial task update. Nil fields are left untouched.
type TaskPatch struct {
	Title    *string  `json:"title,omitempty"`
	Notes    *string  `json:"notes,omitempty"`
	Status   *Status  `json:"status,omitempty"`
	Position *float64 `json:"position,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Notes == nil && p.Status == nil && p.Position == nil
}

// Apply copies the set fields onto t.
func (p TaskPatch) Apply(t *Task) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Notes != nil {
		t.Notes = *p.Notes
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Position != nil {
		t.Position = *p.Position
	}
}
