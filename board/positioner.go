package board

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"prism-board/domain"
)

const (
	// Spacing is the gap used for the first task of a column, for appends and
	// between tasks of a rebalanced column.
	Spacing = 1000.0
	// Epsilon is the smallest gap tolerated between neighbouring positions.
	Epsilon = 1e-6
)

// Reposition assigns a new position to a task that was not the one moved.
type Reposition struct {
	TaskID   string  `json:"id"`
	Position float64 `json:"position"`
}

// Placement is the outcome of Place.
type Placement struct {
	TaskID   string        `json:"id"`
	Status   domain.Status `json:"status"`
	Position float64       `json:"position"`
	// Rebalanced is set only when the destination column had to be respaced.
	// It holds the new positions of every other task in that column.
	Rebalanced []Reposition `json:"rebalanced,omitempty"`
}

// Column returns the tasks of a column in visual order. Task statuses are
// normalized before comparison.
func Column(tasks []domain.Task, column domain.Status) []domain.Task {
	out := make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		if domain.NormalizeStatus(string(t.Status)) == column {
			out = append(out, t)
		}
	}
	sortByPosition(out)
	return out
}

// AppendPosition returns the position for a task added at the end of column.
func AppendPosition(tasks []domain.Task, column domain.Status) float64 {
	col := Column(tasks, column)
	if len(col) == 0 {
		return Spacing
	}
	return col[len(col)-1].Position + Spacing
}

// Place computes the status and position for taskID dropped at index of
// column. index counts positions in the column with the moved task already
// removed from its original slot.
func Place(tasks []domain.Task, taskID string, column domain.Status, index int) (Placement, error) {
	if index < 0 {
		return Placement{}, fmt.Errorf("%w: negative index %d", domain.ErrInvalidArgument, index)
	}
	if !column.Valid() {
		return Placement{}, fmt.Errorf("%w: unknown column %q", domain.ErrInvalidArgument, column)
	}
	found := false
	for _, t := range tasks {
		if t.ID == taskID {
			found = true
			break
		}
	}
	if !found {
		return Placement{}, fmt.Errorf("%w: %s", domain.ErrNotFound, taskID)
	}

	others := make([]domain.Task, 0, len(tasks))
	for _, t := range Column(tasks, column) {
		if t.ID != taskID {
			others = append(others, t)
		}
	}
	if index > len(others) {
		index = len(others)
	}

	pos := positionAt(others, index)
	if !fits(others, index, pos) {
		return rebalance(others, taskID, column, index), nil
	}
	return Placement{TaskID: taskID, Status: column, Position: pos}, nil
}

func positionAt(others []domain.Task, index int) float64 {
	switch {
	case len(others) == 0:
		return Spacing
	case index == 0:
		return others[0].Position / 2
	case index >= len(others):
		return others[len(others)-1].Position + Spacing
	default:
		return (others[index-1].Position + others[index].Position) / 2
	}
}

// fits reports whether pos sorts strictly between the neighbours at index
// with at least Epsilon to spare on both sides.
func fits(others []domain.Task, index int, pos float64) bool {
	if math.IsNaN(pos) || math.IsInf(pos, 0) {
		return false
	}
	if index > 0 && pos-others[index-1].Position < Epsilon {
		return false
	}
	if index < len(others) && others[index].Position-pos < Epsilon {
		return false
	}
	return true
}

func rebalance(others []domain.Task, taskID string, column domain.Status, index int) Placement {
	p := Placement{
		TaskID:     taskID,
		Status:     column,
		Position:   float64(index+1) * Spacing,
		Rebalanced: make([]Reposition, 0, len(others)),
	}
	for i, t := range others {
		slot := i + 1
		if i >= index {
			slot++
		}
		p.Rebalanced = append(p.Rebalanced, Reposition{TaskID: t.ID, Position: float64(slot) * Spacing})
	}
	return p
}

func sortByPosition(tasks []domain.Task) {
	slices.SortStableFunc(tasks, func(a, b domain.Task) int {
		return cmp.Compare(a.Position, b.Position)
	})
}
