package board

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"prism-board/domain"
)

func task(id string, status domain.Status, pos float64) domain.Task {
	return domain.Task{ID: id, Title: id, Status: status, Position: pos}
}

func ids(tasks []domain.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}

// applyPlacement returns a copy of tasks with p applied.
func applyPlacement(tasks []domain.Task, p Placement) []domain.Task {
	out := append([]domain.Task(nil), tasks...)
	rebalanced := map[string]float64{}
	for _, r := range p.Rebalanced {
		rebalanced[r.TaskID] = r.Position
	}
	for i := range out {
		if out[i].ID == p.TaskID {
			out[i].Status = p.Status
			out[i].Position = p.Position
		} else if pos, ok := rebalanced[out[i].ID]; ok {
			out[i].Position = pos
		}
	}
	return out
}

func TestPlaceInteriorScenario(t *testing.T) {
	tasks := []domain.Task{
		task("A", domain.StatusTodo, 1000),
		task("B", domain.StatusTodo, 2000),
		task("C", domain.StatusInProgress, 500),
	}

	p, err := Place(tasks, "C", domain.StatusTodo, 1)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if p.Status != domain.StatusTodo || p.Position != 1500 {
		t.Fatalf("unexpected placement: %#v", p)
	}
	if p.Rebalanced != nil {
		t.Fatalf("expected no rebalance, got %#v", p.Rebalanced)
	}
	got := ids(Column(applyPlacement(tasks, p), domain.StatusTodo))
	if diff := cmp.Diff([]string{"A", "C", "B"}, got); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}
}

func TestPlaceIntoEmptyColumn(t *testing.T) {
	tasks := []domain.Task{task("D", domain.StatusTodo, 1000)}

	p, err := Place(tasks, "D", domain.StatusDone, 0)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if p.Status != domain.StatusDone || p.Position != 1000 {
		t.Fatalf("unexpected placement: %#v", p)
	}
}

func TestPlaceOnlyTaskInColumn(t *testing.T) {
	tasks := []domain.Task{task("A", domain.StatusDone, 42)}

	p, err := Place(tasks, "A", domain.StatusDone, 3)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if p.Position != Spacing {
		t.Fatalf("expected baseline position, got %v", p.Position)
	}
}

func TestPlaceBoundaries(t *testing.T) {
	tasks := []domain.Task{
		task("A", domain.StatusTodo, 1000),
		task("B", domain.StatusTodo, 2000),
		task("C", domain.StatusTodo, 3000),
		task("X", domain.StatusDone, 1000),
	}

	top, err := Place(tasks, "X", domain.StatusTodo, 0)
	if err != nil {
		t.Fatalf("place top: %v", err)
	}
	if top.Position != 500 {
		t.Fatalf("expected 500 at top, got %v", top.Position)
	}

	bottom, err := Place(tasks, "X", domain.StatusTodo, 3)
	if err != nil {
		t.Fatalf("place bottom: %v", err)
	}
	if bottom.Position != 4000 {
		t.Fatalf("expected 4000 at bottom, got %v", bottom.Position)
	}

	past, err := Place(tasks, "X", domain.StatusTodo, 99)
	if err != nil {
		t.Fatalf("place past end: %v", err)
	}
	if past.Position != bottom.Position {
		t.Fatalf("expected index past end to append, got %v", past.Position)
	}
}

func TestPlaceLandsAtDestinationIndex(t *testing.T) {
	others := []domain.Task{
		task("A", domain.StatusInReview, 10),
		task("B", domain.StatusInReview, 20.5),
		task("C", domain.StatusInReview, 33),
		task("D", domain.StatusInReview, 1000),
	}
	movers := map[string]domain.Task{
		"same column":  task("M", domain.StatusInReview, 15),
		"other column": task("Z", domain.StatusTodo, 7),
	}
	for name, mover := range movers {
		t.Run(name, func(t *testing.T) {
			tasks := append(append([]domain.Task(nil), others...), mover)
			for idx := 0; idx <= len(others); idx++ {
				p, err := Place(tasks, mover.ID, domain.StatusInReview, idx)
				if err != nil {
					t.Fatalf("place at %d: %v", idx, err)
				}
				if idx > 0 && !(p.Position > others[idx-1].Position) {
					t.Fatalf("at %d: %v not after %v", idx, p.Position, others[idx-1].Position)
				}
				if idx < len(others) && !(p.Position < others[idx].Position) {
					t.Fatalf("at %d: %v not before %v", idx, p.Position, others[idx].Position)
				}
				got := ids(Column(applyPlacement(tasks, p), domain.StatusInReview))
				if got[idx] != mover.ID {
					t.Fatalf("at %d landed in order %v", idx, got)
				}
			}
		})
	}
}

func TestPlaceLeavesOtherTasksUntouched(t *testing.T) {
	tasks := []domain.Task{
		task("A", domain.StatusTodo, 1000),
		task("B", domain.StatusTodo, 2000),
		task("C", domain.StatusDone, 1000),
	}
	before := append([]domain.Task(nil), tasks...)

	if _, err := Place(tasks, "C", domain.StatusTodo, 1); err != nil {
		t.Fatalf("place: %v", err)
	}
	if diff := cmp.Diff(before, tasks); diff != "" {
		t.Fatalf("input mutated (-want +got):\n%s", diff)
	}
}

func TestPlaceNormalizesStoredStatuses(t *testing.T) {
	tasks := []domain.Task{
		task("A", "to do", 1000),
		task("B", "Review", 1000),
		task("M", domain.StatusDone, 1),
	}
	p, err := Place(tasks, "M", domain.StatusTodo, 0)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if p.Position != 500 {
		t.Fatalf("expected legacy TODO task to count as neighbour, got %v", p.Position)
	}
}

func TestPlaceErrors(t *testing.T) {
	tasks := []domain.Task{task("A", domain.StatusTodo, 1000)}

	if _, err := Place(tasks, "missing", domain.StatusTodo, 0); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := Place(tasks, "A", domain.StatusTodo, -1); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for negative index, got %v", err)
	}
	if _, err := Place(tasks, "A", "BACKLOG", 0); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for unknown column, got %v", err)
	}
}

func TestPlaceRebalancesWhenGapCollapses(t *testing.T) {
	tasks := []domain.Task{
		task("A", domain.StatusTodo, 1),
		task("B", domain.StatusTodo, 1+Epsilon/2),
		task("C", domain.StatusTodo, 5),
		task("M", domain.StatusDone, 1000),
	}

	p, err := Place(tasks, "M", domain.StatusTodo, 1)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	want := []Reposition{{TaskID: "A", Position: 1000}, {TaskID: "B", Position: 3000}, {TaskID: "C", Position: 4000}}
	if diff := cmp.Diff(want, p.Rebalanced); diff != "" {
		t.Fatalf("unexpected rebalance (-want +got):\n%s", diff)
	}
	if p.Position != 2000 {
		t.Fatalf("expected moved task at 2000, got %v", p.Position)
	}
	got := ids(Column(applyPlacement(tasks, p), domain.StatusTodo))
	if diff := cmp.Diff([]string{"A", "M", "B", "C"}, got); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}
}

func TestRepeatedTopInsertsStayOrdered(t *testing.T) {
	tasks := []domain.Task{task("base", domain.StatusTodo, 1000)}
	rebalanced := false
	for i := 0; i < 200; i++ {
		id := string(rune('a'+i%26)) + string(rune('0'+i/26))
		tasks = append(tasks, task(id, domain.StatusDone, 1))
		p, err := Place(tasks, id, domain.StatusTodo, 0)
		if err != nil {
			t.Fatalf("place %d: %v", i, err)
		}
		if p.Rebalanced != nil {
			rebalanced = true
		}
		tasks = applyPlacement(tasks, p)
		col := Column(tasks, domain.StatusTodo)
		if col[0].ID != id {
			t.Fatalf("insert %d: expected %s on top, got %v", i, id, ids(col))
		}
		for j := 1; j < len(col); j++ {
			if col[j].Position-col[j-1].Position < Epsilon {
				t.Fatalf("insert %d: gap collapsed between %s and %s", i, col[j-1].ID, col[j].ID)
			}
		}
	}
	if !rebalanced {
		t.Fatalf("expected at least one rebalance after repeated top inserts")
	}
}

func TestPlaceRebalancesNonPositiveHead(t *testing.T) {
	tasks := []domain.Task{
		task("A", domain.StatusTodo, 0),
		task("B", domain.StatusTodo, 10),
		task("M", domain.StatusDone, 1),
	}
	p, err := Place(tasks, "M", domain.StatusTodo, 0)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if len(p.Rebalanced) != 2 || p.Position != 1000 {
		t.Fatalf("expected rebalance with moved task first, got %#v", p)
	}
}

func TestAppendPosition(t *testing.T) {
	tasks := []domain.Task{
		task("A", domain.StatusTodo, 1000),
		task("B", domain.StatusTodo, 2500),
	}
	if got := AppendPosition(tasks, domain.StatusTodo); got != 3500 {
		t.Fatalf("expected 3500, got %v", got)
	}
	if got := AppendPosition(tasks, domain.StatusDone); got != Spacing {
		t.Fatalf("expected baseline for empty column, got %v", got)
	}
}
