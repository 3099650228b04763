package board

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

// GenericFailureMessage is shown when a failed write carries no server reason.
const GenericFailureMessage = "Unable to reach the server. Check your connection and try again."

// TaskStore is the persistence collaborator of a Session.
type TaskStore interface {
	ListTasks(ctx context.Context) ([]domain.Task, error)
	UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) error
}

// Notifier surfaces user-visible failures.
type Notifier interface {
	Notify(message string)
}

// MoveRequest is a completed drag gesture reported by the view.
type MoveRequest struct {
	TaskID            string
	SourceColumn      string
	SourceIndex       int
	DestinationColumn string
	DestinationIndex  int
}

// MutationState tracks a pending optimistic change.
type MutationState int

const (
	MutationApplied MutationState = iota
	MutationConfirmed
	MutationRolledBack
)

func (s MutationState) String() string {
	switch s {
	case MutationApplied:
		return "applied"
	case MutationConfirmed:
		return "confirmed"
	case MutationRolledBack:
		return "rolled-back"
	default:
		return fmt.Sprintf("MutationState(%d)", int(s))
	}
}

// Mutation is one optimistic move.
type Mutation struct {
	Placement Placement
	// Err is the persistence failure that caused a rollback.
	Err error

	state MutationState
	prev  map[string]domain.Task
}

// State returns the current state of the mutation.
func (m *Mutation) State() MutationState { return m.state }

// transition allows only Applied -> Confirmed and Applied -> RolledBack.
func (m *Mutation) transition(to MutationState) error {
	if m.state != MutationApplied || (to != MutationConfirmed && to != MutationRolledBack) {
		return fmt.Errorf("invalid mutation transition %s -> %s", m.state, to)
	}
	m.state = to
	return nil
}

// Session holds a client's local copy of the board. Load it at session start
// and Clear it at logout.
type Session struct {
	store    TaskStore
	notifier Notifier
	logger   *log.Logger

	mu    sync.Mutex
	tasks []domain.Task
}

// NewSession creates a session backed by store. Failures are reported through notifier.
func NewSession(store TaskStore, notifier Notifier, logger *log.Logger) *Session {
	if store == nil {
		panic("board.NewSession: store is nil")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Session{store: store, notifier: notifier, logger: logger}
}

// Load replaces the local board with the store's current tasks.
func (s *Session) Load(ctx context.Context) error {
	tasks, err := s.store.ListTasks(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.tasks = append([]domain.Task(nil), tasks...)
	s.mu.Unlock()
	return nil
}

// Clear drops the local board.
func (s *Session) Clear() {
	s.mu.Lock()
	s.tasks = nil
	s.mu.Unlock()
}

// Tasks returns a copy of the local board.
func (s *Session) Tasks() []domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Task(nil), s.tasks...)
}

// Column returns the local tasks of column in visual order.
func (s *Session) Column(column domain.Status) []domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Column(s.tasks, column)
}

// Move places a task optimistically and persists the change. NotFound and
// InvalidArgument errors return before anything is applied. A persistence
// failure reverts the local change, notifies once and is returned wrapped as
// a *domain.PersistenceError. Failed moves are never retried.
func (s *Session) Move(ctx context.Context, req MoveRequest) (*Mutation, error) {
	column, err := domain.ParseStatus(req.DestinationColumn)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	placement, err := Place(s.tasks, req.TaskID, column, req.DestinationIndex)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	m := &Mutation{Placement: placement, state: MutationApplied}
	s.applyLocked(m)
	s.mu.Unlock()

	s.logger.WithFields(log.Fields{
		"task":       req.TaskID,
		"from":       req.SourceColumn,
		"to":         placement.Status,
		"position":   placement.Position,
		"rebalanced": len(placement.Rebalanced),
	}).Debug("board.move.applied")

	if written, err := s.persist(ctx, placement); err != nil {
		s.rollback(m, err)
		if written > 0 {
			// Some neighbours were respaced in the store; pick up their positions.
			if err := s.Load(ctx); err != nil {
				s.logger.WithError(err).WithField("task", req.TaskID).Warn("refresh after partial move failed")
			}
		}
		return m, m.Err
	}
	_ = m.transition(MutationConfirmed)

	if err := s.Load(ctx); err != nil {
		s.logger.WithError(err).WithField("task", req.TaskID).Warn("refresh after move failed")
	}
	return m, nil
}

func (s *Session) applyLocked(m *Mutation) {
	m.prev = make(map[string]domain.Task, len(m.Placement.Rebalanced)+1)
	positions := make(map[string]float64, len(m.Placement.Rebalanced))
	for _, r := range m.Placement.Rebalanced {
		positions[r.TaskID] = r.Position
	}
	for i := range s.tasks {
		t := &s.tasks[i]
		if t.ID == m.Placement.TaskID {
			m.prev[t.ID] = *t
			t.Status = m.Placement.Status
			t.Position = m.Placement.Position
			continue
		}
		if pos, ok := positions[t.ID]; ok {
			m.prev[t.ID] = *t
			t.Position = pos
		}
	}
}

// persist writes the respaced neighbours before the moved task. Respacing
// alone keeps the column order, so a failure part way through never shows
// the moved task at a position nobody asked for. written counts the writes
// that reached the store.
func (s *Session) persist(ctx context.Context, p Placement) (written int, err error) {
	for _, r := range p.Rebalanced {
		pos := r.Position
		if err := s.store.UpdateTask(ctx, r.TaskID, domain.TaskPatch{Position: &pos}); err != nil {
			return written, err
		}
		written++
	}
	status := p.Status
	pos := p.Position
	if err := s.store.UpdateTask(ctx, p.TaskID, domain.TaskPatch{Status: &status, Position: &pos}); err != nil {
		return written, err
	}
	return written + 1, nil
}

func (s *Session) rollback(m *Mutation, cause error) {
	var pe *domain.PersistenceError
	if !errors.As(cause, &pe) {
		pe = &domain.PersistenceError{Err: cause}
	}

	s.mu.Lock()
	for i := range s.tasks {
		if prev, ok := m.prev[s.tasks[i].ID]; ok {
			s.tasks[i].Status = prev.Status
			s.tasks[i].Position = prev.Position
		}
	}
	s.mu.Unlock()

	m.Err = pe
	_ = m.transition(MutationRolledBack)
	s.logger.WithError(cause).WithField("task", m.Placement.TaskID).Error("move rolled back")

	if s.notifier != nil {
		msg := pe.Reason
		if msg == "" {
			msg = GenericFailureMessage
		}
		s.notifier.Notify(msg)
	}
}
