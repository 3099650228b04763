package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"prism-board/board"
	"prism-board/domain"
)

type moveTaskResponse struct {
	Task       domain.Task        `json:"task"`
	Rebalanced []board.Reposition `json:"rebalanced"`
}

type moveEventPayload struct {
	Status   domain.Status `json:"status"`
	Position float64       `json:"position"`
	Index    int           `json:"index"`
}

func (h *Handlers) moveTask(c echo.Context) (err error) {
	metrics, ctx := newRequestMetrics(c.Request().Context(), h.logger, "/api/tasks/:id/move")
	c.SetRequest(c.Request().WithContext(ctx))
	var failure error
	defer func() {
		metrics.Log(c.Response().Status, failure)
	}()
	fail := func(stage string, cause error) error {
		metrics.SetErrorStage(stage)
		failure = cause
		return respondError(c, cause)
	}

	authStart := time.Now()
	userID, authErr := h.userID(c)
	metrics.ObserveAuth(time.Since(authStart))
	if authErr != nil {
		metrics.SetErrorStage("auth")
		failure = authErr
		return respondUnauthorized(c, authErr)
	}

	var req moveTaskRequest
	if err := decodeBody(c, &req); err != nil {
		return fail("decode", err)
	}
	if req.Index == nil {
		return fail("validate", invalidArgument("index is required"))
	}
	column, err := domain.ParseStatus(req.Status)
	if err != nil {
		return fail("validate", err)
	}
	if *req.Index < 0 {
		return fail("validate", invalidArgument("index must not be negative"))
	}

	release, err := h.claimIdempotencyKey(c, userID)
	if err != nil {
		return fail("idempotency", err)
	}

	id := c.Param("id")
	storeStart := time.Now()
	resp, attempts, err := h.moveWithRetry(ctx, userID, id, column, *req.Index)
	metrics.ObserveStore(time.Since(storeStart))
	metrics.SetAttempts(attempts)
	if err != nil {
		release()
		return fail("storage", err)
	}
	metrics.SetRebalanced(len(resp.Rebalanced))
	metrics.SetTasksReturned(1)

	events := make([]domain.TaskEvent, 0, 2)
	if ev, ok := h.newEvent(userID, id, domain.TaskMoved, moveEventPayload{
		Status:   resp.Task.Status,
		Position: resp.Task.Position,
		Index:    *req.Index,
	}); ok {
		events = append(events, ev)
	}
	if len(resp.Rebalanced) > 0 {
		if ev, ok := h.newEvent(userID, id, domain.BoardRebalanced, resp.Rebalanced); ok {
			events = append(events, ev)
		}
	}
	h.publish(userID, events...)

	encodeStart := time.Now()
	err = c.JSON(http.StatusOK, resp)
	metrics.ObserveEncode(time.Since(encodeStart))
	if err != nil {
		metrics.SetErrorStage("encode_response")
		failure = err
	}
	return err
}

// moveWithRetry repeats the read-place-write cycle while the conditional
// write loses to a concurrent writer, up to moveRetries extra attempts.
func (h *Handlers) moveWithRetry(ctx context.Context, userID, id string, column domain.Status, index int) (moveTaskResponse, int, error) {
	for attempt := 1; ; attempt++ {
		resp, err := h.tryMove(ctx, userID, id, column, index)
		if err == nil || !errors.Is(err, domain.ErrConcurrencyConflict) || attempt > h.moveRetries {
			return resp, attempt, err
		}
		h.logger.WithFields(log.Fields{
			"user":    userID,
			"task":    id,
			"attempt": attempt,
		}).Debug("move conflict; retrying")
		if ctx.Err() != nil {
			return resp, attempt, ctx.Err()
		}
	}
}

func (h *Handlers) tryMove(ctx context.Context, userID, id string, column domain.Status, index int) (moveTaskResponse, error) {
	current, err := h.store.GetTask(ctx, userID, id)
	if err != nil {
		return moveTaskResponse{}, err
	}
	tasks, err := h.store.ListTasks(ctx, userID)
	if err != nil {
		return moveTaskResponse{}, err
	}
	tasks = withTask(tasks, current)

	placement, err := board.Place(tasks, id, column, index)
	if err != nil {
		return moveTaskResponse{}, err
	}

	status, pos := placement.Status, placement.Position
	if len(placement.Rebalanced) == 0 {
		etag, err := h.store.UpdateTask(ctx, userID, id, domain.TaskPatch{Status: &status, Position: &pos}, current.Version)
		if err != nil {
			return moveTaskResponse{}, err
		}
		current.Version = etag
	} else {
		// The moved task goes last so it shares the final batch with its
		// neighbours and never lands in a column that was not respaced.
		writes := append(repositioned(tasks, placement.Rebalanced),
			domain.Task{ID: id, Status: status, Position: pos, Version: current.Version})
		if err := h.store.UpdatePositions(ctx, userID, writes); err != nil {
			return moveTaskResponse{}, err
		}
		current.Version = ""
	}
	current.Status = status
	current.Position = pos

	rebalanced := placement.Rebalanced
	if rebalanced == nil {
		rebalanced = []board.Reposition{}
	}
	return moveTaskResponse{Task: current, Rebalanced: rebalanced}, nil
}

// withTask replaces or appends t so the positioner sees its stored state.
func withTask(tasks []domain.Task, t domain.Task) []domain.Task {
	out := make([]domain.Task, 0, len(tasks)+1)
	replaced := false
	for _, existing := range tasks {
		if existing.ID == t.ID {
			out = append(out, t)
			replaced = true
			continue
		}
		out = append(out, existing)
	}
	if !replaced {
		out = append(out, t)
	}
	return out
}

func repositioned(tasks []domain.Task, moves []board.Reposition) []domain.Task {
	versions := make(map[string]string, len(tasks))
	for _, t := range tasks {
		versions[t.ID] = t.Version
	}
	out := make([]domain.Task, 0, len(moves))
	for _, m := range moves {
		out = append(out, domain.Task{ID: m.TaskID, Position: m.Position, Version: versions[m.TaskID]})
	}
	return out
}
