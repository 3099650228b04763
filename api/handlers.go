package api

import (
	"context"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"prism-board/board"
	"prism-board/domain"
)

// Options carries the optional collaborators of Handlers.
type Options struct {
	Deduper        Deduper
	Events         *EventDispatcher
	Broker         *UpdateBroker
	MoveMaxRetries int
}

// Handlers serves the board API for authenticated users.
type Handlers struct {
	store       Storage
	auth        Authenticator
	logger      *log.Logger
	deduper     Deduper
	events      dispatcher
	broker      *UpdateBroker
	moveRetries int
	clock       eventClock
}

// NewHandlers builds the handler set. store, auth and logger are required.
func NewHandlers(store Storage, auth Authenticator, logger *log.Logger, opts Options) *Handlers {
	if store == nil || auth == nil || logger == nil {
		panic("api.NewHandlers: store, auth and logger are required")
	}
	h := &Handlers{
		store:       store,
		auth:        auth,
		logger:      logger,
		deduper:     opts.Deduper,
		broker:      opts.Broker,
		moveRetries: opts.MoveMaxRetries,
	}
	if opts.Events != nil {
		h.events = opts.Events
	}
	if h.moveRetries < 0 {
		h.moveRetries = 0
	}
	return h
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, h *Handlers) {
	e.GET("/api/tasks", h.listTasks)
	e.POST("/api/tasks", h.createTask)
	e.PATCH("/api/tasks/:id", h.patchTask)
	e.POST("/api/tasks/:id/move", h.moveTask)
	e.GET("/api/settings", h.getSettings)
	e.PUT("/api/settings", h.putSettings)
	e.GET("/api/stream", h.streamTasks)
	e.GET("/healthz", h.healthz)
}

func (h *Handlers) userID(c echo.Context) (string, error) {
	return h.auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
}

func (h *Handlers) publish(userID string, events ...domain.TaskEvent) {
	if h.events == nil {
		return
	}
	h.events.Dispatch(userID, events)
}

func (h *Handlers) newEvent(userID, taskID, typ string, payload any) (domain.TaskEvent, bool) {
	ev, err := domain.NewTaskEvent(userID, taskID, typ, payload, h.clock.next())
	if err != nil {
		h.logger.WithError(err).WithField("type", typ).Error("build task event")
		return domain.TaskEvent{}, false
	}
	return ev, true
}

func (h *Handlers) healthz(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		h.logger.WithError(err).Warn("health check failed")
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "storage unavailable"})
	}
	return c.NoContent(http.StatusOK)
}

// sortedBoard returns tasks ordered by column then position. A non-empty
// only restricts the result to that column.
func sortedBoard(tasks []domain.Task, only domain.Status) []domain.Task {
	out := make([]domain.Task, 0, len(tasks))
	for _, col := range domain.Columns {
		if only != "" && col != only {
			continue
		}
		out = append(out, board.Column(tasks, col)...)
	}
	return out
}

func (h *Handlers) listTasks(c echo.Context) (err error) {
	metrics, ctx := newRequestMetrics(c.Request().Context(), h.logger, "/api/tasks")
	c.SetRequest(c.Request().WithContext(ctx))
	var failure error
	defer func() {
		metrics.Log(c.Response().Status, failure)
	}()

	authStart := time.Now()
	userID, authErr := h.userID(c)
	metrics.ObserveAuth(time.Since(authStart))
	if authErr != nil {
		metrics.SetErrorStage("auth")
		failure = authErr
		return respondUnauthorized(c, authErr)
	}

	var only domain.Status
	if raw := strings.TrimSpace(c.QueryParam("status")); raw != "" {
		status, parseErr := domain.ParseStatus(raw)
		if parseErr != nil {
			metrics.SetErrorStage("invalid_status")
			failure = parseErr
			return respondError(c, parseErr)
		}
		only = status
	}

	fetchStart := time.Now()
	tasks, fetchErr := h.store.ListTasks(ctx, userID)
	metrics.ObserveStore(time.Since(fetchStart))
	if fetchErr != nil {
		metrics.SetErrorStage("storage")
		failure = fetchErr
		return respondError(c, fetchErr)
	}

	resp := tasksResponse{Tasks: sortedBoard(tasks, only)}
	metrics.SetTasksReturned(len(resp.Tasks))
	encodeStart := time.Now()
	err = c.JSON(http.StatusOK, resp)
	metrics.ObserveEncode(time.Since(encodeStart))
	if err != nil {
		metrics.SetErrorStage("encode_response")
		failure = err
	}
	return err
}

func (h *Handlers) createTask(c echo.Context) error {
	userID, err := h.userID(c)
	if err != nil {
		return respondUnauthorized(c, err)
	}
	var req createTaskRequest
	if err := decodeBody(c, &req); err != nil {
		return respondError(c, err)
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return respondError(c, invalidArgument("title is required"))
	}

	release, err := h.claimIdempotencyKey(c, userID)
	if err != nil {
		return respondError(c, err)
	}

	ctx := c.Request().Context()
	tasks, err := h.store.ListTasks(ctx, userID)
	if err != nil {
		release()
		return respondError(c, err)
	}
	status := domain.NormalizeStatus(req.Status)
	task := domain.Task{
		ID:       uuid.NewString(),
		Title:    title,
		Notes:    req.Notes,
		Status:   status,
		Position: board.AppendPosition(tasks, status),
	}
	created, err := h.store.InsertTask(ctx, userID, task)
	if err != nil {
		release()
		return respondError(c, err)
	}

	if ev, ok := h.newEvent(userID, created.ID, domain.TaskCreated, created); ok {
		h.publish(userID, ev)
	}
	return c.JSON(http.StatusCreated, created)
}

func (h *Handlers) patchTask(c echo.Context) error {
	userID, err := h.userID(c)
	if err != nil {
		return respondUnauthorized(c, err)
	}
	var req patchTaskRequest
	if err := decodeBody(c, &req); err != nil {
		return respondError(c, err)
	}
	patch, err := req.toPatch()
	if err != nil {
		return respondError(c, err)
	}

	release, err := h.claimIdempotencyKey(c, userID)
	if err != nil {
		return respondError(c, err)
	}

	ctx := c.Request().Context()
	id := c.Param("id")
	current, err := h.store.GetTask(ctx, userID, id)
	if err != nil {
		release()
		return respondError(c, err)
	}
	etag, err := h.store.UpdateTask(ctx, userID, id, patch, current.Version)
	if err != nil {
		release()
		return respondError(c, err)
	}
	patch.Apply(&current)
	current.Version = etag

	if ev, ok := h.newEvent(userID, id, domain.TaskUpdated, current); ok {
		h.publish(userID, ev)
	}
	return c.JSON(http.StatusOK, current)
}

func (r patchTaskRequest) toPatch() (domain.TaskPatch, error) {
	var patch domain.TaskPatch
	if r.Title != nil {
		title := strings.TrimSpace(*r.Title)
		if title == "" {
			return patch, invalidArgument("title must not be empty")
		}
		patch.Title = &title
	}
	patch.Notes = r.Notes
	if r.Status != nil {
		status := domain.NormalizeStatus(*r.Status)
		patch.Status = &status
	}
	if r.Position != nil {
		if math.IsNaN(*r.Position) || math.IsInf(*r.Position, 0) {
			return patch, invalidArgument("position must be finite")
		}
		pos := *r.Position
		patch.Position = &pos
	}
	if patch.Empty() {
		return patch, invalidArgument("empty patch")
	}
	return patch, nil
}

func (h *Handlers) getSettings(c echo.Context) error {
	userID, err := h.userID(c)
	if err != nil {
		return respondUnauthorized(c, err)
	}
	settings, err := h.store.FetchSettings(c.Request().Context(), userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, settings)
}

func (h *Handlers) putSettings(c echo.Context) error {
	userID, err := h.userID(c)
	if err != nil {
		return respondUnauthorized(c, err)
	}
	var settings domain.Settings
	if err := decodeBody(c, &settings); err != nil {
		return respondError(c, err)
	}
	if settings.TasksPerColumn < 0 {
		return respondError(c, invalidArgument("tasksPerColumn must not be negative"))
	}
	if err := h.store.SaveSettings(c.Request().Context(), userID, settings); err != nil {
		return respondError(c, err)
	}
	if h.events != nil {
		h.events.Dispatch(userID, nil)
	}
	return c.JSON(http.StatusOK, settings)
}
