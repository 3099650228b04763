package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	azruntime "github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"golang.org/x/sync/errgroup"

	"prism-board/domain"
)

const (
	defaultQueueConcurrency = 10
	queuePerCPU             = 10
	maxQueueConcurrency     = 128

	// maxTransactionActions is the Table service limit for one batch.
	maxTransactionActions = 100
)

type tableClient interface {
	GetEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	AddEntity(ctx context.Context, entity []byte, options *aztables.AddEntityOptions) (aztables.AddEntityResponse, error)
	UpdateEntity(ctx context.Context, entity []byte, options *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error)
	UpsertEntity(ctx context.Context, entity []byte, options *aztables.UpsertEntityOptions) (aztables.UpsertEntityResponse, error)
	SubmitTransaction(ctx context.Context, actions []aztables.TransactionAction, options *aztables.SubmitTransactionOptions) (aztables.TransactionResponse, error)
	NewListEntitiesPager(options *aztables.ListEntitiesOptions) *azruntime.Pager[aztables.ListEntitiesResponse]
}

type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
	GetProperties(ctx context.Context, o *azqueue.GetQueuePropertiesOptions) (azqueue.GetQueuePropertiesResponse, error)
}

// Storage provides access to the task tables and the event queue.
type Storage struct {
	taskTable        tableClient
	settingsTable    tableClient
	eventQueue       queueClient
	queueConcurrency int
	now              func() time.Time
}

// New creates a Storage instance from the given connection string. A
// queueConcurrency of zero sizes the event fan-out from the CPU count.
func New(connStr, tasksTable, settingsTable, eventQueue string, queueConcurrency int) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	eq, err := azqueue.NewQueueClientFromConnectionString(connStr, eventQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	if queueConcurrency <= 0 {
		queueConcurrency = queueConcurrencyForCPU(runtime.NumCPU())
	}
	return &Storage{
		taskTable:        svc.NewClient(tasksTable),
		settingsTable:    svc.NewClient(settingsTable),
		eventQueue:       eq,
		queueConcurrency: queueConcurrency,
		now:              time.Now,
	}, nil
}

func queueConcurrencyForCPU(cpu int) int {
	if cpu <= 0 {
		return defaultQueueConcurrency
	}
	n := cpu * queuePerCPU
	if n > maxQueueConcurrency {
		return maxQueueConcurrency
	}
	return n
}

func (s *Storage) timestamp() int64 {
	if s.now == nil {
		return time.Now().UnixNano()
	}
	return s.now().UnixNano()
}

// ListTasks retrieves all tasks for the provided user.
func (s *Storage) ListTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	filter := "PartitionKey eq '" + escapeFilterValue(userID) + "'"
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent taskEntity
			if err := json.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			tasks = append(tasks, ent.task())
		}
	}
	return tasks, nil
}

// GetTask loads one task together with its current ETag.
func (s *Storage) GetTask(ctx context.Context, userID, id string) (domain.Task, error) {
	resp, err := s.taskTable.GetEntity(ctx, userID, id, nil)
	if err != nil {
		return domain.Task{}, mapResponseError(err, id)
	}
	var ent taskEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return domain.Task{}, err
	}
	task := ent.task()
	task.Version = string(resp.ETag)
	return task, nil
}

// InsertTask adds a new task row. The returned task carries the new ETag.
func (s *Storage) InsertTask(ctx context.Context, userID string, task domain.Task) (domain.Task, error) {
	task.UpdatedAt = s.timestamp()
	payload, err := json.Marshal(newTaskEntity(userID, task))
	if err != nil {
		return domain.Task{}, err
	}
	resp, err := s.taskTable.AddEntity(ctx, payload, nil)
	if err != nil {
		return domain.Task{}, mapResponseError(err, task.ID)
	}
	task.Version = string(resp.ETag)
	return task, nil
}

// UpdateTask merges patch into the stored task. A non-empty version makes the
// write conditional; a stale version yields domain.ErrConcurrencyConflict.
func (s *Storage) UpdateTask(ctx context.Context, userID, id string, patch domain.TaskPatch, version string) (string, error) {
	payload, err := json.Marshal(newTaskUpdate(userID, id, patch, s.timestamp()))
	if err != nil {
		return "", err
	}
	resp, err := s.taskTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{
		IfMatch:    ifMatch(version),
		UpdateMode: aztables.UpdateModeMerge,
	})
	if err != nil {
		return "", mapResponseError(err, id)
	}
	return string(resp.ETag), nil
}

// UpdatePositions rewrites the positions of several tasks of one user in
// table transactions. A task with a non-empty Status also has its column
// rewritten. Each batch of up to 100 writes is atomic and batches are applied
// in order, so a caller that lists the moved task last commits it together
// with the final batch of its neighbours.
func (s *Storage) UpdatePositions(ctx context.Context, userID string, tasks []domain.Task) error {
	ts := s.timestamp()
	actions := make([]aztables.TransactionAction, 0, min(len(tasks), maxTransactionActions))
	flush := func() error {
		if len(actions) == 0 {
			return nil
		}
		if _, err := s.taskTable.SubmitTransaction(ctx, actions, nil); err != nil {
			return mapResponseError(err, "")
		}
		actions = actions[:0]
		return nil
	}
	for _, t := range tasks {
		patch := domain.TaskPatch{Position: &t.Position}
		if t.Status != "" {
			patch.Status = &t.Status
		}
		payload, err := json.Marshal(newTaskUpdate(userID, t.ID, patch, ts))
		if err != nil {
			return err
		}
		actions = append(actions, aztables.TransactionAction{
			ActionType: aztables.TransactionTypeUpdateMerge,
			Entity:     payload,
			IfMatch:    ifMatch(t.Version),
		})
		if len(actions) == maxTransactionActions {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

func decodeSettingsEntity(data []byte) (domain.Settings, error) {
	var ent settingsEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Settings{}, err
	}
	return domain.Settings{TasksPerColumn: ent.TasksPerColumn, ShowDoneTasks: ent.ShowDoneTasks}, nil
}

// DefaultSettings is returned for users that never saved settings.
var DefaultSettings = domain.Settings{TasksPerColumn: 20, ShowDoneTasks: true}

// FetchSettings loads the user's board settings.
func (s *Storage) FetchSettings(ctx context.Context, userID string) (domain.Settings, error) {
	ent, err := s.settingsTable.GetEntity(ctx, userID, userID, nil)
	if err != nil {
		if errors.Is(mapResponseError(err, userID), domain.ErrNotFound) {
			return DefaultSettings, nil
		}
		return domain.Settings{}, err
	}
	return decodeSettingsEntity(ent.Value)
}

// SaveSettings replaces the user's board settings.
func (s *Storage) SaveSettings(ctx context.Context, userID string, settings domain.Settings) error {
	payload, err := json.Marshal(settingsEntity{
		Entity:             Entity{PartitionKey: userID, RowKey: userID},
		TasksPerColumn:     settings.TasksPerColumn,
		TasksPerColumnType: EdmInt32,
		ShowDoneTasks:      settings.ShowDoneTasks,
		ShowDoneTasksType:  EdmBoolean,
	})
	if err != nil {
		return err
	}
	_, err = s.settingsTable.UpsertEntity(ctx, payload, nil)
	return err
}

// PublishEvents sends the given events to the event queue.
func (s *Storage) PublishEvents(ctx context.Context, events []domain.TaskEvent) error {
	limit := s.queueConcurrency
	if limit <= 0 {
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, ev := range events {
		g.Go(func() error {
			data, err := json.Marshal(ev)
			if err != nil {
				return err
			}
			if _, err := s.eventQueue.EnqueueMessage(gctx, string(data), nil); err != nil {
				return fmt.Errorf("enqueue event %s: %w", ev.ID, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Ping checks that the event queue is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	_, err := s.eventQueue.GetProperties(ctx, nil)
	return err
}

func ifMatch(version string) *azcore.ETag {
	if version == "" {
		et := azcore.ETagAny
		return &et
	}
	et := azcore.ETag(version)
	return &et
}

func mapResponseError(err error, id string) error {
	var respErr *azcore.ResponseError
	if !errors.As(err, &respErr) {
		return err
	}
	switch respErr.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	case http.StatusPreconditionFailed:
		return fmt.Errorf("%w: %s", domain.ErrConcurrencyConflict, id)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s already exists", domain.ErrInvalidArgument, id)
	}
	return err
}

func escapeFilterValue(v string) string {
	out := make([]byte, 0, len(v))
	for i := 0; i < len(v); i++ {
		if v[i] == '\'' {
			out = append(out, '\'', '\'')
			continue
		}
		out = append(out, v[i])
	}
	return string(out)
}
