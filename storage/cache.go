package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"prism-board/domain"
)

type backend interface {
	ListTasks(ctx context.Context, userID string) ([]domain.Task, error)
	GetTask(ctx context.Context, userID, id string) (domain.Task, error)
	InsertTask(ctx context.Context, userID string, task domain.Task) (domain.Task, error)
	UpdateTask(ctx context.Context, userID, id string, patch domain.TaskPatch, version string) (string, error)
	UpdatePositions(ctx context.Context, userID string, tasks []domain.Task) error
	FetchSettings(ctx context.Context, userID string) (domain.Settings, error)
	SaveSettings(ctx context.Context, userID string, settings domain.Settings) error
	PublishEvents(ctx context.Context, events []domain.TaskEvent) error
	Ping(ctx context.Context) error
}

// generationTTL outlives any in-flight read by a wide margin.
const generationTTL = 24 * time.Hour

// Cache wraps a backend with Redis-backed caching for read operations. Every
// write evicts the affected user's entries.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) ListTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	if tasks, ok := c.loadTasksFromCache(ctx, userID); ok {
		return tasks, nil
	}

	gen, fillable := c.generation(ctx, userID)
	tasks, err := c.base.ListTasks(ctx, userID)
	if err != nil {
		return nil, err
	}

	if fillable {
		c.fill(ctx, userID, tasksCacheKey(userID), gen, tasks)
	}
	return tasks, nil
}

// GetTask always reads through so callers observe the current ETag.
func (c *Cache) GetTask(ctx context.Context, userID, id string) (domain.Task, error) {
	return c.base.GetTask(ctx, userID, id)
}

func (c *Cache) InsertTask(ctx context.Context, userID string, task domain.Task) (domain.Task, error) {
	created, err := c.base.InsertTask(ctx, userID, task)
	c.evict(ctx, userID, tasksCacheKey(userID))
	return created, err
}

func (c *Cache) UpdateTask(ctx context.Context, userID, id string, patch domain.TaskPatch, version string) (string, error) {
	etag, err := c.base.UpdateTask(ctx, userID, id, patch, version)
	c.evict(ctx, userID, tasksCacheKey(userID))
	return etag, err
}

func (c *Cache) UpdatePositions(ctx context.Context, userID string, tasks []domain.Task) error {
	err := c.base.UpdatePositions(ctx, userID, tasks)
	c.evict(ctx, userID, tasksCacheKey(userID))
	return err
}

func (c *Cache) FetchSettings(ctx context.Context, userID string) (domain.Settings, error) {
	if settings, ok := c.loadSettingsFromCache(ctx, userID); ok {
		return settings, nil
	}

	gen, fillable := c.generation(ctx, userID)
	settings, err := c.base.FetchSettings(ctx, userID)
	if err != nil {
		return domain.Settings{}, err
	}

	if fillable {
		c.fill(ctx, userID, settingsCacheKey(userID), gen, settings)
	}
	return settings, nil
}

func (c *Cache) SaveSettings(ctx context.Context, userID string, settings domain.Settings) error {
	if err := c.base.SaveSettings(ctx, userID, settings); err != nil {
		return err
	}
	c.evict(ctx, userID, settingsCacheKey(userID))
	return nil
}

func (c *Cache) PublishEvents(ctx context.Context, events []domain.TaskEvent) error {
	return c.base.PublishEvents(ctx, events)
}

func (c *Cache) Ping(ctx context.Context) error {
	if c.redis != nil {
		if err := c.redis.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	return c.base.Ping(ctx)
}

func (c *Cache) loadTasksFromCache(ctx context.Context, userID string) ([]domain.Task, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, tasksCacheKey(userID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, tasksCacheKey(userID)).Err()
		}
		return nil, false
	}
	var tasks []domain.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, tasksCacheKey(userID)).Err()
		return nil, false
	}
	return tasks, true
}

func (c *Cache) loadSettingsFromCache(ctx context.Context, userID string) (domain.Settings, bool) {
	if c.redis == nil {
		return domain.Settings{}, false
	}
	data, err := c.redis.Get(ctx, settingsCacheKey(userID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			_ = c.redis.Del(ctx, settingsCacheKey(userID)).Err()
		}
		return domain.Settings{}, false
	}
	var settings domain.Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		_ = c.redis.Del(ctx, settingsCacheKey(userID)).Err()
		return domain.Settings{}, false
	}
	return settings, true
}

// generation returns the user's write generation. Reads note it before going
// to the backend; fill refuses to cache a result once a write has moved it
// on, so a read that overlapped a write cannot outlive it in the cache.
func (c *Cache) generation(ctx context.Context, userID string) (string, bool) {
	if c.redis == nil || c.ttl == 0 {
		return "", false
	}
	gen, err := c.redis.Get(ctx, generationKey(userID)).Result()
	if err != nil && err != redis.Nil {
		return "", false
	}
	return gen, true
}

func (c *Cache) fill(ctx context.Context, userID, key, seen string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	genKey := generationKey(userID)
	// A concurrent INCR aborts the EXEC with redis.TxFailedErr; the read
	// result is simply not cached.
	_ = c.redis.Watch(ctx, func(tx *redis.Tx) error {
		gen, err := tx.Get(ctx, genKey).Result()
		if err != nil && err != redis.Nil {
			return err
		}
		if gen != seen {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, data, c.ttl)
			return nil
		})
		return err
	}, genKey)
}

// evict bumps the user's generation and drops keys in one transaction.
func (c *Cache) evict(ctx context.Context, userID string, keys ...string) {
	if c.redis == nil {
		return
	}
	genKey := generationKey(userID)
	_, _ = c.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, genKey)
		p.Expire(ctx, genKey, generationTTL)
		p.Del(ctx, keys...)
		return nil
	})
}

func tasksCacheKey(userID string) string {
	return "tasks:" + userID
}

func settingsCacheKey(userID string) string {
	return "settings:" + userID
}

func generationKey(userID string) string {
	return "gen:" + userID
}
