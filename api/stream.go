package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

type changeMessage struct {
	UserID string `json:"userId"`
}

// RedisNotifier publishes board change notifications on a Redis channel so
// every API instance can wake its stream subscribers.
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

func NewRedisNotifier(client *redis.Client, channel string) *RedisNotifier {
	return &RedisNotifier{client: client, channel: channel}
}

func (n *RedisNotifier) NotifyChanged(ctx context.Context, userID string) error {
	payload, err := sonic.Marshal(changeMessage{UserID: userID})
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, n.channel, payload).Err()
}

// UpdateBroker fans change notifications out to the open streams of a user.
type UpdateBroker struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

func NewUpdateBroker() *UpdateBroker {
	return &UpdateBroker{subs: make(map[string]map[chan struct{}]struct{})}
}

func (b *UpdateBroker) subscribe(userID string) chan struct{} {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[chan struct{}]struct{})
	}
	b.subs[userID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *UpdateBroker) unsubscribe(userID string, ch chan struct{}) {
	b.mu.Lock()
	delete(b.subs[userID], ch)
	if len(b.subs[userID]) == 0 {
		delete(b.subs, userID)
	}
	b.mu.Unlock()
}

// notify wakes every stream of userID. Pending wakeups are coalesced.
func (b *UpdateBroker) notify(userID string) {
	b.mu.Lock()
	for ch := range b.subs[userID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	b.mu.Unlock()
}

// SubscribeUpdates relays change notifications from the Redis channel into
// the broker until ctx is done, reconnecting when the subscription drops.
func SubscribeUpdates(ctx context.Context, logger *log.Logger, rc *redis.Client, channel string, broker *UpdateBroker) {
	for {
		sub := rc.Subscribe(ctx, channel)
		relayUpdates(ctx, logger, sub.Channel(), broker)
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		logger.Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func relayUpdates(ctx context.Context, logger *log.Logger, ch <-chan *redis.Message, broker *UpdateBroker) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev changeMessage
			if err := sonic.UnmarshalString(msg.Payload, &ev); err != nil || ev.UserID == "" {
				logger.WithField("payload", msg.Payload).Warn("unable to parse board update")
				continue
			}
			broker.notify(ev.UserID)
		}
	}
}

func (h *Handlers) streamTasks(c echo.Context) error {
	authHeader := requestToken(c.Request().Header.Get(echo.HeaderAuthorization), c.QueryParam("token"))
	userID, err := h.auth.UserIDFromAuthHeader(authHeader)
	if err != nil {
		return respondUnauthorized(c, err)
	}
	if h.broker == nil {
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "stream unavailable"})
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	flusher, ok := res.Writer.(http.Flusher)
	if !ok {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "stream unsupported"})
	}

	ctx := c.Request().Context()
	ch := h.broker.subscribe(userID)
	defer h.broker.unsubscribe(userID, ch)
	res.WriteHeader(http.StatusOK)
	for {
		tasks, err := h.store.ListTasks(ctx, userID)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			h.logger.WithError(err).WithField("user", userID).Error("stream fetch tasks")
			return nil
		}
		data, err := sonic.Marshal(tasksResponse{Tasks: sortedBoard(tasks, "")})
		if err != nil {
			return err
		}
		if err := writeSSE(res, "tasks", data); err != nil {
			return nil
		}
		flusher.Flush()

		select {
		case <-ctx.Done():
			return nil
		case <-ch:
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, data []byte) error {
	buf := make([]byte, 0, len(event)+len(data)+16)
	buf = append(buf, "event: "...)
	buf = append(buf, event...)
	buf = append(buf, "\ndata: "...)
	buf = append(buf, data...)
	buf = append(buf, "\n\n"...)
	_, err := w.Write(buf)
	return err
}
