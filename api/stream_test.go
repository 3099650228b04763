package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"

	"prism-board/domain"
)

type syncRecorder struct {
	mu     sync.Mutex
	header http.Header
	code   int
	buf    bytes.Buffer
}

func newSyncRecorder() *syncRecorder {
	return &syncRecorder{header: make(http.Header)}
}

func (r *syncRecorder) Header() http.Header { return r.header }

func (r *syncRecorder) WriteHeader(code int) {
	r.mu.Lock()
	r.code = code
	r.mu.Unlock()
}

func (r *syncRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.Write(p)
}

func (r *syncRecorder) Flush() {}

func (r *syncRecorder) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.String()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestUpdateBrokerScopesByUser(t *testing.T) {
	b := NewUpdateBroker()
	mine := b.subscribe("u1")
	other := b.subscribe("u2")

	b.notify("u1")
	b.notify("u1")

	select {
	case <-mine:
	default:
		t.Fatal("expected notification for u1")
	}
	select {
	case <-mine:
		t.Fatal("pending notifications should be coalesced")
	default:
	}
	select {
	case <-other:
		t.Fatal("u2 must not be notified")
	default:
	}

	b.unsubscribe("u1", mine)
	b.unsubscribe("u2", other)
	if len(b.subs) != 0 {
		t.Fatalf("expected no subscribers, got %d", len(b.subs))
	}
}

func TestSubscribeUpdatesRelaysRedisMessages(t *testing.T) {
	_, client := newTestRedis(t)
	logger, _ := test.NewNullLogger()
	broker := NewUpdateBroker()
	ch := broker.subscribe("u1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		SubscribeUpdates(ctx, logger, client, "board-updates", broker)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	notifier := NewRedisNotifier(client, "board-updates")
	waitFor(t, "subscriber", func() bool {
		n, err := client.PubSubNumSub(context.Background(), "board-updates").Result()
		return err == nil && n["board-updates"] > 0
	})
	if err := notifier.NotifyChanged(context.Background(), "u1"); err != nil {
		t.Fatalf("notify: %v", err)
	}

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("expected relayed notification")
	}
}

func TestStreamTasksSendsSnapshotOnChange(t *testing.T) {
	store := newMemStore(domain.Task{ID: "a", Title: "first", Status: domain.StatusTodo, Position: 1000})
	logger, _ := test.NewNullLogger()
	broker := NewUpdateBroker()
	h := NewHandlers(store, mockAuth{}, logger, Options{Broker: broker})

	e := echo.New()
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/stream?token=a.b.c", nil).WithContext(ctx)
	rec := newSyncRecorder()
	c := e.NewContext(req, rec)

	done := make(chan error, 1)
	go func() { done <- h.streamTasks(c) }()

	waitFor(t, "first snapshot", func() bool {
		return strings.Count(rec.String(), "event: tasks\n") == 1
	})
	if !strings.Contains(rec.String(), `"id":"a"`) {
		t.Fatalf("unexpected snapshot: %s", rec.String())
	}
	if got := rec.Header().Get(echo.HeaderContentType); got != "text/event-stream" {
		t.Fatalf("unexpected content type: %s", got)
	}

	if _, err := store.InsertTask(context.Background(), "user", domain.Task{ID: "b", Status: domain.StatusDone, Position: 1000}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	broker.notify("user")
	waitFor(t, "second snapshot", func() bool {
		return strings.Count(rec.String(), "event: tasks\n") == 2
	})
	if !strings.Contains(rec.String(), `"id":"b"`) {
		t.Fatalf("expected new task in stream: %s", rec.String())
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("stream returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop after cancel")
	}
	if len(broker.subs) != 0 {
		t.Fatal("stream must unsubscribe on exit")
	}
}

func TestStreamTasksRequiresAuth(t *testing.T) {
	logger, _ := test.NewNullLogger()
	h := NewHandlers(newMemStore(), denyAuth{}, logger, Options{Broker: NewUpdateBroker()})
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/stream", nil), rec)
	if err := h.streamTasks(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
