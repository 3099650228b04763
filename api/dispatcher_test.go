package api

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"prism-board/domain"
)

type fakeSink struct {
	mu      sync.Mutex
	calls   int
	failFor int
	block   chan struct{}
	entered chan struct{}
	events  []domain.TaskEvent
}

func (f *fakeSink) PublishEvents(ctx context.Context, events []domain.TaskEvent) error {
	if f.block != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failFor {
		return errors.New("queue unavailable")
	}
	f.events = append(f.events, events...)
	return nil
}

func (f *fakeSink) snapshot() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls, len(f.events)
}

type fakeNotifier struct {
	mu    sync.Mutex
	users []string
}

func (f *fakeNotifier) NotifyChanged(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users = append(f.users, userID)
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.users)
}

func TestDispatcherPublishesAndNotifies(t *testing.T) {
	logger, _ := test.NewNullLogger()
	sink := &fakeSink{}
	notifier := &fakeNotifier{}
	d := NewEventDispatcher(sink, notifier, DispatcherConfig{Workers: 2, Buffer: 4}, logger)

	d.Dispatch("u1", []domain.TaskEvent{{ID: "e1"}, {ID: "e2"}})
	d.Dispatch("u2", nil)
	d.Close()

	if calls, n := sink.snapshot(); calls != 1 || n != 2 {
		t.Fatalf("expected one publish of two events, got calls=%d events=%d", calls, n)
	}
	if notifier.count() != 2 {
		t.Fatalf("expected two notifications, got %d", notifier.count())
	}
}

func TestDispatcherRetriesFailedPublish(t *testing.T) {
	logger, hook := test.NewNullLogger()
	sink := &fakeSink{failFor: 2}
	d := NewEventDispatcher(sink, nil, DispatcherConfig{
		Workers:      1,
		MaxAttempts:  3,
		RetryInitial: time.Millisecond,
		RetryMax:     2 * time.Millisecond,
	}, logger)

	d.Dispatch("u1", []domain.TaskEvent{{ID: "e1"}})
	d.Close()

	if calls, n := sink.snapshot(); calls != 3 || n != 1 {
		t.Fatalf("expected success on third attempt, got calls=%d events=%d", calls, n)
	}
	for _, entry := range hook.AllEntries() {
		if entry.Message == "event publish failed" {
			t.Fatal("unexpected terminal failure log")
		}
	}
}

func TestDispatcherGivesUpAfterMaxAttempts(t *testing.T) {
	logger, hook := test.NewNullLogger()
	sink := &fakeSink{failFor: 100}
	d := NewEventDispatcher(sink, nil, DispatcherConfig{
		Workers:      1,
		MaxAttempts:  2,
		RetryInitial: time.Millisecond,
		RetryMax:     time.Millisecond,
	}, logger)

	d.Dispatch("u1", []domain.TaskEvent{{ID: "e1"}})
	d.Close()

	if calls, _ := sink.snapshot(); calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
	if entry := hook.LastEntry(); entry == nil || entry.Message != "event publish failed" {
		t.Fatalf("expected terminal failure log, got %#v", entry)
	}
}

func TestDispatcherRunsInlineWhenSaturated(t *testing.T) {
	logger, hook := test.NewNullLogger()
	sink := &fakeSink{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	d := NewEventDispatcher(sink, nil, DispatcherConfig{
		Workers:        1,
		Buffer:         1,
		HandoffTimeout: 5 * time.Millisecond,
	}, logger)

	// The worker blocks on the first job and the second fills the buffer.
	d.Dispatch("u1", []domain.TaskEvent{{ID: "e1"}})
	<-sink.entered
	d.Dispatch("u1", []domain.TaskEvent{{ID: "e2"}})

	done := make(chan struct{})
	go func() {
		d.Dispatch("u1", []domain.TaskEvent{{ID: "e3"}})
		close(done)
	}()

	deadline := time.After(time.Second)
	for {
		found := false
		for _, entry := range hook.AllEntries() {
			if entry.Message == "event buffer saturated; dispatching inline" {
				found = true
			}
		}
		if found {
			break
		}
		select {
		case <-deadline:
			t.Fatal("expected inline dispatch")
		case <-time.After(5 * time.Millisecond):
		}
	}

	close(sink.block)
	<-done
	d.Close()

	if calls, n := sink.snapshot(); calls != 3 || n != 3 {
		t.Fatalf("expected all three jobs published, got calls=%d events=%d", calls, n)
	}
}

func TestDispatcherDropsAfterClose(t *testing.T) {
	logger, _ := test.NewNullLogger()
	sink := &fakeSink{}
	d := NewEventDispatcher(sink, nil, DispatcherConfig{Workers: 1}, logger)
	d.Close()
	d.Close()

	d.Dispatch("u1", []domain.TaskEvent{{ID: "late"}})
	if calls, _ := sink.snapshot(); calls != 0 {
		t.Fatalf("expected no publish after close, got %d", calls)
	}
}

func TestExponentialBackoffBounds(t *testing.T) {
	for attempt := 1; attempt <= 10; attempt++ {
		got := exponentialBackoff(attempt, 100*time.Millisecond, time.Second)
		if got < 80*time.Millisecond || got > 1200*time.Millisecond {
			t.Fatalf("attempt %d: backoff %v out of bounds", attempt, got)
		}
	}
}
