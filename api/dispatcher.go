package api

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

// DispatcherConfig sizes the background event dispatcher.
type DispatcherConfig struct {
	Workers        int
	Buffer         int
	Timeout        time.Duration
	HandoffTimeout time.Duration
	MaxAttempts    int
	RetryInitial   time.Duration
	RetryMax       time.Duration
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.Buffer <= 0 {
		c.Buffer = 1024
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = 200 * time.Millisecond
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 5 * time.Second
	}
	return c
}

type dispatchJob struct {
	userID string
	events []domain.TaskEvent
}

// EventDispatcher publishes task events and change notifications off the
// request path. When the buffer stays full past the handoff timeout the job
// runs inline on the caller's goroutine.
type EventDispatcher struct {
	sink     EventSink
	notifier ChangeNotifier
	logger   *log.Logger
	cfg      DispatcherConfig

	mu     sync.RWMutex
	closed bool
	jobs   chan dispatchJob
	wg     sync.WaitGroup
}

// NewEventDispatcher starts the dispatcher workers. Either sink or notifier
// may be nil.
func NewEventDispatcher(sink EventSink, notifier ChangeNotifier, cfg DispatcherConfig, logger *log.Logger) *EventDispatcher {
	if logger == nil {
		panic("api.NewEventDispatcher: logger is nil")
	}
	cfg = cfg.withDefaults()
	d := &EventDispatcher{
		sink:     sink,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
		jobs:     make(chan dispatchJob, cfg.Buffer),
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	logger.WithFields(log.Fields{
		"workers": cfg.Workers,
		"buffer":  cfg.Buffer,
		"timeout": cfg.Timeout,
		"handoff": cfg.HandoffTimeout,
	}).Info("event dispatcher started")
	return d
}

// Dispatch hands the events for userID to a worker.
func (d *EventDispatcher) Dispatch(userID string, events []domain.TaskEvent) {
	job := dispatchJob{userID: userID, events: events}

	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		d.logger.WithField("user", userID).Warn("event dispatcher closed; dropping events")
		return
	}
	ok := d.handoff(job)
	d.mu.RUnlock()

	if !ok {
		d.logger.Warn("event buffer saturated; dispatching inline")
		d.run(job, -1)
	}
}

func (d *EventDispatcher) handoff(job dispatchJob) bool {
	select {
	case d.jobs <- job:
		return true
	default:
	}
	if d.cfg.HandoffTimeout <= 0 {
		return false
	}
	timer := time.NewTimer(d.cfg.HandoffTimeout)
	defer timer.Stop()
	select {
	case d.jobs <- job:
		return true
	case <-timer.C:
		return false
	}
}

// Close stops accepting jobs and waits for queued jobs to drain.
func (d *EventDispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *EventDispatcher) worker(id int) {
	defer d.wg.Done()
	for job := range d.jobs {
		d.run(job, id)
	}
}

func (d *EventDispatcher) run(job dispatchJob, workerID int) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout)
	defer cancel()

	if d.notifier != nil {
		if err := d.notifier.NotifyChanged(ctx, job.userID); err != nil {
			d.logger.WithError(err).WithField("user", job.userID).Warn("change notification failed")
		}
	}
	if d.sink == nil || len(job.events) == 0 {
		return
	}

	for attempt := 1; ; attempt++ {
		err := d.sink.PublishEvents(ctx, job.events)
		if err == nil {
			return
		}
		entry := d.logger.WithError(err).WithFields(log.Fields{
			"user":    job.userID,
			"events":  len(job.events),
			"attempt": attempt,
			"worker":  workerID,
		})
		if attempt >= d.cfg.MaxAttempts {
			entry.Error("event publish failed")
			return
		}
		entry.Warn("event publish failed; retrying")
		select {
		case <-time.After(exponentialBackoff(attempt, d.cfg.RetryInitial, d.cfg.RetryMax)):
		case <-ctx.Done():
			d.logger.WithError(ctx.Err()).WithField("user", job.userID).Error("event publish abandoned")
			return
		}
	}
}

func exponentialBackoff(attempt int, initial, max time.Duration) time.Duration {
	if attempt <= 0 {
		return initial
	}
	backoff := float64(initial) * math.Pow(2, float64(attempt-1))
	if backoff > float64(max) {
		backoff = float64(max)
	}
	jitter := 0.2 * backoff
	return time.Duration(backoff + (rand.Float64()-0.5)*2*jitter)
}
