package bus

import (
	"log/slog"
	"sync"
	"time"

	"opguard/internal/domain"
)

const (
	defaultQueueSize      = 100
	defaultPublishTimeout = 10 * time.Second
)

// Queue is a bounded channel of host events feeding the dispatch workers.
type Queue struct {
	inbound chan domain.HostEvent
	timeout time.Duration
	mu      sync.RWMutex
	closed  bool
	logger  *slog.Logger
}

var _ domain.EventQueue = (*Queue)(nil)

// NewQueue creates a Queue holding up to size events.
func NewQueue(size int, logger *slog.Logger) *Queue {
	if size <= 0 {
		size = defaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		inbound: make(chan domain.HostEvent, size),
		timeout: defaultPublishTimeout,
		logger:  logger,
	}
}

// SetPublishTimeout changes how long Publish waits on a full queue.
func (q *Queue) SetPublishTimeout(d time.Duration) { q.timeout = d }

// Publish enqueues ev, waiting up to the publish timeout when the queue is
// full. It reports whether the event was accepted.
func (q *Queue) Publish(ev domain.HostEvent) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.logger.Warn("publish on closed queue", "type", string(ev.Type), "actor", ev.Actor)
		return false
	}

	select {
	case q.inbound <- ev:
		return true
	default:
	}

	q.logger.Warn("event queue full, waiting", "type", string(ev.Type), "actor", ev.Actor)
	timer := time.NewTimer(q.timeout)
	defer timer.Stop()
	select {
	case q.inbound <- ev:
		return true
	case <-timer.C:
		q.logger.Error("event dropped: queue full", "type", string(ev.Type), "actor", ev.Actor, "waited", q.timeout)
		return false
	}
}

func (q *Queue) Subscribe() <-chan domain.HostEvent {
	return q.inbound
}

// Close stops Publish; workers drain what is left.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.inbound)
	}
}
