package bus

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"time"

	"opguard/internal/domain"
)

// Handler decides one host event.
type Handler func(ctx context.Context, ev domain.HostEvent) domain.Outcome

// Entry is one dispatched event with its verdict.
type Entry struct {
	Event   domain.HostEvent
	Verdict domain.Verdict
}

// Dispatcher routes host events to the handler registered for their type.
// A handler panic is logged and the event proceeds as allowed.
type Dispatcher struct {
	mu         sync.RWMutex
	handlers   map[domain.EventType]Handler
	logger     *slog.Logger
	history    []Entry
	maxHistory int
}

// NewDispatcher keeps the last maxHistory entries for Replay. Zero disables
// history.
func NewDispatcher(maxHistory int, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if maxHistory < 0 {
		maxHistory = 0
	}
	return &Dispatcher{
		handlers:   make(map[domain.EventType]Handler),
		logger:     logger,
		maxHistory: maxHistory,
	}
}

// On registers h for eventType, replacing any previous handler.
func (d *Dispatcher) On(eventType domain.EventType, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[eventType] = h
}

// Dispatch runs the handler for ev synchronously. Events without a handler
// are allowed.
func (d *Dispatcher) Dispatch(ctx context.Context, ev domain.HostEvent) (out domain.Outcome) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	d.mu.RLock()
	h, ok := d.handlers[ev.Type]
	d.mu.RUnlock()

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event handler panic", "type", string(ev.Type), "actor", ev.Actor, "panic", fmt.Sprint(r))
			out = domain.Allow()
		}
		d.remember(Entry{Event: ev, Verdict: out.Verdict})
	}()

	if !ok {
		d.logger.Warn("no handler registered for event", "type", string(ev.Type))
		return domain.Allow()
	}
	return h(ctx, ev)
}

func (d *Dispatcher) remember(e Entry) {
	if d.maxHistory == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.history) >= d.maxHistory {
		d.history = d.history[1:]
	}
	d.history = append(d.history, e)
}

// Serve runs workers goroutines that dispatch events from q until it is
// closed and drained or ctx is done. Events are sharded by actor, so events
// for one actor are dispatched one at a time in publish order. Events already
// handed to a worker are dispatched before Serve returns.
func (d *Dispatcher) Serve(ctx context.Context, q domain.EventQueue, workers int) {
	if workers <= 0 {
		workers = 1
	}
	shards := make([]chan domain.HostEvent, workers)
	var wg sync.WaitGroup
	for i := range shards {
		shards[i] = make(chan domain.HostEvent, shardBuffer)
		wg.Add(1)
		go func(events <-chan domain.HostEvent) {
			defer wg.Done()
			for ev := range events {
				d.Dispatch(ctx, ev)
			}
		}(shards[i])
	}
	defer func() {
		for _, ch := range shards {
			close(ch)
		}
		wg.Wait()
	}()

	events := q.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			select {
			case shards[shardOf(ev, workers)] <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

// shardBuffer bounds the events waiting on one worker.
const shardBuffer = 16

// shardOf maps ev to a worker by the case-folded actor it concerns.
func shardOf(ev domain.HostEvent, workers int) int {
	key := ev.Actor
	if ev.Type == domain.EventAdminAllow && len(ev.Args) > 0 {
		key = ev.Args[0]
	}
	h := fnv.New32a()
	h.Write([]byte(strings.ToLower(key)))
	return int(h.Sum32() % uint32(workers))
}

// Replay returns history entries of eventType since the given time. Use "*"
// for every type.
func (d *Dispatcher) Replay(eventType domain.EventType, since time.Time) []Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var result []Entry
	for _, e := range d.history {
		if e.Event.Timestamp.Before(since) {
			continue
		}
		if eventType == "*" || e.Event.Type == eventType {
			result = append(result, e)
		}
	}
	return result
}
