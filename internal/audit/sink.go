package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"opguard/internal/clock"
	"opguard/internal/domain"
	"opguard/internal/metrics"
)

// DefaultQueueSize bounds the records waiting for the background writer.
const DefaultQueueSize = 256

// writeTimeout bounds a single output write.
const writeTimeout = 5 * time.Second

// Options configures a Sink.
type Options struct {
	Logger *slog.Logger
	// Console logs every record through Logger.
	Console   bool
	Outputs   []Output
	QueueSize int
	Clock     clock.Clock
}

// Sink implements domain.AuditSink. Record never blocks: console logging is
// synchronous and every other output has its own queue and goroutine, so a
// slow output only delays itself.
type Sink struct {
	logger  *slog.Logger
	console bool
	lanes   []*lane
	clock   clock.Clock

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// lane is one output with its pending records.
type lane struct {
	out   Output
	queue chan domain.AuditRecord
}

var _ domain.AuditSink = (*Sink)(nil)

func NewSink(opts Options) *Sink {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	s := &Sink{
		logger:  opts.Logger,
		console: opts.Console,
		clock:   opts.Clock,
	}
	for _, out := range opts.Outputs {
		l := &lane{out: out, queue: make(chan domain.AuditRecord, opts.QueueSize)}
		s.lanes = append(s.lanes, l)
		s.wg.Add(1)
		go s.run(l)
	}
	return s
}

// Record stamps rec with an ID and timestamp when missing and dispatches it.
func (s *Sink) Record(ctx context.Context, rec domain.AuditRecord) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.clock.Now()
	}

	if s.console {
		level := slog.LevelInfo
		if rec.Kind.Blocked() {
			level = slog.LevelWarn
		}
		s.logger.Log(ctx, level, Format(rec),
			"kind", string(rec.Kind),
			"source", rec.Source,
		)
	}
	if len(s.lanes) == 0 {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.lanes {
		if s.closed {
			s.drop(l, rec, "sink closed")
			continue
		}
		select {
		case l.queue <- rec:
		default:
			s.drop(l, rec, "queue full")
		}
	}
}

func (s *Sink) drop(l *lane, rec domain.AuditRecord, reason string) {
	metrics.AuditDropped.Inc()
	s.logger.Error("audit record dropped",
		"output", l.out.Name(),
		"reason", reason,
		"kind", string(rec.Kind),
		"source", rec.Source,
	)
}

func (s *Sink) run(l *lane) {
	defer s.wg.Done()
	for rec := range l.queue {
		s.write(l.out, rec)
	}
}

func (s *Sink) write(out Output, rec domain.AuditRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := out.Write(ctx, rec); err != nil {
		metrics.AuditWriteErrors.Inc()
		perr := domain.Persistence(out.Name(), err)
		s.logger.Error("audit write failed",
			"output", out.Name(),
			"kind", string(rec.Kind),
			"err", perr,
		)
	}
}

// Close stops accepting records, drains every queue and closes the outputs.
// Records arriving after Close are dropped.
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.wg.Wait()
		return nil
	}
	s.closed = true
	for _, l := range s.lanes {
		close(l.queue)
	}
	s.mu.Unlock()

	s.wg.Wait()

	var errs []error
	for _, l := range s.lanes {
		if err := l.out.Close(); err != nil {
			errs = append(errs, domain.Persistence(l.out.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Pending returns the number of records queued across all outputs.
func (s *Sink) Pending() int {
	n := 0
	for _, l := range s.lanes {
		n += len(l.queue)
	}
	return n
}
