package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultQueueSize    = 1024
	defaultWriteTimeout = 5 * time.Second
	defaultQueryLimit   = 100
	maxQueryLimit       = 1000
)

// Recorder appends audit events without ever blocking or failing the
// caller's decision path. Writes are queued and flushed by a background
// worker on a detached context, so caller cancellation does not abort an
// in-flight audit write. When the queue is full the event is dropped and
// counted; durability is best-effort by contract.
type Recorder struct {
	store   Store
	logger  *zap.Logger
	queue   chan Event
	timeout time.Duration

	dropped   atomic.Uint64
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewRecorder creates a recorder and starts its flush worker.
func NewRecorder(store Store, logger *zap.Logger) *Recorder {
	r := &Recorder{
		store:   store,
		logger:  logger,
		queue:   make(chan Event, defaultQueueSize),
		timeout: defaultWriteTimeout,
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// Record enqueues an event. Never blocks; a full queue drops the event.
func (r *Recorder) Record(e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Status == "" {
		if e.Allowed {
			e.Status = "success"
		} else {
			e.Status = "failure"
		}
	}

	select {
	case r.queue <- e:
	default:
		r.dropped.Add(1)
		r.logger.Warn("audit queue full, event dropped",
			zap.String("subject", e.Subject),
			zap.String("action", e.Action))
	}
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for e := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		if err := r.store.Insert(ctx, e); err != nil {
			r.logger.Error("audit write failed",
				zap.String("event_id", e.ID),
				zap.Error(err))
		}
		cancel()
	}
}

// Close flushes queued events and stops the worker.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() {
		close(r.queue)
	})
	r.wg.Wait()
}

// Dropped returns the number of events lost to queue overflow.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// QueryOptions filter paginated audit queries.
type QueryOptions struct {
	Subject   *string
	EventType *EventType
	Resource  *string
	Status    *string
	StartTime *time.Time
	EndTime   *time.Time
	Page      int
	Limit     int
}

// Query returns matching events in reverse-chronological order with the
// total match count and page count. A store failure is surfaced as
// ErrStoreUnavailable, never as an empty page.
func (r *Recorder) Query(ctx context.Context, opts QueryOptions) ([]Event, int, int, error) {
	if opts.Limit <= 0 {
		opts.Limit = defaultQueryLimit
	}
	if opts.Limit > maxQueryLimit {
		opts.Limit = maxQueryLimit
	}
	if opts.Page < 1 {
		opts.Page = 1
	}

	params := QueryParams{
		Subject:   opts.Subject,
		EventType: opts.EventType,
		Resource:  opts.Resource,
		Status:    opts.Status,
		StartTime: opts.StartTime,
		EndTime:   opts.EndTime,
		Limit:     opts.Limit,
		Offset:    (opts.Page - 1) * opts.Limit,
	}

	events, total, err := r.store.Query(ctx, params)
	if err != nil {
		return nil, 0, 0, err
	}
	pages := (total + opts.Limit - 1) / opts.Limit
	return events, total, pages, nil
}

// QuerySecurityEvents returns denial and anomaly events within the trailing
// window.
func (r *Recorder) QuerySecurityEvents(ctx context.Context, windowDays, limit int) ([]Event, error) {
	if windowDays <= 0 {
		windowDays = 7
	}
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	since := time.Now().UTC().AddDate(0, 0, -windowDays)
	return r.store.SecurityEvents(ctx, since, limit)
}
