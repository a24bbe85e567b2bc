package projections

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ripkitten-co/grantbook"
	"github.com/ripkitten-co/grantbook/events"
)

// Metrics receives batch outcomes. Implementations must be safe for
// concurrent use; a nil Metrics is ignored.
type Metrics interface {
	BatchProcessed(subscriber string, events int, elapsed time.Duration)
	BatchFailed(subscriber string)
	DeadLettered(subscriber string)
}

// Worker moves one subscriber through the event log.
type Worker struct {
	store               *grantbook.Store
	subscriber          Subscriber
	checkpoint          *CheckpointStore
	poller              *Poller
	types               map[string]struct{}
	maxRetries          int
	consecutiveFailures int
	logger              *slog.Logger
	metrics             Metrics
	lockConn            *pgxpool.Conn
}

func NewWorker(store *grantbook.Store, sub Subscriber) *Worker {
	types := make(map[string]struct{}, len(sub.EventTypes()))
	for _, t := range sub.EventTypes() {
		types[t] = struct{}{}
	}
	return &Worker{
		store:      store,
		subscriber: sub,
		checkpoint: NewCheckpointStore(store),
		poller:     NewPoller(store, 100),
		types:      types,
		maxRetries: 5,
		logger:     slog.Default(),
	}
}

func (w *Worker) SetMaxRetries(n int) {
	w.maxRetries = n
}

func (w *Worker) SetBatchSize(n int) {
	w.poller.batchSize = n
}

func (w *Worker) SetLogger(l *slog.Logger) {
	w.logger = l
}

func (w *Worker) SetMetrics(m Metrics) {
	w.metrics = m
}

// ProcessBatch polls for events after the last checkpoint position and
// processes them through the subscriber. State writes and the new checkpoint
// commit together. Returns the number of events polled (before filtering)
// so callers can decide whether to keep draining.
func (w *Worker) ProcessBatch(ctx context.Context) (int, error) {
	name := w.subscriber.Name()

	pos, status, err := w.checkpoint.Load(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("worker %s: load checkpoint: %w", name, err)
	}

	if status == StatusDeadLetter || status == StatusStopped {
		return 0, nil
	}

	evts, err := w.poller.Poll(ctx, pos)
	if err != nil {
		return 0, fmt.Errorf("worker %s: poll: %w", name, err)
	}
	if len(evts) == 0 {
		return 0, nil
	}
	last := evts[len(evts)-1].GlobalPosition

	filtered := w.filterEvents(evts)
	if len(filtered) == 0 {
		return len(evts), w.checkpoint.Save(ctx, name, last)
	}

	start := time.Now()
	if err := w.apply(ctx, filtered, last); err != nil {
		w.fail(ctx, err)
		return 0, fmt.Errorf("worker %s: %w", name, err)
	}

	w.consecutiveFailures = 0
	if w.metrics != nil {
		w.metrics.BatchProcessed(name, len(filtered), time.Since(start))
	}
	w.logger.DebugContext(ctx, "batch processed",
		"subscriber", name, "events", len(filtered), "position", last)
	return len(evts), nil
}

func (w *Worker) apply(ctx context.Context, evts []events.Event, last int64) error {
	sess, err := w.store.Session(ctx)
	if err != nil {
		return err
	}
	defer sess.Close(ctx)

	if err := w.subscriber.Process(ctx, evts, NewProcessingStore(sess)); err != nil {
		return fmt.Errorf("process: %w", err)
	}
	if err := NewCheckpointStore(sess).Save(ctx, w.subscriber.Name(), last); err != nil {
		return err
	}
	return sess.Commit(ctx)
}

func (w *Worker) fail(ctx context.Context, cause error) {
	name := w.subscriber.Name()
	w.consecutiveFailures++
	if w.metrics != nil {
		w.metrics.BatchFailed(name)
	}
	if w.consecutiveFailures < w.maxRetries {
		return
	}

	w.logger.ErrorContext(ctx, "subscriber dead-lettered",
		"subscriber", name, "failures", w.consecutiveFailures, "error", cause)
	if err := w.checkpoint.SetError(ctx, name, StatusDeadLetter, cause.Error()); err != nil {
		w.logger.ErrorContext(ctx, "set dead letter status", "subscriber", name, "error", err)
		return
	}
	if w.metrics != nil {
		w.metrics.DeadLettered(name)
	}
}

// TryAcquireLock takes the subscriber's advisory lock on a dedicated
// connection. Session-level advisory locks belong to the connection that
// took them, so the connection is held until ReleaseLock.
func (w *Worker) TryAcquireLock(ctx context.Context) (bool, error) {
	if w.lockConn != nil {
		return true, nil
	}

	conn, err := w.store.PgxPool().Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("worker %s: acquire conn: %w", w.subscriber.Name(), err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", lockHash(w.subscriber.Name())).Scan(&acquired); err != nil {
		conn.Release()
		return false, fmt.Errorf("worker %s: acquire lock: %w", w.subscriber.Name(), err)
	}
	if !acquired {
		conn.Release()
		return false, nil
	}

	w.lockConn = conn
	return true, nil
}

func (w *Worker) ReleaseLock(ctx context.Context) error {
	if w.lockConn == nil {
		return nil
	}
	conn := w.lockConn
	w.lockConn = nil

	// unlock even when the caller is shutting down
	ctx = context.WithoutCancel(ctx)
	var released bool
	if err := conn.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", lockHash(w.subscriber.Name())).Scan(&released); err != nil {
		// closing the connection drops the lock with it
		_ = conn.Hijack().Close(ctx)
		return fmt.Errorf("worker %s: release lock: %w", w.subscriber.Name(), err)
	}
	conn.Release()
	return nil
}

func (w *Worker) filterEvents(evts []events.Event) []events.Event {
	var filtered []events.Event
	for _, evt := range evts {
		if _, ok := w.types[evt.Type]; ok {
			filtered = append(filtered, evt)
		}
	}
	return filtered
}

func lockHash(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return int64(h.Sum64())
}
