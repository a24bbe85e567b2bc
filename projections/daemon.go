package projections

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ripkitten-co/grantbook"
	"github.com/ripkitten-co/grantbook/schema"
)

type DaemonOption func(*daemonConfig)

type daemonConfig struct {
	pollingInterval time.Duration
	batchSize       int
	maxRetries      int
	logger          *slog.Logger
	metrics         Metrics
}

func WithPollingInterval(d time.Duration) DaemonOption {
	return func(c *daemonConfig) { c.pollingInterval = d }
}

func WithBatchSize(n int) DaemonOption {
	return func(c *daemonConfig) { c.batchSize = n }
}

// WithMaxRetries sets how many consecutive failed batches dead-letter a
// subscriber.
func WithMaxRetries(n int) DaemonOption {
	return func(c *daemonConfig) { c.maxRetries = n }
}

func WithLogger(l *slog.Logger) DaemonOption {
	return func(c *daemonConfig) { c.logger = l }
}

func WithMetrics(m Metrics) DaemonOption {
	return func(c *daemonConfig) { c.metrics = m }
}

// Daemon runs one worker per subscriber. Workers drain on start, on every
// polling tick, and whenever new events are announced over LISTEN/NOTIFY.
type Daemon struct {
	store       *grantbook.Store
	config      daemonConfig
	subscribers []Subscriber
}

func NewDaemon(store *grantbook.Store, opts ...DaemonOption) *Daemon {
	cfg := daemonConfig{
		pollingInterval: 5 * time.Second,
		batchSize:       100,
		maxRetries:      5,
		logger:          slog.Default(),
	}
	for _, o := range opts {
		o(&cfg)
	}
	return &Daemon{store: store, config: cfg}
}

func (d *Daemon) Add(sub Subscriber) {
	d.subscribers = append(d.subscribers, sub)
}

func (d *Daemon) newWorker(sub Subscriber) *Worker {
	w := NewWorker(d.store, sub)
	w.SetBatchSize(d.config.batchSize)
	w.SetMaxRetries(d.config.maxRetries)
	w.SetLogger(d.config.logger)
	w.SetMetrics(d.config.metrics)
	return w
}

// Run blocks until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) {
	var wg sync.WaitGroup

	wakes := make([]chan struct{}, len(d.subscribers))
	for i, sub := range d.subscribers {
		wakes[i] = make(chan struct{}, 1)
		w := d.newWorker(sub)
		wg.Add(1)
		go func(wake <-chan struct{}) {
			defer wg.Done()
			d.runWorker(ctx, w, wake)
		}(wakes[i])
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.fanOutNotifications(ctx, wakes)
	}()

	wg.Wait()
}

func (d *Daemon) fanOutNotifications(ctx context.Context, wakes []chan struct{}) {
	notify, err := NewPoller(d.store, d.config.batchSize).Listen(ctx)
	if err != nil {
		// polling still covers new events
		d.config.logger.WarnContext(ctx, "listen for events", "error", err)
		return
	}
	for range notify {
		for _, w := range wakes {
			select {
			case w <- struct{}{}:
			default:
			}
		}
	}
}

func (d *Daemon) runWorker(ctx context.Context, w *Worker, wake <-chan struct{}) {
	defer func() {
		if err := w.ReleaseLock(ctx); err != nil {
			d.config.logger.Error("release lock", "worker", w.subscriber.Name(), "error", err)
		}
	}()

	d.drainBatches(ctx, w)

	ticker := time.NewTicker(d.config.pollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-wake:
		}
		d.drainBatches(ctx, w)
	}
}

// drainBatches processes batches until the log is exhausted. The advisory
// lock is kept between drains so another process cannot interleave.
func (d *Daemon) drainBatches(ctx context.Context, w *Worker) {
	log := d.config.logger
	acquired, err := w.TryAcquireLock(ctx)
	if err != nil {
		log.ErrorContext(ctx, "acquire lock", "worker", w.subscriber.Name(), "error", err)
		return
	}
	if !acquired {
		return
	}

	for {
		if ctx.Err() != nil {
			return
		}
		n, err := w.ProcessBatch(ctx)
		if err != nil {
			log.ErrorContext(ctx, "process batch", "worker", w.subscriber.Name(), "error", err)
			return
		}
		if n == 0 {
			return
		}
	}
}

// Rebuild drops the subscriber's collection, resets its checkpoint and
// replays the whole event log through it. Run must not be processing the
// same subscriber at the time.
func (d *Daemon) Rebuild(ctx context.Context, name string) error {
	var sub Subscriber
	for _, s := range d.subscribers {
		if s.Name() == name {
			sub = s
			break
		}
	}
	if sub == nil {
		return fmt.Errorf("daemon: subscriber %q: %w", name, grantbook.ErrNotFound)
	}
	if err := schema.ValidateCollectionName(name); err != nil {
		return fmt.Errorf("daemon: rebuild: %w", err)
	}

	exec := d.store.DBExecutor()
	bootstrap := d.store.SchemaBootstrap()
	table := schema.CollectionTable(name)

	if _, err := exec.Exec(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
		return fmt.Errorf("daemon: drop table %s: %w", table, err)
	}
	bootstrap.InvalidateTable(table)
	if err := bootstrap.EnsureCollection(ctx, exec, name); err != nil {
		return fmt.Errorf("daemon: recreate table %s: %w", table, err)
	}

	cs := NewCheckpointStore(d.store)
	if err := cs.Reset(ctx, name); err != nil {
		return fmt.Errorf("daemon: reset checkpoint %s: %w", name, err)
	}

	d.config.logger.InfoContext(ctx, "rebuilding subscriber", "subscriber", name)
	w := d.newWorker(sub)
	replayed := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, err := w.ProcessBatch(ctx)
		if err != nil {
			return fmt.Errorf("daemon: rebuild %s: %w", name, err)
		}
		if n == 0 {
			break
		}
		replayed += n
	}

	if err := cs.SetStatus(ctx, name, StatusRunning); err != nil {
		return fmt.Errorf("daemon: rebuild %s set status: %w", name, err)
	}
	d.config.logger.InfoContext(ctx, "rebuild complete", "subscriber", name, "events", replayed)
	return nil
}
