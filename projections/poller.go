package projections

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ripkitten-co/grantbook"
	"github.com/ripkitten-co/grantbook/events"
)

// Poller reads batches of events from the event log and supports
// LISTEN/NOTIFY for low-latency wakeups.
type Poller struct {
	events    *events.Store
	pool      *pgxpool.Pool
	batchSize int
}

func NewPoller(store *grantbook.Store, batchSize int) *Poller {
	return &Poller{
		events:    events.New(store),
		pool:      store.PgxPool(),
		batchSize: batchSize,
	}
}

// Poll returns events with global_position greater than afterPosition.
func (p *Poller) Poll(ctx context.Context, afterPosition int64) ([]events.Event, error) {
	return p.events.ReadAll(ctx, afterPosition, p.batchSize)
}

// Listen delivers a value on the returned channel for every notification on
// the event channel until ctx is cancelled. Sends never block: a wakeup that
// finds the channel full is dropped since one pending wakeup is enough.
func (p *Poller) Listen(ctx context.Context) (<-chan struct{}, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("poller: acquire conn: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+events.Channel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("poller: listen: %w", err)
	}

	// the connection keeps its LISTEN state, so it leaves the pool for good
	raw := conn.Hijack()

	wake := make(chan struct{}, 1)
	go func() {
		defer close(wake)
		defer func() { _ = raw.Close(context.WithoutCancel(ctx)) }()
		for {
			if _, err := raw.WaitForNotification(ctx); err != nil {
				return
			}
			select {
			case wake <- struct{}{}:
			default:
			}
		}
	}()
	return wake, nil
}

// WaitForNotification blocks until a NOTIFY arrives on the event channel or
// the context is cancelled.
func (p *Poller) WaitForNotification(ctx context.Context) error {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("poller: acquire conn: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+events.Channel); err != nil {
		return fmt.Errorf("poller: listen: %w", err)
	}
	defer func() { _, _ = conn.Exec(context.WithoutCancel(ctx), "UNLISTEN *") }()

	if _, err := conn.Conn().WaitForNotification(ctx); err != nil {
		return fmt.Errorf("poller: wait: %w", err)
	}
	return nil
}
