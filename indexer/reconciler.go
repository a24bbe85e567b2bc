// Package indexer keeps one stored record per recipient in step with the
// registry's event log. Events arrive one at a time in block order; the
// reconciler neither buffers nor reorders them.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ripkitten-co/grantbook"
	"github.com/ripkitten-co/grantbook/recipient"
)

// Sink is the keyed store the reconciler writes to. Load and Delete return
// an error wrapping grantbook.ErrNotFound for unknown ids.
type Sink interface {
	Load(ctx context.Context, id string) (*recipient.Recipient, error)
	Upsert(ctx context.Context, r *recipient.Recipient) error
	Delete(ctx context.Context, id string) error
}

// Strategy selects what a removal does to the stored record. One
// reconciler never mixes strategies.
type Strategy int

const (
	// DeleteOnRemove drops the record.
	DeleteOnRemove Strategy = iota
	// FlagOnRemove keeps the record, marks it removed and derives its flags.
	FlagOnRemove
)

func (s Strategy) String() string {
	switch s {
	case DeleteOnRemove:
		return "delete"
	case FlagOnRemove:
		return "flag"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// ParseStrategy maps "delete" and "flag" to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "delete", "":
		return DeleteOnRemove, nil
	case "flag":
		return FlagOnRemove, nil
	default:
		return 0, fmt.Errorf("indexer: unknown removal strategy %q", s)
	}
}

// Metrics counts reconciled and skipped events. A nil Metrics is ignored.
type Metrics interface {
	EventApplied(eventType string)
	EventSkipped(eventType, reason string)
}

type Option func(*Reconciler)

func WithStrategy(s Strategy) Option {
	return func(r *Reconciler) { r.strategy = s }
}

// WithClock replaces the processing-time source used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

func WithMetrics(m Metrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

// Reconciler applies added and removed events to a Sink. It assumes
// exclusive access to the sink for the duration of a call.
type Reconciler struct {
	sink     Sink
	strategy Strategy
	now      func() time.Time
	logger   *slog.Logger
	metrics  Metrics
}

func New(sink Sink, opts ...Option) *Reconciler {
	r := &Reconciler{
		sink:     sink,
		strategy: DeleteOnRemove,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Reconciler) Strategy() Strategy { return r.strategy }

// withSink returns a copy writing to s, used to bind the reconciler to a
// per-batch transaction.
func (r *Reconciler) withSink(s Sink) *Reconciler {
	c := *r
	c.sink = s
	return &c
}

// HandleAdded stores the recipient, overwriting any record with the same
// id. Under FlagOnRemove a record already marked removed is left as is.
// Structurally invalid events are logged and skipped.
func (r *Reconciler) HandleAdded(ctx context.Context, evt recipient.AddedEvent) error {
	rec, err := recipient.Decode(evt)
	if err != nil {
		r.skip(ctx, recipient.EventAdded, "invalid", err, "tx", evt.TxHash.Hex())
		return nil
	}

	if r.strategy == FlagOnRemove {
		cur, err := r.sink.Load(ctx, rec.ID)
		switch {
		case err == nil && cur.Removed:
			r.skip(ctx, recipient.EventAdded, "removed", nil, "recipient_id", rec.ID)
			return nil
		case err != nil && !errors.Is(err, grantbook.ErrNotFound):
			return fmt.Errorf("indexer: add %s: load: %w", rec.ID, err)
		}
	}

	rec.CreatedAt = r.now().UTC()
	if err := r.sink.Upsert(ctx, &rec); err != nil {
		return fmt.Errorf("indexer: add %s: %w", rec.ID, err)
	}

	r.applied(recipient.EventAdded)
	r.logger.DebugContext(ctx, "recipient added",
		"recipient_id", rec.ID, "registry", rec.RegistryID, "index", rec.Index)
	return nil
}

// HandleRemoved applies a removal. A removal for an id with no record is a
// no-op.
func (r *Reconciler) HandleRemoved(ctx context.Context, evt recipient.RemovedEvent) error {
	removal, err := recipient.DecodeRemoval(evt)
	if err != nil {
		r.skip(ctx, recipient.EventRemoved, "invalid", err, "tx", evt.TxHash.Hex())
		return nil
	}
	id := removal.RecipientID

	cur, err := r.sink.Load(ctx, id)
	if errors.Is(err, grantbook.ErrNotFound) {
		r.skip(ctx, recipient.EventRemoved, "unknown", nil, "recipient_id", id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("indexer: remove %s: load: %w", id, err)
	}

	switch r.strategy {
	case FlagOnRemove:
		flags := recipient.Evaluate(cur.SubmittedAt, &removal, recipient.Window{})
		cur.Removed = true
		cur.RemovedAt = removal.At
		cur.IsHidden = flags.Hidden
		cur.IsLocked = flags.Locked
		if err := r.sink.Upsert(ctx, cur); err != nil {
			return fmt.Errorf("indexer: remove %s: %w", id, err)
		}
	default:
		if err := r.sink.Delete(ctx, id); err != nil && !errors.Is(err, grantbook.ErrNotFound) {
			return fmt.Errorf("indexer: remove %s: %w", id, err)
		}
	}

	r.applied(recipient.EventRemoved)
	r.logger.DebugContext(ctx, "recipient removed",
		"recipient_id", id, "strategy", r.strategy.String(), "removed_at", removal.At)
	return nil
}

func (r *Reconciler) applied(eventType string) {
	if r.metrics != nil {
		r.metrics.EventApplied(eventType)
	}
}

func (r *Reconciler) skip(ctx context.Context, eventType, reason string, err error, attrs ...any) {
	if r.metrics != nil {
		r.metrics.EventSkipped(eventType, reason)
	}
	attrs = append(attrs, "event", eventType, "reason", reason)
	if err != nil {
		attrs = append(attrs, "error", err)
		r.logger.WarnContext(ctx, "event skipped", attrs...)
		return
	}
	r.logger.DebugContext(ctx, "event skipped", attrs...)
}
