package indexer

import (
	"context"

	"github.com/ripkitten-co/grantbook/events"
	"github.com/ripkitten-co/grantbook/internal/codecs"
	"github.com/ripkitten-co/grantbook/projections"
	"github.com/ripkitten-co/grantbook/recipient"
)

// Subscriber drives rec from the chain event log. Each batch writes through
// the worker's transaction, so records and checkpoint advance together.
// Payloads that fail to decode are skipped rather than failing the batch.
func Subscriber(rec *Reconciler, codec codecs.Codec) *projections.Handler {
	h := projections.NewHandler(Collection)

	h.On(recipient.EventAdded, func(ctx context.Context, evt events.Event, ps projections.ProcessingStore) error {
		var added recipient.AddedEvent
		if err := codec.Unmarshal(evt.Data, &added); err != nil {
			rec.skip(ctx, evt.Type, "payload", err, "position", evt.GlobalPosition)
			return nil
		}
		return rec.withSink(newStateSink(ps, codec)).HandleAdded(ctx, added)
	})

	h.On(recipient.EventRemoved, func(ctx context.Context, evt events.Event, ps projections.ProcessingStore) error {
		var removed recipient.RemovedEvent
		if err := codec.Unmarshal(evt.Data, &removed); err != nil {
			rec.skip(ctx, evt.Type, "payload", err, "position", evt.GlobalPosition)
			return nil
		}
		return rec.withSink(newStateSink(ps, codec)).HandleRemoved(ctx, removed)
	})

	return h
}
