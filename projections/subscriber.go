package projections

import (
	"context"

	"github.com/ripkitten-co/grantbook/events"
)

// Subscriber is implemented by both read-model projections and handlers.
// The daemon dispatches events to each subscriber independently. A
// subscriber's name doubles as the collection its state lives in.
type Subscriber interface {
	Name() string
	EventTypes() []string
	Process(ctx context.Context, evts []events.Event, store ProcessingStore) error
}

// ProcessingStore abstracts read-model persistence so subscribers don't
// depend on the documents package directly. A missing document loads as
// (nil, 0, nil).
type ProcessingStore interface {
	LoadState(ctx context.Context, collection, id string) ([]byte, int, error)
	UpsertState(ctx context.Context, collection, id string, data []byte, version int) error
	DeleteState(ctx context.Context, collection, id string) error
}
