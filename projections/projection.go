package projections

import (
	"context"
	"fmt"

	"github.com/ripkitten-co/grantbook"
	"github.com/ripkitten-co/grantbook/events"
	"github.com/ripkitten-co/grantbook/internal/codecs"
)

// ApplyFunc folds one event into the current state. state is nil when no
// document exists yet. Returning a nil state deletes the document.
type ApplyFunc[T any] func(ctx context.Context, evt events.Event, state *T) (*T, error)

// Projection maintains one document per event stream in the collection
// named after the projection.
type Projection[T any] struct {
	name     string
	codec    codecs.Codec
	handlers map[string]ApplyFunc[T]
}

// New creates a projection. b supplies the JSON codec; nil uses the default.
func New[T any](b grantbook.Backend, name string) *Projection[T] {
	var codec codecs.Codec = codecs.NewJSONIter()
	if b != nil {
		codec = b.JSONCodec()
	}
	return &Projection[T]{
		name:     name,
		codec:    codec,
		handlers: make(map[string]ApplyFunc[T]),
	}
}

func (p *Projection[T]) On(eventType string, fn ApplyFunc[T]) *Projection[T] {
	p.handlers[eventType] = fn
	return p
}

func (p *Projection[T]) Name() string {
	return p.name
}

func (p *Projection[T]) EventTypes() []string {
	types := make([]string, 0, len(p.handlers))
	for t := range p.handlers {
		types = append(types, t)
	}
	return types
}

// Process applies evts in order, loading and writing state through ps.
func (p *Projection[T]) Process(ctx context.Context, evts []events.Event, ps ProcessingStore) error {
	for _, evt := range evts {
		fn, ok := p.handlers[evt.Type]
		if !ok {
			continue
		}

		data, version, err := ps.LoadState(ctx, p.name, evt.StreamID)
		if err != nil {
			return fmt.Errorf("projection %s: %w", p.name, err)
		}

		var state *T
		if data != nil {
			state = new(T)
			if err := p.codec.Unmarshal(data, state); err != nil {
				return fmt.Errorf("projection %s: decode %s: %w", p.name, evt.StreamID, err)
			}
		}

		next, err := fn(ctx, evt, state)
		if err != nil {
			return fmt.Errorf("projection %s: apply %s at %d: %w", p.name, evt.Type, evt.GlobalPosition, err)
		}

		if next == nil {
			if data != nil {
				if err := ps.DeleteState(ctx, p.name, evt.StreamID); err != nil {
					return fmt.Errorf("projection %s: %w", p.name, err)
				}
			}
			continue
		}

		out, err := p.codec.Marshal(next)
		if err != nil {
			return fmt.Errorf("projection %s: encode %s: %w", p.name, evt.StreamID, err)
		}
		if err := ps.UpsertState(ctx, p.name, evt.StreamID, out, version); err != nil {
			return fmt.Errorf("projection %s: %w", p.name, err)
		}
	}
	return nil
}
