package projections

import (
	"context"
	"fmt"

	"github.com/ripkitten-co/grantbook/events"
)

// HandleFunc reacts to one event. ps writes within the same transaction as
// the subscriber's checkpoint; handlers with no state of their own ignore it.
type HandleFunc func(ctx context.Context, evt events.Event, ps ProcessingStore) error

// Handler dispatches events by type to plain callbacks. Unlike Projection
// it does not load or store state on the callback's behalf.
type Handler struct {
	name     string
	handlers map[string]HandleFunc
}

func NewHandler(name string) *Handler {
	return &Handler{
		name:     name,
		handlers: make(map[string]HandleFunc),
	}
}

// On registers fn for eventType. Returns the handler for chaining.
func (h *Handler) On(eventType string, fn HandleFunc) *Handler {
	h.handlers[eventType] = fn
	return h
}

func (h *Handler) Name() string {
	return h.name
}

func (h *Handler) EventTypes() []string {
	types := make([]string, 0, len(h.handlers))
	for t := range h.handlers {
		types = append(types, t)
	}
	return types
}

// Process calls registered callbacks for matching events in order and stops
// at the first error.
func (h *Handler) Process(ctx context.Context, evts []events.Event, ps ProcessingStore) error {
	for _, evt := range evts {
		fn, ok := h.handlers[evt.Type]
		if !ok {
			continue
		}
		if err := fn(ctx, evt, ps); err != nil {
			return fmt.Errorf("handler %s: handle %s at %d: %w", h.name, evt.Type, evt.GlobalPosition, err)
		}
	}
	return nil
}
