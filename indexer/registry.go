package indexer

import (
	"context"

	"github.com/ripkitten-co/grantbook"
	"github.com/ripkitten-co/grantbook/documents"
	"github.com/ripkitten-co/grantbook/events"
	"github.com/ripkitten-co/grantbook/projections"
	"github.com/ripkitten-co/grantbook/recipient"
)

// SummaryCollection holds one RegistrySummary per registry address.
const SummaryCollection = "registry_summaries"

// RegistrySummary counts the events seen for one registry.
type RegistrySummary struct {
	ID        string `grantbook:"id" json:"id"`
	Added     int    `json:"added"`
	Removed   int    `json:"removed"`
	LastBlock uint64 `json:"lastBlock"`
}

// RegistryProjection maintains a RegistrySummary per registry stream.
func RegistryProjection(b grantbook.Backend) *projections.Projection[RegistrySummary] {
	p := projections.New[RegistrySummary](b, SummaryCollection)

	touch := func(evt events.Event, s *RegistrySummary) *RegistrySummary {
		if s == nil {
			s = &RegistrySummary{ID: evt.StreamID}
		}
		if evt.BlockNumber > s.LastBlock {
			s.LastBlock = evt.BlockNumber
		}
		return s
	}

	p.On(recipient.EventAdded, func(_ context.Context, evt events.Event, s *RegistrySummary) (*RegistrySummary, error) {
		s = touch(evt, s)
		s.Added++
		return s, nil
	})
	p.On(recipient.EventRemoved, func(_ context.Context, evt events.Event, s *RegistrySummary) (*RegistrySummary, error) {
		s = touch(evt, s)
		s.Removed++
		return s, nil
	})
	return p
}

// ReadModel answers queries against the indexed collections.
type ReadModel struct {
	recipients *documents.CollectionOf[recipient.Recipient]
	summaries  *documents.CollectionOf[RegistrySummary]
}

func NewReadModel(b grantbook.Backend) *ReadModel {
	return &ReadModel{
		recipients: documents.Collection[recipient.Recipient](b, Collection),
		summaries:  documents.Collection[RegistrySummary](b, SummaryCollection),
	}
}

// Recipients returns the stored recipients of a registry in index order.
// registry must be the lowercase address.
func (m *ReadModel) Recipients(ctx context.Context, registry string) ([]*recipient.Recipient, error) {
	return m.recipients.
		Where("registryId", "=", registry).
		OrderByNumber("index", documents.Asc).
		OrderBy("id", documents.Asc).
		Execute(ctx)
}

// Summary returns the registry's summary or an error wrapping
// grantbook.ErrNotFound.
func (m *ReadModel) Summary(ctx context.Context, registry string) (*RegistrySummary, error) {
	return m.summaries.Load(ctx, registry)
}
