package indexer

import (
	"context"
	"fmt"

	"github.com/ripkitten-co/grantbook"
	"github.com/ripkitten-co/grantbook/documents"
	"github.com/ripkitten-co/grantbook/internal/codecs"
	"github.com/ripkitten-co/grantbook/projections"
	"github.com/ripkitten-co/grantbook/recipient"
)

// Collection holds one document per recipient, keyed by recipient id.
const Collection = "recipients"

// DocumentSink stores recipients in the recipients collection.
type DocumentSink struct {
	col *documents.CollectionOf[recipient.Recipient]
}

func NewDocumentSink(b grantbook.Backend) *DocumentSink {
	return &DocumentSink{col: documents.Collection[recipient.Recipient](b, Collection)}
}

func (s *DocumentSink) Load(ctx context.Context, id string) (*recipient.Recipient, error) {
	return s.col.Load(ctx, id)
}

func (s *DocumentSink) Upsert(ctx context.Context, r *recipient.Recipient) error {
	return s.col.Upsert(ctx, r)
}

func (s *DocumentSink) Delete(ctx context.Context, id string) error {
	return s.col.Delete(ctx, id)
}

// stateSink writes through a projection's ProcessingStore so records commit
// with the subscriber checkpoint.
type stateSink struct {
	ps    projections.ProcessingStore
	codec codecs.Codec
}

func newStateSink(ps projections.ProcessingStore, codec codecs.Codec) *stateSink {
	return &stateSink{ps: ps, codec: codec}
}

func (s *stateSink) Load(ctx context.Context, id string) (*recipient.Recipient, error) {
	data, version, err := s.ps.LoadState(ctx, Collection, id)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, fmt.Errorf("indexer: load %s: %w", id, grantbook.ErrNotFound)
	}
	var r recipient.Recipient
	if err := s.codec.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("indexer: load %s: unmarshal: %w", id, err)
	}
	r.Version = version
	return &r, nil
}

func (s *stateSink) Upsert(ctx context.Context, r *recipient.Recipient) error {
	_, version, err := s.ps.LoadState(ctx, Collection, r.ID)
	if err != nil {
		return err
	}
	data, err := s.codec.Marshal(r)
	if err != nil {
		return fmt.Errorf("indexer: upsert %s: marshal: %w", r.ID, err)
	}
	if err := s.ps.UpsertState(ctx, Collection, r.ID, data, version); err != nil {
		return err
	}
	r.Version = version + 1
	return nil
}

func (s *stateSink) Delete(ctx context.Context, id string) error {
	return s.ps.DeleteState(ctx, Collection, id)
}
