package projections

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/ripkitten-co/grantbook"
	"github.com/ripkitten-co/grantbook/internal/pg"
	"github.com/ripkitten-co/grantbook/schema"
)

type pgProcessingStore struct {
	exec   pg.Executor
	schema *schema.Bootstrap
}

// NewProcessingStore returns a ProcessingStore over the backend's collection
// tables. Pass a Session to make state writes part of its transaction.
func NewProcessingStore(b grantbook.Backend) ProcessingStore {
	return &pgProcessingStore{
		exec:   b.DBExecutor(),
		schema: b.SchemaBootstrap(),
	}
}

func (ps *pgProcessingStore) ensure(ctx context.Context, collection string) error {
	if err := ps.schema.EnsureCollection(ctx, ps.exec, collection); err != nil {
		return fmt.Errorf("processing store %s: ensure table: %w", collection, err)
	}
	return nil
}

func (ps *pgProcessingStore) LoadState(ctx context.Context, collection, id string) ([]byte, int, error) {
	if err := ps.ensure(ctx, collection); err != nil {
		return nil, 0, err
	}

	var data []byte
	var version int
	err := ps.exec.QueryRow(ctx,
		fmt.Sprintf(`SELECT data, version FROM %s WHERE id = $1`, schema.CollectionTable(collection)),
		id,
	).Scan(&data, &version)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("processing store %s: load %s: %w", collection, id, err)
	}
	return data, version, nil
}

// UpsertState writes a document with version+1, where version is the one
// returned by the preceding LoadState (0 for a new document).
func (ps *pgProcessingStore) UpsertState(ctx context.Context, collection, id string, data []byte, version int) error {
	if err := ps.ensure(ctx, collection); err != nil {
		return err
	}

	_, err := ps.exec.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, data, version, created_at, updated_at)
		 VALUES ($1, $2, $3, now(), now())
		 ON CONFLICT (id) DO UPDATE SET data = $2, version = $3, updated_at = now()`, schema.CollectionTable(collection)),
		id, data, version+1,
	)
	if err != nil {
		return fmt.Errorf("processing store %s: upsert %s: %w", collection, id, err)
	}
	return nil
}

// DeleteState removes a document. Deleting a missing id is not an error.
func (ps *pgProcessingStore) DeleteState(ctx context.Context, collection, id string) error {
	if err := ps.ensure(ctx, collection); err != nil {
		return err
	}

	_, err := ps.exec.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, schema.CollectionTable(collection)),
		id,
	)
	if err != nil {
		return fmt.Errorf("processing store %s: delete %s: %w", collection, id, err)
	}
	return nil
}

// MemoryStore is an in-process ProcessingStore for tests and dry runs.
type MemoryStore struct {
	docs map[string]memoryDoc
}

type memoryDoc struct {
	data    []byte
	version int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]memoryDoc)}
}

func (m *MemoryStore) key(collection, id string) string { return collection + "/" + id }

func (m *MemoryStore) LoadState(_ context.Context, collection, id string) ([]byte, int, error) {
	d, ok := m.docs[m.key(collection, id)]
	if !ok {
		return nil, 0, nil
	}
	return d.data, d.version, nil
}

func (m *MemoryStore) UpsertState(_ context.Context, collection, id string, data []byte, version int) error {
	m.docs[m.key(collection, id)] = memoryDoc{data: append([]byte(nil), data...), version: version + 1}
	return nil
}

func (m *MemoryStore) DeleteState(_ context.Context, collection, id string) error {
	delete(m.docs, m.key(collection, id))
	return nil
}

// Len returns the number of stored documents across collections.
func (m *MemoryStore) Len() int { return len(m.docs) }
