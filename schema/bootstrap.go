package schema

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/ripkitten-co/grantbook/internal/pg"
)

// Prefix is prepended to every table grantbook owns.
const Prefix = "grantbook_"

const (
	EventsTable      = Prefix + "chain_events"
	CheckpointsTable = Prefix + "projection_checkpoints"
)

var validName = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]{0,54}$`)

// ValidateCollectionName checks that name is a valid collection identifier
// (alphanumeric + underscores, max 55 characters, starts with a letter).
func ValidateCollectionName(name string) error {
	if !validName.MatchString(name) {
		return fmt.Errorf("schema: invalid collection name %q: must be alphanumeric with underscores, max 55 chars", name)
	}
	return nil
}

// CollectionTable returns the table backing the named collection.
func CollectionTable(name string) string {
	return Prefix + name
}

func collectionDDL(name string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	data JSONB NOT NULL,
	version INTEGER NOT NULL DEFAULT 1,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, CollectionTable(name))
}

// Chain events are keyed by their on-chain coordinates so re-ingesting a
// block range is a no-op.
func eventsDDL() string {
	return `CREATE TABLE IF NOT EXISTS grantbook_chain_events (
	stream_id TEXT NOT NULL,
	type TEXT NOT NULL,
	block_number BIGINT NOT NULL,
	log_index INTEGER NOT NULL,
	tx_hash TEXT NOT NULL,
	data JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	global_position BIGINT GENERATED ALWAYS AS IDENTITY,
	PRIMARY KEY (tx_hash, log_index)
)`
}

func projectionCheckpointsDDL() string {
	return `CREATE TABLE IF NOT EXISTS grantbook_projection_checkpoints (
	projection_name TEXT PRIMARY KEY,
	last_position BIGINT NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'running',
	last_error TEXT,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
}

// Bootstrap manages idempotent creation of grantbook tables and indexes.
// It caches which tables and indexes have been created to avoid repeated DDL.
type Bootstrap struct {
	tables  sync.Map
	indexes sync.Map
}

func New() *Bootstrap {
	return &Bootstrap{}
}

func (b *Bootstrap) IsCreated(table string) bool {
	_, ok := b.tables.Load(table)
	return ok
}

func (b *Bootstrap) MarkCreated(table string) {
	b.tables.Store(table, true)
}

func (b *Bootstrap) IsIndexCreated(name string) bool {
	_, ok := b.indexes.Load(name)
	return ok
}

func (b *Bootstrap) MarkIndexCreated(name string) {
	b.indexes.Store(name, true)
}

// InvalidateTable removes a table from the creation cache so the next
// EnsureCollection call re-runs the DDL. Rebuild calls it after dropping a
// projection table.
func (b *Bootstrap) InvalidateTable(table string) {
	b.tables.Delete(table)
}

func (b *Bootstrap) ensure(ctx context.Context, exec pg.Executor, table, ddl string) error {
	if _, ok := b.tables.Load(table); ok {
		return nil
	}
	if _, err := exec.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("schema: create table %s: %w", table, err)
	}
	b.tables.Store(table, true)
	return nil
}

// EnsureCollection creates the grantbook_{name} table if it doesn't exist.
func (b *Bootstrap) EnsureCollection(ctx context.Context, exec pg.Executor, name string) error {
	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	return b.ensure(ctx, exec, CollectionTable(name), collectionDDL(name))
}

// EnsureEvents creates the chain event log table if it doesn't exist.
func (b *Bootstrap) EnsureEvents(ctx context.Context, exec pg.Executor) error {
	return b.ensure(ctx, exec, EventsTable, eventsDDL())
}

func (b *Bootstrap) EnsureProjectionCheckpoints(ctx context.Context, exec pg.Executor) error {
	return b.ensure(ctx, exec, CheckpointsTable, projectionCheckpointsDDL())
}

// EnsureEventsIndexes creates the global_position index used by pollers and
// the per-registry index used by stream reads. Must be called with a
// pool-level executor: CREATE INDEX CONCURRENTLY cannot run inside a
// transaction block.
func (b *Bootstrap) EnsureEventsIndexes(ctx context.Context, exec pg.Executor) error {
	idx := []struct{ name, ddl string }{
		{
			"idx_grantbook_chain_events_global_position",
			`CREATE INDEX CONCURRENTLY IF NOT EXISTS idx_grantbook_chain_events_global_position ON grantbook_chain_events (global_position)`,
		},
		{
			"idx_grantbook_chain_events_stream",
			`CREATE INDEX CONCURRENTLY IF NOT EXISTS idx_grantbook_chain_events_stream ON grantbook_chain_events (stream_id, type, block_number, log_index)`,
		},
	}
	for _, i := range idx {
		if err := b.EnsureIndex(ctx, exec, i.name, i.ddl); err != nil {
			return err
		}
	}
	return nil
}

// EnsureIndex runs ddl once per process for the named index. The same
// pool-level executor rule as EnsureEventsIndexes applies.
func (b *Bootstrap) EnsureIndex(ctx context.Context, exec pg.Executor, name, ddl string) error {
	if _, ok := b.indexes.Load(name); ok {
		return nil
	}
	if _, err := exec.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("schema: create index %s: %w", name, err)
	}
	b.indexes.Store(name, true)
	return nil
}
