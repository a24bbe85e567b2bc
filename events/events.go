// Package events is the append-only log of decoded registry contract events.
// Rows are keyed by their on-chain coordinates (tx hash, log index), so
// ingesting the same block range twice leaves the log unchanged. Every row
// also gets a monotonically increasing global position that projections use
// as their checkpoint.
package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/ripkitten-co/grantbook"
	"github.com/ripkitten-co/grantbook/internal/pg"
	"github.com/ripkitten-co/grantbook/schema"
)

// Channel is the LISTEN/NOTIFY channel signalled after new events land.
const Channel = "grantbook_chain_events"

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var eventColumns = []string{
	"stream_id", "type", "block_number", "log_index", "tx_hash", "data", "created_at", "global_position",
}

// Event is one decoded contract log. StreamID is the lowercase address of
// the registry contract that emitted it.
type Event struct {
	StreamID       string
	Type           string
	BlockNumber    uint64
	LogIndex       uint
	TxHash         string
	Data           []byte
	CreatedAt      time.Time
	GlobalPosition int64
}

// Store provides append-only operations on the chain event table.
type Store struct {
	exec   pg.Executor
	schema *schema.Bootstrap
}

// New creates an event store using the given backend's executor and schema.
func New(b grantbook.Backend) *Store {
	return &Store{
		exec:   b.DBExecutor(),
		schema: b.SchemaBootstrap(),
	}
}

// Append writes evts in the given order and returns how many were new.
// Events whose (tx hash, log index) is already stored are skipped.
func (es *Store) Append(ctx context.Context, evts []Event) (int, error) {
	if len(evts) == 0 {
		return 0, nil
	}

	if err := es.schema.EnsureEvents(ctx, es.exec); err != nil {
		return 0, err
	}

	builder := psql.Insert(schema.EventsTable).
		Columns("stream_id", "type", "block_number", "log_index", "tx_hash", "data").
		Suffix("ON CONFLICT (tx_hash, log_index) DO NOTHING")

	for i, evt := range evts {
		if evt.StreamID == "" || evt.Type == "" || evt.TxHash == "" {
			return 0, fmt.Errorf("events: append: event %d: stream, type and tx hash are required", i)
		}
		builder = builder.Values(evt.StreamID, evt.Type, int64(evt.BlockNumber), int32(evt.LogIndex), evt.TxHash, evt.Data)
	}

	sql, args, err := builder.ToSql()
	if err != nil {
		return 0, fmt.Errorf("events: append: build sql: %w", err)
	}

	tag, err := es.exec.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("events: append: %w", err)
	}

	inserted := int(tag.RowsAffected())
	if inserted > 0 {
		// best-effort wakeup for projection pollers
		_, _ = es.exec.Exec(ctx, "SELECT pg_notify($1, '')", Channel)
	}
	return inserted, nil
}

// ReadStream returns the events of one registry in block order, starting at
// fromBlock. Returns an empty slice if the registry has no events.
func (es *Store) ReadStream(ctx context.Context, streamID string, fromBlock uint64) ([]Event, error) {
	if err := es.schema.EnsureEvents(ctx, es.exec); err != nil {
		return nil, err
	}

	builder := psql.
		Select(eventColumns...).
		From(schema.EventsTable).
		Where(sq.Eq{"stream_id": streamID}).
		OrderBy("block_number ASC", "log_index ASC")

	if fromBlock > 0 {
		builder = builder.Where(sq.GtOrEq{"block_number": int64(fromBlock)})
	}

	sql, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("events: read %s: build sql: %w", streamID, err)
	}

	result, err := es.query(ctx, sql, args)
	if err != nil {
		return nil, fmt.Errorf("events: read %s: %w", streamID, err)
	}
	return result, nil
}

// ReadAll returns events across all registries ordered by global_position.
// Pass afterPosition 0 to start from the beginning. Returns up to limit events.
func (es *Store) ReadAll(ctx context.Context, afterPosition int64, limit int) ([]Event, error) {
	if err := es.schema.EnsureEvents(ctx, es.exec); err != nil {
		return nil, err
	}
	// CREATE INDEX CONCURRENTLY is not allowed inside a transaction
	if !pg.InTransaction(es.exec) {
		if err := es.schema.EnsureEventsIndexes(ctx, es.exec); err != nil {
			return nil, err
		}
	}

	builder := psql.
		Select(eventColumns...).
		From(schema.EventsTable).
		Where(sq.Gt{"global_position": afterPosition}).
		OrderBy("global_position ASC").
		Limit(uint64(limit))

	sql, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("events: read all: build sql: %w", err)
	}

	result, err := es.query(ctx, sql, args)
	if err != nil {
		return nil, fmt.Errorf("events: read all: %w", err)
	}
	return result, nil
}

// LatestBlock returns the highest block stored for a registry. ok is false
// when nothing has been ingested for it yet.
func (es *Store) LatestBlock(ctx context.Context, streamID string) (block uint64, ok bool, err error) {
	if err := es.schema.EnsureEvents(ctx, es.exec); err != nil {
		return 0, false, err
	}

	sql, args, err := psql.
		Select("MAX(block_number)").
		From(schema.EventsTable).
		Where(sq.Eq{"stream_id": streamID}).
		ToSql()
	if err != nil {
		return 0, false, fmt.Errorf("events: latest block %s: build sql: %w", streamID, err)
	}

	var latest *int64
	if err := es.exec.QueryRow(ctx, sql, args...).Scan(&latest); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("events: latest block %s: %w", streamID, err)
	}
	if latest == nil {
		return 0, false, nil
	}
	return uint64(*latest), true, nil
}

func (es *Store) query(ctx context.Context, sql string, args []any) ([]Event, error) {
	rows, err := es.exec.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Event
	for rows.Next() {
		var (
			e     Event
			block int64
			idx   int32
		)
		if err := rows.Scan(&e.StreamID, &e.Type, &block, &idx, &e.TxHash, &e.Data, &e.CreatedAt, &e.GlobalPosition); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		e.BlockNumber = uint64(block)
		e.LogIndex = uint(idx)
		result = append(result, e)
	}
	return result, rows.Err()
}
