// Package documents stores JSON read models in per-collection JSONB tables,
// one row per document keyed by the field tagged grantbook:"id".
package documents

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/ripkitten-co/grantbook"
	"github.com/ripkitten-co/grantbook/internal/codecs"
	"github.com/ripkitten-co/grantbook/internal/indexes"
	"github.com/ripkitten-co/grantbook/internal/pg"
	"github.com/ripkitten-co/grantbook/internal/tags"
	"github.com/ripkitten-co/grantbook/schema"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const uniqueViolation = "23505"

type CollectionOf[T any] struct {
	name   string
	table  string
	exec   pg.Executor
	codec  codecs.Codec
	schema *schema.Bootstrap
}

func Collection[T any](b grantbook.Backend, name string) *CollectionOf[T] {
	return &CollectionOf[T]{
		name:   name,
		table:  schema.CollectionTable(name),
		exec:   b.DBExecutor(),
		codec:  b.JSONCodec(),
		schema: b.SchemaBootstrap(),
	}
}

func (c *CollectionOf[T]) Name() string { return c.name }

func (c *CollectionOf[T]) ensure(ctx context.Context) error {
	return c.schema.EnsureCollection(ctx, c.exec, c.name)
}

// ensureIndexes creates the expression indexes declared on T. Inside a
// session it does nothing, since CONCURRENTLY cannot run in a transaction;
// the next pool-level query picks them up.
func ensureIndexes[T any](ctx context.Context, exec pg.Executor, b *schema.Bootstrap, name string) error {
	if pg.InTransaction(exec) {
		return nil
	}
	for _, idx := range indexes.For[T]() {
		if err := b.EnsureIndex(ctx, exec, indexes.Name(name, idx), indexes.DDL(name, idx)); err != nil {
			return err
		}
	}
	return nil
}

// Insert stores a new document. Returns ErrDuplicateID if the id is taken.
func (c *CollectionOf[T]) Insert(ctx context.Context, doc *T) error {
	if err := c.ensure(ctx); err != nil {
		return err
	}

	id, err := tags.ExtractID(doc)
	if err != nil {
		return fmt.Errorf("collection %s: insert: %w", c.name, err)
	}

	data, err := c.codec.Marshal(doc)
	if err != nil {
		return fmt.Errorf("collection %s: insert %s: marshal: %w", c.name, id, err)
	}

	sql, args, err := psql.Insert(c.table).Columns("id", "data").Values(id, data).ToSql()
	if err != nil {
		return fmt.Errorf("collection %s: insert %s: build sql: %w", c.name, id, err)
	}

	if _, err = c.exec.Exec(ctx, sql, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("collection %s: insert %s: %w", c.name, id, grantbook.ErrDuplicateID)
		}
		return fmt.Errorf("collection %s: insert %s: %w", c.name, id, err)
	}

	tags.SetVersion(doc, 1)
	return nil
}

// Upsert stores doc, replacing any existing document with the same id.
// The version is bumped on overwrite and written back into doc.
func (c *CollectionOf[T]) Upsert(ctx context.Context, doc *T) error {
	if err := c.ensure(ctx); err != nil {
		return err
	}

	id, err := tags.ExtractID(doc)
	if err != nil {
		return fmt.Errorf("collection %s: upsert: %w", c.name, err)
	}

	data, err := c.codec.Marshal(doc)
	if err != nil {
		return fmt.Errorf("collection %s: upsert %s: marshal: %w", c.name, id, err)
	}

	sql, args, err := psql.Insert(c.table).
		Columns("id", "data").
		Values(id, data).
		Suffix(fmt.Sprintf(
			"ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, version = %s.version + 1, updated_at = now() RETURNING version",
			c.table,
		)).
		ToSql()
	if err != nil {
		return fmt.Errorf("collection %s: upsert %s: build sql: %w", c.name, id, err)
	}

	var version int
	if err := c.exec.QueryRow(ctx, sql, args...).Scan(&version); err != nil {
		return fmt.Errorf("collection %s: upsert %s: %w", c.name, id, err)
	}

	tags.SetVersion(doc, version)
	return nil
}

// Update overwrites an existing document. When T has a version field the
// write only succeeds if the stored version still matches.
func (c *CollectionOf[T]) Update(ctx context.Context, doc *T) error {
	if err := c.ensure(ctx); err != nil {
		return err
	}

	id, err := tags.ExtractID(doc)
	if err != nil {
		return fmt.Errorf("collection %s: update: %w", c.name, err)
	}

	currentVersion, hasVersion := tags.ExtractVersion(doc)
	data, err := c.codec.Marshal(doc)
	if err != nil {
		return fmt.Errorf("collection %s: update %s: marshal: %w", c.name, id, err)
	}

	newVersion := currentVersion + 1
	builder := psql.Update(c.table).
		Set("data", data).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"id": id})

	if hasVersion {
		builder = builder.Set("version", newVersion).Where(sq.Eq{"version": currentVersion})
	} else {
		builder = builder.Set("version", sq.Expr("version + 1"))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("collection %s: update %s: build sql: %w", c.name, id, err)
	}

	tag, err := c.exec.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("collection %s: update %s: %w", c.name, id, err)
	}

	if tag.RowsAffected() == 0 {
		if hasVersion {
			return fmt.Errorf("collection %s: update %s: %w", c.name, id, grantbook.ErrConcurrencyConflict)
		}
		return fmt.Errorf("collection %s: update %s: %w", c.name, id, grantbook.ErrNotFound)
	}

	tags.SetVersion(doc, newVersion)
	return nil
}

func (c *CollectionOf[T]) Delete(ctx context.Context, id string) error {
	if err := c.ensure(ctx); err != nil {
		return err
	}

	query, args, err := psql.Delete(c.table).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("collection %s: delete %s: build sql: %w", c.name, id, err)
	}

	tag, err := c.exec.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("collection %s: delete %s: %w", c.name, id, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("collection %s: delete %s: %w", c.name, id, grantbook.ErrNotFound)
	}
	return nil
}

func (c *CollectionOf[T]) Load(ctx context.Context, id string) (*T, error) {
	if err := c.ensure(ctx); err != nil {
		return nil, err
	}

	sql, args, err := psql.Select("data", "version").From(c.table).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("collection %s: load %s: build sql: %w", c.name, id, err)
	}

	var data []byte
	var version int
	err = c.exec.QueryRow(ctx, sql, args...).Scan(&data, &version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("collection %s: load %s: %w", c.name, id, grantbook.ErrNotFound)
		}
		return nil, fmt.Errorf("collection %s: load %s: %w", c.name, id, err)
	}

	var doc T
	if err := c.codec.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("collection %s: load %s: unmarshal: %w", c.name, id, err)
	}

	tags.SetVersion(&doc, version)
	return &doc, nil
}
