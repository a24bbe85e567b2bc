package documents

import (
	"context"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/ripkitten-co/grantbook/internal/codecs"
	"github.com/ripkitten-co/grantbook/internal/pg"
	"github.com/ripkitten-co/grantbook/internal/tags"
	"github.com/ripkitten-co/grantbook/schema"
)

type Direction string

const (
	Asc  Direction = "ASC"
	Desc Direction = "DESC"
)

type orderByClause struct {
	field     string
	direction Direction
	numeric   bool
}

var knownColumns = map[string]bool{
	"id": true, "version": true, "created_at": true, "updated_at": true,
}

func resolveField(field string) (string, error) {
	if field == "" {
		return "", fmt.Errorf("query: empty field name")
	}
	if knownColumns[field] {
		return field, nil
	}
	if strings.Contains(field, "->") {
		return field, nil
	}
	for _, c := range field {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_') {
			return "", fmt.Errorf("query: invalid field name %q", field)
		}
	}
	return fmt.Sprintf("data->>'%s'", field), nil
}

var allowedOps = map[string]bool{
	"=": true, "!=": true,
	">": true, "<": true,
	">=": true, "<=": true,
}

type condition struct {
	field string
	op    string
	value any
}

// Query is an immutable builder; every method returns a copy.
type Query[T any] struct {
	name       string
	table      string
	exec       pg.Executor
	codec      codecs.Codec
	schema     *schema.Bootstrap
	conditions []condition
	orderBys   []orderByClause
	limit      *uint64
	offset     *uint64
}

func (q *Query[T]) clone() *Query[T] {
	c := &Query[T]{
		name:   q.name,
		table:  q.table,
		exec:   q.exec,
		codec:  q.codec,
		schema: q.schema,
		limit:  q.limit,
		offset: q.offset,
	}
	if len(q.conditions) > 0 {
		c.conditions = make([]condition, len(q.conditions))
		copy(c.conditions, q.conditions)
	}
	if len(q.orderBys) > 0 {
		c.orderBys = make([]orderByClause, len(q.orderBys))
		copy(c.orderBys, q.orderBys)
	}
	return c
}

func (c *CollectionOf[T]) Query() *Query[T] {
	return &Query[T]{
		name:   c.name,
		table:  c.table,
		exec:   c.exec,
		codec:  c.codec,
		schema: c.schema,
	}
}

func (c *CollectionOf[T]) Where(field, op string, value any) *Query[T] {
	return c.Query().Where(field, op, value)
}

func (q *Query[T]) Where(field, op string, value any) *Query[T] {
	c := q.clone()
	c.conditions = append(c.conditions, condition{field, op, value})
	return c
}

// OrderBy sorts by a column or JSON field compared as text.
func (q *Query[T]) OrderBy(field string, dir Direction) *Query[T] {
	c := q.clone()
	c.orderBys = append(c.orderBys, orderByClause{field: field, direction: dir})
	return c
}

// OrderByNumber sorts by a JSON field cast to numeric, for values such as
// ordinals that would sort wrongly as text.
func (q *Query[T]) OrderByNumber(field string, dir Direction) *Query[T] {
	c := q.clone()
	c.orderBys = append(c.orderBys, orderByClause{field: field, direction: dir, numeric: true})
	return c
}

func (q *Query[T]) Limit(n uint64) *Query[T] {
	c := q.clone()
	c.limit = &n
	return c
}

func (q *Query[T]) Offset(n uint64) *Query[T] {
	c := q.clone()
	c.offset = &n
	return c
}

func (q *Query[T]) toSQL() (string, []any, error) {
	builder := psql.Select("id", "data", "version").From(q.table)

	for _, c := range q.conditions {
		if !allowedOps[c.op] {
			return "", nil, fmt.Errorf("query: unsupported operator %q", c.op)
		}
		field, err := resolveField(c.field)
		if err != nil {
			return "", nil, err
		}
		builder = builder.Where(sq.Expr(fmt.Sprintf("%s %s ?", field, c.op), c.value))
	}

	for _, o := range q.orderBys {
		if o.direction != Asc && o.direction != Desc {
			return "", nil, fmt.Errorf("query: invalid direction %q", o.direction)
		}
		field, err := resolveField(o.field)
		if err != nil {
			return "", nil, err
		}
		if o.numeric {
			field = fmt.Sprintf("(%s)::numeric", field)
		}
		builder = builder.OrderBy(fmt.Sprintf("%s %s", field, o.direction))
	}

	if q.limit != nil {
		builder = builder.Limit(*q.limit)
	}
	if q.offset != nil {
		builder = builder.Offset(*q.offset)
	}

	return builder.ToSql()
}

func (q *Query[T]) Execute(ctx context.Context) ([]*T, error) {
	if err := q.schema.EnsureCollection(ctx, q.exec, q.name); err != nil {
		return nil, err
	}
	if err := ensureIndexes[T](ctx, q.exec, q.schema, q.name); err != nil {
		return nil, err
	}

	sql, args, err := q.toSQL()
	if err != nil {
		return nil, err
	}

	rows, err := q.exec.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: execute: %w", q.name, err)
	}
	defer rows.Close()

	var results []*T
	for rows.Next() {
		var id string
		var data []byte
		var version int
		if err := rows.Scan(&id, &data, &version); err != nil {
			return nil, fmt.Errorf("query %s: scan: %w", q.name, err)
		}

		var doc T
		if err := q.codec.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("query %s: unmarshal %s: %w", q.name, id, err)
		}
		tags.SetVersion(&doc, version)
		results = append(results, &doc)
	}

	return results, rows.Err()
}
