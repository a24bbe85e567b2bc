package grantbook

import (
	"github.com/ripkitten-co/grantbook/internal/codecs"
	"github.com/ripkitten-co/grantbook/internal/pg"
	"github.com/ripkitten-co/grantbook/schema"
)

type backend struct {
	exec   pg.Executor
	codec  codecs.Codec
	schema *schema.Bootstrap
}

// Backend is satisfied by both Store and Session, so event log, collection
// and projection code runs the same against the pool or inside a transaction.
type Backend interface {
	DBExecutor() pg.Executor
	JSONCodec() codecs.Codec
	SchemaBootstrap() *schema.Bootstrap
}

var (
	_ Backend = (*Store)(nil)
	_ Backend = (*Session)(nil)
)
