// Package indexes derives expression indexes for document collections from
// struct tags. A field tagged grantbook:"index" gets a btree index on its
// JSON key; grantbook:"index,gin" adds one GIN index over the whole
// document.
package indexes

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"unicode"

	"github.com/ripkitten-co/grantbook/schema"
)

type Kind int

const (
	Btree Kind = iota
	GIN
)

type Index struct {
	Field string
	Kind  Kind
}

var cache sync.Map

// For returns the indexes declared on T.
func For[T any]() []Index {
	return ForType(reflect.TypeOf((*T)(nil)).Elem())
}

func ForType(t reflect.Type) []Index {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if cached, ok := cache.Load(t); ok {
		return cached.([]Index)
	}
	actual, _ := cache.LoadOrStore(t, collect(t))
	return actual.([]Index)
}

func collect(t reflect.Type) []Index {
	if t.Kind() != reflect.Struct {
		return nil
	}
	var out []Index
	hasGIN := false
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() || f.Tag.Get("json") == "-" {
			continue
		}
		switch f.Tag.Get("grantbook") {
		case "index":
			out = append(out, Index{Field: jsonKey(f), Kind: Btree})
		case "index,gin":
			if !hasGIN {
				out = append(out, Index{Kind: GIN})
				hasGIN = true
			}
		}
	}
	return out
}

// Name is the index name for idx on collection.
func Name(collection string, idx Index) string {
	if idx.Kind == GIN {
		return fmt.Sprintf("idx_%s_data_gin", schema.CollectionTable(collection))
	}
	return fmt.Sprintf("idx_%s_%s", schema.CollectionTable(collection), idx.Field)
}

// DDL returns the CREATE INDEX statement for idx. It uses CONCURRENTLY and
// so cannot run inside a transaction.
func DDL(collection string, idx Index) string {
	table := schema.CollectionTable(collection)
	if idx.Kind == GIN {
		return fmt.Sprintf("CREATE INDEX CONCURRENTLY IF NOT EXISTS %s ON %s USING GIN (data)",
			Name(collection, idx), table)
	}
	return fmt.Sprintf("CREATE INDEX CONCURRENTLY IF NOT EXISTS %s ON %s ((data->>'%s'))",
		Name(collection, idx), table, idx.Field)
}

func jsonKey(f reflect.StructField) string {
	if name, _, _ := strings.Cut(f.Tag.Get("json"), ","); name != "" {
		return name
	}
	return lowerCamel(f.Name)
}

// lowerCamel keys fields without a json name: "ID" -> "id",
// "HTTPStatus" -> "httpStatus".
func lowerCamel(s string) string {
	runes := []rune(s)
	if len(runes) == 0 || unicode.IsLower(runes[0]) {
		return s
	}
	upper := 0
	for _, r := range runes {
		if !unicode.IsUpper(r) {
			break
		}
		upper++
	}
	switch {
	case upper == len(runes):
		return strings.ToLower(s)
	case upper == 1:
		return string(unicode.ToLower(runes[0])) + string(runes[1:])
	default:
		return strings.ToLower(string(runes[:upper-1])) + string(runes[upper-1:])
	}
}
