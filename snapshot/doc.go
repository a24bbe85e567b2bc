// Package snapshot answers recipient queries straight from a registry's
// event history. Each call fetches the complete add and remove histories,
// cross-references them, and derives round flags for the given window.
// Nothing is persisted apart from the optional list cache.
package snapshot
