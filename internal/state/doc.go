// Package state persists installation state for Lumen Core: declarative
// route definitions and the last-known runtime state of each module
// instance.
//
// Routes are written through immediately on every API change and loaded
// back into the bus at startup. Module state is collected in memory and
// flushed by a periodic autosave loop, so a crash loses at most one
// autosave interval of state.
//
// The bus itself stays persistence-free; this package is one of its
// clients.
package state
