// Package statestore holds the per-module state container.
//
// A Store owns one module's state tree. Writes are recursive merges (see
// package statetree) serialized by a lock scoped to the module name, so at
// most one SetState per module is in flight; waiting writers are served in
// arrival order and there is no timeout other than the caller's context.
//
// When caching is enabled each committed state is written through the
// Persister before SetState returns, and only then are commit observers
// notified with the new state and its structural diff.
package statestore
