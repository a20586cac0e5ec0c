// Package objdb is an in-process identity-mapped object layer over a
// relational backend.
//
// # Overview
//
// objdb keeps at most one live in-memory representative per primary key,
// mediates all reads through a shared query contract ([Selectable]), and
// wraps every mutation in a scope that either commits to the backend or
// restores the prior in-memory state. It handles:
//   - Identity mapping: repeated queries for the same row return the same
//     [Object] instance, deduplicated through a weak per-table cache
//   - Scoped mutation: buffered attribute writes with atomic commit or
//     rollback via [Object.Update]
//   - Relationship collections: one-to-many ([Relation]) and many-to-many
//     ([M2M]) views that compose the same query contract
//   - Strong read caching: [ObjCache] retains complete result sets so
//     read-heavy workloads stop touching the backend
//
// The SQL engine sits behind the narrow [Backend] interface. Two adapters
// ship in-tree: [SQLiteBackend] (database/sql + mattn/go-sqlite3) and
// [MemBackend] (map-based, for tests and ephemeral stores).
//
// # Identity Map
//
// Each [Table] owns a cache keyed by encoded primary-key tuple, holding
// weak references to live objects. A select that matches a row already
// represented in memory yields the existing instance and ignores the
// freshly fetched attribute values; the live entity is authoritative.
// Lookup-or-hydrate for a given key is atomic, so two concurrent selects
// for the same row never produce duplicate live entities. Once no caller
// holds an object, its cache slot is reclaimed by the garbage collector;
// the cache itself never keeps objects alive.
//
// # Mutation Scope
//
// All attribute writes go through [Object.Update]:
//
//	err := car.Update(ctx, func(s *objdb.Scope) error {
//	    return s.Set("gas_level", 0.5)
//	})
//
// Writes are buffered in the [Scope] and invisible to other readers until
// the callback returns nil, at which point they are committed to the
// backend as a single upsert and applied to the object. Any error return
// discards the buffered writes, restores the pre-scope attribute values
// exactly, and propagates the error unchanged. Returning [ErrRollback]
// rolls back without Update reporting an error.
//
// Concurrent Updates on the same object are serialized by a per-object
// lock; acquisition honors context cancellation. Nested Updates on the
// same object are not supported and will block until the context expires.
// Updates on different objects are independent.
//
// # Schema
//
// objdb consumes static table metadata ([Schema], [TableSchema]) produced
// elsewhere: ordered primary-key columns, the full column list, and
// creation defaults. It does not introspect, migrate, or generate code.
// Constraints ([Where]) are unordered column-to-value mappings combined
// with AND; a handful of comparison operators are available via [Cond]
// constructors such as [Gt] and [Like]. objdb is not a query planner.
package objdb
