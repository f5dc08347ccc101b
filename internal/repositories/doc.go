// Package repositories implements SQLite persistence for all domain entities.
//
// Repositories are constructed over a [DBTX], so the same code runs against a pooled [database/sql.DB]
// or inside a transaction started by [Store.InTx].
//
// Key Implementations:
//   - [PlaylistRepository] : Playlists with soft delete, plus their rule sets
//   - [BlockRepository] : Rotation blocks and block tracks; blocks are retired, never deleted
//   - [HistoryRepository] : One history entry per track per playlist, upserted on re-addition
//   - [RunRepository] : Refresh runs with compare-and-set status transitions
//   - [RunChangeRepository] : Proposed additions and removals, with status-guarded approval
//
// Sequence numbers provide stable, human-readable ordering (e.g., run #42) independent of UUIDs and creation timestamps.
// The [NextSequence] function increments per-table sequence counters in dedicated sequence tables.
package repositories
