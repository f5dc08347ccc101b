// Package selector builds the next block for a playlist.
//
// A [Selector] asks the suggestion generator for an oversupply of tracks, resolves and enriches
// them, drops duplicates and history rejects, and runs a bounded [Search] for a block that passes
// [policy.ValidateAll]. When suggestions are unusable it falls back to a plain track search and
// marks the selection degraded. Unresolved violations are returned, never raised.
package selector
