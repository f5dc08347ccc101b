// Package tasks orchestrates playlist refreshes with real-time progress reporting.
//
// # Core Operations
//
// [RefreshEngine] implements [Refresher] and adds bootstrapping:
//
//  1. [RefreshEngine.ExecuteRefresh] : one refresh cycle
//     - Selects candidates and creates a run in preview
//     - With auto-commit, approves every addition and commits
//     - Concurrent triggers for the same playlist share one execution (singleflight)
//
//  2. [RefreshEngine.Bootstrap] : import an existing external playlist
//     - Splits its tracks into consecutive blocks of block_size
//     - Records every track in history
//     - Refuses playlists that already have active blocks
//
// # Scheduling
//
// [Scheduler] reads each playlist's RRULE schedule and calls [Refresher.ExecuteRefresh] for every
// occurrence that falls between two ticks, using the playlist's auto_commit flag.
//
// # Progress Reporting
//
// All operations use non-blocking channels for progress updates.
//
// The [ProgressUpdate] struct contains phase, step counters, messages, and optional data for advanced UI rendering.
// Updates use select with default to prevent blocking.
package tasks
