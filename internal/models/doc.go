// Package models defines the domain entities of the playlist rotation service.
//
// A [Playlist] owns a [RuleSet] and a sequence of [Block] values. Each block holds a fixed number of
// [BlockTrack] entries carrying the enriched [Attributes] that policies inspect. Exactly one block per
// rotation slot is active; retiring a block flips it inactive and it stays in storage as history.
//
// A [Run] is one refresh attempt. It bundles REMOVE changes for the retired block with ADD changes for the
// proposed replacements ([RunChange]) and moves through an explicit [RunStatus] state machine:
//
//	preview ──cancel──▶ cancelled
//	   │
//	 claim
//	   ▼
//	committing ──finalize──▶ committed
//	   │
//	 revert (external update failed)
//	   ▼
//	preview (last_error / failed_at set)
//
// [HistoryEntry] keeps one entry per track per playlist; re-adding a removed track refreshes the entry and
// preserves its first-added timestamp.
//
// Rules are a closed set of optional typed sub-structures ([CandidatePolicies]) rather than an open map so
// each validator works against a typed contract. Rule documents are user data: contradictions and
// distributions that do not add up are reported as [Violation] values at evaluation time.
package models
