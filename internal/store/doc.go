// Package store provides SQLite-backed durable storage for lazyjit
// materialization logs.
//
// The store is an append-only log with:
//   - Runs: one row per session, with the canonical JSON of its config
//   - Events: every unit and symbol transition the session recorded
//   - Images: where each linked object's symbols ended up
//
// # Ordering
//
// All ordering uses seq, the session's logical clock, never timestamps.
// Every query sorts by seq ASC so that two reads of the same run return
// identical results.
//
// # Idempotency
//
// Writes use ON CONFLICT DO NOTHING keyed on (run_id, seq) for events and
// (run_id, unit_key) for images. Replaying a run's events into the store
// leaves it unchanged.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Events and images must belong to a known run
//
// Symbol lists and address maps are stored as canonical JSON produced by
// internal/canon.
package store
