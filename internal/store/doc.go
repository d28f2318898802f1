// Package store provides SQLite-backed durable storage for engine journals.
//
// The journal is append-only and records, per session:
//   - Sessions: config hash plus the initial form value and external data
//   - Changes: every external input applied to the engine
//   - Submissions: submit results with a content hash of the value
//   - Diagnostics: runtime diagnostics raised while evaluating
//
// A session can be replayed by constructing a fresh engine from the same
// plan and re-applying its changes in seq order. Replay is deterministic
// because the engine has no wall-clock or random inputs on the value path.
//
// # Critical Patterns
//
// Logical time
//   - All ordering uses seq INTEGER from the engine clock, NEVER timestamps
//
// Deterministic reads
//   - All queries include ORDER BY seq ASC, id ASC
//
// Canonical values
//   - Values are stored as canonical JSON (ir.MarshalCanonical) so that
//     hashes computed at write and replay time agree
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
