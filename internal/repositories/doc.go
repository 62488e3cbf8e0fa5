// Package repositories implements SQLite persistence for commands, their executions and the state sync keeps between runs.
//
// Key Implementations:
//   - [CommandRepository] : command definitions, upserted from YAML seeds
//   - [ExecutionRepository] : execution history with status queries and pruning
//   - [SnapshotRepository] : one library snapshot per target
//   - [PlaylistStateRepository] : last synced fingerprint per command
//   - [ArtistRepository] : artists found by discovery maintenance
//   - [SchedulerStateRepository] : the scheduler's last evaluated tick
//
// Every method takes a context and returns [shared.ErrNotFound] (wrapped) when a keyed lookup has no row.
//
// Execution sequence numbers provide stable, human-readable ordering independent of UUIDs and creation timestamps.
// The [NextSequence] function atomically increments the counter in the executions_sequence table.
package repositories
