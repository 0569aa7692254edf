// Package lock is the Device Registry: the durable record of every
// registered smart lock, its owner, and the last status projected from the
// liveness tracker.
//
// Field meanings are fixed across the codebase:
//   - Status is the lock mechanism state (Locked, Unlocked, Offline, Unknown).
//   - State is the auxiliary device condition (Available, Unavailable, or a
//     device-reported label).
//
// The registry never decides liveness. The liveness package computes it
// and writes the result here as a projection.
//
// Three Repository implementations exist: SQLite (default), PostgreSQL
// (pgx) and DynamoDB. All of them refuse a status write whose last_seen is
// older than the stored one.
package lock
