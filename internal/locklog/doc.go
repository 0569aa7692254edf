// Package locklog stores the append-only history of lock events: status
// reports from devices, commands issued by users, and the synthetic
// Offline entries that close gaps in reporting.
//
// Entries are never updated or deleted. Reads return newest first, with
// ties on timestamp broken by insertion order, so MostRecent always
// reflects the last entry appended for a device at its latest timestamp.
//
// Three Store implementations exist, one per storage backend:
//
//   - SQLiteStore: the lock_logs table in the local database
//   - PostgresStore: the lock_logs table through a pgx pool
//   - DynamoStore: a table keyed by device_id with a timestamp sort key
package locklog
