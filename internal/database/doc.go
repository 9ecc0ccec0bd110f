// Package database owns the vdotapes SQLite store: opening it, its schema
// and migrations, and transactions.
//
// # Lifecycle
//
// [New] binds a Database to a file path; [Database.Initialize] opens the
// file, creates missing tables and applies pending migrations. A store in
// the legacy layout, where videos were keyed by path, is moved aside or
// refused according to [LegacyPolicy] before it is opened. [Database.Close]
// releases the handle; every call afterwards fails with
// [ErrNotInitialized].
//
// # Schema versions
//
// Version 1 keeps annotations in the legacy tables. Version 2 moves them
// into columns on the videos table and renames the legacy tables to
// *_backup_v1. While those backups exist the store is in its
// compatibility window: [Migrator.RollbackMigration] can restore them, and
// writes are mirrored into legacy-shaped tables so an older binary still
// sees current data. [Migrator.RemoveBackupTables] closes the window.
//
// # Transactions
//
// [Database.Execute] runs a function in a transaction that commits when it
// returns nil and rolls back on an error or panic. Nesting is rejected
// with [ErrNestedTransaction]; use savepoints on [Tx] instead. A rollback
// that itself fails is reported as a [CriticalRollbackFailureError].
// [ExecuteBulk] splits large writes into savepoint-guarded chunks.
//
// The store runs in WAL mode over a single connection.
package database
