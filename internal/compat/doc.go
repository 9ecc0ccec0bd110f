// Package compat mirrors annotation writes into the legacy favorites,
// hidden_files and ratings tables.
//
// The columns on videos are the single source of truth. The shim writes
// exist for readers that still query the legacy table names and are switched
// off with the compat_shims setting once no such readers remain. The backup
// writes keep the migration rollback path current and run while the backups
// exist regardless of that setting. Nothing outside this package writes the
// legacy tables.
package compat
