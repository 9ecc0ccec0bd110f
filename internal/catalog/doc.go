/*
Package catalog implements the entity operations of the vdotapes store:
items, user annotations, tags, settings, backup and restore, and the batch
metadata synchronizer.

A Catalog is built from its dependencies:

	db := database.New(path, nil)
	if err := db.Initialize(ctx); err != nil { ... }
	cat := catalog.New(db, querycache.New(0, 0), compat.New(db, compat.Options{Enabled: true}))

# Annotations

Favorite, hidden and rating live in columns on the videos table. Every
write runs in an IMMEDIATE transaction and, when the compatibility adapter
is enabled, is mirrored into the legacy tables in the same transaction.
Cached query results are invalidated only after the write commits.

While the recorded schema version is below database.AnnotationColumnsVersion
(after a migration rollback) reads fall back to the legacy tables and
annotation writes return database.ErrMigrationRequired.

# Errors

Read paths return an empty result when the store is not initialized.
Writes return errors that match database.ErrNotFound, database.ErrConflict
or database.ErrValidation with errors.Is.
*/
package catalog
