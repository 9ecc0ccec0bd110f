/*
Package filesystem reads and writes the backup and metadata files handled
by the vdotapes command line, with retry logic for NFS stale file handles.

# Usage

	data, err := filesystem.ReadFile("/nfs/exports/backup.json", filesystem.DefaultRetryConfig())

	err = filesystem.WriteFileAtomic(path, data, 0o644, filesystem.DefaultRetryConfig())

WriteFileAtomic writes to a temporary file in the target directory and
renames it over the destination.

# Retry Behavior

Only ESTALE (errno 116) triggers a retry; every other error is returned
immediately. The defaults are:
  - MaxRetries: 3 attempts
  - InitialBackoff: 50ms, doubling per attempt
  - MaxBackoff: 500ms

Retries and final failures are counted in vdotapes_file_retry_attempts_total
and vdotapes_file_retry_failures_total.
*/
package filesystem
