// Package logging provides a simple leveled logging interface for the
// vdotapes store and its command line tools.
//
// It supports the following log levels:
//   - DEBUG: Verbose debugging information
//   - INFO: General operational messages
//   - WARN: Warning conditions
//   - ERROR: Error conditions
//   - CRITICAL: Conditions that may leave the store in an indeterminate
//     state and need operator attention (always printed)
//   - FATAL: Fatal errors that terminate the application
//
// The log level is configured via the DEBUG or LOG_LEVEL environment
// variables. Output goes to stderr and, when SetOutputFile is called, to a
// size-rotated log file as well.
package logging
