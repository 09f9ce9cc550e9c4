// Package backup snapshots the application and data trees before mutating
// operations and restores them on demand.
//
// A backup is valid only once its manifest exists on disk; partially written
// backups are invisible to listing and restore. Routine update backups are
// pruned to a configurable retention cap, manual and pre-uninstall backups
// are kept.
package backup
