// Package mount reacts to removable-storage hot-plug events: it mounts
// volumes under a per-user media base with sanitized labels and unmounts
// everything under that base on removal.
//
// Removal deliberately scans the base instead of tracking a device to
// mount-point table: the scan survives crashes and manual intervention,
// and the base directory is exclusively owned by this subsystem.
// Failures are logged, never propagated, so one bad device cannot stall
// the event pipeline.
package mount
