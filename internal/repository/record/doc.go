// Package record persists the single per-host installation record as JSON
// and reads/writes the installed version marker.
//
// The marker is accepted in two forms for backward compatibility: a bare
// version string and a JSON object with a "version" field.
package record
