// Package selfupdate atomically replaces the running deploy tool with the
// binary advertised by the release manifest, verified by SHA512 checksum.
// A marker file prevents two updaters from racing each other.
package selfupdate
