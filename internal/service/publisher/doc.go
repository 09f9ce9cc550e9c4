// Package publisher turns a built application tree into a publishable
// release: a gzipped tarball, a manifest the checker understands and a
// checksum list. Hosting the three files in one directory is all a release
// server needs.
package publisher
