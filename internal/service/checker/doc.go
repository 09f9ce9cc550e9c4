// Package checker resolves the installed application version against the
// remote release manifest.
//
// Version comparison is numeric per dot segment after stripping non-numeric
// characters, so "1.0.10" correctly orders after "1.0.9".
package checker
