// Package install replaces the application tree while preserving the
// persistent dependency subtree, verifies the entry point afterwards and
// rolls back from the pre-install backup when verification fails.
//
// The lifecycle is NotInstalled -> Installing -> Verifying -> Installed,
// with RollingBack and Failed as the failure branches. Once the file swap
// begins it runs to completion; verification catches anything that went
// wrong mid-swap.
package install
