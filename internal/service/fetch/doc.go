// Package fetch retrieves release trees from archive URLs, git repositories
// or local paths and normalizes them so the returned root is always the
// application root, with the version marker verified to be present.
package fetch
