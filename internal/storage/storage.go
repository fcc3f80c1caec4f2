// Package storage is the durable relational side of the dual-store design:
// file fingerprints and symbol records in SQLite. It is authoritative for
// hydration; ranking lives in the text index.
package storage

import (
	"context"
	"time"

	"github.com/adelbertc/ensime-server/pkg/types"
)

// Store defines the persistence operations the search service depends on.
type Store interface {
	// KnownFiles returns every recorded fingerprint.
	KnownFiles(ctx context.Context) ([]types.FileCheck, error)

	// OutOfDate reports whether fileURI needs (re-)indexing: no
	// fingerprint exists, or the stored timestamp is strictly older than
	// lastModified at millisecond precision.
	OutOfDate(ctx context.Context, fileURI string, lastModified time.Time) (bool, error)

	// Persist inserts the fingerprint and its symbols in one transaction.
	// Unique-constraint violations are logged and swallowed per offending
	// batch; they must not abort a refresh. Returns the number of symbol
	// rows actually inserted.
	Persist(ctx context.Context, check types.FileCheck, symbols []types.FqnSymbol) (int, error)

	// RemoveFiles deletes every symbol row whose container is in files
	// and every matching fingerprint. Deletions are grouped in batches.
	RemoveFiles(ctx context.Context, files []string) error

	// Find returns the symbol record for an exact FQN, or
	// types.ErrNotFound.
	Find(ctx context.Context, fqn string) (*types.FqnSymbol, error)

	// FindMany returns at most one record per FQN, preserving input
	// order; duplicate input FQNs collapse to a single output.
	FindMany(ctx context.Context, fqns []string) ([]types.FqnSymbol, error)

	Close() error
}

// removeBatchSize bounds how many files one delete transaction covers.
const removeBatchSize = 100
