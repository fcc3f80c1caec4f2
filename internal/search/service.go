// Package search wires the extractor, the relational store, and the text
// index into the service the server talks to: refresh reconciliation,
// incremental class-file events, and the symbol query surface.
package search

import (
	"context"
	"errors"
	"log"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/adelbertc/ensime-server/internal/extractor"
	"github.com/adelbertc/ensime-server/internal/project"
	"github.com/adelbertc/ensime-server/internal/storage"
	"github.com/adelbertc/ensime-server/internal/textindex"
	"github.com/adelbertc/ensime-server/internal/vfs"
	"github.com/adelbertc/ensime-server/pkg/types"
)

// deleteBatchSize bounds how many stale files one delete job covers.
const deleteBatchSize = 100

// SearchService coordinates the dual store. Refresh and listener jobs run
// on a dedicated fixed-size pool so trivial work never queues behind long
// batch jobs on the ambient scheduler.
type SearchService struct {
	config  *project.Config
	store   storage.Store
	index   *textindex.Index
	extract *extractor.Extractor

	workers int
	sem     chan struct{}

	// refreshMu serializes whole refresh passes; listener ops interleave
	// freely, coordinated only by the unique constraint and file-scoped
	// delete-then-insert ordering.
	refreshMu sync.Mutex
}

// NewSearchService opens both stores under config.CacheDir.
func NewSearchService(config *project.Config, resolver project.SourceResolver) (*SearchService, error) {
	store, err := storage.NewSQLiteStore(config.CacheDir)
	if err != nil {
		return nil, err
	}
	index, err := textindex.NewIndex(config.CacheDir)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return NewSearchServiceWith(config, resolver, store, index), nil
}

// NewSearchServiceWith wires a service over already-open stores. Tests use
// this with in-memory databases.
func NewSearchServiceWith(config *project.Config, resolver project.SourceResolver, store storage.Store, index *textindex.Index) *SearchService {
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}
	return &SearchService{
		config:  config,
		store:   store,
		index:   index,
		extract: extractor.New(resolver),
		workers: workers,
		sem:     make(chan struct{}, workers),
	}
}

// Close releases both stores.
func (s *SearchService) Close() error {
	err := s.index.Close()
	if cerr := s.store.Close(); err == nil {
		err = cerr
	}
	return err
}

// RefreshResult is the outcome of one reconciliation pass.
type RefreshResult struct {
	Deleted int
	Indexed int
	Err     error
}

// RefreshAsync runs Refresh on its own goroutine and delivers the result
// on the returned channel. Dropping the channel does not stop the work.
func (s *SearchService) RefreshAsync(ctx context.Context) <-chan RefreshResult {
	ch := make(chan RefreshResult, 1)
	go func() {
		deleted, indexed, err := s.Refresh(ctx)
		ch <- RefreshResult{Deleted: deleted, Indexed: indexed, Err: err}
	}()
	return ch
}

// base is one unit of indexing work: a loose class file or an archive,
// with its timestamp captured at classification time.
type base struct {
	file     *vfs.FileObject
	modified time.Time
}

// Refresh reconciles on-disk state with stored state and returns
// (deleted, indexed) counts. Phase 1 classifies on the calling thread;
// deletes then inserts run on the worker pool, deletes strictly first.
func (s *SearchService) Refresh(ctx context.Context) (int, int, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	stale, toIndex, err := s.classify(ctx)
	if err != nil {
		return 0, 0, err
	}
	log.Printf("search: refresh found %d stale, %d to index", len(stale), len(toIndex))

	// Every delete must linearize before any insert, or a file that is
	// both stale and re-indexed races the unique constraint.
	s.deleteAll(ctx, stale)

	s.indexAll(ctx, toIndex)

	// Counts are reported even when the commit fails; the next refresh
	// reconciles whatever did not land.
	err = s.index.Commit(ctx)
	return len(stale), len(toIndex), err
}

// classify walks the configured bases and partitions work: stale
// fingerprints to delete and out-of-date bases to index.
func (s *SearchService) classify(ctx context.Context) ([]string, []base, error) {
	checks, err := s.store.KnownFiles(ctx)
	if err != nil {
		return nil, nil, err
	}

	bases := s.enumerateBases()
	baseURIs := make(map[string]struct{}, len(bases))
	for _, b := range bases {
		baseURIs[b.file.ContainerURI()] = struct{}{}
	}

	var stale []string
	for i := range checks {
		check := &checks[i]
		f, err := vfs.FromURI(check.File)
		if err != nil {
			stale = append(stale, check.File)
			continue
		}
		if !f.Exists() {
			stale = append(stale, check.File)
			continue
		}
		if f.IsArchive() {
			if _, ok := baseURIs[check.File]; !ok {
				stale = append(stale, check.File)
				continue
			}
		}
		mod, err := f.LastModified()
		if err != nil || check.Changed(mod) {
			stale = append(stale, check.File)
		}
	}

	var toIndex []base
	for _, b := range bases {
		outOfDate, err := s.store.OutOfDate(ctx, b.file.ContainerURI(), b.modified)
		if err != nil {
			return nil, nil, err
		}
		if outOfDate {
			toIndex = append(toIndex, b)
		}
	}
	return stale, toIndex, nil
}

// enumerateBases lists every indexable unit in the current configuration:
// each loose class file under the module target dirs, each dependency
// archive, and the platform stdlib archive. Unreadable entries are skipped;
// a later refresh retries them.
func (s *SearchService) enumerateBases() []base {
	seen := make(map[string]struct{})
	var bases []base
	add := func(f *vfs.FileObject) {
		uri := f.ContainerURI()
		if _, ok := seen[uri]; ok {
			return
		}
		mod, err := f.LastModified()
		if err != nil {
			log.Printf("search: skipping unreadable %s: %v", uri, err)
			return
		}
		seen[uri] = struct{}{}
		bases = append(bases, base{file: f, modified: mod})
	}

	for _, dir := range s.config.TargetDirs() {
		files, err := vfs.ClassFilesUnder(dir)
		if err != nil {
			log.Printf("search: failed to walk %s: %v", dir, err)
			continue
		}
		for _, f := range files {
			add(f)
		}
	}
	for _, jar := range s.config.AllJars() {
		f, err := vfs.NewFile(jar)
		if err != nil {
			continue
		}
		if f.Exists() {
			add(f)
		}
	}
	return bases
}

// deleteAll removes stale files from both stores in batches, index first.
// A failed batch is logged; the files it covered stay stale and the next
// refresh retries them.
func (s *SearchService) deleteAll(ctx context.Context, stale []string) {
	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(stale); start += deleteBatchSize {
		end := start + deleteBatchSize
		if end > len(stale) {
			end = len(stale)
		}
		batch := stale[start:end]

		g.Go(func() error {
			s.sem <- struct{}{}
			defer func() { <-s.sem }()

			if err := s.index.Remove(gctx, batch); err != nil {
				log.Printf("search: failed to remove %d files from index: %v", len(batch), err)
				return nil
			}
			if err := s.store.RemoveFiles(gctx, batch); err != nil {
				log.Printf("search: failed to remove %d files from store: %v", len(batch), err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// indexAll runs one index job per base. Job failures are logged and
// swallowed; the failed file carries no fingerprint and is retried by the
// next refresh.
func (s *SearchService) indexAll(ctx context.Context, toIndex []base) {
	var wg sync.WaitGroup
	for _, b := range toIndex {
		wg.Add(1)
		go func(b base) {
			defer wg.Done()
			s.sem <- struct{}{}
			defer func() { <-s.sem }()

			if err := s.indexBase(ctx, b); err != nil {
				log.Printf("search: failed to index %s: %v", b.file.URI(), err)
			}
		}(b)
	}
	wg.Wait()
}

// indexBase extracts and persists one base. Archives persist all their
// entries as a single batch under one fingerprint. An unreadable entry
// aborts the walk before the fingerprint is written, so the next refresh
// retries the file; malformed class units just contribute no symbols.
func (s *SearchService) indexBase(ctx context.Context, b base) error {
	var symbols []types.FqnSymbol
	err := b.file.WalkClassEntries(func(entry *vfs.FileObject) error {
		syms, err := s.extract.Extract(b.file, entry)
		if err != nil {
			if errors.Is(err, types.ErrMalformedClass) {
				log.Printf("search: skipping %s: %v", entry.URI(), err)
				return nil
			}
			return err
		}
		symbols = append(symbols, syms...)
		return nil
	})
	if err != nil {
		return err
	}

	check := types.FileCheck{File: b.file.ContainerURI(), Timestamp: b.modified}
	if _, err := s.store.Persist(ctx, check, symbols); err != nil {
		return err
	}
	s.index.Add(check, symbols)
	return nil
}

// Listener operations. Each runs through the shared pool; within a single
// file's lifetime remove-before-insert is the contract, and the store's
// unique constraint is the only cross-job coordination.

// ClassfileAdded indexes a newly appeared class file and commits.
func (s *SearchService) ClassfileAdded(ctx context.Context, f *vfs.FileObject) {
	s.withPool(func() {
		if err := s.insertFile(ctx, f); err != nil {
			log.Printf("search: failed to index added %s: %v", f.URI(), err)
			return
		}
		if err := s.index.Commit(ctx); err != nil {
			log.Printf("search: failed to commit index: %v", err)
		}
	})
}

// ClassfileRemoved drops a class file from both stores and commits.
func (s *SearchService) ClassfileRemoved(ctx context.Context, f *vfs.FileObject) {
	s.withPool(func() {
		if err := s.removeFile(ctx, f); err != nil {
			log.Printf("search: failed to remove %s: %v", f.URI(), err)
			return
		}
		if err := s.index.Commit(ctx); err != nil {
			log.Printf("search: failed to commit index: %v", err)
		}
	})
}

// ClassfileChanged re-indexes a mutated class file: remove from both
// stores, then extract and persist, then commit.
func (s *SearchService) ClassfileChanged(ctx context.Context, f *vfs.FileObject) {
	s.withPool(func() {
		if err := s.removeFile(ctx, f); err != nil {
			log.Printf("search: failed to remove changed %s: %v", f.URI(), err)
			return
		}
		if err := s.insertFile(ctx, f); err != nil {
			log.Printf("search: failed to re-index %s: %v", f.URI(), err)
			return
		}
		if err := s.index.Commit(ctx); err != nil {
			log.Printf("search: failed to commit index: %v", err)
		}
	})
}

func (s *SearchService) withPool(fn func()) {
	s.sem <- struct{}{}
	defer func() { <-s.sem }()
	fn()
}

func (s *SearchService) insertFile(ctx context.Context, f *vfs.FileObject) error {
	mod, err := f.LastModified()
	if err != nil {
		return err
	}
	var symbols []types.FqnSymbol
	err = f.WalkClassEntries(func(entry *vfs.FileObject) error {
		syms, err := s.extract.Extract(f, entry)
		if err != nil {
			if errors.Is(err, types.ErrMalformedClass) {
				log.Printf("search: skipping %s: %v", entry.URI(), err)
				return nil
			}
			// Unreadable entries leave the file unfingerprinted so a
			// later event or refresh retries it.
			return err
		}
		symbols = append(symbols, syms...)
		return nil
	})
	if err != nil {
		return err
	}

	check := types.FileCheck{File: f.ContainerURI(), Timestamp: mod}
	if _, err := s.store.Persist(ctx, check, symbols); err != nil {
		return err
	}
	s.index.Add(check, symbols)
	return nil
}

func (s *SearchService) removeFile(ctx context.Context, f *vfs.FileObject) error {
	files := []string{f.ContainerURI()}
	if err := s.index.Remove(ctx, files); err != nil {
		return err
	}
	return s.store.RemoveFiles(ctx, files)
}

// Query surface. The text index ranks; the relational store hydrates.
// Queries observe whatever is committed and never wait for refresh.

// SearchClasses returns ranked class symbols for a free-form query.
func (s *SearchService) SearchClasses(ctx context.Context, query string, max int) ([]types.FqnSymbol, error) {
	keys, err := s.index.SearchClasses(ctx, query, max)
	if err != nil {
		return nil, err
	}
	return s.hydrate(ctx, keys)
}

// SearchClassesFieldsMethods returns ranked class and method symbols.
// Whitespace-separated terms are a conjunction: each must match.
func (s *SearchService) SearchClassesFieldsMethods(ctx context.Context, query string, max int) ([]types.FqnSymbol, error) {
	keys, err := s.index.SearchClassesMethods(ctx, splitTerms(query), max)
	if err != nil {
		return nil, err
	}
	return s.hydrate(ctx, keys)
}

// FindUnique returns the symbol record for an exact FQN, or
// types.ErrNotFound.
func (s *SearchService) FindUnique(ctx context.Context, fqn string) (*types.FqnSymbol, error) {
	return s.store.Find(ctx, fqn)
}

// hydrate resolves ranked index keys to full records, preserving the
// index's ordering.
func (s *SearchService) hydrate(ctx context.Context, keys []types.FqnKey) ([]types.FqnSymbol, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	fqns := make([]string, len(keys))
	for i, k := range keys {
		fqns[i] = k.FQN
	}
	return s.store.FindMany(ctx, fqns)
}

func splitTerms(query string) []string {
	return strings.Fields(query)
}
