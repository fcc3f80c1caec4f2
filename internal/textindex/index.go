package textindex

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/adelbertc/ensime-server/internal/storage"
	"github.com/adelbertc/ensime-server/pkg/types"
)

// DirName is the versioned directory under the cache dir holding the index
// segment files.
const DirName = "index-1.0"

const schema = `
-- One document per class and per method symbol, keyed by the same triple
-- as the relational store. '' means absent, matching fqn_symbols.
CREATE TABLE IF NOT EXISTS docs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    fqn TEXT NOT NULL,
    descriptor TEXT NOT NULL DEFAULT '',
    internal TEXT NOT NULL DEFAULT '',
    file TEXT NOT NULL,
    kind TEXT NOT NULL,    -- 'class' or 'member'
    simple TEXT NOT NULL,
    abbrev TEXT NOT NULL,
    terms TEXT NOT NULL,
    UNIQUE(fqn, descriptor, internal)
);

CREATE INDEX IF NOT EXISTS idx_docs_file ON docs(file);

CREATE VIRTUAL TABLE IF NOT EXISTS docs_fts USING fts5(
    terms,
    content='docs',
    content_rowid='id'
);

CREATE TRIGGER IF NOT EXISTS docs_ai AFTER INSERT ON docs BEGIN
    INSERT INTO docs_fts(rowid, terms) VALUES (new.id, new.terms);
END;

CREATE TRIGGER IF NOT EXISTS docs_ad AFTER DELETE ON docs BEGIN
    INSERT INTO docs_fts(docs_fts, rowid, terms) VALUES ('delete', old.id, old.terms);
END;
`

// document is one buffered index entry.
type document struct {
	key    types.FqnKey
	file   string
	kind   string
	simple string
	abbrev string
	terms  string
}

// Index is the full-text store. Adds buffer in memory until Commit flushes
// them in one transaction; removals run immediately. Readers only ever see
// committed state.
type Index struct {
	db *sql.DB

	mu      sync.Mutex
	pending []document
}

// NewIndex opens (creating if needed) the text index under
// cacheDir/index-1.0/.
func NewIndex(cacheDir string) (*Index, error) {
	dir := filepath.Join(cacheDir, DirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	return OpenIndex(filepath.Join(dir, "db.sqlite"))
}

// OpenIndex opens the index at an explicit database path. Tests use
// ":memory:".
func OpenIndex(dbPath string) (*Index, error) {
	db, err := sql.Open(storage.DriverName, dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	// The index writer is single-threaded; one connection serializes it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create index schema: %w", err)
	}
	return &Index{db: db}, nil
}

// Close flushes nothing; uncommitted adds are dropped by design.
func (ix *Index) Close() error {
	return ix.db.Close()
}

// Add buffers index documents for the symbols of one container file:
// one class document per class symbol and one member document per method.
// Fields live only in the relational store.
func (ix *Index) Add(check types.FileCheck, symbols []types.FqnSymbol) {
	docs := make([]document, 0, len(symbols))
	for i := range symbols {
		sym := &symbols[i]
		var kind string
		switch sym.Kind() {
		case types.KindClass:
			kind = "class"
		case types.KindMethod:
			kind = "member"
		default:
			continue
		}
		terms, simple, abbrev := analyze(sym.FQN)
		docs = append(docs, document{
			key:    sym.Key(),
			file:   check.File,
			kind:   kind,
			simple: simple,
			abbrev: abbrev,
			terms:  strings.Join(terms, " "),
		})
	}

	ix.mu.Lock()
	ix.pending = append(ix.pending, docs...)
	ix.mu.Unlock()
}

// Remove immediately deletes every document whose container is in files,
// including any still-buffered adds.
func (ix *Index) Remove(ctx context.Context, files []string) error {
	if len(files) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(files))
	for _, f := range files {
		set[f] = struct{}{}
	}

	ix.mu.Lock()
	kept := ix.pending[:0]
	for _, d := range ix.pending {
		if _, ok := set[d.file]; !ok {
			kept = append(kept, d)
		}
	}
	ix.pending = kept
	ix.mu.Unlock()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(files)), ",")
	args := make([]interface{}, len(files))
	for i, f := range files {
		args[i] = f
	}
	_, err := ix.db.ExecContext(ctx, `DELETE FROM docs WHERE file IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("failed to remove documents: %w", err)
	}
	return nil
}

// Commit flushes all buffered documents in one transaction. During bulk
// refresh this runs exactly once at the end; incremental listener calls
// commit after each operation.
func (ix *Index) Commit(ctx context.Context) error {
	ix.mu.Lock()
	docs := ix.pending
	ix.pending = nil
	ix.mu.Unlock()

	if len(docs) == 0 {
		return nil
	}

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO docs (fqn, descriptor, internal, file, kind, simple, abbrev, terms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, d := range docs {
		if _, err := stmt.ExecContext(ctx,
			d.key.FQN, d.key.Descriptor, d.key.Internal,
			d.file, d.kind, d.simple, d.abbrev, d.terms); err != nil {
			return fmt.Errorf("failed to index %s: %w", d.key.FQN, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit index: %w", err)
	}
	return nil
}

// DocCount reports committed documents, optionally restricted to a kind.
func (ix *Index) DocCount(ctx context.Context, kind string) (int, error) {
	var n int
	var err error
	if kind == "" {
		err = ix.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM docs`).Scan(&n)
	} else {
		err = ix.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM docs WHERE kind = ?`, kind).Scan(&n)
	}
	return n, err
}

// SearchClasses returns ranked keys of class documents matching the query.
func (ix *Index) SearchClasses(ctx context.Context, query string, max int) ([]types.FqnKey, error) {
	return ix.search(ctx, []string{query}, max, true)
}

// SearchClassesMethods returns ranked keys of class and member documents;
// each query must match the document (conjunction).
func (ix *Index) SearchClassesMethods(ctx context.Context, queries []string, max int) ([]types.FqnKey, error) {
	return ix.search(ctx, queries, max, false)
}

// candidateFactor bounds how many FTS candidates are re-ranked per query.
const candidateFactor = 10

func (ix *Index) search(ctx context.Context, queries []string, max int, classesOnly bool) ([]types.FqnKey, error) {
	if max <= 0 {
		return nil, nil
	}
	var tokens []string
	for _, q := range queries {
		tokens = append(tokens, tokenize(q)...)
	}
	if len(tokens) == 0 {
		return nil, nil
	}

	sqlQuery := `
		SELECT d.fqn, d.descriptor, d.internal, d.simple, d.abbrev
		FROM docs d
		JOIN docs_fts ON d.id = docs_fts.rowid
		WHERE docs_fts MATCH ?`
	args := []interface{}{matchExpr(tokens)}
	if classesOnly {
		sqlQuery += ` AND d.kind = 'class'`
	}
	sqlQuery += ` ORDER BY rank LIMIT ?`
	args = append(args, max*candidateFactor)

	rows, err := ix.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("index search failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	type candidate struct {
		key   types.FqnKey
		score int
	}
	var candidates []candidate
	for rows.Next() {
		var key types.FqnKey
		var simple, abbrev string
		if err := rows.Scan(&key.FQN, &key.Descriptor, &key.Internal, &simple, &abbrev); err != nil {
			return nil, err
		}
		candidates = append(candidates, candidate{
			key:   key,
			score: scoreDoc(key.FQN, simple, abbrev, tokens),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		if len(candidates[i].key.FQN) != len(candidates[j].key.FQN) {
			return len(candidates[i].key.FQN) < len(candidates[j].key.FQN)
		}
		return candidates[i].key.FQN < candidates[j].key.FQN
	})

	if len(candidates) > max {
		candidates = candidates[:max]
	}
	keys := make([]types.FqnKey, len(candidates))
	for i, c := range candidates {
		keys[i] = c.key
	}
	return keys, nil
}
