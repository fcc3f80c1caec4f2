package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adelbertc/ensime-server/pkg/types"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// DirName is the versioned directory under the cache dir holding the
// database files.
const DirName = "sql-1.0"

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// SQLite benefits from a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return db, nil
}

// NewSQLiteStore opens (creating if needed) the relational store under
// cacheDir/sql-1.0/.
func NewSQLiteStore(cacheDir string) (*SQLiteStore, error) {
	dir := filepath.Join(cacheDir, DirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return OpenSQLiteStore(filepath.Join(dir, "db.sqlite"))
}

// OpenSQLiteStore opens the store at an explicit database path. Tests use
// ":memory:".
func OpenSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// isConstraintErr matches the unique-violation error text of both the cgo
// and the pure Go driver.
func isConstraintErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *SQLiteStore) KnownFiles(ctx context.Context) ([]types.FileCheck, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, filename, timestamp FROM file_checks`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	checks := make([]types.FileCheck, 0)
	for rows.Next() {
		var check types.FileCheck
		var millis int64
		if err := rows.Scan(&check.ID, &check.File, &millis); err != nil {
			return nil, err
		}
		check.Timestamp = time.UnixMilli(millis)
		checks = append(checks, check)
	}
	return checks, rows.Err()
}

func (s *SQLiteStore) OutOfDate(ctx context.Context, fileURI string, lastModified time.Time) (bool, error) {
	var millis int64
	err := s.db.QueryRowContext(ctx,
		`SELECT timestamp FROM file_checks WHERE filename = ?`, fileURI).Scan(&millis)
	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return millis < lastModified.UnixMilli(), nil
}

// persistBatchSize bounds how many symbol rows one INSERT carries. A
// constraint violation skips only the offending batch.
const persistBatchSize = 50

func (s *SQLiteStore) Persist(ctx context.Context, check types.FileCheck, symbols []types.FqnSymbol) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO file_checks (filename, timestamp) VALUES (?, ?)`,
		check.File, check.Timestamp.UnixMilli()); err != nil {
		if !isConstraintErr(err) {
			return 0, fmt.Errorf("failed to insert file check: %w", err)
		}
		// An existing fingerprint means a concurrent insert won the race;
		// refresh ordering guarantees the old symbols are already gone.
		log.Printf("storage: duplicate fingerprint for %s, keeping existing", check.File)
	}

	inserted := 0
	for start := 0; start < len(symbols); start += persistBatchSize {
		end := start + persistBatchSize
		if end > len(symbols) {
			end = len(symbols)
		}
		batch := symbols[start:end]

		n, err := insertSymbolBatch(ctx, tx, batch)
		if err != nil {
			if isConstraintErr(err) {
				// Duplicate FQN triples occasionally arise from malformed
				// inputs; skip the batch and keep going.
				log.Printf("storage: unique constraint violated inserting %d symbols for %s, batch skipped", len(batch), check.File)
				continue
			}
			return 0, fmt.Errorf("failed to insert symbols: %w", err)
		}
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return inserted, nil
}

func insertSymbolBatch(ctx context.Context, tx *sql.Tx, batch []types.FqnSymbol) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}
	var sb strings.Builder
	sb.WriteString(`INSERT INTO fqn_symbols (file, entry, fqn, descriptor, internal, source, line, offset) VALUES `)
	args := make([]interface{}, 0, len(batch)*8)
	for i, sym := range batch {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			sym.File, sym.Entry, sym.FQN,
			emptyIfNil(sym.Descriptor), emptyIfNil(sym.Internal),
			nullableString(sym.Source), nullableInt(sym.Line), nullableInt(sym.Offset))
	}
	result, err := tx.ExecContext(ctx, sb.String(), args...)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return len(batch), nil
	}
	return int(n), nil
}

func (s *SQLiteStore) RemoveFiles(ctx context.Context, files []string) error {
	for start := 0; start < len(files); start += removeBatchSize {
		end := start + removeBatchSize
		if end > len(files) {
			end = len(files)
		}
		if err := s.removeBatch(ctx, files[start:end]); err != nil {
			return err
		}
	}
	return nil
}

// removeBatch deletes one batch of files, symbols and fingerprints in the
// same transaction so a crash never leaves symbols without their check.
func (s *SQLiteStore) removeBatch(ctx context.Context, files []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(files)), ",")
	args := make([]interface{}, len(files))
	for i, f := range files {
		args[i] = f
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM fqn_symbols WHERE file IN (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("failed to delete symbols: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM file_checks WHERE filename IN (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("failed to delete file checks: %w", err)
	}

	return tx.Commit()
}

const symbolColumns = `id, file, entry, fqn, descriptor, internal, source, line, offset`

func scanSymbol(scan func(dest ...interface{}) error) (*types.FqnSymbol, error) {
	var sym types.FqnSymbol
	var descriptor, internal string
	var source sql.NullString
	var line, offset sql.NullInt64
	err := scan(&sym.ID, &sym.File, &sym.Entry, &sym.FQN,
		&descriptor, &internal, &source, &line, &offset)
	if err != nil {
		return nil, err
	}
	if descriptor != "" {
		sym.Descriptor = &descriptor
	}
	if internal != "" {
		sym.Internal = &internal
	}
	if source.Valid {
		s := source.String
		sym.Source = &s
	}
	if line.Valid {
		n := int(line.Int64)
		sym.Line = &n
	}
	if offset.Valid {
		n := int(offset.Int64)
		sym.Offset = &n
	}
	return &sym, nil
}

func (s *SQLiteStore) Find(ctx context.Context, fqn string) (*types.FqnSymbol, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+symbolColumns+` FROM fqn_symbols WHERE fqn = ? ORDER BY id LIMIT 1`, fqn)
	sym, err := scanSymbol(row.Scan)
	if err == sql.ErrNoRows {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return sym, nil
}

func (s *SQLiteStore) FindMany(ctx context.Context, fqns []string) ([]types.FqnSymbol, error) {
	if len(fqns) == 0 {
		return nil, nil
	}

	// Dedupe while preserving the caller's order; the index's ranking is
	// the contract.
	order := make([]string, 0, len(fqns))
	seen := make(map[string]struct{}, len(fqns))
	for _, fqn := range fqns {
		if _, ok := seen[fqn]; ok {
			continue
		}
		seen[fqn] = struct{}{}
		order = append(order, fqn)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(order)), ",")
	args := make([]interface{}, len(order))
	for i, fqn := range order {
		args[i] = fqn
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+symbolColumns+` FROM fqn_symbols WHERE fqn IN (`+placeholders+`) ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	byFQN := make(map[string]types.FqnSymbol, len(order))
	for rows.Next() {
		sym, err := scanSymbol(rows.Scan)
		if err != nil {
			return nil, err
		}
		if _, ok := byFQN[sym.FQN]; !ok {
			byFQN[sym.FQN] = *sym
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	results := make([]types.FqnSymbol, 0, len(order))
	for _, fqn := range order {
		if sym, ok := byFQN[fqn]; ok {
			results = append(results, sym)
		}
	}
	return results, nil
}

// SymbolCount reports the number of stored symbol rows.
func (s *SQLiteStore) SymbolCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM fqn_symbols`).Scan(&n)
	return n, err
}

func emptyIfNil(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullableString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func nullableInt(n *int) interface{} {
	if n == nil {
		return nil
	}
	return *n
}
