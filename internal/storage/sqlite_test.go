package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adelbertc/ensime-server/pkg/types"
)

func setupTestDB(t *testing.T) *SQLiteStore {
	// Use in-memory database for testing
	store, err := OpenSQLiteStore(":memory:")
	require.NoError(t, err)
	require.NotNil(t, store)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func str(s string) *string { return &s }

func symbol(file, fqn string) types.FqnSymbol {
	return types.FqnSymbol{File: file, Entry: file, FQN: fqn}
}

func method(file, fqn, descriptor string) types.FqnSymbol {
	sym := symbol(file, fqn)
	sym.Descriptor = str(descriptor)
	return sym
}

func field(file, fqn, internal string) types.FqnSymbol {
	sym := symbol(file, fqn)
	sym.Internal = str(internal)
	return sym
}

func TestPersistAndFind(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	now := time.Now()
	line := 12
	offset := 204
	source := "file:///src/Greeter.java"
	sym := symbol("file:///c/Greeter.class", "org.example.Greeter")
	sym.Source = &source
	sym.Line = &line
	sym.Offset = &offset

	check := types.FileCheck{File: "file:///c/Greeter.class", Timestamp: now}
	n, err := store.Persist(ctx, check, []types.FqnSymbol{sym})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	found, err := store.Find(ctx, "org.example.Greeter")
	require.NoError(t, err)
	assert.Equal(t, sym.FQN, found.FQN)
	assert.Equal(t, sym.File, found.File)
	assert.Nil(t, found.Descriptor)
	assert.Nil(t, found.Internal)
	require.NotNil(t, found.Source)
	assert.Equal(t, source, *found.Source)
	require.NotNil(t, found.Line)
	assert.Equal(t, 12, *found.Line)
	require.NotNil(t, found.Offset)
	assert.Equal(t, 204, *found.Offset)
	assert.Equal(t, types.KindClass, found.Kind())
}

func TestFindNotFound(t *testing.T) {
	store := setupTestDB(t)
	_, err := store.Find(context.Background(), "no.such.Class")
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestKnownFilesAndOutOfDate(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	ts := time.UnixMilli(1_700_000_000_000)
	check := types.FileCheck{File: "file:///c/A.class", Timestamp: ts}
	_, err := store.Persist(ctx, check, nil)
	require.NoError(t, err)

	checks, err := store.KnownFiles(ctx)
	require.NoError(t, err)
	require.Len(t, checks, 1)
	assert.Equal(t, check.File, checks[0].File)
	assert.Equal(t, ts.UnixMilli(), checks[0].Timestamp.UnixMilli())

	// Unknown file is out of date.
	stale, err := store.OutOfDate(ctx, "file:///c/B.class", ts)
	require.NoError(t, err)
	assert.True(t, stale)

	// Same timestamp is up to date; strictly newer is not.
	stale, err = store.OutOfDate(ctx, check.File, ts)
	require.NoError(t, err)
	assert.False(t, stale)

	stale, err = store.OutOfDate(ctx, check.File, ts.Add(time.Millisecond))
	require.NoError(t, err)
	assert.True(t, stale)

	stale, err = store.OutOfDate(ctx, check.File, ts.Add(-time.Second))
	require.NoError(t, err)
	assert.False(t, stale)
}

func TestPersistSwallowsDuplicateTriples(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	file := "file:///c/Dup.class"
	check := types.FileCheck{File: file, Timestamp: time.Now()}

	// Duplicate (fqn, descriptor, internal) triples in one batch: the
	// batch is skipped, the fingerprint still lands, refresh continues.
	dup := []types.FqnSymbol{
		symbol(file, "pkg.Dup"),
		symbol(file, "pkg.Dup"),
	}
	_, err := store.Persist(ctx, check, dup)
	require.NoError(t, err)

	checks, err := store.KnownFiles(ctx)
	require.NoError(t, err)
	assert.Len(t, checks, 1)
}

func TestPersistDistinctTriplesSameFQN(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	file := "file:///c/Over.class"
	check := types.FileCheck{File: file, Timestamp: time.Now()}
	symbols := []types.FqnSymbol{
		method(file, "pkg.Over.run", "()V"),
		method(file, "pkg.Over.run", "(I)V"), // overload: distinct triple
	}
	n, err := store.Persist(ctx, check, symbols)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRemoveFilesCascades(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	fileA := "file:///c/A.class"
	fileB := "file:///c/B.class"
	ts := time.Now()

	_, err := store.Persist(ctx, types.FileCheck{File: fileA, Timestamp: ts}, []types.FqnSymbol{
		symbol(fileA, "pkg.A"),
		method(fileA, "pkg.A.run", "()V"),
	})
	require.NoError(t, err)
	_, err = store.Persist(ctx, types.FileCheck{File: fileB, Timestamp: ts}, []types.FqnSymbol{
		symbol(fileB, "pkg.B"),
	})
	require.NoError(t, err)

	require.NoError(t, store.RemoveFiles(ctx, []string{fileA}))

	_, err = store.Find(ctx, "pkg.A")
	assert.True(t, errors.Is(err, types.ErrNotFound))
	_, err = store.Find(ctx, "pkg.A.run")
	assert.True(t, errors.Is(err, types.ErrNotFound))

	// B survives.
	_, err = store.Find(ctx, "pkg.B")
	require.NoError(t, err)

	// The fingerprint is gone, so the file reads as out of date again.
	stale, err := store.OutOfDate(ctx, fileA, ts)
	require.NoError(t, err)
	assert.True(t, stale)
}

func TestRemoveFilesManyBatches(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	var files []string
	for i := 0; i < 250; i++ {
		file := fmt.Sprintf("file:///c/F%03d.class", i)
		files = append(files, file)
		_, err := store.Persist(ctx, types.FileCheck{File: file, Timestamp: time.Now()}, []types.FqnSymbol{
			symbol(file, fmt.Sprintf("pkg.F%03d", i)),
		})
		require.NoError(t, err)
	}

	require.NoError(t, store.RemoveFiles(ctx, files))

	checks, err := store.KnownFiles(ctx)
	require.NoError(t, err)
	assert.Empty(t, checks)

	count, err := store.SymbolCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestFindMany(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	file := "file:///c/Many.class"
	_, err := store.Persist(ctx, types.FileCheck{File: file, Timestamp: time.Now()}, []types.FqnSymbol{
		symbol(file, "pkg.A"),
		symbol(file, "pkg.B"),
		symbol(file, "pkg.C"),
		field(file, "pkg.A.x", "pkg/A"),
	})
	require.NoError(t, err)

	// Input order preserved, duplicates collapsed, misses dropped.
	results, err := store.FindMany(ctx, []string{"pkg.C", "pkg.A", "pkg.C", "no.Such", "pkg.B"})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "pkg.C", results[0].FQN)
	assert.Equal(t, "pkg.A", results[1].FQN)
	assert.Equal(t, "pkg.B", results[2].FQN)

	results, err = store.FindMany(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestPersistLargeBatch(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	file := "file:///c/big.jar"
	var symbols []types.FqnSymbol
	for i := 0; i < 173; i++ {
		symbols = append(symbols, symbol(file, fmt.Sprintf("pkg.big.C%03d", i)))
	}

	n, err := store.Persist(ctx, types.FileCheck{File: file, Timestamp: time.Now()}, symbols)
	require.NoError(t, err)
	assert.Equal(t, 173, n)

	count, err := store.SymbolCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 173, count)
}
