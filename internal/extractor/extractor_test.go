package extractor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adelbertc/ensime-server/internal/classfile/classfiletest"
	"github.com/adelbertc/ensime-server/internal/vfs"
	"github.com/adelbertc/ensime-server/pkg/types"
)

// mapResolver resolves (package, source name) pairs from a fixed table.
type mapResolver map[string]string

func (m mapResolver) Resolve(pkg, sourceName string) string {
	return m[pkg+"/"+sourceName]
}

func writeClass(t *testing.T, dir string, spec classfiletest.Spec) *vfs.FileObject {
	t.Helper()
	name := filepath.Base(spec.Name) + ".class"
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, classfiletest.Build(spec), 0o644))
	f, err := vfs.NewFile(path)
	require.NoError(t, err)
	return f
}

func TestExtractOrderingAndKinds(t *testing.T) {
	dir := t.TempDir()
	f := writeClass(t, dir, classfiletest.Spec{
		Name:   "org/example/Greeter",
		Access: classfiletest.AccPublic,
		Methods: []classfiletest.Member{
			{Name: "greet", Descriptor: "()V", Access: classfiletest.AccPublic, Line: 4},
			{Name: "wave", Descriptor: "()V", Access: classfiletest.AccPublic, Line: 9},
		},
		Fields: []classfiletest.Member{
			{Name: "count", Descriptor: "I", Access: classfiletest.AccPublic},
		},
	})

	ex := New(nil)
	symbols, err := ex.Extract(f, f)
	require.NoError(t, err)
	require.Len(t, symbols, 4)

	// Class first, then methods in declaration order, then fields.
	assert.Equal(t, "org.example.Greeter", symbols[0].FQN)
	assert.Equal(t, types.KindClass, symbols[0].Kind())
	assert.Equal(t, "org.example.Greeter.greet", symbols[1].FQN)
	assert.Equal(t, types.KindMethod, symbols[1].Kind())
	assert.Equal(t, "org.example.Greeter.wave", symbols[2].FQN)
	assert.Equal(t, "org.example.Greeter.count", symbols[3].FQN)
	assert.Equal(t, types.KindField, symbols[3].Kind())

	require.NotNil(t, symbols[1].Descriptor)
	assert.Equal(t, "()V", *symbols[1].Descriptor)
	require.NotNil(t, symbols[3].Internal)
	assert.Equal(t, "org/example/Greeter", *symbols[3].Internal)

	for _, sym := range symbols {
		assert.Equal(t, f.URI(), sym.File)
		assert.Equal(t, f.URI(), sym.Entry)
	}
}

func TestExtractSkipsNonPublicClass(t *testing.T) {
	dir := t.TempDir()
	f := writeClass(t, dir, classfiletest.Spec{
		Name: "pkg/Hidden",
		Methods: []classfiletest.Member{
			{Name: "m", Descriptor: "()V", Access: classfiletest.AccPublic},
		},
	})

	symbols, err := New(nil).Extract(f, f)
	require.NoError(t, err)
	assert.Empty(t, symbols)
}

func TestExtractFiltersMembers(t *testing.T) {
	dir := t.TempDir()
	f := writeClass(t, dir, classfiletest.Spec{
		Name:   "pkg/Mixed",
		Access: classfiletest.AccPublic,
		Methods: []classfiletest.Member{
			{Name: "visible", Descriptor: "()V", Access: classfiletest.AccPublic},
			{Name: "secret", Descriptor: "()V", Access: classfiletest.AccPrivate},
			{Name: "guarded", Descriptor: "()V", Access: classfiletest.AccProtected},
		},
		Fields: []classfiletest.Member{
			{Name: "shown", Descriptor: "I", Access: classfiletest.AccPublic},
			{Name: "hidden", Descriptor: "I", Access: 0},
		},
	})

	symbols, err := New(nil).Extract(f, f)
	require.NoError(t, err)

	var fqns []string
	for _, s := range symbols {
		fqns = append(fqns, s.FQN)
	}
	assert.Equal(t, []string{"pkg.Mixed", "pkg.Mixed.visible", "pkg.Mixed.shown"}, fqns)
}

func TestExtractDropsIgnoredFragments(t *testing.T) {
	dir := t.TempDir()
	f := writeClass(t, dir, classfiletest.Spec{
		Name:   "pkg/Fn$$anonfun$1",
		Access: classfiletest.AccPublic,
		Methods: []classfiletest.Member{
			{Name: "apply", Descriptor: "()V", Access: classfiletest.AccPublic},
		},
	})

	symbols, err := New(nil).Extract(f, f)
	require.NoError(t, err)
	assert.Empty(t, symbols)
}

func TestExtractBlacklistedEntry(t *testing.T) {
	dir := t.TempDir()
	jar := filepath.Join(dir, "rt.jar")
	require.NoError(t, os.WriteFile(jar, []byte("not read"), 0o644))

	container, err := vfs.NewFile(jar)
	require.NoError(t, err)
	entry, err := vfs.NewArchiveEntry(jar, "sun/misc/Unsafe.class")
	require.NoError(t, err)

	symbols, err := New(nil).Extract(container, entry)
	require.NoError(t, err)
	assert.Empty(t, symbols)
}

func TestExtractMalformedClass(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Bad.class")
	require.NoError(t, os.WriteFile(path, []byte{0xDE, 0xAD}, 0o644))
	f, err := vfs.NewFile(path)
	require.NoError(t, err)

	_, err = New(nil).Extract(f, f)
	assert.Error(t, err)
}

func TestExtractSourceAndOffsets(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "Greeter.java")
	// '\n' bytes sit at 6, 7, 14, 21, so the table is [0, 6, 7, 14, 21].
	require.NoError(t, os.WriteFile(src, []byte("line 1\n\nline 3\nline 4\n"), 0o644))

	f := writeClass(t, dir, classfiletest.Spec{
		Name:       "org/example/Greeter",
		Access:     classfiletest.AccPublic,
		SourceName: "Greeter.java",
		Methods: []classfiletest.Member{
			{Name: "greet", Descriptor: "()V", Access: classfiletest.AccPublic, Line: 3},
		},
	})

	resolver := mapResolver{"org.example/Greeter.java": src}
	symbols, err := New(resolver).Extract(f, f)
	require.NoError(t, err)
	require.Len(t, symbols, 2)

	srcFile, err := vfs.NewFile(src)
	require.NoError(t, err)

	method := symbols[1]
	require.NotNil(t, method.Source)
	assert.Equal(t, srcFile.URI(), *method.Source)
	require.NotNil(t, method.Line)
	assert.Equal(t, 3, *method.Line)
	// Line 3 maps to table index 2.
	require.NotNil(t, method.Offset)
	assert.Equal(t, 7, *method.Offset)
}

func TestExtractNoResolverMeansNoOffsets(t *testing.T) {
	dir := t.TempDir()
	f := writeClass(t, dir, classfiletest.Spec{
		Name:       "pkg/Thing",
		Access:     classfiletest.AccPublic,
		SourceName: "Thing.java",
		Methods: []classfiletest.Member{
			{Name: "run", Descriptor: "()V", Access: classfiletest.AccPublic, Line: 5},
		},
	})

	symbols, err := New(nil).Extract(f, f)
	require.NoError(t, err)
	require.Len(t, symbols, 2)
	assert.Nil(t, symbols[0].Source)
	assert.Nil(t, symbols[1].Offset)
	require.NotNil(t, symbols[1].Line)
	assert.Equal(t, 5, *symbols[1].Line)
}
