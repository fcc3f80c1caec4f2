// Package extractor turns compiled class units into streams of symbol
// records, applying the visibility and ignore filters and attaching
// best-effort source pointers.
package extractor

import (
	"os"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/adelbertc/ensime-server/internal/classfile"
	"github.com/adelbertc/ensime-server/internal/project"
	"github.com/adelbertc/ensime-server/internal/vfs"
	"github.com/adelbertc/ensime-server/pkg/types"
)

// FQN fragments that mark compiler-generated members; records containing
// them are dropped.
var ignoreFragments = []string{"$$anonfun$", "$worker$"}

func ignored(fqn string) bool {
	for _, frag := range ignoreFragments {
		if strings.Contains(fqn, frag) {
			return true
		}
	}
	return false
}

// Extractor emits FqnSymbol records for class units. Line-offset tables
// are built at most once per source artifact and kept in a bounded cache.
type Extractor struct {
	resolver project.SourceResolver
	offsets  *lru.Cache[string, []int]
}

// New creates an Extractor. A nil resolver disables source resolution.
func New(resolver project.SourceResolver) *Extractor {
	if resolver == nil {
		resolver = project.NoResolver{}
	}
	cache, err := lru.New[string, []int](256)
	if err != nil {
		panic(err) // only possible with a non-positive size
	}
	return &Extractor{resolver: resolver, offsets: cache}
}

// Extract parses one class entry and returns its symbol records: the class
// first, then public methods in declaration order, then public fields in
// declaration order. Blacklisted entries and non-public classes yield
// nothing. A parse error means the caller should log and move on.
func (e *Extractor) Extract(container, entry *vfs.FileObject) ([]types.FqnSymbol, error) {
	if vfs.IsBlacklisted(entry.PathWithinArchive()) {
		return nil, nil
	}

	data, err := entry.ReadBytes()
	if err != nil {
		return nil, err
	}
	cls, err := classfile.Parse(data)
	if err != nil {
		return nil, err
	}
	if !cls.IsPublic() {
		return nil, nil
	}

	source, offsets := e.resolveSource(cls)

	containerURI := container.ContainerURI()
	entryURI := entry.URI()
	base := types.FqnSymbol{
		File:   containerURI,
		Entry:  entryURI,
		Source: source,
	}

	var symbols []types.FqnSymbol

	classSym := base
	classSym.FQN = cls.Name.FQN()
	setLine(&classSym, cls.SourceLine, offsets)
	if !ignored(classSym.FQN) {
		symbols = append(symbols, classSym)
	}

	for _, m := range cls.Methods {
		if m.Access != types.AccessPublic {
			continue
		}
		sym := base
		sym.FQN = cls.Name.FQN() + "." + m.Name
		descriptor := m.Descriptor
		sym.Descriptor = &descriptor
		setLine(&sym, m.Line, offsets)
		if !ignored(sym.FQN) {
			symbols = append(symbols, sym)
		}
	}

	for _, f := range cls.Fields {
		if f.Access != types.AccessPublic {
			continue
		}
		sym := base
		sym.FQN = cls.Name.FQN() + "." + f.Name
		internal := cls.Name.Internal()
		sym.Internal = &internal
		if !ignored(sym.FQN) {
			symbols = append(symbols, sym)
		}
	}

	return symbols, nil
}

// resolveSource asks the external resolver for the source artifact and
// returns its URI plus the line-offset table, either of which may be
// absent.
func (e *Extractor) resolveSource(cls *classfile.ClassFile) (*string, []int) {
	if cls.SourceName == nil {
		return nil, nil
	}
	path := e.resolver.Resolve(cls.Name.Package(), *cls.SourceName)
	if path == "" {
		return nil, nil
	}
	f, err := vfs.NewFile(path)
	if err != nil {
		return nil, nil
	}
	uri := f.URI()
	return &uri, e.lineOffsets(f)
}

// lineOffsets returns the byte-offset-per-line table for a source file:
// index 0 is byte 0, each subsequent entry is the byte index of the nth
// '\n'. Only '\n' counts; CRLF files include the '\r' byte consistently.
func (e *Extractor) lineOffsets(f *vfs.FileObject) []int {
	if table, ok := e.offsets.Get(f.Path()); ok {
		return table
	}
	data, err := os.ReadFile(f.Path())
	if err != nil {
		return nil
	}
	table := []int{0}
	for i, b := range data {
		if b == '\n' {
			table = append(table, i)
		}
	}
	e.offsets.Add(f.Path(), table)
	return table
}

// setLine attaches the source line and its precomputed byte offset when a
// line is known. A missing offset table leaves Offset unset.
func setLine(sym *types.FqnSymbol, line *int, offsets []int) {
	if line == nil {
		return
	}
	n := *line
	sym.Line = &n
	if offsets != nil && n >= 1 && n <= len(offsets) {
		off := offsets[n-1]
		sym.Offset = &off
	}
}
