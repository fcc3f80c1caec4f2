// Package vfs provides uniform read access to class files on disk and to
// entries inside jar/zip archives. Every object carries a URI-style
// identity and the last-modified timestamp of its physical container.
package vfs

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Archive-internal prefixes that are never indexed.
var blacklist = []string{"sun/", "sunw/", "com/sun/"}

// IsBlacklisted reports whether an archive-internal path lies under a
// blacklisted prefix. Blacklisted entries are skipped silently.
func IsBlacklisted(entryPath string) bool {
	for _, prefix := range blacklist {
		if strings.HasPrefix(entryPath, prefix) {
			return true
		}
	}
	return false
}

// FileObject is a plain file on disk or a single entry inside an archive.
type FileObject struct {
	path  string // absolute path of the physical file
	entry string // path within the archive, "" for plain files
}

// NewFile returns a FileObject for a plain file.
func NewFile(path string) (*FileObject, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	return &FileObject{path: abs}, nil
}

// NewArchiveEntry returns a FileObject for one entry inside an archive.
// Entry paths use forward slashes, as they appear in the archive directory.
func NewArchiveEntry(archivePath, entry string) (*FileObject, error) {
	abs, err := filepath.Abs(archivePath)
	if err != nil {
		return nil, err
	}
	return &FileObject{path: abs, entry: strings.TrimPrefix(entry, "/")}, nil
}

// FromURI reverses URI(): it accepts the "file:" and "jar:file:!/" forms
// produced by this package.
func FromURI(uri string) (*FileObject, error) {
	switch {
	case strings.HasPrefix(uri, "jar:file://"):
		rest := strings.TrimPrefix(uri, "jar:file://")
		i := strings.Index(rest, "!/")
		if i < 0 {
			return nil, fmt.Errorf("invalid archive URI %q", uri)
		}
		return &FileObject{path: filepath.FromSlash(rest[:i]), entry: rest[i+2:]}, nil
	case strings.HasPrefix(uri, "file://"):
		return &FileObject{path: filepath.FromSlash(strings.TrimPrefix(uri, "file://"))}, nil
	default:
		return nil, fmt.Errorf("unsupported URI scheme in %q", uri)
	}
}

// URI returns the stable identity of this object: "file://<abs>" for plain
// files and "jar:file://<abs>!/<entry>" for archive entries.
func (f *FileObject) URI() string {
	base := "file://" + filepath.ToSlash(f.path)
	if f.entry == "" {
		return base
	}
	return "jar:" + base + "!/" + f.entry
}

// Path returns the absolute path of the physical file (the archive itself
// for archive entries).
func (f *FileObject) Path() string { return f.path }

// PathWithinArchive returns the entry path inside the archive, or "" for
// plain files.
func (f *FileObject) PathWithinArchive() string { return f.entry }

// ContainerURI returns the URI of the enclosing physical file.
func (f *FileObject) ContainerURI() string {
	return "file://" + filepath.ToSlash(f.path)
}

// Extension returns the lowercased extension of the logical file, without
// the dot.
func (f *FileObject) Extension() string {
	name := f.path
	if f.entry != "" {
		name = f.entry
	}
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
}

// IsArchive reports whether the physical file is a jar or zip archive.
func (f *FileObject) IsArchive() bool {
	switch strings.ToLower(filepath.Ext(f.path)) {
	case ".jar", ".zip":
		return true
	}
	return false
}

// Exists reports whether the physical file is present on disk.
func (f *FileObject) Exists() bool {
	_, err := os.Stat(f.path)
	return err == nil
}

// LastModified returns the modification time of the physical file. Archive
// entries report their container's timestamp.
func (f *FileObject) LastModified() (time.Time, error) {
	info, err := os.Stat(f.path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// ReadBytes reads the full contents of the object. The file handle is held
// only for the duration of the call.
func (f *FileObject) ReadBytes() ([]byte, error) {
	if f.entry == "" {
		return os.ReadFile(f.path)
	}
	r, err := zip.OpenReader(f.path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	for _, zf := range r.File {
		if zf.Name == f.entry {
			rc, err := zf.Open()
			if err != nil {
				return nil, err
			}
			defer func() { _ = rc.Close() }()
			return io.ReadAll(rc)
		}
	}
	return nil, fmt.Errorf("entry %q not found in %s: %w", f.entry, f.path, os.ErrNotExist)
}

// WalkClassEntries yields every ".class" entry reachable from f: the object
// itself for a plain class file, or each non-directory ".class" member of
// an archive. Blacklisted archive paths are skipped silently.
func (f *FileObject) WalkClassEntries(fn func(entry *FileObject) error) error {
	if !f.IsArchive() {
		if f.Extension() == "class" {
			return fn(f)
		}
		return nil
	}

	r, err := zip.OpenReader(f.path)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	for _, zf := range r.File {
		if zf.FileInfo().IsDir() || !strings.HasSuffix(zf.Name, ".class") {
			continue
		}
		if IsBlacklisted(zf.Name) {
			continue
		}
		if err := fn(&FileObject{path: f.path, entry: zf.Name}); err != nil {
			return err
		}
	}
	return nil
}

// ClassFilesUnder recursively collects every ".class" file below dir as a
// plain FileObject. Hidden directories are skipped, matching the walk
// behavior used during indexing.
func ClassFilesUnder(dir string) ([]*FileObject, error) {
	var files []*FileObject
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if strings.HasPrefix(info.Name(), ".") && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(path, ".class") {
			f, err := NewFile(path)
			if err != nil {
				return err
			}
			files = append(files, f)
		}
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	return files, err
}
