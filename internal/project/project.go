// Package project defines the configuration surface the indexer consumes.
// Loading this configuration is the caller's concern; the subsystem only
// reads it.
package project

import "path/filepath"

// Module is one build module with its compiled output and dependencies.
type Module struct {
	Name           string
	TargetDirs     []string // class-output directories
	TestTargetDirs []string
	CompileJars    []string
	TestJars       []string
}

// Config is the slice of project configuration the search service needs.
type Config struct {
	CacheDir string // writable directory for persistent state
	Modules  map[string]Module
	JavaLib  string // platform stdlib archive, "" when unknown
}

// AllJars flattens every compile-time and test-time archive across all
// modules, deduplicated, plus the platform stdlib when configured.
func (c *Config) AllJars() []string {
	seen := make(map[string]struct{})
	var jars []string
	add := func(paths []string) {
		for _, p := range paths {
			abs, err := filepath.Abs(p)
			if err != nil {
				continue
			}
			if _, ok := seen[abs]; ok {
				continue
			}
			seen[abs] = struct{}{}
			jars = append(jars, abs)
		}
	}
	for _, m := range c.Modules {
		add(m.CompileJars)
		add(m.TestJars)
	}
	if c.JavaLib != "" {
		add([]string{c.JavaLib})
	}
	return jars
}

// TargetDirs flattens every class-output directory across all modules.
func (c *Config) TargetDirs() []string {
	var dirs []string
	for _, m := range c.Modules {
		dirs = append(dirs, m.TargetDirs...)
		dirs = append(dirs, m.TestTargetDirs...)
	}
	return dirs
}

// SourceResolver maps a package and source filename, as recorded in a
// compiled class unit, to the source artifact on disk. Implementations
// return "" when they decline.
type SourceResolver interface {
	Resolve(pkg string, sourceName string) string
}

// NoResolver is a SourceResolver that always declines.
type NoResolver struct{}

func (NoResolver) Resolve(string, string) string { return "" }
