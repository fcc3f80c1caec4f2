package types

import "strings"

// ClassName is a class identifier convertible between the internal
// slash-delimited form found in constant pools ("foo/bar/Baz$Inner") and
// the dotted fully qualified form ("foo.bar.Baz$Inner").
type ClassName string

// ClassNameFromInternal converts a constant-pool internal name.
func ClassNameFromInternal(internal string) ClassName {
	return ClassName(strings.ReplaceAll(internal, "/", "."))
}

// Internal returns the slash-delimited form.
func (c ClassName) Internal() string {
	return strings.ReplaceAll(string(c), ".", "/")
}

// FQN returns the dotted form.
func (c ClassName) FQN() string { return string(c) }

// Package returns the dotted package prefix, or "" for the default package.
func (c ClassName) Package() string {
	if i := strings.LastIndex(string(c), "."); i >= 0 {
		return string(c)[:i]
	}
	return ""
}

// Simple returns the class name without its package, inner-class markers
// intact ("Baz$Inner").
func (c ClassName) Simple() string {
	if i := strings.LastIndex(string(c), "."); i >= 0 {
		return string(c)[i+1:]
	}
	return string(c)
}
