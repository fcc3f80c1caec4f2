// Package types defines the domain types shared across the search and
// index subsystem: symbol records, file fingerprints, class names, and
// access flags extracted from compiled class units.
package types
