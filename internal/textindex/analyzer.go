// Package textindex is the full-text side of the dual-store design: an
// FTS5-backed index of class and method names supporting CamelCase,
// case-folded, and abbreviation queries. It returns ranked keys; the
// relational store hydrates them.
package textindex

import (
	"strings"
	"unicode"
)

// camelSplits breaks a camel-cased identifier into lowercased words.
// Acronym runs stay together until the last capital of the run starts the
// next word ("HTTPServer" -> "http", "server"). '$' and '_' also split.
func camelSplits(name string) []string {
	var words []string
	runes := []rune(name)
	start := 0
	flush := func(end int) {
		if end > start {
			words = append(words, strings.ToLower(string(runes[start:end])))
		}
		start = end
	}
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r == '$' || r == '_' {
			flush(i)
			start = i + 1
			continue
		}
		if i == 0 {
			continue
		}
		prev := runes[i-1]
		switch {
		case unicode.IsUpper(r) && !unicode.IsUpper(prev):
			flush(i)
		case unicode.IsUpper(prev) && unicode.IsUpper(r) &&
			i+1 < len(runes) && unicode.IsLower(runes[i+1]):
			flush(i)
		}
	}
	flush(len(runes))
	return words
}

// abbreviation returns the leading letters of the camel words
// ("RichPresentationCompiler" -> "rpc").
func abbreviation(name string) string {
	var sb strings.Builder
	for _, w := range camelSplits(name) {
		sb.WriteByte(w[0])
	}
	return sb.String()
}

// analyze produces the indexable terms of an FQN: lowercased dotted
// segments, CamelCase splits of the simple name, its abbreviation, and the
// lowercased simple name itself.
func analyze(fqn string) (terms []string, simple, abbrev string) {
	segments := strings.Split(fqn, ".")
	seen := make(map[string]struct{})
	add := func(t string) {
		if t == "" {
			return
		}
		if _, ok := seen[t]; ok {
			return
		}
		seen[t] = struct{}{}
		terms = append(terms, t)
	}

	for _, seg := range segments {
		add(strings.ToLower(seg))
	}
	simpleSeg := segments[len(segments)-1]
	simple = strings.ToLower(simpleSeg)
	abbrev = abbreviation(simpleSeg)
	for _, w := range camelSplits(simpleSeg) {
		add(w)
	}
	add(abbrev)
	add(simple)
	return terms, simple, abbrev
}

// tokenize splits a user query on whitespace and '.' into lowercased
// tokens.
func tokenize(query string) []string {
	fields := strings.FieldsFunc(query, func(r rune) bool {
		return unicode.IsSpace(r) || r == '.'
	})
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		tokens = append(tokens, strings.ToLower(f))
	}
	return tokens
}

// matchExpr builds the FTS5 MATCH expression: every token must prefix-match
// some term of the document.
func matchExpr(tokens []string) string {
	parts := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		parts = append(parts, `"`+strings.ReplaceAll(tok, `"`, `""`)+`"*`)
	}
	return strings.Join(parts, " ")
}

// Ranking tiers. More matched tokens always dominate; within a token, a
// simple-name hit beats a package-segment hit, and an abbreviation hit
// ranks lowest.
const (
	scorePerMatch     = 1000
	scoreExactSimple  = 120
	scoreSimplePrefix = 60
	scoreCamelPrefix  = 40
	scoreSegment      = 15
	scoreAbbrev       = 5
)

// scoreDoc re-ranks one FTS candidate against the query tokens.
func scoreDoc(fqn, simple, abbrev string, tokens []string) int {
	lowerFQN := strings.ToLower(fqn)
	segments := strings.Split(lowerFQN, ".")
	// simple is stored lowercased; camel boundaries need the original
	// casing, which the FQN's last segment still carries.
	camel := camelSplits(fqn[strings.LastIndex(fqn, ".")+1:])

	score := 0
	for _, tok := range tokens {
		best := 0
		switch {
		case tok == simple:
			best = scoreExactSimple
		case strings.HasPrefix(simple, tok):
			best = scoreSimplePrefix
		default:
			for _, w := range camel {
				if strings.HasPrefix(w, tok) {
					best = scoreCamelPrefix
					break
				}
			}
			if best == 0 {
				for _, seg := range segments[:len(segments)-1] {
					if strings.HasPrefix(seg, tok) {
						best = scoreSegment
						break
					}
				}
			}
			if best == 0 && strings.HasPrefix(abbrev, tok) {
				best = scoreAbbrev
			}
		}
		if best > 0 {
			score += scorePerMatch + best
		}
	}
	return score
}
