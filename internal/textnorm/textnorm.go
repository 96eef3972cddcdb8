// Package textnorm canonicalizes scraped text and derives stable record identities.
package textnorm

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	interiorSpace = regexp.MustCompile(`[ \t\x0B\f\r]+`)
	pipeSplit     = regexp.MustCompile(`\|`)
	delims        = regexp.MustCompile(`[,;/·ㆍ，、\s]+`)
	ellipsis      = regexp.MustCompile(`[.…]+$`)
	extraSpace    = regexp.MustCompile(`[\p{Zs}\x{00A0}]+`)
)

// Normalize folds the input to NFKC, collapses interior whitespace and control
// characters, and trims. Blank input yields the empty string.
// Safe for text decoded from EUC-KR pages.
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	t := norm.NFKC.String(s)
	t = strings.ReplaceAll(t, " ", " ")
	t = interiorSpace.ReplaceAllString(t, " ")
	return strings.TrimSpace(t)
}

// Identity returns the hex SHA-256 digest of parts joined by "|".
// The separator is reserved: it never appears in source identifiers.
func Identity(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// MergeDistinct appends incoming to existing with sep unless existing already
// contains it. Substring containment keeps the merge idempotent for the
// append-only crawl pattern; it can under-merge when incoming is a superset
// of a token already present, which callers accept.
func MergeDistinct(existing, incoming, sep string) string {
	if strings.TrimSpace(incoming) == "" {
		return existing
	}
	if strings.TrimSpace(existing) == "" {
		return incoming
	}
	if strings.Contains(existing, incoming) {
		return existing
	}
	return existing + sep + incoming
}

// NormalizeSpecialty reduces a specialty string like "A,B... | C/D/E" to
// "C/D/E": only the text right of the last pipe is kept, trailing ellipsis
// glyphs are stripped, tokens are split on the site's mixed delimiters,
// de-duplicated preserving first-seen order, and rejoined with "/".
// Returns the empty string when nothing survives.
func NormalizeSpecialty(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	right := raw
	if parts := pipeSplit.Split(raw, -1); len(parts) >= 2 {
		right = parts[len(parts)-1]
	}

	right = ellipsis.ReplaceAllString(right, "")
	right = strings.TrimSpace(extraSpace.ReplaceAllString(right, " "))
	if right == "" {
		return ""
	}

	seen := make(map[string]struct{})
	var uniq []string
	for _, tok := range delims.Split(right, -1) {
		tok = strings.TrimSpace(strings.ReplaceAll(tok, " ", " "))
		if tok == "" {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		uniq = append(uniq, tok)
	}
	if len(uniq) == 0 {
		return ""
	}
	return strings.Join(uniq, "/")
}
