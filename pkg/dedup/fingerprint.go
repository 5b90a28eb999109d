package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// Fingerprint is a digest of normalized content, equality implies the same
// article regardless of formatting differences
type Fingerprint struct {
	Hash   string
	Length int // normalized content length
}

// Fingerprinter derives content fingerprints. Content shorter than the
// minimum normalized length produces no fingerprint, near-empty input
// would make unrelated articles collide.
type Fingerprinter struct {
	minLength int
}

// NewFingerprinter creates a fingerprinter with the given minimum
// normalized content length
func NewFingerprinter(minLength int) *Fingerprinter {
	if minLength <= 0 {
		minLength = 100
	}
	return &Fingerprinter{minLength: minLength}
}

// Fingerprint returns the content fingerprint, false when normalized
// content is below the minimum length
func (f *Fingerprinter) Fingerprint(content string) (Fingerprint, bool) {
	normalized := Normalize(content)
	if len(normalized) < f.minLength {
		return Fingerprint{}, false
	}
	sum := sha256.Sum256([]byte(normalized))
	return Fingerprint{Hash: hex.EncodeToString(sum[:]), Length: len(normalized)}, true
}

// Normalize case-folds, strips volatile punctuation and collapses
// whitespace so trivial formatting differences don't defeat matching
func Normalize(content string) string {
	lowered := strings.ToLower(content)
	stripped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			return r
		}
		return ' '
	}, lowered)
	return strings.Join(strings.Fields(stripped), " ")
}

// Tokens returns the set of normalized tokens of the content
func Tokens(content string) map[string]struct{} {
	fields := strings.Fields(Normalize(content))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}
