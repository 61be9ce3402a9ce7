// Package similarity implements the fuzzy text matching shared by outcome
// memory and the threat registry: an exact fingerprint tier and a word-set
// overlap tier.
package similarity

import (
	"strings"

	"github.com/davidahmann/antibody/internal/crypto"
)

const fingerprintLen = 16

// Normalize lower-cases and trims action text.
func Normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// Fingerprint is the short SHA-256 digest of the normalized text.
func Fingerprint(text string) string {
	return crypto.ShortDigest([]byte(Normalize(text)), fingerprintLen)
}

// WordSet splits lower-cased text on whitespace.
type WordSet map[string]struct{}

func Words(text string) WordSet {
	fields := strings.Fields(strings.ToLower(text))
	set := make(WordSet, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// Overlap returns |a ∩ b| / max(|a|, |b|). Empty sets score zero.
func Overlap(a, b WordSet) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	shared := 0
	for w := range small {
		if _, ok := large[w]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(large))
}

// Query holds the precomputed form of a lookup so that scanning a history
// does not re-tokenize the probe for every candidate.
type Query struct {
	fingerprint string
	words       WordSet
	threshold   float64
}

func NewQuery(text string, threshold float64) Query {
	return Query{fingerprint: Fingerprint(text), words: Words(text), threshold: threshold}
}

func (q Query) Fingerprint() string { return q.fingerprint }

// Matches reports whether a stored text (with its stored fingerprint) is
// similar to the query.
func (q Query) Matches(candidateText, candidateFingerprint string) bool {
	if candidateFingerprint != "" && candidateFingerprint == q.fingerprint {
		return true
	}
	if len(q.words) == 0 {
		return false
	}
	return Overlap(q.words, Words(candidateText)) >= q.threshold
}
