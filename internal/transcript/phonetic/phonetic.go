// Package phonetic matches misheard words against a known vocabulary using
// Double Metaphone phonetic encoding combined with Jaro-Winkler string
// similarity for ranked candidate selection.
//
// The algorithm proceeds in two stages:
//
//  1. Phonetic candidate filtering: Double Metaphone codes are computed for
//     each token of the input phrase and compared against the precomputed
//     codes of every vocabulary term. A term whose code set overlaps the
//     input's becomes a phonetic candidate.
//
//  2. Jaro-Winkler ranking: among phonetic candidates the term with the
//     highest similarity wins, provided its score clears the phonetic
//     threshold. When no term overlaps phonetically, a fallback pass ranks
//     all terms by pure string similarity against a stricter fuzzy threshold.
//
// Similarity is the better of two comparisons: the full strings, and the
// strings with spaces removed. The space-stripped form lets a split hearing
// like "deep gram" line up with the single term "Deepgram".
//
// Vocabularies are compiled once with [Compile]. Matcher and Vocabulary are
// both read-only after construction and safe for concurrent use.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched term to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// term overlaps phonetically and the matcher falls back to pure string
// similarity. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher scores input phrases against a compiled [Vocabulary].
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a new [Matcher] configured with the supplied options.
// Default thresholds are 0.70 for phonetic matches and 0.85 for fuzzy
// fallback matches.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// term is a single compiled vocabulary entry.
type term struct {
	canonical string // original casing, returned on a match
	lower     string // lowercased, space-normalised
	joined    string // lowercased with spaces removed
	codes     map[string]struct{}
}

// Vocabulary is a compiled set of known terms. Compile it once at
// construction time; it is read-only afterwards.
type Vocabulary struct {
	terms    []term
	maxWords int
}

// Compile lowercases, tokenises and phonetically encodes every term.
// Blank entries are dropped. The original casing is preserved and returned
// by [Matcher.Match] when the term wins.
func Compile(terms []string) *Vocabulary {
	v := &Vocabulary{}
	for _, raw := range terms {
		canonical := strings.TrimSpace(raw)
		if canonical == "" {
			continue
		}
		tokens := strings.Fields(strings.ToLower(canonical))
		v.terms = append(v.terms, term{
			canonical: canonical,
			lower:     strings.Join(tokens, " "),
			joined:    strings.Join(tokens, ""),
			codes:     codesForTokens(tokens),
		})
		if len(tokens) > v.maxWords {
			v.maxWords = len(tokens)
		}
	}
	return v
}

// MaxWords returns the word count of the longest term, or 0 for an empty
// vocabulary.
func (v *Vocabulary) MaxWords() int {
	return v.maxWords
}

// Len returns the number of compiled terms.
func (v *Vocabulary) Len() int {
	return len(v.terms)
}

// Match attempts to find the vocabulary term most phonetically similar to
// phrase.
//
// phrase may be a single word or a space-separated n-gram. Phonetic
// candidates are ranked by Jaro-Winkler similarity; a term that shares no
// phonetic code with the input can still win on pure string similarity
// against the stricter fuzzy threshold.
//
// When matched is false, corrected equals phrase unchanged and confidence
// is 0.
func (m *Matcher) Match(phrase string, vocab *Vocabulary) (corrected string, confidence float64, matched bool) {
	if vocab == nil || len(vocab.terms) == 0 || strings.TrimSpace(phrase) == "" {
		return phrase, 0, false
	}

	tokens := strings.Fields(strings.ToLower(phrase))
	full := strings.Join(tokens, " ")
	joined := strings.Join(tokens, "")
	inputCodes := codesForTokens(tokens)

	type candidate struct {
		term     string
		score    float64
		phonetic bool
	}

	var best candidate

	for _, t := range vocab.terms {
		score := bestScore(full, joined, t)

		if codesOverlap(inputCodes, t.codes) {
			if score >= m.phoneticThreshold && (!best.phonetic || score > best.score) {
				best = candidate{term: t.canonical, score: score, phonetic: true}
			}
		} else if !best.phonetic && score >= m.fuzzyThreshold && score > best.score {
			best = candidate{term: t.canonical, score: score, phonetic: false}
		}
	}

	if best.term != "" {
		return best.term, best.score, true
	}
	return phrase, 0, false
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes (produced when a token is too short or contains
// no consonants) are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap returns true if the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	// Iterate over the smaller set.
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestScore computes the similarity between the input and a term as the
// better of two Jaro-Winkler comparisons: the space-normalised full strings,
// and the concatenated forms with spaces removed.
//
// longTolerance is passed as false to use standard Jaro-Winkler scoring.
func bestScore(full, joined string, t term) float64 {
	score := matchr.JaroWinkler(full, t.lower, false)
	if full != joined || t.lower != t.joined {
		if s := matchr.JaroWinkler(joined, t.joined, false); s > score {
			score = s
		}
	}
	return score
}
