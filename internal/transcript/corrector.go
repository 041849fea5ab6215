// Package transcript corrects misheard domain vocabulary in final speech
// transcripts before they reach the language model.
//
// Speech-to-text output is reliable for everyday words but regularly mangles
// proper nouns the acoustic model never saw: product names, people, places,
// project jargon. A [Corrector] is built once from the configured term list
// and rewrites each final transcript in-process, with no network calls, so
// it is cheap enough to run between STT and the LLM on every turn.
//
// Matching is phonetic (Double Metaphone plus Jaro-Winkler, see the phonetic
// subpackage). The corrector itself handles tokenisation, n-gram windowing
// for multi-word terms and split hearings, and punctuation preservation.
package transcript

import (
	"strings"
	"unicode"

	"github.com/llmrtc/llmrtc/internal/transcript/phonetic"
)

// joinGuardThreshold gates any match whose window word count differs from
// the matched term's word count. Such a match swallows or invents whole
// words, so the similarity has to be near-exact.
const joinGuardThreshold = 0.95

// Correction records a single substitution applied to a transcript.
type Correction struct {
	// Original is the misheard text as produced by the STT provider,
	// without surrounding punctuation.
	Original string

	// Corrected is the vocabulary term that replaced it, in its canonical
	// casing.
	Corrected string

	// Confidence is the similarity score of the match (0.0 to 1.0).
	Confidence float64
}

// Option is a functional option for configuring a [Corrector].
type Option func(*Corrector)

// WithMatcher replaces the default phonetic matcher, letting callers tune
// the phonetic and fuzzy thresholds.
func WithMatcher(m *phonetic.Matcher) Option {
	return func(c *Corrector) {
		c.matcher = m
	}
}

// Corrector rewrites misheard vocabulary terms in transcript text.
// It is read-only after construction and safe for concurrent use.
type Corrector struct {
	matcher   *phonetic.Matcher
	vocab     *phonetic.Vocabulary
	maxWindow int
}

// New compiles the vocabulary term list into a [Corrector]. An empty list
// yields a corrector that returns every transcript unchanged.
func New(terms []string, opts ...Option) *Corrector {
	c := &Corrector{
		matcher: phonetic.New(),
		vocab:   phonetic.Compile(terms),
	}
	for _, o := range opts {
		o(c)
	}
	// Two-token windows are always tried so that a term split across a
	// word boundary by the STT provider ("deep gram") can rejoin.
	c.maxWindow = c.vocab.MaxWords()
	if c.maxWindow < 2 {
		c.maxWindow = 2
	}
	return c
}

// Correct returns text with every recognised vocabulary term rewritten to
// its canonical form. The signature matches the turn engine's transcript
// corrector hook.
func (c *Corrector) Correct(text string) string {
	corrected, _ := c.Apply(text)
	return corrected
}

// Apply is [Corrector.Correct] plus an itemised record of every substitution,
// for callers that log or audit the rewrites.
func (c *Corrector) Apply(text string) (string, []Correction) {
	if c.vocab.Len() == 0 {
		return text, nil
	}
	raw := strings.Fields(text)
	if len(raw) == 0 {
		return text, nil
	}

	words := make([]token, len(raw))
	for i, r := range raw {
		words[i] = splitAffixes(r)
	}

	out := make([]string, 0, len(raw))
	var corrections []Correction

	i := 0
	for i < len(raw) {
		if words[i].core == "" {
			out = append(out, raw[i])
			i++
			continue
		}

		n, corr := c.matchAt(words, i)
		if n == 0 {
			out = append(out, raw[i])
			i++
			continue
		}

		replacement := strings.Fields(corr.Corrected)
		replacement[0] = words[i].lead + replacement[0]
		replacement[len(replacement)-1] += words[i+n-1].trail
		out = append(out, replacement...)
		corrections = append(corrections, corr)
		i += n
	}

	return strings.Join(out, " "), corrections
}

// matchAt tries n-gram windows starting at position i, longest first, and
// returns the number of tokens consumed along with the correction applied.
// The longest window wins so that a multi-word term takes precedence over a
// partial single-word match. n is 0 when nothing matches.
func (c *Corrector) matchAt(words []token, i int) (int, Correction) {
	maxN := c.maxWindow
	if i+maxN > len(words) {
		maxN = len(words) - i
	}

window:
	for n := maxN; n >= 1; n-- {
		parts := make([]string, 0, n)
		for _, w := range words[i : i+n] {
			// A punctuation-only token is a hard boundary.
			if w.core == "" {
				continue window
			}
			parts = append(parts, w.core)
		}
		win := strings.Join(parts, " ")

		term, conf, ok := c.matcher.Match(win, c.vocab)
		if !ok || term == win {
			continue
		}
		if n != len(strings.Fields(term)) && conf < joinGuardThreshold {
			continue
		}
		return n, Correction{Original: win, Corrected: term, Confidence: conf}
	}
	return 0, Correction{}
}

// token is a whitespace-separated word split into its punctuation affixes
// and the matchable core.
type token struct {
	lead  string
	core  string
	trail string
}

// splitAffixes separates leading and trailing punctuation from a raw token.
// Interior punctuation (apostrophes, hyphens) stays in the core. The core
// is empty when the token is punctuation only.
func splitAffixes(raw string) token {
	notWord := func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}
	afterLead := strings.TrimLeftFunc(raw, notWord)
	core := strings.TrimRightFunc(afterLead, notWord)
	return token{
		lead:  raw[:len(raw)-len(afterLead)],
		core:  core,
		trail: afterLead[len(core):],
	}
}
