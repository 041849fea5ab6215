package playbook

import (
	"sort"
	"strings"

	"github.com/antzucaro/matchr"
)

// tokenMatchThreshold is the Jaro-Winkler score at which two tokens are
// considered the same word despite transcription noise.
const tokenMatchThreshold = 0.88

// stopwords are function words excluded from intent scoring.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "i": {}, "me": {}, "my": {}, "you": {},
	"your": {}, "it": {}, "is": {}, "are": {}, "am": {}, "to": {}, "of": {},
	"for": {}, "on": {}, "in": {}, "at": {}, "do": {}, "does": {}, "can": {},
	"could": {}, "would": {}, "please": {},
}

// RuleClassifier is the default IntentClassifier: it scores the utterance
// against example phrases per intent by normalized token overlap, with
// Jaro-Winkler fuzziness absorbing STT noise. It needs no model and no
// network round trip, which keeps intent transitions off the turn's latency
// path.
type RuleClassifier struct {
	intents []ruleIntent
}

type ruleIntent struct {
	name     string
	examples [][]string
}

// NewRuleClassifier builds a classifier from example phrases keyed by intent
// name. Intents are evaluated in sorted name order so ties resolve
// deterministically.
func NewRuleClassifier(examples map[string][]string) *RuleClassifier {
	names := make([]string, 0, len(examples))
	for name := range examples {
		names = append(names, name)
	}
	sort.Strings(names)

	c := &RuleClassifier{intents: make([]ruleIntent, 0, len(names))}
	for _, name := range names {
		ri := ruleIntent{name: name}
		for _, phrase := range examples[name] {
			if tokens := contentTokens(phrase); len(tokens) > 0 {
				ri.examples = append(ri.examples, tokens)
			}
		}
		if len(ri.examples) > 0 {
			c.intents = append(c.intents, ri)
		}
	}
	return c
}

// Classify returns the best-scoring intent for the utterance and its
// confidence in [0,1]. An empty intent means nothing scored above zero.
func (c *RuleClassifier) Classify(text string) (string, float64) {
	utterance := contentTokens(text)
	if len(utterance) == 0 {
		return "", 0
	}

	var bestName string
	var bestScore float64
	for _, intent := range c.intents {
		for _, example := range intent.examples {
			if s := overlapScore(utterance, example); s > bestScore {
				bestName, bestScore = intent.name, s
			}
		}
	}
	return bestName, bestScore
}

// overlapScore is the fraction of example tokens present in the utterance,
// where presence means an exact match or a fuzzy one above
// tokenMatchThreshold.
func overlapScore(utterance, example []string) float64 {
	matched := 0
	for _, et := range example {
		for _, ut := range utterance {
			if ut == et || matchr.JaroWinkler(ut, et, false) >= tokenMatchThreshold {
				matched++
				break
			}
		}
	}
	return float64(matched) / float64(len(example))
}

// contentTokens lowercases, splits, strips surrounding punctuation, and
// drops stopwords.
func contentTokens(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		t := strings.Trim(f, ".,!?;:\"'()-")
		if t == "" {
			continue
		}
		if _, skip := stopwords[t]; skip {
			continue
		}
		tokens = append(tokens, t)
	}
	return tokens
}
