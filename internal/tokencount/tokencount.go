// Package tokencount provides a deterministic text -> token estimator used
// by the working-set accountant. The exact value is never persisted for
// anything but capacity accounting, so an approximation within roughly
// ±10% of a real BPE tokenizer is acceptable.
package tokencount

import (
	"strings"
	"unicode"
)

// Counter maps text to an estimated token count. Real deployments inject a
// counter backed by a model-specific tokenizer; this package supplies the
// default.
type Counter func(text string) int

// Estimate approximates GPT-style BPE token counts using a character/word
// heuristic: roughly 4 characters per token for prose, with a floor of one
// token per word so short, punctuation-heavy strings aren't undercounted.
func Estimate(text string) int {
	if text == "" {
		return 0
	}

	words := countWords(text)
	chars := len([]rune(text))

	byChars := (chars + 3) / 4
	if words > byChars {
		return words
	}
	return byChars
}

func countWords(text string) int {
	n := 0
	inWord := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			inWord = false
			continue
		}
		if !inWord {
			n++
			inWord = true
		}
	}
	return n
}

// Default is the package-level Counter used when no provider is injected.
var Default Counter = Estimate

// Words is a convenience helper used by callers that need raw word counts,
// e.g. the proposition filter's minimum length/word-count thresholds.
func Words(text string) int {
	return len(strings.Fields(text))
}
