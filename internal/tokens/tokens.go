// Package tokens approximates token counts when a provider does not report them.
package tokens

import "unicode/utf8"

// CharsPerToken is the heuristic ratio of characters to tokens.
const CharsPerToken = 4

// Estimate returns an approximate token count for text. It is deterministic and
// monotonic in the length of text; it is not a billing-grade figure.
func Estimate(text string) int {
	return utf8.RuneCountInString(text) / CharsPerToken
}
