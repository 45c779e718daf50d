// Package keyword extracts significant terms from text and maintains the
// persisted inverted index from term to memory ids.
package keyword

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// wordRun matches maximal runs of word characters (letters of any script,
// digits and underscore). A run yields a term only when every rune in it is
// accepted by the caller's class.
var wordRun = regexp.MustCompile(`[\p{L}\p{N}_]+`)

var stopwords = map[string]bool{
	"的": true, "了": true, "在": true, "是": true, "我": true, "有": true,
	"和": true, "就": true, "不": true, "人": true, "都": true, "一": true,
	"the": true, "a": true, "an": true, "is": true, "are": true, "was": true,
	"were": true, "to": true, "of": true, "in": true, "for": true, "and": true,
	"or": true, "but": true, "on": true, "at": true, "by": true, "with": true,
	"this": true, "that": true,
}

func isLatin(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isTermRune(r rune) bool {
	return isLatin(r) || (r >= 0x4e00 && r <= 0x9fa5)
}

// Words returns the lower-cased word runs of text made only of runes accepted
// by class, in order of appearance, duplicates included.
func Words(text string, class func(rune) bool) []string {
	var out []string
	for _, w := range wordRun.FindAllString(strings.ToLower(text), -1) {
		if strings.IndexFunc(w, func(r rune) bool { return !class(r) }) >= 0 {
			continue
		}
		out = append(out, w)
	}
	return out
}

// LatinWords returns the distinct Latin-only words of text in first-seen order.
func LatinWords(text string) []string {
	return dedupe(Words(text, isLatin))
}

// Extract returns the distinct significant terms of text in first-seen order.
// Latin and CJK ideograph runs are kept; single-rune tokens and stopwords are dropped.
func Extract(text string) []string {
	var terms []string
	for _, w := range Words(text, isTermRune) {
		if utf8.RuneCountInString(w) <= 1 || stopwords[w] {
			continue
		}
		terms = append(terms, w)
	}
	return dedupe(terms)
}

func dedupe(words []string) []string {
	if len(words) == 0 {
		return []string{}
	}
	seen := make(map[string]bool, len(words))
	out := make([]string, 0, len(words))
	for _, w := range words {
		if seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}
