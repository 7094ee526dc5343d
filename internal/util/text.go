package util

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Prefix returns at most n runes of s.
func Prefix(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// RuneLen returns the number of runes in s.
func RuneLen(s string) int {
	return utf8.RuneCountInString(s)
}

// Tokens lowercases s and splits it on anything that is not a letter or digit.
func Tokens(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// MatchesVocabulary reports whether text contains any vocabulary entry.
// Single-word entries must match a whole token; multi-word entries match as a
// phrase over the normalized token stream.
func MatchesVocabulary(text string, vocabulary []string) bool {
	tokens := Tokens(text)
	if len(tokens) == 0 {
		return false
	}
	joined := " " + strings.Join(tokens, " ") + " "
	for _, entry := range vocabulary {
		entryTokens := Tokens(entry)
		if len(entryTokens) == 0 {
			continue
		}
		if strings.Contains(joined, " "+strings.Join(entryTokens, " ")+" ") {
			return true
		}
	}
	return false
}

// OnlyVocabulary reports whether every token of text belongs to the vocabulary.
func OnlyVocabulary(text string, vocabulary []string) bool {
	tokens := Tokens(text)
	if len(tokens) == 0 {
		return false
	}
	words := make(map[string]struct{})
	for _, entry := range vocabulary {
		for _, t := range Tokens(entry) {
			words[t] = struct{}{}
		}
	}
	for _, t := range tokens {
		if _, ok := words[t]; !ok {
			return false
		}
	}
	return true
}
