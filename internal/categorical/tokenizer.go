package categorical

import (
	"strings"
	"unicode"
)

// DefaultDelimiter separates tokens in raw categorical values.
const DefaultDelimiter = ","

// Tokenize splits a raw value into a set of normalised tokens: every token is
// trimmed and lower-cased, empty tokens are dropped and duplicates keep their
// first occurrence. An empty delimiter splits on whitespace.
func Tokenize(text string, delimiter string) []string {
	text = strings.ToLower(text)
	var words []string
	if delimiter == "" {
		words = strings.FieldsFunc(text, unicode.IsSpace)
	} else {
		words = strings.Split(text, delimiter)
	}
	tokens := make([]string, 0, len(words))
	seen := make(map[string]struct{}, len(words))
	for _, word := range words {
		word = strings.TrimSpace(word)
		if word == "" {
			continue
		}
		if _, dup := seen[word]; dup {
			continue
		}
		seen[word] = struct{}{}
		tokens = append(tokens, word)
	}
	return tokens
}

// NewTokenSet tokenizes raw into a TokenSet keeping the raw value for output.
func NewTokenSet(id string, raw string, delimiter string) TokenSet {
	return TokenSet{
		ID:       id,
		Tokens:   Tokenize(raw, delimiter),
		Original: raw,
	}
}
