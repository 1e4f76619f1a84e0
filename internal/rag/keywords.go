// Package rag provides retrieval and prompt composition for grounded
// question answering.
package rag

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxKeywords bounds how many query keywords drive keyword retrieval.
const MaxKeywords = 5

// stopWords is the fixed English stop-word set dropped during keyword
// extraction.
var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {},
	"you": {}, "all": {}, "can": {}, "had": {}, "her": {}, "was": {},
	"one": {}, "our": {}, "out": {}, "has": {}, "have": {}, "what": {},
	"when": {}, "where": {}, "which": {}, "who": {}, "whom": {}, "why": {},
	"how": {}, "this": {}, "that": {}, "these": {}, "those": {}, "with": {},
	"from": {}, "they": {}, "them": {}, "their": {}, "there": {}, "here": {},
	"does": {}, "did": {}, "will": {}, "would": {}, "could": {}, "should": {},
	"about": {}, "into": {}, "than": {}, "then": {}, "some": {}, "such": {},
	"only": {}, "other": {}, "more": {}, "most": {}, "also": {}, "just": {},
	"over": {}, "under": {}, "very": {}, "any": {}, "each": {}, "many": {},
	"much": {}, "tell": {}, "show": {}, "list": {}, "give": {}, "get": {},
	"please": {}, "know": {},
}

// ExtractKeywords tokenizes a question into lowercase alphanumeric words,
// drops stop words and words of two characters or fewer, and keeps up to
// MaxKeywords distinct keywords in question order.
func ExtractKeywords(question string) []string {
	var keywords []string
	seen := make(map[string]struct{})

	for _, token := range tokenize(question) {
		if utf8.RuneCountInString(token) <= 2 {
			continue
		}
		if _, stop := stopWords[token]; stop {
			continue
		}
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		keywords = append(keywords, token)
		if len(keywords) == MaxKeywords {
			break
		}
	}

	return keywords
}

// tokenize lowercases the text and splits it on every non-alphanumeric
// rune.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
