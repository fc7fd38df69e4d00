// Package tokenizer turns raw text into index and query terms.
//
// Indexing is generous: an email address is kept whole and also split into
// its parts, so "alice@skiff.com" indexes as
// ["alice@skiff.com", "alice", "skiff", "com"]. Queries are strict: an email
// shaped query word stays a single term so it only matches that address.
package tokenizer

import (
	"regexp"
	"strings"
	"unicode"

	snowballeng "github.com/kljensen/snowball/english"
	"github.com/samber/lo"
)

// Func splits text into raw tokens.
type Func func(text string) []string

// ProcessFunc normalizes a raw token. ok is false when the token is dropped.
type ProcessFunc func(term string) (processed string, ok bool)

var emailPattern = regexp.MustCompile(
	`^[A-Za-z0-9.!#$%&'*+/=?^_` + "`" + `{|}~-]+@[A-Za-z0-9](?:[A-Za-z0-9-]{0,61}[A-Za-z0-9])?(?:\.[A-Za-z0-9](?:[A-Za-z0-9-]{0,61}[A-Za-z0-9])?)+$`,
)

// IsEmail reports whether s is a single email address.
func IsEmail(s string) bool {
	return emailPattern.MatchString(s)
}

func isSpaceOrPunctuation(r rune) bool {
	return unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.In(r, unicode.Z)
}

// Tokenize splits on unicode whitespace and punctuation.
func Tokenize(text string) []string {
	return strings.FieldsFunc(text, isSpaceOrPunctuation)
}

// TokenizeQuery is the default query tokenizer.
func TokenizeQuery(text string) []string {
	return Tokenize(text)
}

// stripClauseEnd drops one trailing sentence or clause ending mark.
func stripClauseEnd(chunk string) string {
	if chunk == "" {
		return chunk
	}
	switch chunk[len(chunk)-1] {
	case '.', ',', ';', ':', '!', '?':
		return chunk[:len(chunk)-1]
	}
	return chunk
}

// TokenizeEmailAware emits every email address found in text verbatim
// followed by the default tokens of its chunk.
func TokenizeEmailAware(text string) []string {
	var tokens []string
	for _, chunk := range strings.Fields(text) {
		if candidate := stripClauseEnd(chunk); IsEmail(candidate) {
			tokens = append(tokens, candidate)
		}
		tokens = append(tokens, Tokenize(chunk)...)
	}
	return tokens
}

// TokenizeQueryEmailAware keeps email shaped words atomic and tokenizes the
// rest of the query with the default rules.
func TokenizeQueryEmailAware(text string) []string {
	words := strings.Fields(text)
	emails := lo.Filter(words, func(word string, _ int) bool {
		return IsEmail(stripClauseEnd(word))
	})
	rest := lo.Filter(words, func(word string, _ int) bool {
		return !IsEmail(stripClauseEnd(word))
	})
	tokens := lo.Map(emails, func(word string, _ int) string {
		return stripClauseEnd(word)
	})
	return append(tokens, Tokenize(strings.Join(rest, " "))...)
}

// ProcessTerm lowercases, drops stopwords and stems. Email addresses are only
// lowercased so index and query sides agree on them.
func ProcessTerm(term string) (string, bool) {
	term = strings.ToLower(term)
	if term == "" {
		return "", false
	}
	if _, stop := stopWords[term]; stop {
		return "", false
	}
	if IsEmail(term) {
		return term, true
	}
	return snowballeng.Stem(term, false), true
}

// Analyze runs tokenize and process over text, dropping removed terms.
func Analyze(text string, tokenize Func, process ProcessFunc) []string {
	if tokenize == nil {
		tokenize = Tokenize
	}
	if process == nil {
		process = ProcessTerm
	}
	terms := make([]string, 0)
	for _, token := range tokenize(text) {
		if term, ok := process(token); ok && term != "" {
			terms = append(terms, term)
		}
	}
	return terms
}

// Normalize is Analyze with the default tokenizer and term processor.
func Normalize(text string) []string {
	return Analyze(text, Tokenize, ProcessTerm)
}

// stopWords lists common words excluded from indexing and querying.
var stopWords = map[string]struct{}{
	"a": {}, "about": {}, "after": {}, "all": {}, "also": {}, "am": {}, "an": {},
	"and": {}, "any": {}, "are": {}, "as": {}, "at": {}, "be": {}, "been": {},
	"but": {}, "by": {}, "can": {}, "could": {}, "did": {}, "do": {}, "does": {},
	"for": {}, "from": {}, "had": {}, "has": {}, "have": {}, "he": {}, "her": {},
	"his": {}, "how": {}, "i": {}, "if": {}, "in": {}, "into": {}, "is": {},
	"it": {}, "its": {}, "me": {}, "my": {}, "no": {}, "not": {}, "of": {},
	"on": {}, "or": {}, "our": {}, "she": {}, "so": {}, "such": {}, "than": {},
	"that": {}, "the": {}, "their": {}, "them": {}, "then": {}, "there": {},
	"these": {}, "they": {}, "this": {}, "to": {}, "was": {}, "we": {}, "were": {},
	"what": {}, "when": {}, "which": {}, "who": {}, "will": {}, "with": {},
	"would": {}, "you": {}, "your": {},
}
