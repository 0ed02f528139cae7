// Package moderation screens global chat messages for prohibited content.
// Screening runs out of band: the chat server publishes requests over NATS,
// the moderator service applies a Filter, and flagged messages are retracted
// from the global log after the fact.
package moderation

import (
	"strings"
	"unicode"
)

// FilterResult is the outcome of a Check. Reason is "blocked_keyword" or
// "spam_pattern"; Term names the matched keyword, phrase or spam check.
type FilterResult struct {
	Blocked bool
	Reason  string
	Term    string
}

// DefaultTerms is the built-in blocklist. Multi-word entries match as whole
// consecutive words.
var DefaultTerms = []string{
	// harassment
	"fuck", "fucker", "motherfucker", "cunt", "whore", "slut", "kys",
	"kill yourself", "go die", "hang yourself",
	// sexual exploitation
	"pedo", "pedophile", "child porn", "send nudes",
	// extremism and threats
	"heil hitler", "white power", "bomb threat", "shoot up the school",
	// scams
	"free bitcoin", "crypto giveaway", "double your money",
}

// Filter matches messages against a keyword blocklist and a set of spam
// patterns. It is immutable after construction and safe for concurrent use.
type Filter struct {
	words   map[string]struct{}
	phrases [][]string
}

// NewFilter returns a filter loaded with DefaultTerms.
func NewFilter() *Filter {
	return NewFilterWithTerms(DefaultTerms)
}

// NewFilterWithTerms builds a filter from terms. Blank terms are ignored.
func NewFilterWithTerms(terms []string) *Filter {
	f := &Filter{words: make(map[string]struct{})}
	for _, term := range terms {
		tokens := tokenizePlain(strings.ToLower(term))
		switch len(tokens) {
		case 0:
		case 1:
			f.words[tokens[0]] = struct{}{}
		default:
			f.phrases = append(f.phrases, tokens)
		}
	}
	return f
}

// Check screens text. Keyword matches take priority over spam patterns.
func (f *Filter) Check(text string) FilterResult {
	lower := strings.ToLower(text)

	if term, ok := f.matchTokens(tokenizePlain(lower)); ok {
		return FilterResult{Blocked: true, Reason: "blocked_keyword", Term: term}
	}

	leet := tokenizeLeet(lower)
	for i, tok := range leet {
		leet[i] = stripNonLetters(normalizeLeet(tok))
	}
	if term, ok := f.matchTokens(leet); ok {
		return FilterResult{Blocked: true, Reason: "blocked_keyword", Term: term}
	}

	return f.checkSpamPatterns(text)
}

// matchTokens looks for a blocked word or a blocked phrase as a run of
// consecutive tokens.
func (f *Filter) matchTokens(tokens []string) (string, bool) {
	for _, tok := range tokens {
		if _, ok := f.words[tok]; ok {
			return tok, true
		}
	}
	for _, phrase := range f.phrases {
		if containsRun(tokens, phrase) {
			return strings.Join(phrase, " "), true
		}
	}
	return "", false
}

func containsRun(tokens, run []string) bool {
outer:
	for i := 0; i+len(run) <= len(tokens); i++ {
		for j, w := range run {
			if tokens[i+j] != w {
				continue outer
			}
		}
		return true
	}
	return false
}

// tokenizePlain splits on anything that is not a letter or digit.
func tokenizePlain(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// leetRunes are symbols commonly substituted for letters.
const leetRunes = "@$!"

// tokenizeLeet splits like tokenizePlain but keeps leet symbols inside words.
func tokenizeLeet(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !strings.ContainsRune(leetRunes, r)
	})
}

var leetReplacer = strings.NewReplacer(
	"0", "o",
	"1", "i",
	"3", "e",
	"4", "a",
	"5", "s",
	"7", "t",
	"@", "a",
	"$", "s",
	"!", "i",
)

// normalizeLeet maps leet substitutions back to letters.
func normalizeLeet(s string) string {
	return leetReplacer.Replace(s)
}

func stripNonLetters(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) {
			return r
		}
		return -1
	}, s)
}
