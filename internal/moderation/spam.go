package moderation

import (
	"regexp"
	"strings"
)

const (
	charFloodThreshold = 5 // identical runes in a row
	wordFloodThreshold = 3 // identical words in a row, case-insensitive
)

var (
	// urlPattern matches scheme and www URLs plus bare domains on common TLDs.
	// Bare domains need a trailing "/" so "v2.0" and "3.14" stay clean.
	urlPattern = regexp.MustCompile(`(?i)(https?://\S+|www\.\S+|\S+\.(com|net|org|io|co|xyz|info|biz|ru|cn|tk|ml|ga|cf)/\S*)`)

	// phonePattern matches +1-555-123-4567, (555) 123-4567, 555.123.4567 and
	// similar, bounded by whitespace so short numbers inside text pass.
	phonePattern = regexp.MustCompile(`(?:^|\s)(\+?\d{1,3}[-.\s]?)?\(?\d{2,4}\)?[-.\s]?\d{3,4}[-.\s]?\d{3,4}(?:\s|$)`)
)

// spamCheck is one named detector. The first matching check wins.
type spamCheck struct {
	name  string
	match func(string) bool
}

var spamChecks = []spamCheck{
	{name: "url", match: urlPattern.MatchString},
	{name: "phone", match: phonePattern.MatchString},
	{name: "char_flood", match: hasCharFlood},
	{name: "word_flood", match: hasWordFlood},
}

// hasCharFlood reports a run of charFloodThreshold identical runes. RE2 has
// no backreferences, hence the scan.
func hasCharFlood(text string) bool {
	run, prev := 0, rune(-1)
	for _, r := range text {
		if r != prev {
			run, prev = 0, r
		}
		run++
		if run >= charFloodThreshold {
			return true
		}
	}
	return false
}

// hasWordFlood reports a run of wordFloodThreshold identical
// whitespace-separated words.
func hasWordFlood(text string) bool {
	words := strings.Fields(text)
	run, prev := 0, ""
	for _, w := range words {
		w = strings.ToLower(w)
		if w != prev {
			run, prev = 0, w
		}
		run++
		if run >= wordFloodThreshold {
			return true
		}
	}
	return false
}

// checkSpamPatterns returns a blocking result for the first matching check,
// or the zero result.
func (f *Filter) checkSpamPatterns(text string) FilterResult {
	for _, sc := range spamChecks {
		if sc.match(text) {
			return FilterResult{Blocked: true, Reason: "spam_pattern", Term: sc.name}
		}
	}
	return FilterResult{}
}
