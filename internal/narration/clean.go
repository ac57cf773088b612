package narration

import (
	"regexp"
	"strings"
)

var (
	// "Here is the narration:", "Here's action 4:", "Sure! Here you go:", "Certainly,"
	leadInPattern = regexp.MustCompile(`(?i)^\s*(?:(?:sure|okay|ok|certainly|of course)[,.!]\s*)?(?:here(?:'s|’s| is| are| you go)[^:\n]*[:\n]\s*)?`)
	// "Action 3:", "[Action #3]", "(action 12)", "#7"
	actionTokenPattern = regexp.MustCompile(`(?i)[\[(]?\baction\s*#?\s*\d+\s*[\])]?\s*[:.\-\x{2013}\x{2014}]?\s*|#\d+\b\s*[:.\-\x{2013}\x{2014}]?\s*`)
	spacePattern       = regexp.MustCompile(`\s+`)
)

var quotePairs = map[rune]rune{
	'"':  '"',
	'\'': '\'',
	'“':  '”',
	'‘':  '’',
	'«':  '»',
	'`':  '`',
}

// Clean strips provider meta-commentary from generated text: lead-in phrases,
// literal action-number tokens, and quotes enclosing the whole answer.
//
// Postcondition: the result has no surrounding whitespace; it may be empty.
func Clean(text string) string {
	s := strings.TrimSpace(text)
	for {
		before := s
		s = strings.TrimSpace(leadInPattern.ReplaceAllString(s, ""))
		s = strings.TrimSpace(actionTokenPattern.ReplaceAllString(s, ""))
		s = stripEnclosingQuotes(s)
		if s == before {
			break
		}
	}
	return spacePattern.ReplaceAllString(s, " ")
}

func stripEnclosingQuotes(s string) string {
	r := []rune(s)
	if len(r) < 2 {
		return s
	}
	closer, ok := quotePairs[r[0]]
	if !ok || r[len(r)-1] != closer {
		return s
	}
	inner := string(r[1 : len(r)-1])
	// Leave "a" ... "b" alone: the quotes do not enclose the whole answer.
	if strings.ContainsRune(inner, r[0]) || strings.ContainsRune(inner, closer) {
		return s
	}
	return strings.TrimSpace(inner)
}
