package conversation

import (
	"strings"
	"unicode"
)

var earlyExitPhrases = []string{
	"not now", "call me back", "busy", "stop", "hang up",
	"goodbye", "bye", "no thanks", "not interested",
}

var yesWords = []string{"yes", "yeah", "yep", "yup", "sure", "correct", "right", "absolutely", "definitely", "ok", "okay", "of course"}

var noWords = []string{"no", "nope", "nah", "not really", "incorrect", "wrong"}

// normalize lowercases text, replaces punctuation with spaces and pads with a
// leading and trailing space so phrases match on word boundaries.
func normalize(text string) string {
	var b strings.Builder
	b.WriteByte(' ')
	space := true
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	if !space {
		b.WriteByte(' ')
	}
	return b.String()
}

func containsAny(text string, phrases []string) bool {
	n := normalize(text)
	for _, p := range phrases {
		if strings.Contains(n, " "+p+" ") {
			return true
		}
	}
	return false
}

func wantsToEnd(text string) bool { return containsAny(text, earlyExitPhrases) }

func isYes(text string) bool { return containsAny(text, yesWords) }

func isNo(text string) bool { return !isYes(text) && containsAny(text, noWords) }
