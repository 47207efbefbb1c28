package personalization

import (
	"strings"
	"unicode"
)

// Phrases are matched on whole words. Tiers are checked in order, so "get
// hired into a role" is talent while "hiring for a role" is hirer.
var intentTiers = []struct {
	intent  Intent
	phrases []string
}{
	{IntentTalent, []string{"get hired", "be hired", "getting hired", "looking for work", "looking for a job", "looking for a role", "find a job", "find a role", "new job", "new role", "next role", "next move", "job hunting"}},
	{IntentHirer, []string{"hire", "hiring", "recruit", "recruiting", "recruiter", "employer", "candidate", "candidates", "looking for talent", "build my team", "build a team", "grow my team"}},
	{IntentTalent, []string{"role", "roles", "job", "jobs", "career", "position", "positions", "opportunity", "opportunities", "hired"}},
}

// ClassifyIntent normalizes a free-text answer to the neutral variant's intent
// question. ok is false when the answer matches neither side.
func ClassifyIntent(text string) (Intent, bool) {
	t := words(text)
	for _, tier := range intentTiers {
		for _, p := range tier.phrases {
			if strings.Contains(t, " "+p+" ") {
				return tier.intent, true
			}
		}
	}
	return IntentUnknown, false
}

// words lowercases text and collapses everything but letters, digits and
// apostrophes to single spaces, padded on both ends.
func words(text string) string {
	f := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	return " " + strings.Join(f, " ") + " "
}
