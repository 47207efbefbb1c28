// Package personalization maps job artifacts to an opening script variant.
// Everything here is pure: no I/O, no clock.
package personalization

import (
	"fmt"
	"strings"
)

// Intent is why the subject signed up.
type Intent string

const (
	IntentTalent  Intent = "talent"
	IntentHirer   Intent = "hirer"
	IntentUnknown Intent = ""
)

// Artifact keys read by Resolve.
const (
	ArtifactSignupIntent = "signup_intent"
	// ArtifactSignupMode is the older key written by the signup flow.
	ArtifactSignupMode = "signup_mode"
	ArtifactFirstName  = "first_name"
)

const (
	VariantTalent  = "talent"
	VariantHirer   = "hirer"
	VariantNeutral = "neutral"
)

// ScriptVariant is the personalized wording for the intro and intent steps.
type ScriptVariant struct {
	Name           string `json:"name"`
	Intent         Intent `json:"intent,omitempty"`
	Opening        string `json:"opening"`
	IntentQuestion string `json:"intent_question"`
}

var intentAliases = map[string]Intent{
	"talent":        IntentTalent,
	"job_seeker":    IntentTalent,
	"executive":     IntentTalent,
	"candidate":     IntentTalent,
	"hirer":         IntentHirer,
	"talent_seeker": IntentHirer,
	"company":       IntentHirer,
	"client":        IntentHirer,
	"employer":      IntentHirer,
}

// Resolve picks the script variant for a job. Unknown or missing intent falls
// back to the neutral variant, which asks the caller to self-classify.
func Resolve(artifacts map[string]string) ScriptVariant {
	greeting := "Hi"
	if name := strings.TrimSpace(artifacts[ArtifactFirstName]); name != "" {
		greeting = "Hi " + name
	}

	switch lookupIntent(artifacts) {
	case IntentTalent:
		return ScriptVariant{
			Name:   VariantTalent,
			Intent: IntentTalent,
			Opening: fmt.Sprintf("%s, it's Ava calling from the executive search team. "+
				"You signed up to hear about senior leadership opportunities. Is now a good time for a quick chat?", greeting),
			IntentQuestion: "Great. What kind of role are you hoping to move into next?",
		}
	case IntentHirer:
		return ScriptVariant{
			Name:   VariantHirer,
			Intent: IntentHirer,
			Opening: fmt.Sprintf("%s, it's Ava calling from the executive search team. "+
				"You signed up looking for senior leadership talent. Is now a good time for a quick chat?", greeting),
			IntentQuestion: "Great. Which role are you looking to hire for?",
		}
	default:
		return ScriptVariant{
			Name: VariantNeutral,
			Opening: fmt.Sprintf("%s, it's Ava calling from the executive search team about your recent sign-up. "+
				"Is now a good time for a quick chat?", greeting),
			IntentQuestion: "So I can point you in the right direction, are you exploring your next executive role, or hiring for one?",
		}
	}
}

func lookupIntent(artifacts map[string]string) Intent {
	for _, key := range []string{ArtifactSignupIntent, ArtifactSignupMode} {
		v := strings.ToLower(strings.TrimSpace(artifacts[key]))
		if v == "" {
			continue
		}
		if intent, ok := intentAliases[v]; ok {
			return intent
		}
	}
	return IntentUnknown
}
