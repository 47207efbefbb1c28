package conversation

import (
	"fmt"
	"strings"
)

const (
	closingCompleted     = "Thanks, that's everything I need. Someone from the team will be in touch by email shortly. Goodbye."
	closingOptOut        = "No problem at all, I'll let you go. Thanks for your time. Goodbye."
	closingLowConfidence = "I'm sorry, I'm having trouble hearing you. We'll try you again another time. Goodbye."
	closingError         = "Sorry, something went wrong on our side. We'll call you back. Goodbye."
)

// ClosingError is the graceful line played when a webhook cannot be handled.
func ClosingError() string { return closingError }

// Rephraser rewords a prompt after an unclear answer. retry starts at 1.
type Rephraser func(step Step, prompt string, retry int) string

func staticRephrase(_ Step, prompt string, _ int) string {
	return "Sorry, I didn't quite catch that. " + prompt
}

func promptFor(st *State) string {
	switch st.Step {
	case StepIntro:
		return st.Variant.Opening
	case StepCaptureIntent:
		return st.Variant.IntentQuestion
	case StepConfirm:
		answer := strings.TrimSpace(st.Captured[StepCaptureIntent])
		if answer == "" {
			return "Just to confirm, are you happy for the team to follow up by email?"
		}
		return fmt.Sprintf("Just to confirm, I have that down as: %s. Is that right?", answer)
	default:
		return closingCompleted
	}
}

func closingFor(o Outcome) string {
	switch o {
	case OutcomeCompleted:
		return closingCompleted
	case OutcomeAbandonedByCaller:
		return closingOptOut
	case OutcomeLowConfidenceExhausted:
		return closingLowConfidence
	default:
		return closingError
	}
}

// currentAction renders what the caller should hear for st as it stands.
func currentAction(st *State) NextAction {
	if st.Ended() {
		return hangup(closingFor(st.Outcome))
	}
	return prompt(promptFor(st), st.Token())
}
