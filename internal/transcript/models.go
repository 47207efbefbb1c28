package transcript

import "time"

// Turn is one line of a call: a prompt we played or an utterance we heard.
//
// Invariants:
// - Turns are never updated or deleted.
// - (job_id, seq, speaker) is unique; replayed webhooks re-record nothing.
type Turn struct {
	ID      string  `json:"id" db:"id"`
	JobID   string  `json:"job_id" db:"job_id"`
	CallID  string  `json:"call_id,omitempty" db:"call_id"`
	Seq     int64   `json:"seq" db:"seq"`
	Step    string  `json:"step" db:"step"`
	Speaker Speaker `json:"speaker" db:"speaker"`
	Text    string  `json:"text" db:"text"`

	// Confidence is the recognizer score for caller turns.
	Confidence float64 `json:"confidence,omitempty" db:"confidence"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Speaker string

const (
	SpeakerAssistant Speaker = "assistant"
	SpeakerCaller    Speaker = "caller"
)
