package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"outbound-orchestrator/internal/conversation"
)

// TwiML is a minimal Twilio Markup Language response builder.
// Only the verbs the call script needs are modelled.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlSay struct {
	XMLName  xml.Name `xml:"Say"`
	Language string   `xml:"language,attr,omitempty"`
	Text     string   `xml:",chardata"`
}

type twimlGather struct {
	XMLName       xml.Name `xml:"Gather"`
	Input         string   `xml:"input,attr"`
	Action        string   `xml:"action,attr"`
	Method        string   `xml:"method,attr"`
	Timeout       int      `xml:"timeout,attr"`
	SpeechTimeout string   `xml:"speechTimeout,attr"`
	SpeechModel   string   `xml:"speechModel,attr"`
	Language      string   `xml:"language,attr,omitempty"`
	Say           twimlSay
}

type twimlRedirect struct {
	XMLName xml.Name `xml:"Redirect"`
	Method  string   `xml:"method,attr"`
	URL     string   `xml:",chardata"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

// GatherURL is the voice webhook URL echoing the step token for jobID.
func GatherURL(publicBaseURL, jobID string, tok conversation.StepToken) string {
	q := url.Values{}
	q.Set("job_id", jobID)
	if !tok.IsZero() {
		q.Set("step", string(tok.Step))
		q.Set("seq", strconv.FormatInt(tok.Seq, 10))
	}
	return strings.TrimRight(publicBaseURL, "/") + "/webhooks/twilio/voice?" + q.Encode()
}

// AnswerURL is the voice webhook the provider fetches when the call is answered.
func AnswerURL(publicBaseURL, jobID string) string {
	return GatherURL(publicBaseURL, jobID, conversation.StepToken{})
}

// StatusCallbackURL is the status webhook URL for jobID.
func StatusCallbackURL(publicBaseURL, jobID string) string {
	q := url.Values{}
	q.Set("job_id", jobID)
	return strings.TrimRight(publicBaseURL, "/") + "/webhooks/twilio/status?" + q.Encode()
}

// RenderAction maps a NextAction to TwiML.
//
// A prompt becomes a speech Gather posting back to the step URL; the trailing
// Redirect posts the same URL with no SpeechResult when the caller stays silent,
// which the engine counts as an unclear answer.
func RenderAction(a conversation.NextAction, publicBaseURL, jobID, language string) (string, error) {
	var r twimlResponse

	switch a.Kind {
	case conversation.ActionPrompt:
		if strings.TrimSpace(a.Text) == "" {
			return "", errors.New("telephony: prompt text required")
		}
		if a.Token.IsZero() {
			return "", errors.New("telephony: prompt requires a step token")
		}
		action := GatherURL(publicBaseURL, jobID, a.Token)
		r.Verbs = append(r.Verbs,
			twimlGather{
				Input:         "speech",
				Action:        action,
				Method:        "POST",
				Timeout:       10,
				SpeechTimeout: "auto",
				SpeechModel:   "phone_call",
				Language:      language,
				Say:           twimlSay{Language: language, Text: a.Text},
			},
			twimlRedirect{Method: "POST", URL: action},
		)
	case conversation.ActionHangup:
		if a.Text != "" {
			r.Verbs = append(r.Verbs, twimlSay{Language: language, Text: a.Text})
		}
		r.Verbs = append(r.Verbs, twimlHangup{})
	default:
		return "", fmt.Errorf("telephony: unknown action %q", a.Kind)
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// GracefulHangup is the TwiML played when a webhook cannot be handled.
func GracefulHangup(language string) string {
	out, err := RenderAction(conversation.NextAction{Kind: conversation.ActionHangup, Text: conversation.ClosingError()}, "", "", language)
	if err != nil {
		return xml.Header + "<Response><Hangup></Hangup></Response>"
	}
	return out
}
