package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"outbound-orchestrator/internal/calljobs"
	"outbound-orchestrator/internal/personalization"
	"outbound-orchestrator/internal/transcript"
	"outbound-orchestrator/pkg/logger"
)

// Jobs is the subset of calljobs.Service the engine needs.
type Jobs interface {
	Get(ctx context.Context, id string) (*calljobs.Job, error)
	Finish(ctx context.Context, id, callID string, success bool, reason string, artifacts calljobs.Artifacts) (*calljobs.Job, bool, error)
}

// TurnRecorder receives transcript turns. Failures are logged, never returned.
type TurnRecorder interface {
	Record(ctx context.Context, t transcript.Turn) error
}

// SlotReleaser gives back the concurrency slot taken when the call was placed.
type SlotReleaser interface {
	Release(ctx context.Context, key string) error
}

const (
	LowConfidenceFail    = "fail"
	LowConfidenceSucceed = "succeed"
)

// Artifact keys written when a call ends.
const (
	ArtifactOutcome         = "outcome"
	ArtifactResolvedIntent  = "resolved_intent"
	ArtifactIntentConfirmed = "intent_confirmed"
	ArtifactCapturedPrefix  = "captured_"
)

type Config struct {
	ConfidenceThreshold float64
	StepRetries         int

	// LowConfidencePolicy decides the job status for low_confidence_exhausted:
	// LowConfidenceFail (retry later) or LowConfidenceSucceed.
	LowConfidencePolicy string

	Rephrase Rephraser

	// SlotKey names the concurrency pool the dispatcher acquired from.
	SlotKey string

	Now func() time.Time
}

func (c Config) withDefaults() Config {
	out := c
	if out.ConfidenceThreshold <= 0 {
		out.ConfidenceThreshold = 0.5
	}
	if out.StepRetries < 0 {
		out.StepRetries = 0
	}
	if out.LowConfidencePolicy == "" {
		out.LowConfidencePolicy = LowConfidenceFail
	}
	if out.Rephrase == nil {
		out.Rephrase = staticRephrase
	}
	if out.Now == nil {
		out.Now = time.Now
	}
	return out
}

// Engine advances ConversationState from provider webhooks.
//
// Notes:
// - Every state write is conditioned on the previous Seq.
// - Speech for a token other than the current one is a no-op that returns the
//   current action, so provider retries never double-advance.
// - Job transitions happen only on CallEnded, through Jobs.Finish.
// - State belongs to one provider call. Events carrying another call's id are
//   answered with a bare hangup and change nothing.
type Engine struct {
	Jobs  Jobs
	Store Store

	// Turns and Slots are optional.
	Turns TurnRecorder
	Slots SlotReleaser

	cfg Config
}

func NewEngine(jobs Jobs, store Store, cfg Config) *Engine {
	return &Engine{Jobs: jobs, Store: store, cfg: cfg.withDefaults()}
}

func (e *Engine) now() time.Time { return e.cfg.Now().UTC() }

// OnEvent applies one provider event to the conversation for jobID.
func (e *Engine) OnEvent(ctx context.Context, jobID string, ev Event) (NextAction, error) {
	if strings.TrimSpace(jobID) == "" {
		return NextAction{}, ErrUnknownJob
	}
	switch ev := ev.(type) {
	case CallStarted:
		return e.callStarted(ctx, jobID, ev)
	case SpeechCaptured:
		return e.speechCaptured(ctx, jobID, ev)
	case CallEnded:
		return e.callEnded(ctx, jobID, ev)
	default:
		return NextAction{}, ErrUnknownEvent
	}
}

func (e *Engine) callStarted(ctx context.Context, jobID string, ev CallStarted) (NextAction, error) {
	job, err := e.Jobs.Get(ctx, jobID)
	if errors.Is(err, calljobs.ErrNotFound) {
		return NextAction{}, ErrUnknownJob
	}
	if err != nil {
		return NextAction{}, err
	}

	if !job.OwnsCall(ev.CallID) {
		e.log(ctx).Warn("call started for superseded call", "job_id", jobID, "call_sid", ev.CallID, "current_call", job.ProviderCallID)
		return staleCall(), nil
	}

	existing, err := e.Store.Get(ctx, jobID)
	switch {
	case err == nil && sameCall(existing.CallID, ev.CallID):
		return replayed(currentAction(existing)), nil
	case err == nil:
		// Left behind by an earlier attempt that never saw its terminal webhook.
		e.retire(ctx, existing)
	case !errors.Is(err, ErrNoConversation):
		return NextAction{}, err
	}

	if job.Status != calljobs.StatusRunning {
		return NextAction{}, fmt.Errorf("%w: %s", ErrJobNotRunning, job.Status)
	}

	now := e.now()
	st := &State{
		JobID:     jobID,
		CallID:    ev.CallID,
		Variant:   personalization.Resolve(job.Artifacts),
		Step:      StepIntro,
		Seq:       1,
		Captured:  map[Step]string{},
		StartedAt: now,
		UpdatedAt: now,
	}
	if err := e.Store.Create(ctx, st); err != nil {
		if errors.Is(err, ErrStateExists) {
			return e.current(ctx, jobID)
		}
		return NextAction{}, err
	}

	e.log(ctx).Info("conversation started", "job_id", jobID, "call_sid", ev.CallID, "variant", st.Variant.Name)
	action := currentAction(st)
	e.record(ctx, st, transcript.SpeakerAssistant, action.Text, 0)
	return action, nil
}

func (e *Engine) speechCaptured(ctx context.Context, jobID string, ev SpeechCaptured) (NextAction, error) {
	st, err := e.Store.Get(ctx, jobID)
	if err != nil {
		return NextAction{}, err
	}
	if !sameCall(st.CallID, ev.CallID) {
		e.log(ctx).Debug("speech from superseded call ignored", "job_id", jobID, "call_sid", ev.CallID, "current_call", st.CallID)
		return staleCall(), nil
	}
	if st.Ended() || ev.Token != st.Token() {
		e.log(ctx).Debug("speech replay ignored", "job_id", jobID, "token", ev.Token.String(), "current", st.Token().String())
		return replayed(currentAction(st)), nil
	}

	text := strings.TrimSpace(ev.Text)
	prev := st.Seq
	next := st.Clone()
	next.Seq++
	next.UpdatedAt = e.now()
	if text != "" {
		e.record(ctx, st, transcript.SpeakerCaller, text, ev.Confidence)
	}

	var action NextAction
	switch {
	case text == "" || ev.Confidence < e.cfg.ConfidenceThreshold:
		next.RetryCount++
		if next.RetryCount > e.cfg.StepRetries {
			next.Outcome = OutcomeLowConfidenceExhausted
			action = hangup(closingLowConfidence)
		} else {
			action = prompt(e.cfg.Rephrase(next.Step, promptFor(next), next.RetryCount), next.Token())
		}

	case next.Step != StepConfirm && wantsToEnd(text):
		next.Captured[next.Step] = text
		next.Outcome = OutcomeAbandonedByCaller
		action = hangup(closingOptOut)

	case next.Step == StepIntro && isNo(text):
		next.Captured[StepIntro] = text
		next.Outcome = OutcomeAbandonedByCaller
		action = hangup(closingOptOut)

	default:
		next.Captured[next.Step] = text
		next.Step = next.Step.next()
		next.RetryCount = 0
		if next.Step == StepComplete {
			next.Outcome = OutcomeCompleted
			action = hangup(closingCompleted)
		} else {
			action = prompt(promptFor(next), next.Token())
		}
	}

	if err := e.Store.Save(ctx, next, prev); err != nil {
		if errors.Is(err, ErrStaleState) {
			return e.current(ctx, jobID)
		}
		return NextAction{}, err
	}

	if next.Outcome != OutcomeNone {
		e.log(ctx).Info("conversation outcome", "job_id", jobID, "outcome", string(next.Outcome), "step", string(st.Step))
	}
	e.record(ctx, next, transcript.SpeakerAssistant, action.Text, 0)
	return action, nil
}

var providerFailureReasons = map[string]bool{
	"busy":      true,
	"no-answer": true,
	"failed":    true,
	"canceled":  true,
}

// IsTerminalCallStatus reports whether a provider call status ends the call.
func IsTerminalCallStatus(status string) bool {
	return status == "completed" || providerFailureReasons[status]
}

func (e *Engine) callEnded(ctx context.Context, jobID string, ev CallEnded) (NextAction, error) {
	st, err := e.Store.Get(ctx, jobID)
	if err != nil && !errors.Is(err, ErrNoConversation) {
		return NextAction{}, err
	}
	if st != nil && !sameCall(st.CallID, ev.CallID) {
		st = nil
	}

	reason := strings.ToLower(strings.TrimSpace(ev.Reason))
	outcome := OutcomeAbandonedByCaller
	switch {
	case st != nil && st.Ended():
		outcome = st.Outcome
	case providerFailureReasons[reason]:
		outcome = OutcomeProviderError
	}

	success := outcome == OutcomeCompleted ||
		(outcome == OutcomeLowConfidenceExhausted && e.cfg.LowConfidencePolicy == LowConfidenceSucceed)

	artifacts := calljobs.Artifacts{ArtifactOutcome: string(outcome)}
	if reason != "" {
		artifacts[calljobs.ArtifactCallStatus] = reason
	}
	if ev.Duration != "" {
		artifacts[calljobs.ArtifactCallDuration] = ev.Duration
	}
	if st != nil {
		for step, v := range st.Captured {
			artifacts[ArtifactCapturedPrefix+string(step)] = v
		}
		if answer, ok := st.Captured[StepCaptureIntent]; ok && st.Variant.Name == personalization.VariantNeutral {
			if intent, ok := personalization.ClassifyIntent(answer); ok {
				artifacts[ArtifactResolvedIntent] = string(intent)
			}
		}
		if answer, ok := st.Captured[StepConfirm]; ok {
			artifacts[ArtifactIntentConfirmed] = strconv.FormatBool(isYes(answer))
		}
	}

	_, applied, err := e.Jobs.Finish(ctx, jobID, ev.CallID, success, failureReason(outcome, reason), artifacts)
	if errors.Is(err, calljobs.ErrNotFound) {
		return NextAction{}, ErrUnknownJob
	}
	if err != nil {
		return NextAction{}, err
	}

	if st != nil {
		final := st.Clone()
		final.Outcome = outcome
		end := e.now()
		final.EndedAt = &end
		final.UpdatedAt = end
		if err := e.Store.Archive(ctx, final); err != nil {
			e.log(ctx).Warn("conversation archive failed", "job_id", jobID, "err", err)
		}
	}
	if applied && e.Slots != nil {
		if err := e.Slots.Release(ctx, e.cfg.SlotKey); err != nil {
			e.log(ctx).Warn("call slot release failed", "job_id", jobID, "err", err)
		}
	}

	e.log(ctx).Info("call ended", "job_id", jobID, "call_sid", ev.CallID, "outcome", string(outcome), "call_status", reason, "success", success, "applied", applied)
	return NextAction{Kind: ActionHangup, Replayed: !applied}, nil
}

// Discard archives whatever live conversation jobID has. Reconciliation calls
// it for jobs whose call was given up on without a terminal webhook.
func (e *Engine) Discard(ctx context.Context, jobID string) error {
	st, err := e.Store.Get(ctx, jobID)
	if errors.Is(err, ErrNoConversation) {
		return nil
	}
	if err != nil {
		return err
	}
	return e.archive(ctx, st)
}

// retire archives a state from an earlier call. Failures are logged; the new
// call still proceeds.
func (e *Engine) retire(ctx context.Context, st *State) {
	if err := e.archive(ctx, st); err != nil {
		e.log(ctx).Warn("conversation archive failed", "job_id", st.JobID, "call_sid", st.CallID, "err", err)
		return
	}
	e.log(ctx).Info("stale conversation archived", "job_id", st.JobID, "call_sid", st.CallID, "step", string(st.Step))
}

func (e *Engine) archive(ctx context.Context, st *State) error {
	final := st.Clone()
	if !final.Ended() {
		final.Outcome = OutcomeProviderError
	}
	end := e.now()
	final.EndedAt = &end
	final.UpdatedAt = end
	return e.Store.Archive(ctx, final)
}

// sameCall treats a missing id on either side as a match.
func sameCall(stateCall, eventCall string) bool {
	return stateCall == "" || eventCall == "" || stateCall == eventCall
}

func staleCall() NextAction {
	return NextAction{Kind: ActionHangup, Replayed: true}
}

func failureReason(outcome Outcome, callStatus string) string {
	switch outcome {
	case OutcomeCompleted:
		return ""
	case OutcomeLowConfidenceExhausted:
		return ErrLowConfidenceExhausted.Error()
	case OutcomeProviderError:
		return "provider: call " + callStatus
	default:
		return "conversation: " + string(outcome)
	}
}

// current reloads state after losing a conditional write and returns what the
// winner left in place.
func (e *Engine) current(ctx context.Context, jobID string) (NextAction, error) {
	st, err := e.Store.Get(ctx, jobID)
	if err != nil {
		return NextAction{}, err
	}
	return replayed(currentAction(st)), nil
}

func replayed(a NextAction) NextAction {
	a.Replayed = true
	return a
}

func (e *Engine) record(ctx context.Context, st *State, speaker transcript.Speaker, text string, confidence float64) {
	if e.Turns == nil || text == "" {
		return
	}
	err := e.Turns.Record(ctx, transcript.Turn{
		JobID:      st.JobID,
		CallID:     st.CallID,
		Seq:        st.Seq,
		Step:       string(st.Step),
		Speaker:    speaker,
		Text:       text,
		Confidence: confidence,
	})
	if err != nil {
		e.log(ctx).Warn("transcript record failed", "job_id", st.JobID, "err", err)
	}
}

func (e *Engine) log(ctx context.Context) *slog.Logger { return logger.From(ctx) }
