// Package metrics exposes the counters and histograms recorded by the poll,
// purge, build and callback paths.
package metrics

import "time"

// PollDecision labels what a poll cycle did with one pending repo.
type PollDecision string

const (
	DecisionDispatched      PollDecision = "dispatched"
	DecisionSkippedUpdating PollDecision = "skipped_updating"
	DecisionClaimLost       PollDecision = "claim_lost"
	DecisionTypeInferred    PollDecision = "type_inferred"
	DecisionInferenceFailed PollDecision = "inference_failed"
	DecisionLeaseReleased   PollDecision = "lease_released"
)

// CallbackResult labels the outcome of one callback delivery attempt.
type CallbackResult string

const (
	CallbackDelivered CallbackResult = "delivered"
	CallbackSkipped   CallbackResult = "skipped"
	CallbackRetried   CallbackResult = "retried"
	CallbackExhausted CallbackResult = "exhausted"
	CallbackPermanent CallbackResult = "permanent"
)

// Recorder receives orchestration events. Implementations must be safe for
// concurrent use.
type Recorder interface {
	IncPollDecision(decision PollDecision)
	ObservePollDuration(d time.Duration)
	IncPurgedRepos(n int)
	IncBuildOutcome(repoType string, success bool)
	ObserveBuildDuration(repoType string, d time.Duration)
	IncCallbackResult(result CallbackResult)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) IncPollDecision(PollDecision)               {}
func (NoopRecorder) ObservePollDuration(time.Duration)          {}
func (NoopRecorder) IncPurgedRepos(int)                         {}
func (NoopRecorder) IncBuildOutcome(string, bool)               {}
func (NoopRecorder) ObserveBuildDuration(string, time.Duration) {}
func (NoopRecorder) IncCallbackResult(CallbackResult)           {}

// OrNoop returns r, or a NoopRecorder when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}
