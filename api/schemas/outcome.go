// api/schemas/outcome.go
package schemas

import "time"

// PageStateKind enumerates the classifier's judgment of what the current page
// requires next. Exactly one kind holds per classification.
type PageStateKind string

const (
	// StateNeedsLegacyCaptcha means a rendered image CAPTCHA is present and
	// must be recognized and entered before the form will submit.
	StateNeedsLegacyCaptcha PageStateKind = "needs_legacy_captcha"
	// StateComplete means the verification stage is behind us and the
	// continue-renewal control is reachable.
	StateComplete PageStateKind = "complete"
	// StateBlockingError means the page shows a known error or limit phrase
	// that no amount of interaction will clear.
	StateBlockingError PageStateKind = "blocking_error"
	// StateIndeterminate is the fallback when nothing recognizable is found,
	// including when inspection itself fails mid-navigation.
	StateIndeterminate PageStateKind = "indeterminate"
)

// PageState is the classifier output. Detail carries the matched phrase for
// StateBlockingError and is empty otherwise.
type PageState struct {
	Kind   PageStateKind `json:"kind"`
	Detail string        `json:"detail,omitempty"`
}

func (s PageState) Is(kind PageStateKind) bool { return s.Kind == kind }

// Outcome is the result of one strategy attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFail    Outcome = "fail"
	OutcomeError   Outcome = "error"
)

// AttemptRecord is one entry of the append-only attempt log kept during a
// single resolution call. Offset is measured from the start of that call.
type AttemptRecord struct {
	StrategyName string        `json:"strategy"`
	AttemptIndex int           `json:"attempt"`
	Outcome      Outcome       `json:"outcome"`
	Offset       time.Duration `json:"offset"`
}

// RecognitionResult is the answer from the external recognition service.
type RecognitionResult struct {
	Code   string `json:"code"`
	Length int    `json:"length"`
}

// RunPhase names the engine's position in the resolution state machine.
type RunPhase string

const (
	PhaseStart     RunPhase = "start"
	PhaseChallenge RunPhase = "challenge"
	PhaseCaptcha   RunPhase = "captcha"
	PhaseRecovery  RunPhase = "recovery"
	PhaseVerified  RunPhase = "verified"
	PhaseFailed    RunPhase = "failed"
)

// RunReport is the consolidated outcome of one engine run, consumed by the
// workflow layer and persisted by the run journal.
type RunReport struct {
	RunID      string          `json:"runId"`
	Phase      RunPhase        `json:"phase"`
	FinalState PageState       `json:"finalState"`
	Attempts   []AttemptRecord `json:"attempts"`
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt time.Time       `json:"finishedAt"`
	Notes      string          `json:"notes,omitempty"`
}

// Verified reports whether the run ended in the terminal success phase.
func (r *RunReport) Verified() bool { return r.Phase == PhaseVerified }
