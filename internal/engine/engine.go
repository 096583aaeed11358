// internal/engine/engine.go

// Package engine implements the resolution pipeline for the hardened
// renewal flow: page-state classification, challenge widget resolution,
// legacy image-CAPTCHA solving, and the recovery cascade that runs when
// everything else stalls.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/renew-cli/api/schemas"
	"github.com/xkilldash9x/renew-cli/internal/config"
)

var (
	// ErrVerificationUnresolved reports that neither the challenge nor the
	// CAPTCHA phases produced a verified page and recovery was not run.
	ErrVerificationUnresolved = errors.New("verification was not resolved")

	// ErrRecoveryExhausted reports that the full recovery cascade ran
	// without reaching a completed page.
	ErrRecoveryExhausted = errors.New("recovery cascade exhausted")
)

// Engine is the facade over the resolution pipeline. It owns no browser
// lifecycle; the caller hands it a live session and collects a RunReport.
type Engine struct {
	session    schemas.BrowserSession
	classifier *Classifier
	challenge  *ChallengeResolver
	captcha    *CaptchaResolver
	recovery   *RecoveryCoordinator
	debug      *DebugCapture
	logger     *zap.Logger
	cfg        *config.Config
}

// Option adjusts engine construction.
type Option func(*options)

type options struct {
	backoff BackoffFunc
}

// WithBackoff replaces the default linear backoff used between challenge
// attempts. Tests pass NoBackoff here.
func WithBackoff(b BackoffFunc) Option {
	return func(o *options) { o.backoff = b }
}

// New wires the pipeline. The recognizer may be nil only when the caller
// guarantees the CAPTCHA phase will never run.
func New(session schemas.BrowserSession, recognizer Recognizer, cfg *config.Config, logger *zap.Logger, opts ...Option) *Engine {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	debug := NewDebugCapture(session, cfg.Artifacts.Dir, logger)
	classifier := NewClassifier(session, logger)
	form := NewFormExecutor(session, cfg.Network, logger)

	return &Engine{
		session:    session,
		classifier: classifier,
		challenge:  NewChallengeResolver(session, debug, cfg.Challenge, logger, o.backoff),
		captcha:    NewCaptchaResolver(session, recognizer, form, debug, cfg.Captcha, logger),
		recovery:   NewRecoveryCoordinator(session, classifier, debug, cfg.Recovery, logger),
		debug:      debug,
		logger:     logger.Named("engine"),
		cfg:        cfg,
	}
}

// Classify exposes the page-state classifier.
func (e *Engine) Classify(ctx context.Context) schemas.PageState {
	return e.classifier.Classify(ctx)
}

// ResolveChallenge runs the challenge widget resolution loop and returns
// whether it reached a verified state, plus the per-attempt record log.
func (e *Engine) ResolveChallenge(ctx context.Context) (bool, []schemas.AttemptRecord) {
	return e.challenge.Resolve(ctx, e.cfg.Challenge.MaxAttempts)
}

// SolveCaptchaIfPresent runs the image-CAPTCHA loop. A page with no CAPTCHA
// image reports success immediately.
func (e *Engine) SolveCaptchaIfPresent(ctx context.Context) bool {
	return e.captcha.Solve(ctx, e.cfg.Captcha.MaxTries)
}

// RecoverIfStuck runs the recovery cascade.
func (e *Engine) RecoverIfStuck(ctx context.Context) bool {
	return e.recovery.Recover(ctx)
}

// Run drives the whole pipeline on the current page and reports the result.
// A blocking condition on the portal is a terminal informational outcome,
// not an error: the report carries the detail and no fill or submit is ever
// attempted against a blocked page.
func (e *Engine) Run(ctx context.Context) (*schemas.RunReport, error) {
	report := &schemas.RunReport{
		RunID:     uuid.NewString(),
		Phase:     schemas.PhaseStart,
		StartedAt: time.Now(),
	}
	defer func() { report.FinishedAt = time.Now() }()

	log := e.logger.With(zap.String("run_id", report.RunID))

	state := e.classifier.Classify(ctx)
	log.Info("Initial page state.", zap.String("state", string(state.Kind)))
	if state.Is(schemas.StateBlockingError) {
		report.Phase = schemas.PhaseFailed
		report.FinalState = state
		report.Notes = "portal reported a blocking condition: " + state.Detail
		e.debug.CaptureState(ctx, "blocking_condition")
		return report, nil
	}
	if state.Is(schemas.StateComplete) {
		report.Phase = schemas.PhaseVerified
		report.FinalState = state
		return report, nil
	}

	report.Phase = schemas.PhaseChallenge
	challengeOK, attempts := e.challenge.Resolve(ctx, e.cfg.Challenge.MaxAttempts)
	report.Attempts = attempts
	log.Info("Challenge phase finished.",
		zap.Bool("resolved", challengeOK),
		zap.Int("attempts", len(attempts)))

	state = e.classifier.Classify(ctx)
	if state.Is(schemas.StateBlockingError) {
		report.Phase = schemas.PhaseFailed
		report.FinalState = state
		report.Notes = "portal reported a blocking condition: " + state.Detail
		e.debug.CaptureState(ctx, "blocking_condition")
		return report, nil
	}

	captchaOK := true
	if state.Is(schemas.StateNeedsLegacyCaptcha) {
		report.Phase = schemas.PhaseCaptcha
		captchaOK = e.captcha.Solve(ctx, e.cfg.Captcha.MaxTries)
		log.Info("CAPTCHA phase finished.", zap.Bool("solved", captchaOK))
		state = e.classifier.Classify(ctx)
	}

	if challengeOK && captchaOK && (state.Is(schemas.StateComplete) || state.Is(schemas.StateIndeterminate)) {
		// Indeterminate after verified phases is acceptable: the portal's
		// completion markers vary and both gates already passed.
		report.Phase = schemas.PhaseVerified
		report.FinalState = state
		return report, nil
	}
	if state.Is(schemas.StateBlockingError) {
		report.Phase = schemas.PhaseFailed
		report.FinalState = state
		report.Notes = "portal reported a blocking condition: " + state.Detail
		e.debug.CaptureState(ctx, "blocking_condition")
		return report, nil
	}

	report.Phase = schemas.PhaseRecovery
	log.Warn("Entering recovery.",
		zap.Bool("challenge_resolved", challengeOK),
		zap.Bool("captcha_solved", captchaOK),
		zap.String("state", string(state.Kind)))

	if e.recovery.Recover(ctx) {
		report.Phase = schemas.PhaseVerified
		report.FinalState = schemas.PageState{Kind: schemas.StateComplete}
		return report, nil
	}

	report.Phase = schemas.PhaseFailed
	report.FinalState = e.classifier.Classify(ctx)
	return report, ErrRecoveryExhausted
}
