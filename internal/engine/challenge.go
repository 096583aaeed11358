// internal/engine/challenge.go
package engine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/renew-cli/api/schemas"
	"github.com/xkilldash9x/renew-cli/internal/config"
)

// ChallengeResolver satisfies the proof-of-interaction widget by walking an
// ordered list of tactics: invoke the success callback directly, click the
// widget host in the main document, then hunt for the interactive control
// inside the provider's cross-origin frames. It automates the
// human-equivalent interaction surface only; when that surface does not
// yield, it reports failure and leaves the decision to the caller.
type ChallengeResolver struct {
	session schemas.BrowserSession
	debug   *DebugCapture
	logger  *zap.Logger
	cfg     config.ChallengeConfig
	backoff BackoffFunc
}

// NewChallengeResolver wires a resolver. backoff may be nil, defaulting to
// linear one-second growth.
func NewChallengeResolver(session schemas.BrowserSession, debug *DebugCapture, cfg config.ChallengeConfig, logger *zap.Logger, backoff BackoffFunc) *ChallengeResolver {
	if backoff == nil {
		backoff = LinearBackoff(cfg.ClickPause)
	}
	return &ChallengeResolver{
		session: session,
		debug:   debug,
		logger:  logger.Named("challenge"),
		cfg:     cfg,
		backoff: backoff,
	}
}

// directInvokeScript finds a widget success callback and calls it, bypassing
// click simulation entirely. Returns true when something was invoked.
const directInvokeScript = `
	(function() {
		try {
			if (window.turnstile && typeof window.turnstile.execute === 'function') {
				window.turnstile.execute();
				return true;
			}
			const hosts = document.querySelectorAll('[data-callback]');
			for (const host of hosts) {
				const name = host.getAttribute('data-callback');
				if (name && typeof window[name] === 'function') {
					window[name]();
					return true;
				}
			}
		} catch (e) { /* widget not ready; fall through to clicking */ }
		return false;
	})()`

// Resolve attempts to satisfy the widget within maxAttempts outer
// iterations. It returns true when the widget is believed satisfied or was
// never required, false when every tactic was exhausted without a positive
// signal. It never raises for ordinary failure.
func (r *ChallengeResolver) Resolve(ctx context.Context, maxAttempts int) (bool, []schemas.AttemptRecord) {
	log := newAttemptLog()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return false, log.Records()
		}

		// The frame set is re-acquired every attempt; frames appear and
		// disappear while the widget loads, so a cached context lies.
		frames, err := r.session.Frames(ctx)
		if err != nil {
			r.logger.Debug("Frame enumeration failed; proceeding with main document only.", zap.Error(err))
			frames = nil
		}

		strategies := []Strategy{
			{
				Name:    "direct_callback",
				Attempt: r.attemptDirectInvoke,
				Verify:  r.Satisfied,
			},
			{
				Name:    "main_document_click",
				Attempt: r.attemptMainDocumentClick,
				Verify:  r.Satisfied,
			},
			{
				Name: "cross_frame_click",
				Attempt: func(c context.Context) error {
					return r.attemptCrossFrameClick(c, frames)
				},
				Verify: r.Satisfied,
			},
		}

		if runStrategies(ctx, strategies, attempt, log, r.logger) {
			return true, log.Records()
		}

		if attempt == maxAttempts {
			// Last chance: if no legacy CAPTCHA is on the page either, the
			// challenge was likely never required at all.
			if !r.legacyCaptchaPresent(ctx) {
				r.logger.Info("No challenge signal and no legacy CAPTCHA; assuming no challenge was required.",
					zap.Int("attempts", attempt))
				r.debug.CaptureState(ctx, "challenge_optimistic_pass")
				return true, log.Records()
			}
			r.debug.CaptureState(ctx, "challenge_exhausted")
			break
		}

		if err := sleepCtx(ctx, r.backoff(attempt)); err != nil {
			return false, log.Records()
		}
	}

	r.logger.Warn("Challenge unresolved after all attempts.", zap.Int("max_attempts", maxAttempts))
	return false, log.Records()
}

func (r *ChallengeResolver) attemptDirectInvoke(ctx context.Context) error {
	var invoked bool
	if err := r.session.Evaluate(ctx, nil, directInvokeScript, &invoked); err != nil {
		return err
	}
	if !invoked {
		return fmt.Errorf("no invokable challenge callback found")
	}
	return sleepCtx(ctx, r.cfg.ClickPause)
}

// attemptMainDocumentClick walks the widget host selectors and, for each one
// present, tries every click modality in order, pausing and re-checking
// after each so a registered click stops the cascade early.
func (r *ChallengeResolver) attemptMainDocumentClick(ctx context.Context) error {
	clicked := false
	for _, sel := range challengeHostSelectors {
		q, err := r.session.QuerySelector(ctx, nil, sel)
		if err != nil || !q.Found {
			continue
		}
		for _, modality := range []schemas.ClickModality{schemas.ClickNative, schemas.ClickProgrammatic, schemas.ClickDispatch} {
			if err := r.session.Click(ctx, nil, sel, modality); err != nil {
				r.logger.Debug("Main-document click failed.",
					zap.String("selector", sel), zap.String("modality", string(modality)), zap.Error(err))
				continue
			}
			clicked = true
			if err := sleepCtx(ctx, r.cfg.ClickPause); err != nil {
				return err
			}
			if r.Satisfied(ctx) {
				return nil
			}
		}
	}
	if !clicked {
		return fmt.Errorf("no clickable challenge host in main document")
	}
	return nil
}

// attemptCrossFrameClick repeats the click cascade inside every frame whose
// URL matches the provider pattern.
func (r *ChallengeResolver) attemptCrossFrameClick(ctx context.Context, frames []schemas.FrameHandle) error {
	clicked := false
	for i := range frames {
		frame := &frames[i]
		if !r.isProviderFrame(frame) {
			continue
		}

		for _, sel := range challengeFrameSelectors {
			if err := r.session.WaitForSelector(ctx, frame, sel, r.cfg.FrameWait); err != nil {
				continue
			}
			for _, modality := range []schemas.ClickModality{schemas.ClickNative, schemas.ClickProgrammatic, schemas.ClickDispatch} {
				if err := r.session.Click(ctx, frame, sel, modality); err != nil {
					r.logger.Debug("Cross-frame click failed.",
						zap.String("frame", frame.URL), zap.String("selector", sel),
						zap.String("modality", string(modality)), zap.Error(err))
					continue
				}
				clicked = true
				if err := sleepCtx(ctx, r.cfg.ClickPause); err != nil {
					return err
				}
				if r.Satisfied(ctx) {
					return nil
				}
			}
		}
	}
	if !clicked {
		return fmt.Errorf("no interactive element in any provider frame")
	}
	return nil
}

// Satisfied is the independent success detector. The provider publishes no
// stable success contract, so all three signals are best-effort: a missing
// marker means "unknown", and the classifier/recovery cascade remains the
// ultimate arbiter.
func (r *ChallengeResolver) Satisfied(ctx context.Context) bool {
	// 1. Known success markers in the main document.
	for _, sel := range challengeSuccessSelectors {
		q, err := r.session.QuerySelector(ctx, nil, sel)
		if err == nil && q.Found && q.Visible {
			return true
		}
	}

	// 2. A token input holding a plausibly long response value.
	for _, sel := range challengeTokenSelectors {
		q, err := r.session.QuerySelector(ctx, nil, sel)
		if err == nil && q.Found && len(q.Value) >= r.cfg.MinTokenLength {
			return true
		}
	}

	// 3. An affirmative ARIA/completed state inside provider frames only.
	frames, err := r.session.Frames(ctx)
	if err != nil {
		return false
	}
	for i := range frames {
		frame := &frames[i]
		if !r.isProviderFrame(frame) {
			continue
		}
		var done bool
		err := r.session.Evaluate(ctx, frame, `
			(function() {
				if (document.querySelector('[aria-checked="true"]')) return true;
				if (document.querySelector('[data-state="completed"], .success, #success')) return true;
				return false;
			})()`, &done)
		if err == nil && done {
			return true
		}
	}
	return false
}

func (r *ChallengeResolver) isProviderFrame(frame *schemas.FrameHandle) bool {
	return frame != nil && strings.Contains(frame.URL, r.cfg.ProviderPattern)
}

func (r *ChallengeResolver) legacyCaptchaPresent(ctx context.Context) bool {
	for _, sel := range captchaImageSelectors {
		q, err := r.session.QuerySelector(ctx, nil, sel)
		if err == nil && q.Found && q.Visible {
			return true
		}
	}
	return false
}
