// internal/engine/recovery.go
package engine

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/xkilldash9x/renew-cli/api/schemas"
	"github.com/xkilldash9x/renew-cli/internal/config"
)

// RecoveryCoordinator runs the escalating cascade used when the main flow
// stalls. Each step is self-contained: any error inside a step is absorbed
// as that step's failure, and the cascade short-circuits the moment a
// re-classification reports the flow complete.
type RecoveryCoordinator struct {
	session    schemas.BrowserSession
	classifier *Classifier
	debug      *DebugCapture
	logger     *zap.Logger
	cfg        config.RecoveryConfig
}

// NewRecoveryCoordinator builds the coordinator.
func NewRecoveryCoordinator(session schemas.BrowserSession, classifier *Classifier, debug *DebugCapture, cfg config.RecoveryConfig, logger *zap.Logger) *RecoveryCoordinator {
	return &RecoveryCoordinator{
		session:    session,
		classifier: classifier,
		debug:      debug,
		logger:     logger.Named("recovery"),
		cfg:        cfg,
	}
}

type recoveryStep struct {
	name string
	run  func(ctx context.Context) error
}

// Recover walks the cascade. After every step the page is re-classified;
// Complete ends recovery successfully, BlockingError ends it as a hard stop.
func (r *RecoveryCoordinator) Recover(ctx context.Context) bool {
	steps := []recoveryStep{
		{name: "reclassify", run: func(ctx context.Context) error { return nil }},
		{name: "generic_continue", run: r.stepGenericContinue},
		{name: "reload", run: r.stepReload},
		{name: "url_rewrite", run: r.stepSpeculativeURLs},
	}

	for _, step := range steps {
		if ctx.Err() != nil {
			return false
		}
		if err := step.run(ctx); err != nil {
			r.logger.Debug("Recovery step failed.", zap.String("step", step.name), zap.Error(err))
		}

		state := r.classifier.Classify(ctx)
		r.logger.Info("Recovery checkpoint.",
			zap.String("step", step.name),
			zap.String("state", string(state.Kind)))

		switch state.Kind {
		case schemas.StateComplete:
			return true
		case schemas.StateBlockingError:
			r.logger.Warn("Blocking condition surfaced during recovery; stopping.",
				zap.String("detail", state.Detail))
			r.debug.CaptureState(ctx, "recovery_blocked")
			return false
		}
	}

	r.debug.CaptureState(ctx, "recovery_exhausted")
	return false
}

// stepGenericContinue clicks any plausible forward control, falling back to
// submitting the first form on the page from inside it.
func (r *RecoveryCoordinator) stepGenericContinue(ctx context.Context) error {
	for _, sel := range continueSelectors {
		q, err := r.session.QuerySelector(ctx, nil, sel)
		if err != nil || !q.Found || !q.Visible {
			continue
		}
		if err := r.session.Click(ctx, nil, sel, schemas.ClickNative); err != nil {
			r.logger.Debug("Continue click failed.", zap.String("selector", sel), zap.Error(err))
			continue
		}
		return r.settle(ctx)
	}

	const script = `
		(function() {
			const phrases = ['continue', 'next', 'proceed'];
			for (const el of document.querySelectorAll('button, a, input[type="submit"], input[type="button"]')) {
				const label = ((el.innerText || el.value || '') + '').trim().toLowerCase();
				if (phrases.some(p => label.includes(p))) { el.click(); return true; }
			}
			if (document.forms.length > 0) { document.forms[0].submit(); return true; }
			return false;
		})()`
	var fired bool
	if err := r.session.Evaluate(ctx, nil, script, &fired); err != nil {
		return err
	}
	if !fired {
		return fmt.Errorf("no forward control found")
	}
	return r.settle(ctx)
}

func (r *RecoveryCoordinator) stepReload(ctx context.Context) error {
	if err := r.session.Reload(ctx); err != nil {
		return err
	}
	return r.settle(ctx)
}

// stepSpeculativeURLs navigates to rewritten variants of the current URL:
// bumping a numeric step parameter and appending a skip-verification marker.
// Each candidate is checked independently; the first one that classifies as
// Complete wins via the caller's checkpoint.
func (r *RecoveryCoordinator) stepSpeculativeURLs(ctx context.Context) error {
	loc, err := r.session.Location(ctx)
	if err != nil {
		return err
	}

	for _, candidate := range speculativeRewrites(loc) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.logger.Info("Trying speculative URL.", zap.String("url", candidate))
		if err := r.session.Navigate(ctx, candidate, schemas.WaitLoad); err != nil {
			r.logger.Debug("Speculative navigation failed.", zap.String("url", candidate), zap.Error(err))
			continue
		}
		if err := r.settle(ctx); err != nil {
			return err
		}
		if r.classifier.Classify(ctx).Is(schemas.StateComplete) {
			return nil
		}
	}
	return nil
}

func (r *RecoveryCoordinator) settle(ctx context.Context) error {
	return sleepCtx(ctx, r.cfg.SettleWait)
}

// speculativeRewrites derives candidate URLs from the current location.
func speculativeRewrites(loc string) []string {
	u, err := url.Parse(loc)
	if err != nil {
		return nil
	}

	var out []string
	q := u.Query()
	for _, key := range []string{"step", "stage", "page"} {
		if v := q.Get(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				rewritten := cloneValues(q)
				rewritten.Set(key, strconv.Itoa(n+1))
				bumped := *u
				bumped.RawQuery = rewritten.Encode()
				out = append(out, bumped.String())
			}
		}
	}

	if q.Get("skipVerify") == "" {
		rewritten := cloneValues(q)
		rewritten.Set("skipVerify", "1")
		skipped := *u
		skipped.RawQuery = rewritten.Encode()
		out = append(out, skipped.String())
	}
	return out
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
