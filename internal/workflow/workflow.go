// internal/workflow/workflow.go

// Package workflow drives one complete renewal pass: navigate to the
// verification step, run the resolution engine, finalize the flow, and
// record what happened.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/renew-cli/api/schemas"
	"github.com/xkilldash9x/renew-cli/internal/config"
	"github.com/xkilldash9x/renew-cli/internal/engine"
)

// Journal persists finished run reports. The PostgreSQL store satisfies it;
// a nil Journal disables persistence.
type Journal interface {
	PersistRun(ctx context.Context, report *schemas.RunReport) error
}

// Notifier delivers terminal-failure alerts. A nil Notifier disables them.
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

// Authenticator logs the session into the portal before the renewal step is
// opened. The default portal session needs none, so a nil Authenticator is
// skipped.
type Authenticator interface {
	Authenticate(ctx context.Context, session schemas.BrowserSession) error
}

// LogNotifier writes alerts to the logger only. It stands in wherever no
// delivery channel is configured.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n *LogNotifier) Notify(_ context.Context, subject, body string) error {
	n.Logger.Warn("Notification.", zap.String("subject", subject), zap.String("body", body))
	return nil
}

// Runner owns one renewal pass end to end.
type Runner struct {
	session  schemas.BrowserSession
	engine   *engine.Engine
	journal  Journal
	notifier Notifier
	auth     Authenticator
	cfg      config.WorkflowConfig
	netCfg   config.NetworkConfig
	logger   *zap.Logger
}

// RunnerDeps carries the optional collaborators.
type RunnerDeps struct {
	Journal       Journal
	Notifier      Notifier
	Authenticator Authenticator
}

// NewRunner builds the runner.
func NewRunner(session schemas.BrowserSession, eng *engine.Engine, cfg config.WorkflowConfig, netCfg config.NetworkConfig, deps RunnerDeps, logger *zap.Logger) *Runner {
	return &Runner{
		session:  session,
		engine:   eng,
		journal:  deps.Journal,
		notifier: deps.Notifier,
		auth:     deps.Authenticator,
		cfg:      cfg,
		netCfg:   netCfg,
		logger:   logger.Named("workflow"),
	}
}

// Run performs the full pass and returns the engine's report. The report is
// always non-nil, even when an error is returned alongside it.
func (r *Runner) Run(ctx context.Context) (*schemas.RunReport, error) {
	if r.cfg.StepURL == "" {
		return nil, errors.New("no step URL configured")
	}

	if r.auth != nil {
		if err := r.auth.Authenticate(ctx, r.session); err != nil {
			return nil, fmt.Errorf("authentication: %w", err)
		}
	}

	r.logger.Info("Opening renewal step.", zap.String("url", r.cfg.StepURL))
	if err := r.session.Navigate(ctx, r.cfg.StepURL, schemas.WaitLoad); err != nil {
		return nil, fmt.Errorf("open renewal step: %w", err)
	}
	if err := sleepCtx(ctx, r.netCfg.PostLoadWait); err != nil {
		return nil, err
	}

	report, runErr := r.engine.Run(ctx)

	var finalizeErr error
	if report.Verified() {
		finalizeErr = r.finalize(ctx, report)
	}

	r.flush(ctx, report, runErr)

	if runErr != nil {
		return report, runErr
	}
	return report, finalizeErr
}

// finalize clicks through to the next renewal step and records the expiry
// date the portal now shows.
func (r *Runner) finalize(ctx context.Context, report *schemas.RunReport) error {
	fctx, cancel := context.WithTimeout(ctx, r.cfg.FinalizeTimeout)
	defer cancel()

	if err := r.clickContinue(fctx); err != nil {
		return fmt.Errorf("finalize: %w", err)
	}

	expiry := r.readExpiry(fctx)
	report.Notes = appendNote(report.Notes, "expiry: "+expiry)

	if r.cfg.ExpiryStatePath == "" {
		return nil
	}
	prev, err := LoadExpiryState(r.cfg.ExpiryStatePath)
	if err != nil {
		r.logger.Warn("Could not load the previous expiry state.", zap.Error(err))
	} else if prev.Expiry != "" && prev.Expiry != unknownExpiry && prev.Expiry == expiry {
		r.logger.Warn("Expiry date did not change after renewal.",
			zap.String("expiry", expiry),
			zap.Time("previously_seen", prev.UpdatedAt))
		report.Notes = appendNote(report.Notes, "expiry unchanged since last run")
	}

	st := ExpiryState{Expiry: expiry, UpdatedAt: time.Now()}
	if err := SaveExpiryState(r.cfg.ExpiryStatePath, st); err != nil {
		r.logger.Warn("Could not persist the expiry state.", zap.Error(err))
	}
	return nil
}

var continueControls = []string{
	`a[href*="continue"]`,
	`button[name="continue"]`,
	`#continueButton`,
	`input[type="submit"][value*="ontinue"]`,
}

func (r *Runner) clickContinue(ctx context.Context) error {
	for _, sel := range continueControls {
		q, err := r.session.QuerySelector(ctx, nil, sel)
		if err != nil || !q.Found || !q.Visible {
			continue
		}
		if err := r.session.Click(ctx, nil, sel, schemas.ClickNative); err != nil {
			r.logger.Debug("Continue click failed.", zap.String("selector", sel), zap.Error(err))
			continue
		}
		if err := r.session.WaitForNavigation(ctx, r.netCfg.NavigationTimeout); err != nil {
			r.logger.Debug("Navigation after continue did not complete.", zap.Error(err))
		}
		return nil
	}
	return errors.New("no continue control found on the verified page")
}

func (r *Runner) readExpiry(ctx context.Context) string {
	text, err := r.session.VisibleText(ctx)
	if err != nil {
		r.logger.Warn("Could not read the finished page's text.", zap.Error(err))
		return unknownExpiry
	}
	raw := ExtractExpiry(text)
	normalized, err := NormalizeExpiry(raw)
	if err != nil {
		r.logger.Warn("Could not normalize the expiry date.", zap.String("raw", raw), zap.Error(err))
		return unknownExpiry
	}
	return normalized
}

// flush persists the report and fires the failure notification in parallel.
// Neither outcome changes the run's result; both are logged on failure.
func (r *Runner) flush(ctx context.Context, report *schemas.RunReport, runErr error) {
	g, gctx := errgroup.WithContext(ctx)

	if r.journal != nil {
		g.Go(func() error {
			if err := r.journal.PersistRun(gctx, report); err != nil {
				r.logger.Warn("Could not journal the run.", zap.String("run_id", report.RunID), zap.Error(err))
			}
			return nil
		})
	}

	if r.notifier != nil && !report.Verified() {
		g.Go(func() error {
			subject := fmt.Sprintf("renewal run %s ended in phase %s", report.RunID, report.Phase)
			body := describeFailure(report, runErr)
			if err := r.notifier.Notify(gctx, subject, body); err != nil {
				r.logger.Warn("Could not deliver the failure notification.", zap.Error(err))
			}
			return nil
		})
	}

	_ = g.Wait()
}

func describeFailure(report *schemas.RunReport, runErr error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "final state: %s", report.FinalState.Kind)
	if report.FinalState.Detail != "" {
		fmt.Fprintf(&b, " (%s)", report.FinalState.Detail)
	}
	if report.Notes != "" {
		fmt.Fprintf(&b, "; notes: %s", report.Notes)
	}
	if runErr != nil {
		fmt.Fprintf(&b, "; error: %v", runErr)
	}
	fmt.Fprintf(&b, "; attempts: %d", len(report.Attempts))
	return b.String()
}

func appendNote(notes, add string) string {
	if notes == "" {
		return add
	}
	return notes + "; " + add
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
