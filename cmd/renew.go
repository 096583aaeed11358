// -- cmd/renew.go --
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/renew-cli/api/schemas"
	"github.com/xkilldash9x/renew-cli/internal/browser"
	"github.com/xkilldash9x/renew-cli/internal/engine"
	"github.com/xkilldash9x/renew-cli/internal/observability"
	"github.com/xkilldash9x/renew-cli/internal/ocr"
	"github.com/xkilldash9x/renew-cli/internal/store"
	"github.com/xkilldash9x/renew-cli/internal/workflow"
)

var (
	flagStepURL  string
	flagHeadful  bool
	flagArtifact string
)

var renewCmd = &cobra.Command{
	Use:   "renew",
	Short: "Run one full renewal pass against the configured portal step.",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := observability.GetLogger()

		if flagStepURL != "" {
			cfg.Workflow.StepURL = flagStepURL
		}
		if flagHeadful {
			cfg.Browser.Headless = false
		}
		if flagArtifact != "" {
			cfg.Artifacts.Dir = flagArtifact
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		session, err := browser.NewSession(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("start browser: %w", err)
		}
		defer session.Close()

		recognizer := ocr.NewClient(cfg.Captcha, logger)
		eng := engine.New(session, recognizer, cfg, logger)

		deps := workflow.RunnerDeps{
			Notifier: &workflow.LogNotifier{Logger: logger},
		}
		if cfg.Store.DSN != "" {
			pool, err := pgxpool.New(ctx, cfg.Store.DSN)
			if err != nil {
				return fmt.Errorf("connect run journal: %w", err)
			}
			defer pool.Close()
			journal, err := store.New(ctx, pool, logger)
			if err != nil {
				return fmt.Errorf("open run journal: %w", err)
			}
			deps.Journal = journal
		}

		runner := workflow.NewRunner(session, eng, cfg.Workflow, cfg.Network, deps, logger)
		report, err := runner.Run(ctx)
		if report != nil {
			logger.Info("Run finished.",
				zap.String("run_id", report.RunID),
				zap.String("phase", string(report.Phase)),
				zap.String("final_state", string(report.FinalState.Kind)),
				zap.Int("attempts", len(report.Attempts)),
				zap.String("notes", report.Notes))
		}
		return err
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Open the configured step and report its page state without acting on it.",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := observability.GetLogger()

		if flagStepURL != "" {
			cfg.Workflow.StepURL = flagStepURL
		}
		if cfg.Workflow.StepURL == "" {
			return fmt.Errorf("no step URL configured")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		session, err := browser.NewSession(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("start browser: %w", err)
		}
		defer session.Close()

		if err := session.Navigate(ctx, cfg.Workflow.StepURL, schemas.WaitLoad); err != nil {
			return fmt.Errorf("open step: %w", err)
		}

		eng := engine.New(session, nil, cfg, logger)
		state := eng.Classify(ctx)
		logger.Info("Page state.",
			zap.String("kind", string(state.Kind)),
			zap.String("detail", state.Detail))
		fmt.Println(string(state.Kind))
		return nil
	},
}

func init() {
	renewCmd.Flags().StringVar(&flagStepURL, "url", "", "renewal step URL (overrides workflow.step_url)")
	renewCmd.Flags().BoolVar(&flagHeadful, "headful", false, "run the browser with a visible window")
	renewCmd.Flags().StringVar(&flagArtifact, "artifacts", "", "directory for debug artifacts (overrides artifacts.dir)")
	checkCmd.Flags().StringVar(&flagStepURL, "url", "", "renewal step URL (overrides workflow.step_url)")

	rootCmd.AddCommand(renewCmd)
	rootCmd.AddCommand(checkCmd)
}
