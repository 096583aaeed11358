// internal/engine/strategy.go
package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/renew-cli/api/schemas"
)

// Strategy is one named tactic: an action plus an independent success
// predicate. Strategies are declared in order and tried in order; the first
// whose Verify passes short-circuits the rest. A strategy list is immutable
// configuration, never mutated at run time.
type Strategy struct {
	Name    string
	Attempt func(ctx context.Context) error
	Verify  func(ctx context.Context) bool
}

// BackoffFunc maps an attempt index (1-based) to the blocking wait before
// that attempt. Injectable so tests can collapse it to zero.
type BackoffFunc func(attempt int) time.Duration

// LinearBackoff waits attempt*unit: attempt 1 waits one unit, attempt 2 two.
func LinearBackoff(unit time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		return time.Duration(attempt) * unit
	}
}

// NoBackoff never waits. Test use.
func NoBackoff() BackoffFunc {
	return func(int) time.Duration { return 0 }
}

// attemptLog is the append-only record of strategy attempts within a single
// resolution call. Entries are never mutated after append; the log is
// discarded when the call returns.
type attemptLog struct {
	start   time.Time
	records []schemas.AttemptRecord
}

func newAttemptLog() *attemptLog {
	return &attemptLog{start: time.Now()}
}

func (l *attemptLog) append(strategy string, attempt int, outcome schemas.Outcome) {
	l.records = append(l.records, schemas.AttemptRecord{
		StrategyName: strategy,
		AttemptIndex: attempt,
		Outcome:      outcome,
		Offset:       time.Since(l.start),
	})
}

// Records returns the accumulated attempt sequence.
func (l *attemptLog) Records() []schemas.AttemptRecord {
	return l.records
}

// runStrategies walks the list in declared order. Attempt errors are recorded
// and absorbed: a tactic that cannot even run is simply a failed tactic. Only
// a passing Verify counts as success.
func runStrategies(ctx context.Context, strategies []Strategy, attempt int, log *attemptLog, logger *zap.Logger) bool {
	for _, strat := range strategies {
		if ctx.Err() != nil {
			return false
		}

		if err := strat.Attempt(ctx); err != nil {
			logger.Debug("Strategy attempt errored.",
				zap.String("strategy", strat.Name), zap.Int("attempt", attempt), zap.Error(err))
			log.append(strat.Name, attempt, schemas.OutcomeError)
			continue
		}

		if strat.Verify(ctx) {
			log.append(strat.Name, attempt, schemas.OutcomeSuccess)
			logger.Debug("Strategy verified.",
				zap.String("strategy", strat.Name), zap.Int("attempt", attempt))
			return true
		}
		log.append(strat.Name, attempt, schemas.OutcomeFail)
	}
	return false
}

// sleepCtx blocks for d or until ctx is done, whichever is first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
