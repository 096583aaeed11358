// internal/engine/engine_test.go
package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/renew-cli/api/schemas"
	"github.com/xkilldash9x/renew-cli/internal/config"
)

func testEngineConfig() *config.Config {
	return &config.Config{
		Challenge: config.ChallengeConfig{
			MaxAttempts:     3,
			MinTokenLength:  20,
			ProviderPattern: "challenges.cloudflare.com",
		},
		Captcha: config.CaptchaConfig{
			MaxTries:      4,
			MinCodeLength: 4,
		},
	}
}

// A page already past verification must complete with no recognition calls
// and no form interaction.
func TestRunOnCompletedPage(t *testing.T) {
	fake := newFakeSession()
	fake.setElement(`button[name="continue"]`, schemas.ElementQuery{Visible: true})
	rec := &stubRecognizer{code: "AB12"}

	e := New(fake, rec, testEngineConfig(), zap.NewNop(), WithBackoff(NoBackoff()))
	report, err := e.Run(context.Background())

	require.NoError(t, err)
	assert.True(t, report.Verified())
	assert.Equal(t, schemas.StateComplete, report.FinalState.Kind)
	assert.Zero(t, rec.calls)
	assert.Zero(t, fake.fillCount())
	assert.NotEmpty(t, report.RunID)
	assert.False(t, report.FinishedAt.Before(report.StartedAt))
}

// A blocking condition is a terminal informational outcome: no error, and
// the engine never fills or submits anything.
func TestRunOnBlockedPage(t *testing.T) {
	fake := newFakeSession()
	fake.text = "Renewal available only starting one day before expiry"
	rec := &stubRecognizer{code: "AB12"}

	e := New(fake, rec, testEngineConfig(), zap.NewNop(), WithBackoff(NoBackoff()))
	report, err := e.Run(context.Background())

	require.NoError(t, err)
	assert.False(t, report.Verified())
	assert.Equal(t, schemas.PhaseFailed, report.Phase)
	require.Equal(t, schemas.StateBlockingError, report.FinalState.Kind)
	assert.Contains(t, report.Notes, report.FinalState.Detail)
	assert.Zero(t, rec.calls)
	assert.Zero(t, fake.fillCount())
	assert.Zero(t, fake.clickCount())
}

// An empty, unrecognizable page with no challenge and no CAPTCHA resolves
// through the optimistic pass.
func TestRunOptimisticOnBarePage(t *testing.T) {
	fake := newFakeSession()
	rec := &stubRecognizer{code: "AB12"}

	e := New(fake, rec, testEngineConfig(), zap.NewNop(), WithBackoff(NoBackoff()))
	report, err := e.Run(context.Background())

	require.NoError(t, err)
	assert.True(t, report.Verified())
	assert.Zero(t, rec.calls)
}

// A CAPTCHA that never yields a usable code pushes the run through recovery
// and ends in the exhausted error.
func TestRunExhaustsRecovery(t *testing.T) {
	fake := newFakeSession()
	fake.setElement(`img[src*="captcha"]`, schemas.ElementQuery{Visible: true})
	fake.text = "enter the characters shown"
	fake.location = "https://portal.example/renew?step=2"
	rec := &stubRecognizer{code: "ab"}

	e := New(fake, rec, testEngineConfig(), zap.NewNop(), WithBackoff(NoBackoff()))
	report, err := e.Run(context.Background())

	require.ErrorIs(t, err, ErrRecoveryExhausted)
	assert.Equal(t, schemas.PhaseFailed, report.Phase)
	assert.Zero(t, fake.fillCount())
	assert.NotEmpty(t, report.Attempts)
}

func TestResolveChallengeDelegates(t *testing.T) {
	fake := newFakeSession()
	fake.setElement(`img[src*="captcha"]`, schemas.ElementQuery{Visible: true})

	e := New(fake, nil, testEngineConfig(), zap.NewNop(), WithBackoff(NoBackoff()))
	ok, records := e.ResolveChallenge(context.Background())

	assert.False(t, ok)
	assert.NotEmpty(t, records)
}
