// internal/engine/recovery_test.go
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

func newTestRecovery(fake *fakeSession) *RecoveryCoordinator {
	logger := zap.NewNop()
	classifier := NewClassifier(fake, logger)
	debug := NewDebugCapture(fake, "", logger)
	return NewRecoveryCoordinator(fake, classifier, debug, config.RecoveryConfig{SettleWait: 0}, logger)
}

// When the very first re-classification already reports Complete, recovery
// must stop there without touching the page.
func TestRecoverShortCircuitsOnComplete(t *testing.T) {
	fake := newFakeSession()
	fake.setElement(`button[name="continue"]`, schemas.ElementQuery{Visible: true})

	r := newTestRecovery(fake)
	require.True(t, r.Recover(context.Background()))
	assert.Zero(t, fake.clickCount())
	assert.Zero(t, fake.reloads)
	assert.Empty(t, fake.navigations)
}

func TestRecoverStopsOnBlockingCondition(t *testing.T) {
	fake := newFakeSession()
	fake.text = "too many verification attempts"

	r := newTestRecovery(fake)
	assert.False(t, r.Recover(context.Background()))
	// The cascade must not keep escalating after a hard stop.
	assert.Zero(t, fake.reloads)
}

func TestRecoverEscalatesThroughCascade(t *testing.T) {
	fake := newFakeSession()
	fake.location = "https://portal.example/renew?step=2"
	fake.text = "nothing recognizable here"

	r := newTestRecovery(fake)
	assert.False(t, r.Recover(context.Background()))
	assert.Equal(t, 1, fake.reloads)
	assert.NotEmpty(t, fake.navigations)
}

func TestSpeculativeRewrites(t *testing.T) {
	got := speculativeRewrites("https://portal.example/renew?step=2&lang=en")
	require.Len(t, got, 2)
	assert.Contains(t, got[0], "step=3")
	assert.Contains(t, got[0], "lang=en")
	assert.Contains(t, got[1], "skipVerify=1")
	assert.Contains(t, got[1], "step=2")
}

func TestSpeculativeRewritesWithoutStepParam(t *testing.T) {
	got := speculativeRewrites("https://portal.example/renew")
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "skipVerify=1")
}
