// internal/browser/context_test.go
package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type ctxKey struct{}

func TestCombineContextCancelsWithSecondary(t *testing.T) {
	defer goleak.VerifyNone(t)

	primary := context.Background()
	secondary, cancelSecondary := context.WithCancel(context.Background())

	combined, cancel := CombineContext(primary, secondary)
	defer cancel()

	require.NoError(t, combined.Err())
	cancelSecondary()

	select {
	case <-combined.Done():
	case <-time.After(time.Second):
		t.Fatal("combined context did not observe the secondary cancellation")
	}
}

func TestCombineContextCarriesPrimaryValues(t *testing.T) {
	defer goleak.VerifyNone(t)

	primary := context.WithValue(context.Background(), ctxKey{}, "target-7")
	combined, cancel := CombineContext(primary, context.Background())
	defer cancel()

	assert.Equal(t, "target-7", combined.Value(ctxKey{}))
	cancel()
	<-combined.Done()
}

func TestDetachSurvivesParentCancellation(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	parent = context.WithValue(parent, ctxKey{}, "kept")

	detached := Detach(parent)
	cancel()

	assert.NoError(t, detached.Err())
	assert.Nil(t, detached.Done())
	assert.Equal(t, "kept", detached.Value(ctxKey{}))

	_, hasDeadline := detached.Deadline()
	assert.False(t, hasDeadline)
}
