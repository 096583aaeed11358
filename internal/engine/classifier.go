// internal/engine/classifier.go
package engine

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/renew-cli/api/schemas"
)

// Classifier inspects the live document and judges what the page requires
// next. Classification is a pure function of the DOM at call time: it keeps
// no memory between calls and has no side effects on the page.
type Classifier struct {
	session schemas.BrowserSession
	logger  *zap.Logger
}

// NewClassifier builds a classifier over the given session.
func NewClassifier(session schemas.BrowserSession, logger *zap.Logger) *Classifier {
	return &Classifier{
		session: session,
		logger:  logger.Named("classifier"),
	}
}

// Classify returns exactly one PageState. Checks run in a fixed order: a
// rendered CAPTCHA outranks a completion marker, which outranks blocking
// text. Any inspection failure (e.g. a navigation racing the check) is
// swallowed and reported as Indeterminate, never propagated.
func (c *Classifier) Classify(ctx context.Context) schemas.PageState {
	// (a) Legacy CAPTCHA: a rendered data-URI image or a telltale input.
	for _, sel := range captchaImageSelectors {
		q, err := c.session.QuerySelector(ctx, nil, sel)
		if err != nil {
			c.logger.Debug("Classification probe failed.", zap.String("selector", sel), zap.Error(err))
			return schemas.PageState{Kind: schemas.StateIndeterminate}
		}
		if q.Found && q.Visible {
			return schemas.PageState{Kind: schemas.StateNeedsLegacyCaptcha}
		}
	}
	for _, sel := range captchaInputSelectors {
		q, err := c.session.QuerySelector(ctx, nil, sel)
		if err != nil {
			return schemas.PageState{Kind: schemas.StateIndeterminate}
		}
		if q.Found && q.Visible {
			return schemas.PageState{Kind: schemas.StateNeedsLegacyCaptcha}
		}
	}

	// (b) Completion marker.
	for _, sel := range continueSelectors {
		q, err := c.session.QuerySelector(ctx, nil, sel)
		if err != nil {
			return schemas.PageState{Kind: schemas.StateIndeterminate}
		}
		if q.Found && q.Visible {
			return schemas.PageState{Kind: schemas.StateComplete}
		}
	}

	text, err := c.session.VisibleText(ctx)
	if err != nil {
		c.logger.Debug("Visible-text read failed during classification.", zap.Error(err))
		return schemas.PageState{Kind: schemas.StateIndeterminate}
	}
	lower := strings.ToLower(text)

	for _, phrase := range continuePhrases {
		if strings.Contains(lower, phrase) {
			return schemas.PageState{Kind: schemas.StateComplete}
		}
	}

	// (c) Blocking error text.
	for _, phrase := range blockingPhrases {
		if strings.Contains(lower, phrase) {
			return schemas.PageState{Kind: schemas.StateBlockingError, Detail: phrase}
		}
	}

	// (d) Nothing recognizable.
	return schemas.PageState{Kind: schemas.StateIndeterminate}
}
