// internal/engine/captcha.go
package engine

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/renew-cli/api/schemas"
	"github.com/xkilldash9x/renew-cli/internal/config"
)

// Recognizer turns raw image bytes into text. Implementations are expected
// to be remote and fallible; a failed call is an ordinary recoverable event.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte) (schemas.RecognitionResult, error)
}

// CaptchaResolver drives the legacy image-CAPTCHA loop: locate, extract,
// recognize, fill, submit, reload, repeat.
type CaptchaResolver struct {
	session    schemas.BrowserSession
	recognizer Recognizer
	form       *FormExecutor
	debug      *DebugCapture
	logger     *zap.Logger
	cfg        config.CaptchaConfig
}

// NewCaptchaResolver builds the resolver.
func NewCaptchaResolver(session schemas.BrowserSession, recognizer Recognizer, form *FormExecutor, debug *DebugCapture, cfg config.CaptchaConfig, logger *zap.Logger) *CaptchaResolver {
	return &CaptchaResolver{
		session:    session,
		recognizer: recognizer,
		form:       form,
		debug:      debug,
		logger:     logger.Named("captcha"),
		cfg:        cfg,
	}
}

// imagePayloadScript re-renders the located image onto a canvas and returns
// its PNG data URL. Works for both data-URI sources and same-origin fetched
// images, and sees exactly the pixels the user would.
const imagePayloadScript = `
	(function(sel) {
		const img = document.querySelector(sel);
		if (!img) return "";
		const src = img.getAttribute('src') || '';
		if (src.startsWith('data:image/')) return src;
		try {
			const canvas = document.createElement('canvas');
			canvas.width = img.naturalWidth || img.width;
			canvas.height = img.naturalHeight || img.height;
			canvas.getContext('2d').drawImage(img, 0, 0);
			return canvas.toDataURL('image/png');
		} catch (e) {
			return "";
		}
	})(%s)`

// Solve runs up to maxTries recognition rounds. Returning true means the
// CAPTCHA stage is behind us, either because a submission went through or
// because no CAPTCHA image exists on the page at all. Short recognitions
// never reach the form: a result below the minimum length is discarded and
// the try is retired with a diagnostic screenshot.
func (c *CaptchaResolver) Solve(ctx context.Context, maxTries int) bool {
	if maxTries <= 0 {
		maxTries = c.cfg.MaxTries
	}

	for try := 1; try <= maxTries; try++ {
		if ctx.Err() != nil {
			return false
		}

		selector, found := c.findImage(ctx)
		if !found {
			c.logger.Info("No CAPTCHA image present; nothing to solve.")
			return true
		}

		payload, err := c.extractPayload(ctx, selector)
		if err != nil {
			c.logger.Warn("Could not extract CAPTCHA image payload.", zap.Int("try", try), zap.Error(err))
			c.reloadBeforeNextTry(ctx, try, maxTries)
			continue
		}

		result, err := c.recognizer.Recognize(ctx, payload)
		if err != nil {
			c.logger.Warn("Recognition request failed.", zap.Int("try", try), zap.Error(err))
			c.debug.CaptureElement(ctx, selector, fmt.Sprintf("captcha_recognize_error_try%d", try))
			c.reloadBeforeNextTry(ctx, try, maxTries)
			continue
		}
		if result.Length < c.cfg.MinCodeLength {
			c.logger.Info("Recognition result too short; discarding.",
				zap.Int("try", try),
				zap.Int("length", result.Length),
				zap.Int("min_length", c.cfg.MinCodeLength))
			c.debug.CaptureElement(ctx, selector, fmt.Sprintf("captcha_short_result_try%d", try))
			c.reloadBeforeNextTry(ctx, try, maxTries)
			continue
		}

		if !c.form.Fill(ctx, result.Code) {
			c.logger.Warn("Could not fill the recognized code; abandoning this try.", zap.Int("try", try))
			c.reloadBeforeNextTry(ctx, try, maxTries)
			continue
		}

		if c.form.Submit(ctx, 3) {
			c.logger.Info("CAPTCHA submission accepted.", zap.Int("try", try))
			return true
		}

		c.logger.Info("Submission did not advance the flow.", zap.Int("try", try))
		c.reloadBeforeNextTry(ctx, try, maxTries)
	}

	c.debug.CaptureState(ctx, "captcha_exhausted")
	return false
}

// findImage walks the selector fallback chain and returns the first visible
// match.
func (c *CaptchaResolver) findImage(ctx context.Context) (string, bool) {
	for _, sel := range captchaImageSelectors {
		q, err := c.session.QuerySelector(ctx, nil, sel)
		if err != nil {
			continue
		}
		if q.Found && q.Visible {
			return sel, true
		}
	}
	return "", false
}

// extractPayload pulls the image bytes out of the page via the canvas trick
// and base64-decodes them.
func (c *CaptchaResolver) extractPayload(ctx context.Context, selector string) ([]byte, error) {
	script := fmt.Sprintf(imagePayloadScript, jsString(selector))
	var dataURL string
	if err := c.session.Evaluate(ctx, nil, script, &dataURL); err != nil {
		return nil, fmt.Errorf("payload evaluation: %w", err)
	}
	if dataURL == "" {
		return nil, fmt.Errorf("image produced no payload")
	}

	comma := strings.IndexByte(dataURL, ',')
	if !strings.HasPrefix(dataURL, "data:image/") || comma < 0 {
		return nil, fmt.Errorf("unexpected payload format %q", truncate(dataURL, 32))
	}
	raw, err := base64.StdEncoding.DecodeString(dataURL[comma+1:])
	if err != nil {
		return nil, fmt.Errorf("payload decode: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty image payload")
	}
	return raw, nil
}

// reloadBeforeNextTry refreshes the page so the next round sees a new
// CAPTCHA image. Skipped after the final try.
func (c *CaptchaResolver) reloadBeforeNextTry(ctx context.Context, try, maxTries int) {
	if try >= maxTries {
		return
	}
	if err := c.session.Reload(ctx); err != nil {
		c.logger.Warn("Reload between CAPTCHA tries failed.", zap.Error(err))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
