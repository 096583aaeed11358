// internal/ocr/client.go

// Package ocr talks to the external image-recognition endpoint used for
// legacy CAPTCHA images.
package ocr

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/renew-cli/api/schemas"
	"github.com/xkilldash9x/renew-cli/internal/config"
)

// Client posts raw image bytes to a recognition endpoint and reads the
// decoded text back as a plain string. Every failure mode is recoverable
// from the caller's point of view: a bad status, an empty body, or a
// transport error all surface as ordinary errors for the retry loop.
type Client struct {
	httpClient *http.Client
	endpoint   string
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewClient builds the recognition client. Requests are paced by the
// configured per-minute rate so bursts of retries cannot hammer the
// endpoint.
func NewClient(cfg config.CaptchaConfig, logger *zap.Logger) *Client {
	perMinute := cfg.RatePerMinute
	if perMinute <= 0 {
		perMinute = 20
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		endpoint:   cfg.Endpoint,
		limiter:    rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), 2),
		logger:     logger.Named("ocr"),
	}
}

// Recognize submits the image and returns the recognized text. The result's
// Length is the rune count of the trimmed response; the caller decides
// whether that is long enough to be usable.
func (c *Client) Recognize(ctx context.Context, image []byte) (schemas.RecognitionResult, error) {
	if c.endpoint == "" {
		return schemas.RecognitionResult{}, fmt.Errorf("no recognition endpoint configured")
	}
	if len(image) == 0 {
		return schemas.RecognitionResult{}, fmt.Errorf("empty image")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return schemas.RecognitionResult{}, fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(image))
	if err != nil {
		return schemas.RecognitionResult{}, fmt.Errorf("build recognition request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return schemas.RecognitionResult{}, fmt.Errorf("recognition request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return schemas.RecognitionResult{}, fmt.Errorf("read recognition response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Debug("Recognition endpoint returned a non-success status.",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body))
		return schemas.RecognitionResult{}, fmt.Errorf("recognition endpoint status %d", resp.StatusCode)
	}

	code := strings.TrimSpace(string(body))
	if code == "" {
		return schemas.RecognitionResult{}, fmt.Errorf("recognition endpoint returned an empty body")
	}

	result := schemas.RecognitionResult{Code: code, Length: len([]rune(code))}
	c.logger.Debug("Recognition succeeded.", zap.Int("length", result.Length))
	return result, nil
}
