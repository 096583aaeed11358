// internal/engine/debug.go
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/renew-cli/api/schemas"
)

const artifactTimeLayout = "20060102_150405"

var jsonx = jsoniter.ConfigCompatibleWithStandardLibrary

// DebugCapture persists point-in-time page state for offline analysis.
// Capture is strictly best-effort: every failure inside it is logged and
// swallowed so a broken disk never changes the run's outcome.
type DebugCapture struct {
	session schemas.BrowserSession
	dir     string
	logger  *zap.Logger
}

// frameMetadata is the JSON artifact written alongside each HTML snapshot.
type frameMetadata struct {
	Reason      string               `json:"reason"`
	CapturedAt  time.Time            `json:"captured_at"`
	Location    string               `json:"location,omitempty"`
	Frames      []schemas.FrameHandle `json:"frames,omitempty"`
	TextSummary string               `json:"text_summary,omitempty"`
}

// NewDebugCapture builds a capturer writing into dir. An empty dir disables
// capture entirely.
func NewDebugCapture(session schemas.BrowserSession, dir string, logger *zap.Logger) *DebugCapture {
	return &DebugCapture{
		session: session,
		dir:     dir,
		logger:  logger.Named("debug"),
	}
}

// CaptureState writes the main document's HTML, a JSON metadata blob, and a
// full-page screenshot, named debug_state_<reason>_<timestamp>.*, plus one
// HTML/JSON pair per subframe named turnstile_debug_frame_<index>_<timestamp>.*.
func (d *DebugCapture) CaptureState(ctx context.Context, reason string) {
	if d == nil || d.dir == "" {
		return
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		d.logger.Warn("Could not create artifact directory.", zap.String("dir", d.dir), zap.Error(err))
		return
	}

	ts := time.Now().Format(artifactTimeLayout)
	base := fmt.Sprintf("debug_state_%s_%s", sanitizeReason(reason), ts)

	markup, err := d.session.CaptureHTML(ctx, nil)
	if err != nil {
		d.logger.Debug("Main document HTML capture failed.", zap.Error(err))
	} else {
		d.writeFile(base+".html", []byte(markup))
	}

	meta := frameMetadata{Reason: reason, CapturedAt: time.Now()}
	if loc, err := d.session.Location(ctx); err == nil {
		meta.Location = loc
	}
	if frames, err := d.session.Frames(ctx); err == nil {
		meta.Frames = frames
	}
	if markup != "" {
		meta.TextSummary = summarizeMarkup(markup, 2000)
	}
	if blob, err := jsonx.MarshalIndent(meta, "", "  "); err == nil {
		d.writeFile(base+".json", blob)
	}

	if err := d.session.Screenshot(ctx, filepath.Join(d.dir, base+".png")); err != nil {
		d.logger.Debug("Screenshot capture failed.", zap.Error(err))
	}

	d.captureFrames(ctx, meta.Frames, ts)
}

// CaptureElement screenshots a single element, used to preserve the exact
// image a failed recognition attempt saw.
func (d *DebugCapture) CaptureElement(ctx context.Context, selector, reason string) {
	if d == nil || d.dir == "" {
		return
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		d.logger.Warn("Could not create artifact directory.", zap.String("dir", d.dir), zap.Error(err))
		return
	}
	ts := time.Now().Format(artifactTimeLayout)
	name := fmt.Sprintf("debug_state_%s_%s.png", sanitizeReason(reason), ts)
	if err := d.session.ElementScreenshot(ctx, selector, filepath.Join(d.dir, name)); err != nil {
		d.logger.Debug("Element screenshot failed.", zap.String("selector", selector), zap.Error(err))
	}
}

func (d *DebugCapture) captureFrames(ctx context.Context, frames []schemas.FrameHandle, ts string) {
	for _, frame := range frames {
		if frame.IsMain() {
			continue
		}
		frame := frame
		base := fmt.Sprintf("turnstile_debug_frame_%d_%s", frame.Index, ts)

		markup, err := d.session.CaptureHTML(ctx, &frame)
		if err != nil {
			d.logger.Debug("Frame HTML capture failed.", zap.Int("frame", frame.Index), zap.Error(err))
		} else {
			d.writeFile(base+".html", []byte(markup))
		}

		meta := frameMetadata{
			Reason:     "frame_snapshot",
			CapturedAt: time.Now(),
			Location:   frame.URL,
			Frames:     []schemas.FrameHandle{frame},
		}
		if markup != "" {
			meta.TextSummary = summarizeMarkup(markup, 1000)
		}
		if blob, err := jsonx.MarshalIndent(meta, "", "  "); err == nil {
			d.writeFile(base+".json", blob)
		}
	}
}

func (d *DebugCapture) writeFile(name string, data []byte) {
	path := filepath.Join(d.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		d.logger.Warn("Could not write artifact.", zap.String("path", path), zap.Error(err))
	}
}

func sanitizeReason(reason string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '_'
		}
	}, reason)
}

// summarizeMarkup extracts the human-visible text from raw HTML, skipping
// script and style subtrees, capped at limit runes.
func summarizeMarkup(markup string, limit int) string {
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return ""
	}

	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript":
				return
			}
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				if b.Len() > 0 {
					b.WriteByte(' ')
				}
				b.WriteString(text)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	out := b.String()
	runes := []rune(out)
	if len(runes) > limit {
		return string(runes[:limit])
	}
	return out
}
