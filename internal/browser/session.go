// internal/browser/session.go
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/renew-cli/api/schemas"
	"github.com/xkilldash9x/renew-cli/internal/config"
)

var jsonx = jsoniter.ConfigCompatibleWithStandardLibrary

// Session drives a single browser tab over CDP and implements
// schemas.BrowserSession. All operations are issued sequentially by one
// caller; the mutex only guards the frame-context cache against cleanup.
type Session struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
	cfg    *config.Config

	mu        sync.Mutex
	frameCtxs map[string]frameContext
	closed    bool
}

type frameContext struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Ensure Session satisfies the capability surface.
var _ schemas.BrowserSession = (*Session)(nil)

// NewSession allocates a browser and opens a fresh tab. The returned session
// must be closed by the caller.
func NewSession(parentCtx context.Context, cfg *config.Config, logger *zap.Logger) (*Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Browser.Headless),
		chromedp.WindowSize(cfg.Browser.WindowWidth, cfg.Browser.WindowHeight),
	)
	if cfg.Browser.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.Browser.ExecPath))
	}
	if cfg.Browser.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.Browser.UserAgent))
	}
	if cfg.Browser.IgnoreTLSErrors {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parentCtx, opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	sessionID := uuid.New().String()
	s := &Session{
		id:     sessionID,
		ctx:    tabCtx,
		logger: logger.Named("browser").With(zap.String("session_id", sessionID)),
		cfg:    cfg,
		cancel: func() {
			tabCancel()
			allocCancel()
		},
		frameCtxs: make(map[string]frameContext),
	}

	// Establish the CDP connection up front so later failures are operational,
	// not structural.
	if err := chromedp.Run(tabCtx); err != nil {
		s.cancel()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}
	return s, nil
}

// ID returns the session identifier used in logs and artifacts.
func (s *Session) ID() string { return s.id }

// Close tears down the frame contexts and the browser.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, fc := range s.frameCtxs {
		fc.cancel()
	}
	s.frameCtxs = map[string]frameContext{}
	s.mu.Unlock()

	s.cancel()
}

// run executes actions against the main document, honoring both the session
// lifetime and the caller's deadline.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// frameCtx resolves the CDP context for a frame handle. Same-process frames
// and the main document share the tab context; out-of-process iframes get a
// derived context attached to their own target, cached per target ID.
func (s *Session) frameCtx(frame *schemas.FrameHandle) context.Context {
	if frame.IsMain() || frame.TargetID == "" {
		return s.ctx
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if fc, ok := s.frameCtxs[frame.TargetID]; ok {
		return fc.ctx
	}
	ctx, cancel := chromedp.NewContext(s.ctx, chromedp.WithTargetID(target.ID(frame.TargetID)))
	s.frameCtxs[frame.TargetID] = frameContext{ctx: ctx, cancel: cancel}
	return ctx
}

// invalidateFrames drops cached frame contexts. Called on every navigation:
// frame targets do not survive a page load.
func (s *Session) invalidateFrames() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, fc := range s.frameCtxs {
		fc.cancel()
		delete(s.frameCtxs, id)
	}
}

// runIn executes actions scoped to the given frame.
func (s *Session) runIn(ctx context.Context, frame *schemas.FrameHandle, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(s.frameCtx(frame), ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// Navigate loads the URL and blocks according to policy.
func (s *Session) Navigate(ctx context.Context, url string, policy schemas.WaitPolicy) error {
	s.invalidateFrames()

	navCtx, cancel := context.WithTimeout(ctx, s.cfg.Network.NavigationTimeout)
	defer cancel()

	if policy == schemas.WaitNone {
		return s.run(navCtx, chromedp.ActionFunc(func(c context.Context) error {
			_, _, _, _, err := page.Navigate(url).Do(c)
			return err
		}))
	}

	if err := s.run(navCtx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	if policy == schemas.WaitIdle {
		if err := s.run(navCtx, chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
			s.logger.Debug("Post-navigation readiness wait failed.", zap.Error(err))
		}
		if s.cfg.Network.PostLoadWait > 0 {
			select {
			case <-time.After(s.cfg.Network.PostLoadWait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

// Reload performs a fresh network load of the current page.
func (s *Session) Reload(ctx context.Context) error {
	s.invalidateFrames()

	navCtx, cancel := context.WithTimeout(ctx, s.cfg.Network.NavigationTimeout)
	defer cancel()

	if err := s.run(navCtx, chromedp.Reload()); err != nil {
		return fmt.Errorf("reload failed: %w", err)
	}
	if err := s.run(navCtx, chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		s.logger.Debug("Post-reload readiness wait failed.", zap.Error(err))
	}
	return nil
}

// Location returns the current document URL.
func (s *Session) Location(ctx context.Context) (string, error) {
	var url string
	if err := s.run(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return url, nil
}

// elementProbeScript extracts a typed snapshot of the first match in a single
// evaluation. Returning null means no match; the caller maps that to
// Found=false without an error.
const elementProbeScript = `
	(function(sel) {
		const el = document.querySelector(sel);
		if (!el) return null;

		const attrs = {};
		for (const a of el.attributes) { attrs[a.name] = a.value; }

		const style = window.getComputedStyle(el);
		const rect = el.getBoundingClientRect();
		const visible = style.display !== 'none' && style.visibility !== 'hidden' &&
			style.opacity !== '0' && rect.width > 0 && rect.height > 0;

		let text = (el.innerText || el.textContent || '').trim();
		if (text.length > 512) { text = text.substring(0, 512); }

		return {
			found: true,
			tagName: el.tagName,
			attributes: attrs,
			text: text,
			value: ('value' in el) ? String(el.value) : '',
			visible: visible
		};
	})(%s)`

// QuerySelector probes the frame for the first element matching selector.
func (s *Session) QuerySelector(ctx context.Context, frame *schemas.FrameHandle, selector string) (schemas.ElementQuery, error) {
	script := fmt.Sprintf(elementProbeScript, jsEncode(selector))

	var q schemas.ElementQuery
	if err := s.Evaluate(ctx, frame, script, &q); err != nil {
		return schemas.ElementQuery{Selector: selector}, err
	}
	q.Selector = selector
	return q, nil
}

// Evaluate runs a script in the frame and decodes its result into out. A JS
// null result leaves out untouched.
func (s *Session) Evaluate(ctx context.Context, frame *schemas.FrameHandle, script string, out interface{}) error {
	evalCtx, cancel := context.WithTimeout(ctx, s.cfg.Network.EvaluateTimeout)
	defer cancel()

	var raw json.RawMessage
	err := s.runIn(evalCtx, frame, chromedp.Evaluate(script, &raw,
		func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithReturnByValue(true).WithAwaitPromise(true).WithSilent(true)
		}))
	if err != nil {
		if evalCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("evaluation timed out after %v: %w", s.cfg.Network.EvaluateTimeout, evalCtx.Err())
		}
		return fmt.Errorf("evaluation failed: %w", err)
	}

	if out == nil || len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := jsonx.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode evaluation result: %w (payload: %s)", err, string(raw))
	}
	return nil
}

// Click delivers a click to the first match of selector using the requested
// modality.
func (s *Session) Click(ctx context.Context, frame *schemas.FrameHandle, selector string, modality schemas.ClickModality) error {
	clickCtx, cancel := context.WithTimeout(ctx, s.cfg.Network.SelectorTimeout)
	defer cancel()

	switch modality {
	case schemas.ClickNative:
		return s.runIn(clickCtx, frame, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))

	case schemas.ClickProgrammatic:
		script := fmt.Sprintf(`
			(function(sel) {
				const el = document.querySelector(sel);
				if (!el) return false;
				el.click();
				return true;
			})(%s)`, jsEncode(selector))
		var clicked bool
		if err := s.Evaluate(clickCtx, frame, script, &clicked); err != nil {
			return err
		}
		if !clicked {
			return fmt.Errorf("element %q not found for programmatic click", selector)
		}
		return nil

	case schemas.ClickDispatch:
		script := fmt.Sprintf(`
			(function(sel) {
				const el = document.querySelector(sel);
				if (!el) return false;
				const rect = el.getBoundingClientRect();
				const x = rect.left + rect.width / 2;
				const y = rect.top + rect.height / 2;
				for (const type of ['mousedown', 'mouseup', 'click']) {
					el.dispatchEvent(new MouseEvent(type, {
						bubbles: true, cancelable: true, view: window,
						clientX: x, clientY: y, button: 0
					}));
				}
				return true;
			})(%s)`, jsEncode(selector))
		var clicked bool
		if err := s.Evaluate(clickCtx, frame, script, &clicked); err != nil {
			return err
		}
		if !clicked {
			return fmt.Errorf("element %q not found for dispatched click", selector)
		}
		return nil

	default:
		return fmt.Errorf("unknown click modality %q", modality)
	}
}

// Fill clears the field and types text into it through the input pipeline.
func (s *Session) Fill(ctx context.Context, frame *schemas.FrameHandle, selector, text string) error {
	fillCtx, cancel := context.WithTimeout(ctx, s.cfg.Network.SelectorTimeout)
	defer cancel()

	return s.runIn(fillCtx, frame,
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	)
}

// Frames enumerates the main document's frame tree plus any out-of-process
// iframe targets. The two views are merged by URL; OOPIFs never appear in the
// in-process tree.
func (s *Session) Frames(ctx context.Context) ([]schemas.FrameHandle, error) {
	var handles []schemas.FrameHandle

	err := s.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		tree, err := page.GetFrameTree().Do(c)
		if err != nil {
			return err
		}
		collectFrames(tree, &handles)
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read frame tree: %w", err)
	}

	infos, err := chromedp.Targets(s.ctx)
	if err != nil {
		// The in-process view alone is still usable.
		s.logger.Debug("Failed to enumerate iframe targets.", zap.Error(err))
	} else {
		seen := make(map[string]bool, len(handles))
		for _, h := range handles {
			seen[h.URL] = true
		}
		for _, info := range infos {
			if info.Type != "iframe" || seen[info.URL] {
				continue
			}
			handles = append(handles, schemas.FrameHandle{
				URL:      info.URL,
				Name:     info.Title,
				ParentID: "main",
				TargetID: string(info.TargetID),
			})
		}
	}

	for i := range handles {
		handles[i].Index = i
	}
	return handles, nil
}

func collectFrames(tree *page.FrameTree, out *[]schemas.FrameHandle) {
	if tree == nil || tree.Frame == nil {
		return
	}
	h := schemas.FrameHandle{
		URL:  tree.Frame.URL,
		Name: tree.Frame.Name,
	}
	if tree.Frame.ParentID != "" {
		h.ParentID = string(tree.Frame.ParentID)
	}
	*out = append(*out, h)
	for _, child := range tree.ChildFrames {
		collectFrames(child, out)
	}
}

// WaitForSelector blocks until selector is visible in the frame or the
// timeout elapses.
func (s *Session) WaitForSelector(ctx context.Context, frame *schemas.FrameHandle, selector string, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.runIn(waitCtx, frame, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("selector %q did not appear within %v: %w", selector, timeout, err)
	}
	return nil
}

// WaitForNavigation blocks until the document reaches readiness or the
// timeout elapses.
func (s *Session) WaitForNavigation(ctx context.Context, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.invalidateFrames()
	if err := s.run(waitCtx, chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return fmt.Errorf("navigation did not settle within %v: %w", timeout, err)
	}
	return nil
}

// Screenshot writes a full-page capture to path.
func (s *Session) Screenshot(ctx context.Context, path string) error {
	var buf []byte
	if err := s.run(ctx, chromedp.FullScreenshot(&buf, 80)); err != nil {
		return fmt.Errorf("screenshot failed: %w", err)
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("failed to write screenshot: %w", err)
	}
	return nil
}

// ElementScreenshot captures just the first match of selector.
func (s *Session) ElementScreenshot(ctx context.Context, selector, path string) error {
	shotCtx, cancel := context.WithTimeout(ctx, s.cfg.Network.SelectorTimeout)
	defer cancel()

	var buf []byte
	if err := s.run(shotCtx, chromedp.Screenshot(selector, &buf, chromedp.NodeVisible, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("element screenshot of %q failed: %w", selector, err)
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("failed to write element screenshot: %w", err)
	}
	return nil
}

// CaptureHTML returns the full markup of the frame's document.
func (s *Session) CaptureHTML(ctx context.Context, frame *schemas.FrameHandle) (string, error) {
	if frame.IsMain() {
		var html string
		if err := s.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
			return "", fmt.Errorf("failed to capture document markup: %w", err)
		}
		return html, nil
	}

	var html string
	err := s.Evaluate(ctx, frame, `document.documentElement ? document.documentElement.outerHTML : ''`, &html)
	if err != nil {
		return "", fmt.Errorf("failed to capture frame markup: %w", err)
	}
	return html, nil
}

// VisibleText returns the rendered text of the main document.
func (s *Session) VisibleText(ctx context.Context) (string, error) {
	var text string
	err := s.Evaluate(ctx, nil, `document.body ? document.body.innerText : ''`, &text)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// jsEncode safely embeds a Go value as a JS literal.
func jsEncode(v interface{}) string {
	b, err := jsonx.Marshal(v)
	if err != nil {
		return `""`
	}
	return string(b)
}
