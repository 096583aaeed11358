// internal/engine/session_double_test.go
package engine

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/xkilldash9x/renew-cli/api/schemas"
)

// fakeSession is a scriptable in-memory stand-in for a live browser. Tests
// seed it with a selector-keyed DOM snapshot and inspect the interaction
// log afterwards.
type fakeSession struct {
	mu sync.Mutex

	dom      map[string]schemas.ElementQuery
	queryErr map[string]error
	text     string
	textErr  error
	frames   []schemas.FrameHandle
	location string

	// evalFn overrides Evaluate. The default leaves booleans false and
	// strings empty, which reads as "the page did nothing".
	evalFn func(frame *schemas.FrameHandle, script string, out interface{}) error

	// fillIgnored makes Fill report success without storing the value,
	// imitating a page that swallows input events.
	fillIgnored bool

	clicks      []string
	fills       []string
	navigations []string
	reloads     int
	screenshots []string
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		dom:      map[string]schemas.ElementQuery{},
		queryErr: map[string]error{},
	}
}

func (f *fakeSession) setElement(selector string, q schemas.ElementQuery) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q.Found = true
	q.Selector = selector
	f.dom[selector] = q
}

func (f *fakeSession) removeElement(selector string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.dom, selector)
}

func (f *fakeSession) Navigate(_ context.Context, url string, _ schemas.WaitPolicy) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navigations = append(f.navigations, url)
	f.location = url
	return nil
}

func (f *fakeSession) Reload(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reloads++
	return nil
}

func (f *fakeSession) Location(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.location, nil
}

func (f *fakeSession) QuerySelector(_ context.Context, _ *schemas.FrameHandle, selector string) (schemas.ElementQuery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.queryErr[selector]; ok {
		return schemas.ElementQuery{}, err
	}
	if q, ok := f.dom[selector]; ok {
		return q, nil
	}
	return schemas.ElementQuery{Selector: selector}, nil
}

func (f *fakeSession) Evaluate(_ context.Context, frame *schemas.FrameHandle, script string, out interface{}) error {
	f.mu.Lock()
	fn := f.evalFn
	f.mu.Unlock()
	if fn != nil {
		return fn(frame, script, out)
	}
	switch v := out.(type) {
	case *bool:
		*v = false
	case *string:
		*v = ""
	}
	return nil
}

func (f *fakeSession) Click(_ context.Context, _ *schemas.FrameHandle, selector string, modality schemas.ClickModality) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.dom[selector]
	if !ok || !q.Found {
		return fmt.Errorf("no element matches %q", selector)
	}
	f.clicks = append(f.clicks, selector+"#"+string(modality))
	return nil
}

func (f *fakeSession) Fill(_ context.Context, _ *schemas.FrameHandle, selector, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.dom[selector]
	if !ok || !q.Found {
		return fmt.Errorf("no element matches %q", selector)
	}
	f.fills = append(f.fills, selector+"="+text)
	if !f.fillIgnored {
		q.Value = text
		f.dom[selector] = q
	}
	return nil
}

func (f *fakeSession) Frames(context.Context) ([]schemas.FrameHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]schemas.FrameHandle(nil), f.frames...), nil
}

func (f *fakeSession) WaitForSelector(_ context.Context, _ *schemas.FrameHandle, selector string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if q, ok := f.dom[selector]; ok && q.Found {
		return nil
	}
	return fmt.Errorf("selector %q never appeared", selector)
}

func (f *fakeSession) WaitForNavigation(context.Context, time.Duration) error {
	return nil
}

func (f *fakeSession) Screenshot(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.screenshots = append(f.screenshots, path)
	return os.WriteFile(path, []byte("png"), 0o644)
}

func (f *fakeSession) ElementScreenshot(_ context.Context, _ string, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.screenshots = append(f.screenshots, path)
	return os.WriteFile(path, []byte("png"), 0o644)
}

func (f *fakeSession) CaptureHTML(context.Context, *schemas.FrameHandle) (string, error) {
	return "<html><body>" + f.text + "</body></html>", nil
}

func (f *fakeSession) VisibleText(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.textErr != nil {
		return "", f.textErr
	}
	return f.text, nil
}

func (f *fakeSession) clickCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clicks)
}

func (f *fakeSession) fillCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fills)
}

func (f *fakeSession) clickedAny(substr string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.clicks {
		if strings.Contains(c, substr) {
			return true
		}
	}
	return false
}

var _ schemas.BrowserSession = (*fakeSession)(nil)
