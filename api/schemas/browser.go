// api/schemas/browser.go
package schemas

import (
	"context"
	"time"
)

// WaitPolicy controls how long Navigate blocks after the network request is issued.
type WaitPolicy string

const (
	// WaitLoad waits for the document load event.
	WaitLoad WaitPolicy = "load"
	// WaitIdle waits for load plus a short network-quiet period.
	WaitIdle WaitPolicy = "idle"
	// WaitNone returns as soon as navigation is committed.
	WaitNone WaitPolicy = "none"
)

// ClickModality selects the mechanism used to deliver a click. Hardened pages
// frequently ignore one modality while honoring another, so callers walk
// through them in order.
type ClickModality string

const (
	// ClickNative drives a real input event through the browser's input pipeline.
	ClickNative ClickModality = "native"
	// ClickProgrammatic calls element.click() inside the page.
	ClickProgrammatic ClickModality = "programmatic"
	// ClickDispatch constructs and dispatches a synthetic MouseEvent.
	ClickDispatch ClickModality = "dispatch"
)

// FrameHandle identifies one frame of the current page. Index is the position
// within the enumeration that produced the handle; handles are only valid
// until the next navigation and must be re-acquired afterwards.
type FrameHandle struct {
	Index    int    `json:"index"`
	URL      string `json:"url"`
	Name     string `json:"name"`
	ParentID string `json:"parentId,omitempty"`

	// TargetID is the CDP target backing an out-of-process iframe. Empty for
	// same-process frames and for the main document.
	TargetID string `json:"targetId,omitempty"`
}

// IsMain reports whether the handle refers to the top-level document.
func (f *FrameHandle) IsMain() bool {
	return f == nil || (f.ParentID == "" && f.TargetID == "")
}

// ElementQuery is the result of probing the DOM for a selector. It is a typed
// snapshot rather than a live handle: attribute access never touches the page
// again, so a frame disappearing after the query cannot fault the caller.
type ElementQuery struct {
	Found      bool              `json:"found"`
	Selector   string            `json:"selector"`
	TagName    string            `json:"tagName,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Text       string            `json:"text,omitempty"`
	Value      string            `json:"value,omitempty"`
	Visible    bool              `json:"visible"`
}

// Attr returns the named attribute, or "" when absent.
func (q ElementQuery) Attr(name string) string {
	if q.Attributes == nil {
		return ""
	}
	return q.Attributes[name]
}

// BrowserSession is the capability surface the engine drives. A nil
// *FrameHandle scopes the operation to the main document. Implementations do
// not retry: a missed selector or a navigation racing an evaluation surfaces
// as an error, and the engine decides what that means.
type BrowserSession interface {
	Navigate(ctx context.Context, url string, policy WaitPolicy) error
	Reload(ctx context.Context) error
	Location(ctx context.Context) (string, error)

	QuerySelector(ctx context.Context, frame *FrameHandle, selector string) (ElementQuery, error)
	Evaluate(ctx context.Context, frame *FrameHandle, script string, out interface{}) error
	Click(ctx context.Context, frame *FrameHandle, selector string, modality ClickModality) error
	Fill(ctx context.Context, frame *FrameHandle, selector, text string) error

	Frames(ctx context.Context) ([]FrameHandle, error)
	WaitForSelector(ctx context.Context, frame *FrameHandle, selector string, timeout time.Duration) error
	WaitForNavigation(ctx context.Context, timeout time.Duration) error

	Screenshot(ctx context.Context, path string) error
	ElementScreenshot(ctx context.Context, selector, path string) error
	CaptureHTML(ctx context.Context, frame *FrameHandle) (string, error)
	VisibleText(ctx context.Context) (string, error)
}
