// internal/engine/form.go
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/renew-cli/api/schemas"
	"github.com/xkilldash9x/renew-cli/internal/config"
)

// FormExecutor is the shared "try N ways, then verify the DOM actually
// changed" primitive. Both sub-contracts return booleans: ordinary failure is
// an expected outcome here, not an error condition.
type FormExecutor struct {
	session schemas.BrowserSession
	logger  *zap.Logger
	netCfg  config.NetworkConfig
}

// NewFormExecutor builds the executor.
func NewFormExecutor(session schemas.BrowserSession, netCfg config.NetworkConfig, logger *zap.Logger) *FormExecutor {
	return &FormExecutor{
		session: session,
		logger:  logger.Named("form"),
		netCfg:  netCfg,
	}
}

// scriptedFillTemplate assigns the code to the first visible input matching
// broadened hints and fires synthetic input/change notifications so reactive
// form frameworks notice the value.
const scriptedFillTemplate = `
	(function(code) {
		const hints = [
			'input[placeholder*="captcha" i]',
			'input[placeholder*="code" i]',
			'input[type="text"]',
			'input:not([type])'
		];
		for (const hint of hints) {
			for (const el of document.querySelectorAll(hint)) {
				const rect = el.getBoundingClientRect();
				if (rect.width === 0 || rect.height === 0) continue;
				el.value = code;
				el.dispatchEvent(new Event('input', { bubbles: true }));
				el.dispatchEvent(new Event('change', { bubbles: true }));
				return true;
			}
		}
		return false;
	})(%s)`

// fillTactic pairs a name with an action; after the action runs, the executor
// independently re-reads the target field and only believes a tactic whose
// read-back equals the code verbatim.
type fillTactic struct {
	name   string
	target string
	act    func(ctx context.Context) error
}

// Fill enters the recognized code into the CAPTCHA field, walking the tactic
// chain until a post-fill read of the field returns the code exactly. A
// tactic that "succeeds" without actually setting the value is rejected.
func (f *FormExecutor) Fill(ctx context.Context, code string) bool {
	tactics := f.fillTactics(code)

	for _, tactic := range tactics {
		if ctx.Err() != nil {
			return false
		}
		if err := tactic.act(ctx); err != nil {
			f.logger.Debug("Fill tactic failed.", zap.String("tactic", tactic.name), zap.Error(err))
			continue
		}
		if f.fieldHolds(ctx, tactic.target, code) {
			f.logger.Debug("Fill verified.", zap.String("tactic", tactic.name))
			return true
		}
		f.logger.Debug("Fill tactic ran but field does not hold the code.", zap.String("tactic", tactic.name))
	}
	return false
}

func (f *FormExecutor) fillTactics(code string) []fillTactic {
	var tactics []fillTactic

	// (i) Known placeholder selectors.
	for _, sel := range captchaInputSelectors {
		sel := sel
		tactics = append(tactics, fillTactic{
			name:   "placeholder:" + sel,
			target: sel,
			act: func(ctx context.Context) error {
				return f.session.Fill(ctx, nil, sel, code)
			},
		})
	}

	// (ii) First generic text input.
	tactics = append(tactics, fillTactic{
		name:   "generic_text_input",
		target: `input[type="text"]`,
		act: func(ctx context.Context) error {
			return f.session.Fill(ctx, nil, `input[type="text"]`, code)
		},
	})

	// (iii) Scripted assignment with synthetic notifications.
	tactics = append(tactics, fillTactic{
		name:   "scripted_assignment",
		target: `input[placeholder*="captcha" i], input[placeholder*="code" i], input[type="text"], input:not([type])`,
		act: func(ctx context.Context) error {
			script := fmt.Sprintf(scriptedFillTemplate, jsString(code))
			var ok bool
			if err := f.session.Evaluate(ctx, nil, script, &ok); err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no visible input matched the broadened hints")
			}
			return nil
		},
	})

	// (iv) Fixed candidate ids/names.
	for _, cand := range captchaFieldCandidates {
		sel := fmt.Sprintf(`#%s, input[name=%q]`, cand, cand)
		tactics = append(tactics, fillTactic{
			name:   "candidate:" + cand,
			target: sel,
			act: func(ctx context.Context) error {
				return f.session.Fill(ctx, nil, sel, code)
			},
		})
	}

	return tactics
}

// fieldHolds re-reads the target and compares its value to the code
// verbatim. Read failures count as not holding.
func (f *FormExecutor) fieldHolds(ctx context.Context, selector, code string) bool {
	q, err := f.session.QuerySelector(ctx, nil, selector)
	if err != nil || !q.Found {
		return false
	}
	return q.Value == code
}

// Submit pushes the form through, trying per retry: click-and-wait for
// navigation, click-and-poll visible text, then a scripted in-page submit.
// Exhausting maxRetries returns false.
func (f *FormExecutor) Submit(ctx context.Context, maxRetries int) bool {
	for retry := 1; retry <= maxRetries; retry++ {
		if ctx.Err() != nil {
			return false
		}

		if f.submitClickAndWait(ctx) {
			return true
		}
		if f.submitClickAndPoll(ctx) {
			return true
		}
		if f.submitScripted(ctx) {
			return true
		}

		if retry < maxRetries {
			if err := sleepCtx(ctx, time.Second); err != nil {
				return false
			}
		}
	}
	return false
}

// submitClickAndWait clicks the known submission control and races a
// navigation-completion wait against it.
func (f *FormExecutor) submitClickAndWait(ctx context.Context) bool {
	sel, ok := f.findSubmitControl(ctx)
	if !ok {
		return false
	}
	if err := f.session.Click(ctx, nil, sel, schemas.ClickNative); err != nil {
		f.logger.Debug("Submit click failed.", zap.String("selector", sel), zap.Error(err))
		return false
	}
	if err := f.session.WaitForNavigation(ctx, f.netCfg.NavigationTimeout); err != nil {
		f.logger.Debug("Navigation wait after submit failed.", zap.Error(err))
		return false
	}
	return f.advanced(ctx)
}

// submitClickAndPoll clicks without waiting for navigation and instead polls
// the visible text for next-step phrases while confirming the CAPTCHA-stage
// markers are gone.
func (f *FormExecutor) submitClickAndPoll(ctx context.Context) bool {
	sel, ok := f.findSubmitControl(ctx)
	if !ok {
		return false
	}
	if err := f.session.Click(ctx, nil, sel, schemas.ClickProgrammatic); err != nil {
		f.logger.Debug("Programmatic submit click failed.", zap.Error(err))
		return false
	}

	deadline := time.Now().Add(f.netCfg.NavigationTimeout)
	for time.Now().Before(deadline) {
		if err := sleepCtx(ctx, 500*time.Millisecond); err != nil {
			return false
		}
		if f.advanced(ctx) {
			return true
		}
	}
	return false
}

// submitScripted searches every form and button in the page for a submit
// control or a text match and fires it from inside the page.
func (f *FormExecutor) submitScripted(ctx context.Context) bool {
	const script = `
		(function() {
			for (const form of document.forms) {
				const btn = form.querySelector('button[type="submit"], input[type="submit"]');
				if (btn) { btn.click(); return true; }
			}
			const texts = ['submit', 'verify', 'confirm', 'continue'];
			for (const btn of document.querySelectorAll('button, input[type="button"], a')) {
				const label = ((btn.innerText || btn.value || '') + '').trim().toLowerCase();
				if (texts.some(t => label.includes(t))) { btn.click(); return true; }
			}
			if (document.forms.length > 0) { document.forms[0].submit(); return true; }
			return false;
		})()`

	var fired bool
	if err := f.session.Evaluate(ctx, nil, script, &fired); err != nil || !fired {
		return false
	}
	if err := sleepCtx(ctx, f.netCfg.PostLoadWait); err != nil {
		return false
	}
	return f.advanced(ctx)
}

func (f *FormExecutor) findSubmitControl(ctx context.Context) (string, bool) {
	for _, sel := range submitSelectors {
		q, err := f.session.QuerySelector(ctx, nil, sel)
		if err == nil && q.Found && q.Visible {
			return sel, true
		}
	}
	return "", false
}

// advanced reports whether the submission actually moved the flow forward:
// a next-step phrase is visible, or the CAPTCHA stage is simply gone.
func (f *FormExecutor) advanced(ctx context.Context) bool {
	text, err := f.session.VisibleText(ctx)
	if err != nil {
		return false
	}
	lower := strings.ToLower(text)
	for _, phrase := range nextStepPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}

	// No phrase match; accept only if the CAPTCHA markers disappeared.
	for _, sel := range append(append([]string{}, captchaImageSelectors...), captchaInputSelectors...) {
		q, err := f.session.QuerySelector(ctx, nil, sel)
		if err != nil {
			return false
		}
		if q.Found && q.Visible {
			return false
		}
	}
	return true
}

// jsString embeds a Go string as a JS literal.
func jsString(s string) string {
	b := strings.Builder{}
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
