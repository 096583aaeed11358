// internal/engine/selectors.go
package engine

// Selector and phrase tables for the renewal portal. The page's structure is
// not guaranteed, so every table is an ordered fallback chain rather than a
// single canonical selector.

// Legacy CAPTCHA image candidates, most specific first.
var captchaImageSelectors = []string{
	`img[src^="data:image/"]`,
	`img[src*="captcha"]`,
	`img[src*="verify"]`,
	`.captcha img, #captcha img, [class*="captcha"] img`,
}

// Input placeholders that betray a CAPTCHA stage even when the image itself
// failed to render.
var captchaInputSelectors = []string{
	`input[placeholder*="captcha" i]`,
	`input[placeholder*="verification code" i]`,
	`input[name*="captcha" i]`,
	`input[id*="captcha" i]`,
}

// Candidate ids/names for the code entry field, used by the last fill tactic.
var captchaFieldCandidates = []string{
	"captcha", "captchaCode", "verifyCode", "validateCode", "checkCode", "code",
}

// The control that advances past the verification stage.
var continueSelectors = []string{
	`button[name="continue"]`,
	`input[type="submit"][value*="Continue" i]`,
	`a[href*="continue" i]`,
	`#continue, .continue-btn, [class*="continue"]`,
}

// Visible-text markers equivalent to the continue control.
var continuePhrases = []string{
	"continue renewal",
	"proceed to renewal",
	"next step",
}

// Blocking phrases: once any of these shows, no amount of interaction helps.
var blockingPhrases = []string{
	"renewal available only starting one day before expiry",
	"too many verification attempts",
	"maximum number of attempts",
	"service temporarily unavailable",
	"session has expired",
	"daily limit",
}

// Challenge-widget element candidates in the main document.
var challengeHostSelectors = []string{
	`[data-sitekey]`,
	`[data-cf-turnstile-sitekey]`,
	`.cf-turnstile`,
	`#cf-chl-widget`,
	`[class*="turnstile"]`,
}

// Interactive element candidates inside challenge provider frames.
var challengeFrameSelectors = []string{
	`input[type="checkbox"]`,
	`[role="checkbox"]`,
	`[tabindex="0"]`,
	`label[for*="challenge"]`,
	`.ctp-checkbox-label`,
	`#challenge-stage input`,
}

// Success markers left behind by a satisfied widget.
var challengeSuccessSelectors = []string{
	`#success`,
	`.cf-turnstile-success`,
	`[data-state="success"]`,
	`#challenge-success-text`,
}

// Hidden inputs the widget writes its token into.
var challengeTokenSelectors = []string{
	`input[name="cf-turnstile-response"]`,
	`input[name*="turnstile"]`,
	`input[name*="challenge"]`,
}

// Submission control candidates for the CAPTCHA form.
var submitSelectors = []string{
	`button[type="submit"]`,
	`input[type="submit"]`,
	`#submit, .submit-btn, [class*="submit"]`,
}

// Phrases that indicate the submission actually advanced the flow.
var nextStepPhrases = []string{
	"continue renewal",
	"renewal application",
	"application submitted",
	"confirm your details",
}
