package panel

import (
	"context"
	"time"

	"panelwatch/internal/components/assert"
	"panelwatch/internal/components/chrono"
	"panelwatch/internal/components/telemetry"
	"panelwatch/internal/driver"
)

const (
	report_challenge_bypass   = "challenge.bypass"
	report_challenge_interact = "challenge.interact"
)

// Bypasser gets the browser past the bot challenge. Bypass returns false
// when the challenge is still shown after timeout, it never fails otherwise.
type Bypasser interface {
	Bypass(ctx context.Context, timeout time.Duration) bool
}

// turnstile renders either a checkbox in the page or an iframe hosting it
var challengeControls = []string{
	`iframe[src*="challenges.cloudflare.com"]`,
	`.cf-turnstile iframe`,
	`input[type="checkbox"]`,
}

type ChallengeHandler struct {
	driver     driver.Driver
	classifier PageClassifier
	clock      chrono.API
	tel        telemetry.API
	origin     string

	// PollInterval is how often the page is classified while waiting.
	PollInterval time.Duration
	// InteractEvery is how many polls pass between attempts to click the
	// challenge control.
	InteractEvery int
}

func NewChallengeHandler(
	d driver.Driver,
	classifier PageClassifier,
	clock chrono.API,
	tel telemetry.API,
	origin string,
) *ChallengeHandler {
	assert.NotNil(d)
	assert.NotNil(classifier)
	assert.NotNil(clock)
	assert.NotNil(tel)
	assert.NotEmptyStr(origin)

	return &ChallengeHandler{
		driver:        d,
		classifier:    classifier,
		clock:         clock,
		tel:           telemetry.NewScopedAPI("challenge", tel),
		origin:        origin,
		PollInterval:  time.Second,
		InteractEvery: 5,
	}
}

func (h *ChallengeHandler) Bypass(ctx context.Context, timeout time.Duration) bool {
	err := h.driver.Navigate(ctx, h.origin)
	if err != nil {
		h.tel.ReportWarning(report_challenge_bypass, err)
	}

	deadline := h.clock.Now().Add(timeout)
	for poll := 0; ; poll++ {
		if ctx.Err() != nil {
			return false
		}

		page, err := readPage(ctx, h.driver, h.classifier)
		if err == nil && page.Kind != PageChallenge {
			h.tel.ReportDebug("challenge passed", page.Title)
			return true
		}
		if err != nil {
			h.tel.ReportDebug("page unreadable while waiting for challenge", err)
		}

		if h.InteractEvery > 0 && poll%h.InteractEvery == h.InteractEvery-1 {
			h.interact(ctx)
		}

		if !h.clock.Now().Before(deadline) {
			break
		}
		err = h.clock.Sleep(ctx, h.PollInterval)
		if err != nil {
			return false
		}
	}

	h.tel.ReportWarning(report_challenge_bypass, "challenge still shown after", timeout.String())
	err = h.driver.Navigate(ctx, h.origin)
	if err != nil {
		h.tel.ReportWarning(report_challenge_bypass, err)
	}
	return false
}

// interact clicks the first challenge control found, if any.
func (h *ChallengeHandler) interact(ctx context.Context) {
	for _, selector := range challengeControls {
		el, err := h.driver.Query(ctx, selector, time.Millisecond*500)
		if err != nil {
			continue
		}
		err = h.driver.Click(ctx, el)
		if err != nil {
			h.tel.ReportWarning(report_challenge_interact, selector, err)
			continue
		}
		h.tel.ReportDebug("clicked challenge control", selector)
		return
	}
}

// Page is a classified snapshot of what the browser is showing.
type Page struct {
	Title string
	URL   string
	Kind  PageKind
}

// readPage reads the title and then the URL of the current page.
func readPage(ctx context.Context, d driver.Driver, classifier PageClassifier) (Page, error) {
	title, err := d.Title(ctx)
	if err != nil {
		return Page{}, err
	}
	url, err := d.URL(ctx)
	if err != nil {
		return Page{}, err
	}
	return Page{
		Title: title,
		URL:   url,
		Kind:  classifier.Classify(title, url),
	}, nil
}
