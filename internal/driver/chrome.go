package driver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("panelwatch.internal.driver")

type ChromeOptions struct {
	Headless bool
	// UserDataDir is the profile directory, cookies and localStorage
	// written to it survive restarts.
	UserDataDir string
	ExecPath    string
	Lang        string
	UserAgent   string
	// NavigateTimeout bounds a single navigation, defaults to 45 seconds.
	NavigateTimeout time.Duration
}

// Chrome is a Driver backed by a chromedp controlled Chrome instance.
type Chrome struct {
	mu              sync.Mutex
	tab             context.Context
	cancelTab       context.CancelFunc
	cancelAlloc     context.CancelFunc
	navigateTimeout time.Duration

	nextID int64
	nodes  map[Element]cdp.NodeID
}

// NewChrome starts a browser. The browser outlives ctx (which only bounds
// startup) and must be stopped with Close.
func NewChrome(ctx context.Context, opts ChromeOptions) (*Chrome, error) {
	allocOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-first-run", true),
		chromedp.WindowSize(1366, 900),
	)
	if opts.UserDataDir != "" {
		allocOpts = append(allocOpts, chromedp.UserDataDir(opts.UserDataDir))
	}
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}
	if opts.Lang != "" {
		allocOpts = append(allocOpts, chromedp.Flag("lang", opts.Lang))
	}
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	tab, cancelTab := chromedp.NewContext(allocCtx)

	c := &Chrome{
		tab:             tab,
		cancelTab:       cancelTab,
		cancelAlloc:     cancelAlloc,
		navigateTimeout: opts.NavigateTimeout,
		nodes:           map[Element]cdp.NodeID{},
	}
	if c.navigateTimeout <= 0 {
		c.navigateTimeout = time.Second * 45
	}

	err := c.run(ctx, "start", network.Enable())
	if err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Chrome) Close() {
	c.cancelTab()
	c.cancelAlloc()
}

// run executes actions on the tab, bound to the cancellation and deadline
// of ctx. Calls are serialized.
func (c *Chrome) run(ctx context.Context, op string, actions ...chromedp.Action) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, span := tracer.Start(ctx, "driver."+op)
	defer span.End()

	runCtx, cancel := context.WithCancel(c.tab)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}

	err := chromedp.Run(runCtx, actions...)
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return &Error{Op: op, Err: err}
	}
	return nil
}

func (c *Chrome) Navigate(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, c.navigateTimeout)
	defer cancel()
	err := c.run(ctx, "navigate", chromedp.Navigate(url))
	if err == nil {
		c.mu.Lock()
		c.nodes = map[Element]cdp.NodeID{}
		c.mu.Unlock()
	}
	return err
}

func (c *Chrome) Evaluate(ctx context.Context, script string, out any) error {
	wrapped := fmt.Sprintf("JSON.stringify((function(){ %s })() ?? null)", script)
	var raw string
	err := c.run(ctx, "evaluate", chromedp.Evaluate(wrapped, &raw))
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	err = json.Unmarshal([]byte(raw), out)
	if err != nil {
		return &Error{Op: "evaluate", Err: fmt.Errorf("decode result: %w", err)}
	}
	return nil
}

func (c *Chrome) QueryAll(ctx context.Context, selector string, timeout time.Duration) ([]Element, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var nodes []*cdp.Node
	err := c.run(ctx, "query", chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll))
	if errors.Is(err, context.DeadlineExceeded) || (err == nil && len(nodes) == 0) {
		return nil, &Error{Op: "query", Err: fmt.Errorf("%s: %w", selector, ErrNotFound)}
	}
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	elements := make([]Element, len(nodes))
	for i, n := range nodes {
		c.nextID++
		id := Element(c.nextID)
		c.nodes[id] = n.NodeID
		elements[i] = id
	}
	return elements, nil
}

func (c *Chrome) Query(ctx context.Context, selector string, timeout time.Duration) (Element, error) {
	elements, err := c.QueryAll(ctx, selector, timeout)
	if err != nil {
		return 0, err
	}
	return elements[0], nil
}

func (c *Chrome) node(op string, el Element) ([]cdp.NodeID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.nodes[el]
	if !ok {
		return nil, &Error{Op: op, Err: fmt.Errorf("stale element %d: %w", el, ErrNotFound)}
	}
	return []cdp.NodeID{id}, nil
}

func (c *Chrome) Text(ctx context.Context, el Element) (string, error) {
	ids, err := c.node("text", el)
	if err != nil {
		return "", err
	}
	var text string
	err = c.run(ctx, "text", chromedp.Text(ids, &text, chromedp.ByNodeID))
	return strings.TrimSpace(text), err
}

func (c *Chrome) Click(ctx context.Context, el Element) error {
	ids, err := c.node("click", el)
	if err != nil {
		return err
	}
	return c.run(ctx, "click", chromedp.Click(ids, chromedp.ByNodeID))
}

func (c *Chrome) OuterHTML(ctx context.Context, selector string) (string, error) {
	quoted, err := json.Marshal(selector)
	if err != nil {
		return "", &Error{Op: "outer_html", Err: err}
	}
	var html *string
	err = c.Evaluate(ctx, fmt.Sprintf(
		"var el = document.querySelector(%s); return el ? el.outerHTML : null;",
		quoted,
	), &html)
	if err != nil {
		return "", err
	}
	if html == nil {
		return "", &Error{Op: "outer_html", Err: fmt.Errorf("%s: %w", selector, ErrNotFound)}
	}
	return *html, nil
}

func (c *Chrome) Title(ctx context.Context) (string, error) {
	var title string
	err := c.run(ctx, "title", chromedp.Title(&title))
	return title, err
}

func (c *Chrome) URL(ctx context.Context) (string, error) {
	var url string
	err := c.run(ctx, "url", chromedp.Location(&url))
	return url, err
}

func (c *Chrome) Cookies(ctx context.Context, urls ...string) ([]Cookie, error) {
	var cookies []*network.Cookie
	err := c.run(ctx, "get_cookies", chromedp.ActionFunc(func(ctx context.Context) error {
		req := network.GetCookies()
		if len(urls) > 0 {
			req = req.WithUrls(urls)
		}
		var err error
		cookies, err = req.Do(ctx)
		return err
	}))
	if err != nil {
		return nil, err
	}

	out := make([]Cookie, len(cookies))
	for i, ck := range cookies {
		out[i] = Cookie{
			Name:     ck.Name,
			Value:    ck.Value,
			Domain:   ck.Domain,
			Path:     ck.Path,
			Expires:  ck.Expires,
			Secure:   ck.Secure,
			HTTPOnly: ck.HTTPOnly,
		}
	}
	return out, nil
}

func (c *Chrome) SetCookies(ctx context.Context, cookies []Cookie) error {
	ctx, span := tracer.Start(ctx, "driver.set_cookies")
	defer span.End()
	span.SetAttributes(attribute.Int("count", len(cookies)))

	return c.run(ctx, "set_cookies", chromedp.ActionFunc(func(ctx context.Context) error {
		for _, ck := range cookies {
			req := network.SetCookie(ck.Name, ck.Value).
				WithDomain(strings.TrimPrefix(ck.Domain, ".")).
				WithPath(ck.Path).
				WithSecure(ck.Secure).
				WithHTTPOnly(ck.HTTPOnly)
			// session cookies are reported with a non-positive expiry
			if ck.Expires > 0 {
				expires := cdp.TimeSinceEpoch(time.Unix(int64(ck.Expires), 0))
				req = req.WithExpires(&expires)
			}
			err := req.Do(ctx)
			if err != nil {
				return fmt.Errorf("set cookie %s: %w", ck.Name, err)
			}
		}
		return nil
	}))
}
