// Package drivertest provides a scripted driver.Driver for tests.
package drivertest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"panelwatch/internal/driver"
)

// Page is what the fake tab shows.
type Page struct {
	Title string
	URL   string
}

// Fake is a driver.Driver and driver.CookieJar whose behavior is scripted
// through its exported fields. Fields must be set before the fake is used,
// or from within its hooks.
type Fake struct {
	mu sync.Mutex

	// Pages is the sequence of pages returned by Title, each call to Title
	// moves to the next page, the last page is repeated. URL returns the URL
	// of the page returned by the latest Title call.
	Pages []Page
	// OnNavigate is called for every navigation with the fake locked, it
	// may call SetPages but no other method of f.
	OnNavigate func(f *Fake, url string) error
	// Eval answers Evaluate, its result is JSON encoded into out.
	Eval func(script string) (any, error)
	// HTML answers OuterHTML.
	HTML func(selector string) (string, error)
	// Elements answers Query and QueryAll with the text of every element
	// matching selector.
	Elements func(selector string) []string
	// Fail makes the named operation ("navigate", "title", "url",
	// "evaluate", "query", "text", "click", "outer_html") return the error.
	Fail map[string]error

	pageIdx     int
	current     Page
	navigations []string
	scripts     []string
	clicks      []string
	cookies     []driver.Cookie
	nextID      int64
	elements    map[driver.Element]element
}

type element struct {
	selector string
	text     string
}

func (f *Fake) fail(op string) error {
	if f.Fail == nil {
		return nil
	}
	err, ok := f.Fail[op]
	if !ok || err == nil {
		return nil
	}
	return &driver.Error{Op: op, Err: err}
}

// SetPages replaces the page sequence and rewinds it, URL reports the
// first page until the next call to Title.
func (f *Fake) SetPages(pages ...Page) {
	f.Pages = pages
	f.pageIdx = 0
	if len(pages) > 0 {
		f.current = pages[0]
	}
}

func (f *Fake) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return &driver.Error{Op: "navigate", Err: err}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("navigate"); err != nil {
		return err
	}
	f.navigations = append(f.navigations, url)
	f.elements = nil
	if f.OnNavigate != nil {
		return f.OnNavigate(f, url)
	}
	return nil
}

func (f *Fake) Evaluate(ctx context.Context, script string, out any) error {
	if err := ctx.Err(); err != nil {
		return &driver.Error{Op: "evaluate", Err: err}
	}
	f.mu.Lock()
	if err := f.fail("evaluate"); err != nil {
		f.mu.Unlock()
		return err
	}
	f.scripts = append(f.scripts, script)
	eval := f.Eval
	f.mu.Unlock()

	var result any
	if eval != nil {
		var err error
		result, err = eval(script)
		if err != nil {
			return &driver.Error{Op: "evaluate", Err: err}
		}
	}
	if out == nil {
		return nil
	}
	buf, err := json.Marshal(result)
	if err != nil {
		return &driver.Error{Op: "evaluate", Err: err}
	}
	err = json.Unmarshal(buf, out)
	if err != nil {
		return &driver.Error{Op: "evaluate", Err: fmt.Errorf("decode result: %w", err)}
	}
	return nil
}

func (f *Fake) QueryAll(ctx context.Context, selector string, timeout time.Duration) ([]driver.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, &driver.Error{Op: "query", Err: err}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("query"); err != nil {
		return nil, err
	}

	var texts []string
	if f.Elements != nil {
		texts = f.Elements(selector)
	}
	if len(texts) == 0 {
		return nil, &driver.Error{Op: "query", Err: fmt.Errorf("%s: %w", selector, driver.ErrNotFound)}
	}
	if f.elements == nil {
		f.elements = map[driver.Element]element{}
	}
	out := make([]driver.Element, len(texts))
	for i, text := range texts {
		f.nextID++
		id := driver.Element(f.nextID)
		f.elements[id] = element{selector: selector, text: text}
		out[i] = id
	}
	return out, nil
}

func (f *Fake) Query(ctx context.Context, selector string, timeout time.Duration) (driver.Element, error) {
	elements, err := f.QueryAll(ctx, selector, timeout)
	if err != nil {
		return 0, err
	}
	return elements[0], nil
}

func (f *Fake) lookup(op string, el driver.Element) (element, error) {
	e, ok := f.elements[el]
	if !ok {
		return element{}, &driver.Error{Op: op, Err: fmt.Errorf("stale element %d: %w", el, driver.ErrNotFound)}
	}
	return e, nil
}

func (f *Fake) Text(ctx context.Context, el driver.Element) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("text"); err != nil {
		return "", err
	}
	e, err := f.lookup("text", el)
	return e.text, err
}

func (f *Fake) Click(ctx context.Context, el driver.Element) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("click"); err != nil {
		return err
	}
	e, err := f.lookup("click", el)
	if err != nil {
		return err
	}
	f.clicks = append(f.clicks, e.selector)
	return nil
}

func (f *Fake) OuterHTML(ctx context.Context, selector string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &driver.Error{Op: "outer_html", Err: err}
	}
	f.mu.Lock()
	if err := f.fail("outer_html"); err != nil {
		f.mu.Unlock()
		return "", err
	}
	html := f.HTML
	f.mu.Unlock()

	if html == nil {
		return "", &driver.Error{Op: "outer_html", Err: fmt.Errorf("%s: %w", selector, driver.ErrNotFound)}
	}
	out, err := html(selector)
	if err != nil {
		return "", &driver.Error{Op: "outer_html", Err: err}
	}
	return out, nil
}

func (f *Fake) Title(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &driver.Error{Op: "title", Err: err}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("title"); err != nil {
		return "", err
	}
	if len(f.Pages) == 0 {
		f.current = Page{}
		return "", nil
	}
	idx := f.pageIdx
	if idx >= len(f.Pages) {
		idx = len(f.Pages) - 1
	}
	f.current = f.Pages[idx]
	f.pageIdx++
	return f.current.Title, nil
}

func (f *Fake) URL(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &driver.Error{Op: "url", Err: err}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("url"); err != nil {
		return "", err
	}
	return f.current.URL, nil
}

func (f *Fake) Cookies(ctx context.Context, urls ...string) ([]driver.Cookie, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]driver.Cookie(nil), f.cookies...), nil
}

func (f *Fake) SetCookies(ctx context.Context, cookies []driver.Cookie) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cookies = append(f.cookies, cookies...)
	return nil
}

// Navigations returns every URL navigated to, in order.
func (f *Fake) Navigations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.navigations...)
}

// Scripts returns every script passed to Evaluate, in order.
func (f *Fake) Scripts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.scripts...)
}

// Clicks returns the selectors of every clicked element, in order.
func (f *Fake) Clicks() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.clicks...)
}

var _ driver.Driver = (*Fake)(nil)
var _ driver.CookieJar = (*Fake)(nil)
