// Package driver abstracts the browser tab the scraper runs against.
package driver

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned (wrapped in *Error) when a selector matches nothing
// before its timeout.
var ErrNotFound = errors.New("element not found")

// Error is returned by every Driver operation that fails.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("driver %s: %s", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Element is an opaque handle to a node of the current document, it is
// invalidated by navigation.
type Element int64

// Driver controls a single browser tab. Calls are expected to be made
// sequentially by one goroutine.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	// Evaluate runs script as the body of a function (it should `return`
	// its result) and decodes the JSON encoded return value into out.
	// out may be nil when the result is not needed.
	Evaluate(ctx context.Context, script string, out any) error
	Query(ctx context.Context, selector string, timeout time.Duration) (Element, error)
	QueryAll(ctx context.Context, selector string, timeout time.Duration) ([]Element, error)
	Text(ctx context.Context, el Element) (string, error)
	Click(ctx context.Context, el Element) error
	OuterHTML(ctx context.Context, selector string) (string, error)
	Title(ctx context.Context) (string, error)
	URL(ctx context.Context) (string, error)
}

type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	HTTPOnly bool    `json:"http_only,omitempty"`
}

// CookieJar is implemented by drivers that can read and write the cookies
// of the browser profile.
type CookieJar interface {
	Cookies(ctx context.Context, urls ...string) ([]Cookie, error)
	SetCookies(ctx context.Context, cookies []Cookie) error
}

// IsNotFound reports whether err means a selector matched nothing.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
