package driver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestErrorUnwrap(t *testing.T) {
	err := fmt.Errorf("select status: %w", &Error{
		Op:  "query",
		Err: fmt.Errorf("table tbody tr: %w", ErrNotFound),
	})
	require.True(t, IsNotFound(err))

	var derr *Error
	require.True(t, errors.As(err, &derr))
	require.Equal(t, "query", derr.Op)
	require.Contains(t, err.Error(), "driver query")

	require.False(t, IsNotFound(&Error{Op: "title", Err: context.Canceled}))
}

func findChrome(t *testing.T) string {
	for _, name := range []string{"google-chrome", "chromium", "chromium-browser", "chrome"} {
		path, err := exec.LookPath(name)
		if err == nil {
			return path
		}
	}
	t.Skip("chrome is not installed")
	return ""
}

func TestChrome(t *testing.T) {
	execPath := findChrome(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "text/html")
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "s1", Path: "/"})
		fmt.Fprint(w, `<html><head><title>Dashboard</title></head><body>
			<table><tbody><tr><td>1</td><td>Çekim</td></tr></tbody></table>
			<div class="v-data-footer">1-1 of 1</div>
			<script>localStorage.setItem("access_token", "abc")</script>
		</body></html>`)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*60)
	defer cancel()

	chrome, err := NewChrome(ctx, ChromeOptions{
		Headless:    true,
		ExecPath:    execPath,
		UserDataDir: t.TempDir(),
	})
	require.NoError(t, err)
	defer chrome.Close()

	require.NoError(t, chrome.Navigate(ctx, server.URL))

	title, err := chrome.Title(ctx)
	require.NoError(t, err)
	require.Equal(t, "Dashboard", title)

	url, err := chrome.URL(ctx)
	require.NoError(t, err)
	require.Contains(t, url, server.URL)

	var storage map[string]string
	err = chrome.Evaluate(ctx, `
		var out = {};
		for (var i = 0; i < localStorage.length; i++) {
			var k = localStorage.key(i);
			out[k] = localStorage.getItem(k);
		}
		return out;
	`, &storage)
	require.NoError(t, err)
	require.Equal(t, "abc", storage["access_token"])

	el, err := chrome.Query(ctx, ".v-data-footer", time.Second*5)
	require.NoError(t, err)
	text, err := chrome.Text(ctx, el)
	require.NoError(t, err)
	require.Equal(t, "1-1 of 1", text)

	html, err := chrome.OuterHTML(ctx, "table")
	require.NoError(t, err)
	require.Contains(t, html, "<td>Çekim</td>")

	_, err = chrome.Query(ctx, "#missing", time.Millisecond*500)
	require.True(t, IsNotFound(err))

	_, err = chrome.OuterHTML(ctx, "#missing")
	require.True(t, IsNotFound(err))

	cookies, err := chrome.Cookies(ctx, server.URL)
	require.NoError(t, err)
	require.Len(t, cookies, 1)
	require.Equal(t, "sid", cookies[0].Name)
	require.Equal(t, "s1", cookies[0].Value)
}
