package telemetry

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newBufferedAPI() (SlogAPI, *bytes.Buffer) {
	var buf bytes.Buffer
	handler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return SlogAPI{Logger: slog.New(handler)}, &buf
}

func TestSlogParams(t *testing.T) {
	api, buf := newBufferedAPI()

	api.ReportBroken("filter.select-status", errors.New("no table"), KV{Key: "status", Value: "pending"}, 3)
	line := buf.String()
	require.Contains(t, line, "level=ERROR")
	require.Contains(t, line, `id=filter.select-status`)
	require.Contains(t, line, `err="no table"`)
	require.Contains(t, line, "status=pending")
	require.Contains(t, line, "params.2=3")
}

func TestScopedAPI(t *testing.T) {
	api, buf := newBufferedAPI()
	scoped := NewScopedAPI("session", NewScopedAPI("panel", api))

	scoped.ReportWarning("session.restore")
	scoped.ReportDebug("waiting for login")
	scoped.ReportCount("orchestrator.records", 7)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	require.Contains(t, lines[0], `id="panel: session: session.restore"`)
	require.Contains(t, lines[1], `msg="panel: session: waiting for login"`)
	require.Contains(t, lines[2], "n=7")
}
