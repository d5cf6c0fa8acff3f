package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"panelwatch/internal/components/chrono/chronotest"
	"panelwatch/internal/components/telemetry/telemetrytest"
	"panelwatch/internal/store"
	"panelwatch/internal/withdrawal"

	"github.com/stretchr/testify/require"
)

type fakeDecider struct {
	approved []string
	rejected map[string]string
	err      error
}

func (d *fakeDecider) Approve(ctx context.Context, id string) error {
	if d.err != nil {
		return d.err
	}
	d.approved = append(d.approved, id)
	return nil
}

func (d *fakeDecider) Reject(ctx context.Context, id, reason string) error {
	if d.err != nil {
		return d.err
	}
	if d.rejected == nil {
		d.rejected = map[string]string{}
	}
	d.rejected[id] = reason
	return nil
}

type httpFixture struct {
	server  *httptest.Server
	board   *Board
	decider *fakeDecider
	log     *store.Memory
	stopped *atomic.Int32
}

func newHTTPFixture(t *testing.T, withDecider bool) httpFixture {
	tel := &telemetrytest.Recorder{}
	board := NewBoard(chronotest.NewClock(testStart), tel, nil)
	log := store.NewMemory()
	stopped := &atomic.Int32{}

	opts := HandlerOptions{
		Decisions: log,
		Shutdown:  func() { stopped.Add(1) },
	}
	decider := &fakeDecider{}
	if withDecider {
		opts.Decider = decider
	}

	server := httptest.NewServer(NewHandler(board, tel, opts).Router())
	t.Cleanup(server.Close)

	return httpFixture{
		server:  server,
		board:   board,
		decider: decider,
		log:     log,
		stopped: stopped,
	}
}

func getJSON(t *testing.T, url string, out any) {
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func post(t *testing.T, url string, body string) *http.Response {
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealth(t *testing.T) {
	f := newHTTPFixture(t, false)

	var body map[string]string
	getJSON(t, f.server.URL+"/health", &body)
	require.Equal(t, map[string]string{"status": "ok"}, body)
}

func TestStatus(t *testing.T) {
	f := newHTTPFixture(t, false)

	t.Run("before first scan", func(t *testing.T) {
		var body map[string]any
		getJSON(t, f.server.URL+"/api/status", &body)
		require.Equal(t, "starting", body["status"])
		require.Nil(t, body["last_scan"])
		require.Equal(t, float64(0), body["scan_count"])

		buckets := body["buckets"].(map[string]any)
		require.Len(t, buckets, 3)
		require.Equal(t, float64(0), buckets["pending"].(map[string]any)["count"])
	})

	t.Run("after a scan", func(t *testing.T) {
		f.board.Publish(context.Background(), testResult("r1", 12, record("1", "1.234,50 TRY"), record("2", "500")), TagScanning, "")
		f.board.SetPhase("scanning", 0)

		var body statusResponse
		getJSON(t, f.server.URL+"/api/status", &body)
		require.Equal(t, TagScanning, body.Status)
		require.Equal(t, "scanning", body.Phase)
		require.Equal(t, 1, body.ScanCount)
		require.NotNil(t, body.LastScan)

		pending := body.Buckets[withdrawal.StatusPending]
		require.Equal(t, 12, pending.Count)
		require.Equal(t, "1734.5", pending.Total.String())
	})
}

func TestWithdrawals(t *testing.T) {
	f := newHTTPFixture(t, false)

	var empty withdrawalsResponse
	getJSON(t, f.server.URL+"/api/withdrawals", &empty)
	require.Len(t, empty.Buckets, 3)
	require.Empty(t, empty.Buckets[withdrawal.StatusReserved].Items)

	result := testResult("r2", 3, record("41", "100"), record("42", "250,25"))
	result.Buckets[2] = withdrawal.FailedBucket(withdrawal.StatusProcessing, errors.New("structural"))
	f.board.Publish(context.Background(), result, TagScanning, "")

	var body withdrawalsResponse
	getJSON(t, f.server.URL+"/api/withdrawals", &body)
	require.Equal(t, "r2", body.ScanID)

	pending := body.Buckets[withdrawal.StatusPending]
	require.Equal(t, 3, pending.Count)
	require.Equal(t, "350.25", pending.Total.String())
	require.Len(t, pending.Items, 2)
	require.Equal(t, "41", pending.Items[0].ID)

	processing := body.Buckets[withdrawal.StatusProcessing]
	require.True(t, processing.Failed)
	require.Equal(t, "structural", processing.Error)
	require.Empty(t, processing.Items)
}

func TestDecide(t *testing.T) {
	f := newHTTPFixture(t, true)
	f.board.Publish(context.Background(), testResult("r3", 1, record("77", "1.000")), TagScanning, "")

	resp := post(t, f.server.URL+"/api/withdrawals/77/approve", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var approved store.Decision
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&approved))
	require.True(t, approved.Success)
	require.Equal(t, "user77", approved.Username)
	require.Equal(t, "1.000", approved.Amount)
	require.Equal(t, []string{"77"}, f.decider.approved)

	resp = post(t, f.server.URL+"/api/withdrawals/78/reject", `{"reason":"duplicate"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, map[string]string{"78": "duplicate"}, f.decider.rejected)

	resp = post(t, f.server.URL+"/api/withdrawals/79/reject", `{"reason":`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	f.decider.err = errors.New("panel said no")
	resp = post(t, f.server.URL+"/api/withdrawals/80/approve", "")
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)

	var decisions []store.Decision
	getJSON(t, f.server.URL+"/api/decisions", &decisions)
	require.Len(t, decisions, 3)
	require.Equal(t, "80", decisions[0].WithdrawalID)
	require.False(t, decisions[0].Success)
	require.Equal(t, "panel said no", decisions[0].Error)
	require.Equal(t, store.ActionReject, decisions[1].Action)
	require.Equal(t, "77", decisions[2].WithdrawalID)

	getJSON(t, f.server.URL+"/api/decisions?limit=1", &decisions)
	require.Len(t, decisions, 1)

	resp, err := http.Get(f.server.URL + "/api/decisions?limit=zero")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDecideWithoutPanelAPI(t *testing.T) {
	f := newHTTPFixture(t, false)

	resp := post(t, f.server.URL+"/api/withdrawals/1/approve", "")
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	decisions, err := f.log.ListDecisions(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, decisions)
}

func TestShutdown(t *testing.T) {
	f := newHTTPFixture(t, false)

	resp, err := http.Get(f.server.URL + "/api/shutdown")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp = post(t, f.server.URL+"/api/shutdown", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Equal(t, int32(1), f.stopped.Load())
}
