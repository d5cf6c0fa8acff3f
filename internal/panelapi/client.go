// Package panelapi talks to the panel's JSON api with the token of the
// browser session.
package panelapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"panelwatch/internal/components/assert"
	"panelwatch/internal/components/telemetry"
	"panelwatch/internal/scrapers/panel"
	"panelwatch/internal/store"
	"panelwatch/lib/restyutil"
	libtelemetry "panelwatch/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const (
	report_client_approve      = "client.approve"
	report_client_reject       = "client.reject"
	report_client_list_pending = "client.list-pending"
)

// ErrNoToken means no session has been persisted yet, or it holds no
// token.
var ErrNoToken = errors.New("no access token in the persisted session")

// StatusError is returned when the panel answers with an error status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("panel api returned %d: %s", e.Code, body)
}

type Client struct {
	http  *resty.Client
	creds store.CredentialStore
	tel   telemetry.API
}

// NewClient creates a client against apiUrl (usually <origin>/_api).
func NewClient(apiUrl string, creds store.CredentialStore, tel telemetry.API) *Client {
	assert.NotEmptyStr(apiUrl)
	assert.NotNil(creds)
	assert.NotNil(tel)

	tel = telemetry.NewScopedAPI("panel_api", tel)

	httpClient := resty.New()
	httpClient.SetBaseURL(strings.TrimSuffix(apiUrl, "/"))
	httpClient.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(httpClient.GetClient().Transport)
	httpClient.SetHeader("accept", "application/json")
	httpClient.SetTimeout(time.Second * 30)

	// 2 requests max per second
	// max burst >= 2 just means that no requests will be dropped
	rateLimiter := rate.NewLimiter(2, 2)
	httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return rateLimiter.Wait(req.Context())
	})

	telemetry.InstrumentResty(httpClient, tel)
	libtelemetry.TraceResty(httpClient, "panelwatch.internal.panelapi")

	return &Client{
		http:  httpClient,
		creds: creds,
		tel:   tel,
	}
}

// DumpTo writes every exchange with the api into dir, credentials
// redacted.
func (c *Client) DumpTo(dir string) error {
	output, err := restyutil.NewFilesystemOutput(dir)
	if err != nil {
		return fmt.Errorf("dump directory: %w", err)
	}
	restyutil.Dump(c.http, output)
	return nil
}

// request builds a request authenticated with the persisted session.
func (c *Client) request(ctx context.Context) (*resty.Request, error) {
	creds, err := c.creds.LoadCredentials(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoToken
	}
	if err != nil {
		return nil, err
	}
	// some builds of the panel store the token JSON encoded
	token := strings.Trim(creds.Get(panel.TokenKey), `"`)
	if token == "" {
		return nil, ErrNoToken
	}

	cookies := make([]*http.Cookie, 0, len(creds.Cookies))
	for _, cookie := range creds.Cookies {
		cookies = append(cookies, &http.Cookie{Name: cookie.Name, Value: cookie.Value})
	}

	return c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetCookies(cookies), nil
}

func checkResponse(res *resty.Response) error {
	if res.IsError() {
		return &StatusError{Code: res.StatusCode(), Body: strings.TrimSpace(res.String())}
	}
	return nil
}

type decisionRequest struct {
	ID     string `json:"id"`
	Reason string `json:"reason,omitempty"`
}

func (c *Client) Approve(ctx context.Context, id string) error {
	req, err := c.request(ctx)
	if err != nil {
		return fmt.Errorf("approve %s: %w", id, err)
	}
	res, err := req.
		SetBody(decisionRequest{ID: id}).
		Post("/financial/withdrawal/approve")
	if err == nil {
		err = checkResponse(res)
	}
	if err != nil {
		c.tel.ReportWarning(report_client_approve, err, telemetry.KV{Key: "withdrawal", Value: id})
		return fmt.Errorf("approve %s: %w", id, err)
	}
	return nil
}

func (c *Client) Reject(ctx context.Context, id, reason string) error {
	req, err := c.request(ctx)
	if err != nil {
		return fmt.Errorf("reject %s: %w", id, err)
	}
	res, err := req.
		SetBody(decisionRequest{ID: id, Reason: reason}).
		Post("/financial/withdrawal/reject")
	if err == nil {
		err = checkResponse(res)
	}
	if err != nil {
		c.tel.ReportWarning(report_client_reject, err, telemetry.KV{Key: "withdrawal", Value: id})
		return fmt.Errorf("reject %s: %w", id, err)
	}
	return nil
}

// ListPending returns the raw pending withdrawals as the api reports them.
func (c *Client) ListPending(ctx context.Context) ([]json.RawMessage, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	res, err := req.
		SetQueryParams(map[string]string{
			"type":   "2",
			"status": "1",
		}).
		Get("/financial/transactions")
	if err == nil {
		err = checkResponse(res)
	}
	if err != nil {
		c.tel.ReportWarning(report_client_list_pending, err)
		return nil, fmt.Errorf("list pending: %w", err)
	}

	items, err := decodeList(res.Body())
	if err != nil {
		c.tel.ReportBroken(report_client_list_pending, err)
		return nil, fmt.Errorf("list pending: %w", err)
	}
	return items, nil
}

// decodeList accepts either a bare array or an object wrapping the array
// in one of the keys the api has been seen to use.
func decodeList(body []byte) ([]json.RawMessage, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err == nil {
		return items, nil
	}

	var wrapped map[string]json.RawMessage
	err := json.Unmarshal(body, &wrapped)
	if err != nil {
		return nil, fmt.Errorf("decode transactions: %w", err)
	}
	for _, key := range []string{"data", "items", "list"} {
		raw, ok := wrapped[key]
		if !ok {
			continue
		}
		err := json.Unmarshal(raw, &items)
		if err != nil {
			return nil, fmt.Errorf("decode transactions.%s: %w", key, err)
		}
		return items, nil
	}
	return []json.RawMessage{}, nil
}
