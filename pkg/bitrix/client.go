// Package bitrix provides a client for the Bitrix24 CRM REST API through an
// inbound webhook URL.
package bitrix

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/sells-group/crm-insights/internal/resilience"
)

// PageSize is the fixed page length of Bitrix24 list methods.
const PageSize = 50

// Client defines the Bitrix24 operations the dashboard uses.
type Client interface {
	// ListLeads returns every lead matching params, following pagination.
	ListLeads(ctx context.Context, params ListParams) ([]json.RawMessage, error)
	// ListDeals returns every deal matching params, following pagination.
	ListDeals(ctx context.Context, params ListParams) ([]json.RawMessage, error)
	// GetDeal returns one full deal record, including multi-value fields.
	GetDeal(ctx context.Context, id string) (json.RawMessage, error)
	// FindLeadsByPhone returns the ids of leads registered with phone.
	FindLeadsByPhone(ctx context.Context, phone string) ([]string, error)
}

// ListParams are the filter and field selection for a list call. Filter keys
// use Bitrix operators, e.g. ">=DATE_CREATE".
type ListParams struct {
	Filter map[string]any `json:"filter,omitempty"`
	Select []string       `json:"select,omitempty"`
	Order  map[string]any `json:"order,omitempty"`
}

// APIError is an error payload returned by Bitrix24.
type APIError struct {
	Method      string
	Code        string
	Description string
}

func (e *APIError) Error() string {
	return "bitrix: " + e.Method + ": " + e.Code + ": " + e.Description
}

// throttleCodes are error codes Bitrix24 returns when a call may succeed
// later.
var throttleCodes = map[string]bool{
	"QUERY_LIMIT_EXCEEDED":  true,
	"OPERATION_TIME_LIMIT":  true,
	"INTERNAL_SERVER_ERROR": true,
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient sets the HTTP client used for calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps calls per second. Bitrix24 allows about two per second
// per portal before throttling.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// WithRetry sets the retry policy for throttled or failed calls.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

// WithMaxPages bounds how many pages a list call follows.
func WithMaxPages(n int) Option {
	return func(c *httpClient) {
		if n > 0 {
			c.maxPages = n
		}
	}
}

type httpClient struct {
	webhook  string
	http     *http.Client
	limiter  *rate.Limiter
	retry    resilience.RetryConfig
	maxPages int
}

// NewClient creates a client for a webhook URL such as
// https://portal.bitrix24.com.br/rest/1/abc123.
func NewClient(webhook string, opts ...Option) Client {
	c := &httpClient{
		webhook:  strings.TrimRight(webhook, "/"),
		http:     &http.Client{Timeout: 30 * time.Second},
		retry:    resilience.DefaultRetryConfig(),
		maxPages: 400,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.OnRetry == nil {
		c.retry.OnRetry = resilience.RetryLogger("bitrix", "call")
	}
	return c
}

func (c *httpClient) ListLeads(ctx context.Context, params ListParams) ([]json.RawMessage, error) {
	return c.list(ctx, "crm.lead.list", params)
}

func (c *httpClient) ListDeals(ctx context.Context, params ListParams) ([]json.RawMessage, error) {
	return c.list(ctx, "crm.deal.list", params)
}

func (c *httpClient) GetDeal(ctx context.Context, id string) (json.RawMessage, error) {
	res, err := c.call(ctx, "crm.deal.get", map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	result := res.Get("result")
	if !result.IsObject() {
		return nil, eris.Errorf("bitrix: crm.deal.get %s: missing result", id)
	}
	return json.RawMessage(result.Raw), nil
}

func (c *httpClient) FindLeadsByPhone(ctx context.Context, phone string) ([]string, error) {
	res, err := c.call(ctx, "crm.duplicate.findbycomm", map[string]any{
		"entity_type": "LEAD",
		"type":        "PHONE",
		"values":      []string{phone},
	})
	if err != nil {
		return nil, err
	}
	// An empty match comes back as "result": [] instead of an object.
	var ids []string
	for _, id := range res.Get("result.LEAD").Array() {
		if s := id.String(); s != "" {
			ids = append(ids, s)
		}
	}
	return ids, nil
}

// list follows the "next" offset until the last page.
func (c *httpClient) list(ctx context.Context, method string, params ListParams) ([]json.RawMessage, error) {
	var out []json.RawMessage
	start := int64(0)
	for page := 0; page < c.maxPages; page++ {
		body := map[string]any{"start": start}
		if params.Filter != nil {
			body["filter"] = params.Filter
		}
		if len(params.Select) > 0 {
			body["select"] = params.Select
		}
		if params.Order != nil {
			body["order"] = params.Order
		}

		res, err := c.call(ctx, method, body)
		if err != nil {
			return nil, eris.Wrapf(err, "bitrix: %s page %d", method, page)
		}
		for _, item := range res.Get("result").Array() {
			out = append(out, json.RawMessage(item.Raw))
		}

		next := res.Get("next")
		if !next.Exists() || next.Int() <= start {
			return out, nil
		}
		start = next.Int()
	}
	return out, eris.Errorf("bitrix: %s exceeded %d pages", method, c.maxPages)
}

// call posts one REST method and returns the parsed response envelope.
func (c *httpClient) call(ctx context.Context, method string, params any) (gjson.Result, error) {
	payload, err := json.Marshal(params)
	if err != nil {
		return gjson.Result{}, eris.Wrapf(err, "bitrix: encode %s", method)
	}

	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) (gjson.Result, error) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return gjson.Result{}, eris.Wrap(err, "bitrix: rate limit")
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhook+"/"+method+".json", bytes.NewReader(payload))
		if err != nil {
			return gjson.Result{}, eris.Wrapf(err, "bitrix: create %s request", method)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return gjson.Result{}, eris.Wrapf(err, "bitrix: %s", method)
		}
		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return gjson.Result{}, eris.Wrapf(err, "bitrix: read %s response", method)
		}

		if !gjson.ValidBytes(body) {
			err := eris.Errorf("bitrix: %s: status %d: invalid JSON body", method, resp.StatusCode)
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return gjson.Result{}, resilience.NewTransientError(err, resp.StatusCode)
			}
			return gjson.Result{}, err
		}

		res := gjson.ParseBytes(body)
		if code := res.Get("error").String(); code != "" {
			apiErr := &APIError{Method: method, Code: code, Description: res.Get("error_description").String()}
			if throttleCodes[code] || resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return gjson.Result{}, resilience.NewTransientError(apiErr, resp.StatusCode)
			}
			return gjson.Result{}, apiErr
		}
		if resp.StatusCode != http.StatusOK {
			err := eris.Errorf("bitrix: %s: unexpected status %d", method, resp.StatusCode)
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return gjson.Result{}, resilience.NewTransientError(err, resp.StatusCode)
			}
			return gjson.Result{}, err
		}
		return res, nil
	})
}
