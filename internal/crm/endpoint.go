package crm

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"

	"github.com/sells-group/crm-insights/internal/model"
	"github.com/sells-group/crm-insights/internal/resilience"
)

// EndpointOption configures an Endpoint.
type EndpointOption func(*Endpoint)

// WithEndpointHTTPClient sets the HTTP client used for fetches.
func WithEndpointHTTPClient(hc *http.Client) EndpointOption {
	return func(e *Endpoint) {
		e.http = hc
	}
}

// WithEndpointRetry sets the retry policy for fetches.
func WithEndpointRetry(cfg resilience.RetryConfig) EndpointOption {
	return func(e *Endpoint) {
		e.retry = cfg
	}
}

// Endpoint reads both collections from one HTTP endpoint that answers
// GET ?start=YYYY-MM-DD&end=YYYY-MM-DD with {"leads": [...], "deals": [...]}.
// The arrays may also be nested under "data".
type Endpoint struct {
	url   string
	http  *http.Client
	retry resilience.RetryConfig
}

// NewEndpoint returns an Endpoint source for rawURL.
func NewEndpoint(rawURL string, opts ...EndpointOption) *Endpoint {
	e := &Endpoint{
		url:   rawURL,
		http:  &http.Client{Timeout: 60 * time.Second},
		retry: resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.retry.OnRetry == nil {
		e.retry.OnRetry = resilience.RetryLogger("crm", "endpoint fetch")
	}
	return e
}

// Fetch implements Source.
func (e *Endpoint) Fetch(ctx context.Context, w model.Window) (RawBatch, error) {
	u, err := url.Parse(e.url)
	if err != nil {
		return RawBatch{}, eris.Wrap(err, "crm: parse endpoint url")
	}
	q := u.Query()
	if w.Start != nil {
		q.Set("start", w.Start.Format(model.DateLayout))
	}
	if w.End != nil {
		q.Set("end", w.End.Format(model.DateLayout))
	}
	u.RawQuery = q.Encode()

	body, err := resilience.DoVal(ctx, e.retry, func(ctx context.Context) ([]byte, error) {
		return e.get(ctx, u.String())
	})
	if err != nil {
		return RawBatch{}, eris.Wrap(err, "crm: fetch records")
	}

	root := gjson.ParseBytes(body)
	if data := root.Get("data"); data.IsObject() {
		root = data
	}
	leads, deals := root.Get("leads"), root.Get("deals")
	if !leads.IsArray() && !deals.IsArray() {
		return RawBatch{}, eris.New("crm: endpoint response has no leads or deals")
	}
	return RawBatch{Leads: items(leads), Deals: items(deals)}, nil
}

func (e *Endpoint) get(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, eris.Wrap(err, "crm: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := e.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "crm: endpoint request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "crm: read endpoint response")
	}
	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("crm: endpoint returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, eris.New("crm: endpoint returned invalid JSON")
	}
	return body, nil
}

func items(arr gjson.Result) [][]byte {
	list := arr.Array()
	out := make([][]byte, 0, len(list))
	for _, item := range list {
		out = append(out, []byte(item.Raw))
	}
	return out
}
