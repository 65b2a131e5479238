// Package salesforce provides JWT-authenticated read access to Salesforce
// leads and opportunities.
package salesforce

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"path"

	"github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

// Client is the read surface the CRM adapter needs.
type Client interface {
	Query(ctx context.Context, soql string, out any) error
	GetRecord(ctx context.Context, sObjectName, id string, out any) error
	Search(ctx context.Context, sosl string, out any) error
}

// Creds holds the JWT bearer flow settings.
type Creds struct {
	LoginURL   string
	Username   string
	ClientID   string
	PrivateKey string
}

// Option tunes a Client.
type Option func(*jwtClient)

// WithRateLimit caps API calls at rps per second, bursting up to the whole
// part of rps. Non-positive values leave calls unthrottled.
func WithRateLimit(rps float64) Option {
	return func(c *jwtClient) {
		if rps <= 0 {
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
	}
}

// jwtClient adapts go-salesforce to Client. The library takes no context,
// so ctx only bounds the limiter wait.
type jwtClient struct {
	api     *salesforce.Salesforce
	limiter *rate.Limiter
}

// NewClient wraps an initialised go-salesforce handle.
func NewClient(api *salesforce.Salesforce, opts ...Option) Client {
	c := &jwtClient{api: api}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Connect runs the JWT bearer flow against creds.LoginURL.
func Connect(creds Creds, opts ...Option) (Client, error) {
	if creds.ClientID == "" {
		return nil, eris.New("sf: client id is required")
	}
	api, err := salesforce.Init(salesforce.Creds{
		Domain:         creds.LoginURL,
		Username:       creds.Username,
		ConsumerKey:    creds.ClientID,
		ConsumerRSAPem: creds.PrivateKey,
	})
	if err != nil {
		return nil, eris.Wrap(err, "sf: jwt login")
	}
	return NewClient(api, opts...), nil
}

func (c *jwtClient) throttle(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return eris.Wrap(c.limiter.Wait(ctx), "sf: rate limit")
}

func (c *jwtClient) Query(ctx context.Context, soql string, out any) error {
	if err := c.throttle(ctx); err != nil {
		return err
	}
	return eris.Wrap(c.api.Query(soql, out), "sf: query")
}

func (c *jwtClient) GetRecord(ctx context.Context, sObjectName, id string, out any) error {
	if err := c.throttle(ctx); err != nil {
		return err
	}
	resp, err := c.api.DoRequest(http.MethodGet, path.Join("/sobjects", sObjectName, id), nil)
	if err != nil {
		return eris.Wrapf(err, "sf: get %s %s", sObjectName, id)
	}
	defer resp.Body.Close() //nolint:errcheck
	return eris.Wrapf(decodeRecord(resp.Body, out), "sf: get %s %s", sObjectName, id)
}

// Search runs a SOSL query and decodes the matched records into out.
func (c *jwtClient) Search(ctx context.Context, sosl string, out any) error {
	if err := c.throttle(ctx); err != nil {
		return err
	}
	resp, err := c.api.DoRequest(http.MethodGet, "/search/?q="+url.QueryEscape(sosl), nil)
	if err != nil {
		return eris.Wrap(err, "sf: search")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "sf: read search response")
	}
	return eris.Wrap(decodeSearch(body, out), "sf: search")
}

// decodeSearch unpacks the searchRecords list of a SOSL response. Older API
// versions answer with the bare list.
func decodeSearch(body []byte, out any) error {
	doc := gjson.ParseBytes(body)
	records := doc
	if !doc.IsArray() {
		records = doc.Get("searchRecords")
		if !records.Exists() {
			return eris.New("response has no searchRecords")
		}
	}
	if err := json.Unmarshal([]byte(records.Raw), out); err != nil {
		return eris.Wrap(err, "decode search records")
	}
	return nil
}

// decodeRecord reads a single sObject body into out.
func decodeRecord(body io.Reader, out any) error {
	if err := json.NewDecoder(body).Decode(out); err != nil {
		return eris.Wrap(err, "decode record")
	}
	return nil
}
