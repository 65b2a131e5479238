package salesforce

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// fakeClient serves canned Query and GetRecord results.
type fakeClient struct {
	query  func(soql string, out any) error
	record func(sObjectName, id string, out any) error
	search func(sosl string, out any) error
	soql   []string
}

func (f *fakeClient) Query(_ context.Context, soql string, out any) error {
	f.soql = append(f.soql, soql)
	if f.query == nil {
		return nil
	}
	return f.query(soql, out)
}

func (f *fakeClient) GetRecord(_ context.Context, sObjectName, id string, out any) error {
	if f.record == nil {
		return nil
	}
	return f.record(sObjectName, id, out)
}

func (f *fakeClient) Search(_ context.Context, sosl string, out any) error {
	f.soql = append(f.soql, sosl)
	if f.search == nil {
		return nil
	}
	return f.search(sosl, out)
}

var _ Client = (*jwtClient)(nil)

func TestConnect_RequiresClientID(t *testing.T) {
	_, err := Connect(Creds{Username: "ops@example.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client id is required")
}

func TestWithRateLimit(t *testing.T) {
	cases := []struct {
		name  string
		rps   float64
		burst int
	}{
		{"whole rate", 10, 10},
		{"fractional rate", 0.5, 1},
		{"zero disables", 0, 0},
		{"negative disables", -5, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewClient(nil, WithRateLimit(tc.rps)).(*jwtClient)
			if tc.burst == 0 {
				assert.Nil(t, c.limiter)
				return
			}
			require.NotNil(t, c.limiter)
			assert.Equal(t, rate.Limit(tc.rps), c.limiter.Limit())
			assert.Equal(t, tc.burst, c.limiter.Burst())
		})
	}
}

func TestThrottle_CancelledContext(t *testing.T) {
	c := &jwtClient{limiter: rate.NewLimiter(rate.Every(time.Hour), 0)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Query(ctx, "SELECT Id FROM Lead", &[]Lead{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sf: rate limit")
	assert.Error(t, c.GetRecord(ctx, "Opportunity", "006xx", &Opportunity{}))
}

func TestDecodeRecord(t *testing.T) {
	body := `{"Id":"006xx","Amount":1500.5,"IsWon":true,"Account":{"Phone":"(85) 99999-0001"},"Owner":null}`

	var opp Opportunity
	require.NoError(t, decodeRecord(strings.NewReader(body), &opp))
	assert.Equal(t, "006xx", opp.ID)
	assert.InDelta(t, 1500.5, opp.Amount, 0.001)
	require.NotNil(t, opp.Account)
	assert.Equal(t, "(85) 99999-0001", opp.Account.Phone)
	assert.Nil(t, opp.Owner)

	err := decodeRecord(strings.NewReader(`{broken`), &opp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode record")
	assert.Error(t, decodeRecord(strings.NewReader(""), &opp))
}

func TestDecodeSearch(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"wrapped", `{"searchRecords":[{"attributes":{"type":"Lead"},"Id":"00Qa","Phone":"(85) 99999-0001"}]}`},
		{"bare list", `[{"attributes":{"type":"Lead"},"Id":"00Qa","Phone":"(85) 99999-0001"}]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var leads []Lead
			require.NoError(t, decodeSearch([]byte(tc.body), &leads))
			require.Len(t, leads, 1)
			assert.Equal(t, "(85) 99999-0001", leads[0].Phone)
		})
	}

	var leads []Lead
	assert.Error(t, decodeSearch([]byte(`{"totalSize":0}`), &leads))
}
