package bitrix

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/sells-group/crm-insights/internal/resilience"
)

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/rest/1/secret/", WithRetry(fastRetry()))
}

func readBody(t *testing.T, r *http.Request) gjson.Result {
	t.Helper()
	data, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	return gjson.ParseBytes(data)
}

func TestListDeals_FollowsPagination(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/rest/1/secret/crm.deal.list.json", r.URL.Path)

		body := readBody(t, r)
		assert.Equal(t, "2025-03-01", body.Get(`filter.>=DATE_CREATE`).String())
		assert.Equal(t, "ID", body.Get("select.0").String())

		switch body.Get("start").Int() {
		case 0:
			_, _ = w.Write([]byte(`{"result": [{"ID": "1"}, {"ID": "2"}], "next": 50, "total": 3}`))
		case 50:
			_, _ = w.Write([]byte(`{"result": [{"ID": "3"}], "total": 3}`))
		default:
			t.Errorf("unexpected start %d", body.Get("start").Int())
		}
	})

	got, err := client.ListDeals(context.Background(), ListParams{
		Filter: map[string]any{">=DATE_CREATE": "2025-03-01"},
		Select: []string{"ID", "PHONE"},
	})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.JSONEq(t, `{"ID": "3"}`, string(got[2]))
	assert.Equal(t, int32(2), calls.Load())
}

func TestListLeads_Empty(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/1/secret/crm.lead.list.json", r.URL.Path)
		_, _ = w.Write([]byte(`{"result": [], "total": 0}`))
	})

	got, err := client.ListLeads(context.Background(), ListParams{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGetDeal(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/1/secret/crm.deal.get.json", r.URL.Path)
		assert.Equal(t, "42", readBody(t, r).Get("id").String())
		_, _ = w.Write([]byte(`{"result": {"ID": "42", "PHONE": [{"VALUE": "+55 85 99999-0001"}]}}`))
	})

	raw, err := client.GetDeal(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "+55 85 99999-0001", gjson.GetBytes(raw, "PHONE.0.VALUE").String())
}

func TestFindLeadsByPhone(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body := readBody(t, r)
		assert.Equal(t, "LEAD", body.Get("entity_type").String())
		assert.Equal(t, "PHONE", body.Get("type").String())
		if body.Get("values.0").String() == "85999990001" {
			_, _ = w.Write([]byte(`{"result": {"LEAD": [101, 205]}}`))
			return
		}
		_, _ = w.Write([]byte(`{"result": []}`))
	})

	ids, err := client.FindLeadsByPhone(context.Background(), "85999990001")
	require.NoError(t, err)
	assert.Equal(t, []string{"101", "205"}, ids)

	ids, err = client.FindLeadsByPhone(context.Background(), "11900000000")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestCall_RetriesThrottling(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error": "QUERY_LIMIT_EXCEEDED", "error_description": "Too many requests"}`))
			return
		}
		_, _ = w.Write([]byte(`{"result": {"LEAD": [7]}}`))
	})

	ids, err := client.FindLeadsByPhone(context.Background(), "85999990001")
	require.NoError(t, err)
	assert.Equal(t, []string{"7"}, ids)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCall_PermanentAPIError(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": "invalid_token", "error_description": "The access token provided is invalid."}`))
	})

	_, err := client.GetDeal(context.Background(), "1")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "invalid_token", apiErr.Code)
	assert.False(t, resilience.IsTransient(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestCall_ServerErrorExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`<html>bad gateway</html>`))
	})

	_, err := client.ListDeals(context.Background(), ListParams{})
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.Equal(t, int32(3), calls.Load())
}

func TestListDeals_PageLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := readBody(t, r).Get("start").Int()
		_ = json.NewEncoder(w).Encode(map[string]any{"result": []map[string]string{{"ID": "x"}}, "next": start + PageSize})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, WithRetry(fastRetry()), WithMaxPages(3))
	_, err := client.ListDeals(context.Background(), ListParams{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeded 3 pages")
}

func TestWithRateLimit_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"result": []}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, WithRateLimit(0.001), WithRetry(fastRetry()))
	_, err := client.ListLeads(context.Background(), ListParams{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = client.ListLeads(ctx, ListParams{})
	require.Error(t, err)
}
