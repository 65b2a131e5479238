package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crm-insights/internal/crm"
	"github.com/sells-group/crm-insights/internal/dashboard"
	"github.com/sells-group/crm-insights/internal/model"
	"github.com/sells-group/crm-insights/internal/monitoring"
	"github.com/sells-group/crm-insights/internal/reconcile"
	"github.com/sells-group/crm-insights/internal/store"
)

type stubSource struct {
	err error
}

func (s stubSource) Fetch(context.Context, model.Window) (crm.RawBatch, error) {
	if s.err != nil {
		return crm.RawBatch{}, s.err
	}
	return crm.RawBatch{
		Leads: [][]byte{
			[]byte(`{"ID":"L1","TITLE":"Alice","SOURCE_ID":"WEB","STATUS_ID":"CONVERTED","DATE_CREATE":"2025-03-02","PHONE":"85911110000"}`),
		},
		Deals: [][]byte{
			[]byte(`{"ID":"A","TITLE":"Kitchen","OPPORTUNITY":1500,"STAGE_SEMANTIC_ID":"S","CLOSED":"Y","DATE_CREATE":"2025-03-05","CLOSEDATE":"2025-03-10","SOURCE_ID":"WEB","LEAD_ID":"L1"}`),
			[]byte(`{"ID":"B","TITLE":"Office","OPPORTUNITY":500,"STAGE_SEMANTIC_ID":"P","DATE_CREATE":"2025-03-07","SOURCE_ID":"WEB","PHONE":"11988887777"}`),
		},
	}, nil
}

func newTestServer(t *testing.T, src crm.Source) (*httptest.Server, *prometheus.Registry) {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(ctx, "sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(ctx))
	t.Cleanup(func() { _ = st.Close() })

	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)

	ro := reconcile.DefaultOptions()
	ro.BatchDelay = 0
	ro.Hooks = metrics.Hooks(reconcile.Hooks{})

	svc := dashboard.New(src, nil, st, dashboard.Options{
		DefaultGoals: model.DemandGoals{
			Channels:       map[string]model.ChannelGoal{"Site": {Revenue: 3000, Pipeline: 1000}},
			ConversionRate: 10,
		},
		Reconcile: ro,
		Observer:  metrics,
		Now:       func() time.Time { return time.Date(2025, 3, 15, 12, 0, 0, 0, time.Local) },
	})
	t.Cleanup(svc.Close)

	srv := httptest.NewServer(newRouter(svc, reg, []string{"*"}))
	t.Cleanup(srv.Close)
	return srv, reg
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close() //nolint:errcheck
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestRouter_Health(t *testing.T) {
	srv, _ := newTestServer(t, stubSource{})

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	decode(t, resp, &body)
	assert.Equal(t, "ok", body["status"])
}

func TestRouter_Dashboard(t *testing.T) {
	srv, _ := newTestServer(t, stubSource{})

	resp, err := http.Get(srv.URL + "/api/dashboard?start=2025-03-01&end=2025-03-31")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var view dashboard.View
	decode(t, resp, &view)
	assert.Equal(t, 1, view.Metrics.Funnel.TotalLeads)
	assert.Equal(t, 2, view.Metrics.Funnel.TotalDeals)
	assert.InDelta(t, 1500, view.Metrics.Financial.Revenue, 1e-9)
	require.Len(t, view.Records, 2)
	assert.Equal(t, model.TierExactReference, view.Records[0].Tier)
	assert.Equal(t, model.TierUnmatched, view.Records[1].Tier)
}

func TestRouter_Dashboard_BadWindow(t *testing.T) {
	srv, _ := newTestServer(t, stubSource{})

	resp, err := http.Get(srv.URL + "/api/dashboard?start=March")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestRouter_Dashboard_FetchErrorIsRetryable(t *testing.T) {
	srv, _ := newTestServer(t, stubSource{err: errors.New("connection refused")})

	resp, err := http.Get(srv.URL + "/api/dashboard?start=2025-03-01&end=2025-03-31")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	var body map[string]any
	decode(t, resp, &body)
	assert.Equal(t, true, body["retryable"])
	assert.Contains(t, body["error"], "connection refused")
}

func TestRouter_Rescan(t *testing.T) {
	srv, _ := newTestServer(t, stubSource{})

	resp, err := http.Post(srv.URL+"/api/reconcile/scan", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "no window loaded yet")
	_ = resp.Body.Close()

	resp, err = http.Get(srv.URL + "/api/dashboard?start=2025-03-01&end=2025-03-31")
	require.NoError(t, err)
	_ = resp.Body.Close()

	resp, err = http.Post(srv.URL+"/api/reconcile/scan", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	_ = resp.Body.Close()

	require.Eventually(t, func() bool {
		resp, err := http.Get(srv.URL + "/api/reconcile/progress")
		if err != nil {
			return false
		}
		var body struct {
			Scanning bool                       `json:"scanning"`
			Progress reconcile.ProgressSnapshot `json:"progress"`
		}
		defer resp.Body.Close() //nolint:errcheck
		if json.NewDecoder(resp.Body).Decode(&body) != nil {
			return false
		}
		return !body.Scanning && body.Progress.Percent == 100
	}, 5*time.Second, 20*time.Millisecond)
}

func TestRouter_Goals(t *testing.T) {
	srv, _ := newTestServer(t, stubSource{})

	resp, err := http.Get(srv.URL + "/api/goals")
	require.NoError(t, err)
	var goals model.DemandGoals
	decode(t, resp, &goals)
	assert.InDelta(t, 3000, goals.Channels["Site"].Revenue, 1e-9)

	body := `{"channels":{"Instagram":{"revenue":5000,"pipeline":2000}},"conversion_rate":15}`
	req, err := http.NewRequest(http.MethodPut, srv.URL+"/api/goals", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	decode(t, resp, &goals)
	assert.InDelta(t, 15, goals.ConversionRate, 1e-9)
	assert.InDelta(t, 5000, goals.Channels["Instagram"].Revenue, 1e-9)
	assert.InDelta(t, 3000, goals.Channels["Site"].Revenue, 1e-9, "defaults still fill unsaved channels")
}

func TestRouter_Goals_Invalid(t *testing.T) {
	srv, _ := newTestServer(t, stubSource{})

	for _, body := range []string{`{"conversion_rate":150}`, `not json`} {
		req, err := http.NewRequest(http.MethodPut, srv.URL+"/api/goals", strings.NewReader(body))
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
		_ = resp.Body.Close()
	}
}

func TestRouter_Metrics(t *testing.T) {
	srv, _ := newTestServer(t, stubSource{})

	resp, err := http.Get(srv.URL + "/api/dashboard?start=2025-03-01&end=2025-03-31")
	require.NoError(t, err)
	_ = resp.Body.Close()

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	buf := new(strings.Builder)
	_, err = io.Copy(buf, resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "crm_insights_crm_fetch_duration_seconds")
}

func TestRouter_CORS(t *testing.T) {
	srv, _ := newTestServer(t, stubSource{})

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/goals", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPut)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestRouter_RefreshAndRecords(t *testing.T) {
	srv, _ := newTestServer(t, stubSource{})

	resp, err := http.Post(srv.URL+"/api/refresh", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	_ = resp.Body.Close()

	resp, err = http.Get(srv.URL + "/api/reconcile/records")
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	_ = resp.Body.Close()

	resp, err = http.Get(srv.URL + "/api/dashboard?start=2025-03-01&end=2025-03-31")
	require.NoError(t, err)
	_ = resp.Body.Close()

	resp, err = http.Post(srv.URL+"/api/refresh", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var refreshed struct {
		Status string       `json:"status"`
		Window model.Window `json:"window"`
	}
	decode(t, resp, &refreshed)
	assert.Equal(t, "refreshed", refreshed.Status)
	require.NotNil(t, refreshed.Window.Start)
	assert.Equal(t, "2025-03-01", refreshed.Window.Start.Format(model.DateLayout))

	resp, err = http.Get(srv.URL + "/api/reconcile/records")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Records []model.ReconciliationRecord `json:"records"`
	}
	decode(t, resp, &body)
	require.Len(t, body.Records, 2)
	assert.Equal(t, "A", body.Records[0].DealID)
	assert.Equal(t, "L1", body.Records[0].LeadID)
}
