package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/crm-insights/internal/model"
	"github.com/sells-group/crm-insights/internal/monitoring"
)

func TestFormatRunsList(t *testing.T) {
	started := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	finished := started.Add(90 * time.Second)
	runs := []model.ScanRun{
		{
			ID:         "abc12345-6789-0000-0000-000000000000",
			WindowKey:  "2025-06-01_2025-06-30",
			Trigger:    model.ScanTriggerManual,
			Status:     model.ScanStatusComplete,
			Attempted:  12,
			Confirmed:  4,
			StartedAt:  started,
			FinishedAt: &finished,
		},
		{
			ID:        "def12345-6789-0000-0000-000000000000",
			WindowKey: "2025-05-01_2025-05-31",
			Trigger:   model.ScanTriggerAuto,
			Status:    model.ScanStatusRunning,
			StartedAt: started.Add(-time.Hour),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	out := buf.String()
	assert.Contains(t, out, "WINDOW")
	assert.Contains(t, out, "abc12345")
	assert.NotContains(t, out, "abc12345-6789")
	assert.Contains(t, out, "2025-06-01_2025-06-30")
	assert.Contains(t, out, "manual")
	assert.Contains(t, out, "complete")
	assert.Contains(t, out, "1m30s")
	assert.Contains(t, out, "running")
	assert.Contains(t, out, "2025-06-15 10:30")
}

func TestFormatRunStats(t *testing.T) {
	var buf bytes.Buffer
	formatRunStats(&buf, &monitoring.Snapshot{
		ScansTotal:      3,
		ScansComplete:   2,
		ScansCancelled:  1,
		Attempted:       20,
		Confirmed:       5,
		RemoteErrors:    2,
		RemoteErrorRate: 0.1,
		LookbackHours:   24,
		ScansRunning:    1,
		StaleRuns:       1,
	})

	out := buf.String()
	assert.Contains(t, out, "24h")
	assert.Contains(t, out, "Total scans:")
	assert.Contains(t, out, "1 (1 stale)")
	assert.Contains(t, out, "2 (10.0%)")
}

func TestRunDuration(t *testing.T) {
	start := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	end := start.Add(2*time.Minute + 400*time.Millisecond)
	assert.Equal(t, "2m0s", runDuration(model.ScanRun{StartedAt: start, FinishedAt: &end}))
	assert.Empty(t, runDuration(model.ScanRun{StartedAt: start}))
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789"))
	assert.Equal(t, "short", truncateID("short"))
}
