package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/reconboard/internal/apiclient"
	"github.com/anstrom/reconboard/internal/apiclient/apitest"
	"github.com/anstrom/reconboard/internal/config"
	"github.com/anstrom/reconboard/internal/dashboard"
	"github.com/anstrom/reconboard/internal/errors"
	"github.com/anstrom/reconboard/internal/logging"
	"github.com/anstrom/reconboard/internal/models"
)

func newTestSession(t *testing.T) (*session, *apitest.Server) {
	t.Helper()
	srv := apitest.New()
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.API.BaseURL = srv.URL
	return newSession(cfg, logging.NewDiscard(), nil), srv
}

func TestListScans(t *testing.T) {
	s, srv := newTestSession(t)
	srv.AddScan("done.example.com", models.ScanStatusCompleted)
	srv.AddScan("busy.example.com", models.ScanStatusRunning)

	var out bytes.Buffer
	require.NoError(t, listScans(context.Background(), s, &out, false))
	assert.Contains(t, out.String(), "2 scans, 1 running")
	assert.Contains(t, out.String(), "done.example.com")
	assert.Contains(t, out.String(), "busy.example.com")

	out.Reset()
	require.NoError(t, listScans(context.Background(), s, &out, true))
	assert.Contains(t, out.String(), "busy.example.com")
	assert.NotContains(t, out.String(), "done.example.com")
}

func TestListScansEmpty(t *testing.T) {
	s, _ := newTestSession(t)

	var out bytes.Buffer
	require.NoError(t, listScans(context.Background(), s, &out, false))
	assert.Contains(t, out.String(), "No scans yet")
}

func TestListScansUnreachable(t *testing.T) {
	s, srv := newTestSession(t)
	srv.Close()

	var out bytes.Buffer
	err := listScans(context.Background(), s, &out, false)
	require.Error(t, err)
	assert.True(t, errors.IsNetwork(err))
	assert.Empty(t, out.String())
}

func TestStartScan(t *testing.T) {
	s, srv := newTestSession(t)

	var out bytes.Buffer
	require.NoError(t, startScan(context.Background(), s, &out, "  Example.COM "))
	assert.Contains(t, out.String(), "Started scan #1 for example.com (pending)")
	require.Len(t, srv.Scans(), 1)

	err := startScan(context.Background(), s, &out, "   ")
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
	assert.Equal(t, 1, srv.Count(apitest.RouteCreateScan))
}

func TestDeleteScan(t *testing.T) {
	s, srv := newTestSession(t)
	scan := srv.AddScan("example.com", models.ScanStatusCompleted)

	var out bytes.Buffer
	require.NoError(t, deleteScan(context.Background(), s, &out, scan.ID))
	assert.Contains(t, out.String(), "Deleted scan #1")
	assert.Empty(t, srv.Scans())

	out.Reset()
	err := deleteScan(context.Background(), s, &out, scan.ID)
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, apiclient.StatusCode(err))
	assert.Empty(t, out.String())
}

func TestShowScan(t *testing.T) {
	s, srv := newTestSession(t)
	scan := srv.AddScan("example.com", models.ScanStatusCompleted)
	srv.AddResults(scan.ID, 4, 2)

	var out bytes.Buffer
	require.NoError(t, showScan(context.Background(), s, &out, scan.ID))
	assert.Contains(t, out.String(), "Scan #1")
	assert.Contains(t, out.String(), "example.com")
	assert.Contains(t, out.String(), "Subdomains: 4 (2 alive, 2 with open ports)")
	assert.Contains(t, out.String(), "host0.scan1.example.com")

	err := showScan(context.Background(), s, &out, 42)
	assert.Equal(t, http.StatusNotFound, apiclient.StatusCode(err))
}

func TestBrowseResults(t *testing.T) {
	s, srv := newTestSession(t)
	scan := srv.AddScan("example.com", models.ScanStatusCompleted)
	srv.AddResults(scan.ID, 120, 2)

	var out bytes.Buffer
	require.NoError(t, browseResults(context.Background(), s, &out, resultOptions{scanID: scan.ID, page: 3}))
	assert.Contains(t, out.String(), "Page 3 of 3 (120 results)")
	assert.Equal(t, 1, srv.Count(apitest.RouteListResults), "settled state fetches one page")

	out.Reset()
	require.NoError(t, browseResults(context.Background(), s, &out, resultOptions{scanID: scan.ID, aliveOnly: true, page: 1}))
	assert.Contains(t, out.String(), "Page 1 of 2 (60 results)")
	assert.NotContains(t, out.String(), "host1.scan1.example.com")
}

func TestBrowseResultsEmpty(t *testing.T) {
	s, _ := newTestSession(t)

	var out bytes.Buffer
	require.NoError(t, browseResults(context.Background(), s, &out, resultOptions{page: 1}))
	assert.Contains(t, out.String(), "No results found")
}

func TestBrowseResultsRejectsPageZero(t *testing.T) {
	s, srv := newTestSession(t)

	err := browseResults(context.Background(), s, &bytes.Buffer{}, resultOptions{page: 0})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
	assert.Zero(t, srv.Count(apitest.RouteListResults))
}

func TestExportResults(t *testing.T) {
	s, srv := newTestSession(t)
	scan := srv.AddScan("example.com", models.ScanStatusCompleted)
	srv.AddResults(scan.ID, 3, 0)
	dir := filepath.Join(t.TempDir(), "exports")

	var out bytes.Buffer
	require.NoError(t, exportResults(context.Background(), s, &out, scan.ID, dir))

	path := filepath.Join(dir, "recon_results_1.json")
	assert.Contains(t, out.String(), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var rows []map[string]any
	require.NoError(t, json.Unmarshal(data, &rows))
	assert.Len(t, rows, 3)
}

func TestScheduleCommands(t *testing.T) {
	s, srv := newTestSession(t)
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, addSchedule(ctx, s, &out, "example.com", "weekly"))
	assert.Contains(t, out.String(), `Scheduled example.com with "0 0 * * 0" (#1, active)`)

	out.Reset()
	require.NoError(t, addSchedule(ctx, s, &out, "other.com", "every full moon"))
	assert.Contains(t, out.String(), "not a standard cron expression")

	out.Reset()
	require.NoError(t, toggleSchedule(ctx, s, &out, 1))
	assert.Contains(t, out.String(), "Schedule #1 (example.com) is paused")

	out.Reset()
	require.NoError(t, listSchedules(ctx, s, &out))
	assert.Contains(t, out.String(), "2 schedules, 1 active")
	assert.Contains(t, out.String(), "Paused")

	out.Reset()
	require.NoError(t, removeSchedule(ctx, s, &out, 1))
	assert.Contains(t, out.String(), "Removed schedule #1")

	err := removeSchedule(ctx, s, &out, 1)
	assert.Equal(t, http.StatusNotFound, apiclient.StatusCode(err))
	assert.Equal(t, 2, srv.Count(apitest.RouteDeleteSchedule))
}

func TestAddScheduleRejectsBlankDomain(t *testing.T) {
	s, srv := newTestSession(t)

	err := addSchedule(context.Background(), s, &bytes.Buffer{}, " ", "daily")
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
	assert.Zero(t, srv.Count(apitest.RouteCreateSchedule))
}

func TestScheduleRowsMarkEstimates(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)
	known := models.NewTimestamp(now.Add(time.Hour))

	schedules := []models.Schedule{
		{ID: 1, CronExpression: "0 * * * *", IsActive: true},
		{ID: 2, CronExpression: "0 * * * *", IsActive: false},
		{ID: 3, CronExpression: "not cron", IsActive: true},
		{ID: 4, CronExpression: "0 * * * *", IsActive: true, NextRun: &known},
	}

	rows := scheduleRows(schedules, now)
	require.Len(t, rows, 4)
	nextRun := len(dashboard.ScheduleHeaders) - 1
	assert.Equal(t, "~2024-05-01 11:00 (est.)", rows[0][nextRun])
	assert.Equal(t, "-", rows[1][nextRun])
	assert.Equal(t, "-", rows[2][nextRun])
	assert.Equal(t, known.String(), rows[3][nextRun], "server value is shown as is")
	assert.Nil(t, schedules[0].NextRun, "input is not modified")
}

func TestShowStats(t *testing.T) {
	s, srv := newTestSession(t)
	running := srv.AddScan("busy.example.com", models.ScanStatusRunning)
	srv.AddScan("done.example.com", models.ScanStatusCompleted)
	srv.AddResults(running.ID, 2, 0)

	var out bytes.Buffer
	require.NoError(t, showStats(context.Background(), s, &out))
	assert.Contains(t, out.String(), "busy.example.com")
	assert.Contains(t, out.String(), "done.example.com")
	assert.Contains(t, out.String(), "nginx")
	assert.NotContains(t, out.String(), "No running scans")
}

func TestShowStatsWithoutStats(t *testing.T) {
	s, srv := newTestSession(t)
	srv.SetResponse(apitest.RouteStats, http.StatusInternalServerError, `{"detail": "boom"}`)

	var out bytes.Buffer
	require.NoError(t, showStats(context.Background(), s, &out))
	assert.Contains(t, out.String(), "No running scans")
	assert.Contains(t, out.String(), "No open ports found yet")
}

func TestShowStatus(t *testing.T) {
	s, srv := newTestSession(t)

	var out bytes.Buffer
	require.NoError(t, showStatus(context.Background(), s, &out))
	assert.Contains(t, out.String(), "Status: healthy")
	assert.Contains(t, out.String(), srv.URL)

	srv.SetResponse(apitest.RouteHealth, http.StatusOK, `{"status": "degraded", "timestamp": "2024-05-01T10:00:00"}`)
	err := showStatus(context.Background(), s, &out)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeAPIStatus))
}

func TestParseID(t *testing.T) {
	tests := []struct {
		name    string
		arg     string
		want    int64
		wantErr bool
	}{
		{name: "valid", arg: "12", want: 12},
		{name: "zero", arg: "0", wantErr: true},
		{name: "negative", arg: "-3", wantErr: true},
		{name: "not a number", arg: "abc", wantErr: true},
		{name: "empty", arg: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseID(tt.arg, "scan id")
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHandleAPIError(t *testing.T) {
	const baseURL = "http://recon.local:8000"

	tests := []struct {
		name     string
		err      error
		contains []string
	}{
		{
			name:     "validation",
			err:      errors.ErrValidation("domain", "domain must not be empty"),
			contains: []string{"Error: domain must not be empty"},
		},
		{
			name:     "network",
			err:      errors.ErrNetwork(apiclient.OpListScans, context.DeadlineExceeded),
			contains: []string{baseURL, config.EnvAPIURL},
		},
		{
			name:     "conflict",
			err:      errors.New(errors.CodeConflict, "scan 3 is already being deleted"),
			contains: []string{"delete scan failed", "already being deleted"},
		},
		{
			name:     "not found",
			err:      &apiclient.APIError{StatusCode: http.StatusNotFound, Message: "Scan not found"},
			contains: []string{"Resource not found for delete scan"},
		},
		{
			name:     "rejected",
			err:      &apiclient.APIError{StatusCode: http.StatusUnprocessableEntity, Message: "bad domain"},
			contains: []string{"the API rejected delete scan: bad domain"},
		},
		{
			name:     "server error",
			err:      &apiclient.APIError{StatusCode: http.StatusBadGateway, Message: "upstream", RequestID: "req-7"},
			contains: []string{"Server error during delete scan: upstream", "req-7"},
		},
		{
			name:     "other",
			err:      context.Canceled,
			contains: []string{"delete scan failed"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			handleAPIError(&out, tt.err, "delete scan", baseURL)
			for _, want := range tt.contains {
				assert.Contains(t, out.String(), want)
			}
		})
	}
}
