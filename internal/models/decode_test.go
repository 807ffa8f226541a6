package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/reconboard/internal/errors"
)

func TestDecodeScan(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
		check   func(t *testing.T, s *Scan)
	}{
		{
			name: "pending scan with naive timestamp",
			body: `{"id": 7, "domain": "example.com", "status": "pending", "created_at": "2024-05-01T10:00:00.123456", "completed_at": null}`,
			check: func(t *testing.T, s *Scan) {
				assert.Equal(t, int64(7), s.ID)
				assert.Equal(t, "example.com", s.Domain)
				assert.Equal(t, ScanStatusPending, s.Status)
				assert.Nil(t, s.CompletedAt)
				assert.Equal(t, time.UTC, s.CreatedAt.Location())
			},
		},
		{
			name: "completed scan with recovered fields",
			body: `{"id": 1, "domain": "a.io", "status": "completed", "created_at": "2024-05-01T10:00:00Z",
				"completed_at": "2024-05-01T10:05:00Z", "is_scheduled": true, "schedule_cron": "0 0 * * *"}`,
			check: func(t *testing.T, s *Scan) {
				require.NotNil(t, s.CompletedAt)
				assert.True(t, s.IsScheduled)
				require.NotNil(t, s.ScheduleCron)
				assert.Equal(t, "0 0 * * *", *s.ScheduleCron)
			},
		},
		{name: "missing id", body: `{"domain": "a.io", "status": "pending", "created_at": "2024-05-01T10:00:00"}`, wantErr: true},
		{name: "unknown status", body: `{"id": 1, "domain": "a.io", "status": "paused", "created_at": "2024-05-01T10:00:00"}`, wantErr: true},
		{name: "id has wrong type", body: `{"id": "1", "domain": "a.io", "status": "pending", "created_at": "2024-05-01T10:00:00"}`, wantErr: true},
		{name: "bad timestamp", body: `{"id": 1, "domain": "a.io", "status": "pending", "created_at": "yesterday"}`, wantErr: true},
		{name: "array instead of object", body: `[]`, wantErr: true},
		{name: "null body", body: `null`, wantErr: true},
		{name: "empty body", body: ``, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scan, err := DecodeScan([]byte(tt.body))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsMalformed(err))
				return
			}
			require.NoError(t, err)
			tt.check(t, scan)
		})
	}
}

func TestDecodeScanList(t *testing.T) {
	body := `{"scans": [
		{"id": 2, "domain": "b.io", "status": "running", "created_at": "2024-05-02 09:00:00"},
		{"id": 1, "domain": "a.io", "status": "failed", "created_at": "2024-05-01T09:00:00+02:00"}
	], "total": 2}`

	scans, err := DecodeScanList([]byte(body))
	require.NoError(t, err)
	require.Len(t, scans, 2)
	assert.Equal(t, int64(2), scans[0].ID)
	assert.Equal(t, ScanStatusFailed, scans[1].Status)
	assert.Equal(t, 7, scans[1].CreatedAt.Hour())

	empty, err := DecodeScanList([]byte(`{"scans": []}`))
	require.NoError(t, err)
	assert.Empty(t, empty)

	nullList, err := DecodeScanList([]byte(`{"scans": null, "total": 0}`))
	require.NoError(t, err)
	assert.NotNil(t, nullList)
	assert.Empty(t, nullList)

	_, err = DecodeScanList([]byte(`{"total": 0}`))
	assert.True(t, errors.IsMalformed(err))

	_, err = DecodeScanList([]byte(`{"scans": {"id": 1}}`))
	assert.True(t, errors.IsMalformed(err))

	_, err = DecodeScanList([]byte(`{"scans": [{"id": 1}]}`))
	assert.True(t, errors.IsMalformed(err))
}

func TestDecodeResultPage(t *testing.T) {
	body := `{"results": [
		{"id": 10, "scan_id": 3, "subdomain": "api.example.com", "ip_address": "10.0.0.1", "is_alive": true,
		 "status_code": 200, "title": "API", "ports": [80, 443], "technologies": ["nginx"], "urls": [], "created_at": null},
		{"id": 9, "scan_id": 3, "subdomain": "old.example.com", "ip_address": null, "is_alive": false,
		 "status_code": null, "title": null, "ports": [], "technologies": []}
	], "total": 120}`

	page, err := DecodeResultPage([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, 120, page.Total)
	require.Len(t, page.Results, 2)

	first := page.Results[0]
	assert.True(t, first.IsAlive)
	require.NotNil(t, first.StatusCode)
	assert.Equal(t, 200, *first.StatusCode)
	assert.Equal(t, IntList{80, 443}, first.Ports)

	second := page.Results[1]
	assert.Nil(t, second.IPAddress)
	assert.Nil(t, second.StatusCode)
	assert.NotNil(t, second.Ports)
	assert.Empty(t, second.Ports)

	tests := []struct {
		name string
		body string
	}{
		{"missing total", `{"results": []}`},
		{"negative total", `{"results": [], "total": -1}`},
		{"results not a list", `{"results": {}, "total": 0}`},
		{"ports of strings", `{"results": [{"id": 1, "scan_id": 1, "subdomain": "x", "ports": ["80"]}], "total": 1}`},
		{"impossible status code", `{"results": [{"id": 1, "scan_id": 1, "subdomain": "x", "status_code": 42}], "total": 1}`},
		{"missing subdomain", `{"results": [{"id": 1, "scan_id": 1}], "total": 1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeResultPage([]byte(tt.body))
			assert.True(t, errors.IsMalformed(err), "got %v", err)
		})
	}
}

func TestDecodeScanDetailAcceptsEncodedLists(t *testing.T) {
	body := `{
		"scan": {"id": 4, "domain": "acme.com", "status": "completed", "created_at": "2024-05-01T10:00:00"},
		"subdomains": [
			{"id": 1, "scan_id": 4, "subdomain": "www.acme.com", "ports": "[80, 443]", "technologies": "[\"nginx\"]", "is_alive": true},
			{"id": 2, "scan_id": 4, "subdomain": "mail.acme.com", "ports": null, "technologies": ""}
		],
		"stats": {"total_subdomains": 2, "alive_hosts": 1, "with_ports": 1}
	}`

	detail, err := DecodeScanDetail([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, "acme.com", detail.Scan.Domain)
	require.Len(t, detail.Subdomains, 2)
	assert.Equal(t, IntList{80, 443}, detail.Subdomains[0].Ports)
	assert.Equal(t, StringList{"nginx"}, detail.Subdomains[0].Technologies)
	assert.Empty(t, detail.Subdomains[1].Ports)
	assert.Equal(t, 1, detail.Stats.AliveHosts)

	_, err = DecodeScanDetail([]byte(`{"subdomains": []}`))
	assert.True(t, errors.IsMalformed(err))
}

func TestDecodeSchedule(t *testing.T) {
	schedule, err := DecodeSchedule([]byte(`{"id": 5, "domain": "acme.com", "cron_expression": "0 0 * * *",
		"is_active": false, "last_run": null, "next_run": null, "created_at": "2024-05-01T10:00:00"}`))
	require.NoError(t, err)
	assert.Equal(t, int64(5), schedule.ID)
	assert.False(t, schedule.IsActive)
	assert.Nil(t, schedule.LastRun)
	require.NotNil(t, schedule.CreatedAt)

	_, err = DecodeSchedule([]byte(`{"id": 5, "domain": "acme.com", "cron_expression": "0 0 * * *"}`))
	assert.True(t, errors.IsMalformed(err), "is_active is required")
}

func TestDecodeScheduleList(t *testing.T) {
	list, err := DecodeScheduleList([]byte(`[
		{"id": 1, "domain": "a.io", "cron_expression": "0 * * * *", "is_active": true, "last_run": "2024-05-01T10:00:00"},
		{"id": 2, "domain": "b.io", "cron_expression": "weird text", "is_active": false}
	]`))
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.NotNil(t, list[0].LastRun)
	assert.Equal(t, "weird text", list[1].CronExpression)

	empty, err := DecodeScheduleList([]byte(`[]`))
	require.NoError(t, err)
	assert.Empty(t, empty)

	for _, body := range []string{`{"schedules": []}`, `null`, `[{"id": 1}]`} {
		_, err := DecodeScheduleList([]byte(body))
		assert.True(t, errors.IsMalformed(err), body)
	}
}

func TestDecodeStats(t *testing.T) {
	stats, err := DecodeStats([]byte(`{
		"scans": {"total": 4, "completed": 2, "running": 1},
		"subdomains": {"total": 30, "alive": 12, "with_open_ports": 7},
		"top_technologies": [["nginx", 9], ["React", 3]],
		"top_ports": [["443", 10], [80, 8]]
	}`))
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.Scans.Total)
	assert.Equal(t, int64(7), stats.Subdomains.WithOpenPorts)
	assert.Equal(t, []TechCount{{Name: "nginx", Count: 9}, {Name: "React", Count: 3}}, stats.TopTechnologies)
	assert.Equal(t, []PortCount{{Port: "443", Count: 10}, {Port: "80", Count: 8}}, stats.TopPorts)

	partial, err := DecodeStats([]byte(`{"scans": {"total": 1}}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1), partial.Scans.Total)
	assert.Zero(t, partial.Subdomains.Alive)
	assert.Empty(t, partial.TopPorts)

	malformed := []string{
		`{"scans": "many"}`,
		`{"top_technologies": [["nginx"]]}`,
		`{"top_ports": [[true, 1]]}`,
		`{"top_ports": [["80", -1]]}`,
		`{"subdomains": {"alive": -3}}`,
		`[]`,
	}
	for _, body := range malformed {
		_, err := DecodeStats([]byte(body))
		assert.True(t, errors.IsMalformed(err), body)
	}
}

func TestDecodeHealth(t *testing.T) {
	health, err := DecodeHealth([]byte(`{"status": "healthy", "timestamp": "2024-05-01T10:00:00.000001"}`))
	require.NoError(t, err)
	assert.True(t, health.Healthy())
	assert.False(t, health.Timestamp.IsZero())

	_, err = DecodeHealth([]byte(`{"timestamp": "2024-05-01T10:00:00"}`))
	assert.True(t, errors.IsMalformed(err))
}
