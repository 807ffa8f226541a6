// Package models defines the entities served by the recon API and the strict
// decoders that turn raw response bodies into them.
package models

// ScanStatus is the lifecycle state of a scan. Terminal states are set by the
// server.
type ScanStatus string

// Scan statuses
const (
	ScanStatusPending   ScanStatus = "pending"
	ScanStatusRunning   ScanStatus = "running"
	ScanStatusCompleted ScanStatus = "completed"
	ScanStatusFailed    ScanStatus = "failed"
)

// IsTerminal reports whether the server will no longer change the status.
func (s ScanStatus) IsTerminal() bool {
	return s == ScanStatusCompleted || s == ScanStatusFailed
}

// IsActive reports whether the scan is queued or running.
func (s ScanStatus) IsActive() bool {
	return s == ScanStatusPending || s == ScanStatusRunning
}

// Scan is one reconnaissance run against a domain.
type Scan struct {
	ID           int64      `json:"id"`
	Domain       string     `json:"domain"`
	Status       ScanStatus `json:"status"`
	CreatedAt    Timestamp  `json:"created_at"`
	CompletedAt  *Timestamp `json:"completed_at,omitempty"`
	IsScheduled  bool       `json:"is_scheduled"`
	ScheduleCron *string    `json:"schedule_cron,omitempty"`
}

// Clone returns a deep copy of the scan.
func (s Scan) Clone() Scan {
	out := s
	if s.CompletedAt != nil {
		completed := *s.CompletedAt
		out.CompletedAt = &completed
	}
	if s.ScheduleCron != nil {
		cron := *s.ScheduleCron
		out.ScheduleCron = &cron
	}
	return out
}

// ScanDetailStats summarizes the results attached to a scan detail.
type ScanDetailStats struct {
	TotalSubdomains int `json:"total_subdomains"`
	AliveHosts      int `json:"alive_hosts"`
	WithPorts       int `json:"with_ports"`
}

// ScanDetail is a scan together with every result it produced.
type ScanDetail struct {
	Scan       Scan            `json:"scan"`
	Subdomains []Result        `json:"subdomains"`
	Stats      ScanDetailStats `json:"stats"`
}

// Health is the API liveness check response.
type Health struct {
	Status    string    `json:"status"`
	Timestamp Timestamp `json:"timestamp"`
}

// Healthy reports whether the server described itself as healthy.
func (h Health) Healthy() bool {
	return h.Status == "healthy" || h.Status == "ok"
}
