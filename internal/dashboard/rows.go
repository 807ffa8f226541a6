package dashboard

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/anstrom/reconboard/internal/models"
)

// Display limits for list cells. The full lists stay on the result.
const (
	MaxPortsShown        = 5
	MaxTechnologiesShown = 3
)

const emptyCell = "-"

// ResultRow is a result rendered for a table.
type ResultRow struct {
	Subdomain    string
	IPAddress    string
	Status       string
	Title        string
	Ports        string
	Technologies string
}

// Cells returns the row in column order.
func (r ResultRow) Cells() []string {
	return []string{r.Subdomain, r.IPAddress, r.Status, r.Title, r.Ports, r.Technologies}
}

// ResultHeaders are the column titles matching ResultRow.Cells.
var ResultHeaders = []string{"Subdomain", "IP", "Status", "Title", "Ports", "Technologies"}

// FormatResultRow renders a result, truncating ports and technologies.
func FormatResultRow(r models.Result) ResultRow {
	ports := make([]string, 0, len(r.Ports))
	for _, port := range r.Ports {
		ports = append(ports, strconv.Itoa(port))
	}

	return ResultRow{
		Subdomain:    orDash(r.Subdomain),
		IPAddress:    orDashPtr(r.IPAddress),
		Status:       ResultStatusLabel(r),
		Title:        orDashPtr(r.Title),
		Ports:        truncateList(ports, MaxPortsShown),
		Technologies: truncateList(r.Technologies, MaxTechnologiesShown),
	}
}

// ResultStatusLabel is the HTTP status for a live host that answered, "Live"
// for one that did not and "Dead" otherwise.
func ResultStatusLabel(r models.Result) string {
	if !r.IsAlive {
		return "Dead"
	}
	if r.StatusCode != nil {
		return strconv.Itoa(*r.StatusCode)
	}
	return "Live"
}

// truncateList joins the first limit items and appends "+N" for the rest.
func truncateList(items []string, limit int) string {
	if len(items) == 0 {
		return emptyCell
	}
	if len(items) <= limit {
		return strings.Join(items, ", ")
	}
	return fmt.Sprintf("%s +%d", strings.Join(items[:limit], ", "), len(items)-limit)
}

// ScanRow is a scan rendered for a table.
type ScanRow struct {
	ID        string
	Domain    string
	Status    string
	Created   string
	Completed string
}

// Cells returns the row in column order.
func (r ScanRow) Cells() []string {
	return []string{r.ID, r.Domain, r.Status, r.Created, r.Completed}
}

// ScanHeaders are the column titles matching ScanRow.Cells.
var ScanHeaders = []string{"ID", "Domain", "Status", "Created", "Completed"}

// FormatScanRow renders a scan.
func FormatScanRow(s models.Scan) ScanRow {
	status := string(s.Status)
	if s.IsScheduled {
		status += " (scheduled)"
	}
	completed := emptyCell
	if s.CompletedAt != nil {
		completed = s.CompletedAt.String()
	}
	return ScanRow{
		ID:        strconv.FormatInt(s.ID, 10),
		Domain:    orDash(s.Domain),
		Status:    status,
		Created:   s.CreatedAt.String(),
		Completed: completed,
	}
}

// ScheduleRow is a schedule rendered for a table.
type ScheduleRow struct {
	ID      string
	Domain  string
	Cron    string
	State   string
	LastRun string
	NextRun string
}

// Cells returns the row in column order.
func (r ScheduleRow) Cells() []string {
	return []string{r.ID, r.Domain, r.Cron, r.State, r.LastRun, r.NextRun}
}

// ScheduleHeaders are the column titles matching ScheduleRow.Cells.
var ScheduleHeaders = []string{"ID", "Domain", "Cron", "State", "Last Run", "Next Run"}

// FormatScheduleRow renders a schedule. "Never" marks a schedule that has
// not fired yet.
func FormatScheduleRow(s models.Schedule) ScheduleRow {
	state := "Paused"
	if s.IsActive {
		state = "Active"
	}
	lastRun := "Never"
	if s.LastRun != nil {
		lastRun = s.LastRun.String()
	}
	nextRun := emptyCell
	if s.NextRun != nil {
		nextRun = s.NextRun.String()
	}
	return ScheduleRow{
		ID:      strconv.FormatInt(s.ID, 10),
		Domain:  orDash(s.Domain),
		Cron:    orDash(s.CronExpression),
		State:   state,
		LastRun: lastRun,
		NextRun: nextRun,
	}
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return emptyCell
	}
	return s
}

func orDashPtr(s *string) string {
	if s == nil {
		return emptyCell
	}
	return orDash(*s)
}
