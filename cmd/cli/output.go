package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/anstrom/reconboard/internal/dashboard"
	"github.com/anstrom/reconboard/internal/models"
)

// renderTable writes rows under headers.
func renderTable(w io.Writer, headers []string, rows [][]string) {
	table := tablewriter.NewWriter(w)

	header := make([]any, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	table.Header(header...)

	for _, row := range rows {
		_ = table.Append(row)
	}
	_ = table.Render()
}

func renderScans(w io.Writer, scans []models.Scan) {
	if len(scans) == 0 {
		fmt.Fprintln(w, "No scans yet. Start one with: reconboard scans start <domain>")
		return
	}
	rows := make([][]string, 0, len(scans))
	for _, scan := range scans {
		rows = append(rows, dashboard.FormatScanRow(scan).Cells())
	}
	renderTable(w, dashboard.ScanHeaders, rows)
}

func renderResults(w io.Writer, state dashboard.ResultState) {
	if len(state.Items) == 0 {
		fmt.Fprintln(w, "No results found")
	} else {
		rows := make([][]string, 0, len(state.Items))
		for _, result := range state.Items {
			rows = append(rows, dashboard.FormatResultRow(result).Cells())
		}
		renderTable(w, dashboard.ResultHeaders, rows)
	}
	fmt.Fprintf(w, "%s (%d results)\n", state.PageLabel(), state.Total)
}

func renderSchedules(w io.Writer, schedules []models.Schedule, now time.Time) {
	if len(schedules) == 0 {
		fmt.Fprintln(w, "No scheduled scans")
		return
	}
	renderTable(w, dashboard.ScheduleHeaders, scheduleRows(schedules, now))
}

func renderOverview(w io.Writer, overview dashboard.Overview) {
	cards := make([][]string, 0, len(overview.Cards))
	for _, card := range overview.Cards {
		cards = append(cards, []string{card.Label, card.Display()})
	}
	renderTable(w, []string{"Metric", "Value"}, cards)

	fmt.Fprintln(w, "\nRunning Scans")
	if overview.NoRunning() {
		fmt.Fprintln(w, "  No running scans")
	}
	for _, scan := range overview.Running {
		fmt.Fprintf(w, "  #%d %s (started %s)\n", scan.ID, scan.Domain, scan.CreatedAt)
	}

	fmt.Fprintln(w, "\nRecent Completed Scans")
	if overview.NoCompleted() {
		fmt.Fprintln(w, "  No completed scans yet")
	}
	for _, scan := range overview.RecentCompleted {
		fmt.Fprintf(w, "  #%d %s (%s)\n", scan.ID, scan.Domain, completedAt(scan))
	}

	fmt.Fprintln(w, "\nTop Technologies")
	if overview.NoTechnologies() {
		fmt.Fprintln(w, "  No technologies detected yet")
	}
	for _, tech := range overview.TopTechnologies {
		fmt.Fprintf(w, "  %-24s %d\n", tech.Name, tech.Count)
	}

	fmt.Fprintln(w, "\nTop Ports")
	if overview.NoPorts() {
		fmt.Fprintln(w, "  No open ports found yet")
	}
	for _, port := range overview.TopPorts {
		fmt.Fprintf(w, "  %-24s %d\n", port.Port, port.Count)
	}
}

// renderHeader is the status line shown above every watch frame.
func renderHeader(w io.Writer, baseURL string, state dashboard.ShellState) {
	var b strings.Builder
	fmt.Fprintf(&b, "reconboard | %s | view: %s", baseURL, state.View)
	if running := state.RunningCount(); running > 0 {
		fmt.Fprintf(&b, " | %d running", running)
	}
	if state.Busy {
		b.WriteString(" | working...")
	}
	if !state.LastRefresh.IsZero() {
		fmt.Fprintf(&b, " | updated %s", state.LastRefresh.Format("15:04:05"))
	}
	fmt.Fprintln(w, b.String())
	if state.LastError != nil {
		fmt.Fprintf(w, "last refresh failed: %v\n", state.LastError)
	}
	fmt.Fprintln(w)
}

func completedAt(scan models.Scan) string {
	if scan.CompletedAt == nil {
		return "-"
	}
	return scan.CompletedAt.String()
}
