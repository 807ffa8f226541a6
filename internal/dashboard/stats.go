package dashboard

import (
	"strconv"

	"github.com/anstrom/reconboard/internal/models"
)

// RecentCompletedLimit caps the completed scans listed on the overview.
const RecentCompletedLimit = 5

// StatCard is one headline number on the dashboard.
type StatCard struct {
	Label       string
	Value       int64
	Placeholder bool
}

// Display renders the card value, or "-" while stats are not loaded.
func (c StatCard) Display() string {
	if c.Placeholder {
		return "-"
	}
	return strconv.FormatInt(c.Value, 10)
}

// ProjectStats turns a stats snapshot into the headline cards. A nil snapshot
// yields placeholder cards.
func ProjectStats(stats *models.Stats) []StatCard {
	var s models.Stats
	placeholder := stats == nil
	if stats != nil {
		s = *stats
	}
	return []StatCard{
		{Label: "Total Scans", Value: s.Scans.Total, Placeholder: placeholder},
		{Label: "Subdomains Found", Value: s.Subdomains.Total, Placeholder: placeholder},
		{Label: "Alive Hosts", Value: s.Subdomains.Alive, Placeholder: placeholder},
		{Label: "With Open Ports", Value: s.Subdomains.WithOpenPorts, Placeholder: placeholder},
		{Label: "Completed Scans", Value: s.Scans.Completed, Placeholder: placeholder},
		{Label: "Running Now", Value: s.Scans.Running, Placeholder: placeholder},
	}
}

// Overview is the dashboard page: active work, recent results and the top
// technology and port counts.
type Overview struct {
	Cards           []StatCard
	Running         []models.Scan
	RecentCompleted []models.Scan
	TopTechnologies []models.TechCount
	TopPorts        []models.PortCount
}

// NoRunning reports whether the running list is empty.
func (o Overview) NoRunning() bool { return len(o.Running) == 0 }

// NoCompleted reports whether the completed list is empty.
func (o Overview) NoCompleted() bool { return len(o.RecentCompleted) == 0 }

// NoTechnologies reports whether no technologies have been detected.
func (o Overview) NoTechnologies() bool { return len(o.TopTechnologies) == 0 }

// NoPorts reports whether no open ports have been found.
func (o Overview) NoPorts() bool { return len(o.TopPorts) == 0 }

// BuildOverview projects the shell's scans and stats onto the dashboard page.
// scans is expected newest first.
func BuildOverview(scans []models.Scan, stats *models.Stats) Overview {
	overview := Overview{Cards: ProjectStats(stats)}

	for _, scan := range scans {
		switch scan.Status {
		case models.ScanStatusRunning:
			overview.Running = append(overview.Running, scan.Clone())
		case models.ScanStatusCompleted:
			if len(overview.RecentCompleted) < RecentCompletedLimit {
				overview.RecentCompleted = append(overview.RecentCompleted, scan.Clone())
			}
		}
	}

	if stats != nil {
		overview.TopTechnologies = append([]models.TechCount(nil), stats.TopTechnologies...)
		overview.TopPorts = append([]models.PortCount(nil), stats.TopPorts...)
	}
	return overview
}
