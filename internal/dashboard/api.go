// Package dashboard holds the client-side state of the recon dashboard: the
// application shell with its scan collection and stats snapshot, the result
// browser and the schedule manager. Each component owns its state, mutates it
// only through its own methods and hands out copies.
package dashboard

//go:generate mockgen -destination=mocks/mock_api.go -package=mocks github.com/anstrom/reconboard/internal/dashboard API

import (
	"context"
	"encoding/json"

	"github.com/anstrom/reconboard/internal/apiclient"
	"github.com/anstrom/reconboard/internal/models"
)

// ScanAPI is the part of the API the shell uses.
type ScanAPI interface {
	ListScans(ctx context.Context) ([]models.Scan, error)
	GetScan(ctx context.Context, id int64) (*models.ScanDetail, error)
	CreateScan(ctx context.Context, domain string) (*models.Scan, error)
	DeleteScan(ctx context.Context, id int64) error
	GetStats(ctx context.Context) (*models.Stats, error)
	Health(ctx context.Context) (*models.Health, error)
}

// ResultAPI is the part of the API the result browser uses.
type ResultAPI interface {
	ListResults(ctx context.Context, q apiclient.ResultQuery) (*models.ResultPage, error)
	ExportResults(ctx context.Context, scanID int64) (json.RawMessage, error)
}

// ScheduleAPI is the part of the API the schedule manager uses.
type ScheduleAPI interface {
	ListSchedules(ctx context.Context) ([]models.Schedule, error)
	CreateSchedule(ctx context.Context, domain, cronExpression string) (*models.Schedule, error)
	ToggleSchedule(ctx context.Context, id int64) (*models.Schedule, error)
	DeleteSchedule(ctx context.Context, id int64) error
}

// API is the whole recon API surface.
type API interface {
	ScanAPI
	ResultAPI
	ScheduleAPI
}

var _ API = (*apiclient.Client)(nil)
