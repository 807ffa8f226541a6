package dashboard

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/anstrom/reconboard/internal/apiclient"
	"github.com/anstrom/reconboard/internal/errors"
	"github.com/anstrom/reconboard/internal/logging"
	"github.com/anstrom/reconboard/internal/metrics"
	"github.com/anstrom/reconboard/internal/models"
)

// DefaultCron is used when a schedule is created without an expression.
const DefaultCron = "0 0 * * *"

// CronPreset is a named cron expression offered when creating a schedule.
type CronPreset struct {
	Name       string
	Label      string
	Expression string
}

// CronPresets are the named schedules, in display order.
var CronPresets = []CronPreset{
	{Name: "hourly", Label: "Every hour", Expression: "0 * * * *"},
	{Name: "daily", Label: "Daily at midnight", Expression: "0 0 * * *"},
	{Name: "weekly", Label: "Weekly on Sunday", Expression: "0 0 * * 0"},
	{Name: "monthly", Label: "Monthly on the 1st", Expression: "0 0 1 * *"},
}

// ResolveCron maps a preset name to its expression. Any other text is
// returned trimmed but otherwise unchanged; the server decides whether it is
// valid.
func ResolveCron(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return DefaultCron
	}
	for _, preset := range CronPresets {
		if strings.EqualFold(trimmed, preset.Name) {
			return preset.Expression
		}
	}
	return trimmed
}

// PreviewCron estimates the next fire time of expr after from. It reports
// false for expressions the standard parser does not understand.
func PreviewCron(expr string, from time.Time) (time.Time, bool) {
	schedule, err := cron.ParseStandard(strings.TrimSpace(expr))
	if err != nil {
		return time.Time{}, false
	}
	return schedule.Next(from), true
}

// ScheduleState is a copy of the schedule manager state.
type ScheduleState struct {
	Items   []models.Schedule
	Loading bool
	Loaded  bool
	Err     error
}

type mutationKind int

const (
	mutationCreate mutationKind = iota
	mutationToggle
	mutationDelete
)

// mutation is a completed local change, replayed onto list responses that
// were requested before it.
type mutation struct {
	epoch    uint64
	kind     mutationKind
	schedule models.Schedule
	id       int64
}

// ScheduleManager holds the schedule list. It loads the full list on demand
// and otherwise changes only through its own create, toggle and delete calls,
// each applying the server's answer.
type ScheduleManager struct {
	api     ScheduleAPI
	broker  *Broker
	logger  *logging.Logger
	metrics *metrics.PrometheusMetrics

	mu         sync.Mutex
	items      []models.Schedule
	loading    bool
	loaded     bool
	lastErr    error
	generation uint64
	epoch      uint64
	journal    []mutation
	closed     bool
}

// NewScheduleManager creates an empty manager.
func NewScheduleManager(api ScheduleAPI, broker *Broker, logger *logging.Logger, m *metrics.PrometheusMetrics) *ScheduleManager {
	if broker == nil {
		broker = NewBroker()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ScheduleManager{
		api:     api,
		broker:  broker,
		logger:  logger.WithComponent("schedules"),
		metrics: m,
	}
}

// State returns a copy of the manager state.
func (m *ScheduleManager) State() ScheduleState {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := ScheduleState{
		Items:   make([]models.Schedule, 0, len(m.items)),
		Loading: m.loading,
		Loaded:  m.loaded,
		Err:     m.lastErr,
	}
	for _, item := range m.items {
		state.Items = append(state.Items, item.Clone())
	}
	return state
}

// Load replaces the list with the server's. Changes made while the request
// was in flight are applied on top of the response.
func (m *ScheduleManager) Load(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.generation++
	gen := m.generation
	issued := m.epoch
	m.loading = true
	m.mu.Unlock()
	m.broker.Publish(EventSchedules)

	list, err := m.api.ListSchedules(ctx)

	m.mu.Lock()
	if m.closed || gen != m.generation {
		m.mu.Unlock()
		m.metrics.IncrementStaleResponses("schedules")
		m.logger.Debug("Dropping superseded schedule list")
		return nil
	}
	m.loading = false
	if err != nil {
		m.lastErr = err
		m.journal = nil
		m.mu.Unlock()
		m.logger.WithError(err).Warn("Failed to load schedules")
		m.broker.Publish(EventSchedules)
		return err
	}

	for _, change := range m.journal {
		if change.epoch > issued {
			list = change.apply(list)
		}
	}
	m.journal = nil
	m.items = list
	m.loaded = true
	m.lastErr = nil
	m.mu.Unlock()

	m.broker.Publish(EventSchedules)
	return nil
}

// Create adds a recurring scan of domain. cronExpr may be a preset name, an
// expression or empty for the daily default.
func (m *ScheduleManager) Create(ctx context.Context, domain, cronExpr string) (*models.Schedule, error) {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return nil, errors.ErrValidation("domain", "domain is required")
	}
	expr := ResolveCron(cronExpr)

	schedule, err := m.api.CreateSchedule(ctx, domain, expr)
	if err != nil {
		m.logger.ErrorScan("Failed to create schedule", domain, err, "cron", expr)
		return nil, err
	}

	m.record(mutation{kind: mutationCreate, schedule: *schedule})
	m.logger.InfoScan("Schedule created", domain, "schedule_id", schedule.ID, "cron", schedule.CronExpression)
	return schedule, nil
}

// Toggle flips a schedule's active flag on the server and stores the
// returned schedule.
func (m *ScheduleManager) Toggle(ctx context.Context, id int64) (*models.Schedule, error) {
	schedule, err := m.api.ToggleSchedule(ctx, id)
	if err != nil {
		m.logger.WithError(err).Warn("Failed to toggle schedule", "schedule_id", id)
		return nil, err
	}

	m.record(mutation{kind: mutationToggle, schedule: *schedule, id: id})
	m.logger.Info("Schedule toggled", "schedule_id", id, "active", schedule.IsActive)
	return schedule, nil
}

// Delete removes a schedule once the server has answered. A transport
// failure keeps it.
func (m *ScheduleManager) Delete(ctx context.Context, id int64) error {
	err := m.api.DeleteSchedule(ctx, id)
	if err != nil && !apiclient.IsAPIError(err) {
		m.logger.WithError(err).Warn("Failed to delete schedule", "schedule_id", id)
		return err
	}

	m.record(mutation{kind: mutationDelete, id: id})
	if err != nil {
		m.logger.WithError(err).Warn("Server rejected schedule delete", "schedule_id", id)
	} else {
		m.logger.Info("Schedule deleted", "schedule_id", id)
	}
	return err
}

// Close drops every later response.
func (m *ScheduleManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.generation++
}

// record applies a completed change and journals it for loads in flight.
func (m *ScheduleManager) record(change mutation) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.epoch++
	change.epoch = m.epoch
	m.items = change.apply(m.items)
	if m.loading {
		m.journal = append(m.journal, change)
	}
	m.mu.Unlock()

	m.broker.Publish(EventSchedules)
}

// apply returns list with the change applied. list is not modified.
func (c mutation) apply(list []models.Schedule) []models.Schedule {
	out := make([]models.Schedule, 0, len(list)+1)
	switch c.kind {
	case mutationCreate:
		for _, item := range list {
			if item.ID != c.schedule.ID {
				out = append(out, item)
			}
		}
		out = append(out, c.schedule)
	case mutationToggle:
		for _, item := range list {
			if item.ID == c.id {
				item = c.schedule
			}
			out = append(out, item)
		}
	case mutationDelete:
		for _, item := range list {
			if item.ID != c.id {
				out = append(out, item)
			}
		}
	}
	return out
}
