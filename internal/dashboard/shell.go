package dashboard

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/anstrom/reconboard/internal/apiclient"
	"github.com/anstrom/reconboard/internal/errors"
	"github.com/anstrom/reconboard/internal/logging"
	"github.com/anstrom/reconboard/internal/metrics"
	"github.com/anstrom/reconboard/internal/models"
	"github.com/anstrom/reconboard/internal/scheduler"
)

// DefaultPollInterval is how often a mounted shell refreshes scans and stats.
const DefaultPollInterval = 10 * time.Second

const refreshJob = "refresh"

// View is the top-level screen the shell shows.
type View string

// Views
const (
	ViewDashboard View = "dashboard"
	ViewScans     View = "scans"
	ViewResults   View = "results"
	ViewScheduled View = "scheduled"
)

// Views lists every view in navigation order.
var Views = []View{ViewDashboard, ViewScans, ViewResults, ViewScheduled}

// Valid reports whether v is a known view.
func (v View) Valid() bool {
	for _, known := range Views {
		if v == known {
			return true
		}
	}
	return false
}

// ParseView converts user input into a View.
func ParseView(s string) (View, error) {
	v := View(strings.ToLower(strings.TrimSpace(s)))
	if !v.Valid() {
		return "", errors.ErrValidation("view", fmt.Sprintf("unknown view %q", s))
	}
	return v, nil
}

// ShellState is a copy of the shell state.
type ShellState struct {
	View           View
	SelectedScanID *int64
	Busy           bool
	Scans          []models.Scan
	Stats          *models.Stats
	LastRefresh    time.Time
	LastError      error
}

// RunningCount is the number of held scans currently running.
func (s ShellState) RunningCount() int {
	n := 0
	for _, scan := range s.Scans {
		if scan.Status == models.ScanStatusRunning {
			n++
		}
	}
	return n
}

// ShellOptions configures a Shell.
type ShellOptions struct {
	Interval    time.Duration
	InitialView View
	Logger      *logging.Logger
	Metrics     *metrics.PrometheusMetrics
}

// Shell is the root of the dashboard state. It owns the scan collection and
// the stats snapshot, keeps them current by polling while mounted and routes
// scan actions and navigation to the result browser and schedule manager.
//
// Local mutations advance an epoch. Every refresh remembers the epoch it was
// issued at so that a response requested before a create or delete cannot
// undo it: scans deleted later are filtered out of the response and scans
// created later are kept.
type Shell struct {
	api       ScanAPI
	results   *ResultBrowser
	schedules *ScheduleManager
	broker    *Broker
	logger    *logging.Logger
	metrics   *metrics.PrometheusMetrics
	interval  time.Duration

	mu          sync.Mutex
	view        View
	selected    *int64
	busy        int
	scans       []models.Scan
	stats       *models.Stats
	lastRefresh time.Time
	lastErr     error

	epoch      uint64
	pending    map[int64]uint64
	tombstones map[int64]uint64
	deleting   map[int64]struct{}
	issuedSeq  uint64
	appliedSeq uint64

	mounted     bool
	disposed    bool
	mountCancel context.CancelFunc
	poller      *scheduler.Scheduler
}

// NewShell creates an unmounted shell over api.
func NewShell(api API, opts ShellOptions) *Shell {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	view := opts.InitialView
	if !view.Valid() {
		view = ViewDashboard
	}

	broker := NewBroker()
	return &Shell{
		api:        api,
		results:    NewResultBrowser(api, broker, logger, opts.Metrics),
		schedules:  NewScheduleManager(api, broker, logger, opts.Metrics),
		broker:     broker,
		logger:     logger.WithComponent("shell"),
		metrics:    opts.Metrics,
		interval:   interval,
		view:       view,
		pending:    make(map[int64]uint64),
		tombstones: make(map[int64]uint64),
		deleting:   make(map[int64]struct{}),
	}
}

// Results returns the shell's result browser.
func (s *Shell) Results() *ResultBrowser {
	return s.results
}

// Schedules returns the shell's schedule manager.
func (s *Shell) Schedules() *ScheduleManager {
	return s.schedules
}

// Subscribe registers for change notifications from the shell and its
// children.
func (s *Shell) Subscribe() (<-chan Event, func()) {
	return s.broker.Subscribe()
}

// Snapshot returns a copy of the shell state.
func (s *Shell) Snapshot() ShellState {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := ShellState{
		View:        s.view,
		Busy:        s.busy > 0,
		Scans:       make([]models.Scan, 0, len(s.scans)),
		Stats:       s.stats.Clone(),
		LastRefresh: s.lastRefresh,
		LastError:   s.lastErr,
	}
	if s.selected != nil {
		id := *s.selected
		state.SelectedScanID = &id
	}
	for _, scan := range s.scans {
		state.Scans = append(state.Scans, scan.Clone())
	}
	return state
}

// Refresh fetches scans and stats in parallel and applies both at once. A
// failed fetch keeps the previous value of that resource. The returned error
// joins the failures.
func (s *Shell) Refresh(ctx context.Context) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil
	}
	issued := s.epoch
	s.issuedSeq++
	seq := s.issuedSeq
	s.mu.Unlock()

	var (
		scans              []models.Scan
		stats              *models.Stats
		scansErr, statsErr error
	)

	var g errgroup.Group
	g.Go(func() error {
		scans, scansErr = s.api.ListScans(ctx)
		s.metrics.RecordRefresh("scans", scansErr)
		if scansErr != nil {
			s.logger.WithError(scansErr).Warn("Failed to refresh scans")
		}
		return nil
	})
	g.Go(func() error {
		stats, statsErr = s.api.GetStats(ctx)
		s.metrics.RecordRefresh("stats", statsErr)
		if statsErr != nil {
			s.logger.WithError(statsErr).Warn("Failed to refresh stats")
		}
		return nil
	})
	_ = g.Wait()

	err := stderrors.Join(scansErr, statsErr)

	s.mu.Lock()
	if s.disposed || seq < s.appliedSeq {
		s.mu.Unlock()
		s.metrics.IncrementStaleResponses("shell")
		s.logger.Debug("Dropping refresh", "seq", seq)
		return err
	}
	s.appliedSeq = seq

	kind := EventError
	if scansErr == nil {
		s.scans = s.reconcileLocked(scans, issued)
		s.lastRefresh = time.Now()
		kind = EventScans
	}
	if statsErr == nil {
		s.stats = stats
		if kind == EventError {
			kind = EventStats
		}
	}
	s.lastErr = err
	held := len(s.scans)
	s.mu.Unlock()

	if scansErr == nil {
		s.metrics.SetScansHeld(held)
	}
	s.broker.Publish(kind)
	return err
}

// reconcileLocked merges a server scan list issued at epoch issued with the
// local mutations made since.
func (s *Shell) reconcileLocked(server []models.Scan, issued uint64) []models.Scan {
	inServer := make(map[int64]struct{}, len(server))
	for _, scan := range server {
		inServer[scan.ID] = struct{}{}
	}

	out := make([]models.Scan, 0, len(server)+len(s.pending))
	seen := make(map[int64]struct{}, len(server))

	for _, scan := range s.scans {
		epoch, ok := s.pending[scan.ID]
		if !ok || epoch <= issued {
			continue
		}
		if _, ok := inServer[scan.ID]; ok {
			continue
		}
		out = append(out, scan)
		seen[scan.ID] = struct{}{}
	}

	for _, scan := range server {
		if epoch, ok := s.tombstones[scan.ID]; ok && epoch > issued {
			continue
		}
		if _, dup := seen[scan.ID]; dup {
			continue
		}
		seen[scan.ID] = struct{}{}
		out = append(out, scan)
	}

	for id, epoch := range s.pending {
		if epoch <= issued {
			delete(s.pending, id)
		}
	}
	for id, epoch := range s.tombstones {
		if epoch <= issued {
			delete(s.tombstones, id)
		}
	}
	return out
}

// Mount refreshes once, starts polling and enters the current view. A failed
// initial load is returned but leaves the shell mounted and polling.
func (s *Shell) Mount(ctx context.Context) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return errors.New(errors.CodeConflict, "shell has been unmounted").WithOperation("mount")
	}
	if s.mounted {
		s.mu.Unlock()
		return errors.New(errors.CodeConflict, "shell is already mounted").WithOperation("mount")
	}
	s.mounted = true
	mountCtx, cancel := context.WithCancel(ctx)
	s.mountCancel = cancel
	s.mu.Unlock()

	initialErr := s.Refresh(mountCtx)

	poller := scheduler.NewScheduler(s.logger)
	err := poller.AddJob(refreshJob, scheduler.Every(s.interval), func(jobCtx context.Context) {
		_ = s.Refresh(jobCtx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule refresh: %w", err)
	}

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil
	}
	s.poller = poller
	view := s.view
	s.mu.Unlock()

	if err := poller.Start(); err != nil {
		return fmt.Errorf("failed to start poller: %w", err)
	}
	context.AfterFunc(mountCtx, poller.Stop)

	s.logger.Info("Dashboard mounted", "view", view, "interval", s.interval)
	return stderrors.Join(initialErr, s.enter(mountCtx, "", view))
}

// Unmount stops polling, waits for a poll in flight and drops anything that
// arrives afterwards. It is safe to call more than once or without Mount.
func (s *Shell) Unmount() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	cancel := s.mountCancel
	poller := s.poller
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if poller != nil {
		poller.Stop()
	}
	s.results.Close()
	s.schedules.Close()
	s.broker.Close()

	s.logger.Info("Dashboard unmounted")
}

// StartScan launches a scan of domain. The created scan is put at the head of
// the collection and the shell switches to the scan list.
func (s *Shell) StartScan(ctx context.Context, domain string) (*models.Scan, error) {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return nil, errors.ErrValidation("domain", "domain is required")
	}

	s.setBusy(true)
	defer s.setBusy(false)

	scan, err := s.api.CreateScan(ctx, domain)
	if err != nil {
		s.logger.ErrorScan("Failed to start scan", domain, err)
		return nil, err
	}

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return scan, nil
	}
	s.epoch++
	s.pending[scan.ID] = s.epoch
	s.scans = prependScan(s.scans, *scan)
	prev := s.view
	s.view = ViewScans
	s.mu.Unlock()

	s.logger.InfoScan("Scan started", domain, "scan_id", scan.ID)
	s.broker.Publish(EventScans)
	if prev != ViewScans {
		s.broker.Publish(EventView)
		s.leave(prev, ViewScans)
	}
	return scan, nil
}

// DeleteScan deletes a scan. Once the server answers, whatever the status,
// the scan is dropped locally and a selection pointing at it is cleared. A
// transport failure leaves the collection untouched.
func (s *Shell) DeleteScan(ctx context.Context, id int64) error {
	s.mu.Lock()
	if _, inFlight := s.deleting[id]; inFlight {
		s.mu.Unlock()
		return errors.New(errors.CodeConflict, fmt.Sprintf("scan %d is already being deleted", id)).
			WithOperation(apiclient.OpDeleteScan)
	}
	s.deleting[id] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.deleting, id)
		s.mu.Unlock()
	}()

	err := s.api.DeleteScan(ctx, id)
	if err != nil && !apiclient.IsAPIError(err) {
		s.logger.WithScanID(id).WithError(err).Warn("Failed to delete scan")
		return err
	}

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return err
	}
	s.epoch++
	s.tombstones[id] = s.epoch
	delete(s.pending, id)
	s.scans = removeScan(s.scans, id)
	cleared := s.selected != nil && *s.selected == id
	if cleared {
		s.selected = nil
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.WithScanID(id).WithError(err).Warn("Server rejected scan delete")
	} else {
		s.logger.WithScanID(id).Info("Scan deleted")
	}

	s.broker.Publish(EventScans)
	if cleared {
		s.broker.Publish(EventSelection)
		if filterErr := s.results.ClearFilter(ctx); filterErr != nil {
			s.logger.WithError(filterErr).Debug("Result reload after delete failed")
		}
	}
	return err
}

// ScanDetail fetches one scan with all of its results.
func (s *Shell) ScanDetail(ctx context.Context, id int64) (*models.ScanDetail, error) {
	return s.api.GetScan(ctx, id)
}

// Health checks that the API is up.
func (s *Shell) Health(ctx context.Context) (*models.Health, error) {
	return s.api.Health(ctx)
}

// SetView navigates to view.
func (s *Shell) SetView(ctx context.Context, view View) error {
	if !view.Valid() {
		return errors.ErrValidation("view", fmt.Sprintf("unknown view %q", view))
	}

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil
	}
	prev := s.view
	s.view = view
	s.mu.Unlock()

	if prev == view {
		return nil
	}
	s.broker.Publish(EventView)
	return s.enter(ctx, prev, view)
}

// ViewResults selects a scan and shows its results.
func (s *Shell) ViewResults(ctx context.Context, scanID int64) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil
	}
	id := scanID
	s.selected = &id
	prev := s.view
	s.view = ViewResults
	s.mu.Unlock()

	s.broker.Publish(EventSelection)
	if prev != ViewResults {
		s.broker.Publish(EventView)
		s.leave(prev, ViewResults)
		if err := s.results.ShowScan(ctx, scanID); err != nil {
			return err
		}
		return s.results.Activate(ctx)
	}
	return s.results.ShowScan(ctx, scanID)
}

// ClearSelection drops the selected scan and the result browser's scan
// filter.
func (s *Shell) ClearSelection(ctx context.Context) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil
	}
	had := s.selected != nil
	s.selected = nil
	s.mu.Unlock()

	if had {
		s.broker.Publish(EventSelection)
	}
	return s.results.ClearFilter(ctx)
}

// enter runs the side effects of moving from prev to next.
func (s *Shell) enter(ctx context.Context, prev, next View) error {
	s.leave(prev, next)
	switch next {
	case ViewResults:
		return s.results.Activate(ctx)
	case ViewScheduled:
		return s.schedules.Load(ctx)
	}
	return nil
}

func (s *Shell) leave(prev, next View) {
	if prev == ViewResults && next != ViewResults {
		s.results.Deactivate()
	}
}

func (s *Shell) setBusy(busy bool) {
	s.mu.Lock()
	if busy {
		s.busy++
	} else if s.busy > 0 {
		s.busy--
	}
	s.mu.Unlock()
	s.broker.Publish(EventBusy)
}

func prependScan(scans []models.Scan, scan models.Scan) []models.Scan {
	out := make([]models.Scan, 0, len(scans)+1)
	out = append(out, scan)
	for _, existing := range scans {
		if existing.ID != scan.ID {
			out = append(out, existing)
		}
	}
	return out
}

func removeScan(scans []models.Scan, id int64) []models.Scan {
	out := make([]models.Scan, 0, len(scans))
	for _, scan := range scans {
		if scan.ID != id {
			out = append(out, scan)
		}
	}
	return out
}
