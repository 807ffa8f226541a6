package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/anstrom/reconboard/internal/apiclient"
	"github.com/anstrom/reconboard/internal/errors"
	"github.com/anstrom/reconboard/internal/logging"
	"github.com/anstrom/reconboard/internal/metrics"
	"github.com/anstrom/reconboard/internal/models"
)

// PageSize is the fixed number of results per page.
const PageSize = 50

// ResultState is a copy of the result browser's state.
type ResultState struct {
	ScanFilter *int64
	AliveOnly  bool
	Page       int
	Items      []models.Result
	Total      int
	Active     bool
	Loading    bool
	Loaded     bool
	Err        error
}

// CanPrev reports whether a previous page exists.
func (s ResultState) CanPrev() bool {
	return s.Page > 0
}

// CanNext reports whether a next page exists.
func (s ResultState) CanNext() bool {
	return (s.Page+1)*PageSize < s.Total
}

// PageCount is the number of pages the total spans, at least one.
func (s ResultState) PageCount() int {
	pages := (s.Total + PageSize - 1) / PageSize
	if pages < 1 {
		return 1
	}
	return pages
}

// PageLabel renders the pagination position, e.g. "Page 2 of 3".
func (s ResultState) PageLabel() string {
	return fmt.Sprintf("Page %d of %d", s.Page+1, s.PageCount())
}

// ResultBrowser fetches one filtered page of results at a time. Its
// addressable state is (scan filter, alive only, page); every change discards
// the current page and, while the browser is active, fetches the new one.
// Responses for a superseded state are dropped.
type ResultBrowser struct {
	api     ResultAPI
	broker  *Broker
	logger  *logging.Logger
	metrics *metrics.PrometheusMetrics

	mu         sync.Mutex
	scanFilter *int64
	aliveOnly  bool
	page       int
	items      []models.Result
	total      int
	active     bool
	closed     bool
	loading    bool
	loaded     bool
	lastErr    error
	generation uint64
	cancel     context.CancelFunc
}

// NewResultBrowser creates an inactive browser with no filter on page 0.
func NewResultBrowser(api ResultAPI, broker *Broker, logger *logging.Logger, m *metrics.PrometheusMetrics) *ResultBrowser {
	if broker == nil {
		broker = NewBroker()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ResultBrowser{
		api:     api,
		broker:  broker,
		logger:  logger.WithComponent("results"),
		metrics: m,
	}
}

// State returns a copy of the browser state.
func (b *ResultBrowser) State() ResultState {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := ResultState{
		AliveOnly: b.aliveOnly,
		Page:      b.page,
		Total:     b.total,
		Active:    b.active,
		Loading:   b.loading,
		Loaded:    b.loaded,
		Err:       b.lastErr,
		Items:     make([]models.Result, 0, len(b.items)),
	}
	if b.scanFilter != nil {
		id := *b.scanFilter
		state.ScanFilter = &id
	}
	for _, item := range b.items {
		state.Items = append(state.Items, item.Clone())
	}
	return state
}

// Activate starts showing results and fetches the current page.
func (b *ResultBrowser) Activate(ctx context.Context) error {
	b.mu.Lock()
	if b.active || b.closed {
		b.mu.Unlock()
		return nil
	}
	b.active = true
	b.mu.Unlock()
	return b.change(ctx, nil)
}

// Deactivate stops fetching and abandons any request in flight. Filter and
// page are kept for the next activation.
func (b *ResultBrowser) Deactivate() {
	b.mu.Lock()
	if !b.active {
		b.mu.Unlock()
		return
	}
	b.active = false
	b.invalidateLocked()
	b.mu.Unlock()
	b.broker.Publish(EventResults)
}

// Close deactivates the browser for good. Later state changes and responses
// are ignored.
func (b *ResultBrowser) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.active = false
	b.invalidateLocked()
}

// Reload refetches the current page.
func (b *ResultBrowser) Reload(ctx context.Context) error {
	return b.change(ctx, nil)
}

// SetScanFilter scopes results to one scan, or to all scans when id is nil.
// Page and alive-only are left alone.
func (b *ResultBrowser) SetScanFilter(ctx context.Context, id *int64) error {
	b.mu.Lock()
	if sameID(b.scanFilter, id) {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	return b.change(ctx, func() {
		if id == nil {
			b.scanFilter = nil
			return
		}
		filter := *id
		b.scanFilter = &filter
	})
}

// ShowScan scopes results to scanID starting from the first page. It does
// nothing when that scan is already the filter.
func (b *ResultBrowser) ShowScan(ctx context.Context, scanID int64) error {
	b.mu.Lock()
	if b.scanFilter != nil && *b.scanFilter == scanID {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	return b.change(ctx, func() {
		id := scanID
		b.scanFilter = &id
		b.page = 0
	})
}

// ClearFilter removes the scan filter.
func (b *ResultBrowser) ClearFilter(ctx context.Context) error {
	return b.SetScanFilter(ctx, nil)
}

// SetAliveOnly sets the alive-only toggle and returns to the first page.
func (b *ResultBrowser) SetAliveOnly(ctx context.Context, aliveOnly bool) error {
	b.mu.Lock()
	if b.aliveOnly == aliveOnly {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	return b.change(ctx, func() {
		b.aliveOnly = aliveOnly
		b.page = 0
	})
}

// ToggleAliveOnly flips the alive-only toggle.
func (b *ResultBrowser) ToggleAliveOnly(ctx context.Context) error {
	b.mu.Lock()
	next := !b.aliveOnly
	b.mu.Unlock()
	return b.SetAliveOnly(ctx, next)
}

// SetPage jumps to a zero-indexed page.
func (b *ResultBrowser) SetPage(ctx context.Context, page int) error {
	if page < 0 {
		return errors.ErrValidation("page", "page must not be negative")
	}
	b.mu.Lock()
	if b.page == page {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	return b.change(ctx, func() { b.page = page })
}

// NextPage advances one page. It does nothing on the last page.
func (b *ResultBrowser) NextPage(ctx context.Context) error {
	state := b.State()
	if !state.CanNext() {
		return nil
	}
	return b.SetPage(ctx, state.Page+1)
}

// PrevPage goes back one page. It does nothing on the first page.
func (b *ResultBrowser) PrevPage(ctx context.Context) error {
	state := b.State()
	if !state.CanPrev() {
		return nil
	}
	return b.SetPage(ctx, state.Page-1)
}

// change applies mutate, discards the current page and fetches the new one
// when active.
func (b *ResultBrowser) change(ctx context.Context, mutate func()) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	if mutate != nil {
		mutate()
	}
	b.invalidateLocked()

	if !b.active {
		b.mu.Unlock()
		b.broker.Publish(EventResults)
		return nil
	}

	gen := b.generation
	reqCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.loading = true
	query := b.queryLocked()
	b.mu.Unlock()

	b.broker.Publish(EventResults)
	return b.fetch(reqCtx, cancel, gen, query)
}

// invalidateLocked moves to a new generation, cancels the request in flight
// and drops the displayed page.
func (b *ResultBrowser) invalidateLocked() {
	b.generation++
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	b.items = nil
	b.total = 0
	b.loading = false
	b.loaded = false
	b.lastErr = nil
}

func (b *ResultBrowser) queryLocked() apiclient.ResultQuery {
	query := apiclient.ResultQuery{
		AliveOnly: b.aliveOnly,
		Skip:      b.page * PageSize,
		Limit:     PageSize,
	}
	if b.scanFilter != nil {
		id := *b.scanFilter
		query.ScanID = &id
	}
	return query
}

func (b *ResultBrowser) fetch(ctx context.Context, cancel context.CancelFunc, gen uint64, query apiclient.ResultQuery) error {
	defer cancel()

	page, err := b.api.ListResults(ctx, query)

	b.mu.Lock()
	if gen != b.generation {
		b.mu.Unlock()
		b.metrics.IncrementStaleResponses("results")
		b.logger.Debug("Dropping result page for superseded state", "skip", query.Skip, "alive_only", query.AliveOnly)
		return nil
	}
	b.loading = false
	b.cancel = nil

	if err != nil {
		b.lastErr = err
		b.mu.Unlock()
		b.logger.WithError(err).Warn("Failed to fetch results", "skip", query.Skip, "alive_only", query.AliveOnly)
		b.broker.Publish(EventResults)
		return err
	}

	items := page.Results
	if len(items) > PageSize {
		items = items[:PageSize]
	}
	b.items = items
	b.total = page.Total
	b.loaded = true
	b.mu.Unlock()

	b.broker.Publish(EventResults)
	return nil
}

// Artifact is an export ready to be written out.
type Artifact struct {
	Name   string
	ScanID int64
	Data   []byte
}

// ExportFileName is the artifact name for a scan's export.
func ExportFileName(scanID int64) string {
	return "recon_results_" + strconv.FormatInt(scanID, 10) + ".json"
}

// Save writes the artifact into dir and returns its path.
func (a *Artifact) Save(dir string) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}
	path := filepath.Join(dir, a.Name)
	if err := os.WriteFile(path, a.Data, 0600); err != nil {
		return "", fmt.Errorf("failed to write export: %w", err)
	}
	return path, nil
}

// Export fetches every result of the filtered scan. Exporting all scans at
// once is not allowed; without a scan filter it fails before any request.
func (b *ResultBrowser) Export(ctx context.Context) (*Artifact, error) {
	b.mu.Lock()
	filter := b.scanFilter
	b.mu.Unlock()

	if filter == nil {
		return nil, errors.ErrValidation("scan_id", "select a specific scan to export")
	}
	scanID := *filter

	raw, err := b.api.ExportResults(ctx, scanID)
	if err != nil {
		b.logger.WithError(err).WithScanID(scanID).Warn("Export failed")
		return nil, err
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return nil, errors.ErrMalformed("export", err)
	}
	pretty.WriteByte('\n')

	b.logger.WithScanID(scanID).Info("Exported results", "bytes", pretty.Len())
	return &Artifact{
		Name:   ExportFileName(scanID),
		ScanID: scanID,
		Data:   pretty.Bytes(),
	}, nil
}

func sameID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
