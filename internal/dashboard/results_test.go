package dashboard

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/anstrom/reconboard/internal/apiclient"
	"github.com/anstrom/reconboard/internal/apiclient/apitest"
	"github.com/anstrom/reconboard/internal/errors"
	"github.com/anstrom/reconboard/internal/logging"
	"github.com/anstrom/reconboard/internal/metrics"
	"github.com/anstrom/reconboard/internal/models"
)

func newTestBrowser(api ResultAPI, pm *metrics.PrometheusMetrics) *ResultBrowser {
	return NewResultBrowser(api, NewBroker(), logging.NewDiscard(), pm)
}

func TestResultStatePagination(t *testing.T) {
	totals := []int{0, 1, 49, 50, 51, 99, 100, 101, 120, 150, 151}

	for page := 0; page < 5; page++ {
		for _, total := range totals {
			state := ResultState{Page: page, Total: total}

			assert.Equal(t, (page+1)*PageSize < total, state.CanNext(), "page=%d total=%d", page, total)
			assert.Equal(t, page > 0, state.CanPrev(), "page=%d total=%d", page, total)
			assert.GreaterOrEqual(t, state.PageCount(), 1)
		}
	}

	assert.Equal(t, 1, ResultState{Total: 0}.PageCount())
	assert.Equal(t, 1, ResultState{Total: 50}.PageCount())
	assert.Equal(t, 3, ResultState{Total: 120}.PageCount())
	assert.Equal(t, "Page 2 of 3", ResultState{Page: 1, Total: 120}.PageLabel())
	assert.Equal(t, "Page 1 of 1", ResultState{}.PageLabel())
}

func TestResultBrowserPagesThroughScan(t *testing.T) {
	client, srv := newFakeAPI(t)
	scan := srv.AddScan("acme.com", models.ScanStatusCompleted)
	srv.AddResults(scan.ID, 120, 2)

	ctx := context.Background()
	b := newTestBrowser(client, nil)
	require.NoError(t, b.SetScanFilter(ctx, &scan.ID))
	assert.Equal(t, 0, srv.Count(apitest.RouteListResults), "inactive browser does not fetch")

	require.NoError(t, b.Activate(ctx))
	state := b.State()
	assert.Len(t, state.Items, 50)
	assert.Equal(t, 120, state.Total)
	assert.False(t, state.CanPrev())
	assert.True(t, state.CanNext())
	assert.Equal(t, "Page 1 of 3", state.PageLabel())

	require.NoError(t, b.NextPage(ctx))
	assert.Len(t, b.State().Items, 50)

	require.NoError(t, b.NextPage(ctx))
	state = b.State()
	assert.Len(t, state.Items, 20)
	assert.Equal(t, 2, state.Page)
	assert.False(t, state.CanNext())

	before := srv.Count(apitest.RouteListResults)
	require.NoError(t, b.NextPage(ctx))
	assert.Equal(t, before, srv.Count(apitest.RouteListResults), "next on the last page is a no-op")
	assert.Equal(t, 2, b.State().Page)

	require.NoError(t, b.PrevPage(ctx))
	assert.Equal(t, 1, b.State().Page)

	require.NoError(t, b.SetAliveOnly(ctx, true))
	state = b.State()
	assert.Equal(t, 0, state.Page, "alive-only resets the page")
	assert.Equal(t, 60, state.Total)
	for _, r := range state.Items {
		assert.True(t, r.IsAlive)
	}

	require.NoError(t, b.ClearFilter(ctx))
	state = b.State()
	assert.Nil(t, state.ScanFilter)
	assert.True(t, state.AliveOnly, "clearing the scan filter keeps alive-only")
}

func TestResultBrowserAliveOnlyResetsPage(t *testing.T) {
	for _, start := range []int{0, 1, 4} {
		api := newMockAPI(t)
		api.EXPECT().ListResults(gomock.Any(), gomock.Any()).
			Return(&models.ResultPage{Total: 1000}, nil).AnyTimes()

		ctx := context.Background()
		b := newTestBrowser(api, nil)
		require.NoError(t, b.Activate(ctx))
		require.NoError(t, b.SetPage(ctx, start))

		require.NoError(t, b.ToggleAliveOnly(ctx))
		assert.True(t, b.State().AliveOnly)
		assert.Equal(t, 0, b.State().Page)

		require.NoError(t, b.SetPage(ctx, start))
		require.NoError(t, b.SetAliveOnly(ctx, false))
		assert.Equal(t, 0, b.State().Page)
	}
}

func TestResultBrowserQuery(t *testing.T) {
	api := newMockAPI(t)
	scanID := int64(7)

	gomock.InOrder(
		api.EXPECT().ListResults(gomock.Any(), apiclient.ResultQuery{Limit: PageSize}).
			Return(&models.ResultPage{Total: 200}, nil),
		api.EXPECT().ListResults(gomock.Any(), apiclient.ResultQuery{Skip: 150, Limit: PageSize}).
			Return(&models.ResultPage{Total: 200}, nil),
		api.EXPECT().ListResults(gomock.Any(), apiclient.ResultQuery{ScanID: &scanID, Skip: 150, Limit: PageSize}).
			Return(&models.ResultPage{Total: 200}, nil),
		api.EXPECT().ListResults(gomock.Any(), apiclient.ResultQuery{ScanID: &scanID, AliveOnly: true, Limit: PageSize}).
			Return(&models.ResultPage{Total: 200}, nil),
	)

	ctx := context.Background()
	b := newTestBrowser(api, nil)
	require.NoError(t, b.Activate(ctx))
	require.NoError(t, b.SetPage(ctx, 3))
	require.NoError(t, b.SetScanFilter(ctx, &scanID))
	require.NoError(t, b.SetAliveOnly(ctx, true))
}

func TestResultBrowserTrimsOversizedPage(t *testing.T) {
	api := newMockAPI(t)
	api.EXPECT().ListResults(gomock.Any(), gomock.Any()).
		Return(&models.ResultPage{Results: makeResults(1, 75), Total: 75}, nil)

	b := newTestBrowser(api, nil)
	require.NoError(t, b.Activate(context.Background()))
	assert.Len(t, b.State().Items, PageSize)
}

func TestResultBrowserSetPageRejectsNegative(t *testing.T) {
	b := newTestBrowser(newMockAPI(t), nil)
	err := b.SetPage(context.Background(), -1)
	assert.True(t, errors.IsValidation(err))
}

func TestResultBrowserDropsStaleResponse(t *testing.T) {
	pm := metrics.NewPrometheusMetrics()
	api := newMockAPI(t)

	started := make(chan struct{})
	release := make(chan struct{})

	api.EXPECT().ListResults(gomock.Any(), apiclient.ResultQuery{Limit: PageSize}).
		DoAndReturn(func(context.Context, apiclient.ResultQuery) (*models.ResultPage, error) {
			close(started)
			<-release
			return &models.ResultPage{Results: makeResults(1, 50), Total: 500}, nil
		})
	api.EXPECT().ListResults(gomock.Any(), apiclient.ResultQuery{AliveOnly: true, Limit: PageSize}).
		Return(&models.ResultPage{Results: makeResults(1, 3), Total: 3}, nil)

	ctx := context.Background()
	b := newTestBrowser(api, pm)

	done := make(chan error, 1)
	go func() { done <- b.Activate(ctx) }()

	<-started
	require.NoError(t, b.SetAliveOnly(ctx, true))
	close(release)
	require.NoError(t, <-done)

	state := b.State()
	assert.True(t, state.AliveOnly)
	assert.Equal(t, 3, state.Total)
	assert.Len(t, state.Items, 3)
	assert.Equal(t, float64(1), counterValue(t, pm, "reconboard_dashboard_stale_responses_total"))
}

func TestResultBrowserDeactivateCancelsFetch(t *testing.T) {
	api := newMockAPI(t)
	started := make(chan struct{})

	api.EXPECT().ListResults(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ apiclient.ResultQuery) (*models.ResultPage, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		})

	b := newTestBrowser(api, nil)
	done := make(chan error, 1)
	go func() { done <- b.Activate(context.Background()) }()

	<-started
	b.Deactivate()
	require.NoError(t, <-done, "the canceled response belongs to an old generation")

	state := b.State()
	assert.False(t, state.Active)
	assert.False(t, state.Loading)
	assert.Nil(t, state.Err)
}

func TestResultBrowserIgnoresChangesAfterClose(t *testing.T) {
	// The strict mock fails the test on any fetch.
	b := newTestBrowser(newMockAPI(t), nil)
	ctx := context.Background()

	b.Close()
	require.NoError(t, b.Activate(ctx))
	require.NoError(t, b.ShowScan(ctx, 4))
	require.NoError(t, b.SetPage(ctx, 2))
	require.NoError(t, b.ToggleAliveOnly(ctx))
	require.NoError(t, b.Reload(ctx))

	state := b.State()
	assert.False(t, state.Active)
	assert.Nil(t, state.ScanFilter)
	assert.Zero(t, state.Page)
	assert.False(t, state.AliveOnly)
}

func TestResultBrowserCloseDropsFetchInFlight(t *testing.T) {
	pm := metrics.NewPrometheusMetrics()
	api := newMockAPI(t)
	started := make(chan struct{})
	release := make(chan struct{})

	api.EXPECT().ListResults(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, apiclient.ResultQuery) (*models.ResultPage, error) {
			close(started)
			<-release
			return &models.ResultPage{Results: makeResults(1, 5), Total: 5}, nil
		})

	b := newTestBrowser(api, pm)
	done := make(chan error, 1)
	go func() { done <- b.Activate(context.Background()) }()

	<-started
	b.Close()
	close(release)
	require.NoError(t, <-done)

	assert.Empty(t, b.State().Items)
	assert.Equal(t, float64(1), counterValue(t, pm, "reconboard_dashboard_stale_responses_total"))
}

func TestResultBrowserKeepsStateAcrossDeactivate(t *testing.T) {
	api := newMockAPI(t)
	scanID := int64(3)
	api.EXPECT().ListResults(gomock.Any(), gomock.Any()).
		Return(&models.ResultPage{Results: makeResults(scanID, 50), Total: 300}, nil).Times(3)

	ctx := context.Background()
	b := newTestBrowser(api, nil)
	require.NoError(t, b.Activate(ctx))
	require.NoError(t, b.ShowScan(ctx, scanID))
	b.Deactivate()

	state := b.State()
	assert.Empty(t, state.Items)
	require.NotNil(t, state.ScanFilter)
	assert.Equal(t, scanID, *state.ScanFilter)

	require.NoError(t, b.Reload(ctx), "reload while inactive does not fetch")
	require.NoError(t, b.Activate(ctx))
	assert.Len(t, b.State().Items, 50)
}

func TestResultBrowserFetchError(t *testing.T) {
	api := newMockAPI(t)
	boom := errors.ErrNetwork(apiclient.OpListResults, assert.AnError)
	api.EXPECT().ListResults(gomock.Any(), gomock.Any()).Return(nil, boom)

	b := newTestBrowser(api, nil)
	err := b.Activate(context.Background())
	require.Error(t, err)

	state := b.State()
	assert.ErrorIs(t, state.Err, boom)
	assert.False(t, state.Loaded)
	assert.Empty(t, state.Items)
}

func TestExportWithoutScanMakesNoRequest(t *testing.T) {
	// The mock has no expectations, so any API call fails the test.
	b := newTestBrowser(newMockAPI(t), nil)

	artifact, err := b.Export(context.Background())
	assert.Nil(t, artifact)
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestExportWritesPrettyArtifact(t *testing.T) {
	client, srv := newFakeAPI(t)
	scan := srv.AddScan("acme.com", models.ScanStatusCompleted)
	srv.AddResults(scan.ID, 2, 0)

	ctx := context.Background()
	b := newTestBrowser(client, nil)
	require.NoError(t, b.SetScanFilter(ctx, &scan.ID))

	artifact, err := b.Export(ctx)
	require.NoError(t, err)
	assert.Equal(t, ExportFileName(scan.ID), artifact.Name)
	assert.Equal(t, scan.ID, artifact.ScanID)
	assert.Contains(t, string(artifact.Data), "\n  {")

	var rows []map[string]any
	require.NoError(t, json.Unmarshal(artifact.Data, &rows))
	assert.Len(t, rows, 2)

	dir := filepath.Join(t.TempDir(), "exports")
	path, err := artifact.Save(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "recon_results_1.json"), path)

	written, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, artifact.Data, written)
}

func TestExportFileName(t *testing.T) {
	assert.Equal(t, "recon_results_42.json", ExportFileName(42))
}
