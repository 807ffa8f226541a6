package dashboard

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/anstrom/reconboard/internal/apiclient"
	"github.com/anstrom/reconboard/internal/apiclient/apitest"
	"github.com/anstrom/reconboard/internal/dashboard/mocks"
	"github.com/anstrom/reconboard/internal/logging"
	"github.com/anstrom/reconboard/internal/metrics"
	"github.com/anstrom/reconboard/internal/models"
)

// newFakeAPI starts an in-memory API and a client talking to it.
func newFakeAPI(t *testing.T) (*apiclient.Client, *apitest.Server) {
	t.Helper()
	srv := apitest.New()
	t.Cleanup(srv.Close)
	return apiclient.New(srv.URL, apiclient.WithLogger(logging.NewDiscard())), srv
}

func newMockAPI(t *testing.T) *mocks.MockAPI {
	t.Helper()
	ctrl := gomock.NewController(t)
	return mocks.NewMockAPI(ctrl)
}

// counterValue sums every series of a counter family in pm's registry.
func counterValue(t *testing.T, pm *metrics.PrometheusMetrics, name string) float64 {
	t.Helper()
	families, err := pm.GetRegistry().Gather()
	require.NoError(t, err)

	total := 0.0
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, m := range family.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func scanIDs(scans []models.Scan) []int64 {
	ids := make([]int64, 0, len(scans))
	for _, scan := range scans {
		ids = append(ids, scan.ID)
	}
	return ids
}

func makeResults(scanID int64, n int) []models.Result {
	out := make([]models.Result, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, models.Result{ID: int64(i + 1), ScanID: scanID, Subdomain: "host.example.com"})
	}
	return out
}
