package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/anstrom/reconboard/internal/dashboard"
)

// statsCmd represents the stats command.
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show totals, running scans and top findings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, "load stats", func(ctx context.Context, s *session) error {
			return showStats(ctx, s, cmd.OutOrStdout())
		})
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func showStats(ctx context.Context, s *session, w io.Writer) error {
	shell := s.newShell(dashboard.ViewDashboard)
	defer shell.Unmount()

	err := shell.Refresh(ctx)
	state := shell.Snapshot()
	if state.Stats == nil && state.LastRefresh.IsZero() {
		return err
	}
	if err != nil {
		s.logger.WithError(err).Warn("Partial refresh")
	}

	renderOverview(w, dashboard.BuildOverview(state.Scans, state.Stats))
	return nil
}
