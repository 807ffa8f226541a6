package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/anstrom/reconboard/internal/dashboard"
	"github.com/anstrom/reconboard/internal/errors"
)

// statusCmd represents the status command.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check that the recon API is reachable and healthy",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, "health check", func(ctx context.Context, s *session) error {
			return showStatus(ctx, s, cmd.OutOrStdout())
		})
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func showStatus(ctx context.Context, s *session, w io.Writer) error {
	shell := s.newShell(dashboard.ViewDashboard)
	defer shell.Unmount()

	fmt.Fprintf(w, "API:    %s\n", s.client.BaseURL())

	health, err := shell.Health(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Status: %s\n", health.Status)
	fmt.Fprintf(w, "Time:   %s\n", health.Timestamp)

	if !health.Healthy() {
		return errors.New(errors.CodeAPIStatus, fmt.Sprintf("API reports status %q", health.Status))
	}
	return nil
}
