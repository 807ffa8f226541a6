package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/anstrom/reconboard/internal/dashboard"
	"github.com/anstrom/reconboard/internal/errors"
)

// scansCmd represents the scans command.
var scansCmd = &cobra.Command{
	Use:   "scans",
	Short: "List, start and delete scans",
	Long: `Manage reconnaissance scans. A scan enumerates the subdomains of a domain
and checks the hosts it finds; the API runs it in the background.`,
	Example: `  reconboard scans list
  reconboard scans start example.com
  reconboard scans show 12
  reconboard scans delete 12`,
}

var scansListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all scans, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, "list scans", func(ctx context.Context, s *session) error {
			return listScans(ctx, s, cmd.OutOrStdout(), scansRunningOnly)
		})
	},
}

var scansStartCmd = &cobra.Command{
	Use:   "start [domain]",
	Short: "Start a scan of a domain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, "start scan", func(ctx context.Context, s *session) error {
			return startScan(ctx, s, cmd.OutOrStdout(), args[0])
		})
	},
}

var scansDeleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a scan and its results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, "delete scan", func(ctx context.Context, s *session) error {
			id, err := parseID(args[0], "scan id")
			if err != nil {
				return err
			}
			return deleteScan(ctx, s, cmd.OutOrStdout(), id)
		})
	},
}

var scansShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show a scan with all of its results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, "show scan", func(ctx context.Context, s *session) error {
			id, err := parseID(args[0], "scan id")
			if err != nil {
				return err
			}
			return showScan(ctx, s, cmd.OutOrStdout(), id)
		})
	},
}

var scansRunningOnly bool

func init() {
	rootCmd.AddCommand(scansCmd)
	scansCmd.AddCommand(scansListCmd)
	scansCmd.AddCommand(scansStartCmd)
	scansCmd.AddCommand(scansDeleteCmd)
	scansCmd.AddCommand(scansShowCmd)

	scansListCmd.Flags().BoolVar(&scansRunningOnly, "running", false, "Only show running scans")
}

func listScans(ctx context.Context, s *session, w io.Writer, runningOnly bool) error {
	shell := s.newShell(dashboard.ViewScans)
	defer shell.Unmount()

	err := shell.Refresh(ctx)
	state := shell.Snapshot()
	if state.LastRefresh.IsZero() {
		return err
	}

	scans := state.Scans
	if runningOnly {
		scans = nil
		for _, scan := range state.Scans {
			if scan.Status.IsActive() {
				scans = append(scans, scan)
			}
		}
	}

	fmt.Fprintf(w, "%d scans, %d running\n", len(state.Scans), state.RunningCount())
	renderScans(w, scans)
	return nil
}

func startScan(ctx context.Context, s *session, w io.Writer, domain string) error {
	shell := s.newShell(dashboard.ViewScans)
	defer shell.Unmount()

	scan, err := shell.StartScan(ctx, domain)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Started scan #%d for %s (%s)\n", scan.ID, scan.Domain, scan.Status)
	return nil
}

func deleteScan(ctx context.Context, s *session, w io.Writer, id int64) error {
	shell := s.newShell(dashboard.ViewScans)
	defer shell.Unmount()

	if err := shell.DeleteScan(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(w, "Deleted scan #%d\n", id)
	return nil
}

func showScan(ctx context.Context, s *session, w io.Writer, id int64) error {
	shell := s.newShell(dashboard.ViewScans)
	defer shell.Unmount()

	detail, err := shell.ScanDetail(ctx, id)
	if err != nil {
		return err
	}

	scan := detail.Scan
	fmt.Fprintf(w, "Scan #%d\n", scan.ID)
	fmt.Fprintf(w, "  Domain:     %s\n", scan.Domain)
	fmt.Fprintf(w, "  Status:     %s\n", scan.Status)
	fmt.Fprintf(w, "  Created:    %s\n", scan.CreatedAt)
	fmt.Fprintf(w, "  Completed:  %s\n", completedAt(scan))
	if scan.ScheduleCron != nil {
		fmt.Fprintf(w, "  Schedule:   %s\n", *scan.ScheduleCron)
	}
	fmt.Fprintf(w, "  Subdomains: %d (%d alive, %d with open ports)\n\n",
		detail.Stats.TotalSubdomains, detail.Stats.AliveHosts, detail.Stats.WithPorts)

	if len(detail.Subdomains) == 0 {
		fmt.Fprintln(w, "No results found")
		return nil
	}
	rows := make([][]string, 0, len(detail.Subdomains))
	for _, result := range detail.Subdomains {
		rows = append(rows, dashboard.FormatResultRow(result).Cells())
	}
	renderTable(w, dashboard.ResultHeaders, rows)
	return nil
}

// parseID parses a positive integer identifier.
func parseID(arg, field string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.ErrValidation(field, fmt.Sprintf("invalid %s %q", field, arg))
	}
	return id, nil
}
