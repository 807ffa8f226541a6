package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/anstrom/reconboard/internal/dashboard"
	"github.com/anstrom/reconboard/internal/errors"
)

// resultOptions are the result browser settings taken from flags.
type resultOptions struct {
	scanID    int64
	aliveOnly bool
	page      int
}

var (
	resultFlags resultOptions
	exportDir   string
)

// resultsCmd represents the results command.
var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Browse discovered subdomains and hosts",
	Long: `Show one page of results, optionally limited to one scan and to hosts that
answered. Pages hold 50 results and are numbered from 1.`,
	Example: `  reconboard results
  reconboard results --scan 12 --alive-only
  reconboard results --scan 12 --page 3
  reconboard results export 12 --dir ./exports`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, "list results", func(ctx context.Context, s *session) error {
			return browseResults(ctx, s, cmd.OutOrStdout(), resultFlags)
		})
	},
}

var resultsExportCmd = &cobra.Command{
	Use:   "export [scan-id]",
	Short: "Export every result of a scan to a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, "export results", func(ctx context.Context, s *session) error {
			id, err := parseID(args[0], "scan id")
			if err != nil {
				return err
			}
			dir := exportDir
			if dir == "" {
				dir = s.cfg.Export.Dir
			}
			return exportResults(ctx, s, cmd.OutOrStdout(), id, dir)
		})
	},
}

func init() {
	rootCmd.AddCommand(resultsCmd)
	resultsCmd.AddCommand(resultsExportCmd)

	resultsCmd.Flags().Int64Var(&resultFlags.scanID, "scan", 0, "Only show results of this scan")
	resultsCmd.Flags().BoolVar(&resultFlags.aliveOnly, "alive-only", false, "Only show hosts that answered")
	resultsCmd.Flags().IntVar(&resultFlags.page, "page", 1, "Page number, starting at 1")

	resultsExportCmd.Flags().StringVar(&exportDir, "dir", "", "Directory to write the export to (default from config)")
}

func browseResults(ctx context.Context, s *session, w io.Writer, opts resultOptions) error {
	if opts.page < 1 {
		return errors.ErrValidation("page", "page numbers start at 1")
	}

	shell := s.newShell(dashboard.ViewDashboard)
	defer shell.Unmount()

	// Settle the state before activating so only one page is fetched
	browser := shell.Results()
	if opts.scanID > 0 {
		if err := browser.ShowScan(ctx, opts.scanID); err != nil {
			return err
		}
	}
	if err := browser.SetAliveOnly(ctx, opts.aliveOnly); err != nil {
		return err
	}
	if err := browser.SetPage(ctx, opts.page-1); err != nil {
		return err
	}
	if err := browser.Activate(ctx); err != nil {
		return err
	}

	renderResults(w, browser.State())
	return nil
}

func exportResults(ctx context.Context, s *session, w io.Writer, scanID int64, dir string) error {
	shell := s.newShell(dashboard.ViewDashboard)
	defer shell.Unmount()

	browser := shell.Results()
	if err := browser.SetScanFilter(ctx, &scanID); err != nil {
		return err
	}

	artifact, err := browser.Export(ctx)
	if err != nil {
		return err
	}
	path, err := artifact.Save(dir)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Exported results of scan #%d to %s\n", scanID, path)
	return nil
}
