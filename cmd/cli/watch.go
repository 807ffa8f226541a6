package cli

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/anstrom/reconboard/internal/dashboard"
	"github.com/anstrom/reconboard/internal/logging"
	"github.com/anstrom/reconboard/internal/metrics"
)

const (
	clearScreen              = "\033[H\033[2J"
	metricsShutdownTimeout   = 5 * time.Second
	metricsReadHeaderTimeout = 5 * time.Second
)

// watchOptions are the live dashboard settings taken from flags.
type watchOptions struct {
	view        string
	scanID      int64
	metricsAddr string
	interval    time.Duration
}

var watchFlags watchOptions

// watchCmd represents the watch command.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep a live dashboard on screen",
	Long: `Mount the dashboard and redraw it whenever scans, stats, results or
schedules change. Scans and stats are polled every 10 seconds unless
--interval says otherwise. Type a key and press Enter to navigate: 1-4
switch views, "s <id>" opens the results of a scan, n and p page through
results, a toggles alive-only, x clears the scan filter, r reloads and q
quits. Ctrl+C also stops.`,
	Example: `  reconboard watch
  reconboard watch --view results --scan 12
  reconboard watch --metrics-addr 127.0.0.1:9109`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, "watch dashboard", func(ctx context.Context, s *session) error {
			return runWatch(ctx, s, cmd.InOrStdin(), cmd.OutOrStdout(), watchFlags)
		})
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().AddFlagSet(watchFlagSet(&watchFlags))

	if err := viper.BindPFlag("polling_interval", watchCmd.Flags().Lookup("interval")); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to bind interval flag: %v\n", err)
	}
}

func watchFlagSet(opts *watchOptions) *pflag.FlagSet {
	fs := pflag.NewFlagSet("watch", pflag.ContinueOnError)
	fs.StringVar(&opts.view, "view", string(dashboard.ViewDashboard), "Initial view: dashboard, scans, results or scheduled")
	fs.Int64Var(&opts.scanID, "scan", 0, "Open the results view for this scan")
	fs.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	fs.DurationVar(&opts.interval, "interval", 0, "Polling interval (default from config)")
	return fs
}

func runWatch(ctx context.Context, s *session, in io.Reader, w io.Writer, opts watchOptions) error {
	view, err := dashboard.ParseView(opts.view)
	if err != nil {
		return err
	}

	addr := opts.metricsAddr
	if addr == "" && s.cfg.Metrics.Enabled {
		addr = s.cfg.Metrics.ListenAddr
	}
	if addr != "" {
		stop, err := startMetricsServer(addr, s.metrics, s.logger)
		if err != nil {
			return err
		}
		defer stop()
	}

	shell := s.newShell(view)
	events, unsubscribe := shell.Subscribe()
	defer unsubscribe()
	defer shell.Unmount()

	if err := shell.Mount(ctx); err != nil {
		// Mount keeps polling after a failed first refresh
		s.logger.WithError(err).Warn("Initial load incomplete")
	}
	if opts.scanID > 0 {
		if err := shell.ViewResults(ctx, opts.scanID); err != nil {
			s.logger.WithError(err).Warn("Failed to open results", "scan_id", opts.scanID)
		}
	}

	screen := &watchScreen{shell: shell, w: w, baseURL: s.cfg.GetBaseURL()}
	done := make(chan struct{})
	defer close(done)
	input := readCommands(in, done)

	screen.draw()
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-events:
			if !ok {
				return nil
			}
			screen.draw()
		case line, ok := <-input:
			if !ok {
				// Input closed; keep watching until interrupted
				input = nil
				continue
			}
			if screen.handle(ctx, line) {
				return nil
			}
			screen.draw()
		}
	}
}

// readCommands delivers input lines until the reader is exhausted or done is
// closed.
func readCommands(in io.Reader, done <-chan struct{}) <-chan string {
	lines := make(chan string)
	if in == nil {
		close(lines)
		return lines
	}
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
	}()
	return lines
}

const watchHelp = "keys: 1 dashboard  2 scans  3 results  4 scheduled  s <id> open scan  " +
	"n/p page  a alive only  x clear filter  r reload  q quit"

// watchScreen routes keyboard commands to the shell and draws frames.
type watchScreen struct {
	shell   *dashboard.Shell
	w       io.Writer
	baseURL string
	status  string
}

func (ws *watchScreen) draw() {
	renderFrame(ws.w, ws.baseURL, ws.shell)
	fmt.Fprintln(ws.w)
	if ws.status != "" {
		fmt.Fprintln(ws.w, ws.status)
	}
	fmt.Fprintln(ws.w, watchHelp)
}

// handle runs one command line. It reports true when the user asked to quit.
func (ws *watchScreen) handle(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	ws.status = ""
	var err error
	switch strings.ToLower(fields[0]) {
	case "q", "quit":
		return true
	case "1":
		err = ws.shell.SetView(ctx, dashboard.ViewDashboard)
	case "2":
		err = ws.shell.SetView(ctx, dashboard.ViewScans)
	case "3":
		err = ws.shell.SetView(ctx, dashboard.ViewResults)
	case "4":
		err = ws.shell.SetView(ctx, dashboard.ViewScheduled)
	case "s":
		if len(fields) != 2 {
			ws.status = "usage: s <scan-id>"
			return false
		}
		var id int64
		if id, err = parseID(fields[1], "scan id"); err == nil {
			err = ws.shell.ViewResults(ctx, id)
		}
	case "n":
		err = ws.shell.Results().NextPage(ctx)
	case "p":
		err = ws.shell.Results().PrevPage(ctx)
	case "a":
		err = ws.shell.Results().ToggleAliveOnly(ctx)
	case "x":
		err = ws.shell.ClearSelection(ctx)
	case "r":
		err = ws.reload(ctx)
	default:
		ws.status = fmt.Sprintf("unknown command %q", fields[0])
		return false
	}

	if err != nil {
		ws.status = fmt.Sprintf("error: %s", validationMessage(err))
	}
	return false
}

// reload refetches whatever the current view shows.
func (ws *watchScreen) reload(ctx context.Context) error {
	switch ws.shell.Snapshot().View {
	case dashboard.ViewResults:
		return ws.shell.Results().Reload(ctx)
	case dashboard.ViewScheduled:
		return ws.shell.Schedules().Load(ctx)
	default:
		return ws.shell.Refresh(ctx)
	}
}

// renderFrame redraws the whole screen for the shell's current view.
func renderFrame(w io.Writer, baseURL string, shell *dashboard.Shell) {
	state := shell.Snapshot()

	fmt.Fprint(w, clearScreen)
	renderHeader(w, baseURL, state)

	switch state.View {
	case dashboard.ViewScans:
		renderScans(w, state.Scans)
	case dashboard.ViewResults:
		results := shell.Results().State()
		if results.ScanFilter != nil {
			fmt.Fprintf(w, "Scan #%d", *results.ScanFilter)
		} else {
			fmt.Fprint(w, "All scans")
		}
		if results.AliveOnly {
			fmt.Fprint(w, ", alive only")
		}
		fmt.Fprintln(w)
		if results.Loading && !results.Loaded {
			fmt.Fprintln(w, "Loading results...")
			return
		}
		if results.Err != nil {
			fmt.Fprintf(w, "Failed to load results: %v\n", results.Err)
		}
		renderResults(w, results)
	case dashboard.ViewScheduled:
		schedules := shell.Schedules().State()
		if schedules.Loading && !schedules.Loaded {
			fmt.Fprintln(w, "Loading schedules...")
			return
		}
		if schedules.Err != nil {
			fmt.Fprintf(w, "Failed to load schedules: %v\n", schedules.Err)
		}
		renderSchedules(w, schedules.Items, time.Now())
	default:
		renderOverview(w, dashboard.BuildOverview(state.Scans, state.Stats))
	}
}

// metricsRouter exposes the Prometheus registry at /metrics.
func metricsRouter(pm *metrics.PrometheusMetrics) http.Handler {
	if pm == nil {
		pm = metrics.GetGlobalMetrics()
	}

	router := mux.NewRouter()
	router.Handle("/metrics", pm.Handler()).Methods(http.MethodGet)
	return handlers.RecoveryHandler(handlers.PrintRecoveryStack(false))(router)
}

// startMetricsServer serves /metrics until the returned stop function runs.
func startMetricsServer(addr string, pm *metrics.PrometheusMetrics, logger *logging.Logger) (func(), error) {
	server := &http.Server{
		Handler:           metricsRouter(pm),
		ReadHeaderTimeout: metricsReadHeaderTimeout,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	logger.Info("Metrics server started", "address", listener.Addr().String())
	go func() {
		if err := server.Serve(listener); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Metrics server stopped")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.WithError(err).Warn("Metrics server shutdown")
		}
	}, nil
}
