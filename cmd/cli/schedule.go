package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/anstrom/reconboard/internal/dashboard"
	"github.com/anstrom/reconboard/internal/models"
)

// scheduleCmd represents the schedule command.
var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage recurring scans",
	Long: `Manage recurring scans. The API runs a scan of the domain every time the
cron expression fires. Paused schedules are kept but do not fire.`,
	Example: `  reconboard schedule list
  reconboard schedule add example.com --cron weekly
  reconboard schedule add example.com --cron "30 2 * * 1-5"
  reconboard schedule toggle 3
  reconboard schedule remove 3`,
}

// scheduleListCmd represents the schedule list command.
var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all scheduled scans",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, "list schedules", func(ctx context.Context, s *session) error {
			return listSchedules(ctx, s, cmd.OutOrStdout())
		})
	},
}

// scheduleAddCmd represents the schedule add command.
var scheduleAddCmd = &cobra.Command{
	Use:   "add [domain]",
	Short: "Add a recurring scan of a domain",
	Long: `Add a recurring scan. --cron takes a preset name or a standard five-field
cron expression (minute hour day month weekday).

Presets:
` + presetHelp(),
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, "create schedule", func(ctx context.Context, s *session) error {
			return addSchedule(ctx, s, cmd.OutOrStdout(), args[0], scheduleCron)
		})
	},
}

// scheduleToggleCmd represents the schedule toggle command.
var scheduleToggleCmd = &cobra.Command{
	Use:   "toggle [id]",
	Short: "Pause or resume a scheduled scan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, "toggle schedule", func(ctx context.Context, s *session) error {
			id, err := parseID(args[0], "schedule id")
			if err != nil {
				return err
			}
			return toggleSchedule(ctx, s, cmd.OutOrStdout(), id)
		})
	},
}

// scheduleRemoveCmd represents the schedule remove command.
var scheduleRemoveCmd = &cobra.Command{
	Use:   "remove [id]",
	Short: "Remove a scheduled scan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, "delete schedule", func(ctx context.Context, s *session) error {
			id, err := parseID(args[0], "schedule id")
			if err != nil {
				return err
			}
			return removeSchedule(ctx, s, cmd.OutOrStdout(), id)
		})
	},
}

var scheduleCron string

func init() {
	rootCmd.AddCommand(scheduleCmd)
	scheduleCmd.AddCommand(scheduleListCmd)
	scheduleCmd.AddCommand(scheduleAddCmd)
	scheduleCmd.AddCommand(scheduleToggleCmd)
	scheduleCmd.AddCommand(scheduleRemoveCmd)

	scheduleAddCmd.Flags().StringVar(&scheduleCron, "cron", "daily", "Preset name or cron expression")
}

func presetHelp() string {
	var b strings.Builder
	for _, preset := range dashboard.CronPresets {
		fmt.Fprintf(&b, "  %-8s %-12s %s\n", preset.Name, preset.Expression, preset.Label)
	}
	return b.String()
}

func listSchedules(ctx context.Context, s *session, w io.Writer) error {
	manager := s.newScheduleManager()
	if err := manager.Load(ctx); err != nil {
		return err
	}

	state := manager.State()
	active := 0
	for _, schedule := range state.Items {
		if schedule.IsActive {
			active++
		}
	}
	fmt.Fprintf(w, "%d schedules, %d active\n", len(state.Items), active)
	renderSchedules(w, state.Items, time.Now())
	return nil
}

// scheduleRows formats schedules for display. An active schedule without a
// server-provided next run gets a client-side estimate, marked as such.
func scheduleRows(schedules []models.Schedule, now time.Time) [][]string {
	rows := make([][]string, 0, len(schedules))
	for _, schedule := range schedules {
		row := dashboard.FormatScheduleRow(schedule)
		if schedule.NextRun == nil && schedule.IsActive {
			if next, ok := dashboard.PreviewCron(schedule.CronExpression, now.UTC()); ok {
				row.NextRun = estimateLabel(next)
			}
		}
		rows = append(rows, row.Cells())
	}
	return rows
}

func estimateLabel(t time.Time) string {
	return "~" + t.UTC().Format("2006-01-02 15:04") + " (est.)"
}

func addSchedule(ctx context.Context, s *session, w io.Writer, domain, cronExpr string) error {
	manager := s.newScheduleManager()

	schedule, err := manager.Create(ctx, domain, cronExpr)
	if err != nil {
		return err
	}

	state := "paused"
	if schedule.IsActive {
		state = "active"
	}
	fmt.Fprintf(w, "Scheduled %s with %q (#%d, %s)\n", schedule.Domain, schedule.CronExpression, schedule.ID, state)
	if _, ok := dashboard.PreviewCron(schedule.CronExpression, time.Now()); !ok {
		fmt.Fprintln(w, "Note: the expression is not a standard cron expression; the API decides whether it is valid.")
	}
	return nil
}

func toggleSchedule(ctx context.Context, s *session, w io.Writer, id int64) error {
	manager := s.newScheduleManager()

	schedule, err := manager.Toggle(ctx, id)
	if err != nil {
		return err
	}

	if schedule.IsActive {
		fmt.Fprintf(w, "Schedule #%d (%s) is active\n", schedule.ID, schedule.Domain)
	} else {
		fmt.Fprintf(w, "Schedule #%d (%s) is paused\n", schedule.ID, schedule.Domain)
	}
	return nil
}

func removeSchedule(ctx context.Context, s *session, w io.Writer, id int64) error {
	manager := s.newScheduleManager()

	if err := manager.Delete(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(w, "Removed schedule #%d\n", id)
	return nil
}
