package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewScheduleCmd создаёт группу команд для управления schedules.
func NewScheduleCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage schedules",
	}

	cmd.AddCommand(
		newScheduleListCmd(clientFn, outputFn),
		newScheduleCreateCmd(clientFn, outputFn),
		newScheduleDeleteCmd(clientFn, outputFn),
		newScheduleEnableCmd(clientFn, outputFn, true),
		newScheduleEnableCmd(clientFn, outputFn, false),
	)

	return cmd
}

func newScheduleListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var template string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			schedules, err := clientFn().ListSchedules(cmd.Context(), template)
			if err != nil {
				return err
			}

			headers := []string{"ID", "NAME", "TEMPLATE", "CRON", "INTERVAL", "TZ", "ENABLED", "NEXT_DUE"}
			rows := make([][]string, len(schedules))
			for i, s := range schedules {
				interval := ""
				if s.IntervalSec > 0 {
					interval = strconv.Itoa(s.IntervalSec) + "s"
				}
				rows[i] = []string{
					s.ID, s.Name, s.TemplateName, s.CronExpr, interval, s.Timezone,
					strconv.FormatBool(s.Enabled), s.NextDueAt,
				}
			}

			out.Print(headers, rows, schedules)
			return nil
		},
	}

	cmd.Flags().StringVar(&template, "template", "", "Filter by template name")

	return cmd
}

func newScheduleCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var req CreateScheduleRequest
	var disabled bool

	cmd := &cobra.Command{
		Use:   "create NAME --template TEMPLATE (--cron EXPR | --interval SEC)",
		Short: "Create a schedule for a saved template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			req.Name = args[0]
			if disabled {
				enabled := false
				req.Enabled = &enabled
			}

			schedule, err := clientFn().CreateSchedule(cmd.Context(), req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Schedule created: %s (next due %s)", schedule.ID, schedule.NextDueAt))
			return nil
		},
	}

	cmd.Flags().StringVar(&req.TemplateName, "template", "", "Saved template to deploy")
	cmd.Flags().StringVar(&req.CronExpr, "cron", "", "Cron expression (5 fields or @daily style)")
	cmd.Flags().IntVar(&req.IntervalSec, "interval", 0, "Interval in seconds")
	cmd.Flags().StringVar(&req.Timezone, "timezone", "", "IANA timezone for cron (default UTC)")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Create the schedule disabled")
	cmd.MarkFlagRequired("template")

	return cmd
}

func newScheduleDeleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := clientFn().DeleteSchedule(cmd.Context(), args[0]); err != nil {
				return err
			}
			outputFn().Success(fmt.Sprintf("Schedule deleted: %s", args[0]))
			return nil
		},
	}
}

func newScheduleEnableCmd(clientFn func() *Client, outputFn func() *Output, enabled bool) *cobra.Command {
	use, short, verb := "enable ID", "Enable a schedule", "enabled"
	if !enabled {
		use, short, verb = "disable ID", "Disable a schedule", "disabled"
	}

	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			schedule, err := clientFn().SetScheduleEnabled(cmd.Context(), args[0], enabled)
			if err != nil {
				return err
			}
			outputFn().Success(fmt.Sprintf("Schedule %s: %s", verb, schedule.Name))
			return nil
		},
	}
}
