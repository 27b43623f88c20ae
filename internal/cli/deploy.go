package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// ErrDeploymentFailed — отслеживаемый run завершился со статусом failed.
var ErrDeploymentFailed = errors.New("deployment failed")

// NewDeployCmd создаёт группу команд для запусков.
func NewDeployCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Run and inspect deployments",
	}

	cmd.AddCommand(
		newDeploySubmitCmd(clientFn, outputFn),
		newDeployListCmd(clientFn, outputFn),
		newDeployShowCmd(clientFn, outputFn),
		newDeployCancelCmd(clientFn, outputFn),
		newDeployLogsCmd(clientFn, outputFn),
	)

	return cmd
}

func newDeploySubmitCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var file string
	var template string
	var follow bool

	cmd := &cobra.Command{
		Use:   "submit (-f FILE | --template NAME)",
		Short: "Start a deployment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if (file == "") == (template == "") {
				return errors.New("exactly one of --file or --template is required")
			}

			var (
				accepted *DeploymentAccepted
				err      error
			)
			if template != "" {
				accepted, err = client.DeployTemplate(cmd.Context(), template)
			} else {
				body, readErr := readTemplateFile(cmd.InOrStdin(), file)
				if readErr != nil {
					return readErr
				}
				accepted, err = client.SubmitDeployment(cmd.Context(), body)
			}
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Deployment started: %s", accepted.RunID))
			if !follow {
				out.Print([]string{"RUN_ID", "STATUS"}, [][]string{{accepted.RunID, accepted.Status}}, accepted)
				return nil
			}
			return followLogs(cmd, client, out, accepted.RunID, FollowOptions{})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Template file, YAML or JSON (- for stdin)")
	cmd.Flags().StringVar(&template, "template", "", "Name of a saved template")
	cmd.Flags().BoolVar(&follow, "follow", false, "Stream logs until the deployment finishes")

	return cmd
}

func newDeployListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List deployments",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			runs, err := clientFn().ListDeployments(cmd.Context(), limit)
			if err != nil {
				return err
			}

			headers := []string{"ID", "FT", "TEMPLATE", "STATUS", "BY", "CREATED"}
			rows := make([][]string, len(runs))
			for i, r := range runs {
				rows[i] = []string{r.ID, r.FTNumber, r.TemplateName, r.Status, r.InitiatedBy, r.CreatedAt}
			}

			out.Print(headers, rows, runs)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of results")

	return cmd
}

func newDeployShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show a deployment with per-host results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			run, err := clientFn().GetDeployment(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if out.JSONMode() {
				out.JSON(run)
				return nil
			}

			out.Table(
				[]string{"ID", "FT", "STATUS", "BY", "DURATION", "ERROR"},
				[][]string{{run.ID, run.FTNumber, run.Status, run.InitiatedBy, formatSeconds(run.Duration), run.Error}},
			)
			fmt.Fprintln(out.Writer())

			rows := make([][]string, len(run.Results))
			for i, r := range run.Results {
				rows[i] = []string{strconv.Itoa(r.Order), r.Type, r.Target, r.Status, r.ExitDetail}
			}
			out.Table([]string{"STEP", "TYPE", "TARGET", "STATUS", "DETAIL"}, rows)
			return nil
		},
	}
}

func newDeployCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a running deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			run, err := clientFn().CancelDeployment(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Deployment cancelled: %s (%s)", run.ID, run.Error))
			return nil
		},
	}
}

func newDeployLogsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var follow bool
	var poll bool
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "logs ID",
		Short: "Print deployment logs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if follow || poll {
				return followLogs(cmd, client, out, args[0], FollowOptions{
					Poll:         poll,
					PollInterval: interval,
				})
			}

			logs, err := client.GetLogs(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if out.JSONMode() {
				out.JSON(logs)
				return nil
			}
			for _, line := range logs.Logs {
				fmt.Fprintln(out.Writer(), line)
			}
			if !logs.Completed {
				out.Success(fmt.Sprintf("Deployment is %s, use --follow to keep watching", logs.Status))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&follow, "follow", false, "Stream logs until the deployment finishes (SSE)")
	cmd.Flags().BoolVar(&poll, "poll", false, "Follow by polling instead of SSE")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "Initial polling interval")

	return cmd
}

// followLogs печатает лог до финального статуса.
// Упавший run возвращает ErrDeploymentFailed, чтобы CLI вышел с ненулевым кодом.
func followLogs(cmd *cobra.Command, client *Client, out *Output, id string, opts FollowOptions) error {
	opts.Logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))

	status, err := client.Follow(cmd.Context(), id, out.Writer(), opts)
	if err != nil {
		return err
	}

	out.Success(fmt.Sprintf("Deployment %s.", status))
	if status == "failed" {
		return fmt.Errorf("%w: %s", ErrDeploymentFailed, id)
	}
	return nil
}

func formatSeconds(sec float64) string {
	return (time.Duration(sec * float64(time.Second))).Round(time.Millisecond).String()
}
