package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/xelth-com/fieldsync/internal/alerts"
	"github.com/xelth-com/fieldsync/internal/location"
)

// AlertsOptions holds flags for the alerts command.
type AlertsOptions struct {
	*RootOptions
	Position string
	All      bool
}

// NewAlertsCommand creates the alerts command and its subcommands.
func NewAlertsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AlertsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "List active alerts",
		Long: `Compute alerts from the local store: SLA breaches and warnings, completed
work orders missing a checklist and, with --position, nearby open jobs.

Example:
  fieldsync alerts --position 48.137,11.575
  fieldsync alerts dismiss sla-warning-42`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var pos *location.Position
			if opts.Position != "" {
				p, err := location.ParsePosition(opts.Position)
				if err != nil {
					return WrapExitError(ExitCommandError, "invalid --position", err)
				}
				pos = &p
			}

			app, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer app.Close()

			engine := alerts.NewEngine(app.Store, app.Values)
			list := engine.Active
			if opts.All {
				list = engine.All
			}
			active, err := list(cmd.Context(), pos)
			if err != nil {
				return err
			}
			return rootOpts.formatter(cmd).Success(active, func(w io.Writer) { renderAlerts(w, active) })
		},
	}

	cmd.Flags().StringVar(&opts.Position, "position", "", "current position as lat,lon[,accuracy]")
	cmd.Flags().BoolVar(&opts.All, "all", false, "include dismissed alerts")

	cmd.AddCommand(newDismissCommand(rootOpts, true))
	cmd.AddCommand(newDismissCommand(rootOpts, false))
	return cmd
}

func newDismissCommand(rootOpts *RootOptions, dismiss bool) *cobra.Command {
	use, short := "restore <alert-id>", "Show a dismissed alert again"
	if dismiss {
		use, short = "dismiss <alert-id>", "Hide an alert until it is restored"
	}

	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer app.Close()

			engine := alerts.NewEngine(app.Store, app.Values)
			apply, verb := engine.Restore, "restored"
			if dismiss {
				apply, verb = engine.Dismiss, "dismissed"
			}
			if err := apply(cmd.Context(), args[0]); err != nil {
				return err
			}
			return rootOpts.formatter(cmd).Success(map[string]string{verb: args[0]}, func(w io.Writer) {
				fmt.Fprintf(w, "%s %s\n", verb, args[0])
			})
		},
	}
}

func renderAlerts(w io.Writer, list []alerts.Alert) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No active alerts")
		return
	}
	for _, a := range list {
		fmt.Fprintf(w, "[%s] %s: %s (%s)\n", a.Severity, a.Title, a.Message, a.ID)
	}
}
