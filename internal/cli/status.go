package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/xelth-com/fieldsync/internal/models"
)

// StatusReport is the local view of sync state; no network access needed
type StatusReport struct {
	Tenant    string                      `json:"tenant"`
	Device    string                      `json:"device"`
	Metadata  *models.SyncMetadata        `json:"metadata,omitempty"`
	Pending   []models.SyncQueue          `json:"pending"`
	Conflicts []models.SyncConflict       `json:"conflicts"`
	Counts    map[models.Collection]int64 `json:"counts"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queued writes, open conflicts and the last sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx := cmd.Context()
			engine := app.newEngine()

			report := StatusReport{
				Tenant: app.Session.TenantID,
				Device: app.Session.DeviceID,
			}
			if report.Metadata, err = engine.LoadMetadata(ctx); err != nil {
				return err
			}
			if report.Pending, err = app.Queue.Drain(ctx); err != nil {
				return err
			}
			if report.Conflicts, err = engine.OpenConflicts(ctx); err != nil {
				return err
			}
			if report.Counts, err = app.Store.Counts(ctx); err != nil {
				return err
			}

			return rootOpts.formatter(cmd).Success(report, func(w io.Writer) { renderStatus(w, report) })
		},
	}
}

func renderStatus(w io.Writer, r StatusReport) {
	fmt.Fprintf(w, "Tenant %s, device %s\n", r.Tenant, r.Device)
	if r.Metadata != nil && r.Metadata.LastSyncAt != nil {
		fmt.Fprintf(w, "Last sync: %s (%s, pushed %d, pulled %d)\n",
			r.Metadata.LastSyncAt.Format(time.RFC3339), r.Metadata.LastSyncStatus, r.Metadata.Pushed, r.Metadata.Pulled)
	} else {
		fmt.Fprintln(w, "Last sync: never")
	}

	fmt.Fprintf(w, "\nQueued writes: %d\n", len(r.Pending))
	if len(r.Pending) > 0 {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tMETHOD\tPATH\tRETRIES\tLAST ERROR")
		for _, e := range r.Pending {
			lastErr := "-"
			if e.LastError != nil {
				lastErr = *e.LastError
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n", e.ID, e.Method, e.Path, e.RetryCount, lastErr)
		}
		tw.Flush()
	}

	fmt.Fprintf(w, "\nOpen conflicts: %d\n", len(r.Conflicts))
	for _, c := range r.Conflicts {
		fmt.Fprintf(w, "  %s/%s (%s)\n", c.Collection, c.EntityID, c.Resolution)
	}

	fmt.Fprintln(w, "\nLocal records:")
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, c := range models.Collections {
		fmt.Fprintf(tw, "  %s\t%d\n", c, r.Counts[c])
	}
	tw.Flush()
}
