package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/xelth-com/fieldsync/internal/sync"
)

// NewSyncCommand creates the one-shot sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass and exit",
		Long: `Probe the remote, replay the outbox and pull fresh snapshots once.

Exits 1 when the remote is unreachable or the pass recorded errors; entries
that failed transiently stay queued for the next pass.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx := cmd.Context()
			out := rootOpts.formatter(cmd)

			out.VerboseLog("probing %s", app.Config.Remote.BaseURL)
			app.Connection.Check(ctx)

			result := app.newEngine().FullSync(ctx)
			if err := out.Success(result, func(w io.Writer) { renderResult(w, result) }); err != nil {
				return err
			}

			switch {
			case result.Offline:
				return NewExitError(ExitFailure, "remote unreachable, nothing synced")
			case !result.Succeeded:
				return NewExitError(ExitFailure, fmt.Sprintf("sync finished with %d error(s)", len(result.Errors)))
			}
			return nil
		},
	}
}

func renderResult(w io.Writer, r sync.SyncResult) {
	if r.Offline {
		fmt.Fprintf(w, "⚠️  Offline: %d write(s) still queued\n", r.Pending)
		return
	}
	fmt.Fprintf(w, "✅ Pushed %d, pulled %d, conflicts %d in %s\n", r.Pushed, r.Pulled, r.Conflicts, r.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "   Pending: %d\n", r.Pending)
	if r.RetryAt != nil {
		fmt.Fprintf(w, "   Next retry after %s\n", r.RetryAt.Local().Format(time.RFC3339))
	}
	for _, e := range r.Errors {
		target := e.Path
		if target == "" {
			target = e.Collection
		}
		fmt.Fprintf(w, "   ❌ [%s/%s] %s: %s\n", e.Phase, e.Kind, target, e.Message)
	}
}
