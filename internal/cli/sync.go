package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloudydaiyz/stringplay-core/internal/engine"
	"github.com/cloudydaiyz/stringplay-core/internal/quota"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	All         bool
	BypassQuota bool
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync [troupe-id]",
		Short: "Sync one troupe, or every troupe with --all",
		Long: `Run a sync: discover events in the troupe's folders, read attendees,
recompute points and the dashboard, and commit.

Exit status is 1 when any sync fails or a troupe is locked by another sync.

Example:
  stringplay sync troupe-1
  stringplay sync --all --format json`,
		Args: func(cmd *cobra.Command, args []string) error {
			if opts.All && len(args) > 0 {
				return fmt.Errorf("--all takes no troupe id")
			}
			if !opts.All && len(args) != 1 {
				return fmt.Errorf("requires a troupe id or --all")
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.All, "all", false, "sync every troupe")
	cmd.Flags().BoolVar(&opts.BypassQuota, "bypass-quota", false, "skip quota checks (single troupe only)")

	return cmd
}

func runSync(opts *SyncOptions, args []string, cmd *cobra.Command) error {
	a, err := openApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	eng, err := a.newEngine()
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context(), a.log)
	defer stop()

	var reports []*engine.Report
	if opts.All {
		reports, err = eng.SyncAll(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "sync all failed", err)
		}
	} else {
		troupeID := args[0]
		if opts.BypassQuota {
			ctx = quota.WithBypass(ctx, troupeID, true)
		}
		r, err := eng.Sync(ctx, troupeID)
		if engine.IsNotFound(err) {
			return WrapExitError(ExitCommandError, "unknown troupe", err)
		}
		reports = []*engine.Report{r}
	}

	if err := formatter(opts.RootOptions, cmd).Reports(reports); err != nil {
		return err
	}
	for _, r := range reports {
		if r.Succeeded() {
			continue
		}
		msg := fmt.Sprintf("sync %s %s", r.TroupeID, r.Status)
		if r.Err != nil {
			return WrapExitError(ExitFailure, msg, r.Err)
		}
		return NewExitError(ExitFailure, msg)
	}
	return nil
}
