package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloudydaiyz/stringplay-core/internal/engine"
	"github.com/cloudydaiyz/stringplay-core/internal/store"
)

type unlockResult struct {
	TroupeID string `json:"troupe_id"`
	Unlocked bool   `json:"unlocked"`
}

func (r unlockResult) Text() string {
	return fmt.Sprintf("Unlocked %s\n", r.TroupeID)
}

// NewUnlockCommand creates the unlock command.
func NewUnlockCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "unlock <troupe-id>",
		Short: "Force-clear a troupe's sync lease",
		Long: `Force-clear a troupe's sync lease after a crashed sync.

A sync still running under the cleared lease fails at commit.

Example:
  stringplay unlock troupe-1`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			// Unlock needs no source drive.
			eng := engine.New(a.store, a.ledger, nil, a.engineOpts...)
			if err := eng.Unlock(cmd.Context(), args[0]); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return WrapExitError(ExitCommandError, "unknown troupe", err)
				}
				return WrapExitError(ExitFailure, "unlock failed", err)
			}
			return formatter(rootOpts, cmd).Success(unlockResult{TroupeID: args[0], Unlocked: true})
		},
	}
}
