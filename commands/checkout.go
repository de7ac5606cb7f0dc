package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mjpitz/metarepo/ops"
)

// NewCheckoutCmd creates the checkout command.
func NewCheckoutCmd() *cobra.Command {
	var (
		newBranch string
		track     bool
		force     bool
	)

	cmd := &cobra.Command{
		Use:   "checkout <branch-or-commit>",
		Short: "Switch the meta-repository HEAD",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckout(cmd.Context(), cmd.OutOrStdout(), args[0], ops.CheckoutFlags{
				NewBranch: newBranch, Track: track, Force: force,
			})
		},
	}

	cmd.Flags().StringVarP(&newBranch, "b", "b", "", "create a new branch at <branch-or-commit>")
	cmd.Flags().BoolVarP(&track, "track", "t", false, "set up tracking for the new branch")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "proceed over a dirty working tree")

	return cmd
}

func runCheckout(ctx context.Context, w io.Writer, commitish string, flags ops.CheckoutFlags) error {
	cfg, err := openConfig(getConfig(ctx))
	if err != nil {
		return err
	}

	target, err := cfg.Repo.ResolveCommitish(ctx, commitish)
	if err != nil {
		return err
	}

	if err := ops.Checkout(ctx, cfg, target, flags); err != nil {
		return err
	}

	fmt.Fprintf(w, "Switched to %s\n", target.Short())

	return nil
}
