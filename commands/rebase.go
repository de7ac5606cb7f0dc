package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mjpitz/metarepo/errs"
	"github.com/mjpitz/metarepo/ops"
	"github.com/mjpitz/metarepo/output"
)

// NewRebaseCmd creates the rebase command.
func NewRebaseCmd() *cobra.Command {
	var doContinue, doAbort bool

	cmd := &cobra.Command{
		Use:   "rebase <upstream>",
		Short: "Replay the meta-repository's commits onto upstream",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRebase(cmd.Context(), cmd.OutOrStdout(), args, doContinue, doAbort)
		},
	}

	cmd.Flags().BoolVar(&doContinue, "continue", false, "continue a halted rebase")
	cmd.Flags().BoolVar(&doAbort, "abort", false, "abort a halted rebase")

	return cmd
}

func runRebase(ctx context.Context, w io.Writer, args []string, doContinue, doAbort bool) error {
	cfg, err := openConfig(getConfig(ctx))
	if err != nil {
		return err
	}

	if doAbort {
		if err := ops.RebaseAbort(ctx, cfg); err != nil {
			return err
		}

		fmt.Fprintln(w, "Rebase aborted.")

		return nil
	}

	if doContinue {
		return errs.New(errs.Usage, "commands.rebase", "rebase --continue requires a resolved step commit; use the library entry point directly")
	}

	if len(args) != 1 {
		return errs.New(errs.Usage, "commands.rebase", "rebase requires exactly one <upstream> argument")
	}

	upstream, err := cfg.Repo.ResolveCommitish(ctx, args[0])
	if err != nil {
		return err
	}

	result, err := ops.Rebase(ctx, cfg, upstream)
	if err != nil {
		return err
	}

	switch {
	case result.Conflicted:
		if err := output.FormatConflictSummary(w, result.ConflictPaths); err != nil {
			return err
		}

		fmt.Fprintln(w, "Rebase conflict; fix conflicts and run `metarepo rebase --continue`.")
	case result.FastForward:
		fmt.Fprintf(w, "Fast-forward to %s\n", result.NewHead.Short())
	default:
		fmt.Fprintf(w, "Rebased onto %s, %d commit(s) replayed.\n", result.NewHead.Short(), len(result.CommitsSoFar))
	}

	return nil
}
