package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mjpitz/metarepo/errs"
	"github.com/mjpitz/metarepo/git"
	"github.com/mjpitz/metarepo/ops"
	"github.com/mjpitz/metarepo/output"
)

// NewCherryPickCmd creates the cherry-pick command.
func NewCherryPickCmd() *cobra.Command {
	var doContinue, doAbort bool

	cmd := &cobra.Command{
		Use:   "cherry-pick <commitish>...",
		Short: "Replay one or more commits onto the current HEAD",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCherryPick(cmd.Context(), cmd.OutOrStdout(), args, doContinue, doAbort)
		},
	}

	cmd.Flags().BoolVar(&doContinue, "continue", false, "continue a halted cherry-pick")
	cmd.Flags().BoolVar(&doAbort, "abort", false, "abort a halted cherry-pick")

	return cmd
}

func runCherryPick(ctx context.Context, w io.Writer, args []string, doContinue, doAbort bool) error {
	cfg, err := openConfig(getConfig(ctx))
	if err != nil {
		return err
	}

	if doAbort {
		if err := ops.CherryPickAbort(ctx, cfg); err != nil {
			return err
		}

		fmt.Fprintln(w, "Cherry-pick aborted.")

		return nil
	}

	if doContinue {
		return errs.New(errs.Usage, "commands.cherrypick", "cherry-pick --continue requires a resolved step commit; use the library entry point directly")
	}

	if len(args) == 0 {
		return errs.New(errs.Usage, "commands.cherrypick", "cherry-pick requires at least one <commitish> argument")
	}

	commitishes := make([]git.CommitID, len(args))

	for i, a := range args {
		id, err := cfg.Repo.ResolveCommitish(ctx, a)
		if err != nil {
			return err
		}

		commitishes[i] = id
	}

	result, err := ops.CherryPick(ctx, cfg, commitishes)
	if err != nil {
		return err
	}

	if result.Conflicted {
		if err := output.FormatConflictSummary(w, result.ConflictPaths); err != nil {
			return err
		}

		fmt.Fprintln(w, "Cherry-pick conflict; fix conflicts and run `metarepo cherry-pick --continue`.")

		return nil
	}

	fmt.Fprintf(w, "Cherry-picked onto %s, %d commit(s) applied.\n", result.NewHead.Short(), len(result.CommitsSoFar))

	return nil
}
