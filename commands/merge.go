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

// NewMergeCmd creates the merge command.
func NewMergeCmd() *cobra.Command {
	var (
		message    string
		ff         bool
		ffOnly     bool
		noFF       bool
		doContinue bool
		doAbort    bool
	)

	cmd := &cobra.Command{
		Use:   "merge <commitish>",
		Short: "Merge a commit into the current meta-repository HEAD",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMerge(cmd.Context(), cmd.OutOrStdout(), args, mergeFlags{
				message: message, ff: ff, ffOnly: ffOnly, noFF: noFF,
				doContinue: doContinue, doAbort: doAbort,
			})
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "commit message for a non-fast-forward merge")
	cmd.Flags().BoolVar(&ff, "ff", true, "fast-forward when possible (default)")
	cmd.Flags().BoolVar(&ffOnly, "ff-only", false, "refuse to merge unless fast-forwardable")
	cmd.Flags().BoolVar(&noFF, "no-ff", false, "always create a merge commit")
	cmd.Flags().BoolVar(&doContinue, "continue", false, "continue a halted merge")
	cmd.Flags().BoolVar(&doAbort, "abort", false, "abort a halted merge")

	return cmd
}

type mergeFlags struct {
	message             string
	ff, ffOnly, noFF    bool
	doContinue, doAbort bool
}

func runMerge(ctx context.Context, w io.Writer, args []string, flags mergeFlags) error {
	cfg, err := openConfig(getConfig(ctx))
	if err != nil {
		return err
	}

	if flags.doAbort {
		if err := ops.MergeAbort(ctx, cfg); err != nil {
			return err
		}

		fmt.Fprintln(w, "Merge aborted.")

		return nil
	}

	if flags.doContinue {
		return errs.New(errs.Usage, "commands.merge", "merge --continue requires a resolved tree; use the library entry point directly")
	}

	if len(args) != 1 {
		return errs.New(errs.Usage, "commands.merge", "merge requires exactly one <commitish> argument")
	}

	target, err := cfg.Repo.ResolveCommitish(ctx, args[0])
	if err != nil {
		return err
	}

	result, err := ops.Merge(ctx, cfg, target, ops.MergeFlags{
		Message: flags.message, FF: flags.ff, FFOnly: flags.ffOnly, NoFF: flags.noFF,
	})
	if err != nil {
		return err
	}

	switch {
	case result.UpToDate:
		fmt.Fprintln(w, "Already up to date.")
	case result.Conflicted:
		if err := output.FormatConflictSummary(w, result.ConflictPaths); err != nil {
			return err
		}

		fmt.Fprintln(w, "Merge conflict; fix conflicts and run `metarepo merge --continue`.")
	case result.FastForward:
		fmt.Fprintf(w, "Fast-forward to %s\n", result.NewHead.Short())
	default:
		fmt.Fprintf(w, "Merge commit %s created.\n", result.NewHead.Short())
	}

	return nil
}
