package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mjpitz/metarepo/errs"
	"github.com/mjpitz/metarepo/ops"
)

// NewResetCmd creates the reset command.
func NewResetCmd() *cobra.Command {
	var soft, mixed, hard bool

	cmd := &cobra.Command{
		Use:   "reset <commit>",
		Short: "Move HEAD (and optionally the index/working tree) to <commit>",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReset(cmd.Context(), cmd.OutOrStdout(), args[0], soft, mixed, hard)
		},
	}

	cmd.Flags().BoolVar(&soft, "soft", false, "move HEAD only")
	cmd.Flags().BoolVar(&mixed, "mixed", false, "move HEAD and reset the index (default)")
	cmd.Flags().BoolVar(&hard, "hard", false, "move HEAD and reset the index and working tree")

	return cmd
}

func runReset(ctx context.Context, w io.Writer, commitish string, soft, mixed, hard bool) error {
	cfg, err := openConfig(getConfig(ctx))
	if err != nil {
		return err
	}

	mode, err := resolveResetMode(soft, mixed, hard)
	if err != nil {
		return err
	}

	target, err := cfg.Repo.ResolveCommitish(ctx, commitish)
	if err != nil {
		return err
	}

	if err := ops.Reset(ctx, cfg, target, mode); err != nil {
		return err
	}

	fmt.Fprintf(w, "HEAD is now at %s\n", target.Short())

	return nil
}

func resolveResetMode(soft, mixed, hard bool) (ops.ResetMode, error) {
	set := 0
	if soft {
		set++
	}

	if mixed {
		set++
	}

	if hard {
		set++
	}

	if set > 1 {
		return 0, errs.New(errs.Usage, "commands.Reset", "--soft, --mixed, and --hard are mutually exclusive")
	}

	switch {
	case soft:
		return ops.ResetSoft, nil
	case hard:
		return ops.ResetHard, nil
	default:
		return ops.ResetMixed, nil
	}
}
