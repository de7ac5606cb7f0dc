// Package commands is the thin CLI front-end: flag plumbing and
// result printing only. Every operation's actual semantics live in
// ops; a command's RunE does nothing but parse flags, build an
// ops.Config from the current working directory, call the matching
// ops entry point, and render the result.
package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mjpitz/metarepo/errs"
)

// configKey is the context key for runtime config.
type configKey struct{}

// Config holds runtime configuration shared across commands.
type Config struct {
	WorkDir string
	JSONOut bool
}

// getConfig retrieves config from context, or returns defaults.
func getConfig(ctx context.Context) Config {
	if cfg, ok := ctx.Value(configKey{}).(Config); ok {
		return cfg
	}

	return Config{}
}

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	var (
		workDir string
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:     "metarepo",
		Short:   "Meta-repository version control",
		Version: Version,
		Long: `metarepo manages a meta-repository: an outer git repository whose
commits pin one commit identifier per nested sub-repository.

It reimplements a handful of everyday git operations (merge, rebase,
cherry-pick, stash, status, checkout, reset) so they understand those
pins, recursing into sub-repositories where the operation requires it.

Examples:
  # Show meta and sub-repository status
  metarepo status

  # Merge a branch, recursing into any sub-repository pins it touches
  metarepo merge -m "merge release" release/1.2

  # Rebase the current branch onto another
  metarepo rebase main`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg := Config{WorkDir: workDir, JSONOut: jsonOut}
			ctx := context.WithValue(cmd.Context(), configKey{}, cfg)
			cmd.SetContext(ctx)
		},
	}

	cmd.PersistentFlags().StringVarP(
		&workDir, "dir", "C", "",
		"run as if metarepo was started in this directory",
	)
	cmd.PersistentFlags().BoolVar(
		&jsonOut, "json", false,
		"output in JSON format (for machine consumption)",
	)

	cmd.AddCommand(NewMergeCmd())
	cmd.AddCommand(NewRebaseCmd())
	cmd.AddCommand(NewCherryPickCmd())
	cmd.AddCommand(NewStashCmd())
	cmd.AddCommand(NewStatusCmd())
	cmd.AddCommand(NewCheckoutCmd())
	cmd.AddCommand(NewResetCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command, translating a failure's errs.Kind
// into the process exit code, per spec.md §7's "distinct non-zero
// values, DIRTY and CONFLICT always distinguishable" requirement.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps an errs.Kind to a stable, distinct process exit code.
func exitCode(err error) int {
	switch errs.KindOf(err) {
	case errs.Usage:
		return 2
	case errs.Dirty:
		return 3
	case errs.NotFound:
		return 4
	case errs.NoMergeBase:
		return 5
	case errs.Conflict:
		return 6
	case errs.SubUnresolved:
		return 7
	case errs.FetchFailed:
		return 8
	case errs.IO:
		return 9
	case errs.Internal:
		return 10
	case errs.NotInSubmodule:
		return 11
	default:
		return 1
	}
}
