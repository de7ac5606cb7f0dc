package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mjpitz/metarepo/errs"
	"github.com/mjpitz/metarepo/git"
	"github.com/mjpitz/metarepo/ops"
	"github.com/mjpitz/metarepo/stash"
)

// NewStashCmd creates the stash command and its push/pop/apply/drop/
// list subcommands, per spec.md §6.5's `stash` row.
func NewStashCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stash",
		Short: "Save and restore uncommitted changes",
	}

	cmd.AddCommand(newStashPushCmd())
	cmd.AddCommand(newStashListCmd())
	cmd.AddCommand(newStashApplyCmd())
	cmd.AddCommand(newStashPopCmd())
	cmd.AddCommand(newStashDropCmd())

	return cmd
}

func newStashPushCmd() *cobra.Command {
	var includeUntracked bool

	var message string

	cmd := &cobra.Command{
		Use:   "push",
		Short: "Stash the current index and working directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStashPush(cmd.Context(), cmd.OutOrStdout(), includeUntracked, message)
		},
	}

	cmd.Flags().BoolVar(&includeUntracked, "include-untracked", false, "also capture untracked files")
	cmd.Flags().StringVarP(&message, "message", "m", "", "stash entry message")

	return cmd
}

func runStashPush(ctx context.Context, w io.Writer, includeUntracked bool, message string) error {
	cfg, err := openConfig(getConfig(ctx))
	if err != nil {
		return err
	}

	wds, err := cfg.Repo.WorkdirStatus(ctx, git.CommitID{})
	if err != nil {
		return err
	}

	indexFiles := map[string][]byte{}
	for path := range wds.Staged {
		if err := readWorkdirFile(cfg.Repo, path, indexFiles); err != nil {
			return err
		}
	}

	workdirFiles := map[string][]byte{}
	for path := range wds.Workdir {
		if err := readWorkdirFile(cfg.Repo, path, workdirFiles); err != nil {
			return err
		}
	}

	if includeUntracked {
		for _, path := range wds.Untracked {
			if err := readWorkdirFile(cfg.Repo, path, workdirFiles); err != nil {
				return err
			}
		}
	}

	entry, err := ops.StashPush(ctx, cfg, indexFiles, workdirFiles, ops.StashPushFlags{
		IncludeUntracked: includeUntracked, Message: message,
	})
	if err != nil {
		return err
	}

	if err := appendStashLog(gitDir(cfg.Repo), entry); err != nil {
		return err
	}

	fmt.Fprintf(w, "Saved stash entry %s\n", entry.ID.Short())

	return nil
}

// readWorkdirFile reads path relative to repo's working directory into
// dest, skipping (rather than failing) a path that no longer exists —
// deleted-but-staged files have nothing to capture on the workdir side.
func readWorkdirFile(repo git.Repository, path string, dest map[string][]byte) error {
	data, err := os.ReadFile(filepath.Join(repo.Root(), path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return errs.Wrap(errs.IO, "commands.readWorkdirFile", err).WithPath(path)
	}

	dest[path] = data

	return nil
}

func newStashListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stash entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStashList(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func runStashList(ctx context.Context, w io.Writer) error {
	cfg, err := openConfig(getConfig(ctx))
	if err != nil {
		return err
	}

	entries, err := loadStashLog(ctx, cfg.Repo, gitDir(cfg.Repo))
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Fprintln(w, "No stash entries.")

		return nil
	}

	for i, e := range entries {
		fmt.Fprintf(w, "stash@{%d}: %s\n", i, e.Message)
	}

	return nil
}

func newStashApplyCmd() *cobra.Command {
	var reinstateIndex bool

	cmd := &cobra.Command{
		Use:   "apply [<stash>]",
		Short: "Apply a stash entry without removing it from the log",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStashApply(cmd.Context(), cmd.OutOrStdout(), args, reinstateIndex)
		},
	}

	cmd.Flags().BoolVar(&reinstateIndex, "index", false, "also restore the original index state")

	return cmd
}

func runStashApply(ctx context.Context, w io.Writer, args []string, reinstateIndex bool) error {
	cfg, err := openConfig(getConfig(ctx))
	if err != nil {
		return err
	}

	entries, idx, err := resolveStashArg(ctx, cfg.Repo, args)
	if err != nil {
		return err
	}

	merged, err := ops.StashApply(ctx, cfg, entries[idx], reinstateIndex)
	if err != nil {
		return err
	}

	if len(merged.Conflicts) > 0 {
		fmt.Fprintln(w, "Stash applied with conflicts; resolve and stage the result.")

		return nil
	}

	fmt.Fprintln(w, "Stash applied.")

	return nil
}

func newStashPopCmd() *cobra.Command {
	var reinstateIndex bool

	cmd := &cobra.Command{
		Use:   "pop [<stash>]",
		Short: "Apply a stash entry and drop it from the log on success",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStashPop(cmd.Context(), cmd.OutOrStdout(), args, reinstateIndex)
		},
	}

	cmd.Flags().BoolVar(&reinstateIndex, "index", false, "also restore the original index state")

	return cmd
}

func runStashPop(ctx context.Context, w io.Writer, args []string, reinstateIndex bool) error {
	cfg, err := openConfig(getConfig(ctx))
	if err != nil {
		return err
	}

	entries, idx, err := resolveStashArg(ctx, cfg.Repo, args)
	if err != nil {
		return err
	}

	dir := gitDir(cfg.Repo)

	drop := func() error {
		remaining := append(entries[:idx:idx], entries[idx+1:]...)

		return rewriteStashLog(dir, remaining)
	}

	merged, err := ops.StashPop(ctx, cfg, entries[idx], reinstateIndex, drop)
	if err != nil {
		return err
	}

	if len(merged.Conflicts) > 0 {
		fmt.Fprintln(w, "Stash applied with conflicts; it was not dropped from the log.")

		return nil
	}

	fmt.Fprintln(w, "Stash applied and dropped.")

	return nil
}

func newStashDropCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drop [<stash>]",
		Short: "Remove a stash entry from the log",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStashDrop(cmd.Context(), cmd.OutOrStdout(), args)
		},
	}
}

func runStashDrop(ctx context.Context, w io.Writer, args []string) error {
	cfg, err := openConfig(getConfig(ctx))
	if err != nil {
		return err
	}

	entries, idx, err := resolveStashArg(ctx, cfg.Repo, args)
	if err != nil {
		return err
	}

	dir := gitDir(cfg.Repo)

	drop := func() error {
		remaining := append(entries[:idx:idx], entries[idx+1:]...)

		return rewriteStashLog(dir, remaining)
	}

	if err := ops.StashDrop(drop); err != nil {
		return err
	}

	fmt.Fprintf(w, "Dropped %s\n", entries[idx].ID.Short())

	return nil
}

// resolveStashArg loads the stash log and resolves args into an index
// within it, defaulting to stash@{0} when args is empty.
func resolveStashArg(ctx context.Context, repo git.Repository, args []string) (stash.List, int, error) {
	entries, err := loadStashLog(ctx, repo, gitDir(repo))
	if err != nil {
		return nil, 0, err
	}

	var arg string
	if len(args) > 0 {
		arg = args[0]
	}

	idx, err := stashIndex(arg)
	if err != nil {
		return nil, 0, err
	}

	if idx < 0 || idx >= len(entries) {
		return nil, 0, errs.New(errs.NotFound, "commands.resolveStashArg", "no stash entry at index %d", idx)
	}

	return entries, idx, nil
}

// gitDir returns repo's ".git" directory, the private state area
// stashLogPath and sequencer.Path both live under.
func gitDir(repo git.Repository) string {
	return filepath.Join(repo.Root(), ".git")
}
