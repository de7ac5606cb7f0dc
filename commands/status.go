package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mjpitz/metarepo/diff"
	"github.com/mjpitz/metarepo/errs"
	"github.com/mjpitz/metarepo/ops"
	"github.com/mjpitz/metarepo/output"
	"github.com/mjpitz/metarepo/status"
)

// NewStatusCmd creates the status command.
func NewStatusCmd() *cobra.Command {
	var showDiff bool
	var format string

	cmd := &cobra.Command{
		Use:   "status [<path>...]",
		Short: "Show meta and sub-repository status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), cmd.OutOrStdout(), args, showDiff, format)
		},
	}

	cmd.Flags().BoolVar(&showDiff, "diff", false, "render a halted merge's conflicts as a unified diff")
	cmd.Flags().StringVar(&format, "format", "text", "diff rendering for --diff: text or json")

	return cmd
}

func runStatus(ctx context.Context, w io.Writer, paths []string, showDiff bool, format string) error {
	cfg, err := openConfig(getConfig(ctx))
	if err != nil {
		return err
	}

	snap, err := ops.Status(ctx, cfg, paths)
	if err != nil {
		return err
	}

	if err := printSnapshot(w, snap); err != nil {
		return err
	}

	if !showDiff {
		return nil
	}

	return printConflictDiff(ctx, w, cfg, paths, format)
}

// printConflictDiff renders a halted merge's conflicts via the
// diff/output packages when --diff is set; a no-op when nothing is
// in progress or the halted operation isn't a merge. --format=json
// switches the rendering from FormatText to FormatJSON, for a
// front-end that wants to parse the conflict hunks rather than
// display them.
func printConflictDiff(ctx context.Context, w io.Writer, cfg *ops.Config, paths []string, format string) error {
	text, err := ops.Diff(ctx, cfg, paths)
	if err != nil {
		if errs.Is(err, errs.Usage) {
			return nil
		}

		return err
	}

	if text == "" {
		if format == "json" {
			return output.FormatJSONEmpty(w)
		}

		return nil
	}

	parsed, err := diff.Parse(text)
	if err != nil {
		return err
	}

	if format == "json" {
		return output.FormatJSON(w, parsed)
	}

	return output.FormatText(w, parsed, output.DefaultTextOptions())
}

func printSnapshot(w io.Writer, snap status.MetaSnapshot) error {
	if snap.Empty() && len(snap.Subs) == 0 {
		fmt.Fprintln(w, "nothing to commit, working tree clean")

		return nil
	}

	if paths := conflictedPaths(snap.Staged); len(paths) > 0 {
		if err := output.FormatConflictSummary(w, paths); err != nil {
			return err
		}
	}

	for _, e := range snap.Staged {
		if e.Conflicted {
			continue
		}

		fmt.Fprintf(w, "staged:   %s  %s\n", e.Kind, e.Path)
	}

	for _, e := range snap.Workdir {
		fmt.Fprintf(w, "modified: %s  %s\n", e.Kind, e.Path)
	}

	for _, sub := range snap.Subs {
		openState := "closed"
		if sub.Open {
			openState = "open"
		}

		fmt.Fprintf(w, "sub %s (%s): %s\n", sub.Name, openState, sub.Relation)
	}

	return nil
}

// conflictedPaths extracts the paths of entries left unresolved by an
// in-progress merge/rebase (status.Compute marks these by setting
// Entry.Conflicted rather than Kind, since they carry no single
// before/after delta kind).
func conflictedPaths(entries []status.Entry) []string {
	var paths []string

	for _, e := range entries {
		if e.Conflicted {
			paths = append(paths, e.Path)
		}
	}

	return paths
}
