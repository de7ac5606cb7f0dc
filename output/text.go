package output

import (
	"fmt"
	"io"

	"github.com/mjpitz/metarepo/diff"
)

// Colors for terminal output.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorDim    = "\033[2m"
)

// TextOptions configures text output formatting.
type TextOptions struct {
	// Color enables ANSI color codes.
	Color bool

	// LineNumbers shows line numbers.
	LineNumbers bool

	// Stats shows +/- statistics.
	Stats bool
}

// DefaultTextOptions returns default text formatting options.
func DefaultTextOptions() TextOptions {
	return TextOptions{
		Color:       true,
		LineNumbers: true,
		Stats:       true,
	}
}

// FormatText writes the parsed diff as formatted text.
func FormatText(
	w io.Writer, parsed *diff.ParsedDiff, opts TextOptions,
) error {
	for file := range parsed.Files() {
		if err := formatFile(w, file, opts); err != nil {
			return err
		}
	}

	if opts.Stats {
		added, deleted := parsed.Stats()
		fmt.Fprintf(w, "\n%d insertions(+), %d deletions(-)\n", added, deleted)
	}

	return nil
}

func formatFile(w io.Writer, file *diff.FileDiff, opts TextOptions) error {
	// File header.
	header := file.Path()
	if file.IsRenamed {
		header = fmt.Sprintf("%s -> %s", file.OldName, file.NewName)
	}

	if opts.Color {
		fmt.Fprintf(w, "%s%s%s\n", colorCyan, header, colorReset)
	} else {
		fmt.Fprintln(w, header)
	}

	if file.IsBinary {
		fmt.Fprintln(w, "Binary file")

		return nil
	}

	for i, hunk := range file.Hunks {
		if i > 0 {
			fmt.Fprintln(w)
		}

		if err := formatHunk(w, hunk, opts); err != nil {
			return err
		}
	}

	return nil
}

func formatHunk(w io.Writer, hunk *diff.Hunk, opts TextOptions) error {
	// Hunk header.
	header := hunk.Header()
	if opts.Color {
		fmt.Fprintf(w, "%s%s%s\n", colorBlue, header, colorReset)
	} else {
		fmt.Fprintln(w, header)
	}

	for _, line := range hunk.Lines {
		if err := formatLine(w, line, opts); err != nil {
			return err
		}
	}

	return nil
}

func formatLine(w io.Writer, line diff.DiffLine, opts TextOptions) error {
	var prefix, color, reset string

	if opts.Color {
		reset = colorReset
		switch line.Op {
		case diff.OpAdd:
			color = colorGreen
		case diff.OpDelete:
			color = colorRed
		default:
			color = colorDim
		}
	}

	prefix = string(line.Op.Prefix())

	if opts.LineNumbers {
		oldNum := formatLineNum(line.OldLineNum)
		newNum := formatLineNum(line.NewLineNum)
		fmt.Fprintf(w, "%s%s %s %s%s%s\n",
			color, oldNum, newNum, prefix, line.Content, reset)
	} else {
		fmt.Fprintf(w, "%s%s%s%s\n", color, prefix, line.Content, reset)
	}

	return nil
}

func formatLineNum(n int) string {
	if n == 0 {
		return "    "
	}

	return fmt.Sprintf("%4d", n)
}

// FormatTextSummary writes a brief summary of changes.
func FormatTextSummary(w io.Writer, parsed *diff.ParsedDiff) error {
	added, deleted := parsed.Stats()
	fileCount := parsed.FileCount()

	var files []string
	for file := range parsed.Files() {
		files = append(files, file.Path())
	}

	fmt.Fprintf(w, "%d file(s) changed:\n", fileCount)

	for _, path := range files {
		fmt.Fprintf(w, "  %s\n", path)
	}

	fmt.Fprintf(w, "\n%d insertions(+), %d deletions(-)\n", added, deleted)

	return nil
}

// FormatFileList writes just the list of changed files.
func FormatFileList(w io.Writer, parsed *diff.ParsedDiff) error {
	for file := range parsed.Files() {
		fmt.Fprintln(w, file.Path())
	}

	return nil
}

// FormatRaw writes the diff in its original unified format.
func FormatRaw(w io.Writer, parsed *diff.ParsedDiff) error {
	for file := range parsed.Files() {
		fmt.Fprint(w, file.Format())
	}

	return nil
}

// FormatConflictSummary writes a one-line-per-file summary of paths that
// carry unresolved conflicts, for use by the status command and
// merge/rebase/cherry-pick halt reporting.
func FormatConflictSummary(w io.Writer, paths []string) error {
	fmt.Fprintf(w, "%d file(s) with conflicts:\n", len(paths))

	for _, path := range paths {
		fmt.Fprintf(w, "  both modified: %s\n", path)
	}

	return nil
}
