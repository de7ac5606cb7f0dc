package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mjpitz/metarepo/errs"
	"github.com/mjpitz/metarepo/git"
	"github.com/mjpitz/metarepo/stash"
)

// stashLogFileName is the stash log's fixed path within the
// meta-repository's private state area, mirroring sequencer.FileName;
// the stash package itself is storage-agnostic (its doc comment notes
// the log is caller-supplied), so tracking "which entries exist" is a
// CLI-layer concern.
const stashLogFileName = "metarepo/stash-log"

func stashLogPath(gitDir string) string {
	return filepath.Join(gitDir, stashLogFileName)
}

// loadStashLog reads the stash log, newest entry first, resolving each
// recorded commit ID against repo. A missing file means an empty log.
func loadStashLog(ctx context.Context, repo git.Repository, gitDir string) (stash.List, error) {
	data, err := os.ReadFile(stashLogPath(gitDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, errs.Wrap(errs.IO, "commands.loadStashLog", err)
	}

	var entries stash.List

	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}

		entry, err := parseStashLogLine(ctx, repo, line)
		if err != nil {
			return nil, err
		}

		entries = append(entries, entry)
	}

	// Log is stored oldest-first on disk (append-only); stash@{0} is
	// the most recently pushed entry.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}

	return entries, nil
}

func parseStashLogLine(ctx context.Context, repo git.Repository, line string) (stash.Entry, error) {
	fields := strings.SplitN(line, " ", 5)
	if len(fields) < 5 {
		return stash.Entry{}, errs.New(errs.IO, "commands.parseStashLogLine", "malformed stash log line: %q", line)
	}

	id, err := repo.ResolveCommitish(ctx, fields[0])
	if err != nil {
		return stash.Entry{}, err
	}

	indexShadow, err := repo.ResolveCommitish(ctx, fields[1])
	if err != nil {
		return stash.Entry{}, err
	}

	workdirShadow, err := repo.ResolveCommitish(ctx, fields[2])
	if err != nil {
		return stash.Entry{}, err
	}

	var parent git.CommitID

	if fields[3] != "-" {
		parent, err = repo.ResolveCommitish(ctx, fields[3])
		if err != nil {
			return stash.Entry{}, err
		}
	}

	return stash.Entry{
		ID:            id,
		IndexShadow:   indexShadow,
		WorkdirShadow: workdirShadow,
		Parent:        parent,
		Message:       fields[4],
	}, nil
}

func formatStashLogLine(e stash.Entry) string {
	parent := "-"
	if !e.Parent.IsZero() {
		parent = e.Parent.String()
	}

	return fmt.Sprintf("%s %s %s %s %s", e.ID, e.IndexShadow, e.WorkdirShadow, parent, e.Message)
}

// appendStashLog records a newly pushed entry as the new newest line.
func appendStashLog(gitDir string, e stash.Entry) error {
	path := stashLogPath(gitDir)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errs.Wrap(errs.IO, "commands.appendStashLog", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errs.Wrap(errs.IO, "commands.appendStashLog", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintln(f, formatStashLogLine(e)); err != nil {
		return errs.Wrap(errs.IO, "commands.appendStashLog", err)
	}

	return nil
}

// rewriteStashLog atomically replaces the stash log with entries
// (oldest-first on disk), used by drop/pop to remove one entry.
func rewriteStashLog(gitDir string, entries stash.List) error {
	path := stashLogPath(gitDir)

	var b strings.Builder

	for i := len(entries) - 1; i >= 0; i-- {
		b.WriteString(formatStashLogLine(entries[i]))
		b.WriteByte('\n')
	}

	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return errs.Wrap(errs.IO, "commands.rewriteStashLog", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return errs.Wrap(errs.IO, "commands.rewriteStashLog", err)
	}

	return nil
}

// stashIndex parses the `<n>` in `stash@{n}`, or a bare `n`, defaulting
// to 0 (the most recently pushed entry).
func stashIndex(arg string) (int, error) {
	if arg == "" {
		return 0, nil
	}

	s := strings.TrimPrefix(arg, "stash@{")
	s = strings.TrimSuffix(s, "}")

	n := 0
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, errs.New(errs.Usage, "commands.stashIndex", "invalid stash reference %q", arg)
	}

	return n, nil
}
