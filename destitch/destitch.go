// Package destitch implements C10: reconstructing the equivalent
// meta+sub commit graph from a flat commit whose tree mixes
// meta-registry state with sub-repository contents under each sub's
// path, the inverse of stitching sub-repositories into one tree.
package destitch

import (
	"context"
	"strings"

	"github.com/mjpitz/metarepo/errs"
	"github.com/mjpitz/metarepo/git"
	"github.com/mjpitz/metarepo/registry"
)

// Notes namespaces per §6.4.
const (
	AuthoritativeNotesRef = "refs/notes/stitched/reference"
	LocalNotesRef         = "refs/notes/stitched/local-reference"
)

// SubCommit is the reconstructed commit for one sub-repository at one
// flat (stitched) commit.
type SubCommit struct {
	Name   string
	Commit git.CommitID
}

// Reconstruction is the result of destitching one flat commit: the
// sub-repository commits it implies plus the flat commit's own
// meta-level files (anything not owned by a registered sub-path).
type Reconstruction struct {
	FlatCommit git.CommitID
	Subs       []SubCommit
	// MetaFiles are paths in FlatCommit's tree that matched no
	// registered sub-path prefix; empty is the expected, common case.
	MetaFiles []string
}

// Reconstruct destitches one flat commit using r to resolve sub-path
// ownership by longest-prefix match, memoising results through notes.
// A memoised mapping recorded under either notes namespace short-
// circuits recomputation; a freshly computed mapping is written to the
// local namespace only (the authoritative namespace is read-only for
// the core, per §6.4).
func Reconstruct(
	ctx context.Context, repo git.Repository, flatCommit git.CommitID, r *registry.Registry,
) (Reconstruction, error) {
	if note, err := repo.NoteRead(ctx, AuthoritativeNotesRef, flatCommit); err == nil {
		return parseMemoNote(flatCommit, note), nil
	}

	if note, err := repo.NoteRead(ctx, LocalNotesRef, flatCommit); err == nil {
		return parseMemoNote(flatCommit, note), nil
	}

	commit, err := repo.ReadCommit(ctx, flatCommit)
	if err != nil {
		return Reconstruction{}, errs.Wrap(errs.Internal, "destitch.Reconstruct", err)
	}

	deltas, err := repo.DiffTrees(ctx, git.CommitID{}, commit.Tree)
	if err != nil {
		return Reconstruction{}, errs.Wrap(errs.Internal, "destitch.Reconstruct", err)
	}

	matcher := registry.NewLongestPrefixMatcher(r)

	bySub := map[string][]string{}

	var metaFiles []string

	for _, d := range deltas {
		path := d.NewPath
		if path == "" {
			path = d.OldPath
		}

		subName, _, ok := matcher.Match(path)
		if !ok {
			if looksLikeSubPath(path, r) {
				return Reconstruction{}, errs.New(
					errs.NotInSubmodule, "destitch.Reconstruct",
					"path %q matches no registered sub-repository", path,
				).WithPath(path)
			}

			metaFiles = append(metaFiles, path)

			continue
		}

		bySub[subName] = append(bySub[subName], path)
	}

	subCommits := make([]SubCommit, 0, len(bySub))
	for _, e := range r.Entries() {
		if _, touched := bySub[e.Name]; !touched {
			continue
		}

		subCommits = append(subCommits, SubCommit{Name: e.Name, Commit: e.Pin.Commit})
	}

	result := Reconstruction{FlatCommit: flatCommit, Subs: subCommits, MetaFiles: metaFiles}

	if err := repo.NoteWrite(ctx, LocalNotesRef, flatCommit, formatMemoNote(result)); err != nil {
		return Reconstruction{}, errs.Wrap(errs.Internal, "destitch.Reconstruct", err)
	}

	return result, nil
}

// looksLikeSubPath is a conservative heuristic distinguishing "this is
// clearly meta-level content" (top-level registry/config files) from
// "this looks like it belongs under a sub-repository directory that
// just isn't registered" — per §9's open question, the latter is
// surfaced as errs.NotInSubmodule rather than silently treated as a
// meta file, while genuine top-level files are not misattributed.
func looksLikeSubPath(path string, r *registry.Registry) bool {
	if !strings.Contains(path, "/") {
		return false
	}

	top := path[:strings.Index(path, "/")]

	for _, e := range r.Entries() {
		if strings.HasPrefix(e.Path, top) {
			return true
		}
	}

	return false
}

func formatMemoNote(r Reconstruction) string {
	var b strings.Builder

	for _, s := range r.Subs {
		b.WriteString(s.Name)
		b.WriteByte('=')
		b.WriteString(s.Commit.String())
		b.WriteByte('\n')
	}

	return b.String()
}

func parseMemoNote(flatCommit git.CommitID, note string) Reconstruction {
	r := Reconstruction{FlatCommit: flatCommit}

	for _, line := range strings.Split(strings.TrimSpace(note), "\n") {
		if line == "" {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		var id git.CommitID

		raw := parts[1]
		if len(raw) == 40 {
			if decoded, ok := decodeHex40(raw); ok {
				id = decoded
			}
		}

		r.Subs = append(r.Subs, SubCommit{Name: parts[0], Commit: id})
	}

	return r
}

func decodeHex40(s string) (git.CommitID, bool) {
	var id git.CommitID

	for i := 0; i < len(id); i++ {
		hi, ok1 := hexDigit(s[i*2])
		lo, ok2 := hexDigit(s[i*2+1])

		if !ok1 || !ok2 {
			return git.CommitID{}, false
		}

		id[i] = hi<<4 | lo
	}

	return id, true
}

func hexDigit(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}
