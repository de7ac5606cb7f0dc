package git

import (
	"bytes"
	"context"
	"path"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"

	"github.com/mjpitz/metarepo/errs"
)

// MergeIndex performs a three-way merge of base/ours/theirs trees. This
// is hand-rolled rather than delegated to go-git: go-git exposes tree
// diffing and commit construction but no three-way content merge (see
// DESIGN.md's "git (C1)" entry for the full justification). The
// algorithm walks the three trees in lock-step by path, and for blobs
// that changed on both sides falls back to a line-based diff3 merge.
func (g *GoGitRepository) MergeIndex(
	ctx context.Context, base, ours, theirs CommitID,
) (*MergedIndex, error) {
	var baseTree, oursTree, theirsTree *object.Tree

	for _, pair := range []struct {
		id *CommitID
		t  **object.Tree
	}{{&base, &baseTree}, {&ours, &oursTree}, {&theirs, &theirsTree}} {
		if pair.id.IsZero() {
			continue
		}

		t, err := g.treeObject(*pair.id)
		if err != nil {
			return nil, err
		}

		*pair.t = t
	}

	var conflicts []ConflictEntry

	mergedTree, err := g.merge3Tree(ctx, "", baseTree, oursTree, theirsTree, &conflicts)
	if err != nil {
		return nil, err
	}

	return &MergedIndex{Tree: mergedTree, Conflicts: conflicts}, nil
}

// merge3Tree merges one level of three (possibly nil) trees, recursing
// into sub-trees and accumulating conflicts. prefix is the slash-joined
// path leading to this level, used to build conflict path names.
func (g *GoGitRepository) merge3Tree(
	ctx context.Context,
	prefix string,
	base, ours, theirs *object.Tree,
	conflicts *[]ConflictEntry,
) (CommitID, error) {
	names := unionEntryNames(base, ours, theirs)

	result := map[string]object.TreeEntry{}

	for _, name := range names {
		be, bok := lookupEntry(base, name)
		oe, ook := lookupEntry(ours, name)
		te, took := lookupEntry(theirs, name)

		entryPath := path.Join(prefix, name)

		switch {
		case !ook && !took:
			// Removed on both sides (or never existed) - drop it.
			continue

		case ook && !took && bok && entriesEqual(be, oe):
			// theirs removed, ours unchanged from base: accept removal.
			continue

		case took && !ook && bok && entriesEqual(be, te):
			// ours removed, theirs unchanged from base: accept removal.
			continue

		case !ook:
			result[name] = te

		case !took:
			result[name] = oe

		case entriesEqual(oe, te):
			result[name] = oe

		case bok && entriesEqual(be, oe):
			result[name] = te

		case bok && entriesEqual(be, te):
			result[name] = oe

		case oe.Mode == filemode.Dir && te.Mode == filemode.Dir:
			var baseSub, oursSub, theirsSub *object.Tree

			if bok && be.Mode == filemode.Dir {
				baseSub, _ = object.GetTree(g.repo.Storer, be.Hash)
			}

			oursSub, _ = object.GetTree(g.repo.Storer, oe.Hash)
			theirsSub, _ = object.GetTree(g.repo.Storer, te.Hash)

			mergedSub, err := g.merge3Tree(ctx, entryPath, baseSub, oursSub, theirsSub, conflicts)
			if err != nil {
				return CommitID{}, err
			}

			result[name] = object.TreeEntry{Name: name, Mode: filemode.Dir, Hash: mergedSub.Hash()}

		case oe.Mode != filemode.Dir && te.Mode != filemode.Dir:
			merged, ok, err := g.merge3Blob(entryPath, be, bok, oe, te)
			if err != nil {
				return CommitID{}, err
			}

			if !ok {
				var baseID, oursID, theirsID CommitID
				if bok {
					baseID = NewCommitID(be.Hash)
				}

				oursID = NewCommitID(oe.Hash)
				theirsID = NewCommitID(te.Hash)

				*conflicts = append(*conflicts, ConflictEntry{
					Path: entryPath, Base: baseID, Ours: oursID, Theirs: theirsID,
				})

				continue
			}

			result[name] = object.TreeEntry{Name: name, Mode: oe.Mode, Hash: merged.Hash()}

		default:
			// Type mismatch (file vs directory) on both sides: conflict.
			*conflicts = append(*conflicts, ConflictEntry{
				Path: entryPath, Ours: NewCommitID(oe.Hash), Theirs: NewCommitID(te.Hash),
			})
		}
	}

	return encodeTree(g.repo.Storer, result)
}

func unionEntryNames(trees ...*object.Tree) []string {
	seen := map[string]struct{}{}

	for _, t := range trees {
		if t == nil {
			continue
		}

		for _, e := range t.Entries {
			seen[e.Name] = struct{}{}
		}
	}

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}

	sort.Strings(names)

	return names
}

func lookupEntry(t *object.Tree, name string) (object.TreeEntry, bool) {
	if t == nil {
		return object.TreeEntry{}, false
	}

	for _, e := range t.Entries {
		if e.Name == name {
			return e, true
		}
	}

	return object.TreeEntry{}, false
}

func entriesEqual(a, b object.TreeEntry) bool {
	return a.Hash == b.Hash && a.Mode == b.Mode
}

// merge3Blob performs a line-based three-way merge of a single file's
// content. ok is false when the merge produced overlapping conflicting
// hunks; callers surface that as a ConflictEntry.
func (g *GoGitRepository) merge3Blob(
	_ string, base object.TreeEntry, baseOK bool, ours, theirs object.TreeEntry,
) (CommitID, bool, error) {
	oursContent, err := blobContents(g.repo.Storer, ours.Hash)
	if err != nil {
		return CommitID{}, false, err
	}

	theirsContent, err := blobContents(g.repo.Storer, theirs.Hash)
	if err != nil {
		return CommitID{}, false, err
	}

	var baseContent []byte
	if baseOK {
		baseContent, err = blobContents(g.repo.Storer, base.Hash)
		if err != nil {
			return CommitID{}, false, err
		}
	}

	if looksBinary(oursContent) || looksBinary(theirsContent) {
		return CommitID{}, false, nil
	}

	merged, clean := diff3Merge(
		splitLines(string(baseContent)),
		splitLines(string(oursContent)),
		splitLines(string(theirsContent)),
	)
	if !clean {
		return CommitID{}, false, nil
	}

	id, err := g.writeBlob([]byte(strings.Join(merged, "")))
	if err != nil {
		return CommitID{}, false, err
	}

	return id, true, nil
}

func blobContents(s storer.EncodedObjectStorer, h plumbing.Hash) ([]byte, error) {
	blob, err := object.GetBlob(s, h)
	if err != nil {
		return nil, errs.Wrap(errs.IO, "git.blobContents", err)
	}

	r, err := blob.Reader()
	if err != nil {
		return nil, errs.Wrap(errs.IO, "git.blobContents", err)
	}
	defer r.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, errs.Wrap(errs.IO, "git.blobContents", err)
	}

	return buf.Bytes(), nil
}

func looksBinary(b []byte) bool {
	return bytes.ContainsRune(b, 0)
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}

	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	return lines
}
