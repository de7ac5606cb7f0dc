// Package stash implements the shadow-commit stash (C9): capturing a
// repository's full index-plus-workdir state as a two-parent stash
// entry, and applying it back via three-way merge.
package stash

import (
	"context"

	"github.com/mjpitz/metarepo/errs"
	"github.com/mjpitz/metarepo/git"
)

// StashRef is the reference that Push points at the newest stash
// entry. Push only updates the ref itself; it writes no reflog entry.
const StashRef = "refs/stash-meta"

// Entry is one stash entry: a two-parent commit whose first parent is
// the index-shadow and whose second is the workdir-shadow, per §4.7.
type Entry struct {
	ID            git.CommitID
	IndexShadow   git.CommitID
	WorkdirShadow git.CommitID
	Message       string
	Parent        git.CommitID // the HEAD the shadow commits were taken against
}

// Capture builds a shadow commit: a synthetic commit whose tree is
// files (the full captured state — index, or index+workdir, or
// index+workdir+untracked depending on caller policy) with parent
// head.
func Capture(
	ctx context.Context, repo git.Repository, head git.CommitID, files map[string][]byte, sig git.Signature, message string,
) (git.CommitID, error) {
	tree, err := repo.WriteTree(ctx, files)
	if err != nil {
		return git.CommitID{}, errs.Wrap(errs.Internal, "stash.Capture", err)
	}

	var parents []git.CommitID
	if !head.IsZero() {
		parents = []git.CommitID{head}
	}

	id, err := repo.CreateCommit(ctx, sig, sig, message, tree, parents...)
	if err != nil {
		return git.CommitID{}, errs.Wrap(errs.Internal, "stash.Capture", err)
	}

	return id, nil
}

// Push captures index-shadow and workdir-shadow commits and records a
// new stash entry on top of the current stash log.
func Push(
	ctx context.Context, repo git.Repository, head git.CommitID,
	indexFiles, workdirFiles map[string][]byte, sig git.Signature, message string,
) (Entry, error) {
	indexShadow, err := Capture(ctx, repo, head, indexFiles, sig, message+" (index)")
	if err != nil {
		return Entry{}, err
	}

	workdirShadow, err := Capture(ctx, repo, head, workdirFiles, sig, message+" (workdir)")
	if err != nil {
		return Entry{}, err
	}

	indexShadowCommit, err := repo.ReadCommit(ctx, indexShadow)
	if err != nil {
		return Entry{}, errs.Wrap(errs.Internal, "stash.Push", err)
	}

	id, err := repo.CreateCommit(ctx, sig, sig, message, indexShadowCommit.Tree, indexShadow, workdirShadow)
	if err != nil {
		return Entry{}, errs.Wrap(errs.Internal, "stash.Push", err)
	}

	if err := repo.UpdateRef(ctx, StashRef, id); err != nil {
		return Entry{}, errs.Wrap(errs.Internal, "stash.Push", err)
	}

	return Entry{
		ID: id, IndexShadow: indexShadow, WorkdirShadow: workdirShadow, Message: message, Parent: head,
	}, nil
}

// Apply performs a three-way merge of entry against the current HEAD:
// base is the entry's original parent, ours is head, theirs is the
// workdir-shadow (or index-shadow, when reinstateIndex requests the
// staged variant). Apply writes nothing to the working tree or to
// StashRef; it returns the merged index, whose Conflicts list any
// conflicting paths.
func Apply(
	ctx context.Context, repo git.Repository, entry Entry, head git.CommitID, reinstateIndex bool,
) (*git.MergedIndex, error) {
	theirs := entry.WorkdirShadow
	if reinstateIndex {
		theirs = entry.IndexShadow
	}

	baseCommit, err := repo.ReadCommit(ctx, entry.Parent)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "stash.Apply", err)
	}

	headCommit, err := repo.ReadCommit(ctx, head)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "stash.Apply", err)
	}

	theirsCommit, err := repo.ReadCommit(ctx, theirs)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "stash.Apply", err)
	}

	merged, err := repo.MergeIndex(ctx, baseCommit.Tree, headCommit.Tree, theirsCommit.Tree)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "stash.Apply", err)
	}

	return merged, nil
}

// Pop applies entry and, only on a clean (conflict-free) result, drops
// it from the log via the caller-supplied remove function.
func Pop(
	ctx context.Context, repo git.Repository, entry Entry, head git.CommitID, reinstateIndex bool,
	drop func() error,
) (*git.MergedIndex, error) {
	merged, err := Apply(ctx, repo, entry, head, reinstateIndex)
	if err != nil {
		return nil, err
	}

	if len(merged.Conflicts) > 0 {
		return merged, nil
	}

	if err := drop(); err != nil {
		return merged, errs.Wrap(errs.Internal, "stash.Pop", err)
	}

	return merged, nil
}

// List is a sequence of stash entries, newest first. Since entries
// don't chain to each other (each is a fresh two-parent commit off the
// prior HEAD), this package does not read a log; the caller supplies
// the entries. This core only defines the entry shape and
// push/apply/pop mechanics.
type List []Entry
