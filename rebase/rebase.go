// Package rebase implements the rebase engine (C7): replaying a linear
// sequence of commits from a source onto a target, one three-way
// merge per commit, halting the sequencer on the first conflict.
package rebase

import (
	"context"

	"github.com/mjpitz/metarepo/errs"
	"github.com/mjpitz/metarepo/git"
	"github.com/mjpitz/metarepo/internal/log"
	"github.com/mjpitz/metarepo/sequencer"
)

// Result is the outcome of a (possibly partial) rebase run.
type Result struct {
	// NewHead is the tip commit after the run: either the fast-forwarded
	// source, or the last commit produced by replay.
	NewHead git.CommitID

	// FastForward is true when no new commits were created because the
	// source was already a descendant of the target.
	FastForward bool

	// ConflictedCommit is the original source-side commit id that produced a
	// conflict, set only when Conflicted is true.
	ConflictedCommit git.CommitID
	Conflicted       bool

	// ConflictPaths lists the file paths left unresolved when
	// Conflicted is true, for a front-end to report via
	// output.FormatConflictSummary.
	ConflictPaths []string

	// CommitsSoFar are the new commits created before a conflict halted
	// the run (or the full replayed set, on success).
	CommitsSoFar []git.CommitID
}

// Engine replays commits per §4.5.
type Engine struct {
	Repo git.Repository
}

// Run replays commits (oldest first; the commits reachable from
// source but not from ontoTarget, in topological order as supplied by
// the caller) onto ontoTarget.
//
// Per commit: skip if already reachable from the (possibly-advanced)
// target; otherwise three-way-merge the commit's own diff (base =
// commit's first parent, ours = current onto-tip, theirs = commit's
// tree) and either fast-forward the tip with no new commit when the
// result equals the onto-tip's tree, or create a replayed commit with
// the original author/committer/message. A conflict halts the run and
// writes a sequencer.
func (e *Engine) Run(
	ctx context.Context, source, ontoTarget git.CommitID, commits []git.Commit, seqPath string,
) (Result, error) {
	log.From(ctx).Debug("rebase.Run", "source", source.Short(), "onto", ontoTarget.Short(), "commits", len(commits))

	isFF, err := e.Repo.DescendantOf(ctx, source, ontoTarget)
	if err != nil {
		return Result{}, errs.Wrap(errs.Internal, "rebase.Run", err)
	}

	if isFF {
		return Result{NewHead: source, FastForward: true}, nil
	}

	tip := ontoTarget

	var produced []git.CommitID

	for i, commit := range commits {
		alreadyReachable, err := e.Repo.DescendantOf(ctx, tip, commit.ID)
		if err != nil {
			return Result{}, errs.Wrap(errs.Internal, "rebase.Run", err)
		}

		if alreadyReachable {
			continue
		}

		var parentTree git.CommitID
		if len(commit.Parents) > 0 {
			parentCommit, err := e.Repo.ReadCommit(ctx, commit.Parents[0])
			if err != nil {
				return Result{}, errs.Wrap(errs.Internal, "rebase.Run", err)
			}

			parentTree = parentCommit.Tree
		}

		tipCommit, err := e.Repo.ReadCommit(ctx, tip)
		if err != nil {
			return Result{}, errs.Wrap(errs.Internal, "rebase.Run", err)
		}

		merged, err := e.Repo.MergeIndex(ctx, parentTree, tipCommit.Tree, commit.Tree)
		if err != nil {
			return Result{}, errs.Wrap(errs.Internal, "rebase.Run", err)
		}

		if len(merged.Conflicts) > 0 {
			if err := sequencer.Save(seqPath, &sequencer.State{
				Kind:         sequencer.KindRebase,
				OriginalHead: sequencer.RefPin{Commit: source},
				Target:       sequencer.RefPin{Commit: ontoTarget},
				Commits:      commitIDs(commits),
				CurrentIndex: i,
			}); err != nil {
				return Result{}, err
			}

			return Result{
				NewHead:          tip,
				ConflictedCommit: commit.ID,
				Conflicted:       true,
				CommitsSoFar:     produced,
				ConflictPaths:    conflictPaths(merged.Conflicts),
			}, nil
		}

		if merged.Tree == tipCommit.Tree {
			// Empty step: the commit's changes are already reflected
			// onto the new parent, so no new commit is emitted, per
			// §4.5 step 3.
			continue
		}

		newCommit, err := e.Repo.CreateCommit(
			ctx, commit.Author, commit.Committer, commit.Message, merged.Tree, tip,
		)
		if err != nil {
			return Result{}, errs.Wrap(errs.Internal, "rebase.Run", err)
		}

		tip = newCommit
		produced = append(produced, newCommit)
	}

	return Result{NewHead: tip, CommitsSoFar: produced}, nil
}

// Continue resumes a halted rebase after the caller has resolved
// conflicts and staged a resolution commit for the conflicted step,
// replaying the remaining commits from the sequencer state.
func (e *Engine) Continue(
	ctx context.Context, st *sequencer.State, resolvedTip git.CommitID, remaining []git.Commit, seqPath string,
) (Result, error) {
	return e.Run(ctx, st.OriginalHead.Commit, resolvedTip, remaining, seqPath)
}

// Abort discards the sequencer state, returning the meta-repository to
// its original head (the caller is responsible for resetting refs).
func Abort(seqPath string) error {
	return sequencer.Remove(seqPath)
}

// conflictPaths extracts the path of each unresolved file conflict, for
// a front-end to report via output.FormatConflictSummary.
func conflictPaths(conflicts []git.ConflictEntry) []string {
	paths := make([]string, len(conflicts))
	for i, c := range conflicts {
		paths[i] = c.Path
	}

	return paths
}

func commitIDs(commits []git.Commit) []git.CommitID {
	ids := make([]git.CommitID, len(commits))
	for i, c := range commits {
		ids[i] = c.ID
	}

	return ids
}
