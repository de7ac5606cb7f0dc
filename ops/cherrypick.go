package ops

import (
	"context"

	"github.com/mjpitz/metarepo/errs"
	"github.com/mjpitz/metarepo/git"
	"github.com/mjpitz/metarepo/rebase"
	"github.com/mjpitz/metarepo/sequencer"
)

// CherryPick replays commits (in the order given) onto the current
// HEAD, per spec.md §6.5's `cherry-pick <commitish>...` row. It reuses
// the rebase engine's per-commit three-way-replay algorithm (§4.5),
// which is agnostic to whether its commit list forms a contiguous
// branch.
func CherryPick(ctx context.Context, cfg *Config, commitishes []git.CommitID) (rebase.Result, error) {
	if len(commitishes) == 0 {
		return rebase.Result{}, errs.New(errs.Usage, "ops.CherryPick", "at least one commit is required")
	}

	if err := ensureCleanMeta(ctx, cfg, "ops.CherryPick"); err != nil {
		return rebase.Result{}, err
	}

	head, err := cfg.Repo.ReadRef(ctx, HeadRef)
	if err != nil {
		return rebase.Result{}, errs.Wrap(errs.NotFound, "ops.CherryPick", err)
	}

	commits := make([]git.Commit, len(commitishes))

	for i, id := range commitishes {
		c, err := cfg.Repo.ReadCommit(ctx, id)
		if err != nil {
			return rebase.Result{}, errs.Wrap(errs.NotFound, "ops.CherryPick", err).WithPath(id.String())
		}

		commits[i] = *c
	}

	eng := &rebase.Engine{Repo: cfg.Repo}

	// source is the last commit in the pick list rather than head
	// itself: rebase.Engine.Run short-circuits to a no-op fast-forward
	// when source is already a descendant of ontoTarget, and head is
	// trivially its own descendant. Using the last pick as source keeps
	// that check meaningful (a fast-forward only when the last pick
	// already descends from head, in which case NewHead is that pick).
	result, err := eng.Run(ctx, commitishes[len(commitishes)-1], head, commits, cfg.SeqPath)
	if err != nil {
		return result, err
	}

	if seqErr := markCherryPick(cfg.SeqPath); !result.Conflicted && seqErr != nil {
		return result, seqErr
	}

	if !result.Conflicted {
		if err := cfg.Repo.UpdateRef(ctx, HeadRef, result.NewHead); err != nil {
			return result, errs.Wrap(errs.IO, "ops.CherryPick", err)
		}
	}

	return result, nil
}

// markCherryPick relabels a sequencer the rebase engine wrote (it only
// ever writes sequencer.KindRebase) as KindCherryPick, so a front-end
// asking "what operation is in progress" sees the right kind; a no-op
// when no sequencer was written (the run completed cleanly).
func markCherryPick(seqPath string) error {
	st, ok, err := sequencer.Load(seqPath)
	if err != nil || !ok {
		return err
	}

	st.Kind = sequencer.KindCherryPick

	return sequencer.Save(seqPath, st)
}

// CherryPickContinue resumes a halted cherry-pick exactly as
// RebaseContinue does; the sequencer kind is cosmetic only.
func CherryPickContinue(
	ctx context.Context, cfg *Config, resolvedTip git.CommitID, remaining []git.Commit,
) (rebase.Result, error) {
	return RebaseContinue(ctx, cfg, resolvedTip, remaining)
}

// CherryPickAbort discards an in-progress cherry-pick's sequencer.
func CherryPickAbort(ctx context.Context, cfg *Config) error {
	return RebaseAbort(ctx, cfg)
}
