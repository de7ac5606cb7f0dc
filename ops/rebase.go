package ops

import (
	"context"

	"github.com/mjpitz/metarepo/errs"
	"github.com/mjpitz/metarepo/git"
	"github.com/mjpitz/metarepo/rebase"
	"github.com/mjpitz/metarepo/sequencer"
)

// commitsSince walks tip's first-parent chain back to (but not
// including) base, returning the commits oldest-first — the
// topological order rebase.Engine.Run expects.
func commitsSince(ctx context.Context, repo git.Repository, tip, base git.CommitID) ([]git.Commit, error) {
	var chain []git.Commit

	cur := tip
	for cur != base && !cur.IsZero() {
		c, err := repo.ReadCommit(ctx, cur)
		if err != nil {
			return nil, errs.Wrap(errs.NotFound, "ops.commitsSince", err)
		}

		chain = append(chain, *c)

		if len(c.Parents) == 0 {
			break
		}

		cur = c.Parents[0]
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}

	return chain, nil
}

// Rebase replays the meta-repository's own commits onto upstream, per
// spec.md §6.5's `rebase <upstream>` row.
func Rebase(ctx context.Context, cfg *Config, upstream git.CommitID) (rebase.Result, error) {
	if err := ensureCleanMeta(ctx, cfg, "ops.Rebase"); err != nil {
		return rebase.Result{}, err
	}

	head, err := cfg.Repo.ReadRef(ctx, HeadRef)
	if err != nil {
		return rebase.Result{}, errs.Wrap(errs.NotFound, "ops.Rebase", err)
	}

	base, found, err := cfg.Repo.MergeBase(ctx, head, upstream)
	if err != nil {
		return rebase.Result{}, errs.Wrap(errs.Internal, "ops.Rebase", err)
	}

	if !found {
		return rebase.Result{}, errs.New(errs.NoMergeBase, "ops.Rebase", "no common ancestor with upstream")
	}

	commits, err := commitsSince(ctx, cfg.Repo, head, base)
	if err != nil {
		return rebase.Result{}, err
	}

	eng := &rebase.Engine{Repo: cfg.Repo}

	result, err := eng.Run(ctx, head, upstream, commits, cfg.SeqPath)
	if err != nil {
		return result, err
	}

	if !result.Conflicted {
		if err := cfg.Repo.UpdateRef(ctx, HeadRef, result.NewHead); err != nil {
			return result, errs.Wrap(errs.IO, "ops.Rebase", err)
		}
	}

	return result, nil
}

// RebaseContinue resumes a halted rebase: resolvedTip is the commit
// the caller produced for the conflicted step (typically by staging
// the resolution and calling git.Repository.CreateCommit), and
// remaining is the tail of the original commit sequence still to
// replay, per the sequencer's recorded commit list and index.
func RebaseContinue(
	ctx context.Context, cfg *Config, resolvedTip git.CommitID, remaining []git.Commit,
) (rebase.Result, error) {
	st, ok, err := sequencer.Load(cfg.SeqPath)
	if err != nil {
		return rebase.Result{}, err
	}

	if !ok || (st.Kind != sequencer.KindRebase && st.Kind != sequencer.KindCherryPick) {
		return rebase.Result{}, errs.New(errs.Usage, "ops.RebaseContinue", "no rebase in progress")
	}

	eng := &rebase.Engine{Repo: cfg.Repo}

	result, err := eng.Continue(ctx, st, resolvedTip, remaining, cfg.SeqPath)
	if err != nil {
		return result, err
	}

	if !result.Conflicted {
		if err := cfg.Repo.UpdateRef(ctx, HeadRef, result.NewHead); err != nil {
			return result, errs.Wrap(errs.IO, "ops.RebaseContinue", err)
		}

		if err := sequencer.Remove(cfg.SeqPath); err != nil {
			return result, err
		}
	}

	return result, nil
}

// RebaseAbort discards an in-progress rebase's sequencer, restoring
// HEAD to the original source commit per §8's "abort restoration"
// invariant.
func RebaseAbort(ctx context.Context, cfg *Config) error {
	st, ok, err := sequencer.Load(cfg.SeqPath)
	if err != nil {
		return err
	}

	if !ok || (st.Kind != sequencer.KindRebase && st.Kind != sequencer.KindCherryPick) {
		return errs.New(errs.Usage, "ops.RebaseAbort", "no rebase in progress")
	}

	if err := cfg.Repo.UpdateRef(ctx, HeadRef, st.OriginalHead.Commit); err != nil {
		return errs.Wrap(errs.IO, "ops.RebaseAbort", err)
	}

	return rebase.Abort(cfg.SeqPath)
}
