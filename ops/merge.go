package ops

import (
	"context"

	"github.com/mjpitz/metarepo/errs"
	"github.com/mjpitz/metarepo/git"
	"github.com/mjpitz/metarepo/internal/log"
	"github.com/mjpitz/metarepo/merge"
	"github.com/mjpitz/metarepo/sequencer"
)

// MergeFlags mirrors the `merge` row of spec.md §6.5 exactly: the
// three ff-flags are mutually exclusive and --message is required
// unless the merge can only ever fast-forward.
type MergeFlags struct {
	Message string
	FF      bool // default strategy, mutually exclusive with the two below
	FFOnly  bool
	NoFF    bool
}

// ResolveMergeMode validates flag exclusivity and translates the flag
// set into a merge.Mode, failing with errs.Usage on an invalid
// combination.
func ResolveMergeMode(f MergeFlags) (merge.Mode, error) {
	set := 0
	if f.FFOnly {
		set++
	}

	if f.NoFF {
		set++
	}

	if set > 1 {
		return 0, errs.New(errs.Usage, "ops.Merge", "--ff-only and --no-ff are mutually exclusive")
	}

	switch {
	case f.FFOnly:
		return merge.ModeFastForwardOnly, nil
	case f.NoFF:
		return merge.ModeForceCommit, nil
	default:
		return merge.ModeNormal, nil
	}
}

// Merge runs the merge command against target, per spec.md §6.5/§4.6.
// It refuses to proceed over a dirty working tree (errs.Dirty) and
// requires --message for any mode that may produce a new commit.
func Merge(ctx context.Context, cfg *Config, target git.CommitID, flags MergeFlags) (merge.Result, error) {
	mode, err := ResolveMergeMode(flags)
	if err != nil {
		return merge.Result{}, err
	}

	if mode != merge.ModeFastForwardOnly && flags.Message == "" {
		return merge.Result{}, errs.New(errs.Usage, "ops.Merge", "--message is required")
	}

	if err := ensureCleanMeta(ctx, cfg, "ops.Merge"); err != nil {
		return merge.Result{}, err
	}

	head, err := cfg.Repo.ReadRef(ctx, HeadRef)
	if err != nil {
		return merge.Result{}, errs.Wrap(errs.NotFound, "ops.Merge", err)
	}

	log.From(ctx).Info("merge", "head", head.Short(), "target", target.Short(), "mode", mode)

	eng := &merge.Engine{
		Repo: cfg.Repo, Registries: cfg.Registries, Resolver: cfg.Resolver, Policy: cfg.Policy,
	}

	result, err := eng.Run(ctx, head, target, mode, flags.Message, cfg.SeqPath)
	if err != nil {
		return result, err
	}

	if !result.Conflicted && !result.UpToDate {
		if err := cfg.Repo.UpdateRef(ctx, HeadRef, result.NewHead); err != nil {
			return result, errs.Wrap(errs.IO, "ops.Merge", err)
		}
	}

	return result, nil
}

// MergeContinue finalises a halted merge once the caller has resolved
// every conflict and built resolvedTree (typically via
// git.Repository.WriteTree over the resolved file content) and every
// opened sub-repository's own sequencer has been continued, reported
// via subResults.
func MergeContinue(
	ctx context.Context, cfg *Config, resolvedTree git.CommitID, subResults []merge.SubResult,
) (merge.Result, error) {
	st, ok, err := sequencer.Load(cfg.SeqPath)
	if err != nil {
		return merge.Result{}, err
	}

	if !ok || st.Kind != sequencer.KindMerge {
		return merge.Result{}, errs.New(errs.Usage, "ops.MergeContinue", "no merge in progress")
	}

	if err := merge.Continue(subResults); err != nil {
		return merge.Result{}, err
	}

	message := st.Message
	if message == "" {
		message = "merge"
	}

	newCommit, err := cfg.Repo.CreateCommit(
		ctx, cfg.Signature, cfg.Signature, message, resolvedTree, st.OriginalHead.Commit, st.Target.Commit,
	)
	if err != nil {
		return merge.Result{}, errs.Wrap(errs.Internal, "ops.MergeContinue", err)
	}

	if err := cfg.Repo.UpdateRef(ctx, HeadRef, newCommit); err != nil {
		return merge.Result{}, errs.Wrap(errs.IO, "ops.MergeContinue", err)
	}

	if err := sequencer.Remove(cfg.SeqPath); err != nil {
		return merge.Result{}, err
	}

	return merge.Result{NewHead: newCommit, Subs: subResults}, nil
}

// MergeAbort discards an in-progress merge's sequencer and restores
// every currently open sub-repository's HEAD to the pin recorded in
// the meta-repository's original HEAD, per §8's "abort restoration"
// invariant — mirroring ops.RebaseAbort's restoration of the
// meta-repository's own HEAD.
func MergeAbort(ctx context.Context, cfg *Config) error {
	st, ok, err := sequencer.Load(cfg.SeqPath)
	if err != nil {
		return err
	}

	if !ok || st.Kind != sequencer.KindMerge {
		return errs.New(errs.Usage, "ops.MergeAbort", "no merge in progress")
	}

	if len(cfg.OpenRepos) > 0 && cfg.Registries != nil {
		originalTree, err := cfg.Repo.Tree(ctx, st.OriginalHead.Commit)
		if err != nil {
			return errs.Wrap(errs.Internal, "ops.MergeAbort", err)
		}

		reg, err := cfg.Registries.ReadRegistry(ctx, originalTree)
		if err != nil {
			return err
		}

		for name, subRepo := range cfg.OpenRepos {
			entry, found := reg.Get(name)
			if !found || !entry.Pin.HasCommit {
				continue
			}

			if err := subRepo.UpdateRef(ctx, HeadRef, entry.Pin.Commit); err != nil {
				return errs.Wrap(errs.IO, "ops.MergeAbort", err).WithPath(name)
			}
		}
	}

	return merge.Abort(cfg.SeqPath)
}
