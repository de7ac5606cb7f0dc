package ops

import (
	"context"
	"strings"

	"github.com/mjpitz/metarepo/diff"
	"github.com/mjpitz/metarepo/errs"
	"github.com/mjpitz/metarepo/git"
	"github.com/mjpitz/metarepo/sequencer"
)

// Diff renders the unresolved conflicts of a halted merge as a unified
// diff text (paths empty means "every conflicted path"), for a
// front-end's optional "show diff" status mode — a status model that
// reports *which* paths conflict but offers no way to see *what*
// conflicts is materially less useful than real tooling of this shape.
// Returns "", nil when no operation is in progress.
//
// Only a halted merge is supported: a halted rebase/cherry-pick stops
// on one replayed commit rather than a full three-way tree merge, so
// there is no "ours" tree recorded in the sequencer to diff against.
func Diff(ctx context.Context, cfg *Config, paths []string) (string, error) {
	st, ok, err := sequencer.Load(cfg.SeqPath)
	if err != nil {
		return "", err
	}

	if !ok {
		return "", nil
	}

	if st.Kind != sequencer.KindMerge {
		return "", errs.New(errs.Usage, "ops.Diff", "diff rendering is only supported for a halted merge")
	}

	base, found, err := cfg.Repo.MergeBase(ctx, st.OriginalHead.Commit, st.Target.Commit)
	if err != nil {
		return "", errs.Wrap(errs.Internal, "ops.Diff", err)
	}

	if !found {
		return "", errs.New(errs.NoMergeBase, "ops.Diff", "no common ancestor between head and target")
	}

	baseTree, err := cfg.Repo.Tree(ctx, base)
	if err != nil {
		return "", errs.Wrap(errs.Internal, "ops.Diff", err)
	}

	oursTree, err := cfg.Repo.Tree(ctx, st.OriginalHead.Commit)
	if err != nil {
		return "", errs.Wrap(errs.Internal, "ops.Diff", err)
	}

	theirsTree, err := cfg.Repo.Tree(ctx, st.Target.Commit)
	if err != nil {
		return "", errs.Wrap(errs.Internal, "ops.Diff", err)
	}

	merged, err := cfg.Repo.MergeIndex(ctx, baseTree, oursTree, theirsTree)
	if err != nil {
		return "", errs.Wrap(errs.Internal, "ops.Diff", err)
	}

	var text strings.Builder

	for _, c := range merged.Conflicts {
		if len(paths) > 0 && !pathSelected(c.Path, paths) {
			continue
		}

		ours, err := readBlobOrEmpty(ctx, cfg.Repo, c.Ours)
		if err != nil {
			return "", err
		}

		theirs, err := readBlobOrEmpty(ctx, cfg.Repo, c.Theirs)
		if err != nil {
			return "", err
		}

		hunk, err := diff.GenerateUnified(c.Path, ours, theirs)
		if err != nil {
			return "", errs.Wrap(errs.Internal, "ops.Diff", err)
		}

		text.WriteString(hunk)
	}

	return text.String(), nil
}

func readBlobOrEmpty(ctx context.Context, repo git.Repository, id git.CommitID) ([]byte, error) {
	if id.IsZero() {
		return nil, nil
	}

	content, err := repo.ReadBlob(ctx, id)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "ops.Diff", err)
	}

	return content, nil
}

func pathSelected(path string, filters []string) bool {
	for _, f := range filters {
		f = strings.TrimSuffix(f, "/")
		if path == f || strings.HasPrefix(path, f+"/") {
			return true
		}
	}

	return false
}
