package ops

import (
	"context"

	"github.com/mjpitz/metarepo/errs"
	"github.com/mjpitz/metarepo/git"
	"github.com/mjpitz/metarepo/stash"
)

// StashPushFlags mirrors the `stash push` row of spec.md §6.5.
type StashPushFlags struct {
	IncludeUntracked bool
	Message          string
}

// StashPush captures the current index and working directory (plus
// untracked files when requested) as a new stash entry.
func StashPush(
	ctx context.Context, cfg *Config, indexFiles, workdirFiles map[string][]byte, flags StashPushFlags,
) (stash.Entry, error) {
	head, err := cfg.Repo.ReadRef(ctx, HeadRef)
	if err != nil {
		return stash.Entry{}, errs.Wrap(errs.NotFound, "ops.StashPush", err)
	}

	message := flags.Message
	if message == "" {
		message = "WIP on stash"
	}

	return stash.Push(ctx, cfg.Repo, head, indexFiles, workdirFiles, cfg.Signature, message)
}

// StashList returns the entries the caller supplies, unchanged and
// newest first — the core mechanics (push/apply/pop) don't depend on
// how the log is stored, per stash.List's doc comment.
func StashList(entries stash.List) stash.List {
	return entries
}

// StashApply three-way-merges entry against the current HEAD without
// removing it from the log, per the `stash apply [<n>] [--index]` row.
func StashApply(ctx context.Context, cfg *Config, entry stash.Entry, reinstateIndex bool) (*git.MergedIndex, error) {
	head, err := cfg.Repo.ReadRef(ctx, HeadRef)
	if err != nil {
		return nil, errs.Wrap(errs.NotFound, "ops.StashApply", err)
	}

	return stash.Apply(ctx, cfg.Repo, entry, head, reinstateIndex)
}

// StashPop applies entry and drops it from the log (via drop) only on
// a clean result, per the `stash pop [<n>]` row.
func StashPop(
	ctx context.Context, cfg *Config, entry stash.Entry, reinstateIndex bool, drop func() error,
) (*git.MergedIndex, error) {
	head, err := cfg.Repo.ReadRef(ctx, HeadRef)
	if err != nil {
		return nil, errs.Wrap(errs.NotFound, "ops.StashPop", err)
	}

	return stash.Pop(ctx, cfg.Repo, entry, head, reinstateIndex, drop)
}

// StashDrop removes entry from the log via the caller-supplied remove
// function, per the `stash drop [<n>]` row. No engine-level state
// needs updating: a stash entry carries no pointers other ones
// depend on.
func StashDrop(drop func() error) error {
	if err := drop(); err != nil {
		return errs.Wrap(errs.IO, "ops.StashDrop", err)
	}

	return nil
}
