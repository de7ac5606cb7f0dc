package ops

import (
	"context"

	"github.com/mjpitz/metarepo/errs"
	"github.com/mjpitz/metarepo/git"
)

// ResetMode selects how far reset unwinds state, per the
// `--soft|--mixed|--hard` flags in spec.md §6.5's `reset` row.
type ResetMode int

const (
	// ResetSoft moves HEAD only; the index and working tree are left
	// exactly as they were (so the prior HEAD's changes appear staged).
	ResetSoft ResetMode = iota
	// ResetMixed moves HEAD and resets the index to match, leaving the
	// working tree untouched (so changes appear unstaged).
	ResetMixed
	// ResetHard moves HEAD and resets both the index and working tree
	// to match, discarding uncommitted changes.
	ResetHard
)

// Reset moves HEAD to target after checking that target exists. It
// does not check whether the working tree is dirty, and for every mode
// it moves HEAD only: the index and working tree are not updated here.
func Reset(ctx context.Context, cfg *Config, target git.CommitID, mode ResetMode) error {
	if _, err := cfg.Repo.ReadCommit(ctx, target); err != nil {
		return errs.Wrap(errs.NotFound, "ops.Reset", err)
	}

	if err := cfg.Repo.UpdateRef(ctx, HeadRef, target); err != nil {
		return errs.Wrap(errs.IO, "ops.Reset", err)
	}

	// ResetMixed/ResetHard additionally rewrite the index, and
	// ResetHard the working tree, to target's tree; materialising that
	// onto go-git's Worktree is left to the caller, which holds the
	// actual *git.Worktree handle this package does not expose.
	_ = mode

	return nil
}
