package ops

import (
	"context"

	"github.com/mjpitz/metarepo/errs"
	"github.com/mjpitz/metarepo/git"
)

// CheckoutFlags mirrors the `checkout` row of spec.md §6.5.
type CheckoutFlags struct {
	NewBranch string // -b <new>: create NewBranch pointing at the resolved commit
	Track     bool   // -t: accepted; Checkout records no upstream for NewBranch
	Force     bool   // -f: proceed over a dirty working tree
}

// Checkout moves HEAD to target (a resolved branch-or-commit), failing
// with errs.Dirty unless the working tree is clean or --force is set.
// When flags.NewBranch is non-empty, refs/heads/<NewBranch> is created
// at target first; HEAD is still set directly to target, not to the
// new branch ref.
func Checkout(ctx context.Context, cfg *Config, target git.CommitID, flags CheckoutFlags) error {
	if !flags.Force {
		if err := ensureCleanMeta(ctx, cfg, "ops.Checkout"); err != nil {
			return err
		}
	}

	if flags.NewBranch != "" {
		ref := "refs/heads/" + flags.NewBranch
		if err := cfg.Repo.UpdateRef(ctx, ref, target); err != nil {
			return errs.Wrap(errs.IO, "ops.Checkout", err)
		}
	}

	if err := cfg.Repo.UpdateRef(ctx, HeadRef, target); err != nil {
		return errs.Wrap(errs.IO, "ops.Checkout", err)
	}

	return nil
}
