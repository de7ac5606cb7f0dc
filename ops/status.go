package ops

import (
	"context"
	"os"
	"path/filepath"

	"github.com/mjpitz/metarepo/errs"
	"github.com/mjpitz/metarepo/git"
	"github.com/mjpitz/metarepo/registry"
	"github.com/mjpitz/metarepo/status"
)

// Status computes the full meta-repository status snapshot restricted
// to paths (empty means "everything"), per spec.md §6.5's `status
// [<path>...]` row — always exit 0, since status never fails on a
// dirty or conflicted tree, only reports it.
func Status(ctx context.Context, cfg *Config, paths []string) (status.MetaSnapshot, error) {
	opts := status.Options{PathFilter: paths, Untracked: status.UntrackedNormal}

	head, err := cfg.Repo.ReadRef(ctx, HeadRef)
	if err != nil {
		return status.MetaSnapshot{}, errs.Wrap(errs.NotFound, "ops.Status", err)
	}

	headTree, err := cfg.Repo.Tree(ctx, head)
	if err != nil {
		return status.MetaSnapshot{}, errs.Wrap(errs.Internal, "ops.Status", err)
	}

	headRegistry, err := registry.ReadFromTree(ctx, cfg.Repo, headTree)
	if err != nil {
		return status.MetaSnapshot{}, err
	}

	indexRegistry := headRegistry
	if r, ok, err := readWorkdirRegistry(ctx, cfg.Repo); err != nil {
		return status.MetaSnapshot{}, err
	} else if ok {
		indexRegistry = r
	}

	snap, err := status.ComputeMeta(ctx, cfg.Repo, headRegistry, indexRegistry, cfg.OpenRepos, opts)
	if err != nil {
		return status.MetaSnapshot{}, err
	}

	return snap, nil
}

// ensureCleanMeta fails with errs.Dirty unless the meta-repository and
// every open sub-repository's own working tree is clean, per spec.md
// §4.2's "every staged, workdir, and sub-repository-workdir bucket is
// empty" definition. merge/rebase/cherry-pick/checkout all call this
// rather than computing a bare Snapshot over the meta-repository
// alone, which can't see into an opened sub's own dirty working tree
// at all.
func ensureCleanMeta(ctx context.Context, cfg *Config, op string) error {
	head, err := cfg.Repo.ReadRef(ctx, HeadRef)
	if err != nil {
		return errs.Wrap(errs.NotFound, op, err)
	}

	headTree, err := cfg.Repo.Tree(ctx, head)
	if err != nil {
		return errs.Wrap(errs.Internal, op, err)
	}

	headRegistry, err := registry.ReadFromTree(ctx, cfg.Repo, headTree)
	if err != nil {
		return err
	}

	indexRegistry := headRegistry
	if r, ok, err := readWorkdirRegistry(ctx, cfg.Repo); err != nil {
		return err
	} else if ok {
		indexRegistry = r
	}

	snap, err := status.ComputeMeta(ctx, cfg.Repo, headRegistry, indexRegistry, cfg.OpenRepos, status.Options{})
	if err != nil {
		return err
	}

	return status.EnsureCleanAndConsistent(op, snap)
}

// readWorkdirRegistry reads the registry file as it currently sits in
// the working directory (which may differ from HEAD's committed
// registry when a merge/rebase has staged pin changes), falling back
// to "not present" rather than failing so a fresh repository with no
// registry file yet still reports a status.
func readWorkdirRegistry(ctx context.Context, repo git.Repository) (*registry.Registry, bool, error) {
	wds, err := repo.WorkdirStatus(ctx, git.CommitID{})
	if err != nil {
		return nil, false, errs.Wrap(errs.Internal, "ops.Status", err)
	}

	if _, changed := wds.Staged[registry.FileName]; !changed {
		if _, changed := wds.Workdir[registry.FileName]; !changed {
			return nil, false, nil
		}
	}

	data, err := os.ReadFile(filepath.Join(repo.Root(), registry.FileName))
	if err != nil {
		return nil, false, nil
	}

	r, err := registry.Parse(string(data))
	if err != nil {
		return nil, false, nil
	}

	return r, true, nil
}
