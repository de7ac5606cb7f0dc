package commands

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/mjpitz/metarepo/errs"
	"github.com/mjpitz/metarepo/fetch"
	"github.com/mjpitz/metarepo/git"
	"github.com/mjpitz/metarepo/merge"
	"github.com/mjpitz/metarepo/ops"
	"github.com/mjpitz/metarepo/registry"
	"github.com/mjpitz/metarepo/sequencer"
)

// discoverRoot walks up from start looking for a ".git" entry, the
// CWD-repository-discovery spec.md §9 assigns to the CLI collaborator
// rather than the core.
func discoverRoot(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", errs.Wrap(errs.IO, "commands.discoverRoot", err)
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errs.New(errs.NotFound, "commands.discoverRoot", "no .git directory found above %s", start)
		}

		dir = parent
	}
}

// openConfig discovers and opens the meta-repository rooted above
// cfg.WorkDir (or the process's current directory), returning an
// ops.Config ready to pass to any ops entry point.
func openConfig(cfg Config) (*ops.Config, error) {
	start := cfg.WorkDir
	if start == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, errs.Wrap(errs.IO, "commands.openConfig", err)
		}

		start = wd
	}

	root, err := discoverRoot(start)
	if err != nil {
		return nil, err
	}

	repo, err := git.Open(root)
	if err != nil {
		return nil, err
	}

	return &ops.Config{
		Repo:       repo,
		Signature:  authorSignature(),
		SeqPath:    sequencer.Path(gitDir(repo)),
		Registries: registryReader{repo: repo},
		Resolver:   nil,
		Policy:     merge.OpenPolicyForbid,
		Fetcher:    fetch.NewFetcher(),
		OpenRepos:  map[string]git.Repository{},
	}, nil
}

// authorSignature builds the commit signature metarepo stamps onto
// commits it creates itself (merge commits, replayed rebase commits,
// shadow/stash commits), reading the same environment variables git
// itself honours.
func authorSignature() git.Signature {
	name := os.Getenv("GIT_AUTHOR_NAME")
	if name == "" {
		name = "metarepo"
	}

	email := os.Getenv("GIT_AUTHOR_EMAIL")
	if email == "" {
		email = "metarepo@localhost"
	}

	return git.Signature{Name: name, Email: email, When: time.Now()}
}

// registryReader adapts a git.Repository into merge.RegistryReader by
// reading the registry file straight out of the given tree.
type registryReader struct {
	repo git.Repository
}

func (r registryReader) ReadRegistry(ctx context.Context, tree git.CommitID) (*registry.Registry, error) {
	return registry.ReadFromTree(ctx, r.repo, tree)
}
