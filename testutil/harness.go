// Package testutil provides shared go-git fixture helpers for building
// meta-repository and sub-repository test state without touching a
// git binary, mirroring how the packages under test build their own
// fixtures (see e.g. git.OpenInMemory/WriteTree/CreateCommit in
// git/repo_test.go, merge/merge_test.go, fetch/fetch_test.go) but
// collected in one place instead of each package re-declaring
// testSig/newCommit.
package testutil

import (
	"context"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/stretchr/testify/require"

	"github.com/mjpitz/metarepo/git"
	"github.com/mjpitz/metarepo/registry"
)

// Sig is a fixed signature so fixture commits don't make test
// assertions non-deterministic across runs.
func Sig() git.Signature {
	return git.Signature{
		Name: "Test User", Email: "test@example.com",
		When: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// NewRepo opens a fresh in-memory repository, failing the test on
// error.
func NewRepo(t *testing.T) *git.GoGitRepository {
	t.Helper()

	repo, err := git.OpenInMemory()
	require.NoError(t, err)

	return repo
}

// NewOnDiskRepo initialises a non-bare repository rooted at t.TempDir,
// for tests that exercise Fetch/Push (which need a real URL to dial,
// something an in-memory repository has no address for).
func NewOnDiskRepo(t *testing.T) (*git.GoGitRepository, string) {
	t.Helper()

	dir := t.TempDir()

	repo, err := git.Init(dir, false)
	require.NoError(t, err)

	return repo, dir
}

// Commit writes files as a new tree and commits it atop parents,
// returning the new commit id.
func Commit(
	t *testing.T, repo git.Repository, message string, files map[string][]byte, parents ...git.CommitID,
) git.CommitID {
	t.Helper()

	ctx := context.Background()

	tree, err := repo.WriteTree(ctx, files)
	require.NoError(t, err)

	sig := Sig()

	id, err := repo.CreateCommit(ctx, sig, sig, message, tree, parents...)
	require.NoError(t, err)

	return id
}

// CheckoutHead materialises commit into dir's working directory and
// index, and points HEAD at it, by reopening the on-disk repository
// directly through go-git — needed because commits built via Commit
// write straight to the object store without touching the worktree,
// and CLI-level tests (which run the real discoverRoot/WorkdirStatus
// path) need an actually clean working directory to exercise commands
// that refuse to run over a dirty one.
func CheckoutHead(t *testing.T, dir string, commit git.CommitID) {
	t.Helper()

	r, err := gogit.PlainOpen(dir)
	require.NoError(t, err)

	wt, err := r.Worktree()
	require.NoError(t, err)

	err = wt.Checkout(&gogit.CheckoutOptions{Hash: commit.Hash(), Force: true})
	require.NoError(t, err)
}

// StaticRegistry adapts a fixed *registry.Registry into a
// merge.RegistryReader (and fetch's equivalent reader shape), for
// tests that don't need per-tree registry variation.
type StaticRegistry struct {
	Registry *registry.Registry
}

func (s StaticRegistry) ReadRegistry(_ context.Context, _ git.CommitID) (*registry.Registry, error) {
	if s.Registry == nil {
		return registry.New(), nil
	}

	return s.Registry, nil
}

// SubFixture is one sub-repository built by NewMetaFixture: an
// on-disk repository (so the meta-repository's registry can point at
// it by file path) holding a single base commit.
type SubFixture struct {
	Repo *git.GoGitRepository
	Dir  string
	Base git.CommitID
}

// MetaFixture is a meta-repository with one sub-repository wired into
// its registry at the meta HEAD, the common starting point for C5-C10
// integration tests (fetch/pool/sequencer/rebase/merge/stash/
// destitch all operate over a meta-commit plus a registry plus
// resolvable sub-repository URLs).
type MetaFixture struct {
	Repo     *git.GoGitRepository
	Dir      string
	Registry *registry.Registry
	Sub      SubFixture
	Head     git.CommitID
}

// NewMetaFixture builds a meta-repository containing one file
// (README.md) plus a registry entry named subName at path pinning the
// sub-repository's base commit, and a sub-repository (on disk, so its
// directory can serve as a file:// fetch/push URL) holding that base
// commit.
func NewMetaFixture(t *testing.T, subName, path string) *MetaFixture {
	t.Helper()

	ctx := context.Background()

	subRepo, subDir := NewOnDiskRepo(t)
	subBase := Commit(t, subRepo, "sub base", map[string][]byte{"sub.go": []byte("package sub\n")})
	require.NoError(t, subRepo.UpdateRef(ctx, "HEAD", subBase))
	CheckoutHead(t, subDir, subBase)

	reg := registry.New()
	reg.Add(registry.Entry{
		Name: subName,
		Path: path,
		Pin:  registry.Pin{URL: subDir, Commit: subBase, HasCommit: true},
	})

	metaRepo, metaDir := NewOnDiskRepo(t)
	metaHead := Commit(t, metaRepo, "meta base", map[string][]byte{
		"README.md":       []byte("meta\n"),
		registry.FileName: []byte(registry.Format(reg)),
	})
	require.NoError(t, metaRepo.UpdateRef(ctx, "HEAD", metaHead))
	CheckoutHead(t, metaDir, metaHead)

	return &MetaFixture{
		Repo:     metaRepo,
		Dir:      metaDir,
		Registry: reg,
		Sub: SubFixture{
			Repo: subRepo,
			Dir:  subDir,
			Base: subBase,
		},
		Head: metaHead,
	}
}
