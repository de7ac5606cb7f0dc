package merge_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mjpitz/metarepo/errs"
	"github.com/mjpitz/metarepo/git"
	"github.com/mjpitz/metarepo/merge"
	"github.com/mjpitz/metarepo/registry"
)

func testSig() git.Signature {
	return git.Signature{
		Name: "Test User", Email: "test@example.com",
		When: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// registryAt maps a tree id (matching registryReader's real contract in
// commands/repo.go: it reads straight out of the tree the engine passes
// it, not a commit) to a pre-built registry, fed by tests that don't
// need registry files actually committed into meta-tree blobs.
type registryAt map[git.CommitID]*registry.Registry

func (m registryAt) ReadRegistry(_ context.Context, tree git.CommitID) (*registry.Registry, error) {
	if r, ok := m[tree]; ok {
		return r, nil
	}

	return registry.New(), nil
}

func TestRunUpToDate(t *testing.T) {
	repo, err := git.OpenInMemory()
	require.NoError(t, err)

	ctx := context.Background()
	sig := testSig()

	tree, err := repo.WriteTree(ctx, nil)
	require.NoError(t, err)

	base, err := repo.CreateCommit(ctx, sig, sig, "base", tree)
	require.NoError(t, err)

	head, err := repo.CreateCommit(ctx, sig, sig, "head", tree, base)
	require.NoError(t, err)

	eng := &merge.Engine{Repo: repo}

	result, err := eng.Run(ctx, head, base, merge.ModeNormal, "msg", filepath.Join(t.TempDir(), "seq"))
	require.NoError(t, err)
	require.True(t, result.UpToDate)
}

func TestRunFastForward(t *testing.T) {
	repo, err := git.OpenInMemory()
	require.NoError(t, err)

	ctx := context.Background()
	sig := testSig()

	tree, err := repo.WriteTree(ctx, nil)
	require.NoError(t, err)

	base, err := repo.CreateCommit(ctx, sig, sig, "base", tree)
	require.NoError(t, err)

	target, err := repo.CreateCommit(ctx, sig, sig, "target", tree, base)
	require.NoError(t, err)

	eng := &merge.Engine{Repo: repo}

	result, err := eng.Run(ctx, base, target, merge.ModeNormal, "msg", filepath.Join(t.TempDir(), "seq"))
	require.NoError(t, err)
	require.True(t, result.FastForward)
	require.Equal(t, target, result.NewHead)
}

// TestRunFastForwardAdvancesOpenSub covers §4.6's fast-forward path for
// a sub-repository that's currently open and cleanly fast-forwardable:
// the meta fast-forward must also fast-forward the sub's own HEAD ref
// to the newly pinned commit.
func TestRunFastForwardAdvancesOpenSub(t *testing.T) {
	ctx := context.Background()
	sig := testSig()

	sub, err := git.OpenInMemory()
	require.NoError(t, err)

	subBaseTree, err := sub.WriteTree(ctx, map[string][]byte{"widget.go": []byte("a\n")})
	require.NoError(t, err)

	subBase, err := sub.CreateCommit(ctx, sig, sig, "sub base", subBaseTree)
	require.NoError(t, err)

	subHeadTree, err := sub.WriteTree(ctx, map[string][]byte{"widget.go": []byte("a\nb\n")})
	require.NoError(t, err)

	subHead, err := sub.CreateCommit(ctx, sig, sig, "sub head", subHeadTree, subBase)
	require.NoError(t, err)

	require.NoError(t, sub.UpdateRef(ctx, "HEAD", subBase))

	repo, err := git.OpenInMemory()
	require.NoError(t, err)

	baseReg := registry.New()
	baseReg.Add(registry.Entry{
		Name: "widgets", Path: "vendor/widgets",
		Pin: registry.Pin{URL: "https://example.com/widgets.git", Commit: subBase, HasCommit: true},
	})

	baseTree, err := repo.WriteTree(ctx, map[string][]byte{registry.FileName: []byte(registry.Format(baseReg))})
	require.NoError(t, err)

	base, err := repo.CreateCommit(ctx, sig, sig, "base", baseTree)
	require.NoError(t, err)

	targetReg := registry.New()
	targetReg.Add(registry.Entry{
		Name: "widgets", Path: "vendor/widgets",
		Pin: registry.Pin{URL: "https://example.com/widgets.git", Commit: subHead, HasCommit: true},
	})

	targetTree, err := repo.WriteTree(ctx, map[string][]byte{registry.FileName: []byte(registry.Format(targetReg))})
	require.NoError(t, err)

	target, err := repo.CreateCommit(ctx, sig, sig, "target", targetTree, base)
	require.NoError(t, err)

	eng := &merge.Engine{
		Repo:       repo,
		Registries: treeRegistryReader{repo: repo},
		Resolver:   fixedResolver{name: "widgets", repo: sub},
		Policy:     merge.OpenPolicyAllowBare,
	}

	result, err := eng.Run(ctx, base, target, merge.ModeNormal, "msg", filepath.Join(t.TempDir(), "seq"))
	require.NoError(t, err)
	require.True(t, result.FastForward)
	require.Equal(t, target, result.NewHead)

	newSubHead, err := sub.ReadRef(ctx, "HEAD")
	require.NoError(t, err)
	require.Equal(t, subHead, newSubHead)
}

// TestRunFastForwardSkipsUnopenedSub covers the case where a
// sub-repository's pin changes but the resolver reports it isn't
// currently open: the meta fast-forward must still succeed, leaving
// the sub untouched until it's next opened.
func TestRunFastForwardSkipsUnopenedSub(t *testing.T) {
	ctx := context.Background()
	sig := testSig()

	subBase := mustZeroCommit(t)
	subNewPin := mustZeroCommit(t)

	repo, err := git.OpenInMemory()
	require.NoError(t, err)

	baseReg := registry.New()
	baseReg.Add(registry.Entry{
		Name: "widgets", Path: "vendor/widgets",
		Pin: registry.Pin{URL: "https://example.com/widgets.git", Commit: subBase, HasCommit: true},
	})

	baseTree, err := repo.WriteTree(ctx, map[string][]byte{registry.FileName: []byte(registry.Format(baseReg))})
	require.NoError(t, err)

	base, err := repo.CreateCommit(ctx, sig, sig, "base", baseTree)
	require.NoError(t, err)

	targetReg := registry.New()
	targetReg.Add(registry.Entry{
		Name: "widgets", Path: "vendor/widgets",
		Pin: registry.Pin{URL: "https://example.com/widgets.git", Commit: subNewPin, HasCommit: true},
	})

	targetTree, err := repo.WriteTree(ctx, map[string][]byte{registry.FileName: []byte(registry.Format(targetReg))})
	require.NoError(t, err)

	target, err := repo.CreateCommit(ctx, sig, sig, "target", targetTree, base)
	require.NoError(t, err)

	eng := &merge.Engine{
		Repo:       repo,
		Registries: treeRegistryReader{repo: repo},
		Resolver:   fixedResolver{name: "unrelated", repo: nil},
		Policy:     merge.OpenPolicyAllowBare,
	}

	result, err := eng.Run(ctx, base, target, merge.ModeNormal, "msg", filepath.Join(t.TempDir(), "seq"))
	require.NoError(t, err)
	require.True(t, result.FastForward)
	require.Equal(t, target, result.NewHead)
}

// mustZeroCommit builds a throwaway commit to use as a placeholder pin
// in tests that never actually open the sub it names.
func mustZeroCommit(t *testing.T) git.CommitID {
	t.Helper()

	repo, err := git.OpenInMemory()
	require.NoError(t, err)

	ctx := context.Background()
	sig := testSig()

	tree, err := repo.WriteTree(ctx, nil)
	require.NoError(t, err)

	id, err := repo.CreateCommit(ctx, sig, sig, "placeholder", tree)
	require.NoError(t, err)

	return id
}

func TestRunFFOnlyFailsWhenNotFastForwardable(t *testing.T) {
	repo, err := git.OpenInMemory()
	require.NoError(t, err)

	ctx := context.Background()
	sig := testSig()

	baseTree, err := repo.WriteTree(ctx, map[string][]byte{"a.go": []byte("a\n")})
	require.NoError(t, err)

	base, err := repo.CreateCommit(ctx, sig, sig, "base", baseTree)
	require.NoError(t, err)

	headTree, err := repo.WriteTree(ctx, map[string][]byte{"a.go": []byte("a\nhead\n")})
	require.NoError(t, err)

	head, err := repo.CreateCommit(ctx, sig, sig, "head", headTree, base)
	require.NoError(t, err)

	targetTree, err := repo.WriteTree(ctx, map[string][]byte{"a.go": []byte("a\ntarget\n")})
	require.NoError(t, err)

	target, err := repo.CreateCommit(ctx, sig, sig, "target", targetTree, base)
	require.NoError(t, err)

	eng := &merge.Engine{Repo: repo}

	_, err = eng.Run(ctx, head, target, merge.ModeFastForwardOnly, "msg", filepath.Join(t.TempDir(), "seq"))
	require.Error(t, err)
}

func TestRunThreeWayCleanProducesMergeCommit(t *testing.T) {
	repo, err := git.OpenInMemory()
	require.NoError(t, err)

	ctx := context.Background()
	sig := testSig()

	baseTree, err := repo.WriteTree(ctx, map[string][]byte{"a.go": []byte("a\n"), "b.go": []byte("b\n")})
	require.NoError(t, err)

	base, err := repo.CreateCommit(ctx, sig, sig, "base", baseTree)
	require.NoError(t, err)

	headTree, err := repo.WriteTree(ctx, map[string][]byte{"a.go": []byte("a\nhead\n"), "b.go": []byte("b\n")})
	require.NoError(t, err)

	head, err := repo.CreateCommit(ctx, sig, sig, "head", headTree, base)
	require.NoError(t, err)

	targetTree, err := repo.WriteTree(ctx, map[string][]byte{"a.go": []byte("a\n"), "b.go": []byte("b\ntarget\n")})
	require.NoError(t, err)

	target, err := repo.CreateCommit(ctx, sig, sig, "target", targetTree, base)
	require.NoError(t, err)

	eng := &merge.Engine{Repo: repo, Registries: registryAt{}}

	result, err := eng.Run(ctx, head, target, merge.ModeNormal, "merge it", filepath.Join(t.TempDir(), "seq"))
	require.NoError(t, err)
	require.False(t, result.Conflicted)
	require.NotEqual(t, git.CommitID{}, result.NewHead)

	newCommit, err := repo.ReadCommit(ctx, result.NewHead)
	require.NoError(t, err)
	require.ElementsMatch(t, []git.CommitID{head, target}, newCommit.Parents)
}

func TestRunThreeWayConflictWritesSequencer(t *testing.T) {
	repo, err := git.OpenInMemory()
	require.NoError(t, err)

	ctx := context.Background()
	sig := testSig()

	baseTree, err := repo.WriteTree(ctx, map[string][]byte{"a.go": []byte("a\nline\n")})
	require.NoError(t, err)

	base, err := repo.CreateCommit(ctx, sig, sig, "base", baseTree)
	require.NoError(t, err)

	headTree, err := repo.WriteTree(ctx, map[string][]byte{"a.go": []byte("a\nours\n")})
	require.NoError(t, err)

	head, err := repo.CreateCommit(ctx, sig, sig, "head", headTree, base)
	require.NoError(t, err)

	targetTree, err := repo.WriteTree(ctx, map[string][]byte{"a.go": []byte("a\ntheirs\n")})
	require.NoError(t, err)

	target, err := repo.CreateCommit(ctx, sig, sig, "target", targetTree, base)
	require.NoError(t, err)

	eng := &merge.Engine{Repo: repo, Registries: registryAt{}}

	result, err := eng.Run(ctx, head, target, merge.ModeNormal, "merge it", filepath.Join(t.TempDir(), "seq"))
	require.NoError(t, err)
	require.True(t, result.Conflicted)
}

func TestRunThreeWaySubAddedByBothSidesDifferentURLsConflicts(t *testing.T) {
	repo, err := git.OpenInMemory()
	require.NoError(t, err)

	ctx := context.Background()
	sig := testSig()

	baseTree, err := repo.WriteTree(ctx, map[string][]byte{"root.txt": []byte("base\n")})
	require.NoError(t, err)

	base, err := repo.CreateCommit(ctx, sig, sig, "base", baseTree)
	require.NoError(t, err)

	headTree, err := repo.WriteTree(ctx, map[string][]byte{"root.txt": []byte("base\nhead\n")})
	require.NoError(t, err)

	head, err := repo.CreateCommit(ctx, sig, sig, "head", headTree, base)
	require.NoError(t, err)

	targetTree, err := repo.WriteTree(ctx, map[string][]byte{
		"root.txt": []byte("base\n"), "other.txt": []byte("target\n"),
	})
	require.NoError(t, err)

	target, err := repo.CreateCommit(ctx, sig, sig, "target", targetTree, base)
	require.NoError(t, err)

	var subCommit git.CommitID
	subCommit[0] = 0xAB

	headReg := registry.New()
	headReg.Add(registry.Entry{
		Name: "widgets", Path: "vendor/widgets",
		Pin: registry.Pin{URL: "https://example.com/widgets.git", Commit: subCommit, HasCommit: true},
	})

	targetReg := registry.New()
	targetReg.Add(registry.Entry{
		Name: "widgets", Path: "vendor/widgets",
		Pin: registry.Pin{URL: "https://fork.example.com/widgets.git", Commit: subCommit, HasCommit: true},
	})

	regs := registryAt{headTree: headReg, targetTree: targetReg}

	eng := &merge.Engine{Repo: repo, Registries: regs}

	result, err := eng.Run(ctx, head, target, merge.ModeNormal, "merge it", filepath.Join(t.TempDir(), "seq"))
	require.NoError(t, err)
	require.True(t, result.Conflicted)
}

// treeRegistryReader reads the registry straight out of the tree it's
// given, exactly like commands/repo.go's real registryReader — unlike
// registryAt, it can't be decoupled from the trees MergeIndex actually
// sees, so it's what exercises the registry-serialization path for real.
type treeRegistryReader struct {
	repo git.Repository
}

func (r treeRegistryReader) ReadRegistry(ctx context.Context, tree git.CommitID) (*registry.Registry, error) {
	return registry.ReadFromTree(ctx, r.repo, tree)
}

// fixedResolver resolves one named sub-repository to a pre-opened
// git.Repository, ignoring policy (the repository is already "open").
type fixedResolver struct {
	name string
	repo git.Repository
}

func (r fixedResolver) Resolve(_ context.Context, name string, _ merge.OpenPolicy) (git.Repository, error) {
	if name != r.name {
		return nil, errs.New(errs.NotFound, "fixedResolver.Resolve", "unknown sub-repository %s", name)
	}

	return r.repo, nil
}

// TestRunThreeWaySubDivergedNonConflictingWritesResolvedRegistry covers
// spec.md §8 scenario 3: a sub-repository diverges from a shared base
// with non-conflicting content on each side, so the meta-level merge
// must both recursively merge the sub and pin the result in the
// committed registry — using a registry reader that reads the literal
// tree MergeIndex produced (not a reader decoupled from it), so this
// actually proves the registry ends up correctly re-serialized rather
// than surviving MergeIndex's own line-based text merge of .metarepo.
func TestRunThreeWaySubDivergedNonConflictingWritesResolvedRegistry(t *testing.T) {
	ctx := context.Background()
	sig := testSig()

	sub, err := git.OpenInMemory()
	require.NoError(t, err)

	subBaseTree, err := sub.WriteTree(ctx, map[string][]byte{"widget.go": []byte("a\n")})
	require.NoError(t, err)

	subBase, err := sub.CreateCommit(ctx, sig, sig, "sub base", subBaseTree)
	require.NoError(t, err)

	subOursTree, err := sub.WriteTree(ctx, map[string][]byte{"widget.go": []byte("a\n"), "ours.go": []byte("ours\n")})
	require.NoError(t, err)

	subOurs, err := sub.CreateCommit(ctx, sig, sig, "sub ours", subOursTree, subBase)
	require.NoError(t, err)

	subTheirsTree, err := sub.WriteTree(ctx, map[string][]byte{"widget.go": []byte("a\n"), "theirs.go": []byte("theirs\n")})
	require.NoError(t, err)

	subTheirs, err := sub.CreateCommit(ctx, sig, sig, "sub theirs", subTheirsTree, subBase)
	require.NoError(t, err)

	repo, err := git.OpenInMemory()
	require.NoError(t, err)

	baseReg := registry.New()
	baseReg.Add(registry.Entry{
		Name: "widgets", Path: "vendor/widgets",
		Pin: registry.Pin{URL: "https://example.com/widgets.git", Commit: subBase, HasCommit: true},
	})

	baseTree, err := repo.WriteTree(ctx, map[string][]byte{
		"root.txt":         []byte("root\n"),
		registry.FileName: []byte(registry.Format(baseReg)),
	})
	require.NoError(t, err)

	base, err := repo.CreateCommit(ctx, sig, sig, "base", baseTree)
	require.NoError(t, err)

	headReg := registry.New()
	headReg.Add(registry.Entry{
		Name: "widgets", Path: "vendor/widgets",
		Pin: registry.Pin{URL: "https://example.com/widgets.git", Commit: subOurs, HasCommit: true},
	})

	headTree, err := repo.WriteTree(ctx, map[string][]byte{
		"root.txt":         []byte("root\n"),
		registry.FileName: []byte(registry.Format(headReg)),
	})
	require.NoError(t, err)

	head, err := repo.CreateCommit(ctx, sig, sig, "head", headTree, base)
	require.NoError(t, err)

	targetReg := registry.New()
	targetReg.Add(registry.Entry{
		Name: "widgets", Path: "vendor/widgets",
		Pin: registry.Pin{URL: "https://example.com/widgets.git", Commit: subTheirs, HasCommit: true},
	})

	targetTree, err := repo.WriteTree(ctx, map[string][]byte{
		"root.txt":         []byte("root\n"),
		registry.FileName: []byte(registry.Format(targetReg)),
	})
	require.NoError(t, err)

	target, err := repo.CreateCommit(ctx, sig, sig, "target", targetTree, base)
	require.NoError(t, err)

	eng := &merge.Engine{
		Repo:       repo,
		Registries: treeRegistryReader{repo: repo},
		Resolver:   fixedResolver{name: "widgets", repo: sub},
		Policy:     merge.OpenPolicyAllowBare,
	}

	result, err := eng.Run(ctx, head, target, merge.ModeNormal, "merge it", filepath.Join(t.TempDir(), "seq"))
	require.NoError(t, err)
	require.False(t, result.Conflicted)
	require.Len(t, result.Subs, 1)
	require.Equal(t, merge.SubMerged, result.Subs[0].Outcome)

	resultTree, err := repo.Tree(ctx, result.NewHead)
	require.NoError(t, err)

	finalReg, err := registry.ReadFromTree(ctx, repo, resultTree)
	require.NoError(t, err)

	entry, ok := finalReg.Get("widgets")
	require.True(t, ok)
	require.Equal(t, result.Subs[0].ResultPin, entry.Pin.Commit)
	require.NotEqual(t, subOurs, entry.Pin.Commit)
	require.NotEqual(t, subTheirs, entry.Pin.Commit)
}

func TestRunThreeWayNoMergeBase(t *testing.T) {
	repo, err := git.OpenInMemory()
	require.NoError(t, err)

	ctx := context.Background()
	sig := testSig()

	treeA, err := repo.WriteTree(ctx, map[string][]byte{"a.go": []byte("a\n")})
	require.NoError(t, err)

	head, err := repo.CreateCommit(ctx, sig, sig, "head", treeA)
	require.NoError(t, err)

	treeB, err := repo.WriteTree(ctx, map[string][]byte{"b.go": []byte("b\n")})
	require.NoError(t, err)

	target, err := repo.CreateCommit(ctx, sig, sig, "target", treeB)
	require.NoError(t, err)

	eng := &merge.Engine{Repo: repo, Registries: registryAt{}}

	_, err = eng.Run(ctx, head, target, merge.ModeNormal, "merge it", filepath.Join(t.TempDir(), "seq"))
	require.Error(t, err)
}
