package git_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mjpitz/metarepo/errs"
	"github.com/mjpitz/metarepo/git"
)

// testSig is a fixed signature so commit timestamps don't make test
// fixtures non-deterministic across runs.
func testSig() git.Signature {
	return git.Signature{
		Name: "Test User", Email: "test@example.com",
		When: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// newCommit builds an in-memory repository containing a single commit
// whose tree holds files, returning the repo and the commit id.
func newCommit(
	t *testing.T, files map[string][]byte, parents ...git.CommitID,
) (*git.GoGitRepository, git.CommitID) {
	t.Helper()

	repo, err := git.OpenInMemory()
	require.NoError(t, err)

	ctx := context.Background()

	tree, err := repo.WriteTree(ctx, files)
	require.NoError(t, err)

	sig := testSig()
	id, err := repo.CreateCommit(ctx, sig, sig, "test commit", tree, parents...)
	require.NoError(t, err)

	return repo, id
}

func TestResolveCommitishAndReadFile(t *testing.T) {
	repo, id := newCommit(t, map[string][]byte{"README.md": []byte("hello\n")})

	ctx := context.Background()

	resolved, err := repo.ResolveCommitish(ctx, id.String())
	require.NoError(t, err)
	require.Equal(t, id, resolved)

	tree, err := repo.Tree(ctx, id)
	require.NoError(t, err)

	content, err := repo.ReadFile(ctx, tree, "README.md")
	require.NoError(t, err)
	require.Equal(t, "hello\n", string(content))
}

func TestResolveCommitishNotFound(t *testing.T) {
	repo, _ := newCommit(t, map[string][]byte{"README.md": []byte("hello\n")})

	_, err := repo.ResolveCommitish(
		context.Background(), "deadbeefdeadbeefdeadbeefdeadbeefdeadbeef",
	)
	require.Error(t, err)
	require.Equal(t, errs.NotFound, errs.KindOf(err))
}

func TestDiffTreesNestedPath(t *testing.T) {
	repo, err := git.OpenInMemory()
	require.NoError(t, err)

	ctx := context.Background()
	tree1, err := repo.WriteTree(ctx, map[string][]byte{"sub/a.go": []byte("package a\n")})
	require.NoError(t, err)

	tree2, err := repo.WriteTree(ctx, map[string][]byte{
		"sub/a.go": []byte("package a\n\nfunc F() {}\n"),
	})
	require.NoError(t, err)

	deltas, err := repo.DiffTrees(ctx, tree1, tree2)
	require.NoError(t, err)
	require.Len(t, deltas, 1)
	require.Equal(t, "sub/a.go", deltas[0].NewPath)
	require.Equal(t, git.DeltaModified, deltas[0].Kind)
}

func TestDescendantOf(t *testing.T) {
	repo, err := git.OpenInMemory()
	require.NoError(t, err)

	ctx := context.Background()
	sig := testSig()

	emptyTree, err := repo.WriteTree(ctx, nil)
	require.NoError(t, err)

	first, err := repo.CreateCommit(ctx, sig, sig, "first", emptyTree)
	require.NoError(t, err)

	second, err := repo.CreateCommit(ctx, sig, sig, "second", emptyTree, first)
	require.NoError(t, err)

	isDescendant, err := repo.DescendantOf(ctx, second, first)
	require.NoError(t, err)
	require.True(t, isDescendant)

	isDescendant, err = repo.DescendantOf(ctx, first, second)
	require.NoError(t, err)
	require.False(t, isDescendant)
}

func TestMergeBase(t *testing.T) {
	repo, err := git.OpenInMemory()
	require.NoError(t, err)

	ctx := context.Background()
	sig := testSig()

	emptyTree, err := repo.WriteTree(ctx, nil)
	require.NoError(t, err)

	base, err := repo.CreateCommit(ctx, sig, sig, "base", emptyTree)
	require.NoError(t, err)

	ours, err := repo.CreateCommit(ctx, sig, sig, "ours", emptyTree, base)
	require.NoError(t, err)

	theirs, err := repo.CreateCommit(ctx, sig, sig, "theirs", emptyTree, base)
	require.NoError(t, err)

	mergeBase, found, err := repo.MergeBase(ctx, ours, theirs)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, base, mergeBase)
}

func TestMergeIndexCleanBothSidesChangeDifferentFiles(t *testing.T) {
	repo, err := git.OpenInMemory()
	require.NoError(t, err)

	ctx := context.Background()

	base, err := repo.WriteTree(ctx, map[string][]byte{
		"a.go": []byte("package a\n"),
		"b.go": []byte("package b\n"),
	})
	require.NoError(t, err)

	ours, err := repo.WriteTree(ctx, map[string][]byte{
		"a.go": []byte("package a\n\n// ours\n"),
		"b.go": []byte("package b\n"),
	})
	require.NoError(t, err)

	theirs, err := repo.WriteTree(ctx, map[string][]byte{
		"a.go": []byte("package a\n"),
		"b.go": []byte("package b\n\n// theirs\n"),
	})
	require.NoError(t, err)

	merged, err := repo.MergeIndex(ctx, base, ours, theirs)
	require.NoError(t, err)
	require.Empty(t, merged.Conflicts)

	content, err := repo.ReadFile(ctx, merged.Tree, "a.go")
	require.NoError(t, err)
	require.Equal(t, "package a\n\n// ours\n", string(content))

	content, err = repo.ReadFile(ctx, merged.Tree, "b.go")
	require.NoError(t, err)
	require.Equal(t, "package b\n\n// theirs\n", string(content))
}

func TestMergeIndexConflict(t *testing.T) {
	repo, err := git.OpenInMemory()
	require.NoError(t, err)

	ctx := context.Background()

	base, err := repo.WriteTree(ctx, map[string][]byte{"a.go": []byte("package a\n\nline\n")})
	require.NoError(t, err)

	ours, err := repo.WriteTree(ctx, map[string][]byte{"a.go": []byte("package a\n\nours\n")})
	require.NoError(t, err)

	theirs, err := repo.WriteTree(ctx, map[string][]byte{"a.go": []byte("package a\n\ntheirs\n")})
	require.NoError(t, err)

	merged, err := repo.MergeIndex(ctx, base, ours, theirs)
	require.NoError(t, err)
	require.Len(t, merged.Conflicts, 1)
	require.Equal(t, "a.go", merged.Conflicts[0].Path)
}

func TestNoteReadWrite(t *testing.T) {
	repo, id := newCommit(t, map[string][]byte{"README.md": []byte("hello\n")})

	ctx := context.Background()
	const notesRef = "refs/notes/metarepo/example"

	err := repo.NoteWrite(ctx, notesRef, id, "first note")
	require.NoError(t, err)

	got, err := repo.NoteRead(ctx, notesRef, id)
	require.NoError(t, err)
	require.Equal(t, "first note", got)
}

func TestNoteReadMissing(t *testing.T) {
	repo, id := newCommit(t, map[string][]byte{"README.md": []byte("hello\n")})

	_, err := repo.NoteRead(context.Background(), "refs/notes/metarepo/missing", id)
	require.Error(t, err)
	require.Equal(t, errs.NotFound, errs.KindOf(err))
}

func TestUpdateAndReadRef(t *testing.T) {
	repo, id := newCommit(t, map[string][]byte{"a.go": []byte("package a\n")})

	ctx := context.Background()

	err := repo.UpdateRef(ctx, "refs/heads/main", id)
	require.NoError(t, err)

	got, err := repo.ReadRef(ctx, "refs/heads/main")
	require.NoError(t, err)
	require.Equal(t, id, got)
}
