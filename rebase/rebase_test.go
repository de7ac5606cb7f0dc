package rebase_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mjpitz/metarepo/git"
	"github.com/mjpitz/metarepo/rebase"
	"github.com/mjpitz/metarepo/sequencer"
)

func testSig() git.Signature {
	return git.Signature{
		Name: "Test User", Email: "test@example.com",
		When: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
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

	source, err := repo.CreateCommit(ctx, sig, sig, "source", tree, base)
	require.NoError(t, err)

	eng := &rebase.Engine{Repo: repo}

	result, err := eng.Run(ctx, source, base, nil, filepath.Join(t.TempDir(), "sequencer"))
	require.NoError(t, err)
	require.True(t, result.FastForward)
	require.Equal(t, source, result.NewHead)
}

func TestRunReplaysCleanCommit(t *testing.T) {
	repo, err := git.OpenInMemory()
	require.NoError(t, err)

	ctx := context.Background()
	sig := testSig()

	baseTree, err := repo.WriteTree(ctx, map[string][]byte{"a.go": []byte("package a\n")})
	require.NoError(t, err)

	base, err := repo.CreateCommit(ctx, sig, sig, "base", baseTree)
	require.NoError(t, err)

	// target advances on an unrelated file.
	targetTree, err := repo.WriteTree(ctx, map[string][]byte{
		"a.go": []byte("package a\n"), "b.go": []byte("package b\n"),
	})
	require.NoError(t, err)

	target, err := repo.CreateCommit(ctx, sig, sig, "target", targetTree, base)
	require.NoError(t, err)

	// source commit changes a.go.
	sourceTree, err := repo.WriteTree(ctx, map[string][]byte{"a.go": []byte("package a\n\nfunc F() {}\n")})
	require.NoError(t, err)

	sourceCommitID, err := repo.CreateCommit(ctx, sig, sig, "add F", sourceTree, base)
	require.NoError(t, err)

	sourceCommit, err := repo.ReadCommit(ctx, sourceCommitID)
	require.NoError(t, err)

	eng := &rebase.Engine{Repo: repo}

	result, err := eng.Run(ctx, sourceCommitID, target, []git.Commit{*sourceCommit}, filepath.Join(t.TempDir(), "sequencer"))
	require.NoError(t, err)
	require.False(t, result.Conflicted)
	require.Len(t, result.CommitsSoFar, 1)

	newCommit, err := repo.ReadCommit(ctx, result.NewHead)
	require.NoError(t, err)
	require.Equal(t, "add F", newCommit.Message)

	content, err := repo.ReadFile(ctx, newCommit.Tree, "a.go")
	require.NoError(t, err)
	require.Equal(t, "package a\n\nfunc F() {}\n", string(content))

	content, err = repo.ReadFile(ctx, newCommit.Tree, "b.go")
	require.NoError(t, err)
	require.Equal(t, "package b\n", string(content))
}

func TestRunHaltsOnConflictAndWritesSequencer(t *testing.T) {
	repo, err := git.OpenInMemory()
	require.NoError(t, err)

	ctx := context.Background()
	sig := testSig()

	baseTree, err := repo.WriteTree(ctx, map[string][]byte{"a.go": []byte("package a\n\nline\n")})
	require.NoError(t, err)

	base, err := repo.CreateCommit(ctx, sig, sig, "base", baseTree)
	require.NoError(t, err)

	targetTree, err := repo.WriteTree(ctx, map[string][]byte{"a.go": []byte("package a\n\ntheirs\n")})
	require.NoError(t, err)

	target, err := repo.CreateCommit(ctx, sig, sig, "target", targetTree, base)
	require.NoError(t, err)

	sourceTree, err := repo.WriteTree(ctx, map[string][]byte{"a.go": []byte("package a\n\nours\n")})
	require.NoError(t, err)

	sourceCommitID, err := repo.CreateCommit(ctx, sig, sig, "ours change", sourceTree, base)
	require.NoError(t, err)

	sourceCommit, err := repo.ReadCommit(ctx, sourceCommitID)
	require.NoError(t, err)

	eng := &rebase.Engine{Repo: repo}
	seqPath := filepath.Join(t.TempDir(), "sequencer")

	result, err := eng.Run(ctx, sourceCommitID, target, []git.Commit{*sourceCommit}, seqPath)
	require.NoError(t, err)
	require.True(t, result.Conflicted)
	require.Equal(t, sourceCommitID, result.ConflictedCommit)

	st, ok, err := sequencer.Load(seqPath)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, sequencer.KindRebase, st.Kind)
}
