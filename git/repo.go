package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/go-git/go-git/v5/utils/merkletrie"

	"github.com/mjpitz/metarepo/errs"
)

// GoGitRepository implements Repository atop go-git/go-git/v5. It is
// the concrete type every CLI-level repository handle resolves to;
// higher packages depend on the Repository interface so tests can
// substitute in-memory repositories built the same way.
type GoGitRepository struct {
	repo *gogit.Repository
	root string
}

// Open opens an existing on-disk repository rooted at dir.
func Open(dir string) (*GoGitRepository, error) {
	r, err := gogit.PlainOpen(dir)
	if err != nil {
		return nil, errs.Wrap(errs.IO, "git.Open", err)
	}

	return &GoGitRepository{repo: r, root: dir}, nil
}

// Init creates a new repository rooted at dir.
func Init(dir string, bare bool) (*GoGitRepository, error) {
	r, err := gogit.PlainInit(dir, bare)
	if err != nil {
		return nil, errs.Wrap(errs.IO, "git.Init", err)
	}

	return &GoGitRepository{repo: r, root: dir}, nil
}

// OpenInMemory creates an in-memory repository, used by unit tests and
// by ephemeral sub-repository merges that never need a working
// directory.
func OpenInMemory() (*GoGitRepository, error) {
	r, err := gogit.Init(memory.NewStorage(), nil)
	if err != nil {
		return nil, errs.Wrap(errs.IO, "git.OpenInMemory", err)
	}

	return &GoGitRepository{repo: r}, nil
}

var _ Repository = (*GoGitRepository)(nil)

// Root returns the repository's working directory root.
func (g *GoGitRepository) Root() string { return g.root }

func (g *GoGitRepository) ResolveCommitish(
	_ context.Context, ref string,
) (CommitID, error) {
	h, err := g.repo.ResolveRevision(plumbing.Revision(ref))
	if err != nil {
		return CommitID{}, errs.Wrap(errs.NotFound, "git.ResolveCommitish", err).WithPath(ref)
	}

	return NewCommitID(*h), nil
}

func (g *GoGitRepository) ReadCommit(
	_ context.Context, id CommitID,
) (*Commit, error) {
	c, err := g.repo.CommitObject(id.Hash())
	if err != nil {
		return nil, errs.Wrap(errs.NotFound, "git.ReadCommit", err).WithPath(id.String())
	}

	parents := make([]CommitID, 0, c.NumParents())
	for _, p := range c.ParentHashes {
		parents = append(parents, NewCommitID(p))
	}

	return &Commit{
		ID:      id,
		Tree:    NewCommitID(c.TreeHash),
		Parents: parents,
		Author: Signature{
			Name:  c.Author.Name,
			Email: c.Author.Email,
			When:  c.Author.When,
		},
		Committer: Signature{
			Name:  c.Committer.Name,
			Email: c.Committer.Email,
			When:  c.Committer.When,
		},
		Message: c.Message,
	}, nil
}

func (g *GoGitRepository) Tree(
	ctx context.Context, commit CommitID,
) (CommitID, error) {
	c, err := g.ReadCommit(ctx, commit)
	if err != nil {
		return CommitID{}, err
	}

	return c.Tree, nil
}

func (g *GoGitRepository) treeObject(id CommitID) (*object.Tree, error) {
	t, err := g.repo.TreeObject(id.Hash())
	if err != nil {
		return nil, errs.Wrap(errs.NotFound, "git.treeObject", err).WithPath(id.String())
	}

	return t, nil
}

func (g *GoGitRepository) ReadFile(
	_ context.Context, tree CommitID, filePath string,
) ([]byte, error) {
	t, err := g.treeObject(tree)
	if err != nil {
		return nil, err
	}

	f, err := t.File(filePath)
	if err != nil {
		return nil, errs.Wrap(errs.NotFound, "git.ReadFile", err).WithPath(filePath)
	}

	contents, err := f.Contents()
	if err != nil {
		return nil, errs.Wrap(errs.IO, "git.ReadFile", err).WithPath(filePath)
	}

	return []byte(contents), nil
}

// DiffTrees walks two trees and reports path-level deltas. A zero
// CommitID is treated as the empty tree.
func (g *GoGitRepository) DiffTrees(
	_ context.Context, a, b CommitID,
) ([]TreeDelta, error) {
	var ta, tb *object.Tree

	if !a.IsZero() {
		t, err := g.treeObject(a)
		if err != nil {
			return nil, err
		}
		ta = t
	}

	if !b.IsZero() {
		t, err := g.treeObject(b)
		if err != nil {
			return nil, err
		}
		tb = t
	}

	changes, err := object.DiffTree(ta, tb)
	if err != nil {
		return nil, errs.Wrap(errs.IO, "git.DiffTrees", err)
	}

	deltas := make([]TreeDelta, 0, len(changes))

	for _, c := range changes {
		action, err := c.Action()
		if err != nil {
			return nil, errs.Wrap(errs.IO, "git.DiffTrees", err)
		}

		d := TreeDelta{OldPath: c.From.Name, NewPath: c.To.Name}

		switch action {
		case merkletrie.Insert:
			d.Kind = DeltaAdded
		case merkletrie.Delete:
			d.Kind = DeltaRemoved
		default:
			d.Kind = DeltaModified
		}

		if d.OldPath != "" && d.NewPath != "" && d.OldPath != d.NewPath {
			d.Kind = DeltaRenamed
		}

		deltas = append(deltas, d)
	}

	return deltas, nil
}

func (g *GoGitRepository) DescendantOf(
	_ context.Context, a, b CommitID,
) (bool, error) {
	if a == b {
		return true, nil
	}

	ca, err := g.repo.CommitObject(a.Hash())
	if err != nil {
		return false, errs.Wrap(errs.NotFound, "git.DescendantOf", err).WithPath(a.String())
	}

	cb, err := g.repo.CommitObject(b.Hash())
	if err != nil {
		return false, errs.Wrap(errs.NotFound, "git.DescendantOf", err).WithPath(b.String())
	}

	isAncestor, err := cb.IsAncestor(ca)
	if err != nil {
		return false, errs.Wrap(errs.IO, "git.DescendantOf", err)
	}

	return isAncestor, nil
}

func (g *GoGitRepository) MergeBase(
	_ context.Context, a, b CommitID,
) (CommitID, bool, error) {
	ca, err := g.repo.CommitObject(a.Hash())
	if err != nil {
		return CommitID{}, false, errs.Wrap(errs.NotFound, "git.MergeBase", err).WithPath(a.String())
	}

	cb, err := g.repo.CommitObject(b.Hash())
	if err != nil {
		return CommitID{}, false, errs.Wrap(errs.NotFound, "git.MergeBase", err).WithPath(b.String())
	}

	bases, err := ca.MergeBase(cb)
	if err != nil {
		return CommitID{}, false, errs.Wrap(errs.IO, "git.MergeBase", err)
	}

	if len(bases) == 0 {
		return CommitID{}, false, nil
	}

	// Multiple merge-base candidates: take the first one the storage
	// engine's own ordering yields, per spec.md §4.6's tie-breaking
	// rule.
	return NewCommitID(bases[0].Hash), true, nil
}

func (g *GoGitRepository) CreateCommit(
	_ context.Context,
	author, committer Signature,
	message string,
	tree CommitID,
	parents ...CommitID,
) (CommitID, error) {
	parentHashes := make([]plumbing.Hash, len(parents))
	for i, p := range parents {
		parentHashes[i] = p.Hash()
	}

	commit := &object.Commit{
		Author: object.Signature{
			Name: author.Name, Email: author.Email, When: author.When,
		},
		Committer: object.Signature{
			Name: committer.Name, Email: committer.Email, When: committer.When,
		},
		Message:      message,
		TreeHash:     tree.Hash(),
		ParentHashes: parentHashes,
	}

	obj := g.repo.Storer.NewEncodedObject()
	if err := commit.Encode(obj); err != nil {
		return CommitID{}, errs.Wrap(errs.IO, "git.CreateCommit", err)
	}

	h, err := g.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return CommitID{}, errs.Wrap(errs.IO, "git.CreateCommit", err)
	}

	return NewCommitID(h), nil
}

func (g *GoGitRepository) ReadRef(
	_ context.Context, name string,
) (CommitID, error) {
	ref, err := g.repo.Reference(plumbing.ReferenceName(name), true)
	if err != nil {
		return CommitID{}, errs.Wrap(errs.NotFound, "git.ReadRef", err).WithPath(name)
	}

	return NewCommitID(ref.Hash()), nil
}

func (g *GoGitRepository) UpdateRef(
	_ context.Context, name string, id CommitID,
) error {
	ref := plumbing.NewHashReference(plumbing.ReferenceName(name), id.Hash())

	if err := g.repo.Storer.SetReference(ref); err != nil {
		return errs.Wrap(errs.IO, "git.UpdateRef", err).WithPath(name)
	}

	return nil
}

// shardedNotePath shard-partitions by the first two hex bytes of the commit
// id per spec.md §6.4, except for the two reserved "stitched"
// namespaces which are not sharded (one note per commit, named by the
// commit's full hex id).
func shardedNotePath(notesRef string, commit CommitID) string {
	if notesRef == "refs/notes/stitched/reference" ||
		notesRef == "refs/notes/stitched/local-reference" {
		return commit.String()
	}

	h := commit.String()

	return path.Join(h[:2], h[2:])
}

// notesTree returns the tree the notes ref currently points at (either
// directly, or via a commit), or nil if the ref does not exist yet.
func (g *GoGitRepository) notesTree(notesRef string) (*object.Tree, error) {
	ref, err := g.repo.Reference(plumbing.ReferenceName(notesRef), true)
	if err != nil {
		return nil, nil //nolint:nilnil // absent ref means "empty notes tree", not an error
	}

	c, err := g.repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, errs.Wrap(errs.IO, "git.notesTree", err)
	}

	t, err := c.Tree()
	if err != nil {
		return nil, errs.Wrap(errs.IO, "git.notesTree", err)
	}

	return t, nil
}

func (g *GoGitRepository) NoteRead(
	_ context.Context, notesRef string, commit CommitID,
) (string, error) {
	tree, err := g.notesTree(notesRef)
	if err != nil {
		return "", err
	}

	if tree == nil {
		return "", errs.New(errs.NotFound, "git.NoteRead", "no notes ref %s", notesRef)
	}

	notePath := shardedNotePath(notesRef, commit)

	f, err := tree.File(notePath)
	if err != nil {
		return "", errs.Wrap(errs.NotFound, "git.NoteRead", err).WithPath(notePath)
	}

	contents, err := f.Contents()
	if err != nil {
		return "", errs.Wrap(errs.IO, "git.NoteRead", err)
	}

	return contents, nil
}

func (g *GoGitRepository) NoteWrite(
	ctx context.Context, notesRef string, commit CommitID, message string,
) error {
	notePathStr := shardedNotePath(notesRef, commit)

	blobID, err := g.writeBlob([]byte(message))
	if err != nil {
		return errs.Wrap(errs.IO, "git.NoteWrite", err)
	}

	baseTree, err := g.notesTree(notesRef)
	if err != nil {
		return err
	}

	newTree, err := insertBlobIntoTree(g.repo.Storer, baseTree, notePathStr, blobID)
	if err != nil {
		return errs.Wrap(errs.IO, "git.NoteWrite", err)
	}

	sig := Signature{Name: "metarepo", Email: "metarepo@localhost", When: time.Now()}

	var parents []CommitID
	if ref, err := g.repo.Reference(plumbing.ReferenceName(notesRef), true); err == nil {
		parents = []CommitID{NewCommitID(ref.Hash())}
	}

	commitID, err := g.CreateCommit(ctx, sig, sig, "note update", newTree, parents...)
	if err != nil {
		return err
	}

	return g.UpdateRef(ctx, notesRef, commitID)
}

func (g *GoGitRepository) writeBlob(content []byte) (CommitID, error) {
	obj := g.repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)

	w, err := obj.Writer()
	if err != nil {
		return CommitID{}, err
	}

	if _, err := w.Write(content); err != nil {
		_ = w.Close()

		return CommitID{}, err
	}

	if err := w.Close(); err != nil {
		return CommitID{}, err
	}

	h, err := g.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return CommitID{}, err
	}

	return NewCommitID(h), nil
}

func (g *GoGitRepository) Fetch(
	ctx context.Context, url string, commit CommitID,
) error {
	// Demand-driven: skip the network round-trip if the commit is
	// already present locally (resolve-commitish first, fetch only on
	// miss, per SPEC_FULL.md's fetch.Fetcher contract).
	if _, err := g.repo.CommitObject(commit.Hash()); err == nil {
		return nil
	}

	remote, err := g.repo.CreateRemoteAnonymous(&config.RemoteConfig{
		Name: "metarepo-fetch",
		URLs: []string{url},
	})
	if err != nil {
		return errs.Wrap(errs.FetchFailed, "git.Fetch", err).WithPath(url)
	}

	refSpec := config.RefSpec(fmt.Sprintf(
		"+%s:refs/metarepo-fetch/%s", commit.String(), commit.Short(),
	))

	err = remote.FetchContext(ctx, &gogit.FetchOptions{
		RefSpecs: []config.RefSpec{refSpec},
		Tags:     gogit.NoTags,
	})
	if err != nil && err != gogit.NoErrAlreadyUpToDate {
		return errs.Wrap(errs.FetchFailed, "git.Fetch", err).WithPath(url)
	}

	return nil
}

func (g *GoGitRepository) Push(
	ctx context.Context, url, ref string, commit CommitID, force ForcePolicy, includeTags bool,
) error {
	remote, err := g.repo.CreateRemoteAnonymous(&config.RemoteConfig{
		Name: "metarepo-push",
		URLs: []string{url},
	})
	if err != nil {
		return errs.Wrap(errs.FetchFailed, "git.Push", err).WithPath(url)
	}

	specStr := fmt.Sprintf("%s:%s", commit.String(), ref)
	if force == ForceAlways {
		specStr = "+" + specStr
	}

	tagMode := gogit.NoTags
	if includeTags {
		tagMode = gogit.AllTags
	}

	err = remote.PushContext(ctx, &gogit.PushOptions{
		RefSpecs: []config.RefSpec{config.RefSpec(specStr)},
		TagMode:  tagMode,
	})
	if err != nil && err != gogit.NoErrAlreadyUpToDate {
		return errs.Wrap(errs.FetchFailed, "git.Push", err).WithPath(url)
	}

	return nil
}

func (g *GoGitRepository) WorkdirStatus(
	_ context.Context, _ CommitID,
) (*WorktreeStatus, error) {
	wt, err := g.repo.Worktree()
	if err != nil {
		if errors.Is(err, gogit.ErrIsBareRepository) {
			return &WorktreeStatus{
				Staged:  make(map[string]DeltaKind),
				Workdir: make(map[string]DeltaKind),
			}, nil
		}

		return nil, errs.Wrap(errs.IO, "git.WorkdirStatus", err)
	}

	raw, err := wt.Status()
	if err != nil {
		return nil, errs.Wrap(errs.IO, "git.WorkdirStatus", err)
	}

	st := &WorktreeStatus{
		Staged:  make(map[string]DeltaKind),
		Workdir: make(map[string]DeltaKind),
	}

	for filePath, fs := range raw {
		if fs.Staging != gogit.Unmodified && fs.Staging != gogit.Untracked {
			st.Staged[filePath] = convertStatusCode(fs.Staging)
		}

		switch fs.Worktree {
		case gogit.Untracked:
			st.Untracked = append(st.Untracked, filePath)
		case gogit.Unmodified:
		default:
			st.Workdir[filePath] = convertStatusCode(fs.Worktree)
		}

		if fs.Staging == gogit.UpdatedButUnmerged || fs.Worktree == gogit.UpdatedButUnmerged {
			st.Conflicted = append(st.Conflicted, filePath)
		}
	}

	return st, nil
}

func convertStatusCode(code gogit.StatusCode) DeltaKind {
	switch code {
	case gogit.Added:
		return DeltaAdded
	case gogit.Deleted:
		return DeltaRemoved
	case gogit.Renamed:
		return DeltaRenamed
	default:
		return DeltaModified
	}
}

// blobWriter implements BlobWriter by buffering writes and committing
// the blob object on Close.
type blobWriter struct {
	buf    bytes.Buffer
	repo   *GoGitRepository
	closed bool
}

func (b *blobWriter) Write(p []byte) (int, error) {
	if b.closed {
		return 0, fmt.Errorf("git: write after close")
	}

	return b.buf.Write(p)
}

func (b *blobWriter) Close() (CommitID, error) {
	b.closed = true

	return b.repo.writeBlob(b.buf.Bytes())
}

func (g *GoGitRepository) BlobWriter(_ context.Context) (BlobWriter, error) {
	return &blobWriter{repo: g}, nil
}

var _ io.Writer = (*blobWriter)(nil)
