package git

import (
	"context"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"

	"github.com/mjpitz/metarepo/errs"
)

// ReadBlob returns a blob's content directly by id, reusing the same
// blob-reading path merge3Blob uses internally for three-way text
// merging, for callers that already hold a blob id (a ConflictEntry's
// Ours/Theirs) rather than a tree+path pair.
func (g *GoGitRepository) ReadBlob(ctx context.Context, id CommitID) ([]byte, error) {
	return blobContents(g.repo.Storer, id.Hash())
}

// WriteTree writes a set of path -> file-content pairs as a new tree,
// starting from an empty tree. It is a convenience used by tests and
// by stash's shadow-commit builder, both of which need to materialize
// a tree from scratch rather than from an existing working directory.
func (g *GoGitRepository) WriteTree(ctx context.Context, files map[string][]byte) (CommitID, error) {
	var tree CommitID // zero value: empty tree, built up incrementally

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		blobID, err := g.writeBlob(files[name])
		if err != nil {
			return CommitID{}, errs.Wrap(errs.IO, "git.WriteTree", err)
		}

		var base *object.Tree
		if !tree.IsZero() {
			base, err = g.treeObject(tree)
			if err != nil {
				return CommitID{}, err
			}
		}

		tree, err = insertBlobIntoTree(g.repo.Storer, base, name, blobID)
		if err != nil {
			return CommitID{}, errs.Wrap(errs.IO, "git.WriteTree", err)
		}
	}

	if len(files) == 0 {
		return encodeTree(g.repo.Storer, map[string]object.TreeEntry{})
	}

	return tree, nil
}

// WriteBlobAtPath grafts a single path's content into an existing tree,
// leaving every other entry untouched. merge/merge.go uses this to
// write the re-serialized registry (post sub-merge pin resolution)
// back into the tree MergeIndex produced, rather than committing that
// tree's registry blob as-is.
func (g *GoGitRepository) WriteBlobAtPath(ctx context.Context, tree CommitID, path string, content []byte) (CommitID, error) {
	blobID, err := g.writeBlob(content)
	if err != nil {
		return CommitID{}, errs.Wrap(errs.IO, "git.WriteBlobAtPath", err)
	}

	var base *object.Tree

	if !tree.IsZero() {
		base, err = g.treeObject(tree)
		if err != nil {
			return CommitID{}, err
		}
	}

	newTree, err := insertBlobIntoTree(g.repo.Storer, base, path, blobID)
	if err != nil {
		return CommitID{}, errs.Wrap(errs.IO, "git.WriteBlobAtPath", err)
	}

	return newTree, nil
}

// insertBlobIntoTree returns the tree id produced by inserting blobID
// at filePath into base (nil means "start from an empty tree"),
// creating any intermediate directory trees needed. It is the building
// block NoteWrite, WriteTree and WriteBlobAtPath (merge's registry
// rewrite) use to avoid shelling out to a working directory for what
// is otherwise a pure object-graph edit.
func insertBlobIntoTree(
	s storer.EncodedObjectStorer, base *object.Tree, filePath string, blobID CommitID,
) (CommitID, error) {
	entries := map[string]object.TreeEntry{}

	if base != nil {
		for _, e := range base.Entries {
			entries[e.Name] = e
		}
	}

	segments := strings.Split(filePath, "/")
	head := segments[0]

	if len(segments) == 1 {
		entries[head] = object.TreeEntry{
			Name: head,
			Mode: filemode.Regular,
			Hash: blobID.Hash(),
		}

		return encodeTree(s, entries)
	}

	var childBase *object.Tree
	if existing, ok := entries[head]; ok && existing.Mode == filemode.Dir {
		t, err := object.GetTree(s, existing.Hash)
		if err == nil {
			childBase = t
		}
	}

	childID, err := insertBlobIntoTree(s, childBase, strings.Join(segments[1:], "/"), blobID)
	if err != nil {
		return CommitID{}, err
	}

	entries[head] = object.TreeEntry{
		Name: head,
		Mode: filemode.Dir,
		Hash: childID.Hash(),
	}

	return encodeTree(s, entries)
}

// encodeTree writes a tree object from a name->entry map, in the
// sorted order go-git (and git itself) requires.
func encodeTree(s storer.EncodedObjectStorer, entries map[string]object.TreeEntry) (CommitID, error) {
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}

	sort.Strings(names)

	tree := &object.Tree{}
	for _, name := range names {
		tree.Entries = append(tree.Entries, entries[name])
	}

	obj := s.NewEncodedObject()
	if err := tree.Encode(obj); err != nil {
		return CommitID{}, err
	}

	h, err := s.SetEncodedObject(obj)
	if err != nil {
		return CommitID{}, err
	}

	return NewCommitID(h), nil
}
