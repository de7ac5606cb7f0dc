// Package git provides the repository primitive surface (C1) that the
// rest of the core is built on: resolving commit-ish strings, reading
// and diffing trees, three-way index merges, ancestry queries, commit
// and note creation, and fetch/push. It is backed by
// github.com/go-git/go-git/v5 so the core never shells out to a git
// binary.
package git

import (
	"context"
	"io"
)

// DeltaKind classifies a single path difference between two trees.
type DeltaKind int

const (
	DeltaAdded DeltaKind = iota
	DeltaModified
	DeltaRemoved
	DeltaRenamed
	DeltaTypeChanged
)

// String renders the delta kind for logging and status rendering.
func (k DeltaKind) String() string {
	switch k {
	case DeltaAdded:
		return "added"
	case DeltaModified:
		return "modified"
	case DeltaRemoved:
		return "removed"
	case DeltaRenamed:
		return "renamed"
	case DeltaTypeChanged:
		return "type-changed"
	default:
		return "unknown"
	}
}

// TreeDelta is one entry returned by DiffTrees.
type TreeDelta struct {
	OldPath string
	NewPath string
	Kind    DeltaKind
}

// ConflictEntry describes one path left unresolved by MergeIndex.
type ConflictEntry struct {
	Path string

	// Base, Ours, Theirs are the blob ids on each side; a zero CommitID
	// means the path was absent on that side.
	Base, Ours, Theirs CommitID

	// Binary is true when the conflict could not be expressed as a
	// line-based three-way merge (binary blob content).
	Binary bool
}

// MergedIndex is the result of a three-way index merge: the resulting
// tree id for all non-conflicting entries plus the conflict list.
// Conflicting paths are omitted from Tree and carried in Conflicts
// only; callers must resolve them before creating a commit.
type MergedIndex struct {
	Tree      CommitID
	Conflicts []ConflictEntry
}

// ForcePolicy controls how Push treats a non-fast-forward remote ref.
type ForcePolicy int

const (
	ForceNever ForcePolicy = iota
	ForceAlways
)

// Repository is the capability surface every higher-level component
// (C2-C10) is built against. A single value corresponds to one
// on-disk repository (the meta-repository or one opened
// sub-repository).
type Repository interface {
	// ResolveCommitish resolves a ref name, short hash, or full hash to
	// a commit id. Returns errs.NotFound if it cannot be resolved.
	ResolveCommitish(ctx context.Context, ref string) (CommitID, error)

	// ReadCommit returns the commit object for id.
	ReadCommit(ctx context.Context, id CommitID) (*Commit, error)

	// Tree returns the root tree id for a commit.
	Tree(ctx context.Context, commit CommitID) (CommitID, error)

	// ReadFile returns the content of path as it exists in tree.
	// Returns errs.NotFound if the path does not exist in the tree.
	ReadFile(ctx context.Context, tree CommitID, path string) ([]byte, error)

	// ReadBlob returns a blob's content directly by id, for callers
	// (conflict diff rendering) that already hold a blob id from a
	// ConflictEntry rather than a tree+path pair.
	ReadBlob(ctx context.Context, id CommitID) ([]byte, error)

	// DiffTrees returns the path-level deltas between two trees. A
	// zero CommitID for either side means "compare against an empty
	// tree".
	DiffTrees(ctx context.Context, a, b CommitID) ([]TreeDelta, error)

	// MergeIndex performs a three-way merge of three trees, returning
	// conflict entries for paths that cannot be merged automatically.
	MergeIndex(ctx context.Context, base, ours, theirs CommitID) (*MergedIndex, error)

	// DescendantOf reports whether a is a (possibly equal, non-strict)
	// descendant of b.
	DescendantOf(ctx context.Context, a, b CommitID) (bool, error)

	// MergeBase returns the best common ancestor of a and b, or
	// !found if none exists. When the underlying engine yields
	// multiple candidates, the first one it reports is returned.
	MergeBase(ctx context.Context, a, b CommitID) (id CommitID, found bool, err error)

	// CreateCommit writes a new commit object with the given tree and
	// parents.
	CreateCommit(ctx context.Context, author, committer Signature, message string, tree CommitID, parents ...CommitID) (CommitID, error)

	// ReadRef returns the commit id a reference currently points at.
	ReadRef(ctx context.Context, name string) (CommitID, error)

	// UpdateRef moves a reference to point at id, creating it if
	// absent.
	UpdateRef(ctx context.Context, name string, id CommitID) error

	// NoteRead returns the note message attached to commit under the
	// notes ref namespace. Returns errs.NotFound if absent.
	NoteRead(ctx context.Context, notesRef string, commit CommitID) (string, error)

	// NoteWrite attaches (or replaces) a note message for commit under
	// the notes ref namespace.
	NoteWrite(ctx context.Context, notesRef string, commit CommitID, message string) error

	// Fetch retrieves commit from url into this repository, a no-op if
	// the commit is already present.
	Fetch(ctx context.Context, url string, commit CommitID) error

	// Push updates ref at url to point at commit.
	Push(ctx context.Context, url, ref string, commit CommitID, force ForcePolicy, includeTags bool) error

	// WorkdirStatus reports the staged/workdir/untracked path sets.
	// GoGitRepository ignores compare and always reports relative to
	// HEAD.
	WorkdirStatus(ctx context.Context, compare CommitID) (*WorktreeStatus, error)

	// Root returns the repository's working directory root.
	Root() string

	// BlobWriter opens a writer that creates a new blob object; Close
	// returns its id.
	BlobWriter(ctx context.Context) (BlobWriter, error)

	// WriteTree writes a full path -> content map as a new tree object,
	// used to materialise shadow commits (C9) and registry/meta-file
	// edits without touching the working directory.
	WriteTree(ctx context.Context, files map[string][]byte) (CommitID, error)

	// WriteBlobAtPath returns a new tree id equal to tree with path's
	// content replaced (or added) by content; every other entry in tree
	// is preserved. Used to fold a re-serialized registry file back
	// into a merge/rebase result tree without re-synthesising every
	// other path in it.
	WriteBlobAtPath(ctx context.Context, tree CommitID, path string, content []byte) (CommitID, error)
}

// BlobWriter writes a new blob object incrementally.
type BlobWriter interface {
	io.Writer
	Close() (CommitID, error)
}

// WorktreeStatus is the raw per-path status a Repository reports; C3
// (status package) builds the canonical Snapshot on top of this.
type WorktreeStatus struct {
	Staged     map[string]DeltaKind
	Workdir    map[string]DeltaKind
	Untracked  []string
	Conflicted []string
}
