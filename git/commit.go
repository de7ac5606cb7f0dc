package git

import (
	"encoding/hex"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
)

// CommitID is a fixed-length content hash, compared only for equality.
// It wraps go-git's plumbing.Hash to give the rest of the core value
// semantics independent of the storage engine's own type.
type CommitID [20]byte

// ZeroCommitID is the uninitialised commit identifier: a sub-repository
// pin with this value denotes a sub-repository created by a merge but
// never instantiated.
var ZeroCommitID CommitID

// NewCommitID converts a go-git hash into a CommitID.
func NewCommitID(h plumbing.Hash) CommitID {
	return CommitID(h)
}

// Hash converts a CommitID back to go-git's plumbing.Hash.
func (c CommitID) Hash() plumbing.Hash {
	return plumbing.Hash(c)
}

// IsZero reports whether c is the uninitialised commit identifier.
func (c CommitID) IsZero() bool {
	return c == ZeroCommitID
}

// String renders the full hex commit id.
func (c CommitID) String() string {
	return hex.EncodeToString(c[:])
}

// Short renders the first 7 hex characters, matching git's abbreviated
// hash convention.
func (c CommitID) Short() string {
	s := c.String()
	if len(s) > 7 {
		return s[:7]
	}

	return s
}

// Signature mirrors go-git's object.Signature with the fields the core
// needs for reading and constructing commits.
type Signature struct {
	Name  string
	Email string
	When  time.Time
}

// Commit is the core's view of a commit object.
type Commit struct {
	ID        CommitID
	Tree      CommitID
	Parents   []CommitID
	Author    Signature
	Committer Signature
	Message   string
}
