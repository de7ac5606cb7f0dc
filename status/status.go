// Package status implements the repository status model (C3): a
// single computed snapshot of staged and working-directory deltas for
// one repository, plus — for the meta-repository — the per-sub-repo
// commit-relation classification.
package status

import (
	"context"
	"strings"

	"github.com/mjpitz/metarepo/errs"
	"github.com/mjpitz/metarepo/git"
	"github.com/mjpitz/metarepo/registry"
)

// Relation classifies a sub-repository's index pin against its HEAD
// commit pin.
type Relation int

const (
	RelationSame Relation = iota
	RelationAhead
	RelationBehind
	RelationUnrelated
	RelationUnknown
)

func (r Relation) String() string {
	switch r {
	case RelationSame:
		return "SAME"
	case RelationAhead:
		return "AHEAD"
	case RelationBehind:
		return "BEHIND"
	case RelationUnrelated:
		return "UNRELATED"
	default:
		return "UNKNOWN"
	}
}

// UntrackedPolicy controls how untracked directories are reported.
type UntrackedPolicy int

const (
	UntrackedNormal UntrackedPolicy = iota
	UntrackedAll
)

// Entry is one path's status within a bucket (staged or workdir).
type Entry struct {
	Path       string
	Kind       git.DeltaKind
	Conflicted bool
}

// Snapshot is the full status of one repository at a moment in time.
type Snapshot struct {
	Staged  []Entry
	Workdir []Entry

	// SequencerActive is true when this repository has an in-progress
	// merge/rebase/cherry-pick (§4.4); a clean status requires it be
	// false.
	SequencerActive bool
}

// Empty reports whether a Snapshot has no staged, workdir entries and
// no active sequencer — the condition EnsureCleanAndConsistent checks.
func (s Snapshot) Empty() bool {
	return len(s.Staged) == 0 && len(s.Workdir) == 0 && !s.SequencerActive
}

// SubStatus is one sub-repository's entry within a MetaSnapshot.
type SubStatus struct {
	Name       string
	CommitPin  git.CommitID
	IndexPin   git.CommitID
	HasCommit  bool
	Open       bool
	Workdir    *Snapshot // nil when closed
	Relation   Relation
	URLChanged bool
}

// MetaSnapshot is the meta-repository's status plus its sub-repository
// table.
type MetaSnapshot struct {
	Snapshot
	Subs []SubStatus
}

// Options parameterises Compute per spec.md §4.2.
type Options struct {
	// PathFilter restricts results to paths under one of these
	// slash-separated prefixes; empty means "everything".
	PathFilter []string

	// WorkdirAgainstBase is not read by Compute: setting it does not
	// change which tree or index the working directory is compared to.
	WorkdirAgainstBase bool

	Untracked UntrackedPolicy
}

func matchesFilter(path string, filters []string) bool {
	if len(filters) == 0 {
		return true
	}

	for _, f := range filters {
		f = strings.TrimSuffix(f, "/")
		if path == f || strings.HasPrefix(path, f+"/") {
			return true
		}
	}

	return false
}

// Compute produces a Snapshot for one repository, per §4.2.
// comparisonTree is passed to repo.WorkdirStatus; GoGitRepository
// ignores it and compares against HEAD.
func Compute(
	ctx context.Context, repo git.Repository, comparisonTree git.CommitID, opts Options,
) (Snapshot, error) {
	wds, err := repo.WorkdirStatus(ctx, comparisonTree)
	if err != nil {
		return Snapshot{}, errs.Wrap(errs.Internal, "status.Compute", err)
	}

	snap := Snapshot{}

	for path, kind := range wds.Staged {
		if !matchesFilter(path, opts.PathFilter) {
			continue
		}

		snap.Staged = append(snap.Staged, Entry{Path: path, Kind: kind})
	}

	for path, kind := range wds.Workdir {
		if !matchesFilter(path, opts.PathFilter) {
			continue
		}

		snap.Workdir = append(snap.Workdir, Entry{Path: path, Kind: kind})
	}

	for _, path := range wds.Conflicted {
		if !matchesFilter(path, opts.PathFilter) {
			continue
		}

		snap.Staged = append(snap.Staged, Entry{Path: path, Conflicted: true})
	}

	untracked := collapseUntracked(wds.Untracked, opts.Untracked)
	for _, path := range untracked {
		if !matchesFilter(path, opts.PathFilter) {
			continue
		}

		snap.Workdir = append(snap.Workdir, Entry{Path: path, Kind: git.DeltaAdded})
	}

	return snap, nil
}

// collapseUntracked implements the NORMAL/ALL untracked-directory
// collapsing rule: NORMAL reports a whole untracked top-level directory
// as one "dirname/" entry; ALL expands every file.
func collapseUntracked(paths []string, policy UntrackedPolicy) []string {
	if policy == UntrackedAll {
		return paths
	}

	seenDir := map[string]bool{}

	var out []string

	for _, p := range paths {
		if idx := strings.Index(p, "/"); idx >= 0 {
			dir := p[:idx+1]
			if !seenDir[dir] {
				seenDir[dir] = true

				out = append(out, dir)
			}

			continue
		}

		out = append(out, p)
	}

	return out
}

// EnsureCleanAndConsistent fails with errs.Dirty unless every staged,
// workdir, and sub-repository-workdir bucket in snap is empty and no
// sequencer is active anywhere, per §4.2's literal definition of
// clean. An unopened sub-repository has no Workdir snapshot to check
// and so never blocks on its own.
func EnsureCleanAndConsistent(op string, snap MetaSnapshot) error {
	if !snap.Snapshot.Empty() {
		return errs.New(errs.Dirty, op, "repository is not clean")
	}

	for _, sub := range snap.Subs {
		if sub.Workdir != nil && !sub.Workdir.Empty() {
			return errs.New(errs.Dirty, op, "sub-repository %s is not clean", sub.Name)
		}
	}

	return nil
}

// ComputeRelation classifies indexPin relative to commitPin using the
// repository's ancestry queries, per §3's commit-relation definition.
// fetched reports whether indexPin is known to local storage; if not,
// the relation is UNKNOWN without attempting ancestry queries (which
// would error on a missing object).
func ComputeRelation(
	ctx context.Context, repo git.Repository, commitPin, indexPin git.CommitID, fetched bool,
) (Relation, error) {
	if !fetched {
		return RelationUnknown, nil
	}

	if commitPin == indexPin {
		return RelationSame, nil
	}

	ahead, err := repo.DescendantOf(ctx, indexPin, commitPin)
	if err != nil {
		return RelationUnknown, errs.Wrap(errs.Internal, "status.ComputeRelation", err)
	}

	if ahead {
		return RelationAhead, nil
	}

	behind, err := repo.DescendantOf(ctx, commitPin, indexPin)
	if err != nil {
		return RelationUnknown, errs.Wrap(errs.Internal, "status.ComputeRelation", err)
	}

	if behind {
		return RelationBehind, nil
	}

	_, found, err := repo.MergeBase(ctx, commitPin, indexPin)
	if err != nil {
		return RelationUnknown, errs.Wrap(errs.Internal, "status.ComputeRelation", err)
	}

	if !found {
		return RelationUnrelated, nil
	}

	return RelationUnrelated, nil
}

// ComputeMeta builds the full meta-repository snapshot: the
// meta-repository's own Snapshot plus, per registered sub-repository,
// the commit/index pins, its commit-relation, and (when open) its own
// Snapshot. openRepos supplies the git.Repository for sub-repositories
// that are open; a name absent from it is treated as closed.
func ComputeMeta(
	ctx context.Context,
	metaRepo git.Repository,
	headRegistry, indexRegistry *registry.Registry,
	openRepos map[string]git.Repository,
	opts Options,
) (MetaSnapshot, error) {
	metaSnap, err := Compute(ctx, metaRepo, git.CommitID{}, opts)
	if err != nil {
		return MetaSnapshot{}, err
	}

	out := MetaSnapshot{Snapshot: metaSnap}

	seen := map[string]bool{}

	for _, headEntry := range headRegistry.Entries() {
		seen[headEntry.Name] = true

		sub, err := buildSubStatus(ctx, headEntry, indexRegistry, openRepos, opts)
		if err != nil {
			return MetaSnapshot{}, err
		}

		out.Subs = append(out.Subs, sub)
	}

	for _, indexEntry := range indexRegistry.Entries() {
		if seen[indexEntry.Name] {
			continue
		}

		sub, err := buildSubStatus(ctx, indexEntry, indexRegistry, openRepos, opts)
		if err != nil {
			return MetaSnapshot{}, err
		}

		out.Subs = append(out.Subs, sub)
	}

	return out, nil
}

func buildSubStatus(
	ctx context.Context,
	headEntry registry.Entry,
	indexRegistry *registry.Registry,
	openRepos map[string]git.Repository,
	opts Options,
) (SubStatus, error) {
	indexEntry, inIndex := indexRegistry.Get(headEntry.Name)

	sub := SubStatus{
		Name:      headEntry.Name,
		CommitPin: headEntry.Pin.Commit,
		HasCommit: headEntry.Pin.HasCommit,
	}

	if inIndex {
		sub.IndexPin = indexEntry.Pin.Commit
		sub.URLChanged = indexEntry.Pin.URL != headEntry.Pin.URL
	} else {
		sub.IndexPin = headEntry.Pin.Commit
	}

	repo, open := openRepos[headEntry.Name]
	sub.Open = open

	if open {
		sub.Relation, _ = ComputeRelation(ctx, repo, sub.CommitPin, sub.IndexPin, true)

		workdirSnap, err := Compute(ctx, repo, sub.IndexPin, opts)
		if err != nil {
			return SubStatus{}, err
		}

		sub.Workdir = &workdirSnap
	} else {
		sub.Relation = RelationSame
		if sub.CommitPin != sub.IndexPin {
			sub.Relation = RelationUnknown
		}
	}

	return sub, nil
}
