// Package merge implements the merge engine (C8): fast-forward and
// three-way meta merges, including per-sub-repository pin
// classification and recursive sub-repository merges run through the
// bounded work pool.
package merge

import (
	"context"

	"github.com/mjpitz/metarepo/errs"
	"github.com/mjpitz/metarepo/git"
	"github.com/mjpitz/metarepo/internal/log"
	"github.com/mjpitz/metarepo/pool"
	"github.com/mjpitz/metarepo/rebase"
	"github.com/mjpitz/metarepo/registry"
	"github.com/mjpitz/metarepo/sequencer"
	"github.com/mjpitz/metarepo/status"
)

// subHeadRef is the ref name tracking an opened sub-repository's
// current tip, mirroring ops.HeadRef for the meta-repository (a
// sub-repository opened through SubRepoResolver is, from this
// package's point of view, just another git.Repository).
const subHeadRef = "HEAD"

// Mode selects the merge strategy, per §4.6.
type Mode int

const (
	ModeNormal Mode = iota
	ModeFastForwardOnly
	ModeForceCommit
)

// OpenPolicy controls whether the engine may open a closed
// sub-repository to resolve a sub-merge, breaking the otherwise
// recursive merge<->open cycle (an open can itself require a merge of
// the sub's own working tree state) per spec.md §9's open question.
type OpenPolicy int

const (
	// OpenPolicyAllowOpen opens closed sub-repositories on demand and
	// instantiates their working directory.
	OpenPolicyAllowOpen OpenPolicy = iota
	// OpenPolicyAllowBare fetches and merges in a bare/in-memory
	// repository without materialising a working directory, used by
	// server-side or dry-run merges that must not touch disk.
	OpenPolicyAllowBare
	// OpenPolicyForbid fails the merge with errs.SubUnresolved instead
	// of opening anything.
	OpenPolicyForbid
)

// SubRepoResolver supplies the git.Repository for a named sub-repository,
// opening or fetching it according to policy if necessary.
type SubRepoResolver interface {
	Resolve(ctx context.Context, name string, policy OpenPolicy) (git.Repository, error)
}

// RegistryReader reads the sub-repository registry recorded in a
// meta-tree, used to classify per-sub changes between head/base/target.
type RegistryReader interface {
	ReadRegistry(ctx context.Context, tree git.CommitID) (*registry.Registry, error)
}

// Engine runs merges per §4.6.
type Engine struct {
	Repo       git.Repository
	Registries RegistryReader
	Resolver   SubRepoResolver
	Policy     OpenPolicy
	// Concurrency bounds sub-merge fan-out; 0 uses pool.DefaultConcurrency.
	Concurrency int
}

// SubOutcome classifies how one sub-repository's pin was resolved.
type SubOutcome int

const (
	SubTrivial SubOutcome = iota
	SubAcceptOurs
	SubAcceptTheirs
	SubMerged
	SubConflicted
)

// SubResult is one sub-repository's merge classification and, when
// merged recursively, its resulting commit.
type SubResult struct {
	Name       string
	Outcome    SubOutcome
	ResultPin  git.CommitID
	Conflicted bool
}

// Result is the outcome of a Run call.
type Result struct {
	UpToDate    bool
	FastForward bool
	NewHead     git.CommitID
	Subs        []SubResult
	// Conflicted is true when the merge halted with a sequencer
	// written; the caller must resolve and call Continue.
	Conflicted bool

	// ConflictPaths lists the file paths left unresolved when
	// Conflicted is true, for a front-end to report via
	// output.FormatConflictSummary.
	ConflictPaths []string
}

// Run executes one merge of target into the meta-repository currently
// at head, per §4.6.
func (e *Engine) Run(
	ctx context.Context, head, target git.CommitID, mode Mode, message string, seqPath string,
) (Result, error) {
	log.From(ctx).Debug("merge.Run", "head", head.Short(), "target", target.Short())

	ahead, err := e.Repo.DescendantOf(ctx, head, target)
	if err != nil {
		return Result{}, errs.Wrap(errs.Internal, "merge.Run", err)
	}

	if ahead {
		return Result{UpToDate: true, NewHead: head}, nil
	}

	isFF, err := e.Repo.DescendantOf(ctx, target, head)
	if err != nil {
		return Result{}, errs.Wrap(errs.Internal, "merge.Run", err)
	}

	if isFF && mode != ModeForceCommit {
		return e.runFastForward(ctx, head, target)
	}

	if mode == ModeFastForwardOnly {
		return Result{}, errs.New(errs.Usage, "merge.Run", "target is not fast-forwardable")
	}

	return e.runThreeWay(ctx, head, target, message, seqPath)
}

// runFastForward advances the meta ref with no merge commit, per
// §4.6's fast-forward path. Step 1 of that path requires every
// sub-repository whose pin moves to be fast-forwarded in turn when it
// happens to be open locally; this walks the registry delta between
// head and target and, for each pin that changed, fast-forwards the
// opened sub-repository (if any) through the rebase engine, failing
// the whole fast-forward with errs.Dirty if that sub's own working
// tree isn't clean, or errs.Conflict if its local tip isn't actually
// an ancestor of the new pin.
func (e *Engine) runFastForward(ctx context.Context, head, target git.CommitID) (Result, error) {
	if e.Resolver != nil && e.Registries != nil {
		headTree, err := e.Repo.Tree(ctx, head)
		if err != nil {
			return Result{}, errs.Wrap(errs.Internal, "merge.runFastForward", err)
		}

		targetTree, err := e.Repo.Tree(ctx, target)
		if err != nil {
			return Result{}, errs.Wrap(errs.Internal, "merge.runFastForward", err)
		}

		headReg, err := e.Registries.ReadRegistry(ctx, headTree)
		if err != nil {
			return Result{}, err
		}

		targetReg, err := e.Registries.ReadRegistry(ctx, targetTree)
		if err != nil {
			return Result{}, err
		}

		for _, d := range registry.Diff(headReg, targetReg) {
			if d.Kind != registry.DeltaCommitChanged {
				continue
			}

			if err := e.fastForwardSub(ctx, d.Name, d.To.Commit); err != nil {
				return Result{}, err
			}
		}
	}

	return Result{FastForward: true, NewHead: target}, nil
}

// fastForwardSub fast-forwards name's local tip to newPin if name is
// currently open; a sub-repository that isn't open locally has nothing
// to fast-forward yet (the caller sees the new pin whenever it next
// opens it).
func (e *Engine) fastForwardSub(ctx context.Context, name string, newPin git.CommitID) error {
	subRepo, err := e.Resolver.Resolve(ctx, name, OpenPolicyForbid)
	if err != nil {
		return nil
	}

	subHead, err := subRepo.ReadRef(ctx, subHeadRef)
	if err != nil {
		return errs.Wrap(errs.Internal, "merge.fastForwardSub", err).WithPath(name)
	}

	snap, err := status.Compute(ctx, subRepo, git.CommitID{}, status.Options{})
	if err != nil {
		return errs.Wrap(errs.Internal, "merge.fastForwardSub", err).WithPath(name)
	}

	if !snap.Empty() {
		return errs.New(errs.Dirty, "merge.fastForwardSub", "sub-repository %s is not clean", name).WithPath(name)
	}

	eng := &rebase.Engine{Repo: subRepo}

	result, err := eng.Run(ctx, newPin, subHead, nil, "")
	if err != nil {
		return errs.Wrap(errs.Internal, "merge.fastForwardSub", err).WithPath(name)
	}

	if !result.FastForward {
		return errs.New(errs.Conflict, "merge.fastForwardSub", "sub-repository %s is not fast-forwardable", name).WithPath(name)
	}

	if err := subRepo.UpdateRef(ctx, subHeadRef, result.NewHead); err != nil {
		return errs.Wrap(errs.IO, "merge.fastForwardSub", err).WithPath(name)
	}

	return nil
}

// classification describes one sub-repository's base/ours/theirs pins
// ahead of outcome resolution.
type classification struct {
	name                        string
	hasBase, hasOurs, hasTheirs bool
	base, ours, theirs          git.CommitID
	oursURL, theirsURL          string
	oursPath, theirsPath        string
}

func (e *Engine) runThreeWay(
	ctx context.Context, head, target git.CommitID, message string, seqPath string,
) (Result, error) {
	base, found, err := e.Repo.MergeBase(ctx, head, target)
	if err != nil {
		return Result{}, errs.Wrap(errs.Internal, "merge.Run", err)
	}

	if !found {
		return Result{}, errs.New(errs.NoMergeBase, "merge.Run", "no common ancestor between head and target")
	}

	headCommit, err := e.Repo.ReadCommit(ctx, head)
	if err != nil {
		return Result{}, errs.Wrap(errs.Internal, "merge.Run", err)
	}

	targetCommit, err := e.Repo.ReadCommit(ctx, target)
	if err != nil {
		return Result{}, errs.Wrap(errs.Internal, "merge.Run", err)
	}

	baseCommit, err := e.Repo.ReadCommit(ctx, base)
	if err != nil {
		return Result{}, errs.Wrap(errs.Internal, "merge.Run", err)
	}

	merged, err := e.Repo.MergeIndex(ctx, baseCommit.Tree, headCommit.Tree, targetCommit.Tree)
	if err != nil {
		return Result{}, errs.Wrap(errs.Internal, "merge.Run", err)
	}

	// The registry file is an ordinary path as far as MergeIndex is
	// concerned, so two sides pinning the same sub-repository to
	// different commits looks like an ordinary line conflict on that
	// one path. That conflict (and that path alone) is resolved below
	// by classifySubs/resolveSubs instead, so it's stripped out here
	// before deciding whether the merge as a whole has a real conflict.
	fileConflicts := nonRegistryConflicts(merged.Conflicts)

	if len(fileConflicts) > 0 {
		if err := sequencer.Save(seqPath, &sequencer.State{
			Kind:         sequencer.KindMerge,
			OriginalHead: sequencer.RefPin{Commit: head},
			Target:       sequencer.RefPin{Commit: target},
			Message:      message,
		}); err != nil {
			return Result{}, err
		}

		return Result{Conflicted: true, ConflictPaths: conflictPaths(fileConflicts)}, nil
	}

	classes, headReg, err := e.classifySubs(ctx, baseCommit.Tree, headCommit.Tree, targetCommit.Tree)
	if err != nil {
		return Result{}, err
	}

	subResults, conflicted, err := e.resolveSubs(ctx, classes)
	if err != nil {
		return Result{}, err
	}

	if conflicted {
		if err := sequencer.Save(seqPath, &sequencer.State{
			Kind:         sequencer.KindMerge,
			OriginalHead: sequencer.RefPin{Commit: head},
			Target:       sequencer.RefPin{Commit: target},
			Message:      message,
		}); err != nil {
			return Result{}, err
		}

		return Result{Conflicted: true, Subs: subResults, ConflictPaths: conflictedSubNames(subResults)}, nil
	}

	if message == "" {
		return Result{}, errs.New(errs.Usage, "merge.Run", "empty merge commit message")
	}

	finalTree, err := e.writeResolvedRegistry(ctx, merged.Tree, headReg, classes, subResults)
	if err != nil {
		return Result{}, err
	}

	sig := headCommit.Author

	newHead, err := e.Repo.CreateCommit(ctx, sig, sig, message, finalTree, head, target)
	if err != nil {
		return Result{}, errs.Wrap(errs.Internal, "merge.Run", err)
	}

	return Result{NewHead: newHead, Subs: subResults}, nil
}

// writeResolvedRegistry folds each sub's resolved pin back into the
// registry (starting from headReg, so any sub untouched by classifySubs
// keeps its "ours" entry unchanged), then grafts the re-serialized
// registry into tree. MergeIndex's own per-line 3-way merge of the
// registry blob is discarded here: it operates on the registry file as
// plain text, so a sub-repository pinned to two different commits on
// each side is seen as a one-line text conflict (or, when trivially
// 3-way-mergeable as text, an arbitrary result) rather than the outcome
// classifySubs/resolveSubs actually computed — this reuses the same
// per-sub classification, so there is exactly one source of truth for
// "what the merged pin is."
func (e *Engine) writeResolvedRegistry(
	ctx context.Context, tree git.CommitID, headReg *registry.Registry, classes []classification, subResults []SubResult,
) (git.CommitID, error) {
	if headReg == nil || len(classes) == 0 {
		return tree, nil
	}

	reg := headReg

	for i, r := range subResults {
		c := classes[i]

		path := c.oursPath
		url := c.oursURL

		if path == "" {
			path = c.theirsPath
		}

		if url == "" {
			url = c.theirsURL
		}

		reg.Add(registry.Entry{
			Name: r.Name,
			Path: path,
			Pin:  registry.Pin{URL: url, Commit: r.ResultPin, HasCommit: true},
		})
	}

	return e.Repo.WriteBlobAtPath(ctx, tree, registry.FileName, []byte(registry.Format(reg)))
}

// classifySubs compares the sub-repository registries recorded in the
// baseTree/headTree/targetTree trees and produces one classification
// per sub name touched on either side, plus the head registry itself
// (the starting point writeResolvedRegistry folds resolved pins into).
func (e *Engine) classifySubs(
	ctx context.Context, baseTree, headTree, targetTree git.CommitID,
) ([]classification, *registry.Registry, error) {
	baseReg, err := e.Registries.ReadRegistry(ctx, baseTree)
	if err != nil {
		return nil, nil, err
	}

	headReg, err := e.Registries.ReadRegistry(ctx, headTree)
	if err != nil {
		return nil, nil, err
	}

	targetReg, err := e.Registries.ReadRegistry(ctx, targetTree)
	if err != nil {
		return nil, nil, err
	}

	names := map[string]bool{}
	for _, e := range headReg.Entries() {
		names[e.Name] = true
	}

	for _, e := range targetReg.Entries() {
		names[e.Name] = true
	}

	var classes []classification

	for name := range names {
		baseEntry, hasBase := baseReg.Get(name)
		headEntry, hasHead := headReg.Get(name)
		targetEntry, hasTarget := targetReg.Get(name)

		if hasHead && hasTarget && headEntry.Pin.Commit == targetEntry.Pin.Commit &&
			headEntry.Pin.URL == targetEntry.Pin.URL {
			continue // unchanged on both sides relative to each other
		}

		c := classification{name: name, hasBase: hasBase, hasOurs: hasHead, hasTheirs: hasTarget}
		if hasBase {
			c.base = baseEntry.Pin.Commit
		}

		if hasHead {
			c.ours = headEntry.Pin.Commit
			c.oursURL = headEntry.Pin.URL
			c.oursPath = headEntry.Path
		}

		if hasTarget {
			c.theirs = targetEntry.Pin.Commit
			c.theirsURL = targetEntry.Pin.URL
			c.theirsPath = targetEntry.Path
		}

		classes = append(classes, c)
	}

	return classes, headReg, nil
}

func (e *Engine) resolveSubs(ctx context.Context, classes []classification) ([]SubResult, bool, error) {
	type task struct {
		c classification
	}

	items := make([]pool.NamedItem[task], 0, len(classes))
	trivial := map[string]SubResult{}

	for _, c := range classes {
		switch {
		case !c.hasBase && c.hasOurs && c.hasTheirs && c.oursURL != c.theirsURL:
			// Added independently by both sides at different URLs: §9
			// leaves this an open choice between silently accepting one
			// URL and reporting a conflict. This engine reports a
			// conflict — a sub-repository's origin is load-bearing for
			// every future fetch, so silently picking one side's URL
			// could point a later clone at the wrong remote with no
			// diagnostic trail.
			trivial[c.name] = SubResult{Name: c.name, Outcome: SubConflicted, Conflicted: true}
		case c.hasOurs && !c.hasTheirs:
			trivial[c.name] = SubResult{Name: c.name, Outcome: SubTrivial, ResultPin: c.ours}
		case !c.hasOurs && c.hasTheirs:
			trivial[c.name] = SubResult{Name: c.name, Outcome: SubAcceptTheirs, ResultPin: c.theirs}
		case c.ours == c.theirs:
			trivial[c.name] = SubResult{Name: c.name, Outcome: SubTrivial, ResultPin: c.ours}
		case c.hasBase && c.base == c.ours:
			trivial[c.name] = SubResult{Name: c.name, Outcome: SubAcceptTheirs, ResultPin: c.theirs}
		case c.hasBase && c.base == c.theirs:
			trivial[c.name] = SubResult{Name: c.name, Outcome: SubAcceptOurs, ResultPin: c.ours}
		default:
			items = append(items, pool.NamedItem[task]{ID: c.name, Item: task{c: c}})
		}
	}

	preConflicted := false

	for _, r := range trivial {
		if r.Conflicted {
			preConflicted = true
		}
	}

	if len(items) == 0 {
		return trivialSlice(trivial, classes), preConflicted, nil
	}

	if e.Resolver == nil {
		return nil, false, errs.New(errs.SubUnresolved, "merge.resolveSubs",
			"sub-merge required but no resolver configured")
	}

	results, err := pool.RunNamed(ctx, "merge.resolveSubs", items, e.Concurrency,
		func(ctx context.Context, t task) (SubResult, error) {
			return e.resolveSubMerge(ctx, t.c)
		},
	)
	if err != nil {
		if errs.Is(err, errs.SubUnresolved) {
			return nil, false, err
		}
		// A sub-merge conflict is reported via a SubResult, not an
		// error, so any error reaching here is an operational failure.
		return nil, false, errs.Wrap(errs.Internal, "merge.resolveSubs", err)
	}

	conflicted := preConflicted

	for _, r := range results {
		trivial[r.Name] = r
		if r.Conflicted {
			conflicted = true
		}
	}

	return trivialSlice(trivial, classes), conflicted, nil
}

func (e *Engine) resolveSubMerge(ctx context.Context, c classification) (SubResult, error) {
	repo, err := e.Resolver.Resolve(ctx, c.name, e.Policy)
	if err != nil {
		if e.Policy == OpenPolicyForbid {
			return SubResult{}, errs.Wrap(errs.SubUnresolved, "merge.resolveSubMerge", err).WithPath(c.name)
		}

		return SubResult{}, errs.Wrap(errs.Internal, "merge.resolveSubMerge", err).WithPath(c.name)
	}

	base := c.base
	if !c.hasBase {
		base = git.ZeroCommitID
	}

	var baseTree, oursTree, theirsTree git.CommitID

	if c.hasBase {
		baseCommit, err := repo.ReadCommit(ctx, base)
		if err != nil {
			return SubResult{}, errs.Wrap(errs.Internal, "merge.resolveSubMerge", err).WithPath(c.name)
		}

		baseTree = baseCommit.Tree
	}

	oursCommit, err := repo.ReadCommit(ctx, c.ours)
	if err != nil {
		return SubResult{}, errs.Wrap(errs.Internal, "merge.resolveSubMerge", err).WithPath(c.name)
	}

	oursTree = oursCommit.Tree

	theirsCommit, err := repo.ReadCommit(ctx, c.theirs)
	if err != nil {
		return SubResult{}, errs.Wrap(errs.Internal, "merge.resolveSubMerge", err).WithPath(c.name)
	}

	theirsTree = theirsCommit.Tree

	merged, err := repo.MergeIndex(ctx, baseTree, oursTree, theirsTree)
	if err != nil {
		return SubResult{}, errs.Wrap(errs.Internal, "merge.resolveSubMerge", err).WithPath(c.name)
	}

	if len(merged.Conflicts) > 0 {
		return SubResult{Name: c.name, Outcome: SubConflicted, Conflicted: true}, nil
	}

	sig := oursCommit.Author

	newCommit, err := repo.CreateCommit(ctx, sig, sig, "merge sub-repository", merged.Tree, c.ours, c.theirs)
	if err != nil {
		return SubResult{}, errs.Wrap(errs.Internal, "merge.resolveSubMerge", err).WithPath(c.name)
	}

	return SubResult{Name: c.name, Outcome: SubMerged, ResultPin: newCommit}, nil
}

// conflictPaths extracts the path of each unresolved file conflict, for
// a front-end to report via output.FormatConflictSummary.
func conflictPaths(conflicts []git.ConflictEntry) []string {
	paths := make([]string, len(conflicts))
	for i, c := range conflicts {
		paths[i] = c.Path
	}

	return paths
}

// conflictedSubNames lists every sub-repository name whose classification
// was left unresolved, in the same textual form output.FormatConflictSummary
// expects (it treats each entry as just a path to report).
func conflictedSubNames(subResults []SubResult) []string {
	var names []string

	for _, r := range subResults {
		if r.Conflicted {
			names = append(names, r.Name)
		}
	}

	return names
}

// nonRegistryConflicts strips any conflict on the sub-repository registry
// file out of MergeIndex's raw per-path conflict list. The registry's own
// 3-way text merge is meaningless here — it's re-derived wholesale by
// classifySubs/resolveSubs and re-serialized by writeResolvedRegistry, so a
// conflict limited to that one path isn't a real merge conflict.
func nonRegistryConflicts(conflicts []git.ConflictEntry) []git.ConflictEntry {
	out := make([]git.ConflictEntry, 0, len(conflicts))

	for _, c := range conflicts {
		if c.Path == registry.FileName {
			continue
		}

		out = append(out, c)
	}

	return out
}

func trivialSlice(m map[string]SubResult, classes []classification) []SubResult {
	out := make([]SubResult, 0, len(classes))
	for _, c := range classes {
		if r, ok := m[c.name]; ok {
			out = append(out, r)
		}
	}

	return out
}

// Continue resumes a halted merge after the caller reports every
// opened sub with its own sequencer has been continued. If any
// sub-result is still conflicted, merge remains blocked.
func Continue(subResults []SubResult) error {
	for _, r := range subResults {
		if r.Conflicted {
			return errs.New(errs.Conflict, "merge.Continue", "sub-repository %s is still conflicted", r.Name)
		}
	}

	return nil
}

// Abort clears the sequencer, ending the in-progress merge.
func Abort(seqPath string) error {
	return sequencer.Remove(seqPath)
}
