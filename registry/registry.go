// Package registry implements the sub-repository registry (C2): given
// a meta-commit, the mapping sub-name -> {url, pinned commit}, parsed
// from and serialized to the on-disk registry file format (spec.md
// §6.2), plus the relative-URL resolution rule and the longest-prefix
// path matcher destitch (C10) needs.
package registry

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/mjpitz/metarepo/errs"
	"github.com/mjpitz/metarepo/git"
)

// FileName is the path, relative to the meta-tree root, of the
// registry file described in spec.md §6.2.
const FileName = ".metarepo"

// Pin is a sub-repository's state at one meta-commit: its remote URL
// and pinned commit. HasCommit=false is the "uninitialised" pin from
// spec.md §3 — a sub-repository created by a merge but never given a
// commit.
type Pin struct {
	URL       string
	Commit    git.CommitID
	HasCommit bool
}

// Entry is one row of the registry file: a named sub-repository at a
// path within the meta-tree, with its pin.
type Entry struct {
	Name string
	Path string
	Pin  Pin
}

// Registry is the parsed mapping for one meta-commit, preserving
// insertion order (the order entries were declared in the file) since
// §6.2 requires writers to emit triples in that order.
type Registry struct {
	entries []Entry
	byName  map[string]int
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{byName: map[string]int{}}
}

// Add appends an entry, or replaces it in place if the name already
// exists (preserving its original position, matching how a pin update
// is recorded without reordering the file).
func (r *Registry) Add(e Entry) {
	if idx, ok := r.byName[e.Name]; ok {
		r.entries[idx] = e

		return
	}

	r.byName[e.Name] = len(r.entries)
	r.entries = append(r.entries, e)
}

// Remove deletes an entry by name.
func (r *Registry) Remove(name string) {
	idx, ok := r.byName[name]
	if !ok {
		return
	}

	r.entries = append(r.entries[:idx], r.entries[idx+1:]...)
	delete(r.byName, name)

	for i := idx; i < len(r.entries); i++ {
		r.byName[r.entries[i].Name] = i
	}
}

// Get returns the entry for name, if present.
func (r *Registry) Get(name string) (Entry, bool) {
	idx, ok := r.byName[name]
	if !ok {
		return Entry{}, false
	}

	return r.entries[idx], true
}

// Entries returns the entries in insertion order. The returned slice
// must not be mutated by the caller.
func (r *Registry) Entries() []Entry {
	return r.entries
}

// Parse reads the registry file format: one `name\tpath\turl[\tcommit]`
// line per sub-repository, preserving declaration order. Blank lines
// and lines starting with '#' are skipped.
func Parse(data string) (*Registry, error) {
	r := New()

	scanner := bufio.NewScanner(strings.NewReader(data))

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) < 3 {
			return nil, errs.New(errs.IO, "registry.Parse", "malformed registry line: %q", line)
		}

		entry := Entry{
			Name: fields[0],
			Path: fields[1],
			Pin:  Pin{URL: fields[2]},
		}

		if len(fields) >= 4 && fields[3] != "" {
			id, err := parseCommitID(fields[3])
			if err != nil {
				return nil, errs.Wrap(errs.IO, "registry.Parse", err).WithPath(entry.Name)
			}

			entry.Pin.Commit = id
			entry.Pin.HasCommit = true
		}

		r.Add(entry)
	}

	if err := scanner.Err(); err != nil {
		return nil, errs.Wrap(errs.IO, "registry.Parse", err)
	}

	return r, nil
}

func parseCommitID(s string) (git.CommitID, error) {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != len(git.CommitID{}) {
		return git.CommitID{}, fmt.Errorf("invalid commit id %q", s)
	}

	var id git.CommitID
	copy(id[:], raw)

	return id, nil
}

// Format serializes the registry in insertion order, per spec.md
// §6.2's "one triple per sub-repository in insertion order".
func Format(r *Registry) string {
	var b strings.Builder

	for _, e := range r.entries {
		commitStr := ""
		if e.Pin.HasCommit {
			commitStr = e.Pin.Commit.String()
		}

		fmt.Fprintf(&b, "%s\t%s\t%s\t%s\n", e.Name, e.Path, e.Pin.URL, commitStr)
	}

	return b.String()
}

// ReadFromTree loads the registry file from tree, returning an empty
// Registry if the file does not exist (a meta-commit with no
// sub-repositories registered yet).
func ReadFromTree(ctx context.Context, repo git.Repository, tree git.CommitID) (*Registry, error) {
	data, err := repo.ReadFile(ctx, tree, FileName)
	if err != nil {
		if errs.KindOf(err) == errs.NotFound {
			return New(), nil
		}

		return nil, errs.Wrap(errs.IO, "registry.ReadFromTree", err)
	}

	return Parse(string(data))
}

// ResolveURL applies the one canonicalisation rule from spec.md §4.1:
// a leading "../" segment is stripped when the effective base URL is
// known; otherwise the URL is left verbatim.
func ResolveURL(rawURL string, baseURL string) string {
	if baseURL == "" {
		return rawURL
	}

	if !strings.HasPrefix(rawURL, "../") {
		return rawURL
	}

	trimmedBase := strings.TrimRight(baseURL, "/")
	rest := rawURL

	for strings.HasPrefix(rest, "../") {
		rest = strings.TrimPrefix(rest, "../")

		if idx := strings.LastIndex(trimmedBase, "/"); idx >= 0 {
			trimmedBase = trimmedBase[:idx]
		}
	}

	return trimmedBase + "/" + rest
}

// DeltaKind classifies a change to one sub-repository's pin between
// two meta-commits.
type DeltaKind int

const (
	DeltaUnchanged DeltaKind = iota
	DeltaAdded
	DeltaRemoved
	DeltaURLChanged
	DeltaCommitChanged
)

// Delta is one sub-repository's change between two registries; per
// spec.md §4.1 a delta contains at most one of
// {added, removed, url-changed, commit-changed}.
type Delta struct {
	Name string
	Kind DeltaKind
	From Pin
	To   Pin
}

// Diff compares two registries and returns the per-sub-repository
// deltas. Unchanged entries are omitted.
func Diff(from, to *Registry) []Delta {
	var deltas []Delta

	seen := map[string]bool{}

	for _, e := range from.Entries() {
		seen[e.Name] = true

		toEntry, ok := to.Get(e.Name)
		if !ok {
			deltas = append(deltas, Delta{Name: e.Name, Kind: DeltaRemoved, From: e.Pin})

			continue
		}

		switch {
		case e.Pin.URL != toEntry.Pin.URL:
			deltas = append(deltas, Delta{
				Name: e.Name, Kind: DeltaURLChanged, From: e.Pin, To: toEntry.Pin,
			})
		case e.Pin.HasCommit != toEntry.Pin.HasCommit || e.Pin.Commit != toEntry.Pin.Commit:
			deltas = append(deltas, Delta{
				Name: e.Name, Kind: DeltaCommitChanged, From: e.Pin, To: toEntry.Pin,
			})
		}
	}

	for _, e := range to.Entries() {
		if !seen[e.Name] {
			deltas = append(deltas, Delta{Name: e.Name, Kind: DeltaAdded, To: e.Pin})
		}
	}

	sort.Slice(deltas, func(i, j int) bool { return deltas[i].Name < deltas[j].Name })

	return deltas
}

// LongestPrefixMatcher resolves a flat file path to the sub-repository
// that owns it, by longest matching path prefix, for destitch (C10).
type LongestPrefixMatcher struct {
	// prefixes is sorted longest-first so the first match is the
	// longest one.
	prefixes []string
	byPrefix map[string]string // prefix -> sub-repository name
}

// NewLongestPrefixMatcher builds a matcher from a registry's entries.
func NewLongestPrefixMatcher(r *Registry) *LongestPrefixMatcher {
	m := &LongestPrefixMatcher{byPrefix: map[string]string{}}

	for _, e := range r.Entries() {
		prefix := strings.TrimSuffix(e.Path, "/") + "/"
		m.prefixes = append(m.prefixes, prefix)
		m.byPrefix[prefix] = e.Name
	}

	sort.Slice(m.prefixes, func(i, j int) bool {
		return len(m.prefixes[i]) > len(m.prefixes[j])
	})

	return m
}

// Match returns the sub-repository name owning path and the path
// relative to that sub-repository's root, or ok=false if no registered
// prefix matches.
func (m *LongestPrefixMatcher) Match(path string) (subName, subPath string, ok bool) {
	for _, prefix := range m.prefixes {
		if strings.HasPrefix(path, prefix) {
			return m.byPrefix[prefix], strings.TrimPrefix(path, prefix), true
		}
	}

	return "", "", false
}
