// Package sequencer implements the on-disk sequencer state (C6): the
// record of an in-progress merge/rebase/cherry-pick, its original and
// target refs, the ordered commit list being replayed, and the current
// position within it.
package sequencer

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mjpitz/metarepo/errs"
	"github.com/mjpitz/metarepo/git"
)

// Kind is the sequencer's operation kind.
type Kind int

const (
	KindMerge Kind = iota
	KindRebase
	KindCherryPick
)

func (k Kind) String() string {
	switch k {
	case KindMerge:
		return "MERGE"
	case KindRebase:
		return "REBASE"
	case KindCherryPick:
		return "CHERRY_PICK"
	default:
		return "UNKNOWN"
	}
}

func parseKind(s string) (Kind, error) {
	switch s {
	case "MERGE":
		return KindMerge, nil
	case "REBASE":
		return KindRebase, nil
	case "CHERRY_PICK":
		return KindCherryPick, nil
	default:
		return 0, fmt.Errorf("unknown sequencer kind %q", s)
	}
}

// RefPin is a commit plus an optional ref name it was resolved from;
// serialised as `COMMIT:REF`, with REF the literal "-" when absent,
// per spec.md §6.3.
type RefPin struct {
	Commit  git.CommitID
	RefName string // empty when unpinned
}

func (p RefPin) String() string {
	refName := p.RefName
	if refName == "" {
		refName = "-"
	}

	return p.Commit.String() + ":" + refName
}

func parseRefPin(field string) (RefPin, error) {
	idx := strings.LastIndex(field, ":")
	if idx < 0 {
		return RefPin{}, fmt.Errorf("malformed ref pin field %q", field)
	}

	commitStr, refName := field[:idx], field[idx+1:]
	if refName == "-" {
		refName = ""
	}

	id, err := parseCommitID(commitStr)
	if err != nil {
		return RefPin{}, fmt.Errorf("malformed ref pin field %q: %w", field, err)
	}

	return RefPin{Commit: id, RefName: refName}, nil
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

// State is the full sequencer record, per spec.md §4.4/§6.3.
type State struct {
	Kind         Kind
	OriginalHead RefPin
	Target       RefPin
	Commits      []git.CommitID
	CurrentIndex int
	Message      string // empty means no override
}

// FileName is the sequencer's fixed path within the meta-repository's
// private state area, relative to the repository's ".git" directory.
const FileName = "metarepo/sequencer"

// Path returns the absolute sequencer file path for a meta-repository
// whose git directory is metaGitDir.
func Path(metaGitDir string) string {
	return filepath.Join(metaGitDir, FileName)
}

// Load reads and parses the sequencer file at path. A missing file
// means "no operation in progress" and is reported via the second
// return value, not an error, per §3's lifecycle ("absence of the file
// means no operation in progress").
func Load(path string) (*State, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}

		return nil, false, errs.Wrap(errs.IO, "sequencer.Load", err)
	}

	st, err := Parse(string(data))
	if err != nil {
		return nil, false, errs.Wrap(errs.IO, "sequencer.Load", err).WithPath(path)
	}

	return st, true, nil
}

// Save atomically writes the sequencer state to path via write-temp
// then rename, per §4.4's "write is atomic".
func Save(path string, st *State) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errs.Wrap(errs.IO, "sequencer.Save", err)
	}

	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, []byte(Format(st)), 0o644); err != nil {
		return errs.Wrap(errs.IO, "sequencer.Save", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return errs.Wrap(errs.IO, "sequencer.Save", err)
	}

	return nil
}

// Remove deletes the sequencer file, ending the in-progress operation
// (called on continue-success or abort, per §3's lifecycle).
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.IO, "sequencer.Remove", err)
	}

	return nil
}

// Format renders the single-line sequencer header per §6.3:
// `[MESSAGE#]KIND ORIGINAL:REF TARGET:REF INDEX COMMIT-LIST`.
func Format(st *State) string {
	var b strings.Builder

	if st.Message != "" {
		fmt.Fprintf(&b, "%s#", st.Message)
	}

	commitList := make([]string, len(st.Commits))
	for i, c := range st.Commits {
		commitList[i] = c.String()
	}

	fmt.Fprintf(&b, "%s %s %s %d %s\n",
		st.Kind, st.OriginalHead, st.Target, st.CurrentIndex, strings.Join(commitList, ","))

	return b.String()
}

// Parse parses the single-line sequencer format produced by Format.
func Parse(data string) (*State, error) {
	line := strings.TrimRight(data, "\n")

	message := ""
	if idx := strings.Index(line, "#"); idx >= 0 {
		message = line[:idx]
		line = line[idx+1:]
	}

	fields := strings.Fields(line)
	if len(fields) != 5 {
		return nil, fmt.Errorf("malformed sequencer line: %q", line)
	}

	kind, err := parseKind(fields[0])
	if err != nil {
		return nil, err
	}

	original, err := parseRefPin(fields[1])
	if err != nil {
		return nil, err
	}

	target, err := parseRefPin(fields[2])
	if err != nil {
		return nil, err
	}

	index, err := strconv.Atoi(fields[3])
	if err != nil {
		return nil, fmt.Errorf("invalid sequencer index %q: %w", fields[3], err)
	}

	commits, err := parseCommitList(fields[4])
	if err != nil {
		return nil, err
	}

	return &State{
		Kind:         kind,
		OriginalHead: original,
		Target:       target,
		Commits:      commits,
		CurrentIndex: index,
		Message:      message,
	}, nil
}

func parseCommitList(field string) ([]git.CommitID, error) {
	if field == "" {
		return nil, nil
	}

	parts := strings.Split(field, ",")
	commits := make([]git.CommitID, len(parts))

	for i, p := range parts {
		id, err := parseCommitID(p)
		if err != nil {
			return nil, fmt.Errorf("invalid commit in commit list %q: %w", field, err)
		}

		commits[i] = id
	}

	return commits, nil
}
