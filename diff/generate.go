package diff

import (
	"github.com/pmezard/go-difflib/difflib"
)

// GenerateUnified renders a unified diff between oldContent and
// newContent under the given path, in the textual form Parse expects.
// Used by ops.Diff to turn a ConflictEntry's raw Ours/Theirs blob
// content into something diff.Parse/output.FormatText can render,
// since MergeIndex only returns blob ids, not diff text.
func GenerateUnified(path string, oldContent, newContent []byte) (string, error) {
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(oldContent)),
		B:        difflib.SplitLines(string(newContent)),
		FromFile: "a/" + path,
		ToFile:   "b/" + path,
		Context:  3,
	})
}
