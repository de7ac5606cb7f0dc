package diff_test

import (
	"fmt"
	"testing"

	"github.com/mjpitz/metarepo/diff"
	"pgregory.net/rapid"
)

// TestDiffLineOpSymmetry verifies Op methods are consistent.
func TestDiffLineOpSymmetry(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		op := diff.LineOp(rapid.IntRange(0, 2).Draw(t, "op"))

		// Property: Prefix should be consistent with Op.
		prefix := op.Prefix()
		switch op {
		case diff.OpContext:
			if prefix != ' ' {
				t.Fatalf("context should have space prefix, got %c", prefix)
			}
		case diff.OpAdd:
			if prefix != '+' {
				t.Fatalf("add should have + prefix, got %c", prefix)
			}
		case diff.OpDelete:
			if prefix != '-' {
				t.Fatalf("delete should have - prefix, got %c", prefix)
			}
		}

		// Property: String should be non-empty.
		str := op.String()
		if str == "" {
			t.Fatal("op string should not be empty")
		}
		if str == "unknown" && op <= 2 {
			t.Fatal("valid op should not be unknown")
		}
	})
}

// TestDiffLineIsChange verifies IsChange is consistent with Op.
func TestDiffLineIsChange(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		op := diff.LineOp(rapid.IntRange(0, 2).Draw(t, "op"))
		line := diff.DiffLine{Op: op}

		isChange := line.IsChange()

		// Property: Only add and delete are changes.
		expectedChange := op == diff.OpAdd || op == diff.OpDelete
		if isChange != expectedChange {
			t.Fatalf("IsChange for op %v: want %v, got %v", op, expectedChange, isChange)
		}
	})
}

// TestHunkStatsConsistency verifies Stats matches line counts.
func TestHunkStatsConsistency(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		numLines := rapid.IntRange(1, 20).Draw(t, "numLines")
		var lines []diff.DiffLine

		expectedAdds := 0
		expectedDels := 0

		for i := 0; i < numLines; i++ {
			op := diff.LineOp(rapid.IntRange(0, 2).Draw(t, fmt.Sprintf("op%d", i)))
			lines = append(lines, diff.DiffLine{Op: op})

			switch op {
			case diff.OpAdd:
				expectedAdds++
			case diff.OpDelete:
				expectedDels++
			}
		}

		hunk := &diff.Hunk{Lines: lines}
		added, deleted := hunk.Stats()

		if added != expectedAdds {
			t.Fatalf("added mismatch: want %d, got %d", expectedAdds, added)
		}
		if deleted != expectedDels {
			t.Fatalf("deleted mismatch: want %d, got %d", expectedDels, deleted)
		}
	})
}

// TestParseFormatRoundtrip verifies a parsed unified diff renders back
// through FileDiff.Format without losing any line content.
func TestParseFormatRoundtrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		numHunks := rapid.IntRange(1, 3).Draw(t, "numHunks")

		raw := "--- a/file.go\n+++ b/file.go\n"
		oldLine, newLine := 1, 1

		for h := 0; h < numHunks; h++ {
			numLines := rapid.IntRange(1, 6).Draw(t, fmt.Sprintf("lines%d", h))
			oldStart, newStart := oldLine, newLine
			body := ""
			oldCount, newCount := 0, 0

			for i := 0; i < numLines; i++ {
				kind := rapid.IntRange(0, 2).Draw(t, fmt.Sprintf("kind%d-%d", h, i))
				content := rapid.StringMatching(`[a-zA-Z0-9 ]{0,10}`).
					Draw(t, fmt.Sprintf("content%d-%d", h, i))

				switch kind {
				case 0:
					body += " " + content + "\n"
					oldCount++
					newCount++
					oldLine++
					newLine++
				case 1:
					body += "+" + content + "\n"
					newCount++
					newLine++
				case 2:
					body += "-" + content + "\n"
					oldCount++
					oldLine++
				}
			}

			raw += fmt.Sprintf(
				"@@ -%d,%d +%d,%d @@\n%s",
				oldStart, oldCount, newStart, newCount, body,
			)
		}

		parsed, err := diff.Parse(raw)
		if err != nil {
			t.Fatalf("parse failed on generated diff: %v\n%s", err, raw)
		}

		if parsed.FileCount() != 1 {
			t.Fatalf("expected 1 file, got %d", parsed.FileCount())
		}

		file := parsed.AllFiles()[0]
		if len(file.Hunks) != numHunks {
			t.Fatalf("expected %d hunks, got %d", numHunks, len(file.Hunks))
		}

		if got := file.Format(); got != raw {
			t.Fatalf("format mismatch:\nwant:\n%s\ngot:\n%s", raw, got)
		}
	})
}
