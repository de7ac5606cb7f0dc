package git

// diff3Merge performs a line-based three-way merge of base/ours/theirs,
// returning the merged lines and whether the merge was clean (no
// overlapping conflicting edits). This is the fallback used by
// merge3Blob when a file changed on both sides of a three-way merge;
// see DESIGN.md for why it is hand-rolled rather than pulled from a
// library.
func diff3Merge(base, ours, theirs []string) ([]string, bool) {
	oursHunks := changeHunks(base, ours)
	theirsHunks := changeHunks(base, theirs)

	merged := make([]string, 0, len(ours)+len(theirs))

	baseIdx := 0
	oi, ti := 0, 0

	for baseIdx <= len(base) {
		var nextOurs, nextTheirs *hunk

		if oi < len(oursHunks) {
			nextOurs = &oursHunks[oi]
		}

		if ti < len(theirsHunks) {
			nextTheirs = &theirsHunks[ti]
		}

		switch {
		case nextOurs == nil && nextTheirs == nil:
			merged = append(merged, base[baseIdx:]...)
			baseIdx = len(base) + 1

		case nextOurs != nil && (nextTheirs == nil ||
			(nextOurs.baseStart < nextTheirs.baseStart && nextOurs.baseEnd <= nextTheirs.baseStart)):
			merged = append(merged, base[baseIdx:nextOurs.baseStart]...)
			merged = append(merged, nextOurs.lines...)
			baseIdx = nextOurs.baseEnd
			oi++

		case nextTheirs != nil && (nextOurs == nil ||
			(nextTheirs.baseStart < nextOurs.baseStart && nextTheirs.baseEnd <= nextOurs.baseStart)):
			merged = append(merged, base[baseIdx:nextTheirs.baseStart]...)
			merged = append(merged, nextTheirs.lines...)
			baseIdx = nextTheirs.baseEnd
			ti++

		default:
			// Both sides changed an overlapping base region; only an
			// identical edit of the same region merges cleanly.
			if nextOurs.baseStart != nextTheirs.baseStart || nextOurs.baseEnd != nextTheirs.baseEnd ||
				!linesEqual(nextOurs.lines, nextTheirs.lines) {
				return merged, false
			}

			merged = append(merged, base[baseIdx:nextOurs.baseStart]...)
			merged = append(merged, nextOurs.lines...)
			baseIdx = nextOurs.baseEnd
			oi++
			ti++
		}
	}

	return merged, true
}

// hunk is a single contiguous change region relative to base: lines
// [baseStart, baseEnd) in base were replaced by lines.
type hunk struct {
	baseStart, baseEnd int
	lines              []string
}

// changeHunks aligns base and modified via LCS and returns the
// contiguous regions of base that were replaced.
func changeHunks(base, modified []string) []hunk {
	matches := lcs(base, modified)

	var hunks []hunk

	bi, mi := 0, 0

	for _, m := range append(matches, [2]int{len(base), len(modified)}) {
		if bi < m[0] || mi < m[1] {
			hunks = append(hunks, hunk{
				baseStart: bi,
				baseEnd:   m[0],
				lines:     append([]string{}, modified[mi:m[1]]...),
			})
		}

		bi = m[0] + 1
		mi = m[1] + 1
	}

	return hunks
}

// lcs returns the index pairs (into base and modified respectively) of
// a longest common subsequence of matching lines, via straightforward
// O(n*m) dynamic programming. Adequate for the file sizes a
// meta-repository merge realistically touches in one hunk.
func lcs(a, b []string) [][2]int {
	n, m := len(a), len(b)

	dp := make([][]int, n+1)
	for i := range dp {
		dp[i] = make([]int, m+1)
	}

	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if a[i] == b[j] {
				dp[i][j] = dp[i+1][j+1] + 1
			} else if dp[i+1][j] >= dp[i][j+1] {
				dp[i][j] = dp[i+1][j]
			} else {
				dp[i][j] = dp[i][j+1]
			}
		}
	}

	var pairs [][2]int

	i, j := 0, 0
	for i < n && j < m {
		switch {
		case a[i] == b[j]:
			pairs = append(pairs, [2]int{i, j})
			i++
			j++
		case dp[i+1][j] >= dp[i][j+1]:
			i++
		default:
			j++
		}
	}

	return pairs
}

func linesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}

	return b
}
