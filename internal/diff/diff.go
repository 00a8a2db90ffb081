// internal/diff/diff.go
package diff

import "strings"

// Kind classifies a single edit operation.
type Kind int

const (
	Keep Kind = iota
	Add
	Remove
)

func (k Kind) String() string {
	switch k {
	case Keep:
		return "keep"
	case Add:
		return "add"
	case Remove:
		return "remove"
	}
	return "unknown"
}

// Op is one line of an edit script turning old into new.
type Op struct {
	Kind Kind
	Line string
}

// Algorithm computes an edit script between two line sequences.
type Algorithm interface {
	Compute(old, new []string) []Op
}

// ByName returns the algorithm registered under name: "myers", "lcs" or
// "simple".
func ByName(name string) (Algorithm, bool) {
	switch name {
	case "myers":
		return MyersDiff{}, true
	case "lcs":
		return LCSDiff{}, true
	case "simple":
		return SimpleDiff{}, true
	}
	return nil, false
}

// SimpleDiff is a single two-pointer pass. When the current lines differ it
// removes the old line if it sorts before the new one and adds the new
// line otherwise. It runs in O(n+m) but the result is NOT minimal: a line
// inserted early can push every following common line into a
// remove/add pair.
type SimpleDiff struct{}

func (SimpleDiff) Compute(old, new []string) []Op {
	ops := make([]Op, 0, len(old)+len(new))
	i, j := 0, 0
	for i < len(old) || j < len(new) {
		switch {
		case i < len(old) && j < len(new) && old[i] == new[j]:
			ops = append(ops, Op{Kind: Keep, Line: old[i]})
			i++
			j++
		case j >= len(new) || (i < len(old) && old[i] < new[j]):
			ops = append(ops, Op{Kind: Remove, Line: old[i]})
			i++
		default:
			ops = append(ops, Op{Kind: Add, Line: new[j]})
			j++
		}
	}
	return ops
}

// LCSDiff builds the full longest-common-subsequence table. Minimal, but
// O(n*m) in time and memory.
type LCSDiff struct{}

func (LCSDiff) Compute(old, new []string) []Op {
	n, m := len(old), len(new)

	// table[i][j] is the LCS length of old[i:] and new[j:].
	table := make([][]int, n+1)
	for i := range table {
		table[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if old[i] == new[j] {
				table[i][j] = table[i+1][j+1] + 1
			} else {
				table[i][j] = max(table[i+1][j], table[i][j+1])
			}
		}
	}

	ops := make([]Op, 0, n+m)
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case old[i] == new[j]:
			ops = append(ops, Op{Kind: Keep, Line: old[i]})
			i++
			j++
		case table[i+1][j] >= table[i][j+1]:
			ops = append(ops, Op{Kind: Remove, Line: old[i]})
			i++
		default:
			ops = append(ops, Op{Kind: Add, Line: new[j]})
			j++
		}
	}
	for ; i < n; i++ {
		ops = append(ops, Op{Kind: Remove, Line: old[i]})
	}
	for ; j < m; j++ {
		ops = append(ops, Op{Kind: Add, Line: new[j]})
	}
	return ops
}

// MyersDiff finds a shortest edit script in O((n+m)*d) time, where d is
// the size of that script.
type MyersDiff struct{}

func (MyersDiff) Compute(old, new []string) []Op {
	n, m := len(old), len(new)
	if n == 0 && m == 0 {
		return nil
	}

	offset := n + m
	v := make([]int, 2*offset+2)
	var trace [][]int

	for d := 0; d <= offset; d++ {
		for k := -d; k <= d; k += 2 {
			var x int
			if k == -d || (k != d && v[offset+k-1] < v[offset+k+1]) {
				x = v[offset+k+1]
			} else {
				x = v[offset+k-1] + 1
			}
			y := x - k
			for x < n && y < m && old[x] == new[y] {
				x++
				y++
			}
			v[offset+k] = x

			if x >= n && y >= m {
				trace = append(trace, append([]int(nil), v...))
				return myersBacktrack(trace, old, new, offset)
			}
		}
		trace = append(trace, append([]int(nil), v...))
	}
	return nil
}

func myersBacktrack(trace [][]int, old, new []string, offset int) []Op {
	x, y := len(old), len(new)
	var rev []Op

	for d := len(trace) - 1; d > 0; d-- {
		prev := trace[d-1]
		k := x - y

		var prevK int
		if k == -d || (k != d && prev[offset+k-1] < prev[offset+k+1]) {
			prevK = k + 1
		} else {
			prevK = k - 1
		}
		prevX := prev[offset+prevK]
		prevY := prevX - prevK

		for x > prevX && y > prevY {
			x--
			y--
			rev = append(rev, Op{Kind: Keep, Line: old[x]})
		}
		if prevK == k+1 {
			y--
			rev = append(rev, Op{Kind: Add, Line: new[y]})
		} else {
			x--
			rev = append(rev, Op{Kind: Remove, Line: old[x]})
		}
	}
	for x > 0 && y > 0 {
		x--
		y--
		rev = append(rev, Op{Kind: Keep, Line: old[x]})
	}

	ops := make([]Op, len(rev))
	for i, op := range rev {
		ops[len(rev)-1-i] = op
	}
	return ops
}

// SplitLines splits text into lines. A trailing newline does not produce
// an empty final line.
func SplitLines(text []byte) []string {
	if len(text) == 0 {
		return nil
	}
	s := strings.TrimSuffix(string(text), "\n")
	return strings.Split(s, "\n")
}

// JoinLines is the inverse of SplitLines for newline-terminated text.
func JoinLines(lines []string) []byte {
	if len(lines) == 0 {
		return []byte{}
	}
	return []byte(strings.Join(lines, "\n") + "\n")
}

// Apply replays ops and returns the new side.
func Apply(ops []Op) []string {
	var out []string
	for _, op := range ops {
		if op.Kind != Remove {
			out = append(out, op.Line)
		}
	}
	return out
}

// Source replays ops and returns the old side.
func Source(ops []Op) []string {
	var out []string
	for _, op := range ops {
		if op.Kind != Add {
			out = append(out, op.Line)
		}
	}
	return out
}
