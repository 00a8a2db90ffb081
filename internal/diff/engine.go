package diff

import (
	"bytes"
	"fmt"
)

// Line is one rendered line of a hunk with its 1-based line numbers. OldNum
// is zero for additions and NewNum is zero for removals.
type Line struct {
	Kind    Kind
	Content string
	OldNum  int
	NewNum  int
}

// Hunk represents a continuous section of changes plus surrounding context.
type Hunk struct {
	OldStart int
	OldLines int
	NewStart int
	NewLines int
	Lines    []Line
}

// Result contains the complete diff information.
type Result struct {
	Hunks []Hunk
	Stats struct {
		Additions int
		Deletions int
	}
}

// Engine provides diffing capabilities with a pluggable algorithm.
type Engine struct {
	algorithm    Algorithm
	contextLines int
}

// NewEngine creates a diff engine. A nil algorithm selects SimpleDiff.
func NewEngine(algorithm Algorithm, contextLines int) *Engine {
	if algorithm == nil {
		algorithm = SimpleDiff{}
	}
	if contextLines < 0 {
		contextLines = 0
	}
	return &Engine{
		algorithm:    algorithm,
		contextLines: contextLines,
	}
}

// SetAlgorithm swaps the algorithm used by subsequent calls.
func (e *Engine) SetAlgorithm(algorithm Algorithm) {
	if algorithm != nil {
		e.algorithm = algorithm
	}
}

func (e *Engine) Compute(old, new []string) []Op {
	return e.algorithm.Compute(old, new)
}

// Lines diffs two texts line by line.
func (e *Engine) Lines(oldContent, newContent []byte) []Op {
	return e.algorithm.Compute(SplitLines(oldContent), SplitLines(newContent))
}

// Diff generates hunks with context between two texts.
func (e *Engine) Diff(oldContent, newContent []byte) *Result {
	ops := e.Lines(oldContent, newContent)

	result := &Result{Hunks: e.Hunks(ops)}
	for _, op := range ops {
		switch op.Kind {
		case Add:
			result.Stats.Additions++
		case Remove:
			result.Stats.Deletions++
		}
	}
	return result
}

// Hunks groups an edit script into hunks. Changes separated by no more than
// twice the context width share a hunk.
func (e *Engine) Hunks(ops []Op) []Hunk {
	lines := number(ops)

	var changes []int
	for i, op := range ops {
		if op.Kind != Keep {
			changes = append(changes, i)
		}
	}
	if len(changes) == 0 {
		return nil
	}

	var hunks []Hunk
	first := changes[0]
	last := first
	flush := func() {
		lo := max(0, first-e.contextLines)
		hi := min(len(ops)-1, last+e.contextLines)
		hunks = append(hunks, makeHunk(lines[lo:hi+1]))
	}
	for _, c := range changes[1:] {
		if c-last-1 > 2*e.contextLines {
			flush()
			first = c
		}
		last = c
	}
	flush()

	return hunks
}

// number assigns 1-based line numbers and records how many lines of each
// side precede every op.
func number(ops []Op) []numbered {
	lines := make([]numbered, len(ops))
	oldNum, newNum := 0, 0
	for i, op := range ops {
		l := numbered{
			Line:      Line{Kind: op.Kind, Content: op.Line},
			oldBefore: oldNum,
			newBefore: newNum,
		}
		if op.Kind != Add {
			oldNum++
			l.OldNum = oldNum
		}
		if op.Kind != Remove {
			newNum++
			l.NewNum = newNum
		}
		lines[i] = l
	}
	return lines
}

type numbered struct {
	Line
	oldBefore, newBefore int
}

func makeHunk(lines []numbered) Hunk {
	h := Hunk{Lines: make([]Line, len(lines))}
	for i, l := range lines {
		h.Lines[i] = l.Line
		if l.Kind != Add {
			h.OldLines++
		}
		if l.Kind != Remove {
			h.NewLines++
		}
	}

	// An empty side names the line it follows, as unified diffs do.
	h.OldStart = lines[0].oldBefore
	if h.OldLines > 0 {
		h.OldStart++
	}
	h.NewStart = lines[0].newBefore
	if h.NewLines > 0 {
		h.NewStart++
	}
	return h
}

// Format renders the result in unified diff hunk syntax.
func (r *Result) Format() string {
	var buf bytes.Buffer

	for _, hunk := range r.Hunks {
		fmt.Fprintf(&buf, "@@ -%d,%d +%d,%d @@\n",
			hunk.OldStart, hunk.OldLines,
			hunk.NewStart, hunk.NewLines)

		for _, line := range hunk.Lines {
			switch line.Kind {
			case Add:
				buf.WriteByte('+')
			case Remove:
				buf.WriteByte('-')
			default:
				buf.WriteByte(' ')
			}
			buf.WriteString(line.Content)
			buf.WriteByte('\n')
		}
	}

	return buf.String()
}
