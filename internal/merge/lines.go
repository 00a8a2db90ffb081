package merge

import (
	"slices"

	"vv/internal/diff"
)

// Region is a span of base lines that both sides changed differently.
type Region struct {
	BaseStart int // 0-based, inclusive
	BaseEnd   int // exclusive
	Base      []string
	Ours      []string
	Theirs    []string
}

// edit replaces base[start:end] with lines.
type edit struct {
	start, end int
	lines      []string
}

// edits groups a base->side edit script into contiguous changed regions.
func edits(ops []diff.Op) []edit {
	var out []edit
	pos := 0
	for i := 0; i < len(ops); {
		if ops[i].Kind == diff.Keep {
			pos++
			i++
			continue
		}
		e := edit{start: pos}
		for ; i < len(ops) && ops[i].Kind != diff.Keep; i++ {
			if ops[i].Kind == diff.Remove {
				pos++
			} else {
				e.lines = append(e.lines, ops[i].Line)
			}
		}
		e.end = pos
		out = append(out, e)
	}
	return out
}

// touches reports whether an edit collides with the span [start, end).
// Insertions collide with anything that starts, ends or lies at their
// position, since their relative order is undecidable.
func (e edit) touches(start, end int) bool {
	if e.start == e.end || start == end {
		return e.start <= end && start <= e.end
	}
	return e.start < end && start < e.end
}

// apply rebuilds base[start:end] with the given side's edits, all of which
// lie inside the span.
func apply(base []string, start, end int, side []edit) []string {
	out := []string{}
	pos := start
	for _, e := range side {
		out = append(out, base[pos:e.start]...)
		out = append(out, e.lines...)
		pos = e.end
	}
	return append(out, base[pos:end]...)
}

// Lines merges two descendants of base line by line. Changes to disjoint
// regions are combined and identical changes converge. Regions changed
// differently on both sides are returned as conflicts; for those the merged
// output holds the base lines.
func Lines(algorithm diff.Algorithm, base, ours, theirs []string) ([]string, []Region) {
	oursEdits := edits(algorithm.Compute(base, ours))
	theirsEdits := edits(algorithm.Compute(base, theirs))

	var merged []string
	var conflicts []Region
	pos, i, j := 0, 0, 0

	for i < len(oursEdits) || j < len(theirsEdits) {
		var start, end int
		var o, t []edit

		switch {
		case j >= len(theirsEdits) || (i < len(oursEdits) && oursEdits[i].start <= theirsEdits[j].start):
			start, end = oursEdits[i].start, oursEdits[i].end
			o = append(o, oursEdits[i])
			i++
		default:
			start, end = theirsEdits[j].start, theirsEdits[j].end
			t = append(t, theirsEdits[j])
			j++
		}

		// Grow the span until neither side has an edit touching it.
		for grew := true; grew; {
			grew = false
			if i < len(oursEdits) && oursEdits[i].touches(start, end) {
				end = max(end, oursEdits[i].end)
				o = append(o, oursEdits[i])
				i++
				grew = true
			}
			if j < len(theirsEdits) && theirsEdits[j].touches(start, end) {
				end = max(end, theirsEdits[j].end)
				t = append(t, theirsEdits[j])
				j++
				grew = true
			}
		}

		merged = append(merged, base[pos:start]...)
		pos = end

		switch {
		case len(t) == 0:
			merged = append(merged, apply(base, start, end, o)...)
		case len(o) == 0:
			merged = append(merged, apply(base, start, end, t)...)
		default:
			oursOut := apply(base, start, end, o)
			theirsOut := apply(base, start, end, t)
			if slices.Equal(oursOut, theirsOut) {
				merged = append(merged, oursOut...)
				continue
			}
			merged = append(merged, base[start:end]...)
			conflicts = append(conflicts, Region{
				BaseStart: start,
				BaseEnd:   end,
				Base:      slices.Clone(base[start:end]),
				Ours:      oursOut,
				Theirs:    theirsOut,
			})
		}
	}

	return append(merged, base[pos:]...), conflicts
}
