// Package cursor tracks the host field's selection and the selections the
// session expects the host to report back after edits it issued itself.
package cursor

import "fmt"

// Range is a selection in the host field, in host code units.
// An empty range is a caret.
type Range struct {
	Start int
	End   int
}

// At returns the caret at pos.
func At(pos int) Range {
	return Range{Start: pos, End: pos}
}

// Span returns the range [start, end], swapping the bounds if needed and
// clamping both at zero.
func Span(start, end int) Range {
	if end < start {
		start, end = end, start
	}
	return Range{Start: max(start, 0), End: max(end, 0)}
}

// IsEmpty reports whether the range is a caret.
func (r Range) IsEmpty() bool {
	return r.Start == r.End
}

// Len returns the number of code units covered by the range.
func (r Range) Len() int {
	return r.End - r.Start
}

// Offset returns the range shifted by the given deltas, clamped at zero.
func (r Range) Offset(dStart, dEnd int) Range {
	return Span(r.Start+dStart, r.End+dEnd)
}

func (r Range) String() string {
	if r.IsEmpty() {
		return fmt.Sprintf("[%d]", r.Start)
	}
	return fmt.Sprintf("[%d,%d)", r.Start, r.End)
}
