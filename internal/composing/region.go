package composing

import "fmt"

// Region is the range of the host field currently under composition.
// While non-empty, End-Start equals the length of the displayed preedit.
// Start is meaningless once the region is cleared.
type Region struct {
	Start int
	End   int
}

// Update moves the region to [start, end).
func (r *Region) Update(start, end int) {
	if end < start {
		start, end = end, start
	}
	r.Start, r.End = start, end
}

// Clear empties the region.
func (r *Region) Clear() {
	r.Start, r.End = 0, 0
}

// IsEmpty reports whether nothing is being composed.
func (r *Region) IsEmpty() bool {
	return r.Start == r.End
}

// Contains reports whether a caret at pos touches the composition. A caret
// at End sits right after the last composed character and is included.
func (r *Region) Contains(pos int) bool {
	if r.IsEmpty() {
		return false
	}
	return pos >= r.Start && pos <= r.End
}

func (r *Region) String() string {
	if r.IsEmpty() {
		return "[]"
	}
	return fmt.Sprintf("[%d,%d)", r.Start, r.End)
}
