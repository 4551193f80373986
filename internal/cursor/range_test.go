package cursor

import "testing"

func TestSpan(t *testing.T) {
	tests := []struct {
		start, end int
		want       Range
	}{
		{1, 4, Range{1, 4}},
		{4, 1, Range{1, 4}},
		{-3, 2, Range{0, 2}},
		{-3, -1, Range{0, 0}},
	}
	for _, tc := range tests {
		if got := Span(tc.start, tc.end); got != tc.want {
			t.Errorf("Span(%d, %d) = %v, want %v", tc.start, tc.end, got, tc.want)
		}
	}
}

func TestRangeIsEmpty(t *testing.T) {
	if !At(3).IsEmpty() {
		t.Error("caret should be empty")
	}
	if (Range{1, 2}).IsEmpty() {
		t.Error("range should not be empty")
	}
	if got := (Range{2, 7}).Len(); got != 5 {
		t.Errorf("Len = %d", got)
	}
}
