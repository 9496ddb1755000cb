// Package viewport computes which rows of a fixed-height list are visible for a
// scroll offset. Results depend only on the item count and the offset, so a list
// can grow or shrink without disturbing the user's scroll position.
package viewport

// Range is an inclusive index range. An empty range has End < Start.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Empty reports whether the range selects no rows.
func (r Range) Empty() bool { return r.End < r.Start }

// Len is the number of rows in the range.
func (r Range) Len() int {
	if r.Empty() {
		return 0
	}
	return r.End - r.Start + 1
}

// Contains reports whether index falls within the range.
func (r Range) Contains(index int) bool {
	return !r.Empty() && index >= r.Start && index <= r.End
}

var emptyRange = Range{Start: 0, End: -1}

// Window returns the rows to render: those intersecting the viewport widened by
// overscan rows on each side, clamped to [0, itemCount-1].
func Window(itemCount, rowHeight, viewportHeight, scrollOffset, overscan int) Range {
	if itemCount <= 0 || rowHeight <= 0 {
		return emptyRange
	}
	if scrollOffset < 0 {
		scrollOffset = 0
	}
	if viewportHeight < 0 {
		viewportHeight = 0
	}
	if overscan < 0 {
		overscan = 0
	}

	start := scrollOffset/rowHeight - overscan
	end := ceilDiv(scrollOffset+viewportHeight, rowHeight) + overscan

	start = clamp(start, 0, itemCount-1)
	end = clamp(end, 0, itemCount-1)
	if start > end {
		return emptyRange
	}
	return Range{Start: start, End: end}
}

// TotalHeight is the scroll extent of itemCount rows.
func TotalHeight(itemCount, rowHeight int) int {
	if itemCount <= 0 || rowHeight <= 0 {
		return 0
	}
	return itemCount * rowHeight
}

// OffsetForIndex is the pixel offset at which row index starts.
func OffsetForIndex(index, rowHeight int) int {
	if index <= 0 || rowHeight <= 0 {
		return 0
	}
	return index * rowHeight
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
