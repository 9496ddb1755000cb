package viewport

import "math"

// Config describes row geometry. Lists shorter than Threshold are rendered in full.
type Config struct {
	RowHeight int
	Overscan  int
	Threshold int
}

// Disabled returns a copy of c that never virtualizes.
func (c Config) Disabled() Config {
	c.Threshold = math.MaxInt
	return c
}

// Row is a positioned item.
type Row[T any] struct {
	Index  int `json:"index"`
	Offset int `json:"offset"`
	Item   T   `json:"item"`
}

// Frame is what a renderer draws for one scroll position.
type Frame[T any] struct {
	Range       Range    `json:"range"`
	TotalHeight int      `json:"total_height"`
	Rows        []Row[T] `json:"rows"`
}

// Virtualizer windows a list of T for a viewport of fixed height.
type Virtualizer[T any] struct {
	cfg            Config
	viewportHeight int
}

// New creates a Virtualizer for a viewport viewportHeight pixels tall.
func New[T any](cfg Config, viewportHeight int) *Virtualizer[T] {
	return &Virtualizer[T]{cfg: cfg, viewportHeight: viewportHeight}
}

// Resize changes the viewport height.
func (v *Virtualizer[T]) Resize(viewportHeight int) {
	v.viewportHeight = viewportHeight
}

// Range computes the visible index range for itemCount rows at scrollOffset.
func (v *Virtualizer[T]) Range(itemCount, scrollOffset int) Range {
	if itemCount < v.cfg.Threshold {
		if itemCount <= 0 {
			return emptyRange
		}
		return Range{Start: 0, End: itemCount - 1}
	}
	return Window(itemCount, v.cfg.RowHeight, v.viewportHeight, scrollOffset, v.cfg.Overscan)
}

// Visible returns the positioned rows of items to render at scrollOffset.
func (v *Virtualizer[T]) Visible(items []T, scrollOffset int) Frame[T] {
	r := v.Range(len(items), scrollOffset)
	frame := Frame[T]{
		Range:       r,
		TotalHeight: TotalHeight(len(items), v.cfg.RowHeight),
		Rows:        make([]Row[T], 0, r.Len()),
	}
	for i := r.Start; i <= r.End; i++ {
		frame.Rows = append(frame.Rows, Row[T]{
			Index:  i,
			Offset: OffsetForIndex(i, v.cfg.RowHeight),
			Item:   items[i],
		})
	}
	return frame
}
