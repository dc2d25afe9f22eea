package spreadsheet

import (
	"fmt"
	"slices"
)

// MergedSpan is a merged rectangle. the anchor (top-left) cell holds the
// visible content; every other cell of the span is a placeholder that
// redirects reads and writes to the anchor.
type MergedSpan struct {
	Range RangePosition
}

// Anchor returns the top-left cell of the span
func (s MergedSpan) Anchor() CellPosition {
	return s.Range.StartPos()
}

// IsPlaceholder reports whether pos is a non-anchor cell of the span
func (s MergedSpan) IsPlaceholder(pos CellPosition) bool {
	return s.Range.Contains(pos) && pos != s.Anchor()
}

func (s MergedSpan) String() string {
	return s.Range.String()
}

// SpanModel tracks the merged spans of a worksheet. spans never overlap.
type SpanModel struct {
	spans []MergedSpan // sorted row-major by anchor
}

// NewSpanModel creates an empty span model
func NewSpanModel() *SpanModel {
	return &SpanModel{}
}

// Merge adds a span for r. fails with ErrRangeTooSmall for single cells and
// ErrRangeIntersection when r intersects an existing span; nothing changes
// on failure.
func (sm *SpanModel) Merge(r RangePosition) (MergedSpan, error) {
	if r.IsEntire() || !r.IsValid() {
		return MergedSpan{}, newKindError(InvalidArgument, ErrInvalidAddress, "invalid merge range %v", r)
	}
	if r.CellCount() < 2 {
		return MergedSpan{}, newKindError(InvalidArgument, ErrRangeTooSmall, "range %s is too small to merge", r)
	}
	if hits := sm.Intersecting(r); len(hits) > 0 {
		return MergedSpan{}, newKindError(FailedPrecondition, ErrRangeIntersection, "range %s intersects merged range %s", r, hits[0])
	}

	span := MergedSpan{Range: r}
	sm.insert(span)
	return span, nil
}

func (sm *SpanModel) insert(span MergedSpan) {
	i, _ := slices.BinarySearchFunc(sm.spans, span, compareSpans)
	sm.spans = slices.Insert(sm.spans, i, span)
}

func compareSpans(a, b MergedSpan) int {
	return comparePositions(a.Anchor(), b.Anchor())
}

// Unmerge removes every span fully contained in r and returns them
func (sm *SpanModel) Unmerge(r RangePosition) []MergedSpan {
	var removed []MergedSpan
	sm.spans = slices.DeleteFunc(sm.spans, func(span MergedSpan) bool {
		if r.ContainsRange(span.Range) {
			removed = append(removed, span)
			return true
		}
		return false
	})
	return removed
}

// IsMerged reports whether pos belongs to a merged span
func (sm *SpanModel) IsMerged(pos CellPosition) bool {
	_, ok := sm.Containing(pos)
	return ok
}

// Containing returns the span containing pos
func (sm *SpanModel) Containing(pos CellPosition) (MergedSpan, bool) {
	for _, span := range sm.spans {
		if span.Range.Row > pos.Row {
			break
		}
		if span.Range.Contains(pos) {
			return span, true
		}
	}
	return MergedSpan{}, false
}

// Intersecting returns the spans that share at least one cell with r
func (sm *SpanModel) Intersecting(r RangePosition) []MergedSpan {
	var result []MergedSpan
	for _, span := range sm.spans {
		if span.Range.Intersects(r) {
			result = append(result, span)
		}
	}
	return result
}

// All returns every span in row-major order of the anchors
func (sm *SpanModel) All() []MergedSpan {
	return slices.Clone(sm.spans)
}

// Count returns the number of spans
func (sm *SpanModel) Count() int {
	return len(sm.spans)
}

// resolve returns the anchor for placeholders and pos itself otherwise
func (sm *SpanModel) resolve(pos CellPosition) CellPosition {
	if span, ok := sm.Containing(pos); ok {
		return span.Anchor()
	}
	return pos
}

// isPlaceholder reports whether pos is a non-anchor cell of a span
func (sm *SpanModel) isPlaceholder(pos CellPosition) bool {
	span, ok := sm.Containing(pos)
	return ok && span.IsPlaceholder(pos)
}

// expand grows r until no span crosses its border
func (sm *SpanModel) expand(r RangePosition) RangePosition {
	for changed := true; changed; {
		changed = false
		for _, span := range sm.spans {
			if span.Range.Intersects(r) && !r.ContainsRange(span.Range) {
				r = RangeBetween(
					CellPosition{Row: min(r.Row, span.Range.Row), Col: min(r.Col, span.Range.Col)},
					CellPosition{Row: max(r.EndRow(), span.Range.EndRow()), Col: max(r.EndCol(), span.Range.EndCol())},
				)
				changed = true
			}
		}
	}
	return r
}

// adjust maps every span through a structural edit. spans that lose all
// their cells or shrink to one cell are dropped.
func (sm *SpanModel) adjust(edit refEdit) {
	adjusted := sm.spans[:0]
	for _, span := range sm.spans {
		next, ok := edit.mapRange(span.Range)
		if !ok || next.CellCount() < 2 {
			continue
		}
		adjusted = append(adjusted, MergedSpan{Range: next})
	}
	sm.spans = adjusted
	slices.SortFunc(sm.spans, compareSpans)
}

// validate checks the span invariants against a worksheet of the given size
func (sm *SpanModel) validate(rows, cols int) error {
	for i, span := range sm.spans {
		if span.Range.CellCount() < 2 {
			return fmt.Errorf("merged range %s has a single cell", span)
		}
		if span.Range.Row < 0 || span.Range.Col < 0 || span.Range.EndRow() >= rows || span.Range.EndCol() >= cols {
			return fmt.Errorf("merged range %s is out of bounds", span)
		}
		for _, other := range sm.spans[i+1:] {
			if span.Range.Intersects(other.Range) {
				return fmt.Errorf("merged ranges %s and %s overlap", span, other)
			}
		}
	}
	return nil
}

func (sm *SpanModel) snapshot() *SpanModel {
	return &SpanModel{spans: slices.Clone(sm.spans)}
}
