package spreadsheet

import (
	"fmt"
	"slices"
)

// OutlineAxis selects rows or columns
type OutlineAxis uint8

const (
	OutlineRow OutlineAxis = iota
	OutlineColumn
)

func (a OutlineAxis) String() string {
	if a == OutlineColumn {
		return "column"
	}
	return "row"
}

// DefaultMaxOutlineDepth is the default nesting limit of outlines
const DefaultMaxOutlineDepth = 8

// Outline groups Count rows or columns starting at Start. Level is 1 for
// top-level outlines and grows with nesting.
type Outline struct {
	Axis      OutlineAxis
	Start     int
	Count     int
	Level     int
	Collapsed bool
}

// End returns the index after the last grouped row or column
func (o Outline) End() int {
	return o.Start + o.Count
}

func (o Outline) contains(other Outline) bool {
	return o.Start <= other.Start && other.End() <= o.End()
}

func (o Outline) overlaps(other Outline) bool {
	return o.Start < other.End() && other.Start < o.End()
}

func (o Outline) sameSpan(other Outline) bool {
	return o.Start == other.Start && o.Count == other.Count
}

// OutlineManager holds the row and column outlines of a worksheet.
// outlines on one axis nest or are disjoint, never partially overlap.
type OutlineManager struct {
	outlines [2][]*Outline
	maxDepth int
}

// NewOutlineManager creates an outline manager with the given nesting limit
func NewOutlineManager(maxDepth int) *OutlineManager {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxOutlineDepth
	}
	return &OutlineManager{maxDepth: maxDepth}
}

// Add groups count indexes of axis starting at start. limit is the number
// of rows or columns of the worksheet.
func (om *OutlineManager) Add(axis OutlineAxis, start, count, limit int) (Outline, error) {
	if start < 0 || count < 1 || start+count > limit {
		return Outline{}, newKindError(OutOfRange, ErrOutlineOutOfRange, "%s outline %d+%d is out of range", axis, start, count)
	}

	candidate := Outline{Axis: axis, Start: start, Count: count}
	for _, existing := range om.outlines[axis] {
		if existing.sameSpan(candidate) {
			return Outline{}, newKindError(AlreadyExists, ErrOutlineAlreadyDefined, "%s outline %d+%d is already defined", axis, start, count)
		}
		if existing.overlaps(candidate) && !existing.contains(candidate) && !candidate.contains(*existing) {
			return Outline{}, newKindError(FailedPrecondition, ErrOutlineIntersected, "%s outline %d+%d intersects %d+%d", axis, start, count, existing.Start, existing.Count)
		}
	}

	next := append(slices.Clone(om.outlines[axis]), &candidate)
	if depth := maxLevel(next); depth > om.maxDepth {
		return Outline{}, newKindError(ResourceExhausted, ErrOutlineTooMuch, "%s outline nesting depth %d exceeds %d", axis, depth, om.maxDepth)
	}

	om.outlines[axis] = next
	om.relevel(axis)
	return candidate, nil
}

// Remove removes the outline matching start and count exactly
func (om *OutlineManager) Remove(axis OutlineAxis, start, count int) (Outline, bool) {
	for i, existing := range om.outlines[axis] {
		if existing.Start == start && existing.Count == count {
			removed := *existing
			om.outlines[axis] = slices.Delete(om.outlines[axis], i, i+1)
			om.relevel(axis)
			return removed, true
		}
	}
	return Outline{}, false
}

// ClearAll removes every outline of axis
func (om *OutlineManager) ClearAll(axis OutlineAxis) []Outline {
	removed := om.Outlines(axis)
	om.outlines[axis] = nil
	return removed
}

// Outlines returns the outlines of axis ordered by start, outer first
func (om *OutlineManager) Outlines(axis OutlineAxis) []Outline {
	result := make([]Outline, 0, len(om.outlines[axis]))
	for _, outline := range om.outlines[axis] {
		result = append(result, *outline)
	}
	return result
}

// SetCollapsed collapses or expands the outline matching start and count
func (om *OutlineManager) SetCollapsed(axis OutlineAxis, start, count int, collapsed bool) error {
	for _, existing := range om.outlines[axis] {
		if existing.Start == start && existing.Count == count {
			existing.Collapsed = collapsed
			return nil
		}
	}
	return newKindError(NotFound, ErrOutlineNotFound, "%s outline %d+%d not found", axis, start, count)
}

// IsHidden reports whether index lies inside a collapsed outline
func (om *OutlineManager) IsHidden(axis OutlineAxis, index int) bool {
	for _, outline := range om.outlines[axis] {
		if outline.Collapsed && index >= outline.Start && index < outline.End() {
			return true
		}
	}
	return false
}

// relevel sorts the outlines of axis and recomputes their levels
func (om *OutlineManager) relevel(axis OutlineAxis) {
	outlines := om.outlines[axis]
	slices.SortFunc(outlines, func(a, b *Outline) int {
		if a.Start != b.Start {
			return a.Start - b.Start
		}
		return b.Count - a.Count // outer first
	})
	for _, outline := range outlines {
		outline.Level = 1
		for _, other := range outlines {
			if other != outline && other.contains(*outline) {
				outline.Level++
			}
		}
	}
}

func maxLevel(outlines []*Outline) int {
	depth := 0
	for _, outline := range outlines {
		level := 1
		for _, other := range outlines {
			if other != outline && other.contains(*outline) {
				level++
			}
		}
		depth = max(depth, level)
	}
	return depth
}

// adjust shifts the outlines of axis through an insertion (count > 0) or
// deletion (count < 0) at at. outlines grow when rows are inserted inside
// them and shrink or disappear when their rows are deleted.
func (om *OutlineManager) adjust(axis OutlineAxis, at, count, limit int) {
	var adjusted []*Outline
	for _, outline := range om.outlines[axis] {
		start, end, ok := shiftSpan(outline.Start, outline.End()-1, at, count, limit)
		if !ok {
			continue
		}
		outline.Start, outline.Count = start, end-start+1
		duplicate := slices.ContainsFunc(adjusted, func(o *Outline) bool { return o.sameSpan(*outline) })
		if !duplicate {
			adjusted = append(adjusted, outline)
		}
	}
	om.outlines[axis] = adjusted
	om.relevel(axis)
}

// validate checks that no two outlines of an axis partially overlap and
// that the nesting limit holds
func (om *OutlineManager) validate() error {
	for axis, outlines := range om.outlines {
		for i, a := range outlines {
			for _, b := range outlines[i+1:] {
				if a.overlaps(*b) && !a.contains(*b) && !b.contains(*a) {
					return fmt.Errorf("%s outlines %d+%d and %d+%d intersect", OutlineAxis(axis), a.Start, a.Count, b.Start, b.Count)
				}
			}
		}
		if depth := maxLevel(outlines); depth > om.maxDepth {
			return fmt.Errorf("%s outline depth %d exceeds %d", OutlineAxis(axis), depth, om.maxDepth)
		}
	}
	return nil
}

func (om *OutlineManager) snapshot() *OutlineManager {
	cp := &OutlineManager{maxDepth: om.maxDepth}
	for axis, outlines := range om.outlines {
		for _, outline := range outlines {
			o := *outline
			cp.outlines[axis] = append(cp.outlines[axis], &o)
		}
	}
	return cp
}
