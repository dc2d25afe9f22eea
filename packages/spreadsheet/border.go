package spreadsheet

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// BorderLineStyle is the line pattern of a border
type BorderLineStyle uint8

const (
	BorderLineNone BorderLineStyle = iota
	BorderLineSolid
	BorderLineDashed
	BorderLineDotted
	BorderLineDouble
	BorderLineThick
)

// BorderStyle is a border line. the zero value is "no border".
type BorderStyle struct {
	Line  BorderLineStyle
	Color string
}

// IsEmpty reports whether the style draws nothing
func (b BorderStyle) IsEmpty() bool {
	return b.Line == BorderLineNone
}

// BorderPositions selects the edges of a range a border applies to
type BorderPositions uint16

const (
	BorderLeft BorderPositions = 1 << iota
	BorderTop
	BorderRight
	BorderBottom
	BorderInsideHorizontal
	BorderInsideVertical
	BorderSlash
	BorderBackslash

	BorderOutside = BorderLeft | BorderTop | BorderRight | BorderBottom
	BorderInside  = BorderInsideHorizontal | BorderInsideVertical
	BorderAll     = BorderOutside | BorderInside
	BorderX       = BorderSlash | BorderBackslash
)

var borderPositionNames = []struct {
	pos  BorderPositions
	name string
}{
	{BorderLeft, "left"},
	{BorderTop, "top"},
	{BorderRight, "right"},
	{BorderBottom, "bottom"},
	{BorderInsideHorizontal, "insideHorizontal"},
	{BorderInsideVertical, "insideVertical"},
	{BorderSlash, "slash"},
	{BorderBackslash, "backslash"},
}

func (p BorderPositions) String() string {
	var parts []string
	for _, entry := range borderPositionNames {
		if p&entry.pos != 0 {
			parts = append(parts, entry.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// CellBorders are the borders drawn around one cell
type CellBorders struct {
	Top       BorderStyle
	Bottom    BorderStyle
	Left      BorderStyle
	Right     BorderStyle
	Slash     BorderStyle
	Backslash BorderStyle
}

// BorderModel stores borders canonically: every edge is stored once,
// horizontal edges under the cell below them and vertical edges under the
// cell to their right. diagonals belong to a single cell.
type BorderModel struct {
	horizontal map[CellPosition]BorderStyle // edge above the cell
	vertical   map[CellPosition]BorderStyle // edge left of the cell
	slash      map[CellPosition]BorderStyle
	backslash  map[CellPosition]BorderStyle
}

// NewBorderModel creates an empty border model
func NewBorderModel() *BorderModel {
	return &BorderModel{
		horizontal: make(map[CellPosition]BorderStyle),
		vertical:   make(map[CellPosition]BorderStyle),
		slash:      make(map[CellPosition]BorderStyle),
		backslash:  make(map[CellPosition]BorderStyle),
	}
}

func setEdge(edges map[CellPosition]BorderStyle, pos CellPosition, style BorderStyle) {
	if style.IsEmpty() {
		delete(edges, pos)
		return
	}
	edges[pos] = style
}

// set applies style to the edges of r selected by positions. edges lying
// inside a merged span and diagonals of placeholders are skipped.
func (bm *BorderModel) set(r RangePosition, positions BorderPositions, style BorderStyle, spans *SpanModel) {
	for col := r.Col; col <= r.EndCol(); col++ {
		if positions&BorderTop != 0 {
			bm.setHorizontal(CellPosition{Row: r.Row, Col: col}, style, spans)
		}
		if positions&BorderBottom != 0 {
			bm.setHorizontal(CellPosition{Row: r.EndRow() + 1, Col: col}, style, spans)
		}
		if positions&BorderInsideHorizontal != 0 {
			for row := r.Row + 1; row <= r.EndRow(); row++ {
				bm.setHorizontal(CellPosition{Row: row, Col: col}, style, spans)
			}
		}
	}
	for row := r.Row; row <= r.EndRow(); row++ {
		if positions&BorderLeft != 0 {
			bm.setVertical(CellPosition{Row: row, Col: r.Col}, style, spans)
		}
		if positions&BorderRight != 0 {
			bm.setVertical(CellPosition{Row: row, Col: r.EndCol() + 1}, style, spans)
		}
		if positions&BorderInsideVertical != 0 {
			for col := r.Col + 1; col <= r.EndCol(); col++ {
				bm.setVertical(CellPosition{Row: row, Col: col}, style, spans)
			}
		}
	}
	if positions&BorderX == 0 {
		return
	}
	for pos := range r.Positions() {
		if spans.isPlaceholder(pos) {
			continue
		}
		if positions&BorderSlash != 0 {
			setEdge(bm.slash, pos, style)
		}
		if positions&BorderBackslash != 0 {
			setEdge(bm.backslash, pos, style)
		}
	}
}

func (bm *BorderModel) setHorizontal(pos CellPosition, style BorderStyle, spans *SpanModel) {
	if isInteriorHorizontal(pos, spans) {
		return
	}
	setEdge(bm.horizontal, pos, style)
}

func (bm *BorderModel) setVertical(pos CellPosition, style BorderStyle, spans *SpanModel) {
	if isInteriorVertical(pos, spans) {
		return
	}
	setEdge(bm.vertical, pos, style)
}

// isInteriorHorizontal reports whether the edge above pos separates two
// cells of the same merged span
func isInteriorHorizontal(pos CellPosition, spans *SpanModel) bool {
	span, ok := spans.Containing(pos)
	return ok && pos.Row > span.Range.Row
}

// isInteriorVertical reports whether the edge left of pos separates two
// cells of the same merged span
func isInteriorVertical(pos CellPosition, spans *SpanModel) bool {
	span, ok := spans.Containing(pos)
	return ok && pos.Col > span.Range.Col
}

// get returns the borders drawn around pos
func (bm *BorderModel) get(pos CellPosition) CellBorders {
	return CellBorders{
		Top:       bm.horizontal[pos],
		Bottom:    bm.horizontal[CellPosition{Row: pos.Row + 1, Col: pos.Col}],
		Left:      bm.vertical[pos],
		Right:     bm.vertical[CellPosition{Row: pos.Row, Col: pos.Col + 1}],
		Slash:     bm.slash[pos],
		Backslash: bm.backslash[pos],
	}
}

// borderSnapshot holds the border records touching a region
type borderSnapshot struct {
	region     RangePosition
	horizontal map[CellPosition]BorderStyle
	vertical   map[CellPosition]BorderStyle
	slash      map[CellPosition]BorderStyle
	backslash  map[CellPosition]BorderStyle
}

// edgeRegion is r grown by one row and column, covering the bottom and
// right edges of r
func edgeRegion(r RangePosition) RangePosition {
	return RangePosition{Row: r.Row, Col: r.Col, Rows: r.Rows + 1, Cols: r.Cols + 1}
}

func pick(edges map[CellPosition]BorderStyle, region RangePosition) map[CellPosition]BorderStyle {
	result := make(map[CellPosition]BorderStyle)
	for pos, style := range edges {
		if region.Contains(pos) {
			result[pos] = style
		}
	}
	return result
}

// capture copies the border records of every edge of r
func (bm *BorderModel) capture(r RangePosition) borderSnapshot {
	region := edgeRegion(r)
	return borderSnapshot{
		region:     region,
		horizontal: pick(bm.horizontal, region),
		vertical:   pick(bm.vertical, region),
		slash:      pick(bm.slash, r),
		backslash:  pick(bm.backslash, r),
	}
}

// restore replaces the records of the captured region with the snapshot
func (bm *BorderModel) restore(snap borderSnapshot) {
	inner := RangePosition{Row: snap.region.Row, Col: snap.region.Col, Rows: snap.region.Rows - 1, Cols: snap.region.Cols - 1}
	for _, edges := range []map[CellPosition]BorderStyle{bm.horizontal, bm.vertical} {
		maps.DeleteFunc(edges, func(pos CellPosition, _ BorderStyle) bool { return snap.region.Contains(pos) })
	}
	for _, edges := range []map[CellPosition]BorderStyle{bm.slash, bm.backslash} {
		maps.DeleteFunc(edges, func(pos CellPosition, _ BorderStyle) bool { return inner.Contains(pos) })
	}
	maps.Copy(bm.horizontal, snap.horizontal)
	maps.Copy(bm.vertical, snap.vertical)
	maps.Copy(bm.slash, snap.slash)
	maps.Copy(bm.backslash, snap.backslash)
}

// removeInterior drops the edges inside a merged span and the diagonals of
// its placeholders
func (bm *BorderModel) removeInterior(span MergedSpan) {
	r := span.Range
	maps.DeleteFunc(bm.horizontal, func(pos CellPosition, _ BorderStyle) bool {
		return r.Contains(pos) && pos.Row > r.Row
	})
	maps.DeleteFunc(bm.vertical, func(pos CellPosition, _ BorderStyle) bool {
		return r.Contains(pos) && pos.Col > r.Col
	})
	for _, edges := range []map[CellPosition]BorderStyle{bm.slash, bm.backslash} {
		maps.DeleteFunc(edges, func(pos CellPosition, _ BorderStyle) bool { return span.IsPlaceholder(pos) })
	}
}

// clear drops every record of r's edges
func (bm *BorderModel) clear(r RangePosition) {
	bm.restore(borderSnapshot{region: edgeRegion(r)})
}

// adjust shifts every record through a structural edit, dropping those on
// deleted cells. the edge below a deleted band moves up to the band start.
func (bm *BorderModel) adjust(edit refEdit) {
	for _, edges := range []*map[CellPosition]BorderStyle{&bm.horizontal, &bm.vertical, &bm.slash, &bm.backslash} {
		next := make(map[CellPosition]BorderStyle, len(*edges))
		for _, pos := range slices.SortedFunc(maps.Keys(*edges), comparePositions) {
			if moved, ok := edit.mapCell(pos); ok {
				if _, taken := next[moved]; !taken {
					next[moved] = (*edges)[pos]
				}
			}
		}
		*edges = next
	}
}

// validate checks that no empty record is stored and no edge lies inside a
// merged span
func (bm *BorderModel) validate(spans *SpanModel) error {
	check := func(kind string, edges map[CellPosition]BorderStyle, interior func(CellPosition) bool) error {
		for pos, style := range edges {
			if style.IsEmpty() {
				return fmt.Errorf("%s border at %s is stored empty", kind, pos)
			}
			if interior(pos) {
				return fmt.Errorf("%s border at %s lies inside merged range", kind, pos)
			}
		}
		return nil
	}
	if err := check("horizontal", bm.horizontal, func(pos CellPosition) bool { return isInteriorHorizontal(pos, spans) }); err != nil {
		return err
	}
	if err := check("vertical", bm.vertical, func(pos CellPosition) bool { return isInteriorVertical(pos, spans) }); err != nil {
		return err
	}
	if err := check("slash", bm.slash, spans.isPlaceholder); err != nil {
		return err
	}
	return check("backslash", bm.backslash, spans.isPlaceholder)
}

// Count returns the number of stored border records
func (bm *BorderModel) Count() int {
	return len(bm.horizontal) + len(bm.vertical) + len(bm.slash) + len(bm.backslash)
}

func (bm *BorderModel) snapshot() *BorderModel {
	return &BorderModel{
		horizontal: maps.Clone(bm.horizontal),
		vertical:   maps.Clone(bm.vertical),
		slash:      maps.Clone(bm.slash),
		backslash:  maps.Clone(bm.backslash),
	}
}
