package spreadsheet

import (
	"iter"
	"strconv"
	"strings"
)

const (
	MaxRows    = 1048576 // rows addressable on a worksheet
	MaxColumns = 32768   // columns addressable on a worksheet

	maxColumnLetters = 4
)

// CellPosition is a zero-based (row, column) pair
type CellPosition struct {
	Row int
	Col int
}

// Pos is shorthand for CellPosition{Row: row, Col: col}
func Pos(row, col int) CellPosition {
	return CellPosition{Row: row, Col: col}
}

// IsValid reports whether the position lies inside the worksheet limits
func (p CellPosition) IsValid() bool {
	return p.Row >= 0 && p.Row < MaxRows && p.Col >= 0 && p.Col < MaxColumns
}

// String formats the position as an A1-style address
func (p CellPosition) String() string {
	return ColumnName(p.Col) + strconv.Itoa(p.Row+1)
}

// RangePosition is a rectangle of cells. Rows and Cols are counts, both at
// least 1 for a concrete range. EntireRange is the sentinel for "the whole
// worksheet" and is resolved against the worksheet size by Resolve.
type RangePosition struct {
	Row  int
	Col  int
	Rows int
	Cols int
}

// EntireRange addresses every cell of a worksheet
var EntireRange = RangePosition{Row: 0, Col: 0, Rows: -1, Cols: -1}

// NewRangePosition creates a range from a start position and its size
func NewRangePosition(row, col, rows, cols int) RangePosition {
	return RangePosition{Row: row, Col: col, Rows: rows, Cols: cols}
}

// SingleCell returns the 1x1 range at p
func SingleCell(p CellPosition) RangePosition {
	return RangePosition{Row: p.Row, Col: p.Col, Rows: 1, Cols: 1}
}

// RangeBetween returns the normalized range spanning both corners
func RangeBetween(a, b CellPosition) RangePosition {
	top, bottom := min(a.Row, b.Row), max(a.Row, b.Row)
	left, right := min(a.Col, b.Col), max(a.Col, b.Col)
	return RangePosition{Row: top, Col: left, Rows: bottom - top + 1, Cols: right - left + 1}
}

func (r RangePosition) IsEntire() bool {
	return r.Rows < 0 || r.Cols < 0
}

// Resolve turns EntireRange into a concrete range of the given size and
// clips concrete ranges to it
func (r RangePosition) Resolve(rowCount, colCount int) RangePosition {
	if r.IsEntire() {
		return RangePosition{Row: 0, Col: 0, Rows: rowCount, Cols: colCount}
	}
	if r.Row+r.Rows > rowCount {
		r.Rows = max(0, rowCount-r.Row)
	}
	if r.Col+r.Cols > colCount {
		r.Cols = max(0, colCount-r.Col)
	}
	return r
}

func (r RangePosition) EndRow() int {
	return r.Row + r.Rows - 1
}

func (r RangePosition) EndCol() int {
	return r.Col + r.Cols - 1
}

func (r RangePosition) StartPos() CellPosition {
	return CellPosition{Row: r.Row, Col: r.Col}
}

func (r RangePosition) EndPos() CellPosition {
	return CellPosition{Row: r.EndRow(), Col: r.EndCol()}
}

func (r RangePosition) IsSingleCell() bool {
	return r.Rows == 1 && r.Cols == 1
}

// IsValid reports whether the range is non-empty and inside the limits
func (r RangePosition) IsValid() bool {
	if r.IsEntire() {
		return true
	}
	return r.Rows > 0 && r.Cols > 0 && r.StartPos().IsValid() && r.EndPos().IsValid()
}

// CellCount returns the number of cells covered by a concrete range
func (r RangePosition) CellCount() int {
	if r.IsEntire() {
		return MaxRows * MaxColumns
	}
	return r.Rows * r.Cols
}

func (r RangePosition) Contains(p CellPosition) bool {
	if r.IsEntire() {
		return p.IsValid()
	}
	return p.Row >= r.Row && p.Row <= r.EndRow() && p.Col >= r.Col && p.Col <= r.EndCol()
}

func (r RangePosition) ContainsRange(o RangePosition) bool {
	if r.IsEntire() {
		return true
	}
	if o.IsEntire() {
		return false
	}
	return o.Row >= r.Row && o.EndRow() <= r.EndRow() && o.Col >= r.Col && o.EndCol() <= r.EndCol()
}

// Intersects reports whether the two rectangles share at least one cell
func (r RangePosition) Intersects(o RangePosition) bool {
	if r.IsEntire() || o.IsEntire() {
		return true
	}
	return r.Row <= o.EndRow() && o.Row <= r.EndRow() && r.Col <= o.EndCol() && o.Col <= r.EndCol()
}

// Intersection returns the shared rectangle and whether one exists
func (r RangePosition) Intersection(o RangePosition) (RangePosition, bool) {
	if !r.Intersects(o) {
		return RangePosition{}, false
	}
	if r.IsEntire() {
		return o, true
	}
	if o.IsEntire() {
		return r, true
	}
	top, left := max(r.Row, o.Row), max(r.Col, o.Col)
	bottom, right := min(r.EndRow(), o.EndRow()), min(r.EndCol(), o.EndCol())
	return RangePosition{Row: top, Col: left, Rows: bottom - top + 1, Cols: right - left + 1}, true
}

// Offset moves the range by the given deltas
func (r RangePosition) Offset(rows, cols int) RangePosition {
	r.Row += rows
	r.Col += cols
	return r
}

// Positions yields every position of a concrete range in row-major order
func (r RangePosition) Positions() iter.Seq[CellPosition] {
	return func(yield func(CellPosition) bool) {
		for row := r.Row; row <= r.EndRow(); row++ {
			for col := r.Col; col <= r.EndCol(); col++ {
				if !yield(CellPosition{Row: row, Col: col}) {
					return
				}
			}
		}
	}
}

// String formats the range as "A1" for single cells and "A1:B2" otherwise
func (r RangePosition) String() string {
	if r.IsEntire() {
		r = r.Resolve(MaxRows, MaxColumns)
	}
	if r.IsSingleCell() {
		return r.StartPos().String()
	}
	return r.StartPos().String() + ":" + r.EndPos().String()
}

// ColumnName converts a zero-based column index to letters
// (0 -> A, 25 -> Z, 26 -> AA)
func ColumnName(col int) string {
	if col < 0 {
		return ""
	}
	var buf [maxColumnLetters + 2]byte
	i := len(buf)
	for n := col + 1; n > 0; n = (n - 1) / 26 {
		i--
		buf[i] = byte('A' + (n-1)%26)
	}
	return string(buf[i:])
}

// ColumnIndex converts column letters (any case) to a zero-based index
func ColumnIndex(name string) (int, bool) {
	if name == "" || len(name) > maxColumnLetters {
		return 0, false
	}
	col := 0
	for i := 0; i < len(name); i++ {
		ch := name[i]
		switch {
		case ch >= 'A' && ch <= 'Z':
			col = col*26 + int(ch-'A') + 1
		case ch >= 'a' && ch <= 'z':
			col = col*26 + int(ch-'a') + 1
		default:
			return 0, false
		}
	}
	col--
	if col >= MaxColumns {
		return 0, false
	}
	return col, true
}

// cellRef is a position as written in a formula, keeping the '$' anchors
type cellRef struct {
	Pos    CellPosition
	AbsRow bool
	AbsCol bool
}

func (c cellRef) String() string {
	var sb strings.Builder
	if c.AbsCol {
		sb.WriteByte('$')
	}
	sb.WriteString(ColumnName(c.Pos.Col))
	if c.AbsRow {
		sb.WriteByte('$')
	}
	sb.WriteString(strconv.Itoa(c.Pos.Row + 1))
	return sb.String()
}

// parseCellRef parses [$]letters[$]digits
func parseCellRef(s string) (cellRef, bool) {
	var ref cellRef
	i := 0
	if i < len(s) && s[i] == '$' {
		ref.AbsCol = true
		i++
	}
	letterStart := i
	for i < len(s) && isASCIILetter(s[i]) {
		i++
	}
	col, ok := ColumnIndex(s[letterStart:i])
	if !ok {
		return cellRef{}, false
	}
	if i < len(s) && s[i] == '$' {
		ref.AbsRow = true
		i++
	}
	digitStart := i
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i != len(s) || digitStart == i || i-digitStart > 7 {
		return cellRef{}, false
	}
	row, err := strconv.Atoi(s[digitStart:])
	if err != nil || row < 1 || row > MaxRows {
		return cellRef{}, false
	}
	ref.Pos = CellPosition{Row: row - 1, Col: col}
	return ref, true
}

func isASCIILetter(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

// ParseCellAddress parses a single cell address such as "B15" or "$B$15"
func ParseCellAddress(text string) (CellPosition, error) {
	ref, ok := parseCellRef(text)
	if !ok {
		return CellPosition{}, newKindError(InvalidArgument, ErrInvalidAddress, "invalid cell address: %q", text)
	}
	return ref.Pos, nil
}

// ParseAddress parses "A2", "$B$15" or "B15:D15" into a range. reversed
// corners are normalized.
func ParseAddress(text string) (RangePosition, error) {
	start, end, found := strings.Cut(text, ":")
	first, ok := parseCellRef(start)
	if !ok {
		return RangePosition{}, newKindError(InvalidArgument, ErrInvalidAddress, "invalid address: %q", text)
	}
	if !found {
		return SingleCell(first.Pos), nil
	}
	second, ok := parseCellRef(end)
	if !ok {
		return RangePosition{}, newKindError(InvalidArgument, ErrInvalidAddress, "invalid address: %q", text)
	}
	return RangeBetween(first.Pos, second.Pos), nil
}

// IsValidAddress reports whether ParseAddress accepts text
func IsValidAddress(text string) bool {
	_, err := ParseAddress(text)
	return err == nil
}

// NormalizeAddress returns the canonical form of an address: upper case,
// anchors dropped, corners ordered and "A1:A1" collapsed to "A1"
func NormalizeAddress(text string) (string, error) {
	r, err := ParseAddress(text)
	if err != nil {
		return "", err
	}
	return r.String(), nil
}
