package spreadsheet

import (
	"strings"
)

// refEdit maps positions through a structural edit. false means the
// position or range no longer exists and references to it become #REF!.
type refEdit interface {
	mapCell(pos CellPosition) (CellPosition, bool)
	mapRange(r RangePosition) (RangePosition, bool)
}

// axisEdit inserts (count > 0) or deletes (count < 0) rows or columns at
// at. limit is the number of rows or columns of the worksheet.
type axisEdit struct {
	columns bool
	at      int
	count   int
	limit   int
}

func (e axisEdit) mapCell(pos CellPosition) (CellPosition, bool) {
	if e.columns {
		col, ok := shiftIndex(pos.Col, e.at, e.count, e.limit)
		return CellPosition{Row: pos.Row, Col: col}, ok
	}
	row, ok := shiftIndex(pos.Row, e.at, e.count, e.limit)
	return CellPosition{Row: row, Col: pos.Col}, ok
}

func (e axisEdit) mapRange(r RangePosition) (RangePosition, bool) {
	if r.IsEntire() {
		return r, true
	}
	if e.columns {
		start, end, ok := shiftSpan(r.Col, r.EndCol(), e.at, e.count, e.limit)
		return RangePosition{Row: r.Row, Col: start, Rows: r.Rows, Cols: end - start + 1}, ok
	}
	start, end, ok := shiftSpan(r.Row, r.EndRow(), e.at, e.count, e.limit)
	return RangePosition{Row: start, Col: r.Col, Rows: end - start + 1, Cols: r.Cols}, ok
}

// shiftSpan maps the inclusive index span [start, end] through an
// insertion or deletion. inserting inside the span grows it, deleting
// part of it shrinks it; false means every index was deleted or the span
// was pushed past limit.
func shiftSpan(start, end, at, count, limit int) (int, int, bool) {
	if count > 0 {
		switch {
		case start >= at:
			start, end = start+count, end+count
		case end >= at:
			end += count
		}
		if start >= limit {
			return 0, 0, false
		}
		return start, min(end, limit-1), true
	}

	deleted := -count
	switch {
	case start < at:
	case start >= at+deleted:
		start -= deleted
	default:
		start = at
	}
	switch {
	case end < at:
	case end >= at+deleted:
		end -= deleted
	default:
		end = at - 1
	}
	if end < start {
		return 0, 0, false
	}
	return start, end, true
}

// moveEdit moves the cells of src by (rows, cols). cells overwritten at the
// destination are gone.
type moveEdit struct {
	src  RangePosition
	dst  RangePosition
	rows int
	cols int
}

func newMoveEdit(src RangePosition, dst CellPosition) moveEdit {
	return moveEdit{
		src:  src,
		dst:  RangePosition{Row: dst.Row, Col: dst.Col, Rows: src.Rows, Cols: src.Cols},
		rows: dst.Row - src.Row,
		cols: dst.Col - src.Col,
	}
}

func (e moveEdit) mapCell(pos CellPosition) (CellPosition, bool) {
	switch {
	case e.src.Contains(pos):
		return CellPosition{Row: pos.Row + e.rows, Col: pos.Col + e.cols}, true
	case e.dst.Contains(pos):
		return CellPosition{}, false
	}
	return pos, true
}

func (e moveEdit) mapRange(r RangePosition) (RangePosition, bool) {
	switch {
	case r.IsEntire():
		return r, true
	case e.src.ContainsRange(r):
		return r.Offset(e.rows, e.cols), true
	case e.dst.ContainsRange(r):
		return RangePosition{}, false
	}
	return r, true
}

const refErrorText = "#REF!"

// spliceReferences rewrites the reference and name tokens of formula
// through fn. every other character of the text is preserved. formulas
// that do not tokenize are returned unchanged.
func spliceReferences(formula string, fn func(tok Token) (string, bool)) (string, bool) {
	tokens, err := NewLexer(formula).Tokenize()
	if err != nil {
		return formula, false
	}

	runes := []rune(formula)
	var sb strings.Builder
	last := 0
	for _, tok := range tokens {
		if tok.Type != TokenCell && tok.Type != TokenRange && tok.Type != TokenIdentifier {
			continue
		}
		replacement, ok := fn(tok)
		if !ok {
			continue
		}
		sb.WriteString(string(runes[last:tok.Pos]))
		sb.WriteString(replacement)
		last = tok.End
	}
	if last == 0 {
		return formula, false
	}
	sb.WriteString(string(runes[last:]))
	result := sb.String()
	return result, result != formula
}

// rewriteReferences maps every reference of formula that points at the
// edited worksheet through edit. targets reports whether a worksheet
// qualifier (empty for unqualified references) names the edited worksheet.
func rewriteReferences(formula string, targets func(sheet string) bool, edit refEdit) (string, bool) {
	return spliceReferences(formula, func(tok Token) (string, bool) {
		if tok.Type == TokenIdentifier || !targets(tok.Sheet) {
			return "", false
		}
		prefix := tok.Value[:len(tok.Value)-len(tok.Ref)]

		if tok.Type == TokenCell {
			ref, ok := parseCellRef(tok.Ref)
			if !ok {
				return "", false
			}
			pos, ok := edit.mapCell(ref.Pos)
			if !ok {
				return refErrorText, true
			}
			if pos == ref.Pos {
				return "", false
			}
			ref.Pos = pos
			return prefix + ref.String(), true
		}

		first, second, _ := strings.Cut(tok.Ref, ":")
		start, ok1 := parseCellRef(first)
		end, ok2 := parseCellRef(second)
		if !ok1 || !ok2 {
			return "", false
		}
		r := RangeBetween(start.Pos, end.Pos)
		next, ok := edit.mapRange(r)
		if !ok {
			return refErrorText, true
		}
		if next == r {
			return "", false
		}
		// corners are written normalized, each keeping its anchors
		start.Pos, end.Pos = next.StartPos(), next.EndPos()
		return prefix + start.String() + ":" + end.String(), true
	})
}

// rewriteSheetName replaces the qualifier of references to the worksheet
// named oldName. same reports whether a qualifier names that worksheet.
func rewriteSheetName(formula string, same func(sheet string) bool, newName string) (string, bool) {
	return spliceReferences(formula, func(tok Token) (string, bool) {
		if tok.Type == TokenIdentifier || tok.Sheet == "" || !same(tok.Sheet) {
			return "", false
		}
		return qualifySheet(newName) + tok.Ref, true
	})
}

// rewriteName replaces name references matching same with newName
func rewriteName(formula string, same func(name string) bool, newName string) (string, bool) {
	return spliceReferences(formula, func(tok Token) (string, bool) {
		if tok.Type != TokenIdentifier || !same(tok.Value) {
			return "", false
		}
		return newName, true
	})
}
