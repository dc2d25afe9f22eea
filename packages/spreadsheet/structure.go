package spreadsheet

import (
	"slices"
)

// InsertRows inserts count empty rows before row at. cells, spans, borders,
// named ranges and outlines below move down; formula references follow
// them unless reference updating is off.
func (ws *Worksheet) InsertRows(at, count int) error {
	if err := ws.checkInsert(at, count, ws.settings.RowCount, func(r RangePosition) int { return r.EndRow() }); err != nil {
		return err
	}
	edit := axisEdit{at: at, count: count, limit: ws.settings.RowCount}
	ws.applyEdit(edit, Event{Kind: EventRowsInserted, Range: RangePosition{Row: at, Col: 0, Rows: count, Cols: ws.settings.ColumnCount}, Count: count}, func() {
		ws.outlines.adjust(OutlineRow, at, count, ws.settings.RowCount)
	})
	return nil
}

// DeleteRows removes count rows starting at row at. references to deleted
// cells become #REF!.
func (ws *Worksheet) DeleteRows(at, count int) error {
	band := RangePosition{Row: at, Col: 0, Rows: count, Cols: ws.settings.ColumnCount}
	if err := ws.checkDelete(at, count, ws.settings.RowCount, band); err != nil {
		return err
	}
	edit := axisEdit{at: at, count: -count, limit: ws.settings.RowCount}
	ws.applyEdit(edit, Event{Kind: EventRowsDeleted, Range: band, Count: count}, func() {
		ws.outlines.adjust(OutlineRow, at, -count, ws.settings.RowCount)
	})
	return nil
}

// InsertColumns inserts count empty columns before column at
func (ws *Worksheet) InsertColumns(at, count int) error {
	if err := ws.checkInsert(at, count, ws.settings.ColumnCount, func(r RangePosition) int { return r.EndCol() }); err != nil {
		return err
	}
	edit := axisEdit{columns: true, at: at, count: count, limit: ws.settings.ColumnCount}
	ws.applyEdit(edit, Event{Kind: EventColumnsInserted, Range: RangePosition{Row: 0, Col: at, Rows: ws.settings.RowCount, Cols: count}, Count: count}, func() {
		ws.outlines.adjust(OutlineColumn, at, count, ws.settings.ColumnCount)
	})
	return nil
}

// DeleteColumns removes count columns starting at column at
func (ws *Worksheet) DeleteColumns(at, count int) error {
	band := RangePosition{Row: 0, Col: at, Rows: ws.settings.RowCount, Cols: count}
	if err := ws.checkDelete(at, count, ws.settings.ColumnCount, band); err != nil {
		return err
	}
	edit := axisEdit{columns: true, at: at, count: -count, limit: ws.settings.ColumnCount}
	ws.applyEdit(edit, Event{Kind: EventColumnsDeleted, Range: band, Count: count}, func() {
		ws.outlines.adjust(OutlineColumn, at, -count, ws.settings.ColumnCount)
	})
	return nil
}

// MoveRange moves the cells of src so that its top-left corner lands on
// dst. whatever was stored at the destination is overwritten and
// references to it become #REF!; references to moved cells follow them.
func (ws *Worksheet) MoveRange(src RangePosition, dst CellPosition) error {
	src, err := ws.checkRange(src)
	if err != nil {
		return err
	}
	target, err := ws.checkRange(RangePosition{Row: dst.Row, Col: dst.Col, Rows: src.Rows, Cols: src.Cols})
	if err != nil {
		return err
	}
	if err := ws.guardWrite(src); err != nil {
		return err
	}
	if err := ws.guardWrite(target); err != nil {
		return err
	}
	for _, r := range []RangePosition{src, target} {
		for _, span := range ws.spans.Intersecting(r) {
			if !src.ContainsRange(span.Range) {
				return newKindError(FailedPrecondition, ErrRangeIntersection, "merged range %s crosses the moved range", span)
			}
		}
	}
	if src == target {
		return nil
	}
	ws.applyEdit(newMoveEdit(src, dst), Event{Kind: EventRangeMoved, Range: target}, func() {})
	return nil
}

func (ws *Worksheet) checkInsert(at, count, limit int, end func(RangePosition) int) error {
	if err := ws.checkWritable(); err != nil {
		return err
	}
	if count < 1 || at < 0 || at >= limit {
		return newKindError(OutOfRange, ErrInvalidAddress, "cannot insert %d at %d", count, at)
	}
	if used, ok := ws.store.UsedRange(); ok {
		if last := end(used); last >= at && last+count >= limit {
			return newKindError(OutOfRange, ErrInvalidAddress, "inserting %d at %d pushes cells past the worksheet", count, at)
		}
	}
	return nil
}

func (ws *Worksheet) checkDelete(at, count, limit int, band RangePosition) error {
	if count < 1 || at < 0 || at+count > limit {
		return newKindError(OutOfRange, ErrInvalidAddress, "cannot delete %d at %d", count, at)
	}
	return ws.guardWrite(band)
}

// applyEdit runs a structural edit over every part of the worksheet and
// the formulas of the book that reference it
func (ws *Worksheet) applyEdit(edit refEdit, ev Event, adjustOutlines func()) {
	book := ws.book
	rewriting := ws.referenceUpdating()

	type pending struct {
		ws       *Worksheet
		cell     *Cell
		text     string
		changed  bool
		names    []uint32
		circular bool
	}

	// own formulas are all rebound since their positions move
	var own []pending
	for cell := range ws.store.All() {
		if !cell.HasFormula() {
			continue
		}
		p := pending{ws: ws, cell: cell, text: cell.Formula, circular: cell.State == FormulaStateCircularReference}
		if rewriting {
			p.text, p.changed = rewriteReferences(cell.Formula, ws.targets(ws), edit)
		}
		if cell.FormulaID != 0 {
			p.names = ws.formulas.GetNamedRangesUsed(cell.FormulaID)
		}
		own = append(own, p)
	}
	var foreign []pending
	if rewriting {
		for _, sheet := range book.order {
			if sheet == ws {
				continue
			}
			for _, addr := range sheet.graph.ReferencesWorksheet(ws.id) {
				cell := sheet.store.Get(addr.Position())
				if cell == nil {
					continue
				}
				text, changed := rewriteReferences(cell.Formula, ws.targets(sheet), edit)
				if changed {
					foreign = append(foreign, pending{ws: sheet, cell: cell, text: text, changed: true})
				}
			}
		}
	}

	for _, p := range own {
		ws.unbind(p.cell)
	}
	for _, p := range foreign {
		p.ws.unbind(p.cell)
	}

	for _, cell := range ws.store.shift(edit.mapCell) {
		if cell.StyleID != 0 {
			ws.styles.Release(cell.StyleID)
		}
	}
	ws.spans.adjust(edit)
	ws.borders.adjust(edit)
	changedNames := ws.names.adjust(edit)
	adjustOutlines()

	var touched, circular []CellAddress
	for _, p := range own {
		if ws.store.Get(p.cell.Position()) != p.cell {
			continue // deleted or overwritten
		}
		stale := !rewriting || p.changed || slices.ContainsFunc(p.names, func(id uint32) bool {
			return slices.Contains(changedNames, id)
		})
		ws.rebind(p.cell, p.text, stale)
		addr := ws.address(p.cell.Position())
		if p.circular {
			circular = append(circular, addr)
		}
		if p.cell.State == FormulaStateStale {
			touched = append(touched, addr)
		}
	}
	for _, p := range foreign {
		p.ws.rebind(p.cell, p.text, true)
		touched = append(touched, p.ws.address(p.cell.Position()))
	}

	for _, addr := range circular {
		book.checkCycle(addr)
	}
	book.refreshCircular()
	book.markDependentsStale(touched...)
	if !rewriting {
		book.markReferencingStale(ws.id)
	}

	ev.Worksheet = ws.name
	ws.events.emit(ev)
	ws.logger.Debug("structure changed", "worksheet", ws.name, "event", ev.Kind.String(), "range", ev.Range.String())
	ws.afterChange()
}

// targets returns the qualifier test for references written on owner:
// does the qualifier (empty for unqualified) name ws?
func (ws *Worksheet) targets(owner *Worksheet) func(sheet string) bool {
	return func(sheet string) bool {
		if sheet == "" {
			return owner == ws
		}
		id, ok := ws.book.sheets.GetWorksheetID(sheet)
		return ok && id == ws.id
	}
}

// foreignFormula is the text of a formula on another worksheet that a
// structural edit may rewrite
type foreignFormula struct {
	ws   *Worksheet
	pos  CellPosition
	text string
}

// sheetSnapshot is the state of a worksheet before a structural edit
type sheetSnapshot struct {
	cells    []*Cell
	styles   *StyleTable
	spans    *SpanModel
	borders  *BorderModel
	names    *NamedRangeRegistry
	outlines *OutlineManager
	foreign  []foreignFormula
}

func (ws *Worksheet) takeSnapshot() *sheetSnapshot {
	snap := &sheetSnapshot{
		styles:   ws.styles.clone(),
		spans:    ws.spans.snapshot(),
		borders:  ws.borders.snapshot(),
		names:    ws.names.snapshot(),
		outlines: ws.outlines.snapshot(),
	}
	for cell := range ws.store.All() {
		snap.cells = append(snap.cells, cell.clone())
	}
	for _, sheet := range ws.book.order {
		if sheet == ws {
			continue
		}
		for _, addr := range sheet.graph.ReferencesWorksheet(ws.id) {
			if cell := sheet.store.Get(addr.Position()); cell != nil {
				snap.foreign = append(snap.foreign, foreignFormula{ws: sheet, pos: cell.Position(), text: cell.Formula})
			}
		}
	}
	return snap
}

// restoreSnapshot puts the worksheet back into the snapshot state. every
// formula is bound again and left stale.
func (ws *Worksheet) restoreSnapshot(snap *sheetSnapshot) {
	book := ws.book
	for cell := range ws.store.All() {
		if cell.HasFormula() {
			ws.unbind(cell)
		}
	}
	var foreign []*Cell
	var foreignText []string
	var foreignSheet []*Worksheet
	for _, f := range snap.foreign {
		cell := f.ws.store.Get(f.pos)
		if cell == nil || !cell.HasFormula() || cell.Formula == f.text {
			continue
		}
		f.ws.unbind(cell)
		foreign = append(foreign, cell)
		foreignText = append(foreignText, f.text)
		foreignSheet = append(foreignSheet, f.ws)
	}

	ws.store.clear()
	for _, cell := range snap.cells {
		ws.store.put(cell.clone())
	}
	ws.styles = snap.styles.clone()
	ws.spans = snap.spans.snapshot()
	ws.borders = snap.borders.snapshot()
	ws.names = snap.names.snapshot()
	ws.names.worksheet = ws.name
	ws.names.resetReferences()
	ws.outlines = snap.outlines.snapshot()

	var touched, circular []CellAddress
	for cell := range ws.store.All() {
		if !cell.HasFormula() {
			continue
		}
		wasCircular := cell.State == FormulaStateCircularReference
		cell.FormulaID = 0
		ws.rebind(cell, cell.Formula, true)
		addr := ws.address(cell.Position())
		touched = append(touched, addr)
		if wasCircular {
			circular = append(circular, addr)
		}
	}
	for i, cell := range foreign {
		foreignSheet[i].rebind(cell, foreignText[i], true)
		touched = append(touched, foreignSheet[i].address(cell.Position()))
	}

	for _, addr := range circular {
		book.checkCycle(addr)
	}
	book.refreshCircular()
	book.markDependentsStale(touched...)
	book.markReferencingStale(ws.id)
	ws.afterChange()
}
