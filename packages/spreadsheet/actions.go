package spreadsheet

import "slices"

// regionSnapshot holds the cells and borders of a range so that a
// non-structural action can put them back
type regionSnapshot struct {
	region  RangePosition
	cells   []*Cell
	styles  []string
	borders *borderSnapshot
}

func (ws *Worksheet) captureRegion(r RangePosition, withBorders bool) *regionSnapshot {
	snap := &regionSnapshot{region: r}
	for cell := range ws.store.Iterate(r) {
		key := ""
		if cell.StyleID != 0 {
			key, _ = ws.styles.Key(cell.StyleID)
		}
		snap.cells = append(snap.cells, cell.clone())
		snap.styles = append(snap.styles, key)
	}
	if withBorders {
		borders := ws.borders.capture(r)
		snap.borders = &borders
	}
	return snap
}

// restoreRegion replaces the content of the captured range with the
// snapshot. restored formulas are bound again and left stale.
func (ws *Worksheet) restoreRegion(snap *regionSnapshot) {
	var touched []CellAddress
	for _, cell := range slices.Collect(ws.store.Iterate(snap.region)) {
		touched = append(touched, ws.address(cell.Position()))
		ws.removeCell(cell.Position())
	}

	hadCycle := make(map[CellAddress]bool)
	for i, saved := range snap.cells {
		cell := saved.clone()
		text := cell.Formula
		cell.FormulaID = 0
		cell.StyleID = 0
		if snap.styles[i] != "" {
			cell.StyleID = ws.styles.Intern(snap.styles[i])
		}
		ws.store.put(cell)
		addr := ws.address(cell.Position())
		if text != "" {
			hadCycle[addr] = saved.State == FormulaStateCircularReference
			ws.rebind(cell, text, true)
		}
		touched = append(touched, addr)
	}
	if snap.borders != nil {
		ws.borders.restore(*snap.borders)
	}

	for addr, circular := range hadCycle {
		if circular {
			ws.book.checkCycle(addr)
		}
	}
	ws.book.refreshCircular()
	ws.book.markDependentsStale(touched...)
	ws.emit(EventCellDataChanged, snap.region)
	ws.afterChange()
}

// SetCellDataAction writes a value or formula to one cell
type SetCellDataAction struct {
	baseAction
	Pos   CellPosition
	Value Primitive

	snap *regionSnapshot
}

func NewSetCellDataAction(pos CellPosition, value Primitive) *SetCellDataAction {
	return &SetCellDataAction{baseAction: newBaseAction("SetCellData"), Pos: pos, Value: value}
}

func (a *SetCellDataAction) Do(ws *Worksheet) error {
	snap := ws.captureRegion(SingleCell(ws.spans.resolve(a.Pos)), false)
	if err := ws.SetCellData(a.Pos, a.Value); err != nil {
		return err
	}
	a.snap = snap
	return nil
}

func (a *SetCellDataAction) Undo(ws *Worksheet) error {
	if a.snap != nil {
		ws.restoreRegion(a.snap)
	}
	return nil
}

// SetRangeDataAction pastes a block of values
type SetRangeDataAction struct {
	baseAction
	Origin CellPosition
	Values [][]Primitive

	snap *regionSnapshot
}

func NewSetRangeDataAction(origin CellPosition, values [][]Primitive) *SetRangeDataAction {
	return &SetRangeDataAction{baseAction: newBaseAction("SetRangeData"), Origin: origin, Values: values}
}

func (a *SetRangeDataAction) Do(ws *Worksheet) error {
	cols := 0
	for _, row := range a.Values {
		cols = max(cols, len(row))
	}
	var snap *regionSnapshot
	if len(a.Values) > 0 && cols > 0 {
		r, err := ws.checkRange(RangePosition{Row: a.Origin.Row, Col: a.Origin.Col, Rows: len(a.Values), Cols: cols})
		if err != nil {
			return err
		}
		snap = ws.captureRegion(r, false)
	}
	if err := ws.SetRangeData(a.Origin, a.Values); err != nil {
		return err
	}
	a.snap = snap
	return nil
}

func (a *SetRangeDataAction) Undo(ws *Worksheet) error {
	if a.snap != nil {
		ws.restoreRegion(a.snap)
	}
	return nil
}

// ClearRangeAction clears the elements selected by Mask
type ClearRangeAction struct {
	baseAction
	Range RangePosition
	Mask  CellElement

	snap *regionSnapshot
}

func NewClearRangeAction(r RangePosition, mask CellElement) *ClearRangeAction {
	return &ClearRangeAction{baseAction: newBaseAction("ClearRange"), Range: r, Mask: mask}
}

func (a *ClearRangeAction) Do(ws *Worksheet) error {
	r, err := ws.checkRange(a.Range)
	if err != nil {
		return err
	}
	snap := ws.captureRegion(r, a.Mask&CellElementBorder != 0)
	if err := ws.ClearRange(r, a.Mask); err != nil {
		return err
	}
	a.snap = snap
	return nil
}

func (a *ClearRangeAction) Undo(ws *Worksheet) error {
	if a.snap != nil {
		ws.restoreRegion(a.snap)
	}
	return nil
}

func (a *ClearRangeAction) Target() RangePosition { return a.Range }

func (a *ClearRangeAction) CloneFor(target RangePosition) Action {
	return NewClearRangeAction(target, a.Mask)
}

// SetRangeStyleAction applies a style key to a range
type SetRangeStyleAction struct {
	baseAction
	Range RangePosition
	Style string

	snap *regionSnapshot
}

func NewSetRangeStyleAction(r RangePosition, style string) *SetRangeStyleAction {
	return &SetRangeStyleAction{baseAction: newBaseAction("SetRangeStyle"), Range: r, Style: style}
}

func (a *SetRangeStyleAction) Do(ws *Worksheet) error {
	r, err := ws.checkRange(a.Range)
	if err != nil {
		return err
	}
	snap := ws.captureRegion(r, false)
	if err := ws.SetRangeStyle(r, a.Style); err != nil {
		return err
	}
	a.snap = snap
	return nil
}

func (a *SetRangeStyleAction) Undo(ws *Worksheet) error {
	if a.snap != nil {
		ws.restoreRegion(a.snap)
	}
	return nil
}

func (a *SetRangeStyleAction) Target() RangePosition { return a.Range }

func (a *SetRangeStyleAction) CloneFor(target RangePosition) Action {
	return NewSetRangeStyleAction(target, a.Style)
}

// SetRangeBorderAction styles the edges of a range
type SetRangeBorderAction struct {
	baseAction
	Range     RangePosition
	Positions BorderPositions
	Style     BorderStyle

	before *borderSnapshot
}

func NewSetRangeBorderAction(r RangePosition, positions BorderPositions, style BorderStyle) *SetRangeBorderAction {
	return &SetRangeBorderAction{baseAction: newBaseAction("SetRangeBorder"), Range: r, Positions: positions, Style: style}
}

func (a *SetRangeBorderAction) Do(ws *Worksheet) error {
	r, err := ws.checkRange(a.Range)
	if err != nil {
		return err
	}
	before := ws.borders.capture(r)
	if err := ws.SetRangeBorder(r, a.Positions, a.Style); err != nil {
		return err
	}
	a.before = &before
	return nil
}

func (a *SetRangeBorderAction) Undo(ws *Worksheet) error {
	if a.before != nil {
		ws.borders.restore(*a.before)
		ws.emit(EventBordersChanged, a.Range)
	}
	return nil
}

func (a *SetRangeBorderAction) Target() RangePosition { return a.Range }

func (a *SetRangeBorderAction) CloneFor(target RangePosition) Action {
	return NewSetRangeBorderAction(target, a.Positions, a.Style)
}

// MergeRangeAction merges a range
type MergeRangeAction struct {
	baseAction
	Range RangePosition

	merged RangePosition
	before *borderSnapshot
}

func NewMergeRangeAction(r RangePosition) *MergeRangeAction {
	return &MergeRangeAction{baseAction: newBaseAction("MergeRange"), Range: r}
}

func (a *MergeRangeAction) Do(ws *Worksheet) error {
	r, err := ws.checkRange(a.Range)
	if err != nil {
		return err
	}
	before := ws.borders.capture(r)
	if err := ws.MergeRange(r); err != nil {
		return err
	}
	a.merged, a.before = r, &before
	return nil
}

func (a *MergeRangeAction) Undo(ws *Worksheet) error {
	if a.before == nil {
		return nil
	}
	if _, err := ws.UnmergeRange(a.merged); err != nil {
		return err
	}
	ws.borders.restore(*a.before)
	return nil
}

func (a *MergeRangeAction) Target() RangePosition { return a.Range }

func (a *MergeRangeAction) CloneFor(target RangePosition) Action {
	return NewMergeRangeAction(target)
}

// UnmergeRangeAction removes the merged spans inside a range
type UnmergeRangeAction struct {
	baseAction
	Range RangePosition

	removed []MergedSpan
	before  *borderSnapshot
}

func NewUnmergeRangeAction(r RangePosition) *UnmergeRangeAction {
	return &UnmergeRangeAction{baseAction: newBaseAction("UnmergeRange"), Range: r}
}

func (a *UnmergeRangeAction) Do(ws *Worksheet) error {
	r, err := ws.checkRange(a.Range)
	if err != nil {
		return err
	}
	before := ws.borders.capture(r)
	removed, err := ws.UnmergeRange(r)
	if err != nil {
		return err
	}
	a.removed, a.before = removed, &before
	return nil
}

func (a *UnmergeRangeAction) Undo(ws *Worksheet) error {
	for _, span := range a.removed {
		if err := ws.MergeRange(span.Range); err != nil {
			return err
		}
	}
	if a.before != nil {
		ws.borders.restore(*a.before)
	}
	return nil
}

func (a *UnmergeRangeAction) Target() RangePosition { return a.Range }

func (a *UnmergeRangeAction) CloneFor(target RangePosition) Action {
	return NewUnmergeRangeAction(target)
}

// structuralAction runs a structural edit and undoes it from a snapshot
// of the worksheet
type structuralAction struct {
	baseAction
	apply func(ws *Worksheet) error
	snap  *sheetSnapshot
}

func (a *structuralAction) Do(ws *Worksheet) error {
	snap := ws.takeSnapshot()
	if err := a.apply(ws); err != nil {
		return err
	}
	a.snap = snap
	return nil
}

func (a *structuralAction) Undo(ws *Worksheet) error {
	if a.snap == nil {
		return nil
	}
	if err := ws.checkWritable(); err != nil {
		return err
	}
	ws.restoreSnapshot(a.snap)
	a.snap = nil
	return nil
}

// NewInsertRowsAction inserts count rows at at
func NewInsertRowsAction(at, count int) Action {
	return &structuralAction{baseAction: newBaseAction("InsertRows"), apply: func(ws *Worksheet) error {
		return ws.InsertRows(at, count)
	}}
}

// NewDeleteRowsAction deletes count rows at at
func NewDeleteRowsAction(at, count int) Action {
	return &structuralAction{baseAction: newBaseAction("DeleteRows"), apply: func(ws *Worksheet) error {
		return ws.DeleteRows(at, count)
	}}
}

// NewInsertColumnsAction inserts count columns at at
func NewInsertColumnsAction(at, count int) Action {
	return &structuralAction{baseAction: newBaseAction("InsertColumns"), apply: func(ws *Worksheet) error {
		return ws.InsertColumns(at, count)
	}}
}

// NewDeleteColumnsAction deletes count columns at at
func NewDeleteColumnsAction(at, count int) Action {
	return &structuralAction{baseAction: newBaseAction("DeleteColumns"), apply: func(ws *Worksheet) error {
		return ws.DeleteColumns(at, count)
	}}
}

// NewMoveRangeAction moves src to dst
func NewMoveRangeAction(src RangePosition, dst CellPosition) Action {
	return &structuralAction{baseAction: newBaseAction("MoveRange"), apply: func(ws *Worksheet) error {
		return ws.MoveRange(src, dst)
	}}
}

// DefineNamedRangeAction defines a named range
type DefineNamedRangeAction struct {
	baseAction
	NamedRange string
	Range      RangePosition
	Comment    string

	done bool
}

func NewDefineNamedRangeAction(name string, r RangePosition, comment string) *DefineNamedRangeAction {
	return &DefineNamedRangeAction{baseAction: newBaseAction("DefineNamedRange"), NamedRange: name, Range: r, Comment: comment}
}

func (a *DefineNamedRangeAction) Do(ws *Worksheet) error {
	if err := ws.DefineNamedRange(a.NamedRange, a.Range, a.Comment); err != nil {
		return err
	}
	a.done = true
	return nil
}

func (a *DefineNamedRangeAction) Undo(ws *Worksheet) error {
	if !a.done {
		return nil
	}
	a.done = false
	return ws.RemoveNamedRange(a.NamedRange)
}

// RemoveNamedRangeAction removes a named range
type RemoveNamedRangeAction struct {
	baseAction
	NamedRange string

	removed *NamedRange
}

func NewRemoveNamedRangeAction(name string) *RemoveNamedRangeAction {
	return &RemoveNamedRangeAction{baseAction: newBaseAction("RemoveNamedRange"), NamedRange: name}
}

func (a *RemoveNamedRangeAction) Do(ws *Worksheet) error {
	named, ok := ws.GetNamedRange(a.NamedRange)
	if err := ws.RemoveNamedRange(a.NamedRange); err != nil {
		return err
	}
	if ok {
		a.removed = &named
	}
	return nil
}

func (a *RemoveNamedRangeAction) Undo(ws *Worksheet) error {
	if a.removed == nil {
		return nil
	}
	named := *a.removed
	a.removed = nil
	return ws.DefineNamedRange(named.Name, named.Range, named.Comment)
}

// AddOutlineAction groups rows or columns
type AddOutlineAction struct {
	baseAction
	Axis  OutlineAxis
	Start int
	Count int

	done bool
}

func NewAddOutlineAction(axis OutlineAxis, start, count int) *AddOutlineAction {
	return &AddOutlineAction{baseAction: newBaseAction("AddOutline"), Axis: axis, Start: start, Count: count}
}

func (a *AddOutlineAction) Do(ws *Worksheet) error {
	if _, err := ws.AddOutline(a.Axis, a.Start, a.Count); err != nil {
		return err
	}
	a.done = true
	return nil
}

func (a *AddOutlineAction) Undo(ws *Worksheet) error {
	if !a.done {
		return nil
	}
	a.done = false
	_, err := ws.RemoveOutline(a.Axis, a.Start, a.Count)
	return err
}

// RemoveOutlineAction removes an outline
type RemoveOutlineAction struct {
	baseAction
	Axis  OutlineAxis
	Start int
	Count int

	removed *Outline
}

func NewRemoveOutlineAction(axis OutlineAxis, start, count int) *RemoveOutlineAction {
	return &RemoveOutlineAction{baseAction: newBaseAction("RemoveOutline"), Axis: axis, Start: start, Count: count}
}

func (a *RemoveOutlineAction) Do(ws *Worksheet) error {
	removed, err := ws.RemoveOutline(a.Axis, a.Start, a.Count)
	if err != nil {
		return err
	}
	a.removed = &removed
	return nil
}

func (a *RemoveOutlineAction) Undo(ws *Worksheet) error {
	if a.removed == nil {
		return nil
	}
	removed := *a.removed
	a.removed = nil
	if _, err := ws.AddOutline(removed.Axis, removed.Start, removed.Count); err != nil {
		return err
	}
	if removed.Collapsed {
		return ws.CollapseOutline(removed.Axis, removed.Start, removed.Count)
	}
	return nil
}
