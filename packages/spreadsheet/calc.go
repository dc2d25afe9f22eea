package spreadsheet

import (
	"fmt"
	"iter"
	"runtime/debug"
	"slices"
)

// Range is a rectangle of cells passed to functions as an argument
type Range interface {
	Bounds() RangePosition

	// Iterate yields copies of the stored cells of the range in row-major
	// order, skipping merged placeholders
	Iterate() iter.Seq[*Cell]

	// IterateValues yields the values of the stored cells
	IterateValues() iter.Seq[Primitive]

	// ValueAt returns the value at an offset from the top-left corner
	ValueAt(rowOffset, colOffset int) Primitive
}

// CellRange is a Range over a worksheet
type CellRange struct {
	ws     *Worksheet
	bounds RangePosition
}

// Bounds returns the rectangle covered by the range
func (r *CellRange) Bounds() RangePosition {
	return r.bounds
}

func (r *CellRange) Iterate() iter.Seq[*Cell] {
	return func(yield func(*Cell) bool) {
		for cell := range r.ws.store.Iterate(r.bounds) {
			if r.ws.spans.isPlaceholder(cell.Position()) {
				continue
			}
			if !yield(cell.clone()) {
				return
			}
		}
	}
}

func (r *CellRange) IterateValues() iter.Seq[Primitive] {
	return func(yield func(Primitive) bool) {
		for cell := range r.ws.store.Iterate(r.bounds) {
			if r.ws.spans.isPlaceholder(cell.Position()) || cell.Data == nil {
				continue
			}
			if !yield(cell.Data) {
				return
			}
		}
	}
}

func (r *CellRange) ValueAt(rowOffset, colOffset int) Primitive {
	if rowOffset < 0 || colOffset < 0 || rowOffset >= r.bounds.Rows || colOffset >= r.bounds.Cols {
		return nil
	}
	return r.ws.readValue(CellPosition{Row: r.bounds.Row + rowOffset, Col: r.bounds.Col + colOffset})
}

// evalContext is what a formula sees while it is evaluated: the worksheet
// that owns it and the cell holding it
type evalContext struct {
	ws   *Worksheet
	cell *Cell
	addr CellAddress
}

func (ctx *evalContext) cellValue(sheet string, pos CellPosition) Primitive {
	target := ctx.ws.resolveSheet(sheet)
	if target == nil {
		return NewSpreadsheetError(ErrorCodeRef, fmt.Sprintf("Unknown worksheet: %s", sheet))
	}
	return target.readValue(pos)
}

func (ctx *evalContext) rangeValue(sheet string, r RangePosition) Primitive {
	target := ctx.ws.resolveSheet(sheet)
	if target == nil {
		return NewSpreadsheetError(ErrorCodeRef, fmt.Sprintf("Unknown worksheet: %s", sheet))
	}
	return &CellRange{ws: target, bounds: r}
}

func (ctx *evalContext) namedValue(name string) Primitive {
	named, ok := ctx.ws.names.Get(name)
	if !ok {
		return NewSpreadsheetError(ErrorCodeName, fmt.Sprintf("Unknown name: %s", name))
	}
	if named.Broken {
		return NewSpreadsheetError(ErrorCodeRef, fmt.Sprintf("Name %s refers to deleted cells", named.Name))
	}
	if named.Range.IsSingleCell() {
		return ctx.ws.readValue(named.Range.StartPos())
	}
	return &CellRange{ws: ctx.ws, bounds: named.Range}
}

func (ctx *evalContext) call(name string, args []Primitive) (Primitive, error) {
	fn, ok := ctx.ws.book.ctx.lookup(name)
	if !ok {
		return NewSpreadsheetError(ErrorCodeName, fmt.Sprintf("Unknown function: %s", name)), nil
	}
	return fn(ctx.cell.clone(), args)
}

// run evaluates ast and turns the result into a storable cell value
func (ctx *evalContext) run(ast ASTNode) (result Primitive) {
	defer func() {
		if r := recover(); r != nil {
			ctx.ws.logger.Error("formula evaluation panicked",
				"worksheet", ctx.ws.name,
				"cell", ctx.addr.Position().String(),
				"panic", r,
				"stack", string(debug.Stack()))
			result = NewSpreadsheetError(ErrorCodeOther, fmt.Sprint(r))
		}
	}()

	value, err := ast.Eval(ctx)
	if err != nil {
		return asSpreadsheetError(err)
	}
	switch v := value.(type) {
	case nil:
		// empty results display as 0
		return 0.0
	case Range:
		bounds := v.Bounds()
		if bounds.IsSingleCell() {
			if single := v.ValueAt(0, 0); single != nil {
				return single
			}
			return 0.0
		}
		return NewSpreadsheetError(ErrorCodeValue, "Range used where a single value is expected")
	case int:
		return float64(v)
	}
	return value
}

// evaluate computes the formula of cell and stores the result
func (ws *Worksheet) evaluate(cell *Cell) {
	ast, ok := ws.formulas.GetAST(cell.FormulaID)
	if !ok {
		return
	}
	ctx := &evalContext{ws: ws, cell: cell, addr: ws.address(cell.Position())}
	cell.Data = ctx.run(ast)
	cell.State = FormulaStateEvaluated
}

// readValue is what a formula reads from pos. placeholders of merged
// spans read as empty.
func (ws *Worksheet) readValue(pos CellPosition) Primitive {
	if ws.spans.isPlaceholder(pos) {
		return nil
	}
	cell := ws.store.Get(pos)
	if cell == nil {
		return nil
	}
	return cell.Data
}

// formulaCellsIn returns the formula cells of the worksheet inside r
func (ws *Worksheet) formulaCellsIn(r RangePosition) []CellAddress {
	var result []CellAddress
	if r.CellCount() <= ws.graph.NodeCount()*4 {
		for cell := range ws.store.Iterate(r) {
			if cell.HasFormula() {
				result = append(result, ws.address(cell.Position()))
			}
		}
		return result
	}
	for _, addr := range ws.graph.Nodes() {
		if r.Contains(addr.Position()) {
			result = append(result, addr)
		}
	}
	return result
}

// formulaPrecedents returns the formula cells addr reads, directly or
// through ranges, on any worksheet of the book
func (wb *Workbook) formulaPrecedents(addr CellAddress) []CellAddress {
	ws := wb.sheetByID(addr.WorksheetID)
	if ws == nil {
		return nil
	}
	node, ok := ws.graph.GetNode(addr)
	if !ok {
		return nil
	}

	set := make(map[CellAddress]struct{})
	for precedent := range node.CellPrecedents {
		if owner := wb.sheetByID(precedent.WorksheetID); owner != nil {
			if _, isFormula := owner.graph.GetNode(precedent); isFormula {
				set[precedent] = struct{}{}
			}
		}
	}
	for rangeAddr := range node.RangePrecedents {
		if owner := wb.sheetByID(rangeAddr.WorksheetID); owner != nil {
			for _, cell := range owner.formulaCellsIn(rangeAddr.Range) {
				set[cell] = struct{}{}
			}
		}
	}
	return sortedAddresses(set)
}

// formulaDependents returns the formula cells of every worksheet reading
// addr directly
func (wb *Workbook) formulaDependents(addr CellAddress) []CellAddress {
	var result []CellAddress
	for _, ws := range wb.order {
		result = append(result, ws.graph.GetDirectDependents(addr)...)
	}
	return result
}

// markDependentsStale marks everything computed from addrs stale,
// transitively
func (wb *Workbook) markDependentsStale(addrs ...CellAddress) {
	visited := make(map[CellAddress]struct{})
	queue := slices.Clone(addrs)
	for len(queue) > 0 {
		addr := queue[0]
		queue = queue[1:]
		for _, dep := range wb.formulaDependents(addr) {
			if _, seen := visited[dep]; seen {
				continue
			}
			visited[dep] = struct{}{}
			wb.markStale(dep)
			queue = append(queue, dep)
		}
	}
}

func (wb *Workbook) markStale(addr CellAddress) {
	ws := wb.sheetByID(addr.WorksheetID)
	if ws == nil {
		return
	}
	if cell := ws.store.Get(addr.Position()); cell != nil && cell.State == FormulaStateEvaluated {
		cell.State = FormulaStateStale
	}
}

// cyclicComponent returns the strongly connected component of the formula
// graph containing addr, and whether it forms a cycle
func (wb *Workbook) cyclicComponent(addr CellAddress) ([]CellAddress, bool) {
	reachable := map[CellAddress]struct{}{addr: {}}
	queue := []CellAddress{addr}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		for _, precedent := range wb.formulaPrecedents(next) {
			if _, seen := reachable[precedent]; !seen {
				reachable[precedent] = struct{}{}
				queue = append(queue, precedent)
			}
		}
	}

	for _, component := range calculationOrder(sortedAddresses(reachable), wb.formulaPrecedents) {
		if slices.Contains(component, addr) {
			return component, isCycle(component, wb.formulaPrecedents)
		}
	}
	return nil, false
}

// checkCycle marks the cycle addr is on, if any
func (wb *Workbook) checkCycle(addr CellAddress) {
	if component, cyclic := wb.cyclicComponent(addr); cyclic {
		wb.markCircular(component)
	}
}

func (wb *Workbook) markCircular(component []CellAddress) {
	cells := make([]string, 0, len(component))
	for _, addr := range component {
		ws := wb.sheetByID(addr.WorksheetID)
		if ws == nil {
			continue
		}
		cell := ws.store.Get(addr.Position())
		if cell == nil || !cell.HasFormula() {
			continue
		}
		cell.State = FormulaStateCircularReference
		cell.Data = NewSpreadsheetError(ErrorCodeRef, "Circular reference detected")
		wb.circular[addr] = struct{}{}
		cells = append(cells, ws.name+"!"+addr.Position().String())
	}
	wb.logger.Warn("circular reference detected", "cells", cells)
}

// refreshCircular releases cells whose cycle was broken by an edit. they
// become stale and are computed by the next recalculation.
func (wb *Workbook) refreshCircular() {
	for _, addr := range sortedAddresses(wb.circular) {
		ws := wb.sheetByID(addr.WorksheetID)
		var cell *Cell
		if ws != nil {
			cell = ws.store.Get(addr.Position())
		}
		if cell == nil || cell.State != FormulaStateCircularReference {
			delete(wb.circular, addr)
			continue
		}
		if _, cyclic := wb.cyclicComponent(addr); cyclic {
			continue
		}
		delete(wb.circular, addr)
		cell.State = FormulaStateStale
		wb.markDependentsStale(addr)
	}
}

// recalculate evaluates the formula cells in members once each, precedents
// first. with onlyStale, cells that are already evaluated are kept.
func (wb *Workbook) recalculate(members map[CellAddress]struct{}, onlyStale bool) error {
	if wb.evaluating {
		return newKindError(FailedPrecondition, ErrRecalculationInProgress, "recalculation already in progress")
	}
	wb.evaluating = true
	defer func() { wb.evaluating = false }()

	precedents := func(addr CellAddress) []CellAddress {
		var result []CellAddress
		for _, precedent := range wb.formulaPrecedents(addr) {
			if _, ok := members[precedent]; ok {
				result = append(result, precedent)
			}
		}
		return result
	}

	evaluated := make(map[uint32]int)
	for _, component := range calculationOrder(sortedAddresses(members), precedents) {
		if isCycle(component, precedents) {
			wb.markCircular(component)
			continue
		}
		addr := component[0]
		ws := wb.sheetByID(addr.WorksheetID)
		if ws == nil {
			continue
		}
		cell := ws.store.Get(addr.Position())
		if cell == nil || !cell.HasFormula() || cell.State.terminal() {
			continue
		}
		if onlyStale && cell.State != FormulaStateUnevaluated && cell.State != FormulaStateStale {
			continue
		}
		ws.evaluate(cell)
		evaluated[addr.WorksheetID]++
	}

	for _, ws := range wb.order {
		if count := evaluated[ws.id]; count > 0 {
			ws.logger.Debug("recalculated", "worksheet", ws.name, "cells", count, "onlyStale", onlyStale)
			ws.events.emit(Event{Kind: EventRecalculated, Worksheet: ws.name, Count: count})
		}
	}
	return nil
}

// recalculateStale marks volatile cells stale and evaluates every stale or
// unevaluated formula of the book
func (wb *Workbook) recalculateStale() error {
	if wb.evaluating {
		return newKindError(FailedPrecondition, ErrRecalculationInProgress, "recalculation already in progress")
	}
	var volatile []CellAddress
	members := make(map[CellAddress]struct{})
	for _, ws := range wb.order {
		for _, addr := range ws.graph.GetVolatileCells() {
			wb.markStale(addr)
			volatile = append(volatile, addr)
		}
		for _, addr := range ws.graph.Nodes() {
			members[addr] = struct{}{}
		}
	}
	wb.markDependentsStale(volatile...)
	return wb.recalculate(members, true)
}
