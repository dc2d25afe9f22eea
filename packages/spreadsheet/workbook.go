package spreadsheet

import (
	"log/slog"
	"slices"
	"strings"

	"golang.org/x/text/cases"
)

// WorksheetTable manages worksheet IDs. worksheets referenced by formulas
// before they exist are interned as undefined, so the formulas bind to
// them once they are added. names compare case-insensitively.
type WorksheetTable struct {
	fold cases.Caser

	// core name/ID mapping (for all worksheets, defined or not)

	nameToID map[string]uint32 // folded name -> ID
	idToName map[uint32]string // ID -> display name

	// worksheet definitions

	definedWorksheets map[uint32]*Worksheet

	// track undefined worksheets (referenced but not yet defined)

	undefinedIDs map[uint32]struct{}

	// reference counting

	refCounts map[uint32]int // ID -> formula reference count
	nextID    uint32
}

// NewWorksheetTable creates a new worksheet table
func NewWorksheetTable() *WorksheetTable {
	wt := &WorksheetTable{fold: cases.Fold()}
	wt.Clear()
	return wt
}

func (wt *WorksheetTable) key(name string) string {
	return wt.fold.String(name)
}

// InternWorksheet adds a formula reference to a worksheet (defined or
// not). returns the ID of the worksheet.
func (wt *WorksheetTable) InternWorksheet(name string) uint32 {
	key := wt.key(name)
	if id, exists := wt.nameToID[key]; exists {
		wt.refCounts[id]++
		return id
	}

	// add new undefined worksheet
	id := wt.nextID
	wt.nameToID[key] = id
	wt.idToName[id] = name
	wt.undefinedIDs[id] = struct{}{}
	wt.refCounts[id] = 1
	wt.nextID++
	return id
}

// DefineWorksheet defines a worksheet. a previously referenced name keeps
// its ID, which binds the formulas waiting for it. returns the ID.
func (wt *WorksheetTable) DefineWorksheet(name string, worksheet *Worksheet) uint32 {
	key := wt.key(name)
	id, exists := wt.nameToID[key]
	if !exists {
		id = wt.nextID
		wt.nextID++
		wt.nameToID[key] = id
		wt.refCounts[id] = 0
	}
	delete(wt.undefinedIDs, id)
	wt.idToName[id] = name
	wt.definedWorksheets[id] = worksheet
	return id
}

// UndefineWorksheet removes the definition of a worksheet. if formulas
// still reference it, it stays interned as undefined. returns true if the
// worksheet was removed completely.
func (wt *WorksheetTable) UndefineWorksheet(name string) bool {
	id, exists := wt.nameToID[wt.key(name)]
	if !exists {
		return false
	}
	delete(wt.definedWorksheets, id)
	if wt.refCounts[id] > 0 {
		wt.undefinedIDs[id] = struct{}{}
		return false
	}
	wt.removeWorksheet(id)
	return true
}

// RenameWorksheet changes the name of a defined worksheet. an undefined
// entry holding the new name is dropped: the formulas referencing it now
// mean the renamed worksheet.
func (wt *WorksheetTable) RenameWorksheet(oldName, newName string) bool {
	id, exists := wt.nameToID[wt.key(oldName)]
	if !exists {
		return false
	}
	if otherID, taken := wt.nameToID[wt.key(newName)]; taken && otherID != id {
		wt.removeWorksheet(otherID)
	}
	delete(wt.nameToID, wt.key(oldName))
	wt.nameToID[wt.key(newName)] = id
	wt.idToName[id] = newName
	return true
}

// removeWorksheet removes a worksheet completely from all tracking maps
func (wt *WorksheetTable) removeWorksheet(id uint32) {
	delete(wt.nameToID, wt.key(wt.idToName[id]))
	delete(wt.idToName, id)
	delete(wt.definedWorksheets, id)
	delete(wt.undefinedIDs, id)
	delete(wt.refCounts, id)
}

// RemoveReference drops a formula reference. undefined worksheets without
// references are forgotten; returns true if that happened.
func (wt *WorksheetTable) RemoveReference(id uint32) bool {
	if _, exists := wt.idToName[id]; !exists {
		return false
	}
	wt.refCounts[id]--
	if wt.refCounts[id] > 0 {
		return false
	}
	wt.refCounts[id] = 0
	if _, isUndefined := wt.undefinedIDs[id]; isUndefined {
		wt.removeWorksheet(id)
		return true
	}
	return false
}

// GetWorksheet returns the worksheet for a given ID
func (wt *WorksheetTable) GetWorksheet(id uint32) (*Worksheet, bool) {
	worksheet, exists := wt.definedWorksheets[id]
	return worksheet, exists
}

// GetWorksheetByName returns the worksheet for a given name
func (wt *WorksheetTable) GetWorksheetByName(name string) (*Worksheet, bool) {
	id, exists := wt.nameToID[wt.key(name)]
	if !exists {
		return nil, false
	}
	return wt.GetWorksheet(id)
}

// GetWorksheetID returns the ID for a worksheet name, defined or not
func (wt *WorksheetTable) GetWorksheetID(name string) (uint32, bool) {
	id, exists := wt.nameToID[wt.key(name)]
	return id, exists
}

// GetWorksheetName returns the name for a worksheet ID
func (wt *WorksheetTable) GetWorksheetName(id uint32) (string, bool) {
	name, exists := wt.idToName[id]
	return name, exists
}

// GetReferenceCount returns the formula reference count of a worksheet
func (wt *WorksheetTable) GetReferenceCount(id uint32) int {
	return wt.refCounts[id]
}

// GetAllUndefinedWorksheets returns the names referenced by formulas but
// not defined, sorted
func (wt *WorksheetTable) GetAllUndefinedWorksheets() []string {
	result := make([]string, 0, len(wt.undefinedIDs))
	for id := range wt.undefinedIDs {
		result = append(result, wt.idToName[id])
	}
	slices.Sort(result)
	return result
}

// CountDefined returns the number of defined worksheets
func (wt *WorksheetTable) CountDefined() int {
	return len(wt.definedWorksheets)
}

// Clear removes all worksheets from the table
func (wt *WorksheetTable) Clear() {
	wt.nameToID = make(map[string]uint32)
	wt.idToName = make(map[uint32]string)
	wt.definedWorksheets = make(map[uint32]*Worksheet)
	wt.undefinedIDs = make(map[uint32]struct{})
	wt.refCounts = make(map[uint32]int)
	wt.nextID = 1 // start at 1, reserve 0 for no worksheet
}

// Workbook is a set of worksheets sharing an EngineContext. formulas
// reference other worksheets of the book as Sheet2!A1 or 'My Sheet'!A1:B2.
type Workbook struct {
	ctx    *EngineContext
	logger *slog.Logger
	sheets *WorksheetTable
	order  []*Worksheet

	evaluating bool
	circular   map[CellAddress]struct{}
}

// NewWorkbook creates an empty workbook. a nil ctx gets a fresh context.
func NewWorkbook(ctx *EngineContext) *Workbook {
	if ctx == nil {
		ctx = NewEngineContext()
	}
	return &Workbook{
		ctx:      ctx,
		logger:   ctx.Logger(),
		sheets:   NewWorksheetTable(),
		circular: make(map[CellAddress]struct{}),
	}
}

// Context returns the engine context of the book
func (wb *Workbook) Context() *EngineContext {
	return wb.ctx
}

func validateWorksheetName(name string) error {
	if strings.TrimSpace(name) == "" || strings.ContainsAny(name, "![]") {
		return NewApplicationError(InvalidArgument, "invalid worksheet name: "+name)
	}
	return nil
}

// AddWorksheet creates a worksheet. formulas of other worksheets that
// already reference the name become stale.
func (wb *Workbook) AddWorksheet(name string, opts ...WorksheetOption) (*Worksheet, error) {
	if err := validateWorksheetName(name); err != nil {
		return nil, err
	}
	if _, exists := wb.sheets.GetWorksheetByName(name); exists {
		return nil, newKindError(AlreadyExists, ErrWorksheetAlreadyExists, "worksheet %q already exists", name)
	}

	ws := newWorksheet(wb, name, opts...)
	ws.id = wb.sheets.DefineWorksheet(name, ws)
	wb.order = append(wb.order, ws)
	wb.markReferencingStale(ws.id)
	return ws, nil
}

// Worksheet returns the worksheet with the given name
func (wb *Workbook) Worksheet(name string) (*Worksheet, bool) {
	return wb.sheets.GetWorksheetByName(name)
}

// Worksheets returns the worksheets in creation order
func (wb *Workbook) Worksheets() []*Worksheet {
	return slices.Clone(wb.order)
}

// RemoveWorksheet removes a worksheet. references to it from other
// worksheets evaluate to #REF! until a worksheet of that name is added.
func (wb *Workbook) RemoveWorksheet(name string) error {
	ws, exists := wb.sheets.GetWorksheetByName(name)
	if !exists {
		return newKindError(NotFound, ErrWorksheetNotFound, "worksheet %q not found", name)
	}
	if wb.evaluating {
		return newKindError(FailedPrecondition, ErrRecalculationInProgress, "cannot remove worksheet during recalculation")
	}

	for _, addr := range ws.graph.Nodes() {
		if cell := ws.store.Get(addr.Position()); cell != nil {
			ws.unbind(cell)
		}
		delete(wb.circular, addr)
	}
	wb.sheets.UndefineWorksheet(name)
	wb.order = slices.DeleteFunc(wb.order, func(other *Worksheet) bool { return other == ws })
	wb.markReferencingStale(ws.id)
	wb.refreshCircular()
	return nil
}

// RenameWorksheet renames a worksheet and rewrites the qualified references
// to it in every worksheet of the book
func (wb *Workbook) RenameWorksheet(oldName, newName string) error {
	ws, exists := wb.sheets.GetWorksheetByName(oldName)
	if !exists {
		return newKindError(NotFound, ErrWorksheetNotFound, "worksheet %q not found", oldName)
	}
	if err := validateWorksheetName(newName); err != nil {
		return err
	}
	if other, taken := wb.sheets.GetWorksheetByName(newName); taken && other != ws {
		return newKindError(AlreadyExists, ErrWorksheetAlreadyExists, "worksheet %q already exists", newName)
	}
	if wb.evaluating {
		return newKindError(FailedPrecondition, ErrRecalculationInProgress, "cannot rename worksheet during recalculation")
	}

	// formulas written against the new name before the rename bind to the
	// renamed worksheet
	pendingID, hasPending := wb.sheets.GetWorksheetID(newName)
	hasPending = hasPending && pendingID != ws.id

	type rebinding struct {
		ws   *Worksheet
		cell *Cell
		text string
	}
	var work []rebinding
	rewritten := 0
	for _, sheet := range wb.order {
		var pending map[CellAddress]struct{}
		if hasPending {
			pending = make(map[CellAddress]struct{})
			for _, addr := range sheet.graph.ReferencesWorksheet(pendingID) {
				pending[addr] = struct{}{}
			}
		}
		for _, addr := range sheet.graph.Nodes() {
			cell := sheet.store.Get(addr.Position())
			if cell == nil {
				continue
			}
			text, changed := rewriteSheetName(cell.Formula, func(qualifier string) bool {
				return wb.sheets.key(qualifier) == wb.sheets.key(oldName)
			}, newName)
			_, isPending := pending[addr]
			if changed || isPending {
				work = append(work, rebinding{ws: sheet, cell: cell, text: text})
			}
			if changed {
				rewritten++
			}
		}
	}

	// unbind while the table still knows the old names
	for _, w := range work {
		w.ws.unbind(w.cell)
	}
	wb.sheets.RenameWorksheet(oldName, newName)
	ws.name = newName
	ws.names.worksheet = newName

	touched := make([]CellAddress, 0, len(work))
	for _, w := range work {
		w.ws.rebind(w.cell, w.text, true)
		touched = append(touched, w.ws.address(w.cell.Position()))
	}
	for _, addr := range touched {
		wb.checkCycle(addr)
	}
	wb.refreshCircular()
	wb.markDependentsStale(touched...)
	wb.logger.Debug("worksheet renamed", "from", oldName, "to", newName, "rewritten", rewritten)
	for _, sheet := range wb.order {
		sheet.afterChange()
	}
	return nil
}

// Recalculate evaluates every formula of the book
func (wb *Workbook) Recalculate() error {
	members := make(map[CellAddress]struct{})
	for _, ws := range wb.order {
		for _, addr := range ws.graph.Nodes() {
			members[addr] = struct{}{}
		}
	}
	return wb.recalculate(members, false)
}

// RecalculateStale evaluates the stale and unevaluated formulas of the
// book, and every volatile formula
func (wb *Workbook) RecalculateStale() error {
	return wb.recalculateStale()
}

func (wb *Workbook) sheetByID(id uint32) *Worksheet {
	ws, _ := wb.sheets.GetWorksheet(id)
	return ws
}

// markReferencingStale marks the formulas reading worksheet id stale
func (wb *Workbook) markReferencingStale(id uint32) {
	var touched []CellAddress
	for _, ws := range wb.order {
		for _, addr := range ws.graph.ReferencesWorksheet(id) {
			wb.markStale(addr)
			touched = append(touched, addr)
		}
	}
	wb.markDependentsStale(touched...)
}
