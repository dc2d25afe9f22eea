package spreadsheet

import (
	"maps"
	"slices"
)

// ASTKey represents a normalized AST used as a key for formula deduplication,
// two formulas with the same structure (ignoring whitespace and case) will
// have the same ASTKey. we use a string key because ASTs are not comparable
type ASTKey string

// FormulaTable stores the parsed formulas of one worksheet centrally and
// tracks which cells, worksheets and named ranges they use.
type FormulaTable struct {
	// core formula storage

	astIndex  map[ASTKey]uint32  // normalized AST -> formula ID
	astCache  map[uint32]ASTNode // formula ID -> cached parsed AST
	refCounts map[uint32]int     // formula ID -> reference count

	// cell tracking

	cellsUsingFormula map[uint32]map[CellPosition]struct{} // formula ID -> cells using it
	formulaAtCell     map[CellPosition]uint32              // cell -> formula ID (reverse index)

	// worksheet tracking

	referencedWorksheets map[uint32]map[uint32]struct{} // formula ID -> other worksheets it references

	// named range tracking

	namedRangesUsed         map[uint32]map[uint32]struct{} // formula ID -> named range IDs it uses
	formulasUsingNamedRange map[uint32]map[uint32]struct{} // named range ID -> formula IDs using it

	nextID uint32
}

// NewFormulaTable creates a new formula table
func NewFormulaTable() *FormulaTable {
	ft := &FormulaTable{}
	ft.Clear()
	return ft
}

// normalizeAST converts an AST to its normalized string representation
func normalizeAST(ast ASTNode) ASTKey {
	if ast == nil {
		return ""
	}
	return ASTKey(ast.ToString())
}

// InternFormula adds a formula or increments its reference count if it
// already exists, and records pos as a user of it. returns the formula ID.
func (ft *FormulaTable) InternFormula(ast ASTNode, pos CellPosition) uint32 {
	if old, exists := ft.formulaAtCell[pos]; exists {
		ft.RemoveCellReference(old, pos)
	}

	key := normalizeAST(ast)
	id, exists := ft.astIndex[key]
	if !exists {
		id = ft.nextID
		ft.astIndex[key] = id
		ft.astCache[id] = ast
		ft.nextID++
	}

	ft.refCounts[id]++
	if ft.cellsUsingFormula[id] == nil {
		ft.cellsUsingFormula[id] = make(map[CellPosition]struct{})
	}
	ft.cellsUsingFormula[id][pos] = struct{}{}
	ft.formulaAtCell[pos] = id
	return id
}

// GetAST retrieves the cached AST for a formula ID
func (ft *FormulaTable) GetAST(id uint32) (ASTNode, bool) {
	ast, exists := ft.astCache[id]
	return ast, exists
}

// GetFormulaID returns the ID for a normalized AST
func (ft *FormulaTable) GetFormulaID(ast ASTNode) (uint32, bool) {
	id, exists := ft.astIndex[normalizeAST(ast)]
	return id, exists
}

// RemoveCellReference removes pos from the users of a formula. returns true
// if the formula was removed due to zero references.
func (ft *FormulaTable) RemoveCellReference(formulaID uint32, pos CellPosition) bool {
	cells, exists := ft.cellsUsingFormula[formulaID]
	if !exists {
		return false
	}
	if _, used := cells[pos]; !used {
		return false
	}
	delete(cells, pos)
	if len(cells) == 0 {
		delete(ft.cellsUsingFormula, formulaID)
	}
	delete(ft.formulaAtCell, pos)

	ft.refCounts[formulaID]--
	if ft.refCounts[formulaID] <= 0 {
		ft.removeFormula(formulaID)
		return true
	}
	return false
}

// removeFormula removes a formula and all its tracking data
func (ft *FormulaTable) removeFormula(formulaID uint32) {
	if ast, exists := ft.astCache[formulaID]; exists {
		delete(ft.astIndex, normalizeAST(ast))
	}

	delete(ft.astCache, formulaID)
	delete(ft.refCounts, formulaID)
	delete(ft.cellsUsingFormula, formulaID)
	delete(ft.referencedWorksheets, formulaID)

	for namedRangeID := range ft.namedRangesUsed[formulaID] {
		ft.untrackName(formulaID, namedRangeID)
	}
	delete(ft.namedRangesUsed, formulaID)
}

// GetReferenceCount returns the reference count for a formula
func (ft *FormulaTable) GetReferenceCount(id uint32) int {
	return ft.refCounts[id]
}

// TrackWorksheetReference marks a worksheet as being referenced by a formula
func (ft *FormulaTable) TrackWorksheetReference(formulaID uint32, worksheetID uint32) {
	if ft.referencedWorksheets[formulaID] == nil {
		ft.referencedWorksheets[formulaID] = make(map[uint32]struct{})
	}
	ft.referencedWorksheets[formulaID][worksheetID] = struct{}{}
}

// GetReferencedWorksheets returns the IDs of other worksheets referenced by
// a formula, in ascending order
func (ft *FormulaTable) GetReferencedWorksheets(formulaID uint32) []uint32 {
	return slices.Sorted(maps.Keys(ft.referencedWorksheets[formulaID]))
}

// FormulasReferencingWorksheet returns the IDs of formulas that reference
// the worksheet
func (ft *FormulaTable) FormulasReferencingWorksheet(worksheetID uint32) []uint32 {
	var result []uint32
	for formulaID, sheets := range ft.referencedWorksheets {
		if _, ok := sheets[worksheetID]; ok {
			result = append(result, formulaID)
		}
	}
	slices.Sort(result)
	return result
}

// TrackNamedRangeReference tracks that a formula uses a named range
func (ft *FormulaTable) TrackNamedRangeReference(formulaID uint32, namedRangeID uint32) {
	if ft.namedRangesUsed[formulaID] == nil {
		ft.namedRangesUsed[formulaID] = make(map[uint32]struct{})
	}
	ft.namedRangesUsed[formulaID][namedRangeID] = struct{}{}

	// reverse index
	if ft.formulasUsingNamedRange[namedRangeID] == nil {
		ft.formulasUsingNamedRange[namedRangeID] = make(map[uint32]struct{})
	}
	ft.formulasUsingNamedRange[namedRangeID][formulaID] = struct{}{}
}

func (ft *FormulaTable) untrackName(formulaID, namedRangeID uint32) {
	if formulas, ok := ft.formulasUsingNamedRange[namedRangeID]; ok {
		delete(formulas, formulaID)
		if len(formulas) == 0 {
			delete(ft.formulasUsingNamedRange, namedRangeID)
		}
	}
}

// GetNamedRangesUsed returns the named range IDs a formula uses
func (ft *FormulaTable) GetNamedRangesUsed(formulaID uint32) []uint32 {
	return slices.Sorted(maps.Keys(ft.namedRangesUsed[formulaID]))
}

// GetFormulasUsingNamedRange returns formula IDs that use a specific
// named range
func (ft *FormulaTable) GetFormulasUsingNamedRange(namedRangeID uint32) []uint32 {
	return slices.Sorted(maps.Keys(ft.formulasUsingNamedRange[namedRangeID]))
}

// GetCellsUsingFormula returns all cells using a specific formula in
// row-major order
func (ft *FormulaTable) GetCellsUsingFormula(formulaID uint32) []CellPosition {
	cells := slices.Collect(maps.Keys(ft.cellsUsingFormula[formulaID]))
	slices.SortFunc(cells, comparePositions)
	return cells
}

// CellsUsingNamedRange returns every cell whose formula uses the named
// range, in row-major order
func (ft *FormulaTable) CellsUsingNamedRange(namedRangeID uint32) []CellPosition {
	var cells []CellPosition
	for formulaID := range ft.formulasUsingNamedRange[namedRangeID] {
		for pos := range ft.cellsUsingFormula[formulaID] {
			cells = append(cells, pos)
		}
	}
	slices.SortFunc(cells, comparePositions)
	return cells
}

// GetFormulaAtCell returns the formula ID at a specific cell
func (ft *FormulaTable) GetFormulaAtCell(pos CellPosition) (uint32, bool) {
	id, exists := ft.formulaAtCell[pos]
	return id, exists
}

// Count returns the number of unique formulas
func (ft *FormulaTable) Count() int {
	return len(ft.astIndex)
}

// TotalReferences returns the total number of references across all formulas
func (ft *FormulaTable) TotalReferences() int {
	total := 0
	for _, count := range ft.refCounts {
		total += count
	}
	return total
}

// Clear removes all formulas from the table
func (ft *FormulaTable) Clear() {
	ft.astIndex = make(map[ASTKey]uint32)
	ft.astCache = make(map[uint32]ASTNode)
	ft.refCounts = make(map[uint32]int)
	ft.cellsUsingFormula = make(map[uint32]map[CellPosition]struct{})
	ft.formulaAtCell = make(map[CellPosition]uint32)
	ft.referencedWorksheets = make(map[uint32]map[uint32]struct{})
	ft.namedRangesUsed = make(map[uint32]map[uint32]struct{})
	ft.formulasUsingNamedRange = make(map[uint32]map[uint32]struct{})
	ft.nextID = 1 // start at 1, reserve 0 for no formula
}

func comparePositions(a, b CellPosition) int {
	if a.Row != b.Row {
		return a.Row - b.Row
	}
	return a.Col - b.Col
}

// sheetCell is a cell operand of a formula. Sheet is empty for the
// formula's own worksheet.
type sheetCell struct {
	Sheet string
	Pos   CellPosition
}

// sheetRange is a range operand of a formula
type sheetRange struct {
	Sheet string
	Range RangePosition
}

// formulaRefs is everything a formula reads, gathered from its AST
type formulaRefs struct {
	cells    []sheetCell
	ranges   []sheetRange
	names    []string
	volatile bool
	refError bool // the formula contains a #REF! left by reference rewriting
}

// collectReferences walks the AST and gathers the formula's operands
func collectReferences(ast ASTNode) formulaRefs {
	var refs formulaRefs
	var walk func(node ASTNode)
	walk = func(node ASTNode) {
		switch n := node.(type) {
		case *CellRefNode:
			refs.cells = append(refs.cells, sheetCell{Sheet: n.Sheet, Pos: n.Ref.Pos})
		case *RangeNode:
			refs.ranges = append(refs.ranges, sheetRange{Sheet: n.Sheet, Range: n.Bounds()})
		case *NamedRangeNode:
			refs.names = append(refs.names, n.Name)
		case *ErrorNode:
			if n.Code == ErrorCodeRef {
				refs.refError = true
			}
		case *BinaryOpNode:
			walk(n.Left)
			walk(n.Right)
		case *UnaryOpNode:
			walk(n.Operand)
		case *FunctionCallNode:
			if isVolatileFunction(n.Name) {
				refs.volatile = true
			}
			for _, arg := range n.Args {
				walk(arg)
			}
		case *StringNode, *NumberNode, *BooleanNode:
			// literal nodes don't have dependencies
		}
	}
	walk(ast)
	return refs
}
