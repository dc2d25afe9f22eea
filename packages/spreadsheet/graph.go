package spreadsheet

import (
	"cmp"
	"maps"
	"slices"
)

// RangeAddress is a rectangle of cells within a single worksheet
type RangeAddress struct {
	WorksheetID uint32
	Range       RangePosition
}

// Contains reports whether the cell lies inside the range
func (r RangeAddress) Contains(addr CellAddress) bool {
	return addr.WorksheetID == r.WorksheetID && r.Range.Contains(addr.Position())
}

// DependencyNode is a formula cell in the dependency graph. nodes only exist
// for cells holding a formula.
type DependencyNode struct {
	Addr CellAddress

	CellPrecedents  map[CellAddress]struct{}  // cells this cell depends on
	RangePrecedents map[RangeAddress]struct{} // ranges this cell depends on (lazy)

	Volatile bool // NOW(), RAND() and friends
}

// DependencyGraph tracks the formula cells of one worksheet and the cells
// and ranges they read. precedents may live on other worksheets; the
// graph is an arena keyed by CellAddress with no pointers between nodes.
type DependencyGraph struct {
	nodes          map[CellAddress]*DependencyNode           // formula cells
	cellDependents map[CellAddress]map[CellAddress]struct{}  // precedent -> formula cells reading it
	rangeObservers map[RangeAddress]map[CellAddress]struct{} // range -> formula cells reading it
	volatileCells  map[CellAddress]struct{}                  // cells with volatile functions (always recalculate)
}

// NewDependencyGraph creates a new dependency graph
func NewDependencyGraph() *DependencyGraph {
	dg := &DependencyGraph{}
	dg.Clear()
	return dg
}

// SetPrecedents replaces the precedents of the formula cell at addr,
// creating its node if needed
func (dg *DependencyGraph) SetPrecedents(addr CellAddress, cells []CellAddress, ranges []RangeAddress, volatile bool) {
	dg.RemoveNode(addr)

	node := &DependencyNode{
		Addr:            addr,
		CellPrecedents:  make(map[CellAddress]struct{}, len(cells)),
		RangePrecedents: make(map[RangeAddress]struct{}, len(ranges)),
		Volatile:        volatile,
	}
	dg.nodes[addr] = node

	for _, precedent := range cells {
		node.CellPrecedents[precedent] = struct{}{}
		if dg.cellDependents[precedent] == nil {
			dg.cellDependents[precedent] = make(map[CellAddress]struct{})
		}
		dg.cellDependents[precedent][addr] = struct{}{}
	}

	for _, rangeAddr := range ranges {
		node.RangePrecedents[rangeAddr] = struct{}{}
		if dg.rangeObservers[rangeAddr] == nil {
			dg.rangeObservers[rangeAddr] = make(map[CellAddress]struct{})
		}
		dg.rangeObservers[rangeAddr][addr] = struct{}{}
	}

	if volatile {
		dg.volatileCells[addr] = struct{}{}
	}
}

// GetNode retrieves a node if it exists
func (dg *DependencyGraph) GetNode(addr CellAddress) (*DependencyNode, bool) {
	node, exists := dg.nodes[addr]
	return node, exists
}

// RemoveNode removes a node and all its dependencies
func (dg *DependencyGraph) RemoveNode(addr CellAddress) bool {
	node, exists := dg.nodes[addr]
	if !exists {
		return false
	}

	for precedent := range node.CellPrecedents {
		if dependents, ok := dg.cellDependents[precedent]; ok {
			delete(dependents, addr)
			if len(dependents) == 0 {
				delete(dg.cellDependents, precedent)
			}
		}
	}

	for rangeAddr := range node.RangePrecedents {
		if observers, ok := dg.rangeObservers[rangeAddr]; ok {
			delete(observers, addr)
			if len(observers) == 0 {
				delete(dg.rangeObservers, rangeAddr)
			}
		}
	}

	delete(dg.volatileCells, addr)
	delete(dg.nodes, addr)
	return true
}

// GetDirectDependents returns the formula cells that read addr, either
// directly or through a range, in address order
func (dg *DependencyGraph) GetDirectDependents(addr CellAddress) []CellAddress {
	result := make(map[CellAddress]struct{})
	for dependent := range dg.cellDependents[addr] {
		result[dependent] = struct{}{}
	}
	for rangeAddr, observers := range dg.rangeObservers {
		if rangeAddr.Contains(addr) {
			for observer := range observers {
				result[observer] = struct{}{}
			}
		}
	}
	return sortedAddresses(result)
}

// GetDependentsInRange returns the formula cells that read any cell inside
// r, in address order
func (dg *DependencyGraph) GetDependentsInRange(r RangeAddress) []CellAddress {
	result := make(map[CellAddress]struct{})
	for precedent, dependents := range dg.cellDependents {
		if r.Contains(precedent) {
			maps.Copy(result, dependents)
		}
	}
	for rangeAddr, observers := range dg.rangeObservers {
		if rangeAddr.WorksheetID == r.WorksheetID && rangeAddr.Range.Intersects(r.Range) {
			maps.Copy(result, observers)
		}
	}
	return sortedAddresses(result)
}

// GetAllDependents returns all formula cells of this graph affected by addr
// (transitive closure)
func (dg *DependencyGraph) GetAllDependents(addr CellAddress) []CellAddress {
	visited := make(map[CellAddress]struct{})
	queue := []CellAddress{addr}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, dependent := range dg.GetDirectDependents(current) {
			if _, seen := visited[dependent]; seen {
				continue
			}
			visited[dependent] = struct{}{}
			queue = append(queue, dependent)
		}
	}
	return sortedAddresses(visited)
}

// GetDirectPrecedents returns cells this cell directly depends on
func (dg *DependencyGraph) GetDirectPrecedents(addr CellAddress) []CellAddress {
	node, exists := dg.nodes[addr]
	if !exists {
		return nil
	}
	return sortedAddresses(node.CellPrecedents)
}

// GetRangePrecedents returns ranges this cell depends on
func (dg *DependencyGraph) GetRangePrecedents(addr CellAddress) []RangeAddress {
	node, exists := dg.nodes[addr]
	if !exists {
		return nil
	}
	result := slices.Collect(maps.Keys(node.RangePrecedents))
	slices.SortFunc(result, compareRangeAddresses)
	return result
}

// ReferencesWorksheet returns the formula cells with a precedent on the
// given worksheet
func (dg *DependencyGraph) ReferencesWorksheet(worksheetID uint32) []CellAddress {
	result := make(map[CellAddress]struct{})
	for addr, node := range dg.nodes {
		for precedent := range node.CellPrecedents {
			if precedent.WorksheetID == worksheetID {
				result[addr] = struct{}{}
			}
		}
		for rangeAddr := range node.RangePrecedents {
			if rangeAddr.WorksheetID == worksheetID {
				result[addr] = struct{}{}
			}
		}
	}
	return sortedAddresses(result)
}

// Nodes returns every formula cell in address order
func (dg *DependencyGraph) Nodes() []CellAddress {
	return slices.SortedFunc(maps.Keys(dg.nodes), compareAddresses)
}

// IsVolatile checks if a cell contains volatile functions
func (dg *DependencyGraph) IsVolatile(addr CellAddress) bool {
	_, isVolatile := dg.volatileCells[addr]
	return isVolatile
}

// GetVolatileCells returns all cells marked as volatile
func (dg *DependencyGraph) GetVolatileCells() []CellAddress {
	return sortedAddresses(dg.volatileCells)
}

// NodeCount returns the number of nodes in the graph
func (dg *DependencyGraph) NodeCount() int {
	return len(dg.nodes)
}

// RangeObserverCount returns the number of observed ranges
func (dg *DependencyGraph) RangeObserverCount() int {
	return len(dg.rangeObservers)
}

// Clear removes all nodes and dependencies from the graph
func (dg *DependencyGraph) Clear() {
	dg.nodes = make(map[CellAddress]*DependencyNode)
	dg.cellDependents = make(map[CellAddress]map[CellAddress]struct{})
	dg.rangeObservers = make(map[RangeAddress]map[CellAddress]struct{})
	dg.volatileCells = make(map[CellAddress]struct{})
}

func compareAddresses(a, b CellAddress) int {
	if c := cmp.Compare(a.WorksheetID, b.WorksheetID); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Row, b.Row); c != 0 {
		return c
	}
	return cmp.Compare(a.Column, b.Column)
}

func compareRangeAddresses(a, b RangeAddress) int {
	if c := cmp.Compare(a.WorksheetID, b.WorksheetID); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Range.Row, b.Range.Row); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Range.Col, b.Range.Col); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Range.Rows, b.Range.Rows); c != 0 {
		return c
	}
	return cmp.Compare(a.Range.Cols, b.Range.Cols)
}

func sortedAddresses(set map[CellAddress]struct{}) []CellAddress {
	return slices.SortedFunc(maps.Keys(set), compareAddresses)
}

// calculationOrder returns the strongly connected components of the graph
// spanned by nodes, precedents first (Tarjan). an acyclic graph yields only
// single-cell components; a component with more than one cell, or a cell
// listing itself as a precedent, is a cycle. nodes should be sorted so the
// order is deterministic.
func calculationOrder(nodes []CellAddress, precedents func(CellAddress) []CellAddress) [][]CellAddress {
	index := make(map[CellAddress]int, len(nodes))
	lowLink := make(map[CellAddress]int, len(nodes))
	onStack := make(map[CellAddress]bool)
	var stack []CellAddress
	var order [][]CellAddress
	next := 0

	var visit func(addr CellAddress)
	visit = func(addr CellAddress) {
		index[addr] = next
		lowLink[addr] = next
		next++
		stack = append(stack, addr)
		onStack[addr] = true

		// visit all precedents first
		for _, precedent := range precedents(addr) {
			if _, seen := index[precedent]; !seen {
				visit(precedent)
				lowLink[addr] = min(lowLink[addr], lowLink[precedent])
			} else if onStack[precedent] {
				lowLink[addr] = min(lowLink[addr], index[precedent])
			}
		}

		if lowLink[addr] != index[addr] {
			return
		}
		var component []CellAddress
		for {
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[top] = false
			component = append(component, top)
			if top == addr {
				break
			}
		}
		slices.SortFunc(component, compareAddresses)
		order = append(order, component)
	}

	for _, addr := range nodes {
		if _, seen := index[addr]; !seen {
			visit(addr)
		}
	}
	return order
}

// isCycle reports whether a component returned by calculationOrder is a
// circular reference
func isCycle(component []CellAddress, precedents func(CellAddress) []CellAddress) bool {
	if len(component) > 1 {
		return true
	}
	return slices.Contains(precedents(component[0]), component[0])
}
