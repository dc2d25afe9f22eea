package spreadsheet

import (
	"cmp"
	"iter"
	"maps"
	"slices"
)

// ChunkKey represents the key for indexing chunks in a CellStore
type ChunkKey struct {
	ChunkRow uint32
	ChunkCol uint32
}

const (
	ChunkRows uint32 = 256                   // rows per chunk - power of 2 for efficient modulo
	ChunkCols uint32 = 256                   // columns per chunk - matches typical viewport size
	ChunkSize        = ChunkRows * ChunkCols // 65536 cells per chunk

	// ranges up to this many cells are iterated by probing every position
	// instead of walking chunks
	denseScanLimit = 4096
)

// Chunk holds the cells of a 256x256 region, keyed column-first by local
// index
type Chunk struct {
	cells map[uint32]*Cell
}

// CellStore is a sparse cell container.
//
// architecture:
//   - cells are partitioned into 256x256 chunks for spatial locality
//   - a chunk exists only while it holds at least one cell
//   - a cell exists only while at least one of its elements is non-empty
type CellStore struct {
	chunks     map[ChunkKey]*Chunk
	totalCells int
}

// NewCellStore creates an empty store
func NewCellStore() *CellStore {
	return &CellStore{chunks: make(map[ChunkKey]*Chunk)}
}

func chunkLocation(pos CellPosition) (ChunkKey, uint32) {
	row, col := uint32(pos.Row), uint32(pos.Col)
	key := ChunkKey{ChunkRow: row / ChunkRows, ChunkCol: col / ChunkCols}
	return key, (col%ChunkCols)*ChunkRows + row%ChunkRows
}

// Get returns the stored cell at pos or nil. the returned pointer is owned by
// the store.
func (s *CellStore) Get(pos CellPosition) *Cell {
	key, idx := chunkLocation(pos)
	chunk, exists := s.chunks[key]
	if !exists {
		return nil
	}
	return chunk.cells[idx]
}

// getOrCreate returns the cell at pos, creating an empty one if needed
func (s *CellStore) getOrCreate(pos CellPosition) *Cell {
	if cell := s.Get(pos); cell != nil {
		return cell
	}
	cell := &Cell{Row: pos.Row, Col: pos.Col}
	s.put(cell)
	return cell
}

// put stores cell at its own position, replacing whatever was there
func (s *CellStore) put(cell *Cell) {
	key, idx := chunkLocation(cell.Position())
	chunk, exists := s.chunks[key]
	if !exists {
		chunk = &Chunk{cells: make(map[uint32]*Cell)}
		s.chunks[key] = chunk
	}
	if _, had := chunk.cells[idx]; !had {
		s.totalCells++
	}
	chunk.cells[idx] = cell
}

// Remove drops the cell at pos and returns it
func (s *CellStore) Remove(pos CellPosition) *Cell {
	key, idx := chunkLocation(pos)
	chunk, exists := s.chunks[key]
	if !exists {
		return nil
	}
	cell, had := chunk.cells[idx]
	if !had {
		return nil
	}
	delete(chunk.cells, idx)
	s.totalCells--
	if len(chunk.cells) == 0 {
		delete(s.chunks, key)
	}
	return cell
}

// compact removes the cell at pos if every element is empty
func (s *CellStore) compact(pos CellPosition) {
	if cell := s.Get(pos); cell != nil && cell.isEmpty() {
		s.Remove(pos)
	}
}

// Count returns the number of stored cells
func (s *CellStore) Count() int {
	return s.totalCells
}

// ChunkCount returns the number of allocated chunks
func (s *CellStore) ChunkCount() int {
	return len(s.chunks)
}

// All yields every stored cell in no particular order
func (s *CellStore) All() iter.Seq[*Cell] {
	return func(yield func(*Cell) bool) {
		for _, chunk := range s.chunks {
			for _, cell := range chunk.cells {
				if !yield(cell) {
					return
				}
			}
		}
	}
}

// Iterate yields the stored cells inside r in row-major order. the sequence
// is lazy and can be ranged over more than once; the store must not be
// modified while it is being consumed.
func (s *CellStore) Iterate(r RangePosition) iter.Seq[*Cell] {
	return func(yield func(*Cell) bool) {
		if s.totalCells == 0 {
			return
		}
		if r.IsEntire() {
			r = r.Resolve(MaxRows, MaxColumns)
		}
		if r.Rows <= 0 || r.Cols <= 0 {
			return
		}

		if r.CellCount() <= denseScanLimit {
			for pos := range r.Positions() {
				if cell := s.Get(pos); cell != nil && !yield(cell) {
					return
				}
			}
			return
		}

		firstBand, lastBand := uint32(r.Row)/ChunkRows, uint32(r.EndRow())/ChunkRows
		firstCol, lastCol := uint32(r.Col)/ChunkCols, uint32(r.EndCol())/ChunkCols

		bandSet := make(map[uint32]struct{})
		for key := range s.chunks {
			if key.ChunkRow >= firstBand && key.ChunkRow <= lastBand &&
				key.ChunkCol >= firstCol && key.ChunkCol <= lastCol {
				bandSet[key.ChunkRow] = struct{}{}
			}
		}
		bands := slices.Sorted(maps.Keys(bandSet))

		// one band of chunk rows is materialized and sorted at a time
		for _, band := range bands {
			var cells []*Cell
			for key, chunk := range s.chunks {
				if key.ChunkRow != band || key.ChunkCol < firstCol || key.ChunkCol > lastCol {
					continue
				}
				for _, cell := range chunk.cells {
					if r.Contains(cell.Position()) {
						cells = append(cells, cell)
					}
				}
			}
			slices.SortFunc(cells, compareCellOrder)
			for _, cell := range cells {
				if !yield(cell) {
					return
				}
			}
		}
	}
}

func compareCellOrder(a, b *Cell) int {
	if c := cmp.Compare(a.Row, b.Row); c != 0 {
		return c
	}
	return cmp.Compare(a.Col, b.Col)
}

// UsedRange returns the smallest range containing every stored cell
func (s *CellStore) UsedRange() (RangePosition, bool) {
	if s.totalCells == 0 {
		return RangePosition{}, false
	}
	top, left := MaxRows, MaxColumns
	bottom, right := -1, -1
	for cell := range s.All() {
		top, left = min(top, cell.Row), min(left, cell.Col)
		bottom, right = max(bottom, cell.Row), max(right, cell.Col)
	}
	return RangePosition{Row: top, Col: left, Rows: bottom - top + 1, Cols: right - left + 1}, true
}

// shift moves every cell through move. cells for which move reports false
// are dropped and returned, sorted in row-major order.
func (s *CellStore) shift(move func(pos CellPosition) (CellPosition, bool)) []*Cell {
	all := slices.Collect(s.All())
	s.chunks = make(map[ChunkKey]*Chunk)
	s.totalCells = 0

	var dropped []*Cell
	for _, cell := range all {
		next, keep := move(cell.Position())
		if !keep {
			dropped = append(dropped, cell)
			continue
		}
		cell.Row, cell.Col = next.Row, next.Col
		s.put(cell)
	}
	slices.SortFunc(dropped, compareCellOrder)
	return dropped
}

// shiftIndex maps an index through an insertion (count > 0) or deletion
// (count < 0) at at. false means the index was deleted or pushed past
// limit.
func shiftIndex(index, at, count, limit int) (int, bool) {
	if index < at {
		return index, true
	}
	if count > 0 {
		next := index + count
		return next, next < limit
	}
	deleted := -count
	if index < at+deleted {
		return 0, false
	}
	return index - deleted, true
}

// clear removes everything from the store
func (s *CellStore) clear() {
	s.chunks = make(map[ChunkKey]*Chunk)
	s.totalCells = 0
}
