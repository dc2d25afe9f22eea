package spreadsheet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func positionsOf(cells []*Cell) []CellPosition {
	out := make([]CellPosition, 0, len(cells))
	for _, cell := range cells {
		out = append(out, cell.Position())
	}
	return out
}

func TestCellStoreChunks(t *testing.T) {
	s := NewCellStore()
	assert.Nil(t, s.Get(Pos(0, 0)))

	s.getOrCreate(Pos(0, 0)).Data = 1.0
	s.getOrCreate(Pos(255, 255)).Data = 2.0
	s.getOrCreate(Pos(256, 0)).Data = 3.0
	s.getOrCreate(Pos(0, 256)).Data = 4.0

	assert.Equal(t, 4, s.Count())
	assert.Equal(t, 3, s.ChunkCount())
	assert.Equal(t, 2.0, s.Get(Pos(255, 255)).Data)

	removed := s.Remove(Pos(256, 0))
	require.NotNil(t, removed)
	assert.Equal(t, 3.0, removed.Data)
	assert.Equal(t, 2, s.ChunkCount(), "empty chunks are released")
	assert.Nil(t, s.Remove(Pos(256, 0)))
	assert.Equal(t, 3, s.Count())
}

func TestCellStoreCompact(t *testing.T) {
	s := NewCellStore()
	cell := s.getOrCreate(Pos(3, 3))
	cell.StyleID = 4
	s.compact(Pos(3, 3))
	assert.NotNil(t, s.Get(Pos(3, 3)), "a styled cell is kept")

	cell.StyleID = 0
	s.compact(Pos(3, 3))
	assert.Nil(t, s.Get(Pos(3, 3)))
	assert.Equal(t, 0, s.Count())
}

func TestCellStoreIterateOrder(t *testing.T) {
	s := NewCellStore()
	for _, pos := range []CellPosition{Pos(700, 3), Pos(0, 900), Pos(1, 1), Pos(0, 2), Pos(300, 0)} {
		s.getOrCreate(pos).Data = 1.0
	}

	t.Run("dense scan", func(t *testing.T) {
		var got []*Cell
		for cell := range s.Iterate(NewRangePosition(0, 0, 2, 3)) {
			got = append(got, cell)
		}
		assert.Equal(t, []CellPosition{Pos(0, 2), Pos(1, 1)}, positionsOf(got))
	})

	t.Run("chunk walk", func(t *testing.T) {
		var got []*Cell
		for cell := range s.Iterate(EntireRange) {
			got = append(got, cell)
		}
		assert.Equal(t, []CellPosition{Pos(0, 2), Pos(0, 900), Pos(1, 1), Pos(300, 0), Pos(700, 3)}, positionsOf(got))
	})

	t.Run("early stop", func(t *testing.T) {
		n := 0
		for range s.Iterate(EntireRange) {
			n++
			if n == 2 {
				break
			}
		}
		assert.Equal(t, 2, n)
	})

	used, ok := s.UsedRange()
	require.True(t, ok)
	assert.Equal(t, RangeBetween(Pos(0, 0), Pos(700, 900)), used)
}

func TestCellStoreShift(t *testing.T) {
	s := NewCellStore()
	for row := range 5 {
		s.getOrCreate(Pos(row, 0)).Data = float64(row)
	}

	edit := axisEdit{at: 1, count: -2, limit: MaxRows}
	dropped := s.shift(edit.mapCell)
	assert.Equal(t, []CellPosition{Pos(1, 0), Pos(2, 0)}, positionsOf(dropped))
	assert.Equal(t, 3, s.Count())
	assert.Equal(t, 3.0, s.Get(Pos(1, 0)).Data)
	assert.Equal(t, 4.0, s.Get(Pos(2, 0)).Data)

	s.shift(axisEdit{at: 0, count: 10, limit: MaxRows}.mapCell)
	assert.Equal(t, 0.0, s.Get(Pos(10, 0)).Data)
	assert.Nil(t, s.Get(Pos(0, 0)))
}

func TestShiftIndex(t *testing.T) {
	tests := []struct {
		index, at, count, limit int
		want                    int
		ok                      bool
	}{
		{index: 3, at: 5, count: 2, limit: 100, want: 3, ok: true},
		{index: 5, at: 5, count: 2, limit: 100, want: 7, ok: true},
		{index: 98, at: 5, count: 2, limit: 100, ok: false},
		{index: 5, at: 5, count: -2, limit: 100, ok: false},
		{index: 6, at: 5, count: -2, limit: 100, ok: false},
		{index: 7, at: 5, count: -2, limit: 100, want: 5, ok: true},
	}
	for _, tt := range tests {
		got, ok := shiftIndex(tt.index, tt.at, tt.count, tt.limit)
		assert.Equal(t, tt.ok, ok, "%+v", tt)
		if tt.ok {
			assert.Equal(t, tt.want, got, "%+v", tt)
		}
	}
}
