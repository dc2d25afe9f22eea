package spreadsheet

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		text string
		want RangePosition
	}{
		{"A1", NewRangePosition(0, 0, 1, 1)},
		{"a2", NewRangePosition(1, 0, 1, 1)},
		{"$B$15", NewRangePosition(14, 1, 1, 1)},
		{"B15:D15", NewRangePosition(14, 1, 1, 3)},
		{"D15:B15", NewRangePosition(14, 1, 1, 3)},
		{"C3:A1", NewRangePosition(0, 0, 3, 3)},
		{"AA10", NewRangePosition(9, 26, 1, 1)},
		{"$a$1:b$2", NewRangePosition(0, 0, 2, 2)},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, err := ParseAddress(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, IsValidAddress(tt.text))
		})
	}
}

func TestParseAddressInvalid(t *testing.T) {
	for _, text := range []string{"", "A", "1", "A0", "1A", "A1:", ":B2", "A1:B", "A-1", "ZZZZZ1", "A1048577", "A1 "} {
		t.Run(text, func(t *testing.T) {
			_, err := ParseAddress(text)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidAddress))
			assert.Equal(t, InvalidArgument, ErrorCodeOf(err))
			assert.False(t, IsValidAddress(text))
		})
	}
}

func TestAddressRoundTrip(t *testing.T) {
	ranges := []RangePosition{
		NewRangePosition(0, 0, 1, 1),
		NewRangePosition(4, 2, 3, 7),
		NewRangePosition(MaxRows-1, MaxColumns-1, 1, 1),
		NewRangePosition(0, 25, 100, 2),
		NewRangePosition(99, 701, 1, 5),
	}
	for _, r := range ranges {
		t.Run(r.String(), func(t *testing.T) {
			parsed, err := ParseAddress(r.String())
			require.NoError(t, err)
			assert.Equal(t, r, parsed)
		})
	}

	for _, text := range []string{"$b$2:a1", "c5", "A1:A1", "z9:Z9"} {
		normalized, err := NormalizeAddress(text)
		require.NoError(t, err)
		parsed, err := ParseAddress(text)
		require.NoError(t, err)
		assert.Equal(t, normalized, parsed.String())
	}
	normalized, err := NormalizeAddress("A1:A1")
	require.NoError(t, err)
	assert.Equal(t, "A1", normalized)
}

func TestColumnNames(t *testing.T) {
	tests := map[int]string{0: "A", 25: "Z", 26: "AA", 51: "AZ", 52: "BA", 701: "ZZ", 702: "AAA"}
	for col, name := range tests {
		assert.Equal(t, name, ColumnName(col))
		idx, ok := ColumnIndex(name)
		require.True(t, ok)
		assert.Equal(t, col, idx)
	}
	_, ok := ColumnIndex("A1")
	assert.False(t, ok)
	assert.Equal(t, "", ColumnName(-1))
}

func TestRangePositionHelpers(t *testing.T) {
	r := NewRangePosition(2, 2, 3, 3) // C3:E5

	assert.True(t, r.Contains(Pos(2, 2)))
	assert.True(t, r.Contains(Pos(4, 4)))
	assert.False(t, r.Contains(Pos(5, 4)))
	assert.True(t, r.ContainsRange(NewRangePosition(3, 3, 2, 2)))
	assert.False(t, r.ContainsRange(NewRangePosition(3, 3, 3, 2)))
	assert.True(t, r.Intersects(NewRangePosition(4, 4, 5, 5)))
	assert.False(t, r.Intersects(NewRangePosition(5, 0, 1, 10)))

	inter, ok := r.Intersection(NewRangePosition(0, 3, 4, 10))
	require.True(t, ok)
	assert.Equal(t, NewRangePosition(2, 3, 2, 2), inter)

	assert.Equal(t, NewRangePosition(3, 1, 3, 3), r.Offset(1, -1))
	assert.Equal(t, 4, r.EndRow())
	assert.Equal(t, 9, r.CellCount())

	entire := EntireRange.Resolve(10, 5)
	assert.Equal(t, NewRangePosition(0, 0, 10, 5), entire)
	assert.Equal(t, NewRangePosition(8, 0, 2, 3), NewRangePosition(8, 0, 5, 3).Resolve(10, 5))

	var positions []CellPosition
	for pos := range NewRangePosition(0, 0, 2, 2).Positions() {
		positions = append(positions, pos)
	}
	assert.Equal(t, []CellPosition{Pos(0, 0), Pos(0, 1), Pos(1, 0), Pos(1, 1)}, positions)
}

func TestCellRefAnchors(t *testing.T) {
	ref, ok := parseCellRef("$C$7")
	require.True(t, ok)
	assert.True(t, ref.AbsCol)
	assert.True(t, ref.AbsRow)
	assert.Equal(t, Pos(6, 2), ref.Pos)
	assert.Equal(t, "$C$7", ref.String())

	ref, ok = parseCellRef("c$7")
	require.True(t, ok)
	assert.False(t, ref.AbsCol)
	assert.Equal(t, "C$7", ref.String())
}

func TestParseCellAddress(t *testing.T) {
	pos, err := ParseCellAddress("$D$9")
	require.NoError(t, err)
	assert.Equal(t, Pos(8, 3), pos)
	assert.Equal(t, "D9", pos.String())

	for _, text := range []string{"A1:B2", "", "9D"} {
		_, err := ParseCellAddress(text)
		assert.ErrorIs(t, err, ErrInvalidAddress, text)
	}
}
