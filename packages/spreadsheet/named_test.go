package spreadsheet

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateName(t *testing.T) {
	for _, name := range []string{"Total", "_tax", "q1.sales", "Rate2024x"} {
		assert.NoError(t, ValidateName(name), name)
	}
	for _, name := range []string{"", "1st", "A1", "$A$1", "true", "FALSE", "has space", "a-b"} {
		err := ValidateName(name)
		assert.True(t, errors.Is(err, ErrInvalidName), name)
		assert.Equal(t, InvalidArgument, ErrorCodeOf(err), name)
	}
}

func TestNamedRangeRegistryDefine(t *testing.T) {
	nr := NewNamedRangeRegistry("Sheet1")

	named, id, err := nr.Define("Sales", NewRangePosition(0, 0, 10, 1), "q1")
	require.NoError(t, err)
	assert.NotZero(t, id)
	assert.Equal(t, "Sheet1", named.Worksheet)

	_, _, err = nr.Define("SALES", NewRangePosition(5, 5, 1, 1), "")
	assert.True(t, errors.Is(err, ErrNamedRangeAlreadyDefined))
	assert.Equal(t, AlreadyExists, ErrorCodeOf(err))

	got, ok := nr.Get("sales")
	require.True(t, ok)
	assert.Equal(t, NewRangePosition(0, 0, 10, 1), got.Range, "the prior definition is kept")
	assert.Equal(t, "Sales", got.Name)
	assert.Equal(t, 1, nr.Count())
}

func TestNamedRangeRegistryPendingReferences(t *testing.T) {
	nr := NewNamedRangeRegistry("Sheet1")

	id := nr.intern("Rate")
	assert.Equal(t, id, nr.intern("rate"))
	assert.Equal(t, 2, nr.GetReferenceCount(id))
	assert.Equal(t, []string{"Rate"}, nr.UndefinedNames())
	assert.False(t, nr.Contains("Rate"))

	_, defined, err := nr.Define("RATE", NewRangePosition(0, 0, 1, 1), "")
	require.NoError(t, err)
	assert.Equal(t, id, defined, "a referenced name keeps its ID when defined")
	assert.Empty(t, nr.UndefinedNames())

	removed, ok := nr.Remove("rate")
	require.True(t, ok)
	assert.Equal(t, id, removed)
	assert.Equal(t, []string{"RATE"}, nr.UndefinedNames(), "still referenced")

	nr.release(id)
	nr.release(id)
	_, exists := nr.ID("rate")
	assert.False(t, exists)
}

func TestNamedRangeRegistryRename(t *testing.T) {
	nr := NewNamedRangeRegistry("Sheet1")
	_, id, err := nr.Define("Old", NewRangePosition(0, 0, 1, 1), "")
	require.NoError(t, err)
	_, _, err = nr.Define("Other", NewRangePosition(1, 0, 1, 1), "")
	require.NoError(t, err)

	_, err = nr.Rename("Old", "other")
	assert.True(t, errors.Is(err, ErrNamedRangeAlreadyDefined))
	_, err = nr.Rename("Missing", "X")
	assert.True(t, errors.Is(err, ErrNamedRangeNotFound))
	assert.Equal(t, NotFound, ErrorCodeOf(err))

	renamed, err := nr.Rename("old", "New")
	require.NoError(t, err)
	assert.Equal(t, id, renamed)
	assert.False(t, nr.Contains("Old"))
	assert.Equal(t, []string{"New", "Other"}, nr.AllNames())
}

func TestNamedRangeRegistryNameForRange(t *testing.T) {
	nr := NewNamedRangeRegistry("Sheet1")
	r := NewRangePosition(0, 0, 2, 2)
	for _, name := range []string{"First", "Second"} {
		_, _, err := nr.Define(name, r, "")
		require.NoError(t, err)
	}
	name, ok := nr.NameForRange(r)
	require.True(t, ok)
	assert.Equal(t, "Second", name)

	_, ok = nr.NameForRange(NewRangePosition(0, 0, 1, 1))
	assert.False(t, ok)
}

func TestNamedRangeRegistryAdjust(t *testing.T) {
	nr := NewNamedRangeRegistry("Sheet1")
	_, below, _ := nr.Define("Below", NewRangePosition(5, 0, 2, 1), "")
	_, gone, _ := nr.Define("Gone", NewRangePosition(1, 0, 1, 1), "")
	nr.Define("Above", NewRangePosition(0, 0, 1, 1), "")

	changed := nr.adjust(axisEdit{at: 1, count: -1, limit: MaxRows})
	assert.ElementsMatch(t, []uint32{below, gone}, changed)

	got, _ := nr.Get("Below")
	assert.Equal(t, NewRangePosition(4, 0, 2, 1), got.Range)
	got, _ = nr.Get("Gone")
	assert.True(t, got.Broken)
	got, _ = nr.Get("Above")
	assert.Equal(t, NewRangePosition(0, 0, 1, 1), got.Range)
}

func TestNamedRangeRegistrySnapshot(t *testing.T) {
	nr := NewNamedRangeRegistry("Sheet1")
	nr.Define("Keep", NewRangePosition(0, 0, 1, 1), "")
	snap := nr.snapshot()

	nr.Rename("Keep", "Changed")
	assert.True(t, snap.Contains("Keep"))
	assert.False(t, snap.Contains("Changed"))
}
