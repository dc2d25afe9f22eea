package spreadsheet

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpanModelMerge(t *testing.T) {
	sm := NewSpanModel()

	span, err := sm.Merge(NewRangePosition(1, 1, 2, 3))
	require.NoError(t, err)
	assert.Equal(t, Pos(1, 1), span.Anchor())
	assert.True(t, span.IsPlaceholder(Pos(2, 3)))
	assert.False(t, span.IsPlaceholder(Pos(1, 1)))

	_, err = sm.Merge(NewRangePosition(5, 5, 1, 1))
	assert.True(t, errors.Is(err, ErrRangeTooSmall))

	_, err = sm.Merge(NewRangePosition(2, 3, 2, 2))
	assert.True(t, errors.Is(err, ErrRangeIntersection))
	assert.Equal(t, FailedPrecondition, ErrorCodeOf(err))
	assert.Equal(t, 1, sm.Count(), "a failed merge changes nothing")

	_, err = sm.Merge(NewRangePosition(0, 0, 1, 2))
	require.NoError(t, err)
	assert.Equal(t, []MergedSpan{{Range: NewRangePosition(0, 0, 1, 2)}, {Range: NewRangePosition(1, 1, 2, 3)}}, sm.All())
	require.NoError(t, sm.validate(MaxRows, MaxColumns))
}

func TestSpanModelLookup(t *testing.T) {
	sm := NewSpanModel()
	_, err := sm.Merge(NewRangePosition(2, 2, 2, 2))
	require.NoError(t, err)

	assert.True(t, sm.IsMerged(Pos(3, 3)))
	assert.False(t, sm.IsMerged(Pos(4, 2)))
	assert.Equal(t, Pos(2, 2), sm.resolve(Pos(3, 2)))
	assert.Equal(t, Pos(9, 9), sm.resolve(Pos(9, 9)))
	assert.True(t, sm.isPlaceholder(Pos(2, 3)))
	assert.False(t, sm.isPlaceholder(Pos(2, 2)))

	assert.Equal(t, RangeBetween(Pos(0, 0), Pos(3, 3)), sm.expand(NewRangePosition(0, 0, 3, 3)))
	assert.Equal(t, NewRangePosition(0, 0, 2, 2), sm.expand(NewRangePosition(0, 0, 2, 2)))
}

func TestSpanModelUnmerge(t *testing.T) {
	sm := NewSpanModel()
	for _, r := range []RangePosition{NewRangePosition(0, 0, 2, 2), NewRangePosition(0, 3, 2, 2)} {
		_, err := sm.Merge(r)
		require.NoError(t, err)
	}

	assert.Empty(t, sm.Unmerge(NewRangePosition(0, 0, 2, 4)), "only fully contained spans are removed")
	removed := sm.Unmerge(NewRangePosition(0, 0, 5, 5))
	assert.Len(t, removed, 2)
	assert.Equal(t, 0, sm.Count())
}

func TestSpanModelAdjust(t *testing.T) {
	sm := NewSpanModel()
	for _, r := range []RangePosition{NewRangePosition(0, 0, 2, 1), NewRangePosition(5, 0, 3, 2)} {
		_, err := sm.Merge(r)
		require.NoError(t, err)
	}

	sm.adjust(axisEdit{at: 1, count: -1, limit: MaxRows})
	assert.Equal(t, []MergedSpan{{Range: NewRangePosition(4, 0, 3, 2)}}, sm.All(), "a span shrunk to one cell is dropped")

	sm.adjust(axisEdit{at: 5, count: 2, limit: MaxRows})
	assert.Equal(t, []MergedSpan{{Range: NewRangePosition(4, 0, 5, 2)}}, sm.All())
}
