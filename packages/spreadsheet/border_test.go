package spreadsheet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var solid = BorderStyle{Line: BorderLineSolid, Color: "#000000"}

func TestBorderModelSharedEdges(t *testing.T) {
	bm := NewBorderModel()
	spans := NewSpanModel()
	bm.set(NewRangePosition(0, 0, 2, 2), BorderAll, solid, spans)

	// a 2x2 grid has 6 horizontal and 6 vertical edges
	assert.Equal(t, 12, bm.Count())
	assert.Equal(t, solid, bm.get(Pos(0, 0)).Bottom)
	assert.Equal(t, bm.get(Pos(0, 0)).Bottom, bm.get(Pos(1, 0)).Top, "adjacent cells share one edge")
	assert.Equal(t, bm.get(Pos(0, 0)).Right, bm.get(Pos(0, 1)).Left)

	bm.set(NewRangePosition(1, 0, 1, 1), BorderTop, BorderStyle{}, spans)
	assert.True(t, bm.get(Pos(0, 0)).Bottom.IsEmpty())
	assert.Equal(t, 11, bm.Count(), "empty styles are not stored")
	require.NoError(t, bm.validate(spans))
}

func TestBorderModelMergedInterior(t *testing.T) {
	bm := NewBorderModel()
	spans := NewSpanModel()
	bm.set(NewRangePosition(0, 0, 2, 2), BorderAll|BorderX, solid, spans)

	span, err := spans.Merge(NewRangePosition(0, 0, 2, 2))
	require.NoError(t, err)
	bm.removeInterior(span)
	require.NoError(t, bm.validate(spans))
	assert.True(t, bm.get(Pos(0, 0)).Bottom.IsEmpty())
	assert.Equal(t, solid, bm.get(Pos(0, 0)).Slash, "the anchor keeps its diagonals")
	assert.True(t, bm.get(Pos(1, 1)).Slash.IsEmpty())

	bm.set(NewRangePosition(0, 0, 2, 2), BorderInside, solid, spans)
	require.NoError(t, bm.validate(spans), "interior edges of a span are never stored")
}

func TestBorderModelCaptureRestore(t *testing.T) {
	bm := NewBorderModel()
	spans := NewSpanModel()
	bm.set(NewRangePosition(0, 0, 1, 1), BorderOutside, solid, spans)
	before := bm.snapshot()

	snap := bm.capture(NewRangePosition(0, 0, 1, 1))
	bm.clear(NewRangePosition(0, 0, 1, 1))
	assert.Equal(t, 0, bm.Count())

	bm.restore(snap)
	assert.Equal(t, before, bm)
}

func TestBorderModelAdjust(t *testing.T) {
	bm := NewBorderModel()
	spans := NewSpanModel()
	bm.set(NewRangePosition(2, 0, 1, 1), BorderOutside, solid, spans)

	bm.adjust(axisEdit{at: 0, count: 1, limit: MaxRows})
	assert.Equal(t, solid, bm.get(Pos(3, 0)).Top)
	assert.Equal(t, solid, bm.get(Pos(3, 0)).Bottom)
	assert.True(t, bm.get(Pos(2, 0)).Top.IsEmpty())

	bm.adjust(axisEdit{at: 3, count: -1, limit: MaxRows})
	assert.Equal(t, solid, bm.get(Pos(2, 0)).Bottom, "the edge below a deleted row survives")
	assert.True(t, bm.get(Pos(3, 0)).Left.IsEmpty())
}

func TestBorderPositionsString(t *testing.T) {
	assert.Equal(t, "none", BorderPositions(0).String())
	assert.Equal(t, "left|top|right|bottom", BorderOutside.String())
	assert.Equal(t, "slash|backslash", BorderX.String())
}
