package spreadsheet

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

// scriptedAction fails or panics on demand
type scriptedAction struct {
	baseAction
	doErr   error
	undoErr error
	panics  bool
	done    int
	undone  int
}

func newScriptedAction(name string) *scriptedAction {
	return &scriptedAction{baseAction: newBaseAction(name)}
}

func (a *scriptedAction) Do(ws *Worksheet) error {
	if a.panics {
		panic("scripted panic")
	}
	if a.doErr != nil {
		return a.doErr
	}
	a.done++
	return nil
}

func (a *scriptedAction) Undo(ws *Worksheet) error {
	if a.undoErr != nil {
		return a.undoErr
	}
	a.undone++
	return nil
}

func newActionSheet(t *testing.T, opts ...WorksheetOption) *Worksheet {
	t.Helper()
	ws, err := NewWorksheet(nil, "Sheet1", opts...)
	require.NoError(t, err)
	return ws
}

func TestActionUndoRedo(t *testing.T) {
	ws := newActionSheet(t)

	require.NoError(t, ws.DoAction(NewSetCellDataAction(Pos(0, 0), 1.0)))
	require.NoError(t, ws.DoAction(NewSetCellDataAction(Pos(0, 0), 2.0)))
	require.NoError(t, ws.DoAction(NewSetCellDataAction(Pos(0, 1), "=A1*3")))
	require.NoError(t, ws.RecalculateStale())
	assert.Equal(t, 6.0, ws.GetCellData(Pos(0, 1)))

	undone, err := ws.Undo()
	require.NoError(t, err)
	assert.True(t, undone)
	assert.Nil(t, ws.GetCellData(Pos(0, 1)))
	assert.Equal(t, "", ws.GetCellFormula(Pos(0, 1)))

	undone, err = ws.Undo()
	require.NoError(t, err)
	assert.True(t, undone)
	assert.Equal(t, 1.0, ws.GetCellData(Pos(0, 0)))

	redone, err := ws.Redo()
	require.NoError(t, err)
	assert.True(t, redone)
	assert.Equal(t, 2.0, ws.GetCellData(Pos(0, 0)))
	assert.True(t, ws.CanRedo())

	require.NoError(t, ws.DoAction(NewSetCellDataAction(Pos(5, 5), "x")))
	assert.False(t, ws.CanRedo(), "a new action clears redo")

	for ws.CanUndo() {
		_, err := ws.Undo()
		require.NoError(t, err)
	}
	undone, err = ws.Undo()
	require.NoError(t, err)
	assert.False(t, undone)
	assert.Equal(t, 0, ws.CellCount())
}

func TestActionHistoryCapacity(t *testing.T) {
	ws := newActionSheet(t, WithHistoryCapacity(3))
	for i := range 5 {
		require.NoError(t, ws.DoAction(NewSetCellDataAction(Pos(i, 0), float64(i))))
	}
	assert.Equal(t, 3, ws.History().UndoCount())

	for ws.CanUndo() {
		_, err := ws.Undo()
		require.NoError(t, err)
	}
	assert.Equal(t, 0.0, ws.GetCellData(Pos(0, 0)), "trimmed actions stay applied")
	assert.Equal(t, 1.0, ws.GetCellData(Pos(1, 0)))
	assert.Nil(t, ws.GetCellData(Pos(2, 0)))

	ws.History().Clear()
	assert.False(t, ws.CanRedo())
}

func TestFailedActionIsNotRecorded(t *testing.T) {
	ws := newActionSheet(t, WithSize(10, 10))
	require.NoError(t, ws.DoAction(NewSetCellDataAction(Pos(0, 0), 1.0)))

	err := ws.DoAction(NewSetCellDataAction(Pos(20, 0), 1.0))
	assert.Equal(t, OutOfRange, ErrorCodeOf(err))
	assert.Equal(t, 1, ws.History().UndoCount())

	failing := newScriptedAction("failing")
	failing.doErr = errBoom
	assert.ErrorIs(t, ws.DoAction(failing), errBoom)
	assert.Equal(t, 1, ws.History().UndoCount())
}

func TestActionPanicIsRecovered(t *testing.T) {
	ws := newActionSheet(t)
	action := newScriptedAction("exploding")
	action.panics = true

	err := ws.DoAction(action)
	var panicErr *PanicError
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, "scripted panic", panicErr.Value)
	assert.NotEmpty(t, panicErr.Stack)
	assert.False(t, ws.CanUndo())
}

func TestActionGroupRollback(t *testing.T) {
	ws := newActionSheet(t)
	first := newScriptedAction("first")
	second := newScriptedAction("second")
	broken := newScriptedAction("broken")
	broken.doErr = errBoom

	err := ws.DoAction(NewActionGroup("group", first, second, broken))
	var actionErr *ActionError
	require.ErrorAs(t, err, &actionErr)
	assert.Equal(t, "broken", actionErr.Action)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, first.undone)
	assert.Equal(t, 1, second.undone)
	assert.False(t, ws.CanUndo())

	stubborn := newScriptedAction("stubborn")
	stubborn.undoErr = errors.New("cannot undo")
	err = ws.DoAction(NewActionGroup("group", stubborn, broken))
	var rollbackErr *RollbackError
	require.ErrorAs(t, err, &rollbackErr)
	assert.Len(t, rollbackErr.Errors, 1)
	assert.ErrorIs(t, err, errBoom)
	assert.Contains(t, err.Error(), "cannot undo")
}

func TestActionGroupUndo(t *testing.T) {
	ws := newActionSheet(t)
	group := NewActionGroup("fill",
		NewSetCellDataAction(Pos(0, 0), 1.0),
		NewSetCellDataAction(Pos(1, 0), 2.0),
	)
	group.Add(NewSetCellDataAction(Pos(2, 0), "=A1+A2"))
	assert.Len(t, group.Actions(), 3)

	require.NoError(t, ws.DoAction(group))
	require.NoError(t, ws.RecalculateStale())
	assert.Equal(t, 3.0, ws.GetCellData(Pos(2, 0)))

	_, err := ws.Undo()
	require.NoError(t, err)
	assert.Equal(t, 0, ws.CellCount())

	_, err = ws.Redo()
	require.NoError(t, err)
	require.NoError(t, ws.RecalculateStale())
	assert.Equal(t, 3.0, ws.GetCellData(Pos(2, 0)))
}

func TestRepeatLastAction(t *testing.T) {
	thin := BorderStyle{Line: BorderLineSolid, Color: "#000000"}
	tests := []struct {
		name   string
		action Action
		check  func(t *testing.T, ws *Worksheet)
	}{
		{
			name:   "style",
			action: NewSetRangeStyleAction(NewRangePosition(0, 0, 1, 1), "bold"),
			check: func(t *testing.T, ws *Worksheet) {
				assert.Equal(t, "bold", ws.GetCellStyle(Pos(4, 4)))
			},
		},
		{
			name:   "border",
			action: NewSetRangeBorderAction(NewRangePosition(0, 0, 1, 1), BorderOutside, thin),
			check: func(t *testing.T, ws *Worksheet) {
				assert.Equal(t, thin, ws.GetCellBorders(Pos(4, 4)).Top)
			},
		},
		{
			name:   "merge",
			action: NewMergeRangeAction(NewRangePosition(0, 0, 2, 2)),
			check: func(t *testing.T, ws *Worksheet) {
				assert.True(t, ws.IsMerged(Pos(5, 5)))
			},
		},
		{
			name:   "clear",
			action: NewClearRangeAction(NewRangePosition(0, 0, 1, 1), CellElementAll),
			check: func(t *testing.T, ws *Worksheet) {
				assert.Nil(t, ws.GetCellData(Pos(4, 4)))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws := newActionSheet(t)
			require.NoError(t, ws.SetCellData(Pos(4, 4), 1.0))
			require.NoError(t, ws.DoAction(tt.action))

			repeated, err := ws.RepeatLastAction(NewRangePosition(4, 4, 2, 2))
			require.NoError(t, err)
			assert.True(t, repeated)
			tt.check(t, ws)
			assert.Equal(t, 2, ws.History().UndoCount())
		})
	}

	ws := newActionSheet(t)
	repeated, err := ws.RepeatLastAction(NewRangePosition(0, 0, 1, 1))
	require.NoError(t, err)
	assert.False(t, repeated, "empty history")

	require.NoError(t, ws.DoAction(NewSetCellDataAction(Pos(0, 0), 1.0)))
	repeated, err = ws.RepeatLastAction(NewRangePosition(1, 1, 1, 1))
	require.NoError(t, err)
	assert.False(t, repeated)
}

func TestStyleAndBorderUndo(t *testing.T) {
	ws := newActionSheet(t)
	double := BorderStyle{Line: BorderLineDouble}

	require.NoError(t, ws.DoAction(NewSetRangeStyleAction(NewRangePosition(0, 0, 2, 2), "header")))
	require.NoError(t, ws.DoAction(NewSetRangeBorderAction(NewRangePosition(0, 0, 2, 2), BorderAll, double)))
	assert.Equal(t, "header", ws.GetCellStyle(Pos(1, 1)))
	assert.Equal(t, double, ws.GetCellBorders(Pos(0, 0)).Bottom)

	_, err := ws.Undo()
	require.NoError(t, err)
	assert.True(t, ws.GetCellBorders(Pos(0, 0)).Bottom.IsEmpty())

	_, err = ws.Undo()
	require.NoError(t, err)
	assert.Equal(t, "", ws.GetCellStyle(Pos(1, 1)))
	assert.Equal(t, 0, ws.CellCount())
}

func TestStructuralActionUndo(t *testing.T) {
	ws := newActionSheet(t)
	require.NoError(t, ws.SetCellData(Pos(0, 0), 1.0))
	require.NoError(t, ws.SetCellData(Pos(1, 0), 2.0))
	require.NoError(t, ws.SetCellData(Pos(2, 0), "=A1+A2"))

	require.NoError(t, ws.DoAction(NewInsertRowsAction(1, 2)))
	assert.Equal(t, "=A1+A4", ws.GetCellFormula(Pos(4, 0)))

	require.NoError(t, ws.DoAction(NewDeleteColumnsAction(0, 1)))
	assert.Equal(t, 0, ws.CellCount())

	_, err := ws.Undo()
	require.NoError(t, err)
	assert.Equal(t, "=A1+A4", ws.GetCellFormula(Pos(4, 0)))

	_, err = ws.Undo()
	require.NoError(t, err)
	assert.Equal(t, "=A1+A2", ws.GetCellFormula(Pos(2, 0)))
	require.NoError(t, ws.RecalculateStale())
	assert.Equal(t, 3.0, ws.GetCellData(Pos(2, 0)))

	ws.SetReadOnly(true)
	require.NoError(t, ws.DoAction(newScriptedAction("noop")))
	ws.SetReadOnly(false)
	require.NoError(t, ws.DoAction(NewInsertColumnsAction(0, 1)))
	ws.SetReadOnly(true)
	_, err = ws.Undo()
	assert.Equal(t, PermissionDenied, ErrorCodeOf(err))
	assert.True(t, ws.CanUndo(), "a failed undo keeps the action")
}
