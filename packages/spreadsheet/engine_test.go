package spreadsheet

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// upperBody shows text data in upper case
type upperBody struct{}

func (upperBody) Kind() string { return "upper" }

func (upperBody) Evaluate(data Primitive) Primitive {
	if s, ok := data.(string); ok {
		return strings.ToUpper(s)
	}
	return data
}

func (upperBody) RenderHint() string { return "text" }

func TestEngineContextRegistrations(t *testing.T) {
	ctx := NewEngineContext(WithDefaultStyle("normal"))
	assert.Equal(t, "normal", ctx.DefaultStyle())

	assert.Equal(t, InvalidArgument, ErrorCodeOf(ctx.RegisterFunction("", func(*Cell, []Primitive) (Primitive, error) { return nil, nil })))
	assert.Equal(t, InvalidArgument, ErrorCodeOf(ctx.RegisterFunction("F", nil)))
	assert.Equal(t, InvalidArgument, ErrorCodeOf(ctx.RegisterCellBody("upper", nil)))

	require.NoError(t, ctx.RegisterFunction("Twice", func(_ *Cell, args []Primitive) (Primitive, error) {
		if err := checkForError(args[0]); err != nil {
			return err, nil
		}
		n, _ := toNumber(args[0])
		return n * 2, nil
	}))
	require.NoError(t, ctx.RegisterFunction("Answer", func(*Cell, []Primitive) (Primitive, error) { return 42.0, nil }))
	assert.Equal(t, []string{"Answer", "Twice"}, ctx.Functions())
	require.NoError(t, ctx.RegisterCellBody("upper", func() CellBody { return upperBody{} }))

	ws, err := NewWorksheet(ctx, "Sheet1")
	require.NoError(t, err)
	assert.Equal(t, "normal", ws.GetCellStyle(Pos(0, 0)))

	require.NoError(t, ws.SetCellData(Pos(0, 0), "=Twice(Answer())"))
	require.NoError(t, ws.SetCellData(Pos(1, 0), "quiet"))
	require.NoError(t, ws.SetCellBody(Pos(1, 0), "upper"))
	require.NoError(t, ws.RecalculateStale())
	assert.Equal(t, 84.0, ws.GetCellData(Pos(0, 0)))
	assert.Equal(t, "QUIET", ws.GetCellText(Pos(1, 0)))

	assert.True(t, ctx.UnregisterFunction("Answer"))
	assert.False(t, ctx.UnregisterFunction("Answer"))
	require.NoError(t, ws.Recalculate())
	assert.Equal(t, ErrorCodeName, ws.GetCellData(Pos(0, 0)).(*SpreadsheetError).ErrorCode)

	ctx.Close()
	assert.Empty(t, ctx.Functions())
	_, err = ctx.NewCellBody(BodyKindCheckbox)
	assert.ErrorIs(t, err, ErrUnknownCellBody)

	require.NoError(t, ws.SetCellData(Pos(2, 0), "=SUM(1,2)"))
	require.NoError(t, ws.RecalculateStale())
	assert.Equal(t, 3.0, ws.GetCellData(Pos(2, 0)), "built-ins survive Close")
}

func TestEngineContextsAreIsolated(t *testing.T) {
	first := NewEngineContext()
	second := NewEngineContext()
	require.NoError(t, first.RegisterFunction("ONLY", func(*Cell, []Primitive) (Primitive, error) { return 1.0, nil }))

	a, err := NewWorksheet(first, "A")
	require.NoError(t, err)
	b, err := NewWorksheet(second, "B")
	require.NoError(t, err)
	for _, ws := range []*Worksheet{a, b} {
		require.NoError(t, ws.SetCellData(Pos(0, 0), "=ONLY()"))
		require.NoError(t, ws.RecalculateStale())
	}
	assert.Equal(t, 1.0, a.GetCellData(Pos(0, 0)))
	assert.Equal(t, ErrorCodeName, b.GetCellData(Pos(0, 0)).(*SpreadsheetError).ErrorCode)
}

func TestEngineLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ws, err := NewWorksheet(NewEngineContext(WithLogger(logger)), "Sheet1")
	require.NoError(t, err)
	assert.Same(t, logger, ws.Context().Logger())

	require.NoError(t, ws.DoAction(NewSetCellDataAction(Pos(0, 0), 1.0)))
	repeated, err := ws.RepeatLastAction(NewRangePosition(1, 0, 1, 1))
	require.NoError(t, err)
	assert.False(t, repeated)
	assert.Contains(t, buf.String(), "last action is not repeatable")
	assert.Contains(t, buf.String(), "action=SetCellData")
}
