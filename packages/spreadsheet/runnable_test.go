package spreadsheet

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLines() (*[]string, func(string)) {
	var lines []string
	return &lines, func(line string) { lines = append(lines, line) }
}

func TestSplitSheetAddress(t *testing.T) {
	tests := []struct {
		text, sheet, address string
	}{
		{"A1", "", "A1"},
		{"Sheet2!A1", "Sheet2", "A1"},
		{"Sheet2!A1:B3", "Sheet2", "A1:B3"},
		{"'My Sheet'!C4", "My Sheet", "C4"},
		{"'A''s'!A1", "A's", "A1"},
		{"'unterminated!A1", "", "'unterminated!A1"},
		{"!A1", "", "!A1"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			sheet, address := splitSheetAddress(tt.text)
			assert.Equal(t, tt.sheet, sheet)
			assert.Equal(t, tt.address, address)
		})
	}
}

func TestRunnableChain(t *testing.T) {
	lines, printLn := captureLines()
	book, err := NewRunnableWorksheet(printLn).
		Set("A1", 10).
		Set("A2", "=A1*2").
		SetBatch(map[string]Primitive{"B1": 1.0, "B2": 2.0, "B3": "=SUM(B1:B2)"}).
		Log("A1").
		Log("C9").
		Run()
	require.NoError(t, err)
	require.NotNil(t, book)
	assert.Equal(t, []string{"A1: 10", "C9: <empty>"}, *lines)

	ws, ok := book.Worksheet(DefaultWorksheetName)
	require.True(t, ok)
	assert.Equal(t, 20.0, ws.GetCellData(Pos(1, 0)))
	assert.Equal(t, 3.0, ws.GetCellData(Pos(2, 1)))
}

func TestRunnableErrorShortCircuit(t *testing.T) {
	lines, printLn := captureLines()
	r := NewRunnableWorksheet(printLn).
		Set("A1", 1.0).
		Set("not an address", 2.0).
		Set("A2", 3.0)
	require.Error(t, r.Error())
	assert.True(t, errors.Is(r.Error(), ErrInvalidAddress))

	assert.Nil(t, r.Value("A1"))
	assert.Nil(t, r.Values("A1"))
	assert.Equal(t, "", r.Text("A1"))

	called := false
	r.Then(func(r *RunnableWorksheet) *RunnableWorksheet {
		called = true
		return r
	})
	assert.False(t, called)

	r.CheckError()
	require.Len(t, *lines, 1)
	assert.Contains(t, (*lines)[0], "ERROR:")

	r.Reset().CheckError()
	assert.Equal(t, "No errors", (*lines)[1])
	assert.Nil(t, r.Value("A2"), "steps after the failure never ran")
	assert.Equal(t, 1.0, r.Value("A1"))

	r.Set("A1", "=1/0").OnError(func(err error) error { return nil })
	assert.NoError(t, r.Error())
	r.Set("Q0", 1.0).OnError(func(err error) error { return errBoom })
	assert.ErrorIs(t, r.Error(), errBoom)
	assert.Panics(t, func() { r.Must() })
}

func TestRunnableHelpers(t *testing.T) {
	_, printLn := captureLines()
	r := NewRunnableWorksheet(printLn).
		ForEach(0, 2, 0, 1, func(row, col int, r *RunnableWorksheet) {
			r.Set(Pos(row, col).String(), float64(row*10+col))
		}).
		Set("C1", "=SUM(A1:B3)").
		If(false, func(r *RunnableWorksheet) *RunnableWorksheet { return r.Set("D1", 1.0) }).
		If(true, func(r *RunnableWorksheet) *RunnableWorksheet { return r.Set("D2", "yes") })
	_, err := r.Run()
	require.NoError(t, err)

	assert.Equal(t, []Primitive{0.0, 11.0, 21.0}, r.Values("A1", "B2", "B3"))
	assert.Equal(t, 63.0, r.Value("C1"))
	assert.Nil(t, r.Value("D1"))
	assert.Equal(t, "yes", r.Text("D2"))

	_, batch := r.GetBatch("A2", "C1")
	assert.Equal(t, map[string]Primitive{"A2": 10.0, "C1": 63.0}, batch)

	r.Value("A1:B2")
	assert.Equal(t, InvalidArgument, ErrorCodeOf(r.Error()))
}

func TestRunnableWorksheets(t *testing.T) {
	_, printLn := captureLines()
	r := NewRunnableWorksheet(printLn).
		WithWorksheet("Inputs").
		Set("A1", 5.0).
		WithWorksheet(DefaultWorksheetName).
		Set("A1", "=Inputs!A1+1")
	_, err := r.Run()
	require.NoError(t, err)
	assert.Equal(t, 6.0, r.Value("A1"))
	assert.Equal(t, 5.0, r.Value("Inputs!A1"))

	r.RemoveWorksheet(DefaultWorksheetName)
	require.NoError(t, r.Error())
	assert.Equal(t, "Inputs", r.Worksheet().Name())
	assert.Equal(t, 5.0, r.Value("A1"))

	r.Value("Missing!A1")
	assert.Equal(t, NotFound, ErrorCodeOf(r.Error()))

	r.Reset().RemoveWorksheet("Inputs").Undo()
	assert.Equal(t, FailedPrecondition, ErrorCodeOf(r.Error()))
	assert.Nil(t, r.Worksheet())
}

func TestRunnableStructure(t *testing.T) {
	_, printLn := captureLines()
	r := NewRunnableWorksheet(printLn).
		Set("A1", 1.0).
		Set("A2", "=A1+1").
		InsertRows(0, 1).
		InsertColumns(0, 1).
		Merge("C5:D6")
	_, err := r.Run()
	require.NoError(t, err)
	assert.Equal(t, "=B2+1", r.Worksheet().GetCellFormula(Pos(2, 1)))
	assert.True(t, r.Worksheet().IsMerged(Pos(5, 3)))

	r.Undo().Undo().Undo()
	require.NoError(t, r.Error())
	assert.Equal(t, "=A1+1", r.Worksheet().GetCellFormula(Pos(1, 0)))
	assert.False(t, r.Worksheet().IsMerged(Pos(5, 3)))

	r.Redo()
	require.NoError(t, r.Error())
	assert.Equal(t, "=A2+1", r.Worksheet().GetCellFormula(Pos(2, 0)))
}

func TestRunOrPanic(t *testing.T) {
	_, printLn := captureLines()
	assert.NotPanics(t, func() {
		NewRunnableWorksheet(printLn).Set("A1", 1.0).RunOrPanic()
	})
	assert.Panics(t, func() {
		NewRunnableWorksheet(printLn).Set("A0", 1.0).RunOrPanic()
	})
}

func TestRunnableWorkbookOptions(t *testing.T) {
	book := NewWorkbook(nil)
	_, printLn := captureLines()
	r := NewRunnableWorkbook(printLn, book, WithStrictFormulas(), WithAutoCalculate())
	require.NoError(t, r.Error())
	assert.Equal(t, DefaultWorksheetName, r.Worksheet().Name())

	r.Set("A1", "=SUM(")
	var parseErr *FormulaParseError
	assert.ErrorAs(t, r.Error(), &parseErr)

	r.Reset().WithWorksheet("Other").Set("A1", 2.0).Set("A2", "=A1*4")
	require.NoError(t, r.Error())
	assert.Equal(t, 8.0, r.Value("A2"), "auto calculation applies to added worksheets")

	again := NewRunnableWorkbook(printLn, book)
	assert.Same(t, r.Workbook(), again.Workbook())
	assert.Equal(t, DefaultWorksheetName, again.Worksheet().Name())
}
