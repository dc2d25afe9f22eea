package spreadsheet

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func unqualified(sheet string) bool { return sheet == "" }

func TestRewriteReferences(t *testing.T) {
	insertRow := axisEdit{at: 0, count: 1, limit: MaxRows}
	tests := []struct {
		name    string
		formula string
		targets func(string) bool
		edit    refEdit
		want    string
		changed bool
	}{
		{"insert above", "=B1", unqualified, insertRow, "=B2", true},
		{"anchors kept", "=$B$1*2", unqualified, insertRow, "=$B$2*2", true},
		{"range grows", "=SUM(A1:B3)", unqualified, axisEdit{at: 1, count: 2, limit: MaxRows}, "=SUM(A1:B5)", true},
		{"above the edit", "=A1+A2", unqualified, axisEdit{at: 5, count: 1, limit: MaxRows}, "=A1+A2", false},
		{"deleted cell", "=A1+B2", unqualified, axisEdit{at: 0, count: -1, limit: MaxRows}, "=#REF!+B1", true},
		{"deleted range", "=SUM(A2:A3)", unqualified, axisEdit{at: 1, count: -2, limit: MaxRows}, "=SUM(#REF!)", true},
		{"range shrinks", "=SUM(A1:A5)", unqualified, axisEdit{at: 1, count: -2, limit: MaxRows}, "=SUM(A1:A3)", true},
		{"columns", "=C1&D1", unqualified, axisEdit{columns: true, at: 3, count: 1, limit: MaxColumns}, "=C1&E1", true},
		{"strings untouched", `="A1"&A1`, unqualified, insertRow, `="A1"&A2`, true},
		{"other sheet untouched", "=Data!A1+A1", unqualified, insertRow, "=Data!A1+A2", true},
		{"qualified", "=Data!A1+A1", func(s string) bool { return s == "Data" }, insertRow, "=Data!A2+A1", true},
		{"quoted sheet", "='My Data'!B2", func(s string) bool { return s == "My Data" }, insertRow, "='My Data'!B3", true},
		{"move source", "=A1+C3", unqualified, newMoveEdit(NewRangePosition(0, 0, 2, 2), Pos(3, 3)), "=D4+C3", true},
		{"move overwrites", "=E5", unqualified, newMoveEdit(NewRangePosition(0, 0, 2, 2), Pos(3, 3)), "=#REF!", true},
		{"not a formula", "=SUM(", unqualified, insertRow, "=SUM(", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed := rewriteReferences(tt.formula, tt.targets, tt.edit)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.changed, changed)
		})
	}
}

func TestShiftSpan(t *testing.T) {
	start, end, ok := shiftSpan(1, 5, 2, -2, MaxRows)
	assert.True(t, ok)
	assert.Equal(t, []int{1, 3}, []int{start, end})

	start, end, ok = shiftSpan(3, 4, 2, -1, MaxRows)
	assert.True(t, ok)
	assert.Equal(t, []int{2, 3}, []int{start, end})

	_, _, ok = shiftSpan(2, 3, 2, -2, MaxRows)
	assert.False(t, ok)

	start, end, ok = shiftSpan(8, 12, 0, 5, 15)
	assert.True(t, ok)
	assert.Equal(t, []int{13, 14}, []int{start, end}, "clipped at the limit")

	_, _, ok = shiftSpan(8, 12, 0, 10, 15)
	assert.False(t, ok)
}

func TestRewriteSheetName(t *testing.T) {
	same := func(s string) bool { return strings.EqualFold(s, "Old") }
	got, changed := rewriteSheetName("=Old!A1+old!B2:C3+A1", same, "New Sheet")
	assert.True(t, changed)
	assert.Equal(t, "='New Sheet'!A1+'New Sheet'!B2:C3+A1", got)

	got, changed = rewriteSheetName("=Other!A1", same, "New")
	assert.False(t, changed)
	assert.Equal(t, "=Other!A1", got)
}

func TestRewriteName(t *testing.T) {
	same := func(s string) bool { return strings.EqualFold(s, "total") }
	got, changed := rewriteName("=SUM(Total)*total+TOTALS", same, "Grand")
	assert.True(t, changed)
	assert.Equal(t, "=SUM(Grand)*Grand+TOTALS", got)
}
