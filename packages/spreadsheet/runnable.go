package spreadsheet

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// DefaultWorksheetName is the name of the worksheet a RunnableWorksheet
// starts with
const DefaultWorksheetName = "Sheet1"

// RunnableWorksheet provides a chainable interface for worksheet
// operations. it wraps a Workbook, tracks errors internally and works on a
// current worksheet; addresses may name another worksheet as Sheet2!A1.
type RunnableWorksheet struct {
	book      *Workbook
	current   *Worksheet
	err       error
	printLn   func(string)
	sheetOpts []WorksheetOption
}

// NewRunnableWorksheet creates a workbook with one worksheet. printLn is
// required and will be used for all logging operations (Log, CheckError)
func NewRunnableWorksheet(printLn func(string), opts ...EngineOption) *RunnableWorksheet {
	return NewRunnableWorkbook(printLn, NewWorkbook(NewEngineContext(opts...)))
}

// NewRunnableWorkbook drives book. worksheets added through the chain are
// created with opts; the first worksheet of the book, added if the book is
// empty, becomes current.
func NewRunnableWorkbook(printLn func(string), book *Workbook, opts ...WorksheetOption) *RunnableWorksheet {
	r := &RunnableWorksheet{book: book, printLn: printLn, sheetOpts: opts}
	if sheets := book.Worksheets(); len(sheets) > 0 {
		r.current = sheets[0]
	} else {
		r.current, r.err = book.AddWorksheet(DefaultWorksheetName, opts...)
	}
	return r
}

// splitSheetAddress splits Sheet2!A1 or 'My Sheet'!A1 into the worksheet
// name and the address
func splitSheetAddress(text string) (string, string) {
	if strings.HasPrefix(text, "'") {
		var sb strings.Builder
		for i := 1; i < len(text); i++ {
			if text[i] != '\'' {
				sb.WriteByte(text[i])
				continue
			}
			if i+1 < len(text) && text[i+1] == '\'' {
				sb.WriteByte('\'')
				i++
				continue
			}
			if rest, ok := strings.CutPrefix(text[i+1:], "!"); ok {
				return sb.String(), rest
			}
			break
		}
		return "", text
	}
	if i := strings.LastIndexByte(text, '!'); i > 0 {
		return text[:i], text[i+1:]
	}
	return "", text
}

// resolve returns the worksheet and range an address names
func (r *RunnableWorksheet) resolve(address string) (*Worksheet, RangePosition, error) {
	sheet, ref := splitSheetAddress(address)
	ws := r.current
	if sheet != "" {
		var ok bool
		if ws, ok = r.book.Worksheet(sheet); !ok {
			return nil, RangePosition{}, newKindError(NotFound, ErrWorksheetNotFound, "worksheet %q not found", sheet)
		}
	}
	if ws == nil {
		return nil, RangePosition{}, newKindError(FailedPrecondition, ErrWorksheetNotFound, "no current worksheet")
	}
	rng, err := ParseAddress(ref)
	if err != nil {
		return nil, RangePosition{}, err
	}
	return ws, rng, nil
}

func (r *RunnableWorksheet) resolveCell(address string) (*Worksheet, CellPosition, error) {
	ws, rng, err := r.resolve(address)
	if err != nil {
		return nil, CellPosition{}, err
	}
	if !rng.IsSingleCell() {
		return nil, CellPosition{}, newKindError(InvalidArgument, ErrInvalidAddress, "%s is not a single cell", address)
	}
	return ws, rng.StartPos(), nil
}

// step runs fn unless an earlier step failed
func (r *RunnableWorksheet) step(fn func() error) *RunnableWorksheet {
	if r.err != nil {
		return r // no-op if there's already an error
	}
	r.err = fn()
	return r
}

// onCurrent runs fn on the current worksheet
func (r *RunnableWorksheet) onCurrent(fn func(ws *Worksheet) error) *RunnableWorksheet {
	return r.step(func() error {
		if r.current == nil {
			return newKindError(FailedPrecondition, ErrWorksheetNotFound, "no current worksheet")
		}
		return fn(r.current)
	})
}

// Set sets a cell value or formula (chainable)
func (r *RunnableWorksheet) Set(address string, value Primitive) *RunnableWorksheet {
	return r.step(func() error {
		ws, pos, err := r.resolveCell(address)
		if err != nil {
			return err
		}
		return ws.SetCellData(pos, value)
	})
}

// Get retrieves a cell value (chainable)
func (r *RunnableWorksheet) Get(address string) (*RunnableWorksheet, Primitive) {
	if r.err != nil {
		return r, nil
	}
	ws, pos, err := r.resolveCell(address)
	if err != nil {
		r.err = err
		return r, nil
	}
	return r, ws.GetCellData(pos)
}

// Remove clears a cell or range (chainable)
func (r *RunnableWorksheet) Remove(address string) *RunnableWorksheet {
	return r.step(func() error {
		ws, rng, err := r.resolve(address)
		if err != nil {
			return err
		}
		return ws.ClearRange(rng, CellElementAll)
	})
}

// AddWorksheet adds a new worksheet (chainable)
func (r *RunnableWorksheet) AddWorksheet(name string) *RunnableWorksheet {
	return r.step(func() error {
		_, err := r.book.AddWorksheet(name, r.sheetOpts...)
		return err
	})
}

// RemoveWorksheet removes a worksheet (chainable). removing the current
// worksheet makes the first remaining one current.
func (r *RunnableWorksheet) RemoveWorksheet(name string) *RunnableWorksheet {
	return r.step(func() error {
		if err := r.book.RemoveWorksheet(name); err != nil {
			return err
		}
		if r.current != nil && r.book.sheets.key(r.current.Name()) == r.book.sheets.key(name) {
			r.current = nil
			if sheets := r.book.Worksheets(); len(sheets) > 0 {
				r.current = sheets[0]
			}
		}
		return nil
	})
}

// RenameWorksheet renames a worksheet (chainable)
func (r *RunnableWorksheet) RenameWorksheet(oldName, newName string) *RunnableWorksheet {
	return r.step(func() error {
		return r.book.RenameWorksheet(oldName, newName)
	})
}

// WithWorksheet makes a worksheet current, creating it if needed
// (chainable)
func (r *RunnableWorksheet) WithWorksheet(name string) *RunnableWorksheet {
	return r.step(func() error {
		ws, ok := r.book.Worksheet(name)
		if !ok {
			var err error
			if ws, err = r.book.AddWorksheet(name, r.sheetOpts...); err != nil {
				return err
			}
		}
		r.current = ws
		return nil
	})
}

// DefineNamedRange names a range of the worksheet it is on (chainable)
func (r *RunnableWorksheet) DefineNamedRange(name, address string) *RunnableWorksheet {
	return r.step(func() error {
		ws, rng, err := r.resolve(address)
		if err != nil {
			return err
		}
		return ws.DefineNamedRange(name, rng, "")
	})
}

// RemoveNamedRange removes a named range of the current worksheet
// (chainable)
func (r *RunnableWorksheet) RemoveNamedRange(name string) *RunnableWorksheet {
	return r.onCurrent(func(ws *Worksheet) error {
		return ws.RemoveNamedRange(name)
	})
}

// RenameNamedRange renames a named range of the current worksheet
// (chainable)
func (r *RunnableWorksheet) RenameNamedRange(oldName, newName string) *RunnableWorksheet {
	return r.onCurrent(func(ws *Worksheet) error {
		return ws.RenameNamedRange(oldName, newName)
	})
}

// Merge merges a range (chainable)
func (r *RunnableWorksheet) Merge(address string) *RunnableWorksheet {
	return r.step(func() error {
		ws, rng, err := r.resolve(address)
		if err != nil {
			return err
		}
		return ws.DoAction(NewMergeRangeAction(rng))
	})
}

// Unmerge removes the merged ranges inside a range (chainable)
func (r *RunnableWorksheet) Unmerge(address string) *RunnableWorksheet {
	return r.step(func() error {
		ws, rng, err := r.resolve(address)
		if err != nil {
			return err
		}
		return ws.DoAction(NewUnmergeRangeAction(rng))
	})
}

// InsertRows inserts rows into the current worksheet (chainable)
func (r *RunnableWorksheet) InsertRows(at, count int) *RunnableWorksheet {
	return r.Do(NewInsertRowsAction(at, count))
}

// DeleteRows deletes rows of the current worksheet (chainable)
func (r *RunnableWorksheet) DeleteRows(at, count int) *RunnableWorksheet {
	return r.Do(NewDeleteRowsAction(at, count))
}

// InsertColumns inserts columns into the current worksheet (chainable)
func (r *RunnableWorksheet) InsertColumns(at, count int) *RunnableWorksheet {
	return r.Do(NewInsertColumnsAction(at, count))
}

// DeleteColumns deletes columns of the current worksheet (chainable)
func (r *RunnableWorksheet) DeleteColumns(at, count int) *RunnableWorksheet {
	return r.Do(NewDeleteColumnsAction(at, count))
}

// Do performs an undoable action on the current worksheet (chainable)
func (r *RunnableWorksheet) Do(action Action) *RunnableWorksheet {
	return r.onCurrent(func(ws *Worksheet) error {
		return ws.DoAction(action)
	})
}

// Undo reverts the last action of the current worksheet (chainable)
func (r *RunnableWorksheet) Undo() *RunnableWorksheet {
	return r.onCurrent(func(ws *Worksheet) error {
		_, err := ws.Undo()
		return err
	})
}

// Redo performs the last undone action again (chainable)
func (r *RunnableWorksheet) Redo() *RunnableWorksheet {
	return r.onCurrent(func(ws *Worksheet) error {
		_, err := ws.Redo()
		return err
	})
}

// Calculate recalculates every formula of the workbook (chainable)
func (r *RunnableWorksheet) Calculate() *RunnableWorksheet {
	return r.step(r.book.Recalculate)
}

// Run brings stale formulas up to date and returns the workbook and any
// error. typically the last method in the chain
func (r *RunnableWorksheet) Run() (*Workbook, error) {
	if r.err != nil {
		return nil, r.err
	}
	if r.err = r.book.RecalculateStale(); r.err != nil {
		return nil, r.err
	}
	return r.book, nil
}

// RunOrPanic is Run, panicking on error. useful in tests
// where you want to fail fast
func (r *RunnableWorksheet) RunOrPanic() *Workbook {
	book, err := r.Run()
	if err != nil {
		panic(err)
	}
	return book
}

// Error returns the current error state
func (r *RunnableWorksheet) Error() error {
	return r.err
}

// CheckError logs the current error using the PrintLn function (chainable)
func (r *RunnableWorksheet) CheckError() *RunnableWorksheet {
	if r.err != nil {
		r.printLn(fmt.Sprintf("ERROR: %v", r.err))
	} else {
		r.printLn("No errors")
	}
	return r
}

// Workbook returns the underlying workbook. use with caution as it
// bypasses error tracking.
func (r *RunnableWorksheet) Workbook() *Workbook {
	return r.book
}

// Worksheet returns the current worksheet
func (r *RunnableWorksheet) Worksheet() *Worksheet {
	return r.current
}

// Reset clears the error state (chainable)
func (r *RunnableWorksheet) Reset() *RunnableWorksheet {
	r.err = nil
	return r
}

// Then allows conditional execution based on current error state
func (r *RunnableWorksheet) Then(fn func(*RunnableWorksheet) *RunnableWorksheet) *RunnableWorksheet {
	if r.err != nil {
		return r
	}
	return fn(r)
}

// OnError allows error handling in the chain
func (r *RunnableWorksheet) OnError(fn func(error) error) *RunnableWorksheet {
	if r.err != nil {
		r.err = fn(r.err)
	}
	return r
}

// Must panics if there's an error (chainable)
func (r *RunnableWorksheet) Must() *RunnableWorksheet {
	if r.err != nil {
		panic(r.err)
	}
	return r
}

// SetBatch sets multiple cells at once, in address order (chainable)
func (r *RunnableWorksheet) SetBatch(cells map[string]Primitive) *RunnableWorksheet {
	for _, address := range slices.Sorted(maps.Keys(cells)) {
		if r.Set(address, cells[address]); r.err != nil {
			return r
		}
	}
	return r
}

// GetBatch retrieves multiple cell values
func (r *RunnableWorksheet) GetBatch(addresses ...string) (*RunnableWorksheet, map[string]Primitive) {
	if r.err != nil {
		return r, nil
	}
	results := make(map[string]Primitive, len(addresses))
	for _, address := range addresses {
		_, val := r.Get(address)
		if r.err != nil {
			return r, nil
		}
		results[address] = val
	}
	return r, results
}

// If allows conditional operations in the chain
func (r *RunnableWorksheet) If(condition bool, fn func(*RunnableWorksheet) *RunnableWorksheet) *RunnableWorksheet {
	if r.err != nil || !condition {
		return r
	}
	return fn(r)
}

// ForEach applies a function to every position of a block (chainable)
func (r *RunnableWorksheet) ForEach(startRow, endRow int, startCol, endCol int, fn func(row, col int, r *RunnableWorksheet)) *RunnableWorksheet {
	if r.err != nil {
		return r
	}
	for row := startRow; row <= endRow; row++ {
		for col := startCol; col <= endCol; col++ {
			fn(row, col, r)
			if r.err != nil {
				return r // stop on first error
			}
		}
	}
	return r
}

// Value is a helper to get a single value from the chain.
// example: val := NewRunnableWorksheet(print).Set("A1", 10).Set("A2", "=A1*2").Calculate().Value("A2")
func (r *RunnableWorksheet) Value(address string) Primitive {
	_, val := r.Get(address)
	return val
}

// Values is a helper to get multiple values from the chain
func (r *RunnableWorksheet) Values(addresses ...string) []Primitive {
	if r.err != nil {
		return nil
	}
	values := make([]Primitive, len(addresses))
	for i, address := range addresses {
		if _, values[i] = r.Get(address); r.err != nil {
			return nil
		}
	}
	return values
}

// Text returns the display text of a cell
func (r *RunnableWorksheet) Text(address string) string {
	if r.err != nil {
		return ""
	}
	ws, pos, err := r.resolveCell(address)
	if err != nil {
		r.err = err
		return ""
	}
	return ws.GetCellText(pos)
}

// Log prints the value of a cell using the PrintLn function (chainable)
func (r *RunnableWorksheet) Log(address string) *RunnableWorksheet {
	if r.err != nil {
		return r
	}
	ws, pos, err := r.resolveCell(address)
	if err != nil {
		r.err = err
		return r
	}
	if ws.GetCellData(pos) == nil {
		r.printLn(fmt.Sprintf("%s: <empty>", address))
	} else {
		r.printLn(fmt.Sprintf("%s: %s", address, ws.GetCellText(pos)))
	}
	return r
}
