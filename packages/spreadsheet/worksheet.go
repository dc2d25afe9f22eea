package spreadsheet

import (
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strings"
)

// WorksheetSettings are the behavior switches of a worksheet
type WorksheetSettings struct {
	// ReadOnly rejects every write with ErrReadOnlyCell
	ReadOnly bool

	// AutoUpdateReferences rewrites formula references on structural edits
	AutoUpdateReferences bool

	// StrictFormulas returns parse errors from formula writes instead of
	// storing the cell in ParseError state
	StrictFormulas bool

	// AutoCalculate recalculates stale cells after every change
	AutoCalculate bool

	MaxOutlineDepth int
	HistoryCapacity int // 0 keeps every action
	RowCount        int
	ColumnCount     int
}

// DefaultWorksheetSettings returns the settings of a new worksheet
func DefaultWorksheetSettings() WorksheetSettings {
	return WorksheetSettings{
		AutoUpdateReferences: true,
		MaxOutlineDepth:      DefaultMaxOutlineDepth,
		HistoryCapacity:      DefaultHistoryCapacity,
		RowCount:             MaxRows,
		ColumnCount:          MaxColumns,
	}
}

// WorksheetOption configures a worksheet on creation
type WorksheetOption func(*WorksheetSettings)

// WithSize limits the worksheet to rows x cols cells
func WithSize(rows, cols int) WorksheetOption {
	return func(s *WorksheetSettings) {
		s.RowCount, s.ColumnCount = rows, cols
	}
}

// WithHistoryCapacity sets how many actions can be undone. 0 means no limit.
func WithHistoryCapacity(capacity int) WorksheetOption {
	return func(s *WorksheetSettings) {
		s.HistoryCapacity = capacity
	}
}

// WithMaxOutlineDepth sets the outline nesting limit
func WithMaxOutlineDepth(depth int) WorksheetOption {
	return func(s *WorksheetSettings) {
		s.MaxOutlineDepth = depth
	}
}

// WithStrictFormulas makes formula writes fail on parse errors
func WithStrictFormulas() WorksheetOption {
	return func(s *WorksheetSettings) {
		s.StrictFormulas = true
	}
}

// WithAutoCalculate recalculates after every change
func WithAutoCalculate() WorksheetOption {
	return func(s *WorksheetSettings) {
		s.AutoCalculate = true
	}
}

// WithReadOnly creates a read-only worksheet
func WithReadOnly() WorksheetOption {
	return func(s *WorksheetSettings) {
		s.ReadOnly = true
	}
}

// WithoutReferenceUpdating leaves formula text alone on structural edits
func WithoutReferenceUpdating() WorksheetOption {
	return func(s *WorksheetSettings) {
		s.AutoUpdateReferences = false
	}
}

// Worksheet is a grid of cells with merged ranges, borders, named ranges,
// outlines and formulas. every worksheet belongs to a Workbook; formulas
// on it may read the other worksheets of the book.
//
// a worksheet is not safe for concurrent use.
type Worksheet struct {
	book     *Workbook
	id       uint32
	name     string
	settings WorksheetSettings
	logger   *slog.Logger

	store    *CellStore
	styles   *StyleTable
	spans    *SpanModel
	borders  *BorderModel
	names    *NamedRangeRegistry
	outlines *OutlineManager
	graph    *DependencyGraph
	formulas *FormulaTable
	history  *ActionStack
	events   notifier

	suspended int // SuspendReferenceUpdating depth
}

// NewWorksheet creates a worksheet in a workbook of its own
func NewWorksheet(ctx *EngineContext, name string, opts ...WorksheetOption) (*Worksheet, error) {
	return NewWorkbook(ctx).AddWorksheet(name, opts...)
}

func newWorksheet(book *Workbook, name string, opts ...WorksheetOption) *Worksheet {
	settings := DefaultWorksheetSettings()
	for _, opt := range opts {
		opt(&settings)
	}
	settings.RowCount = min(max(settings.RowCount, 1), MaxRows)
	settings.ColumnCount = min(max(settings.ColumnCount, 1), MaxColumns)

	return &Worksheet{
		book:     book,
		name:     name,
		settings: settings,
		logger:   book.logger,
		store:    NewCellStore(),
		styles:   NewStyleTable(),
		spans:    NewSpanModel(),
		borders:  NewBorderModel(),
		names:    NewNamedRangeRegistry(name),
		outlines: NewOutlineManager(settings.MaxOutlineDepth),
		graph:    NewDependencyGraph(),
		formulas: NewFormulaTable(),
		history:  NewActionStack(settings.HistoryCapacity),
	}
}

// Name returns the worksheet name
func (ws *Worksheet) Name() string {
	return ws.name
}

// ID returns the worksheet ID within its workbook
func (ws *Worksheet) ID() uint32 {
	return ws.id
}

// Workbook returns the workbook the worksheet belongs to
func (ws *Worksheet) Workbook() *Workbook {
	return ws.book
}

// Context returns the engine context
func (ws *Worksheet) Context() *EngineContext {
	return ws.book.ctx
}

// Settings returns a copy of the current settings
func (ws *Worksheet) Settings() WorksheetSettings {
	return ws.settings
}

// SetReadOnly switches the worksheet read-only flag
func (ws *Worksheet) SetReadOnly(readOnly bool) {
	ws.settings.ReadOnly = readOnly
}

// SetAutoUpdateReferences switches reference rewriting on structural edits
func (ws *Worksheet) SetAutoUpdateReferences(enabled bool) {
	ws.settings.AutoUpdateReferences = enabled
}

// SetStrictFormulas switches strict formula parsing
func (ws *Worksheet) SetStrictFormulas(strict bool) {
	ws.settings.StrictFormulas = strict
}

// SetAutoCalculate switches recalculation after every change
func (ws *Worksheet) SetAutoCalculate(enabled bool) {
	ws.settings.AutoCalculate = enabled
}

// RowCount returns the number of rows
func (ws *Worksheet) RowCount() int {
	return ws.settings.RowCount
}

// ColumnCount returns the number of columns
func (ws *Worksheet) ColumnCount() int {
	return ws.settings.ColumnCount
}

// Subscribe registers a listener for the worksheet's events. the returned
// function removes it.
func (ws *Worksheet) Subscribe(fn Listener) func() {
	return ws.events.subscribe(fn)
}

// SuspendReferenceUpdating stops structural edits from rewriting formula
// references until the returned function is called. suspensions nest.
func (ws *Worksheet) SuspendReferenceUpdating() (resume func()) {
	ws.suspended++
	resumed := false
	return func() {
		if !resumed {
			resumed = true
			ws.suspended--
		}
	}
}

func (ws *Worksheet) referenceUpdating() bool {
	return ws.settings.AutoUpdateReferences && ws.suspended == 0
}

func (ws *Worksheet) address(pos CellPosition) CellAddress {
	return CellAddress{WorksheetID: ws.id, Row: uint32(pos.Row), Column: uint32(pos.Col)}
}

func (ws *Worksheet) emit(kind EventKind, r RangePosition) {
	ws.events.emit(Event{Kind: kind, Worksheet: ws.name, Range: r})
}

// afterChange runs the optional automatic recalculation
func (ws *Worksheet) afterChange() {
	if !ws.settings.AutoCalculate || ws.book.evaluating {
		return
	}
	if err := ws.book.recalculateStale(); err != nil {
		ws.logger.Error("automatic recalculation failed", "worksheet", ws.name, "error", err)
	}
}

// checkPos validates pos against the worksheet size
func (ws *Worksheet) checkPos(pos CellPosition) error {
	if pos.Row < 0 || pos.Col < 0 {
		return newKindError(InvalidArgument, ErrInvalidAddress, "invalid cell position %d,%d", pos.Row, pos.Col)
	}
	if pos.Row >= ws.settings.RowCount || pos.Col >= ws.settings.ColumnCount {
		return newKindError(OutOfRange, ErrInvalidAddress, "cell %s is outside the worksheet", pos)
	}
	return nil
}

// checkRange validates r against the worksheet size, resolving EntireRange
func (ws *Worksheet) checkRange(r RangePosition) (RangePosition, error) {
	if r.IsEntire() {
		return r.Resolve(ws.settings.RowCount, ws.settings.ColumnCount), nil
	}
	if !r.IsValid() {
		return r, newKindError(InvalidArgument, ErrInvalidAddress, "invalid range %d,%d %dx%d", r.Row, r.Col, r.Rows, r.Cols)
	}
	if r.EndRow() >= ws.settings.RowCount || r.EndCol() >= ws.settings.ColumnCount {
		return r, newKindError(OutOfRange, ErrInvalidAddress, "range %s is outside the worksheet", r)
	}
	return r, nil
}

// checkWritable rejects writes during recalculation and on read-only
// worksheets
func (ws *Worksheet) checkWritable() error {
	if ws.book.evaluating {
		return newKindError(FailedPrecondition, ErrRecalculationInProgress, "cannot modify worksheet %q during recalculation", ws.name)
	}
	if ws.settings.ReadOnly {
		return newKindError(PermissionDenied, ErrReadOnlyCell, "worksheet %q is read-only", ws.name)
	}
	return nil
}

// guardWrite is checkWritable plus the read-only flags of the cells in r
func (ws *Worksheet) guardWrite(r RangePosition) error {
	if err := ws.checkWritable(); err != nil {
		return err
	}
	for cell := range ws.store.Iterate(r) {
		if cell.ReadOnly {
			return newKindError(PermissionDenied, ErrReadOnlyCell, "cell %s is read-only", cell.Position())
		}
	}
	return nil
}

// normalizeValue converts host values into primitives
func normalizeValue(value Primitive) (Primitive, error) {
	switch v := value.(type) {
	case nil, float64, string, bool, *SpreadsheetError:
		return v, nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case float32:
		return float64(v), nil
	case uint32:
		return float64(v), nil
	}
	return nil, NewApplicationError(InvalidArgument, fmt.Sprintf("unsupported cell value of type %T", value))
}

func isFormulaText(text string) bool {
	return len(text) > 1 && text[0] == '='
}

// GetCell returns a copy of the cell at pos, following merged placeholders
// to their anchor. nil means the cell is empty.
func (ws *Worksheet) GetCell(pos CellPosition) *Cell {
	return ws.store.Get(ws.spans.resolve(pos)).clone()
}

// GetCellData returns the raw value or cached formula result at pos
func (ws *Worksheet) GetCellData(pos CellPosition) Primitive {
	if cell := ws.store.Get(ws.spans.resolve(pos)); cell != nil {
		return cell.Data
	}
	return nil
}

// GetCellText returns the display text at pos
func (ws *Worksheet) GetCellText(pos CellPosition) string {
	if cell := ws.store.Get(ws.spans.resolve(pos)); cell != nil {
		return cell.Text()
	}
	return ""
}

// GetCellFormula returns the formula text at pos, empty for plain cells
func (ws *Worksheet) GetCellFormula(pos CellPosition) string {
	if cell := ws.store.Get(ws.spans.resolve(pos)); cell != nil {
		return cell.Formula
	}
	return ""
}

// GetFormulaState returns the evaluation state of the formula at pos
func (ws *Worksheet) GetFormulaState(pos CellPosition) FormulaState {
	if cell := ws.store.Get(ws.spans.resolve(pos)); cell != nil {
		return cell.State
	}
	return FormulaStateNone
}

// SetCellData writes a value to pos. strings starting with '=' are
// formulas. writing to a merged placeholder writes the anchor.
func (ws *Worksheet) SetCellData(pos CellPosition, value Primitive) error {
	if text, ok := value.(string); ok && isFormulaText(text) {
		return ws.SetCellFormula(pos, text)
	}
	value, err := normalizeValue(value)
	if err != nil {
		return err
	}
	if err := ws.checkPos(pos); err != nil {
		return err
	}
	pos = ws.spans.resolve(pos)
	if err := ws.guardWrite(SingleCell(pos)); err != nil {
		return err
	}

	ws.writeData(pos, value)
	ws.emit(EventCellDataChanged, SingleCell(pos))
	ws.afterChange()
	return nil
}

// SetCellFormula stores a formula at pos. the leading '=' is optional.
// unless strict formulas are enabled, text that does not parse is stored
// in ParseError state and no error is returned.
func (ws *Worksheet) SetCellFormula(pos CellPosition, text string) error {
	if !strings.HasPrefix(text, "=") {
		text = "=" + text
	}
	if err := ws.checkPos(pos); err != nil {
		return err
	}
	pos = ws.spans.resolve(pos)
	if err := ws.guardWrite(SingleCell(pos)); err != nil {
		return err
	}
	if ws.settings.StrictFormulas {
		if _, err := ParseFormula(text); err != nil {
			return err
		}
	}
	ws.writeFormula(pos, text)
	ws.emit(EventCellDataChanged, SingleCell(pos))
	ws.afterChange()
	return nil
}

// SetRangeData pastes a block of values with its top-left corner at
// origin. merged placeholders inside the block are skipped. formula parse
// errors stay local to their cells.
func (ws *Worksheet) SetRangeData(origin CellPosition, values [][]Primitive) error {
	cols := 0
	for _, row := range values {
		cols = max(cols, len(row))
	}
	if len(values) == 0 || cols == 0 {
		return nil
	}
	target, err := ws.checkRange(RangePosition{Row: origin.Row, Col: origin.Col, Rows: len(values), Cols: cols})
	if err != nil {
		return err
	}
	if err := ws.guardWrite(target); err != nil {
		return err
	}
	normalized := make([][]Primitive, len(values))
	for i, row := range values {
		normalized[i] = make([]Primitive, len(row))
		for j, value := range row {
			if normalized[i][j], err = normalizeValue(value); err != nil {
				return err
			}
		}
	}

	for i, row := range normalized {
		for j, value := range row {
			pos := CellPosition{Row: origin.Row + i, Col: origin.Col + j}
			if ws.spans.isPlaceholder(pos) {
				continue
			}
			if text, ok := value.(string); ok && isFormulaText(text) {
				ws.writeFormula(pos, text)
				continue
			}
			ws.writeData(pos, value)
		}
	}
	ws.emit(EventCellDataChanged, target)
	ws.afterChange()
	return nil
}

// writeData stores a plain value, replacing any formula
func (ws *Worksheet) writeData(pos CellPosition, value Primitive) {
	cell := ws.store.getOrCreate(pos)
	hadFormula := cell.HasFormula()
	ws.detachFormula(cell)
	cell.Data = value
	ws.store.compact(pos)
	if hadFormula {
		ws.book.refreshCircular()
	}
	ws.book.markDependentsStale(ws.address(pos))
}

// writeFormula stores formula text and binds its references. text that
// does not parse leaves the cell in the ParseError state.
func (ws *Worksheet) writeFormula(pos CellPosition, text string) {
	cell := ws.store.getOrCreate(pos)
	ws.detachFormula(cell)
	cell.Data = nil
	ws.rebind(cell, text, true)

	addr := ws.address(pos)
	ws.book.checkCycle(addr)
	ws.book.refreshCircular()
	ws.book.markDependentsStale(addr)
}

// bind registers the formula of cell: interned AST, worksheet and name
// references and dependency edges
func (ws *Worksheet) bind(cell *Cell, ast ASTNode) formulaRefs {
	pos := cell.Position()
	id := ws.formulas.InternFormula(ast, pos)
	cell.FormulaID = id

	refs := collectReferences(ast)
	cells := make([]CellAddress, 0, len(refs.cells))
	for _, ref := range refs.cells {
		sheetID := ws.internSheet(ref.Sheet, id)
		cells = append(cells, CellAddress{WorksheetID: sheetID, Row: uint32(ref.Pos.Row), Column: uint32(ref.Pos.Col)})
	}
	ranges := make([]RangeAddress, 0, len(refs.ranges))
	for _, ref := range refs.ranges {
		sheetID := ws.internSheet(ref.Sheet, id)
		ranges = append(ranges, RangeAddress{WorksheetID: sheetID, Range: ref.Range})
	}
	for _, name := range refs.names {
		nameID := ws.names.intern(name)
		ws.formulas.TrackNamedRangeReference(id, nameID)
		if named, ok := ws.names.byID(nameID); ok && !named.Broken {
			ranges = append(ranges, RangeAddress{WorksheetID: ws.id, Range: named.Range})
		}
	}
	ws.graph.SetPrecedents(ws.address(pos), cells, ranges, refs.volatile)
	return refs
}

func (ws *Worksheet) internSheet(name string, formulaID uint32) uint32 {
	if name == "" {
		return ws.id
	}
	id := ws.book.sheets.InternWorksheet(name)
	if id != ws.id {
		ws.formulas.TrackWorksheetReference(formulaID, id)
	}
	return id
}

// unbind drops everything bind registered. the formula text and state of
// the cell are kept.
func (ws *Worksheet) unbind(cell *Cell) {
	pos := cell.Position()
	if cell.FormulaID != 0 {
		if ast, ok := ws.formulas.GetAST(cell.FormulaID); ok {
			refs := collectReferences(ast)
			for _, ref := range refs.cells {
				ws.releaseSheet(ref.Sheet)
			}
			for _, ref := range refs.ranges {
				ws.releaseSheet(ref.Sheet)
			}
			for _, name := range refs.names {
				if id, ok := ws.names.ID(name); ok {
					ws.names.release(id)
				}
			}
		}
		ws.formulas.RemoveCellReference(cell.FormulaID, pos)
		cell.FormulaID = 0
	}
	addr := ws.address(pos)
	ws.graph.RemoveNode(addr)
	delete(ws.book.circular, addr)
}

func (ws *Worksheet) releaseSheet(name string) {
	if name == "" {
		return
	}
	if id, ok := ws.book.sheets.GetWorksheetID(name); ok {
		ws.book.sheets.RemoveReference(id)
	}
}

// detachFormula turns a formula cell into a plain cell holding its last
// result
func (ws *Worksheet) detachFormula(cell *Cell) {
	if !cell.HasFormula() {
		return
	}
	ws.unbind(cell)
	cell.Formula = ""
	cell.State = FormulaStateNone
}

// rebind binds cell to formula text. stale marks an evaluated result as
// outdated; terminal states are left once the text no longer warrants them.
func (ws *Worksheet) rebind(cell *Cell, text string, stale bool) {
	prev := cell.State
	cell.Formula = text
	ast, err := ParseFormula(text)
	if err != nil {
		ws.markParseError(cell, err)
		return
	}
	refs := ws.bind(cell, ast)
	switch {
	case refs.refError:
		cell.State = FormulaStateRefError
		cell.Data = NewSpreadsheetError(ErrorCodeRef, "Reference to deleted cells")
	case prev == FormulaStateNone || prev == FormulaStateParseError:
		cell.State = FormulaStateUnevaluated
	case prev.terminal():
		cell.State = FormulaStateStale
	case stale && prev == FormulaStateEvaluated:
		cell.State = FormulaStateStale
	}
}

func (ws *Worksheet) markParseError(cell *Cell, err error) {
	cell.State = FormulaStateParseError
	cell.Data = NewSpreadsheetError(ErrorCodeName, err.Error())
	cell.FormulaID = 0
	ws.graph.SetPrecedents(ws.address(cell.Position()), nil, nil, false)
	ws.logger.Debug("formula does not parse", "worksheet", ws.name, "cell", cell.Position().String(), "formula", cell.Formula, "error", err)
}

// removeCell drops the cell at pos entirely
func (ws *Worksheet) removeCell(pos CellPosition) {
	cell := ws.store.Get(pos)
	if cell == nil {
		return
	}
	ws.detachFormula(cell)
	if cell.StyleID != 0 {
		ws.styles.Release(cell.StyleID)
	}
	ws.store.Remove(pos)
}

// resolveSheet returns the worksheet a reference qualifier names. empty
// means this worksheet; nil means there is no such worksheet.
func (ws *Worksheet) resolveSheet(name string) *Worksheet {
	if name == "" {
		return ws
	}
	target, _ := ws.book.sheets.GetWorksheetByName(name)
	return target
}

// ClearCell removes every element of the cell at pos
func (ws *Worksheet) ClearCell(pos CellPosition) error {
	return ws.ClearRange(SingleCell(ws.spans.resolve(pos)), CellElementAll)
}

// ClearRange clears the elements selected by mask in every cell of r.
// clearing Data keeps a formula (which becomes stale); clearing Formula
// keeps its last result as plain data.
func (ws *Worksheet) ClearRange(r RangePosition, mask CellElement) error {
	r, err := ws.checkRange(r)
	if err != nil {
		return err
	}
	if err := ws.guardWrite(r); err != nil {
		return err
	}

	var changed []CellAddress
	removedFormula := false
	for _, cell := range slices.Collect(ws.store.Iterate(r)) {
		pos := cell.Position()
		valueChanged := false
		if mask&CellElementFormula != 0 && cell.HasFormula() {
			ws.detachFormula(cell)
			removedFormula, valueChanged = true, true
		}
		if mask&CellElementData != 0 && cell.Data != nil {
			cell.Data = nil
			if cell.HasFormula() && !cell.State.terminal() {
				cell.State = FormulaStateStale
			}
			valueChanged = true
		}
		if mask&CellElementBody != 0 {
			cell.Body = nil
		}
		if mask&CellElementStyle != 0 && cell.StyleID != 0 {
			ws.styles.Release(cell.StyleID)
			cell.StyleID = 0
		}
		ws.store.compact(pos)
		if valueChanged {
			changed = append(changed, ws.address(pos))
		}
	}
	if mask&CellElementBorder != 0 {
		ws.borders.clear(r)
	}
	if removedFormula {
		ws.book.refreshCircular()
	}
	ws.book.markDependentsStale(changed...)
	ws.emit(EventCellsCleared, r)
	ws.afterChange()
	return nil
}

// SetRangeStyle applies a style key to every cell of r. the empty key
// removes explicit styles.
func (ws *Worksheet) SetRangeStyle(r RangePosition, key string) error {
	r, err := ws.checkRange(r)
	if err != nil {
		return err
	}
	if err := ws.guardWrite(r); err != nil {
		return err
	}
	if key == "" {
		for _, cell := range slices.Collect(ws.store.Iterate(r)) {
			ws.setStyle(cell.Position(), "")
		}
	} else {
		for pos := range r.Positions() {
			ws.setStyle(pos, key)
		}
	}
	ws.emit(EventCellStyleChanged, r)
	return nil
}

func (ws *Worksheet) setStyle(pos CellPosition, key string) {
	cell := ws.store.getOrCreate(pos)
	if cell.StyleID != 0 {
		ws.styles.Release(cell.StyleID)
	}
	cell.StyleID = ws.styles.Intern(key)
	ws.store.compact(pos)
}

// GetCellStyle returns the style key of pos, or the default style of the
// engine context
func (ws *Worksheet) GetCellStyle(pos CellPosition) string {
	if cell := ws.store.Get(ws.spans.resolve(pos)); cell != nil && cell.StyleID != 0 {
		if key, ok := ws.styles.Key(cell.StyleID); ok {
			return key
		}
	}
	return ws.book.ctx.DefaultStyle()
}

// SetCellBody attaches a body of a registered kind to pos. the empty kind
// removes the body.
func (ws *Worksheet) SetCellBody(pos CellPosition, kind string) error {
	if err := ws.checkPos(pos); err != nil {
		return err
	}
	pos = ws.spans.resolve(pos)
	if err := ws.guardWrite(SingleCell(pos)); err != nil {
		return err
	}
	var body CellBody
	if kind != "" {
		var err error
		if body, err = ws.book.ctx.NewCellBody(kind); err != nil {
			return err
		}
	}
	cell := ws.store.getOrCreate(pos)
	cell.Body = body
	ws.store.compact(pos)
	ws.emit(EventCellDataChanged, SingleCell(pos))
	return nil
}

// SetCellReadOnly sets the read-only flag of the cell at pos
func (ws *Worksheet) SetCellReadOnly(pos CellPosition, readOnly bool) error {
	if err := ws.checkPos(pos); err != nil {
		return err
	}
	if err := ws.checkWritable(); err != nil {
		return err
	}
	pos = ws.spans.resolve(pos)
	cell := ws.store.getOrCreate(pos)
	cell.ReadOnly = readOnly
	ws.store.compact(pos)
	return nil
}

// IterateCells yields copies of the stored cells of r in row-major order.
// merged placeholders are skipped unless includePlaceholders is set.
func (ws *Worksheet) IterateCells(r RangePosition, includePlaceholders bool) iter.Seq[*Cell] {
	r = r.Resolve(ws.settings.RowCount, ws.settings.ColumnCount)
	return func(yield func(*Cell) bool) {
		for cell := range ws.store.Iterate(r) {
			if !includePlaceholders && ws.spans.isPlaceholder(cell.Position()) {
				continue
			}
			if !yield(cell.clone()) {
				return
			}
		}
	}
}

// UsedRange returns the smallest range holding every stored cell
func (ws *Worksheet) UsedRange() (RangePosition, bool) {
	return ws.store.UsedRange()
}

// CellCount returns the number of stored cells
func (ws *Worksheet) CellCount() int {
	return ws.store.Count()
}

// MergeRange merges r. placeholder content is kept but hidden until the
// range is unmerged; borders inside r are removed.
func (ws *Worksheet) MergeRange(r RangePosition) error {
	r, err := ws.checkRange(r)
	if err != nil {
		return err
	}
	if err := ws.guardWrite(r); err != nil {
		return err
	}
	span, err := ws.spans.Merge(r)
	if err != nil {
		return err
	}
	ws.borders.removeInterior(span)
	ws.placeholdersChanged(span)
	ws.emit(EventRangeMerged, r)
	ws.afterChange()
	return nil
}

// UnmergeRange removes every merged span inside r and returns them
func (ws *Worksheet) UnmergeRange(r RangePosition) ([]MergedSpan, error) {
	r, err := ws.checkRange(r)
	if err != nil {
		return nil, err
	}
	if err := ws.guardWrite(r); err != nil {
		return nil, err
	}
	removed := ws.spans.Unmerge(r)
	for _, span := range removed {
		ws.placeholdersChanged(span)
		ws.emit(EventRangeUnmerged, span.Range)
	}
	if len(removed) > 0 {
		ws.afterChange()
	}
	return removed, nil
}

// placeholdersChanged marks formulas reading stored placeholders of span
// stale, since formulas see placeholders as empty
func (ws *Worksheet) placeholdersChanged(span MergedSpan) {
	var changed []CellAddress
	for cell := range ws.store.Iterate(span.Range) {
		if span.IsPlaceholder(cell.Position()) && cell.Data != nil {
			changed = append(changed, ws.address(cell.Position()))
		}
	}
	ws.book.markDependentsStale(changed...)
}

// IsMerged reports whether pos belongs to a merged span
func (ws *Worksheet) IsMerged(pos CellPosition) bool {
	return ws.spans.IsMerged(pos)
}

// MergedSpanContaining returns the merged span pos belongs to
func (ws *Worksheet) MergedSpanContaining(pos CellPosition) (MergedSpan, bool) {
	return ws.spans.Containing(pos)
}

// MergedSpans returns every merged span in row-major order
func (ws *Worksheet) MergedSpans() []MergedSpan {
	return ws.spans.All()
}

// SetRangeBorder styles the edges of r selected by positions. the empty
// style removes them.
func (ws *Worksheet) SetRangeBorder(r RangePosition, positions BorderPositions, style BorderStyle) error {
	r, err := ws.checkRange(r)
	if err != nil {
		return err
	}
	if err := ws.guardWrite(r); err != nil {
		return err
	}
	ws.borders.set(r, positions, style, ws.spans)
	ws.emit(EventBordersChanged, r)
	return nil
}

// GetCellBorders returns the borders drawn around pos. for merged cells
// the outer edges of the span are reported.
func (ws *Worksheet) GetCellBorders(pos CellPosition) CellBorders {
	span, merged := ws.spans.Containing(pos)
	if !merged {
		return ws.borders.get(pos)
	}
	anchor := span.Anchor()
	result := ws.borders.get(anchor)
	result.Bottom = ws.borders.horizontal[CellPosition{Row: span.Range.EndRow() + 1, Col: anchor.Col}]
	result.Right = ws.borders.vertical[CellPosition{Row: anchor.Row, Col: span.Range.EndCol() + 1}]
	return result
}

// DefineNamedRange names r. formulas already using the name bind to it and
// become stale.
func (ws *Worksheet) DefineNamedRange(name string, r RangePosition, comment string) error {
	r, err := ws.checkRange(r)
	if err != nil {
		return err
	}
	if err := ws.checkWritable(); err != nil {
		return err
	}
	named, id, err := ws.names.Define(name, r, comment)
	if err != nil {
		return err
	}
	ws.rebindName(id)
	ws.events.emit(Event{Kind: EventNamedRangeDefined, Worksheet: ws.name, Range: named.Range, Name: named.Name})
	ws.afterChange()
	return nil
}

// GetNamedRange returns a named range by name, compared case-insensitively
func (ws *Worksheet) GetNamedRange(name string) (NamedRange, bool) {
	return ws.names.Get(name)
}

// RemoveNamedRange removes a named range. formulas using it evaluate to
// #NAME? afterwards.
func (ws *Worksheet) RemoveNamedRange(name string) error {
	if err := ws.checkWritable(); err != nil {
		return err
	}
	named, ok := ws.names.Get(name)
	if !ok {
		return newKindError(NotFound, ErrNamedRangeNotFound, "named range %q not found", name)
	}
	id, _ := ws.names.Remove(name)
	ws.rebindName(id)
	ws.events.emit(Event{Kind: EventNamedRangeRemoved, Worksheet: ws.name, Range: named.Range, Name: named.Name})
	ws.afterChange()
	return nil
}

// RenameNamedRange renames a named range and the references to it in the
// formulas of the worksheet
func (ws *Worksheet) RenameNamedRange(oldName, newName string) error {
	if err := ws.checkWritable(); err != nil {
		return err
	}
	if err := ValidateName(newName); err != nil {
		return err
	}
	oldID, ok := ws.names.ID(oldName)
	if !ok || !ws.names.Contains(oldName) {
		return newKindError(NotFound, ErrNamedRangeNotFound, "named range %q not found", oldName)
	}
	if other, taken := ws.names.Get(newName); taken && ws.names.key(other.Name) != ws.names.key(oldName) {
		return newKindError(AlreadyExists, ErrNamedRangeAlreadyDefined, "named range %q is already defined", newName)
	}

	positions := ws.formulas.CellsUsingNamedRange(oldID)
	if pendingID, pending := ws.names.ID(newName); pending && pendingID != oldID {
		positions = append(positions, ws.formulas.CellsUsingNamedRange(pendingID)...)
	}
	slices.SortFunc(positions, comparePositions)
	positions = slices.Compact(positions)

	oldKey := ws.names.key(oldName)
	texts := make([]string, len(positions))
	cells := make([]*Cell, len(positions))
	for i, pos := range positions {
		cells[i] = ws.store.Get(pos)
		texts[i], _ = rewriteName(cells[i].Formula, func(name string) bool {
			return ws.names.key(name) == oldKey
		}, newName)
		ws.unbind(cells[i])
	}
	if _, err := ws.names.Rename(oldName, newName); err != nil {
		// nothing was renamed, restore the bindings
		for _, cell := range cells {
			ws.rebind(cell, cell.Formula, false)
		}
		return err
	}

	touched := make([]CellAddress, 0, len(cells))
	for i, cell := range cells {
		ws.rebind(cell, texts[i], true)
		touched = append(touched, ws.address(cell.Position()))
	}
	ws.book.refreshCircular()
	ws.book.markDependentsStale(touched...)
	ws.afterChange()
	return nil
}

// rebindName binds the formulas using a name again after its definition
// changed
func (ws *Worksheet) rebindName(id uint32) {
	positions := ws.formulas.CellsUsingNamedRange(id)
	touched := make([]CellAddress, 0, len(positions))
	for _, pos := range positions {
		cell := ws.store.Get(pos)
		if cell == nil {
			continue
		}
		ws.unbind(cell)
		ws.rebind(cell, cell.Formula, true)
		touched = append(touched, ws.address(pos))
	}
	for _, addr := range touched {
		ws.book.checkCycle(addr)
	}
	ws.book.refreshCircular()
	ws.book.markDependentsStale(touched...)
}

// NamedRanges returns the defined named ranges in definition order
func (ws *Worksheet) NamedRanges() []NamedRange {
	names := ws.names.AllNames()
	result := make([]NamedRange, 0, len(names))
	for _, name := range names {
		named, _ := ws.names.Get(name)
		result = append(result, named)
	}
	return result
}

// NameForRange returns the name defined for exactly r
func (ws *Worksheet) NameForRange(r RangePosition) (string, bool) {
	return ws.names.NameForRange(r)
}

func (ws *Worksheet) axisLimit(axis OutlineAxis) int {
	if axis == OutlineColumn {
		return ws.settings.ColumnCount
	}
	return ws.settings.RowCount
}

// AddOutline groups count rows or columns starting at start
func (ws *Worksheet) AddOutline(axis OutlineAxis, start, count int) (Outline, error) {
	if err := ws.checkWritable(); err != nil {
		return Outline{}, err
	}
	outline, err := ws.outlines.Add(axis, start, count, ws.axisLimit(axis))
	if err != nil {
		return Outline{}, err
	}
	ws.events.emit(Event{Kind: EventOutlineAdded, Worksheet: ws.name, Range: ws.outlineRange(outline), Count: count})
	return outline, nil
}

// RemoveOutline removes the outline matching start and count exactly
func (ws *Worksheet) RemoveOutline(axis OutlineAxis, start, count int) (Outline, error) {
	if err := ws.checkWritable(); err != nil {
		return Outline{}, err
	}
	outline, ok := ws.outlines.Remove(axis, start, count)
	if !ok {
		return Outline{}, newKindError(NotFound, ErrOutlineNotFound, "%s outline %d+%d not found", axis, start, count)
	}
	ws.events.emit(Event{Kind: EventOutlineRemoved, Worksheet: ws.name, Range: ws.outlineRange(outline), Count: count})
	return outline, nil
}

// ClearOutlines removes every outline of axis
func (ws *Worksheet) ClearOutlines(axis OutlineAxis) ([]Outline, error) {
	if err := ws.checkWritable(); err != nil {
		return nil, err
	}
	removed := ws.outlines.ClearAll(axis)
	for _, outline := range removed {
		ws.events.emit(Event{Kind: EventOutlineRemoved, Worksheet: ws.name, Range: ws.outlineRange(outline), Count: outline.Count})
	}
	return removed, nil
}

// Outlines returns the outlines of axis with their levels
func (ws *Worksheet) Outlines(axis OutlineAxis) []Outline {
	return ws.outlines.Outlines(axis)
}

// CollapseOutline hides the rows or columns of an outline
func (ws *Worksheet) CollapseOutline(axis OutlineAxis, start, count int) error {
	return ws.outlines.SetCollapsed(axis, start, count, true)
}

// ExpandOutline shows the rows or columns of an outline again
func (ws *Worksheet) ExpandOutline(axis OutlineAxis, start, count int) error {
	return ws.outlines.SetCollapsed(axis, start, count, false)
}

// IsHidden reports whether a row or column is inside a collapsed outline
func (ws *Worksheet) IsHidden(axis OutlineAxis, index int) bool {
	return ws.outlines.IsHidden(axis, index)
}

// outlineRange is the band of whole rows or columns an outline covers
func (ws *Worksheet) outlineRange(outline Outline) RangePosition {
	if outline.Axis == OutlineColumn {
		return RangePosition{Row: 0, Col: outline.Start, Rows: ws.settings.RowCount, Cols: outline.Count}
	}
	return RangePosition{Row: outline.Start, Col: 0, Rows: outline.Count, Cols: ws.settings.ColumnCount}
}

// Recalculate evaluates the formulas of the worksheet inside scope (the
// whole worksheet without scope), precedents first, each exactly once
func (ws *Worksheet) Recalculate(scope ...RangePosition) error {
	members := make(map[CellAddress]struct{})
	for _, addr := range ws.graph.Nodes() {
		if len(scope) == 0 || slices.ContainsFunc(scope, func(r RangePosition) bool {
			return r.Resolve(ws.settings.RowCount, ws.settings.ColumnCount).Contains(addr.Position())
		}) {
			members[addr] = struct{}{}
		}
	}
	return ws.book.recalculate(members, false)
}

// RecalculateStale evaluates the stale and unevaluated formulas, and the
// volatile ones. precedents on other worksheets of the book are brought up
// to date as well.
func (ws *Worksheet) RecalculateStale() error {
	return ws.book.recalculateStale()
}

// TracePrecedents returns what the formula at pos reads directly. single
// cells are reported as 1x1 ranges.
func (ws *Worksheet) TracePrecedents(pos CellPosition) []RangeAddress {
	addr := ws.address(ws.spans.resolve(pos))
	var result []RangeAddress
	for _, precedent := range ws.graph.GetDirectPrecedents(addr) {
		result = append(result, RangeAddress{WorksheetID: precedent.WorksheetID, Range: SingleCell(precedent.Position())})
	}
	result = append(result, ws.graph.GetRangePrecedents(addr)...)
	slices.SortFunc(result, compareRangeAddresses)
	return slices.Compact(result)
}

// TraceDependents returns the formula cells of the book that read pos
// directly
func (ws *Worksheet) TraceDependents(pos CellPosition) []CellAddress {
	return ws.book.formulaDependents(ws.address(ws.spans.resolve(pos)))
}

// Validate checks the structural invariants of the worksheet
func (ws *Worksheet) Validate() error {
	if err := ws.spans.validate(ws.settings.RowCount, ws.settings.ColumnCount); err != nil {
		return err
	}
	if err := ws.borders.validate(ws.spans); err != nil {
		return err
	}
	if err := ws.outlines.validate(); err != nil {
		return err
	}
	formulaCells := 0
	for cell := range ws.store.All() {
		if cell.isEmpty() {
			return fmt.Errorf("empty cell %s is stored", cell.Position())
		}
		if !cell.HasFormula() {
			continue
		}
		formulaCells++
		if _, ok := ws.graph.GetNode(ws.address(cell.Position())); !ok {
			return fmt.Errorf("formula cell %s has no dependency node", cell.Position())
		}
	}
	if formulaCells != ws.graph.NodeCount() {
		return fmt.Errorf("%d formula cells but %d dependency nodes", formulaCells, ws.graph.NodeCount())
	}
	for _, named := range ws.NamedRanges() {
		if !named.Broken && !named.Range.IsValid() {
			return fmt.Errorf("named range %s has invalid range", named.Name)
		}
	}
	return nil
}
