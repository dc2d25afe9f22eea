package spreadsheet

import (
	"fmt"
	"strconv"
)

// Primitive represents basic spreadsheet value types.
// types:
//   - float64: numeric values (integers are converted to float64)
//   - string: text values
//   - bool: boolean values (TRUE/FALSE)
//   - nil: empty/null cells
//   - *SpreadsheetError: error values (#DIV/0!, #VALUE!, etc.)
type Primitive any

// ErrorCode represents standard spreadsheet error codes following
// Excel conventions
type ErrorCode uint8

const (
	ErrorCodeNull  ErrorCode = 1 // #NULL! - no cells in common between ranges
	ErrorCodeDiv0  ErrorCode = 2 // #DIV/0! - division by zero
	ErrorCodeValue ErrorCode = 3 // #VALUE! - wrong type of argument or operand
	ErrorCodeRef   ErrorCode = 4 // #REF! - invalid cell reference
	ErrorCodeName  ErrorCode = 5 // #NAME? - unrecognized function name
	ErrorCodeNum   ErrorCode = 6 // #NUM! - number too large or small to be represented
	ErrorCodeNA    ErrorCode = 7 // #N/A - not enough arguments for function
	ErrorCodeOther ErrorCode = 8 // #ERROR! - all other errors
)

// ErrorMapper maps error code numbers to their string representations
var ErrorMapper = map[ErrorCode]string{
	ErrorCodeNull:  "#NULL!",
	ErrorCodeDiv0:  "#DIV/0!",
	ErrorCodeValue: "#VALUE!",
	ErrorCodeRef:   "#REF!",
	ErrorCodeName:  "#NAME?",
	ErrorCodeNum:   "#NUM!",
	ErrorCodeNA:    "#N/A",
	ErrorCodeOther: "#ERROR!",
}

// errorCodeByLiteral is the reverse of ErrorMapper, used by the lexer
var errorCodeByLiteral = func() map[string]ErrorCode {
	m := make(map[string]ErrorCode, len(ErrorMapper))
	for code, lit := range ErrorMapper {
		m[lit] = code
	}
	return m
}()

// SpreadsheetError preserves error code for display in cells
type SpreadsheetError struct {
	ErrorCode ErrorCode
	Message   string
}

func (e *SpreadsheetError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return ErrorMapper[e.ErrorCode]
}

// Literal returns the display form of the error, e.g. "#REF!"
func (e *SpreadsheetError) Literal() string {
	return ErrorMapper[e.ErrorCode]
}

func NewSpreadsheetError(code ErrorCode, message string) *SpreadsheetError {
	if message == "" {
		message = ErrorMapper[code]
	}
	return &SpreadsheetError{
		ErrorCode: code,
		Message:   message,
	}
}

// CellType represents numeric constants for cell value
// types (external API)
type CellType uint8

const (
	CellValueTypeEmpty   CellType = 0
	CellValueTypeNumber  CellType = 1
	CellValueTypeString  CellType = 2
	CellValueTypeDate    CellType = 3
	CellValueTypeBoolean CellType = 4
	CellValueTypeError   CellType = 5
)

// TypeOf classifies a primitive value
func TypeOf(value Primitive) CellType {
	switch value.(type) {
	case float64, int, int64:
		return CellValueTypeNumber
	case string:
		return CellValueTypeString
	case bool:
		return CellValueTypeBoolean
	case *SpreadsheetError:
		return CellValueTypeError
	default:
		return CellValueTypeEmpty
	}
}

// CellAddress is the key of a cell across worksheets. it is the node key of
// the dependency graph.
type CellAddress struct {
	WorksheetID uint32
	Row         uint32
	Column      uint32
}

func (a CellAddress) Position() CellPosition {
	return CellPosition{Row: int(a.Row), Col: int(a.Column)}
}

// CellElement selects parts of a cell for partial clears
type CellElement uint8

const (
	CellElementData CellElement = 1 << iota
	CellElementFormula
	CellElementBody
	CellElementStyle
	CellElementBorder

	CellElementAll = CellElementData | CellElementFormula | CellElementBody | CellElementStyle | CellElementBorder
)

// FormulaState is the evaluation state of a formula cell
type FormulaState uint8

const (
	FormulaStateNone FormulaState = iota // not a formula cell
	FormulaStateUnevaluated
	FormulaStateEvaluated
	FormulaStateStale
	FormulaStateCircularReference
	FormulaStateRefError
	FormulaStateParseError
)

var formulaStateNames = [...]string{
	FormulaStateNone:              "None",
	FormulaStateUnevaluated:       "Unevaluated",
	FormulaStateEvaluated:         "Evaluated",
	FormulaStateStale:             "Stale",
	FormulaStateCircularReference: "CircularReference",
	FormulaStateRefError:          "RefError",
	FormulaStateParseError:        "ParseError",
}

func (s FormulaState) String() string {
	if int(s) < len(formulaStateNames) {
		return formulaStateNames[s]
	}
	return fmt.Sprintf("FormulaState(%d)", s)
}

// terminal reports whether recalculation leaves the cell alone until its
// formula is rewritten
func (s FormulaState) terminal() bool {
	return s == FormulaStateCircularReference || s == FormulaStateRefError || s == FormulaStateParseError
}

// Cell is a single worksheet cell. the store creates it on first write and
// drops it again once every element is empty.
type Cell struct {
	Row int
	Col int

	// Data is the raw value for plain cells and the cached result for
	// formula cells
	Data Primitive

	// Formula is the formula text including the leading '=', empty when
	// the cell holds plain data
	Formula   string
	FormulaID uint32
	State     FormulaState

	StyleID  uint32
	Body     CellBody
	ReadOnly bool
}

// Position returns the cell's position
func (c *Cell) Position() CellPosition {
	return CellPosition{Row: c.Row, Col: c.Col}
}

// HasFormula reports whether the cell holds a formula
func (c *Cell) HasFormula() bool {
	return c.Formula != ""
}

// isEmpty reports whether the cell can be physically removed
func (c *Cell) isEmpty() bool {
	return c.Data == nil && c.Formula == "" && c.Body == nil && c.StyleID == 0 && !c.ReadOnly
}

// clone returns a detached copy for callers outside the store
func (c *Cell) clone() *Cell {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

// Value returns the display value, passed through the body if any
func (c *Cell) Value() Primitive {
	if c.Body != nil {
		return c.Body.Evaluate(c.Data)
	}
	return c.Data
}

// Text returns the display text of the cell
func (c *Cell) Text() string {
	return FormatValue(c.Value())
}

// FormatValue renders a primitive the way a cell displays it
func FormatValue(value Primitive) string {
	switch v := value.(type) {
	case nil:
		return ""
	case float64:
		if v == float64(int64(v)) && v < 1e15 && v > -1e15 {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		if v {
			return "TRUE"
		}
		return "FALSE"
	case string:
		return v
	case *SpreadsheetError:
		return v.Literal()
	default:
		return fmt.Sprint(v)
	}
}
