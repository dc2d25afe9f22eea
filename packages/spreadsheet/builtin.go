package spreadsheet

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Clock interface provides time functionality for testing
type Clock interface {
	Now() time.Time
}

// WallClock is the default implementation using system time
type WallClock struct{}

func (w *WallClock) Now() time.Time {
	return time.Now()
}

// RandomGenerator interface provides random number generation for testing
type RandomGenerator interface {
	Float64() float64
}

// DefaultRandomGenerator uses the standard library's rand package
type DefaultRandomGenerator struct{}

func (d *DefaultRandomGenerator) Float64() float64 {
	return rand.Float64()
}

// BuiltInFunctions contains all spreadsheet built-in functions
type BuiltInFunctions struct {
	clock Clock
	rng   RandomGenerator
}

type builtinFunc func(bf *BuiltInFunctions, args []Primitive) (Primitive, error)

// builtinTable maps upper-case function names to implementations. built-in
// names are matched case-insensitively.
var builtinTable = map[string]builtinFunc{
	"SUM":         (*BuiltInFunctions).SUM,
	"AVERAGE":     (*BuiltInFunctions).AVERAGE,
	"AVERAGEA":    (*BuiltInFunctions).AVERAGEA,
	"COUNT":       (*BuiltInFunctions).COUNT,
	"COUNTA":      (*BuiltInFunctions).COUNTA,
	"COUNTIF":     (*BuiltInFunctions).COUNTIF,
	"SUMIF":       (*BuiltInFunctions).SUMIF,
	"MAX":         (*BuiltInFunctions).MAX,
	"MIN":         (*BuiltInFunctions).MIN,
	"MEDIAN":      (*BuiltInFunctions).MEDIAN,
	"MODE":        (*BuiltInFunctions).MODE,
	"IF":          (*BuiltInFunctions).IF,
	"IFERROR":     (*BuiltInFunctions).IFERROR,
	"ISERROR":     (*BuiltInFunctions).ISERROR,
	"ISBLANK":     (*BuiltInFunctions).ISBLANK,
	"ISNUMBER":    (*BuiltInFunctions).ISNUMBER,
	"AND":         (*BuiltInFunctions).AND,
	"OR":          (*BuiltInFunctions).OR,
	"NOT":         (*BuiltInFunctions).NOT,
	"CONCATENATE": (*BuiltInFunctions).CONCATENATE,
	"LEN":         (*BuiltInFunctions).LEN,
	"UPPER":       (*BuiltInFunctions).UPPER,
	"LOWER":       (*BuiltInFunctions).LOWER,
	"TRIM":        (*BuiltInFunctions).TRIM,
	"ABS":         (*BuiltInFunctions).ABS,
	"ROUND":       (*BuiltInFunctions).ROUND,
	"FLOOR":       (*BuiltInFunctions).FLOOR,
	"CEILING":     (*BuiltInFunctions).CEILING,
	"SQRT":        (*BuiltInFunctions).SQRT,
	"POWER":       (*BuiltInFunctions).POWER,
	"MOD":         (*BuiltInFunctions).MOD,
	"PI":          (*BuiltInFunctions).PI,
	"ROWS":        (*BuiltInFunctions).ROWS,
	"COLUMNS":     (*BuiltInFunctions).COLUMNS,
	"NOW":         (*BuiltInFunctions).NOW,
	"TODAY":       (*BuiltInFunctions).TODAY,
	"RAND":        (*BuiltInFunctions).RAND,
}

// checkForError returns the error if value is a *SpreadsheetError, nil otherwise
func checkForError(value Primitive) *SpreadsheetError {
	if err, ok := value.(*SpreadsheetError); ok {
		return err
	}
	return nil
}

// NewBuiltInFunctions creates a BuiltInFunctions with the given time and
// randomness sources
func NewBuiltInFunctions(clock Clock, rng RandomGenerator) *BuiltInFunctions {
	return &BuiltInFunctions{clock: clock, rng: rng}
}

// NewDefaultBuiltInFunctions creates a BuiltInFunctions with default
// implementations
func NewDefaultBuiltInFunctions() *BuiltInFunctions {
	return NewBuiltInFunctions(&WallClock{}, &DefaultRandomGenerator{})
}

// Has reports whether name is a built-in function
func (bf *BuiltInFunctions) Has(name string) bool {
	_, ok := builtinTable[strings.ToUpper(name)]
	return ok
}

// Call invokes a built-in function by name with the given arguments
func (bf *BuiltInFunctions) Call(name string, args ...Primitive) (Primitive, error) {
	fn, ok := builtinTable[strings.ToUpper(name)]
	if !ok {
		return nil, NewSpreadsheetError(ErrorCodeName, fmt.Sprintf("Unknown function: %s", name))
	}
	return fn(bf, args)
}

// flatten yields every argument value, expanding ranges into their
// non-empty cell values. fromRange tells the callback which kind it got.
func flatten(args []Primitive, visit func(value Primitive, fromRange bool) error) error {
	for _, arg := range args {
		r, ok := arg.(Range)
		if !ok {
			if err := visit(arg, false); err != nil {
				return err
			}
			continue
		}
		for value := range r.IterateValues() {
			if err := visit(value, true); err != nil {
				return err
			}
		}
	}
	return nil
}

// eachNumber calls fn for every numeric argument value. errors propagate,
// empty and non-numeric values are skipped.
func eachNumber(args []Primitive, fn func(float64)) error {
	return flatten(args, func(value Primitive, _ bool) error {
		if err := checkForError(value); err != nil {
			return err
		}
		if value == nil {
			return nil
		}
		if num, ok := toNumber(value); ok && !math.IsNaN(num) {
			fn(num)
		}
		return nil
	})
}

func collectNumbers(args []Primitive) ([]float64, error) {
	var values []float64
	err := eachNumber(args, func(num float64) { values = append(values, num) })
	return values, err
}

func (bf *BuiltInFunctions) SUM(args []Primitive) (Primitive, error) {
	sum := 0.0
	if err := eachNumber(args, func(num float64) { sum += num }); err != nil {
		return nil, err
	}
	rounded, _ := strconv.ParseFloat(strconv.FormatFloat(sum, 'f', 15, 64), 64)
	return rounded, nil
}

func (bf *BuiltInFunctions) AVERAGE(args []Primitive) (Primitive, error) {
	values, err := collectNumbers(args)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, NewSpreadsheetError(ErrorCodeDiv0, "Division by zero")
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values)), nil
}

func (bf *BuiltInFunctions) AVERAGEA(args []Primitive) (Primitive, error) {
	sum := 0.0
	count := 0

	// AVERAGEA includes all non-empty values in the count but only
	// numeric values contribute to the sum
	err := flatten(args, func(value Primitive, _ bool) error {
		if err := checkForError(value); err != nil {
			return err
		}
		switch v := value.(type) {
		case float64:
			sum += v
			count++
		case bool:
			if v {
				sum++
			}
			count++
		case string:
			count++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if count == 0 {
		return nil, NewSpreadsheetError(ErrorCodeDiv0, "AVERAGEA has no values")
	}
	return sum / float64(count), nil
}

func (bf *BuiltInFunctions) COUNT(args []Primitive) (Primitive, error) {
	count := 0
	err := flatten(args, func(value Primitive, fromRange bool) error {
		// direct errors propagate, errors inside ranges are skipped
		if err := checkForError(value); err != nil && !fromRange {
			return err
		}
		if _, ok := value.(float64); ok {
			count++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return float64(count), nil
}

func (bf *BuiltInFunctions) COUNTA(args []Primitive) (Primitive, error) {
	count := 0
	// COUNTA counts all non-empty values regardless of type, errors
	// inside ranges included
	err := flatten(args, func(value Primitive, fromRange bool) error {
		if err := checkForError(value); err != nil && !fromRange {
			return err
		}
		if value != nil {
			count++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return float64(count), nil
}

// criteriaMatcher builds a predicate from a COUNTIF/SUMIF criteria value
// such as 5, "apple", ">10" or "<>x"
func criteriaMatcher(criteria Primitive) func(Primitive) bool {
	text, isText := criteria.(string)
	if !isText {
		return func(value Primitive) bool { return comparePrimitives(value, criteria) == 0 }
	}

	op := ""
	for _, prefix := range []string{">=", "<=", "<>", ">", "<", "="} {
		if strings.HasPrefix(text, prefix) {
			op = prefix
			text = text[len(prefix):]
			break
		}
	}
	operand := ParseLiteral(text)

	return func(value Primitive) bool {
		if value == nil {
			return false
		}
		cmp := comparePrimitives(value, operand)
		if _, valueIsNum := toNumber(value); op != "" && op != "=" && op != "<>" {
			_, operandIsNum := operand.(float64)
			if !valueIsNum || !operandIsNum {
				return false
			}
		}
		switch op {
		case ">=":
			return cmp >= 0
		case "<=":
			return cmp <= 0 && cmp != -2
		case "<>":
			return cmp != 0
		case ">":
			return cmp > 0
		case "<":
			return cmp < 0 && cmp != -2
		default:
			return cmp == 0
		}
	}
}

func (bf *BuiltInFunctions) COUNTIF(args []Primitive) (Primitive, error) {
	if len(args) != 2 {
		return nil, NewSpreadsheetError(ErrorCodeNA, "COUNTIF requires 2 arguments")
	}
	r, ok := args[0].(Range)
	if !ok {
		return nil, NewSpreadsheetError(ErrorCodeValue, "COUNTIF requires a range")
	}
	if err := checkForError(args[1]); err != nil {
		return nil, err
	}
	match := criteriaMatcher(args[1])
	count := 0
	for value := range r.IterateValues() {
		if match(value) {
			count++
		}
	}
	return float64(count), nil
}

func (bf *BuiltInFunctions) SUMIF(args []Primitive) (Primitive, error) {
	if len(args) < 2 || len(args) > 3 {
		return nil, NewSpreadsheetError(ErrorCodeNA, "SUMIF requires 2 or 3 arguments")
	}
	r, ok := args[0].(Range)
	if !ok {
		return nil, NewSpreadsheetError(ErrorCodeValue, "SUMIF requires a range")
	}
	if err := checkForError(args[1]); err != nil {
		return nil, err
	}
	sumRange := r
	if len(args) == 3 {
		if sumRange, ok = args[2].(Range); !ok {
			return nil, NewSpreadsheetError(ErrorCodeValue, "SUMIF sum range must be a range")
		}
	}

	match := criteriaMatcher(args[1])
	bounds := r.Bounds()
	sum := 0.0
	for cell := range r.Iterate() {
		if !match(cell.Data) {
			continue
		}
		value := sumRange.ValueAt(cell.Row-bounds.Row, cell.Col-bounds.Col)
		if err := checkForError(value); err != nil {
			return nil, err
		}
		if num, ok := value.(float64); ok {
			sum += num
		}
	}
	return sum, nil
}

func (bf *BuiltInFunctions) MAX(args []Primitive) (Primitive, error) {
	values, err := collectNumbers(args)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return 0.0, nil
	}
	return slices.Max(values), nil
}

func (bf *BuiltInFunctions) MIN(args []Primitive) (Primitive, error) {
	values, err := collectNumbers(args)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return 0.0, nil
	}
	return slices.Min(values), nil
}

func (bf *BuiltInFunctions) MEDIAN(args []Primitive) (Primitive, error) {
	values, err := collectNumbers(args)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, NewSpreadsheetError(ErrorCodeNum, "MEDIAN has no numeric values")
	}

	slices.Sort(values)
	mid := len(values) / 2
	if len(values)%2 == 0 {
		return (values[mid-1] + values[mid]) / 2, nil
	}
	return values[mid], nil
}

func (bf *BuiltInFunctions) MODE(args []Primitive) (Primitive, error) {
	frequencyMap := make(map[float64]int)
	if err := eachNumber(args, func(num float64) { frequencyMap[num]++ }); err != nil {
		return nil, err
	}
	if len(frequencyMap) == 0 {
		return nil, NewSpreadsheetError(ErrorCodeNum, "MODE has no numeric values")
	}

	maxFreq := 0
	for _, freq := range frequencyMap {
		maxFreq = max(maxFreq, freq)
	}
	if maxFreq == 1 {
		return nil, NewSpreadsheetError(ErrorCodeNA, "MODE: no value appears more than once")
	}

	var modes []float64
	for value, freq := range frequencyMap {
		if freq == maxFreq {
			modes = append(modes, value)
		}
	}
	// the smallest mode wins ties
	return slices.Min(modes), nil
}

func (bf *BuiltInFunctions) IF(args []Primitive) (Primitive, error) {
	if len(args) < 2 || len(args) > 3 {
		return nil, NewSpreadsheetError(ErrorCodeNA, "IF requires 2 or 3 arguments")
	}
	if err := checkForError(args[0]); err != nil {
		return nil, err
	}

	if isTruthy(args[0]) {
		return args[1], nil
	}
	if len(args) == 3 {
		return args[2], nil
	}
	return false, nil
}

func (bf *BuiltInFunctions) IFERROR(args []Primitive) (Primitive, error) {
	if len(args) != 2 {
		return nil, NewSpreadsheetError(ErrorCodeNA, "IFERROR requires 2 arguments")
	}
	if checkForError(args[0]) != nil {
		return args[1], nil
	}
	return args[0], nil
}

func (bf *BuiltInFunctions) ISERROR(args []Primitive) (Primitive, error) {
	if len(args) != 1 {
		return nil, NewSpreadsheetError(ErrorCodeNA, "ISERROR requires 1 argument")
	}
	return checkForError(args[0]) != nil, nil
}

func (bf *BuiltInFunctions) ISBLANK(args []Primitive) (Primitive, error) {
	if len(args) != 1 {
		return nil, NewSpreadsheetError(ErrorCodeNA, "ISBLANK requires 1 argument")
	}
	return args[0] == nil, nil
}

func (bf *BuiltInFunctions) ISNUMBER(args []Primitive) (Primitive, error) {
	if len(args) != 1 {
		return nil, NewSpreadsheetError(ErrorCodeNA, "ISNUMBER requires 1 argument")
	}
	_, ok := args[0].(float64)
	return ok, nil
}

func (bf *BuiltInFunctions) AND(args []Primitive) (Primitive, error) {
	result := true
	err := flatten(args, func(value Primitive, _ bool) error {
		if err := checkForError(value); err != nil {
			return err
		}
		if !isTruthy(value) {
			result = false
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (bf *BuiltInFunctions) OR(args []Primitive) (Primitive, error) {
	result := false
	err := flatten(args, func(value Primitive, _ bool) error {
		if err := checkForError(value); err != nil {
			return err
		}
		if isTruthy(value) {
			result = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (bf *BuiltInFunctions) NOT(args []Primitive) (Primitive, error) {
	if len(args) != 1 {
		return nil, NewSpreadsheetError(ErrorCodeNA, "NOT requires exactly 1 argument")
	}
	if err := checkForError(args[0]); err != nil {
		return nil, err
	}
	return !isTruthy(args[0]), nil
}

func (bf *BuiltInFunctions) CONCATENATE(args []Primitive) (Primitive, error) {
	var sb strings.Builder
	err := flatten(args, func(value Primitive, _ bool) error {
		if err := checkForError(value); err != nil {
			return err
		}
		sb.WriteString(toString(value))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sb.String(), nil
}

// singleText validates a one-argument text function and returns its text
func singleText(name string, args []Primitive) (string, error) {
	if len(args) != 1 {
		return "", NewSpreadsheetError(ErrorCodeNA, name+" requires exactly 1 argument")
	}
	if err := checkForError(args[0]); err != nil {
		return "", err
	}
	return toString(args[0]), nil
}

func (bf *BuiltInFunctions) LEN(args []Primitive) (Primitive, error) {
	text, err := singleText("LEN", args)
	if err != nil {
		return nil, err
	}
	return float64(len([]rune(text))), nil
}

func (bf *BuiltInFunctions) UPPER(args []Primitive) (Primitive, error) {
	text, err := singleText("UPPER", args)
	if err != nil {
		return nil, err
	}
	return strings.ToUpper(text), nil
}

func (bf *BuiltInFunctions) LOWER(args []Primitive) (Primitive, error) {
	text, err := singleText("LOWER", args)
	if err != nil {
		return nil, err
	}
	return strings.ToLower(text), nil
}

func (bf *BuiltInFunctions) TRIM(args []Primitive) (Primitive, error) {
	text, err := singleText("TRIM", args)
	if err != nil {
		return nil, err
	}
	// collapse inner runs of spaces as well
	return strings.Join(strings.Fields(text), " "), nil
}

// numericArgs validates a fixed-arity numeric function
func numericArgs(name string, args []Primitive, minArgs, maxArgs int) ([]float64, error) {
	if len(args) < minArgs || len(args) > maxArgs {
		return nil, NewSpreadsheetError(ErrorCodeNA, fmt.Sprintf("%s requires %d to %d arguments", name, minArgs, maxArgs))
	}
	nums := make([]float64, len(args))
	for i, arg := range args {
		if err := checkForError(arg); err != nil {
			return nil, err
		}
		num, ok := toNumber(arg)
		if !ok {
			return nil, NewSpreadsheetError(ErrorCodeValue, name+" requires numeric arguments")
		}
		nums[i] = num
	}
	return nums, nil
}

func (bf *BuiltInFunctions) ABS(args []Primitive) (Primitive, error) {
	nums, err := numericArgs("ABS", args, 1, 1)
	if err != nil {
		return nil, err
	}
	return math.Abs(nums[0]), nil
}

func (bf *BuiltInFunctions) ROUND(args []Primitive) (Primitive, error) {
	nums, err := numericArgs("ROUND", args, 1, 2)
	if err != nil {
		return nil, err
	}
	digits := 0.0
	if len(nums) == 2 {
		digits = math.Trunc(nums[1])
	}
	factor := math.Pow(10, digits)
	// round half away from zero
	return math.Round(nums[0]*factor) / factor, nil
}

func (bf *BuiltInFunctions) FLOOR(args []Primitive) (Primitive, error) {
	nums, err := numericArgs("FLOOR", args, 1, 2)
	if err != nil {
		return nil, err
	}
	if len(nums) == 1 || nums[1] == 1 {
		return math.Floor(nums[0]), nil
	}
	if nums[1] == 0 {
		return nil, NewSpreadsheetError(ErrorCodeDiv0, "FLOOR significance is zero")
	}
	return math.Floor(nums[0]/nums[1]) * nums[1], nil
}

func (bf *BuiltInFunctions) CEILING(args []Primitive) (Primitive, error) {
	nums, err := numericArgs("CEILING", args, 1, 2)
	if err != nil {
		return nil, err
	}
	if len(nums) == 1 || nums[1] == 1 {
		return math.Ceil(nums[0]), nil
	}
	if nums[1] == 0 {
		return 0.0, nil
	}
	return math.Ceil(nums[0]/nums[1]) * nums[1], nil
}

func (bf *BuiltInFunctions) SQRT(args []Primitive) (Primitive, error) {
	nums, err := numericArgs("SQRT", args, 1, 1)
	if err != nil {
		return nil, err
	}
	if nums[0] < 0 {
		return nil, NewSpreadsheetError(ErrorCodeNum, "SQRT of negative number")
	}
	return math.Sqrt(nums[0]), nil
}

func (bf *BuiltInFunctions) POWER(args []Primitive) (Primitive, error) {
	nums, err := numericArgs("POWER", args, 2, 2)
	if err != nil {
		return nil, err
	}
	result := math.Pow(nums[0], nums[1])
	if math.IsNaN(result) || math.IsInf(result, 0) {
		return nil, NewSpreadsheetError(ErrorCodeNum, "POWER result is not a finite number")
	}
	return result, nil
}

func (bf *BuiltInFunctions) MOD(args []Primitive) (Primitive, error) {
	nums, err := numericArgs("MOD", args, 2, 2)
	if err != nil {
		return nil, err
	}
	dividend, divisor := nums[0], nums[1]
	if divisor == 0 {
		return nil, NewSpreadsheetError(ErrorCodeDiv0, "Division by zero")
	}
	// the result takes the sign of the divisor
	result := math.Mod(dividend, divisor)
	if result != 0 && (result < 0) != (divisor < 0) {
		result += divisor
	}
	return result, nil
}

func (bf *BuiltInFunctions) PI(args []Primitive) (Primitive, error) {
	if len(args) != 0 {
		return nil, NewSpreadsheetError(ErrorCodeNA, "PI takes no arguments")
	}
	return math.Pi, nil
}

func (bf *BuiltInFunctions) ROWS(args []Primitive) (Primitive, error) {
	if len(args) != 1 {
		return nil, NewSpreadsheetError(ErrorCodeNA, "ROWS requires 1 argument")
	}
	if r, ok := args[0].(Range); ok {
		return float64(r.Bounds().Rows), nil
	}
	if err := checkForError(args[0]); err != nil {
		return nil, err
	}
	return 1.0, nil
}

func (bf *BuiltInFunctions) COLUMNS(args []Primitive) (Primitive, error) {
	if len(args) != 1 {
		return nil, NewSpreadsheetError(ErrorCodeNA, "COLUMNS requires 1 argument")
	}
	if r, ok := args[0].(Range); ok {
		return float64(r.Bounds().Cols), nil
	}
	if err := checkForError(args[0]); err != nil {
		return nil, err
	}
	return 1.0, nil
}

// Excel date/time constants
const (
	// December 30, 1899 00:00:00 UTC in Unix milliseconds
	excelEpochMs = -2209161600000
	msPerDay     = 86400000
)

func (bf *BuiltInFunctions) NOW(args []Primitive) (Primitive, error) {
	if len(args) != 0 {
		return nil, NewSpreadsheetError(ErrorCodeNA, "NOW takes no arguments")
	}
	// current time as Excel serial number (days since Excel epoch)
	now := bf.clock.Now()
	return float64(now.UnixMilli()-excelEpochMs) / msPerDay, nil
}

func (bf *BuiltInFunctions) TODAY(args []Primitive) (Primitive, error) {
	if len(args) != 0 {
		return nil, NewSpreadsheetError(ErrorCodeNA, "TODAY takes no arguments")
	}
	now := bf.clock.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return math.Floor(float64(midnight.UnixMilli()-excelEpochMs) / msPerDay), nil
}

func (bf *BuiltInFunctions) RAND(args []Primitive) (Primitive, error) {
	if len(args) != 0 {
		return nil, NewSpreadsheetError(ErrorCodeNA, "RAND takes no arguments")
	}
	return bf.rng.Float64(), nil
}

// isVolatileFunction returns true if the function should be recalculated on
// every recalculation pass
func isVolatileFunction(name string) bool {
	switch strings.ToUpper(name) {
	case "NOW", "TODAY", "RAND":
		return true
	default:
		return false
	}
}

// toNumber converts value to number, returning ok=false if conversion fails
func toNumber(value Primitive) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case string:
		num, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return num, true
	case nil:
		return 0, true
	default:
		return 0, false
	}
}

// toString converts value to string
func toString(value Primitive) string {
	return FormatValue(value)
}

// isTruthy checks if value is truthy
func isTruthy(value Primitive) bool {
	switch v := value.(type) {
	case bool:
		return v
	case float64:
		return v != 0
	case int:
		return v != 0
	case string:
		return v != "" && !strings.EqualFold(v, "FALSE")
	case nil:
		return false
	default:
		return true
	}
}
