package spreadsheet

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

type NodePosition struct {
	Start int
	End   int
}

// AST enables dependency extraction, reference rewriting, and volatile
// function detection through tree traversal rather than regex/string
// manipulation.
type ASTNode interface {
	Eval(ctx *evalContext) (Primitive, error)
	GetPosition() NodePosition
	// ToString returns the canonical text of the node. it is the
	// deduplication key of the formula table.
	ToString() string
}

// Parser parses tokens into an AST
type Parser struct {
	input  string
	tokens []Token
	pos    int
}

// NewParser creates a new parser over the tokens of input
func NewParser(input string, tokens []Token) *Parser {
	return &Parser{input: input, tokens: tokens}
}

// ParseFormula lexes and parses formula text, which must start with '='.
// failures are *FormulaParseError values.
func ParseFormula(formula string) (ASTNode, error) {
	tokens, err := NewLexer(formula).Tokenize()
	if err != nil {
		return nil, err
	}
	return NewParser(formula, tokens).Parse()
}

func (p *Parser) fail(pos int, format string, args ...any) *FormulaParseError {
	return &FormulaParseError{Formula: p.input, Position: pos, Message: fmt.Sprintf(format, args...)}
}

func (p *Parser) peek() Token {
	if p.pos >= len(p.tokens) {
		return Token{Type: TokenEOF, Pos: len([]rune(p.input))}
	}
	return p.tokens[p.pos]
}

// StringNode represents a string literal
type StringNode struct {
	Value    string
	Position NodePosition
}

func (n *StringNode) Eval(ctx *evalContext) (Primitive, error) {
	return n.Value, nil
}

func (n *StringNode) GetPosition() NodePosition {
	return n.Position
}

func (n *StringNode) ToString() string {
	return `"` + strings.ReplaceAll(n.Value, `"`, `""`) + `"`
}

// NumberNode represents a numeric literal
type NumberNode struct {
	Value    float64
	Position NodePosition
}

func (n *NumberNode) Eval(ctx *evalContext) (Primitive, error) {
	return n.Value, nil
}

func (n *NumberNode) GetPosition() NodePosition {
	return n.Position
}

func (n *NumberNode) ToString() string {
	return strconv.FormatFloat(n.Value, 'g', -1, 64)
}

// BooleanNode represents a boolean literal
type BooleanNode struct {
	Value    bool
	Position NodePosition
}

func (n *BooleanNode) Eval(ctx *evalContext) (Primitive, error) {
	return n.Value, nil
}

func (n *BooleanNode) GetPosition() NodePosition {
	return n.Position
}

func (n *BooleanNode) ToString() string {
	if n.Value {
		return "TRUE"
	}
	return "FALSE"
}

// ErrorNode represents an error literal such as #REF!. reference rewriting
// produces #REF! for references into deleted rows or columns.
type ErrorNode struct {
	Code     ErrorCode
	Position NodePosition
}

func (n *ErrorNode) Eval(ctx *evalContext) (Primitive, error) {
	return NewSpreadsheetError(n.Code, ""), nil
}

func (n *ErrorNode) GetPosition() NodePosition {
	return n.Position
}

func (n *ErrorNode) ToString() string {
	return ErrorMapper[n.Code]
}

// CellRefNode represents a cell reference. Sheet is empty for references
// into the formula's own worksheet.
type CellRefNode struct {
	Sheet    string
	Ref      cellRef
	Position NodePosition
}

func (n *CellRefNode) Eval(ctx *evalContext) (Primitive, error) {
	return ctx.cellValue(n.Sheet, n.Ref.Pos), nil
}

func (n *CellRefNode) GetPosition() NodePosition {
	return n.Position
}

func (n *CellRefNode) ToString() string {
	return qualifySheet(n.Sheet) + n.Ref.String()
}

// RangeNode represents a rectangular range of cells
type RangeNode struct {
	Sheet    string
	Start    cellRef
	End      cellRef
	Position NodePosition
}

// Bounds returns the normalized range the node covers
func (n *RangeNode) Bounds() RangePosition {
	return RangeBetween(n.Start.Pos, n.End.Pos)
}

func (n *RangeNode) Eval(ctx *evalContext) (Primitive, error) {
	return ctx.rangeValue(n.Sheet, n.Bounds()), nil
}

func (n *RangeNode) GetPosition() NodePosition {
	return n.Position
}

func (n *RangeNode) ToString() string {
	return qualifySheet(n.Sheet) + n.Start.String() + ":" + n.End.String()
}

// NamedRangeNode represents a named range reference
type NamedRangeNode struct {
	Name     string
	Position NodePosition
}

func (n *NamedRangeNode) Eval(ctx *evalContext) (Primitive, error) {
	return ctx.namedValue(n.Name), nil
}

func (n *NamedRangeNode) GetPosition() NodePosition {
	return n.Position
}

func (n *NamedRangeNode) ToString() string {
	return n.Name
}

// BinaryOpNode represents a binary operation
type BinaryOpNode struct {
	Op       BinaryOp
	Left     ASTNode
	Right    ASTNode
	Position NodePosition
}

var binaryOpText = map[BinaryOp]string{
	BinOpAdd:          "+",
	BinOpSubtract:     "-",
	BinOpMultiply:     "*",
	BinOpDivide:       "/",
	BinOpPower:        "^",
	BinOpConcat:       "&",
	BinOpEqual:        "=",
	BinOpNotEqual:     "<>",
	BinOpLess:         "<",
	BinOpLessEqual:    "<=",
	BinOpGreater:      ">",
	BinOpGreaterEqual: ">=",
}

// evalOperand evaluates node and converts evaluation errors to error values
func evalOperand(node ASTNode, ctx *evalContext) Primitive {
	val, err := node.Eval(ctx)
	if err != nil {
		return asSpreadsheetError(err)
	}
	return val
}

func asSpreadsheetError(err error) *SpreadsheetError {
	var spreadsheetErr *SpreadsheetError
	if errors.As(err, &spreadsheetErr) {
		return spreadsheetErr
	}
	return NewSpreadsheetError(ErrorCodeValue, err.Error())
}

func (n *BinaryOpNode) Eval(ctx *evalContext) (Primitive, error) {
	leftVal := evalOperand(n.Left, ctx)
	rightVal := evalOperand(n.Right, ctx)

	// propagate errors
	if err := checkForError(leftVal); err != nil {
		return err, nil
	}
	if err := checkForError(rightVal); err != nil {
		return err, nil
	}

	switch n.Op {
	case BinOpConcat:
		return toString(leftVal) + toString(rightVal), nil
	case BinOpEqual:
		return comparePrimitives(leftVal, rightVal) == 0, nil
	case BinOpNotEqual:
		return comparePrimitives(leftVal, rightVal) != 0, nil
	case BinOpLess, BinOpLessEqual, BinOpGreater, BinOpGreaterEqual:
		cmp := comparePrimitives(leftVal, rightVal)
		if cmp == -2 {
			return nil, NewSpreadsheetError(ErrorCodeValue, "Cannot compare these values")
		}
		switch n.Op {
		case BinOpLess:
			return cmp < 0, nil
		case BinOpLessEqual:
			return cmp <= 0, nil
		case BinOpGreater:
			return cmp > 0, nil
		default:
			return cmp >= 0, nil
		}
	}

	leftNum, leftOk := toNumber(leftVal)
	rightNum, rightOk := toNumber(rightVal)
	if !leftOk || !rightOk {
		return nil, NewSpreadsheetError(ErrorCodeValue, fmt.Sprintf("Operator %s requires numeric values", binaryOpText[n.Op]))
	}

	switch n.Op {
	case BinOpAdd:
		return leftNum + rightNum, nil
	case BinOpSubtract:
		return leftNum - rightNum, nil
	case BinOpMultiply:
		return leftNum * rightNum, nil
	case BinOpDivide:
		if rightNum == 0 {
			return nil, NewSpreadsheetError(ErrorCodeDiv0, "Division by zero")
		}
		return leftNum / rightNum, nil
	case BinOpPower:
		result := math.Pow(leftNum, rightNum)
		if math.IsNaN(result) || math.IsInf(result, 0) {
			return nil, NewSpreadsheetError(ErrorCodeNum, "Power result is not a finite number")
		}
		return result, nil
	default:
		return nil, NewSpreadsheetError(ErrorCodeValue, "Unknown operator")
	}
}

func (n *BinaryOpNode) GetPosition() NodePosition {
	return n.Position
}

func (n *BinaryOpNode) ToString() string {
	return "(" + n.Left.ToString() + binaryOpText[n.Op] + n.Right.ToString() + ")"
}

// UnaryOpNode represents a unary operation
type UnaryOpNode struct {
	Op       UnaryOp
	Operand  ASTNode
	Position NodePosition
}

func (n *UnaryOpNode) Eval(ctx *evalContext) (Primitive, error) {
	val := evalOperand(n.Operand, ctx)
	if err := checkForError(val); err != nil {
		return err, nil
	}

	num, ok := toNumber(val)
	if !ok {
		return nil, NewSpreadsheetError(ErrorCodeValue, "Unary operator requires a numeric value")
	}

	switch n.Op {
	case UnaryOpPlus:
		return num, nil
	case UnaryOpMinus:
		return -num, nil
	case UnaryOpPercent:
		return num / 100.0, nil
	default:
		return nil, NewSpreadsheetError(ErrorCodeValue, "Unknown unary operator")
	}
}

func (n *UnaryOpNode) GetPosition() NodePosition {
	return n.Position
}

func (n *UnaryOpNode) ToString() string {
	switch n.Op {
	case UnaryOpMinus:
		return "-" + n.Operand.ToString()
	case UnaryOpPercent:
		return "(" + n.Operand.ToString() + "%)"
	default:
		return "+" + n.Operand.ToString()
	}
}

// FunctionCallNode represents a function call. Name keeps the case it was
// written in.
type FunctionCallNode struct {
	Name     string
	Args     []ASTNode
	Position NodePosition
}

func (n *FunctionCallNode) Eval(ctx *evalContext) (Primitive, error) {
	// errors are passed as values; functions decide how to handle them
	args := make([]Primitive, len(n.Args))
	for i, argNode := range n.Args {
		args[i] = evalOperand(argNode, ctx)
	}
	return ctx.call(n.Name, args)
}

func (n *FunctionCallNode) GetPosition() NodePosition {
	return n.Position
}

func (n *FunctionCallNode) ToString() string {
	args := make([]string, len(n.Args))
	for i, arg := range n.Args {
		args[i] = arg.ToString()
	}
	return n.Name + "(" + strings.Join(args, ",") + ")"
}

// Parse parses the tokens into an AST
func (p *Parser) Parse() (ASTNode, error) {
	if len(p.tokens) == 0 || p.tokens[0].Type != TokenEquals {
		return nil, p.fail(0, "formula must start with '='")
	}
	p.pos = 1

	if p.peek().Type == TokenEOF {
		return nil, p.fail(p.peek().Pos, "empty formula")
	}

	node, err := p.parseComparison()
	if err != nil {
		return nil, err
	}

	if tok := p.peek(); tok.Type != TokenEOF {
		return nil, p.fail(tok.Pos, "unexpected token after expression: %s", tok.Value)
	}
	return node, nil
}

func span(left, right ASTNode) NodePosition {
	return NodePosition{Start: left.GetPosition().Start, End: right.GetPosition().End}
}

// parseBinaryLevel parses a left-associative chain of the operators in ops,
// with operands parsed by next
func (p *Parser) parseBinaryLevel(ops map[string]BinaryOp, next func() (ASTNode, error)) (ASTNode, error) {
	left, err := next()
	if err != nil {
		return nil, err
	}

	for {
		tok := p.peek()
		if tok.Type != TokenBinaryOp {
			return left, nil
		}
		op, ok := ops[tok.Value]
		if !ok {
			return left, nil
		}

		p.pos++
		right, err := next()
		if err != nil {
			return nil, err
		}
		left = &BinaryOpNode{Op: op, Left: left, Right: right, Position: span(left, right)}
	}
}

var (
	comparisonOps = map[string]BinaryOp{
		"=": BinOpEqual, "<>": BinOpNotEqual, "!=": BinOpNotEqual,
		"<": BinOpLess, "<=": BinOpLessEqual, ">": BinOpGreater, ">=": BinOpGreaterEqual,
	}
	concatOps         = map[string]BinaryOp{"&": BinOpConcat}
	additionOps       = map[string]BinaryOp{"+": BinOpAdd, "-": BinOpSubtract}
	multiplicationOps = map[string]BinaryOp{"*": BinOpMultiply, "/": BinOpDivide}
)

// parseComparison handles comparison operators (lowest precedence)
func (p *Parser) parseComparison() (ASTNode, error) {
	return p.parseBinaryLevel(comparisonOps, p.parseConcatenation)
}

// parseConcatenation handles string concatenation operator
func (p *Parser) parseConcatenation() (ASTNode, error) {
	return p.parseBinaryLevel(concatOps, p.parseAddition)
}

// parseAddition handles addition and subtraction
func (p *Parser) parseAddition() (ASTNode, error) {
	return p.parseBinaryLevel(additionOps, p.parseMultiplication)
}

// parseMultiplication handles multiplication and division
func (p *Parser) parseMultiplication() (ASTNode, error) {
	return p.parseBinaryLevel(multiplicationOps, p.parsePower)
}

// parsePower handles exponentiation
func (p *Parser) parsePower() (ASTNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	// right-associative
	if tok := p.peek(); tok.Type == TokenBinaryOp && tok.Value == "^" {
		p.pos++
		right, err := p.parsePower()
		if err != nil {
			return nil, err
		}
		return &BinaryOpNode{Op: BinOpPower, Left: left, Right: right, Position: span(left, right)}, nil
	}

	return left, nil
}

// parseUnary handles unary operators
func (p *Parser) parseUnary() (ASTNode, error) {
	tok := p.peek()
	if tok.Type != TokenUnaryPrefixOp {
		return p.parsePostfix()
	}

	op := UnaryOpPlus
	if tok.Value == "-" {
		op = UnaryOpMinus
	}
	p.pos++
	operand, err := p.parseUnary() // recurse for chained unary operators
	if err != nil {
		return nil, err
	}
	return &UnaryOpNode{
		Op:       op,
		Operand:  operand,
		Position: NodePosition{Start: tok.Pos, End: operand.GetPosition().End},
	}, nil
}

// parsePostfix handles postfix operators (percent)
func (p *Parser) parsePostfix() (ASTNode, error) {
	node, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	for tok := p.peek(); tok.Type == TokenUnaryPostfixOp; tok = p.peek() {
		p.pos++
		node = &UnaryOpNode{
			Op:       UnaryOpPercent,
			Operand:  node,
			Position: NodePosition{Start: node.GetPosition().Start, End: tok.End},
		}
	}
	return node, nil
}

// parsePrimary handles primary expressions (literals, references,
// functions, parentheses)
func (p *Parser) parsePrimary() (ASTNode, error) {
	tok := p.peek()
	position := NodePosition{Start: tok.Pos, End: tok.End}

	switch tok.Type {
	case TokenNumber:
		p.pos++
		val, err := strconv.ParseFloat(tok.Value, 64)
		if err != nil {
			return nil, p.fail(tok.Pos, "invalid number: %s", tok.Value)
		}
		return &NumberNode{Value: val, Position: position}, nil

	case TokenString:
		p.pos++
		return &StringNode{Value: tok.Value, Position: position}, nil

	case TokenBoolean:
		p.pos++
		return &BooleanNode{Value: tok.Value == "TRUE", Position: position}, nil

	case TokenErrorLiteral:
		p.pos++
		return &ErrorNode{Code: errorCodeByLiteral[tok.Value], Position: position}, nil

	case TokenCell:
		p.pos++
		ref, ok := parseCellRef(tok.Ref)
		if !ok {
			return nil, p.fail(tok.Pos, "invalid cell reference: %s", tok.Value)
		}
		return &CellRefNode{Sheet: tok.Sheet, Ref: ref, Position: position}, nil

	case TokenRange:
		p.pos++
		first, second, _ := strings.Cut(tok.Ref, ":")
		start, ok := parseCellRef(first)
		if !ok {
			return nil, p.fail(tok.Pos, "invalid start cell in range: %s", first)
		}
		end, ok := parseCellRef(second)
		if !ok {
			return nil, p.fail(tok.Pos, "invalid end cell in range: %s", second)
		}
		return &RangeNode{Sheet: tok.Sheet, Start: start, End: end, Position: position}, nil

	case TokenIdentifier:
		p.pos++
		return &NamedRangeNode{Name: tok.Value, Position: position}, nil

	case TokenFunction:
		return p.parseFunctionCall()

	case TokenLeftParen:
		p.pos++
		node, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		if p.peek().Type != TokenRightParen {
			return nil, p.fail(p.peek().Pos, "expected closing parenthesis")
		}
		p.pos++
		return node, nil

	case TokenEOF:
		return nil, p.fail(tok.Pos, "unexpected end of expression")

	default:
		return nil, p.fail(tok.Pos, "unexpected token: %s", tok.Value)
	}
}

// parseFunctionCall parses a function call
func (p *Parser) parseFunctionCall() (ASTNode, error) {
	funcTok := p.peek()
	p.pos++

	if p.peek().Type != TokenLeftParen {
		return nil, p.fail(p.peek().Pos, "expected '(' after function name")
	}
	p.pos++

	args := []ASTNode{}
	if tok := p.peek(); tok.Type == TokenRightParen {
		p.pos++
		return &FunctionCallNode{
			Name:     funcTok.Value,
			Args:     args,
			Position: NodePosition{Start: funcTok.Pos, End: tok.End},
		}, nil
	}

	for {
		arg, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)

		tok := p.peek()
		switch tok.Type {
		case TokenRightParen:
			p.pos++
			return &FunctionCallNode{
				Name:     funcTok.Value,
				Args:     args,
				Position: NodePosition{Start: funcTok.Pos, End: tok.End},
			}, nil
		case TokenComma:
			p.pos++
		default:
			return nil, p.fail(tok.Pos, "expected ',' or ')' in function arguments")
		}
	}
}

// qualifySheet returns the "Sheet!" prefix for a reference, quoting names
// that would not lex as a bare identifier
func qualifySheet(sheet string) string {
	if sheet == "" {
		return ""
	}
	return quoteSheetName(sheet) + "!"
}

func quoteSheetName(sheet string) string {
	plain := true
	for i, ch := range sheet {
		if (i == 0 && !isIdentStart(ch)) || !isIdentChar(ch) {
			plain = false
			break
		}
	}
	if plain {
		// a bare name that lexes as a cell reference must be quoted
		lexer := NewLexer(sheet)
		if _, ok := lexer.matchCellRef(0); ok {
			plain = false
		}
	}
	if plain {
		return sheet
	}
	return "'" + strings.ReplaceAll(sheet, "'", "''") + "'"
}

// ParseLiteral converts user input into a primitive: numbers, TRUE/FALSE
// and error literals are recognized, anything else stays text
func ParseLiteral(text string) Primitive {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return text
	}
	if num, err := strconv.ParseFloat(trimmed, 64); err == nil && !math.IsInf(num, 0) && !math.IsNaN(num) {
		return num
	}
	switch strings.ToUpper(trimmed) {
	case "TRUE":
		return true
	case "FALSE":
		return false
	}
	if code, ok := errorCodeByLiteral[strings.ToUpper(trimmed)]; ok {
		return NewSpreadsheetError(code, "")
	}
	return text
}

// comparePrimitives compares two primitive values. returns -1 if left < right,
// 0 if equal, 1 if left > right, -2 if not comparable
func comparePrimitives(left, right Primitive) int {
	if left == nil && right == nil {
		return 0
	}
	if left == nil {
		return -1
	}
	if right == nil {
		return 1
	}

	if _, isRange := left.(Range); isRange {
		return -2
	}
	if _, isRange := right.(Range); isRange {
		return -2
	}

	// try numeric comparison first
	leftNum, leftIsNum := toNumber(left)
	rightNum, rightIsNum := toNumber(right)
	if leftIsNum && rightIsNum {
		switch {
		case leftNum < rightNum:
			return -1
		case leftNum > rightNum:
			return 1
		}
		return 0
	}

	leftBool, leftIsBool := left.(bool)
	rightBool, rightIsBool := right.(bool)
	if leftIsBool && rightIsBool {
		switch {
		case leftBool == rightBool:
			return 0
		case !leftBool && rightBool:
			return -1
		}
		return 1
	}

	// text comparison is case-insensitive like the rest of the grid
	return strings.Compare(strings.ToUpper(toString(left)), strings.ToUpper(toString(right)))
}
