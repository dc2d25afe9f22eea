package spreadsheet

import (
	"strings"
	"unicode"
)

// TokenType represents different types of tokens in formulas
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenEquals
	TokenNumber
	TokenString
	TokenBoolean
	TokenErrorLiteral
	TokenCell
	TokenRange
	TokenFunction
	TokenUnaryPrefixOp
	TokenUnaryPostfixOp
	TokenBinaryOp
	TokenComma
	TokenLeftParen
	TokenRightParen
	TokenIdentifier
)

// BinaryOp represents binary operators in AST nodes
type BinaryOp int

const (
	BinOpAdd BinaryOp = iota
	BinOpSubtract
	BinOpMultiply
	BinOpDivide
	BinOpPower
	BinOpConcat
	BinOpEqual
	BinOpNotEqual
	BinOpLess
	BinOpLessEqual
	BinOpGreater
	BinOpGreaterEqual
)

// UnaryOp represents unary operators in AST nodes
type UnaryOp int

const (
	UnaryOpPlus UnaryOp = iota
	UnaryOpMinus
	UnaryOpPercent
)

// character classification constants. slightly easier to read.
const (
	charNull       = 0
	charTab        = '\t'
	charNewline    = '\n'
	charReturn     = '\r'
	charSpace      = ' '
	charQuote      = '"'
	charApostrophe = '\''
	charPercent    = '%'
	charAmpersand  = '&'
	charLParen     = '('
	charRParen     = ')'
	charAsterisk   = '*'
	charPlus       = '+'
	charComma      = ','
	charMinus      = '-'
	charPeriod     = '.'
	charSlash      = '/'
	charColon      = ':'
	charLess       = '<'
	charEqual      = '='
	charGreater    = '>'
	charCaret      = '^'
	charUnderscore = '_'
	charExclaim    = '!'
	charDollar     = '$'
	charHash       = '#'
)

// operandTokens are the tokens that can start an operand
var operandTokens = map[TokenType]bool{
	TokenNumber:        true,
	TokenString:        true,
	TokenBoolean:       true,
	TokenErrorLiteral:  true,
	TokenCell:          true,
	TokenRange:         true,
	TokenFunction:      true,
	TokenIdentifier:    true,
	TokenLeftParen:     true,
	TokenUnaryPrefixOp: true,
}

// afterOperandTokens are the tokens that can follow a complete operand
var afterOperandTokens = map[TokenType]bool{
	TokenBinaryOp:       true,
	TokenUnaryPostfixOp: true, // for %
	TokenRightParen:     true,
	TokenComma:          true, // only if in function
	TokenEOF:            true,
}

// tokenTransitions maps the current state to valid next token types
var tokenTransitions = map[TokenState]map[TokenType]bool{
	StateStart:         {TokenEquals: true},
	StateAfterEquals:   operandTokens,
	StateAfterOperator: operandTokens,
	StateAfterComma:    operandTokens,
	StateAfterLeftParen: func() map[TokenType]bool {
		m := map[TokenType]bool{TokenRightParen: true} // empty parens for PI()
		for k := range operandTokens {
			m[k] = true
		}
		return m
	}(),
	StateAfterValue:      afterOperandTokens,
	StateAfterRightParen: afterOperandTokens,
	StateAfterFunction:   {TokenLeftParen: true},
}

// Token represents a lexical token. Pos and End are rune offsets into the
// formula text, End being exclusive.
type Token struct {
	Type  TokenType
	Value string
	Pos   int
	End   int

	// set for TokenCell and TokenRange: the unquoted worksheet qualifier, if
	// any, and the address part after it
	Sheet string
	Ref   string
}

// TokenState represents the lexer state for validation
type TokenState int

const (
	StateStart TokenState = iota
	StateAfterEquals
	StateAfterValue
	StateAfterOperator
	StateAfterLeftParen
	StateAfterRightParen
	StateAfterComma
	StateAfterFunction
)

// Lexer tokenizes spreadsheet formula expressions
type Lexer struct {
	input      string
	runes      []rune // UTF-8 aware representation
	pos        int
	state      TokenState
	parenDepth int
	tokens     []Token
}

// NewLexer creates a new lexer for the given formula input
func NewLexer(input string) *Lexer {
	return &Lexer{
		input: input,
		runes: []rune(input), // runes for UTF-8 support. could do without but a real pain
		state: StateStart,
	}
}

func (l *Lexer) fail(pos int, message string) *FormulaParseError {
	return &FormulaParseError{Formula: l.input, Position: pos, Message: message}
}

// Tokenize tokenizes the entire input. the returned slice always ends with
// a TokenEOF.
func (l *Lexer) Tokenize() ([]Token, error) {
	if len(l.runes) == 0 || l.runes[0] != charEqual {
		return nil, l.fail(0, "formula must start with '='")
	}

	for {
		l.skipWhitespace()
		if l.pos >= len(l.runes) {
			break
		}
		tok, err := l.nextToken()
		if err != nil {
			return nil, err
		}
		if !tokenTransitions[l.state][tok.Type] {
			return nil, l.fail(tok.Pos, "unexpected token: "+tok.Value)
		}
		l.tokens = append(l.tokens, tok)
		l.updateState(tok.Type)
	}

	if l.parenDepth > 0 {
		return nil, l.fail(l.pos, "unbalanced parentheses: missing closing parenthesis")
	}
	if !tokenTransitions[l.state][TokenEOF] {
		return nil, l.fail(l.pos, "unexpected end of formula")
	}

	l.tokens = append(l.tokens, Token{Type: TokenEOF, Pos: l.pos, End: l.pos})
	return l.tokens, nil
}

// updateState updates the lexer state based on the token type
func (l *Lexer) updateState(tokenType TokenType) {
	switch tokenType {
	case TokenEquals:
		l.state = StateAfterEquals
	case TokenNumber, TokenString, TokenBoolean, TokenErrorLiteral, TokenCell, TokenRange, TokenIdentifier:
		l.state = StateAfterValue
	case TokenUnaryPrefixOp, TokenBinaryOp:
		l.state = StateAfterOperator
	case TokenUnaryPostfixOp:
		// postfix operators don't change state
	case TokenLeftParen:
		l.state = StateAfterLeftParen
	case TokenRightParen:
		l.state = StateAfterRightParen
	case TokenComma:
		l.state = StateAfterComma
	case TokenFunction:
		l.state = StateAfterFunction
	}
}

// nextToken returns the next token from the input
func (l *Lexer) nextToken() (Token, error) {
	startPos := l.pos
	ch := l.current()

	switch {
	case ch == charQuote:
		return l.scanString()
	case ch == charApostrophe:
		return l.scanQuotedWorksheetRef()
	case ch == charHash:
		return l.scanErrorLiteral()
	case isDigit(ch) || (ch == charPeriod && isDigit(l.peek(1))):
		return l.scanNumber(), nil
	case ch == charDollar || isIdentStart(ch):
		return l.scanIdentifierOrCell()
	}

	switch ch {
	case charLParen:
		l.pos++
		l.parenDepth++
		return l.token(TokenLeftParen, "(", startPos), nil
	case charRParen:
		l.pos++
		l.parenDepth--
		if l.parenDepth < 0 {
			return Token{}, l.fail(startPos, "unbalanced parentheses: too many closing parentheses")
		}
		return l.token(TokenRightParen, ")", startPos), nil
	case charComma:
		if l.parenDepth == 0 {
			return Token{}, l.fail(startPos, "unexpected ',' outside of function arguments")
		}
		l.pos++
		return l.token(TokenComma, ",", startPos), nil
	case charPlus, charMinus:
		l.pos++
		if l.isUnaryContext() {
			return l.token(TokenUnaryPrefixOp, string(ch), startPos), nil
		}
		return l.token(TokenBinaryOp, string(ch), startPos), nil
	case charPercent:
		l.pos++
		return l.token(TokenUnaryPostfixOp, "%", startPos), nil
	case charEqual:
		l.pos++
		if startPos == 0 {
			return l.token(TokenEquals, "=", startPos), nil
		}
		return l.token(TokenBinaryOp, "=", startPos), nil
	case charAsterisk, charSlash, charCaret, charAmpersand, charLess, charGreater, charExclaim:
		return l.scanBinaryOp()
	case charColon:
		return Token{}, l.fail(startPos, "unexpected ':'")
	}

	return Token{}, l.fail(startPos, "unexpected character: "+string(ch))
}

func (l *Lexer) token(typ TokenType, value string, start int) Token {
	return Token{Type: typ, Value: value, Pos: start, End: l.pos}
}

// helper methods for character navigation and classification

// substring returns a substring of the input based on rune positions
func (l *Lexer) substring(start, end int) string {
	if start < 0 || end > len(l.runes) || start > end {
		return ""
	}
	return string(l.runes[start:end])
}

func (l *Lexer) current() rune {
	return l.at(l.pos)
}

func (l *Lexer) peek(offset int) rune {
	return l.at(l.pos + offset)
}

func (l *Lexer) at(pos int) rune {
	if pos >= len(l.runes) || pos < 0 {
		return charNull
	}
	return l.runes[pos]
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.runes) {
		switch l.current() {
		case charSpace, charTab, charNewline, charReturn:
			l.pos++
		default:
			return
		}
	}
}

func isDigit(ch rune) bool {
	return ch >= '0' && ch <= '9'
}

func isIdentStart(ch rune) bool {
	return ch == charUnderscore || unicode.IsLetter(ch)
}

func isIdentChar(ch rune) bool {
	return isIdentStart(ch) || isDigit(ch) || ch == charPeriod
}

func isASCIILetterRune(ch rune) bool {
	return ch < 0x80 && isASCIILetter(byte(ch))
}

// scanNumber scans a number token including decimals and scientific notation
func (l *Lexer) scanNumber() Token {
	startPos := l.pos

	for isDigit(l.current()) {
		l.pos++
	}

	if l.current() == charPeriod && isDigit(l.peek(1)) {
		l.pos++ // consume '.'
		for isDigit(l.current()) {
			l.pos++
		}
	}

	// scientific notation (e or E)
	if l.current() == 'e' || l.current() == 'E' {
		savedPos := l.pos
		l.pos++
		if l.current() == charPlus || l.current() == charMinus {
			l.pos++
		}
		if !isDigit(l.current()) {
			// not scientific notation, restore position
			l.pos = savedPos
		} else {
			for isDigit(l.current()) {
				l.pos++
			}
		}
	}

	return l.token(TokenNumber, l.substring(startPos, l.pos), startPos)
}

// scanString scans a string literal with support for double-quote escapes
func (l *Lexer) scanString() (Token, error) {
	startPos := l.pos
	l.pos++ // consume opening quote

	var sb strings.Builder
	for l.pos < len(l.runes) {
		ch := l.current()
		if ch != charQuote {
			sb.WriteRune(ch)
			l.pos++
			continue
		}
		if l.peek(1) == charQuote {
			sb.WriteRune(charQuote)
			l.pos += 2
			continue
		}
		l.pos++ // consume closing quote
		return l.token(TokenString, sb.String(), startPos), nil
	}

	return Token{}, l.fail(startPos, "unclosed string literal")
}

// scanErrorLiteral scans error values such as #REF! or #DIV/0!
func (l *Lexer) scanErrorLiteral() (Token, error) {
	startPos := l.pos
	best := ""
	for literal := range errorCodeByLiteral {
		n := len([]rune(literal))
		if len(literal) > len(best) && strings.EqualFold(l.substring(startPos, startPos+n), literal) {
			best = literal
		}
	}
	if best == "" {
		return Token{}, l.fail(startPos, "unknown error literal")
	}
	l.pos += len([]rune(best))
	return l.token(TokenErrorLiteral, best, startPos), nil
}

// matchCellRef matches [$]letters[$]digits at pos and returns the end
// position. a match followed by an identifier character or '(' is a name or
// a function call, not a reference.
func (l *Lexer) matchCellRef(pos int) (int, bool) {
	i := pos
	if l.at(i) == charDollar {
		i++
	}
	letterStart := i
	for isASCIILetterRune(l.at(i)) {
		i++
	}
	if i == letterStart || i-letterStart > maxColumnLetters {
		return 0, false
	}
	if l.at(i) == charDollar {
		i++
	}
	digitStart := i
	for isDigit(l.at(i)) {
		i++
	}
	if i == digitStart {
		return 0, false
	}
	if next := l.at(i); isIdentChar(next) || next == charLParen || next == charDollar {
		return 0, false
	}
	return i, true
}

// scanReference scans a cell or range reference starting at l.pos. the
// token spans from tokenStart, which is earlier than l.pos when a worksheet
// qualifier was consumed.
func (l *Lexer) scanReference(tokenStart int, sheet string) (Token, error) {
	refStart := l.pos
	end, ok := l.matchCellRef(refStart)
	if !ok {
		return Token{}, l.fail(refStart, "invalid cell reference")
	}
	typ := TokenCell
	if l.at(end) == charColon {
		second, ok := l.matchCellRef(end + 1)
		if !ok {
			return Token{}, l.fail(end, "invalid range reference")
		}
		typ = TokenRange
		end = second
	}
	l.pos = end
	return Token{
		Type:  typ,
		Value: l.substring(tokenStart, end),
		Pos:   tokenStart,
		End:   end,
		Sheet: sheet,
		Ref:   l.substring(refStart, end),
	}, nil
}

// scanIdentifierOrCell scans identifiers, functions, cells, ranges, and booleans
func (l *Lexer) scanIdentifierOrCell() (Token, error) {
	startPos := l.pos

	if _, ok := l.matchCellRef(startPos); ok {
		return l.scanReference(startPos, "")
	}
	if l.current() == charDollar {
		return Token{}, l.fail(startPos, "invalid cell reference")
	}

	for isIdentChar(l.current()) {
		l.pos++
	}
	value := l.substring(startPos, l.pos)

	// worksheet reference (identifier followed by !)
	if l.current() == charExclaim && l.peek(1) != charEqual {
		l.pos++
		return l.scanReference(startPos, value)
	}

	if l.current() == charLParen {
		// function names keep their case: custom functions are
		// registered case-sensitively
		return l.token(TokenFunction, value, startPos), nil
	}

	upperValue := strings.ToUpper(value)
	if upperValue == "TRUE" || upperValue == "FALSE" {
		return l.token(TokenBoolean, upperValue, startPos), nil
	}

	// it's an identifier (possibly a named range)
	return l.token(TokenIdentifier, value, startPos), nil
}

// scanQuotedWorksheetRef scans 'Sheet Name'!A1 style references. a doubled
// quote inside the name stands for one quote.
func (l *Lexer) scanQuotedWorksheetRef() (Token, error) {
	startPos := l.pos
	l.pos++ // consume opening single quote

	var name strings.Builder
	for {
		if l.pos >= len(l.runes) {
			return Token{}, l.fail(startPos, "unclosed worksheet name")
		}
		ch := l.current()
		if ch == charApostrophe {
			if l.peek(1) == charApostrophe {
				name.WriteRune(ch)
				l.pos += 2
				continue
			}
			l.pos++
			break
		}
		name.WriteRune(ch)
		l.pos++
	}

	if l.current() != charExclaim {
		return Token{}, l.fail(l.pos, "expected '!' after worksheet name")
	}
	l.pos++
	return l.scanReference(startPos, name.String())
}

// scanBinaryOp scans binary operators
func (l *Lexer) scanBinaryOp() (Token, error) {
	startPos := l.pos
	ch := l.current()
	l.pos++

	switch ch {
	case charLess:
		switch l.current() {
		case charEqual:
			l.pos++
			return l.token(TokenBinaryOp, "<=", startPos), nil
		case charGreater:
			l.pos++
			return l.token(TokenBinaryOp, "<>", startPos), nil
		}
		return l.token(TokenBinaryOp, "<", startPos), nil
	case charGreater:
		if l.current() == charEqual {
			l.pos++
			return l.token(TokenBinaryOp, ">=", startPos), nil
		}
		return l.token(TokenBinaryOp, ">", startPos), nil
	case charExclaim:
		// handle != as not equal
		if l.current() == charEqual {
			l.pos++
			return l.token(TokenBinaryOp, "!=", startPos), nil
		}
		return Token{}, l.fail(startPos, "unexpected '!'")
	}

	return l.token(TokenBinaryOp, string(ch), startPos), nil
}

// isUnaryContext checks if the current context allows for unary operators
func (l *Lexer) isUnaryContext() bool {
	switch l.state {
	case StateAfterEquals, StateAfterOperator, StateAfterLeftParen, StateAfterComma:
		return true
	default:
		return false
	}
}
