package compiler

import (
	"strconv"

	"ember/internal/bytecode"
	"ember/internal/lexer"
	"ember/internal/value"
)

// Precedence levels, lowest binding first. parsePrecedence consumes one
// prefix expression then folds infix operators of at least this level.
type Precedence int

const (
	PrecNone Precedence = iota
	PrecAssignment
	PrecOr
	PrecAnd
	PrecEquality
	PrecComparison
	PrecTerm
	PrecFactor
	PrecUnary
	PrecCall
	PrecSubscript
	PrecPrimary
)

type parseFn func(c *Compiler, canAssign bool)

type parseRule struct {
	prefix     parseFn
	infix      parseFn
	precedence Precedence
}

var rules [lexer.TokenEOF + 1]parseRule

// The table is filled in init to avoid an initialization cycle between the
// rules and the parse functions they dispatch to.
func init() {
	rules[lexer.TokenLeftParen] = parseRule{(*Compiler).grouping, (*Compiler).call, PrecCall}
	rules[lexer.TokenLeftBracket] = parseRule{(*Compiler).listLiteral, (*Compiler).subscript, PrecSubscript}
	rules[lexer.TokenDot] = parseRule{nil, (*Compiler).dot, PrecCall}
	rules[lexer.TokenMinus] = parseRule{(*Compiler).unary, (*Compiler).binary, PrecTerm}
	rules[lexer.TokenPlus] = parseRule{nil, (*Compiler).binary, PrecTerm}
	rules[lexer.TokenSlash] = parseRule{nil, (*Compiler).binary, PrecFactor}
	rules[lexer.TokenStar] = parseRule{nil, (*Compiler).binary, PrecFactor}
	rules[lexer.TokenPercent] = parseRule{nil, (*Compiler).binary, PrecFactor}
	rules[lexer.TokenBang] = parseRule{(*Compiler).unary, nil, PrecNone}
	rules[lexer.TokenBangEqual] = parseRule{nil, (*Compiler).binary, PrecEquality}
	rules[lexer.TokenEqualEqual] = parseRule{nil, (*Compiler).binary, PrecEquality}
	rules[lexer.TokenGreater] = parseRule{nil, (*Compiler).binary, PrecComparison}
	rules[lexer.TokenGreaterEqual] = parseRule{nil, (*Compiler).binary, PrecComparison}
	rules[lexer.TokenLess] = parseRule{nil, (*Compiler).binary, PrecComparison}
	rules[lexer.TokenLessEqual] = parseRule{nil, (*Compiler).binary, PrecComparison}
	rules[lexer.TokenIdentifier] = parseRule{(*Compiler).variable, nil, PrecNone}
	rules[lexer.TokenString] = parseRule{(*Compiler).stringLiteral, nil, PrecNone}
	rules[lexer.TokenNumber] = parseRule{(*Compiler).number, nil, PrecNone}
	rules[lexer.TokenAnd] = parseRule{nil, (*Compiler).and, PrecAnd}
	rules[lexer.TokenOr] = parseRule{nil, (*Compiler).or, PrecOr}
	rules[lexer.TokenFalse] = parseRule{(*Compiler).literal, nil, PrecNone}
	rules[lexer.TokenTrue] = parseRule{(*Compiler).literal, nil, PrecNone}
	rules[lexer.TokenNil] = parseRule{(*Compiler).literal, nil, PrecNone}
	rules[lexer.TokenThis] = parseRule{(*Compiler).this, nil, PrecNone}
	rules[lexer.TokenSuper] = parseRule{(*Compiler).super, nil, PrecNone}
	rules[lexer.TokenFuture] = parseRule{(*Compiler).reserved, nil, PrecNone}
	rules[lexer.TokenAwait] = parseRule{(*Compiler).reserved, nil, PrecNone}
	rules[lexer.TokenLambda] = parseRule{(*Compiler).reserved, nil, PrecNone}
	rules[lexer.TokenReduce] = parseRule{(*Compiler).reserved, nil, PrecNone}
}

func getRule(t lexer.TokenType) *parseRule {
	return &rules[t]
}

func (c *Compiler) parsePrecedence(precedence Precedence) {
	c.advance()
	prefix := getRule(c.previous.Type).prefix
	if prefix == nil {
		c.errorAtPrevious("Expect expression.")
		return
	}
	canAssign := precedence <= PrecAssignment
	prefix(c, canAssign)

	for precedence <= getRule(c.current.Type).precedence {
		c.advance()
		infix := getRule(c.previous.Type).infix
		infix(c, canAssign)
	}

	if canAssign && c.match(lexer.TokenEqual) {
		c.errorAtPrevious("Invalid assignment target.")
	}
}

func (c *Compiler) expression() {
	c.parsePrecedence(PrecAssignment)
}

func (c *Compiler) grouping(bool) {
	c.expression()
	c.consume(lexer.TokenRightParen, "Expect ')' after expression.")
}

func (c *Compiler) number(bool) {
	n, _ := strconv.ParseFloat(c.previous.Lexeme, 64)
	c.emitConstant(value.Number(n))
}

func (c *Compiler) stringLiteral(bool) {
	lexeme := c.previous.Lexeme
	s := c.heap.Intern(lexeme[1 : len(lexeme)-1])
	c.emitConstant(value.Object(s))
}

func (c *Compiler) literal(bool) {
	switch c.previous.Type {
	case lexer.TokenFalse:
		c.emitOp(bytecode.OpFalse)
	case lexer.TokenTrue:
		c.emitOp(bytecode.OpTrue)
	case lexer.TokenNil:
		c.emitOp(bytecode.OpNil)
	}
}

func (c *Compiler) unary(bool) {
	operator := c.previous.Type
	c.parsePrecedence(PrecUnary)
	switch operator {
	case lexer.TokenMinus:
		c.emitOp(bytecode.OpNegate)
	case lexer.TokenBang:
		c.emitOp(bytecode.OpNot)
	}
}

func (c *Compiler) binary(bool) {
	operator := c.previous.Type
	rule := getRule(operator)
	c.parsePrecedence(rule.precedence + 1)

	switch operator {
	case lexer.TokenPlus:
		c.emitOp(bytecode.OpAdd)
	case lexer.TokenMinus:
		c.emitOp(bytecode.OpSubtract)
	case lexer.TokenStar:
		c.emitOp(bytecode.OpMultiply)
	case lexer.TokenSlash:
		c.emitOp(bytecode.OpDivide)
	case lexer.TokenPercent:
		c.emitOp(bytecode.OpModulo)
	case lexer.TokenBangEqual:
		c.emitOp(bytecode.OpEqual)
		c.emitOp(bytecode.OpNot)
	case lexer.TokenEqualEqual:
		c.emitOp(bytecode.OpEqual)
	case lexer.TokenGreater:
		c.emitOp(bytecode.OpGreater)
	case lexer.TokenGreaterEqual:
		c.emitOp(bytecode.OpLess)
		c.emitOp(bytecode.OpNot)
	case lexer.TokenLess:
		c.emitOp(bytecode.OpLess)
	case lexer.TokenLessEqual:
		c.emitOp(bytecode.OpGreater)
		c.emitOp(bytecode.OpNot)
	}
}

// and short-circuits: when the left side is falsey the jump skips the
// right side, leaving the left value as the result.
func (c *Compiler) and(bool) {
	endJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emitOp(bytecode.OpPop)
	c.parsePrecedence(PrecAnd)
	c.patchJump(endJump)
}

func (c *Compiler) or(bool) {
	elseJump := c.emitJump(bytecode.OpJumpIfFalse)
	endJump := c.emitJump(bytecode.OpJump)
	c.patchJump(elseJump)
	c.emitOp(bytecode.OpPop)
	c.parsePrecedence(PrecOr)
	c.patchJump(endJump)
}

func (c *Compiler) variable(canAssign bool) {
	c.namedVariable(c.previous, canAssign)
}

func (c *Compiler) namedVariable(name lexer.Token, canAssign bool) {
	var getOp, setOp bytecode.OpCode
	var arg byte

	if local := c.resolveLocal(c.fc, name); local != -1 {
		getOp = bytecode.OpGetLocal
		setOp = bytecode.OpSetLocal
		arg = byte(local)
	} else if upvalue := c.resolveUpvalue(c.fc, name); upvalue != -1 {
		getOp = bytecode.OpGetUpvalue
		setOp = bytecode.OpSetUpvalue
		arg = byte(upvalue)
	} else {
		getOp = bytecode.OpGetGlobal
		setOp = bytecode.OpSetGlobal
		arg = c.identifierConstant(name)
	}

	if canAssign && c.match(lexer.TokenEqual) {
		c.expression()
		c.emitOps(setOp, arg)
	} else {
		c.emitOps(getOp, arg)
	}
}

func (c *Compiler) call(bool) {
	argc := c.argumentList()
	c.emitOps(bytecode.OpCall, argc)
}

func (c *Compiler) argumentList() byte {
	argc := 0
	if !c.check(lexer.TokenRightParen) {
		for {
			c.expression()
			if argc == 255 {
				c.errorAtPrevious("Can't have more than 255 arguments.")
			}
			argc++
			if !c.match(lexer.TokenComma) {
				break
			}
		}
	}
	c.consume(lexer.TokenRightParen, "Expect ')' after arguments.")
	return byte(argc)
}

func (c *Compiler) dot(canAssign bool) {
	c.consume(lexer.TokenIdentifier, "Expect property name after '.'.")
	name := c.identifierConstant(c.previous)

	if canAssign && c.match(lexer.TokenEqual) {
		c.expression()
		c.emitOps(bytecode.OpSetProperty, name)
	} else if c.match(lexer.TokenLeftParen) {
		argc := c.argumentList()
		c.emitOps(bytecode.OpInvoke, name)
		c.emitByte(argc)
	} else {
		c.emitOps(bytecode.OpGetProperty, name)
	}
}

func (c *Compiler) listLiteral(bool) {
	count := 0
	if !c.check(lexer.TokenRightBracket) {
		for {
			c.expression()
			if count == 255 {
				c.errorAtPrevious("Can't have more than 255 elements in a list literal.")
			}
			count++
			if !c.match(lexer.TokenComma) {
				break
			}
		}
	}
	c.consume(lexer.TokenRightBracket, "Expect ']' after list elements.")
	c.emitOps(bytecode.OpBuildList, byte(count))
}

func (c *Compiler) subscript(canAssign bool) {
	c.expression()
	c.consume(lexer.TokenRightBracket, "Expect ']' after index.")
	if canAssign && c.match(lexer.TokenEqual) {
		c.expression()
		c.emitOp(bytecode.OpIndexSet)
	} else {
		c.emitOp(bytecode.OpIndexGet)
	}
}

func (c *Compiler) this(bool) {
	if c.currentClass == nil {
		c.errorAtPrevious("Can't use 'this' outside of a class.")
		return
	}
	c.variable(false)
}

func (c *Compiler) super(bool) {
	if c.currentClass == nil {
		c.errorAtPrevious("Can't use 'super' outside of a class.")
	} else if !c.currentClass.hasSuperclass {
		c.errorAtPrevious("Can't use 'super' in a class with no superclass.")
	}

	c.consume(lexer.TokenDot, "Expect '.' after 'super'.")
	c.consume(lexer.TokenIdentifier, "Expect superclass method name.")
	name := c.identifierConstant(c.previous)

	c.namedVariable(lexer.Token{Type: lexer.TokenThis, Lexeme: "this"}, false)
	if c.match(lexer.TokenLeftParen) {
		argc := c.argumentList()
		c.namedVariable(lexer.Token{Type: lexer.TokenSuper, Lexeme: "super"}, false)
		c.emitOps(bytecode.OpSuperInvoke, name)
		c.emitByte(argc)
	} else {
		c.namedVariable(lexer.Token{Type: lexer.TokenSuper, Lexeme: "super"}, false)
		c.emitOps(bytecode.OpGetSuper, name)
	}
}

func (c *Compiler) reserved(bool) {
	c.errorAtPrevious("'" + c.previous.Lexeme + "' is reserved.")
}
