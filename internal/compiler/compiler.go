// Package compiler turns source text into bytecode in a single pass: a
// Pratt parser drives emission directly, with no intermediate tree.
package compiler

import (
	"fmt"
	"io"
	"math"
	"os"

	"fortio.org/safecast"

	"ember/internal/bytecode"
	"ember/internal/lexer"
	"ember/internal/memory"
	"ember/internal/object"
	"ember/internal/value"
)

// FunctionType distinguishes the compilation contexts that change what
// slot 0 holds and what return is allowed to do.
type FunctionType int

const (
	TypeFunction FunctionType = iota
	TypeInitializer
	TypeMethod
	TypeScript
)

const (
	maxLocals   = 256
	maxUpvalues = 256
)

// Local is a declared variable in the current function. depth -1 marks the
// window between declaration and initializer completion.
type Local struct {
	name       lexer.Token
	depth      int
	isCaptured bool
}

type upvalueRef struct {
	index   uint8
	isLocal bool
}

// funcCompiler is one frame of the compiler stack; nested function
// declarations push a new one.
type funcCompiler struct {
	enclosing    *funcCompiler
	function     *object.Function
	fnType       FunctionType
	locals       [maxLocals]Local
	localCount   int
	upvalues     [maxUpvalues]upvalueRef
	scopeDepth   int
}

type classCompiler struct {
	enclosing     *classCompiler
	hasSuperclass bool
}

// Compiler holds the parser state shared by every funcCompiler on the
// stack. It owns its scanner; nothing else reads tokens from it.
type Compiler struct {
	scanner      *lexer.Scanner
	heap         *memory.Heap
	current      lexer.Token
	previous     lexer.Token
	hadError     bool
	panicMode    bool
	fc           *funcCompiler
	currentClass *classCompiler
	errOut       io.Writer
}

// ErrCompile is returned when parsing recorded at least one error; the
// diagnostics themselves have already been written to the error stream.
type ErrCompile struct{}

func (ErrCompile) Error() string { return "compile error" }

// Compile parses source into a script function on the given heap. The
// compiler registers itself as a GC root for the duration so in-flight
// functions and constants survive allocation-point collections.
func Compile(source string, heap *memory.Heap, errOut io.Writer) (*object.Function, error) {
	if errOut == nil {
		errOut = os.Stderr
	}
	c := &Compiler{
		scanner: lexer.NewScanner(source),
		heap:    heap,
		errOut:  errOut,
	}
	heap.AddRoot(c)
	defer heap.RemoveRoot(c)

	c.pushFuncCompiler(TypeScript)
	c.advance()
	for !c.match(lexer.TokenEOF) {
		c.declaration()
	}
	fn := c.endCompiler()
	if c.hadError {
		return nil, ErrCompile{}
	}
	return fn, nil
}

// MarkRoots keeps the compiler stack's functions alive during collection.
func (c *Compiler) MarkRoots(h *memory.Heap) {
	for fc := c.fc; fc != nil; fc = fc.enclosing {
		h.MarkObject(fc.function)
	}
}

func (c *Compiler) pushFuncCompiler(fnType FunctionType) {
	fc := &funcCompiler{
		enclosing: c.fc,
		function:  c.heap.NewFunction(),
		fnType:    fnType,
	}
	c.fc = fc
	if fnType != TypeScript {
		fc.function.Name = c.heap.Intern(c.previous.Lexeme)
	}

	// Slot 0 belongs to the receiver in methods, and to an anonymous
	// sentinel everywhere else.
	local := &fc.locals[fc.localCount]
	fc.localCount++
	local.depth = 0
	if fnType != TypeFunction && fnType != TypeScript {
		local.name = lexer.Token{Type: lexer.TokenThis, Lexeme: "this"}
	}
}

func (c *Compiler) endCompiler() *object.Function {
	c.emitReturn()
	fn := c.fc.function
	c.fc = c.fc.enclosing
	return fn
}

func (c *Compiler) currentChunk() *bytecode.Chunk {
	return c.fc.function.Chunk
}

// --- token plumbing ---

func (c *Compiler) advance() {
	c.previous = c.current
	for {
		c.current = c.scanner.ScanToken()
		if c.current.Type != lexer.TokenError {
			break
		}
		c.errorAtCurrent(c.current.Lexeme)
	}
}

func (c *Compiler) consume(t lexer.TokenType, message string) {
	if c.current.Type == t {
		c.advance()
		return
	}
	c.errorAtCurrent(message)
}

func (c *Compiler) check(t lexer.TokenType) bool {
	return c.current.Type == t
}

func (c *Compiler) match(t lexer.TokenType) bool {
	if !c.check(t) {
		return false
	}
	c.advance()
	return true
}

// --- error reporting ---

func (c *Compiler) errorAtCurrent(message string) {
	c.errorAt(c.current, message)
}

func (c *Compiler) errorAtPrevious(message string) {
	c.errorAt(c.previous, message)
}

func (c *Compiler) errorAt(token lexer.Token, message string) {
	if c.panicMode {
		return
	}
	c.panicMode = true
	fmt.Fprintf(c.errOut, "[line %d] Error", token.Line)
	switch token.Type {
	case lexer.TokenEOF:
		fmt.Fprintf(c.errOut, " at end")
	case lexer.TokenError:
		// the message already names the problem
	default:
		fmt.Fprintf(c.errOut, " at '%s'", token.Lexeme)
	}
	fmt.Fprintf(c.errOut, ": %s\n", message)
	c.hadError = true
}

// synchronize skips tokens until a statement boundary so one parse error
// does not cascade.
func (c *Compiler) synchronize() {
	c.panicMode = false
	for c.current.Type != lexer.TokenEOF {
		if c.previous.Type == lexer.TokenSemicolon {
			return
		}
		switch c.current.Type {
		case lexer.TokenClass, lexer.TokenFun, lexer.TokenVar,
			lexer.TokenFor, lexer.TokenIf, lexer.TokenWhile,
			lexer.TokenPrint, lexer.TokenReturn:
			return
		}
		c.advance()
	}
}

// --- emission ---

func (c *Compiler) emitByte(b byte) {
	c.currentChunk().Write(b, c.previous.Line)
}

func (c *Compiler) emitOp(op bytecode.OpCode) {
	c.emitByte(byte(op))
}

func (c *Compiler) emitOps(op bytecode.OpCode, operand byte) {
	c.emitOp(op)
	c.emitByte(operand)
}

func (c *Compiler) emitLoop(loopStart int) {
	c.emitOp(bytecode.OpLoop)
	offset := len(c.currentChunk().Code) - loopStart + 2
	if offset > math.MaxUint16 {
		c.errorAtPrevious("Loop body too large.")
	}
	c.emitByte(byte(offset >> 8))
	c.emitByte(byte(offset))
}

// emitJump writes op with a placeholder offset and returns the operand
// position for patchJump.
func (c *Compiler) emitJump(op bytecode.OpCode) int {
	c.emitOp(op)
	c.emitByte(0xff)
	c.emitByte(0xff)
	return len(c.currentChunk().Code) - 2
}

func (c *Compiler) patchJump(offset int) {
	// -2 adjusts for the operand itself: distances are measured from the
	// byte after it.
	jump := len(c.currentChunk().Code) - offset - 2
	if jump > math.MaxUint16 {
		c.errorAtPrevious("Too much code to jump over.")
	}
	c.currentChunk().Code[offset] = byte(jump >> 8)
	c.currentChunk().Code[offset+1] = byte(jump)
}

func (c *Compiler) emitReturn() {
	if c.fc.fnType == TypeInitializer {
		c.emitOps(bytecode.OpGetLocal, 0)
	} else {
		c.emitOp(bytecode.OpNil)
	}
	c.emitOp(bytecode.OpReturn)
}

func (c *Compiler) makeConstant(v value.Value) byte {
	idx := c.currentChunk().AddConstant(v)
	operand, err := safecast.Conv[uint8](idx)
	if err != nil || idx == math.MaxUint8 {
		c.errorAtPrevious("Too many constants in one chunk.")
		return 0
	}
	return operand
}

func (c *Compiler) emitConstant(v value.Value) {
	c.emitOps(bytecode.OpConstant, c.makeConstant(v))
}

func (c *Compiler) identifierConstant(name lexer.Token) byte {
	return c.makeConstant(value.Object(c.heap.Intern(name.Lexeme)))
}

// --- scopes, locals, upvalues ---

func (c *Compiler) beginScope() {
	c.fc.scopeDepth++
}

func (c *Compiler) endScope() {
	fc := c.fc
	fc.scopeDepth--
	for fc.localCount > 0 && fc.locals[fc.localCount-1].depth > fc.scopeDepth {
		if fc.locals[fc.localCount-1].isCaptured {
			c.emitOp(bytecode.OpCloseUpvalue)
		} else {
			c.emitOp(bytecode.OpPop)
		}
		fc.localCount--
	}
}

func (c *Compiler) addLocal(name lexer.Token) {
	if c.fc.localCount == maxLocals {
		c.errorAtPrevious("Too many local variables in function.")
		return
	}
	local := &c.fc.locals[c.fc.localCount]
	c.fc.localCount++
	local.name = name
	local.depth = -1
	local.isCaptured = false
}

func (c *Compiler) declareVariable() {
	if c.fc.scopeDepth == 0 {
		return
	}
	name := c.previous
	for i := c.fc.localCount - 1; i >= 0; i-- {
		local := &c.fc.locals[i]
		if local.depth != -1 && local.depth < c.fc.scopeDepth {
			break
		}
		if local.name.Lexeme == name.Lexeme {
			c.errorAtPrevious("Already a variable with this name in this scope.")
		}
	}
	c.addLocal(name)
}

func (c *Compiler) markInitialized() {
	if c.fc.scopeDepth == 0 {
		return
	}
	c.fc.locals[c.fc.localCount-1].depth = c.fc.scopeDepth
}

func (c *Compiler) defineVariable(global byte) {
	if c.fc.scopeDepth > 0 {
		c.markInitialized()
		return
	}
	c.emitOps(bytecode.OpDefineGlobal, global)
}

func (c *Compiler) parseVariable(errorMessage string) byte {
	c.consume(lexer.TokenIdentifier, errorMessage)
	c.declareVariable()
	if c.fc.scopeDepth > 0 {
		return 0
	}
	return c.identifierConstant(c.previous)
}

func (c *Compiler) resolveLocal(fc *funcCompiler, name lexer.Token) int {
	for i := fc.localCount - 1; i >= 0; i-- {
		local := &fc.locals[i]
		if local.name.Lexeme == name.Lexeme {
			if local.depth == -1 {
				c.errorAtPrevious("Can't read local variable in its own initializer.")
			}
			return i
		}
	}
	return -1
}

func (c *Compiler) addUpvalue(fc *funcCompiler, index uint8, isLocal bool) int {
	count := fc.function.UpvalueCount
	for i := 0; i < count; i++ {
		uv := &fc.upvalues[i]
		if uv.index == index && uv.isLocal == isLocal {
			return i
		}
	}
	if count == maxUpvalues {
		c.errorAtPrevious("Too many closure variables in function.")
		return 0
	}
	fc.upvalues[count] = upvalueRef{index: index, isLocal: isLocal}
	fc.function.UpvalueCount++
	return count
}

// resolveUpvalue walks enclosing compilers: a matching local becomes a
// direct capture, a matching upvalue is chained through.
func (c *Compiler) resolveUpvalue(fc *funcCompiler, name lexer.Token) int {
	if fc.enclosing == nil {
		return -1
	}
	if local := c.resolveLocal(fc.enclosing, name); local != -1 {
		fc.enclosing.locals[local].isCaptured = true
		return c.addUpvalue(fc, uint8(local), true)
	}
	if upvalue := c.resolveUpvalue(fc.enclosing, name); upvalue != -1 {
		return c.addUpvalue(fc, uint8(upvalue), false)
	}
	return -1
}
