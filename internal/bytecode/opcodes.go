package bytecode

// OpCode is a single byte of instruction stream. Operand widths are listed
// next to each opcode; jump operands are big-endian u16 distances measured
// from the byte after the operand.
type OpCode byte

const (
	OpConstant OpCode = iota // u8 constant index
	OpNil
	OpTrue
	OpFalse
	OpPop
	OpGetLocal     // u8 slot
	OpSetLocal     // u8 slot
	OpGetGlobal    // u8 name constant
	OpDefineGlobal // u8 name constant
	OpSetGlobal    // u8 name constant
	OpGetUpvalue   // u8 upvalue index
	OpSetUpvalue   // u8 upvalue index
	OpGetProperty  // u8 name constant
	OpSetProperty  // u8 name constant
	OpGetSuper     // u8 name constant
	OpEqual
	OpGreater
	OpLess
	OpAdd
	OpSubtract
	OpMultiply
	OpDivide
	OpModulo
	OpNot
	OpNegate
	OpPrint
	OpJump        // u16 forward offset
	OpJumpIfFalse // u16 forward offset
	OpLoop        // u16 backward offset
	OpCall        // u8 argc
	OpInvoke      // u8 name constant, u8 argc
	OpSuperInvoke // u8 name constant, u8 argc
	OpClosure     // u8 function constant, then pairs (isLocal u8, index u8)
	OpCloseUpvalue
	OpReturn
	OpClass  // u8 name constant
	OpInherit
	OpMethod    // u8 name constant
	OpBuildList // u8 element count
	OpIndexGet
	OpIndexSet
	OpFinishBegin
	OpFinishEnd
	OpAsyncBegin // u16 forward offset; the child enters after the operand
	OpAsyncEnd
	OpFuture // reserved, never emitted
)

var opNames = [...]string{
	OpConstant:     "OP_CONSTANT",
	OpNil:          "OP_NIL",
	OpTrue:         "OP_TRUE",
	OpFalse:        "OP_FALSE",
	OpPop:          "OP_POP",
	OpGetLocal:     "OP_GET_LOCAL",
	OpSetLocal:     "OP_SET_LOCAL",
	OpGetGlobal:    "OP_GET_GLOBAL",
	OpDefineGlobal: "OP_DEFINE_GLOBAL",
	OpSetGlobal:    "OP_SET_GLOBAL",
	OpGetUpvalue:   "OP_GET_UPVALUE",
	OpSetUpvalue:   "OP_SET_UPVALUE",
	OpGetProperty:  "OP_GET_PROPERTY",
	OpSetProperty:  "OP_SET_PROPERTY",
	OpGetSuper:     "OP_GET_SUPER",
	OpEqual:        "OP_EQUAL",
	OpGreater:      "OP_GREATER",
	OpLess:         "OP_LESS",
	OpAdd:          "OP_ADD",
	OpSubtract:     "OP_SUBTRACT",
	OpMultiply:     "OP_MULTIPLY",
	OpDivide:       "OP_DIVIDE",
	OpModulo:       "OP_MODULO",
	OpNot:          "OP_NOT",
	OpNegate:       "OP_NEGATE",
	OpPrint:        "OP_PRINT",
	OpJump:         "OP_JUMP",
	OpJumpIfFalse:  "OP_JUMP_IF_FALSE",
	OpLoop:         "OP_LOOP",
	OpCall:         "OP_CALL",
	OpInvoke:       "OP_INVOKE",
	OpSuperInvoke:  "OP_SUPER_INVOKE",
	OpClosure:      "OP_CLOSURE",
	OpCloseUpvalue: "OP_CLOSE_UPVALUE",
	OpReturn:       "OP_RETURN",
	OpClass:        "OP_CLASS",
	OpInherit:      "OP_INHERIT",
	OpMethod:       "OP_METHOD",
	OpBuildList:    "OP_BUILD_LIST",
	OpIndexGet:     "OP_INDEX_GET",
	OpIndexSet:     "OP_INDEX_SET",
	OpFinishBegin:  "OP_FINISH_BEGIN",
	OpFinishEnd:    "OP_FINISH_END",
	OpAsyncBegin:   "OP_ASYNC_BEGIN",
	OpAsyncEnd:     "OP_ASYNC_END",
	OpFuture:       "OP_FUTURE",
}

func (op OpCode) String() string {
	if int(op) < len(opNames) && opNames[op] != "" {
		return opNames[op]
	}
	return "OP_UNKNOWN"
}
