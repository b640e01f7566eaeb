// Package debug renders compiled chunks in human-readable form, one
// instruction per line with byte offsets and the source line table.
package debug

import (
	"fmt"
	"io"

	"ember/internal/bytecode"
	"ember/internal/object"
)

// DisassembleChunk prints every instruction of c under a header, then
// recurses into function constants so nested chunks appear after their
// container.
func DisassembleChunk(w io.Writer, c *bytecode.Chunk, name string) {
	fmt.Fprintf(w, "== %s ==\n", name)
	for offset := 0; offset < len(c.Code); {
		offset = DisassembleInstruction(w, c, offset)
	}
	for _, constant := range c.Constants {
		if constant.IsObj() {
			if fn, ok := constant.AsObj().(*object.Function); ok {
				fmt.Fprintln(w)
				DisassembleChunk(w, fn.Chunk, fn.String())
			}
		}
	}
}

// DisassembleInstruction prints the instruction at offset and returns the
// offset of the next one.
func DisassembleInstruction(w io.Writer, c *bytecode.Chunk, offset int) int {
	fmt.Fprintf(w, "%04d ", offset)
	if offset > 0 && c.Line(offset) == c.Line(offset-1) {
		fmt.Fprintf(w, "   | ")
	} else {
		fmt.Fprintf(w, "%4d ", c.Line(offset))
	}

	op := bytecode.OpCode(c.Code[offset])
	switch op {
	case bytecode.OpConstant, bytecode.OpGetGlobal, bytecode.OpDefineGlobal,
		bytecode.OpSetGlobal, bytecode.OpGetProperty, bytecode.OpSetProperty,
		bytecode.OpGetSuper, bytecode.OpClass, bytecode.OpMethod:
		return constantInstruction(w, op, c, offset)
	case bytecode.OpGetLocal, bytecode.OpSetLocal, bytecode.OpGetUpvalue,
		bytecode.OpSetUpvalue, bytecode.OpCall, bytecode.OpBuildList:
		return byteInstruction(w, op, c, offset)
	case bytecode.OpJump, bytecode.OpJumpIfFalse, bytecode.OpAsyncBegin:
		return jumpInstruction(w, op, 1, c, offset)
	case bytecode.OpLoop:
		return jumpInstruction(w, op, -1, c, offset)
	case bytecode.OpInvoke, bytecode.OpSuperInvoke:
		return invokeInstruction(w, op, c, offset)
	case bytecode.OpClosure:
		return closureInstruction(w, c, offset)
	default:
		fmt.Fprintf(w, "%s\n", op)
		return offset + 1
	}
}

func constantInstruction(w io.Writer, op bytecode.OpCode, c *bytecode.Chunk, offset int) int {
	idx := c.Code[offset+1]
	fmt.Fprintf(w, "%-16s %4d '%s'\n", op, idx, c.Constants[idx])
	return offset + 2
}

func byteInstruction(w io.Writer, op bytecode.OpCode, c *bytecode.Chunk, offset int) int {
	slot := c.Code[offset+1]
	fmt.Fprintf(w, "%-16s %4d\n", op, slot)
	return offset + 2
}

func jumpInstruction(w io.Writer, op bytecode.OpCode, sign int, c *bytecode.Chunk, offset int) int {
	jump := int(c.ReadU16(offset + 1))
	fmt.Fprintf(w, "%-16s %4d -> %d\n", op, offset, offset+3+sign*jump)
	return offset + 3
}

func invokeInstruction(w io.Writer, op bytecode.OpCode, c *bytecode.Chunk, offset int) int {
	idx := c.Code[offset+1]
	argc := c.Code[offset+2]
	fmt.Fprintf(w, "%-16s (%d args) %4d '%s'\n", op, argc, idx, c.Constants[idx])
	return offset + 3
}

func closureInstruction(w io.Writer, c *bytecode.Chunk, offset int) int {
	offset++
	idx := c.Code[offset]
	offset++
	fmt.Fprintf(w, "%-16s %4d %s\n", bytecode.OpClosure, idx, c.Constants[idx])
	fn := c.Constants[idx].AsObj().(*object.Function)
	for i := 0; i < fn.UpvalueCount; i++ {
		isLocal := c.Code[offset]
		index := c.Code[offset+1]
		kind := "upvalue"
		if isLocal == 1 {
			kind = "local"
		}
		fmt.Fprintf(w, "%04d      |                     %s %d\n", offset, kind, index)
		offset += 2
	}
	return offset
}
