package debug

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ember/internal/bytecode"
	"ember/internal/compiler"
	"ember/internal/memory"
	"ember/internal/value"
)

func TestDisassembleSimpleChunk(t *testing.T) {
	chunk := bytecode.NewChunk()
	idx := chunk.AddConstant(value.Number(1.2))
	chunk.WriteOp(bytecode.OpConstant, 123)
	chunk.Write(byte(idx), 123)
	chunk.WriteOp(bytecode.OpReturn, 123)

	var buf bytes.Buffer
	DisassembleChunk(&buf, chunk, "test chunk")

	want := "== test chunk ==\n" +
		"0000  123 OP_CONSTANT         0 '1.2'\n" +
		"0002    | OP_RETURN\n"
	assert.Equal(t, want, buf.String())
}

func TestDisassembleJumpTargets(t *testing.T) {
	heap := memory.NewHeap()
	fn, err := compiler.Compile("if (true) print 1;", heap, &bytes.Buffer{})
	require.NoError(t, err)

	var buf bytes.Buffer
	DisassembleChunk(&buf, fn.Chunk, "script")
	out := buf.String()

	assert.Contains(t, out, "OP_JUMP_IF_FALSE")
	assert.Contains(t, out, "->", "jump lines show their landing offset")
}

func TestDisassembleClosureListsUpvalues(t *testing.T) {
	heap := memory.NewHeap()
	source := "fun outer() { var x = 1; fun inner() { return x; } return inner; }"
	fn, err := compiler.Compile(source, heap, &bytes.Buffer{})
	require.NoError(t, err)

	var buf bytes.Buffer
	DisassembleChunk(&buf, fn.Chunk, "script")
	out := buf.String()

	assert.Contains(t, out, "OP_CLOSURE")
	assert.Contains(t, out, "local 1", "inner captures outer's first local")
	assert.Contains(t, out, "== <fn outer> ==", "nested chunks are printed")
	assert.Contains(t, out, "== <fn inner> ==")
}

func TestOffsetsAdvanceByOperandWidth(t *testing.T) {
	heap := memory.NewHeap()
	fn, err := compiler.Compile("var a = 1; print a;", heap, &bytes.Buffer{})
	require.NoError(t, err)

	var buf bytes.Buffer
	for offset := 0; offset < len(fn.Chunk.Code); {
		offset = DisassembleInstruction(&buf, fn.Chunk, offset)
	}
	// one rendered line per instruction, none skipped or repeated
	lineCount := strings.Count(buf.String(), "\n")
	assert.Equal(t, 6, lineCount, buf.String())
}
