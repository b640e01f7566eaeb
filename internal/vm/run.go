package vm

import (
	"math"
	"os"

	"ember/internal/bytecode"
	"ember/internal/debug"
	"ember/internal/object"
	"ember/internal/value"
)

// run is the fetch-decode-execute loop. It operates on the top call frame
// and checks the cancellation flag once per dispatch step, which bounds
// how long a failed sibling task can go unnoticed.
func (vm *VM) run() InterpretResult {
	frame := &vm.frames[vm.frameCount-1]
	code := frame.closure.Function.Chunk.Code

	readByte := func() byte {
		b := code[frame.ip]
		frame.ip++
		return b
	}
	readU16 := func() uint16 {
		hi := code[frame.ip]
		lo := code[frame.ip+1]
		frame.ip += 2
		return uint16(hi)<<8 | uint16(lo)
	}
	readConstant := func() value.Value {
		return frame.closure.Function.Chunk.Constants[readByte()]
	}
	readString := func() *object.String {
		return readConstant().AsObj().(*object.String)
	}
	// reload must run after every frame push or pop.
	reload := func() {
		frame = &vm.frames[vm.frameCount-1]
		code = frame.closure.Function.Chunk.Code
	}

	for {
		if vm.threadFailure.Load() {
			vm.resetStack()
			return InterpretRuntimeError
		}
		if vm.trace {
			vm.traceInstruction(frame)
		}

		switch op := bytecode.OpCode(readByte()); op {
		case bytecode.OpConstant:
			vm.push(readConstant())

		case bytecode.OpNil:
			vm.push(value.Nil())
		case bytecode.OpTrue:
			vm.push(value.Bool(true))
		case bytecode.OpFalse:
			vm.push(value.Bool(false))
		case bytecode.OpPop:
			vm.pop()

		case bytecode.OpGetLocal:
			slot := int(readByte())
			vm.push(vm.stack[frame.slots+slot])
		case bytecode.OpSetLocal:
			slot := int(readByte())
			vm.stack[frame.slots+slot] = vm.peek(0)

		case bytecode.OpGetGlobal:
			name := readString()
			val, ok := vm.globals.Get(name)
			if !ok {
				vm.runtimeError("Undefined variable '%s'.", name.Str)
				return InterpretRuntimeError
			}
			vm.push(val)
		case bytecode.OpDefineGlobal:
			name := readString()
			vm.globals.Set(name, vm.peek(0))
			vm.pop()
		case bytecode.OpSetGlobal:
			name := readString()
			if vm.globals.Set(name, vm.peek(0)) {
				vm.globals.Delete(name)
				vm.runtimeError("Undefined variable '%s'.", name.Str)
				return InterpretRuntimeError
			}

		case bytecode.OpGetUpvalue:
			slot := int(readByte())
			vm.push(frame.closure.Upvalues[slot].Get())
		case bytecode.OpSetUpvalue:
			slot := int(readByte())
			frame.closure.Upvalues[slot].Set(vm.peek(0))

		case bytecode.OpGetProperty:
			instance, ok := vm.peek(0).AsObj().(*object.Instance)
			if !vm.peek(0).IsObj() || !ok {
				vm.runtimeError("Only instances have properties.")
				return InterpretRuntimeError
			}
			name := readString()
			if val, ok := instance.Fields.Get(name); ok {
				vm.pop()
				vm.push(val)
				break
			}
			if !vm.bindMethod(instance.Class, name) {
				return InterpretRuntimeError
			}
		case bytecode.OpSetProperty:
			instance, ok := vm.peek(1).AsObj().(*object.Instance)
			if !vm.peek(1).IsObj() || !ok {
				vm.runtimeError("Only instances have fields.")
				return InterpretRuntimeError
			}
			name := readString()
			instance.Fields.Set(name, vm.peek(0))
			val := vm.pop()
			vm.pop()
			vm.push(val)
		case bytecode.OpGetSuper:
			name := readString()
			superclass := vm.pop().AsObj().(*object.Class)
			if !vm.bindMethod(superclass, name) {
				return InterpretRuntimeError
			}

		case bytecode.OpEqual:
			b := vm.pop()
			a := vm.pop()
			vm.push(value.Bool(value.Equal(a, b)))
		case bytecode.OpGreater:
			if !vm.binaryCompare(func(a, b float64) bool { return a > b }) {
				return InterpretRuntimeError
			}
		case bytecode.OpLess:
			if !vm.binaryCompare(func(a, b float64) bool { return a < b }) {
				return InterpretRuntimeError
			}

		case bytecode.OpAdd:
			if !vm.add() {
				return InterpretRuntimeError
			}
		case bytecode.OpSubtract:
			if !vm.subtract() {
				return InterpretRuntimeError
			}
		case bytecode.OpMultiply:
			if !vm.binaryNumber(func(a, b float64) float64 { return a * b }) {
				return InterpretRuntimeError
			}
		case bytecode.OpDivide:
			if !vm.binaryNumber(func(a, b float64) float64 { return a / b }) {
				return InterpretRuntimeError
			}
		case bytecode.OpModulo:
			// remainder of the integer truncations, per the language's
			// original modulus
			if !vm.binaryNumber(func(a, b float64) float64 {
				return math.Mod(math.Trunc(a), math.Trunc(b))
			}) {
				return InterpretRuntimeError
			}

		case bytecode.OpNot:
			vm.push(value.Bool(vm.pop().Falsey()))
		case bytecode.OpNegate:
			if !vm.peek(0).IsNumber() {
				vm.runtimeError("Operand must be a number.")
				return InterpretRuntimeError
			}
			vm.push(value.Number(-vm.pop().AsNumber()))

		case bytecode.OpPrint:
			writeLine(vm, vm.pop().String())

		case bytecode.OpJump:
			offset := readU16()
			frame.ip += int(offset)
		case bytecode.OpJumpIfFalse:
			offset := readU16()
			if vm.peek(0).Falsey() {
				frame.ip += int(offset)
			}
		case bytecode.OpLoop:
			offset := readU16()
			frame.ip -= int(offset)

		case bytecode.OpCall:
			argc := int(readByte())
			if !vm.callValue(vm.peek(argc), argc) {
				return InterpretRuntimeError
			}
			reload()
		case bytecode.OpInvoke:
			name := readString()
			argc := int(readByte())
			if !vm.invoke(name, argc) {
				return InterpretRuntimeError
			}
			reload()
		case bytecode.OpSuperInvoke:
			name := readString()
			argc := int(readByte())
			superclass := vm.pop().AsObj().(*object.Class)
			if !vm.invokeFromClass(superclass, name, argc) {
				return InterpretRuntimeError
			}
			reload()

		case bytecode.OpClosure:
			fn := readConstant().AsObj().(*object.Function)
			closure := vm.heap.NewClosure(fn)
			vm.push(value.Object(closure))
			for i := 0; i < fn.UpvalueCount; i++ {
				isLocal := readByte()
				index := int(readByte())
				if isLocal == 1 {
					closure.Upvalues[i] = vm.captureUpvalue(frame.slots + index)
				} else {
					closure.Upvalues[i] = frame.closure.Upvalues[index]
				}
			}
		case bytecode.OpCloseUpvalue:
			vm.closeUpvalues(vm.stackTop - 1)
			vm.pop()

		case bytecode.OpReturn:
			result := vm.pop()
			vm.closeUpvalues(frame.slots)
			vm.frameCount--
			if vm.frameCount == 0 {
				vm.pop()
				return InterpretOK
			}
			vm.stackTop = frame.slots
			vm.push(result)
			reload()

		case bytecode.OpClass:
			vm.push(value.Object(vm.heap.NewClass(readString())))
		case bytecode.OpInherit:
			superclass, ok := vm.peek(1).AsObj().(*object.Class)
			if !vm.peek(1).IsObj() || !ok {
				vm.runtimeError("Superclass must be a class.")
				return InterpretRuntimeError
			}
			subclass := vm.peek(0).AsObj().(*object.Class)
			subclass.Methods.AddAll(superclass.Methods)
			vm.pop()
		case bytecode.OpMethod:
			name := readString()
			method := vm.peek(0)
			class := vm.peek(1).AsObj().(*object.Class)
			class.Methods.Set(name, method)
			vm.pop()

		case bytecode.OpBuildList:
			count := int(readByte())
			items := make([]value.Value, count)
			copy(items, vm.stack[vm.stackTop-count:vm.stackTop])
			list := vm.heap.NewList(items)
			vm.stackTop -= count
			vm.push(value.Object(list))
		case bytecode.OpIndexGet:
			if !vm.indexGet() {
				return InterpretRuntimeError
			}
		case bytecode.OpIndexSet:
			if !vm.indexSet() {
				return InterpretRuntimeError
			}

		case bytecode.OpFinishBegin:
			vm.finish = append(vm.finish, &finishGroup{})
		case bytecode.OpFinishEnd:
			group := vm.finish[len(vm.finish)-1]
			vm.finish = vm.finish[:len(vm.finish)-1]
			if err := group.g.Wait(); err != nil {
				vm.resetStack()
				return InterpretRuntimeError
			}
		case bytecode.OpAsyncBegin:
			child, err := vm.dispatcher.spawnChild(vm)
			if err != nil {
				vm.runtimeError("%s", err)
				return InterpretRuntimeError
			}
			group := vm.finish[len(vm.finish)-1]
			vm.dispatcher.launch(group, child)
			offset := readU16()
			frame.ip += int(offset)
		case bytecode.OpAsyncEnd:
			// only a child VM reaches this; its task is complete
			return InterpretOK

		default:
			vm.runtimeError("Unknown opcode %d.", op)
			return InterpretRuntimeError
		}
	}
}

// writeLine emits the value and newline in one write so lines printed by
// concurrent tasks never interleave mid-line.
func writeLine(vm *VM, s string) {
	if vm.out == nil {
		vm.out = os.Stdout
	}
	vm.out.Write(append([]byte(s), '\n'))
}

func (vm *VM) traceInstruction(frame *CallFrame) {
	var sb []byte
	sb = append(sb, "          "...)
	for i := 0; i < vm.stackTop; i++ {
		sb = append(sb, "[ "...)
		sb = append(sb, vm.stack[i].String()...)
		sb = append(sb, " ]"...)
	}
	log.Debugf("%s", string(sb))
	debug.DisassembleInstruction(vm.errOut, frame.closure.Function.Chunk, frame.ip)
}

// --- operator helpers ---

func (vm *VM) binaryNumber(op func(a, b float64) float64) bool {
	if !vm.peek(0).IsNumber() || !vm.peek(1).IsNumber() {
		vm.runtimeError("Operands must be numbers.")
		return false
	}
	b := vm.pop().AsNumber()
	a := vm.pop().AsNumber()
	vm.push(value.Number(op(a, b)))
	return true
}

func (vm *VM) binaryCompare(op func(a, b float64) bool) bool {
	if !vm.peek(0).IsNumber() || !vm.peek(1).IsNumber() {
		vm.runtimeError("Operands must be numbers.")
		return false
	}
	b := vm.pop().AsNumber()
	a := vm.pop().AsNumber()
	vm.push(value.Bool(op(a, b)))
	return true
}

// add handles numbers and string concatenation.
func (vm *VM) add() bool {
	a := vm.peek(1)
	b := vm.peek(0)
	switch {
	case a.IsNumber() && b.IsNumber():
		vm.pop()
		vm.pop()
		vm.push(value.Number(a.AsNumber() + b.AsNumber()))
		return true
	case a.IsKind(value.KindString) && b.IsKind(value.KindString):
		result := vm.heap.Intern(a.AsObj().(*object.String).Str + b.AsObj().(*object.String).Str)
		vm.pop()
		vm.pop()
		vm.push(value.Object(result))
		return true
	default:
		vm.runtimeError("Operands must be two numbers or two strings.")
		return false
	}
}

// subtract handles numbers, plus the historical character arithmetic:
// two one-character strings subtract to their byte difference.
func (vm *VM) subtract() bool {
	a := vm.peek(1)
	b := vm.peek(0)
	if vm.cfg.VM.CharSubtraction &&
		a.IsKind(value.KindString) && b.IsKind(value.KindString) {
		as := a.AsObj().(*object.String).Str
		bs := b.AsObj().(*object.String).Str
		if len(as) == 1 && len(bs) == 1 {
			vm.pop()
			vm.pop()
			vm.push(value.Number(float64(int(as[0]) - int(bs[0]))))
			return true
		}
	}
	return vm.binaryNumber(func(a, b float64) float64 { return a - b })
}

// --- indexing ---

func (vm *VM) indexGet() bool {
	index := vm.peek(0)
	target := vm.peek(1)
	if !target.IsObj() {
		vm.runtimeError("Only lists and strings can be indexed.")
		return false
	}
	switch obj := target.AsObj().(type) {
	case *object.List:
		i, ok := integralIndex(index, len(obj.Items))
		if !ok {
			vm.runtimeError("List index out of range.")
			return false
		}
		vm.pop()
		vm.pop()
		vm.push(obj.Items[i])
		return true
	case *object.String:
		i, ok := integralIndex(index, len(obj.Str))
		if !ok {
			vm.runtimeError("String index out of range.")
			return false
		}
		ch := vm.heap.Intern(obj.Str[i : i+1])
		vm.pop()
		vm.pop()
		vm.push(value.Object(ch))
		return true
	default:
		vm.runtimeError("Only lists and strings can be indexed.")
		return false
	}
}

func (vm *VM) indexSet() bool {
	val := vm.peek(0)
	index := vm.peek(1)
	target := vm.peek(2)
	if !target.IsObj() {
		vm.runtimeError("Only lists and strings support index assignment.")
		return false
	}
	switch obj := target.AsObj().(type) {
	case *object.List:
		i, ok := integralIndex(index, len(obj.Items))
		if !ok {
			vm.runtimeError("List index out of range.")
			return false
		}
		obj.Items[i] = val
	case *object.String:
		i, ok := integralIndex(index, len(obj.Str))
		if !ok {
			vm.runtimeError("String index out of range.")
			return false
		}
		ch, isStr := val.AsObj().(*object.String)
		if !val.IsObj() || !isStr || len(ch.Str) != 1 {
			vm.runtimeError("String assignment requires a one-character string.")
			return false
		}
		obj.Str = obj.Str[:i] + ch.Str + obj.Str[i+1:]
	default:
		vm.runtimeError("Only lists and strings support index assignment.")
		return false
	}
	vm.pop()
	vm.pop()
	vm.pop()
	vm.push(val)
	return true
}

// integralIndex validates that v is an integer number within [0, length).
func integralIndex(v value.Value, length int) (int, bool) {
	if !v.IsNumber() {
		return 0, false
	}
	n := v.AsNumber()
	i := int(n)
	if float64(i) != n || i < 0 || i >= length {
		return 0, false
	}
	return i, true
}
