// Package vm executes compiled chunks on a fixed-size value stack with
// call frames, upvalue capture, class dispatch, and the structured
// concurrency opcodes. Each VM is single-threaded; the dispatcher hands
// out isolated VMs for async tasks.
package vm

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"

	"ember/internal/compiler"
	"ember/internal/config"
	"ember/internal/memory"
	"ember/internal/object"
	"ember/internal/value"
)

var log = commonlog.GetLogger("ember.vm")

const (
	// FramesMax bounds call depth; StackMax is the value stack capacity.
	FramesMax = 64
	StackMax  = FramesMax * 256
)

// InterpretResult is the driver-facing outcome of one interpretation.
type InterpretResult int

const (
	InterpretOK InterpretResult = iota
	InterpretCompileError
	InterpretRuntimeError
)

// CallFrame is one active function invocation: the running closure, its
// instruction offset, and the stack index of its slot 0.
type CallFrame struct {
	closure *object.Closure
	ip      int
	slots   int
}

// finishGroup collects the async tasks spawned inside one finish block.
type finishGroup struct {
	g errgroup.Group
}

// VM is one interpreter: private stack, frames, globals, heap, and
// concurrency state. VMs are created through a Dispatcher.
type VM struct {
	stack      [StackMax]value.Value
	stackTop   int
	frames     [FramesMax]CallFrame
	frameCount int

	openUpvalues *object.Upvalue
	heap         *memory.Heap
	globals      *object.Table
	initString   *object.String

	finish        []*finishGroup
	threadFailure atomic.Bool
	parent        *VM
	dispatcher    *Dispatcher
	slot          int

	cfg    *config.Config
	out    io.Writer
	errOut io.Writer
	in     *bufio.Reader
	trace  bool
}

func newVM(d *Dispatcher, slot int, cfg *config.Config) *VM {
	vm := &VM{
		heap:       memory.NewHeap(),
		globals:    object.NewTable(),
		dispatcher: d,
		slot:       slot,
		cfg:        cfg,
		out:        os.Stdout,
		errOut:     os.Stderr,
		in:         bufio.NewReader(os.Stdin),
	}
	vm.applyConfig()
	vm.heap.AddRoot(vm)
	return vm
}

// bootstrap caches the interned init string and binds the natives. It
// runs after the intern table is in its final shape: for a child VM that
// is only once the parent's table has been seeded in, so "init" resolves
// to the same object the parent's method tables are keyed by.
func (vm *VM) bootstrap() {
	vm.initString = vm.heap.Intern("init")
	vm.defineNatives()
}

func (vm *VM) applyConfig() {
	if vm.cfg == nil {
		vm.cfg = config.Default()
	}
	vm.heap.SetStress(vm.cfg.GC.Stress)
	vm.heap.SetGrowthFactor(vm.cfg.GC.GrowthFactor)
	vm.trace = vm.cfg.VM.Trace
}

// SetOutput redirects print output and diagnostics, primarily for tests
// and the REPL.
func (vm *VM) SetOutput(out, errOut io.Writer) {
	vm.out = out
	vm.errOut = errOut
}

// SetInput redirects the reader the input natives consume.
func (vm *VM) SetInput(r io.Reader) {
	vm.in = bufio.NewReader(r)
}

// Heap exposes the VM's allocator, for invariant tests.
func (vm *VM) Heap() *memory.Heap {
	return vm.heap
}

// Globals exposes the global table, for the REPL and tests.
func (vm *VM) Globals() *object.Table {
	return vm.globals
}

// MarkRoots implements memory.RootMarker: the stack, frame closures, open
// upvalue cells, globals, and the cached init string.
func (vm *VM) MarkRoots(h *memory.Heap) {
	for i := 0; i < vm.stackTop; i++ {
		h.MarkValue(vm.stack[i])
	}
	for i := 0; i < vm.frameCount; i++ {
		h.MarkObject(vm.frames[i].closure)
	}
	// Stop at the first cell owned by another heap: an inherited tail is
	// the parent's to keep alive, and its links are the parent's to walk.
	for uv := vm.openUpvalues; uv != nil && uv.Heap == h.ID(); uv = uv.NextOpen {
		h.MarkObject(uv)
	}
	h.MarkTable(vm.globals)
	h.MarkObject(vm.initString)
}

// Interpret compiles and runs source. The implicit root finish group
// joins any async task spawned outside an explicit finish block.
func (vm *VM) Interpret(source string) InterpretResult {
	fn, err := compiler.Compile(source, vm.heap, vm.errOut)
	if err != nil {
		return InterpretCompileError
	}
	return vm.RunFunction(fn)
}

// RunFunction executes an already compiled script function, e.g. one
// loaded from a chunk image.
func (vm *VM) RunFunction(fn *object.Function) InterpretResult {
	// a cancellation from an earlier run does not poison the next one
	vm.threadFailure.Store(false)
	vm.push(value.Object(fn))
	closure := vm.heap.NewClosure(fn)
	vm.pop()
	vm.push(value.Object(closure))
	vm.call(closure, 0)

	vm.finish = []*finishGroup{{}}
	result := vm.run()
	root := vm.finish[0]
	vm.finish = nil
	if err := root.g.Wait(); err != nil && result == InterpretOK {
		result = InterpretRuntimeError
	}
	return result
}

// --- stack ---

func (vm *VM) push(v value.Value) {
	vm.stack[vm.stackTop] = v
	vm.stackTop++
}

func (vm *VM) pop() value.Value {
	vm.stackTop--
	return vm.stack[vm.stackTop]
}

func (vm *VM) peek(distance int) value.Value {
	return vm.stack[vm.stackTop-1-distance]
}

func (vm *VM) resetStack() {
	vm.stackTop = 0
	vm.frameCount = 0
	vm.openUpvalues = nil
}

// --- errors ---

// runtimeError reports the message and a source-line trace of every
// active frame, then resets the stack.
func (vm *VM) runtimeError(format string, args ...interface{}) {
	fmt.Fprintf(vm.errOut, format, args...)
	fmt.Fprintln(vm.errOut)

	for i := vm.frameCount - 1; i >= 0; i-- {
		frame := &vm.frames[i]
		fn := frame.closure.Function
		line := fn.Chunk.Line(frame.ip - 1)
		if fn.Name == nil {
			fmt.Fprintf(vm.errOut, "[line %d] in script\n", line)
		} else {
			fmt.Fprintf(vm.errOut, "[line %d] in %s()\n", line, fn.Name.Str)
		}
	}
	vm.resetStack()
}

// --- calls ---

func (vm *VM) callValue(callee value.Value, argc int) bool {
	if callee.IsObj() {
		switch obj := callee.AsObj().(type) {
		case *object.Closure:
			return vm.call(obj, argc)
		case *object.BoundMethod:
			vm.stack[vm.stackTop-argc-1] = obj.Receiver
			return vm.call(obj.Method, argc)
		case *object.Class:
			instance := vm.heap.NewInstance(obj)
			vm.stack[vm.stackTop-argc-1] = value.Object(instance)
			if initializer, ok := obj.Methods.Get(vm.initString); ok {
				return vm.call(initializer.AsObj().(*object.Closure), argc)
			}
			if argc != 0 {
				vm.runtimeError("Expected 0 arguments but got %d.", argc)
				return false
			}
			return true
		case *object.Native:
			args := vm.stack[vm.stackTop-argc : vm.stackTop]
			result, err := obj.Fn(argc, args)
			if err != nil {
				vm.runtimeError("%s", err)
				return false
			}
			vm.stackTop -= argc + 1
			vm.push(result)
			return true
		}
	}
	vm.runtimeError("Can only call functions and classes.")
	return false
}

func (vm *VM) call(closure *object.Closure, argc int) bool {
	if argc != closure.Function.Arity {
		vm.runtimeError("Expected %d arguments but got %d.",
			closure.Function.Arity, argc)
		return false
	}
	if vm.frameCount == FramesMax {
		vm.runtimeError("Stack overflow.")
		return false
	}
	frame := &vm.frames[vm.frameCount]
	vm.frameCount++
	frame.closure = closure
	frame.ip = 0
	frame.slots = vm.stackTop - argc - 1
	return true
}

func (vm *VM) invoke(name *object.String, argc int) bool {
	receiver := vm.peek(argc)
	instance, ok := receiver.AsObj().(*object.Instance)
	if !receiver.IsObj() || !ok {
		vm.runtimeError("Only instances have methods.")
		return false
	}
	if field, ok := instance.Fields.Get(name); ok {
		vm.stack[vm.stackTop-argc-1] = field
		return vm.callValue(field, argc)
	}
	return vm.invokeFromClass(instance.Class, name, argc)
}

func (vm *VM) invokeFromClass(class *object.Class, name *object.String, argc int) bool {
	method, ok := class.Methods.Get(name)
	if !ok {
		vm.runtimeError("Undefined property '%s'.", name.Str)
		return false
	}
	return vm.call(method.AsObj().(*object.Closure), argc)
}

func (vm *VM) bindMethod(class *object.Class, name *object.String) bool {
	method, ok := class.Methods.Get(name)
	if !ok {
		vm.runtimeError("Undefined property '%s'.", name.Str)
		return false
	}
	bound := vm.heap.NewBoundMethod(vm.peek(0), method.AsObj().(*object.Closure))
	vm.pop()
	vm.push(value.Object(bound))
	return true
}

// --- upvalues ---

// captureUpvalue returns the open cell for a stack slot, creating and
// inserting it in descending-slot order if none exists yet.
func (vm *VM) captureUpvalue(slot int) *object.Upvalue {
	var prev *object.Upvalue
	uv := vm.openUpvalues
	for uv != nil && uv.Slot > slot {
		prev = uv
		uv = uv.NextOpen
	}
	if uv != nil && uv.Slot == slot {
		return uv
	}

	created := vm.heap.NewUpvalue(&vm.stack[slot], slot)
	created.NextOpen = uv
	if prev == nil {
		vm.openUpvalues = created
	} else {
		prev.NextOpen = created
	}
	return created
}

// closeUpvalues closes every open cell at or above the given stack slot.
func (vm *VM) closeUpvalues(last int) {
	for vm.openUpvalues != nil && vm.openUpvalues.Slot >= last {
		uv := vm.openUpvalues
		uv.Close()
		vm.openUpvalues = uv.NextOpen
		uv.NextOpen = nil
	}
}
