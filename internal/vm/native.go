package vm

import (
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"ember/internal/object"
	"ember/internal/value"
)

// defineNatives binds the built-in functions into the globals table. The
// name string is parked on the stack while the native object is
// allocated, mirroring how every allocation keeps its inputs rooted.
func (vm *VM) defineNatives() {
	vm.defineNative("clock", nativeClock)
	vm.defineNative("rand", nativeRand)
	vm.defineNative("len", nativeLen)
	vm.defineNative("append", vm.nativeAppend)
	vm.defineNative("delete", nativeDelete)
	vm.defineNative("read_input", vm.nativeReadInput)
	vm.defineNative("num_input", vm.nativeNumInput)
}

func (vm *VM) defineNative(name string, fn object.NativeFn) {
	interned := vm.heap.Intern(name)
	vm.push(value.Object(interned))
	native := vm.heap.NewNative(interned, fn)
	vm.push(value.Object(native))
	vm.globals.Set(interned, value.Object(native))
	vm.pop()
	vm.pop()
}

func nativeClock(argc int, args []value.Value) (value.Value, error) {
	return value.Number(float64(time.Now().UnixNano()) / 1e9), nil
}

func nativeRand(argc int, args []value.Value) (value.Value, error) {
	if argc != 1 || !args[0].IsNumber() {
		return value.Nil(), errors.New("rand expects one numeric argument.")
	}
	n := int(args[0].AsNumber())
	if n <= 0 {
		return value.Nil(), errors.New("rand expects a positive bound.")
	}
	return value.Number(float64(rand.Intn(n))), nil
}

func nativeLen(argc int, args []value.Value) (value.Value, error) {
	if argc != 1 {
		return value.Nil(), errors.New("len expects one argument.")
	}
	if args[0].IsObj() {
		switch obj := args[0].AsObj().(type) {
		case *object.List:
			return value.Number(float64(len(obj.Items))), nil
		case *object.String:
			return value.Number(float64(len(obj.Str))), nil
		}
	}
	return value.Nil(), errors.New("len expects a list or string.")
}

func (vm *VM) nativeAppend(argc int, args []value.Value) (value.Value, error) {
	if argc != 2 {
		return value.Nil(), errors.New("append expects a list and a value.")
	}
	list, ok := args[0].AsObj().(*object.List)
	if !args[0].IsObj() || !ok {
		return value.Nil(), errors.New("append expects a list and a value.")
	}
	list.Items = append(list.Items, args[1])
	vm.heap.Grow(32)
	return args[0], nil
}

func nativeDelete(argc int, args []value.Value) (value.Value, error) {
	if argc != 2 {
		return value.Nil(), errors.New("delete expects a list and an index.")
	}
	list, ok := args[0].AsObj().(*object.List)
	if !args[0].IsObj() || !ok {
		return value.Nil(), errors.New("delete expects a list and an index.")
	}
	i, ok := integralIndex(args[1], len(list.Items))
	if !ok {
		return value.Nil(), fmt.Errorf("delete index out of range.")
	}
	list.Items = append(list.Items[:i], list.Items[i+1:]...)
	return value.Nil(), nil
}

func (vm *VM) nativeReadInput(argc int, args []value.Value) (value.Value, error) {
	line, err := vm.in.ReadString('\n')
	if err != nil && line == "" {
		return value.Nil(), nil
	}
	line = strings.TrimRight(line, "\r\n")
	return value.Object(vm.heap.Intern(line)), nil
}

func (vm *VM) nativeNumInput(argc int, args []value.Value) (value.Value, error) {
	line, err := vm.in.ReadString('\n')
	if err != nil && line == "" {
		return value.Nil(), nil
	}
	n, perr := strconv.ParseFloat(strings.TrimSpace(line), 64)
	if perr != nil {
		return value.Nil(), nil
	}
	return value.Number(n), nil
}
