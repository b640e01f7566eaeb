package object

import (
	"fmt"
	"strings"

	"ember/internal/bytecode"
	"ember/internal/value"
)

// String is an interned, immutable byte string. Within one heap, two live
// strings with the same bytes are the same object.
type String struct {
	value.ObjHeader
	Str  string
	Hash uint32
}

func (s *String) Header() *value.ObjHeader { return &s.ObjHeader }
func (s *String) Kind() value.ObjKind      { return value.KindString }
func (s *String) String() string           { return s.Str }

// HashString is the FNV-1a hash the intern table keys on.
func HashString(s string) uint32 {
	var hash uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		hash ^= uint32(s[i])
		hash *= 16777619
	}
	return hash
}

// Function is an immutable compiled function: its code, arity, and the
// number of upvalues each closure over it must capture.
type Function struct {
	value.ObjHeader
	Arity        int
	UpvalueCount int
	Chunk        *bytecode.Chunk
	Name         *String // nil for the top-level script
}

func (f *Function) Header() *value.ObjHeader { return &f.ObjHeader }
func (f *Function) Kind() value.ObjKind      { return value.KindFunction }

func (f *Function) String() string {
	if f.Name == nil {
		return "<script>"
	}
	return fmt.Sprintf("<fn %s>", f.Name.Str)
}

// Upvalue is a captured variable cell. While the captured local is live the
// cell points at its stack slot; closing copies the value into the cell.
type Upvalue struct {
	value.ObjHeader
	Location *value.Value
	Closed   value.Value
	NextOpen *Upvalue
	// Slot is the stack index the open cell points at, used to keep the
	// open list sorted and to close frames by address.
	Slot int
}

func (u *Upvalue) Header() *value.ObjHeader { return &u.ObjHeader }
func (u *Upvalue) Kind() value.ObjKind      { return value.KindUpvalue }
func (u *Upvalue) String() string           { return "upvalue" }

// Get reads through the cell, wherever it currently lives.
func (u *Upvalue) Get() value.Value {
	if u.Location != nil {
		return *u.Location
	}
	return u.Closed
}

// Set writes through the cell.
func (u *Upvalue) Set(v value.Value) {
	if u.Location != nil {
		*u.Location = v
		return
	}
	u.Closed = v
}

// Close relocates the captured value into the cell itself.
func (u *Upvalue) Close() {
	if u.Location != nil {
		u.Closed = *u.Location
		u.Location = nil
	}
}

// Closure pairs a function with the upvalue cells captured where it was
// created.
type Closure struct {
	value.ObjHeader
	Function *Function
	Upvalues []*Upvalue
}

func (c *Closure) Header() *value.ObjHeader { return &c.ObjHeader }
func (c *Closure) Kind() value.ObjKind      { return value.KindClosure }
func (c *Closure) String() string           { return c.Function.String() }

// Class carries a name and a method table keyed by interned strings.
type Class struct {
	value.ObjHeader
	Name    *String
	Methods *Table
}

func (c *Class) Header() *value.ObjHeader { return &c.ObjHeader }
func (c *Class) Kind() value.ObjKind      { return value.KindClass }
func (c *Class) String() string           { return c.Name.Str }

// Instance is a class instance with its own field table.
type Instance struct {
	value.ObjHeader
	Class  *Class
	Fields *Table
}

func (i *Instance) Header() *value.ObjHeader { return &i.ObjHeader }
func (i *Instance) Kind() value.ObjKind      { return value.KindInstance }
func (i *Instance) String() string           { return i.Class.Name.Str + " instance" }

// BoundMethod pairs a receiver with a method closure; calling it rebinds
// slot 0 to the receiver.
type BoundMethod struct {
	value.ObjHeader
	Receiver value.Value
	Method   *Closure
}

func (b *BoundMethod) Header() *value.ObjHeader { return &b.ObjHeader }
func (b *BoundMethod) Kind() value.ObjKind      { return value.KindBoundMethod }
func (b *BoundMethod) String() string           { return b.Method.String() }

// List is a growable array of values.
type List struct {
	value.ObjHeader
	Items []value.Value
}

func (l *List) Header() *value.ObjHeader { return &l.ObjHeader }
func (l *List) Kind() value.ObjKind      { return value.KindList }

func (l *List) String() string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, item := range l.Items {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(item.String())
	}
	sb.WriteByte(']')
	return sb.String()
}

// NativeFn is the native call ABI: argc values starting at args. The slice
// aliases the calling VM's stack and must not be retained.
type NativeFn func(argc int, args []value.Value) (value.Value, error)

// Native wraps a built-in function.
type Native struct {
	value.ObjHeader
	Name *String
	Fn   NativeFn
}

func (n *Native) Header() *value.ObjHeader { return &n.ObjHeader }
func (n *Native) Kind() value.ObjKind      { return value.KindNative }
func (n *Native) String() string           { return "<native fn>" }

// Future is a placeholder for a value produced by a worker slot; the
// dispatcher resolves it by slot id.
type Future struct {
	value.ObjHeader
	VMID int
}

func (f *Future) Header() *value.ObjHeader { return &f.ObjHeader }
func (f *Future) Kind() value.ObjKind      { return value.KindFuture }
func (f *Future) String() string           { return fmt.Sprintf("<future %d>", f.VMID) }
