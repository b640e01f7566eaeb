package value

import (
	"math"
	"strconv"
)

// Type identifies the variant stored in a Value.
type Type uint8

const (
	TypeNil Type = iota
	TypeBool
	TypeNumber
	TypeObj
)

// ObjKind identifies the concrete heap object behind an Obj reference.
type ObjKind uint8

const (
	KindString ObjKind = iota
	KindFunction
	KindClosure
	KindUpvalue
	KindClass
	KindInstance
	KindBoundMethod
	KindList
	KindNative
	KindFuture
)

// ObjHeader is embedded at the front of every heap object. The collector
// threads all live objects through Next and uses Marked during tracing.
// Heap records which allocator owns the object; a collector never traces
// or frees objects belonging to another heap.
type ObjHeader struct {
	ObjKind ObjKind
	Marked  bool
	Next    Obj
	Heap    uint64
	Size    int
}

// Obj is the reference half of the Value union. Concrete kinds live in the
// object package; equality between Obj values is pointer identity.
type Obj interface {
	Header() *ObjHeader
	Kind() ObjKind
	String() string
}

// Value is a stack-allocated tagged union. Numbers and bools live in Bits
// so that primitives never touch the heap; Ref keeps heap objects alive
// for the collector.
type Value struct {
	Type Type
	Bits uint64
	Ref  Obj
}

func Nil() Value {
	return Value{Type: TypeNil}
}

func Bool(b bool) Value {
	var bits uint64
	if b {
		bits = 1
	}
	return Value{Type: TypeBool, Bits: bits}
}

func Number(n float64) Value {
	return Value{Type: TypeNumber, Bits: math.Float64bits(n)}
}

func Object(o Obj) Value {
	return Value{Type: TypeObj, Ref: o}
}

func (v Value) IsNil() bool    { return v.Type == TypeNil }
func (v Value) IsBool() bool   { return v.Type == TypeBool }
func (v Value) IsNumber() bool { return v.Type == TypeNumber }
func (v Value) IsObj() bool    { return v.Type == TypeObj }

func (v Value) AsBool() bool {
	return v.Bits == 1
}

func (v Value) AsNumber() float64 {
	return math.Float64frombits(v.Bits)
}

func (v Value) AsObj() Obj {
	return v.Ref
}

// IsKind reports whether v holds a heap object of the given kind.
func (v Value) IsKind(k ObjKind) bool {
	return v.Type == TypeObj && v.Ref.Kind() == k
}

// Falsey follows the language rule: nil and false are falsey, everything
// else is truthy.
func (v Value) Falsey() bool {
	return v.Type == TypeNil || (v.Type == TypeBool && v.Bits == 0)
}

// Equal compares two values. Objects compare by reference identity;
// interned strings make that coincide with byte equality.
func Equal(a, b Value) bool {
	if a.Type != b.Type {
		return false
	}
	switch a.Type {
	case TypeNil:
		return true
	case TypeBool:
		return a.Bits == b.Bits
	case TypeNumber:
		return a.AsNumber() == b.AsNumber()
	case TypeObj:
		return a.Ref == b.Ref
	default:
		return false
	}
}

// String renders a value the way print does.
func (v Value) String() string {
	switch v.Type {
	case TypeNil:
		return "nil"
	case TypeBool:
		if v.Bits == 1 {
			return "true"
		}
		return "false"
	case TypeNumber:
		return FormatNumber(v.AsNumber())
	case TypeObj:
		return v.Ref.String()
	default:
		return "nil"
	}
}

// FormatNumber prints integral floats without a trailing ".0", matching
// the %g formatting the language has always used.
func FormatNumber(n float64) string {
	return strconv.FormatFloat(n, 'g', -1, 64)
}
