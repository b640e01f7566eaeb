// Package memory owns allocation tracking and the tri-color mark-sweep
// collector. Every heap object a VM or compiler creates goes through a
// Heap, which threads it onto the all-objects list and decides when to
// collect.
package memory

import (
	"sync/atomic"

	"ember/internal/bytecode"
	"ember/internal/object"
	"ember/internal/value"
)

const defaultGrowthFactor = 2

// firstGC matches the allocation volume a small script reaches before the
// first collection is worth running.
const firstGC = 1024 * 1024

var heapIDs atomic.Uint64

// RootMarker is implemented by anything that owns GC roots: the VM (stack,
// frames, globals, open upvalues) and an in-flight compiler (its function
// chain).
type RootMarker interface {
	MarkRoots(h *Heap)
}

// Heap tracks every object allocated for one VM. Objects carry the owning
// heap's id; a collector neither traces nor frees objects that belong to a
// different heap, and a heap with pinned children defers collection
// entirely so that shared parent state stays live.
type Heap struct {
	id             uint64
	objects        value.Obj
	bytesAllocated int
	nextGC         int
	gray           []value.Obj
	strings        *object.Table
	roots          []RootMarker

	growthFactor int
	stress       bool
	pins         atomic.Int32

	// collection statistics, exposed for tests and trace logging
	collections int
	freedTotal  int
}

func NewHeap() *Heap {
	return &Heap{
		id:           heapIDs.Add(1),
		nextGC:       firstGC,
		strings:      object.NewTable(),
		growthFactor: defaultGrowthFactor,
	}
}

// SetStress forces a collection on every growing allocation.
func (h *Heap) SetStress(on bool) {
	h.stress = on
}

// SetGrowthFactor overrides the next-GC multiplier.
func (h *Heap) SetGrowthFactor(f int) {
	if f >= 2 {
		h.growthFactor = f
	}
}

// ID identifies this heap in object headers.
func (h *Heap) ID() uint64 {
	return h.id
}

// Strings exposes the intern table; the compiler and VM share it through
// the heap so interning is per-VM.
func (h *Heap) Strings() *object.Table {
	return h.strings
}

// AddRoot registers a root provider for the next collections.
func (h *Heap) AddRoot(r RootMarker) {
	h.roots = append(h.roots, r)
}

// RemoveRoot unregisters a root provider.
func (h *Heap) RemoveRoot(r RootMarker) {
	for i, root := range h.roots {
		if root == r {
			h.roots = append(h.roots[:i], h.roots[i+1:]...)
			return
		}
	}
}

// Pin defers collection while a child VM shares this heap's objects.
func (h *Heap) Pin() {
	h.pins.Add(1)
}

// Unpin releases one child pin.
func (h *Heap) Unpin() {
	h.pins.Add(-1)
}

// BytesAllocated reports the live allocation estimate.
func (h *Heap) BytesAllocated() int {
	return h.bytesAllocated
}

// Collections reports how many collections have run.
func (h *Heap) Collections() int {
	return h.collections
}

// Objects walks the all-objects list, for invariant tests.
func (h *Heap) Objects(fn func(value.Obj)) {
	for o := h.objects; o != nil; o = o.Header().Next {
		fn(o)
	}
}

// Grow accounts for an in-place buffer growth (the append native) and
// gives the collector its allocation-point chance to run.
func (h *Heap) Grow(delta int) {
	if delta <= 0 {
		return
	}
	h.maybeCollect(delta)
	h.bytesAllocated += delta
}

func (h *Heap) maybeCollect(incoming int) {
	if h.stress || h.bytesAllocated+incoming > h.nextGC {
		h.Collect()
	}
}

// adopt links a freshly built object into the all-objects list.
func (h *Heap) adopt(o value.Obj, size int) {
	hdr := o.Header()
	hdr.Heap = h.id
	hdr.Size = size
	hdr.Next = h.objects
	h.objects = o
	h.bytesAllocated += size
}

const (
	sizeString      = 40
	sizeFunction    = 96
	sizeClosure     = 48
	sizeUpvalue     = 56
	sizeClass       = 64
	sizeInstance    = 64
	sizeBoundMethod = 48
	sizeList        = 48
	sizeNative      = 32
	sizeFuture      = 32
	sizeValue       = 32
)

// Intern returns the canonical string object for s, allocating it on first
// use. Identity of the result implies byte equality, per the intern
// invariant.
func (h *Heap) Intern(s string) *object.String {
	hash := object.HashString(s)
	if interned := h.strings.FindString(s, hash); interned != nil {
		return interned
	}
	h.maybeCollect(sizeString + len(s))
	str := &object.String{Str: s, Hash: hash}
	str.ObjKind = value.KindString
	h.adopt(str, sizeString+len(s))
	h.strings.Set(str, value.Bool(true))
	return str
}

func (h *Heap) NewFunction() *object.Function {
	h.maybeCollect(sizeFunction)
	fn := &object.Function{Chunk: bytecode.NewChunk()}
	fn.ObjKind = value.KindFunction
	h.adopt(fn, sizeFunction)
	return fn
}

func (h *Heap) NewClosure(fn *object.Function) *object.Closure {
	h.maybeCollect(sizeClosure + fn.UpvalueCount*8)
	cl := &object.Closure{
		Function: fn,
		Upvalues: make([]*object.Upvalue, fn.UpvalueCount),
	}
	cl.ObjKind = value.KindClosure
	h.adopt(cl, sizeClosure+fn.UpvalueCount*8)
	return cl
}

func (h *Heap) NewUpvalue(slot *value.Value, index int) *object.Upvalue {
	h.maybeCollect(sizeUpvalue)
	uv := &object.Upvalue{Location: slot, Slot: index}
	uv.ObjKind = value.KindUpvalue
	h.adopt(uv, sizeUpvalue)
	return uv
}

func (h *Heap) NewClass(name *object.String) *object.Class {
	h.maybeCollect(sizeClass)
	cl := &object.Class{Name: name, Methods: object.NewTable()}
	cl.ObjKind = value.KindClass
	h.adopt(cl, sizeClass)
	return cl
}

func (h *Heap) NewInstance(class *object.Class) *object.Instance {
	h.maybeCollect(sizeInstance)
	inst := &object.Instance{Class: class, Fields: object.NewTable()}
	inst.ObjKind = value.KindInstance
	h.adopt(inst, sizeInstance)
	return inst
}

func (h *Heap) NewBoundMethod(receiver value.Value, method *object.Closure) *object.BoundMethod {
	h.maybeCollect(sizeBoundMethod)
	bm := &object.BoundMethod{Receiver: receiver, Method: method}
	bm.ObjKind = value.KindBoundMethod
	h.adopt(bm, sizeBoundMethod)
	return bm
}

func (h *Heap) NewList(items []value.Value) *object.List {
	size := sizeList + len(items)*sizeValue
	h.maybeCollect(size)
	l := &object.List{Items: items}
	l.ObjKind = value.KindList
	h.adopt(l, size)
	return l
}

func (h *Heap) NewNative(name *object.String, fn object.NativeFn) *object.Native {
	h.maybeCollect(sizeNative)
	n := &object.Native{Name: name, Fn: fn}
	n.ObjKind = value.KindNative
	h.adopt(n, sizeNative)
	return n
}

func (h *Heap) NewFuture(vmID int) *object.Future {
	h.maybeCollect(sizeFuture)
	f := &object.Future{VMID: vmID}
	f.ObjKind = value.KindFuture
	h.adopt(f, sizeFuture)
	return f
}
