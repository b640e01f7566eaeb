package memory

import (
	"reflect"

	"github.com/tliron/commonlog"

	"ember/internal/object"
	"ember/internal/value"
)

var log = commonlog.GetLogger("ember.gc")

// Collect runs a full mark-sweep cycle: mark roots, trace gray objects,
// drop white keys from the intern table, sweep, then raise the threshold.
// Collection is deferred while children are pinned against this heap.
func (h *Heap) Collect() {
	if h.pins.Load() > 0 {
		log.Debug("collection deferred, children pinned")
		return
	}
	before := h.bytesAllocated
	log.Debugf("gc begin, %d bytes", before)

	h.markRoots()
	h.traceReferences()
	h.removeWhiteStrings()
	freed := h.sweep()

	h.nextGC = h.bytesAllocated * h.growthFactor
	h.collections++
	h.freedTotal += freed
	log.Debugf("gc end, collected %d bytes (%d -> %d), next at %d",
		before-h.bytesAllocated, before, h.bytesAllocated, h.nextGC)
}

func (h *Heap) markRoots() {
	for _, r := range h.roots {
		r.MarkRoots(h)
	}
}

// MarkValue grays the object behind v, if any.
func (h *Heap) MarkValue(v value.Value) {
	if v.IsObj() {
		h.MarkObject(v.AsObj())
	}
}

// MarkObject grays o. Objects owned by another heap are left untouched:
// their owner's roots keep them live for as long as this heap can see
// them, and writing their mark bits from here would race that owner.
func (h *Heap) MarkObject(o value.Obj) {
	// A nil pointer of a concrete kind (an unnamed function's Name, an
	// init string not cached yet) arrives as a non-nil interface.
	if o == nil || reflect.ValueOf(o).IsNil() {
		return
	}
	hdr := o.Header()
	if hdr.Heap != h.id || hdr.Marked {
		return
	}
	hdr.Marked = true
	h.gray = append(h.gray, o)
	log.Debugf("mark %s", o.String())
}

// MarkTable grays every key and value of a table.
func (h *Heap) MarkTable(t *object.Table) {
	if t == nil {
		return
	}
	t.Each(func(key *object.String, val value.Value) {
		h.MarkObject(key)
		h.MarkValue(val)
	})
}

func (h *Heap) traceReferences() {
	for len(h.gray) > 0 {
		o := h.gray[len(h.gray)-1]
		h.gray = h.gray[:len(h.gray)-1]
		h.blacken(o)
	}
}

func (h *Heap) blacken(o value.Obj) {
	switch obj := o.(type) {
	case *object.String:
		// leaf
	case *object.Native:
		h.MarkObject(obj.Name)
	case *object.Function:
		h.MarkObject(obj.Name)
		for _, c := range obj.Chunk.Constants {
			h.MarkValue(c)
		}
	case *object.Closure:
		h.MarkObject(obj.Function)
		for _, uv := range obj.Upvalues {
			if uv != nil {
				h.MarkObject(uv)
			}
		}
	case *object.Upvalue:
		h.MarkValue(obj.Closed)
	case *object.Class:
		h.MarkObject(obj.Name)
		h.MarkTable(obj.Methods)
	case *object.Instance:
		h.MarkObject(obj.Class)
		h.MarkTable(obj.Fields)
	case *object.BoundMethod:
		h.MarkValue(obj.Receiver)
		h.MarkObject(obj.Method)
	case *object.List:
		for _, item := range obj.Items {
			h.MarkValue(item)
		}
	case *object.Future:
		// slot id only
	}
}

// removeWhiteStrings evicts unmarked keys from the intern table so that
// interning cannot resurrect a dead string. Seeded entries owned by a
// parent heap are never evicted; the parent decides their lifetime.
func (h *Heap) removeWhiteStrings() {
	h.strings.DeleteIf(func(key *object.String) bool {
		return key.Heap == h.id && !key.Marked
	})
}

func (h *Heap) sweep() int {
	freed := 0
	var prev value.Obj
	o := h.objects
	for o != nil {
		hdr := o.Header()
		if hdr.Marked {
			hdr.Marked = false
			prev = o
			o = hdr.Next
			continue
		}
		unreached := o
		o = hdr.Next
		if prev == nil {
			h.objects = o
		} else {
			prev.Header().Next = o
		}
		freed += h.free(unreached)
	}
	return freed
}

// free releases an object's owned storage. Closures drop only their
// upvalue pointer array; the cells are independent objects.
func (h *Heap) free(o value.Obj) int {
	hdr := o.Header()
	size := hdr.Size
	h.bytesAllocated -= size
	log.Debugf("free %s", o.String())
	switch obj := o.(type) {
	case *object.Function:
		obj.Chunk = nil
	case *object.Closure:
		obj.Upvalues = nil
	case *object.Class:
		obj.Methods = nil
	case *object.Instance:
		obj.Fields = nil
	case *object.List:
		obj.Items = nil
	}
	hdr.Next = nil
	return size
}
