package vm

import (
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"ember/internal/config"
	"ember/internal/object"
	"ember/internal/value"
)

var dispatchLog = commonlog.GetLogger("ember.dispatch")

// PoolSize is the fixed number of VM slots; the main program holds slot 0.
const PoolSize = 32

var errTaskFailed = errors.New("async task failed")

type slotState struct {
	vm           *VM
	assigned     bool
	futureResult value.Value
	hasResult    bool
}

// Dispatcher owns the slot pool and the registry of running tasks. The
// pool and the registry are guarded by separate mutexes; cancellation
// takes only the registry lock.
type Dispatcher struct {
	cfg      *config.Config
	poolMu   sync.Mutex
	slots    [PoolSize]slotState
	regMu    sync.Mutex
	registry map[uuid.UUID]*VM
}

// NewDispatcher builds the pool and boots the main VM on slot 0.
func NewDispatcher(cfg *config.Config) *Dispatcher {
	if cfg == nil {
		cfg = config.Default()
	}
	d := &Dispatcher{
		cfg:      cfg,
		registry: make(map[uuid.UUID]*VM),
	}
	d.slots[0].assigned = true
	main := newVM(d, 0, cfg)
	main.bootstrap()
	d.slots[0].vm = main
	d.register(uuid.New(), main)
	return d
}

// Main returns the slot-0 VM that runs the top-level program.
func (d *Dispatcher) Main() *VM {
	return d.slots[0].vm
}

func (d *Dispatcher) register(token uuid.UUID, vm *VM) {
	d.regMu.Lock()
	d.registry[token] = vm
	d.regMu.Unlock()
}

func (d *Dispatcher) unregister(token uuid.UUID) {
	d.regMu.Lock()
	delete(d.registry, token)
	d.regMu.Unlock()
}

// ActiveTasks reports how many VMs are currently registered, the main VM
// included.
func (d *Dispatcher) ActiveTasks() int {
	d.regMu.Lock()
	defer d.regMu.Unlock()
	return len(d.registry)
}

// acquireSlot claims a free slot, spinning while the pool is exhausted.
func (d *Dispatcher) acquireSlot() int {
	for {
		d.poolMu.Lock()
		for i := 1; i < PoolSize; i++ {
			if !d.slots[i].assigned {
				d.slots[i].assigned = true
				d.slots[i].hasResult = false
				d.slots[i].futureResult = value.Nil()
				d.poolMu.Unlock()
				return i
			}
		}
		d.poolMu.Unlock()
		runtime.Gosched()
		time.Sleep(time.Millisecond)
	}
}

func (d *Dispatcher) releaseSlot(idx int) {
	d.poolMu.Lock()
	d.slots[idx].assigned = false
	d.slots[idx].vm = nil
	d.poolMu.Unlock()
}

// spawnChild claims a slot and builds an isolated copy of the parent,
// positioned just past OpAsyncBegin's operand so it starts on the body.
func (d *Dispatcher) spawnChild(parent *VM) (*VM, error) {
	idx := d.acquireSlot()
	child := d.copyParent(parent, idx)
	child.frames[child.frameCount-1].ip += 2
	dispatchLog.Debugf("spawned child on slot %d", idx)
	return child, nil
}

// copyParent clones the parent's execution state into a fresh VM on the
// given slot: frames, stack, open-upvalue head, globals, and an intern
// table seeded from the parent so string identity carries over. The child
// allocates on its own heap and rebinds its own natives.
func (d *Dispatcher) copyParent(parent *VM, idx int) *VM {
	child := newVM(d, idx, parent.cfg)
	child.parent = parent
	child.out = parent.out
	child.errOut = parent.errOut
	child.in = parent.in

	parent.heap.Strings().Each(func(key *object.String, val value.Value) {
		child.heap.Strings().Set(key, val)
	})
	parent.globals.Each(func(key *object.String, val value.Value) {
		child.globals.Set(key, val)
	})
	child.bootstrap()

	copy(child.stack[:parent.stackTop], parent.stack[:parent.stackTop])
	child.stackTop = parent.stackTop
	copy(child.frames[:parent.frameCount], parent.frames[:parent.frameCount])
	child.frameCount = parent.frameCount
	child.openUpvalues = parent.openUpvalues
	child.finish = []*finishGroup{{}}

	d.poolMu.Lock()
	d.slots[idx].vm = child
	d.poolMu.Unlock()
	return child
}

// launch runs a child VM as one task of the given finish group. The
// parent heap stays pinned while the child can still see its objects; a
// runtime error in the child cancels every registered VM.
func (d *Dispatcher) launch(group *finishGroup, child *VM) {
	token := uuid.New()
	d.register(token, child)
	child.parent.heap.Pin()
	group.g.Go(func() error {
		defer func() {
			d.unregister(token)
			d.releaseSlot(child.slot)
			child.parent.heap.Unpin()
		}()
		result := child.run()
		if result == InterpretRuntimeError {
			d.TerminateAll()
			return errTaskFailed
		}
		root := child.finish[0]
		child.finish = nil
		if err := root.g.Wait(); err != nil {
			return err
		}
		return nil
	})
}

// LaunchFuture runs a synchronous future: the child executes to
// completion on the calling goroutine, its ip advanced past the 3-byte
// call site, and its result is parked in the slot until TakeResult.
func (d *Dispatcher) LaunchFuture(parent *VM) (int, error) {
	idx := d.acquireSlot()
	child := d.copyParent(parent, idx)
	child.frames[child.frameCount-1].ip += 3

	token := uuid.New()
	d.register(token, child)
	parent.heap.Pin()
	defer func() {
		d.unregister(token)
		parent.heap.Unpin()
	}()

	result := child.run()
	if result == InterpretRuntimeError {
		d.TerminateAll()
		d.releaseSlot(idx)
		return -1, errTaskFailed
	}
	d.poolMu.Lock()
	if child.stackTop > 0 {
		d.slots[idx].futureResult = child.pop()
	}
	d.slots[idx].hasResult = true
	d.poolMu.Unlock()
	return idx, nil
}

// TakeResult collects a future's value and frees its slot.
func (d *Dispatcher) TakeResult(idx int) (value.Value, bool) {
	d.poolMu.Lock()
	defer d.poolMu.Unlock()
	if !d.slots[idx].hasResult {
		return value.Nil(), false
	}
	result := d.slots[idx].futureResult
	d.slots[idx].hasResult = false
	d.slots[idx].assigned = false
	d.slots[idx].vm = nil
	return result, true
}

// TerminateAll flips the failure flag on every registered VM; each one
// notices at its next dispatch step and unwinds with a runtime error.
func (d *Dispatcher) TerminateAll() {
	d.regMu.Lock()
	defer d.regMu.Unlock()
	dispatchLog.Debugf("terminating %d active tasks", len(d.registry))
	for _, vm := range d.registry {
		vm.threadFailure.Store(true)
	}
}
