package bridge

import (
	"reflect"
	"sync"
	"weak"

	lua "github.com/yuin/gopher-lua"
)

// ---------------------------------------------------------------------------
// Object handles: host values as seen by the script
// ---------------------------------------------------------------------------

// objectEntry is stored in LUserData.Value for every pushed host object.
// The userdata owns it: once the script drops the handle, the entry goes
// with it.
type objectEntry struct {
	id       uint32
	value    reflect.Value
	site     *CallSite // lazily created for callable func values
	released bool
}

type ptrKey struct {
	t reflect.Type
	p uintptr
}

// ObjectRegistry maps script handles to host objects. Pointer-like values
// are interned so pushing the same object twice yields the same userdata
// while the script still holds it.
//
// The registry only keeps weak references to userdata. Dead entries are
// swept when the registry has doubled since the last sweep, and by Count.
type ObjectRegistry struct {
	mu        sync.Mutex
	nextID    uint32
	live      map[uint32]weak.Pointer[lua.LUserData]
	byPtr     map[ptrKey]weak.Pointer[lua.LUserData]
	sweepAt   int
	collected uint64
}

const minSweep = 256

// NewObjectRegistry creates an empty handle registry.
func NewObjectRegistry() *ObjectRegistry {
	return &ObjectRegistry{
		live:    make(map[uint32]weak.Pointer[lua.LUserData]),
		byPtr:   make(map[ptrKey]weak.Pointer[lua.LUserData]),
		sweepAt: minSweep,
	}
}

func internKey(v reflect.Value) (ptrKey, bool) {
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Chan, reflect.UnsafePointer:
		if v.IsNil() {
			return ptrKey{}, false
		}
		return ptrKey{t: v.Type(), p: v.Pointer()}, true
	}
	return ptrKey{}, false
}

// Register returns the userdata for v, creating it with the given
// metatable if the script holds no handle for v yet.
func (r *ObjectRegistry) Register(L *lua.LState, v reflect.Value, mt lua.LValue) *lua.LUserData {
	key, internable := internKey(v)

	r.mu.Lock()
	defer r.mu.Unlock()

	if internable {
		if ud := r.byPtr[key].Value(); ud != nil {
			return ud
		}
	}
	if len(r.live) >= r.sweepAt {
		r.sweep()
		r.sweepAt = max(minSweep, 2*len(r.live))
	}

	r.nextID++
	ud := L.NewUserData()
	ud.Value = &objectEntry{id: r.nextID, value: v}
	ud.Metatable = mt

	wp := weak.Make(ud)
	r.live[r.nextID] = wp
	if internable {
		r.byPtr[key] = wp
	}
	return ud
}

// sweep forgets entries whose userdata was collected. Called with r.mu held.
func (r *ObjectRegistry) sweep() {
	for id, wp := range r.live {
		if wp.Value() == nil {
			delete(r.live, id)
			r.collected++
		}
	}
	for key, wp := range r.byPtr {
		if wp.Value() == nil {
			delete(r.byPtr, key)
		}
	}
}

// Lookup returns the host object behind a script value, if it is a live
// handle.
func (r *ObjectRegistry) Lookup(lv lua.LValue) (reflect.Value, bool) {
	e := r.entry(lv)
	if e == nil {
		return reflect.Value{}, false
	}
	return e.value, true
}

func (r *ObjectRegistry) entry(lv lua.LValue) *objectEntry {
	ud, ok := lv.(*lua.LUserData)
	if !ok {
		return nil
	}
	e, ok := ud.Value.(*objectEntry)
	if !ok {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.released {
		return nil
	}
	return e
}

// Release invalidates the handle lv and drops the registry's reference to
// its object. Reports whether lv was a live handle.
func (r *ObjectRegistry) Release(lv lua.LValue) bool {
	ud, ok := lv.(*lua.LUserData)
	if !ok {
		return false
	}
	e, ok := ud.Value.(*objectEntry)
	if !ok {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.released {
		return false
	}
	r.release(ud, e)
	return true
}

// release is called with r.mu held.
func (r *ObjectRegistry) release(ud *lua.LUserData, e *objectEntry) {
	if key, ok := internKey(e.value); ok && r.byPtr[key].Value() == ud {
		delete(r.byPtr, key)
	}
	delete(r.live, e.id)
	e.released = true
	e.value = reflect.Value{}
	e.site = nil
}

// Count sweeps collected handles and returns the number still live.
func (r *ObjectRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweep()
	return len(r.live)
}

// Collected returns how many handles were reclaimed after the script
// dropped them.
func (r *ObjectRegistry) Collected() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.collected
}

// Clear invalidates every handle.
func (r *ObjectRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, wp := range r.live {
		if ud := wp.Value(); ud != nil {
			if e, ok := ud.Value.(*objectEntry); ok {
				r.release(ud, e)
			}
		}
	}
	r.live = make(map[uint32]weak.Pointer[lua.LUserData])
	r.byPtr = make(map[ptrKey]weak.Pointer[lua.LUserData])
	r.sweepAt = minSweep
}
