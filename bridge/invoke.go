package bridge

import (
	"reflect"

	lua "github.com/yuin/gopher-lua"
)

// Call is the script entry point of a call site: fast path through the
// cached binding when the arguments still fit it, full resolution
// otherwise, then invoke and push results.
func (cs *CallSite) Call(L *lua.LState) int {
	b := cs.b
	b.clearPending()

	s := newLuaStack(L, b.maxStack)
	w := argWindow(s, cs.receiver())

	if cs.receiver() {
		if _, ok := b.objects.Lookup(s.At(1)); !ok {
			return b.raise(L, bindingError(cs.Source(), ErrInvalidReceiver))
		}
	}

	var args, refs []reflect.Value
	bd := cs.binding
	if bd != nil {
		var ok bool
		if args, refs, ok = b.replay(bd, s, w); ok {
			cs.Hits++
		} else {
			bd = nil
		}
	}
	if bd == nil {
		cs.Misses++
		at, err := b.resolve(cs, s, w)
		if err != nil {
			return b.raise(L, bindingError(cs.Source(), err))
		}
		cs.bind(at.binding)
		bd, args, refs = at.binding, at.args, at.refs
	}

	if !s.EnsureHeadroom(bd.results + len(bd.Outs)) {
		return b.raise(L, &CallError{Kind: KindFatal, Source: cs.Source(), Err: ErrStackOverflow})
	}

	out, err := invoke(bd, args)
	if err != nil {
		return b.raise(L, nativeError(cs.Source(), err))
	}

	n := 0
	for i := 0; i < bd.results; i++ {
		n += b.Push(s, out[i])
	}
	for _, r := range refs {
		n += b.Push(s, r.Elem())
	}
	return n
}

// invoke calls the bound callee, turning panics and a trailing non-nil
// error into an error return.
func invoke(bd *Binding, args []reflect.Value) (out []reflect.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = &panicError{value: r}
		}
	}()

	if bd.variadic {
		out = bd.Callee.Fn.CallSlice(args)
	} else {
		out = bd.Callee.Fn.Call(args)
	}
	if bd.hasErr {
		if ev := out[len(out)-1]; !ev.IsNil() {
			return nil, ev.Interface().(error)
		}
	}
	return out, nil
}

// raise records err as the pending exception and raises it into the
// script as a CallError object.
func (b *Bridge) raise(L *lua.LState, err *CallError) int {
	b.setPending(err)
	b.log.Debugf("call failed: %s", err)
	ud := L.NewUserData()
	ud.Value = err
	ud.Metatable = b.errorMeta
	L.Error(ud, 1)
	return 0
}

// ---------------------------------------------------------------------------
// Pending exception
// ---------------------------------------------------------------------------

// Pending returns the most recent host-side failure not yet superseded by
// a new call, or nil.
func (b *Bridge) Pending() error {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	return b.pending
}

func (b *Bridge) setPending(err error) {
	b.pendingMu.Lock()
	b.pending = err
	b.pendingMu.Unlock()
}

func (b *Bridge) clearPending() {
	b.setPending(nil)
}
