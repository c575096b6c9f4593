package bridge

import (
	"fmt"
	"reflect"

	lua "github.com/yuin/gopher-lua"
)

// Proxy forwards the members of a synthesized shape to a script value.
// Adapters hold a *Proxy and route every method through Call.
//
// A proxy re-enters the interpreter, so it must only be called from the
// goroutine running the bridge's LState.
type Proxy struct {
	desc *ProxyDescriptor
	b    *Bridge
	self lua.LValue    // *lua.LTable or *lua.LFunction
	base reflect.Value // subclass shapes only
}

// Descriptor returns the shape descriptor the proxy was built from.
func (p *Proxy) Descriptor() *ProxyDescriptor { return p.desc }

// Script returns the script value backing the proxy.
func (p *Proxy) Script() lua.LValue { return p.self }

// Base returns the base object of a subclass proxy, or nil.
func (p *Proxy) Base() any {
	if !p.base.IsValid() {
		return nil
	}
	return p.base.Interface()
}

// Call invokes member index with args and returns its results, including a
// trailing error when the member declares one. Missing args are zero.
func (p *Proxy) Call(index int, args ...any) []any {
	m := &p.desc.Members[index]
	in := make([]reflect.Value, len(m.Params))
	for i, pt := range m.Params {
		if i < len(args) && args[i] != nil {
			in[i] = reflect.ValueOf(args[i])
			continue
		}
		in[i] = reflect.Zero(pt)
	}
	out := p.dispatch(m, in)
	res := make([]any, len(out))
	for i, v := range out {
		if v.IsValid() && v.CanInterface() {
			res[i] = v.Interface()
		}
	}
	return res
}

// dispatch picks the body for m: the script entry, a default body, the
// base method, or zero values.
func (p *Proxy) dispatch(m *Member, in []reflect.Value) []reflect.Value {
	target := p.lookup(m)
	if fn, ok := target.(*lua.LFunction); ok {
		var self lua.LValue
		if _, isTable := p.self.(*lua.LTable); isTable {
			self = p.self
		}
		return p.b.callScript(fn, self, m, in)
	}
	if target != nil && len(m.Params) == 0 && len(m.Results) == 1 {
		if v, ok := p.b.Extract(target, m.Results[0]); ok {
			return results(m, []reflect.Value{v}, nil)
		}
	}
	if m.Default.IsValid() {
		return callValue(m.Default, m.Variadic, in)
	}
	if p.base.IsValid() {
		return callValue(p.base.Method(m.baseIndex), m.Variadic, in)
	}
	return results(m, nil, nil)
}

// lookup finds the script entry for m. A function-backed proxy answers
// every member with its function.
func (p *Proxy) lookup(m *Member) lua.LValue {
	switch self := p.self.(type) {
	case *lua.LFunction:
		return self
	case *lua.LTable:
		for _, name := range m.Lookup {
			if v := p.b.L.GetField(self, name); !isNil(v) {
				return v
			}
		}
	}
	return nil
}

func callValue(fn reflect.Value, variadic bool, in []reflect.Value) []reflect.Value {
	if variadic {
		return fn.CallSlice(in)
	}
	return fn.Call(in)
}

// results assembles the full Go result list of m from vals, padding with
// zero values, and appends err when m declares an error result.
func results(m *Member, vals []reflect.Value, err error) []reflect.Value {
	out := make([]reflect.Value, 0, len(m.Results)+1)
	for i, rt := range m.Results {
		if i < len(vals) && vals[i].IsValid() {
			out = append(out, vals[i])
		} else {
			out = append(out, reflect.Zero(rt))
		}
	}
	if m.Err {
		if err != nil {
			out = append(out, reflect.ValueOf(err))
		} else {
			out = append(out, reflect.Zero(errorType))
		}
	}
	return out
}

// callScript runs a script function for member m. Arguments are pushed
// through the value pusher (variadic tails spread, ref params by value);
// results come back as the Go results followed by the new ref values.
func (b *Bridge) callScript(fn *lua.LFunction, self lua.LValue, m *Member, in []reflect.Value) []reflect.Value {
	L := b.L
	args := make([]lua.LValue, 0, len(in)+1)
	if self != nil {
		args = append(args, self)
	}
	for i, v := range in {
		switch {
		case m.Variadic && i == len(in)-1:
			for j := 0; j < v.Len(); j++ {
				args = append(args, b.ToScript(v.Index(j)))
			}
		case isRef(m.Params[i]):
			if v.IsNil() {
				args = append(args, lua.LNil)
			} else {
				args = append(args, b.ToScript(v.Elem()))
			}
		default:
			args = append(args, b.ToScript(v))
		}
	}

	nret := len(m.Results) + len(m.Refs)
	if err := L.CallByParam(lua.P{Fn: fn, NRet: nret, Protect: true}, args...); err != nil {
		return b.scriptFailure(m, scriptErrorFrom(err))
	}
	rets := make([]lua.LValue, nret)
	for i := 0; i < nret; i++ {
		rets[i] = L.Get(-nret + i)
	}
	L.Pop(nret)

	vals := make([]reflect.Value, len(m.Results))
	for i, rt := range m.Results {
		v, ok := b.Extract(rets[i], rt)
		if !ok {
			return b.scriptFailure(m, &ScriptError{
				Message: fmt.Sprintf("%s: cannot convert result %d (%s) to %s", m.Name, i+1, rets[i].Type(), rt),
				Value:   rets[i],
			})
		}
		vals[i] = v
	}
	for k, idx := range m.Refs {
		lv := rets[len(m.Results)+k]
		if isNil(lv) || in[idx].IsNil() {
			continue
		}
		if v, ok := b.Extract(lv, m.Params[idx].Elem()); ok {
			in[idx].Elem().Set(v)
		}
	}
	return results(m, vals, nil)
}

// scriptFailure reports a script error through the member's error result,
// or panics with it when the member has none.
func (b *Bridge) scriptFailure(m *Member, se *ScriptError) []reflect.Value {
	b.log.Debugf("script failure in %s: %s", m.Name, se.Message)
	if m.Err {
		return results(m, nil, se)
	}
	panic(se)
}

// ---------------------------------------------------------------------------
// Building proxies
// ---------------------------------------------------------------------------

// proxyKey identifies a cached proxy. Subclass proxies also key on the
// identity of their base object.
type proxyKey struct {
	self  lua.LValue
	shape Shape
	base  ptrKey
}

// delegateFor returns a func of type t that calls fn.
func (b *Bridge) delegateFor(fn *lua.LFunction, t reflect.Type) (reflect.Value, error) {
	shape := DelegateShape(t)
	key := proxyKey{self: fn, shape: shape}
	if v, ok := b.cachedProxy(key); ok {
		return v, nil
	}
	desc, err := b.proxies.GetOrCreate(shape)
	if err != nil {
		return reflect.Value{}, err
	}
	m := &desc.Members[0]
	v := reflect.MakeFunc(t, func(in []reflect.Value) []reflect.Value {
		return b.callScript(fn, nil, m, in)
	})
	return b.storeProxy(key, v), nil
}

// implement returns a value of interface type t backed by self. With base
// set, members the script does not provide fall back to base.
func (b *Bridge) implement(t reflect.Type, self lua.LValue, base reflect.Value) (reflect.Value, error) {
	shape := InterfaceShape(t)
	cacheable := true
	var baseKey ptrKey
	if base.IsValid() {
		shape = SubclassShape(t, base.Type())
		baseKey, cacheable = internKey(base)
	}
	key := proxyKey{self: self, shape: shape, base: baseKey}
	if cacheable {
		if v, ok := b.cachedProxy(key); ok {
			return v, nil
		}
	}

	desc, err := b.proxies.GetOrCreate(shape)
	if err != nil {
		return reflect.Value{}, err
	}
	p := &Proxy{desc: desc, b: b, self: self, base: base}
	obj := reflect.ValueOf(desc.adapter(p))
	if !obj.IsValid() || !obj.Type().Implements(t) {
		return reflect.Value{}, fmt.Errorf("adapter for %s returned %v", t, obj)
	}
	iv := reflect.New(t).Elem()
	iv.Set(obj)
	if !cacheable {
		return iv, nil
	}
	return b.storeProxy(key, iv), nil
}

// extend builds a subclass proxy over base and exposes base to the script
// table under the configured back-reference field.
func (b *Bridge) extend(t reflect.Type, base reflect.Value, tbl *lua.LTable) (reflect.Value, error) {
	if !base.Type().Implements(t) {
		return reflect.Value{}, fmt.Errorf("%s does not implement %s", base.Type(), t)
	}
	tbl.RawSetString(b.baseField, b.ToScript(base))
	return b.implement(t, tbl, base)
}

func (b *Bridge) cachedProxy(key proxyKey) (reflect.Value, bool) {
	b.proxyMu.Lock()
	defer b.proxyMu.Unlock()
	v, ok := b.proxyCache[key]
	return v, ok
}

func (b *Bridge) storeProxy(key proxyKey, v reflect.Value) reflect.Value {
	b.proxyMu.Lock()
	defer b.proxyMu.Unlock()
	if prev, ok := b.proxyCache[key]; ok {
		return prev
	}
	b.proxyCache[key] = v
	return v
}

// Implement returns an I backed by a script table or function.
func Implement[I any](b *Bridge, self lua.LValue) (I, error) {
	var zero I
	t := reflect.TypeOf((*I)(nil)).Elem()
	if t.Kind() != reflect.Interface {
		return zero, fmt.Errorf("Implement: %s is not an interface", t)
	}
	switch self.(type) {
	case *lua.LTable, *lua.LFunction:
	default:
		return zero, fmt.Errorf("Implement: expected table or function, got %s", self.Type())
	}
	v, err := b.implement(t, self, reflect.Value{})
	if err != nil {
		return zero, err
	}
	return v.Interface().(I), nil
}

// Extend returns an I whose members come from tbl when present and from
// base otherwise. tbl gains a back-reference to base.
func Extend[I any](b *Bridge, base I, tbl *lua.LTable) (I, error) {
	var zero I
	t := reflect.TypeOf((*I)(nil)).Elem()
	bv := reflect.ValueOf(base)
	if !bv.IsValid() {
		return zero, fmt.Errorf("Extend: nil base")
	}
	v, err := b.extend(t, bv, tbl)
	if err != nil {
		return zero, err
	}
	return v.Interface().(I), nil
}

// Delegate returns a func of type F that calls fn.
func Delegate[F any](b *Bridge, fn *lua.LFunction) (F, error) {
	var zero F
	t := reflect.TypeOf((*F)(nil)).Elem()
	if t.Kind() != reflect.Func {
		return zero, fmt.Errorf("Delegate: %s is not a func type", t)
	}
	v, err := b.delegateFor(fn, t)
	if err != nil {
		return zero, err
	}
	return v.Interface().(F), nil
}
