package bridge

import (
	"fmt"
	"reflect"
	"unicode"
	"unicode/utf8"

	lua "github.com/yuin/gopher-lua"
)

// ---------------------------------------------------------------------------
// Script surface: metatables, type tables and the host global
// ---------------------------------------------------------------------------

func upperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || unicode.IsUpper(r) {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// memberName resolves a script key to a Go member name: the key itself,
// then its upper-first alias.
func (b *Bridge) memberName(t reflect.Type, key string, kind memberKind) (string, bool) {
	if b.types.hasMember(t, key, kind) {
		return key, true
	}
	if alias := upperFirst(key); alias != key && b.types.hasMember(t, alias, kind) {
		return alias, true
	}
	return "", false
}

// metatableFor returns the metatable shared by every handle of type t.
func (b *Bridge) metatableFor(t reflect.Type) *lua.LTable {
	b.metaMu.Lock()
	defer b.metaMu.Unlock()
	if mt := b.metatables[t]; mt != nil {
		return mt
	}

	L := b.L
	mt := L.NewTable()
	mt.RawSetString("__index", L.NewFunction(b.objectIndex(t)))
	mt.RawSetString("__newindex", L.NewFunction(b.objectNewIndex(t)))
	mt.RawSetString("__tostring", L.NewFunction(b.objectString(t)))
	mt.RawSetString("__eq", L.NewFunction(b.objectEq))
	if t.Kind() == reflect.Func {
		mt.RawSetString("__call", L.NewFunction(b.objectCall))
	}
	b.metatables[t] = mt
	return mt
}

func (b *Bridge) objectIndex(t reflect.Type) lua.LGFunction {
	return func(L *lua.LState) int {
		ud := L.CheckUserData(1)
		key := L.CheckString(2)
		v, ok := b.objects.Lookup(ud)
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		if name, ok := b.memberName(t, key, memberMethod); ok {
			L.Push(b.sites.getOrCreate(b, t, name, memberMethod).Function())
			return 1
		}
		if lv, ok := b.field(v, key); ok {
			L.Push(lv)
			return 1
		}
		L.Push(lua.LNil)
		return 1
	}
}

// structField finds the exported field key (or its upper-first alias) of
// the struct behind v.
func structField(v reflect.Value, key string) (reflect.Value, reflect.StructField, bool) {
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return reflect.Value{}, reflect.StructField{}, false
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return reflect.Value{}, reflect.StructField{}, false
	}
	sf, ok := v.Type().FieldByName(key)
	if !ok || !sf.IsExported() {
		sf, ok = v.Type().FieldByName(upperFirst(key))
		if !ok || !sf.IsExported() {
			return reflect.Value{}, reflect.StructField{}, false
		}
	}
	f, err := v.FieldByIndexErr(sf.Index)
	if err != nil {
		return reflect.Value{}, reflect.StructField{}, false
	}
	return f, sf, true
}

// field reads a struct field for the script. Event fields come back as
// event references.
func (b *Bridge) field(v reflect.Value, key string) (lua.LValue, bool) {
	f, sf, ok := structField(v, key)
	if !ok {
		return nil, false
	}
	if f.CanAddr() {
		if es, ok := f.Addr().Interface().(EventSource); ok {
			return b.eventRef(es, b.types.TypeName(v.Type())+"."+sf.Name), true
		}
	}
	return b.ToScript(f), true
}

func (b *Bridge) objectNewIndex(t reflect.Type) lua.LGFunction {
	return func(L *lua.LState) int {
		ud := L.CheckUserData(1)
		key := L.CheckString(2)
		v, ok := b.objects.Lookup(ud)
		if !ok {
			L.RaiseError("invalid handle")
			return 0
		}
		f, sf, ok := structField(v, key)
		if !ok || !f.CanSet() {
			L.RaiseError("cannot assign %s.%s", b.types.TypeName(t), key)
			return 0
		}
		nv, ok := b.Extract(L.Get(3), sf.Type)
		if !ok {
			L.RaiseError("cannot assign %s to %s.%s (%s)", L.Get(3).Type(), b.types.TypeName(t), sf.Name, sf.Type)
			return 0
		}
		f.Set(nv)
		return 0
	}
}

func (b *Bridge) objectString(t reflect.Type) lua.LGFunction {
	return func(L *lua.LState) int {
		v, ok := b.objects.Lookup(L.CheckUserData(1))
		if !ok {
			L.Push(lua.LString("<released>"))
			return 1
		}
		if s, ok := v.Interface().(fmt.Stringer); ok {
			L.Push(lua.LString(s.String()))
			return 1
		}
		L.Push(lua.LString(fmt.Sprintf("%s: %v", b.types.TypeName(t), v.Interface())))
		return 1
	}
}

func (b *Bridge) objectEq(L *lua.LState) int {
	x, okx := b.objects.Lookup(L.Get(1))
	y, oky := b.objects.Lookup(L.Get(2))
	if !okx || !oky || x.Type() != y.Type() || !x.Type().Comparable() {
		L.Push(lua.LFalse)
		return 1
	}
	L.Push(lua.LBool(x.Interface() == y.Interface()))
	return 1
}

// objectCall runs a callable host value through its own call site.
func (b *Bridge) objectCall(L *lua.LState) int {
	e := b.objects.entry(L.Get(1))
	if e == nil {
		L.RaiseError("invalid handle")
		return 0
	}
	if e.site == nil {
		e.site = b.sites.valueSite(b, e.value)
	}
	L.Remove(1)
	return e.site.Call(L)
}

// typeTable builds the global table of a registered type: calling it runs
// a constructor, indexing it finds new and the static members.
func (b *Bridge) typeTable(info *TypeInfo) *lua.LTable {
	L := b.L
	t := info.Type
	tbl := L.NewTable()
	mt := L.NewTable()
	mt.RawSetString("__call", L.NewFunction(func(L *lua.LState) int {
		L.Remove(1)
		return b.sites.getOrCreate(b, t, ctorName, memberCtor).Call(L)
	}))
	mt.RawSetString("__index", L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(2)
		if key == ctorName {
			L.Push(b.sites.getOrCreate(b, t, ctorName, memberCtor).Function())
			return 1
		}
		if name, ok := b.memberName(t, key, memberStatic); ok {
			L.Push(b.sites.getOrCreate(b, t, name, memberStatic).Function())
			return 1
		}
		L.Push(lua.LNil)
		return 1
	}))
	mt.RawSetString("__tostring", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString("type " + info.Name))
		return 1
	}))
	L.SetMetatable(tbl, mt)
	return tbl
}

// ---------------------------------------------------------------------------
// Errors, events and subscriptions
// ---------------------------------------------------------------------------

type eventRef struct {
	source EventSource
	name   string
}

func (b *Bridge) eventRef(es EventSource, name string) *lua.LUserData {
	ud := b.L.NewUserData()
	ud.Value = &eventRef{source: es, name: name}
	ud.Metatable = b.eventMeta
	return ud
}

func (b *Bridge) subscriptionValue(sub *Subscription) *lua.LUserData {
	ud := b.L.NewUserData()
	ud.Value = sub
	ud.Metatable = b.subMeta
	return ud
}

func checkEventRef(L *lua.LState, n int) *eventRef {
	if ref, ok := L.CheckUserData(n).Value.(*eventRef); ok {
		return ref
	}
	L.ArgError(n, "event expected")
	return nil
}

func checkSubscription(L *lua.LState, n int) *Subscription {
	if sub, ok := L.CheckUserData(n).Value.(*Subscription); ok {
		return sub
	}
	L.ArgError(n, "subscription expected")
	return nil
}

func (b *Bridge) installMetatables() {
	L := b.L

	b.errorMeta = L.NewTable()
	b.errorMeta.RawSetString("__tostring", L.NewFunction(func(L *lua.LState) int {
		if ce, ok := L.CheckUserData(1).Value.(*CallError); ok {
			L.Push(lua.LString(ce.Error()))
			return 1
		}
		L.Push(lua.LString("error"))
		return 1
	}))
	b.errorMeta.RawSetString("__index", L.NewFunction(func(L *lua.LState) int {
		ce, ok := L.CheckUserData(1).Value.(*CallError)
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		switch L.CheckString(2) {
		case "message":
			L.Push(lua.LString(ce.Err.Error()))
		case "source":
			L.Push(lua.LString(ce.Source))
		case "kind":
			L.Push(lua.LString(ce.Kind.String()))
		case "type":
			L.Push(lua.LString(ce.TypeName))
		default:
			L.Push(lua.LNil)
		}
		return 1
	}))

	eventMethods := map[string]lua.LGFunction{
		"Add": func(L *lua.LState) int {
			ref := checkEventRef(L, 1)
			sub, err := b.subscribe(ref.source, ref.name, L.CheckFunction(2))
			if err != nil {
				L.RaiseError("%s", err)
				return 0
			}
			L.Push(b.subscriptionValue(sub))
			return 1
		},
		"Remove": func(L *lua.LState) int {
			ref := checkEventRef(L, 1)
			sub := checkSubscription(L, 2)
			if sub.source != ref.source {
				L.ArgError(2, "subscription belongs to "+sub.Event)
				return 0
			}
			L.Push(lua.LBool(b.Unsubscribe(sub) == nil))
			return 1
		},
		"Count": func(L *lua.LState) int {
			ref := checkEventRef(L, 1)
			L.Push(lua.LNumber(b.subscriptionsOf(ref.source)))
			return 1
		},
	}
	b.eventMeta = L.NewTable()
	b.eventMeta.RawSetString("__index", L.NewFunction(func(L *lua.LState) int {
		checkEventRef(L, 1)
		if fn, ok := eventMethods[upperFirst(L.CheckString(2))]; ok {
			L.Push(L.NewFunction(fn))
			return 1
		}
		L.Push(lua.LNil)
		return 1
	}))
	b.eventMeta.RawSetString("__tostring", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString("event " + checkEventRef(L, 1).name))
		return 1
	}))

	b.subMeta = L.NewTable()
	b.subMeta.RawSetString("__index", L.NewFunction(func(L *lua.LState) int {
		sub := checkSubscription(L, 1)
		switch L.CheckString(2) {
		case "Remove", "remove":
			L.Push(L.NewFunction(func(L *lua.LState) int {
				L.Push(lua.LBool(b.Unsubscribe(checkSubscription(L, 1)) == nil))
				return 1
			}))
		case "ID", "id":
			L.Push(lua.LNumber(sub.ID))
		case "Event", "event":
			L.Push(lua.LString(sub.Event))
		default:
			L.Push(lua.LNil)
		}
		return 1
	}))
	b.subMeta.RawSetString("__tostring", L.NewFunction(func(L *lua.LState) int {
		sub := checkSubscription(L, 1)
		L.Push(lua.LString(fmt.Sprintf("subscription #%d (%s)", sub.ID, sub.Event)))
		return 1
	}))
}

// subscriptionsOf counts the live subscriptions attached to src.
func (b *Bridge) subscriptionsOf(src EventSource) int {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	n := 0
	for _, sub := range b.subs {
		if sub.source == src {
			n++
		}
	}
	return n
}

// ---------------------------------------------------------------------------
// host global
// ---------------------------------------------------------------------------

func (b *Bridge) interfaceNamed(L *lua.LState, n int) reflect.Type {
	name := L.CheckString(n)
	info := b.types.LookupByName(name)
	if info == nil || info.Type.Kind() != reflect.Interface {
		L.ArgError(n, name+" is not a registered interface")
		return nil
	}
	return info.Type
}

func (b *Bridge) installHost() {
	host := b.L.NewTable()
	b.L.SetFuncs(host, map[string]lua.LGFunction{
		// host.implement(name, tbl|fn)
		"implement": func(L *lua.LState) int {
			t := b.interfaceNamed(L, 1)
			self := L.Get(2)
			switch self.(type) {
			case *lua.LTable, *lua.LFunction:
			default:
				L.ArgError(2, "table or function expected")
				return 0
			}
			v, err := b.implement(t, self, reflect.Value{})
			if err != nil {
				L.RaiseError("implement %s: %s", t, err)
				return 0
			}
			L.Push(b.ToScript(v))
			return 1
		},
		// host.extend(base, name, tbl)
		"extend": func(L *lua.LState) int {
			base, ok := b.objects.Lookup(L.Get(1))
			if !ok {
				L.ArgError(1, "host object expected")
				return 0
			}
			t := b.interfaceNamed(L, 2)
			tbl := L.CheckTable(3)
			v, err := b.extend(t, base, tbl)
			if err != nil {
				L.RaiseError("extend %s: %s", t, err)
				return 0
			}
			L.Push(b.ToScript(v))
			return 1
		},
		"typeof": func(L *lua.LState) int {
			lv := L.Get(1)
			if v, ok := b.objects.Lookup(lv); ok {
				L.Push(lua.LString(b.types.TypeName(v.Type())))
				return 1
			}
			L.Push(lua.LString(lv.Type().String()))
			return 1
		},
		// host.subscribe(obj, "Event", fn)
		"subscribe": func(L *lua.LState) int {
			v, ok := b.objects.Lookup(L.Get(1))
			if !ok {
				L.ArgError(1, "host object expected")
				return 0
			}
			sub, err := b.Subscribe(v.Interface(), L.CheckString(2), L.CheckFunction(3))
			if err != nil {
				L.RaiseError("%s", err)
				return 0
			}
			L.Push(b.subscriptionValue(sub))
			return 1
		},
		// host.release(obj) invalidates a handle ahead of collection.
		"release": func(L *lua.LState) int {
			L.Push(lua.LBool(b.objects.Release(L.Get(1))))
			return 1
		},
		"pending": func(L *lua.LState) int {
			if err := b.Pending(); err != nil {
				L.Push(lua.LString(err.Error()))
				return 1
			}
			L.Push(lua.LNil)
			return 1
		},
	})
	b.L.SetGlobal("host", host)
}
