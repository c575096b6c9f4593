package bridge

import (
	"reflect"

	lua "github.com/yuin/gopher-lua"
)

// ---------------------------------------------------------------------------
// Value extraction and pushing
// ---------------------------------------------------------------------------

// Extractor converts a script value to a host value of one fixed type.
// cost ranks the conversion for overload tie-breaking.
type Extractor func(b *Bridge, lv lua.LValue) (v reflect.Value, cost int, ok bool)

// Conversion costs. Lower is a better match.
const (
	costExact    = 0
	costConvert  = 1 // float narrowing, representation change, interface boxing
	costTruncate = 2 // number to integer kinds
	costLossy    = 3 // untyped any, raw script values
)

var (
	luaValueType    = reflect.TypeOf((*lua.LValue)(nil)).Elem()
	luaTableType    = reflect.TypeOf((*lua.LTable)(nil))
	luaFunctionType = reflect.TypeOf((*lua.LFunction)(nil))
	errorType       = reflect.TypeOf((*error)(nil)).Elem()
	optionalType    = reflect.TypeOf((*optional)(nil)).Elem()
)

// Optional wraps a value-typed parameter that also accepts script nil.
type Optional[T any] struct {
	Value T
	Valid bool
}

// Some returns a present Optional.
func Some[T any](v T) Optional[T] { return Optional[T]{Value: v, Valid: true} }

func (o Optional[T]) optionalElem() reflect.Type { return reflect.TypeOf((*T)(nil)).Elem() }

type optional interface {
	optionalElem() reflect.Type
}

func isNil(lv lua.LValue) bool {
	return lv == nil || lv.Type() == lua.LTNil
}

// nullable reports whether script nil converts to the zero value of t.
func nullable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map,
		reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return true
	}
	return false
}

// Extract converts lv to a value of type t.
func (b *Bridge) Extract(lv lua.LValue, t reflect.Type) (reflect.Value, bool) {
	v, _, ok := b.extractorFor(t)(b, lv)
	return v, ok
}

// extractorFor returns the cached extractor for t.
func (b *Bridge) extractorFor(t reflect.Type) Extractor {
	if ex, ok := b.extractors.Load(t); ok {
		return ex.(Extractor)
	}
	ex := buildExtractor(t)
	actual, _ := b.extractors.LoadOrStore(t, ex)
	return actual.(Extractor)
}

func buildExtractor(t reflect.Type) Extractor {
	switch {
	case t == luaValueType:
		return func(b *Bridge, lv lua.LValue) (reflect.Value, int, bool) {
			if lv == nil {
				lv = lua.LNil
			}
			return reflect.ValueOf(&lv).Elem(), costLossy, true
		}
	case t == luaTableType:
		return func(b *Bridge, lv lua.LValue) (reflect.Value, int, bool) {
			if isNil(lv) {
				return reflect.Zero(t), costExact, true
			}
			tbl, ok := lv.(*lua.LTable)
			return reflect.ValueOf(tbl), costExact, ok
		}
	case t == luaFunctionType:
		return func(b *Bridge, lv lua.LValue) (reflect.Value, int, bool) {
			if isNil(lv) {
				return reflect.Zero(t), costExact, true
			}
			fn, ok := lv.(*lua.LFunction)
			return reflect.ValueOf(fn), costExact, ok
		}
	case t.Kind() == reflect.Struct && t.Implements(optionalType):
		return optionalExtractor(t)
	}

	switch t.Kind() {
	case reflect.Bool:
		return func(b *Bridge, lv lua.LValue) (reflect.Value, int, bool) {
			if bv, ok := lv.(lua.LBool); ok {
				v := reflect.New(t).Elem()
				v.SetBool(bool(bv))
				return v, costExact, true
			}
			return fromHandle(b, lv, t)
		}

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return numberExtractor(t)

	case reflect.String:
		return func(b *Bridge, lv lua.LValue) (reflect.Value, int, bool) {
			if s, ok := lv.(lua.LString); ok {
				v := reflect.New(t).Elem()
				v.SetString(string(s))
				return v, costExact, true
			}
			return fromHandle(b, lv, t)
		}

	case reflect.Slice:
		return sliceExtractor(t)

	case reflect.Array:
		return arrayExtractor(t)

	case reflect.Map:
		return mapExtractor(t)

	case reflect.Func:
		return func(b *Bridge, lv lua.LValue) (reflect.Value, int, bool) {
			if isNil(lv) {
				return reflect.Zero(t), costExact, true
			}
			if fn, ok := lv.(*lua.LFunction); ok {
				v, err := b.delegateFor(fn, t)
				if err != nil {
					return reflect.Value{}, 0, false
				}
				return v, costConvert, true
			}
			return fromHandle(b, lv, t)
		}

	case reflect.Interface:
		return interfaceExtractor(t)
	}

	// Pointers, structs, channels and the rest only come back as handles.
	return func(b *Bridge, lv lua.LValue) (reflect.Value, int, bool) {
		if isNil(lv) {
			if nullable(t) {
				return reflect.Zero(t), costExact, true
			}
			return reflect.Value{}, 0, false
		}
		return fromHandle(b, lv, t)
	}
}

// fromHandle resolves a userdata handle to the host object it stands for.
func fromHandle(b *Bridge, lv lua.LValue, t reflect.Type) (reflect.Value, int, bool) {
	v, ok := b.objects.Lookup(lv)
	if !ok {
		return reflect.Value{}, 0, false
	}
	vt := v.Type()
	switch {
	case vt == t:
		return v, costExact, true
	case vt.AssignableTo(t):
		return v, costConvert, true
	case vt.Kind() == reflect.Ptr && !v.IsNil() && vt.Elem().AssignableTo(t):
		return v.Elem(), costConvert, true
	}
	return reflect.Value{}, 0, false
}

func numberExtractor(t reflect.Type) Extractor {
	// The cost depends on the target kind only, never on the number, so
	// every number picks the same overload.
	cost := costTruncate
	switch t.Kind() {
	case reflect.Float64:
		cost = costExact
	case reflect.Float32:
		cost = costConvert
	}
	return func(b *Bridge, lv lua.LValue) (reflect.Value, int, bool) {
		n, ok := lv.(lua.LNumber)
		if !ok {
			return fromHandle(b, lv, t)
		}
		f := float64(n)
		v := reflect.New(t).Elem()
		switch t.Kind() {
		case reflect.Float32, reflect.Float64:
			v.SetFloat(f)
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			v.SetInt(int64(f))
		default:
			if f < 0 {
				v.SetUint(uint64(int64(f)))
			} else {
				v.SetUint(uint64(f))
			}
		}
		return v, cost, true
	}
}

func sliceExtractor(t reflect.Type) Extractor {
	bytes := t.Elem().Kind() == reflect.Uint8
	return func(b *Bridge, lv lua.LValue) (reflect.Value, int, bool) {
		switch x := lv.(type) {
		case lua.LString:
			if bytes {
				v := reflect.New(t).Elem()
				v.SetBytes([]byte(string(x)))
				return v, costConvert, true
			}
			return reflect.Value{}, 0, false
		case *lua.LTable:
			n := x.Len()
			ex := b.extractorFor(t.Elem())
			s := reflect.MakeSlice(t, n, n)
			cost := costExact
			for i := 1; i <= n; i++ {
				ev, c, ok := ex(b, x.RawGetInt(i))
				if !ok {
					return reflect.Value{}, 0, false
				}
				s.Index(i - 1).Set(ev)
				cost = max(cost, c)
			}
			return s, cost, true
		}
		if isNil(lv) {
			return reflect.Zero(t), costExact, true
		}
		return fromHandle(b, lv, t)
	}
}

func arrayExtractor(t reflect.Type) Extractor {
	return func(b *Bridge, lv lua.LValue) (reflect.Value, int, bool) {
		tbl, ok := lv.(*lua.LTable)
		if !ok {
			return fromHandle(b, lv, t)
		}
		n := tbl.Len()
		if n > t.Len() {
			return reflect.Value{}, 0, false
		}
		ex := b.extractorFor(t.Elem())
		a := reflect.New(t).Elem()
		cost := costExact
		for i := 1; i <= n; i++ {
			ev, c, ok := ex(b, tbl.RawGetInt(i))
			if !ok {
				return reflect.Value{}, 0, false
			}
			a.Index(i - 1).Set(ev)
			cost = max(cost, c)
		}
		return a, cost, true
	}
}

func mapExtractor(t reflect.Type) Extractor {
	return func(b *Bridge, lv lua.LValue) (reflect.Value, int, bool) {
		tbl, ok := lv.(*lua.LTable)
		if !ok {
			if isNil(lv) {
				return reflect.Zero(t), costExact, true
			}
			return fromHandle(b, lv, t)
		}
		kex := b.extractorFor(t.Key())
		vex := b.extractorFor(t.Elem())
		m := reflect.MakeMap(t)
		cost := costExact
		failed := false
		tbl.ForEach(func(k, v lua.LValue) {
			if failed {
				return
			}
			kv, kc, ok := kex(b, k)
			if !ok {
				failed = true
				return
			}
			vv, vc, ok := vex(b, v)
			if !ok {
				failed = true
				return
			}
			m.SetMapIndex(kv, vv)
			cost = max(cost, kc, vc)
		})
		if failed {
			return reflect.Value{}, 0, false
		}
		return m, cost, true
	}
}

func interfaceExtractor(t reflect.Type) Extractor {
	empty := t.NumMethod() == 0
	return func(b *Bridge, lv lua.LValue) (reflect.Value, int, bool) {
		if isNil(lv) {
			return reflect.Zero(t), costExact, true
		}
		if v, c, ok := fromHandle(b, lv, t); ok {
			return v, c, true
		}
		if empty {
			h := b.ToHost(lv)
			if h == nil {
				return reflect.Zero(t), costLossy, true
			}
			return reflect.ValueOf(h), costLossy, true
		}
		switch lv.(type) {
		case *lua.LTable, *lua.LFunction:
			v, err := b.implement(t, lv, reflect.Value{})
			if err != nil {
				return reflect.Value{}, 0, false
			}
			return v, costConvert, true
		}
		// script values that already satisfy t, e.g. fmt.Stringer
		if reflect.TypeOf(lv).Implements(t) {
			return reflect.ValueOf(lv), costLossy, true
		}
		return reflect.Value{}, 0, false
	}
}

func optionalExtractor(t reflect.Type) Extractor {
	elem := reflect.Zero(t).Interface().(optional).optionalElem()
	return func(b *Bridge, lv lua.LValue) (reflect.Value, int, bool) {
		if isNil(lv) {
			return reflect.Zero(t), costExact, true
		}
		ev, c, ok := b.extractorFor(elem)(b, lv)
		if !ok {
			return reflect.Value{}, 0, false
		}
		v := reflect.New(t).Elem()
		v.Field(0).Set(ev)
		v.Field(1).SetBool(true)
		return v, c, true
	}
}

// ToHost converts a script value to its natural host representation:
// numbers become float64, handles their object, tables and functions stay
// script values.
func (b *Bridge) ToHost(lv lua.LValue) any {
	switch x := lv.(type) {
	case nil:
		return nil
	case lua.LBool:
		return bool(x)
	case lua.LNumber:
		return float64(x)
	case lua.LString:
		return string(x)
	case *lua.LTable:
		return x
	case *lua.LFunction:
		return x
	case *lua.LUserData:
		if v, ok := b.objects.Lookup(x); ok {
			return v.Interface()
		}
		return x.Value
	}
	if isNil(lv) {
		return nil
	}
	return lv
}

// naturalType is the host type ToHost would produce for lv, or nil.
func (b *Bridge) naturalType(lv lua.LValue) reflect.Type {
	switch lv.(type) {
	case lua.LBool, lua.LNumber, lua.LString:
		return reflect.TypeOf(b.ToHost(lv))
	case *lua.LUserData:
		if v, ok := b.objects.Lookup(lv); ok {
			return v.Type()
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Pushing
// ---------------------------------------------------------------------------

// Push writes v to the stack and returns the number of values pushed.
// An invalid value (no result) pushes nothing; a non-nil error pushes
// nothing and becomes the pending exception.
func (b *Bridge) Push(s Stack, v reflect.Value) int {
	if !v.IsValid() {
		return 0
	}
	if v.Type().Implements(errorType) && !(nullable(v.Type()) && v.IsNil()) {
		if err, ok := v.Interface().(error); ok {
			b.setPending(err)
			return 0
		}
	}
	s.Push(b.ToScript(v))
	return 1
}

// PushAny pushes a host value onto the interpreter's stack.
func (b *Bridge) PushAny(v any) int {
	return b.Push(newLuaStack(b.L, b.maxStack), reflect.ValueOf(v))
}

// ToScript converts a host value to a script value. Basic kinds map to
// script primitives, slices and maps to fresh tables, anything else to an
// object handle.
func (b *Bridge) ToScript(v reflect.Value) lua.LValue {
	if !v.IsValid() {
		return lua.LNil
	}
	if v.CanInterface() {
		if lv, ok := v.Interface().(lua.LValue); ok {
			if lv == nil {
				return lua.LNil
			}
			return lv
		}
	}
	t := v.Type()
	if t.Kind() == reflect.Struct && t.Implements(optionalType) {
		if !v.Field(1).Bool() {
			return lua.LNil
		}
		return b.ToScript(v.Field(0))
	}

	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return lua.LNil
		}
		return b.ToScript(v.Elem())
	case reflect.Bool:
		return lua.LBool(v.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return lua.LNumber(float64(v.Int()))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return lua.LNumber(float64(v.Uint()))
	case reflect.Float32, reflect.Float64:
		return lua.LNumber(v.Float())
	case reflect.String:
		return lua.LString(v.String())
	case reflect.Slice:
		if v.IsNil() {
			return lua.LNil
		}
		if t.Elem().Kind() == reflect.Uint8 {
			return lua.LString(string(v.Bytes()))
		}
		return b.sequenceTable(v)
	case reflect.Array:
		return b.sequenceTable(v)
	case reflect.Map:
		if v.IsNil() {
			return lua.LNil
		}
		tbl := b.L.CreateTable(0, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			tbl.RawSet(b.ToScript(iter.Key()), b.ToScript(iter.Value()))
		}
		return tbl
	case reflect.Ptr, reflect.Func, reflect.Chan, reflect.UnsafePointer:
		if v.IsNil() {
			return lua.LNil
		}
	}
	return b.objects.Register(b.L, v, b.metatableFor(t))
}

func (b *Bridge) sequenceTable(v reflect.Value) *lua.LTable {
	tbl := b.L.CreateTable(v.Len(), 0)
	for i := 0; i < v.Len(); i++ {
		tbl.RawSetInt(i+1, b.ToScript(v.Index(i)))
	}
	return tbl
}
