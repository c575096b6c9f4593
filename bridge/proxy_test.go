package bridge

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"
	"sync"
	"testing"

	lua "github.com/yuin/gopher-lua"
)

var itestType = reflect.TypeOf((*ITest)(nil)).Elem()

func itestFactory(p *Proxy) any { return itestAdapter{p} }

func registerITest(t *testing.T, b *Bridge, defaults map[string]any) {
	t.Helper()
	if err := b.Proxies().RegisterAdapter(itestType, itestFactory, defaults); err != nil {
		t.Fatalf("RegisterAdapter failed: %v", err)
	}
	if err := b.RegisterInterface("ITest", itestType); err != nil {
		t.Fatalf("RegisterInterface failed: %v", err)
	}
}

func TestInterfaceProxyFallback(t *testing.T) {
	L, b := newTestBridge(t)
	registerITest(t, b, nil)

	run(t, L, `impl = { test1 = function(self, a, b) return a * b end }`)
	it, err := Implement[ITest](b, L.GetGlobal("impl"))
	if err != nil {
		t.Fatalf("Implement failed: %v", err)
	}

	if got := it.Test1(2, 3); got != 6 {
		t.Errorf("Expected Test1(2, 3) = 6, got %d", got)
	}
	if got := it.IntProp(); got != 0 {
		t.Errorf("Expected IntProp fallback 0, got %d", got)
	}
	it.SetIntProp(5)
}

func TestInterfaceProxyDefaultBody(t *testing.T) {
	L, b := newTestBridge(t)
	registerITest(t, b, map[string]any{
		"IntProp": func() int { return -1 },
	})

	run(t, L, `
		plain = {}
		valued = { IntProp = 42 }
	`)
	plain, err := Implement[ITest](b, L.GetGlobal("plain"))
	if err != nil {
		t.Fatalf("Implement failed: %v", err)
	}
	if got := plain.IntProp(); got != -1 {
		t.Errorf("Expected default body -1, got %d", got)
	}

	valued, err := Implement[ITest](b, L.GetGlobal("valued"))
	if err != nil {
		t.Fatalf("Implement failed: %v", err)
	}
	if got := valued.IntProp(); got != 42 {
		t.Errorf("Expected script value 42, got %d", got)
	}
}

func TestInterfaceProxyFromScript(t *testing.T) {
	L, b := newTestBridge(t)
	registerITest(t, b, nil)
	err := b.RegisterFunc("Calc", "UseTest", func(it ITest) int { return it.Test1(4, 5) })
	if err != nil {
		t.Fatalf("RegisterFunc failed: %v", err)
	}

	run(t, L, `
		impl = { Test1 = function(self, a, b) return a - b end }
		u1 = Calc.UseTest(impl)
		u2 = Calc.UseTest(host.implement("ITest", impl))
		p = host.implement("ITest", impl)
		u3 = p:Test1(10, 1)
	`)
	expectNumber(t, L, "u1", -1)
	expectNumber(t, L, "u2", -1)
	expectNumber(t, L, "u3", 9)
}

func TestProxyCachedPerScriptValue(t *testing.T) {
	L, b := newTestBridge(t)
	registerITest(t, b, nil)

	run(t, L, `impl = {}`)
	a, _ := Implement[ITest](b, L.GetGlobal("impl"))
	c, _ := Implement[ITest](b, L.GetGlobal("impl"))
	if a != c {
		t.Error("Expected the same proxy for the same table")
	}
}

func TestSubclassProxy(t *testing.T) {
	L, b := newTestBridge(t)
	registerITest(t, b, nil)

	run(t, L, `sub = { test1 = function(self, a, b) return self.base:Test1(a, b) + 1 end }`)
	tbl := L.GetGlobal("sub").(*lua.LTable)
	base := &baseTest{v: 7}

	it, err := Extend[ITest](b, ITest(base), tbl)
	if err != nil {
		t.Fatalf("Extend failed: %v", err)
	}
	if got := it.IntProp(); got != 7 {
		t.Errorf("Expected base IntProp 7, got %d", got)
	}
	if got := it.Test1(2, 3); got != 6 {
		t.Errorf("Expected overridden Test1 6, got %d", got)
	}
	it.SetIntProp(9)
	if base.v != 9 {
		t.Errorf("Expected base SetIntProp to run, got %d", base.v)
	}
	if tbl.RawGetString(DefaultBaseField).Type() != lua.LTUserData {
		t.Error("Expected base back-reference on the script table")
	}
}

func TestSubclassFromScript(t *testing.T) {
	L, b := newTestBridge(t, WithBaseField("super"))
	registerITest(t, b, nil)
	b.SetGlobal("bt", &baseTest{v: 3})

	run(t, L, `
		x = host.extend(bt, "ITest", {
			IntProp = function(self) return self.super:IntProp() * 10 end,
		})
		v = x:IntProp()
		s = x:Test1(1, 1)
	`)
	expectNumber(t, L, "v", 30)
	expectNumber(t, L, "s", 2)
}

func TestSubclassProxyPerBase(t *testing.T) {
	L, b := newTestBridge(t)
	registerITest(t, b, nil)

	run(t, L, `sub = { test1 = function(self, a, b) return self.base:IntProp() end }`)
	tbl := L.GetGlobal("sub").(*lua.LTable)
	first, second := &baseTest{v: 1}, &baseTest{v: 2}

	x, err := Extend[ITest](b, ITest(first), tbl)
	if err != nil {
		t.Fatalf("Extend failed: %v", err)
	}
	y, err := Extend[ITest](b, ITest(second), tbl)
	if err != nil {
		t.Fatalf("Extend failed: %v", err)
	}

	if got := x.IntProp(); got != 1 {
		t.Errorf("Expected first proxy to fall back to its own base, got %d", got)
	}
	if got := y.IntProp(); got != 2 {
		t.Errorf("Expected second proxy to fall back to the second base, got %d", got)
	}
	if got := y.Test1(0, 0); got != y.IntProp() {
		t.Errorf("Expected script base and host fallback to agree, got %d and %d", got, y.IntProp())
	}

	again, err := Extend[ITest](b, ITest(second), tbl)
	if err != nil {
		t.Fatalf("Extend failed: %v", err)
	}
	if again != y {
		t.Error("Expected extending the same base twice to reuse the proxy")
	}
}

func TestDelegateProxy(t *testing.T) {
	L, b := newTestBridge(t)

	run(t, L, `function add(a, b) seen = a .. "," .. b; return a + b end`)
	add, err := Delegate[func(int, int) int](b, L.GetGlobal("add").(*lua.LFunction))
	if err != nil {
		t.Fatalf("Delegate failed: %v", err)
	}
	if got := add(2, 3); got != 5 {
		t.Errorf("Expected 5, got %d", got)
	}
	expectString(t, L, "seen", "2,3")
}

func TestDelegateRefResults(t *testing.T) {
	L, b := newTestBridge(t)

	run(t, L, `function twice(a, out) return true, a * 2 end`)
	twice, err := Delegate[func(int, *int) bool](b, L.GetGlobal("twice").(*lua.LFunction))
	if err != nil {
		t.Fatalf("Delegate failed: %v", err)
	}
	var out int
	if !twice(4, &out) {
		t.Error("Expected true")
	}
	if out != 8 {
		t.Errorf("Expected ref result 8, got %d", out)
	}
}

func TestDelegateScriptErrorResult(t *testing.T) {
	L, b := newTestBridge(t)

	run(t, L, `function fail(x) error("bad " .. x) end`)
	fail, err := Delegate[func(int) (int, error)](b, L.GetGlobal("fail").(*lua.LFunction))
	if err != nil {
		t.Fatalf("Delegate failed: %v", err)
	}
	n, err := fail(3)
	if n != 0 {
		t.Errorf("Expected zero result, got %d", n)
	}
	var se *ScriptError
	if !errors.As(err, &se) {
		t.Fatalf("Expected ScriptError, got %v", err)
	}
	if !strings.Contains(se.Message, "bad 3") {
		t.Errorf("Expected message to mention bad 3, got %q", se.Message)
	}
}

func TestDelegateScriptErrorPanics(t *testing.T) {
	L, b := newTestBridge(t)

	run(t, L, `function fail(x) error("boom") end`)
	fail, err := Delegate[func(int) int](b, L.GetGlobal("fail").(*lua.LFunction))
	if err != nil {
		t.Fatalf("Delegate failed: %v", err)
	}
	defer func() {
		r := recover()
		if _, ok := r.(*ScriptError); !ok {
			t.Errorf("Expected *ScriptError panic, got %v", r)
		}
	}()
	fail(1)
}

func TestScriptErrorThroughHostCall(t *testing.T) {
	L, b := newTestBridge(t)
	err := b.RegisterFunc("Calc", "Apply", func(f func(int) int, x int) int { return f(x) })
	if err != nil {
		t.Fatalf("RegisterFunc failed: %v", err)
	}

	run(t, L, `
		a = Calc.Apply(function(x) return x * 3 end, 5)
		ok, err = pcall(function()
			return Calc.Apply(function(x) error("nope") end, 1)
		end)
		kind = err.kind
	`)
	expectNumber(t, L, "a", 15)
	expectString(t, L, "kind", "script")
	var se *ScriptError
	if !errors.As(b.Pending(), &se) {
		t.Errorf("Expected pending ScriptError, got %v", b.Pending())
	}
}

func TestStdAdapters(t *testing.T) {
	L, b := newTestBridge(t)
	err := b.RegisterFunc("Calc", "Show", func(s fmt.Stringer) string { return "<" + s.String() + ">" })
	if err != nil {
		t.Fatalf("RegisterFunc failed: %v", err)
	}
	if err := b.RegisterFunc("Calc", "Sort", func(s sort.Interface) { sort.Sort(s) }); err != nil {
		t.Fatalf("RegisterFunc failed: %v", err)
	}
	err = b.RegisterFunc("Calc", "Greet", func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "hello %d", 42)
		return err
	})
	if err != nil {
		t.Fatalf("RegisterFunc failed: %v", err)
	}

	run(t, L, `
		shown = Calc.Show(function() return "hi" end)

		data = {5, 2, 9, 1}
		Calc.Sort({
			Len = function(self) return #data end,
			Less = function(self, i, j) return data[i+1] < data[j+1] end,
			Swap = function(self, i, j) data[i+1], data[j+1] = data[j+1], data[i+1] end,
		})
		sorted = table.concat(data, ",")

		buf = ""
		Calc.Greet({ write = function(self, s) buf = buf .. s; return #s end })
	`)
	expectString(t, L, "shown", "<hi>")
	expectString(t, L, "sorted", "1,2,5,9")
	expectString(t, L, "buf", "hello 42")
}

func TestProxySynthesisIdempotent(t *testing.T) {
	g := NewProxyGenerator()
	if err := g.RegisterAdapter(itestType, itestFactory, nil); err != nil {
		t.Fatalf("RegisterAdapter failed: %v", err)
	}
	shapes := []Shape{
		InterfaceShape(itestType),
		SubclassShape(itestType, reflect.TypeOf(&baseTest{})),
		DelegateShape(reflect.TypeOf(func(int, int) int { return 0 })),
	}

	const workers = 32
	for _, shape := range shapes {
		got := make([]*ProxyDescriptor, workers)
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				d, err := g.GetOrCreate(shape)
				if err != nil {
					t.Errorf("GetOrCreate(%s) failed: %v", shape, err)
					return
				}
				got[i] = d
			}(i)
		}
		wg.Wait()
		for i := 1; i < workers; i++ {
			if got[i] != got[0] {
				t.Fatalf("Expected one descriptor for %s, got distinct results", shape)
			}
		}
	}
	if n := g.Synthesized(); n != len(shapes) {
		t.Errorf("Expected %d syntheses, got %d", len(shapes), n)
	}
}

func TestProxyDescriptorManifest(t *testing.T) {
	g := NewProxyGenerator()
	if err := g.RegisterAdapter(itestType, itestFactory, nil); err != nil {
		t.Fatalf("RegisterAdapter failed: %v", err)
	}
	d, err := g.GetOrCreate(InterfaceShape(itestType))
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if len(d.Members) != 3 {
		t.Fatalf("Expected 3 members, got %d", len(d.Members))
	}
	m, ok := d.Member("Test1")
	if !ok {
		t.Fatal("Expected Test1 member")
	}
	if m.Index != 2 || len(m.Params) != 2 || len(m.Results) != 1 {
		t.Errorf("Unexpected Test1 manifest %+v", m)
	}
	if len(m.Lookup) != 2 || m.Lookup[1] != "test1" {
		t.Errorf("Expected lookup names [Test1 test1], got %v", m.Lookup)
	}

	dd, err := g.GetOrCreate(DelegateShape(reflect.TypeOf(func(int, *int) (bool, error) { return false, nil })))
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	inv := dd.Members[0]
	if len(inv.Refs) != 1 || inv.Refs[0] != 1 || !inv.Err || len(inv.Results) != 1 {
		t.Errorf("Unexpected delegate manifest %+v", inv)
	}
}

func TestProxyWithoutAdapter(t *testing.T) {
	g := NewProxyGenerator()
	_, err := g.GetOrCreate(InterfaceShape(reflect.TypeOf((*io.Reader)(nil)).Elem()))
	if !errors.Is(err, ErrNoAdapter) {
		t.Errorf("Expected ErrNoAdapter, got %v", err)
	}
	if g.Count() != 0 {
		t.Errorf("Expected failed synthesis not to be cached, got %d", g.Count())
	}
}

func TestSharedProxyGenerator(t *testing.T) {
	g := NewProxyGenerator()
	if err := g.RegisterAdapter(itestType, itestFactory, nil); err != nil {
		t.Fatalf("RegisterAdapter failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		L := lua.NewState()
		b := New(L, WithProxyGenerator(g))
		if err := L.DoString(`impl = {}`); err != nil {
			t.Fatal(err)
		}
		if _, err := Implement[ITest](b, L.GetGlobal("impl")); err != nil {
			t.Fatalf("Implement failed: %v", err)
		}
		L.Close()
	}
	if n := g.Synthesized(); n != 1 {
		t.Errorf("Expected one synthesis across bridges, got %d", n)
	}
}

func TestLowerCamel(t *testing.T) {
	tests := map[string]string{
		"Test1":   "test1",
		"IntProp": "intProp",
		"URL":     "url",
		"x":       "x",
		"":        "",
	}
	for in, want := range tests {
		if got := LowerCamel(in); got != want {
			t.Errorf("LowerCamel(%q) = %q, expected %q", in, got, want)
		}
	}
}
