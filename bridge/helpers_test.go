package bridge

import (
	"errors"
	"fmt"
	"testing"

	lua "github.com/yuin/gopher-lua"
)

var errDivZero = errors.New("division by zero")

// Calc is the host type most bridge tests drive from Lua.
type Calc struct {
	Total   int
	Label   string
	Changed Event[func(old, new int)]

	adds int
}

func NewCalc() *Calc { return &Calc{} }

func NewCalcWith(total int) *Calc { return &Calc{Total: total} }

func (c *Calc) Add(a, b int) int {
	c.adds++
	return a + b
}

func (c *Calc) Set(v int) {
	old := c.Total
	c.Total = v
	for _, h := range c.Changed.Handlers() {
		h(old, v)
	}
}

func (c *Calc) Div(a, b int) (int, error) {
	if b == 0 {
		return 0, errDivZero
	}
	return a / b, nil
}

func (c *Calc) DivMod(a, b int, rem *int) int {
	*rem = a % b
	return a / b
}

func (c *Calc) Boom() { panic("boom") }

func (c *Calc) Describe(o *Calc) string {
	if o == nil {
		return "none"
	}
	return fmt.Sprintf("calc %d", o.Total)
}

func (c *Calc) Pair() (int, string) { return c.Total, c.Label }

// Point is returned by value, so every result is a fresh handle.
type Point struct{ X, Y int }

func (c *Calc) At(x int) Point { return Point{X: x, Y: c.Total} }

// ITest is a small interface with a property-like pair and a method.
type ITest interface {
	IntProp() int
	SetIntProp(v int)
	Test1(a, b int) int
}

type itestAdapter struct{ p *Proxy }

func (a itestAdapter) IntProp() int {
	out := a.p.Call(0)
	r0, _ := out[0].(int)
	return r0
}

func (a itestAdapter) SetIntProp(v int) {
	a.p.Call(1, v)
}

func (a itestAdapter) Test1(x, y int) int {
	out := a.p.Call(2, x, y)
	r0, _ := out[0].(int)
	return r0
}

// baseTest is the host implementation subclass proxies extend.
type baseTest struct{ v int }

func (b *baseTest) IntProp() int { return b.v }

func (b *baseTest) SetIntProp(v int) { b.v = v }

func (b *baseTest) Test1(x, y int) int { return x + y }

func newTestBridge(t testing.TB, opts ...Option) (*lua.LState, *Bridge) {
	t.Helper()
	L := lua.NewState()
	t.Cleanup(L.Close)
	b := New(L, opts...)
	if err := b.RegisterType("Calc", (*Calc)(nil), NewCalc, NewCalcWith); err != nil {
		t.Fatalf("RegisterType failed: %v", err)
	}
	return L, b
}

func run(t testing.TB, L *lua.LState, src string) {
	t.Helper()
	if err := L.DoString(src); err != nil {
		t.Fatalf("script failed: %v", err)
	}
}

func expectNumber(t testing.TB, L *lua.LState, name string, want float64) {
	t.Helper()
	got := L.GetGlobal(name)
	if got != lua.LNumber(want) {
		t.Errorf("Expected %s = %v, got %v", name, want, got)
	}
}

func expectString(t testing.TB, L *lua.LState, name, want string) {
	t.Helper()
	got := L.GetGlobal(name)
	if got != lua.LString(want) {
		t.Errorf("Expected %s = %q, got %v", name, want, got)
	}
}
