package bridge

import (
	"errors"
	"testing"

	lua "github.com/yuin/gopher-lua"
)

func TestEventSubscribeUnsubscribe(t *testing.T) {
	L, b := newTestBridge(t)
	c := NewCalc()
	b.SetGlobal("c", c)

	run(t, L, `
		count = 0
		sub = c.Changed:Add(function(old, new) count = count + 1; last = new end)
		c:Set(5)
	`)
	expectNumber(t, L, "count", 1)
	expectNumber(t, L, "last", 5)
	if b.Subscriptions() != 1 || c.Changed.Len() != 1 {
		t.Fatalf("Expected one live subscription, got %d/%d", b.Subscriptions(), c.Changed.Len())
	}

	run(t, L, `
		removed = sub:Remove()
		c:Set(6)
	`)
	if L.GetGlobal("removed") != lua.LTrue {
		t.Error("Expected Remove to succeed")
	}
	expectNumber(t, L, "count", 1)
	if b.Subscriptions() != 0 {
		t.Errorf("Expected registry empty, got %d", b.Subscriptions())
	}
	if c.Changed.Len() != 0 {
		t.Errorf("Expected handler detached, got %d", c.Changed.Len())
	}

	run(t, L, `again = sub:Remove()`)
	if L.GetGlobal("again") != lua.LFalse {
		t.Error("Expected second Remove to report false")
	}
}

func TestEventRemoveThroughEvent(t *testing.T) {
	L, b := newTestBridge(t)
	b.SetGlobal("c", NewCalc())

	run(t, L, `
		fired = 0
		s1 = c.Changed:Add(function() fired = fired + 1 end)
		s2 = c.Changed:Add(function() fired = fired + 10 end)
		n = c.Changed:Count()
		c.Changed:Remove(s1)
		c:Set(1)
	`)
	expectNumber(t, L, "n", 2)
	expectNumber(t, L, "fired", 10)
	if b.Subscriptions() != 1 {
		t.Errorf("Expected 1 subscription, got %d", b.Subscriptions())
	}
}

func TestHostSideSubscribe(t *testing.T) {
	L, b := newTestBridge(t)
	c := NewCalc()

	run(t, L, `seen = {} function onChange(old, new) seen[#seen + 1] = old .. ">" .. new end`)
	sub, err := b.Subscribe(c, "Changed", L.GetGlobal("onChange").(*lua.LFunction))
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if sub.Event != "Calc.Changed" {
		t.Errorf("Expected event name Calc.Changed, got %s", sub.Event)
	}

	c.Set(2)
	c.Set(4)
	run(t, L, `log = table.concat(seen, " ")`)
	expectString(t, L, "log", "0>2 2>4")

	if err := b.Unsubscribe(sub); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	if err := b.Unsubscribe(sub); !errors.Is(err, ErrNotSubscribed) {
		t.Errorf("Expected ErrNotSubscribed, got %v", err)
	}
	c.Set(8)
	run(t, L, `n = #seen`)
	expectNumber(t, L, "n", 2)
}

func TestSubscribeNotAnEvent(t *testing.T) {
	L, b := newTestBridge(t)
	run(t, L, `function f() end`)
	fn := L.GetGlobal("f").(*lua.LFunction)

	for _, name := range []string{"Total", "Missing", "adds"} {
		if _, err := b.Subscribe(NewCalc(), name, fn); !errors.Is(err, ErrNotEvent) {
			t.Errorf("Expected ErrNotEvent for %s, got %v", name, err)
		}
	}
}

func TestCloseTearsDownSubscriptions(t *testing.T) {
	L, b := newTestBridge(t)
	c1, c2 := NewCalc(), NewCalc()
	b.SetGlobal("c1", c1)
	b.SetGlobal("c2", c2)

	run(t, L, `
		hits = 0
		c1.Changed:Add(function() hits = hits + 1 end)
		c2.Changed:Add(function() hits = hits + 1 end)
		c2.Changed:Add(function() hits = hits + 1 end)
	`)
	if b.Subscriptions() != 3 {
		t.Fatalf("Expected 3 subscriptions, got %d", b.Subscriptions())
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if b.Subscriptions() != 0 || c1.Changed.Len() != 0 || c2.Changed.Len() != 0 {
		t.Errorf("Expected every handler detached, got %d/%d/%d",
			b.Subscriptions(), c1.Changed.Len(), c2.Changed.Len())
	}
	c1.Set(1)
	c2.Set(1)
	expectNumber(t, L, "hits", 0)

	if err := b.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed on second Close, got %v", err)
	}
	if _, err := b.Subscribe(c1, "Changed", L.NewFunction(func(*lua.LState) int { return 0 })); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed after Close, got %v", err)
	}
}

func TestEventDirect(t *testing.T) {
	var ev Event[func(string)]
	var got []string
	id1 := ev.Add(func(s string) { got = append(got, "a:"+s) })
	ev.Add(func(s string) { got = append(got, "b:"+s) })

	for _, h := range ev.Handlers() {
		h("x")
	}
	if !ev.Remove(id1) {
		t.Error("Expected Remove to find the handler")
	}
	if ev.Remove(id1) {
		t.Error("Expected second Remove to fail")
	}
	for _, h := range ev.Handlers() {
		h("y")
	}
	want := []string{"a:x", "b:x", "b:y"}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected %v, got %v", want, got)
			break
		}
	}
}
