package main

import (
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"

	"github.com/chazu/hostbridge/bridge"
)

// Console is the demo host surface scripts write through.
type Console struct {
	out   io.Writer
	Lines int
}

func NewConsole(out io.Writer) *Console { return &Console{out: out} }

// Print writes its arguments separated by spaces.
func (c *Console) Print(args ...any) {
	c.Lines++
	fmt.Fprintln(c.out, args...)
}

func (c *Console) Printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}

// Show prints anything with a String method, script objects included.
func (c *Console) Show(s fmt.Stringer) {
	c.Print(s.String())
}

// Copy writes s to w and reports the byte count.
func (c *Console) Copy(w io.Writer, s string) (int, error) {
	return io.WriteString(w, s)
}

// Counter fires Changed whenever its value moves.
type Counter struct {
	Name    string
	Value   int
	Changed bridge.Event[func(old, new int)]
}

func NewCounter() *Counter { return &Counter{} }

func NewNamedCounter(name string, start int) *Counter {
	return &Counter{Name: name, Value: start}
}

func (c *Counter) Inc(n int) int {
	c.set(c.Value + n)
	return c.Value
}

func (c *Counter) Reset() { c.set(0) }

func (c *Counter) set(v int) {
	old := c.Value
	c.Value = v
	if old == v {
		return
	}
	for _, h := range c.Changed.Handlers() {
		h(old, v)
	}
}

func (c *Counter) String() string {
	return fmt.Sprintf("%s=%d", c.Name, c.Value)
}

// registerHost exposes the demo surface: Console, Counter, a few static
// helpers and the standard interfaces scripts can implement.
func registerHost(b *bridge.Bridge, out io.Writer) error {
	if err := b.RegisterType("Console", (*Console)(nil)); err != nil {
		return err
	}
	if err := b.RegisterType("Counter", (*Counter)(nil), NewCounter, NewNamedCounter); err != nil {
		return err
	}

	statics := []struct {
		name string
		fns  []any
	}{
		{"Upper", []any{strings.ToUpper}},
		{"Join", []any{
			func(parts []string) string { return strings.Join(parts, " ") },
			func(parts []string, sep string) string { return strings.Join(parts, sep) },
		}},
		{"Sort", []any{sort.Sort}},
		{"Repeat", []any{strings.Repeat}},
	}
	for _, s := range statics {
		if err := b.RegisterFunc("Console", s.name, s.fns...); err != nil {
			return err
		}
	}

	ifaces := map[string]reflect.Type{
		"Stringer":      reflect.TypeOf((*fmt.Stringer)(nil)).Elem(),
		"Writer":        reflect.TypeOf((*io.Writer)(nil)).Elem(),
		"SortInterface": reflect.TypeOf((*sort.Interface)(nil)).Elem(),
	}
	for name, t := range ifaces {
		if err := b.RegisterInterface(name, t); err != nil {
			return err
		}
	}

	b.SetGlobal("console", NewConsole(out))
	return nil
}
