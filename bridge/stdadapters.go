package bridge

import (
	"fmt"
	"io"
	"reflect"
	"sort"
)

// Adapters for standard library interfaces. Member indexes follow the
// interface's method order (sorted by name).

type stringerAdapter struct{ p *Proxy }

func (a stringerAdapter) String() string {
	out := a.p.Call(0)
	r0, _ := out[0].(string)
	return r0
}

type errorAdapter struct{ p *Proxy }

func (a errorAdapter) Error() string {
	out := a.p.Call(0)
	r0, _ := out[0].(string)
	return r0
}

type writerAdapter struct{ p *Proxy }

func (a writerAdapter) Write(b []byte) (int, error) {
	out := a.p.Call(0, b)
	r0, _ := out[0].(int)
	r1, _ := out[1].(error)
	return r0, r1
}

type closerAdapter struct{ p *Proxy }

func (a closerAdapter) Close() error {
	out := a.p.Call(0)
	r0, _ := out[0].(error)
	return r0
}

type sortAdapter struct{ p *Proxy }

func (a sortAdapter) Len() int {
	out := a.p.Call(0)
	r0, _ := out[0].(int)
	return r0
}

func (a sortAdapter) Less(i, j int) bool {
	out := a.p.Call(1, i, j)
	r0, _ := out[0].(bool)
	return r0
}

func (a sortAdapter) Swap(i, j int) {
	a.p.Call(2, i, j)
}

func registerStdAdapters(g *ProxyGenerator) {
	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}
	must(g.RegisterAdapter(reflect.TypeOf((*fmt.Stringer)(nil)).Elem(),
		func(p *Proxy) any { return stringerAdapter{p} }, nil))
	must(g.RegisterAdapter(errorType,
		func(p *Proxy) any { return errorAdapter{p} }, nil))
	must(g.RegisterAdapter(reflect.TypeOf((*io.Writer)(nil)).Elem(),
		func(p *Proxy) any { return writerAdapter{p} },
		map[string]any{
			"Write": func(b []byte) (int, error) { return len(b), nil },
		}))
	must(g.RegisterAdapter(reflect.TypeOf((*io.Closer)(nil)).Elem(),
		func(p *Proxy) any { return closerAdapter{p} }, nil))
	must(g.RegisterAdapter(reflect.TypeOf((*sort.Interface)(nil)).Elem(),
		func(p *Proxy) any { return sortAdapter{p} }, nil))
}
