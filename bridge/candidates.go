package bridge

import (
	"fmt"
	"reflect"
	"strings"
)

// Candidate is one host callable an overloaded member may bind to.
// When Receiver is set, the object occupies the first parameter of Fn.
type Candidate struct {
	Name     string
	Fn       reflect.Value
	Receiver bool
	Generic  *GenericFunc
	order    int
}

func newCandidate(name string, fn any, receiver bool) (*Candidate, error) {
	if g, ok := fn.(*GenericFunc); ok {
		if receiver {
			return nil, fmt.Errorf("%s: generic functions cannot take a receiver", name)
		}
		if err := g.validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return &Candidate{Name: name, Generic: g}, nil
	}
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return nil, fmt.Errorf("%s: expected a func, got %T", name, fn)
	}
	if receiver && v.Type().NumIn() == 0 {
		return nil, fmt.Errorf("%s: method overload needs a receiver parameter", name)
	}
	return &Candidate{Name: name, Fn: v, Receiver: receiver}, nil
}

// params returns the non-receiver parameter types.
func (c *Candidate) params() []reflect.Type {
	ft := c.Fn.Type()
	off := 0
	if c.Receiver {
		off = 1
	}
	out := make([]reflect.Type, 0, ft.NumIn()-off)
	for i := off; i < ft.NumIn(); i++ {
		out = append(out, ft.In(i))
	}
	return out
}

func (c *Candidate) String() string {
	if c.Generic != nil {
		return c.Name + "[generic]"
	}
	ps := c.params()
	names := make([]string, len(ps))
	for i, p := range ps {
		names[i] = p.String()
	}
	return fmt.Sprintf("%s(%s)", c.Name, strings.Join(names, ", "))
}

// ---------------------------------------------------------------------------
// Open generic functions
// ---------------------------------------------------------------------------

// TypeRef is a parameter slot of a GenericFunc: either a type parameter or
// a concrete type.
type TypeRef struct {
	param int // 1-based type parameter index; 0 means concrete
	typ   reflect.Type
}

// TypeArg refers to the i-th (0-based) type parameter.
func TypeArg(i int) TypeRef { return TypeRef{param: i + 1} }

// Concrete refers to a fixed parameter type.
func Concrete(t reflect.Type) TypeRef { return TypeRef{typ: t} }

// GenericFunc describes an open generic function. Go instantiates generics
// at compile time, so the host lists the instantiations it wants callable;
// the bridge infers type arguments from the call and picks the matching one.
type GenericFunc struct {
	TypeParams int
	Params     []TypeRef
	Instances  []any
}

func (g *GenericFunc) validate() error {
	if g.TypeParams <= 0 {
		return fmt.Errorf("generic function without type parameters")
	}
	for i, inst := range g.Instances {
		t := reflect.TypeOf(inst)
		if t == nil || t.Kind() != reflect.Func {
			return fmt.Errorf("instance %d is %T, not a func", i, inst)
		}
		if t.NumIn() != len(g.Params) {
			return fmt.Errorf("instance %d takes %d params, want %d", i, t.NumIn(), len(g.Params))
		}
	}
	return nil
}

// instantiate returns the registered instance whose parameter types agree
// with targs.
func (g *GenericFunc) instantiate(targs []reflect.Type) (reflect.Value, bool) {
	for _, inst := range g.Instances {
		ft := reflect.TypeOf(inst)
		match := true
		for j, ref := range g.Params {
			want := ref.typ
			if ref.param > 0 {
				want = targs[ref.param-1]
			}
			if ft.In(j) != want {
				match = false
				break
			}
		}
		if match {
			return reflect.ValueOf(inst), true
		}
	}
	return reflect.Value{}, false
}

// ---------------------------------------------------------------------------
// CandidateSet enumeration
// ---------------------------------------------------------------------------

type memberKind uint8

const (
	memberMethod memberKind = iota
	memberStatic
	memberCtor
	memberValue // a callable host value (func) pushed as an object
)

func (k memberKind) String() string {
	switch k {
	case memberMethod:
		return "method"
	case memberStatic:
		return "static"
	case memberCtor:
		return "constructor"
	}
	return "value"
}

// candidates derives the CandidateSet for a member in stable order: the
// reflected method first, then registered overloads in registration order.
func (r *TypeRegistry) candidates(t reflect.Type, name string, kind memberKind) []*Candidate {
	var out []*Candidate
	info := r.LookupByType(t)

	switch kind {
	case memberMethod:
		if t.Kind() != reflect.Interface {
			if m, ok := t.MethodByName(name); ok {
				out = append(out, &Candidate{Name: name, Fn: m.Func, Receiver: true})
			}
		}
		if info != nil {
			r.mu.RLock()
			out = append(out, info.methods[name]...)
			r.mu.RUnlock()
		}
	case memberStatic:
		if info != nil {
			r.mu.RLock()
			out = append(out, info.statics[name]...)
			r.mu.RUnlock()
		}
	case memberCtor:
		if info != nil {
			r.mu.RLock()
			out = append(out, info.ctors...)
			r.mu.RUnlock()
		}
	}
	return out
}

// hasMember reports whether name resolves to any candidate.
func (r *TypeRegistry) hasMember(t reflect.Type, name string, kind memberKind) bool {
	return len(r.candidates(t, name, kind)) > 0
}
