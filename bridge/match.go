package bridge

import (
	"fmt"
	"reflect"
)

// attempt is a candidate that accepted the current arguments.
type attempt struct {
	binding *Binding
	args    []reflect.Value
	refs    []reflect.Value
	cost    int
	rank    int // enumeration order
}

// slotType is the parameter type the binding assigns to argument slot i.
func (bd *Binding) slotType(i int) reflect.Type {
	for _, p := range bd.Plans {
		if p.Variadic && i >= p.Position {
			return p.Elem
		}
		if p.Position == i {
			return p.Type
		}
	}
	return nil
}

// isRef reports whether t is a pointer to a basic kind, the bridge's
// representation of an in/out parameter.
func isRef(t reflect.Type) bool {
	if t.Kind() != reflect.Ptr {
		return false
	}
	switch t.Elem().Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// plan builds the binding skeleton for a concrete candidate and argument
// count, or returns nil if the arity cannot fit.
func (b *Bridge) plan(c *Candidate, argCount int) *Binding {
	ft := c.Fn.Type()
	params := c.params()
	variadic := ft.IsVariadic()

	if !variadic && argCount != len(params) {
		return nil
	}
	if variadic && argCount < len(params)-1 {
		return nil
	}

	bd := &Binding{
		Callee:   c,
		Plans:    make([]ArgumentPlan, len(params)),
		variadic: variadic,
		argCount: argCount,
	}
	if c.Receiver {
		bd.recv = b.extractorFor(ft.In(0))
	}
	for i, pt := range params {
		switch {
		case variadic && i == len(params)-1:
			bd.Plans[i] = ArgumentPlan{Position: i, Type: pt, Variadic: true, Elem: pt.Elem(), Extract: b.extractorFor(pt.Elem())}
		case isRef(pt):
			bd.Plans[i] = ArgumentPlan{Position: i, Type: pt, Ref: true, Elem: pt.Elem(), Extract: b.extractorFor(pt.Elem())}
			bd.Outs = append(bd.Outs, i)
		default:
			bd.Plans[i] = ArgumentPlan{Position: i, Type: pt, Extract: b.extractorFor(pt)}
		}
	}

	n := ft.NumOut()
	bd.hasErr = n > 0 && ft.Out(n-1) == errorType
	bd.results = n
	if bd.hasErr {
		bd.results--
	}
	bd.NoResult = bd.results == 0
	return bd
}

func (b *Bridge) matchCandidate(c *Candidate, s Stack, w window, rank int) *attempt {
	bd := b.plan(c, w.count)
	if bd == nil {
		return nil
	}
	args, refs, costs, ok := b.buildArgs(bd, s, w, nil)
	if !ok {
		return nil
	}
	cost := 0
	for _, c := range costs {
		cost += c
	}
	bd.costs = costs
	bd.nonNil = make([]bool, w.count)
	for i := 0; i < w.count; i++ {
		bd.nonNil[i] = !isNil(s.At(w.first + i))
	}
	return &attempt{binding: bd, args: args, refs: refs, cost: cost, rank: rank}
}

// matchGeneric infers the type arguments of an open generic candidate from
// the natural host types of its arguments, then matches the instantiation.
func (b *Bridge) matchGeneric(c *Candidate, s Stack, w window, rank int) (*attempt, error) {
	g := c.Generic
	if w.count != len(g.Params) {
		return nil, nil
	}
	targs := make([]reflect.Type, g.TypeParams)
	for j, ref := range g.Params {
		if ref.param == 0 || targs[ref.param-1] != nil {
			continue
		}
		targs[ref.param-1] = b.naturalType(s.At(w.first + j))
	}
	for i, t := range targs {
		if t == nil {
			return nil, fmt.Errorf("%w: cannot infer type argument %d", ErrGenericInference, i)
		}
	}
	fn, ok := g.instantiate(targs)
	if !ok {
		return nil, fmt.Errorf("%w: no instance for %v", ErrGenericInference, targs)
	}
	return b.matchCandidate(&Candidate{Name: c.Name, Fn: fn, order: c.order}, s, w, rank), nil
}

// resolve scans the CandidateSet of a site and picks the best match.
func (b *Bridge) resolve(site *CallSite, s Stack, w window) (*attempt, error) {
	var cands []*Candidate
	if site.kind == memberValue {
		cands = []*Candidate{{Name: site.Name, Fn: site.value}}
	} else {
		cands = b.types.candidates(site.Type, site.Name, site.kind)
	}
	if len(cands) == 0 {
		return nil, fmt.Errorf("%w: no member %s", ErrNoMatchingOverload, site.Name)
	}

	var (
		matches []*attempt
		genErr  error
	)
	for rank, c := range cands {
		if c.Generic != nil {
			at, err := b.matchGeneric(c, s, w, rank)
			if err != nil {
				genErr = err
				continue
			}
			if at != nil {
				matches = append(matches, at)
			}
			continue
		}
		if at := b.matchCandidate(c, s, w, rank); at != nil {
			matches = append(matches, at)
		}
	}

	if len(matches) == 0 {
		if genErr != nil {
			return nil, genErr
		}
		return nil, ErrNoMatchingOverload
	}

	best := matches[0]
	for _, at := range matches[1:] {
		if better(at, best) {
			best = at
		}
	}

	var tied []*attempt
	for _, at := range matches {
		if at.binding.variadic == best.binding.variadic && at.cost == best.cost {
			tied = append(tied, at)
		}
	}
	if pos, ok := ambiguousNil(tied, w.count); ok {
		return nil, fmt.Errorf("%w at position %d", ErrAmbiguousNil, pos+1)
	}
	return best, nil
}

// better orders attempts: exact arity beats variadic absorption, then the
// lower conversion cost wins, then enumeration order.
func better(a, b *attempt) bool {
	if a.binding.variadic != b.binding.variadic {
		return !a.binding.variadic
	}
	if a.cost != b.cost {
		return a.cost < b.cost
	}
	return a.rank < b.rank
}

// ambiguousNil reports whether tied attempts disagree only on the type of
// a nil argument. Returns the first such slot.
func ambiguousNil(tied []*attempt, argCount int) (int, bool) {
	if len(tied) < 2 {
		return 0, false
	}
	first := tied[0].binding
	nilDiff := -1
	for i := 0; i < argCount; i++ {
		t0 := first.slotType(i)
		for _, at := range tied[1:] {
			if at.binding.slotType(i) == t0 {
				continue
			}
			if first.nonNil[i] {
				return 0, false
			}
			if nilDiff < 0 {
				nilDiff = i
			}
		}
	}
	return nilDiff, nilDiff >= 0
}
