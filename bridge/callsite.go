package bridge

// Binding caches for bridged call sites
//
// Almost every call site invokes the same overload with the same argument
// shape over and over. Each site therefore remembers the last successful
// binding and replays it after re-validating the argument count and every
// slot; anything unexpected falls back to full overload resolution.

import (
	"reflect"
	"sort"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// SiteState represents the current state of a call site's cache.
type SiteState uint8

const (
	SiteEmpty SiteState = iota // never resolved
	SiteBound                  // holds a binding
)

func (s SiteState) String() string {
	if s == SiteBound {
		return "bound"
	}
	return "empty"
}

// ArgumentPlan describes how one parameter is filled from the stack.
type ArgumentPlan struct {
	Position int // offset from the first non-receiver argument
	Type     reflect.Type
	Extract  Extractor
	Variadic bool         // absorbs every remaining argument
	Elem     reflect.Type // element type of a variadic or ref parameter
	Ref      bool         // *T parameter whose final value is pushed back
}

// Binding is the resolved form of a call: which callee, how to build each
// argument, and what to push afterwards.
type Binding struct {
	Callee   *Candidate
	Plans    []ArgumentPlan
	Outs     []int // indexes into Plans of ref parameters, in declaration order
	NoResult bool

	recv     Extractor
	variadic bool
	results  int // Go results pushed, excluding a trailing error
	hasErr   bool
	argCount int
	nonNil   []bool // per argument slot: non-nil when the binding was made
	costs    []int  // per argument slot: conversion cost when the binding was made
}

// CallSite owns the binding for one bridged member.
type CallSite struct {
	Type  reflect.Type
	Name  string
	State SiteState

	kind    memberKind
	b       *Bridge
	binding *Binding
	fn      *lua.LFunction
	value   reflect.Value // memberValue sites: the callable itself
	id      uint32

	// Statistics for profiling
	Hits    uint64
	Misses  uint64
	Rebinds uint64
}

func (cs *CallSite) receiver() bool { return cs.kind == memberMethod }

// Source names the member for error reporting, e.g. "Calc.Add".
func (cs *CallSite) Source() string {
	return cs.b.types.TypeName(cs.Type) + "." + cs.Name
}

// Kind names how the member is entered ("method", "static", "constructor" or "value").
func (cs *CallSite) Kind() string { return cs.kind.String() }

// Binding returns the cached binding, or nil.
func (cs *CallSite) Binding() *Binding { return cs.binding }

// Function returns the script function that enters this call site.
func (cs *CallSite) Function() *lua.LFunction { return cs.fn }

// HitRate returns the cache hit rate as a percentage (0-100).
func (cs *CallSite) HitRate() float64 {
	total := cs.Hits + cs.Misses
	if total == 0 {
		return 0
	}
	return float64(cs.Hits) * 100 / float64(total)
}

// Reset clears the site back to empty state.
func (cs *CallSite) Reset() {
	cs.State = SiteEmpty
	cs.binding = nil
	cs.Hits = 0
	cs.Misses = 0
	cs.Rebinds = 0
}

func (cs *CallSite) bind(bd *Binding) {
	if cs.binding != nil {
		cs.Rebinds++
		cs.b.log.Debugf("rebinding %s to %s", cs.Source(), bd.Callee)
	}
	cs.binding = bd
	cs.State = SiteBound
}

// ---------------------------------------------------------------------------
// Site table
// ---------------------------------------------------------------------------

type siteKey struct {
	t    reflect.Type
	name string
	kind memberKind
	id   uint32 // distinguishes callable values of one type
}

// CallSiteTable keeps one call site per (type, member, kind), plus one per
// callable host value pushed to the script.
type CallSiteTable struct {
	mu     sync.Mutex
	sites  map[siteKey]*CallSite
	values uint32
}

// NewCallSiteTable creates an empty call site table.
func NewCallSiteTable() *CallSiteTable {
	return &CallSiteTable{sites: make(map[siteKey]*CallSite)}
}

func (t *CallSiteTable) getOrCreate(b *Bridge, typ reflect.Type, name string, kind memberKind) *CallSite {
	key := siteKey{t: typ, name: name, kind: kind}

	t.mu.Lock()
	defer t.mu.Unlock()

	if cs := t.sites[key]; cs != nil {
		return cs
	}
	cs := &CallSite{Type: typ, Name: name, kind: kind, b: b}
	cs.fn = b.L.NewFunction(cs.Call)
	t.sites[key] = cs
	return cs
}

// valueSite creates the site for a callable host value.
func (t *CallSiteTable) valueSite(b *Bridge, v reflect.Value) *CallSite {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.values++
	cs := &CallSite{Type: v.Type(), Name: "call", kind: memberValue, b: b, value: v, id: t.values}
	cs.fn = b.L.NewFunction(cs.Call)
	t.sites[siteKey{t: cs.Type, name: cs.Name, kind: memberValue, id: cs.id}] = cs
	return cs
}

// Get returns the site for a member, or nil if none exists.
func (t *CallSiteTable) Get(typ reflect.Type, name string, static bool) *CallSite {
	kind := memberMethod
	if static {
		kind = memberStatic
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sites[siteKey{t: typ, name: name, kind: kind}]
}

// Sites returns every site ordered by source name.
func (t *CallSiteTable) Sites() []*CallSite {
	t.mu.Lock()
	out := make([]*CallSite, 0, len(t.sites))
	for _, cs := range t.sites {
		out = append(out, cs)
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		si, sj := out[i].Source(), out[j].Source()
		if si != sj {
			return si < sj
		}
		if out[i].kind != out[j].kind {
			return out[i].kind < out[j].kind
		}
		return out[i].id < out[j].id
	})
	return out
}

// SiteStats holds aggregate call site statistics.
type SiteStats struct {
	TotalSites  int
	Bound       int
	Empty       int
	TotalHits   uint64
	TotalMisses uint64
	Rebinds     uint64
	HitRate     float64
}

// Stats aggregates counters over all sites.
func (t *CallSiteTable) Stats() SiteStats {
	var st SiteStats
	for _, cs := range t.Sites() {
		st.TotalSites++
		if cs.State == SiteBound {
			st.Bound++
		} else {
			st.Empty++
		}
		st.TotalHits += cs.Hits
		st.TotalMisses += cs.Misses
		st.Rebinds += cs.Rebinds
	}
	if total := st.TotalHits + st.TotalMisses; total > 0 {
		st.HitRate = float64(st.TotalHits) * 100 / float64(total)
	}
	return st
}

// Reset clears all sites.
func (t *CallSiteTable) Reset() {
	for _, cs := range t.Sites() {
		cs.Reset()
	}
}

// ---------------------------------------------------------------------------
// Fast path
// ---------------------------------------------------------------------------

// replay rebuilds the arguments of a cached binding. It fails, without
// side effects, when the observed shape no longer fits the binding: a
// different argument count, a nil where a value was bound, or an argument
// whose conversion cost differs from the one the binding was chosen with.
func (b *Bridge) replay(bd *Binding, s Stack, w window) (args, refs []reflect.Value, ok bool) {
	if w.count != bd.argCount {
		return nil, nil, false
	}
	args, refs, costs, ok := b.buildArgs(bd, s, w, bd.nonNil)
	if !ok {
		return nil, nil, false
	}
	for i, c := range costs {
		if c != bd.costs[i] {
			return nil, nil, false
		}
	}
	return args, refs, true
}

// buildArgs extracts every planned argument and reports the conversion
// cost of each argument slot. With guard set, a nil slot that held a value
// when the binding was made fails the build.
func (b *Bridge) buildArgs(bd *Binding, s Stack, w window, guard []bool) (args, refs []reflect.Value, costs []int, ok bool) {
	args = make([]reflect.Value, 0, len(bd.Plans)+1)
	costs = make([]int, w.count)
	if bd.recv != nil {
		rv, _, ok := bd.recv(b, s.At(1))
		if !ok {
			return nil, nil, nil, false
		}
		args = append(args, rv)
	}

	for _, p := range bd.Plans {
		if p.Variadic {
			n := w.count - p.Position
			rest := reflect.MakeSlice(p.Type, n, n)
			for j := 0; j < n; j++ {
				lv := s.At(w.first + p.Position + j)
				if guard != nil && isNil(lv) && guard[p.Position+j] {
					return nil, nil, nil, false
				}
				ev, c, ok := p.Extract(b, lv)
				if !ok {
					return nil, nil, nil, false
				}
				rest.Index(j).Set(ev)
				costs[p.Position+j] = c
			}
			args = append(args, rest)
			continue
		}

		lv := s.At(w.first + p.Position)
		if guard != nil && isNil(lv) && guard[p.Position] {
			return nil, nil, nil, false
		}

		if p.Ref {
			ev := reflect.Zero(p.Elem)
			if !isNil(lv) {
				v, c, ok := p.Extract(b, lv)
				if !ok {
					return nil, nil, nil, false
				}
				ev = v
				costs[p.Position] = c
			}
			ptr := reflect.New(p.Elem)
			ptr.Elem().Set(ev)
			args = append(args, ptr)
			refs = append(refs, ptr)
			continue
		}

		v, c, ok := p.Extract(b, lv)
		if !ok {
			return nil, nil, nil, false
		}
		args = append(args, v)
		costs[p.Position] = c
	}
	return args, refs, costs, true
}
