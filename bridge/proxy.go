package bridge

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Shapes
// ---------------------------------------------------------------------------

// ShapeKind selects the category of proxy a shape asks for.
type ShapeKind uint8

const (
	ShapeInterface ShapeKind = iota + 1 // implement an interface
	ShapeSubclass                       // override an interface over a base value
	ShapeDelegate                       // match a func signature
)

func (k ShapeKind) String() string {
	switch k {
	case ShapeInterface:
		return "interface"
	case ShapeSubclass:
		return "subclass"
	case ShapeDelegate:
		return "delegate"
	}
	return "unknown"
}

// Shape is the structural signature a proxy must satisfy. Shapes are
// comparable and used as cache keys.
type Shape struct {
	Kind ShapeKind
	Type reflect.Type // interface or func type
	Base reflect.Type // subclass shapes only
}

// InterfaceShape asks for an implementation of iface.
func InterfaceShape(iface reflect.Type) Shape {
	return Shape{Kind: ShapeInterface, Type: iface}
}

// SubclassShape asks for iface implemented over a base value of type base,
// with the base's methods as fallbacks.
func SubclassShape(iface, base reflect.Type) Shape {
	return Shape{Kind: ShapeSubclass, Type: iface, Base: base}
}

// DelegateShape asks for a func of type fn.
func DelegateShape(fn reflect.Type) Shape {
	return Shape{Kind: ShapeDelegate, Type: fn}
}

func (s Shape) String() string {
	if s.Kind == ShapeSubclass {
		return fmt.Sprintf("%s(%s over %s)", s.Kind, s.Type, s.Base)
	}
	return fmt.Sprintf("%s(%s)", s.Kind, s.Type)
}

// ---------------------------------------------------------------------------
// Descriptors
// ---------------------------------------------------------------------------

// Member is one forwarded member of a proxy.
type Member struct {
	Index    int
	Name     string
	Lookup   []string // script names tried in order
	Type     reflect.Type
	Params   []reflect.Type
	Results  []reflect.Type // excluding a trailing error
	Refs     []int          // indexes of *T in/out parameters
	Err      bool           // the signature ends in error
	Variadic bool

	Default   reflect.Value // host default body, if any
	baseIndex int           // method index on the base type, subclass shapes
}

// AdapterFunc wraps a proxy in a concrete type implementing an interface.
// Adapters are written by hand or generated by hbwrap.
type AdapterFunc func(p *Proxy) any

// ProxyDescriptor is the synthesized form of a shape. Immutable once built.
type ProxyDescriptor struct {
	Shape   Shape
	Members []Member

	adapter AdapterFunc
	byName  map[string]int
}

// Member returns the member with the given Go name.
func (d *ProxyDescriptor) Member(name string) (*Member, bool) {
	i, ok := d.byName[name]
	if !ok {
		return nil, false
	}
	return &d.Members[i], true
}

type adapterEntry struct {
	factory  AdapterFunc
	defaults map[string]reflect.Value
}

// ProxyGenerator builds and caches proxy descriptors. It is safe for
// concurrent use and may be shared between bridges.
type ProxyGenerator struct {
	mu          sync.Mutex
	descriptors map[Shape]*ProxyDescriptor
	adapters    map[reflect.Type]*adapterEntry
	synthesized int

	log commonlog.Logger
}

// NewProxyGenerator creates a generator with the built-in adapters
// registered.
func NewProxyGenerator() *ProxyGenerator {
	g := &ProxyGenerator{
		descriptors: make(map[Shape]*ProxyDescriptor),
		adapters:    make(map[reflect.Type]*adapterEntry),
		log:         commonlog.GetLogger("hostbridge.proxy"),
	}
	registerStdAdapters(g)
	return g
}

// RegisterAdapter installs the adapter for an interface type. defaults
// maps member names to host funcs with the member's signature, called when
// the script does not provide the member.
func (g *ProxyGenerator) RegisterAdapter(iface reflect.Type, factory AdapterFunc, defaults map[string]any) error {
	if iface.Kind() != reflect.Interface {
		return fmt.Errorf("adapter for %s: not an interface", iface)
	}
	entry := &adapterEntry{factory: factory, defaults: make(map[string]reflect.Value)}
	for name, fn := range defaults {
		m, ok := iface.MethodByName(name)
		if !ok {
			return fmt.Errorf("adapter for %s: default for unknown member %s", iface, name)
		}
		v := reflect.ValueOf(fn)
		if v.Type() != m.Type {
			return fmt.Errorf("adapter for %s: default %s is %s, want %s", iface, name, v.Type(), m.Type)
		}
		entry.defaults[name] = v
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.adapters[iface] = entry
	return nil
}

// HasAdapter reports whether an adapter is registered for iface.
func (g *ProxyGenerator) HasAdapter(iface reflect.Type) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.adapters[iface]
	return ok
}

// GetOrCreate returns the descriptor for shape, synthesizing it on first
// request. Concurrent requests for one shape observe a single descriptor.
func (g *ProxyGenerator) GetOrCreate(shape Shape) (*ProxyDescriptor, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if d := g.descriptors[shape]; d != nil {
		return d, nil
	}
	d, err := g.synthesize(shape)
	if err != nil {
		return nil, err
	}
	g.descriptors[shape] = d
	g.synthesized++
	g.log.Debugf("synthesized %s with %d members", shape, len(d.Members))
	return d, nil
}

// Count returns the number of cached descriptors.
func (g *ProxyGenerator) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.descriptors)
}

// Synthesized returns how many descriptors were ever built.
func (g *ProxyGenerator) Synthesized() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.synthesized
}

// synthesize builds a descriptor. Called with g.mu held.
func (g *ProxyGenerator) synthesize(shape Shape) (*ProxyDescriptor, error) {
	if shape.Type == nil {
		return nil, fmt.Errorf("shape without type")
	}
	d := &ProxyDescriptor{Shape: shape, byName: make(map[string]int)}

	switch shape.Kind {
	case ShapeDelegate:
		if shape.Type.Kind() != reflect.Func {
			return nil, fmt.Errorf("delegate shape %s: not a func type", shape.Type)
		}
		d.Members = []Member{newMember(0, "Invoke", shape.Type)}
		d.byName["Invoke"] = 0
		return d, nil

	case ShapeInterface, ShapeSubclass:
		t := shape.Type
		if t.Kind() != reflect.Interface {
			return nil, fmt.Errorf("%s: %s is not an interface", shape.Kind, t)
		}
		entry := g.adapters[t]
		if entry == nil {
			return nil, fmt.Errorf("%w for %s", ErrNoAdapter, t)
		}
		if shape.Kind == ShapeSubclass && !shape.Base.Implements(t) {
			return nil, fmt.Errorf("subclass shape: %s does not implement %s", shape.Base, t)
		}
		d.adapter = entry.factory
		for i := 0; i < t.NumMethod(); i++ {
			m := t.Method(i)
			if !m.IsExported() {
				continue
			}
			mem := newMember(len(d.Members), m.Name, m.Type)
			mem.Default = entry.defaults[m.Name]
			if shape.Kind == ShapeSubclass {
				bm, _ := shape.Base.MethodByName(m.Name)
				mem.baseIndex = bm.Index
			}
			d.byName[m.Name] = mem.Index
			d.Members = append(d.Members, mem)
		}
		return d, nil
	}
	return nil, fmt.Errorf("unknown shape kind %d", shape.Kind)
}

func newMember(index int, name string, ft reflect.Type) Member {
	m := Member{
		Index:    index,
		Name:     name,
		Lookup:   lookupNames(name),
		Type:     ft,
		Variadic: ft.IsVariadic(),
	}
	for i := 0; i < ft.NumIn(); i++ {
		pt := ft.In(i)
		m.Params = append(m.Params, pt)
		if isRef(pt) {
			m.Refs = append(m.Refs, i)
		}
	}
	n := ft.NumOut()
	m.Err = n > 0 && ft.Out(n-1) == errorType
	if m.Err {
		n--
	}
	for i := 0; i < n; i++ {
		m.Results = append(m.Results, ft.Out(i))
	}
	return m
}

// lookupNames returns the script names a Go member is looked up by: the
// Go name itself, then its lower camel form.
func lookupNames(name string) []string {
	lower := LowerCamel(name)
	if lower == name {
		return []string{name}
	}
	return []string{name, lower}
}

// LowerCamel converts a Go identifier to the script convention:
// "Test1" → "test1", "IntProp" → "intProp", "URL" → "url".
func LowerCamel(name string) string {
	if name == "" {
		return name
	}
	r, size := utf8.DecodeRuneInString(name)
	if !unicode.IsUpper(r) {
		return name
	}
	if strings.ToUpper(name) == name {
		return strings.ToLower(name)
	}
	return string(unicode.ToLower(r)) + name[size:]
}
