// Package bridge connects a gopher-lua interpreter to host Go values.
//
// Scripts call host constructors, methods and static functions through
// per-member call sites that cache their overload binding; the host gets
// script-backed implementations of its interfaces, func types and events
// through proxies built by a ProxyGenerator.
//
// A Bridge belongs to one LState and, like the LState, must only be used
// from one goroutine at a time. A ProxyGenerator may be shared.
package bridge

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/tliron/commonlog"
	lua "github.com/yuin/gopher-lua"
)

// DefaultBaseField is the script table field a subclass proxy stores its
// base object under.
const DefaultBaseField = "base"

// Bridge is the per-interpreter bridge context.
type Bridge struct {
	L *lua.LState

	types   *TypeRegistry
	objects *ObjectRegistry
	proxies *ProxyGenerator
	sites   *CallSiteTable

	extractors sync.Map // reflect.Type -> Extractor

	maxStack  int
	baseField string
	log       commonlog.Logger

	metaMu     sync.Mutex
	metatables map[reflect.Type]*lua.LTable
	errorMeta  *lua.LTable
	eventMeta  *lua.LTable
	subMeta    *lua.LTable

	pendingMu sync.Mutex
	pending   error

	proxyMu    sync.Mutex
	proxyCache map[proxyKey]reflect.Value

	subsMu  sync.Mutex
	subs    map[uint64]*Subscription
	nextSub uint64
	closed  bool
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the bridge's logger.
func WithLogger(log commonlog.Logger) Option {
	return func(b *Bridge) { b.log = log }
}

// WithProxyGenerator shares g between bridges instead of creating a
// private generator.
func WithProxyGenerator(g *ProxyGenerator) Option {
	return func(b *Bridge) { b.proxies = g }
}

// WithMaxStack bounds the stack slots a bridged call may use, per call
// frame. The interpreter's registry size caps it further.
func WithMaxStack(n int) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.maxStack = n
		}
	}
}

// WithBaseField names the back-reference field of subclass script tables.
func WithBaseField(name string) Option {
	return func(b *Bridge) {
		if name != "" {
			b.baseField = name
		}
	}
}

// New creates a bridge for L and installs the host global.
func New(L *lua.LState, opts ...Option) *Bridge {
	b := &Bridge{
		L:          L,
		types:      NewTypeRegistry(),
		objects:    NewObjectRegistry(),
		sites:      NewCallSiteTable(),
		maxStack:   DefaultMaxStack,
		baseField:  DefaultBaseField,
		metatables: make(map[reflect.Type]*lua.LTable),
		proxyCache: make(map[proxyKey]reflect.Value),
		subs:       make(map[uint64]*Subscription),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.log == nil {
		b.log = commonlog.GetLogger("hostbridge.bridge")
	}
	if b.proxies == nil {
		b.proxies = NewProxyGenerator()
	}
	b.installMetatables()
	b.installHost()
	return b
}

// ---------------------------------------------------------------------------
// Host registration
// ---------------------------------------------------------------------------

// RegisterType exposes the type of sample under name: a global type table
// whose call and new member run ctors, and whose other members are the
// static functions added with RegisterFunc. Pass a typed nil pointer such
// as (*Counter)(nil) to register a pointer type.
func (b *Bridge) RegisterType(name string, sample any, ctors ...any) error {
	t := reflect.TypeOf(sample)
	if t == nil {
		return fmt.Errorf("register %s: nil sample", name)
	}
	info, err := b.types.Register(name, t)
	if err != nil {
		return err
	}
	for _, ctor := range ctors {
		c, err := newCandidate(name+"."+ctorName, ctor, false)
		if err != nil {
			return err
		}
		b.types.addCtor(info, c)
	}
	b.L.SetGlobal(name, b.typeTable(info))
	return nil
}

// RegisterFunc adds overloads of the static member name to a registered type.
func (b *Bridge) RegisterFunc(typeName, name string, fns ...any) error {
	info := b.types.LookupByName(typeName)
	if info == nil {
		return fmt.Errorf("%w: %s", ErrUnknownType, typeName)
	}
	for _, fn := range fns {
		c, err := newCandidate(name, fn, false)
		if err != nil {
			return err
		}
		b.types.addStatic(info, name, c)
	}
	return nil
}

// RegisterMethod adds overloads of the instance member name. Each fn takes
// the object as its first parameter.
func (b *Bridge) RegisterMethod(typeName, name string, fns ...any) error {
	info := b.types.LookupByName(typeName)
	if info == nil {
		return fmt.Errorf("%w: %s", ErrUnknownType, typeName)
	}
	for _, fn := range fns {
		c, err := newCandidate(name, fn, true)
		if err != nil {
			return err
		}
		b.types.addMethod(info, name, c)
	}
	return nil
}

// RegisterGeneric adds an open generic static member.
func (b *Bridge) RegisterGeneric(typeName, name string, g *GenericFunc) error {
	return b.RegisterFunc(typeName, name, g)
}

// RegisterInterface makes iface available to host.implement and
// host.extend under name. An adapter must be registered for it.
func (b *Bridge) RegisterInterface(name string, iface reflect.Type) error {
	if iface.Kind() != reflect.Interface {
		return fmt.Errorf("register %s: %s is not an interface", name, iface)
	}
	if !b.proxies.HasAdapter(iface) {
		return fmt.Errorf("register %s: %w for %s", name, ErrNoAdapter, iface)
	}
	_, err := b.types.Register(name, iface)
	return err
}

// SetGlobal pushes v into the script as a global.
func (b *Bridge) SetGlobal(name string, v any) {
	b.L.SetGlobal(name, b.ToScript(reflect.ValueOf(v)))
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// Types returns the registry of script-visible host types.
func (b *Bridge) Types() *TypeRegistry { return b.types }

// Objects returns the handle registry for host objects held by the script.
func (b *Bridge) Objects() *ObjectRegistry { return b.objects }

// Sites returns the call site table.
func (b *Bridge) Sites() *CallSiteTable { return b.sites }

// Proxies returns the generator building this bridge's proxies.
func (b *Bridge) Proxies() *ProxyGenerator { return b.proxies }

// Logger returns the bridge's logger.
func (b *Bridge) Logger() commonlog.Logger { return b.log }

// Stats aggregates the counters of every call site.
func (b *Bridge) Stats() SiteStats { return b.sites.Stats() }

// TypeName returns the script-visible name of v's type.
func (b *Bridge) TypeName(v any) string {
	t := reflect.TypeOf(v)
	if t == nil {
		return "nil"
	}
	return b.types.TypeName(t)
}

// Close detaches every event subscription and drops the handles and
// proxies the bridge holds. The LState is left to its owner.
func (b *Bridge) Close() error {
	b.subsMu.Lock()
	if b.closed {
		b.subsMu.Unlock()
		return ErrClosed
	}
	b.detachAll()
	b.closed = true
	b.subsMu.Unlock()

	b.proxyMu.Lock()
	b.proxyCache = make(map[proxyKey]reflect.Value)
	b.proxyMu.Unlock()

	b.objects.Clear()
	b.log.Debugf("bridge closed")
	return nil
}

// CallErrorFrom extracts the *CallError raised by a bridged call from an
// error returned by the interpreter (DoString, PCall and friends).
func CallErrorFrom(err error) (*CallError, bool) {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce, true
	}
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) {
		if ud, ok := apiErr.Object.(*lua.LUserData); ok {
			ce, ok = ud.Value.(*CallError)
			return ce, ok
		}
	}
	return nil, false
}
