package bridge

import (
	"fmt"
	"reflect"
	"sync"
)

// ---------------------------------------------------------------------------
// Type registry: host types exposed to the script by name
// ---------------------------------------------------------------------------

// ctorName is the member name constructors are registered under.
const ctorName = "new"

// TypeInfo describes a registered host type and its extra members.
type TypeInfo struct {
	ID   uint16
	Name string
	Type reflect.Type

	ctors   []*Candidate
	statics map[string][]*Candidate
	methods map[string][]*Candidate
}

// TypeRegistry maps host types to script names and vice versa.
// Thread-safe for concurrent registration and lookup.
type TypeRegistry struct {
	mu     sync.RWMutex
	types  map[uint16]*TypeInfo
	byType map[reflect.Type]uint16
	byName map[string]uint16
	nextID uint16
}

// NewTypeRegistry creates an empty type registry.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{
		types:  make(map[uint16]*TypeInfo),
		byType: make(map[reflect.Type]uint16),
		byName: make(map[string]uint16),
		nextID: 1, // 0 means unregistered
	}
}

// Register adds a host type under name. If the type is already
// registered, the existing info is returned.
func (r *TypeRegistry) Register(name string, t reflect.Type) (*TypeInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byType[t]; ok {
		info := r.types[id]
		if info.Name != name {
			return nil, fmt.Errorf("type %s already registered as %q", t, info.Name)
		}
		return info, nil
	}
	if _, ok := r.byName[name]; ok {
		return nil, fmt.Errorf("name %q already registered", name)
	}

	id := r.nextID
	r.nextID++

	info := &TypeInfo{
		ID:      id,
		Name:    name,
		Type:    t,
		statics: make(map[string][]*Candidate),
		methods: make(map[string][]*Candidate),
	}
	r.types[id] = info
	r.byType[t] = id
	r.byName[name] = id
	return info, nil
}

// Lookup returns the type info for a given type ID.
func (r *TypeRegistry) Lookup(id uint16) *TypeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.types[id]
}

// LookupByType returns the type info for a host type, or nil.
func (r *TypeRegistry) LookupByType(t reflect.Type) *TypeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byType[t]
	if !ok {
		return nil
	}
	return r.types[id]
}

// LookupByName returns the type info registered under name, or nil.
func (r *TypeRegistry) LookupByName(name string) *TypeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[name]
	if !ok {
		return nil
	}
	return r.types[id]
}

// Count returns the number of registered types.
func (r *TypeRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.types)
}

func (r *TypeRegistry) addCtor(info *TypeInfo, c *Candidate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.order = len(info.ctors)
	info.ctors = append(info.ctors, c)
}

func (r *TypeRegistry) addStatic(info *TypeInfo, name string, c *Candidate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.order = len(info.statics[name])
	info.statics[name] = append(info.statics[name], c)
}

func (r *TypeRegistry) addMethod(info *TypeInfo, name string, c *Candidate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.order = len(info.methods[name])
	info.methods[name] = append(info.methods[name], c)
}

// TypeName returns the script-visible name of t: its registered name if
// any, otherwise its Go spelling.
func (r *TypeRegistry) TypeName(t reflect.Type) string {
	if info := r.LookupByType(t); info != nil {
		return info.Name
	}
	return t.String()
}
