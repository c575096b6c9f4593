package bridge

import (
	lua "github.com/yuin/gopher-lua"
)

// Stack is the part of the interpreter the call path consumes: a window of
// positional arguments starting at 1 and a place to push results.
type Stack interface {
	Top() int
	At(pos int) lua.LValue
	Push(v lua.LValue)
	// EnsureHeadroom reports whether n more values can be pushed within the
	// current call's slot budget.
	EnsureHeadroom(n int) bool
}

// DefaultMaxStack bounds the number of stack slots one bridged call may
// occupy: its arguments plus everything it pushes. The bound is per call
// frame, not an absolute depth; nested calls each get their own budget.
const DefaultMaxStack = 4096

type luaStack struct {
	L     *lua.LState
	limit int
}

// newLuaStack clamps limit to the registry capacity L was created with, so
// a budget larger than the interpreter's registry cannot be granted.
func newLuaStack(L *lua.LState, limit int) *luaStack {
	if c := registryCapacity(L); c > 0 && c < limit {
		limit = c
	}
	return &luaStack{L: L, limit: limit}
}

func registryCapacity(L *lua.LState) int {
	if L.Options.RegistryMaxSize > 0 {
		return L.Options.RegistryMaxSize
	}
	return L.Options.RegistrySize
}

func (s *luaStack) Top() int { return s.L.GetTop() }

func (s *luaStack) At(pos int) lua.LValue { return s.L.Get(pos) }

func (s *luaStack) Push(v lua.LValue) { s.L.Push(v) }

func (s *luaStack) EnsureHeadroom(n int) bool {
	return s.L.GetTop()+n <= s.limit
}

// window describes where the arguments of a call live on the stack.
type window struct {
	first    int // position of the first non-receiver argument
	count    int // number of non-receiver arguments
	receiver bool
}

func argWindow(s Stack, receiver bool) window {
	top := s.Top()
	if receiver {
		if top < 1 {
			return window{first: 2, count: 0, receiver: true}
		}
		return window{first: 2, count: top - 1, receiver: true}
	}
	return window{first: 1, count: top}
}
