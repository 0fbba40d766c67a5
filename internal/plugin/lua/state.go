package lua

import (
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// State wraps a gopher-lua interpreter restricted to safe operations.
//
// The interpreter is opened with SkipOpenLibs and only the base, table,
// string, and math libraries are installed. io, os, debug, and the package
// loader are withheld, and the load family of globals is removed, so plugin
// code cannot touch the filesystem, spawn processes, or pull in modules
// outside its own entry chunk.
type State struct {
	mu     sync.Mutex
	L      *lua.LState
	closed bool
}

// dangerousGlobals are base-library entry points that would let a chunk
// escape its namespace by loading arbitrary code.
var dangerousGlobals = []string{"dofile", "loadfile", "load", "loadstring"}

// NewState creates a sandboxed Lua state.
func NewState() *State {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})

	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	for _, name := range dangerousGlobals {
		L.SetGlobal(name, lua.LNil)
	}

	return &State{L: L}
}

// DoFile executes a Lua file and returns the chunk's return values.
// The call blocks until completion; panics in the interpreter are
// recovered and reported as errors.
func (s *State) DoFile(path string) ([]lua.LValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStateClosed
	}

	fn, err := s.L.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return s.call(fn, nil)
}

// DoString executes Lua source and returns the chunk's return values.
func (s *State) DoString(code string) ([]lua.LValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStateClosed
	}

	fn, err := s.L.LoadString(code)
	if err != nil {
		return nil, err
	}
	return s.call(fn, nil)
}

// CallValue invokes a Lua function value with the given arguments.
func (s *State) CallValue(fn lua.LValue, args ...lua.LValue) ([]lua.LValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStateClosed
	}
	if fn == nil || fn.Type() != lua.LTFunction {
		return nil, fmt.Errorf("%w: got %v", ErrNotAFunction, typeName(fn))
	}
	return s.call(fn, args)
}

// call pushes fn and args, runs a protected call, and collects every value
// the call left on the stack. Must be called with mu held.
func (s *State) call(fn lua.LValue, args []lua.LValue) (results []lua.LValue, err error) {
	stackTop := s.L.GetTop()

	s.L.Push(fn)
	for _, arg := range args {
		s.L.Push(arg)
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("lua panic: %v", r)
			}
		}()
		err = s.L.PCall(len(args), lua.MultRet, nil)
	}()
	if err != nil {
		s.L.SetTop(stackTop)
		return nil, err
	}

	nRet := s.L.GetTop() - stackTop
	if nRet <= 0 {
		return []lua.LValue{}, nil
	}
	results = make([]lua.LValue, nRet)
	for i := 0; i < nRet; i++ {
		results[i] = s.L.Get(stackTop + i + 1)
	}
	s.L.Pop(nRet)

	return results, nil
}

// GetGlobal returns a global from the plugin's namespace.
func (s *State) GetGlobal(name string) lua.LValue {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return lua.LNil
	}
	return s.L.GetGlobal(name)
}

// SetGlobal sets a global in the plugin's namespace.
func (s *State) SetGlobal(name string, value lua.LValue) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.L.SetGlobal(name, value)
}

// ForEachGlobal visits every named global in the plugin's namespace.
func (s *State) ForEachGlobal(fn func(name string, value lua.LValue)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	globals := s.L.Get(lua.GlobalsIndex).(*lua.LTable)
	globals.ForEach(func(k, v lua.LValue) {
		if ks, ok := k.(lua.LString); ok {
			fn(string(ks), v)
		}
	})
}

// LuaState returns the underlying interpreter.
//
// Direct access bypasses the mutex; callers must hold the manager's
// serialization guarantee.
func (s *State) LuaState() *lua.LState {
	return s.L
}

// IsClosed reports whether the state has been closed.
func (s *State) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close releases the interpreter. Subsequent operations return ErrStateClosed.
func (s *State) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.L.Close()
	s.closed = true
}

func typeName(v lua.LValue) string {
	if v == nil {
		return "nil"
	}
	return v.Type().String()
}
