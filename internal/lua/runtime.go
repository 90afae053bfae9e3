// Package lua wraps the Golua runtime used by the configuration loader and
// by the engine simulator's layout scripts. Every chunk and function call
// runs under hard CPU and memory limits so a misbehaving script cannot
// stall the goroutine that drives it.
package lua

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/arnodel/golua/lib"
	rt "github.com/arnodel/golua/runtime"
)

// Limits bounds a single Lua execution.
type Limits struct {
	// CPULimit is the instruction budget. 0 means unlimited.
	CPULimit uint64
	// MemoryLimit is the allocation budget in bytes. 0 means unlimited.
	MemoryLimit uint64
	// Stdout receives print output in addition to the captured buffer.
	Stdout io.Writer
}

// DefaultLimits allows ten million instructions and 50 MB.
func DefaultLimits() Limits {
	return Limits{
		CPULimit:    10_000_000,
		MemoryLimit: 50 * 1024 * 1024,
	}
}

// Sandbox is a Lua state guarded by a mutex. It is safe for concurrent use
// but executes one chunk at a time.
type Sandbox struct {
	limits  Limits
	runtime *rt.Runtime
	output  *bytes.Buffer
	cleanup func()
	mu      sync.Mutex
}

// NewSandbox creates a runtime with the standard libraries loaded.
func NewSandbox(limits Limits) *Sandbox {
	output := &bytes.Buffer{}
	var stdout io.Writer = output
	if limits.Stdout != nil {
		stdout = io.MultiWriter(limits.Stdout, output)
	}
	r := rt.New(stdout)
	return &Sandbox{
		limits:  limits,
		runtime: r,
		output:  output,
		cleanup: lib.LoadAll(r),
	}
}

func (s *Sandbox) context() rt.RuntimeContextDef {
	return rt.RuntimeContextDef{
		HardLimits: rt.RuntimeResources{
			Cpu:    s.limits.CPULimit,
			Memory: s.limits.MemoryLimit,
		},
	}
}

// Run compiles and executes code. name identifies the chunk in errors.
func (s *Sandbox) Run(name string, code []byte) (err error) {
	defer recoverLimit(name, &err)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runtime == nil {
		return ErrClosed
	}

	closure, err := s.runtime.CompileAndLoadLuaChunk(name, code, rt.TableValue(s.runtime.GlobalEnv()))
	if err != nil {
		return fmt.Errorf("compile %s: %w", name, err)
	}

	s.runtime.PushContext(s.context())
	defer s.runtime.PopContext()

	if _, err = rt.Call1(s.runtime.MainThread(), rt.FunctionValue(closure)); err != nil {
		return fmt.Errorf("execute %s: %w", name, err)
	}
	return nil
}

// RunFile reads path and executes it.
func (s *Sandbox) RunFile(path string) error {
	code, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return s.Run(path, code)
}

// Call invokes the global function name with args and returns its first
// result.
func (s *Sandbox) Call(name string, args ...rt.Value) (result rt.Value, err error) {
	defer recoverLimit(name, &err)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runtime == nil {
		return rt.NilValue, ErrClosed
	}

	fn := s.runtime.GlobalEnv().Get(rt.StringValue(name))
	if fn == rt.NilValue {
		return rt.NilValue, fmt.Errorf("%w: %s", ErrNoFunction, name)
	}

	s.runtime.PushContext(s.context())
	defer s.runtime.PopContext()

	result, err = rt.Call1(s.runtime.MainThread(), fn, args...)
	if err != nil {
		return rt.NilValue, fmt.Errorf("call %s: %w", name, err)
	}
	return result, nil
}

// HasFunction reports whether name is bound to a function.
func (s *Sandbox) HasFunction(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runtime == nil {
		return false
	}
	return s.runtime.GlobalEnv().Get(rt.StringValue(name)).Type() == rt.FunctionType
}

// Global returns a global variable.
func (s *Sandbox) Global(name string) rt.Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runtime == nil {
		return rt.NilValue
	}
	return s.runtime.GlobalEnv().Get(rt.StringValue(name))
}

// SetGlobal binds a global variable.
func (s *Sandbox) SetGlobal(name string, v rt.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runtime == nil {
		return
	}
	s.runtime.GlobalEnv().Set(rt.StringValue(name), v)
}

// Output returns everything the scripts printed so far.
func (s *Sandbox) Output() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.output.String()
}

// Close releases the runtime. Further calls return ErrClosed.
func (s *Sandbox) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cleanup != nil {
		s.cleanup()
		s.cleanup = nil
	}
	s.runtime = nil
	return nil
}

// recoverLimit turns the panic golua raises when a hard limit is exceeded
// into ErrLimitExceeded.
func recoverLimit(name string, err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%w: %s: %v", ErrLimitExceeded, name, r)
	}
}
