// Package script runs the small amount of JavaScript a page document carries:
// function-valued props restored from their source text, dynamic
// {{ expression }} prop values, and event scripts.
//
// Every runtime is built from an explicit whitelist. Restored functions see
// only the render primitive and the component namespace in Scope; expressions
// see only the Context they are evaluated against; event scripts additionally
// see the Services object as `studio`. Nothing else from the host is exposed.
package script

import (
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/dop251/goja"
)

// DefaultTimeout bounds a single call into a runtime.
const DefaultTimeout = 250 * time.Millisecond

// ErrNotFunction is returned when compiled source does not evaluate to a
// function.
var ErrNotFunction = errors.New("script: source is not a function")

// VNode is what the render primitive builds: a component or tag with props
// and children.
type VNode struct {
	Tag      string         `json:"tag"`
	Props    map[string]any `json:"props,omitempty"`
	Children []any          `json:"children,omitempty"`
}

// Scope is the whitelist restored functions run against.
type Scope struct {
	// RenderName is the global the render primitive is bound to ("h").
	RenderName string
	// Namespace is the global the component library is bound to.
	Namespace string
	// Components maps component names to the tag the render primitive
	// receives for them.
	Components map[string]string
}

// DefaultScope exposes h and a frappeUI namespace holding the given
// component names.
func DefaultScope(components ...string) Scope {
	m := make(map[string]string, len(components))
	for _, c := range components {
		m[c] = c
	}
	return Scope{RenderName: "h", Namespace: "frappeUI", Components: m}
}

// Sandbox compiles function source against a Scope.
type Sandbox struct {
	mu      sync.Mutex
	vm      *goja.Runtime
	scope   Scope
	timeout time.Duration
}

// NewSandbox builds a sandbox exposing exactly scope.
func NewSandbox(scope Scope) *Sandbox {
	if scope.RenderName == "" {
		scope.RenderName = "h"
	}
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	s := &Sandbox{vm: vm, scope: scope, timeout: DefaultTimeout}

	_ = vm.Set(scope.RenderName, h)
	locked := []string{scope.RenderName}
	if scope.Namespace != "" {
		ns := vm.NewObject()
		for name, tag := range scope.Components {
			_ = ns.Set(name, tag)
		}
		_ = vm.Set(scope.Namespace, ns)
		locked = append(locked, scope.Namespace)
	}
	lockdown(vm, locked...)
	return s
}

// lockdown freezes the named globals and then the global object itself.
// Code run afterwards cannot rebind the whitelist, change the namespace or
// leave globals behind for later calls.
func lockdown(vm *goja.Runtime, names ...string) {
	freeze, ok := goja.AssertFunction(vm.Get("Object").ToObject(vm).Get("freeze"))
	if !ok {
		panic("script: Object.freeze missing")
	}
	for _, name := range names {
		if v := vm.Get(name); v != nil {
			_, _ = freeze(goja.Undefined(), v)
		}
	}
	if _, err := freeze(goja.Undefined(), vm.GlobalObject()); err != nil {
		panic(fmt.Sprintf("script: freeze globals: %v", err))
	}
}

// Scope returns the sandbox whitelist.
func (s *Sandbox) Scope() Scope { return s.scope }

// SetTimeout changes the per-call time limit.
func (s *Sandbox) SetTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeout = d
}

// IsFunctionSource reports whether a string holds function source text that
// the codec restores into a Func.
func IsFunctionSource(s string) bool {
	return functionPattern.MatchString(s)
}

var functionPattern = regexp.MustCompile(`^\s*function\s*[\w$]*\s*\(`)

// Compile turns function source text into a callable Func.
func (s *Sandbox) Compile(source string) (*Func, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prog, err := goja.Compile("", "("+source+")", false)
	if err != nil {
		return nil, &CompileError{Source: source, Err: err}
	}
	v, err := s.run(func() (goja.Value, error) { return s.vm.RunProgram(prog) })
	if err != nil {
		return nil, &CompileError{Source: source, Err: err}
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return nil, &CompileError{Source: source, Err: ErrNotFunction}
	}
	return &Func{source: source, fn: fn, sb: s}, nil
}

// run executes fn with the sandbox timeout armed. Callers hold s.mu.
func (s *Sandbox) run(fn func() (goja.Value, error)) (goja.Value, error) {
	if s.timeout > 0 {
		timer := time.AfterFunc(s.timeout, func() {
			s.vm.Interrupt(fmt.Sprintf("script exceeded %s", s.timeout))
		})
		defer s.vm.ClearInterrupt()
		defer timer.Stop()
	}
	return fn()
}

// h is the render primitive bound into every sandbox.
func h(tag any, props map[string]any, children ...any) VNode {
	return VNode{Tag: fmt.Sprint(tag), Props: props, Children: children}
}

// CompileError reports function source that failed to compile or did not
// evaluate to a function.
type CompileError struct {
	Source string
	Err    error
}

func (e *CompileError) Error() string {
	src := e.Source
	if len(src) > 60 {
		src = src[:60] + "..."
	}
	return fmt.Sprintf("script: compile %q: %v", src, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }
