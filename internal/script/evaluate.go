package script

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
)

// Context maps names (resources, page variables, route params) to live
// values that dynamic props are evaluated against.
type Context map[string]any

// dynamicPattern matches {{ expression }} placeholders.
var dynamicPattern = regexp.MustCompile(`\{\{\s*(.+?)\s*\}\}`)

// identPattern limits context keys to names usable as JS parameters.
var identPattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// IsDynamic reports whether a value holds a {{ expression }}.
func IsDynamic(v any) bool {
	s, ok := v.(string)
	return ok && dynamicPattern.MatchString(s)
}

// Evaluator evaluates expressions. Failures never escape: an expression that
// throws or reads an undefined path evaluates to nil.
type Evaluator struct {
	mu      sync.Mutex
	vm      *goja.Runtime
	timeout time.Duration
}

// NewEvaluator returns an evaluator with its own runtime.
func NewEvaluator() *Evaluator {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	lockdown(vm)
	return &Evaluator{vm: vm, timeout: DefaultTimeout}
}

// Evaluate runs expression with ctx's entries in scope.
func (e *Evaluator) Evaluate(expression string, ctx Context) any {
	v, err := e.eval(expression, ctx)
	if err != nil {
		return nil
	}
	return v
}

func (e *Evaluator) eval(expression string, ctx Context) (result any, err error) {
	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		if identPattern.MatchString(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	src := fmt.Sprintf("(function(%s) { return (%s); })", strings.Join(keys, ", "), expression)
	prog, err := goja.Compile("", src, false)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("script: evaluate %q: %v", expression, r)
		}
	}()

	timer := time.AfterFunc(e.timeout, func() { e.vm.Interrupt("expression timed out") })
	defer e.vm.ClearInterrupt()
	defer timer.Stop()

	fnVal, err := e.vm.RunProgram(prog)
	if err != nil {
		return nil, err
	}
	fn, ok := goja.AssertFunction(fnVal)
	if !ok {
		return nil, ErrNotFunction
	}
	args := make([]goja.Value, len(keys))
	for i, k := range keys {
		args[i] = e.vm.ToValue(ctx[k])
	}
	res, err := fn(goja.Undefined(), args...)
	if err != nil {
		return nil, err
	}
	return export(res), nil
}

// Resolve evaluates a dynamic value. A string that is exactly one
// placeholder yields the expression's value with its type; placeholders
// embedded in text are interpolated, nil values becoming empty text.
// Non-dynamic values are returned unchanged.
func (e *Evaluator) Resolve(value any, ctx Context) any {
	s, ok := value.(string)
	if !ok || !dynamicPattern.MatchString(s) {
		return value
	}
	trimmed := strings.TrimSpace(s)
	if m := dynamicPattern.FindStringSubmatchIndex(trimmed); m != nil && m[0] == 0 && m[1] == len(trimmed) {
		return e.Evaluate(trimmed[m[2]:m[3]], ctx)
	}
	return dynamicPattern.ReplaceAllStringFunc(s, func(match string) string {
		expr := dynamicPattern.FindStringSubmatch(match)[1]
		v := e.Evaluate(expr, ctx)
		if v == nil {
			return ""
		}
		return fmt.Sprint(v)
	})
}

// ResolveProps returns a copy of props with every dynamic value evaluated,
// descending into nested maps and lists.
func (e *Evaluator) ResolveProps(props map[string]any, ctx Context) map[string]any {
	if props == nil {
		return nil
	}
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = e.resolveDeep(v, ctx)
	}
	return out
}

func (e *Evaluator) resolveDeep(v any, ctx Context) any {
	switch t := v.(type) {
	case string:
		return e.Resolve(t, ctx)
	case map[string]any:
		return e.ResolveProps(t, ctx)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = e.resolveDeep(item, ctx)
		}
		return out
	}
	return v
}
