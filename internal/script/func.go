package script

import (
	"encoding/json"

	"github.com/dop251/goja"
)

// Func is a function-valued prop: its source text plus the compiled callable.
// A Func is immutable and may be shared between block copies.
type Func struct {
	source string
	fn     goja.Callable
	sb     *Sandbox
}

// Source returns the function's source text, which is what gets persisted.
func (f *Func) Source() string { return f.source }

// Call invokes the function with Go arguments and exports its result.
func (f *Func) Call(args ...any) (any, error) {
	f.sb.mu.Lock()
	defer f.sb.mu.Unlock()

	vals := make([]goja.Value, len(args))
	for i, a := range args {
		vals[i] = f.sb.vm.ToValue(a)
	}
	res, err := f.sb.run(func() (goja.Value, error) {
		return f.fn(goja.Undefined(), vals...)
	})
	if err != nil {
		return nil, err
	}
	return export(res), nil
}

// MarshalJSON writes the source text, so a Func inside any JSON value
// encodes the same way the codec encodes props.
func (f *Func) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.source)
}

func export(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return v.Export()
}
