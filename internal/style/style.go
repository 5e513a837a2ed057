// Package style holds the style primitives shared by blocks, the canvas
// property panel and the renderer: breakpoints, style maps, property name
// normalization and multi-value aggregation.
package style

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Breakpoint is a named visual width class.
type Breakpoint string

const (
	Desktop Breakpoint = "desktop"
	Tablet  Breakpoint = "tablet"
	Mobile  Breakpoint = "mobile"
)

// Breakpoints lists every breakpoint from widest to narrowest.
var Breakpoints = []Breakpoint{Desktop, Tablet, Mobile}

// ParseBreakpoint converts a breakpoint name. An empty name is desktop.
func ParseBreakpoint(s string) (Breakpoint, error) {
	switch Breakpoint(strings.ToLower(strings.TrimSpace(s))) {
	case Desktop, "":
		return Desktop, nil
	case Tablet:
		return Tablet, nil
	case Mobile:
		return Mobile, nil
	}
	return Desktop, fmt.Errorf("unknown breakpoint: %q", s)
}

// MaxWidth returns the widest viewport, in pixels, the breakpoint applies to.
// Desktop has no upper bound and returns 0.
func (b Breakpoint) MaxWidth() int {
	switch b {
	case Tablet:
		return 800
	case Mobile:
		return 420
	}
	return 0
}

// IsOverride reports whether the breakpoint stores overrides on top of the
// base styles rather than the base styles themselves.
func (b Breakpoint) IsOverride() bool {
	return b == Tablet || b == Mobile
}

// Mixed is reported when selected blocks disagree on a value.
const Mixed = "Mixed"

// LastDisplayKey keeps the display value hidden by a visibility toggle.
const LastDisplayKey = "__last_display"

// Map maps a camelCase style property to its value. Values are strings or
// numbers; a missing key means "inherit".
type Map map[string]any

// Clone returns a shallow copy of m. A nil map clones to an empty map.
func (m Map) Clone() Map {
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Keys returns the map keys in sorted order.
func (m Map) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Merge returns base overlaid with each override in order.
func Merge(base Map, overrides ...Map) Map {
	out := base.Clone()
	for _, o := range overrides {
		for k, v := range o {
			out[k] = v
		}
	}
	return out
}

// IsEmpty reports whether a value clears a style key.
func IsEmpty(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

// Normalize converts a hyphenated property name to camelCase:
// "background-color" becomes "backgroundColor". Names already in camelCase
// pass through unchanged.
func Normalize(name string) string {
	name = strings.TrimSpace(name)
	if !strings.Contains(name, "-") {
		return name
	}
	var b strings.Builder
	upper := false
	for i, r := range name {
		if r == '-' {
			// A leading hyphen is a vendor prefix and is kept lowercase.
			upper = i > 0
			continue
		}
		if upper {
			b.WriteString(strings.ToUpper(string(r)))
			upper = false
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Hyphenate is the inverse of Normalize, used when writing CSS text.
func Hyphenate(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r >= 'A' && r <= 'Z' {
			b.WriteByte('-')
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Format renders a style value as CSS text. Bare numbers are written as is.
func Format(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	default:
		return fmt.Sprint(t)
	}
}

// Aggregate folds the values read from several blocks into one: the shared
// value when all agree, Mixed otherwise. No values yields nil.
func Aggregate(values []any) any {
	if len(values) == 0 {
		return nil
	}
	first := values[0]
	for _, v := range values[1:] {
		if !Equal(first, v) {
			return Mixed
		}
	}
	return first
}

// Equal compares two style values. Numbers compare by value regardless of
// their Go type, so a value decoded from JSON matches one set in code.
func Equal(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}
