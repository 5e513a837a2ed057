// Package metadata is the component catalog: icons, titles, initial props,
// prop schemas and emitted events for every component the canvas can place.
package metadata

import (
	_ "embed"
	"fmt"
	"os"
	"slices"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/livetemplate/blockstudio/internal/block"
)

//go:embed components.yaml
var defaultCatalog []byte

// Component describes one catalog entry.
type Component struct {
	Name               string             `yaml:"name"`
	Title              string             `yaml:"title"`
	Icon               string             `yaml:"icon"`
	External           bool               `yaml:"external"`
	InitialState       map[string]any     `yaml:"initialState"`
	Props              map[string]PropDef `yaml:"props"`
	Emits              []string           `yaml:"emits"`
	InitialSlots       []string           `yaml:"initialSlots"`
	ProxyComponent     string             `yaml:"proxyComponent"`
	EditInFragmentMode bool               `yaml:"editInFragmentMode"`
}

// PropDef is a prop declaration as a component library states it.
type PropDef struct {
	Type    TypeList `yaml:"type"`
	Default any      `yaml:"default"`
}

// TypeList is one or more constructor names (String, Number, Boolean, Array,
// Object, Function). YAML accepts a scalar or a sequence.
type TypeList []string

func (t *TypeList) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		*t = TypeList{n.Value}
		return nil
	case yaml.SequenceNode:
		var names []string
		if err := n.Decode(&names); err != nil {
			return err
		}
		*t = names
		return nil
	}
	return fmt.Errorf("metadata: line %d: prop type must be a name or a list of names", n.Line)
}

// Prop is the editor-facing schema for a prop.
type Prop struct {
	Type      string `json:"type"`
	Default   any    `json:"default"`
	InputType string `json:"inputType"`
}

// Provider is the lookup contract the canvas and resolver rely on.
type Provider interface {
	Get(name string) (Component, bool)
	IsKnownExternalComponent(name string) bool
	Props(name string) map[string]Prop
	Emits(name string) []string
}

// Catalog is a Provider backed by YAML documents.
type Catalog struct {
	components map[string]Component
}

var _ Provider = (*Catalog)(nil)
var _ block.Catalog = (*Catalog)(nil)

// Default parses the embedded catalog.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// MustDefault is Default for package initialization and tests.
func MustDefault() *Catalog {
	c, err := Default()
	if err != nil {
		panic(err)
	}
	return c
}

// Parse reads a catalog document: a YAML list of components.
func Parse(data []byte) (*Catalog, error) {
	c := &Catalog{components: make(map[string]Component)}
	if err := c.merge(data); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadFile merges the components in path over the catalog; entries with the
// same name replace existing ones. A missing file is not an error.
func (c *Catalog) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("metadata: read %s: %w", path, err)
	}
	return c.merge(data)
}

func (c *Catalog) merge(data []byte) error {
	var list []Component
	if err := yaml.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("metadata: parse catalog: %w", err)
	}
	for _, comp := range list {
		if comp.Name == "" {
			return fmt.Errorf("metadata: component without a name (title %q)", comp.Title)
		}
		if comp.Title == "" {
			comp.Title = comp.Name
		}
		c.components[comp.Name] = comp
	}
	return nil
}

// Get returns a catalog entry.
func (c *Catalog) Get(name string) (Component, bool) {
	comp, ok := c.components[name]
	return comp, ok
}

// Names returns every component name, sorted.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.components))
	for n := range c.components {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// IsKnownExternalComponent reports whether the host's component library
// renders name.
func (c *Catalog) IsKnownExternalComponent(name string) bool {
	return c.components[name].External
}

// Icon implements block.Catalog.
func (c *Catalog) Icon(name string) string {
	if comp, ok := c.components[name]; ok && comp.Icon != "" {
		return comp.Icon
	}
	return block.GenericIcon
}

// Title implements block.Catalog.
func (c *Catalog) Title(name string) string {
	if comp, ok := c.components[name]; ok {
		return comp.Title
	}
	return name
}

// Emits returns the events a component emits.
func (c *Catalog) Emits(name string) []string {
	return slices.Clone(c.components[name].Emits)
}

// ProxyComponent returns the component placed on the canvas in name's stead.
func (c *Catalog) ProxyComponent(name string) (string, bool) {
	p := c.components[name].ProxyComponent
	return p, p != ""
}

// EditInFragmentMode reports whether a dropped component opens in its own
// fragment editor instead of being inserted into the page.
func (c *Catalog) EditInFragmentMode(name string) bool {
	return c.components[name].EditInFragmentMode
}

// Props returns the editor schema for a component's props.
func (c *Catalog) Props(name string) map[string]Prop {
	comp, ok := c.components[name]
	if !ok || len(comp.Props) == 0 {
		return map[string]Prop{}
	}
	out := make(map[string]Prop, len(comp.Props))
	for pname, def := range comp.Props {
		typ := propType(def.Type)
		out[pname] = Prop{Type: typ, Default: def.Default, InputType: InputType(typ)}
	}
	return out
}

// propType collapses a type list: any non-primitive member makes the prop
// an Object, other unions are treated as String.
func propType(types TypeList) string {
	switch len(types) {
	case 0:
		return "String"
	case 1:
		return types[0]
	}
	for _, t := range types {
		switch t {
		case "Array", "Object", "Function":
			return "Object"
		}
	}
	return "String"
}

// InputType maps a prop type to the editor input used for it.
func InputType(propType string) string {
	switch propType {
	case "Number":
		return "number"
	case "Boolean":
		return "checkbox"
	case "Array", "Object", "Function":
		return "code"
	}
	return "text"
}

// NewBlock builds a block for a component seeded with its initial props and
// empty initial slots. Function source in the initial state is left as text.
func (c *Catalog) NewBlock(name string) *block.Block {
	comp := c.components[name]
	opts := block.Options{
		ComponentName: name,
		Props:         deepCopy(comp.InitialState),
	}
	if len(comp.InitialSlots) > 0 {
		opts.Slots = make(map[string]block.SlotContent, len(comp.InitialSlots))
		for _, s := range comp.InitialSlots {
			opts.Slots[s] = block.Blocks()
		}
	}
	return block.New(opts)
}

func deepCopy(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopy(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = deepCopyValue(item)
		}
		return out
	}
	return v
}
