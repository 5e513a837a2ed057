package components

import (
	"context"
	"fmt"
	"slices"

	"github.com/charmbracelet/log"

	"github.com/livetemplate/blockstudio/internal/block"
	"github.com/livetemplate/blockstudio/internal/canvas"
	"github.com/livetemplate/blockstudio/internal/codec"
	"github.com/livetemplate/blockstudio/internal/script"
	"github.com/livetemplate/blockstudio/internal/store"
)

// Store is the persistence the editor writes through.
type Store interface {
	Loader
	InsertComponent(ctx context.Context, c store.Component) (*store.Component, error)
	SaveComponent(ctx context.Context, c store.Component) error
	DeleteComponent(ctx context.Context, id string) error
}

// FragmentHost opens a block on its own canvas.
type FragmentHost interface {
	EditFragment(f canvas.Fragment) error
}

// Editor creates, edits and deletes components. While a component is open
// it holds the input list being edited.
type Editor struct {
	reg    *Registry
	store  Store
	host   FragmentHost
	notify script.Services
	log    *log.Logger

	editing string
	inputs  []store.ComponentInput
}

// NewEditor builds an editor. notify may be zero; its ShowToast, when set,
// reports the outcome of each operation.
func NewEditor(reg *Registry, st Store, host FragmentHost, notify script.Services, logger *log.Logger) *Editor {
	if logger == nil {
		logger = log.Default()
	}
	return &Editor{reg: reg, store: st, host: host, notify: notify, log: logger}
}

func (e *Editor) toast(kind, title string, err error) {
	if e.notify.ShowToast == nil {
		return
	}
	t := script.Toast{Title: title, Type: kind}
	if err != nil {
		t.Message = store.UserFriendlyMessage(err)
	}
	e.notify.ShowToast(t)
}

// Create stores a new component named name, seeded with b when given.
func (e *Editor) Create(ctx context.Context, name string, b *block.Block) (*store.Component, error) {
	doc := store.Component{ComponentName: name}
	if b != nil {
		data, err := codec.Encode(b)
		if err != nil {
			return nil, err
		}
		doc.Block = string(data)
	}
	created, err := e.store.InsertComponent(ctx, doc)
	if err != nil {
		e.toast(script.ToastError, "Failed to create component", err)
		return nil, err
	}
	if err := e.reg.Cache(*created); err != nil {
		return nil, err
	}
	e.toast(script.ToastSuccess, "Component created successfully", nil)
	return created, nil
}

// Edit opens a component on a fragment canvas. Saving the fragment saves
// the component with the editor's current inputs.
func (e *Editor) Edit(ctx context.Context, id string) error {
	root, err := e.reg.Get(ctx, id)
	if err != nil {
		return err
	}
	if root == nil {
		root = block.FromTemplate(block.EmptyTemplate)
	}
	doc, _ := e.reg.Doc(id)

	e.editing = id
	e.inputs = slices.Clone(doc.Inputs)

	return e.host.EditFragment(canvas.Fragment{
		Root:  root,
		Label: "Save Component",
		Name:  e.reg.Name(id),
		ID:    id,
		Kind:  canvas.FragmentComponent,
		OnSave: func(edited *block.Block) error {
			return e.Save(ctx, id, edited)
		},
		OnExit: e.reset,
	})
}

// Editing returns the id of the open component.
func (e *Editor) Editing() string { return e.editing }

func (e *Editor) reset() {
	e.editing = ""
	e.inputs = nil
}

// Save writes b and the current inputs to component id.
func (e *Editor) Save(ctx context.Context, id string, b *block.Block) error {
	data, err := codec.Encode(b)
	if err != nil {
		return err
	}
	doc := store.Component{
		ComponentID:   id,
		ComponentName: e.reg.Name(id),
		Block:         string(data),
		Inputs:        slices.Clone(e.inputs),
	}
	if err := e.store.SaveComponent(ctx, doc); err != nil {
		e.toast(script.ToastError, "Failed to save component", err)
		return err
	}
	if err := e.reg.Cache(doc); err != nil {
		return err
	}
	e.toast(script.ToastSuccess, "Component saved successfully", nil)
	return nil
}

// Delete removes a component from the store and the registry.
func (e *Editor) Delete(ctx context.Context, id string) error {
	name := e.reg.Name(id)
	if err := e.store.DeleteComponent(ctx, id); err != nil {
		e.toast(script.ToastError, fmt.Sprintf("Failed to delete component '%s'", name), err)
		return err
	}
	e.reg.Remove(id)
	e.toast(script.ToastSuccess, fmt.Sprintf("Component '%s' deleted successfully", name), nil)
	return nil
}

// Inputs returns the inputs being edited.
func (e *Editor) Inputs() []store.ComponentInput { return slices.Clone(e.inputs) }

// AddInput appends an input.
func (e *Editor) AddInput(in store.ComponentInput) { e.inputs = append(e.inputs, in) }

// UpdateInput replaces the input at i. Out-of-range indexes are ignored.
func (e *Editor) UpdateInput(i int, in store.ComponentInput) bool {
	if i < 0 || i >= len(e.inputs) {
		return false
	}
	e.inputs[i] = in
	return true
}

// RemoveInput deletes the input at i. Out-of-range indexes are ignored.
func (e *Editor) RemoveInput(i int) bool {
	if i < 0 || i >= len(e.inputs) {
		return false
	}
	e.inputs = slices.Delete(e.inputs, i, i+1)
	return true
}

// ClearInputs removes every input.
func (e *Editor) ClearInputs() { e.inputs = nil }
