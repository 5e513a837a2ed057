package components

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livetemplate/blockstudio/internal/block"
	"github.com/livetemplate/blockstudio/internal/canvas"
	"github.com/livetemplate/blockstudio/internal/script"
	"github.com/livetemplate/blockstudio/internal/store"
)

func quiet() *log.Logger {
	l := log.New(os.Stderr)
	l.SetLevel(log.FatalLevel)
	return l
}

type countingLoader struct {
	calls atomic.Int32
	err   error
	doc   *store.Component
}

func (l *countingLoader) GetComponent(_ context.Context, id string) (*store.Component, error) {
	l.calls.Add(1)
	if l.err != nil {
		return nil, l.err
	}
	return l.doc, nil
}

type fragmentRecorder struct {
	opened []canvas.Fragment
}

func (f *fragmentRecorder) EditFragment(fr canvas.Fragment) error {
	f.opened = append(f.opened, fr)
	return nil
}

func TestRegistryLoadsOnce(t *testing.T) {
	loader := &countingLoader{doc: &store.Component{
		ComponentID:   "card",
		ComponentName: "Card",
		Block:         `{"componentId":"card-root","componentName":"div"}`,
	}}
	reg := NewRegistry(loader, nil, quiet())
	defer reg.Close()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := reg.Get(context.Background(), "card")
			assert.NoError(t, err)
			assert.Equal(t, "card-root", b.ID())
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), loader.calls.Load())
	assert.Equal(t, "Card", reg.Name("card"))

	a, _ := reg.Get(context.Background(), "card")
	b, _ := reg.Get(context.Background(), "card")
	assert.NotSame(t, a, b, "each Get hands out its own copy")
}

func TestRegistryCachesMissingPlaceholder(t *testing.T) {
	loader := &countingLoader{err: &store.NotFoundError{Kind: "component", Name: "gone"}}
	reg := NewRegistry(loader, nil, quiet())
	defer reg.Close()

	b, err := reg.Get(context.Background(), "gone")
	require.NoError(t, err)
	assert.Equal(t, block.RawHTMLElement, b.OriginalElement())
	assert.Contains(t, b.InnerHTML(), "Component Missing")

	_, err = reg.Get(context.Background(), "gone")
	require.NoError(t, err)
	assert.Equal(t, int32(1), loader.calls.Load(), "failures are not retried")
	assert.Equal(t, "gone", reg.Name("gone"))

	reg.Remove("gone")
	_, ok := reg.Doc("gone")
	assert.False(t, ok)
	_, err = reg.Get(context.Background(), "gone")
	require.NoError(t, err)
	assert.Equal(t, int32(2), loader.calls.Load())
}

// switchLoader fails until it is given a document.
type switchLoader struct {
	mu  sync.Mutex
	doc *store.Component
}

func (l *switchLoader) set(doc *store.Component) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.doc = doc
}

func (l *switchLoader) GetComponent(_ context.Context, id string) (*store.Component, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.doc == nil {
		return nil, &store.NotFoundError{Kind: "component", Name: id}
	}
	return l.doc, nil
}

func TestRegistryRetriesMissingWhenStale(t *testing.T) {
	loader := &switchLoader{}
	reg := NewRegistry(loader, nil, quiet())
	reg.retryMissing = 10 * time.Millisecond
	defer reg.Close()

	b, err := reg.Get(context.Background(), "late")
	require.NoError(t, err)
	assert.Equal(t, block.RawHTMLElement, b.OriginalElement())

	loader.set(&store.Component{ComponentID: "late", ComponentName: "Late", Block: `{"componentId":"late-root","componentName":"div"}`})
	time.Sleep(20 * time.Millisecond)

	// The stale placeholder is served while the reload runs.
	_, err = reg.Get(context.Background(), "late")
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return reg.Name("late") == "Late" }, time.Second, 5*time.Millisecond)

	b, err = reg.Get(context.Background(), "late")
	require.NoError(t, err)
	assert.Equal(t, "late-root", b.ID())
}

func TestRegistryNameFallsBackToID(t *testing.T) {
	reg := NewRegistry(&countingLoader{err: errors.New("x")}, nil, quiet())
	defer reg.Close()
	assert.Equal(t, "unknown", reg.Name("unknown"))
}

func newEditor(t *testing.T) (*Editor, *store.FileStore, *fragmentRecorder, *[]script.Toast) {
	t.Helper()
	st, err := store.OpenFile(t.TempDir(), quiet())
	require.NoError(t, err)
	reg := NewRegistry(st, nil, quiet())
	t.Cleanup(reg.Close)
	host := &fragmentRecorder{}
	var toasts []script.Toast
	svc := script.Services{ShowToast: func(tt script.Toast) { toasts = append(toasts, tt) }}
	return NewEditor(reg, st, host, svc, quiet()), st, host, &toasts
}

func TestEditorCreateEditSave(t *testing.T) {
	ed, st, host, toasts := newEditor(t)
	ctx := context.Background()

	seed := block.Named("div")
	seed.SetStyle("color", "red")
	created, err := ed.Create(ctx, "Price Tag", seed)
	require.NoError(t, err)
	assert.Equal(t, "price_tag", created.ComponentID)
	assert.Equal(t, "Component created successfully", (*toasts)[0].Title)

	stored, err := st.GetComponent(ctx, "price_tag")
	require.NoError(t, err)
	stored.Inputs = []store.ComponentInput{{InputName: "amount", Type: "Number"}}
	require.NoError(t, st.SaveComponent(ctx, *stored))
	ed.reg.Remove("price_tag")

	require.NoError(t, ed.Edit(ctx, "price_tag"))
	require.Len(t, host.opened, 1)
	fr := host.opened[0]
	assert.Equal(t, "Save Component", fr.Label)
	assert.Equal(t, "Price Tag", fr.Name)
	assert.Equal(t, canvas.FragmentComponent, fr.Kind)
	assert.Equal(t, "red", fr.Root.Style("color"))
	assert.Equal(t, "price_tag", ed.Editing())
	assert.Len(t, ed.Inputs(), 1)

	ed.AddInput(store.ComponentInput{InputName: "currency", Type: "String"})
	fr.Root.SetStyle("color", "blue")
	require.NoError(t, fr.OnSave(fr.Root))

	stored, err = st.GetComponent(ctx, "price_tag")
	require.NoError(t, err)
	assert.Len(t, stored.Inputs, 2)
	b, err := ed.reg.Get(ctx, "price_tag")
	require.NoError(t, err)
	assert.Equal(t, "blue", b.Style("color"))

	fr.OnExit()
	assert.Empty(t, ed.Editing())
	assert.Empty(t, ed.Inputs())
}

func TestEditorEditsEmptyComponent(t *testing.T) {
	ed, _, host, _ := newEditor(t)
	ctx := context.Background()
	_, err := ed.Create(ctx, "Blank", nil)
	require.NoError(t, err)

	require.NoError(t, ed.Edit(ctx, "blank"))
	require.Len(t, host.opened, 1)
	assert.NotNil(t, host.opened[0].Root)
}

func TestEditorDelete(t *testing.T) {
	ed, st, _, toasts := newEditor(t)
	ctx := context.Background()
	_, err := ed.Create(ctx, "Badge", block.Named("span"))
	require.NoError(t, err)

	require.NoError(t, ed.Delete(ctx, "badge"))
	_, err = st.GetComponent(ctx, "badge")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, ok := ed.reg.Doc("badge")
	assert.False(t, ok)
	assert.Equal(t, "Component 'Badge' deleted successfully", (*toasts)[len(*toasts)-1].Title)

	err = ed.Delete(ctx, "badge")
	assert.ErrorIs(t, err, store.ErrNotFound)
	last := (*toasts)[len(*toasts)-1]
	assert.Equal(t, script.ToastError, last.Type)
}

func TestEditorInputs(t *testing.T) {
	ed, _, _, _ := newEditor(t)
	ed.AddInput(store.ComponentInput{InputName: "a"})
	ed.AddInput(store.ComponentInput{InputName: "b"})

	assert.True(t, ed.UpdateInput(1, store.ComponentInput{InputName: "c"}))
	assert.False(t, ed.UpdateInput(2, store.ComponentInput{InputName: "x"}))
	assert.False(t, ed.UpdateInput(-1, store.ComponentInput{InputName: "x"}))
	assert.False(t, ed.RemoveInput(5))
	assert.True(t, ed.RemoveInput(0))
	assert.Equal(t, []store.ComponentInput{{InputName: "c"}}, ed.Inputs())

	ed.ClearInputs()
	assert.Empty(t, ed.Inputs())
}
