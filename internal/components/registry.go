// Package components manages user-built studio components: a registry that
// loads and caches them for the canvas, and an editor that creates, edits
// and deletes them.
package components

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/livetemplate/blockstudio/internal/block"
	"github.com/livetemplate/blockstudio/internal/cache"
	"github.com/livetemplate/blockstudio/internal/codec"
	"github.com/livetemplate/blockstudio/internal/script"
	"github.com/livetemplate/blockstudio/internal/store"
)

// Loader fetches a stored component.
type Loader interface {
	GetComponent(ctx context.Context, id string) (*store.Component, error)
}

type entry struct {
	doc  store.Component
	root *block.Block
}

// retryMissing is how long a missing-component placeholder is served before
// the next Get tries the loader again.
const retryMissing = 30 * time.Second

// Registry loads each component once. A component that fails to load is
// cached as the missing-component placeholder, so the canvas keeps
// rendering. Once the placeholder goes stale a Get still returns it and
// retries the load in the background.
type Registry struct {
	loader       Loader
	sb           *script.Sandbox
	log          *log.Logger
	cache        *cache.Memory[*entry]
	retryMissing time.Duration

	mu      sync.Mutex
	loading map[string]chan struct{}
}

// NewRegistry builds a registry over loader. sb compiles function props in
// component documents and may be nil.
func NewRegistry(loader Loader, sb *script.Sandbox, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.Default()
	}
	return &Registry{
		loader:       loader,
		sb:           sb,
		log:          logger,
		cache:        cache.New[*entry](),
		retryMissing: retryMissing,
		loading:      make(map[string]chan struct{}),
	}
}

// Get returns a copy of the component's block, loading it on first use.
func (r *Registry) Get(ctx context.Context, id string) (*block.Block, error) {
	e, err := r.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.root == nil {
		return nil, nil
	}
	return codec.Copy(e.root, r.sb, true)
}

func (r *Registry) load(ctx context.Context, id string) (*entry, error) {
	for {
		if e, ok, stale := r.cache.Get(id); ok {
			if stale {
				r.retry(id)
			}
			return e, nil
		}

		r.mu.Lock()
		wait, busy := r.loading[id]
		if !busy {
			done := make(chan struct{})
			r.loading[id] = done
			r.mu.Unlock()
			r.fetch(ctx, id)
			r.mu.Lock()
			delete(r.loading, id)
			r.mu.Unlock()
			close(done)
			continue
		}
		r.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// retry reloads id in the background unless a load is already running.
func (r *Registry) retry(id string) {
	r.mu.Lock()
	if _, busy := r.loading[id]; busy {
		r.mu.Unlock()
		return
	}
	done := make(chan struct{})
	r.loading[id] = done
	r.mu.Unlock()

	go func() {
		defer close(done)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		r.fetch(ctx, id)
		r.mu.Lock()
		delete(r.loading, id)
		r.mu.Unlock()
	}()
}

func (r *Registry) fetch(ctx context.Context, id string) {
	doc, err := r.loader.GetComponent(ctx, id)
	if err == nil {
		if err = r.Cache(*doc); err == nil {
			return
		}
	}
	r.log.Warn("component unavailable, using placeholder", "component", id, "err", err)
	missing, encErr := codec.Encode(block.FromTemplate(block.MissingTemplate))
	if encErr != nil {
		r.log.Error("encode placeholder", "err", encErr)
		return
	}
	root, err := codec.Decode(missing, r.sb)
	if err != nil {
		r.log.Error("decode placeholder", "err", err)
		return
	}
	placeholder := store.Component{ComponentID: id, ComponentName: id, Block: string(missing)}
	r.cache.SetWithStale(id, &entry{doc: placeholder, root: root}, r.retryMissing, 0)
}

// Cache stores a component document, decoding its block.
func (r *Registry) Cache(doc store.Component) error {
	e := &entry{doc: doc}
	if doc.Block != "" {
		root, err := codec.Decode([]byte(doc.Block), r.sb)
		if err != nil {
			return fmt.Errorf("component %q: %w", doc.ComponentID, err)
		}
		e.root = root
	}
	r.cache.Set(doc.ComponentID, e, 0)
	return nil
}

// Doc returns the cached document for id.
func (r *Registry) Doc(id string) (store.Component, bool) {
	e, ok, _ := r.cache.Get(id)
	if !ok {
		return store.Component{}, false
	}
	return e.doc, true
}

// Name returns the component's display name, or id when it is not cached.
func (r *Registry) Name(id string) string {
	if doc, ok := r.Doc(id); ok && doc.ComponentName != "" {
		return doc.ComponentName
	}
	return id
}

// Remove drops a component from the cache.
func (r *Registry) Remove(id string) {
	r.cache.Invalidate(id)
}

// Close stops the cache.
func (r *Registry) Close() {
	r.cache.Stop()
}
