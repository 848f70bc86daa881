package audio

import (
	"errors"
	"fmt"
	"sync"
)

// Registry owns the link between a Source and its running frame stream.
// Binding the same source twice returns the existing Binding instead of
// starting the source again, so consumers can be torn down and re-created
// against a live source.
type Registry struct {
	mu       sync.Mutex
	bindings map[Source]*Binding
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{bindings: make(map[Source]*Binding)}
}

// Bind starts src on first use and returns its Binding.
func (r *Registry) Bind(src Source) (*Binding, error) {
	if src == nil {
		return nil, errors.New("nil audio source")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.bindings[src]; ok {
		return b, nil
	}

	b := &Binding{src: src, listeners: make(map[int]func([]float32))}
	if err := src.Start(b.dispatch); err != nil {
		return nil, fmt.Errorf("start %s: %w", src.Name(), err)
	}
	r.bindings[src] = b
	return b, nil
}

// Lookup returns the Binding for src if it has been bound.
func (r *Registry) Lookup(src Source) (*Binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bindings[src]
	return b, ok
}

// Release closes src and forgets its Binding. Releasing an unbound source is
// a no-op.
func (r *Registry) Release(src Source) error {
	r.mu.Lock()
	b, ok := r.bindings[src]
	delete(r.bindings, src)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return b.src.Close()
}

// Close releases every bound source.
func (r *Registry) Close() error {
	r.mu.Lock()
	sources := make([]Source, 0, len(r.bindings))
	for src := range r.bindings {
		sources = append(sources, src)
	}
	r.mu.Unlock()

	var errs []error
	for _, src := range sources {
		if err := r.Release(src); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Binding fans frames from one running Source out to its subscribers.
type Binding struct {
	src Source

	mu        sync.RWMutex
	listeners map[int]func([]float32)
	nextID    int
}

// Source returns the bound source.
func (b *Binding) Source() Source {
	return b.src
}

// Subscribe registers fn for every subsequent frame and returns its id.
func (b *Binding) Subscribe(fn func([]float32)) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.listeners[b.nextID] = fn
	return b.nextID
}

// Unsubscribe removes a listener. Unknown ids are ignored.
func (b *Binding) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.listeners, id)
}

// Listeners reports the number of subscribers.
func (b *Binding) Listeners() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

func (b *Binding) dispatch(frame []float32) {
	b.mu.RLock()
	fns := make([]func([]float32), 0, len(b.listeners))
	for _, fn := range b.listeners {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(frame)
	}
}
