package client

import (
	"sync"
)

// Module is a freshly imported module instance, as produced by a Loader.
type Module any

// Data carries teardown state from dispose callbacks to accept callbacks.
// One Data value is created per update and never reused.
type Data map[string]any

// AcceptEvent is passed to accept callbacks after re-import.
type AcceptEvent struct {
	Module Module
	Data   Data
}

// DisposeEvent is passed to dispose callbacks before re-import.
type DisposeEvent struct {
	Data Data
}

// AcceptFunc handles a replaced module instance.
type AcceptFunc func(AcceptEvent) error

// DisposeFunc tears down the current module instance.
type DisposeFunc func(DisposeEvent) error

// ModuleState is the hot reload record of one module URL. It outlives module
// instances: every re-execution registers against the same record.
type ModuleState struct {
	url        string
	generation uint64
	declined   bool

	// accepts holds nil for "accept without callback".
	accepts  []AcceptFunc
	disposes []DisposeFunc
}

// Registry maps module URLs to their hot reload records. It is process-scoped
// state: create one at startup and share it with the Applier.
type Registry struct {
	mu       sync.Mutex
	modules  map[string]*ModuleState
	reloader Reloader
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithReloader sets the reloader used by Hot.Invalidate.
func WithReloader(r Reloader) RegistryOption {
	return func(reg *Registry) {
		reg.reloader = r
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{modules: make(map[string]*ModuleState)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HotContext returns the registration handle for one execution of the module
// at url.
//
// The first call creates the record. Every later call means the module is
// executing again: the generation advances, which locks every handle issued
// before, and the accept list starts over for the new instance.
func (r *Registry) HotContext(url string) *Hot {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.modules[url]
	if ok {
		state.generation++
		state.accepts = nil
	} else {
		state = &ModuleState{url: url}
		r.modules[url] = state
	}
	return &Hot{registry: r, state: state, generation: state.generation}
}

// Len returns the number of registered modules.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.modules)
}

// Declined reports whether the module at url opted out of hot reload.
func (r *Registry) Declined(url string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.modules[url]
	return ok && state.declined
}

// Hot is the handle a module instance uses to register hot reload behavior.
// A handle is bound to the generation it was issued for.
type Hot struct {
	registry   *Registry
	state      *ModuleState
	generation uint64
}

// URL returns the module URL.
func (h *Hot) URL() string {
	return h.state.url
}

// Locked reports whether a newer instance of the module has registered since
// this handle was issued.
func (h *Hot) Locked() bool {
	h.registry.mu.Lock()
	defer h.registry.mu.Unlock()
	return h.lockedLocked()
}

func (h *Hot) lockedLocked() bool {
	return h.state.generation != h.generation
}

// Accept declares that the module can be replaced in place. fn runs after the
// replacement is imported; a nil fn accepts without a callback.
// Accept on a locked handle does nothing.
func (h *Hot) Accept(fn AcceptFunc) {
	h.registry.mu.Lock()
	defer h.registry.mu.Unlock()
	if h.lockedLocked() {
		return
	}
	h.state.accepts = append(h.state.accepts, fn)
}

// AcceptSelf is Accept(nil).
func (h *Hot) AcceptSelf() {
	h.Accept(nil)
}

// Dispose registers teardown for the current instance. It runs right before
// the replacement is imported.
func (h *Hot) Dispose(fn DisposeFunc) {
	if fn == nil {
		return
	}
	h.registry.mu.Lock()
	defer h.registry.mu.Unlock()
	h.state.disposes = append(h.state.disposes, fn)
}

// Decline marks the module as never hot reloadable. Any later update for it
// escalates to a full reload.
func (h *Hot) Decline() {
	h.registry.mu.Lock()
	defer h.registry.mu.Unlock()
	h.state.declined = true
}

// Invalidate asks for a full reload.
func (h *Hot) Invalidate() {
	if h.registry.reloader != nil {
		h.registry.reloader.Reload("invalidated: " + h.state.url)
	}
}

// snapshot takes the callbacks for one update cycle: accepts are copied,
// disposes are drained. Nothing is taken from unknown or declined modules.
func (r *Registry) snapshot(url string) (accepts []AcceptFunc, disposes []DisposeFunc, found, declined bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.modules[url]
	if !ok {
		return nil, nil, false, false
	}
	if state.declined {
		return nil, nil, true, true
	}

	accepts = append([]AcceptFunc(nil), state.accepts...)
	disposes = state.disposes
	state.disposes = nil
	return accepts, disposes, true, false
}
