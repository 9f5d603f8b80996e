package client

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrCallbackPanic wraps a panic raised by an accept or dispose callback.
var ErrCallbackPanic = errors.New("client: callback panicked")

// Loader produces a fresh instance of a module. bust is a cache-busting token
// the loader must use to bypass any instance cache (e.g. "mtime=1700000000000").
type Loader interface {
	Import(ctx context.Context, url, bust string) (Module, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, url, bust string) (Module, error)

// Import calls f.
func (f LoaderFunc) Import(ctx context.Context, url, bust string) (Module, error) {
	return f(ctx, url, bust)
}

// ApplierOptions configures an Applier.
type ApplierOptions struct {
	// Eligible reports whether url denotes a hot reloadable module.
	// Default: .js and .mjs files.
	Eligible func(url string) bool

	// Now is the clock used for cache-busting tokens. Default: time.Now.
	Now func() time.Time

	// Logger receives applier logs. Default: no-op.
	Logger *zap.Logger
}

// Applier drives one update through dispose, re-import and accept.
type Applier struct {
	registry *Registry
	loader   Loader
	eligible func(string) bool
	now      func() time.Time
	logger   *zap.Logger

	mu    sync.Mutex
	locks map[string]*urlLock
}

// urlLock serializes updates for one URL. It is dropped from the map once no
// update holds or waits on it.
type urlLock struct {
	mu   sync.Mutex
	refs int
}

// NewApplier creates an applier over registry, importing with loader.
func NewApplier(registry *Registry, loader Loader, opts ApplierOptions) *Applier {
	if opts.Eligible == nil {
		opts.Eligible = IsModuleURL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Applier{
		registry: registry,
		loader:   loader,
		eligible: opts.Eligible,
		now:      opts.Now,
		logger:   opts.Logger,
		locks:    make(map[string]*urlLock),
	}
}

// Apply replaces the module at url in place.
//
// It returns false when the update cannot be applied locally (unknown,
// ineligible or declined module) and an error when a callback or the re-import
// fails. In both cases the caller must fall back to a full reload.
//
// Dispose callbacks all complete before the replacement starts loading. The
// module is re-imported only when at least one accept was registered.
// Updates for the same URL are applied one at a time.
func (a *Applier) Apply(ctx context.Context, url string) (bool, error) {
	if !a.eligible(url) {
		return false, nil
	}

	lock := a.acquire(url)
	defer a.release(url, lock)

	accepts, disposes, found, declined := a.registry.snapshot(url)
	if !found {
		a.logger.Debug("update for unknown module", zap.String("url", url))
		return false, nil
	}
	if declined {
		a.logger.Debug("update for declined module", zap.String("url", url))
		return false, nil
	}

	data := Data{}
	for i, fn := range disposes {
		if err := invoke(func() error { return fn(DisposeEvent{Data: data}) }); err != nil {
			return false, fmt.Errorf("dispose callback %d for %s: %w", i, url, err)
		}
	}

	if len(accepts) == 0 {
		return true, nil
	}

	bust := "mtime=" + strconv.FormatInt(a.now().UnixMilli(), 10)
	module, err := a.loader.Import(ctx, url, bust)
	if err != nil {
		return false, fmt.Errorf("re-import %s: %w", url, err)
	}

	for i, fn := range accepts {
		if fn == nil {
			continue
		}
		if err := invoke(func() error { return fn(AcceptEvent{Module: module, Data: data}) }); err != nil {
			return false, fmt.Errorf("accept callback %d for %s: %w", i, url, err)
		}
	}

	a.logger.Debug("update applied",
		zap.String("url", url),
		zap.Int("disposed", len(disposes)),
		zap.Int("accepted", len(accepts)))
	return true, nil
}

func (a *Applier) acquire(url string) *urlLock {
	a.mu.Lock()
	l, ok := a.locks[url]
	if !ok {
		l = &urlLock{}
		a.locks[url] = l
	}
	l.refs++
	a.mu.Unlock()

	l.mu.Lock()
	return l
}

func (a *Applier) release(url string, l *urlLock) {
	l.mu.Unlock()

	a.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(a.locks, url)
	}
	a.mu.Unlock()
}

// IsModuleURL reports whether url names a JavaScript module file, ignoring
// any query string or fragment.
func IsModuleURL(url string) bool {
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		url = url[:i]
	}
	switch path.Ext(url) {
	case ".js", ".mjs":
		return true
	}
	return false
}

func invoke(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrCallbackPanic, r)
		}
	}()
	return fn()
}
