package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

// moduleBody is the top-level code of a fake module. It runs on every
// (re-)execution and returns the module instance.
type moduleBody func(hot *Hot) Module

// fakeLoader is a tiny module system: importing a module executes its body
// against a fresh hot context, like a real loader injecting import.meta.hot.
type fakeLoader struct {
	registry *Registry

	mu     sync.Mutex
	bodies map[string]moduleBody
	busts  []string
	events []string
	err    error
}

func newFakeLoader(r *Registry) *fakeLoader {
	return &fakeLoader{registry: r, bodies: make(map[string]moduleBody)}
}

func (l *fakeLoader) define(url string, body moduleBody) {
	l.bodies[url] = body
}

// exec performs the initial execution of url.
func (l *fakeLoader) exec(url string) Module {
	return l.bodies[url](l.registry.HotContext(url))
}

func (l *fakeLoader) record(event string) {
	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()
}

func (l *fakeLoader) log() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func (l *fakeLoader) imports() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.busts)
}

func (l *fakeLoader) Import(ctx context.Context, url, bust string) (Module, error) {
	l.mu.Lock()
	l.busts = append(l.busts, bust)
	err := l.err
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}
	l.record("import " + url)
	return l.exec(url), nil
}

func fixedClock() time.Time {
	return time.UnixMilli(1700000000000)
}

func newTestApplier(r *Registry, l Loader) *Applier {
	return NewApplier(r, l, ApplierOptions{Now: fixedClock})
}

func TestHotContext_SecondRegistrationLocksFirst(t *testing.T) {
	r := NewRegistry()

	first := r.HotContext("/a.js")
	assert.False(t, first.Locked())
	first.AcceptSelf()

	second := r.HotContext("/a.js")
	assert.True(t, first.Locked())
	assert.False(t, second.Locked())
	assert.Equal(t, 1, r.Len())

	// The accept list restarted for the new instance.
	first.Accept(func(AcceptEvent) error { return nil })
	accepts, _, _, _ := r.snapshot("/a.js")
	assert.Empty(t, accepts, "stale handle must not register")

	second.AcceptSelf()
	accepts, _, _, _ = r.snapshot("/a.js")
	assert.Len(t, accepts, 1)
}

func TestHotContext_MultipleRegistrationsAllFire(t *testing.T) {
	r := NewRegistry()
	l := newFakeLoader(r)

	var calls []string
	l.define("/a.js", func(hot *Hot) Module {
		hot.Dispose(func(DisposeEvent) error { calls = append(calls, "dispose1"); return nil })
		hot.Dispose(func(DisposeEvent) error { calls = append(calls, "dispose2"); return nil })
		hot.Accept(func(AcceptEvent) error { calls = append(calls, "accept1"); return nil })
		hot.Accept(func(AcceptEvent) error { calls = append(calls, "accept2"); return nil })
		return "a"
	})
	l.exec("/a.js")

	ok, err := newTestApplier(r, l).Apply(context.Background(), "/a.js")
	require.NoError(t, err)
	assert.True(t, ok)
	// Re-execution registers the same callbacks again but they only fire on
	// the next update.
	assert.Equal(t, []string{"dispose1", "dispose2", "accept1", "accept2"}, calls)
}

func TestApply_DisposeCompletesBeforeReimport(t *testing.T) {
	r := NewRegistry()
	l := newFakeLoader(r)

	l.define("/a.js", func(hot *Hot) Module {
		l.record("execute")
		hot.Dispose(func(DisposeEvent) error {
			l.record("dispose")
			return nil
		})
		hot.Accept(func(e AcceptEvent) error {
			l.record("accept " + e.Module.(string))
			return nil
		})
		return "fresh"
	})
	l.exec("/a.js")

	ok, err := newTestApplier(r, l).Apply(context.Background(), "/a.js")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, []string{
		"execute",
		"dispose",
		"import /a.js",
		"execute",
		"accept fresh",
	}, l.log())
}

func TestApply_DataSharedWithinOneUpdateOnly(t *testing.T) {
	r := NewRegistry()
	l := newFakeLoader(r)

	var seen []Data
	l.define("/a.js", func(hot *Hot) Module {
		hot.Dispose(func(e DisposeEvent) error {
			e.Data["count"] = len(seen) + 1
			return nil
		})
		hot.Dispose(func(e DisposeEvent) error {
			e.Data["second"] = e.Data["count"]
			return nil
		})
		hot.Accept(func(e AcceptEvent) error {
			seen = append(seen, e.Data)
			return nil
		})
		return nil
	})
	l.exec("/a.js")

	a := newTestApplier(r, l)
	for i := 0; i < 2; i++ {
		_, err := a.Apply(context.Background(), "/a.js")
		require.NoError(t, err)
	}

	require.Len(t, seen, 2)
	assert.Equal(t, Data{"count": 1, "second": 1}, seen[0])
	assert.Equal(t, Data{"count": 2, "second": 2}, seen[1])
	seen[0]["mutated"] = true
	assert.NotContains(t, seen[1], "mutated")
}

func TestApply_DeclinedNeverReimports(t *testing.T) {
	r := NewRegistry()
	l := newFakeLoader(r)

	called := false
	l.define("/c.js", func(hot *Hot) Module {
		hot.Dispose(func(DisposeEvent) error { called = true; return nil })
		hot.Accept(func(AcceptEvent) error { called = true; return nil })
		hot.Decline()
		return nil
	})
	l.exec("/c.js")
	assert.True(t, r.Declined("/c.js"))

	ok, err := newTestApplier(r, l).Apply(context.Background(), "/c.js")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, called)
	assert.Zero(t, l.imports())
}

func TestApply_DisposeOnlySkipsReimport(t *testing.T) {
	r := NewRegistry()
	l := newFakeLoader(r)

	disposed := 0
	l.define("/a.js", func(hot *Hot) Module {
		hot.Dispose(func(DisposeEvent) error { disposed++; return nil })
		return nil
	})
	l.exec("/a.js")

	a := newTestApplier(r, l)
	ok, err := a.Apply(context.Background(), "/a.js")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, disposed)
	assert.Zero(t, l.imports())

	// The dispose list was drained.
	ok, err = a.Apply(context.Background(), "/a.js")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, disposed)
}

func TestApply_UnknownOrIneligible(t *testing.T) {
	r := NewRegistry()
	l := newFakeLoader(r)
	l.define("/style.css", func(hot *Hot) Module {
		hot.AcceptSelf()
		return nil
	})
	l.exec("/style.css")

	a := newTestApplier(r, l)

	ok, err := a.Apply(context.Background(), "/missing.js")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = a.Apply(context.Background(), "/style.css")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, l.imports())
}

func TestApply_CacheBustToken(t *testing.T) {
	r := NewRegistry()
	l := newFakeLoader(r)
	l.define("/a.js", func(hot *Hot) Module {
		hot.AcceptSelf()
		return nil
	})
	l.exec("/a.js")

	_, err := newTestApplier(r, l).Apply(context.Background(), "/a.js")
	require.NoError(t, err)
	assert.Equal(t, []string{"mtime=1700000000000"}, l.busts)
}

func TestApply_LocksReleased(t *testing.T) {
	r := NewRegistry()
	l := newFakeLoader(r)
	l.define("/a.js", func(hot *Hot) Module {
		hot.AcceptSelf()
		return nil
	})
	l.exec("/a.js")
	a := newTestApplier(r, l)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = a.Apply(context.Background(), "/a.js")
		}()
	}
	wg.Wait()
	_, _ = a.Apply(context.Background(), "/missing.js")

	a.mu.Lock()
	defer a.mu.Unlock()
	assert.Empty(t, a.locks)
}

func TestApply_Failures(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name    string
		body    moduleBody
		loadErr error
		wantErr error
	}{
		{
			name: "dispose error",
			body: func(hot *Hot) Module {
				hot.Dispose(func(DisposeEvent) error { return boom })
				return nil
			},
			wantErr: boom,
		},
		{
			name: "accept panic",
			body: func(hot *Hot) Module {
				hot.Accept(func(AcceptEvent) error { panic("bad module") })
				return nil
			},
			wantErr: ErrCallbackPanic,
		},
		{
			name: "re-import error",
			body: func(hot *Hot) Module {
				hot.AcceptSelf()
				return nil
			},
			loadErr: boom,
			wantErr: boom,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			l := newFakeLoader(r)
			l.define("/a.js", tt.body)
			l.exec("/a.js")
			l.err = tt.loadErr

			ok, err := newTestApplier(r, l).Apply(context.Background(), "/a.js")
			assert.False(t, ok)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestApply_StaleHandleAfterUpdate(t *testing.T) {
	r := NewRegistry()
	l := newFakeLoader(r)

	var handles []*Hot
	l.define("/a.js", func(hot *Hot) Module {
		handles = append(handles, hot)
		hot.AcceptSelf()
		return nil
	})
	l.exec("/a.js")

	_, err := newTestApplier(r, l).Apply(context.Background(), "/a.js")
	require.NoError(t, err)
	require.Len(t, handles, 2)

	handles[0].Accept(func(AcceptEvent) error { return nil })
	accepts, _, _, _ := r.snapshot("/a.js")
	assert.Len(t, accepts, 1, "only the live instance's accept is registered")
}

func TestIsModuleURL(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"/src/a.js", true},
		{"/src/a.mjs", true},
		{"/src/a.js?mtime=1", true},
		{"/src/a.css", false},
		{"/src/a.jsx", false},
		{"/src/js", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsModuleURL(tt.url), tt.url)
	}
}

func TestInvalidate(t *testing.T) {
	var reasons []string
	r := NewRegistry(WithReloader(ReloaderFunc(func(reason string) {
		reasons = append(reasons, reason)
	})))
	r.HotContext("/a.js").Invalidate()
	assert.Equal(t, []string{"invalidated: /a.js"}, reasons)
}
