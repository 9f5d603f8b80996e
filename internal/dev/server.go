package dev

import (
	"context"
	stderrors "errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vango-dev/hmr/internal/config"
	"github.com/vango-dev/hmr/internal/errors"
	"github.com/vango-dev/hmr/internal/scan"
	"github.com/vango-dev/hmr/pkg/graph"
	"github.com/vango-dev/hmr/pkg/hmr"
)

// ServerOptions configures the development server.
type ServerOptions struct {
	// Config is the project configuration.
	Config *config.Config

	// Logger receives server logs. Default: no-op.
	Logger *zap.Logger

	// Listener overrides the address from Config. Tests pass a listener on
	// port 0.
	Listener net.Listener

	// OnChange is called after each batch of file changes is handled.
	OnChange func(changes []Change)
}

// Server serves a directory of ES modules, keeps the module graph current
// as files change, and pushes hot updates to connected browsers.
type Server struct {
	config     *config.Config
	options    ServerOptions
	logger     *zap.Logger
	root       string
	graph      *graph.Graph
	engine     *hmr.Engine
	metrics    *prometheus.Registry
	watcher    *Watcher
	router     chi.Router
	changeCh   chan Change
	httpServer *http.Server

	mu          sync.Mutex
	running     bool
	cancel      context.CancelFunc
	addr        net.Addr
	errorActive bool

	// Held back while a module in the batch failed to scan.
	pendingURLs   []string
	pendingReload bool
}

// NewServer creates a new development server.
func NewServer(options ServerOptions) *Server {
	cfg := options.Config
	if cfg == nil {
		cfg = config.New()
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	reg := prometheus.NewRegistry()
	g := graph.New()
	engine := hmr.New(g, hmr.Options{
		Path:         cfg.HMR.Path,
		SendBuffer:   cfg.HMR.SendBuffer,
		WriteTimeout: cfg.WriteTimeoutDuration(),
		Logger:       logger.Named("hmr"),
		Metrics:      hmr.NewMetrics(hmr.WithRegistry(reg)),
	})

	watcher := NewWatcher(WatcherConfig{
		Paths:      cfg.WatchPaths(),
		Ignore:     append(append([]string(nil), DefaultIgnore...), cfg.Dev.Ignore...),
		Debounce:   cfg.DebounceDuration(),
		Extensions: cfg.HMR.Extensions,
		Logger:     logger.Named("watch"),
	})

	s := &Server{
		config:  cfg,
		options: options,
		logger:  logger,
		root:    cfg.RootPath(),
		graph:   g,
		engine:  engine,
		metrics: reg,
		watcher: watcher,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	s.engine.Register(r)
	if s.config.Metrics.Enabled {
		r.Handle(s.config.Metrics.Path, promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{}))
	}
	r.Get("/*", s.serveStatic)
	r.Head("/*", s.serveStatic)
	return r
}

// Engine returns the hot reload engine.
func (s *Server) Engine() *hmr.Engine {
	return s.engine
}

// Handler returns the HTTP handler without starting the watcher.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the listening address once Start has bound it.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// ScanAll registers every module below the root in the graph and returns
// how many were scanned. Files that fail to parse are logged and skipped.
func (s *Server) ScanAll() (int, error) {
	pattern := "**/*{" + strings.Join(s.config.HMR.Extensions, ",") + "}"
	count := 0
	err := doublestar.GlobWalk(os.DirFS(s.root), pattern, func(rel string, d fs.DirEntry) error {
		full := filepath.Join(s.root, filepath.FromSlash(rel))
		if s.watcher.shouldIgnore(full) {
			return nil
		}
		url := "/" + rel
		if _, err := s.scanFile(full, url); err != nil {
			s.logger.Warn("initial scan failed", zap.String("url", url), zap.Error(err))
			return nil
		}
		count++
		return nil
	}, doublestar.WithFilesOnly())
	if err != nil {
		return count, errors.New("E091").Wrap(err)
	}
	return count, nil
}

// Start starts the development server. It blocks until ctx is done, Stop is
// called, or a component fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	began := time.Now()
	n, err := s.ScanAll()
	if err != nil {
		return err
	}
	s.logger.Info("modules scanned",
		zap.Int("modules", n),
		zap.Duration("took", time.Since(began).Round(time.Millisecond)))

	ln := s.options.Listener
	if ln == nil {
		ln, err = net.Listen("tcp", s.config.DevAddress())
		if err != nil {
			return errors.New("E060").Wrap(err)
		}
	}
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	s.changeCh = make(chan Change, 64)
	s.watcher.OnChange(func(change Change) {
		select {
		case s.changeCh <- change:
		default:
			s.logger.Warn("change dropped, queue full", zap.String("path", change.Path))
		}
	})

	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := s.watcher.Start(gctx); err != nil {
			return errors.New("E141").Wrap(err)
		}
		return nil
	})

	g.Go(func() error {
		s.processChanges(gctx)
		return nil
	})

	g.Go(func() error {
		s.logger.Info("server running", zap.String("addr", ln.Addr().String()))
		if err := s.httpServer.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return errors.New("E140").Wrap(err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.shutdown()
		return nil
	})

	return g.Wait()
}

// Stop stops the development server.
func (s *Server) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Server) shutdown() {
	s.watcher.Stop()
	s.engine.DisconnectAll()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("shutdown", zap.Error(err))
	}
}

// processChanges serializes file change handling and coalesces bursts.
func (s *Server) processChanges(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case change := <-s.changeCh:
			changes := []Change{change}
			draining := true
			for draining {
				select {
				case next := <-s.changeCh:
					changes = append(changes, next)
				default:
					draining = false
				}
			}
			s.handleChanges(ctx, changes)
			if s.options.OnChange != nil {
				s.options.OnChange(changes)
			}
		}
	}
}

// handleChanges rescans changed modules and broadcasts the result.
//
// Any removed file or non-module change forces a full reload for the whole
// batch. When a module fails to scan, the error overlay is shown and the
// updates of the rest of the batch are held back. They are sent, after the
// overlay is cleared, by the first batch that scans cleanly.
func (s *Server) handleChanges(ctx context.Context, changes []Change) {
	if len(changes) == 0 {
		return
	}

	reload := false
	var updated []string
	var scanErr error

	for _, change := range changes {
		s.logger.Info("changed",
			zap.String("path", change.Path),
			zap.Stringer("type", change.Type),
			zap.Bool("removed", change.Removed))

		if change.Type != ChangeModule || change.Removed {
			reload = true
			continue
		}
		url, ok := s.urlFor(change.Path)
		if !ok {
			reload = true
			continue
		}
		if _, err := s.scanFile(change.Path, url); err != nil {
			if scanErr == nil {
				scanErr = err
			} else {
				s.logger.Error("module scan failed", zap.Error(err))
			}
			continue
		}
		updated = append(updated, url)
	}

	s.mu.Lock()
	s.pendingURLs = appendUnique(s.pendingURLs, updated...)
	s.pendingReload = s.pendingReload || reload
	if scanErr != nil {
		s.mu.Unlock()
		s.reportError(scanErr)
		return
	}
	updated, reload = s.pendingURLs, s.pendingReload
	s.pendingURLs, s.pendingReload = nil, false
	s.mu.Unlock()

	s.clearError()

	if !s.config.Dev.HotReload {
		s.logger.Info("hot reload disabled; graph updated")
		return
	}

	if reload {
		s.engine.NotifyReload()
		s.logger.Info("reloaded browsers", zap.Int("clients", s.engine.ClientCount()))
		return
	}

	for _, url := range updated {
		s.engine.NotifyChange(ctx, url)
	}
}

func appendUnique(dst []string, urls ...string) []string {
	for _, u := range urls {
		found := false
		for _, d := range dst {
			if d == u {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, u)
		}
	}
	return dst
}

// scanFile parses the module at path and records it in the graph.
func (s *Server) scanFile(fullPath, url string) (*scan.Module, error) {
	content, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, errors.New("E091").Wrap(err)
	}

	m, err := scan.Scan(url, content)
	if err != nil {
		return nil, errors.New("E090").Wrap(err)
	}
	if len(m.Errors) > 0 {
		first := m.Errors[0]
		return nil, errors.New("E090").WithLocation(fullPath, first.Line, first.Column)
	}

	s.engine.SetDependencies(url, m.Dependencies, m.HMREnabled)
	return m, nil
}

// urlFor maps a file below the root to its URL path.
func (s *Server) urlFor(fullPath string) (string, bool) {
	rel, err := filepath.Rel(s.root, fullPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return "/" + filepath.ToSlash(rel), true
}

func (s *Server) reportError(err error) {
	s.logger.Error("module scan failed", zap.Error(err))

	s.mu.Lock()
	s.errorActive = true
	s.mu.Unlock()

	if !s.config.Dev.HotReload {
		return
	}
	msg := err.Error()
	var coded *errors.Error
	if stderrors.As(err, &coded) {
		msg = coded.FormatCompact()
	}
	s.engine.NotifyError(msg)
}

func (s *Server) clearError() {
	s.mu.Lock()
	active := s.errorActive
	s.errorActive = false
	s.mu.Unlock()

	if active && s.config.Dev.HotReload {
		s.engine.ClearError()
	}
}

// serveStatic serves files below the root. Hot-enabled modules get the
// import.meta.hot prelude and HTML pages get the client script.
func (s *Server) serveStatic(w http.ResponseWriter, r *http.Request) {
	upath := path.Clean("/" + r.URL.Path)
	full := filepath.Join(s.root, filepath.FromSlash(upath))

	info, err := os.Stat(full)
	if err == nil && info.IsDir() {
		full = filepath.Join(full, "index.html")
		info, err = os.Stat(full)
	}
	if err != nil {
		http.NotFound(w, r)
		return
	}

	switch {
	case s.config.Dev.HotReload && s.config.IsModule(full):
		content, err := os.ReadFile(full)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if scan.UsesHot(content) {
			content = append([]byte(Prelude(s.engine.Path())), content...)
		}
		w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		w.Write(content)

	case s.config.Dev.HotReload && strings.EqualFold(filepath.Ext(full), ".html"):
		content, err := os.ReadFile(full)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		body := InjectScript(string(content), hmr.ClientScriptTag(s.engine.Path()))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(body)))
		w.Write([]byte(body))

	default:
		f, err := os.Open(full)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		defer f.Close()
		http.ServeContent(w, r, info.Name(), info.ModTime(), f)
	}
}

// Prelude is prepended to modules that reference import.meta.hot. It is a
// single line so that reported line numbers shift by exactly one.
func Prelude(hmrPath string) string {
	return `import { createHotContext as __hmr } from "` + hmrPath + `/client.js"; import.meta.hot = __hmr(import.meta.url);` + "\n"
}

// InjectScript inserts tag before </body>, or </html>, or at the end.
func InjectScript(html, tag string) string {
	if idx := strings.LastIndex(html, "</body>"); idx != -1 {
		return html[:idx] + tag + html[idx:]
	}
	if idx := strings.LastIndex(html, "</html>"); idx != -1 {
		return html[:idx] + tag + html[idx:]
	}
	return html + tag
}
