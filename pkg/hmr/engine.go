package hmr

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vango-dev/hmr/pkg/graph"
	"github.com/vango-dev/hmr/pkg/protocol"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	// DefaultPath is where the WebSocket endpoint and client runtime live.
	DefaultPath = "/_hmr"

	// DefaultSendBuffer is the per-client queue length.
	DefaultSendBuffer = 16

	// DefaultWriteTimeout bounds a single WebSocket write.
	DefaultWriteTimeout = 10 * time.Second

	tracerName = "github.com/vango-dev/hmr/pkg/hmr"
)

// Options configures an Engine.
type Options struct {
	// Path is the URL prefix for the hot reload endpoints (default: "/_hmr").
	Path string

	// SendBuffer is the number of messages queued per client before the
	// client is considered dead and evicted.
	SendBuffer int

	// WriteTimeout bounds each WebSocket write.
	WriteTimeout time.Duration

	// CheckOrigin validates WebSocket upgrade requests.
	// Default: allow all origins (development use).
	CheckOrigin func(r *http.Request) bool

	// Logger receives engine logs. Default: no-op.
	Logger *zap.Logger

	// Metrics records broadcast activity. Optional.
	Metrics *Metrics

	// Tracer traces change notifications. Default: global otel tracer.
	Tracer trace.Tracer
}

// Engine is the server half of hot module replacement. It owns the
// dependency graph reference, the connection registry, and turns change
// notifications into protocol broadcasts.
type Engine struct {
	graph    *graph.Graph
	clients  *Registry
	upgrader websocket.Upgrader
	opts     Options
	logger   *zap.Logger
	metrics  *Metrics
	tracer   trace.Tracer
}

// New creates an engine around g.
func New(g *graph.Graph, opts Options) *Engine {
	if opts.Path == "" {
		opts.Path = DefaultPath
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultSendBuffer
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.CheckOrigin == nil {
		opts.CheckOrigin = func(r *http.Request) bool {
			return true // Allow all origins in dev
		}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}

	return &Engine{
		graph:   g,
		clients: NewRegistry(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     opts.CheckOrigin,
		},
		opts:    opts,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		tracer:  opts.Tracer,
	}
}

// Graph returns the dependency graph the engine broadcasts from.
func (e *Engine) Graph() *graph.Graph {
	return e.graph
}

// Path returns the endpoint prefix.
func (e *Engine) Path() string {
	return e.opts.Path
}

// SetDependencies records the resolved import list and hot reload
// eligibility of url.
func (e *Engine) SetDependencies(url string, imports []string, hmrEnabled bool) {
	e.graph.SetDependencies(url, imports, hmrEnabled)
	e.metrics.setNodes(e.graph.Len())
	e.logger.Debug("module registered",
		zap.String("url", url),
		zap.Strings("imports", imports),
		zap.Bool("hmr", hmrEnabled))
}

// NotifyChange broadcasts the consequence of url changing on disk and
// returns the message that was sent.
//
// Unknown modules and modules without hot reload support fall back to a full
// reload. Only the changed module itself is considered; the engine does not
// walk up to dependents.
func (e *Engine) NotifyChange(ctx context.Context, url string) protocol.Message {
	_, span := e.tracer.Start(ctx, "hmr.NotifyChange",
		trace.WithAttributes(attribute.String("hmr.url", url)))
	defer span.End()

	node, ok := e.graph.Get(url)
	if !ok || !node.HMREnabled() {
		msg := protocol.Reload()
		span.SetAttributes(attribute.String("hmr.message_type", string(msg.Type)))
		queued := e.Broadcast(msg)
		e.logger.Info("full reload",
			zap.String("url", url),
			zap.Bool("known", ok),
			zap.Int("clients", queued))
		return msg
	}

	e.graph.MarkForReplacement(node, true)
	defer e.graph.MarkForReplacement(node, false)

	msg := protocol.Update(url)
	span.SetAttributes(attribute.String("hmr.message_type", string(msg.Type)))
	queued := e.Broadcast(msg)
	e.logger.Info("hot update",
		zap.String("url", url),
		zap.Int("clients", queued))
	return msg
}

// NotifyReload sends a full reload message to all clients.
func (e *Engine) NotifyReload() {
	e.Broadcast(protocol.Reload())
}

// NotifyError sends a build error to all clients.
func (e *Engine) NotifyError(errMsg string) {
	e.Broadcast(protocol.Message{Type: protocol.TypeError, Error: errMsg})
}

// ClearError clears the error overlay on all clients.
func (e *Engine) ClearError() {
	e.Broadcast(protocol.Message{Type: protocol.TypeClear})
}

// Broadcast queues msg on every open client and returns how many clients it
// was queued on. Clients that are not open, or whose send fails, are evicted
// without affecting delivery to the others.
func (e *Engine) Broadcast(msg protocol.Message) int {
	data, err := protocol.Encode(msg)
	if err != nil {
		e.logger.Error("encode message", zap.Error(err))
		return 0
	}

	queued, evicted := 0, 0
	for _, c := range e.clients.Snapshot() {
		if c.State() != StateOpen {
			e.Disconnect(c)
			evicted++
			continue
		}
		if err := c.Send(data); err != nil {
			e.logger.Debug("evicting client",
				zap.String("client", c.ID()),
				zap.Error(err))
			e.Disconnect(c)
			evicted++
			continue
		}
		queued++
	}

	e.metrics.recordBroadcast(msg.Type, queued, evicted)
	return queued
}

// Connect registers a client.
func (e *Engine) Connect(c Conn) {
	e.clients.Add(c)
	e.metrics.setClients(e.clients.Len())
	e.logger.Debug("client connected", zap.String("client", c.ID()))
}

// Disconnect closes and unregisters a client. Unknown clients are ignored.
func (e *Engine) Disconnect(c Conn) {
	if _, ok := e.clients.Remove(c.ID()); !ok {
		return
	}
	c.Close()
	e.metrics.setClients(e.clients.Len())
	e.logger.Debug("client disconnected", zap.String("client", c.ID()))
}

// DisconnectAll closes every client.
func (e *Engine) DisconnectAll() {
	for _, c := range e.clients.Snapshot() {
		e.Disconnect(c)
	}
}

// ClientCount returns the number of registered clients.
func (e *Engine) ClientCount() int {
	return e.clients.Len()
}
