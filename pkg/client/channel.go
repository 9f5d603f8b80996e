package client

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vango-dev/hmr/pkg/protocol"
	"go.uber.org/zap"
)

// ErrReloaded is returned once the channel has triggered a full reload.
// A reload is terminal: no further messages are processed.
var ErrReloaded = errors.New("client: full reload triggered")

// Reloader discards and restarts the whole running program.
type Reloader interface {
	Reload(reason string)
}

// ReloaderFunc adapts a function to Reloader.
type ReloaderFunc func(reason string)

// Reload calls f.
func (f ReloaderFunc) Reload(reason string) {
	f(reason)
}

// MessageReader reads one transport message. *websocket.Conn satisfies it.
type MessageReader interface {
	ReadMessage() (messageType int, p []byte, err error)
}

// ChannelOptions configures a Channel.
type ChannelOptions struct {
	// Logger receives channel logs. Default: no-op.
	Logger *zap.Logger
}

// Channel consumes protocol messages in order and either applies them or
// falls back to a full reload.
type Channel struct {
	applier  *Applier
	reloader Reloader
	logger   *zap.Logger
	reloaded atomic.Bool
}

// NewChannel creates a channel dispatching updates to applier.
func NewChannel(applier *Applier, reloader Reloader, opts ChannelOptions) *Channel {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Channel{
		applier:  applier,
		reloader: reloader,
		logger:   opts.Logger,
	}
}

// Reloaded reports whether the channel has triggered a full reload.
func (c *Channel) Reloaded() bool {
	return c.reloaded.Load()
}

// Handle processes one message payload.
//
// It returns ErrReloaded when this message (or an earlier one) triggered a
// full reload, and nil otherwise. Messages that can be parsed but not acted on
// are logged and dropped; a payload whose type cannot be read at all is treated
// as an unknown state and reloads.
func (c *Channel) Handle(ctx context.Context, payload []byte) error {
	if c.Reloaded() {
		return ErrReloaded
	}
	if len(payload) == 0 {
		return nil
	}

	msg, err := protocol.Decode(payload)
	if err != nil {
		c.logger.Warn("undecodable message", zap.Error(err))
		return c.reload("malformed message")
	}

	switch msg.Type {
	case protocol.TypeReload:
		c.logger.Info("message: reload")
		return c.reload("server requested reload")

	case protocol.TypeUpdate:
		if msg.URL == "" {
			c.logger.Warn("update message without url")
			return nil
		}
		c.logger.Info("message: update", zap.String("url", msg.URL))
		ok, err := c.applier.Apply(ctx, msg.URL)
		if err != nil {
			c.logger.Error("update failed", zap.String("url", msg.URL), zap.Error(err))
			return c.reload("update failed: " + msg.URL)
		}
		if !ok {
			return c.reload("update not accepted: " + msg.URL)
		}
		return nil

	case protocol.TypeError:
		c.logger.Error("build error", zap.String("error", msg.Error))
		return nil

	case protocol.TypeClear:
		return nil

	default:
		c.logger.Debug("message: unknown", zap.String("type", string(msg.Type)))
		return nil
	}
}

func (c *Channel) reload(reason string) error {
	if c.reloaded.CompareAndSwap(false, true) {
		c.logger.Info("full reload", zap.String("reason", reason))
		c.reloader.Reload(reason)
	}
	return ErrReloaded
}

// Run reads and handles messages from r until a reload is triggered, the
// read fails, or ctx is done.
func (c *Channel) Run(ctx context.Context, r MessageReader) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, payload, err := r.ReadMessage()
		if err != nil {
			return err
		}
		if err := c.Handle(ctx, payload); err != nil {
			return err
		}
	}
}

// DialOptions configures Dial.
type DialOptions struct {
	// Dialer is the WebSocket dialer. Default: websocket.DefaultDialer.
	Dialer *websocket.Dialer

	// Header is sent with the handshake.
	Header http.Header

	// MinBackoff is the first reconnect delay (default: 1s).
	MinBackoff time.Duration

	// MaxBackoff caps the reconnect delay (default: 30s).
	MaxBackoff time.Duration
}

// Dial connects to the hot reload endpoint at url and runs the channel,
// reconnecting with exponential backoff whenever the connection drops. It
// returns ErrReloaded after a full reload, or ctx's error.
func (c *Channel) Dial(ctx context.Context, url string, opts DialOptions) error {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}

	backoff := opts.MinBackoff
	for {
		conn, _, err := opts.Dialer.DialContext(ctx, url, opts.Header)
		if err == nil {
			c.logger.Info("connected", zap.String("url", url))
			backoff = opts.MinBackoff
			err = c.serve(ctx, conn)
			if errors.Is(err, ErrReloaded) {
				return err
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.logger.Info("connection lost, reconnecting",
			zap.Duration("delay", backoff),
			zap.Error(err))

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff = min(backoff*2, opts.MaxBackoff)
	}
}

func (c *Channel) serve(ctx context.Context, conn *websocket.Conn) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()
	return c.Run(ctx, conn)
}
