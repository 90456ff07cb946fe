package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/saros-project/saros-sub040/internal/jupiter"
	"github.com/saros-project/saros-sub040/internal/op"
)

// ErrRefused is returned by Dial when the server rejects the handshake.
var ErrRefused = errors.New("connection refused by server")

// Conn is a participant connected to a remote server.
type Conn struct {
	ws      *websocket.Conn
	client  *jupiter.Client
	session string
	logger  *slog.Logger

	// mu orders Generate with the write of its request, and keeps resyncs
	// from interleaving with an edit.
	mu sync.Mutex

	// asked is set once a resync has been requested for the current epoch.
	asked bool

	resyncs atomic.Int64
	done    chan struct{}
	err     error // set before done is closed
}

// DialOption configures Dial.
type DialOption func(*dialConfig)

type dialConfig struct {
	logger *slog.Logger
	dialer *websocket.Dialer
}

// WithDialLogger sets the logger. Default: discard.
func WithDialLogger(logger *slog.Logger) DialOption {
	return func(c *dialConfig) {
		c.logger = logger
	}
}

// WithDialer sets the websocket dialer. Default: websocket.DefaultDialer.
func WithDialer(d *websocket.Dialer) DialOption {
	return func(c *dialConfig) {
		c.dialer = d
	}
}

// Dial connects to a Handler at url as participant id and waits for the
// document snapshot.
func Dial(ctx context.Context, url string, id jupiter.ParticipantID, opts ...DialOption) (*Conn, error) {
	cfg := dialConfig{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		dialer: websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	ws, _, err := cfg.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	if err := ws.WriteJSON(Envelope{Type: TypeHello, ID: id}); err != nil {
		ws.Close()
		return nil, fmt.Errorf("write hello: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = ws.SetReadDeadline(deadline)
	}
	var snap Envelope
	if err := ws.ReadJSON(&snap); err != nil {
		ws.Close()
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	_ = ws.SetReadDeadline(time.Time{})

	switch snap.Type {
	case TypeSnapshot:
	case TypeError:
		ws.Close()
		return nil, fmt.Errorf("%w: %s", ErrRefused, snap.Error)
	default:
		ws.Close()
		return nil, fmt.Errorf("expected %s, got %q", TypeSnapshot, snap.Type)
	}

	c := &Conn{
		ws:      ws,
		client:  jupiter.NewClient(id, snap.Text),
		session: snap.Session,
		logger:  cfg.logger.With("participant", id),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Edit applies o locally and sends it to the server.
// Inserted text is normalised before it is applied.
func (c *Conn) Edit(o op.Operation) error {
	return c.send("edit", func() (jupiter.Request, error) { return c.client.Generate(o) })
}

// Undo reverts the most recent local edit and sends the inverse to the
// server. Returns jupiter.ErrNothingToUndo if there is none.
func (c *Conn) Undo() error {
	return c.send("undo", c.client.Undo)
}

func (c *Conn) send(action string, generate func() (jupiter.Request, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return fmt.Errorf("%s: %w", action, c.Err())
	default:
	}

	req, err := generate()
	if err != nil {
		return err
	}
	if err := c.ws.WriteJSON(Envelope{Type: TypeRequest, Request: &req}); err != nil {
		return fmt.Errorf("send %s: %w", req, err)
	}
	return nil
}

// requestResync asks the server to reset the pairing, once per epoch.
func (c *Conn) requestResync() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.asked {
		return
	}
	c.asked = true
	epoch := c.client.Epoch()
	if err := c.ws.WriteJSON(Envelope{Type: TypeResync, Epoch: epoch}); err != nil {
		c.logger.Error("failed to request resync", "epoch", epoch, "error", err)
		return
	}
	c.logger.Warn("requested resync", "epoch", epoch)
}

func (c *Conn) readLoop() {
	defer close(c.done)

	for {
		var env Envelope
		if err := c.ws.ReadJSON(&env); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.err = err
			}
			return
		}

		switch env.Type {
		case TypeRequest:
			if env.Request == nil {
				continue
			}
			_, err := c.client.Receive(*env.Request)
			switch {
			case err == nil:
			case jupiter.IsStaleEpoch(err):
				c.logger.Debug("dropping request from replaced pairing", "request", env.Request.String(), "error", err)
			default:
				c.logger.Error("failed to apply remote request", "request", env.Request.String(), "error", err)
				c.requestResync()
			}
		case TypeResync:
			c.mu.Lock()
			c.client.Reset(env.Text, env.Epoch)
			c.asked = false
			c.mu.Unlock()
			c.resyncs.Add(1)
			c.logger.Warn("resynchronized", "epoch", env.Epoch, "length", len(env.Text))
		default:
			c.logger.Warn("ignoring message", "type", env.Type)
		}
	}
}

// Text returns the local document.
func (c *Conn) Text() string { return c.client.Text() }

// Client exposes the local Jupiter client.
func (c *Conn) Client() *jupiter.Client { return c.client }

// Session returns the server session id from the snapshot.
func (c *Conn) Session() string { return c.session }

// Resyncs returns the number of resyncs received.
func (c *Conn) Resyncs() int { return int(c.resyncs.Load()) }

// Done is closed when the connection ends.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err returns nil while the connection is open. Once it has ended, Err
// returns the read error, or net.ErrClosed after a normal close.
func (c *Conn) Err() error {
	select {
	case <-c.done:
		if c.err == nil {
			return net.ErrClosed
		}
		return c.err
	default:
		return nil
	}
}

// Close closes the connection and waits for the receive loop to exit.
func (c *Conn) Close() error {
	c.mu.Lock()
	err := c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.mu.Unlock()

	select {
	case <-c.done:
	case <-time.After(time.Second):
	}
	if cerr := c.ws.Close(); err == nil {
		err = cerr
	}
	<-c.done
	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	return err
}
