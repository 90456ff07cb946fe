package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/saros-project/saros-sub040/internal/jupiter"
	"github.com/saros-project/saros-sub040/internal/server"
)

const (
	bufSize          = 1024
	handshakeTimeout = 10 * time.Second
)

// Handler serves participants over websocket.
//
// Each connection is one participant: the hello message joins it, requests
// it sends are submitted to the server, and a Forwarder writes its outgoing
// queue back. A resync sent by the participant resets its proxy. Closing
// the connection removes the proxy. The server's Run
// loop must be running for submitted requests to be applied.
type Handler struct {
	srv      *server.Server
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithHandlerLogger sets the logger. Default: slog.Default().
func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithCheckOrigin sets the upgrader's origin check. Default: same origin.
func WithCheckOrigin(check func(r *http.Request) bool) HandlerOption {
	return func(h *Handler) {
		h.upgrader.CheckOrigin = check
	}
}

// NewHandler creates a websocket handler for srv.
func NewHandler(srv *server.Server, opts ...HandlerOption) *Handler {
	h := &Handler{
		srv: srv,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  bufSize,
			WriteBufferSize: bufSize,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP upgrades the connection and serves one participant until the
// connection closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	id, err := h.handshake(conn)
	if err != nil {
		h.logger.Warn("handshake failed", "remote", r.RemoteAddr, "error", err)
		refuse(conn, err)
		return
	}
	logger := h.logger.With("participant", id)
	logger.Info("participant connected", "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(context.Background())
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		fwd := server.NewForwarder(h.srv, id, server.SenderFunc(
			func(_ context.Context, _ jupiter.ParticipantID, msg server.Message) error {
				return conn.WriteJSON(envelopeFor(msg))
			}))
		if err := fwd.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("forwarder stopped", "error", err)
			// Unblock the reader.
			conn.Close()
		}
	}()

	err = h.readLoop(conn, id)
	h.srv.RemoveProxyClient(id)
	cancel()
	<-forwarded

	if err != nil {
		logger.Warn("participant disconnected", "error", err)
		return
	}
	logger.Info("participant disconnected")
}

// handshake reads the hello, joins the participant and sends the snapshot.
func (h *Handler) handshake(conn *websocket.Conn) (jupiter.ParticipantID, error) {
	if err := conn.SetReadDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return "", err
	}
	var hello Envelope
	if err := conn.ReadJSON(&hello); err != nil {
		return "", fmt.Errorf("read hello: %w", err)
	}
	if hello.Type != TypeHello {
		return "", fmt.Errorf("expected %s, got %q", TypeHello, hello.Type)
	}
	if hello.ID == "" {
		return "", fmt.Errorf("hello without participant id")
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return "", err
	}

	text, err := h.srv.Join(hello.ID)
	if err != nil {
		return "", err
	}
	snapshot := Envelope{Type: TypeSnapshot, ID: hello.ID, Session: h.srv.SessionID(), Text: text}
	if err := conn.WriteJSON(snapshot); err != nil {
		h.srv.RemoveProxyClient(hello.ID)
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	return hello.ID, nil
}

// readLoop submits the participant's requests until the connection closes.
// Returns nil on a normal close.
func (h *Handler) readLoop(conn *websocket.Conn, id jupiter.ParticipantID) error {
	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if env.Type == TypeResync {
			h.logger.Warn("participant asked for resync", "participant", id, "epoch", env.Epoch)
			h.srv.Resync(id, "client request")
			continue
		}
		if env.Type != TypeRequest || env.Request == nil {
			h.logger.Warn("ignoring message", "participant", id, "type", env.Type)
			continue
		}

		req := *env.Request
		req.Origin = id
		if !h.srv.Submit(req) {
			return server.ErrClosed
		}
	}
}

// refuse tells the peer why the handshake failed and closes.
func refuse(conn *websocket.Conn, err error) {
	_ = conn.WriteJSON(Envelope{Type: TypeError, Error: err.Error()})
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "handshake refused"),
		time.Now().Add(time.Second))
}
