package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/saros-project/saros-sub040/internal/queue"
	"github.com/saros-project/saros-sub040/internal/server"
)

// Recorder journals the events of one server session.
type Recorder struct {
	store     *Store
	srv       *server.Server
	events    *queue.Queue[server.Event]
	sessionID string
	logger    *slog.Logger
	written   int
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithRecorderLogger sets the logger. Default: slog.Default().
func WithRecorderLogger(logger *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		r.logger = logger
	}
}

// NewRecorder subscribes to srv and records its session with the current
// document as the initial text. Events published before NewRecorder returns
// are not recorded.
func NewRecorder(ctx context.Context, st *Store, srv *server.Server, opts ...RecorderOption) (*Recorder, error) {
	r := &Recorder{
		store:     st,
		srv:       srv,
		sessionID: srv.SessionID(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}

	events, text := srv.SubscribeSnapshot()
	if err := st.CreateSession(ctx, r.sessionID, text); err != nil {
		srv.Unsubscribe(events)
		return nil, fmt.Errorf("recorder: %w", err)
	}
	r.events = events
	return r, nil
}

// SessionID returns the id of the recorded session.
func (r *Recorder) SessionID() string { return r.sessionID }

// Written returns the number of events recorded so far.
// Not safe to call while Run is running.
func (r *Recorder) Written() int { return r.written }

// Run records events until the server is closed, Stop is called, or ctx
// is cancelled. Write failures are logged and do not stop the recorder.
// Returns nil once every published event has been recorded.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		ev, err := r.events.Pop(ctx)
		if errors.Is(err, queue.ErrClosed) {
			r.logger.Debug("recorder drained", "session", r.sessionID, "events", r.written)
			return nil
		}
		if err != nil {
			return err
		}

		if err := r.store.Write(ctx, r.sessionID, ev); err != nil {
			r.logger.Error("failed to record event", "session", r.sessionID, "seq", ev.Seq, "kind", ev.Kind.String(), "error", err)
			continue
		}
		r.written++
	}
}

// Stop unsubscribes from the server. Run returns after recording the
// events already received.
func (r *Recorder) Stop() {
	r.srv.Unsubscribe(r.events)
}
