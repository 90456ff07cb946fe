package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/saros-project/saros-sub040/internal/jupiter"
	"github.com/saros-project/saros-sub040/internal/queue"
)

// Sender transmits one outgoing message to a participant.
type Sender interface {
	Send(ctx context.Context, id jupiter.ParticipantID, msg Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, id jupiter.ParticipantID, msg Message) error

func (f SenderFunc) Send(ctx context.Context, id jupiter.ParticipantID, msg Message) error {
	return f(ctx, id, msg)
}

// Forwarder drains one participant's outgoing queue into a Sender.
type Forwarder struct {
	srv    *Server
	id     jupiter.ParticipantID
	sender Sender
	logger *slog.Logger
}

// NewForwarder creates a forwarder for id.
func NewForwarder(srv *Server, id jupiter.ParticipantID, sender Sender) *Forwarder {
	return &Forwarder{
		srv:    srv,
		id:     id,
		sender: sender,
		logger: srv.logger.With("participant", id),
	}
}

// Run sends messages in queue order until the participant is removed
// (returns nil), ctx is cancelled (returns ctx.Err()) or a send fails.
func (f *Forwarder) Run(ctx context.Context) error {
	f.logger.Debug("forwarder starting")

	for {
		msg, err := f.srv.NextOutgoing(ctx, f.id)
		switch {
		case errors.Is(err, queue.ErrClosed), errors.Is(err, ErrUnknownProxy):
			f.logger.Debug("forwarder stopping: participant gone")
			return nil
		case err != nil:
			return err
		}

		if err := f.sender.Send(ctx, f.id, msg); err != nil {
			return fmt.Errorf("send to %s: %w", f.id, err)
		}
	}
}
