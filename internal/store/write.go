package store

import (
	"context"
	"fmt"

	"github.com/saros-project/saros-sub040/internal/document"
	"github.com/saros-project/saros-sub040/internal/server"
)

// CreateSession records a session and its initial document.
// Recording the same session id again is a no-op.
func (s *Store) CreateSession(ctx context.Context, id, initialText string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, initial_text, initial_checksum)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, initialText, document.Checksum(initialText))
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// WriteApplied records an EventApplied. Duplicate (session, seq) pairs are
// silently ignored. The session must exist.
func (s *Store) WriteApplied(ctx context.Context, sessionID string, ev server.Event) error {
	if ev.Kind != server.EventApplied {
		return fmt.Errorf("write applied: unexpected event kind %s", ev.Kind)
	}

	opJSON, err := marshalOp(ev.Op)
	if err != nil {
		return fmt.Errorf("write applied: %w", err)
	}
	tsJSON, err := marshalTimestamp(ev.Timestamp)
	if err != nil {
		return fmt.Errorf("write applied: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO requests (session_id, seq, participant, timestamp, op, checksum)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		sessionID,
		ev.Seq,
		string(ev.Participant),
		tsJSON,
		opJSON,
		ev.Checksum,
	)
	if err != nil {
		return fmt.Errorf("write applied: %w", err)
	}
	return nil
}

// WriteLifecycle records an EventJoined, EventLeft or EventResync.
// Duplicate (session, seq) pairs are silently ignored.
func (s *Store) WriteLifecycle(ctx context.Context, sessionID string, ev server.Event) error {
	kind, err := lifecycleKind(ev.Kind)
	if err != nil {
		return fmt.Errorf("write lifecycle: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO lifecycle (session_id, seq, participant, kind, reason)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, sessionID, ev.Seq, string(ev.Participant), kind, ev.Reason)
	if err != nil {
		return fmt.Errorf("write lifecycle: %w", err)
	}
	return nil
}

// Write records any server event in the table it belongs to.
func (s *Store) Write(ctx context.Context, sessionID string, ev server.Event) error {
	if ev.Kind == server.EventApplied {
		return s.WriteApplied(ctx, sessionID, ev)
	}
	return s.WriteLifecycle(ctx, sessionID, ev)
}

func lifecycleKind(k server.EventKind) (string, error) {
	switch k {
	case server.EventJoined, server.EventLeft, server.EventResync:
		return k.String(), nil
	default:
		return "", fmt.Errorf("unexpected event kind %s", k)
	}
}
