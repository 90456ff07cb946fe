package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/saros-project/saros-sub040/internal/jupiter"
	"github.com/saros-project/saros-sub040/internal/op"
)

// ErrSessionNotFound is returned for a session id with no journal entry.
var ErrSessionNotFound = errors.New("session not found")

// Session is a recorded session.
type Session struct {
	ID              string
	InitialText     string
	InitialChecksum string
	Requests        int
}

// AppliedRequest is one recorded request, as applied by the server.
type AppliedRequest struct {
	Seq         int64
	Participant jupiter.ParticipantID
	Timestamp   jupiter.Timestamp
	Op          op.Operation
	Checksum    string
}

// LifecycleEntry is one recorded proxy lifecycle change.
type LifecycleEntry struct {
	Seq         int64
	Participant jupiter.ParticipantID
	Kind        string
	Reason      string
}

// ReadSession returns the session with the given id.
func (s *Store) ReadSession(ctx context.Context, id string) (Session, error) {
	var sess Session
	err := s.db.QueryRowContext(ctx, `
		SELECT s.id, s.initial_text, s.initial_checksum,
		       (SELECT COUNT(*) FROM requests r WHERE r.session_id = s.id)
		FROM sessions s
		WHERE s.id = ?
	`, id).Scan(&sess.ID, &sess.InitialText, &sess.InitialChecksum, &sess.Requests)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return Session{}, fmt.Errorf("read session: %w", err)
	}
	return sess, nil
}

// Sessions returns every recorded session ordered by id.
// UUIDv7 ids sort by creation time. Returns an empty slice, not nil.
func (s *Store) Sessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.initial_text, s.initial_checksum,
		       (SELECT COUNT(*) FROM requests r WHERE r.session_id = s.id)
		FROM sessions s
		ORDER BY s.id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.InitialText, &sess.InitialChecksum, &sess.Requests); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// ReadRequests returns the applied requests of a session in apply order.
func (s *Store) ReadRequests(ctx context.Context, sessionID string) ([]AppliedRequest, error) {
	return s.readRequests(ctx, `
		SELECT seq, participant, timestamp, op, checksum
		FROM requests
		WHERE session_id = ?
		ORDER BY seq ASC
	`, sessionID)
}

// ReadParticipant returns the requests a session applied from one participant.
func (s *Store) ReadParticipant(ctx context.Context, sessionID string, id jupiter.ParticipantID) ([]AppliedRequest, error) {
	return s.readRequests(ctx, `
		SELECT seq, participant, timestamp, op, checksum
		FROM requests
		WHERE session_id = ? AND participant = ?
		ORDER BY seq ASC
	`, sessionID, string(id))
}

func (s *Store) readRequests(ctx context.Context, query string, args ...any) ([]AppliedRequest, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query requests: %w", err)
	}
	defer rows.Close()

	reqs := []AppliedRequest{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate requests: %w", err)
	}
	return reqs, nil
}

func scanRequest(rows *sql.Rows) (AppliedRequest, error) {
	var (
		req         AppliedRequest
		participant string
		tsJSON      string
		opJSON      string
	)
	if err := rows.Scan(&req.Seq, &participant, &tsJSON, &opJSON, &req.Checksum); err != nil {
		return AppliedRequest{}, fmt.Errorf("scan request: %w", err)
	}
	req.Participant = jupiter.ParticipantID(participant)

	var err error
	if req.Timestamp, err = unmarshalTimestamp(tsJSON); err != nil {
		return AppliedRequest{}, fmt.Errorf("request seq %d: %w", req.Seq, err)
	}
	if req.Op, err = unmarshalOp(opJSON); err != nil {
		return AppliedRequest{}, fmt.Errorf("request seq %d: %w", req.Seq, err)
	}
	return req, nil
}

// ReadLifecycle returns the lifecycle entries of a session in order.
func (s *Store) ReadLifecycle(ctx context.Context, sessionID string) ([]LifecycleEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, participant, kind, reason
		FROM lifecycle
		WHERE session_id = ?
		ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query lifecycle: %w", err)
	}
	defer rows.Close()

	entries := []LifecycleEntry{}
	for rows.Next() {
		var (
			e           LifecycleEntry
			participant string
		)
		if err := rows.Scan(&e.Seq, &participant, &e.Kind, &e.Reason); err != nil {
			return nil, fmt.Errorf("scan lifecycle: %w", err)
		}
		e.Participant = jupiter.ParticipantID(participant)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lifecycle: %w", err)
	}
	return entries, nil
}
