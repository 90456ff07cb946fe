package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/saros-project/saros-sub040/internal/document"
	"github.com/saros-project/saros-sub040/internal/op"
)

// ChecksumMismatchError reports a replayed document that differs from the
// one the server recorded.
type ChecksumMismatchError struct {
	SessionID string
	Seq       int64 // 0 for the initial text
	Want      string
	Got       string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("session %s: checksum mismatch at seq %d: recorded %s, replayed %s",
		e.SessionID, e.Seq, short(e.Want), short(e.Got))
}

func short(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}

// IsChecksumMismatch returns true if err is (or wraps) a ChecksumMismatchError.
func IsChecksumMismatch(err error) bool {
	var ce *ChecksumMismatchError
	return errors.As(err, &ce)
}

// ReplayStep is the document after one replayed request.
type ReplayStep struct {
	Request AppliedRequest
	Text    string
}

// Replay rebuilds a session's final document from its initial text and
// recorded requests, verifying the recorded checksum after every step.
func (s *Store) Replay(ctx context.Context, sessionID string) (string, error) {
	steps, err := s.ReplaySteps(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if len(steps) == 0 {
		sess, err := s.ReadSession(ctx, sessionID)
		if err != nil {
			return "", err
		}
		return sess.InitialText, nil
	}
	return steps[len(steps)-1].Text, nil
}

// ReplaySteps is Replay returning every intermediate document.
func (s *Store) ReplaySteps(ctx context.Context, sessionID string) ([]ReplayStep, error) {
	sess, err := s.ReadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if got := document.Checksum(sess.InitialText); got != sess.InitialChecksum {
		return nil, &ChecksumMismatchError{SessionID: sessionID, Want: sess.InitialChecksum, Got: got}
	}

	reqs, err := s.ReadRequests(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	text := sess.InitialText
	steps := make([]ReplayStep, 0, len(reqs))
	for _, req := range reqs {
		if text, err = op.Apply(text, req.Op); err != nil {
			return nil, fmt.Errorf("session %s: replay seq %d: %w", sessionID, req.Seq, err)
		}
		if got := document.Checksum(text); got != req.Checksum {
			return nil, &ChecksumMismatchError{SessionID: sessionID, Seq: req.Seq, Want: req.Checksum, Got: got}
		}
		steps = append(steps, ReplayStep{Request: req, Text: text})
	}
	return steps, nil
}
