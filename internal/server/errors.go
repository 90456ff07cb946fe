package server

import (
	"errors"
	"fmt"

	"github.com/saros-project/saros-sub040/internal/jupiter"
)

var (
	// ErrUnknownProxy is returned for a participant with no proxy.
	ErrUnknownProxy = errors.New("unknown proxy")

	// ErrClosed is returned once the server is closed.
	ErrClosed = errors.New("server closed")
)

// DuplicateProxyError reports an attempt to add a participant twice.
// The existing registration is left untouched.
type DuplicateProxyError struct {
	ID jupiter.ParticipantID
}

func (e *DuplicateProxyError) Error() string {
	return fmt.Sprintf("proxy %q already exists", e.ID)
}

// IsDuplicateProxy returns true if err is (or wraps) a DuplicateProxyError.
func IsDuplicateProxy(err error) bool {
	var de *DuplicateProxyError
	return errors.As(err, &de)
}
