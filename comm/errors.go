package comm

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrWrongState marks an operation that is invalid for the session's
	// current phase. The session is left untouched.
	ErrWrongState = errors.New("operation not valid in current session state")

	// ErrChannelClosed marks a request that could not reach the dispatcher
	// because it has been shut down.
	ErrChannelClosed = errors.New("dispatcher is not running")

	// ErrUnknownKind marks a request with a kind the dispatcher does not
	// recognize.
	ErrUnknownKind = errors.New("unrecognized request kind")
)

// CollaboratorError wraps a failure from the data store or the virtual
// device builder. The session stays in its current state so the peer may
// retry.
type CollaboratorError struct {
	Op  string
	Err error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("collaborator %s: %v", e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

// IsCollaboratorFailure reports whether err originated in a collaborator
// call rather than in the protocol itself.
func IsCollaboratorFailure(err error) bool {
	var ce *CollaboratorError
	return errors.As(err, &ce)
}
