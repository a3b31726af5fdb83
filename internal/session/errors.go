package session

import (
	"errors"
	"fmt"
)

// ErrTimeout marks a bounded wait that expired.
var ErrTimeout = errors.New("timed out")

// ErrNotFound marks a control that should exist but does not.
var ErrNotFound = errors.New("not found")

// OpError reports a failed session operation. Timeouts and missing
// controls come wrapped in it so callers can tell what was being
// attempted on which selector.
type OpError struct {
	Op  string
	Sel Selector
	Err error
}

func (e *OpError) Error() string {
	if e.Sel.Value == "" {
		return fmt.Sprintf("session: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("session: %s %s: %v", e.Op, e.Sel, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// FatalError reports an unrecoverable session failure: the browser died,
// the devtools connection dropped, or the session was torn down under
// us. It aborts the batch; checkpoints stay on disk for a later resume.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return fmt.Sprintf("session fatal: %v", e.Err) }

func (e *FatalError) Unwrap() error { return e.Err }

// IsFatal reports whether err carries a FatalError anywhere in its chain.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
