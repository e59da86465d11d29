package cdp

import "errors"

// Error taxonomy for transport and call failures. Callers match with
// errors.Is; wrapped variants carry the underlying detail.
var (
	// ErrConnectionRefused reports that the remote debugging endpoint
	// did not accept the websocket connection.
	ErrConnectionRefused = errors.New("cdp: connection refused")

	// ErrTimeout reports that a call received no matching response
	// within its window. The call is forgotten; a late response is
	// silently discarded.
	ErrTimeout = errors.New("cdp: call timed out")

	// ErrRemoteError reports that the target rejected or failed a call.
	ErrRemoteError = errors.New("cdp: remote error")

	// ErrClosed reports an operation attempted on a torn-down connection.
	ErrClosed = errors.New("cdp: connection closed")

	// ErrNotLoopback reports a refused dial to a non-loopback host.
	// This is a hard precondition, not a configurable policy.
	ErrNotLoopback = errors.New("cdp: refusing non-loopback address")

	// ErrNoContext reports that no execution context produced a value
	// accepted by the caller's predicate.
	ErrNoContext = errors.New("cdp: no execution context accepted the evaluation")
)
