package callreq

import "errors"

// Public error taxonomy of the coordinator. Store- and feed-level error
// shapes never leak past this package; callers classify with errors.Is.
var (
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrNotFound         = errors.New("call request not found")
	ErrAccessDenied     = errors.New("access denied")

	// ErrAlreadyResolved means the request exists but another transition
	// already won. It is an expected race outcome, not a failure: callers
	// must not retry.
	ErrAlreadyResolved = errors.New("call request already resolved")
)
