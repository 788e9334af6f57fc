package mail

import "errors"

var (
	// ErrInvalidPriority is returned for an unrecognized priority name or code.
	ErrInvalidPriority = errors.New("invalid priority")

	// ErrPersistence marks failures of the backing store. Backends wrap the
	// driver error alongside it so callers can use errors.Is on either.
	ErrPersistence = errors.New("persistence error")
)

// TransportError wraps any failure reported by a transport. It is always
// recoverable: the dispatcher defers the message and logs a failure.
type TransportError struct {
	// Transport is the name of the transport that failed.
	Transport string
	Err       error
}

func (e *TransportError) Error() string {
	return e.Transport + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransportError reports whether err carries a *TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
