package vault

import (
	"github.com/pkg/errors"
)

// Error kinds. Every error returned by a PasswordVault matches at least one
// of them with errors.Is. Initialize failures also match the kind of their
// cause, such as ErrStorage or ErrDecryption.
var (
	// ErrInitialization is returned by Initialize when the backing container
	// is missing (with MustExist), corrupt, or cannot be unlocked.
	ErrInitialization = errors.New("vault initialization failed")

	// ErrNotReady is returned when an operation needs an initialized vault.
	ErrNotReady = errors.New("vault not ready")

	// ErrEncryption is returned when the container cannot be sealed.
	ErrEncryption = errors.New("encryption failed")

	// ErrDecryption is returned when the container does not authenticate:
	// wrong password, corruption or tampering. Callers should not retry.
	ErrDecryption = errors.New("decryption failed")

	// ErrStorage is returned when the backend fails to load or save the
	// container. It is usually transient.
	ErrStorage = errors.New("vault storage failure")

	// ErrNoContent is returned when the keystore holds no entry yet.
	ErrNoContent = errors.New("keystore is empty")

	// ErrStreamBusy is returned by OutputStream while another output stream
	// of the same vault is still open.
	ErrStreamBusy = errors.New("output stream already open")

	// ErrStreamClosed is returned on use of a released stream.
	ErrStreamClosed = errors.New("stream closed")
)

// Error describes a failed vault operation.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + ": " + e.Kind.Error()
	}
	return e.Op + ": " + e.Kind.Error() + ": " + e.Err.Error()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the kind of e.
func (e *Error) Is(target error) bool { return target == e.Kind }

func newError(op string, kind, err error) error {
	return &Error{Op: op, Kind: kind, Err: err}
}
