package errs

import (
	"errors"
	"fmt"
)

// Radio permission errors.
var (
	ErrBluetoothOff     = errors.New("bluetooth is turned off")
	ErrPermissionDenied = errors.New("bluetooth permission denied")
)

// StorageError wraps failures from the storage collaborator, including
// descriptor resolution during client construction.
type StorageError struct {
	Cause error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %v", e.Cause)
}

func (e *StorageError) Unwrap() error { return e.Cause }

// Storage wraps cause as a StorageError. Returns nil if cause is nil.
func Storage(cause error) error {
	if cause == nil {
		return nil
	}
	return &StorageError{Cause: cause}
}

// CryptographyError carries a fixed message only. The original cause is
// deliberately discarded; callers that need the cause must use a known
// error kind instead.
type CryptographyError struct {
	Message string
}

func (e *CryptographyError) Error() string {
	return fmt.Sprintf("cryptography: %s", e.Message)
}

// Cryptography creates a CryptographyError with the given message.
func Cryptography(message string) error {
	return &CryptographyError{Message: message}
}

// NetworkError wraps transport-level failures from backend calls.
type NetworkError struct {
	Cause error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network: %v", e.Cause)
}

func (e *NetworkError) Unwrap() error { return e.Cause }

// Network wraps cause as a NetworkError. Returns nil if cause is nil.
func Network(cause error) error {
	if cause == nil {
		return nil
	}
	return &NetworkError{Cause: cause}
}

// IsKnownKind reports whether err already belongs to the SDK taxonomy and
// should propagate unchanged rather than be re-wrapped.
func IsKnownKind(err error) bool {
	var se *StorageError
	var ce *CryptographyError
	var ne *NetworkError
	return errors.Is(err, ErrBluetoothOff) ||
		errors.Is(err, ErrPermissionDenied) ||
		errors.As(err, &se) ||
		errors.As(err, &ce) ||
		errors.As(err, &ne)
}
