package notesync

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound is the error returned when a path, block, or name does not exist.
	// Callers throughout this module treat it as absence rather than failure.
	ErrNotFound = errors.New("not found")

	// ErrReadOnly is returned for attempts to modify the resolve-by-hash view.
	ErrReadOnly = errors.New("read-only path")

	ErrInvalidObjectID = errors.New("invalid object id")

	// ErrKeystoreCorrupted means the local and remote keystores of an account differ,
	// or the keystore does not match the account id.
	ErrKeystoreCorrupted = errors.New("keystore corrupted")

	// ErrDecryption means a ciphertext could not be opened:
	// wrong password, corrupted data, or an empty plaintext.
	ErrDecryption = errors.New("decryption failure")

	ErrAccountNotFound = errors.New("account not found")

	ErrInvalidQuery = errors.New("invalid query")

	ErrPublishRejected = errors.New("publish rejected")
)

// PublishRejectedError is the error returned when the name-resolution service
// responds to a publish request with a non-2xx status.
type PublishRejectedError struct {
	StatusCode int
	Message    string
}

func (e *PublishRejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("publish rejected: http %d", e.StatusCode)
	}
	return fmt.Sprintf("publish rejected: http %d: %s", e.StatusCode, e.Message)
}

// Is lets errors.Is match ErrPublishRejected.
func (e *PublishRejectedError) Is(target error) bool {
	return target == ErrPublishRejected
}

// IsNotFound tells whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
