// Package errors provides error types and handling for FileSender transfer operations.
package errors

import (
	"errors"
	"fmt"
)

// Error represents a transfer operation error with context about the operation
// that failed. It wraps the underlying error with additional context so a
// failure deep in the chunk pipeline still names the file and transfer it
// belongs to.
type Error struct {
	// Op is the operation that failed (e.g., "createTransfer", "uploadChunk")
	Op string

	// Path is the local or remote file path involved (if applicable)
	Path string

	// Transfer is the server-assigned transfer id (if known)
	Transfer int64

	// Err is the underlying error
	Err error
}

// Error implements the error interface by providing a formatted error message.
func (e *Error) Error() string {
	if e.Transfer != 0 && e.Path != "" {
		return fmt.Sprintf("filesender.%s transfer %d file %s: %v", e.Op, e.Transfer, e.Path, e.Err)
	}
	if e.Transfer != 0 {
		return fmt.Sprintf("filesender.%s transfer %d: %v", e.Op, e.Transfer, e.Err)
	}
	if e.Path != "" {
		return fmt.Sprintf("filesender.%s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("filesender.%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error chaining support.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithPath adds file path context to an existing error.
func (e *Error) WithPath(path string) *Error {
	e.Path = path
	return e
}

// WithTransfer adds transfer id context to an existing error.
func (e *Error) WithTransfer(id int64) *Error {
	e.Transfer = id
	return e
}

// NewError creates a new Error with the given operation and underlying error.
func NewError(op string, err error) *Error {
	return &Error{
		Op:  op,
		Err: err,
	}
}

// NewFileError creates a new Error with file path context.
func NewFileError(op, path string, err error) *Error {
	return &Error{
		Op:   op,
		Path: path,
		Err:  err,
	}
}

// Sentinel errors for the transfer failure taxonomy.
// These can be used with errors.Is() for error checking.
var (
	// ErrInvalidCredential indicates that a credential was constructed from
	// malformed input (empty username, API key or voucher token)
	ErrInvalidCredential = errors.New("filesender: invalid credential")

	// ErrAuthenticationRejected indicates the server refused the request's
	// signature or token
	ErrAuthenticationRejected = errors.New("filesender: authentication rejected")

	// ErrRateLimited indicates the server asked the client to slow down
	ErrRateLimited = errors.New("filesender: rate limited")

	// ErrServerProtocol indicates the server violated the REST contract
	// (malformed JSON where a typed body was expected)
	ErrServerProtocol = errors.New("filesender: server protocol error")

	// ErrRedirect indicates the server answered with a redirect in place of
	// the expected JSON body, typically a login page
	ErrRedirect = errors.New("filesender: unexpected redirect")

	// ErrSizeMismatch indicates a downloaded file's byte count differs from
	// its declared size
	ErrSizeMismatch = errors.New("filesender: size mismatch")

	// ErrPartialTransfer indicates one or more files of a transfer failed;
	// per-file outcomes are reported in the transfer result
	ErrPartialTransfer = errors.New("filesender: transfer partially failed")

	// ErrInvalidInput indicates that the provided input is invalid
	ErrInvalidInput = errors.New("filesender: invalid input")

	// ErrRetriesExhausted indicates a transient failure persisted past the
	// configured attempt budget
	ErrRetriesExhausted = errors.New("filesender: retries exhausted")
)

// IsAuthenticationRejected checks if an error indicates the server rejected
// the request's credentials.
func IsAuthenticationRejected(err error) bool {
	return errors.Is(err, ErrAuthenticationRejected)
}

// IsRateLimited checks if an error indicates the server throttled the client.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// IsServerProtocol checks if an error indicates a protocol-level anomaly such
// as a malformed body or an unexpected redirect.
func IsServerProtocol(err error) bool {
	return errors.Is(err, ErrServerProtocol) || errors.Is(err, ErrRedirect)
}

// IsSizeMismatch checks if an error indicates a download byte count mismatch.
func IsSizeMismatch(err error) bool {
	return errors.Is(err, ErrSizeMismatch)
}

// IsPartialTransfer checks if an error indicates a transfer with per-file
// failures.
func IsPartialTransfer(err error) bool {
	return errors.Is(err, ErrPartialTransfer)
}
